// Package gcs archives haul exports in Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// Export objects are immutable snapshots.
const exportCacheControl = "private, max-age=86400"

var contentTypes = map[string]string{
	"json": "application/json",
	"csv":  "text/csv; charset=utf-8",
}

// Config names the bucket exports are archived in.
type Config struct {
	Bucket string
}

// BlobStore writes haul exports to a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
}

// New creates a GCS-backed export archive.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{client: client, bucket: cfg.Bucket}, nil
}

// exportObject describes an archive key of the form <prefix>/<haul_id>/<unix>.<format>.
type exportObject struct {
	haulID string
	format string
}

func parseExportKey(name string) exportObject {
	var obj exportObject
	obj.format = strings.TrimPrefix(path.Ext(name), ".")
	if dir := path.Dir(name); dir != "." {
		obj.haulID = path.Base(dir)
	}
	return obj
}

func (o exportObject) filename() string {
	if o.haulID == "" || o.format == "" {
		return ""
	}
	return fmt.Sprintf("haul-%s.%s", o.haulID, o.format)
}

// PutObject uploads an export and returns its gs:// URI. The haul id and
// format parsed from name are stored as object metadata, and a missing
// content type is inferred from the format.
func (s *BlobStore) PutObject(ctx context.Context, name string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("path is required")
	}
	obj := parseExportKey(name)
	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	if contentType == "" {
		contentType = contentTypes[obj.format]
	}
	writer.ContentType = contentType
	writer.CacheControl = exportCacheControl
	if fn := obj.filename(); fn != "" {
		writer.ContentDisposition = fmt.Sprintf("attachment; filename=%q", fn)
	}
	writer.Metadata = map[string]string{}
	if obj.haulID != "" {
		writer.Metadata["haul_id"] = obj.haulID
	}
	if obj.format != "" {
		writer.Metadata["export_format"] = obj.format
	}

	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy export %s: %w (close writer: %v)", name, err, closeErr)
		}
		return "", fmt.Errorf("copy export %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}
