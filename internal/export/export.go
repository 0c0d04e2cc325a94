// Package export renders a haul's scrape results as JSON or CSV.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/JakeFAU/listing-haul/internal/haul"
)

// Format is an export encoding.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// Response headers set on every export.
const (
	HeaderFormat = "X-Export-Format"
	HeaderCount  = "X-Listing-Count"
)

// ParseFormat validates a caller-supplied format name.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case FormatJSON, FormatCSV:
		return f, nil
	case "":
		return "", fmt.Errorf("%w: format is required (json or csv)", haul.ErrInvalidRequest)
	default:
		return "", fmt.Errorf("%w: unsupported format %q (json or csv)", haul.ErrInvalidRequest, raw)
	}
}

// Output is a serialized export ready to be written to a response.
type Output struct {
	Body        []byte
	ContentType string
	Headers     map[string]string
	Format      Format
}

// Extension returns the file extension for the output's format.
func (o Output) Extension() string {
	return string(o.Format)
}

type jsonEntry struct {
	SourceURL   string            `json:"source_url"`
	Listing     haul.Listing      `json:"listing"`
	Diagnostics *haul.Diagnostics `json:"diagnostics,omitempty"`
}

// Serialize renders scrapes in the given format. inline only affects JSON,
// where it switches Content-Disposition from attachment to inline.
func Serialize(haulID string, scrapes []haul.ScrapeResult, format Format, inline bool) (Output, error) {
	out := Output{
		Format: format,
		Headers: map[string]string{
			HeaderFormat: string(format),
			HeaderCount:  strconv.Itoa(len(scrapes)),
		},
	}
	filename := fmt.Sprintf("haul-%s.%s", haulID, format)
	switch format {
	case FormatJSON:
		entries := make([]jsonEntry, 0, len(scrapes))
		for _, s := range scrapes {
			entries = append(entries, jsonEntry{SourceURL: s.SourceURL, Listing: s.Listing, Diagnostics: s.Diagnostics})
		}
		body, err := json.Marshal(entries)
		if err != nil {
			return Output{}, fmt.Errorf("encode json export: %w", err)
		}
		out.Body = body
		out.ContentType = "application/json"
		disposition := "attachment"
		if inline {
			disposition = "inline"
		}
		out.Headers["Content-Disposition"] = fmt.Sprintf("%s; filename=%q", disposition, filename)
	case FormatCSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := w.Write(haul.CSVHeader()); err != nil {
			return Output{}, fmt.Errorf("write csv header: %w", err)
		}
		for _, s := range scrapes {
			if err := w.Write(s.Listing.CSVRecord()); err != nil {
				return Output{}, fmt.Errorf("write csv row %s: %w", s.ResultID, err)
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return Output{}, fmt.Errorf("flush csv: %w", err)
		}
		out.Body = buf.Bytes()
		out.ContentType = "text/csv; charset=utf-8"
		out.Headers["Content-Disposition"] = fmt.Sprintf("attachment; filename=%q", filename)
	default:
		return Output{}, fmt.Errorf("%w: unsupported format %q", haul.ErrInvalidRequest, format)
	}
	return out, nil
}
