package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/listing-haul/internal/haul"
)

const (
	insertHaulSQL = `
INSERT INTO hauls (id, doc, version, created_at, expires_at)
VALUES ($1, $2, 1, $3, $4)`

	selectHaulSQL = `SELECT doc, version FROM hauls WHERE id = $1`

	// The version predicate is the compare-and-swap. Zero rows means another
	// writer got there first (or the haul vanished, which the next read reports).
	updateHaulSQL = `
UPDATE hauls SET doc = $1, version = version + 1, updated_at = now()
WHERE id = $2 AND version = $3`
)

// CreateHaul inserts h at version 1.
func (s *Store) CreateHaul(ctx context.Context, h haul.Haul) error {
	doc, err := haul.EncodeHaul(h)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, insertHaulSQL, h.ID, doc, h.CreatedAt, h.ExpiresAt); err != nil {
		return fmt.Errorf("insert haul: %w", err)
	}
	return nil
}

// GetHaul loads the document and its version.
func (s *Store) GetHaul(ctx context.Context, id string) (haul.Haul, error) {
	var (
		doc     []byte
		version int64
	)
	err := s.pool.QueryRow(ctx, selectHaulSQL, id).Scan(&doc, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return haul.Haul{}, fmt.Errorf("haul %s: %w", id, haul.ErrNotFound)
	}
	if err != nil {
		return haul.Haul{}, fmt.Errorf("select haul: %w", err)
	}
	return haul.DecodeHaul(doc, version)
}

// UpdateHaul writes h if the stored version still equals h.Version.
func (s *Store) UpdateHaul(ctx context.Context, h haul.Haul) (haul.Haul, error) {
	doc, err := haul.EncodeHaul(h)
	if err != nil {
		return haul.Haul{}, err
	}
	tag, err := s.pool.Exec(ctx, updateHaulSQL, doc, h.ID, h.Version)
	if err != nil {
		return haul.Haul{}, fmt.Errorf("update haul: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return haul.Haul{}, fmt.Errorf("haul %s version %d: %w", h.ID, h.Version, haul.ErrConflict)
	}
	h.Version++
	return h, nil
}
