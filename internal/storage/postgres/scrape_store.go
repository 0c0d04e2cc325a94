package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/listing-haul/internal/haul"
)

const (
	// The CTE's insert is invisible to the outer SELECT on scrapes, so exactly
	// one branch yields a row: the new doc, or the one already stored.
	insertScrapeSQL = `
WITH inserted AS (
	INSERT INTO scrapes (result_id, source_url, doc, added_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (result_id) DO NOTHING
	RETURNING doc
)
SELECT doc FROM inserted
UNION ALL
SELECT doc FROM scrapes WHERE result_id = $1
LIMIT 1`

	selectScrapeSQL = `SELECT doc FROM scrapes WHERE result_id = $1`
)

// SaveScrape inserts res if its result id is new and returns the stored result.
func (s *Store) SaveScrape(ctx context.Context, res haul.ScrapeResult) (haul.ScrapeResult, error) {
	doc, err := haul.EncodeScrape(res)
	if err != nil {
		return haul.ScrapeResult{}, err
	}
	var stored []byte
	if err := s.pool.QueryRow(ctx, insertScrapeSQL, res.ResultID, res.SourceURL, doc, res.AddedAt).Scan(&stored); err != nil {
		return haul.ScrapeResult{}, fmt.Errorf("insert scrape: %w", err)
	}
	return haul.DecodeScrape(stored)
}

// GetScrape loads a standalone result.
func (s *Store) GetScrape(ctx context.Context, resultID string) (haul.ScrapeResult, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, selectScrapeSQL, resultID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return haul.ScrapeResult{}, fmt.Errorf("listing %s: %w", resultID, haul.ErrNotFound)
	}
	if err != nil {
		return haul.ScrapeResult{}, fmt.Errorf("select scrape: %w", err)
	}
	return haul.DecodeScrape(doc)
}
