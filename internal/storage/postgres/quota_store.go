package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// consumeQuotaSQL takes one unit in a single statement, so concurrent callers
// for the same key serialize on the row lock. $3 is the window cutoff: rows
// whose window started at or before it are reset. No returned row means the
// key is at its limit.
const consumeQuotaSQL = `
INSERT INTO haul_quotas (quota_key, hauls_created, window_start)
VALUES ($1, 1, $2)
ON CONFLICT (quota_key) DO UPDATE SET
	hauls_created = CASE WHEN haul_quotas.window_start <= $3 THEN 1 ELSE haul_quotas.hauls_created + 1 END,
	window_start  = CASE WHEN haul_quotas.window_start <= $3 THEN $2 ELSE haul_quotas.window_start END
WHERE haul_quotas.window_start <= $3 OR haul_quotas.hauls_created < $4
RETURNING hauls_created`

const releaseQuotaSQL = `
UPDATE haul_quotas SET hauls_created = hauls_created - 1
WHERE quota_key = $1 AND hauls_created > 0`

// Consume implements haul.QuotaStore.
func (s *Store) Consume(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	var count int
	err := s.pool.QueryRow(ctx, consumeQuotaSQL, key, now, now.Add(-window), limit).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("consume quota: %w", err)
	}
	return true, nil
}

// Release implements haul.QuotaStore.
func (s *Store) Release(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, releaseQuotaSQL, key); err != nil {
		return fmt.Errorf("release quota: %w", err)
	}
	return nil
}
