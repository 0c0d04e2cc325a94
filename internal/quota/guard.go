// Package quota limits how many free hauls one caller may create per window.
package quota

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-haul/internal/hash/sha256"
	"github.com/JakeFAU/listing-haul/internal/haul"
	"github.com/JakeFAU/listing-haul/internal/metrics"
)

// Config bounds free haul creation.
type Config struct {
	MaxFreeHauls int
	Window       time.Duration
}

// Guard decides whether a caller may create another haul.
type Guard struct {
	store  haul.QuotaStore
	clock  haul.Clock
	cfg    Config
	logger *zap.Logger
}

// NewGuard wires a guard. A nil logger disables logging.
func NewGuard(store haul.QuotaStore, clock haul.Clock, cfg Config, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{store: store, clock: clock, cfg: cfg, logger: logger.Named("quota")}
}

// KeyFor maps a caller IP to its opaque quota key. Raw addresses never reach the store.
func KeyFor(ip string) string {
	return sha256.Sum(strings.TrimSpace(strings.ToLower(ip)))
}

// CheckAndConsume takes one unit of quota for ip and returns the key it was
// charged to. A rejection consumes nothing and wraps haul.ErrQuotaExceeded.
func (g *Guard) CheckAndConsume(ctx context.Context, ip string) (string, error) {
	if strings.TrimSpace(ip) == "" {
		return "", fmt.Errorf("%w: caller address is unknown", haul.ErrInvalidRequest)
	}
	key := KeyFor(ip)
	ok, err := g.store.Consume(ctx, key, g.clock.Now(), g.cfg.Window, g.cfg.MaxFreeHauls)
	if err != nil {
		return "", fmt.Errorf("consume quota: %w", err)
	}
	if !ok {
		metrics.ObserveQuotaRejection()
		g.logger.Info("haul quota exhausted", zap.String("quota_key", key))
		return "", fmt.Errorf("%w: free haul limit of %d per %s reached", haul.ErrQuotaExceeded, g.cfg.MaxFreeHauls, g.cfg.Window)
	}
	return key, nil
}

// Refund returns a unit consumed for a creation that did not complete.
func (g *Guard) Refund(ctx context.Context, key string) {
	if err := g.store.Release(ctx, key); err != nil {
		g.logger.Warn("quota refund failed", zap.String("quota_key", key), zap.Error(err))
	}
}
