package haul

import (
	"context"
	"io"
	"time"
)

// HaulStore persists haul documents with optimistic concurrency.
type HaulStore interface {
	// CreateHaul inserts a new haul; the stored version starts at 1.
	CreateHaul(ctx context.Context, h Haul) error
	// GetHaul returns the current document and its version, or ErrNotFound.
	GetHaul(ctx context.Context, id string) (Haul, error)
	// UpdateHaul replaces the document only if h.Version still matches the stored
	// version, returning the haul with its new version. A lost race yields ErrConflict.
	UpdateHaul(ctx context.Context, h Haul) (Haul, error)
}

// ScrapeStore persists standalone extraction results keyed by result id.
type ScrapeStore interface {
	// SaveScrape stores s unless a result with the same id already exists and
	// returns the stored result. Results are write-once.
	SaveScrape(ctx context.Context, s ScrapeResult) (ScrapeResult, error)
	GetScrape(ctx context.Context, resultID string) (ScrapeResult, error)
}

// QuotaStore tracks per-key haul creation counts within a rolling window.
type QuotaStore interface {
	// Consume atomically takes one unit for key, resetting the window when it
	// has elapsed. It returns false without side effects when limit is reached.
	Consume(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (bool, error)
	// Release refunds one previously consumed unit.
	Release(ctx context.Context, key string) error
}

// Publisher pushes lifecycle events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes export artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Pinger is implemented by stores that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Hasher computes digests for deduplication keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces haul IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
