package memory

import (
	"context"
	"sync"
	"time"
)

type quotaRecord struct {
	count       int
	windowStart time.Time
}

// QuotaStore counts haul creations per key under a single mutex, which makes
// Consume atomic per key.
type QuotaStore struct {
	mu      sync.Mutex
	records map[string]quotaRecord
}

// NewQuotaStore constructs a QuotaStore.
func NewQuotaStore() *QuotaStore {
	return &QuotaStore{records: make(map[string]quotaRecord)}
}

// Consume takes one unit for key unless limit is already reached in the current window.
func (s *QuotaStore) Consume(_ context.Context, key string, now time.Time, window time.Duration, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok || !now.Before(rec.windowStart.Add(window)) {
		rec = quotaRecord{windowStart: now}
	}
	if rec.count >= limit {
		return false, nil
	}
	rec.count++
	s.records[key] = rec
	return true, nil
}

// Release refunds one unit for key.
func (s *QuotaStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok || rec.count == 0 {
		return nil
	}
	rec.count--
	s.records[key] = rec
	return nil
}
