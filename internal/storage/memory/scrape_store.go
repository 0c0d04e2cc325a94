package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/listing-haul/internal/haul"
)

// ScrapeStore keeps standalone extraction results.
type ScrapeStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewScrapeStore constructs a ScrapeStore.
func NewScrapeStore() *ScrapeStore {
	return &ScrapeStore{docs: make(map[string][]byte)}
}

// SaveScrape inserts res unless its result id is already stored, returning
// whichever result is kept.
func (s *ScrapeStore) SaveScrape(_ context.Context, res haul.ScrapeResult) (haul.ScrapeResult, error) {
	doc, err := haul.EncodeScrape(res)
	if err != nil {
		return haul.ScrapeResult{}, err
	}
	s.mu.Lock()
	existing, ok := s.docs[res.ResultID]
	if !ok {
		s.docs[res.ResultID] = doc
		existing = doc
	}
	s.mu.Unlock()
	return haul.DecodeScrape(existing)
}

// GetScrape returns the stored result or haul.ErrNotFound.
func (s *ScrapeStore) GetScrape(_ context.Context, resultID string) (haul.ScrapeResult, error) {
	s.mu.RLock()
	doc, ok := s.docs[resultID]
	s.mu.RUnlock()
	if !ok {
		return haul.ScrapeResult{}, fmt.Errorf("listing %s: %w", resultID, haul.ErrNotFound)
	}
	return haul.DecodeScrape(doc)
}
