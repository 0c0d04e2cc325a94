// Package memory provides in-process stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/listing-haul/internal/haul"
)

// HaulStore keeps encoded haul documents keyed by id. Documents are stored
// encoded so callers never share slices with the store.
type HaulStore struct {
	mu       sync.RWMutex
	docs     map[string][]byte
	versions map[string]int64
}

// NewHaulStore constructs a HaulStore.
func NewHaulStore() *HaulStore {
	return &HaulStore{
		docs:     make(map[string][]byte),
		versions: make(map[string]int64),
	}
}

// CreateHaul stores a new haul at version 1.
func (s *HaulStore) CreateHaul(_ context.Context, h haul.Haul) error {
	doc, err := haul.EncodeHaul(h)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[h.ID]; exists {
		return fmt.Errorf("haul %s already exists", h.ID)
	}
	s.docs[h.ID] = doc
	s.versions[h.ID] = 1
	return nil
}

// GetHaul decodes the current document.
func (s *HaulStore) GetHaul(_ context.Context, id string) (haul.Haul, error) {
	s.mu.RLock()
	doc, ok := s.docs[id]
	version := s.versions[id]
	s.mu.RUnlock()
	if !ok {
		return haul.Haul{}, fmt.Errorf("haul %s: %w", id, haul.ErrNotFound)
	}
	return haul.DecodeHaul(doc, version)
}

// UpdateHaul swaps the document when h.Version matches the stored version.
func (s *HaulStore) UpdateHaul(_ context.Context, h haul.Haul) (haul.Haul, error) {
	doc, err := haul.EncodeHaul(h)
	if err != nil {
		return haul.Haul{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.versions[h.ID]
	if !ok {
		return haul.Haul{}, fmt.Errorf("haul %s: %w", h.ID, haul.ErrNotFound)
	}
	if current != h.Version {
		return haul.Haul{}, fmt.Errorf("haul %s at version %d, have %d: %w", h.ID, current, h.Version, haul.ErrConflict)
	}
	s.docs[h.ID] = doc
	s.versions[h.ID] = current + 1
	h.Version = current + 1
	return h, nil
}

// Ping always succeeds.
func (s *HaulStore) Ping(context.Context) error {
	return nil
}
