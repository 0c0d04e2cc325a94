// Package haul defines the core types shared across the extraction and haul subsystems.
package haul

import (
	"time"
)

// ScrapeCapacity is the maximum number of scrape results a haul may hold.
const ScrapeCapacity = 20

// FieldTrace records how a single listing field was (or was not) populated.
type FieldTrace struct {
	FieldName      string   `json:"field_name"`
	AttemptedRules []string `json:"attempted_rules"`
	MatchedRule    *string  `json:"matched_rule,omitempty"`
	Value          any      `json:"value,omitempty"`
	Populated      bool     `json:"populated"`
	Defaulted      bool     `json:"defaulted,omitempty"`
}

// Diagnostics summarizes the field traces of one HTML extraction.
type Diagnostics struct {
	ScraperName     string       `json:"scraper_name"`
	FieldTraces     []FieldTrace `json:"field_traces"`
	PopulatedFields int          `json:"populated_fields"`
	TotalFields     int          `json:"total_fields"`
}

// ScrapeResult is one extracted listing plus its source URL. It is immutable once built.
type ScrapeResult struct {
	ResultID    string       `json:"result_id"`
	SourceURL   string       `json:"source_url"`
	Listing     Listing      `json:"listing"`
	Diagnostics *Diagnostics `json:"diagnostics,omitempty"`
	AddedAt     time.Time    `json:"added_at"`
}

// Haul is a named, capacity-bounded, expiring collection of scrape results.
type Haul struct {
	ID             string         `json:"haul_id"`
	Name           *string        `json:"name"`
	Notes          *string        `json:"notes"`
	Scrapes        []ScrapeResult `json:"scrapes"`
	ScrapeCapacity int            `json:"scrape_capacity"`
	CreatedAt      time.Time      `json:"created_at"`
	ExpiresAt      time.Time      `json:"expires_at"`
	OwnerQuotaKey  string         `json:"owner_quota_key"`

	// Version is the optimistic concurrency token maintained by the store.
	Version int64 `json:"-"`
}

// Expired reports whether the haul no longer accepts writes at now.
func (h Haul) Expired(now time.Time) bool {
	return !now.Before(h.ExpiresAt)
}

// IndexOf returns the position of resultID within the haul, or -1.
func (h Haul) IndexOf(resultID string) int {
	for i, s := range h.Scrapes {
		if s.ResultID == resultID {
			return i
		}
	}
	return -1
}

// Clone returns a deep-enough copy for read-modify-write cycles: the scrape
// slice is copied so appends and removals never alias the stored document.
func (h Haul) Clone() Haul {
	cp := h
	cp.Scrapes = make([]ScrapeResult, len(h.Scrapes))
	copy(cp.Scrapes, h.Scrapes)
	if h.Name != nil {
		name := *h.Name
		cp.Name = &name
	}
	if h.Notes != nil {
		notes := *h.Notes
		cp.Notes = &notes
	}
	return cp
}

// MetadataPatch carries a partial update of haul metadata.
type MetadataPatch struct {
	Name  *string `json:"name"`
	Notes *string `json:"notes"`
}

// Empty reports whether the patch names no field at all.
func (p MetadataPatch) Empty() bool {
	return p.Name == nil && p.Notes == nil
}

// EventType names a haul lifecycle event.
type EventType string

// Lifecycle events published after successful mutations.
const (
	EventHaulCreated   EventType = "haul.created"
	EventHaulPatched   EventType = "haul.patched"
	EventScrapeAdded   EventType = "haul.scrape_added"
	EventScrapeRemoved EventType = "haul.scrape_removed"
	EventHaulExported  EventType = "haul.exported"
)

// EventsTopic is the topic lifecycle events are published on.
const EventsTopic = "hauls"

// Event is the payload published for lifecycle changes.
type Event struct {
	Type        EventType `json:"type"`
	HaulID      string    `json:"haul_id"`
	ResultID    string    `json:"result_id,omitempty"`
	ScrapeCount int       `json:"scrape_count"`
	At          time.Time `json:"at"`
}
