package haul

import (
	"encoding/json"
	"fmt"
)

// EncodeHaul serializes a haul into its stored document form.
func EncodeHaul(h Haul) ([]byte, error) {
	if h.Scrapes == nil {
		h.Scrapes = []ScrapeResult{}
	}
	data, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("encode haul: %w", err)
	}
	return data, nil
}

// DecodeHaul parses a stored haul document and checks its invariants.
func DecodeHaul(data []byte, version int64) (Haul, error) {
	var h Haul
	if err := json.Unmarshal(data, &h); err != nil {
		return Haul{}, fmt.Errorf("decode haul: %w", err)
	}
	if h.Scrapes == nil {
		h.Scrapes = []ScrapeResult{}
	}
	if h.ScrapeCapacity == 0 {
		h.ScrapeCapacity = ScrapeCapacity
	}
	if len(h.Scrapes) > h.ScrapeCapacity {
		return Haul{}, fmt.Errorf("decode haul %s: %d scrapes exceed capacity %d", h.ID, len(h.Scrapes), h.ScrapeCapacity)
	}
	h.Version = version
	return h, nil
}

// EncodeScrape serializes a scrape result into its stored document form.
func EncodeScrape(s ScrapeResult) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode scrape: %w", err)
	}
	return data, nil
}

// DecodeScrape parses a stored scrape result document.
func DecodeScrape(data []byte) (ScrapeResult, error) {
	var s ScrapeResult
	if err := json.Unmarshal(data, &s); err != nil {
		return ScrapeResult{}, fmt.Errorf("decode scrape: %w", err)
	}
	return s, nil
}
