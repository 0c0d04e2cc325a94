package scrape

import (
	"fmt"

	"github.com/JakeFAU/listing-haul/internal/haul"
)

// resultIDLength is the number of hex digest characters kept in a result id.
const resultIDLength = 32

// Builder assembles ScrapeResults.
type Builder struct {
	hasher haul.Hasher
	clock  haul.Clock
}

// NewBuilder wires a builder from its collaborators.
func NewBuilder(hasher haul.Hasher, clock haul.Clock) *Builder {
	return &Builder{hasher: hasher, clock: clock}
}

// ResultID derives the dedup key for rawURL.
func (b *Builder) ResultID(rawURL string) (string, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return "", err
	}
	return b.resultID(normalized)
}

func (b *Builder) resultID(normalized string) (string, error) {
	digest, err := b.hasher.Hash([]byte(normalized))
	if err != nil {
		return "", fmt.Errorf("hash source url: %w", err)
	}
	if len(digest) > resultIDLength {
		digest = digest[:resultIDLength]
	}
	return digest, nil
}

// Build normalizes sourceURL, derives the result id from it and stamps the
// result with the current time. diag is nil for URL-only imports.
func (b *Builder) Build(sourceURL string, listing haul.Listing, diag *haul.Diagnostics) (haul.ScrapeResult, error) {
	normalized, err := NormalizeURL(sourceURL)
	if err != nil {
		return haul.ScrapeResult{}, err
	}
	id, err := b.resultID(normalized)
	if err != nil {
		return haul.ScrapeResult{}, err
	}
	listing.ImportURL = normalized
	if listing.Images == nil {
		listing.Images = []string{}
	}
	return haul.ScrapeResult{
		ResultID:    id,
		SourceURL:   normalized,
		Listing:     listing,
		Diagnostics: diag,
		AddedAt:     b.clock.Now(),
	}, nil
}
