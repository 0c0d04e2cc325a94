// Package ingest runs the import pipeline for one submitted listing: host
// resolution, rule extraction, diagnostics, result building and persistence.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-haul/internal/diagnostics"
	"github.com/JakeFAU/listing-haul/internal/extract"
	"github.com/JakeFAU/listing-haul/internal/haul"
	"github.com/JakeFAU/listing-haul/internal/importhost"
	"github.com/JakeFAU/listing-haul/internal/metrics"
	"github.com/JakeFAU/listing-haul/internal/scrape"
)

// Importer turns a URL and optional HTML into a stored ScrapeResult.
type Importer struct {
	hosts   *importhost.Registry
	engine  *extract.Engine
	builder *scrape.Builder
	store   haul.ScrapeStore
	logger  *zap.Logger
}

// New constructs an Importer.
func New(
	hosts *importhost.Registry,
	engine *extract.Engine,
	builder *scrape.Builder,
	store haul.ScrapeStore,
	logger *zap.Logger,
) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{hosts: hosts, engine: engine, builder: builder, store: store, logger: logger.Named("ingest")}
}

// Import builds a result for rawURL. Re-importing a known listing returns the
// result stored first. With empty html only the scraper
// defaults are filled and no diagnostics are attached. Extraction problems
// never fail the import; unsupported or malformed URLs do.
func (i *Importer) Import(ctx context.Context, rawURL, html string) (haul.ScrapeResult, error) {
	if strings.TrimSpace(rawURL) == "" {
		return haul.ScrapeResult{}, fmt.Errorf("%w: url is required", haul.ErrInvalidRequest)
	}
	host, err := i.hosts.Resolve(rawURL)
	switch {
	case errors.Is(err, importhost.ErrHostNotFound), errors.Is(err, importhost.ErrHostMatchedURLInvalid):
		return haul.ScrapeResult{}, fmt.Errorf("%w: %v", haul.ErrInvalidRequest, err)
	case err != nil:
		return haul.ScrapeResult{}, fmt.Errorf("resolve import host: %w", err)
	}

	var (
		listing haul.Listing
		diag    *haul.Diagnostics
	)
	if strings.TrimSpace(html) == "" {
		listing = i.engine.Defaults(host)
	} else {
		res := i.engine.Extract(html, host)
		d := diagnostics.Summarize(res.Traces, host.ScraperName)
		listing, diag = res.Listing, &d
		metrics.ObserveExtraction(host.ScraperName, diagnostics.Ratio(d))
		i.logger.Debug("listing extracted",
			zap.String("scraper", host.ScraperName),
			zap.Int("populated_fields", d.PopulatedFields),
			zap.Int("total_fields", d.TotalFields),
		)
	}

	result, err := i.builder.Build(rawURL, listing, diag)
	if err != nil {
		return haul.ScrapeResult{}, err
	}
	stored, err := i.store.SaveScrape(ctx, result)
	if err != nil {
		return haul.ScrapeResult{}, fmt.Errorf("save scrape %s: %w", result.ResultID, err)
	}
	return stored, nil
}

// Listing returns a previously imported result.
func (i *Importer) Listing(ctx context.Context, resultID string) (haul.ScrapeResult, error) {
	if strings.TrimSpace(resultID) == "" {
		return haul.ScrapeResult{}, fmt.Errorf("%w: listing id is required", haul.ErrInvalidRequest)
	}
	return i.store.GetScrape(ctx, resultID)
}
