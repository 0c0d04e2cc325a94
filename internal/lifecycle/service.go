// Package lifecycle owns haul documents: creation under quota, metadata
// patches, capacity-bounded deduplicated appends, removals and export.
//
// Every mutation is a read-modify-write against the HaulStore guarded by the
// document version. A lost compare-and-swap is retried with jittered backoff,
// so two writers can never both observe a free slot and overfill a haul.
package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-haul/internal/export"
	"github.com/JakeFAU/listing-haul/internal/haul"
	"github.com/JakeFAU/listing-haul/internal/metrics"
)

// Field length limits for metadata patches.
const (
	MaxNameLength  = 200
	MaxNotesLength = 5000
)

// QuotaGuard is the quota surface the service depends on.
type QuotaGuard interface {
	CheckAndConsume(ctx context.Context, ip string) (string, error)
	Refund(ctx context.Context, key string)
}

// Config controls Service behavior.
type Config struct {
	TTL           time.Duration
	Retry         RetryPolicy
	Topic         string
	ArchivePrefix string
}

// Service implements the haul lifecycle.
type Service struct {
	store     haul.HaulStore
	guard     QuotaGuard
	publisher haul.Publisher
	blobs     haul.BlobStore
	clock     haul.Clock
	ids       haul.IDGenerator
	cfg       Config
	logger    *zap.Logger
	tracer    trace.Tracer
}

// New constructs a Service. publisher and blobs may be nil to disable
// lifecycle events and export archiving respectively.
func New(
	store haul.HaulStore,
	guard QuotaGuard,
	publisher haul.Publisher,
	blobs haul.BlobStore,
	clock haul.Clock,
	ids haul.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * 24 * time.Hour
	}
	if cfg.Topic == "" {
		cfg.Topic = haul.EventsTopic
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "exports"
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = NewRetryPolicy(5, 10*time.Millisecond, 200*time.Millisecond)
	}
	return &Service{
		store:     store,
		guard:     guard,
		publisher: publisher,
		blobs:     blobs,
		clock:     clock,
		ids:       ids,
		cfg:       cfg,
		logger:    logger.Named("haul"),
		tracer:    otel.Tracer("github.com/JakeFAU/listing-haul/internal/lifecycle"),
	}
}

// Create mints an empty haul owned by callerIP. Quota is consumed first and
// refunded if the haul cannot be persisted.
func (s *Service) Create(ctx context.Context, callerIP string) (h haul.Haul, err error) {
	ctx, span := s.tracer.Start(ctx, "haul.create")
	defer func() { endSpan(span, err) }()

	key, err := s.guard.CheckAndConsume(ctx, callerIP)
	if err != nil {
		return haul.Haul{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		s.guard.Refund(ctx, key)
		return haul.Haul{}, fmt.Errorf("generate haul id: %w", err)
	}
	now := s.clock.Now()
	h = haul.Haul{
		ID:             id,
		Scrapes:        []haul.ScrapeResult{},
		ScrapeCapacity: haul.ScrapeCapacity,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.cfg.TTL),
		OwnerQuotaKey:  key,
		Version:        1,
	}
	if err := s.store.CreateHaul(ctx, h); err != nil {
		s.guard.Refund(ctx, key)
		return haul.Haul{}, fmt.Errorf("persist haul: %w", err)
	}
	span.SetAttributes(attribute.String("haul.id", id))
	metrics.ObserveHaulCreated()
	s.logger.Info("haul created", zap.String("haul_id", id), zap.Time("expires_at", h.ExpiresAt))
	s.publish(ctx, haul.EventHaulCreated, h, "")
	return h, nil
}

// Get returns the full haul document. Expired hauls are still readable.
func (s *Service) Get(ctx context.Context, haulID string) (haul.Haul, error) {
	if err := haul.ValidateID(haulID); err != nil {
		return haul.Haul{}, err
	}
	return s.store.GetHaul(ctx, haulID)
}

// PatchMetadata merges the fields present in patch, leaving scrapes untouched.
func (s *Service) PatchMetadata(ctx context.Context, haulID string, patch haul.MetadataPatch) (h haul.Haul, err error) {
	ctx, span := s.tracer.Start(ctx, "haul.patch", trace.WithAttributes(attribute.String("haul.id", haulID)))
	defer func() { endSpan(span, err) }()

	if err := haul.ValidateID(haulID); err != nil {
		return haul.Haul{}, err
	}
	if patch.Empty() {
		return haul.Haul{}, fmt.Errorf("%w: at least one of name or notes is required", haul.ErrInvalidRequest)
	}
	if err := validatePatch(patch); err != nil {
		return haul.Haul{}, err
	}
	h, err = s.mutate(ctx, haulID, func(draft *haul.Haul, now time.Time) (bool, error) {
		if draft.Expired(now) {
			return false, expiredError(haulID)
		}
		if patch.Name != nil {
			name := *patch.Name
			draft.Name = &name
		}
		if patch.Notes != nil {
			notes := *patch.Notes
			draft.Notes = &notes
		}
		return true, nil
	})
	if err != nil {
		return haul.Haul{}, err
	}
	s.publish(ctx, haul.EventHaulPatched, h, "")
	return h, nil
}

// AppendScrape adds res to the haul. Re-adding a result id already present
// succeeds without change and reports added=false, even when the haul is full.
func (s *Service) AppendScrape(ctx context.Context, haulID string, res haul.ScrapeResult) (h haul.Haul, added bool, err error) {
	ctx, span := s.tracer.Start(ctx, "haul.append_scrape", trace.WithAttributes(
		attribute.String("haul.id", haulID),
		attribute.String("scrape.result_id", res.ResultID),
	))
	defer func() { endSpan(span, err) }()

	if err := haul.ValidateID(haulID); err != nil {
		return haul.Haul{}, false, err
	}
	if res.ResultID == "" {
		return haul.Haul{}, false, fmt.Errorf("%w: scrape result has no id", haul.ErrInvalidRequest)
	}
	h, err = s.mutate(ctx, haulID, func(draft *haul.Haul, now time.Time) (bool, error) {
		added = false
		if draft.Expired(now) {
			return false, expiredError(haulID)
		}
		if draft.IndexOf(res.ResultID) >= 0 {
			return false, nil
		}
		if len(draft.Scrapes) >= draft.ScrapeCapacity {
			return false, fmt.Errorf("%w: haul %s already holds %d scrapes", haul.ErrCapacityExceeded, haulID, draft.ScrapeCapacity)
		}
		draft.Scrapes = append(draft.Scrapes, res)
		added = true
		return true, nil
	})
	switch {
	case errors.Is(err, haul.ErrCapacityExceeded):
		metrics.ObserveScrapeAppend(metrics.OutcomeCapacity)
		return haul.Haul{}, false, err
	case err != nil:
		return haul.Haul{}, false, err
	case !added:
		metrics.ObserveScrapeAppend(metrics.OutcomeDuplicate)
		s.logger.Debug("duplicate scrape ignored", zap.String("haul_id", haulID), zap.String("result_id", res.ResultID))
		return h, false, nil
	}
	metrics.ObserveScrapeAppend(metrics.OutcomeAdded)
	s.logger.Info("scrape added",
		zap.String("haul_id", haulID),
		zap.String("result_id", res.ResultID),
		zap.Int("scrape_count", len(h.Scrapes)),
	)
	s.publish(ctx, haul.EventScrapeAdded, h, res.ResultID)
	return h, true, nil
}

// RemoveScrape drops resultID from the haul.
func (s *Service) RemoveScrape(ctx context.Context, haulID, resultID string) (h haul.Haul, err error) {
	ctx, span := s.tracer.Start(ctx, "haul.remove_scrape", trace.WithAttributes(
		attribute.String("haul.id", haulID),
		attribute.String("scrape.result_id", resultID),
	))
	defer func() { endSpan(span, err) }()

	if err := haul.ValidateID(haulID); err != nil {
		return haul.Haul{}, err
	}
	h, err = s.mutate(ctx, haulID, func(draft *haul.Haul, now time.Time) (bool, error) {
		if draft.Expired(now) {
			return false, expiredError(haulID)
		}
		idx := draft.IndexOf(resultID)
		if idx < 0 {
			return false, fmt.Errorf("%w: scrape %s is not in haul %s", haul.ErrNotFound, resultID, haulID)
		}
		draft.Scrapes = append(draft.Scrapes[:idx], draft.Scrapes[idx+1:]...)
		return true, nil
	})
	if err != nil {
		return haul.Haul{}, err
	}
	s.publish(ctx, haul.EventScrapeRemoved, h, resultID)
	return h, nil
}

// Export serializes the haul's scrapes. The format is checked before the haul
// is loaded, and a haul without scrapes is rejected.
func (s *Service) Export(ctx context.Context, haulID, format string, inline bool) (out export.Output, err error) {
	ctx, span := s.tracer.Start(ctx, "haul.export", trace.WithAttributes(
		attribute.String("haul.id", haulID),
		attribute.String("export.format", format),
	))
	defer func() { endSpan(span, err) }()

	f, err := export.ParseFormat(format)
	if err != nil {
		return export.Output{}, err
	}
	h, err := s.Get(ctx, haulID)
	if err != nil {
		return export.Output{}, err
	}
	if len(h.Scrapes) == 0 {
		return export.Output{}, fmt.Errorf("%w: haul %s has no scrapes to export", haul.ErrInvalidRequest, haulID)
	}
	out, err = export.Serialize(h.ID, h.Scrapes, f, inline)
	if err != nil {
		return export.Output{}, err
	}
	metrics.ObserveExport(string(f))
	s.archive(ctx, h.ID, out)
	s.publish(ctx, haul.EventHaulExported, h, "")
	return out, nil
}

// mutate loads the haul, applies fn to a private copy and writes it back guarded
// by the loaded version. fn returning false means no write is needed.
func (s *Service) mutate(ctx context.Context, haulID string, fn func(draft *haul.Haul, now time.Time) (bool, error)) (haul.Haul, error) {
	for attempt := 0; ; attempt++ {
		current, err := s.store.GetHaul(ctx, haulID)
		if err != nil {
			return haul.Haul{}, err
		}
		draft := current.Clone()
		changed, err := fn(&draft, s.clock.Now())
		if err != nil {
			return haul.Haul{}, err
		}
		if !changed {
			return current, nil
		}
		updated, err := s.store.UpdateHaul(ctx, draft)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, haul.ErrConflict) {
			return haul.Haul{}, fmt.Errorf("update haul %s: %w", haulID, err)
		}
		metrics.ObserveWriteConflict()
		if !s.cfg.Retry.ShouldRetry(attempt) {
			s.logger.Warn("haul write retries exhausted", zap.String("haul_id", haulID), zap.Int("attempts", attempt+1))
			return haul.Haul{}, fmt.Errorf("%w: haul %s after %d attempts: %w", haul.ErrRetriesExhausted, haulID, attempt+1, err)
		}
		if err := sleep(ctx, s.cfg.Retry.Backoff(attempt)); err != nil {
			return haul.Haul{}, fmt.Errorf("wait for haul %s retry: %w", haulID, err)
		}
	}
}

func (s *Service) publish(ctx context.Context, typ haul.EventType, h haul.Haul, resultID string) {
	if s.publisher == nil {
		return
	}
	evt := haul.Event{
		Type:        typ,
		HaulID:      h.ID,
		ResultID:    resultID,
		ScrapeCount: len(h.Scrapes),
		At:          s.clock.Now(),
	}
	if _, err := s.publisher.Publish(ctx, s.cfg.Topic, evt); err != nil {
		s.logger.Warn("publish lifecycle event failed",
			zap.String("event", string(typ)),
			zap.String("haul_id", h.ID),
			zap.Error(err),
		)
	}
}

func (s *Service) archive(ctx context.Context, haulID string, out export.Output) {
	if s.blobs == nil {
		return
	}
	path := fmt.Sprintf("%s/%s/%d.%s", strings.TrimSuffix(s.cfg.ArchivePrefix, "/"), haulID, s.clock.Now().Unix(), out.Extension())
	uri, err := s.blobs.PutObject(ctx, path, out.ContentType, bytes.NewReader(out.Body))
	if err != nil {
		s.logger.Warn("archive export failed", zap.String("haul_id", haulID), zap.Error(err))
		return
	}
	s.logger.Debug("export archived", zap.String("haul_id", haulID), zap.String("uri", uri))
}

func validatePatch(p haul.MetadataPatch) error {
	if p.Name != nil && utf8.RuneCountInString(*p.Name) > MaxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", haul.ErrInvalidRequest, MaxNameLength)
	}
	if p.Notes != nil && utf8.RuneCountInString(*p.Notes) > MaxNotesLength {
		return fmt.Errorf("%w: notes exceed %d characters", haul.ErrInvalidRequest, MaxNotesLength)
	}
	return nil
}

func expiredError(haulID string) error {
	return fmt.Errorf("%w: haul %s has expired", haul.ErrNotFound, haulID)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
