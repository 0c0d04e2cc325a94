// Package api exposes the HTTP interface for the haul service.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-haul/internal/export"
	"github.com/JakeFAU/listing-haul/internal/haul"
	"github.com/JakeFAU/listing-haul/internal/metrics"
	"github.com/JakeFAU/listing-haul/internal/policy/ratelimit"
)

const defaultMaxBodyBytes = 4 << 20

// HaulService is the lifecycle surface the handlers drive.
type HaulService interface {
	Create(ctx context.Context, callerIP string) (haul.Haul, error)
	Get(ctx context.Context, haulID string) (haul.Haul, error)
	PatchMetadata(ctx context.Context, haulID string, patch haul.MetadataPatch) (haul.Haul, error)
	AppendScrape(ctx context.Context, haulID string, res haul.ScrapeResult) (haul.Haul, bool, error)
	RemoveScrape(ctx context.Context, haulID, resultID string) (haul.Haul, error)
	Export(ctx context.Context, haulID, format string, inline bool) (export.Output, error)
}

// Importer turns submitted pages into scrape results.
type Importer interface {
	Import(ctx context.Context, rawURL, html string) (haul.ScrapeResult, error)
	Listing(ctx context.Context, resultID string) (haul.ScrapeResult, error)
}

// Options tunes the HTTP surface.
type Options struct {
	// PublicBaseURL prefixes haul_url in create responses, e.g. https://haul.example.com.
	PublicBaseURL  string
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	// Limiter throttles write requests per caller IP; nil or disabled means no throttle.
	Limiter *ratelimit.Limiter
	// Ready reports backing store readiness for /readyz; nil means always ready.
	Ready haul.Pinger
}

// Server wires HTTP handlers to the haul service and importer.
type Server struct {
	router   chi.Router
	hauls    HaulService
	importer Importer
	clock    haul.Clock
	opts     Options
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(hauls HaulService, importer Importer, clock haul.Clock, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	opts.PublicBaseURL = strings.TrimRight(opts.PublicBaseURL, "/")
	s := &Server{
		hauls:    hauls,
		importer: importer,
		clock:    clock,
		opts:     opts,
		logger:   logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(metrics.Middleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	if opts.RequestTimeout > 0 {
		r.Use(timeoutMiddleware(opts.RequestTimeout))
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeInvalidRequest, "method not allowed")
	})

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/hauls", func(r chi.Router) {
		r.Use(throttleMiddleware(opts.Limiter))
		r.Post("/", s.createHaul)
		r.Route("/{haul_id}", func(r chi.Router) {
			r.Get("/", s.getHaul)
			r.Patch("/", s.patchHaul)
			r.Post("/scrapes", s.addScrape)
			r.Delete("/scrapes/{result_id}", s.removeScrape)
			r.Get("/export", s.exportHaul)
		})
	})
	r.Get("/listings/{result_id}.json", s.getListing)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Ready.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, codeUnavailable, "store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
