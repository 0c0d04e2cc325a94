package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-haul/internal/haul"
	"github.com/JakeFAU/listing-haul/internal/logging"
)

type createHaulResponse struct {
	Success bool   `json:"success"`
	HaulID  string `json:"haul_id"`
	HaulURL string `json:"haul_url"`
}

type haulResponse struct {
	Success        bool                `json:"success"`
	HaulID         string              `json:"haul_id"`
	Name           *string             `json:"name"`
	Notes          *string             `json:"notes"`
	ScrapeCount    int                 `json:"scrape_count"`
	ScrapeCapacity int                 `json:"scrape_capacity"`
	Scrapes        []haul.ScrapeResult `json:"scrapes"`
	CreatedAt      time.Time           `json:"created_at"`
	ExpiresAt      time.Time           `json:"expires_at"`
	Expired        bool                `json:"expired"`
}

type patchHaulResponse struct {
	Success bool    `json:"success"`
	Name    *string `json:"name"`
	Notes   *string `json:"notes"`
}

type addScrapeRequest struct {
	URL  string `json:"url"`
	HTML string `json:"html"`
}

type addScrapeResponse struct {
	Success     bool   `json:"success"`
	ResultID    string `json:"result_id"`
	Added       bool   `json:"added"`
	ScrapeCount int    `json:"scrape_count"`
}

type removeScrapeResponse struct {
	Success     bool `json:"success"`
	Removed     bool `json:"removed"`
	ScrapeCount int  `json:"scrape_count"`
}

type listingResponse struct {
	Success     bool              `json:"success"`
	ResultID    string            `json:"result_id"`
	SourceURL   string            `json:"source_url"`
	Listing     haul.Listing      `json:"listing"`
	Diagnostics *haul.Diagnostics `json:"diagnostics,omitempty"`
}

func (s *Server) createHaul(w http.ResponseWriter, r *http.Request) {
	h, err := s.hauls.Create(r.Context(), clientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createHaulResponse{
		Success: true,
		HaulID:  h.ID,
		HaulURL: s.opts.PublicBaseURL + "/hauls/" + h.ID,
	})
}

func (s *Server) getHaul(w http.ResponseWriter, r *http.Request) {
	h, err := s.hauls.Get(r.Context(), chi.URLParam(r, "haul_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toHaulResponse(h))
}

func (s *Server) patchHaul(w http.ResponseWriter, r *http.Request) {
	var patch haul.MetadataPatch
	if err := s.decodeJSON(w, r, &patch); err != nil {
		s.fail(w, r, err)
		return
	}
	h, err := s.hauls.PatchMetadata(r.Context(), chi.URLParam(r, "haul_id"), patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, patchHaulResponse{Success: true, Name: h.Name, Notes: h.Notes})
}

func (s *Server) addScrape(w http.ResponseWriter, r *http.Request) {
	haulID := chi.URLParam(r, "haul_id")
	var req addScrapeRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	// Fail fast on unknown hauls before spending time on extraction.
	if _, err := s.hauls.Get(r.Context(), haulID); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.importer.Import(r.Context(), req.URL, req.HTML)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	h, added, err := s.hauls.AppendScrape(r.Context(), haulID, res)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, addScrapeResponse{
		Success:     true,
		ResultID:    res.ResultID,
		Added:       added,
		ScrapeCount: len(h.Scrapes),
	})
}

func (s *Server) removeScrape(w http.ResponseWriter, r *http.Request) {
	h, err := s.hauls.RemoveScrape(r.Context(), chi.URLParam(r, "haul_id"), chi.URLParam(r, "result_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, removeScrapeResponse{Success: true, Removed: true, ScrapeCount: len(h.Scrapes)})
}

func (s *Server) exportHaul(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	out, err := s.hauls.Export(r.Context(), chi.URLParam(r, "haul_id"), query.Get("format"), parseFlag(query.Get("inline")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	for k, v := range out.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", out.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Body)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out.Body); err != nil {
		logging.FromContext(r.Context(), s.logger).Warn("write export failed", zap.Error(err))
	}
}

func (s *Server) getListing(w http.ResponseWriter, r *http.Request) {
	res, err := s.importer.Listing(r.Context(), chi.URLParam(r, "result_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listingResponse{
		Success:     true,
		ResultID:    res.ResultID,
		SourceURL:   res.SourceURL,
		Listing:     res.Listing,
		Diagnostics: res.Diagnostics,
	})
}

func (s *Server) toHaulResponse(h haul.Haul) haulResponse {
	scrapes := h.Scrapes
	if scrapes == nil {
		scrapes = []haul.ScrapeResult{}
	}
	expired := false
	if s.clock != nil {
		expired = h.Expired(s.clock.Now())
	}
	return haulResponse{
		Success:        true,
		HaulID:         h.ID,
		Name:           h.Name,
		Notes:          h.Notes,
		ScrapeCount:    len(scrapes),
		ScrapeCapacity: h.ScrapeCapacity,
		Scrapes:        scrapes,
		CreatedAt:      h.CreatedAt,
		ExpiresAt:      h.ExpiresAt,
		Expired:        expired,
	}
}

// decodeJSON enforces a JSON content type and a bounded, non-empty body.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return fmt.Errorf("%w: content type must be application/json", haul.ErrUnsupportedMediaType)
	}
	body := http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: request body is required", haul.ErrInvalidRequest)
		case errors.As(err, &tooLarge):
			return fmt.Errorf("%w: request body exceeds %d bytes", haul.ErrInvalidRequest, tooLarge.Limit)
		default:
			return fmt.Errorf("%w: invalid JSON body", haul.ErrInvalidRequest)
		}
	}
	return nil
}

func parseFlag(raw string) bool {
	v, err := strconv.ParseBool(raw)
	return err == nil && v
}
