package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-haul/internal/clock/system"
	"github.com/JakeFAU/listing-haul/internal/export"
	"github.com/JakeFAU/listing-haul/internal/extract"
	"github.com/JakeFAU/listing-haul/internal/hash/sha256"
	"github.com/JakeFAU/listing-haul/internal/haul"
	"github.com/JakeFAU/listing-haul/internal/id/uuid"
	"github.com/JakeFAU/listing-haul/internal/importhost"
	"github.com/JakeFAU/listing-haul/internal/ingest"
	"github.com/JakeFAU/listing-haul/internal/lifecycle"
	"github.com/JakeFAU/listing-haul/internal/policy/ratelimit"
	pubmemory "github.com/JakeFAU/listing-haul/internal/publisher/memory"
	"github.com/JakeFAU/listing-haul/internal/quota"
	"github.com/JakeFAU/listing-haul/internal/scrape"
	"github.com/JakeFAU/listing-haul/internal/storage/memory"
)

var (
	_ HaulService = (*lifecycle.Service)(nil)
	_ Importer    = (*ingest.Importer)(nil)
)

const propertyURL = "https://www.rightmove.co.uk/properties/171844895"

type testStack struct {
	server *Server
	clock  *system.Fixed
	blobs  *memory.BlobStore
	events *pubmemory.Publisher
}

func newTestStack(t *testing.T, opts Options) *testStack {
	t.Helper()
	clock := &system.Fixed{T: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	blobs := memory.NewBlobStore()
	events := pubmemory.New()
	guard := quota.NewGuard(memory.NewQuotaStore(), clock, quota.Config{MaxFreeHauls: 10, Window: 24 * time.Hour}, nil)
	svc := lifecycle.New(memory.NewHaulStore(), guard, events, blobs, clock, uuid.New(), lifecycle.Config{}, nil)

	hosts, err := importhost.LoadDefault()
	require.NoError(t, err)
	engine, err := extract.NewDefaultEngine()
	require.NoError(t, err)
	importer := ingest.New(hosts, engine, scrape.NewBuilder(sha256.New(), clock), memory.NewScrapeStore(), nil)

	if opts.PublicBaseURL == "" {
		opts.PublicBaseURL = "https://haul.example.com/"
	}
	return &testStack{
		server: NewServer(svc, importer, clock, opts, zap.NewNop()),
		clock:  clock,
		blobs:  blobs,
		events: events,
	}
}

func (s *testStack) do(t *testing.T, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	rec := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (s *testStack) createHaul(t *testing.T) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/hauls", "", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp createHaulResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.HaulID
}

func (s *testStack) addScrape(t *testing.T, haulID, url, html string) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(addScrapeRequest{URL: url, HTML: html})
	require.NoError(t, err)
	return s.do(t, http.MethodPost, "/hauls/"+haulID+"/scrapes", "application/json", string(payload))
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	require.False(t, env.Success)
	return env
}

func fixtureHTML(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("testdata/rightmove_171844895.html")
	require.NoError(t, err)
	return string(data)
}

func TestServer_CreateHaul(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t, Options{})
	rec := stack.do(t, http.MethodPost, "/hauls", "", "")

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotEmpty(t, rec.Header().Get(headerRequestID))
	var resp createHaulResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.NoError(t, haul.ValidateID(resp.HaulID))
	require.Equal(t, "https://haul.example.com/hauls/"+resp.HaulID, resp.HaulURL)
}

func TestServer_CreateHaul_QuotaExceeded(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t, Options{})
	for i := 0; i < 10; i++ {
		stack.createHaul(t)
	}
	rec := stack.do(t, http.MethodPost, "/hauls", "", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, codeQuotaExceeded, decodeEnvelope(t, rec).Error.Code)

	// Another caller still has its own allowance.
	req := httptest.NewRequest(http.MethodPost, "/hauls", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.2")
	other := httptest.NewRecorder()
	stack.server.Handler().ServeHTTP(other, req)
	require.Equal(t, http.StatusCreated, other.Code)
}

func TestServer_GetHaul(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t, Options{})
	id := stack.createHaul(t)

	rec := stack.do(t, http.MethodGet, "/hauls/"+id, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp haulResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, id, resp.HaulID)
	require.Equal(t, 0, resp.ScrapeCount)
	require.Equal(t, haul.ScrapeCapacity, resp.ScrapeCapacity)
	require.NotNil(t, resp.Scrapes)
	require.False(t, resp.Expired)
	require.Nil(t, resp.Name)
	require.Equal(t, 30*24*time.Hour, resp.ExpiresAt.Sub(resp.CreatedAt))
	require.Contains(t, rec.Body.String(), `"scrapes":[]`)
}

func TestServer_GetHaul_Errors(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t, Options{})
	tests := []struct {
		name   string
		path   string
		status int
		code   string
	}{
		{name: "malformed id", path: "/hauls/not-a-uuid", status: http.StatusBadRequest, code: codeInvalidRequest},
		{name: "unknown id", path: "/hauls/0190a4e2-7c4b-7d7e-9b7a-2f1f0c1d2e3f", status: http.StatusNotFound, code: codeNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := stack.do(t, http.MethodGet, tc.path, "", "")
			require.Equal(t, tc.status, rec.Code)
			require.Equal(t, tc.code, decodeEnvelope(t, rec).Error.Code)
		})
	}
}

func TestServer_PatchHaul(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t, Options{})
	id := stack.createHaul(t)

	rec := stack.do(t, http.MethodPatch, "/hauls/"+id, "application/json; charset=utf-8", `{"name":"Spring shortlist"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp patchHaulResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, "Spring shortlist", *resp.Name)
	require.Nil(t, resp.Notes)

	rec = stack.do(t, http.MethodPatch, "/hauls/"+id, "application/json", `{"notes":"near the park"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "Spring shortlist", *resp.Name)
	require.Equal(t, "near the park", *resp.Notes)
}

func TestServer_PatchHaul_Errors(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t, Options{})
	id := stack.createHaul(t)
	tests := []struct {
		name        string
		path        string
		contentType string
		body        string
		status      int
		code        string
	}{
		{name: "wrong content type", path: "/hauls/" + id, contentType: "text/plain", body: `{"name":"x"}`, status: http.StatusUnsupportedMediaType, code: codeUnsupportedMediaType},
		{name: "missing content type", path: "/hauls/" + id, body: `{"name":"x"}`, status: http.StatusUnsupportedMediaType, code: codeUnsupportedMediaType},
		{name: "no body", path: "/hauls/" + id, contentType: "application/json", status: http.StatusBadRequest, code: codeInvalidRequest},
		{name: "empty object", path: "/hauls/" + id, contentType: "application/json", body: `{}`, status: http.StatusBadRequest, code: codeInvalidRequest},
		{name: "invalid json", path: "/hauls/" + id, contentType: "application/json", body: `{"name":`, status: http.StatusBadRequest, code: codeInvalidRequest},
		{name: "name too long", path: "/hauls/" + id, contentType: "application/json", body: `{"name":"` + strings.Repeat("n", lifecycle.MaxNameLength+1) + `"}`, status: http.StatusBadRequest, code: codeInvalidRequest},
		{name: "unknown haul", path: "/hauls/0190a4e2-7c4b-7d7e-9b7a-2f1f0c1d2e3f", contentType: "application/json", body: `{"name":"x"}`, status: http.StatusNotFound, code: codeNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := stack.do(t, http.MethodPatch, tc.path, tc.contentType, tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			require.Equal(t, tc.code, decodeEnvelope(t, rec).Error.Code)
		})
	}
}

func TestServer_ScrapeLifecycle(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t, Options{})
	id := stack.createHaul(t)

	rec := stack.addScrape(t, id, propertyURL+"?utm_source=mail#gallery", fixtureHTML(t))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var added addScrapeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &added))
	require.True(t, added.Added)
	require.Equal(t, 1, added.ScrapeCount)
	require.Len(t, added.ResultID, 32)

	// The same listing under a different tracking query is a duplicate.
	rec = stack.addScrape(t, id, propertyURL+"?utm_campaign=spring", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var dup addScrapeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dup))
	require.False(t, dup.Added)
	require.Equal(t, added.ResultID, dup.ResultID)
	require.Equal(t, 1, dup.ScrapeCount)

	rec = stack.do(t, http.MethodGet, "/listings/"+added.ResultID+".json", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listing listingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Equal(t, propertyURL, listing.Listing.ImportURL)
	require.NotNil(t, listing.Listing.Bedrooms)
	require.Equal(t, 3, *listing.Listing.Bedrooms)
	require.NotNil(t, listing.Diagnostics)
	require.Equal(t, "rightmove", listing.Diagnostics.ScraperName)

	rec = stack.do(t, http.MethodGet, "/hauls/"+id, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view haulResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Len(t, view.Scrapes, 1)
	require.Equal(t, added.ResultID, view.Scrapes[0].ResultID)

	rec = stack.do(t, http.MethodDelete, "/hauls/"+id+"/scrapes/"+added.ResultID, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var removed removeScrapeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &removed))
	require.True(t, removed.Removed)
	require.Equal(t, 0, removed.ScrapeCount)

	rec = stack.do(t, http.MethodDelete, "/hauls/"+id+"/scrapes/"+added.ResultID, "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, codeNotFound, decodeEnvelope(t, rec).Error.Code)

	var types []haul.EventType
	for _, msg := range stack.events.Messages() {
		types = append(types, msg.Payload.(haul.Event).Type)
	}
	require.Equal(t, []haul.EventType{haul.EventHaulCreated, haul.EventScrapeAdded, haul.EventScrapeRemoved}, types)
}

func TestServer_AddScrape_Errors(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t, Options{})
	id := stack.createHaul(t)

	rec := stack.addScrape(t, id, "https://www.example.org/house/1", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decodeEnvelope(t, rec).Error.Message, "unsupported site")

	rec = stack.addScrape(t, id, "https://www.rightmove.co.uk/property-for-sale/London.html", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decodeEnvelope(t, rec).Error.Message, "not a listing page")

	rec = stack.addScrape(t, id, "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = stack.do(t, http.MethodPost, "/hauls/"+id+"/scrapes", "text/html", "<html></html>")
	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	rec = stack.addScrape(t, "0190a4e2-7c4b-7d7e-9b7a-2f1f0c1d2e3f", propertyURL, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_AddScrape_Capacity(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t, Options{})
	id := stack.createHaul(t)
	for i := 0; i < haul.ScrapeCapacity; i++ {
		rec := stack.addScrape(t, id, fmt.Sprintf("https://www.rightmove.co.uk/properties/%d", 1000+i), "")
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := stack.addScrape(t, id, "https://www.rightmove.co.uk/properties/99999", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, codeCapacityExceeded, decodeEnvelope(t, rec).Error.Code)

	// Re-adding an existing listing to a full haul is still a no-op success.
	rec = stack.addScrape(t, id, "https://www.rightmove.co.uk/properties/1000", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ExpiredHaul(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t, Options{})
	id := stack.createHaul(t)
	rec := stack.addScrape(t, id, propertyURL, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	stack.clock.Advance(31 * 24 * time.Hour)

	rec = stack.do(t, http.MethodGet, "/hauls/"+id, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view haulResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.True(t, view.Expired)

	rec = stack.do(t, http.MethodPatch, "/hauls/"+id, "application/json", `{"name":"late"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, decodeEnvelope(t, rec).Error.Message, "expired")

	rec = stack.addScrape(t, id, "https://www.rightmove.co.uk/properties/2", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = stack.do(t, http.MethodGet, "/hauls/"+id+"/export?format=json", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Export(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t, Options{})
	id := stack.createHaul(t)

	rec := stack.do(t, http.MethodGet, "/hauls/"+id+"/export?format=json", "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decodeEnvelope(t, rec).Error.Message, "no scrapes")

	rec = stack.addScrape(t, id, propertyURL, fixtureHTML(t))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = stack.do(t, http.MethodGet, "/hauls/"+id+"/export", "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = stack.do(t, http.MethodGet, "/hauls/"+id+"/export?format=xml", "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = stack.do(t, http.MethodGet, "/hauls/"+id+"/export?format=json&inline=1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "json", rec.Header().Get(export.HeaderFormat))
	require.Equal(t, "1", rec.Header().Get(export.HeaderCount))
	require.True(t, strings.HasPrefix(rec.Header().Get("Content-Disposition"), "inline"))
	var entries []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	require.Equal(t, propertyURL, entries[0]["source_url"])

	rec = stack.do(t, http.MethodGet, "/hauls/"+id+"/export?format=csv&inline=1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	require.True(t, strings.HasPrefix(rec.Header().Get("Content-Disposition"), "attachment"))
	records, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "import_url", records[0][0])
	require.Equal(t, propertyURL, records[1][0])

	require.Len(t, stack.blobs.Paths(), 2)
}

func TestServer_GetListing_NotFound(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t, Options{})
	rec := stack.do(t, http.MethodGet, "/listings/0123456789abcdef0123456789abcdef.json", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, codeNotFound, decodeEnvelope(t, rec).Error.Code)
}

func TestServer_UnknownRouteAndMethod(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t, Options{})
	rec := stack.do(t, http.MethodGet, "/nope", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, codeNotFound, decodeEnvelope(t, rec).Error.Code)

	id := stack.createHaul(t)
	rec = stack.do(t, http.MethodPut, "/hauls/"+id, "application/json", `{}`)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, codeInvalidRequest, decodeEnvelope(t, rec).Error.Code)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t, Options{})
	rec := stack.do(t, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = stack.do(t, http.MethodGet, "/readyz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	stack.createHaul(t)
	rec = stack.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "haul_hauls_created_total")
	require.Contains(t, rec.Body.String(), "haul_http_requests_total")
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestServer_ReadyzReportsStoreFailure(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t, Options{Ready: failingPinger{}})
	rec := stack.do(t, http.MethodGet, "/readyz", "", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, codeUnavailable, decodeEnvelope(t, rec).Error.Code)
}

func TestServer_ThrottlesWrites(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t, Options{Limiter: ratelimit.New(ratelimit.Config{RPS: 0.001, Burst: 1})})
	id := stack.createHaul(t)

	rec := stack.do(t, http.MethodPost, "/hauls", "", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	env := decodeEnvelope(t, rec)
	require.Equal(t, codeQuotaExceeded, env.Error.Code)
	require.Equal(t, "too many requests", env.Error.Message)

	rec = stack.do(t, http.MethodGet, "/hauls/"+id, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_BodyTooLarge(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t, Options{MaxBodyBytes: 64})
	id := stack.createHaul(t)
	rec := stack.addScrape(t, id, propertyURL, strings.Repeat("x", 256))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decodeEnvelope(t, rec).Error.Message, "exceeds")
}
