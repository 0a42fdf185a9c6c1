package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lfzhong/amazon-web-scrawler/internal/export"
	"github.com/lfzhong/amazon-web-scrawler/internal/models"
	"github.com/lfzhong/amazon-web-scrawler/internal/scraper"
	"github.com/lfzhong/amazon-web-scrawler/internal/session"
	"github.com/lfzhong/amazon-web-scrawler/internal/storage"
)

type fakeDiscovery struct {
	candidates []models.ProductCandidate
	err        error
	lastQuery  models.SearchQuery
}

func (f *fakeDiscovery) Discover(ctx context.Context, query models.SearchQuery) ([]models.ProductCandidate, error) {
	f.lastQuery = query
	return f.candidates, f.err
}

type fakeExtractor struct {
	result   models.ExtractionResult
	lastOpts scraper.Options
}

func (f *fakeExtractor) Extract(ctx context.Context, candidate models.ProductCandidate, opts scraper.Options) models.ExtractionResult {
	f.lastOpts = opts
	result := f.result
	result.Candidate = candidate
	return result
}

type fakeRunner struct {
	results []models.ExtractionResult
}

func (f *fakeRunner) Run(ctx context.Context, candidates []models.ProductCandidate, opts scraper.Options) []models.ExtractionResult {
	if f.results != nil {
		return f.results
	}
	out := make([]models.ExtractionResult, len(candidates))
	for i, c := range candidates {
		out[i] = models.ExtractionResult{Candidate: c, Success: true}
	}
	return out
}

func intp(v int) *int { return &v }

func newTestHandlers(t *testing.T, discovery *fakeDiscovery, extractor *fakeExtractor, runner *fakeRunner) *Handlers {
	t.Helper()
	dir := t.TempDir()

	registry, err := storage.NewArtifactRegistry(filepath.Join(dir, "artifacts.json"))
	require.NoError(t, err)

	sessions, err := session.NewManager(filepath.Join(dir, "session"), nil, nil, nil)
	require.NoError(t, err)

	return NewHandlers(
		discovery,
		extractor,
		runner,
		export.NewExporter(dir, slog.Default()),
		registry,
		sessions,
		scraper.Options{},
		slog.Default(),
	)
}

func doJSON(t *testing.T, h *Handlers, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func TestSearchRequiresKeyword(t *testing.T) {
	h := newTestHandlers(t, &fakeDiscovery{}, &fakeExtractor{}, &fakeRunner{})

	rec := doJSON(t, h, http.MethodPost, "/search", SearchRequest{Keyword: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchReturnsCandidates(t *testing.T) {
	discovery := &fakeDiscovery{candidates: []models.ProductCandidate{
		{Title: "Sound Pro", URL: "https://www.amazon.com/dp/B0TESTASIN1", ASIN: "B0TESTASIN1"},
	}}
	h := newTestHandlers(t, discovery, &fakeExtractor{}, &fakeRunner{})

	rec := doJSON(t, h, http.MethodPost, "/search", SearchRequest{Keyword: "earbuds", MaxProducts: 2})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Products, 1)
	assert.Equal(t, "B0TESTASIN1", resp.Products[0].ASIN)
	assert.Equal(t, 2, discovery.lastQuery.MaxProducts)
}

func TestSearchNoResultsIsEmptyListNotError(t *testing.T) {
	h := newTestHandlers(t, &fakeDiscovery{err: scraper.ErrNoResultsOrBlocked}, &fakeExtractor{}, &fakeRunner{})

	rec := doJSON(t, h, http.MethodPost, "/search", SearchRequest{Keyword: "asdfqwerty"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Products)
}

func TestReviewsRejectsNonAmazonURL(t *testing.T) {
	h := newTestHandlers(t, &fakeDiscovery{}, &fakeExtractor{}, &fakeRunner{})

	rec := doJSON(t, h, http.MethodPost, "/reviews", ReviewsRequest{URL: "https://example.com/dp/B0TESTASIN1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReviewsExtractsSingleProduct(t *testing.T) {
	extractor := &fakeExtractor{result: models.ExtractionResult{
		Success:     true,
		Records:     []models.ReviewRecord{{Reviewer: "Alice", Rating: intp(5)}},
		ReviewCount: 1,
	}}
	h := newTestHandlers(t, &fakeDiscovery{}, extractor, &fakeRunner{})

	rec := doJSON(t, h, http.MethodPost, "/reviews", ReviewsRequest{
		URL:        "https://www.amazon.com/dp/B0TESTASIN1",
		StarFilter: 5,
		MaxReviews: 10,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.ExtractionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, "B0TESTASIN1", result.Candidate.ASIN)
	assert.Equal(t, 5, extractor.lastOpts.StarFilter)
	assert.Equal(t, 10, extractor.lastOpts.MaxReviews)
}

func TestReviewsAppliesConfiguredDefaults(t *testing.T) {
	extractor := &fakeExtractor{result: models.ExtractionResult{Success: true}}
	h := newTestHandlers(t, &fakeDiscovery{}, extractor, &fakeRunner{})
	h.defaults = scraper.Options{MaxReviews: 25, MaxPages: 3}

	rec := doJSON(t, h, http.MethodPost, "/reviews", ReviewsRequest{
		URL: "https://www.amazon.com/dp/B0TESTASIN1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// Unset request bounds fall back to the configured ones.
	assert.Equal(t, 25, extractor.lastOpts.MaxReviews)
	assert.Equal(t, 3, extractor.lastOpts.MaxPages)
	assert.Equal(t, 0, extractor.lastOpts.StarFilter)
}

func TestScrapeProducesRunAndArtifact(t *testing.T) {
	discovery := &fakeDiscovery{candidates: []models.ProductCandidate{
		{Title: "Sound Pro", URL: "https://www.amazon.com/dp/B0TESTASIN1", ASIN: "B0TESTASIN1"},
	}}
	runner := &fakeRunner{results: []models.ExtractionResult{
		{
			Candidate:   discovery.candidates[0],
			Success:     true,
			Records:     []models.ReviewRecord{{Reviewer: "Alice", Rating: intp(5), Text: "Great"}},
			ReviewCount: 1,
		},
	}}
	h := newTestHandlers(t, discovery, &fakeExtractor{}, runner)

	rec := doJSON(t, h, http.MethodPost, "/scrape", ScrapeRequest{Keyword: "earbuds"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ScrapeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Run)
	assert.Equal(t, 1, resp.Run.TotalProducts)
	assert.Equal(t, 1, resp.Run.TotalReviews)
	require.NotEmpty(t, resp.ArtifactID)

	// The registered artifact is downloadable.
	dl := doJSON(t, h, http.MethodGet, "/exports/"+resp.ArtifactID, nil)
	assert.Equal(t, http.StatusOK, dl.Code)
	assert.Equal(t, xlsxContentType, dl.Header().Get("Content-Type"))

	csv := doJSON(t, h, http.MethodGet, "/exports/"+resp.ArtifactID+"/csv", nil)
	assert.Equal(t, http.StatusOK, csv.Code)
	assert.Contains(t, csv.Body.String(), "Alice")
}

func TestScrapeEmbedsPerProductFailures(t *testing.T) {
	discovery := &fakeDiscovery{candidates: []models.ProductCandidate{
		{Title: "Sound Pro", URL: "https://www.amazon.com/dp/B0TESTASIN1"},
		{Title: "Bass Buds", URL: "https://www.amazon.com/dp/B0TESTASIN2"},
	}}
	runner := &fakeRunner{results: []models.ExtractionResult{
		{Candidate: discovery.candidates[0], Success: true, Records: []models.ReviewRecord{{Reviewer: "Alice"}}, ReviewCount: 1},
		{Candidate: discovery.candidates[1], Success: false, FailureReason: scraper.ReasonTimeout},
	}}
	h := newTestHandlers(t, discovery, &fakeExtractor{}, runner)

	rec := doJSON(t, h, http.MethodPost, "/scrape", ScrapeRequest{Keyword: "earbuds"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ScrapeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Run.Results, 2)
	assert.False(t, resp.Run.Results[1].Success)
	assert.Equal(t, scraper.ReasonTimeout, resp.Run.Results[1].FailureReason)
}

type failingExporter struct{}

func (failingExporter) Export(run *models.ScrapeRun) (*models.Artifact, error) {
	return nil, errors.New("disk full")
}

func (failingExporter) FlattenCSV(xlsxPath, csvPath string) (int, error) {
	return 0, errors.New("disk full")
}

func TestScrapeExportFailureIsExplicitError(t *testing.T) {
	discovery := &fakeDiscovery{candidates: []models.ProductCandidate{
		{Title: "Sound Pro", URL: "https://www.amazon.com/dp/B0TESTASIN1", ASIN: "B0TESTASIN1"},
	}}
	runner := &fakeRunner{results: []models.ExtractionResult{
		{
			Candidate:   discovery.candidates[0],
			Success:     true,
			Records:     []models.ReviewRecord{{Reviewer: "Alice", Text: "Great"}},
			ReviewCount: 1,
		},
	}}
	h := newTestHandlers(t, discovery, &fakeExtractor{}, runner)
	h.exporter = failingExporter{}

	rec := doJSON(t, h, http.MethodPost, "/scrape", ScrapeRequest{Keyword: "earbuds"})

	// A run that produced reviews but whose artifact could not be written is
	// an error, not a success without an artifact.
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "export artifact")
}

func TestScrapeWithoutReviewsSkipsExport(t *testing.T) {
	h := newTestHandlers(t, &fakeDiscovery{err: scraper.ErrNoResultsOrBlocked}, &fakeExtractor{}, &fakeRunner{})

	rec := doJSON(t, h, http.MethodPost, "/scrape", ScrapeRequest{Keyword: "asdfqwerty"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ScrapeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.ArtifactID)
	assert.Equal(t, 0, resp.Run.TotalReviews)
}

func TestDownloadExportUnknownArtifact(t *testing.T) {
	h := newTestHandlers(t, &fakeDiscovery{}, &fakeExtractor{}, &fakeRunner{})

	rec := doJSON(t, h, http.MethodGet, "/exports/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthConfigRoundTrip(t *testing.T) {
	h := newTestHandlers(t, &fakeDiscovery{}, &fakeExtractor{}, &fakeRunner{})

	rec := doJSON(t, h, http.MethodPut, "/auth/config", AuthConfigRequest{
		Enabled:  true,
		Email:    "a@example.com",
		Password: "secret",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")

	get := doJSON(t, h, http.MethodGet, "/auth/config", nil)
	require.Equal(t, http.StatusOK, get.Code)

	var view session.ConfigView
	require.NoError(t, json.Unmarshal(get.Body.Bytes(), &view))
	assert.True(t, view.Enabled)
	assert.True(t, view.HasPassword)
}

func TestAuthTestWhileDisabled(t *testing.T) {
	h := newTestHandlers(t, &fakeDiscovery{}, &fakeExtractor{}, &fakeRunner{})

	rec := doJSON(t, h, http.MethodPost, "/auth/test", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestClearAuth(t *testing.T) {
	h := newTestHandlers(t, &fakeDiscovery{}, &fakeExtractor{}, &fakeRunner{})

	rec := doJSON(t, h, http.MethodPut, "/auth/config", AuthConfigRequest{
		Enabled: true, Email: "a@example.com", Password: "secret",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	cleared := doJSON(t, h, http.MethodDelete, "/auth", nil)
	require.Equal(t, http.StatusOK, cleared.Code)

	var status session.StatusView
	require.NoError(t, json.Unmarshal(cleared.Body.Bytes(), &status))
	assert.False(t, status.Enabled)
	assert.False(t, status.IsLoggedIn)
}

func TestHealth(t *testing.T) {
	h := newTestHandlers(t, &fakeDiscovery{}, &fakeExtractor{}, &fakeRunner{})

	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}
