// Package api exposes the scraper over HTTP. Handlers validate input, call
// into the domain packages and translate results to JSON; scrape failures
// inside a run are embedded in the response rather than mapped to 5xx.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lfzhong/amazon-web-scrawler/internal/export"
	"github.com/lfzhong/amazon-web-scrawler/internal/models"
	"github.com/lfzhong/amazon-web-scrawler/internal/scraper"
	"github.com/lfzhong/amazon-web-scrawler/internal/session"
	"github.com/lfzhong/amazon-web-scrawler/internal/storage"
)

// Discoverer finds product candidates for a search keyword.
type Discoverer interface {
	Discover(ctx context.Context, query models.SearchQuery) ([]models.ProductCandidate, error)
}

// Runner fans extraction out across candidates.
type Runner interface {
	Run(ctx context.Context, candidates []models.ProductCandidate, opts scraper.Options) []models.ExtractionResult
}

// Extractor pulls reviews for a single known product.
type Extractor interface {
	Extract(ctx context.Context, candidate models.ProductCandidate, opts scraper.Options) models.ExtractionResult
}

// ArtifactExporter materializes a run as a workbook and derives the CSV.
type ArtifactExporter interface {
	Export(run *models.ScrapeRun) (*models.Artifact, error)
	FlattenCSV(xlsxPath, csvPath string) (int, error)
}

type Handlers struct {
	discovery Discoverer
	extractor Extractor
	runner    Runner
	exporter  ArtifactExporter
	artifacts *storage.ArtifactRegistry
	sessions  *session.Manager
	// defaults fills in extraction bounds a request leaves unset.
	defaults scraper.Options
	logger   *slog.Logger
}

func NewHandlers(
	discovery Discoverer,
	extractor Extractor,
	runner Runner,
	exporter ArtifactExporter,
	artifacts *storage.ArtifactRegistry,
	sessions *session.Manager,
	defaults scraper.Options,
	logger *slog.Logger,
) *Handlers {
	return &Handlers{
		discovery: discovery,
		extractor: extractor,
		runner:    runner,
		exporter:  exporter,
		artifacts: artifacts,
		sessions:  sessions,
		defaults:  defaults,
		logger:    logger,
	}
}

// extractionOptions merges request bounds with the configured defaults.
func (h *Handlers) extractionOptions(starFilter, maxReviews int) scraper.Options {
	opts := h.defaults
	opts.StarFilter = starFilter
	if maxReviews > 0 {
		opts.MaxReviews = maxReviews
	}
	return opts
}

// Routes mounts every endpoint on a fresh router.
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/search", h.Search)
	r.Post("/reviews", h.Reviews)
	r.Post("/scrape", h.Scrape)

	r.Get("/auth/config", h.GetAuthConfig)
	r.Put("/auth/config", h.PutAuthConfig)
	r.Post("/auth/test", h.TestAuth)
	r.Get("/auth/status", h.AuthStatus)
	r.Delete("/auth", h.ClearAuth)

	r.Get("/exports", h.ListExports)
	r.Get("/exports/{artifactID}", h.DownloadExport)
	r.Get("/exports/{artifactID}/csv", h.DownloadExportCSV)

	r.Get("/health", h.Health)

	return r
}

// SearchRequest asks for product candidates matching a keyword.
type SearchRequest struct {
	Keyword     string `json:"keyword"`
	MaxProducts int    `json:"max_products"`
}

type SearchResponse struct {
	Keyword  string                    `json:"keyword"`
	Products []models.ProductCandidate `json:"products"`
}

func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	query := models.SearchQuery{Keyword: req.Keyword, MaxProducts: req.MaxProducts}
	if err := query.Normalize(); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	candidates, err := h.discovery.Discover(r.Context(), query)
	if err != nil {
		if errors.Is(err, scraper.ErrNoResultsOrBlocked) {
			h.respondJSON(w, http.StatusOK, SearchResponse{Keyword: query.Keyword, Products: []models.ProductCandidate{}})
			return
		}
		h.logger.Error("search failed", "keyword", query.Keyword, "error", err)
		h.respondError(w, http.StatusInternalServerError, "search failed")
		return
	}

	h.respondJSON(w, http.StatusOK, SearchResponse{Keyword: query.Keyword, Products: candidates})
}

// ReviewsRequest asks for the reviews of one known product.
type ReviewsRequest struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	StarFilter int    `json:"star_filter"`
	MaxReviews int    `json:"max_reviews"`
}

func (h *Handlers) Reviews(w http.ResponseWriter, r *http.Request) {
	var req ReviewsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := scraper.ValidateProductURL(req.URL); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	candidate := models.ProductCandidate{
		Title: req.Title,
		URL:   strings.TrimSpace(req.URL),
		ASIN:  models.ExtractASIN(req.URL),
	}
	result := h.extractor.Extract(r.Context(), candidate, h.extractionOptions(req.StarFilter, req.MaxReviews))

	h.respondJSON(w, http.StatusOK, result)
}

// ScrapeRequest drives the full discovery, extraction and export pipeline.
type ScrapeRequest struct {
	Keyword     string `json:"keyword"`
	MaxProducts int    `json:"max_products"`
	StarFilter  int    `json:"star_filter"`
	MaxReviews  int    `json:"max_reviews"`
}

type ScrapeResponse struct {
	Run         *models.ScrapeRun `json:"run"`
	ArtifactID  string            `json:"artifact_id,omitempty"`
	DownloadURL string            `json:"download_url,omitempty"`
}

func (h *Handlers) Scrape(w http.ResponseWriter, r *http.Request) {
	var req ScrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	query := models.SearchQuery{Keyword: req.Keyword, MaxProducts: req.MaxProducts}
	if err := query.Normalize(); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	candidates, err := h.discovery.Discover(r.Context(), query)
	if err != nil && !errors.Is(err, scraper.ErrNoResultsOrBlocked) {
		h.logger.Error("scrape discovery failed", "keyword", query.Keyword, "error", err)
		h.respondError(w, http.StatusInternalServerError, "discovery failed")
		return
	}

	results := h.runner.Run(r.Context(), candidates, h.extractionOptions(req.StarFilter, req.MaxReviews))
	run := export.Aggregate(query.Keyword, results)

	resp := ScrapeResponse{Run: run}
	if run.TotalReviews > 0 {
		// An artifact-write failure is fatal to the run's export and must be
		// visible to the caller, unlike per-product extraction failures.
		artifact, err := h.exporter.Export(run)
		if err != nil {
			h.logger.Error("export failed", "run_id", run.ID, "error", err)
			h.respondError(w, http.StatusInternalServerError, "failed to write export artifact")
			return
		}
		if err := h.artifacts.Add(artifact); err != nil {
			h.logger.Error("failed to register artifact", "artifact_id", artifact.ID, "error", err)
			h.respondError(w, http.StatusInternalServerError, "failed to register export artifact")
			return
		}
		run.ArtifactID = artifact.ID
		resp.ArtifactID = artifact.ID
		resp.DownloadURL = "/api/v1/exports/" + artifact.ID
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *Handlers) GetAuthConfig(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.sessions.GetConfig())
}

// AuthConfigRequest carries credentials in; the password is never echoed back.
type AuthConfigRequest struct {
	Enabled    bool   `json:"enabled"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	Persistent bool   `json:"persistent"`
}

func (h *Handlers) PutAuthConfig(w http.ResponseWriter, r *http.Request) {
	var req AuthConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg := models.AuthConfig{
		Enabled:    req.Enabled,
		Email:      req.Email,
		Password:   req.Password,
		Persistent: req.Persistent,
	}
	if err := h.sessions.SetConfig(cfg); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, h.sessions.GetConfig())
}

func (h *Handlers) TestAuth(w http.ResponseWriter, r *http.Request) {
	status, err := h.sessions.Test(r.Context())
	if err != nil {
		if errors.Is(err, session.ErrDisabled) {
			h.respondError(w, http.StatusConflict, "authentication is disabled")
			return
		}
		h.logger.Error("auth test failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "auth test failed")
		return
	}

	h.respondJSON(w, http.StatusOK, status)
}

func (h *Handlers) AuthStatus(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.sessions.Status())
}

func (h *Handlers) ClearAuth(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Clear(); err != nil {
		h.logger.Error("failed to clear auth session", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to clear session")
		return
	}

	h.respondJSON(w, http.StatusOK, h.sessions.Status())
}

func (h *Handlers) ListExports(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.artifacts.List())
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (h *Handlers) DownloadExport(w http.ResponseWriter, r *http.Request) {
	artifact, ok := h.lookupArtifact(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+artifact.Filename+`"`)
	http.ServeFile(w, r, artifact.Path)
}

func (h *Handlers) DownloadExportCSV(w http.ResponseWriter, r *http.Request) {
	artifact, ok := h.lookupArtifact(w, r)
	if !ok {
		return
	}

	csvPath := strings.TrimSuffix(artifact.Path, filepath.Ext(artifact.Path)) + ".csv"
	if _, err := os.Stat(csvPath); err != nil {
		if _, err := h.exporter.FlattenCSV(artifact.Path, csvPath); err != nil {
			h.logger.Error("csv flatten failed", "artifact_id", artifact.ID, "error", err)
			h.respondError(w, http.StatusInternalServerError, "failed to derive csv")
			return
		}
	}

	csvName := strings.TrimSuffix(artifact.Filename, filepath.Ext(artifact.Filename)) + ".csv"
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+csvName+`"`)
	http.ServeFile(w, r, csvPath)
}

func (h *Handlers) lookupArtifact(w http.ResponseWriter, r *http.Request) (*models.Artifact, bool) {
	id := chi.URLParam(r, "artifactID")
	if id == "" {
		h.respondError(w, http.StatusBadRequest, "artifact ID is required")
		return nil, false
	}

	artifact, exists := h.artifacts.Get(id)
	if !exists {
		h.respondError(w, http.StatusNotFound, "artifact not found")
		return nil, false
	}
	if _, err := os.Stat(artifact.Path); err != nil {
		h.logger.Error("artifact file missing", "artifact_id", id, "path", artifact.Path)
		h.respondError(w, http.StatusNotFound, "artifact file missing")
		return nil, false
	}
	return artifact, true
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
