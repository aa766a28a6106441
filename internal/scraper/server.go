package scraper

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"scanasha/internal/httpx"
	"scanasha/internal/logging"
	"scanasha/internal/metrics"
)

// Server exposes the extractor over HTTP.
type Server struct {
	extractor *Extractor
	metrics   *metrics.Service
}

// NewServer wires the extractor to a router.
func NewServer(extractor *Extractor) *Server {
	return &Server{extractor: extractor, metrics: metrics.NewService("scraper")}
}

type analyzeRequest struct {
	DocumentationURL string `json:"documentationUrl"`
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.metrics.Mount(r)
	r.HandleFunc("/api/analyze", s.handleAnalyze).Methods(http.MethodPost)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		_ = httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "intel-scraper"})
	}).Methods(http.MethodGet)
	return httpx.RecoverPanic(httpx.LogRequests(httpx.CORS(r)))
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		_ = httpx.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.DocumentationURL == "" {
		_ = httpx.WriteJSONError(w, http.StatusBadRequest, ErrDocumentationURLRequired.Error())
		return
	}
	if err := ValidateURL(req.DocumentationURL); err != nil {
		_ = httpx.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	intel, err := s.extractor.Analyze(r.Context(), req.DocumentationURL)
	s.metrics.ObserveUpstream("llm", err)
	if err != nil {
		logging.Get(logging.CategoryScraper).Error("scraping error for %s: %v", req.DocumentationURL, err)
		_ = httpx.WriteJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "Failed to analyze documentation",
		})
		return
	}

	_ = httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "data": intel})
}
