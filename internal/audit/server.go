package audit

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"scanasha/internal/httpx"
	"scanasha/internal/metrics"
)

// ServiceName is reported by GET /health.
const ServiceName = "audit-engine"

// Server exposes the engine over HTTP.
type Server struct {
	engine  *Engine
	metrics *metrics.Service
}

// NewServer wires the engine to a router.
func NewServer(engine *Engine) *Server {
	return &Server{engine: engine, metrics: metrics.NewService("audit")}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.metrics.Mount(r)
	r.HandleFunc("/analyze", s.handleAnalyze).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	return httpx.RecoverPanic(httpx.LogRequests(httpx.CORS(r)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	_ = httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": ServiceName})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		if errors.Is(err, httpx.ErrEmptyBody) {
			_ = httpx.WriteJSONError(w, http.StatusBadRequest, ErrMissingScannerData.Error())
			return
		}
		_ = httpx.WriteJSONError(w, http.StatusBadRequest, ErrInvalidScannerData.Error())
		return
	}

	report, err := s.engine.Analyze(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrMissingScannerData):
			_ = httpx.WriteJSONError(w, http.StatusBadRequest, ErrMissingScannerData.Error())
		case errors.Is(err, ErrInvalidScannerData):
			_ = httpx.WriteJSONError(w, http.StatusBadRequest, ErrInvalidScannerData.Error())
		case errors.Is(err, ErrNoAddresses), errors.Is(err, ErrNoContracts):
			_ = httpx.WriteJSONError(w, http.StatusBadRequest, err.Error())
		default:
			s.metrics.ObserveUpstream("llm", err)
			_ = httpx.WriteJSON(w, http.StatusInternalServerError, map[string]any{
				"success": false,
				"error":   err.Error(),
			})
		}
		return
	}

	s.metrics.ObserveUpstream("llm", nil)
	_ = httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "data": report})
}
