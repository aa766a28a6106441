package scanner

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"scanasha/internal/httpx"
	"scanasha/internal/metrics"
)

// Server exposes the scanner over HTTP.
type Server struct {
	scanner *Scanner
	metrics *metrics.Service
}

// NewServer wires the scanner to a router.
func NewServer(s *Scanner) *Server {
	return &Server{scanner: s, metrics: metrics.NewService("scanner")}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.metrics.Mount(r)
	r.HandleFunc("/scan", s.handleScan).Methods(http.MethodPost)
	r.HandleFunc("/chains", s.handleChains).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	return httpx.RecoverPanic(httpx.LogRequests(httpx.CORS(r)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	_ = httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy", "base_dir": s.scanner.BaseDir()})
}

func (s *Server) handleChains(w http.ResponseWriter, _ *http.Request) {
	_ = httpx.WriteJSON(w, http.StatusOK, map[string]any{"chains": ChainNames()})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		_ = httpx.WriteJSONError(w, http.StatusBadRequest, ErrMissingFields.Error())
		return
	}

	permissions, err := s.scanner.Scan(r.Context(), req)
	if err != nil {
		var aerr *AnalyzerError
		switch {
		case errors.Is(err, ErrMissingFields),
			errors.Is(err, ErrInvalidAddress),
			errors.Is(err, ErrImplementationNameRequired),
			errors.Is(err, ErrUnknownNetwork):
			_ = httpx.WriteJSONError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &aerr):
			s.metrics.ObserveUpstream("analyzer", err)
			_ = httpx.WriteJSONError(w, http.StatusInternalServerError, "Error running permission scanner: "+err.Error())
		case errors.Is(err, ErrNoPermissionsFile):
			s.metrics.ObserveUpstream("analyzer", err)
			_ = httpx.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		default:
			_ = httpx.WriteJSONError(w, http.StatusInternalServerError, "Unexpected error: "+err.Error())
		}
		return
	}

	s.metrics.ObserveUpstream("analyzer", nil)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(permissions)
}
