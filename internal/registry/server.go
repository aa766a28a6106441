// Package registry serves the poll and contract-review data the widgets read
// and write, and orchestrates the scan and report steps of an audit.
package registry

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"scanasha/internal/audit"
	"scanasha/internal/httpx"
	"scanasha/internal/logging"
	"scanasha/internal/metrics"
	"scanasha/internal/scanner"
	"scanasha/internal/store"
	"scanasha/internal/validation"
)

// ServiceName labels logs and metrics.
const ServiceName = "registry"

// Server is the registry API.
type Server struct {
	store   *store.Store
	scanner Scanner
	auditor Auditor
	metrics *metrics.Service

	// pollFanout bounds concurrent vote queries in /polls-with-votes.
	pollFanout int
}

// NewServer builds the API over st. scanner and auditor may be nil, in which
// case the scan and report routes answer 503.
func NewServer(st *store.Store, sc Scanner, au Auditor) *Server {
	return &Server{
		store:      st,
		scanner:    sc,
		auditor:    au,
		metrics:    metrics.NewService(ServiceName),
		pollFanout: 8,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.metrics.Mount(r)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/session", s.handleSession).Methods(http.MethodGet)

	r.HandleFunc("/polls", requireSession(s.handleCreatePoll)).Methods(http.MethodPost)
	r.HandleFunc("/polls", s.handleListPolls).Methods(http.MethodGet)
	r.HandleFunc("/polls-with-votes", s.handlePollsWithVotes).Methods(http.MethodGet)
	r.HandleFunc("/polls/{id}", s.handleGetPoll).Methods(http.MethodGet)
	r.HandleFunc("/polls/{id}/votes", requireSession(s.handleVote)).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{did}/polls", s.handleAccountPolls).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{did}/votes", s.handleAccountVotes).Methods(http.MethodGet)

	r.HandleFunc("/contracts", requireSession(s.handleCreateContract)).Methods(http.MethodPost)
	r.HandleFunc("/contracts", s.handleListContracts).Methods(http.MethodGet)
	r.HandleFunc("/contracts/{id}", s.handleGetContract).Methods(http.MethodGet)
	r.HandleFunc("/contracts/{id}", requireSession(s.handleUpdateContract)).Methods(http.MethodPatch)
	r.HandleFunc("/contracts/{id}/audits", s.handleContractAudits).Methods(http.MethodGet)
	r.HandleFunc("/contracts/{id}/scan", requireSession(s.handleScan)).Methods(http.MethodPost)
	r.HandleFunc("/contracts/{id}/report", requireSession(s.handleReport)).Methods(http.MethodPost)

	r.HandleFunc("/audits", requireSession(s.handleCreateAudit)).Methods(http.MethodPost)
	r.HandleFunc("/audits", s.handleListAudits).Methods(http.MethodGet)
	r.HandleFunc("/audits/{id}", s.handleGetAudit).Methods(http.MethodGet)
	r.HandleFunc("/audits/{id}", requireSession(s.handleUpdateAudit)).Methods(http.MethodPatch)
	r.HandleFunc("/accounts/{did}/audits", s.handleAccountAudits).Methods(http.MethodGet)

	return httpx.RecoverPanic(httpx.LogRequests(httpx.CORS(withSession(r))))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		_ = httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": ServiceName})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, SessionFrom(r.Context()))
}

func writeData(w http.ResponseWriter, status int, data any) {
	_ = httpx.WriteJSON(w, status, map[string]any{"data": data})
}

// writeError maps domain errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	var (
		verr    *validation.Errors
		uerr    *UpstreamError
		syntax  *json.SyntaxError
		typeErr *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &verr):
		_ = httpx.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": verr.Error(), "fields": verr.Fields})
	case errors.Is(err, store.ErrNotFound):
		_ = httpx.WriteJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrAlreadyVoted):
		_ = httpx.WriteJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrUnknownOption),
		errors.Is(err, scanner.ErrMissingFields),
		errors.Is(err, scanner.ErrInvalidAddress),
		errors.Is(err, scanner.ErrImplementationNameRequired),
		errors.Is(err, scanner.ErrUnknownNetwork),
		errors.Is(err, audit.ErrMissingScannerData),
		errors.Is(err, audit.ErrInvalidScannerData),
		errors.Is(err, audit.ErrNoAddresses),
		errors.Is(err, audit.ErrNoContracts):
		_ = httpx.WriteJSONError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &uerr):
		status := http.StatusBadGateway
		if uerr.Status >= 400 && uerr.Status < 500 {
			status = http.StatusBadRequest
		}
		_ = httpx.WriteJSONError(w, status, uerr.Message)
	case errors.Is(err, httpx.ErrEmptyBody), errors.As(err, &syntax), errors.As(err, &typeErr):
		_ = httpx.WriteJSONError(w, http.StatusBadRequest, err.Error())
	default:
		logging.Get(logging.CategoryRegistry).Error("request failed: %v", err)
		_ = httpx.WriteJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return store.MaxPageSize
	}
	return n
}
