package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"scanasha/internal/audit"
	"scanasha/internal/contracts"
	"scanasha/internal/httpx"
	"scanasha/internal/logging"
	"scanasha/internal/scanner"
	"scanasha/internal/store"
)

// contractDetail is a contract with its latest audit and step state.
type contractDetail struct {
	contracts.Contract
	LatestAudit *contracts.Audit `json:"latestAudit"`
	State       contracts.State  `json:"state"`
}

func (s *Server) handleCreateContract(w http.ResponseWriter, r *http.Request) {
	var draft contracts.Draft
	if err := httpx.DecodeJSON(r, &draft); err != nil {
		writeError(w, err)
		return
	}
	if err := contracts.ValidateDraft(draft); err != nil {
		writeError(w, err)
		return
	}
	address, err := contracts.ChecksumAddress(draft.Address)
	if err != nil {
		writeError(w, err)
		return
	}

	c, err := s.store.CreateContract(r.Context(), contracts.Contract{
		ContractName: draft.ContractName,
		Description:  draft.Description,
		Address:      address,
		Chain:        draft.Chain,
		Author:       SessionFrom(r.Context()).DID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	logging.Registry("contract %s (%s) submitted by %s", c.ID, c.Address, c.Author)
	writeData(w, http.StatusCreated, c)
}

func (s *Server) handleListContracts(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListContracts(r.Context(), limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, list)
}

func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetContract(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	detail := contractDetail{Contract: c}
	latest, err := s.store.LatestAudit(r.Context(), c.ID)
	switch {
	case err == nil:
		detail.LatestAudit = &latest
	case !errors.Is(err, store.ErrNotFound):
		writeError(w, err)
		return
	}
	detail.State = contracts.AuditState(c, detail.LatestAudit)
	writeData(w, http.StatusOK, detail)
}

func (s *Server) handleUpdateContract(w http.ResponseWriter, r *http.Request) {
	var patch contracts.ContractPatch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	if err := patch.Validate(); err != nil {
		writeError(w, err)
		return
	}
	if patch.Address != nil {
		address, err := contracts.ChecksumAddress(*patch.Address)
		if err != nil {
			writeError(w, err)
			return
		}
		patch.Address = &address
	}
	c, err := s.store.UpdateContract(r.Context(), mux.Vars(r)["id"], patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, c)
}

func (s *Server) handleContractAudits(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListAuditsByContract(r.Context(), mux.Vars(r)["id"], limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, list)
}

type createAuditRequest struct {
	ContractID     string           `json:"contractID"`
	PermissionData string           `json:"permissionData"`
	AuditMarkdown  string           `json:"auditMarkdown"`
	Score          int              `json:"score"`
	Metrics        json.RawMessage  `json:"metrics"`
	Status         contracts.Status `json:"status"`
}

func (s *Server) handleCreateAudit(w http.ResponseWriter, r *http.Request) {
	var req createAuditRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	patch := contracts.AuditPatch{Score: &req.Score}
	if req.Status != "" {
		patch.Status = &req.Status
	}
	if err := patch.Validate(); err != nil {
		writeError(w, err)
		return
	}
	a, err := s.store.CreateAudit(r.Context(), contracts.Audit{
		ContractID:     req.ContractID,
		PermissionData: req.PermissionData,
		AuditMarkdown:  req.AuditMarkdown,
		Score:          req.Score,
		Metrics:        req.Metrics,
		Status:         req.Status,
		Author:         SessionFrom(r.Context()).DID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, a)
}

func (s *Server) handleListAudits(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListAudits(r.Context(), limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, list)
}

func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.GetAudit(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, a)
}

func (s *Server) handleUpdateAudit(w http.ResponseWriter, r *http.Request) {
	var patch contracts.AuditPatch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	if err := patch.Validate(); err != nil {
		writeError(w, err)
		return
	}
	a, err := s.store.UpdateAudit(r.Context(), mux.Vars(r)["id"], patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, a)
}

func (s *Server) handleAccountAudits(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListAuditsByAuthor(r.Context(), mux.Vars(r)["did"], limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, list)
}

type scanRequest struct {
	ImplementationName string `json:"implementationName"`
}

// handleScan runs the permission scanner for a stored contract and keeps its
// output on the contract.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if s.scanner == nil {
		_ = httpx.WriteJSONError(w, http.StatusServiceUnavailable, "Permission scanner is not configured")
		return
	}
	var req scanRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		writeError(w, err)
		return
	}

	c, err := s.store.GetContract(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if contracts.AuditState(c, nil).HasPermissionData {
		logging.Registry("rescanning contract %s, permission data will be replaced", c.ID)
	}

	permissions, err := s.scanner.Scan(r.Context(), scanner.ScanRequest{
		ContractName:       c.ContractName,
		ContractAddress:    c.Address,
		ImplementationName: req.ImplementationName,
		Chain:              c.Chain,
	})
	s.metrics.ObserveUpstream("scanner", err)
	if err != nil {
		logging.RegistryWarn("scan of contract %s failed: %v", c.ID, err)
		writeError(w, err)
		return
	}

	data := string(permissions)
	status := contracts.StatusInProgress
	updated, err := s.store.UpdateContract(r.Context(), c.ID, contracts.ContractPatch{
		PermissionData: &data,
		Status:         &status,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	logging.Registry("contract %s scanned", c.ID)
	writeData(w, http.StatusOK, updated)
}

type reportRequest struct {
	DocsURL   string `json:"docsUrl"`
	SourceURL string `json:"sourceUrl"`
}

type reportResponse struct {
	Contract contracts.Contract `json:"contract"`
	Audit    contracts.Audit    `json:"audit"`
	Report   audit.Report       `json:"report"`
}

// handleReport asks the audit engine for a report on the stored permission
// data, records it as a new audit and completes the contract.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.auditor == nil {
		_ = httpx.WriteJSONError(w, http.StatusServiceUnavailable, "Audit engine is not configured")
		return
	}
	var req reportRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		writeError(w, err)
		return
	}

	c, err := s.store.GetContract(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	state := contracts.AuditState(c, nil)
	if !state.CanGenerateReport() {
		_ = httpx.WriteJSONError(w, http.StatusConflict, "Run the permission scan before generating a report")
		return
	}
	if state.FullyAudited() {
		logging.Registry("contract %s already audited, recording a new report", c.ID)
	}

	report, err := s.auditor.Analyze(r.Context(), audit.AnalyzeRequest{
		ScannerData: json.RawMessage(c.PermissionData),
		DocsURL:     req.DocsURL,
		SourceURL:   req.SourceURL,
	})
	s.metrics.ObserveUpstream("audit", err)
	if err != nil {
		logging.RegistryWarn("report for contract %s failed: %v", c.ID, err)
		writeError(w, err)
		return
	}

	metrics, err := json.Marshal(report.Metrics)
	if err != nil {
		writeError(w, fmt.Errorf("marshal metrics: %w", err))
		return
	}
	a, err := s.store.CreateAudit(r.Context(), contracts.Audit{
		ContractID:     c.ID,
		PermissionData: c.PermissionData,
		AuditMarkdown:  report.AuditMarkdown,
		Score:          report.RiskScore,
		Metrics:        metrics,
		Status:         contracts.StatusCompleted,
		Author:         SessionFrom(r.Context()).DID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	status := contracts.StatusCompleted
	updated, err := s.store.UpdateContract(r.Context(), c.ID, contracts.ContractPatch{
		AuditMarkdown: &report.AuditMarkdown,
		Score:         &report.RiskScore,
		Metrics:       metrics,
		Status:        &status,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	logging.Registry("contract %s audited, risk %d/10", c.ID, report.RiskScore)
	writeData(w, http.StatusOK, reportResponse{Contract: updated, Audit: a, Report: report})
}
