package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"scanasha/internal/audit"
	"scanasha/internal/scanner"
)

// Scanner produces permission data for a contract. *scanner.Scanner and
// *ScannerClient both satisfy it.
type Scanner interface {
	Scan(ctx context.Context, req scanner.ScanRequest) (json.RawMessage, error)
}

// Auditor turns permission data into a report. *audit.Engine and
// *AuditClient both satisfy it.
type Auditor interface {
	Analyze(ctx context.Context, req audit.AnalyzeRequest) (audit.Report, error)
}

// UpstreamError is a non-2xx answer from a peer service.
type UpstreamError struct {
	Service string
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Service, e.Status, e.Message)
}

// ScannerClient calls the permission scanner over HTTP.
type ScannerClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewScannerClient targets baseURL, e.g. http://localhost:3002.
func NewScannerClient(baseURL string, timeout time.Duration) *ScannerClient {
	return &ScannerClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Scan posts req to /scan and returns the permissions document.
func (c *ScannerClient) Scan(ctx context.Context, req scanner.ScanRequest) (json.RawMessage, error) {
	body, err := postJSON(ctx, c.httpClient, "permission-scanner", c.baseURL+"/scan", req)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("permission-scanner returned invalid JSON")
	}
	return json.RawMessage(body), nil
}

// AuditClient calls the audit engine over HTTP.
type AuditClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAuditClient targets baseURL, e.g. http://localhost:3001.
func NewAuditClient(baseURL string, timeout time.Duration) *AuditClient {
	return &AuditClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Analyze posts req to /analyze and unwraps the report.
func (c *AuditClient) Analyze(ctx context.Context, req audit.AnalyzeRequest) (audit.Report, error) {
	body, err := postJSON(ctx, c.httpClient, "audit-engine", c.baseURL+"/analyze", req)
	if err != nil {
		return audit.Report{}, err
	}
	var envelope struct {
		Success bool         `json:"success"`
		Data    audit.Report `json:"data"`
		Error   string       `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return audit.Report{}, fmt.Errorf("decode audit response: %w", err)
	}
	if !envelope.Success {
		return audit.Report{}, &UpstreamError{Service: "audit-engine", Status: http.StatusOK, Message: envelope.Error}
	}
	return envelope.Data, nil
}

func postJSON(ctx context.Context, client *http.Client, service, url string, payload any) ([]byte, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", service, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", service, err)
	}
	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return nil, &UpstreamError{Service: service, Status: resp.StatusCode, Message: msg}
	}
	return body, nil
}
