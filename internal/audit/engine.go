package audit

import (
	"context"
	"encoding/json"

	"golang.org/x/sync/errgroup"

	"scanasha/internal/llm"
	"scanasha/internal/logging"
)

// AnalyzeRequest is the body of POST /analyze.
type AnalyzeRequest struct {
	ScannerData json.RawMessage `json:"scannerData"`
	DocsURL     string          `json:"docsUrl,omitempty"`
	SourceURL   string          `json:"sourceUrl,omitempty"`
}

// Report is the audit result returned to callers.
type Report struct {
	AuditMarkdown   string  `json:"auditMarkdown"`
	ContractName    string  `json:"contractName"`
	ContractAddress string  `json:"contractAddress"`
	RiskScore       int     `json:"riskScore"`
	Metrics         Metrics `json:"metrics"`
}

// Engine generates reports with an LLM.
type Engine struct {
	client llm.Client
}

// NewEngine creates an engine backed by client.
func NewEngine(client llm.Client) *Engine {
	return &Engine{client: client}
}

// Analyze audits the first contract at the first address of the scanner data.
// The report completion must succeed; a failed metrics completion falls back
// to DefaultMetrics.
func (e *Engine) Analyze(ctx context.Context, req AnalyzeRequest) (Report, error) {
	data, err := ParseScannerData(req.ScannerData)
	if err != nil {
		return Report{}, err
	}
	address, contract, err := data.Target()
	if err != nil {
		return Report{}, err
	}

	timer := logging.StartTimer(logging.CategoryAudit, "Analyze "+contract.ContractName)
	defer timer.Stop()

	riskScore := RiskScore(contract)
	logging.Audit("analyzing %s at %s: %d functions, risk score %d/10",
		contract.ContractName, address, len(contract.Functions), riskScore)

	userContent, err := buildUserContent(address, contract, req.DocsURL, req.SourceURL, riskScore)
	if err != nil {
		return Report{}, err
	}

	var (
		markdown string
		metrics  = DefaultMetrics()
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := e.client.CompleteWithSystem(gctx, reportSystemPrompt, userContent)
		if err != nil {
			logging.AuditError("generate audit report: %v", err)
			return err
		}
		markdown = out
		return nil
	})
	g.Go(func() error {
		out, err := e.client.CompleteJSON(gctx, metricsSystemPrompt, userContent)
		if err != nil {
			logging.AuditWarn("metrics completion failed, using defaults: %v", err)
			return nil
		}
		metrics = ParseMetrics(out)
		logging.AuditDebug("extracted metrics: %+v", metrics)
		return nil
	})
	if err := g.Wait(); err != nil {
		logging.AuditError("audit of %s failed", contract.ContractName)
		return Report{}, err
	}

	return Report{
		AuditMarkdown:   markdown,
		ContractName:    contract.ContractName,
		ContractAddress: address,
		RiskScore:       riskScore,
		Metrics:         metrics,
	}, nil
}
