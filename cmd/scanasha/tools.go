package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"scanasha/internal/audit"
	"scanasha/internal/scanner"
	"scanasha/internal/scraper"
)

var (
	auditDocsURL   string
	auditSourceURL string
	auditRaw       bool

	scanImplName string
	scanChain    string
	scanTimeout  time.Duration
)

var auditCmd = &cobra.Command{
	Use:   "audit <permissions.json>",
	Short: "Generate an audit report from scanner output",
	Long: `Reads the permissions.json written by the permission scanner and asks
the configured LLM for a report and metrics. The report is rendered as
markdown in the terminal; use --raw for the JSON result.`,
	Args: cobra.ExactArgs(1),
	RunE: runAudit,
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape <url>",
	Short: "Extract contract intel from a documentation page",
	Args:  cobra.ExactArgs(1),
	RunE:  runScrape,
}

var scanCmd = &cobra.Command{
	Use:   "scan <contract-name> <address>",
	Short: "Run the permission scanner against a deployed contract",
	Args:  cobra.ExactArgs(2),
	RunE:  runScan,
}

func init() {
	auditCmd.Flags().StringVar(&auditDocsURL, "docs", "", "Documentation URL to cite in the report")
	auditCmd.Flags().StringVar(&auditSourceURL, "source", "", "Source code URL to cite in the report")
	auditCmd.Flags().BoolVar(&auditRaw, "raw", false, "Print the JSON result instead of rendered markdown")

	scanCmd.Flags().StringVar(&scanImplName, "implementation", "", "Implementation contract name for proxies")
	scanCmd.Flags().StringVar(&scanChain, "chain", "", "Network name (default: scanner.default_chain)")
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 0, "Override scanner.timeout")
}

func runAudit(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read scanner output: %w", err)
	}
	client, err := newLLMClient()
	if err != nil {
		return err
	}

	logger.Info("Generating audit", zap.String("file", args[0]), zap.String("model", client.Model()))
	report, err := audit.NewEngine(client).Analyze(ctx, audit.AnalyzeRequest{
		ScannerData: json.RawMessage(data),
		DocsURL:     auditDocsURL,
		SourceURL:   auditSourceURL,
	})
	if err != nil {
		return err
	}

	if auditRaw {
		return printJSON(report)
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	out, err := r.Render(report.AuditMarkdown)
	if err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	fmt.Print(out)
	fmt.Printf("Risk score: %d/10 (%s at %s)\n", report.RiskScore, report.ContractName, report.ContractAddress)
	return nil
}

func runScrape(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if err := scraper.ValidateURL(args[0]); err != nil {
		return err
	}
	client, err := newLLMClient()
	if err != nil {
		return err
	}
	fetcher, shutdown := newFetcher()
	defer shutdown()

	intel, err := scraper.NewExtractor(client, fetcher).Analyze(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(intel)
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if scanTimeout > 0 {
		cfg.Scanner.Timeout = scanTimeout.String()
	}
	req := scanner.ScanRequest{
		ContractName:       args[0],
		ContractAddress:    args[1],
		ImplementationName: scanImplName,
		Chain:              scanChain,
	}
	if err := req.Validate(); err != nil {
		return err
	}

	logger.Info("Scanning contract",
		zap.String("name", req.ContractName),
		zap.String("address", req.ContractAddress))
	perms, err := newScanner().Scan(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(perms)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
