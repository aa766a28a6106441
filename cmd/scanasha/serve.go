package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"scanasha/internal/audit"
	"scanasha/internal/browser"
	"scanasha/internal/httpx"
	"scanasha/internal/llm"
	"scanasha/internal/registry"
	"scanasha/internal/scanner"
	"scanasha/internal/scraper"
	"scanasha/internal/store"
)

var serveCmd = &cobra.Command{
	Use:       "serve [audit|scraper|scanner|registry]",
	Short:     "Run one of the HTTP services",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"audit", "scraper", "scanner", "registry"},
	RunE:      runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	name := args[0]
	logger.Info("Starting service", zap.String("service", name))

	switch name {
	case "audit":
		client, err := newLLMClient()
		if err != nil {
			return err
		}
		srv := audit.NewServer(audit.NewEngine(client))
		return httpx.Serve(ctx, audit.ServiceName, cfg.Services.Audit.Addr(), srv.Handler())

	case "scraper":
		client, err := newLLMClient()
		if err != nil {
			return err
		}
		fetcher, shutdown := newFetcher()
		defer shutdown()
		srv := scraper.NewServer(scraper.NewExtractor(client, fetcher))
		return httpx.Serve(ctx, "intel-scraper", cfg.Services.Scraper.Addr(), srv.Handler())

	case "scanner":
		srv := scanner.NewServer(newScanner())
		return httpx.Serve(ctx, "permission-scanner", cfg.Services.Scanner.Addr(), srv.Handler())

	case "registry":
		st, err := store.Open(cfg.Store.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()
		sc := registry.NewScannerClient(cfg.Services.Scanner.URL(), cfg.GetScanTimeout())
		au := registry.NewAuditClient(cfg.Services.Audit.URL(), cfg.GetLLMTimeout())
		srv := registry.NewServer(st, sc, au)
		return httpx.Serve(ctx, registry.ServiceName, cfg.Services.Registry.Addr(), srv.Handler())
	}
	return fmt.Errorf("unknown service %q (valid: %s)", name, strings.Join(cmd.ValidArgs, ", "))
}

func newLLMClient() (llm.Client, error) {
	if err := cfg.ValidateLLM(); err != nil {
		return nil, err
	}
	return llm.NewClient(cfg)
}

func newScanner() *scanner.Scanner {
	return scanner.New(scanner.Options{
		Command:       cfg.Scanner.Command,
		BaseDir:       cfg.Scanner.BaseDir,
		WorkDir:       cfg.Scanner.WorkDir,
		Timeout:       cfg.GetScanTimeout(),
		MaxConcurrent: cfg.Scanner.MaxConcurrent,
		DefaultChain:  cfg.Scanner.DefaultChain,
		ProjectName:   cfg.Scanner.ProjectName,
		EtherscanKey:  cfg.Scanner.EtherscanAPIKey,
		RPCURLs:       cfg.Scanner.RPCURLs,
		KeepJobs:      cfg.Scanner.KeepJobs,
	})
}

// newFetcher builds the documentation fetcher. The headless browser is only
// attached when enabled; the returned func stops it.
func newFetcher() (*scraper.Fetcher, func()) {
	opts := scraper.FetchOptions{
		MaxBytes:     cfg.Scraper.MaxBytes,
		MaxChars:     cfg.Scraper.MaxChars,
		Timeout:      cfg.GetFetchTimeout(),
		MinTextChars: cfg.Scraper.MinTextChars,

		AllowPrivateHosts: cfg.Scraper.AllowPrivateHosts,
	}
	if !cfg.Scraper.RenderWithRod {
		return scraper.NewFetcher(opts, nil), func() {}
	}

	r := browser.NewRenderer(browser.Config{
		Bin:               cfg.Scraper.BrowserBin,
		NavigationTimeout: cfg.GetNavigateTimeout(),
	})
	return scraper.NewFetcher(opts, r), func() {
		if err := r.Shutdown(); err != nil {
			logger.Warn("Browser shutdown failed", zap.Error(err))
		}
	}
}
