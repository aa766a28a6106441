package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"scanasha/internal/logging"
)

const (
	jobFileName         = "contracts.json"
	permissionsFileName = "permissions.json"
)

// ErrNoPermissionsFile means the analyzer exited cleanly without output.
var ErrNoPermissionsFile = errors.New("Failed to generate permissions.json")

// AnalyzerError wraps a failed analyzer run with its captured output.
type AnalyzerError struct {
	Err      error
	ExitCode int
	Output   string
}

func (e *AnalyzerError) Error() string {
	msg := e.Err.Error()
	if out := strings.TrimSpace(e.Output); out != "" {
		lines := strings.Split(out, "\n")
		msg += ": " + lines[len(lines)-1]
	}
	return msg
}

func (e *AnalyzerError) Unwrap() error { return e.Err }

// Options configure a Scanner; zero values take defaults.
type Options struct {
	Command        []string
	BaseDir        string
	WorkDir        string
	Timeout        time.Duration
	MaxConcurrent  int
	DefaultChain   string
	ProjectName    string
	EtherscanKey   string
	RPCURLs        map[string]string
	KeepJobs       bool
	MaxOutputBytes int64
	Lookup         LookupFunc
	// NewRPC builds the storage reader used for proxy detection.
	NewRPC func(url string) StorageReader
}

// Scanner runs one analyzer process per request in an isolated directory.
type Scanner struct {
	opts Options
	sem  *semaphore.Weighted
}

// New creates a scanner.
func New(opts Options) *Scanner {
	if len(opts.Command) == 0 {
		opts.Command = []string{"python", "{base}/src/main.py"}
	}
	if opts.BaseDir == "" {
		opts.BaseDir = "."
	}
	if abs, err := filepath.Abs(opts.BaseDir); err == nil {
		opts.BaseDir = abs
	}
	if opts.WorkDir == "" {
		opts.WorkDir = filepath.Join(os.TempDir(), "scanasha-scans")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.DefaultChain == "" {
		opts.DefaultChain = "mainnet"
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = 1 << 20
	}
	if opts.Lookup == nil {
		opts.Lookup = os.LookupEnv
	}
	if opts.NewRPC == nil {
		opts.NewRPC = func(url string) StorageReader { return NewRPCClient(url) }
	}
	return &Scanner{opts: opts, sem: semaphore.NewWeighted(int64(opts.MaxConcurrent))}
}

// BaseDir returns the absolute analyzer directory.
func (s *Scanner) BaseDir() string { return s.opts.BaseDir }

// Scan validates req, checks for an undeclared proxy, runs the analyzer and
// returns the permissions.json it wrote.
func (s *Scanner) Scan(ctx context.Context, req ScanRequest) (json.RawMessage, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Chain == "" {
		req.Chain = s.opts.DefaultChain
	}

	rpcURL, err := RPCURL(req.Chain, s.opts.RPCURLs, s.opts.Lookup)
	if err != nil {
		return nil, err
	}
	etherscanKey, err := EtherscanKey(s.opts.EtherscanKey, s.opts.Lookup)
	if err != nil {
		return nil, err
	}

	if req.ImplementationName == "" {
		if err := s.checkNotProxy(ctx, rpcURL, req); err != nil {
			return nil, err
		}
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	jobDir := filepath.Join(s.opts.WorkDir, uuid.NewString())
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return nil, fmt.Errorf("create job dir: %w", err)
	}
	if !s.opts.KeepJobs {
		defer os.RemoveAll(jobDir)
	}

	job, err := json.MarshalIndent(NewJobFile(req, s.opts.ProjectName), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	if err := os.WriteFile(filepath.Join(jobDir, jobFileName), job, 0644); err != nil {
		return nil, fmt.Errorf("write %s: %w", jobFileName, err)
	}

	logging.Scanner("scanning %s at %s on %s (job %s)", req.ContractName, req.ContractAddress, req.Chain, filepath.Base(jobDir))
	timer := logging.StartTimer(logging.CategoryScanner, "Scan "+req.ContractName)
	defer timer.StopWithThreshold(2 * time.Minute)

	env := []string{
		Chains[req.Chain] + "=" + rpcURL,
		"ETHERSCAN_API_KEY=" + etherscanKey,
	}
	if err := s.run(ctx, jobDir, env); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(jobDir, permissionsFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoPermissionsFile
		}
		return nil, fmt.Errorf("read %s: %w", permissionsFileName, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s is not valid JSON", permissionsFileName)
	}
	return json.RawMessage(data), nil
}

// checkNotProxy fails when the contract is a proxy and no implementation
// name was supplied. RPC failures are logged and left to the analyzer.
func (s *Scanner) checkNotProxy(ctx context.Context, rpcURL string, req ScanRequest) error {
	if IsProxyName(req.ContractName) {
		return fmt.Errorf("%w: %s", ErrImplementationNameRequired, req.ContractAddress)
	}
	impl, err := ImplementationAddress(ctx, s.opts.NewRPC(rpcURL), req.ContractAddress)
	if err != nil {
		logging.ScannerWarn("proxy detection for %s failed: %v", req.ContractAddress, err)
		return nil
	}
	if impl != "" {
		logging.ScannerDebug("%s is a proxy for %s", req.ContractAddress, impl)
		return fmt.Errorf("%w: %s delegates to %s", ErrImplementationNameRequired, req.ContractAddress, impl)
	}
	return nil
}

func (s *Scanner) expand(arg, jobDir string) string {
	arg = strings.ReplaceAll(arg, "{base}", s.opts.BaseDir)
	return strings.ReplaceAll(arg, "{job}", jobDir)
}

func (s *Scanner) run(ctx context.Context, jobDir string, extraEnv []string) error {
	execCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	args := make([]string, len(s.opts.Command))
	for i, a := range s.opts.Command {
		args[i] = s.expand(a, jobDir)
	}

	cmd := exec.CommandContext(execCtx, args[0], args[1:]...)
	cmd.Dir = jobDir
	cmd.Env = append(os.Environ(), extraEnv...)

	var out bytes.Buffer
	lw := &limitedWriter{w: &out, max: s.opts.MaxOutputBytes}
	cmd.Stdout = lw
	cmd.Stderr = lw

	logging.ScannerDebug("running %v in %s", args, jobDir)
	err := cmd.Run()
	if lw.truncated {
		logging.ScannerWarn("analyzer output truncated: %d bytes discarded", lw.discarded)
	}
	if err == nil {
		return nil
	}

	aerr := &AnalyzerError{Err: err, ExitCode: -1, Output: out.String()}
	var exitErr *exec.ExitError
	switch {
	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		aerr.Err = fmt.Errorf("analyzer killed after %s", s.opts.Timeout)
	case errors.As(err, &exitErr):
		aerr.ExitCode = exitErr.ExitCode()
		aerr.Err = fmt.Errorf("analyzer exited with status %d", aerr.ExitCode)
	}
	logging.ScannerError("analyzer failed: %v", aerr)
	return aerr
}

// limitedWriter caps captured analyzer output.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
	discarded int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.written >= lw.max {
		lw.truncated = true
		lw.discarded += int64(n)
		return n, nil
	}
	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		lw.discarded += int64(n) - remaining
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err
	}
	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
