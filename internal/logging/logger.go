// Package logging provides config-driven categorized logging for scanasha.
// Every service logs through a category (audit, scanner, registry, ...) so that
// output can be filtered per subsystem. Sinks are zap loggers writing either to
// stderr or to one file per category under a configured directory.
// Until Initialize is called every logger is a no-op, which keeps tests quiet.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot      Category = "boot"      // Process startup and config
	CategoryAPI       Category = "api"       // Inbound HTTP requests
	CategoryLLM       Category = "llm"       // Outbound LLM calls
	CategoryAudit     Category = "audit"     // Audit report generation
	CategoryScraper   Category = "scraper"   // Documentation scraping
	CategoryBrowser   Category = "browser"   // Headless page rendering
	CategoryScanner   Category = "scanner"   // Permission scanning and RPC
	CategoryRegistry  Category = "registry"  // Poll/contract registry API
	CategoryStore     Category = "store"     // SQLite persistence
	CategoryDevServer Category = "devserver" // HMR file server and watcher
	CategoryIdentity  Category = "identity"  // DID and Ceramic bootstrap
)

// AllCategories lists every category in display order.
var AllCategories = []Category{
	CategoryBoot, CategoryAPI, CategoryLLM, CategoryAudit, CategoryScraper,
	CategoryBrowser, CategoryScanner, CategoryRegistry, CategoryStore,
	CategoryDevServer, CategoryIdentity,
}

// Options mirrors config.LoggingConfig to avoid an import cycle.
type Options struct {
	Level      string          // debug, info, warn, error
	Format     string          // json or console
	Dir        string          // when set, one file per category
	Categories map[string]bool // explicit enable/disable; missing means enabled
}

// Logger writes entries for a single category.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
	sync     func() error
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	opts      Options
	level     zap.AtomicLevel
	ready     bool
)

// Initialize configures the sinks. It may be called again to reconfigure;
// previously handed out loggers keep their old sink.
func Initialize(o Options) error {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(o.Level)))
	if err != nil || o.Level == "" {
		lvl = zapcore.InfoLevel
	}

	if o.Dir != "" {
		if err := os.MkdirAll(o.Dir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	CloseAll()

	loggersMu.Lock()
	opts = o
	level = zap.NewAtomicLevelAt(lvl)
	ready = true
	loggersMu.Unlock()

	boot := Get(CategoryBoot)
	boot.Debug("logging initialized: level=%s format=%s dir=%q", lvl, formatOf(o), o.Dir)
	return nil
}

// SetLevel changes the level of every sink at runtime.
func SetLevel(l string) error {
	lvl, err := zapcore.ParseLevel(l)
	if err != nil {
		return err
	}
	loggersMu.RLock()
	defer loggersMu.RUnlock()
	if !ready {
		return fmt.Errorf("logging not initialized")
	}
	level.SetLevel(lvl)
	return nil
}

// IsCategoryEnabled checks config for a category. Unlisted categories are enabled.
func IsCategoryEnabled(category Category) bool {
	loggersMu.RLock()
	defer loggersMu.RUnlock()
	if !ready {
		return false
	}
	enabled, ok := opts.Categories[string(category)]
	return !ok || enabled
}

// Get returns (or creates) a logger for the given category.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	if l, ok := loggers[category]; ok {
		return l
	}

	l, err := newLogger(category)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: %v\n", err)
		return &Logger{category: category}
	}
	loggers[category] = l
	return l
}

func newLogger(category Category) (*Logger, error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if formatOf(opts) == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	var ws zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
	closeFn := func() error { return nil }
	if opts.Dir != "" {
		path := filepath.Join(opts.Dir, fmt.Sprintf("%s_%s.log", time.Now().Format("2006-01-02"), category))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("could not open log file %s: %w", path, err)
		}
		ws = zapcore.AddSync(f)
		closeFn = f.Close
	}

	core := zapcore.NewCore(enc, ws, level)
	z := zap.New(core).Named(string(category))
	return &Logger{
		category: category,
		sugar:    z.Sugar(),
		sync: func() error {
			_ = z.Sync()
			return closeFn()
		},
	}, nil
}

func formatOf(o Options) string {
	if strings.EqualFold(o.Format, "json") {
		return "json"
	}
	return "console"
}

// Category returns the category this logger writes to.
func (l *Logger) Category() Category {
	return l.category
}

// Debug logs at debug level
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Info logs at info level
func (l *Logger) Info(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

// Warn logs at warn level
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Warnf(format, args...)
}

// Error logs at error level
func (l *Logger) Error(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

// StructuredLog writes a message with key/value fields.
func (l *Logger) StructuredLog(lvl string, msg string, fields map[string]interface{}) {
	if l.sugar == nil {
		return
	}
	kv := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	switch lvl {
	case "debug":
		l.sugar.Debugw(msg, kv...)
	case "warn":
		l.sugar.Warnw(msg, kv...)
	case "error":
		l.sugar.Errorw(msg, kv...)
	default:
		l.sugar.Infow(msg, kv...)
	}
}

// CloseAll flushes and closes every sink.
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for cat, l := range loggers {
		if l.sync != nil {
			_ = l.sync()
		}
		delete(loggers, cat)
	}
}

// =============================================================================
// Convenience functions
// =============================================================================

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }
func BootWarn(format string, args ...interface{})  { Get(CategoryBoot).Warn(format, args...) }

func API(format string, args ...interface{})      { Get(CategoryAPI).Info(format, args...) }
func APIDebug(format string, args ...interface{}) { Get(CategoryAPI).Debug(format, args...) }

func LLM(format string, args ...interface{})      { Get(CategoryLLM).Info(format, args...) }
func LLMDebug(format string, args ...interface{}) { Get(CategoryLLM).Debug(format, args...) }
func LLMWarn(format string, args ...interface{})  { Get(CategoryLLM).Warn(format, args...) }
func LLMError(format string, args ...interface{}) { Get(CategoryLLM).Error(format, args...) }

func Audit(format string, args ...interface{})      { Get(CategoryAudit).Info(format, args...) }
func AuditDebug(format string, args ...interface{}) { Get(CategoryAudit).Debug(format, args...) }
func AuditWarn(format string, args ...interface{})  { Get(CategoryAudit).Warn(format, args...) }
func AuditError(format string, args ...interface{}) { Get(CategoryAudit).Error(format, args...) }

func Scraper(format string, args ...interface{})      { Get(CategoryScraper).Info(format, args...) }
func ScraperDebug(format string, args ...interface{}) { Get(CategoryScraper).Debug(format, args...) }
func ScraperWarn(format string, args ...interface{})  { Get(CategoryScraper).Warn(format, args...) }

func Browser(format string, args ...interface{})      { Get(CategoryBrowser).Info(format, args...) }
func BrowserDebug(format string, args ...interface{}) { Get(CategoryBrowser).Debug(format, args...) }
func BrowserWarn(format string, args ...interface{})  { Get(CategoryBrowser).Warn(format, args...) }

func Scanner(format string, args ...interface{})      { Get(CategoryScanner).Info(format, args...) }
func ScannerDebug(format string, args ...interface{}) { Get(CategoryScanner).Debug(format, args...) }
func ScannerWarn(format string, args ...interface{})  { Get(CategoryScanner).Warn(format, args...) }
func ScannerError(format string, args ...interface{}) { Get(CategoryScanner).Error(format, args...) }

func Registry(format string, args ...interface{})      { Get(CategoryRegistry).Info(format, args...) }
func RegistryDebug(format string, args ...interface{}) { Get(CategoryRegistry).Debug(format, args...) }
func RegistryWarn(format string, args ...interface{})  { Get(CategoryRegistry).Warn(format, args...) }

func Store(format string, args ...interface{})      { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }

func DevServer(format string, args ...interface{})      { Get(CategoryDevServer).Info(format, args...) }
func DevServerDebug(format string, args ...interface{}) { Get(CategoryDevServer).Debug(format, args...) }
func DevServerWarn(format string, args ...interface{})  { Get(CategoryDevServer).Warn(format, args...) }

func Identity(format string, args ...interface{}) { Get(CategoryIdentity).Info(format, args...) }

// =============================================================================
// Timing
// =============================================================================

// Timer measures the duration of an operation.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
