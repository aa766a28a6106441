package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all scanasha configuration.
type Config struct {
	Name string `yaml:"name"`

	// LLM backing the audit engine and the intel scraper
	LLM LLMConfig `yaml:"llm"`

	// Listen addresses and peer URLs of the HTTP services
	Services ServicesConfig `yaml:"services"`

	Scanner   ScannerConfig   `yaml:"scanner"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Store     StoreConfig     `yaml:"store"`
	DevServer DevServerConfig `yaml:"devserver"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LLMConfig configures the chat-completion provider.
type LLMConfig struct {
	Provider          string  `yaml:"provider"` // openai, gemini
	APIKey            string  `yaml:"api_key"`
	Model             string  `yaml:"model"`
	BaseURL           string  `yaml:"base_url"`
	Timeout           string  `yaml:"timeout"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	MaxRetries        int     `yaml:"max_retries"`
}

// ServiceEndpoint is where a service listens and where peers reach it.
type ServiceEndpoint struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	BaseURL string `yaml:"base_url"`
}

// Addr returns host:port for net.Listen.
func (e ServiceEndpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// URL returns the peer URL, derived from the listen address when unset.
func (e ServiceEndpoint) URL() string {
	if e.BaseURL != "" {
		return e.BaseURL
	}
	host := e.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, e.Port)
}

// ServicesConfig groups the four HTTP services.
type ServicesConfig struct {
	Audit    ServiceEndpoint `yaml:"audit"`
	Scraper  ServiceEndpoint `yaml:"scraper"`
	Scanner  ServiceEndpoint `yaml:"scanner"`
	Registry ServiceEndpoint `yaml:"registry"`
}

// ScannerConfig configures the permission scanner.
type ScannerConfig struct {
	// Command runs the static analyzer inside the job directory. It must read
	// contracts.json and write permissions.json. "{base}" expands to BaseDir
	// and "{job}" to the job directory.
	Command         []string          `yaml:"command"`
	BaseDir         string            `yaml:"base_dir"`
	WorkDir         string            `yaml:"work_dir"`
	MaxConcurrent   int               `yaml:"max_concurrent"`
	Timeout         string            `yaml:"timeout"`
	DefaultChain    string            `yaml:"default_chain"`
	ProjectName     string            `yaml:"project_name"`
	EtherscanAPIKey string            `yaml:"etherscan_api_key"`
	RPCURLs         map[string]string `yaml:"rpc_urls"` // chain -> URL, overrides env
	KeepJobs        bool              `yaml:"keep_jobs"`
}

// ScraperConfig configures documentation fetching.
type ScraperConfig struct {
	MaxBytes        int    `yaml:"max_bytes"`
	MaxChars        int    `yaml:"max_chars"`
	FetchTimeout    string `yaml:"fetch_timeout"`
	RenderWithRod   bool   `yaml:"render_with_rod"`
	MinTextChars    int    `yaml:"min_text_chars"` // below this, try the browser
	BrowserBin      string `yaml:"browser_bin"`
	NavigateTimeout string `yaml:"navigate_timeout"`

	// AllowPrivateHosts permits fetching docs from loopback and LAN hosts.
	AllowPrivateHosts bool `yaml:"allow_private_hosts"`
}

// StoreConfig configures the registry database.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
	PageSize     int    `yaml:"page_size"`
}

// DevServerConfig mirrors the HMR plugin options.
type DevServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	HMRTopic       string `yaml:"hmr_topic"`
	RootDir        string `yaml:"root_dir"`
	OutDir         string `yaml:"out_dir"`
	EntryFile      string `yaml:"entry_file"`
	TargetFilePath string `yaml:"target_file_path"`
	ExtensionName  string `yaml:"extension_name"`
	CertFile       string `yaml:"cert_file"`
	KeyFile        string `yaml:"key_file"`
	Debounce       string `yaml:"debounce"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`  // debug, info, warn, error
	Format     string          `yaml:"format"` // json, console
	Dir        string          `yaml:"dir"`    // empty = stderr
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "scanasha",

		LLM: LLMConfig{
			Provider:          "openai",
			Model:             "gpt-4-turbo-preview",
			BaseURL:           "https://api.openai.com/v1",
			Timeout:           "120s",
			RequestsPerSecond: 5,
			MaxRetries:        3,
		},

		Services: ServicesConfig{
			Audit:    ServiceEndpoint{Host: "0.0.0.0", Port: 3001},
			Scraper:  ServiceEndpoint{Host: "0.0.0.0", Port: 3000},
			Scanner:  ServiceEndpoint{Host: "0.0.0.0", Port: 3002},
			Registry: ServiceEndpoint{Host: "0.0.0.0", Port: 7007},
		},

		Scanner: ScannerConfig{
			Command:       []string{"python", "{base}/src/main.py"},
			BaseDir:       "permission-scanner",
			WorkDir:       "data/scans",
			MaxConcurrent: 2,
			Timeout:       "10m",
			DefaultChain:  "mainnet",
			ProjectName:   "scanasha",
		},

		Scraper: ScraperConfig{
			MaxBytes:        2 << 20,
			MaxChars:        50000,
			FetchTimeout:    "60s",
			MinTextChars:    200,
			NavigateTimeout: "30s",
		},

		Store: StoreConfig{
			DatabasePath: "data/scanasha.db",
			PageSize:     100,
		},

		DevServer: DevServerConfig{
			Host:           "localhost",
			Port:           8131,
			HMRTopic:       "hmr-update",
			RootDir:        ".",
			OutDir:         "dist",
			EntryFile:      "index.js",
			TargetFilePath: "components/app-routes/index.tsx",
			Debounce:       "100ms",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
// A missing file yields the defaults. A .env file next to the working
// directory is loaded into the process environment before overrides apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs without overriding variables already set.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// envOverrides lists the variables that may override the YAML file.
type envOverrides struct {
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	GeminiAPIKey    string `env:"GEMINI_API_KEY"`
	LLMModel        string `env:"SCANASHA_LLM_MODEL"`
	LLMBaseURL      string `env:"SCANASHA_LLM_BASE_URL"`
	EtherscanAPIKey string `env:"ETHERSCAN_API_KEY"`
	DatabasePath    string `env:"SCANASHA_DB"`
	LogLevel        string `env:"SCANASHA_LOG_LEVEL"`
	AuditPort       int    `env:"AUDIT_ENGINE_PORT"`
	ScraperPort     int    `env:"INTEL_SCRAPER_PORT"`
	ScannerPort     int    `env:"PERMISSION_SCANNER_PORT"`
	RegistryPort    int    `env:"REGISTRY_PORT"`
	AuditURL        string `env:"AUDIT_ENGINE_URL"`
	ScannerURL      string `env:"PERMISSION_SCANNER_URL"`
}

// applyEnvOverrides applies environment variable overrides.
// OPENAI_API_KEY wins over GEMINI_API_KEY when both are present.
func (c *Config) applyEnvOverrides() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if o.GeminiAPIKey != "" {
		c.LLM.APIKey = o.GeminiAPIKey
		c.LLM.Provider = "gemini"
		if c.LLM.Model == "" || c.LLM.Model == DefaultConfig().LLM.Model {
			c.LLM.Model = "gemini-2.5-flash"
		}
	}
	if o.OpenAIAPIKey != "" {
		c.LLM.APIKey = o.OpenAIAPIKey
		c.LLM.Provider = "openai"
	}
	if o.LLMModel != "" {
		c.LLM.Model = o.LLMModel
	}
	if o.LLMBaseURL != "" {
		c.LLM.BaseURL = o.LLMBaseURL
	}
	if o.EtherscanAPIKey != "" {
		c.Scanner.EtherscanAPIKey = o.EtherscanAPIKey
	}
	if o.DatabasePath != "" {
		c.Store.DatabasePath = o.DatabasePath
	}
	if o.LogLevel != "" {
		c.Logging.Level = o.LogLevel
	}
	if o.AuditPort != 0 {
		c.Services.Audit.Port = o.AuditPort
	}
	if o.ScraperPort != 0 {
		c.Services.Scraper.Port = o.ScraperPort
	}
	if o.ScannerPort != 0 {
		c.Services.Scanner.Port = o.ScannerPort
	}
	if o.RegistryPort != 0 {
		c.Services.Registry.Port = o.RegistryPort
	}
	if o.AuditURL != "" {
		c.Services.Audit.BaseURL = o.AuditURL
	}
	if o.ScannerURL != "" {
		c.Services.Scanner.BaseURL = o.ScannerURL
	}
	return nil
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 120*time.Second)
}

// GetScanTimeout returns the analyzer timeout as a duration.
func (c *Config) GetScanTimeout() time.Duration {
	return parseDuration(c.Scanner.Timeout, 10*time.Minute)
}

// GetFetchTimeout returns the documentation fetch timeout.
func (c *Config) GetFetchTimeout() time.Duration {
	return parseDuration(c.Scraper.FetchTimeout, 60*time.Second)
}

// GetNavigateTimeout returns the headless browser navigation timeout.
func (c *Config) GetNavigateTimeout() time.Duration {
	return parseDuration(c.Scraper.NavigateTimeout, 30*time.Second)
}

// GetDebounce returns the dev server watcher debounce window.
func (c *Config) GetDebounce() time.Duration {
	return parseDuration(c.DevServer.Debounce, 100*time.Millisecond)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"openai", "gemini"}

// ValidateLLM validates the LLM section; only LLM-backed services need it.
func (c *Config) ValidateLLM() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set OPENAI_API_KEY or GEMINI_API_KEY)")
	}

	for _, p := range ValidProviders {
		if c.LLM.Provider == p {
			return nil
		}
	}
	return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
}

// Validate checks values every service depends on.
func (c *Config) Validate() error {
	for name, ep := range map[string]ServiceEndpoint{
		"audit":    c.Services.Audit,
		"scraper":  c.Services.Scraper,
		"scanner":  c.Services.Scanner,
		"registry": c.Services.Registry,
	} {
		if ep.Port <= 0 || ep.Port > 65535 {
			return fmt.Errorf("invalid port for %s service: %d", name, ep.Port)
		}
	}
	if c.Store.PageSize <= 0 || c.Store.PageSize > 100 {
		return fmt.Errorf("store page_size must be in [1,100], got %d", c.Store.PageSize)
	}
	return nil
}
