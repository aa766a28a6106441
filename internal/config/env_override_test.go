package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearLLMEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"OPENAI_API_KEY", "GEMINI_API_KEY", "SCANASHA_LLM_MODEL", "SCANASHA_LLM_BASE_URL"} {
		t.Setenv(k, "")
	}
}

func TestEnvOverrides_LLM(t *testing.T) {
	t.Run("OPENAI_API_KEY selects openai", func(t *testing.T) {
		clearLLMEnv(t)
		t.Setenv("OPENAI_API_KEY", "oa-key")

		cfg := DefaultConfig()
		require.NoError(t, cfg.applyEnvOverrides())

		assert.Equal(t, "oa-key", cfg.LLM.APIKey)
		assert.Equal(t, "openai", cfg.LLM.Provider)
		assert.Equal(t, "gpt-4-turbo-preview", cfg.LLM.Model)
	})

	t.Run("GEMINI_API_KEY selects gemini and swaps default model", func(t *testing.T) {
		clearLLMEnv(t)
		t.Setenv("GEMINI_API_KEY", "gem")

		cfg := DefaultConfig()
		require.NoError(t, cfg.applyEnvOverrides())

		assert.Equal(t, "gem", cfg.LLM.APIKey)
		assert.Equal(t, "gemini", cfg.LLM.Provider)
		assert.Equal(t, "gemini-2.5-flash", cfg.LLM.Model)
	})

	t.Run("Precedence: OPENAI overrides GEMINI", func(t *testing.T) {
		clearLLMEnv(t)
		t.Setenv("GEMINI_API_KEY", "gem")
		t.Setenv("OPENAI_API_KEY", "oa")

		cfg := &Config{}
		require.NoError(t, cfg.applyEnvOverrides())

		assert.Equal(t, "oa", cfg.LLM.APIKey)
		assert.Equal(t, "openai", cfg.LLM.Provider)
	})

	t.Run("explicit model wins", func(t *testing.T) {
		clearLLMEnv(t)
		t.Setenv("OPENAI_API_KEY", "oa")
		t.Setenv("SCANASHA_LLM_MODEL", "gpt-4o")

		cfg := DefaultConfig()
		require.NoError(t, cfg.applyEnvOverrides())
		assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	})
}

func TestEnvOverrides_Services(t *testing.T) {
	t.Setenv("ETHERSCAN_API_KEY", "ether")
	t.Setenv("SCANASHA_DB", "/tmp/x.db")
	t.Setenv("AUDIT_ENGINE_PORT", "4001")
	t.Setenv("PERMISSION_SCANNER_URL", "http://scanner:3002")

	cfg := DefaultConfig()
	require.NoError(t, cfg.applyEnvOverrides())

	assert.Equal(t, "ether", cfg.Scanner.EtherscanAPIKey)
	assert.Equal(t, "/tmp/x.db", cfg.Store.DatabasePath)
	assert.Equal(t, 4001, cfg.Services.Audit.Port)
	assert.Equal(t, "http://scanner:3002", cfg.Services.Scanner.URL())
}

func TestEnvOverrides_BadPort(t *testing.T) {
	t.Setenv("AUDIT_ENGINE_PORT", "not-a-number")

	cfg := DefaultConfig()
	assert.Error(t, cfg.applyEnvOverrides())
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	clearLLMEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Services, cfg.Services)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAMLAndSaveRoundTrip(t *testing.T) {
	clearLLMEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "scanasha.yaml")

	cfg := DefaultConfig()
	cfg.Services.Registry.Port = 9000
	cfg.Scanner.RPCURLs = map[string]string{"mainnet": "http://rpc"}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, loaded.Services.Registry.Port)
	assert.Equal(t, "http://rpc", loaded.Scanner.RPCURLs["mainnet"])
}

func TestLoad_PrivateHostsOffByDefault(t *testing.T) {
	clearLLMEnv(t)
	assert.False(t, DefaultConfig().Scraper.AllowPrivateHosts)

	path := filepath.Join(t.TempDir(), "dev.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scraper:\n  allow_private_hosts: true\n"), 0644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Scraper.AllowPrivateHosts)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm: [unclosed"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Services.Scanner.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Store.PageSize = 500
	assert.Error(t, cfg.Validate())
}

func TestValidateLLM(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.ValidateLLM())

	cfg.LLM.APIKey = "k"
	assert.NoError(t, cfg.ValidateLLM())

	cfg.LLM.Provider = "zai"
	assert.Error(t, cfg.ValidateLLM())
}

func TestServiceEndpointURL(t *testing.T) {
	assert.Equal(t, "http://localhost:3001", ServiceEndpoint{Host: "0.0.0.0", Port: 3001}.URL())
	assert.Equal(t, "http://audit:1", ServiceEndpoint{Host: "0.0.0.0", Port: 3001, BaseURL: "http://audit:1"}.URL())
	assert.Equal(t, "127.0.0.1:80", ServiceEndpoint{Host: "127.0.0.1", Port: 80}.Addr())
}

func TestDurationGetters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Timeout = "garbage"
	assert.Equal(t, "2m0s", cfg.GetLLMTimeout().String())
	assert.Equal(t, "10m0s", cfg.GetScanTimeout().String())
	assert.Equal(t, "100ms", cfg.GetDebounce().String())
}
