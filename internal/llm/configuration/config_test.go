package configuration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultHTTPTimeoutSeconds*time.Second, cfg.HTTPTimeout)
	assert.Contains(t, cfg.Providers, ProviderAzureOpenAI)
	assert.Equal(t, DefaultMaxAttempts, cfg.Retry.MaxAttempts)
	assert.True(t, cfg.Retry.UseJitter)
	assert.True(t, cfg.CircuitBreaker.Enabled)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.False(t, cfg.Cache.Enabled)
	assert.True(t, cfg.Observability.RedactPrompts)
	assert.Empty(t, cfg.Recording.Mode)
	require.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
providers:
  azure_openai:
    endpoint: https://example.openai.azure.com
    api_version: 2024-02-01
retry:
  max_attempts: 5
  multiplier: 1.5
recording:
  mode: replay
  file: testdata/node_cache.json
observability:
  log_level: debug
  log_format: text
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	p := cfg.Providers[ProviderAzureOpenAI]
	assert.Equal(t, "https://example.openai.azure.com", p.Endpoint)
	assert.Equal(t, "2024-02-01", p.APIVersion)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.InDelta(t, 1.5, cfg.Retry.Multiplier, 1e-9)
	// Fields absent from the file keep their defaults.
	assert.Equal(t, DefaultInitialInterval, cfg.Retry.InitialInterval)
	assert.Equal(t, "replay", cfg.Recording.Mode)
	assert.Equal(t, "testdata/node_cache.json", cfg.Recording.File)
	require.NoError(t, cfg.Validate())
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retry: [unclosed"), 0o600))
	_, err = LoadFile(path)
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvAzureOpenAIEndpoint: "https://aoai.example.com/",
		EnvAzureOpenAIKey:      "secret",
		EnvRecordingMode:       " Record ",
		EnvRedisAddr:           "localhost:6379",
		EnvLogLevel:            "WARN",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig().applyEnv(lookup)

	p := cfg.Providers[ProviderAzureOpenAI]
	assert.Equal(t, "https://aoai.example.com", p.Endpoint)
	assert.Equal(t, "secret", p.APIKey)
	assert.Equal(t, "record", cfg.Recording.Mode)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, "warn", cfg.Observability.LogLevel)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{
			name:    "zero attempts",
			mutate:  func(c *Config) { c.Retry.MaxAttempts = 0 },
			wantErr: true,
		},
		{
			name:    "unknown recording mode",
			mutate:  func(c *Config) { c.Recording.Mode = "rewind"; c.Recording.File = "x.json" },
			wantErr: true,
		},
		{
			name:    "recording mode without file",
			mutate:  func(c *Config) { c.Recording.Mode = "replay" },
			wantErr: true,
		},
		{
			name:    "cache enabled without redis",
			mutate:  func(c *Config) { c.Cache.Enabled = true },
			wantErr: true,
		},
		{
			name: "cosmos without database",
			mutate: func(c *Config) {
				c.TraceStore.CosmosEndpoint = "https://acct.documents.azure.com"
			},
			wantErr: true,
		},
		{
			name:    "bad provider endpoint",
			mutate:  func(c *Config) { c.Providers[ProviderAzureOpenAI] = ProviderConfig{Endpoint: "not a url"} },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestTraceStoreEnabled(t *testing.T) {
	ts := TraceStoreConfig{CosmosEndpoint: "https://a", BlobServiceURL: "https://b"}
	assert.True(t, ts.Enabled())
	ts.BlobServiceURL = ""
	assert.False(t, ts.Enabled())
}
