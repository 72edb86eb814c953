package configuration

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables read by ApplyEnv.
const (
	EnvAzureOpenAIEndpoint = "AZURE_OPENAI_ENDPOINT"
	EnvAzureOpenAIKey      = "AZURE_OPENAI_KEY"
	EnvRecordingMode       = "PF_RECORDING_MODE"
	EnvRedisAddr           = "REDIS_ADDR"
	EnvLogLevel            = "LOG_LEVEL"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// LoadFile decodes a YAML file over DefaultConfig.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables on the configuration. Unset
// variables leave the existing values alone.
func (c *Config) ApplyEnv() *Config {
	return c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) *Config {
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	p := c.Providers[ProviderAzureOpenAI]
	if v, ok := lookup(EnvAzureOpenAIEndpoint); ok && v != "" {
		p.Endpoint = strings.TrimRight(v, "/")
	}
	if v, ok := lookup(EnvAzureOpenAIKey); ok && v != "" {
		p.APIKey = v
	}
	c.Providers[ProviderAzureOpenAI] = p

	if v, ok := lookup(EnvRecordingMode); ok {
		c.Recording.Mode = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup(EnvRedisAddr); ok && v != "" {
		c.Cache.RedisAddr = v
		c.Cache.Enabled = true
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Observability.LogLevel = strings.ToLower(v)
	}
	return c
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// SlogLevel maps Observability.LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.Observability.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a slog logger from the observability settings.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.Observability.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
