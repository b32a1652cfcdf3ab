package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Model     ModelConfig     `koanf:"model"`
	Policy    PolicyConfig    `koanf:"policy"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Audit     AuditConfig     `koanf:"audit"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type ModelConfig struct {
	Provider string `koanf:"provider"` // http, mock
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   string `koanf:"api_key"`
}

// PolicyConfig holds the resilience knobs applied to every execution
// unless a task overrides them.
type PolicyConfig struct {
	MaxRetries      int           `koanf:"max_retries"`
	BaseDelay       time.Duration `koanf:"base_delay"`
	MaxDelay        time.Duration `koanf:"max_delay"`
	Timeout         time.Duration `koanf:"timeout"`
	ChunkSizeLimit  int           `koanf:"chunk_size_limit"`
	CircuitFailures int           `koanf:"circuit_failures"`
}

type TelemetryConfig struct {
	Enabled      bool   `koanf:"enabled"`
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	ServiceName  string `koanf:"service_name"`
}

type AuditConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"` // SQLite file, :memory: for ephemeral
}

// Global k instance
var k = koanf.New(".")

func Load(path string) (*Config, error) {
	// Defaults
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("model.provider", "http")
	k.Set("model.model", "qwen2.5-coder:7b-instruct-q5_K_M")
	k.Set("model.base_url", "http://localhost:11434")

	k.Set("policy.max_retries", 3)
	k.Set("policy.base_delay", "100ms")
	k.Set("policy.max_delay", "10s")
	k.Set("policy.timeout", "30s")
	k.Set("policy.chunk_size_limit", 8192)
	k.Set("policy.circuit_failures", 5)

	k.Set("telemetry.enabled", false)
	k.Set("telemetry.exporter", "stdout")
	k.Set("telemetry.otlp_endpoint", "localhost:4317")
	k.Set("telemetry.service_name", "telos")

	k.Set("audit.enabled", false)
	k.Set("audit.path", "telos-audit.db")

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV (TELOS_POLICY_MAX_RETRIES -> policy.max_retries)
	if err := k.Load(env.Provider("TELOS_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "TELOS_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
