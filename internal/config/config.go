// Package config handles loading and validating AutoData configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for AutoData.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Persistent data directory. Default: ~/.autodata/data. Override: AUTODATA_DATA_DIR env var.
	Providers     ProvidersConfig      `json:"providers" yaml:"providers"`
	Orchestrator  OrchestratorConfig   `json:"orchestrator" yaml:"orchestrator"`
	Workers       WorkersConfig        `json:"workers" yaml:"workers"`
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`             // nil = SQLite default (derived from data dir)
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Logging       LoggingConfig        `json:"logging" yaml:"logging"`
}

// ProvidersConfig selects and configures the LLM backend the workers run on.
type ProvidersConfig struct {
	Default string       `json:"default" yaml:"default"` // "gemini", "openai", "ollama". Empty = "gemini".
	Gemini  GeminiConfig `json:"gemini" yaml:"gemini"`
	OpenAI  OpenAIConfig `json:"openai" yaml:"openai"`
	Ollama  OllamaConfig `json:"ollama" yaml:"ollama"`
}

// DefaultProvider returns the configured provider name, defaulting to "gemini".
func (p *ProvidersConfig) DefaultProvider() string {
	if p.Default != "" {
		return p.Default
	}
	return "gemini"
}

type GeminiConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to https://generativelanguage.googleapis.com.
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to https://api.openai.com.
}

type OllamaConfig struct {
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to http://localhost:11434.
}

// OrchestratorConfig bounds the workflow control loop.
type OrchestratorConfig struct {
	MaxAttempts          int     `json:"max_attempts" yaml:"max_attempts"`                     // Retries per worker and step after the initial attempt. Default: 3.
	MaxBackEdges         int     `json:"max_back_edges" yaml:"max_back_edges"`                 // Code regenerations per run. Default: 3.
	MaxConcurrentSteps   int     `json:"max_concurrent_steps" yaml:"max_concurrent_steps"`     // Research fan-out parallelism. Default: 3.
	WorkerTimeoutSeconds int     `json:"worker_timeout_seconds" yaml:"worker_timeout_seconds"` // Per-invocation bound. Default: 120.
	BackoffInitialMS     int     `json:"backoff_initial_ms" yaml:"backoff_initial_ms"`         // First retry delay. Default: 500.
	BackoffMaxSeconds    float64 `json:"backoff_max_seconds" yaml:"backoff_max_seconds"`       // Retry delay cap. Default: 30.
}

// WorkerTimeout returns the per-invocation bound with its default.
func (o *OrchestratorConfig) WorkerTimeout() time.Duration {
	if o.WorkerTimeoutSeconds > 0 {
		return time.Duration(o.WorkerTimeoutSeconds) * time.Second
	}
	return 2 * time.Minute
}

// BackoffInitial returns the first retry delay with its default.
func (o *OrchestratorConfig) BackoffInitial() time.Duration {
	if o.BackoffInitialMS > 0 {
		return time.Duration(o.BackoffInitialMS) * time.Millisecond
	}
	return 500 * time.Millisecond
}

// BackoffMax returns the retry delay cap with its default.
func (o *OrchestratorConfig) BackoffMax() time.Duration {
	if o.BackoffMaxSeconds > 0 {
		return time.Duration(o.BackoffMaxSeconds * float64(time.Second))
	}
	return 30 * time.Second
}

// WorkersConfig configures the model-backed worker adapters.
type WorkersConfig struct {
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"` // Per-invocation output budget. Default: 4096.
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from the data dir.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from data dir.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ObservabilityConfig configures metrics exposition and tracing.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"` // Default: ":9090"
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "autodata"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // "debug", "info", "warn", "error". Default: "info".
	Format string `json:"format" yaml:"format"` // "text" or "json". Default: "text".
}

// DefaultConfigPath returns the default config file path (~/.autodata/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/autodata.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".autodata", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Provider API keys can be set in the config file or
// overridden by environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns a config built entirely from environment variables, for
// running without a config file.
func Default() (*Config, error) {
	cfg := &Config{}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnv applies environment variable overrides. Env vars take precedence
// over config file values.
func (c *Config) applyEnv() {
	if envKey := os.Getenv("GEMINI_API_KEY"); envKey != "" {
		c.Providers.Gemini.APIKey = envKey
	}
	if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" {
		c.Providers.OpenAI.APIKey = envKey
	}
	if envProvider := os.Getenv("AUTODATA_PROVIDER"); envProvider != "" {
		c.Providers.Default = envProvider
	}
	if envDD := os.Getenv("AUTODATA_DATA_DIR"); envDD != "" {
		c.DataDir = envDD
	}
	if envDSN := os.Getenv("AUTODATA_DB_DSN"); envDSN != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{Driver: "postgres"}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = envDSN
	}

	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			c.DataDir = filepath.Join(home, ".autodata", "data")
		}
	}
}

// DatabasePath returns the SQLite database file path, derived from the data
// dir unless configured explicitly.
func (c *Config) DatabasePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.DataDir, "autodata.db")
}

func (c *Config) validate() error {
	switch name := c.Providers.DefaultProvider(); name {
	case "gemini":
		if c.Providers.Gemini.APIKey == "" {
			return fmt.Errorf("provider %q requires an API key (GEMINI_API_KEY or providers.gemini.api_key)", name)
		}
	case "openai":
		if c.Providers.OpenAI.APIKey == "" {
			return fmt.Errorf("provider %q requires an API key (OPENAI_API_KEY or providers.openai.api_key)", name)
		}
	case "ollama":
		// Local provider, no key required.
	default:
		return fmt.Errorf("unknown provider %q (valid: gemini, openai, ollama)", name)
	}

	if driver := c.Storage.StorageDriver(); driver == "postgres" {
		if c.Storage == nil || c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("postgres storage requires a DSN (AUTODATA_DB_DSN or storage.postgres.dsn)")
		}
	} else if driver != "sqlite" {
		return fmt.Errorf("unknown storage driver %q (valid: sqlite, postgres)", driver)
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	return nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
