// Package config loads the service configuration from a YAML file.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/FocuswithJustin/docmerge/core/errors"
	"github.com/FocuswithJustin/docmerge/core/merge"
	"github.com/FocuswithJustin/docmerge/internal/logging"
)

// RepositoryEnv names the environment variable read once at load time when
// the file sets no repository.
const RepositoryEnv = "DOCUMENT_REPOSITORY_PATH"

// DefaultConfigYAML is a commented starting point for a config file.
const DefaultConfigYAML = `# docmerge configuration
port: 5000

# Directory holding the .docx files offered for merging.
repository: ./documents

# Rendered previews are cached here. Empty disables the cache.
cache_dir: ""

# SQLite file recording every merge. Empty disables history.
history_db: ""

renderer:
  binary: wkhtmltopdf
  timeout: 60s
  # recently served previews kept in memory (0 disables)
  memory_cache_mb: 32

merge:
  # remap: rename clashing resource ids; first-wins: keep the first document's resource
  collision_policy: remap
  # documents loaded in parallel before appending (0 = sequential)
  preload: 4

listing_ttl: 30s

# Per-client limit on merge and preview requests (0 = unlimited).
rate_limit:
  requests_per_minute: 0
  burst: 10

# CORS origins. Empty allows any origin.
allowed_origins: []

log:
  level: info
  format: json

tls:
  enabled: false
  cert_file: ""
  key_file: ""
`

// RendererConfig configures the external PDF renderer.
type RendererConfig struct {
	Binary        string        `yaml:"binary"`
	Timeout       time.Duration `yaml:"timeout"`
	MemoryCacheMB int           `yaml:"memory_cache_mb"`
}

// MergeConfig holds merge defaults.
type MergeConfig struct {
	CollisionPolicy string `yaml:"collision_policy"`
	Preload         int    `yaml:"preload"`
}

// RateLimitConfig limits expensive requests per client IP.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TLSConfig holds TLS/HTTPS configuration.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Config is the complete service configuration.
type Config struct {
	Port           int             `yaml:"port"`
	Repository     string          `yaml:"repository"`
	CacheDir       string          `yaml:"cache_dir"`
	HistoryDB      string          `yaml:"history_db"`
	Renderer       RendererConfig  `yaml:"renderer"`
	Merge          MergeConfig     `yaml:"merge"`
	ListingTTL     time.Duration   `yaml:"listing_ttl"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	Log            LogConfig       `yaml:"log"`
	TLS            TLSConfig       `yaml:"tls"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:       5000,
		Renderer:   RendererConfig{Binary: "wkhtmltopdf", Timeout: time.Minute, MemoryCacheMB: 32},
		Merge:      MergeConfig{CollisionPolicy: string(merge.DefaultPolicy), Preload: 4},
		ListingTTL: 30 * time.Second,
		RateLimit:  RateLimitConfig{Burst: 10},
		Log:        LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path over the defaults. An empty path yields the defaults. The
// repository falls back to $DOCUMENT_REPOSITORY_PATH when still unset. The
// result is not validated; call Validate once flags have been applied.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return Config{}, &errors.NotFoundError{Resource: "config", ID: path, Err: err}
			}
			return Config{}, errors.NewIO("read", path, err)
		}
		if err := Decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if cfg.Repository == "" {
		cfg.Repository = os.Getenv(RepositoryEnv)
	}
	return cfg, nil
}

// Decode parses YAML into cfg, keeping fields the document does not set.
// Unknown keys are an error.
func Decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return &errors.ParseError{Format: "YAML", Message: err.Error(), Err: err}
	}
	return nil
}

// Validate checks every field and returns the first problem found.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return errors.NewValidation("port", fmt.Sprintf("must be between 1 and 65535, got %d", c.Port))
	}
	if c.Repository == "" {
		return errors.NewValidation("repository", "is required (set it in the config file, with --repository, or via "+RepositoryEnv+")")
	}
	if _, err := merge.ParsePolicy(c.Merge.CollisionPolicy); err != nil {
		return errors.NewValidation("merge.collision_policy", err.Error())
	}
	if c.Merge.Preload < 0 {
		return errors.NewValidation("merge.preload", "must not be negative")
	}
	if c.ListingTTL < 0 {
		return errors.NewValidation("listing_ttl", "must not be negative")
	}
	if c.RateLimit.RequestsPerMinute < 0 {
		return errors.NewValidation("rate_limit.requests_per_minute", "must not be negative")
	}
	if c.RateLimit.RequestsPerMinute > 0 && c.RateLimit.Burst < 1 {
		return errors.NewValidation("rate_limit.burst", "must be at least 1 when rate limiting is enabled")
	}
	if c.Renderer.Timeout < 0 {
		return errors.NewValidation("renderer.timeout", "must not be negative")
	}
	if c.Renderer.MemoryCacheMB < 0 {
		return errors.NewValidation("renderer.memory_cache_mb", "must not be negative")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return errors.NewValidation("log.level", err.Error())
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		return errors.NewValidation("log.format", err.Error())
	}
	if c.TLS.Enabled && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return errors.NewValidation("tls", "cert_file and key_file are required when TLS is enabled")
	}
	return nil
}

// Policy returns the parsed collision policy. Call after Validate.
func (c Config) Policy() merge.Policy {
	p, err := merge.ParsePolicy(c.Merge.CollisionPolicy)
	if err != nil {
		return merge.DefaultPolicy
	}
	return p
}

// ApplyLogging configures the package logger from c.Log.
func (c Config) ApplyLogging(w io.Writer) {
	level, _ := logging.ParseLevel(c.Log.Level)
	format, _ := logging.ParseFormat(c.Log.Format)
	logging.Configure(w, level, format)
}
