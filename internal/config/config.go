// Package config provides the configuration schema, loader, file watcher,
// and provider registry for the Quill correction service.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the Quill server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to a [slog.Level]. Empty or unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Defaults applied by [LoadFromReader] to fields left empty.
const (
	DefaultListenAddr       = ":8080"
	DefaultRefineTimeout    = 30 * time.Second
	DefaultBatchConcurrency = 4
	DefaultBatchMaxItems    = 32
)

// Config is the root configuration structure for Quill.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Refine     RefineConfig     `yaml:"refine"`
	Rules      RulesConfig      `yaml:"rules"`
	Vocabulary VocabularyConfig `yaml:"vocabulary"`
	Diff       DiffConfig       `yaml:"diff"`
	Speech     ProviderEntry    `yaml:"speech"`
	Feedback   FeedbackConfig   `yaml:"feedback"`
	Batch      BatchConfig      `yaml:"batch"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings for the Quill server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil or empty, the server runs
	// plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// Enabled reports whether both certificate paths are set.
func (t *TLSConfig) Enabled() bool {
	return t != nil && t.CertFile != "" && t.KeyFile != ""
}

// RefineConfig configures the remote refinement stage.
type RefineConfig struct {
	// Enabled toggles refinement. When omitted, refinement is enabled if at
	// least one provider is listed.
	Enabled *bool `yaml:"enabled"`

	// Timeout bounds a single provider attempt. Default 30s.
	Timeout time.Duration `yaml:"timeout"`

	// CircuitBreaker applies to each provider separately.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`

	// Providers are tried in order; later entries are fallbacks.
	Providers []ProviderEntry `yaml:"providers"`
}

// IsEnabled reports whether refinement should run.
func (r RefineConfig) IsEnabled() bool {
	if r.Enabled != nil {
		return *r.Enabled && len(r.Providers) > 0
	}
	return len(r.Providers) > 0
}

// CircuitBreakerConfig holds breaker thresholds. Zero values select the
// breaker's own defaults.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g.,
	// "huggingface", "openai", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// RulesConfig extends the builtin rule table. Hot-reloadable.
type RulesConfig struct {
	Extra []RuleConfig `yaml:"extra"`
}

// RuleConfig is one user-defined substitution rule.
type RuleConfig struct {
	Name          string `yaml:"name"`
	Pattern       string `yaml:"pattern"`
	Replacement   string `yaml:"replacement"`
	CaseSensitive bool   `yaml:"case_sensitive"`
}

// VocabularyConfig lists domain terms that misspelled words are snapped to.
// Hot-reloadable. Zero thresholds select the matcher defaults.
type VocabularyConfig struct {
	Terms             []string `yaml:"terms"`
	PhoneticThreshold float64  `yaml:"phonetic_threshold"`
	FuzzyThreshold    float64  `yaml:"fuzzy_threshold"`
}

// DiffConfig selects how diffs are computed. Hot-reloadable.
type DiffConfig struct {
	// Granularity is "word" (default) or "char".
	Granularity string `yaml:"granularity"`

	// Algorithm is "myers" (default) or "lcs".
	Algorithm string `yaml:"algorithm"`
}

// FeedbackConfig configures feedback intake. An empty Path disables it.
type FeedbackConfig struct {
	Path string `yaml:"path"`
}

// BatchConfig bounds the batch endpoint.
type BatchConfig struct {
	// Concurrency is the number of texts corrected in parallel.
	Concurrency int `yaml:"concurrency"`

	// MaxItems is the largest accepted batch.
	MaxItems int `yaml:"max_items"`
}

// TelemetryConfig controls how the process reports traces and metrics.
type TelemetryConfig struct {
	// SampleRatio is the fraction of new traces recorded, from 0 to 1.
	// Default 1.
	SampleRatio *float64 `yaml:"sample_ratio"`

	// Instance is reported as service.instance.id. Default: the host name.
	Instance string `yaml:"instance"`
}

// Ratio returns SampleRatio, or 1 when it is unset.
func (t TelemetryConfig) Ratio() float64 {
	if t.SampleRatio == nil {
		return 1
	}
	return *t.SampleRatio
}
