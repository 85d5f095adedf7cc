package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/quill/internal/diff"
	"github.com/MrWong99/quill/internal/rules"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"refine": {"huggingface", "openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"speech": {"whisper"},
}

// envRef matches ${NAME} references. Bare $1 and ${1} never match.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// envExempt lists the top-level sections whose values are never expanded.
// Rule replacements use ${name} for named capture groups.
var envExempt = []string{"rules"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader expands ${VAR} references, decodes a YAML config from r,
// fills defaults, and validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	if data, err = expandEnv(data); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv replaces ${NAME} in scalar values with the value of the
// environment variable NAME. Unset variables expand to the empty string.
// Sections in [envExempt] are left as written.
func expandEnv(data []byte) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if !expandNode(&doc, true) {
		return data, nil
	}
	return yaml.Marshal(&doc)
}

// expandNode expands n in place and reports whether anything changed. top is
// true for the document root mapping.
func expandNode(n *yaml.Node, top bool) bool {
	changed := false
	switch n.Kind {
	case yaml.DocumentNode:
		for _, c := range n.Content {
			changed = expandNode(c, true) || changed
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			if top && slices.Contains(envExempt, n.Content[i].Value) {
				continue
			}
			changed = expandNode(n.Content[i+1], false) || changed
		}
	case yaml.SequenceNode:
		for _, c := range n.Content {
			changed = expandNode(c, false) || changed
		}
	case yaml.ScalarNode:
		if !envRef.MatchString(n.Value) {
			return false
		}
		n.Value = envRef.ReplaceAllStringFunc(n.Value, func(m string) string {
			return os.Getenv(envRef.FindStringSubmatch(m)[1])
		})
		// Plain scalars re-resolve their type from the expanded value.
		if n.Style&(yaml.SingleQuotedStyle|yaml.DoubleQuotedStyle|yaml.LiteralStyle|yaml.FoldedStyle) == 0 {
			n.Tag = ""
		}
		changed = true
	}
	return changed
}

// ApplyDefaults fills zero-valued fields that have a documented default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Refine.Timeout == 0 {
		cfg.Refine.Timeout = DefaultRefineTimeout
	}
	if cfg.Batch.Concurrency == 0 {
		cfg.Batch.Concurrency = DefaultBatchConcurrency
	}
	if cfg.Batch.MaxItems == 0 {
		cfg.Batch.MaxItems = DefaultBatchMaxItems
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "") != (tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Refinement
	if cfg.Refine.Timeout < 0 {
		errs = append(errs, fmt.Errorf("refine.timeout %s must not be negative", cfg.Refine.Timeout))
	}
	cb := cfg.Refine.CircuitBreaker
	if cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("refine.circuit_breaker values must not be negative"))
	}
	providerSeen := make(map[string]int, len(cfg.Refine.Providers))
	for i, p := range cfg.Refine.Providers {
		prefix := fmt.Sprintf("refine.providers[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := providerSeen[p.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of refine.providers[%d]", prefix, p.Name, prev))
		}
		providerSeen[p.Name] = i
		validateProviderName("refine", p.Name)
		if p.APIKey == "" && p.Name != "ollama" && p.Name != "llamacpp" && p.Name != "llamafile" {
			slog.Warn("refinement provider has no api_key; requests will likely be rejected", "provider", p.Name)
		}
	}
	if cfg.Refine.Enabled != nil && *cfg.Refine.Enabled && len(cfg.Refine.Providers) == 0 {
		slog.Warn("refine.enabled is true but no providers are configured; refinement is disabled")
	}

	// Rules
	errs = append(errs, validateRules(cfg.Rules.Extra)...)

	// Vocabulary
	for _, th := range []struct {
		name  string
		value float64
	}{
		{"phonetic_threshold", cfg.Vocabulary.PhoneticThreshold},
		{"fuzzy_threshold", cfg.Vocabulary.FuzzyThreshold},
	} {
		if th.value < 0 || th.value > 1 {
			errs = append(errs, fmt.Errorf("vocabulary.%s %.2f is out of range [0, 1]", th.name, th.value))
		}
	}
	for i, term := range cfg.Vocabulary.Terms {
		if strings.TrimSpace(term) == "" {
			errs = append(errs, fmt.Errorf("vocabulary.terms[%d] is empty", i))
		}
	}

	// Diff
	if _, err := cfg.Diff.Options(); err != nil {
		errs = append(errs, err)
	}

	// Speech
	validateProviderName("speech", cfg.Speech.Name)
	if cfg.Speech.Name == "whisper" && cfg.Speech.BaseURL == "" {
		errs = append(errs, errors.New("speech.base_url is required for the whisper recognizer"))
	}

	// Telemetry
	if r := cfg.Telemetry.Ratio(); r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio %v must be between 0 and 1", r))
	}

	// Batch
	if cfg.Batch.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("batch.concurrency %d must not be negative", cfg.Batch.Concurrency))
	}
	if cfg.Batch.MaxItems < 0 {
		errs = append(errs, fmt.Errorf("batch.max_items %d must not be negative", cfg.Batch.MaxItems))
	}

	return errors.Join(errs...)
}

func validateRules(extra []RuleConfig) []error {
	var errs []error
	seen := make(map[string]int, len(extra))
	for i, rc := range extra {
		prefix := fmt.Sprintf("rules.extra[%d]", i)
		if rc.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[rc.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of rules.extra[%d]", prefix, rc.Name, prev))
			}
			seen[rc.Name] = i
		}
		if rc.Pattern == "" {
			errs = append(errs, fmt.Errorf("%s.pattern is required", prefix))
			continue
		}
		if _, err := rules.NewRule(prefix, rc.Pattern, rc.Replacement, rc.CaseSensitive); err != nil {
			errs = append(errs, fmt.Errorf("%s.pattern: %w", prefix, err))
		}
	}
	return errs
}

// Build compiles the configured extra rules.
func (r RulesConfig) Build() ([]rules.Rule, error) {
	out := make([]rules.Rule, 0, len(r.Extra))
	for _, rc := range r.Extra {
		rule, err := rules.NewRule(rc.Name, rc.Pattern, rc.Replacement, rc.CaseSensitive)
		if err != nil {
			return nil, fmt.Errorf("config: rule %q: %w", rc.Name, err)
		}
		out = append(out, rule)
	}
	return out, nil
}

// Options parses the configured granularity and algorithm.
func (d DiffConfig) Options() (diff.Options, error) {
	g, err := diff.ParseGranularity(d.Granularity)
	if err != nil {
		return diff.Options{}, fmt.Errorf("diff.granularity: %w", err)
	}
	a, err := diff.ParseAlgorithm(d.Algorithm)
	if err != nil {
		return diff.Options{}, fmt.Errorf("diff.algorithm: %w", err)
	}
	return diff.Options{Granularity: g, Algorithm: a}, nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
