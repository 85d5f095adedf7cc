package app

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/quill/internal/config"
	"github.com/MrWong99/quill/internal/observe"
	"github.com/MrWong99/quill/internal/refine"
	"github.com/MrWong99/quill/internal/refine/llmrefine"
	"github.com/MrWong99/quill/internal/resilience"
	"github.com/MrWong99/quill/pkg/provider/llm"
	"github.com/MrWong99/quill/pkg/provider/llm/anyllm"
	"github.com/MrWong99/quill/pkg/provider/llm/openai"
	refineprovider "github.com/MrWong99/quill/pkg/provider/refine"
	"github.com/MrWong99/quill/pkg/provider/refine/huggingface"
	"github.com/MrWong99/quill/pkg/provider/stt"
	"github.com/MrWong99/quill/pkg/provider/stt/whisper"
)

// RegisterBuiltinProviders wires every provider that ships with Quill into
// reg.
//
// Refinement backends are either the Hugging Face token-classification API
// ("huggingface") or a chat model asked to punctuate the text. Chat models
// are registered twice: once as an LLM and once as a refinement backend that
// wraps that LLM.
func RegisterBuiltinProviders(reg *config.Registry) {
	reg.RegisterRefine("huggingface", func(entry config.ProviderEntry) (refineprovider.Provider, error) {
		var opts []huggingface.Option
		if entry.BaseURL != "" {
			opts = append(opts, huggingface.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, huggingface.WithModel(entry.Model))
		}
		if v, ok := optBool(entry.Options, "use_cache"); ok {
			opts = append(opts, huggingface.WithUseCache(v))
		}
		if v, ok := optBool(entry.Options, "wait_for_model"); ok {
			opts = append(opts, huggingface.WithWaitForModel(v))
		}
		return huggingface.New(entry.APIKey, opts...)
	})

	// openai goes through the official SDK; the remaining chat backends
	// share the any-llm-go pattern of optional APIKey + optional BaseURL.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if n, ok := optInt(entry.Options, "max_retries"); ok {
			opts = append(opts, openai.WithMaxRetries(n))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})
	for _, name := range anyllm.Supported() {
		if name == "openai" {
			continue
		}
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	for _, name := range reg.Names("llm") {
		reg.RegisterRefine(name, func(entry config.ProviderEntry) (refineprovider.Provider, error) {
			p, err := reg.CreateLLM(entry)
			if err != nil {
				return nil, err
			}
			var opts []llmrefine.Option
			if t, ok := optFloat(entry.Options, "temperature"); ok {
				opts = append(opts, llmrefine.WithTemperature(t))
			}
			if guard, ok := optBool(entry.Options, "guard"); ok && !guard {
				opts = append(opts, llmrefine.WithoutGuard())
			}
			return llmrefine.New(p, opts...), nil
		})
	}

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if rate, ok := optInt(entry.Options, "sample_rate"); ok {
			opts = append(opts, whisper.WithSampleRate(rate))
		}
		if rms, ok := optFloat(entry.Options, "silence_threshold"); ok {
			opts = append(opts, whisper.WithSilenceThreshold(rms))
		}
		if d, ok := optDuration(entry.Options, "timeout"); ok {
			opts = append(opts, whisper.WithTimeout(d))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	for _, kind := range []string{"refine", "llm", "stt"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// BuildRefiner creates the refinement adapter described by cfg. It returns
// nil when refinement is disabled.
func BuildRefiner(cfg config.RefineConfig, reg *config.Registry, m *observe.Metrics) (*refine.Adapter, error) {
	if !cfg.IsEnabled() {
		return nil, nil
	}

	backends := make([]refine.Backend, 0, len(cfg.Providers))
	for _, entry := range cfg.Providers {
		p, err := reg.CreateRefine(entry)
		if err != nil {
			return nil, fmt.Errorf("app: create refine provider %q: %w", entry.Name, err)
		}
		backends = append(backends, refine.Backend{Name: entry.Name, Provider: p})
		slog.Info("provider created", "kind", "refine", "name", entry.Name, "model", entry.Model)
	}

	return refine.New(backends,
		refine.WithTimeout(cfg.Timeout),
		refine.WithMetrics(m),
		refine.WithBreaker(resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.CircuitBreaker.MaxFailures,
			ResetTimeout: cfg.CircuitBreaker.ResetTimeout,
			HalfOpenMax:  cfg.CircuitBreaker.HalfOpenMax,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("refine circuit breaker changed state", "provider", name, "from", from, "to", to)
			},
		}),
	)
}

// BuildRecognizer creates the speech recognizer named by entry. It returns
// nil when no recognizer is configured.
func BuildRecognizer(entry config.ProviderEntry, reg *config.Registry) (stt.Recognizer, error) {
	if entry.Name == "" {
		return nil, nil
	}
	r, err := reg.CreateSTT(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("speech provider not available, speech input disabled", "name", entry.Name)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("app: create speech provider %q: %w", entry.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", entry.Name)
	return r, nil
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

func optBool(opts map[string]any, key string) (bool, bool) {
	b, ok := opts[key].(bool)
	return b, ok
}

// optInt accepts both int and float64 values; YAML decodes whole numbers as
// int, JSON-style sources as float64.
func optInt(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// optDuration parses a Go duration string such as "20s".
func optDuration(opts map[string]any, key string) (time.Duration, bool) {
	s := optString(opts, key)
	if s == "" {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring invalid duration option", "key", key, "value", s, "err", err)
		return 0, false
	}
	return d, true
}
