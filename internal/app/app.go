// Package app wires all Quill subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the correction pipeline
// and the HTTP surface, Run serves until the context is cancelled, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via [Providers] and the functional options.
// When an option is not provided, New creates real implementations from the
// config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/quill/internal/api"
	"github.com/MrWong99/quill/internal/config"
	"github.com/MrWong99/quill/internal/correction"
	"github.com/MrWong99/quill/internal/correction/phonetic"
	"github.com/MrWong99/quill/internal/feedback"
	"github.com/MrWong99/quill/internal/health"
	"github.com/MrWong99/quill/internal/observe"
	"github.com/MrWong99/quill/internal/refine"
	"github.com/MrWong99/quill/internal/rules"
	"github.com/MrWong99/quill/internal/speech"
	"github.com/MrWong99/quill/pkg/provider/stt"
)

// shutdownTimeout bounds the graceful HTTP shutdown started by Run.
const shutdownTimeout = 10 * time.Second

// Providers holds the remote backends. Nil means not configured.
type Providers struct {
	Refiner    *refine.Adapter
	Recognizer stt.Recognizer
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics  *observe.Metrics
	level    *slog.LevelVar
	feedback feedback.Store

	pipeline *correction.Pipeline
	handler  http.Handler
	srv      *http.Server

	configPath string
	watcher    *config.Watcher

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets config reloads change the log level of the handler that
// owns lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithFeedbackStore injects a feedback store instead of creating a file
// store from config.
func WithFeedbackStore(s feedback.Store) Option {
	return func(a *App) { a.feedback = s }
}

// WithConfigWatch enables hot reload of the config file at path.
func WithConfigWatch(path string) Option {
	return func(a *App) { a.configPath = path }
}

// New creates an App from cfg. providers may be nil.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	p, err := BuildPipeline(cfg, providers.Refiner, a.metrics)
	if err != nil {
		return nil, err
	}
	a.pipeline = p

	if a.feedback == nil && cfg.Feedback.Path != "" {
		a.feedback = feedback.NewFileStore(cfg.Feedback.Path)
	}

	a.handler = a.buildHandler()
	a.srv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyConfig)
		if err != nil {
			return nil, fmt.Errorf("app: start config watcher: %w", err)
		}
		a.watcher = w
		a.closers = append(a.closers, func() error { w.Stop(); return nil })
	}
	return a, nil
}

// BuildPipeline assembles a correction pipeline from cfg. refiner may be nil.
func BuildPipeline(cfg *config.Config, refiner *refine.Adapter, m *observe.Metrics) (*correction.Pipeline, error) {
	extra, err := cfg.Rules.Build()
	if err != nil {
		return nil, fmt.Errorf("app: build rules: %w", err)
	}
	diffOpts, err := cfg.Diff.Options()
	if err != nil {
		return nil, fmt.Errorf("app: diff options: %w", err)
	}

	opts := []correction.Option{
		correction.WithRules(rules.New(rules.WithExtraRules(extra...))),
		correction.WithVocabulary(buildVocabulary(cfg.Vocabulary)),
		correction.WithDiffOptions(diffOpts),
		correction.WithMetrics(m),
	}
	if refiner != nil {
		opts = append(opts, correction.WithRefiner(refiner))
	}
	return correction.New(opts...), nil
}

// buildVocabulary returns nil when no terms are configured.
func buildVocabulary(vc config.VocabularyConfig) *phonetic.Vocabulary {
	if len(vc.Terms) == 0 {
		return nil
	}
	m := phonetic.New(
		phonetic.WithPhoneticThreshold(vc.PhoneticThreshold),
		phonetic.WithFuzzyThreshold(vc.FuzzyThreshold),
	)
	return phonetic.NewVocabulary(vc.Terms, m)
}

func (a *App) buildHandler() http.Handler {
	apiOpts := []api.Option{
		api.WithMetrics(a.metrics),
		api.WithSpeech(speech.New(a.providers.Recognizer, speech.WithMetrics(a.metrics))),
		api.WithBatchLimits(a.cfg.Batch.Concurrency, a.cfg.Batch.MaxItems),
	}
	if a.feedback != nil {
		apiOpts = append(apiOpts, api.WithFeedback(a.feedback))
	}

	var checkers []health.Checker
	if r := a.providers.Refiner; r != nil {
		checkers = append(checkers, health.BreakerCheck("refine", func() map[string]string {
			states := r.States()
			out := make(map[string]string, len(states))
			for name, s := range states {
				out[name] = s.String()
			}
			return out
		}))
	}
	if a.cfg.Feedback.Path != "" {
		checkers = append(checkers, health.ParentDirCheck("feedback", a.cfg.Feedback.Path))
	}

	mux := http.NewServeMux()
	api.New(a.pipeline, apiOpts...).Register(mux)
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(a.metrics)(mux)
}

// Pipeline returns the correction pipeline.
func (a *App) Pipeline() *correction.Pipeline { return a.pipeline }

// Handler returns the root HTTP handler, middleware included.
func (a *App) Handler() http.Handler { return a.handler }

// applyConfig is the config watcher callback. It swaps the hot-reloadable
// parts and logs every section that needs a restart.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.RulesChanged {
		extra, err := new.Rules.Build()
		if err != nil {
			slog.Warn("keeping previous rules", "err", err)
		} else {
			a.pipeline.SetRules(rules.New(rules.WithExtraRules(extra...)))
			slog.Info("rules reloaded", "extra", len(extra))
		}
	}
	if d.VocabularyChanged {
		a.pipeline.SetVocabulary(buildVocabulary(new.Vocabulary))
		slog.Info("vocabulary reloaded", "terms", len(new.Vocabulary.Terms))
	}
	if d.DiffChanged {
		opts, err := new.Diff.Options()
		if err != nil {
			slog.Warn("keeping previous diff options", "err", err)
		} else {
			a.pipeline.SetDiffOptions(opts)
			slog.Info("diff options reloaded", "granularity", opts.Granularity, "algorithm", opts.Algorithm)
		}
	}
	for _, section := range d.RestartRequired {
		slog.Warn("config change requires restart", "section", section)
	}
}

// Run serves HTTP until ctx is cancelled or the listener fails. A cancelled
// context is a clean stop and returns nil.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		tls := a.cfg.Server.TLS
		slog.Info("http server listening", "addr", a.srv.Addr, "tls", tls.Enabled())

		var err error
		if tls.Enabled() {
			err = a.srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := a.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("app: http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Shutdown stops the HTTP server and runs the closers in order. It respects
// the context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.srv.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
