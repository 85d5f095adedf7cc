// Package refine implements the best-effort remote refinement stage of the
// correction pipeline.
//
// An [Adapter] sends the rule-engine output to one or more refinement
// backends, tried in order behind per-backend circuit breakers. Refinement is
// never load-bearing: every failure (transport error, non-2xx status,
// malformed payload, timeout, open breaker) yields the input text unchanged
// and is reported through [Outcome.Err] for logging and metrics only.
package refine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/quill/internal/observe"
	"github.com/MrWong99/quill/internal/resilience"
	refineprovider "github.com/MrWong99/quill/pkg/provider/refine"
)

// DefaultTimeout bounds a single refinement attempt.
const DefaultTimeout = 30 * time.Second

// Fallback reasons reported to metrics.
const (
	ReasonTimeout     = "timeout"
	ReasonCancelled   = "cancelled"
	ReasonCircuitOpen = "circuit_open"
	ReasonMalformed   = "malformed"
	ReasonEmpty       = "empty"
	ReasonError       = "error"
)

// Outcome is the result of one refinement. When Refined is false, Text is
// the input text and Err (if any) explains why.
type Outcome struct {
	Text     string
	Provider string
	Refined  bool
	Err      error
}

// Backend is a named refinement provider.
type Backend struct {
	Name     string
	Provider refineprovider.Provider
}

// Option configures an [Adapter].
type Option func(*Adapter)

// WithTimeout sets the per-attempt timeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// WithBreaker sets the circuit breaker settings applied to every backend.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(a *Adapter) { a.breaker = cfg }
}

// Adapter refines text through an ordered list of backends. It is safe for
// concurrent use.
type Adapter struct {
	timeout  time.Duration
	metrics  *observe.Metrics
	breaker  resilience.CircuitBreakerConfig
	fallback *resilience.RefineFallback
}

// New creates an [Adapter] over backends, tried in the given order. At least
// one backend is required.
func New(backends []Backend, opts ...Option) (*Adapter, error) {
	if len(backends) == 0 {
		return nil, errors.New("refine: at least one backend is required")
	}
	a := &Adapter{timeout: DefaultTimeout}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	cb := a.breaker
	userHook := cb.OnStateChange
	cb.OnStateChange = func(name string, from, to resilience.State) {
		a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
		if userHook != nil {
			userHook(name, from, to)
		}
	}
	cfg := resilience.FallbackConfig{CircuitBreaker: cb}

	for i, b := range backends {
		if b.Name == "" {
			return nil, fmt.Errorf("refine: backend %d has no name", i)
		}
		if b.Provider == nil {
			return nil, fmt.Errorf("refine: backend %q has no provider", b.Name)
		}
		p := &attempt{name: b.Name, inner: b.Provider, timeout: a.timeout, metrics: a.metrics}
		if a.fallback == nil {
			a.fallback = resilience.NewRefineFallback(p, b.Name, cfg)
			continue
		}
		a.fallback.AddFallback(b.Name, p)
	}
	return a, nil
}

// Backends returns the backend names in try order.
func (a *Adapter) Backends() []string { return a.fallback.Names() }

// States returns the breaker state of every backend, keyed by name.
func (a *Adapter) States() map[string]resilience.State { return a.fallback.States() }

// Refine returns the refined text, or text itself when no backend succeeds.
// It never fails; see [Outcome.Err].
func (a *Adapter) Refine(ctx context.Context, text string) Outcome {
	if text == "" {
		return Outcome{Text: text}
	}

	start := time.Now()
	refined, name, err := a.fallback.RefineNamed(ctx, text)
	a.metrics.RefineDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		reason := Reason(err)
		a.metrics.RecordRefineFallback(ctx, reason)
		observe.Logger(ctx).Warn("refinement failed, using rule output",
			"reason", reason, "err", err)
		return Outcome{Text: text, Err: err}
	}
	return Outcome{Text: refined, Provider: name, Refined: true}
}

// Reason classifies a refinement error for metrics.
func Reason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCancelled
	case errors.Is(err, refineprovider.ErrMalformedResponse):
		return ReasonMalformed
	case errors.Is(err, refineprovider.ErrEmptyResult):
		return ReasonEmpty
	case errors.Is(err, resilience.ErrCircuitOpen):
		return ReasonCircuitOpen
	default:
		return ReasonError
	}
}

// attempt runs one backend call under the per-attempt timeout and records
// provider metrics.
type attempt struct {
	name    string
	inner   refineprovider.Provider
	timeout time.Duration
	metrics *observe.Metrics
}

var _ refineprovider.Provider = (*attempt)(nil)

func (p *attempt) Refine(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := p.inner.Refine(ctx, text)
	if err != nil {
		p.metrics.RecordProviderRequest(ctx, p.name, "refine", "error")
		p.metrics.RecordProviderError(ctx, p.name, "refine")
		return "", err
	}
	p.metrics.RecordProviderRequest(ctx, p.name, "refine", "ok")
	return out, nil
}
