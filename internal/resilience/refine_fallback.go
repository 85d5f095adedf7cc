package resilience

import (
	"context"

	"github.com/MrWong99/quill/pkg/provider/refine"
)

// RefineFallback implements [refine.Provider] with failover across several
// refinement backends, each behind its own circuit breaker.
type RefineFallback struct {
	group *FallbackGroup[refine.Provider]
}

var _ refine.Provider = (*RefineFallback)(nil)

// NewRefineFallback creates a [RefineFallback] with primary as the preferred
// backend.
func NewRefineFallback(primary refine.Provider, primaryName string, cfg FallbackConfig) *RefineFallback {
	return &RefineFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend, tried after all existing ones.
func (f *RefineFallback) AddFallback(name string, p refine.Provider) {
	f.group.AddFallback(name, p)
}

// Names returns the backend names in try order.
func (f *RefineFallback) Names() []string { return f.group.Names() }

// States returns the breaker state of every backend.
func (f *RefineFallback) States() map[string]State { return f.group.States() }

// Refine returns the result of the first backend that succeeds.
func (f *RefineFallback) Refine(ctx context.Context, text string) (string, error) {
	out, _, err := f.RefineNamed(ctx, text)
	return out, err
}

// RefineNamed is like Refine but also reports which backend answered.
func (f *RefineFallback) RefineNamed(ctx context.Context, text string) (string, string, error) {
	return ExecuteNamed(ctx, f.group, func(p refine.Provider) (string, error) {
		return p.Refine(ctx, text)
	})
}
