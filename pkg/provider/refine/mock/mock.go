// Package mock provides a test double for the refine.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/quill/pkg/provider/refine"
)

// Provider is a mock implementation of refine.Provider.
//
// When RefineFunc is nil, Refine returns Result and Err. An empty Result with a
// nil Err echoes the input back.
type Provider struct {
	mu sync.Mutex

	RefineFunc func(ctx context.Context, text string) (string, error)
	Result     string
	Err        error

	// Inputs records every text passed to Refine, in order.
	Inputs []string
}

var _ refine.Provider = (*Provider)(nil)

// Refine records the call and returns the configured result.
func (p *Provider) Refine(ctx context.Context, text string) (string, error) {
	p.mu.Lock()
	p.Inputs = append(p.Inputs, text)
	fn, result, err := p.RefineFunc, p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	if err != nil {
		return "", err
	}
	if result == "" {
		return text, nil
	}
	return result, nil
}

// CallCount returns the number of Refine calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Inputs)
}
