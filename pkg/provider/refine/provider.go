// Package refine defines the Provider interface for remote text-refinement
// backends.
//
// A refinement provider takes the output of the rule engine and returns a
// better-punctuated version of it: a token-classification model that predicts
// punctuation per word, or a chat model instructed to restore punctuation and
// casing. Providers report every failure as an error; deciding to fall back
// to the unrefined text is the caller's job.
//
// Implementations must be safe for concurrent use.
package refine

import (
	"context"
	"errors"
)

// ErrMalformedResponse is wrapped by providers when the backend answered but
// the payload cannot be turned into refined text.
var ErrMalformedResponse = errors.New("refine: malformed response")

// ErrEmptyResult is wrapped by providers when the reconstructed text is empty.
var ErrEmptyResult = errors.New("refine: empty result")

// Provider is the abstraction over any refinement backend.
type Provider interface {
	// Refine returns the refined version of text. It returns an error when the
	// request fails, ctx is cancelled, or the response is unusable.
	Refine(ctx context.Context, text string) (string, error)
}

// Func adapts a plain function to [Provider].
type Func func(ctx context.Context, text string) (string, error)

// Refine calls f.
func (f Func) Refine(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}
