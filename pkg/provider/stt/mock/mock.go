// Package mock provides a test double for the stt.Recognizer interface.
//
// Example:
//
//	r := &mock.Recognizer{Transcript: types.Transcript{Text: "i dont know"}}
//	tr, err := r.Recognize(ctx, stt.Utterance{Audio: pcm})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/quill/pkg/provider/stt"
	"github.com/MrWong99/quill/pkg/types"
)

// RecognizeCall records a single invocation of Recognize.
type RecognizeCall struct {
	Ctx       context.Context
	Utterance stt.Utterance
}

// Recognizer is a mock implementation of stt.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Transcript is returned by Recognize when Err is nil.
	Transcript types.Transcript

	// Err, if non-nil, is returned as the error from Recognize.
	Err error

	// Calls records every invocation of Recognize in order.
	Calls []RecognizeCall
}

var _ stt.Recognizer = (*Recognizer)(nil)

// Recognize records the call and returns the configured result.
func (r *Recognizer) Recognize(ctx context.Context, u stt.Utterance) (types.Transcript, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, RecognizeCall{Ctx: ctx, Utterance: u})
	if r.Err != nil {
		return types.Transcript{}, r.Err
	}
	return r.Transcript, nil
}

// CallCount returns the number of Recognize calls so far.
func (r *Recognizer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}
