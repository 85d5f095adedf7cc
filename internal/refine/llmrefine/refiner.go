// Package llmrefine implements a refinement backend on top of a chat model.
//
// The [Refiner] asks an [llm.Provider] to restore punctuation and
// capitalisation in a sentence and to answer with a small JSON object. Models
// are not trusted to stay within that brief: every word-level change beyond
// punctuation and casing is reverted before the text is returned (see
// [Guard]).
package llmrefine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MrWong99/quill/pkg/provider/llm"
	"github.com/MrWong99/quill/pkg/provider/refine"
	"github.com/MrWong99/quill/pkg/types"
)

const defaultTemperature = 0.0

const systemPrompt = `You are a punctuation restoration assistant.

Your task: add missing punctuation and fix capitalisation in the sentence you are given.

Rules:
- Do NOT add, remove, reorder or replace words.
- Do NOT fix spelling or grammar.
- Only change punctuation marks and the case of letters.
- If the sentence is already correct, return it unchanged.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"text": "<the sentence with restored punctuation>"}`

// response is the JSON structure the model is asked to return.
type response struct {
	Text string `json:"text"`
}

// Option is a functional option for configuring a [Refiner].
type Option func(*Refiner)

// WithTemperature sets the sampling temperature. Default: 0.
func WithTemperature(temp float64) Option {
	return func(r *Refiner) { r.temperature = temp }
}

// WithoutGuard disables reverting word-level changes.
func WithoutGuard() Option {
	return func(r *Refiner) { r.guard = false }
}

// Refiner restores punctuation using a chat model. It is safe for concurrent
// use.
type Refiner struct {
	llm         llm.Provider
	temperature float64
	guard       bool
}

var _ refine.Provider = (*Refiner)(nil)

// New returns a [Refiner] backed by provider.
func New(provider llm.Provider, opts ...Option) *Refiner {
	r := &Refiner{
		llm:         provider,
		temperature: defaultTemperature,
		guard:       true,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Refine sends text to the model and returns its punctuated form. Unparseable
// answers wrap [refine.ErrMalformedResponse]; an empty answer wraps
// [refine.ErrEmptyResult].
func (r *Refiner) Refine(ctx context.Context, text string) (string, error) {
	req := llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Temperature:  r.temperature,
		// Room for the JSON envelope and added punctuation.
		MaxTokens: 2*llm.EstimateTokens(text) + 16,
		Messages: []types.Message{
			{Role: llm.RoleUser, Content: text},
		},
	}

	resp, err := r.llm.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("llmrefine: complete: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("llmrefine: %w: nil completion", refine.ErrMalformedResponse)
	}

	refined, err := parseResponse(resp.Content)
	if err != nil {
		return "", err
	}
	if r.guard {
		refined = Guard(text, refined)
	}
	return refined, nil
}

// parseResponse extracts the refined text from the model output.
func parseResponse(content string) (string, error) {
	var resp response
	if err := json.Unmarshal([]byte(stripMarkdown(content)), &resp); err != nil {
		return "", fmt.Errorf("llmrefine: %w: %w", refine.ErrMalformedResponse, err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("llmrefine: %w", refine.ErrEmptyResult)
	}
	return text, nil
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models wrap around JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
