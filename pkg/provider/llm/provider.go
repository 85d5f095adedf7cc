// Package llm defines the Provider interface for chat-model backends.
//
// Quill only needs single-shot completions: a system prompt plus one user
// message in, one assistant message out. A provider wraps a remote or local
// model API (OpenAI, Anthropic, a local Ollama instance, ...) behind that
// contract so the refinement layer does not couple to any SDK.
//
// Implementations must be safe for concurrent use.
package llm

import (
	"context"
	"unicode/utf8"

	"github.com/MrWong99/quill/pkg/types"
)

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Usage holds token accounting reported by the backend. Counts are in the
// model's native token unit.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is sent ahead of Messages with the "system" role. Empty
	// means no system message.
	SystemPrompt string

	// Messages is the ordered conversation. Roles are [RoleSystem],
	// [RoleUser] or [RoleAssistant].
	Messages []types.Message

	// Temperature in [0.0, 2.0]. Zero leaves the provider default in place.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int
}

// CompletionResponse is the assistant reply.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any chat-model backend.
type Provider interface {
	// Complete sends req to the model and waits for the full reply. It
	// returns promptly with ctx.Err() wrapped when ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// EstimateTokens approximates the token count of s at roughly four runes per
// token. It never undercounts by more than a few tokens for English prose.
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return 0
	}
	return (n+3)/4 + 1
}
