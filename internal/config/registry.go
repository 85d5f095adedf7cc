package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/quill/pkg/provider/llm"
	"github.com/MrWong99/quill/pkg/provider/refine"
	"github.com/MrWong99/quill/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	refine map[string]func(ProviderEntry) (refine.Provider, error)
	llm    map[string]func(ProviderEntry) (llm.Provider, error)
	stt    map[string]func(ProviderEntry) (stt.Recognizer, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		refine: make(map[string]func(ProviderEntry) (refine.Provider, error)),
		llm:    make(map[string]func(ProviderEntry) (llm.Provider, error)),
		stt:    make(map[string]func(ProviderEntry) (stt.Recognizer, error)),
	}
}

// RegisterRefine registers a refinement provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterRefine(name string, factory func(ProviderEntry) (refine.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refine[name] = factory
}

// RegisterLLM registers a chat-model provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterSTT registers a speech recognizer factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Recognizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// CreateRefine instantiates a refinement provider using the factory registered
// under entry.Name. Returns [ErrProviderNotRegistered] if there is none.
func (r *Registry) CreateRefine(entry ProviderEntry) (refine.Provider, error) {
	return create(r, r.refine, "refine", entry)
}

// CreateLLM instantiates a chat-model provider using the factory registered
// under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(r, r.llm, "llm", entry)
}

// CreateSTT instantiates a speech recognizer using the factory registered
// under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Recognizer, error) {
	return create(r, r.stt, "stt", entry)
}

// Names returns the sorted provider names registered for kind ("refine",
// "llm" or "stt").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	switch kind {
	case "refine":
		names = keys(r.refine)
	case "llm":
		names = keys(r.llm)
	case "stt":
		names = keys(r.stt)
	}
	slices.Sort(names)
	return names
}

func create[T any](r *Registry, m map[string]func(ProviderEntry) (T, error), kind string, entry ProviderEntry) (T, error) {
	r.mu.RLock()
	factory, ok := m[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
