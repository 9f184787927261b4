package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nventro/ledgerlens/pkg/provider/embeddings"
	"github.com/nventro/ledgerlens/pkg/provider/textgen"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	embeddings map[string]func(ProviderEntry) (embeddings.Provider, error)
	textgen    map[string]func(ProviderEntry) (textgen.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		embeddings: make(map[string]func(ProviderEntry) (embeddings.Provider, error)),
		textgen:    make(map[string]func(ProviderEntry) (textgen.Provider, error)),
	}
}

// RegisterEmbeddings registers an embeddings provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// RegisterTextGen registers a text generation provider factory under name.
func (r *Registry) RegisterTextGen(name string, factory func(ProviderEntry) (textgen.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.textgen[name] = factory
}

// CreateEmbeddings instantiates an embeddings provider using the factory
// registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embeddings[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTextGen instantiates a text generation provider using the factory
// registered under entry.Name.
func (r *Registry) CreateTextGen(entry ProviderEntry) (textgen.Provider, error) {
	r.mu.RLock()
	factory, ok := r.textgen[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: textgen/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
