package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/echonote/engine/pkg/provider/stt"
	"github.com/echonote/engine/pkg/provider/translate"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// cloud-backed provider kind. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	speech      map[string]func(ProviderEntry) (stt.Provider, error)
	translation map[string]func(ProviderEntry) (translate.Engine, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		speech:      make(map[string]func(ProviderEntry) (stt.Provider, error)),
		translation: make(map[string]func(ProviderEntry) (translate.Engine, error)),
	}
}

// RegisterSpeech registers an STT provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSpeech(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speech[name] = factory
}

// RegisterTranslation registers a translation engine factory under name.
func (r *Registry) RegisterTranslation(name string, factory func(ProviderEntry) (translate.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.translation[name] = factory
}

// CreateSpeech instantiates an STT provider using the factory registered
// under entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateSpeech(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.speech[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: speech/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTranslation instantiates a translation engine using the factory
// registered under entry.Name.
func (r *Registry) CreateTranslation(entry ProviderEntry) (translate.Engine, error) {
	r.mu.RLock()
	factory, ok := r.translation[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: translation/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
