package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/takejohn/voicevox-core/internal/userdict"
	"github.com/takejohn/voicevox-core/pkg/provider/inference"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// BackendFactory builds an inference backend from its config entry.
type BackendFactory func(BackendEntry) (inference.Provider, error)

// StoreFactory builds a user dictionary store. Stores that hold resources
// should also implement io.Closer.
type StoreFactory func(context.Context, UserDictConfig) (userdict.Store, error)

// Registry maps backend and store names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]BackendFactory
	stores   map[StoreKind]StoreFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]BackendFactory),
		stores:   make(map[StoreKind]StoreFactory),
	}
}

// RegisterBackend registers an inference backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterBackend(name string, factory BackendFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = factory
}

// RegisterStore registers a user dictionary store factory for kind.
func (r *Registry) RegisterStore(kind StoreKind, factory StoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[kind] = factory
}

// CreateBackend instantiates the backend registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateBackend(entry BackendEntry) (inference.Provider, error) {
	r.mu.RLock()
	factory, ok := r.backends[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: backend/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateStore instantiates the store registered for cfg.Store.
func (r *Registry) CreateStore(ctx context.Context, cfg UserDictConfig) (userdict.Store, error) {
	r.mu.RLock()
	factory, ok := r.stores[cfg.Store]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: store/%q", ErrProviderNotRegistered, cfg.Store)
	}
	return factory(ctx, cfg)
}
