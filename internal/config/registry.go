package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/shzanya/verificationBot/internal/results"
)

// ErrStoreNotRegistered is returned by [Registry.CreateStore] when no factory
// has been registered for the configured driver.
var ErrStoreNotRegistered = errors.New("config: store driver not registered")

// StoreFactory opens a results store from its config section.
type StoreFactory func(ctx context.Context, cfg StoreConfig) (results.Store, error)

// Registry maps store driver names to their constructors. It is safe for
// concurrent use.
type Registry struct {
	mu     sync.RWMutex
	stores map[StoreDriver]StoreFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{stores: make(map[StoreDriver]StoreFactory)}
}

// NewDefaultRegistry returns a [Registry] with the built-in sqlite and
// postgres drivers.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterStore(StoreSQLite, func(ctx context.Context, cfg StoreConfig) (results.Store, error) {
		return results.OpenSQLite(ctx, cfg.DSN)
	})
	r.RegisterStore(StorePostgres, func(ctx context.Context, cfg StoreConfig) (results.Store, error) {
		return results.OpenPostgres(ctx, cfg.DSN)
	})
	return r
}

// RegisterStore registers a store factory under driver.
// Subsequent calls with the same driver overwrite the previous registration.
func (r *Registry) RegisterStore(driver StoreDriver, factory StoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[driver] = factory
}

// CreateStore opens the store selected by cfg.Driver.
// Returns [ErrStoreNotRegistered] if no factory has been registered for it.
func (r *Registry) CreateStore(ctx context.Context, cfg StoreConfig) (results.Store, error) {
	r.mu.RLock()
	factory, ok := r.stores[cfg.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrStoreNotRegistered, cfg.Driver)
	}
	return factory(ctx, cfg)
}

// Drivers returns the registered driver names in sorted order.
func (r *Registry) Drivers() []StoreDriver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]StoreDriver, 0, len(r.stores))
	for d := range r.stores {
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}
