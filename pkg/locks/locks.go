// Package locks provides keyed mutual exclusion with an in-process implementation
// and a Redis implementation for deployments that run more than one replica.
package locks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/JaimeStill/assay/pkg/lifecycle"
)

// ErrUnavailable indicates the lock backend could not be reached.
var ErrUnavailable = errors.New("lock backend unavailable")

// Unlock releases a held lock. Calling it more than once is a no-op.
type Unlock func()

// System serializes critical sections by key.
type System interface {
	// Lock blocks until the lock for key is held or ctx is done.
	Lock(ctx context.Context, key string) (Unlock, error)
	// Start registers startup and shutdown hooks with the lifecycle coordinator.
	Start(lc *lifecycle.Coordinator) error
}

// New creates the lock system selected by cfg.Backend.
func New(cfg *Config, logger *slog.Logger) (System, error) {
	switch cfg.Backend {
	case BackendMemory:
		return NewMemory(), nil
	case BackendRedis:
		return NewRedis(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown lock backend: %q", cfg.Backend)
	}
}

type entry struct {
	ch   chan struct{}
	refs int
}

type memory struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewMemory creates an in-process keyed lock. Entries are released once no
// caller holds or waits on them.
func NewMemory() System {
	return &memory{entries: make(map[string]*entry)}
}

func (m *memory) Start(lc *lifecycle.Coordinator) error {
	return nil
}

func (m *memory) Lock(ctx context.Context, key string) (Unlock, error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		m.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			m.release(key, e)
		})
	}, nil
}

func (m *memory) release(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}
