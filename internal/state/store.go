// Package state persists per-resource lifecycle records. The store is the
// single source of truth for what has been applied; the execution engine is
// its only writer and every put is atomic with respect to one resource id.
package state

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/kubeforge-io/kubeforge/internal/ir"
)

// ErrNotFound is returned by Get for an id with no record.
var ErrNotFound = errors.New("resource state not found")

// Store is the durable record of resource states.
type Store interface {
	// Get returns the record for id, or ErrNotFound.
	Get(ctx context.Context, id string) (*ir.ResourceState, error)

	// Put atomically writes the record for its id.
	Put(ctx context.Context, st *ir.ResourceState) error

	// Snapshot lists all records ordered by id.
	Snapshot(ctx context.Context) ([]*ir.ResourceState, error)

	// Close releases backing resources.
	Close() error
}

// Locker guards against concurrent writers on the same state.
// Backends that cannot lock may return nil from both methods.
type Locker interface {
	Lock() error
	Unlock() error
}

// Memory is a non-durable store for tests and dry runs.
type Memory struct {
	mu      sync.Mutex
	records map[string]*ir.ResourceState
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*ir.ResourceState)}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, id string) (*ir.ResourceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return st.Clone(), nil
}

// Put implements Store.
func (m *Memory) Put(_ context.Context, st *ir.ResourceState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[st.ID] = st.Clone()
	return nil
}

// Snapshot implements Store.
func (m *Memory) Snapshot(_ context.Context) ([]*ir.ResourceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ir.ResourceState, 0, len(m.records))
	for _, st := range m.records {
		out = append(out, st.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
