package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/randalmurphal/ruleflow/pkg/ruleflow"
	"github.com/randalmurphal/ruleflow/pkg/ruleflow/destination"
)

// MemoryStore is an in-memory catalog. Values are copied on the way in and
// out so callers never share state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	flows     map[string]*ruleflow.Flow
	resources map[string]*destination.Resource
	closed    bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		flows:     make(map[string]*ruleflow.Flow),
		resources: make(map[string]*destination.Resource),
	}
}

// PutFlow implements Catalog.
func (m *MemoryStore) PutFlow(_ context.Context, flow *ruleflow.Flow) error {
	if flow == nil || flow.ID == "" {
		return ErrMissingID
	}
	stored, err := copyJSON(flow)
	if err != nil {
		return fmt.Errorf("put flow %s: %w", flow.ID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.flows[flow.ID] = stored
	return nil
}

// LoadFlow implements ruleflow.FlowLoader.
func (m *MemoryStore) LoadFlow(_ context.Context, id string) (*ruleflow.Flow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	flow, ok := m.flows[id]
	if !ok {
		return nil, fmt.Errorf("flow %q: %w", id, ErrNotFound)
	}
	return copyJSON(flow)
}

// PutResource implements Catalog.
func (m *MemoryStore) PutResource(_ context.Context, res *destination.Resource) error {
	if res == nil || res.ID == "" {
		return ErrMissingID
	}
	stored, err := copyJSON(res)
	if err != nil {
		return fmt.Errorf("put resource %s: %w", res.ID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.resources[res.ID] = stored
	return nil
}

// LoadResource implements destination.ResourceStore.
func (m *MemoryStore) LoadResource(_ context.Context, id string) (*destination.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	res, ok := m.resources[id]
	if !ok {
		return nil, fmt.Errorf("resource %q: %w", id, ErrNotFound)
	}
	return copyJSON(res)
}

// Close implements Catalog. It is idempotent.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
