package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bcpc-build/bcpc-build/pkg/types"
)

var _ Store = &MemoryStore{}

// MemoryStore is a map-backed Store used by tests.
type MemoryStore struct {
	mu       sync.RWMutex
	units    map[string]*types.BuildUnit
	names    map[string]string
	versions map[string][]HistoricalVersion
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		units:    make(map[string]*types.BuildUnit),
		names:    make(map[string]string),
		versions: make(map[string][]HistoricalVersion),
	}
}

// Open is a no-op.
func (m *MemoryStore) Open(string) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) Create(ctx context.Context, unit *types.BuildUnit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.names[unit.Name]; ok {
		return fmt.Errorf("%w: %s", ErrNameConflict, unit.Name)
	}
	if _, ok := m.units[unit.ID]; ok {
		return fmt.Errorf("build unit %s already exists", unit.ID)
	}
	m.units[unit.ID] = unit.Clone()
	m.names[unit.Name] = unit.ID
	m.record(unit)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*types.BuildUnit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.units[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return u.Clone(), nil
}

func (m *MemoryStore) GetByName(ctx context.Context, name string) (*types.BuildUnit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.names[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return m.units[id].Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, unit *types.BuildUnit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.units[unit.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, unit.ID)
	}
	if current.Name != unit.Name {
		if _, taken := m.names[unit.Name]; taken {
			return fmt.Errorf("%w: %s", ErrNameConflict, unit.Name)
		}
		delete(m.names, current.Name)
		m.names[unit.Name] = unit.ID
	}
	m.units[unit.ID] = unit.Clone()
	m.record(unit)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.units[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.units, id)
	delete(m.names, current.Name)
	delete(m.versions, id)
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*types.BuildUnit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	units := make([]*types.BuildUnit, 0, len(m.units))
	for _, u := range m.units {
		units = append(units, u.Clone())
	}
	return units, nil
}

func (m *MemoryStore) History(ctx context.Context, id string) ([]HistoricalVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.versions[id]
	out := make([]HistoricalVersion, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		out = append(out, src[i])
	}
	return out, nil
}

func (m *MemoryStore) record(unit *types.BuildUnit) {
	now := time.Now()
	m.versions[unit.ID] = append(m.versions[unit.ID], HistoricalVersion{
		Version:   newVersionID(now),
		Timestamp: now,
		Unit:      unit.Clone(),
	})
}
