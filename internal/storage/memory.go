package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps collections in process memory. It is the default
// backend for simulation mode and the workhorse of the test suite.
type MemoryStore struct {
	mu     sync.Mutex
	locks  map[Collection]*sync.Mutex
	data   map[Collection][]byte
	closed bool
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks: make(map[Collection]*sync.Mutex),
		data:  make(map[Collection][]byte),
	}
}

func (m *MemoryStore) lockFor(col Collection) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[col]
	if !ok {
		l = &sync.Mutex{}
		m.locks[col] = l
	}
	return l
}

func (m *MemoryStore) ReadCollection(ctx context.Context, col Collection) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := m.lockFor(col)
	l.Lock()
	defer l.Unlock()

	raw, ok := m.data[col]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

func (m *MemoryStore) UpdateCollection(ctx context.Context, col Collection, fn MutateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := m.lockFor(col)
	l.Lock()
	defer l.Unlock()

	var current []byte
	if raw, ok := m.data[col]; ok {
		current = make([]byte, len(raw))
		copy(current, raw)
	}

	next, err := fn(current)
	if err != nil {
		return err
	}
	m.data[col] = next
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
