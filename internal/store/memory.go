package store

import (
	"context"
	"sync"
)

// Memory is an in-process Store. It backs tests and storeless dev runs;
// contents are lost on restart.
type Memory struct {
	mu   sync.Mutex
	docs map[string]Snapshot
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string]Snapshot)}
}

// Seed installs a snapshot verbatim, version included.
func (m *Memory) Seed(documentID string, snap Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[documentID] = snap
}

func (m *Memory) Fetch(_ context.Context, documentID string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.docs[documentID]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return snap, nil
}

func (m *Memory) Persist(_ context.Context, documentID string, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.docs[documentID]
	m.docs[documentID] = Snapshot{Content: content, Version: prev.Version + 1}
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
