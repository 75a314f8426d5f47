package snapshot

import (
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore is a volatile SnapshotStore keeping encoded snapshots in a
// process-local map. Best suited for tests and demos; snapshots survive
// manager restarts within one process, which is exactly what restart tests
// need.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]json.RawMessage
}

// NewMemoryStore constructs an empty in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string]json.RawMessage)}
}

// Read unmarshals the named snapshot into v.
func (s *MemoryStore) Read(name string, v any) (bool, error) {
	s.mu.RLock()
	data, ok := s.snapshots[name]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode snapshot %q: %w", name, err)
	}
	return true, nil
}

// Write stores the encoded form of v under name.
func (s *MemoryStore) Write(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode snapshot %q: %w", name, err)
	}
	s.mu.Lock()
	s.snapshots[name] = data
	s.mu.Unlock()
	return nil
}
