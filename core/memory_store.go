package core

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// MemoryStateStore is a process-local StateStore. It backs tests and the
// insecure local development mode; production deployments use one of the
// persistent backends.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	counter uint64
}

type memoryEntry struct {
	value   []byte
	version string
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{entries: make(map[string]memoryEntry)}
}

func (s *MemoryStateStore) Get(_ context.Context, key string) ([]byte, string, bool, error) {
	if s == nil {
		return nil, "", false, fmt.Errorf("core: memory state store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, "", false, nil
	}
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, entry.version, true, nil
}

func (s *MemoryStateStore) Put(_ context.Context, key string, value []byte) error {
	if s == nil {
		return fmt.Errorf("core: memory state store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store(key, value)
	return nil
}

func (s *MemoryStateStore) CompareAndSwap(_ context.Context, key string, expectedVersion string, value []byte) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("core: memory state store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[key]
	if expectedVersion == "" {
		if exists {
			return false, nil
		}
		s.store(key, value)
		return true, nil
	}
	if !exists || entry.version != expectedVersion {
		return false, nil
	}
	s.store(key, value)
	return true, nil
}

func (s *MemoryStateStore) Delete(_ context.Context, key string) error {
	if s == nil {
		return fmt.Errorf("core: memory state store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStateStore) Keys(_ context.Context, prefix string) ([]string, error) {
	if s == nil {
		return nil, fmt.Errorf("core: memory state store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStateStore) store(key string, value []byte) {
	copied := make([]byte, len(value))
	copy(copied, value)
	s.counter++
	s.entries[key] = memoryEntry{value: copied, version: strconv.FormatUint(s.counter, 10)}
}

var (
	_ StateStore   = (*MemoryStateStore)(nil)
	_ PrefixLister = (*MemoryStateStore)(nil)
)
