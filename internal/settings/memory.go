package settings

import (
	"context"
	"sync"
)

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// MemStore is an in-memory [Store]. It backs deployments without a database
// and doubles as the test fixture.
type MemStore struct {
	mu     sync.RWMutex
	scopes map[string]map[string][]byte
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{scopes: make(map[string]map[string][]byte)}
}

// Get implements [Store].
func (s *MemStore) Get(_ context.Context, scope, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.scopes[scope][key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Set implements [Store].
func (s *MemStore) Set(_ context.Context, scope, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.scopes[scope]
	if !ok {
		m = make(map[string][]byte)
		s.scopes[scope] = m
	}
	v := make([]byte, len(value))
	copy(v, value)
	m[key] = v
	return nil
}

// Delete implements [Store].
func (s *MemStore) Delete(_ context.Context, scope, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scopes[scope], key)
	return nil
}

// List implements [Store].
func (s *MemStore) List(_ context.Context, scope string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte, len(s.scopes[scope]))
	for k, v := range s.scopes[scope] {
		c := make([]byte, len(v))
		copy(c, v)
		out[k] = c
	}
	return out, nil
}
