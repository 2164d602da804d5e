// Package memory provides an in-memory KV store for tests.
package memory

import (
	"context"
	"sync"

	"github.com/xinyao/wuxing-premium/store"
)

// Store is a mutex-guarded map implementing store.KV.
type Store struct {
	mu     sync.RWMutex
	values map[string]string
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{values: make(map[string]string)}
}

// Get implements store.KV.
func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.values[key]; ok {
		return v, nil
	}
	return "", store.ErrNotFound
}

// Put implements store.KV.
func (s *Store) Put(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return nil
}

// Delete implements store.KV.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

// Close implements store.KV.
func (s *Store) Close() error { return nil }
