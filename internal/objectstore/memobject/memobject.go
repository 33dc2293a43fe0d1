// Package memobject is an in-memory object store for tests and the demo
// daemon.
package memobject

import (
	"context"
	"sync"
)

type Store struct {
	mu      sync.Mutex
	objects map[string][]byte

	// FailPuts makes every Put return this error; test hook.
	FailPuts error
}

func New() *Store {
	return &Store{objects: make(map[string][]byte)}
}

func (s *Store) Put(_ context.Context, key, _ string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailPuts != nil {
		return "", s.FailPuts
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.objects[key] = cp
	return "mem://" + key, nil
}

// Get returns a stored object; test helper.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	return b, ok
}
