// Package kvtest provides an in-memory kv.Store for tests, with optional
// per-operation fault injection.
package kvtest

import (
	"context"
	"sync"

	"github.com/beewell/todayfeed/internal/kv"
)

// Store is a map-backed kv.Store. Safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	data   map[string][]byte
	closed bool

	// FailGet/FailSet/FailDelete, when non-nil, are consulted before each
	// operation; returning a non-nil error makes the call fail.
	FailGet    func(key string) error
	FailSet    func(key string) error
	FailDelete func(key string) error
	FailHealth error
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailGet != nil {
		if err := s.FailGet(key); err != nil {
			return nil, err
		}
	}
	v, ok := s.data[key]
	if !ok {
		return nil, kv.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSet != nil {
		if err := s.FailSet(key); err != nil {
			return err
		}
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	s.data[key] = cp
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailDelete != nil {
		if err := s.FailDelete(key); err != nil {
			return err
		}
	}
	delete(s.data, key)
	return nil
}

func (s *Store) HealthCheck(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FailHealth
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// SetFailHealth swaps the health check error while the store is in use.
func (s *Store) SetFailHealth(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailHealth = err
}

// Len reports how many keys hold values.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Has reports whether key holds a value.
func (s *Store) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok
}
