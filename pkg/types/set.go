package types

import "sync"

// Set is a concurrency-safe set of comparable values.
type Set[T comparable] struct {
	mu   sync.RWMutex
	keys map[T]struct{}
}

func NewSet[T comparable](keys ...T) *Set[T] {
	s := &Set[T]{keys: make(map[T]struct{}, len(keys))}
	for _, key := range keys {
		s.keys[key] = struct{}{}
	}
	return s
}

func (s *Set[T]) Add(keys ...T) *Set[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		s.keys[key] = struct{}{}
	}
	return s
}

// Delete removes key from the set and reports whether it was present.
func (s *Set[T]) Delete(key T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[key]; !ok {
		return false
	}
	delete(s.keys, key)
	return true
}

func (s *Set[T]) Has(key T) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.keys[key]
	return ok
}

func (s *Set[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.keys)
}

// Keys returns a snapshot of the set members.
func (s *Set[T]) Keys() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]T, 0, len(s.keys))
	for key := range s.keys {
		keys = append(keys, key)
	}
	return keys
}

func (s *Set[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys = map[T]struct{}{}
}
