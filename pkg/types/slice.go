package types

import "sync"

// Slice is a concurrency-safe append-only slice.
type Slice[T any] struct {
	mu    sync.RWMutex
	items []T
}

func NewSlice[T any](items ...T) *Slice[T] {
	return &Slice[T]{items: append([]T{}, items...)}
}

func (s *Slice[T]) Push(items ...T) *Slice[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = append(s.items, items...)
	return s
}

// All returns a snapshot of the slice contents.
func (s *Slice[T]) All() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]T{}, s.items...)
}

func (s *Slice[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.items)
}

func (s *Slice[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = nil
}
