// Package history keeps the most recent command results in memory.
package history

import "sync"

// DefaultSize is the number of entries kept when no size is given.
const DefaultSize = 50

// Store is a bounded, concurrency-safe list of entries, newest first.
type Store[T any] struct {
	mu      sync.RWMutex
	size    int
	entries []T // oldest first
}

// New returns a Store holding at most size entries. size <= 0 selects
// [DefaultSize].
func New[T any](size int) *Store[T] {
	if size <= 0 {
		size = DefaultSize
	}
	return &Store[T]{size: size}
}

// Add appends v, evicting the oldest entry when full.
func (s *Store[T]) Add(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == s.size {
		copy(s.entries, s.entries[1:])
		s.entries = s.entries[:len(s.entries)-1]
	}
	s.entries = append(s.entries, v)
}

// List returns a copy of the entries, newest first.
func (s *Store[T]) List() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, len(s.entries))
	for i, e := range s.entries {
		out[len(out)-1-i] = e
	}
	return out
}

// Len returns the number of entries.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Resize changes the capacity, dropping the oldest entries if needed.
func (s *Store[T]) Resize(size int) {
	if size <= 0 {
		size = DefaultSize
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.size = size
	if n := len(s.entries); n > size {
		s.entries = append([]T(nil), s.entries[n-size:]...)
	}
}

// Clear removes all entries.
func (s *Store[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}
