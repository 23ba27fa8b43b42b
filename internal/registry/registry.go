// Package registry provides the room-code keyed table that owns live
// auction and tournament state.
package registry

import (
	"errors"
	"sort"
	"sync"
)

// ErrExists is returned by Create when the code is already taken.
var ErrExists = errors.New("room code already registered")

// Registry maps room codes to values. It is safe for concurrent use.
type Registry[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

// New returns an empty Registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{items: make(map[string]T)}
}

// Create stores v under code unless the code is already present.
func (r *Registry[T]) Create(code string, v T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[code]; ok {
		return ErrExists
	}
	r.items[code] = v
	return nil
}

// Get returns the value stored under code.
func (r *Registry[T]) Get(code string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[code]
	return v, ok
}

// Remove deletes code and reports whether it was present.
func (r *Registry[T]) Remove(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.items[code]
	delete(r.items, code)
	return ok
}

// Len returns the number of registered codes.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Codes returns the registered codes in sorted order.
func (r *Registry[T]) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.items))
	for c := range r.items {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}
