// Package syncmap provides a map guarded by a mutex for values created on
// first use.
package syncmap

import "sync"

// Map is a regular map but synchronized with a mutex.
type Map[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]V
}

// New returns a new syncmap.
func New[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{
		m: make(map[K]V),
	}
}

// Load returns the value for a key.
func (m *Map[K, V]) Load(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.m[key]
	return v, ok
}

// LoadOrStore returns the value for a key if it is present. Otherwise, it
// stores and returns the result of calling mk. mk is called with the map
// locked and must not use the map.
func (m *Map[K, V]) LoadOrStore(key K, mk func() V) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.m[key]; ok {
		return v, true
	}
	v := mk()
	m.m[key] = v
	return v, false
}
