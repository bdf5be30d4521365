package store

import "sync"

// MergeFunc decides the value stored when an existing key is upserted again
type MergeFunc[V any] func(existing, incoming V) V

// Option configures a Recency store
type Option[K comparable, V any] func(*Recency[K, V])

// WithMerge sets the function used to combine an existing value with an incoming one.
// Without it the incoming value replaces the existing one.
func WithMerge[K comparable, V any](merge MergeFunc[V]) Option[K, V] {
	return func(r *Recency[K, V]) {
		r.merge = merge
	}
}

// Recency is a capacity-bounded, key-deduplicated sequence ordered newest first.
//
// Every mutation is applied under a single lock acquisition, so concurrent
// producers observe each Upsert or Replace as one atomic step. Reads return
// copies and never expose the internal slices.
type Recency[K comparable, V any] struct {
	mu       sync.RWMutex
	capacity int
	keys     []K // index 0 is the newest entry
	values   map[K]V
	merge    MergeFunc[V]
	version  uint64
}

// NewRecency creates an empty store holding at most capacity entries.
// A non-positive capacity is treated as 1.
func NewRecency[K comparable, V any](capacity int, opts ...Option[K, V]) *Recency[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	r := &Recency[K, V]{
		capacity: capacity,
		keys:     make([]K, 0, capacity+1),
		values:   make(map[K]V, capacity+1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Upsert replaces the value of an existing key in place, keeping its position,
// or inserts a new key at the head and evicts the oldest entry beyond capacity.
// It reports whether the key was inserted.
func (r *Recency[K, V]) Upsert(key K, value V) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.version++

	if existing, ok := r.values[key]; ok {
		if r.merge != nil {
			value = r.merge(existing, value)
		}
		r.values[key] = value
		return false
	}

	r.keys = append(r.keys, key)
	copy(r.keys[1:], r.keys[:len(r.keys)-1])
	r.keys[0] = key
	r.values[key] = value

	for len(r.keys) > r.capacity {
		tail := r.keys[len(r.keys)-1]
		r.keys = r.keys[:len(r.keys)-1]
		delete(r.values, tail)
	}

	return true
}

// Replace atomically sets the whole content. Entries are given newest first;
// later duplicates of a key are ignored and the result is truncated to capacity.
func (r *Recency[K, V]) Replace(keys []K, values []V) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.version++
	r.keys = r.keys[:0]
	r.values = make(map[K]V, r.capacity+1)

	for i, key := range keys {
		if i >= len(values) || len(r.keys) == r.capacity {
			break
		}
		if _, dup := r.values[key]; dup {
			continue
		}
		r.keys = append(r.keys, key)
		r.values[key] = values[i]
	}
}

// Reset empties the store
func (r *Recency[K, V]) Reset() {
	r.Replace(nil, nil)
}

// Snapshot returns the current values, newest first
func (r *Recency[K, V]) Snapshot() []V {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]V, len(r.keys))
	for i, key := range r.keys {
		out[i] = r.values[key]
	}
	return out
}

// Keys returns the current keys, newest first
func (r *Recency[K, V]) Keys() []K {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]K, len(r.keys))
	copy(out, r.keys)
	return out
}

// Get returns the value stored for key
func (r *Recency[K, V]) Get(key K) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[key]
	return v, ok
}

// Contains reports whether key is currently present
func (r *Recency[K, V]) Contains(key K) bool {
	_, ok := r.Get(key)
	return ok
}

// Len returns the number of entries
func (r *Recency[K, V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys)
}

// Cap returns the capacity
func (r *Recency[K, V]) Cap() int {
	return r.capacity
}

// Version increases on every mutation
func (r *Recency[K, V]) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}
