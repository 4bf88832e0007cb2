// Package registry provides a mutex guarded map of in-flight transfers
// keyed by URL or request id.
//
// The lock only ever covers the map operation itself. Callers must not
// hold on to a registry while calling into a transport session or a
// listener, and the registry never calls out while locked.
package registry

import (
	"sort"
	"sync"
)

// Registry is a thread-safe key to item map. One registry exists per
// traffic class.
type Registry[V comparable] struct {
	mu    sync.Mutex
	items map[string]V
}

// New returns an empty Registry.
func New[V comparable]() *Registry[V] {
	return &Registry[V]{
		items: make(map[string]V),
	}
}

// Get returns the item stored under key.
func (r *Registry[V]) Get(key string) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.items[key]
	return v, ok
}

// Put stores v under key, replacing any previous item.
func (r *Registry[V]) Put(key string, v V) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[key] = v
}

// LoadOrStore returns the existing item for key if present. Otherwise it
// stores v and returns it. loaded reports whether an existing item was found.
func (r *Registry[V]) LoadOrStore(key string, v V) (actual V, loaded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.items[key]; ok {
		return existing, true
	}

	r.items[key] = v
	return v, false
}

// Remove deletes key and returns the item that was stored, if any.
func (r *Registry[V]) Remove(key string) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.items[key]
	delete(r.items, key)
	return v, ok
}

// CompareAndDelete deletes key only when it still maps to old, so a
// finalizing item never evicts a newer item registered under the same key.
func (r *Registry[V]) CompareAndDelete(key string, old V) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.items[key]
	if !ok || v != old {
		return false
	}

	delete(r.items, key)
	return true
}

// Len returns the number of registered items.
func (r *Registry[V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.items)
}

// Keys returns the registered keys in sorted order.
func (r *Registry[V]) Keys() []string {
	r.mu.Lock()
	keys := make([]string, 0, len(r.items))
	for k := range r.items {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of the current contents.
func (r *Registry[V]) Snapshot() map[string]V {
	r.mu.Lock()
	defer r.mu.Unlock()

	cpy := make(map[string]V, len(r.items))
	for k, v := range r.items {
		cpy[k] = v
	}
	return cpy
}
