// Package memcache is the in-memory byte cache the transfer manager fills
// from finished downloads. It is a cost bounded ristretto cache where the
// cost of an entry is its length.
package memcache

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache holds byte slices by key up to a total size.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

// New returns a cache holding at most maxBytes.
func New(maxBytes int64) (*Cache, error) {
	if maxBytes <= 0 {
		return nil, errors.New("memcache: max bytes must be greater than zero")
	}

	counters := max(maxBytes/1024, 1000)
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: counters,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("memcache: %w", err)
	}

	return &Cache{c: c}, nil
}

// Get returns the value stored under key.
func (c *Cache) Get(key string) ([]byte, bool) {
	return c.c.Get(key)
}

// Set stores value under key and waits until it is visible to Get. It
// reports false when the cache rejected the entry.
func (c *Cache) Set(key string, value []byte) bool {
	ok := c.c.Set(key, value, int64(len(value)))
	c.c.Wait()
	return ok
}

func (c *Cache) Delete(key string) {
	c.c.Del(key)
}

func (c *Cache) Clear() {
	c.c.Clear()
}

func (c *Cache) Close() {
	c.c.Close()
}
