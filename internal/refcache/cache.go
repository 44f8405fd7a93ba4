// Package refcache is a bounded, caller-owned cache of successful reference
// resolutions.
//
// An entry is trusted only while the directory generation that produced it is
// current; any load, unload, register or unregister makes it stale and forces
// a fresh resolution.
package refcache

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/udisondev/sceneref/internal/collection"
	"github.com/udisondev/sceneref/internal/ref"
	"github.com/udisondev/sceneref/internal/resolver"
)

type entry struct {
	obj collection.Object
	gen uint64
}

// Stats are cumulative cache counters.
type Stats struct {
	Hits   uint64
	Misses uint64
	Stale  uint64
}

// Cache memoizes Directory.FindFirst without an accept filter.
// Thread-safe.
type Cache struct {
	dir     *resolver.Directory
	entries *lru.Cache[ref.Reference, entry]

	hits   atomic.Uint64
	misses atomic.Uint64
	stale  atomic.Uint64
}

// New creates a cache holding up to size resolutions.
func New(dir *resolver.Directory, size int) (*Cache, error) {
	entries, err := lru.New[ref.Reference, entry](size)
	if err != nil {
		return nil, fmt.Errorf("creating resolution cache of size %d: %w", size, err)
	}
	return &Cache{dir: dir, entries: entries}, nil
}

// Resolve returns the live object for r, from cache when still current.
func (c *Cache) Resolve(r ref.Reference) (collection.Object, bool) {
	if r.IsNull() {
		return nil, false
	}

	// Generation читаем до резолва: если он изменится во время поиска,
	// запись просто окажется устаревшей.
	gen := c.dir.Generation()
	if e, ok := c.entries.Get(r); ok {
		if e.gen == gen {
			c.hits.Add(1)
			return e.obj, true
		}
		c.stale.Add(1)
		c.entries.Remove(r)
	} else {
		c.misses.Add(1)
	}

	obj, ok := c.dir.FindFirst(r, nil)
	if !ok {
		return nil, false
	}
	c.entries.Add(r, entry{obj: obj, gen: gen})
	return obj, true
}

// Invalidate drops the entry for r.
func (c *Cache) Invalidate(r ref.Reference) {
	c.entries.Remove(r)
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.entries.Purge()
}

// Len returns the number of cached entries, current or stale.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Stats returns the counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Stale:  c.stale.Load(),
	}
}
