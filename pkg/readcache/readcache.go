package readcache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Fetcher loads a single entity by id.
type Fetcher[T any] func(ctx context.Context, id string) (T, error)

// Cache is a read-through cache keyed by entity id. Get never blocks;
// Ensure fetches only the missing ids, deduplicating concurrent in-flight
// fetches per id. Entries never expire: metadata entities are effectively
// immutable within a process lifetime and a restart is the invalidation
// path. Construct one per server instance and inject it; there is no
// package-level singleton.
type Cache[T any] struct {
	mu      sync.RWMutex
	entries map[string]T
	group   singleflight.Group
	fetch   Fetcher[T]
}

// New constructs a cache around the fetcher.
func New[T any](fetch Fetcher[T]) *Cache[T] {
	return &Cache[T]{
		entries: make(map[string]T),
		fetch:   fetch,
	}
}

// Get returns the cached entity and whether it is present. Synchronous,
// never triggers a fetch.
func (c *Cache[T]) Get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[id]
	return v, ok
}

// Len returns the number of cached entries.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Ensure makes a best effort to populate the cache for every id in ids.
// Missing ids are fetched concurrently; overlapping Ensure calls share one
// in-flight fetch per id. Individual fetch failures are dropped silently
// (the id stays absent and callers render a placeholder label); Ensure only
// returns an error when the context is cancelled.
func (c *Cache[T]) Ensure(ctx context.Context, ids []string) error {
	missing := c.missing(ids)
	if len(missing) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, id := range missing {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err, _ := c.group.Do(id, func() (interface{}, error) {
				return c.fetch(ctx, id)
			})
			if err != nil {
				return
			}
			c.mu.Lock()
			c.entries[id] = v.(T)
			c.mu.Unlock()
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Put stores an entry directly, used when a write path already holds the
// fresh entity.
func (c *Cache[T]) Put(id string, value T) {
	c.mu.Lock()
	c.entries[id] = value
	c.mu.Unlock()
}

func (c *Cache[T]) missing(ids []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]struct{}, len(ids))
	var missing []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := c.entries[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}
