package metadata

import (
	"context"
	"sync"
	"time"
)

// Cache keeps one Set per workspace for a bounded time. Concurrent misses for
// the same workspace share a single load.
type Cache struct {
	provider Provider
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	set      *Set
	loadedAt time.Time
	loading  chan struct{}
	err      error
}

// NewCache wraps provider. A ttl of zero disables caching.
func NewCache(provider Provider, ttl time.Duration) *Cache {
	return &Cache{
		provider: provider,
		ttl:      ttl,
		now:      time.Now,
		entries:  make(map[string]*cacheEntry),
	}
}

// ListObjectMetadata returns the cached set for workspaceID, loading it when
// missing or expired.
func (c *Cache) ListObjectMetadata(ctx context.Context, workspaceID string) (*Set, error) {
	if c.ttl <= 0 {
		return c.provider.ListObjectMetadata(ctx, workspaceID)
	}

	c.mu.Lock()
	entry, ok := c.entries[workspaceID]
	if ok && entry.loading == nil && c.now().Sub(entry.loadedAt) < c.ttl {
		c.mu.Unlock()
		return entry.set, nil
	}
	if ok && entry.loading != nil {
		wait := entry.loading
		c.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return c.ListObjectMetadata(ctx, workspaceID)
	}

	entry = &cacheEntry{loading: make(chan struct{})}
	c.entries[workspaceID] = entry
	c.mu.Unlock()

	set, err := c.provider.ListObjectMetadata(ctx, workspaceID)

	c.mu.Lock()
	done := entry.loading
	entry.loading = nil
	if err != nil {
		delete(c.entries, workspaceID)
	} else {
		entry.set = set
		entry.loadedAt = c.now()
	}
	c.mu.Unlock()
	close(done)

	return set, err
}

// Invalidate drops the cached set of a workspace, e.g. after a metadata change.
func (c *Cache) Invalidate(workspaceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[workspaceID]; ok && entry.loading == nil {
		delete(c.entries, workspaceID)
	}
}
