package policy

import (
	"context"
	"sync"

	"github.com/ppiankov/actiongate/internal/model"
)

// CachedStore memoizes snapshots per tenant. Snapshots are immutable, so
// handing the same pointer to many sessions is safe; Invalidate only
// affects sessions opened afterwards.
type CachedStore struct {
	inner Store

	mu    sync.RWMutex
	cache map[string]*model.Policy
	// gen and epoch advance on invalidation; a load that raced one is
	// returned but not cached.
	gen   map[string]uint64
	epoch uint64
}

// NewCachedStore wraps inner with a snapshot cache.
func NewCachedStore(inner Store) *CachedStore {
	return &CachedStore{inner: inner, cache: make(map[string]*model.Policy), gen: make(map[string]uint64)}
}

// Load returns the cached snapshot or loads it. Errors are not cached.
func (c *CachedStore) Load(ctx context.Context, tenantID string) (*model.Policy, error) {
	c.mu.RLock()
	p, ok := c.cache[tenantID]
	gen, epoch := c.gen[tenantID], c.epoch
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := c.inner.Load(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.gen[tenantID] == gen && c.epoch == epoch {
		c.cache[tenantID] = p
	}
	c.mu.Unlock()
	return p, nil
}

// Invalidate drops one tenant's snapshot.
func (c *CachedStore) Invalidate(tenantID string) {
	c.mu.Lock()
	delete(c.cache, tenantID)
	c.gen[tenantID]++
	c.mu.Unlock()
}

// InvalidateAll drops every snapshot.
func (c *CachedStore) InvalidateAll() {
	c.mu.Lock()
	c.cache = make(map[string]*model.Policy)
	c.epoch++
	c.mu.Unlock()
}
