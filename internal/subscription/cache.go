// Package subscription resolves an organization's plan through a cache.
package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/itemize-cloud/campaign-engine/internal/domain"
)

// Cache stores resolved subscriptions by organization id.
type Cache interface {
	Get(ctx context.Context, orgID string) (*domain.Subscription, bool, error)
	Set(ctx context.Context, sub *domain.Subscription) error
	Invalidate(ctx context.Context, orgID string) error
}

type memoryEntry struct {
	sub       domain.Subscription
	expiresAt time.Time
}

// MemoryCache is a per-process TTL cache.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

var _ Cache = (*MemoryCache)(nil)

func NewMemoryCache(ttl time.Duration, now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]memoryEntry),
	}
}

func (c *MemoryCache) Get(_ context.Context, orgID string) (*domain.Subscription, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[orgID]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, orgID)
		return nil, false, nil
	}

	sub := entry.sub
	return &sub, true, nil
}

func (c *MemoryCache) Set(_ context.Context, sub *domain.Subscription) error {
	if sub == nil || c.ttl <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[sub.OrganizationID] = memoryEntry{
		sub:       *sub,
		expiresAt: c.now().Add(c.ttl),
	}
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, orgID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, orgID)
	return nil
}
