// Package cache provides the short-TTL decision cache. The cache is purely
// an optimization: a miss (or any cache error) falls through to the
// authoritative policy path, so staleness bounded by TTL is never a
// correctness hazard.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/overseer-labs/warden/pkg/contracts"
)

// DecisionCache stores prior decisions keyed by (agent, action type).
type DecisionCache interface {
	Get(ctx context.Context, agentID, actionType string) (contracts.Decision, bool)
	Set(ctx context.Context, agentID, actionType string, d contracts.Decision, ttl time.Duration)
}

// Key builds the canonical cache key for an (agent, action) pair.
func Key(agentID, actionType string) string {
	return "warden:decision:" + agentID + ":" + actionType
}

type entry struct {
	decision contracts.Decision
	expires  time.Time
}

// MemoryCache is an in-process DecisionCache with per-entry TTL. Expired
// entries are treated as misses and dropped lazily on read.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, agentID, actionType string) (contracts.Decision, bool) {
	key := Key(agentID, actionType)
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return contracts.Decision{}, false
	}
	if c.now().After(e.expires) {
		c.mu.Lock()
		// Re-check under the write lock; another goroutine may have
		// replaced the entry since the read.
		if cur, ok := c.entries[key]; ok && c.now().After(cur.expires) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return contracts.Decision{}, false
	}
	return e.decision, true
}

func (c *MemoryCache) Set(_ context.Context, agentID, actionType string, d contracts.Decision, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[Key(agentID, actionType)] = entry{decision: d, expires: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Len returns the number of entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
