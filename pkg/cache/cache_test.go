package cache_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/overseer-labs/warden/pkg/cache"
	"github.com/overseer-labs/warden/pkg/contracts"
)

func TestMemoryCache_SetGet(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache()

	d := contracts.Decision{AgentID: "a1", ActionType: "search", Allowed: true}
	c.Set(ctx, "a1", "search", d, time.Minute)

	got, ok := c.Get(ctx, "a1", "search")
	assert.True(t, ok)
	assert.True(t, got.Allowed)
	assert.Equal(t, "search", got.ActionType)

	_, ok = c.Get(ctx, "a1", "send_email")
	assert.False(t, ok)
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache()

	c.Set(ctx, "a1", "search", contracts.Decision{Allowed: true}, 10*time.Millisecond)
	_, ok := c.Get(ctx, "a1", "search")
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get(ctx, "a1", "search")
	assert.False(t, ok, "expired entries are misses")
}

func TestMemoryCache_ZeroTTLIgnored(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache()
	c.Set(ctx, "a1", "search", contracts.Decision{}, 0)
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c.Set(ctx, "a1", "search", contracts.Decision{Allowed: true}, time.Minute)
				c.Get(ctx, "a1", "search")
			}
		}()
	}
	wg.Wait()

	got, ok := c.Get(ctx, "a1", "search")
	assert.True(t, ok)
	assert.True(t, got.Allowed)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "warden:decision:a1:search", cache.Key("a1", "search"))
}
