package authz

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func testRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestDecisionCacheRoundTrip(t *testing.T) {
	_, client := testRedis(t)
	cache := NewDecisionCache(client, nil)
	ctx := context.Background()

	_, ok := cache.Get(ctx, "u1", "chatflow", "cf1", "read")
	require.False(t, ok)

	cache.Set(ctx, "u1", "chatflow", "cf1", "read", true)
	allowed, ok := cache.Get(ctx, "u1", "chatflow", "cf1", "read")
	require.True(t, ok)
	require.True(t, allowed)

	cache.Set(ctx, "u1", "chatflow", "cf1", "delete", false)
	allowed, ok = cache.Get(ctx, "u1", "chatflow", "cf1", "delete")
	require.True(t, ok)
	require.False(t, allowed)
}

func TestDecisionCacheWildcardResourceKey(t *testing.T) {
	cache := NewDecisionCache(nil, nil)
	ctx := context.Background()

	// Type-level and resource-level decisions must not collide.
	cache.Set(ctx, "u1", "chatflow", "", "read", true)
	cache.Set(ctx, "u1", "chatflow", "cf1", "read", false)

	allowed, ok := cache.Get(ctx, "u1", "chatflow", "", "read")
	require.True(t, ok)
	require.True(t, allowed)
	allowed, ok = cache.Get(ctx, "u1", "chatflow", "cf1", "read")
	require.True(t, ok)
	require.False(t, allowed)
}

func TestDecisionCachePromotesRedisHit(t *testing.T) {
	mr, client := testRedis(t)
	cache := NewDecisionCache(client, nil)
	ctx := context.Background()

	// Another instance wrote the decision.
	require.NoError(t, mr.Set("authz:decision:u1:chatflow:cf1:read", "true"))

	allowed, ok := cache.Get(ctx, "u1", "chatflow", "cf1", "read")
	require.True(t, ok)
	require.True(t, allowed)

	// Now present locally: still a hit after redis loses the key.
	mr.FlushAll()
	allowed, ok = cache.Get(ctx, "u1", "chatflow", "cf1", "read")
	require.True(t, ok)
	require.True(t, allowed)
}

func TestDecisionCacheLocalEviction(t *testing.T) {
	cache := NewDecisionCache(nil, nil, WithMaxSize(2), WithTTLs(time.Minute, time.Second))
	ctx := context.Background()

	// The deny entry expires soonest, so it is the eviction victim.
	cache.Set(ctx, "u1", "chatflow", "cf1", "read", true)
	cache.Set(ctx, "u1", "chatflow", "cf2", "read", false)
	cache.Set(ctx, "u1", "chatflow", "cf3", "read", true)

	_, ok := cache.Get(ctx, "u1", "chatflow", "cf2", "read")
	require.False(t, ok)
	_, ok = cache.Get(ctx, "u1", "chatflow", "cf1", "read")
	require.True(t, ok)
	_, ok = cache.Get(ctx, "u1", "chatflow", "cf3", "read")
	require.True(t, ok)
}

func TestInvalidateUser(t *testing.T) {
	_, client := testRedis(t)
	cache := NewDecisionCache(client, nil)
	ctx := context.Background()

	cache.Set(ctx, "u1", "chatflow", "cf1", "read", true)
	cache.Set(ctx, "u1", "credential", "cr1", "read", true)
	cache.Set(ctx, "u2", "chatflow", "cf1", "read", true)

	require.NoError(t, cache.InvalidateUser(ctx, "u1"))

	_, ok := cache.Get(ctx, "u1", "chatflow", "cf1", "read")
	require.False(t, ok)
	_, ok = cache.Get(ctx, "u1", "credential", "cr1", "read")
	require.False(t, ok)
	_, ok = cache.Get(ctx, "u2", "chatflow", "cf1", "read")
	require.True(t, ok)
}

func TestInvalidateResource(t *testing.T) {
	_, client := testRedis(t)
	cache := NewDecisionCache(client, nil)
	ctx := context.Background()

	cache.Set(ctx, "u1", "chatflow", "cf1", "read", true)
	cache.Set(ctx, "u2", "chatflow", "cf1", "delete", false)
	cache.Set(ctx, "u1", "chatflow", "cf2", "read", true)

	require.NoError(t, cache.InvalidateResource(ctx, "chatflow", "cf1"))

	_, ok := cache.Get(ctx, "u1", "chatflow", "cf1", "read")
	require.False(t, ok)
	_, ok = cache.Get(ctx, "u2", "chatflow", "cf1", "delete")
	require.False(t, ok)
	_, ok = cache.Get(ctx, "u1", "chatflow", "cf2", "read")
	require.True(t, ok)
}

func TestDecisionCacheDegradesWithoutRedis(t *testing.T) {
	mr, client := testRedis(t)
	cache := NewDecisionCache(client, nil)
	ctx := context.Background()
	mr.Close()

	// Writes and reads keep working on the local tier alone.
	cache.Set(ctx, "u1", "chatflow", "cf1", "read", true)
	allowed, ok := cache.Get(ctx, "u1", "chatflow", "cf1", "read")
	require.True(t, ok)
	require.True(t, allowed)
	require.Error(t, cache.InvalidateUser(ctx, "u1"))
}
