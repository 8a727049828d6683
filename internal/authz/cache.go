// Package authz combines role grants, direct resource grants, conditional
// grants, and time-based grants into a single permission decision, fronted
// by a two-tier decision cache.
package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	decisionKeyPrefix = "authz:decision:"

	// DefaultCacheSize bounds the in-process tier.
	DefaultCacheSize = 1000

	// DefaultAllowTTL and DefaultDenyTTL are the decision lifetimes. Denials
	// expire faster so newly granted access shows up quickly.
	DefaultAllowTTL = 5 * time.Minute
	DefaultDenyTTL  = time.Minute
)

type cachedDecision struct {
	allowed   bool
	expiresAt time.Time
}

// DecisionCache is a two-tier decision cache: a bounded in-process map in
// front of a shared Redis tier. Redis failures degrade to cache misses; the
// engine re-evaluates rather than erroring.
type DecisionCache struct {
	redis    *redis.Client
	logger   *slog.Logger
	allowTTL time.Duration
	denyTTL  time.Duration
	maxSize  int

	mu    sync.Mutex
	local map[string]cachedDecision
}

// CacheOption configures a DecisionCache.
type CacheOption func(*DecisionCache)

// WithMaxSize overrides the local tier bound.
func WithMaxSize(n int) CacheOption {
	return func(c *DecisionCache) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// WithTTLs overrides the allow and deny lifetimes.
func WithTTLs(allow, deny time.Duration) CacheOption {
	return func(c *DecisionCache) {
		if allow > 0 {
			c.allowTTL = allow
		}
		if deny > 0 {
			c.denyTTL = deny
		}
	}
}

// NewDecisionCache constructs a DecisionCache. client may be nil, which
// leaves only the in-process tier active.
func NewDecisionCache(client *redis.Client, logger *slog.Logger, opts ...CacheOption) *DecisionCache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &DecisionCache{
		redis:    client,
		logger:   logger,
		allowTTL: DefaultAllowTTL,
		denyTTL:  DefaultDenyTTL,
		maxSize:  DefaultCacheSize,
		local:    make(map[string]cachedDecision),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// decisionKey builds the cache key. An empty resource id is stored as "*" so
// type-level checks and resource-level checks never collide.
func decisionKey(userID, resourceType, resourceID, action string) string {
	if resourceID == "" {
		resourceID = "*"
	}
	return fmt.Sprintf("%s%s:%s:%s:%s", decisionKeyPrefix, userID, resourceType, resourceID, action)
}

// Get returns a cached decision. Redis hits are promoted into the local tier.
func (c *DecisionCache) Get(ctx context.Context, userID, resourceType, resourceID, action string) (allowed, ok bool) {
	key := decisionKey(userID, resourceType, resourceID, action)
	now := time.Now()

	c.mu.Lock()
	if entry, hit := c.local[key]; hit {
		if now.Before(entry.expiresAt) {
			c.mu.Unlock()
			return entry.allowed, true
		}
		delete(c.local, key)
	}
	c.mu.Unlock()

	if c.redis == nil {
		return false, false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("decision cache read failed", slog.String("key", key), slog.Any("error", err))
		}
		return false, false
	}
	allowed = val == "true"
	ttl := c.ttlFor(allowed)
	c.storeLocal(key, cachedDecision{allowed: allowed, expiresAt: now.Add(ttl)})
	return allowed, true
}

// Set records a decision in both tiers.
func (c *DecisionCache) Set(ctx context.Context, userID, resourceType, resourceID, action string, allowed bool) {
	key := decisionKey(userID, resourceType, resourceID, action)
	ttl := c.ttlFor(allowed)
	c.storeLocal(key, cachedDecision{allowed: allowed, expiresAt: time.Now().Add(ttl)})

	if c.redis == nil {
		return
	}
	val := "false"
	if allowed {
		val = "true"
	}
	if err := c.redis.Set(ctx, key, val, ttl).Err(); err != nil {
		c.logger.Warn("decision cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}

// InvalidateUser drops every cached decision for one user.
func (c *DecisionCache) InvalidateUser(ctx context.Context, userID string) error {
	prefix := decisionKeyPrefix + userID + ":"
	c.dropLocal(func(key string) bool {
		return strings.HasPrefix(key, prefix)
	})
	return c.dropRedis(ctx, prefix+"*")
}

// InvalidateResource drops every cached decision touching one resource,
// across all users and actions.
func (c *DecisionCache) InvalidateResource(ctx context.Context, resourceType, resourceID string) error {
	mid := ":" + resourceType + ":" + resourceID + ":"
	c.dropLocal(func(key string) bool {
		return strings.Contains(key, mid)
	})
	return c.dropRedis(ctx, decisionKeyPrefix+"*:"+resourceType+":"+resourceID+":*")
}

func (c *DecisionCache) ttlFor(allowed bool) time.Duration {
	if allowed {
		return c.allowTTL
	}
	return c.denyTTL
}

// storeLocal inserts into the bounded local tier, evicting the entry closest
// to expiry when full.
func (c *DecisionCache) storeLocal(key string, entry cachedDecision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.local[key]; !exists && len(c.local) >= c.maxSize {
		var victim string
		var oldest time.Time
		for k, v := range c.local {
			if victim == "" || v.expiresAt.Before(oldest) {
				victim, oldest = k, v.expiresAt
			}
		}
		delete(c.local, victim)
	}
	c.local[key] = entry
}

func (c *DecisionCache) dropLocal(match func(key string) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.local {
		if match(key) {
			delete(c.local, key)
		}
	}
}

// dropRedis removes keys matching the pattern using SCAN, never KEYS.
func (c *DecisionCache) dropRedis(ctx context.Context, pattern string) error {
	if c.redis == nil {
		return nil
	}
	iter := c.redis.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan decision keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete decision keys: %w", err)
	}
	return nil
}
