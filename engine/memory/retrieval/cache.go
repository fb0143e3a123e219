package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	memcore "github.com/capsulehq/capsule/engine/memory/core"
	"github.com/capsulehq/capsule/pkg/logger"
)

const (
	// CacheTTL bounds staleness of the hot-set and rewrite caches.
	CacheTTL = 30 * time.Second
	// CacheSize bounds both caches; the oldest entry is evicted on overflow.
	CacheSize = 50
)

// HotSetCache keeps recently fetched candidate windows keyed by
// (orgId, projectId, filter signature, candidateLimit). Readers receive a
// fresh slice so scorers can mutate their copy freely.
type HotSetCache struct {
	lru *expirable.LRU[string, []*memcore.Memory]
}

func NewHotSetCache(size int, ttl time.Duration) *HotSetCache {
	if size <= 0 {
		size = CacheSize
	}
	if ttl <= 0 {
		ttl = CacheTTL
	}
	return &HotSetCache{lru: expirable.NewLRU[string, []*memcore.Memory](size, nil, ttl)}
}

// Key builds the cache key for one candidate window.
func (c *HotSetCache) Key(orgID, projectID, filterSignature string, candidateLimit int) string {
	return fmt.Sprintf("%s|%s|%s|%d", orgID, projectID, filterSignature, candidateLimit)
}

func (c *HotSetCache) Get(key string) ([]*memcore.Memory, bool) {
	cached, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	out := make([]*memcore.Memory, len(cached))
	for i, m := range cached {
		out[i] = m.Clone()
	}
	return out, true
}

func (c *HotSetCache) Set(key string, memories []*memcore.Memory) {
	stored := make([]*memcore.Memory, len(memories))
	for i, m := range memories {
		stored[i] = m.Clone()
	}
	c.lru.Add(key, stored)
}

// RewriteCache memoizes rewriter responses keyed by (prompt, query).
type RewriteCache interface {
	Get(ctx context.Context, prompt, query string) (string, bool)
	Set(ctx context.Context, prompt, query, rewritten string)
}

type localRewriteCache struct {
	lru *expirable.LRU[string, string]
}

// NewLocalRewriteCache builds the in-process rewrite cache.
func NewLocalRewriteCache(size int, ttl time.Duration) RewriteCache {
	if size <= 0 {
		size = CacheSize
	}
	if ttl <= 0 {
		ttl = CacheTTL
	}
	return &localRewriteCache{lru: expirable.NewLRU[string, string](size, nil, ttl)}
}

func rewriteKey(prompt, query string) string {
	return fmt.Sprintf("%d:%s|%d:%s", len(prompt), prompt, len(query), query)
}

func (c *localRewriteCache) Get(_ context.Context, prompt, query string) (string, bool) {
	return c.lru.Get(rewriteKey(prompt, query))
}

func (c *localRewriteCache) Set(_ context.Context, prompt, query, rewritten string) {
	c.lru.Add(rewriteKey(prompt, query), rewritten)
}

type redisRewriteCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisRewriteCache shares rewrite results across replicas. Failures
// degrade to cache misses.
func NewRedisRewriteCache(client redis.UniversalClient, ttl time.Duration) RewriteCache {
	if ttl <= 0 {
		ttl = CacheTTL
	}
	return &redisRewriteCache{client: client, ttl: ttl}
}

func (c *redisRewriteCache) Get(ctx context.Context, prompt, query string) (string, bool) {
	val, err := c.client.Get(ctx, "capsule:rewrite:"+rewriteKey(prompt, query)).Result()
	if err != nil {
		if err != redis.Nil {
			logger.FromContext(ctx).Debug("rewrite cache read failed", "error", err)
		}
		return "", false
	}
	return val, true
}

func (c *redisRewriteCache) Set(ctx context.Context, prompt, query, rewritten string) {
	key := "capsule:rewrite:" + rewriteKey(prompt, query)
	if err := c.client.Set(ctx, key, rewritten, c.ttl).Err(); err != nil {
		logger.FromContext(ctx).Debug("rewrite cache write failed", "error", err)
	}
}
