// Package cache implements Cache (spec §4.5): a keyed, TTL-expiring store
// with an enrichment and an oracle cache kind. Only the oracle reads and
// writes it; enrichment results are not cached. Two tiers, mirroring the teacher's
// existing patrickmn/go-cache dependency: an in-process front tier (fast
// path, also the degrade-to-no-cache fallback when the backend is down) over
// a persistent github.com/redis/go-redis/v9 backend so cached entries
// survive a process restart — the in-memory-only cache is the explicitly
// named source defect (spec §9) this package fixes.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/dataparency-dev/tenderwatch/internal/model"
)

// Backend is the persistence interface the Cache talks to; satisfied by
// *redis.Client and by a miniredis-backed client in tests.
type Backend interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd
}

// Cache is the persistent, TTL-expiring key-value store shared by the
// enrichment and oracle cache kinds.
type Cache struct {
	front   *gocache.Cache
	backend Backend
	log     logrus.FieldLogger

	enrichmentTTL time.Duration
	oracleTTL     time.Duration
}

// New builds a Cache with the given front-tier TTL/cleanup interval and
// per-kind persistent TTLs (spec §4.5 defaults: enrichment 7 days, oracle 24h).
func New(backend Backend, frontTTL, frontCleanup, enrichmentTTL, oracleTTL time.Duration, log logrus.FieldLogger) *Cache {
	return &Cache{
		front:         gocache.New(frontTTL, frontCleanup),
		backend:       backend,
		log:           log,
		enrichmentTTL: enrichmentTTL,
		oracleTTL:     oracleTTL,
	}
}

func (c *Cache) ttlFor(kind model.CacheKind) time.Duration {
	if kind == model.CacheOracle {
		return c.oracleTTL
	}
	return c.enrichmentTTL
}

func compositeKey(kind model.CacheKind, key string) string {
	return string(kind) + ":" + key
}

// Get returns the cached value for (kind, key), or ok=false if absent,
// expired, or the backend is unreachable (the pipeline must never block on a
// cache miss — spec failure table: "Cache backend down: degrade to
// no-cache; never block pipeline").
func (c *Cache) Get(ctx context.Context, kind model.CacheKind, key string) (value []byte, ok bool) {
	full := compositeKey(kind, key)

	if v, found := c.front.Get(full); found {
		return v.([]byte), true
	}

	if c.backend == nil {
		return nil, false
	}
	res, err := c.backend.Get(ctx, full).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.WithError(err).Warn("cache backend unavailable, degrading to no-cache for this lookup")
		}
		return nil, false
	}

	c.front.Set(full, []byte(res), gocache.DefaultExpiration)
	return []byte(res), true
}

// Set atomically writes (kind, key) -> value into both tiers: the backend
// with the kind's configured TTL, the front tier with the front-tier TTL. A backend write failure is logged and swallowed — a cache
// write is never allowed to fail the pipeline.
func (c *Cache) Set(ctx context.Context, kind model.CacheKind, key string, value []byte) {
	full := compositeKey(kind, key)
	ttl := c.ttlFor(kind)

	c.front.Set(full, value, gocache.DefaultExpiration)

	if c.backend == nil {
		return
	}
	if err := c.backend.Set(ctx, full, value, ttl).Err(); err != nil {
		c.log.WithError(err).Warn("cache backend write failed, front tier still holds the value for this process")
	}
}

// GetJSON is a convenience wrapper decoding a cached JSON payload into dst.
func (c *Cache) GetJSON(ctx context.Context, kind model.CacheKind, key string, dst any) (ok bool) {
	raw, found := c.Get(ctx, kind, key)
	if !found {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.log.WithError(err).Warn("cache entry failed to unmarshal, treating as a miss")
		return false
	}
	return true
}

// SetJSON is a convenience wrapper encoding src as JSON before storing.
func (c *Cache) SetJSON(ctx context.Context, kind model.CacheKind, key string, src any) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("marshal cache entry %s/%s: %w", kind, key, err)
	}
	c.Set(ctx, kind, key, raw)
	return nil
}
