// Package searchcache caches find results in Redis. Keys carry the index
// version, so a mutation or a restart makes every earlier entry unreachable
// without an explicit flush.
package searchcache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docfinder/internal/index"
	pkgredis "github.com/Adithya-Monish-Kumar-K/docfinder/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/resilience"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "docfinder:find:"

// Backend is the subset of *pkgredis.Client the cache uses.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// ComputeFunc produces results for a miss. cacheable is false when the
// results belong to a different version than the one asked for.
type ComputeFunc func() (results []index.Result, cacheable bool, err error)

type Cache struct {
	backend Backend
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New returns a cache over backend. Backend calls go through breaker so a
// failing Redis turns into cache misses instead of slow queries.
func New(backend Backend, ttl time.Duration, breaker *resilience.CircuitBreaker) *Cache {
	return &Cache{
		backend: backend,
		ttl:     ttl,
		breaker: breaker,
		logger:  slog.Default().With("component", "search-cache"),
	}
}

// Get looks up the results of terms at version.
func (c *Cache) Get(ctx context.Context, version index.Version, terms []string) ([]index.Result, bool) {
	key := BuildKey(version, terms)
	var data []byte
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.backend.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			data = nil
			return nil
		}
		return err
	})
	if err != nil {
		c.logger.Warn("cache get failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	if data == nil {
		c.misses.Add(1)
		return nil, false
	}
	var results []index.Result
	if err := json.Unmarshal(data, &results); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.logger.Debug("cache hit", "key", key, "version", version.String())
	return results, true
}

func (c *Cache) Set(ctx context.Context, version index.Version, terms []string, results []index.Result) {
	key := BuildKey(version, terms)
	data, err := json.Marshal(results)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.backend.Set(ctx, key, data, c.ttl)
	})
	if err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute serves terms from the cache or computes them once per key,
// however many callers miss together. hit reports a cache hit.
func (c *Cache) GetOrCompute(ctx context.Context, version index.Version, terms []string, compute ComputeFunc) ([]index.Result, bool, error) {
	if results, ok := c.Get(ctx, version, terms); ok {
		return results, true, nil
	}
	key := BuildKey(version, terms)
	val, err, _ := c.group.Do(key, func() (any, error) {
		results, cacheable, err := compute()
		if err != nil {
			return nil, err
		}
		if cacheable {
			c.Set(ctx, version, terms, results)
		}
		return results, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]index.Result), false, nil
}

// Invalidate drops every cached entry of every version.
func (c *Cache) Invalidate(ctx context.Context) error {
	var deleted int64
	err := c.breaker.Execute(func() error {
		var err error
		deleted, err = c.backend.FlushByPattern(ctx, keyPrefix+"*")
		return err
	})
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// BuildKey derives the cache key of terms at version. Term order does not
// affect find results, so terms are sorted; duplicates are kept because
// they count twice.
func BuildKey(version index.Version, terms []string) string {
	sorted := slices.Clone(terms)
	slices.Sort(sorted)
	hash := sha256.Sum256([]byte(strings.Join(sorted, "\x00")))
	return fmt.Sprintf("%s%s:%x", keyPrefix, version, hash[:16])
}
