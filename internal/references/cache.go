package references

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clincite/clincite/internal/job"
)

// DefaultCacheTTL keeps search results for a week; guideline literature
// does not move faster than that.
const DefaultCacheTTL = 7 * 24 * time.Hour

// Cache stores search results keyed by a hash of the query terms.
type Cache interface {
	Get(ctx context.Context, key string) ([]job.Reference, bool)
	Set(ctx context.Context, key string, refs []job.Reference)
}

// CacheKey hashes the sorted, deduplicated, lowercased terms so query order
// and casing never fragment the cache.
func CacheKey(terms []string) string {
	seen := make(map[string]struct{}, len(terms))
	normalized := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		normalized = append(normalized, t)
	}
	sort.Strings(normalized)

	sum := sha256.Sum256([]byte(strings.Join(normalized, "|")))
	return hex.EncodeToString(sum[:])
}

// MemoryCache is the in-process cache used when Redis is not configured.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryCacheEntry
}

type memoryCacheEntry struct {
	refs    []job.Reference
	expires time.Time
}

// NewMemoryCache creates a cache with the given TTL (DefaultCacheTTL if 0).
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl == 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{ttl: ttl, entries: make(map[string]memoryCacheEntry)}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]job.Reference, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.refs, true
}

func (c *MemoryCache) Set(_ context.Context, key string, refs []job.Reference) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryCacheEntry{refs: refs, expires: time.Now().Add(c.ttl)}
}

// RedisCache shares search results across instances.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache wraps an existing Redis client.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl == 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]job.Reference, bool) {
	data, err := c.client.Get(ctx, "pubmed:"+key).Bytes()
	if err != nil {
		return nil, false
	}
	var refs []job.Reference
	if err := json.Unmarshal(data, &refs); err != nil {
		return nil, false
	}
	return refs, true
}

func (c *RedisCache) Set(ctx context.Context, key string, refs []job.Reference) {
	data, err := json.Marshal(refs)
	if err != nil {
		return
	}
	// Best effort; a cache write failure is not worth surfacing.
	_ = c.client.Set(ctx, "pubmed:"+key, data, c.ttl).Err()
}
