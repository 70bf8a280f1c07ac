package retrieve

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"corpusrag/internal/graphrag/types"
)

// CacheBackend is the optional cross-process store for CommunityMatcher's
// cached community list. The in-process sync.RWMutex guard in CommunityMatcher already
// satisfies that sentence for a single process; CacheBackend extends the
// same cache across a fleet of processes sharing one graph snapshot.
type CacheBackend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// communityCacheKey is the single key every process shares: the community
// list is global to the graph snapshot, not per-query.
const communityCacheKey = "corpusrag:communities:v1"

// RedisCache is a CacheBackend backed by github.com/redis/go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache builds a RedisCache from a pre-constructed client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// WithCache attaches a cross-process CacheBackend and TTL to an existing
// CommunityMatcher. Returns m for chaining. A nil cache is a no-op (the
// matcher keeps using only its in-process cache).
func (m *CommunityMatcher) WithCache(cache CacheBackend, ttl time.Duration) *CommunityMatcher {
	m.cache = cache
	m.cacheTTL = ttl
	return m
}

// loadFromSharedCache attempts to populate communities from the configured
// CacheBackend; returns ok=false on a miss or any error (the caller falls
// back to the graph store, same as any other cache-aside read).
func (m *CommunityMatcher) loadFromSharedCache(ctx context.Context) ([]types.Community, bool) {
	if m.cache == nil {
		return nil, false
	}
	raw, ok, err := m.cache.Get(ctx, communityCacheKey)
	if err != nil {
		log.Warn().Err(err).Msg("community cache read failed, falling back to graph store")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var communities []types.Community
	if err := json.Unmarshal(raw, &communities); err != nil {
		log.Warn().Err(err).Msg("community cache payload corrupt, falling back to graph store")
		return nil, false
	}
	return communities, true
}

// saveToSharedCache best-effort writes the checked community list back to
// the CacheBackend; failures are logged, never surfaced.
func (m *CommunityMatcher) saveToSharedCache(ctx context.Context, communities []types.Community) {
	if m.cache == nil {
		return
	}
	raw, err := json.Marshal(communities)
	if err != nil {
		log.Warn().Err(err).Msg("community cache encode failed")
		return
	}
	if err := m.cache.Set(ctx, communityCacheKey, raw, m.cacheTTL); err != nil {
		log.Warn().Err(err).Msg("community cache write failed")
	}
}
