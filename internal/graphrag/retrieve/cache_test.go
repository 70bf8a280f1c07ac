package retrieve

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"corpusrag/internal/graphrag/graphstore"
	"corpusrag/internal/graphrag/types"
)

// fakeCache is an in-memory CacheBackend stand-in for RedisCache, exercising
// the same Get/Set/Delete contract without a network dependency.
type fakeCache struct {
	mu    sync.Mutex
	store map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{store: map[string][]byte{}} }

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.store[key]
	return v, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[key] = value
	return nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, key)
	return nil
}

func TestCommunityMatcher_SharedCachePopulatesAcrossFreshMatchers(t *testing.T) {
	store := graphstore.NewMemoryStore()
	store.LoadCommunity(types.Community{
		CommunityID: "comm1", Summary: "Invoices.", SummaryEmbedding: []float32{1, 0, 0},
		MemberEntityIDs: []string{"e1"}, EmbeddingTextHash: hashSummary("Invoices."),
	})
	cache := newFakeCache()

	first := NewCommunityMatcher(store, nil, nil).WithCache(cache, time.Minute)
	_, err := first.Match(context.Background(), []float32{1, 0, 0}, 3, 0)
	require.NoError(t, err)

	// A second matcher over an empty store must still see comm1 via the
	// shared cache rather than re-querying the (now empty) store.
	emptyStore := graphstore.NewMemoryStore()
	second := NewCommunityMatcher(emptyStore, nil, nil).WithCache(cache, time.Minute)
	got, err := second.Match(context.Background(), []float32{1, 0, 0}, 3, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "comm1", got[0].Community.CommunityID)
}

func TestCommunityMatcher_InvalidateClearsSharedCache(t *testing.T) {
	store := graphstore.NewMemoryStore()
	store.LoadCommunity(types.Community{
		CommunityID: "comm1", Summary: "Invoices.", SummaryEmbedding: []float32{1, 0, 0},
		MemberEntityIDs: []string{"e1"}, EmbeddingTextHash: hashSummary("Invoices."),
	})
	cache := newFakeCache()
	m := NewCommunityMatcher(store, nil, nil).WithCache(cache, time.Minute)
	_, err := m.Match(context.Background(), []float32{1, 0, 0}, 3, 0)
	require.NoError(t, err)

	m.Invalidate()
	_, ok, err := cache.Get(context.Background(), communityCacheKey)
	require.NoError(t, err)
	require.False(t, ok, "Invalidate must clear the shared cache entry, not just the in-process one")
}
