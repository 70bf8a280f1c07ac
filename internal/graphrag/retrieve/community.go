package retrieve

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"corpusrag/internal/graphrag/embedclient"
	"corpusrag/internal/graphrag/graphstore"
	"corpusrag/internal/graphrag/types"
)

// StaleCommunityNotifier is a best-effort sink for the stale-embedding event
// emitted when a community's embedding_text_hash disagrees with
// hash(summary). Implementations must never block the query path.
type StaleCommunityNotifier interface {
	NotifyStale(ctx context.Context, communityID string)
}

type noopNotifier struct{}

func (noopNotifier) NotifyStale(context.Context, string) {}

// NoopNotifier discards stale-community events; the default when no
// messaging backend is configured.
var NoopNotifier StaleCommunityNotifier = noopNotifier{}

// CommunityMatcher caches the community list process-wide behind a
// read-mostly guard, re-validating embedding hashes
// on first load per process lifetime and re-embedding any community whose
// summary changed since its embedding was computed.
type CommunityMatcher struct {
	store    graphstore.Store
	embedder embedclient.Client
	notifier StaleCommunityNotifier

	mu          sync.RWMutex
	loaded      bool
	communities []types.Community

	// cache is an optional cross-process CacheBackend,
	// attached via WithCache; nil means "in-process cache only".
	cache    CacheBackend
	cacheTTL time.Duration
}

// NewCommunityMatcher builds a matcher backed by store, re-embedding stale
// communities via embedder and reporting them to notifier (NoopNotifier if
// nil).
func NewCommunityMatcher(store graphstore.Store, embedder embedclient.Client, notifier StaleCommunityNotifier) *CommunityMatcher {
	if notifier == nil {
		notifier = NoopNotifier
	}
	return &CommunityMatcher{store: store, embedder: embedder, notifier: notifier}
}

// Invalidate discards the cached community list; the ingestion subsystem's
// out-of-scope invalidation hook calls this after a re-index.
func (m *CommunityMatcher) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = false
	m.communities = nil
	if m.cache != nil {
		if err := m.cache.Delete(context.Background(), communityCacheKey); err != nil {
			log.Warn().Err(err).Msg("community shared-cache invalidation failed")
		}
	}
}

func (m *CommunityMatcher) ensureLoaded(ctx context.Context) ([]types.Community, error) {
	m.mu.RLock()
	if m.loaded {
		out := m.communities
		m.mu.RUnlock()
		return out, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded {
		return m.communities, nil
	}

	if cached, ok := m.loadFromSharedCache(ctx); ok {
		m.communities = cached
		m.loaded = true
		return m.communities, nil
	}

	raw, err := m.store.FetchCommunities(ctx)
	if err != nil {
		return nil, err
	}
	checked := make([]types.Community, 0, len(raw))
	for _, c := range raw {
		if hashSummary(c.Summary) != c.EmbeddingTextHash {
			log.Warn().Str("community_id", c.CommunityID).Msg("stale community summary embedding detected")
			m.notifier.NotifyStale(ctx, c.CommunityID)
			if !m.reembed(ctx, &c) {
				continue // exclude rather than score against a stale embedding
			}
		}
		checked = append(checked, c)
	}
	m.communities = checked
	m.loaded = true
	m.saveToSharedCache(ctx, checked)
	return m.communities, nil
}

// reembed recomputes c.SummaryEmbedding/EmbeddingTextHash in place; returns
// false if no embedder is configured or the embed call fails, in which case
// the caller must exclude the community rather than score against stale data.
func (m *CommunityMatcher) reembed(ctx context.Context, c *types.Community) bool {
	if m.embedder == nil {
		return false
	}
	vecs, err := m.embedder.EmbedBatch(ctx, []string{c.Summary})
	if err != nil || len(vecs) != 1 {
		log.Warn().Err(err).Str("community_id", c.CommunityID).Msg("community re-embed failed, excluding from this query")
		return false
	}
	c.SummaryEmbedding = vecs[0]
	c.EmbeddingTextHash = hashSummary(c.Summary)
	return true
}

func hashSummary(s string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(s)))
	return hex.EncodeToString(sum[:])
}

// MatchedCommunity is one community matcher hit.
type MatchedCommunity struct {
	Community types.Community
	Score     float64
}

// Match returns the top-k_c communities scored by cosine(queryEmbedding,
// summary_embedding), filtered by minScore, sorted descending with ties
// broken by ascending community_id.
func (m *CommunityMatcher) Match(ctx context.Context, queryEmbedding []float32, topK int, minScore float64) ([]MatchedCommunity, error) {
	communities, err := m.ensureLoaded(ctx)
	if err != nil {
		return nil, err
	}
	var scored []MatchedCommunity
	for _, c := range communities {
		score := cosineSim(queryEmbedding, c.SummaryEmbedding)
		if score < minScore {
			continue
		}
		scored = append(scored, MatchedCommunity{Community: c, Score: score})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Community.CommunityID < scored[j].Community.CommunityID
	})
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}
