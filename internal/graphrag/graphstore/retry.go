package graphstore

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"corpusrag/internal/graphrag/types"
)

// retryingStore decorates a base Store with the single-retry contract for
// transient failures: a GraphTransient error is retried once after a fixed
// delay; a second failure surfaces as GraphUnavailable. Fatal (non-transient)
// errors and context cancellation pass through untouched.
type retryingStore struct {
	base  Store
	delay time.Duration
}

// NewRetryingStore wraps base so every operation retries a transient failure
// exactly once after delay. delay <= 0 defaults to 50ms.
func NewRetryingStore(base Store, delay time.Duration) Store {
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	return &retryingStore{base: base, delay: delay}
}

// retry runs fn, retrying once on a transient failure. The second failure is
// escalated to GraphUnavailable so callers never see a transient error twice.
func retry[T any](ctx context.Context, delay time.Duration, op string, fn func() (T, error)) (T, error) {
	out, err := fn()
	if err == nil || !types.IsTransient(err) || ctx.Err() != nil {
		return out, err
	}
	log.Warn().Err(err).Str("op", op).Msg("graph operation failed, retrying once")
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return out, ctx.Err()
	}
	out, err = fn()
	if err != nil && types.IsTransient(err) {
		return out, types.WrapGraphUnavailable(op, err)
	}
	return out, err
}

func (r *retryingStore) FetchChunks(ctx context.Context, chunkIDs []string) ([]ChunkLookup, error) {
	return retry(ctx, r.delay, "fetch_chunks", func() ([]ChunkLookup, error) {
		return r.base.FetchChunks(ctx, chunkIDs)
	})
}

func (r *retryingStore) VectorSearchSentences(ctx context.Context, embedding []float32, k int, minScore float64) ([]SentenceHit, error) {
	return retry(ctx, r.delay, "vector_search_sentences", func() ([]SentenceHit, error) {
		return r.base.VectorSearchSentences(ctx, embedding, k, minScore)
	})
}

func (r *retryingStore) VectorSearchChunks(ctx context.Context, embedding []float32, k int, minScore float64) ([]ChunkHit, error) {
	return retry(ctx, r.delay, "vector_search_chunks", func() ([]ChunkHit, error) {
		return r.base.VectorSearchChunks(ctx, embedding, k, minScore)
	})
}

func (r *retryingStore) VectorSearchEntities(ctx context.Context, embedding []float32, k int, minScore float64) ([]EntityHit, error) {
	return retry(ctx, r.delay, "vector_search_entities", func() ([]EntityHit, error) {
		return r.base.VectorSearchEntities(ctx, embedding, k, minScore)
	})
}

func (r *retryingStore) BM25SearchChunks(ctx context.Context, queryText string, k int) ([]ChunkHit, error) {
	return retry(ctx, r.delay, "bm25_search_chunks", func() ([]ChunkHit, error) {
		return r.base.BM25SearchChunks(ctx, queryText, k)
	})
}

func (r *retryingStore) MentionsToChunks(ctx context.Context, entityNames []string, limitPerEntity int) ([]EntityChunkHit, error) {
	return retry(ctx, r.delay, "mentions_to_chunks", func() ([]EntityChunkHit, error) {
		return r.base.MentionsToChunks(ctx, entityNames, limitPerEntity)
	})
}

func (r *retryingStore) ExpandRelationships(ctx context.Context, entityIDs []string, maxEdges int) ([]types.Relationship, error) {
	return retry(ctx, r.delay, "expand_relationships", func() ([]types.Relationship, error) {
		return r.base.ExpandRelationships(ctx, entityIDs, maxEdges)
	})
}

func (r *retryingStore) PPRTraverse(ctx context.Context, seeds map[string]float64, cfg PPRConfig) ([]EntityScore, error) {
	return retry(ctx, r.delay, "ppr_traverse", func() ([]EntityScore, error) {
		return r.base.PPRTraverse(ctx, seeds, cfg)
	})
}

func (r *retryingStore) BeamExpand(ctx context.Context, seedEntityIDs []string, queryEmbedding []float32, hops, beamWidth int) ([]BeamHit, error) {
	return retry(ctx, r.delay, "beam_expand", func() ([]BeamHit, error) {
		return r.base.BeamExpand(ctx, seedEntityIDs, queryEmbedding, hops, beamWidth)
	})
}

func (r *retryingStore) FetchCommunities(ctx context.Context) ([]types.Community, error) {
	return retry(ctx, r.delay, "fetch_communities", func() ([]types.Community, error) {
		return r.base.FetchCommunities(ctx)
	})
}

func (r *retryingStore) FetchEntityDescriptions(ctx context.Context, entityIDs []string) ([]types.EntityDescription, error) {
	return retry(ctx, r.delay, "fetch_entity_descriptions", func() ([]types.EntityDescription, error) {
		return r.base.FetchEntityDescriptions(ctx, entityIDs)
	})
}

func (r *retryingStore) FetchEntities(ctx context.Context, entityIDs []string) ([]types.Entity, error) {
	return retry(ctx, r.delay, "fetch_entities", func() ([]types.Entity, error) {
		return r.base.FetchEntities(ctx, entityIDs)
	})
}

func (r *retryingStore) ListDocuments(ctx context.Context) ([]types.Document, error) {
	return retry(ctx, r.delay, "list_documents", func() ([]types.Document, error) {
		return r.base.ListDocuments(ctx)
	})
}

func (r *retryingStore) LeadChunks(ctx context.Context, docIDs []string) ([]ChunkLookup, error) {
	return retry(ctx, r.delay, "lead_chunks", func() ([]ChunkLookup, error) {
		return r.base.LeadChunks(ctx, docIDs)
	})
}

// Close passes through to the base store if it supports closing.
func (r *retryingStore) Close() error {
	if c, ok := r.base.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

var _ Store = (*retryingStore)(nil)
