// Package embedclient wraps internal/rag/embedder's Embedder with the
// query-time embedding contract: retry-once-then-fail semantics, a
// fatal dimension check, and a query-embedding cache.
package embedclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"corpusrag/internal/graphrag/types"
	"corpusrag/internal/rag/embedder"
)

// chunkSize bounds how many texts go into a single underlying call; larger
// batches are split and fanned out concurrently via errgroup.
const chunkSize = 64

// Client is the stateless async batch embedding client.
type Client interface {
	// EmbedBatch returns one embedding per input, in order. Retries the
	// underlying call once on failure; a second failure returns
	// EmbeddingUnavailable.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery is EmbedBatch for a single query string, transparently
	// served from the query-embedding cache when the text was seen before.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension is the declared embedding dimensionality every returned
	// vector must match.
	Dimension() int
}

type client struct {
	inner embedder.Embedder
	dim   int

	mu    sync.Mutex
	cache map[string][]float32
}

// New wraps an embedder.Embedder, enforcing its declared dimension and
// caching query embeddings by normalized text.
func New(inner embedder.Embedder, dim int) Client {
	if dim <= 0 {
		dim = inner.Dimension()
	}
	return &client{inner: inner, dim: dim, cache: make(map[string][]float32)}
}

func (c *client) Dimension() int { return c.dim }

func (c *client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) <= chunkSize {
		return c.embedChunk(ctx, texts)
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(texts); start += chunkSize {
		start := start
		end := start + chunkSize
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			res, err := c.embedChunk(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// embedChunk performs the underlying call (plus its one retry and the
// dimension/count checks) for a single chunk no larger than chunkSize.
func (c *client) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := c.inner.EmbedBatch(ctx, texts)
	if err != nil {
		log.Warn().Err(err).Int("count", len(texts)).Msg("embedding call failed, retrying once")
		out, err = c.inner.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, types.WrapEmbeddingUnavailable(err)
		}
	}
	if len(out) != len(texts) {
		return nil, types.WrapEmbeddingUnavailable(fmt.Errorf("embedding count mismatch: got %d, want %d", len(out), len(texts)))
	}
	if c.dim > 0 {
		for i, v := range out {
			if len(v) != c.dim {
				// A dimension mismatch against the declared index dimension is a
				// fatal programming error, never a retryable condition.
				panic(fmt.Sprintf("embedding dimension mismatch at index %d: got %d, want %d", i, len(v), c.dim))
			}
		}
	}
	return out, nil
}

func (c *client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := normalizeQuery(text)

	c.mu.Lock()
	if v, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	out, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	vec := out[0]

	c.mu.Lock()
	c.cache[key] = vec
	c.mu.Unlock()

	return vec, nil
}

// normalizeQuery collapses whitespace and hashes the result so the cache key
// is stable regardless of incidental formatting differences between callers.
func normalizeQuery(text string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

