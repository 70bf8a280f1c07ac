package graphstore

import (
	"context"

	"corpusrag/internal/graphrag/types"
)

// Store is the graph store adapter's narrow, typed operation surface: no query
// logic, no scoring beyond what each operation's contract defines. Every
// operation accepts ctx as its query-scoped cancellation handle; Store
// implementations must honor ctx.Done() and return before the ≤250ms cleanup
// window elapses.
type Store interface {
	// FetchChunks returns chunks in request order. Missing IDs produce a
	// zero-length entry with Found=false, never an error.
	FetchChunks(ctx context.Context, chunkIDs []string) ([]ChunkLookup, error)

	// VectorSearchSentences returns sentence hits sorted by descending cosine
	// score, ties broken by ascending SentID.
	VectorSearchSentences(ctx context.Context, embedding []float32, k int, minScore float64) ([]SentenceHit, error)

	// VectorSearchChunks returns chunk hits with the same ordering rule as
	// VectorSearchSentences.
	VectorSearchChunks(ctx context.Context, embedding []float32, k int, minScore float64) ([]ChunkHit, error)

	// VectorSearchEntities scores entity embeddings against embedding, same
	// ordering rule as VectorSearchChunks. Backs the local route's
	// vector-match-on-entity-embeddings seed-identification step.
	VectorSearchEntities(ctx context.Context, embedding []float32, k int, minScore float64) ([]EntityHit, error)

	// BM25SearchChunks orders by descending BM25 score then ascending ChunkID.
	BM25SearchChunks(ctx context.Context, queryText string, k int) ([]ChunkHit, error)

	// MentionsToChunks yields at most limitPerEntity chunks per entity name;
	// duplicates across entities are preserved (the distiller dedups).
	MentionsToChunks(ctx context.Context, entityNames []string, limitPerEntity int) ([]EntityChunkHit, error)

	// ExpandRelationships is limited and deterministic: sorted by descending
	// weight then by (src, dst) lexicographically.
	ExpandRelationships(ctx context.Context, entityIDs []string, maxEdges int) ([]types.Relationship, error)

	// PPRTraverse executes the five-path walk and returns all
	// entities with non-zero combined score, sorted descending; deterministic
	// for fixed seeds and config.
	PPRTraverse(ctx context.Context, seeds map[string]float64, cfg PPRConfig) ([]EntityScore, error)

	// BeamExpand keeps top-beamWidth candidates per hop by cosine of
	// candidate embedding against queryEmbedding; ties broken by ascending
	// EntityID.
	BeamExpand(ctx context.Context, seedEntityIDs []string, queryEmbedding []float32, hops, beamWidth int) ([]BeamHit, error)

	// FetchCommunities returns materialized communities. The stale-embedding
	// check is the caller's responsibility.
	FetchCommunities(ctx context.Context) ([]types.Community, error)

	// FetchEntityDescriptions resolves entity_id -> description.
	FetchEntityDescriptions(ctx context.Context, entityIDs []string) ([]types.EntityDescription, error)

	// FetchEntities resolves entity_id -> full Entity record (embedding,
	// degree, community membership). Backs the hub-entity extractor, which
	// ranks community members by closeness to query_embedding with degree as
	// the tie-break; returns in request order, missing IDs omitted.
	FetchEntities(ctx context.Context, entityIDs []string) ([]types.Entity, error)

	// ListDocuments returns every indexed document, sorted by doc_id. Needed
	// by the global route's
	// coverage gap-fill: detecting documents absent from a "summarize
	// each document" query's final candidate set requires knowing the full
	// document population.
	ListDocuments(ctx context.Context) ([]types.Document, error)

	// LeadChunks resolves doc_id -> its lowest (page, chunk_id) chunk, the
	// "lead chunk" R3's coverage gap-fill inserts for a document otherwise
	// absent from the candidate set. Found=false for a document with no
	// indexed chunks.
	LeadChunks(ctx context.Context, docIDs []string) ([]ChunkLookup, error)
}

// ChunkLookup is the result of FetchChunks: Found=false for a missing ID,
// never an error.
type ChunkLookup struct {
	Chunk types.TextChunk
	Found bool
}

// SentenceHit is one vector_search_sentences result.
type SentenceHit struct {
	SentID  string
	ChunkID string
	Score   float64
}

// ChunkHit is one vector_search_chunks or bm25_search_chunks result.
type ChunkHit struct {
	ChunkID string
	Score   float64
}

// EntityHit is one vector_search_entities result.
type EntityHit struct {
	EntityID string
	Score    float64
}

// EntityChunkHit is one mentions_to_chunks result.
type EntityChunkHit struct {
	EntityName string
	ChunkID    string
}

// EntityScore is one ppr_traverse result entry.
type EntityScore struct {
	EntityID string
	Score    float64
}

// BeamHit is one beam_expand result entry, path kept for citation provenance.
type BeamHit struct {
	EntityID string
	Path     []string
}

// PPRConfig carries the five-path tracer's tunables (config.RetrievalConfig's
// PPR* fields, passed through by the caller so graphstore stays config-agnostic).
type PPRConfig struct {
	Damping    float64
	SimWeight  float64
	HubWeight  float64
	Iterations int
	TopK       int
}
