package graphstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"corpusrag/internal/graphrag/types"
)

// pgStore is the Postgres-backed Store: best-effort DDL bootstrap in the
// constructor, raw SQL via pgxpool, pgvector for embedding columns.
type pgStore struct {
	pool       *pgxpool.Pool
	dimensions int
}

// NewPostgresStore bootstraps the graphrag schema (chunks, sentences,
// entities, relationships, similarity_edges, communities, mentions) and
// returns a Store backed by it.
func NewPostgresStore(pool *pgxpool.Pool, dimensions int) Store {
	ctx := context.Background()
	_, _ = pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`)
	vecType := "vector"
	if dimensions > 0 {
		vecType = fmt.Sprintf("vector(%d)", dimensions)
	}
	_, _ = pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS gr_chunks (
  id TEXT PRIMARY KEY,
  doc_id TEXT NOT NULL,
  section_id TEXT NOT NULL DEFAULT '',
  text TEXT NOT NULL,
  page INT NOT NULL DEFAULT 0,
  token_count INT NOT NULL DEFAULT 0,
  embedding %s,
  ts tsvector GENERATED ALWAYS AS (to_tsvector('simple', coalesce(text,''))) STORED
);
`, vecType))
	_, _ = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS gr_chunks_ts_idx ON gr_chunks USING GIN (ts)`)
	_, _ = pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS gr_sentences (
  id TEXT PRIMARY KEY,
  chunk_id TEXT NOT NULL,
  sent_offset INT NOT NULL DEFAULT 0,
  text TEXT NOT NULL,
  embedding %s
);
`, vecType))
	_, _ = pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS gr_entities (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  embedding %s,
  degree INT NOT NULL DEFAULT 0,
  community_id TEXT NOT NULL DEFAULT ''
);
`, vecType))
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS gr_relationships (
  src TEXT NOT NULL,
  dst TEXT NOT NULL,
  predicate TEXT NOT NULL DEFAULT '',
  weight DOUBLE PRECISION NOT NULL DEFAULT 1
);
`)
	_, _ = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS gr_relationships_src_idx ON gr_relationships(src)`)
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS gr_similarity_edges (
  src TEXT NOT NULL,
  dst TEXT NOT NULL,
  weight DOUBLE PRECISION NOT NULL DEFAULT 0
);
`)
	_, _ = pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS gr_communities (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL DEFAULT '',
  summary TEXT NOT NULL DEFAULT '',
  summary_embedding %s,
  member_entity_ids TEXT[] NOT NULL DEFAULT '{}',
  embedding_text_hash TEXT NOT NULL DEFAULT ''
);
`, vecType))
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS gr_mentions (
  entity_name TEXT NOT NULL,
  chunk_id TEXT NOT NULL
);
`)
	_, _ = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS gr_mentions_entity_idx ON gr_mentions(entity_name)`)
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS gr_documents (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL DEFAULT '',
  section_index TEXT[] NOT NULL DEFAULT '{}'
);
`)
	return &pgStore{pool: pool, dimensions: dimensions}
}

func (p *pgStore) FetchChunks(ctx context.Context, chunkIDs []string) ([]ChunkLookup, error) {
	out := make([]ChunkLookup, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return out, nil
	}
	rows, err := p.pool.Query(ctx, `
SELECT id, doc_id, section_id, text, page, token_count, embedding
FROM gr_chunks WHERE id = ANY($1)
`, chunkIDs)
	if err != nil {
		return nil, types.WrapGraphTransient("fetch_chunks", err)
	}
	defer rows.Close()
	byID := make(map[string]types.TextChunk, len(chunkIDs))
	for rows.Next() {
		var c types.TextChunk
		var embed *pgvector.Vector
		if err := rows.Scan(&c.ChunkID, &c.DocID, &c.SectionID, &c.Text, &c.Page, &c.TokenCount, &embed); err != nil {
			return nil, types.WrapGraphTransient("fetch_chunks", err)
		}
		if embed != nil {
			c.Embedding = embed.Slice()
		}
		byID[c.ChunkID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, types.WrapGraphTransient("fetch_chunks", err)
	}
	for i, id := range chunkIDs {
		c, ok := byID[id]
		out[i] = ChunkLookup{Chunk: c, Found: ok}
	}
	return out, nil
}

func (p *pgStore) VectorSearchSentences(ctx context.Context, embedding []float32, k int, minScore float64) ([]SentenceHit, error) {
	if k <= 0 {
		k = 10
	}
	rows, err := p.pool.Query(ctx, `
SELECT id, chunk_id, 1 - (embedding <=> $1::vector) AS score
FROM gr_sentences
WHERE embedding IS NOT NULL
ORDER BY embedding <=> $1::vector, id ASC
LIMIT $2
`, toVectorLiteral(embedding), k)
	if err != nil {
		return nil, types.WrapGraphTransient("vector_search_sentences", err)
	}
	defer rows.Close()
	var out []SentenceHit
	for rows.Next() {
		var h SentenceHit
		if err := rows.Scan(&h.SentID, &h.ChunkID, &h.Score); err != nil {
			return nil, types.WrapGraphTransient("vector_search_sentences", err)
		}
		if h.Score < minScore {
			continue
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (p *pgStore) VectorSearchChunks(ctx context.Context, embedding []float32, k int, minScore float64) ([]ChunkHit, error) {
	if k <= 0 {
		k = 10
	}
	rows, err := p.pool.Query(ctx, `
SELECT id, 1 - (embedding <=> $1::vector) AS score
FROM gr_chunks
WHERE embedding IS NOT NULL
ORDER BY embedding <=> $1::vector, id ASC
LIMIT $2
`, toVectorLiteral(embedding), k)
	if err != nil {
		return nil, types.WrapGraphTransient("vector_search_chunks", err)
	}
	defer rows.Close()
	var out []ChunkHit
	for rows.Next() {
		var h ChunkHit
		if err := rows.Scan(&h.ChunkID, &h.Score); err != nil {
			return nil, types.WrapGraphTransient("vector_search_chunks", err)
		}
		if h.Score < minScore {
			continue
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (p *pgStore) VectorSearchEntities(ctx context.Context, embedding []float32, k int, minScore float64) ([]EntityHit, error) {
	if k <= 0 {
		k = 10
	}
	rows, err := p.pool.Query(ctx, `
SELECT id, 1 - (embedding <=> $1::vector) AS score
FROM gr_entities
WHERE embedding IS NOT NULL
ORDER BY embedding <=> $1::vector, id ASC
LIMIT $2
`, toVectorLiteral(embedding), k)
	if err != nil {
		return nil, types.WrapGraphTransient("vector_search_entities", err)
	}
	defer rows.Close()
	var out []EntityHit
	for rows.Next() {
		var h EntityHit
		if err := rows.Scan(&h.EntityID, &h.Score); err != nil {
			return nil, types.WrapGraphTransient("vector_search_entities", err)
		}
		if h.Score < minScore {
			continue
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (p *pgStore) BM25SearchChunks(ctx context.Context, queryText string, k int) ([]ChunkHit, error) {
	if k <= 0 {
		k = 10
	}
	q := strings.TrimSpace(queryText)
	if q == "" {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx, `
SELECT id, ts_rank(ts, plainto_tsquery('simple', $1)) AS score
FROM gr_chunks
WHERE ts @@ plainto_tsquery('simple', $1)
ORDER BY score DESC, id ASC
LIMIT $2
`, q, k)
	if err != nil {
		return nil, types.WrapGraphTransient("bm25_search_chunks", err)
	}
	defer rows.Close()
	var out []ChunkHit
	for rows.Next() {
		var h ChunkHit
		if err := rows.Scan(&h.ChunkID, &h.Score); err != nil {
			return nil, types.WrapGraphTransient("bm25_search_chunks", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (p *pgStore) MentionsToChunks(ctx context.Context, entityNames []string, limitPerEntity int) ([]EntityChunkHit, error) {
	if len(entityNames) == 0 {
		return nil, nil
	}
	if limitPerEntity <= 0 {
		limitPerEntity = 1 << 30
	}
	rows, err := p.pool.Query(ctx, `
SELECT entity_name, chunk_id FROM (
  SELECT entity_name, chunk_id,
         row_number() OVER (PARTITION BY entity_name ORDER BY chunk_id) AS rn
  FROM gr_mentions
  WHERE entity_name = ANY($1)
) ranked
WHERE rn <= $2
ORDER BY entity_name, chunk_id
`, entityNames, limitPerEntity)
	if err != nil {
		return nil, types.WrapGraphTransient("mentions_to_chunks", err)
	}
	defer rows.Close()
	var out []EntityChunkHit
	for rows.Next() {
		var h EntityChunkHit
		if err := rows.Scan(&h.EntityName, &h.ChunkID); err != nil {
			return nil, types.WrapGraphTransient("mentions_to_chunks", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (p *pgStore) ExpandRelationships(ctx context.Context, entityIDs []string, maxEdges int) ([]types.Relationship, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	if maxEdges <= 0 {
		maxEdges = 1 << 30
	}
	rows, err := p.pool.Query(ctx, `
SELECT src, dst, predicate, weight FROM gr_relationships
WHERE src = ANY($1) OR dst = ANY($1)
ORDER BY weight DESC, src ASC, dst ASC
LIMIT $2
`, entityIDs, maxEdges)
	if err != nil {
		return nil, types.WrapGraphTransient("expand_relationships", err)
	}
	defer rows.Close()
	var out []types.Relationship
	for rows.Next() {
		var r types.Relationship
		if err := rows.Scan(&r.Src, &r.Dst, &r.Predicate, &r.Weight); err != nil {
			return nil, types.WrapGraphTransient("expand_relationships", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// snapshot loads the full graph state needed by the five-path tracer and the
// beam walker into the same pure in-memory shape MemoryStore builds, then
// pprTraverse/beamExpand run identically regardless of backend. Bounded by
// total row count rather than per-query scoping: this engine targets a
// single bounded document corpus's graph, not a web-scale one, so a full
// snapshot load is the right tradeoff over incremental SQL traversal.
func (p *pgStore) snapshot(ctx context.Context) (snapshot, error) {
	snap := snapshot{
		outEdges:           make(map[string][]weightedEdge),
		entityChunks:       make(map[string][]chunkRef),
		chunkEntities:      make(map[string][]string),
		chunkEmbed:         make(map[string][]float32),
		similarEdges:       make(map[string][]weightedEdge),
		sectionEntities:    make(map[string][]string),
		entityMentionCount: make(map[string]int),
	}

	relRows, err := p.pool.Query(ctx, `SELECT src, dst, weight FROM gr_relationships`)
	if err != nil {
		return snap, types.WrapGraphTransient("snapshot:relationships", err)
	}
	for relRows.Next() {
		var src, dst string
		var w float64
		if err := relRows.Scan(&src, &dst, &w); err != nil {
			relRows.Close()
			return snap, types.WrapGraphTransient("snapshot:relationships", err)
		}
		snap.outEdges[src] = append(snap.outEdges[src], weightedEdge{Dst: dst, Weight: w})
	}
	relRows.Close()
	if err := relRows.Err(); err != nil {
		return snap, types.WrapGraphTransient("snapshot:relationships", err)
	}

	simRows, err := p.pool.Query(ctx, `SELECT src, dst, weight FROM gr_similarity_edges`)
	if err != nil {
		return snap, types.WrapGraphTransient("snapshot:similarity_edges", err)
	}
	for simRows.Next() {
		var src, dst string
		var w float64
		if err := simRows.Scan(&src, &dst, &w); err != nil {
			simRows.Close()
			return snap, types.WrapGraphTransient("snapshot:similarity_edges", err)
		}
		snap.similarEdges[src] = append(snap.similarEdges[src], weightedEdge{Dst: dst, Weight: w})
	}
	simRows.Close()
	if err := simRows.Err(); err != nil {
		return snap, types.WrapGraphTransient("snapshot:similarity_edges", err)
	}

	chunkRows, err := p.pool.Query(ctx, `SELECT id, section_id, embedding FROM gr_chunks`)
	if err != nil {
		return snap, types.WrapGraphTransient("snapshot:chunks", err)
	}
	chunkSections := make(map[string]string)
	for chunkRows.Next() {
		var id, section string
		var embed *pgvector.Vector
		if err := chunkRows.Scan(&id, &section, &embed); err != nil {
			chunkRows.Close()
			return snap, types.WrapGraphTransient("snapshot:chunks", err)
		}
		if embed != nil {
			snap.chunkEmbed[id] = embed.Slice()
		}
		chunkSections[id] = section
	}
	chunkRows.Close()
	if err := chunkRows.Err(); err != nil {
		return snap, types.WrapGraphTransient("snapshot:chunks", err)
	}

	mentionRows, err := p.pool.Query(ctx, `SELECT entity_name, chunk_id FROM gr_mentions`)
	if err != nil {
		return snap, types.WrapGraphTransient("snapshot:mentions", err)
	}
	for mentionRows.Next() {
		var name, chunkID string
		if err := mentionRows.Scan(&name, &chunkID); err != nil {
			mentionRows.Close()
			return snap, types.WrapGraphTransient("snapshot:mentions", err)
		}
		snap.entityMentionCount[name]++
		section := chunkSections[chunkID]
		snap.entityChunks[name] = append(snap.entityChunks[name], chunkRef{ChunkID: chunkID, SectionID: section})
		snap.chunkEntities[chunkID] = append(snap.chunkEntities[chunkID], name)
		if section != "" {
			snap.sectionEntities[section] = appendUnique(snap.sectionEntities[section], name)
		}
	}
	mentionRows.Close()
	return snap, mentionRows.Err()
}

func (p *pgStore) PPRTraverse(ctx context.Context, seeds map[string]float64, cfg PPRConfig) ([]EntityScore, error) {
	snap, err := p.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return pprTraverse(snap, seeds, cfg), nil
}

func (p *pgStore) BeamExpand(ctx context.Context, seedEntityIDs []string, queryEmbedding []float32, hops, beamWidth int) ([]BeamHit, error) {
	snap, err := p.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	entRows, err := p.pool.Query(ctx, `SELECT id, embedding FROM gr_entities`)
	if err != nil {
		return nil, types.WrapGraphTransient("beam_expand:entities", err)
	}
	defer entRows.Close()
	entityEmbed := make(map[string][]float32)
	for entRows.Next() {
		var id string
		var embed *pgvector.Vector
		if err := entRows.Scan(&id, &embed); err != nil {
			return nil, types.WrapGraphTransient("beam_expand:entities", err)
		}
		if embed != nil {
			entityEmbed[id] = embed.Slice()
		}
	}
	if err := entRows.Err(); err != nil {
		return nil, types.WrapGraphTransient("beam_expand:entities", err)
	}
	return beamExpand(snap, entityEmbed, snap.outEdges, seedEntityIDs, queryEmbedding, hops, beamWidth), nil
}

func (p *pgStore) FetchCommunities(ctx context.Context) ([]types.Community, error) {
	rows, err := p.pool.Query(ctx, `
SELECT id, title, summary, summary_embedding, member_entity_ids, embedding_text_hash FROM gr_communities
ORDER BY id
`)
	if err != nil {
		return nil, types.WrapGraphTransient("fetch_communities", err)
	}
	defer rows.Close()
	var out []types.Community
	for rows.Next() {
		var c types.Community
		var embed *pgvector.Vector
		if err := rows.Scan(&c.CommunityID, &c.Title, &c.Summary, &embed, &c.MemberEntityIDs, &c.EmbeddingTextHash); err != nil {
			return nil, types.WrapGraphTransient("fetch_communities", err)
		}
		if embed != nil {
			c.SummaryEmbedding = embed.Slice()
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *pgStore) FetchEntities(ctx context.Context, entityIDs []string) ([]types.Entity, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx, `
SELECT id, name, description, embedding, degree, community_id FROM gr_entities WHERE id = ANY($1)
`, entityIDs)
	if err != nil {
		return nil, types.WrapGraphTransient("fetch_entities", err)
	}
	defer rows.Close()
	var out []types.Entity
	for rows.Next() {
		var e types.Entity
		var embed *pgvector.Vector
		if err := rows.Scan(&e.EntityID, &e.Name, &e.Description, &embed, &e.Degree, &e.CommunityID); err != nil {
			return nil, types.WrapGraphTransient("fetch_entities", err)
		}
		if embed != nil {
			e.Embedding = embed.Slice()
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	byID := make(map[string]types.Entity, len(out))
	for _, e := range out {
		byID[e.EntityID] = e
	}
	ordered := make([]types.Entity, 0, len(out))
	for _, id := range entityIDs {
		if e, ok := byID[id]; ok {
			ordered = append(ordered, e)
		}
	}
	return ordered, nil
}

func (p *pgStore) FetchEntityDescriptions(ctx context.Context, entityIDs []string) ([]types.EntityDescription, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx, `
SELECT id, name, description FROM gr_entities WHERE id = ANY($1)
`, entityIDs)
	if err != nil {
		return nil, types.WrapGraphTransient("fetch_entity_descriptions", err)
	}
	defer rows.Close()
	var out []types.EntityDescription
	for rows.Next() {
		var d types.EntityDescription
		if err := rows.Scan(&d.EntityID, &d.Name, &d.Description); err != nil {
			return nil, types.WrapGraphTransient("fetch_entity_descriptions", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *pgStore) ListDocuments(ctx context.Context) ([]types.Document, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, title, section_index FROM gr_documents ORDER BY id`)
	if err != nil {
		return nil, types.WrapGraphTransient("list_documents", err)
	}
	defer rows.Close()
	var out []types.Document
	for rows.Next() {
		var d types.Document
		if err := rows.Scan(&d.DocID, &d.Title, &d.SectionIndex); err != nil {
			return nil, types.WrapGraphTransient("list_documents", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *pgStore) LeadChunks(ctx context.Context, docIDs []string) ([]ChunkLookup, error) {
	out := make([]ChunkLookup, len(docIDs))
	if len(docIDs) == 0 {
		return out, nil
	}
	rows, err := p.pool.Query(ctx, `
SELECT DISTINCT ON (doc_id) doc_id, id, section_id, text, page, token_count, embedding
FROM gr_chunks WHERE doc_id = ANY($1)
ORDER BY doc_id, page, id
`, docIDs)
	if err != nil {
		return nil, types.WrapGraphTransient("lead_chunks", err)
	}
	defer rows.Close()
	byDoc := make(map[string]types.TextChunk, len(docIDs))
	for rows.Next() {
		var docID string
		var c types.TextChunk
		var embed *pgvector.Vector
		if err := rows.Scan(&docID, &c.ChunkID, &c.SectionID, &c.Text, &c.Page, &c.TokenCount, &embed); err != nil {
			return nil, types.WrapGraphTransient("lead_chunks", err)
		}
		c.DocID = docID
		if embed != nil {
			c.Embedding = embed.Slice()
		}
		byDoc[docID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, types.WrapGraphTransient("lead_chunks", err)
	}
	for i, docID := range docIDs {
		if c, ok := byDoc[docID]; ok {
			out[i] = ChunkLookup{Chunk: c, Found: true}
		}
	}
	return out, nil
}

// toVectorLiteral renders an embedding as the pgvector text literal Postgres
// accepts for a ::vector cast.
func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	b := strings.Builder{}
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(fmt.Sprintf("%g", x))
	}
	b.WriteByte(']')
	return b.String()
}

// Close releases the underlying connection pool.
func (p *pgStore) Close() error {
	p.pool.Close()
	return nil
}

var _ Store = (*pgStore)(nil)
