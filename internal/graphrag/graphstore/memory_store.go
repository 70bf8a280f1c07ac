package graphstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"corpusrag/internal/graphrag/types"
)

// MemoryStore is a deterministic, in-process Store used by tests and the
// "memory" backend: plain maps guarded by a RWMutex, no external deps.
type MemoryStore struct {
	mu sync.RWMutex

	chunks       map[string]types.TextChunk
	sentences    map[string]types.Sentence
	entities     map[string]types.Entity
	documents     map[string]types.Document
	relationships []types.Relationship
	similarity    []types.SimilarityEdge
	communities   []types.Community

	// mentions[entity_name] -> chunk ids mentioning it, in insertion order
	mentions map[string][]string
}

// NewMemoryStore constructs an empty in-memory Store. Fixtures are loaded via
// the Load* methods, intended for tests and local/offline operation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chunks:    make(map[string]types.TextChunk),
		sentences: make(map[string]types.Sentence),
		entities:  make(map[string]types.Entity),
		documents: make(map[string]types.Document),
		mentions:  make(map[string][]string),
	}
}

func (m *MemoryStore) LoadDocument(d types.Document)       { m.mu.Lock(); defer m.mu.Unlock(); m.documents[d.DocID] = d }
func (m *MemoryStore) LoadChunk(c types.TextChunk)         { m.mu.Lock(); defer m.mu.Unlock(); m.chunks[c.ChunkID] = c }
func (m *MemoryStore) LoadSentence(s types.Sentence)       { m.mu.Lock(); defer m.mu.Unlock(); m.sentences[s.SentID] = s }
func (m *MemoryStore) LoadEntity(e types.Entity)           { m.mu.Lock(); defer m.mu.Unlock(); m.entities[e.EntityID] = e }
func (m *MemoryStore) LoadRelationship(r types.Relationship) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relationships = append(m.relationships, r)
}
func (m *MemoryStore) LoadSimilarityEdge(e types.SimilarityEdge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.similarity = append(m.similarity, e)
}
func (m *MemoryStore) LoadCommunity(c types.Community) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.communities = append(m.communities, c)
}
func (m *MemoryStore) LoadMention(entityName, chunkID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mentions[entityName] = append(m.mentions[entityName], chunkID)
}

func (m *MemoryStore) FetchChunks(_ context.Context, chunkIDs []string) ([]ChunkLookup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ChunkLookup, len(chunkIDs))
	for i, id := range chunkIDs {
		c, ok := m.chunks[id]
		out[i] = ChunkLookup{Chunk: c, Found: ok}
	}
	return out, nil
}

func (m *MemoryStore) VectorSearchSentences(_ context.Context, embedding []float32, k int, minScore float64) ([]SentenceHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hits := make([]SentenceHit, 0, len(m.sentences))
	for id, s := range m.sentences {
		score := cosineSim(embedding, s.Embedding)
		if score < minScore {
			continue
		}
		hits = append(hits, SentenceHit{SentID: id, ChunkID: s.ChunkID, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].SentID < hits[j].SentID
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *MemoryStore) VectorSearchChunks(_ context.Context, embedding []float32, k int, minScore float64) ([]ChunkHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hits := make([]ChunkHit, 0, len(m.chunks))
	for id, c := range m.chunks {
		score := cosineSim(embedding, c.Embedding)
		if score < minScore {
			continue
		}
		hits = append(hits, ChunkHit{ChunkID: id, Score: score})
	}
	sortChunkHits(hits)
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// BM25SearchChunks approximates BM25 with a term-overlap score (bounded
// in-memory fixture use only; pgStore in postgres_store.go ranks with
// Postgres full-text search).
func (m *MemoryStore) BM25SearchChunks(_ context.Context, queryText string, k int) ([]ChunkHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	terms := strings.Fields(strings.ToLower(queryText))
	hits := make([]ChunkHit, 0, len(m.chunks))
	for id, c := range m.chunks {
		text := strings.ToLower(c.Text)
		score := 0.0
		for _, t := range terms {
			if t == "" {
				continue
			}
			score += float64(strings.Count(text, t))
		}
		if score <= 0 {
			continue
		}
		hits = append(hits, ChunkHit{ChunkID: id, Score: score})
	}
	sortChunkHits(hits)
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func sortChunkHits(hits []ChunkHit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
}

func (m *MemoryStore) MentionsToChunks(_ context.Context, entityNames []string, limitPerEntity int) ([]EntityChunkHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []EntityChunkHit
	for _, name := range entityNames {
		chunkIDs := m.mentions[name]
		n := len(chunkIDs)
		if limitPerEntity > 0 && n > limitPerEntity {
			n = limitPerEntity
		}
		for i := 0; i < n; i++ {
			out = append(out, EntityChunkHit{EntityName: name, ChunkID: chunkIDs[i]})
		}
	}
	return out, nil
}

func (m *MemoryStore) ExpandRelationships(_ context.Context, entityIDs []string, maxEdges int) ([]types.Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := make(map[string]bool, len(entityIDs))
	for _, id := range entityIDs {
		want[id] = true
	}
	var out []types.Relationship
	for _, r := range m.relationships {
		if want[r.Src] || want[r.Dst] {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		if out[i].Src != out[j].Src {
			return out[i].Src < out[j].Src
		}
		return out[i].Dst < out[j].Dst
	})
	if maxEdges > 0 && len(out) > maxEdges {
		out = out[:maxEdges]
	}
	return out, nil
}

func (m *MemoryStore) snapshot() snapshot {
	snap := snapshot{
		outEdges:           make(map[string][]weightedEdge),
		entityChunks:       make(map[string][]chunkRef),
		chunkEntities:      make(map[string][]string),
		chunkEmbed:         make(map[string][]float32),
		similarEdges:       make(map[string][]weightedEdge),
		sectionEntities:    make(map[string][]string),
		entityMentionCount: make(map[string]int),
	}
	for _, r := range m.relationships {
		snap.outEdges[r.Src] = append(snap.outEdges[r.Src], weightedEdge{Dst: r.Dst, Weight: r.Weight})
	}
	for _, e := range m.similarity {
		snap.similarEdges[e.Src] = append(snap.similarEdges[e.Src], weightedEdge{Dst: e.Dst, Weight: e.Weight})
	}
	for id, c := range m.chunks {
		snap.chunkEmbed[id] = c.Embedding
	}
	for name, chunkIDs := range m.mentions {
		snap.entityMentionCount[name] = len(chunkIDs)
		for _, cid := range chunkIDs {
			sectionID := ""
			if c, ok := m.chunks[cid]; ok {
				sectionID = c.SectionID
			}
			snap.entityChunks[name] = append(snap.entityChunks[name], chunkRef{ChunkID: cid, SectionID: sectionID})
			snap.chunkEntities[cid] = append(snap.chunkEntities[cid], name)
			if sectionID != "" {
				snap.sectionEntities[sectionID] = appendUnique(snap.sectionEntities[sectionID], name)
			}
		}
	}
	return snap
}

func appendUnique(s []string, v string) []string {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

func (m *MemoryStore) PPRTraverse(_ context.Context, seeds map[string]float64, cfg PPRConfig) ([]EntityScore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return pprTraverse(m.snapshot(), seeds, cfg), nil
}

func (m *MemoryStore) BeamExpand(_ context.Context, seedEntityIDs []string, queryEmbedding []float32, hops, beamWidth int) ([]BeamHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := m.snapshot()
	entityEmbed := make(map[string][]float32, len(m.entities))
	for id, e := range m.entities {
		entityEmbed[id] = e.Embedding
	}
	return beamExpand(snap, entityEmbed, snap.outEdges, seedEntityIDs, queryEmbedding, hops, beamWidth), nil
}

func (m *MemoryStore) FetchCommunities(_ context.Context) ([]types.Community, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Community, len(m.communities))
	copy(out, m.communities)
	return out, nil
}

func (m *MemoryStore) FetchEntityDescriptions(_ context.Context, entityIDs []string) ([]types.EntityDescription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.EntityDescription, 0, len(entityIDs))
	for _, id := range entityIDs {
		e, ok := m.entities[id]
		if !ok {
			continue
		}
		out = append(out, types.EntityDescription{EntityID: id, Name: e.Name, Description: e.Description})
	}
	return out, nil
}

func (m *MemoryStore) VectorSearchEntities(_ context.Context, embedding []float32, k int, minScore float64) ([]EntityHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hits := make([]EntityHit, 0, len(m.entities))
	for id, e := range m.entities {
		score := cosineSim(embedding, e.Embedding)
		if score < minScore {
			continue
		}
		hits = append(hits, EntityHit{EntityID: id, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].EntityID < hits[j].EntityID
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *MemoryStore) FetchEntities(_ context.Context, entityIDs []string) ([]types.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Entity, 0, len(entityIDs))
	for _, id := range entityIDs {
		if e, ok := m.entities[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListDocuments(_ context.Context) ([]types.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Document, 0, len(m.documents))
	for _, d := range m.documents {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out, nil
}

func (m *MemoryStore) LeadChunks(_ context.Context, docIDs []string) ([]ChunkLookup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byDoc := make(map[string][]types.TextChunk, len(docIDs))
	for _, c := range m.chunks {
		byDoc[c.DocID] = append(byDoc[c.DocID], c)
	}
	out := make([]ChunkLookup, len(docIDs))
	for i, docID := range docIDs {
		chunks := byDoc[docID]
		if len(chunks) == 0 {
			continue
		}
		sort.Slice(chunks, func(a, b int) bool {
			if chunks[a].Page != chunks[b].Page {
				return chunks[a].Page < chunks[b].Page
			}
			return chunks[a].ChunkID < chunks[b].ChunkID
		})
		out[i] = ChunkLookup{Chunk: chunks[0], Found: true}
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
