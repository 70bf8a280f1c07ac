package retrieve

import (
	"context"
	"sort"

	"corpusrag/internal/graphrag/graphstore"
	"corpusrag/internal/graphrag/types"
)

// MentionsExpander fetches chunks mentioning a set of entities and assigns
// each chunk the PPR score of its best-scoring source entity, then
// diversifies by section and document.
type MentionsExpander struct {
	store graphstore.Store
}

// NewMentionsExpander builds an expander over store.
func NewMentionsExpander(store graphstore.Store) *MentionsExpander {
	return &MentionsExpander{store: store}
}

// EntityScore pairs an entity (by id and canonicalized name — mentions_to_chunks
// is keyed by name) with the weight seeding the expansion, typically
// the PPR score of that entity.
type EntityScore struct {
	EntityID string
	Name     string
	Score    float64
}

// Expand fetches up to maxChunksPerEntity chunks per entity, scores each
// chunk by the best (highest) contributing entity's score, then caps to
// maxPerSection/maxPerDoc.
func (m *MentionsExpander) Expand(ctx context.Context, entities []EntityScore, maxChunksPerEntity, maxPerSection, maxPerDoc int) ([]types.Candidate, error) {
	if maxChunksPerEntity <= 0 {
		maxChunksPerEntity = 3
	}
	names := make([]string, len(entities))
	scoreByName := make(map[string]float64, len(entities))
	idByName := make(map[string]string, len(entities))
	for i, e := range entities {
		names[i] = e.Name
		scoreByName[e.Name] = e.Score
		idByName[e.Name] = e.EntityID
	}

	hits, err := m.store.MentionsToChunks(ctx, names, maxChunksPerEntity)
	if err != nil {
		return nil, err
	}

	bestScore := make(map[string]float64)
	bestEntity := make(map[string]string)
	var order []string
	seen := make(map[string]bool)
	for _, h := range hits {
		s := scoreByName[h.EntityName]
		if !seen[h.ChunkID] {
			seen[h.ChunkID] = true
			order = append(order, h.ChunkID)
		}
		if cur, ok := bestScore[h.ChunkID]; !ok || s > cur {
			bestScore[h.ChunkID] = s
			bestEntity[h.ChunkID] = idByName[h.EntityName]
		}
	}

	lookups, err := m.store.FetchChunks(ctx, order)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]graphstore.ChunkLookup, len(order))
	for i, id := range order {
		byID[id] = lookups[i]
	}

	type chunkEntry struct {
		chunkID   string
		docID     string
		sectionID string
		score     float64
	}
	var entries []chunkEntry
	for _, id := range order {
		lk := byID[id]
		if !lk.Found {
			continue
		}
		entries = append(entries, chunkEntry{chunkID: id, docID: lk.Chunk.DocID, sectionID: lk.Chunk.SectionID, score: bestScore[id]})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].chunkID < entries[j].chunkID
	})

	if maxPerSection <= 0 {
		maxPerSection = 3
	}
	if maxPerDoc <= 0 {
		maxPerDoc = 6
	}
	sectionCount := make(map[string]int)
	docCount := make(map[string]int)
	var out []types.Candidate
	for _, e := range entries {
		if sectionCount[e.sectionID] >= maxPerSection || docCount[e.docID] >= maxPerDoc {
			continue
		}
		sectionCount[e.sectionID]++
		docCount[e.docID]++
		lk := byID[e.chunkID].Chunk
		out = append(out, types.Candidate{
			ChunkID:   e.chunkID,
			DocID:     lk.DocID,
			SectionID: lk.SectionID,
			Text:      lk.Text,
			Embedding: lk.Embedding,
			Sources:   map[types.CandidateSource]bool{types.SourceMentions: true},
			BaseScore: e.score,
			EntityAnchors: []types.EntityAnchor{{EntityID: bestEntity[e.chunkID], Score: e.score}},
		})
	}
	return out, nil
}
