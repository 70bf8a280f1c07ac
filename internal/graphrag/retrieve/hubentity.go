package retrieve

import (
	"context"
	"sort"
	"strings"

	"corpusrag/internal/graphrag/graphstore"
	"corpusrag/internal/graphrag/types"
)

// chunkIDPrefixes lists ingestion-generated ID prefixes an entity name must
// not start with to count as real.
var chunkIDPrefixes = []string{"chunk:", "chunk-", "chunk_", "sent:", "sent-", "sent_", "doc:", "doc-", "doc_"}

// HubEntityExtractor selects the most query-relevant entities from the
// communities the matcher surfaced: community members closest to
// query_embedding, ties broken by descending degree, deduplicated across
// communities, with artifact names filtered out.
type HubEntityExtractor struct {
	store graphstore.Store
}

// NewHubEntityExtractor builds an extractor over store.
func NewHubEntityExtractor(store graphstore.Store) *HubEntityExtractor {
	return &HubEntityExtractor{store: store}
}

// Extract returns up to topKPerCommunity entities per matched community,
// deduplicated by entity_id, artifacts filtered.
func (h *HubEntityExtractor) Extract(ctx context.Context, matches []MatchedCommunity, queryEmbedding []float32, topKPerCommunity int) ([]types.Entity, error) {
	if topKPerCommunity <= 0 {
		topKPerCommunity = 5
	}
	seen := make(map[string]bool)
	var out []types.Entity
	for _, m := range matches {
		entities, err := h.store.FetchEntities(ctx, m.Community.MemberEntityIDs)
		if err != nil {
			return nil, err
		}
		type scored struct {
			e     types.Entity
			score float64
		}
		var candidates []scored
		for _, e := range entities {
			if seen[e.EntityID] || isArtifactName(e.Name) {
				continue
			}
			candidates = append(candidates, scored{e: e, score: cosineSim(queryEmbedding, e.Embedding)})
		}
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].score != candidates[j].score {
				return candidates[i].score > candidates[j].score
			}
			if candidates[i].e.Degree != candidates[j].e.Degree {
				return candidates[i].e.Degree > candidates[j].e.Degree
			}
			return candidates[i].e.EntityID < candidates[j].e.EntityID
		})
		if len(candidates) > topKPerCommunity {
			candidates = candidates[:topKPerCommunity]
		}
		for _, c := range candidates {
			seen[c.e.EntityID] = true
			out = append(out, c.e)
		}
	}
	return out, nil
}

// isArtifactName reports whether name looks like ingestion noise rather
// than a real entity: a chunk/sentence/doc ID, bare punctuation, or a
// single character.
func isArtifactName(name string) bool {
	trimmed := strings.TrimSpace(name)
	if len([]rune(trimmed)) <= 1 {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, p := range chunkIDPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	hasLetterOrDigit := false
	for _, r := range trimmed {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			hasLetterOrDigit = true
			break
		}
	}
	return !hasLetterOrDigit
}
