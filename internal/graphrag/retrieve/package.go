// Package retrieve implements the independent candidate retrievers:
// the hybrid sentence/chunk retriever, the community matcher,
// the hub-entity extractor, the mentions expander, and the seed-identification
// helpers the route orchestrators use to drive the personalized-PageRank
// tracer and semantic beam walker exposed by graphstore.
package retrieve

import "math"

// cosineSim mirrors graphstore's private cosine helper; duplicated here
// (rather than exported from graphstore) because the community matcher and
// hub-entity extractor score query_embedding against summary/entity
// embeddings fetched through Store, not against graphstore-internal state.
func cosineSim(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
