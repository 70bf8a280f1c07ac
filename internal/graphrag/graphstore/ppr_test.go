package graphstore

import "testing"

func buildSnapshot() snapshot {
	return snapshot{
		outEdges: map[string][]weightedEdge{
			"e1": {{Dst: "e2", Weight: 1.0}},
			"e2": {{Dst: "e3", Weight: 1.0}},
		},
		entityChunks: map[string][]chunkRef{
			"e1": {{ChunkID: "c1", SectionID: "s1"}},
			"e2": {{ChunkID: "c2", SectionID: "s1"}},
			"e4": {{ChunkID: "c3", SectionID: "s2"}},
		},
		chunkEntities: map[string][]string{
			"c1": {"e1"},
			"c2": {"e2"},
			"c3": {"e4"},
		},
		chunkEmbed: map[string][]float32{
			"c1": {1, 0, 0},
			"c2": {1, 0, 0},
			"c3": {0.99, 0.1, 0},
		},
		similarEdges: map[string][]weightedEdge{},
		sectionEntities: map[string][]string{
			"s1": {"e1", "e2"},
			"s2": {"e4"},
		},
		entityMentionCount: map[string]int{
			"e1": 1,
			"e2": 1,
			"e4": 5,
		},
	}
}

func TestPowerIteration_PropagatesAlongEdgeChain(t *testing.T) {
	edges := map[string][]weightedEdge{
		"a": {{Dst: "b", Weight: 1.0}},
		"b": {{Dst: "c", Weight: 1.0}},
	}
	scores := powerIteration(edges, map[string]float64{"a": 1.0}, 0.5, 10)
	if scores["b"] <= 0 {
		t.Fatalf("expected b to receive score, got %v", scores["b"])
	}
	if scores["c"] <= 0 {
		t.Fatalf("expected c to receive score two hops out, got %v", scores["c"])
	}
	if scores["a"] <= scores["b"] {
		t.Fatalf("expected the seed itself to retain more mass than a downstream node: a=%v b=%v", scores["a"], scores["b"])
	}
}

func TestPowerIteration_NoSeeds_ReturnsEmpty(t *testing.T) {
	scores := powerIteration(map[string][]weightedEdge{"a": {{Dst: "b", Weight: 1}}}, nil, 0.5, 10)
	if len(scores) != 0 {
		t.Fatalf("expected no scores with no seeds, got %#v", scores)
	}
}

func TestSectionCoMembership_ScoresSectionPeers(t *testing.T) {
	snap := buildSnapshot()
	out := sectionCoMembership(snap, map[string]float64{"e1": 1.0})
	if out["e2"] <= 0 {
		t.Fatalf("expected e2 (co-member of s1) to score > 0, got %v", out["e2"])
	}
	if _, ok := out["e1"]; ok {
		t.Fatalf("seed entity should not score itself")
	}
}

func TestHighMentionHubs_FavorsHighestMentionCount(t *testing.T) {
	snap := buildSnapshot()
	out := highMentionHubs(snap, map[string]float64{"e1": 1.0})
	if out["e2"] <= 0 {
		t.Fatalf("expected e2 (co-section peer of e1) to score > 0, got %v", out["e2"])
	}
}

func TestPPRTraverse_CombinesPathsDeterministically(t *testing.T) {
	snap := buildSnapshot()
	seeds := map[string]float64{"e1": 1.0}
	cfg := PPRConfig{Damping: 0.5, SimWeight: 0.3, HubWeight: 0.2, Iterations: 10, TopK: 10}

	first := pprTraverse(snap, seeds, cfg)
	second := pprTraverse(snap, seeds, cfg)

	if len(first) != len(second) {
		t.Fatalf("expected deterministic output length, got %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("expected byte-identical ordering across repeated calls, diverged at index %d: %#v vs %#v", i, first[i], second[i])
		}
	}
	if len(first) == 0 {
		t.Fatalf("expected at least one scored entity from seed e1")
	}
}

func TestPPRTraverse_RespectsTopK(t *testing.T) {
	snap := buildSnapshot()
	out := pprTraverse(snap, map[string]float64{"e1": 1.0}, PPRConfig{Damping: 0.5, Iterations: 10, TopK: 1})
	if len(out) > 1 {
		t.Fatalf("expected TopK=1 to cap results, got %d", len(out))
	}
}

func TestCosineSim_OrthogonalIsZero(t *testing.T) {
	if got := cosineSim([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Fatalf("expected orthogonal vectors to score 0, got %v", got)
	}
}

func TestCosineSim_MismatchedLengthIsZero(t *testing.T) {
	if got := cosineSim([]float32{1, 0, 0}, []float32{1, 0}); got != 0 {
		t.Fatalf("expected mismatched-length vectors to score 0, got %v", got)
	}
}

func TestBeamExpand_KeepsTopBeamWidthPerHop(t *testing.T) {
	snap := buildSnapshot()
	outEdges := map[string][]weightedEdge{
		"seed": {{Dst: "a", Weight: 1}, {Dst: "b", Weight: 1}, {Dst: "c", Weight: 1}},
	}
	entityEmbed := map[string][]float32{
		"a": {1, 0, 0},
		"b": {0.9, 0.1, 0},
		"c": {0, 1, 0},
	}
	hits := beamExpand(snap, entityEmbed, outEdges, []string{"seed"}, []float32{1, 0, 0}, 1, 2)
	if len(hits) != 2 {
		t.Fatalf("expected beamWidth=2 to cap hop-1 results, got %d: %#v", len(hits), hits)
	}
	if hits[0].EntityID != "a" {
		t.Fatalf("expected closest-by-cosine entity 'a' first, got %#v", hits)
	}
}

func TestBeamExpand_StopsWhenFrontierExhausted(t *testing.T) {
	snap := buildSnapshot()
	hits := beamExpand(snap, map[string][]float32{}, map[string][]weightedEdge{}, []string{"isolated"}, []float32{1, 0}, 5, 3)
	if len(hits) != 0 {
		t.Fatalf("expected no hits for an entity with no outgoing edges, got %#v", hits)
	}
}
