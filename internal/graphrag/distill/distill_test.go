package distill

import (
	"testing"

	"github.com/stretchr/testify/require"

	"corpusrag/internal/config"
	"corpusrag/internal/graphrag/types"
)

func candidate(chunkID, text string, baseScore float64, embedding []float32, sources ...types.CandidateSource) types.Candidate {
	s := make(map[types.CandidateSource]bool)
	for _, src := range sources {
		s[src] = true
	}
	return types.Candidate{
		ChunkID:   chunkID,
		DocID:     "doc-" + chunkID,
		Text:      text,
		Embedding: embedding,
		BaseScore: baseScore,
		Sources:   s,
	}
}

func TestDistill_ExactDedupMergesSources(t *testing.T) {
	d := New(config.DefaultRetrievalConfig())
	in := Input{
		Candidates: []types.Candidate{
			candidate("c1", "Acme Corp signed the master services agreement in 2021.", 0.4, []float32{1, 0, 0}, types.SourceVector),
			candidate("c2", "Acme Corp   signed the master  services agreement in 2021.", 0.9, []float32{1, 0, 0}, types.SourceBM25),
		},
		QueryEmbedding: []float32{1, 0, 0},
	}
	out := d.Distill(in)
	require.Len(t, out.Candidates, 1, "whitespace-only variants of the same text must collapse to one candidate")
	require.InDelta(t, 0.9, out.Candidates[0].BaseScore, 1e-9, "exact dedup keeps the higher base_score")
	require.True(t, out.Candidates[0].Sources[types.SourceVector])
	require.True(t, out.Candidates[0].Sources[types.SourceBM25])
}

func TestDistill_NoiseFilterDropsShortAndHeadingLikeText(t *testing.T) {
	d := New(config.DefaultRetrievalConfig())
	in := Input{
		Candidates: []types.Candidate{
			candidate("short", "Too short", 0.5, []float32{1, 0, 0}),
			candidate("label", "Payment Terms and Conditions:", 0.5, []float32{1, 0, 0}),
			candidate("heading", "Section 4 Miscellaneous Provisions Overview", 0.5, []float32{1, 0, 0}),
			candidate("real", "The contract term is 24 months, renewable annually thereafter.", 0.5, []float32{1, 0, 0}),
		},
		QueryEmbedding: []float32{1, 0, 0},
	}
	out := d.Distill(in)
	require.Len(t, out.Candidates, 1)
	require.Equal(t, "real", out.Candidates[0].ChunkID)
}

func TestDistill_CrossSourceDedupKeepsHighestScore(t *testing.T) {
	d := New(config.DefaultRetrievalConfig())
	in := Input{
		Candidates: []types.Candidate{
			candidate("c1", "The indemnification clause caps liability at total fees paid.", 0.2, []float32{1, 0, 0}, types.SourceVector),
			candidate("c1", "The indemnification clause caps liability at total fees paid.", 0.8, []float32{1, 0, 0}, types.SourceMentions),
		},
		QueryEmbedding: []float32{1, 0, 0},
	}
	out := d.Distill(in)
	require.Len(t, out.Candidates, 1)
	require.InDelta(t, 0.8, out.Candidates[0].BaseScore, 1e-9)
	require.True(t, out.Candidates[0].Sources[types.SourceVector])
	require.True(t, out.Candidates[0].Sources[types.SourceMentions])
}

func TestDistill_RerankOrdersByBlendedScoreWithDeterministicTieBreak(t *testing.T) {
	d := New(config.DefaultRetrievalConfig())
	in := Input{
		Candidates: []types.Candidate{
			candidate("b", "Beta LLC delivered the goods within the thirty day window required.", 0.1, []float32{0, 1, 0}),
			candidate("a", "Acme Corp delivered the goods within the thirty day window required.", 0.9, []float32{1, 0, 0}),
		},
		QueryEmbedding: []float32{1, 0, 0},
	}
	out := d.Distill(in)
	require.Len(t, out.Candidates, 2)
	require.Equal(t, "a", out.Candidates[0].ChunkID, "the candidate aligned with query_embedding and a higher base_score must rank first")
	require.Equal(t, 1, out.Candidates[0].Rank)
	require.Equal(t, 2, out.Candidates[1].Rank)
}

func TestDistill_TokenBudgetNeverExceeded(t *testing.T) {
	cfg := config.DefaultRetrievalConfig()
	cfg.TokenBudget = 10
	cfg.CommunityPreambleBudget = 0
	d := New(cfg)

	var candidates []types.Candidate
	for i := 0; i < 20; i++ {
		id := string(rune('a' + i))
		candidates = append(candidates, candidate(id, "This clause describes an obligation that repeats across many generated chunks.", 0.5, []float32{1, 0, 0}))
	}
	out := d.Distill(Input{Candidates: candidates, QueryEmbedding: []float32{1, 0, 0}})
	require.LessOrEqual(t, out.TotalTokens, cfg.TokenBudget, "total_tokens must never exceed token_budget")
}

func TestDistill_IsDeterministic(t *testing.T) {
	d := New(config.DefaultRetrievalConfig())
	in := Input{
		Candidates: []types.Candidate{
			candidate("c1", "Acme Corp must deliver a written notice thirty days in advance.", 0.5, []float32{1, 0, 0}),
			candidate("c2", "Beta LLC must countersign within ten business days of receipt.", 0.5, []float32{0.9, 0.1, 0}),
			candidate("c3", "Either party may terminate for convenience with sixty days notice.", 0.6, []float32{0.2, 0.8, 0}),
		},
		QueryEmbedding: []float32{1, 0, 0},
	}
	first := d.Distill(in)
	second := d.Distill(in)
	require.Equal(t, first.Candidates, second.Candidates, "identical inputs must produce byte-identical candidate order")
	require.Equal(t, first.TotalTokens, second.TotalTokens)
}

func TestDistill_PreambleAndSideChannelsAreBudgeted(t *testing.T) {
	cfg := config.DefaultRetrievalConfig()
	cfg.CommunityPreambleBudget = 100
	cfg.MaxRelationships = 1
	cfg.MaxEntityDescriptions = 1
	d := New(cfg)

	out := d.Distill(Input{
		Candidates: []types.Candidate{
			candidate("c1", "The governing law clause designates the state of Delaware exclusively.", 0.5, []float32{1, 0, 0}),
		},
		QueryEmbedding: []float32{1, 0, 0},
		Communities: []CommunityMatch{
			{Title: "Contracts", Summary: "Master service agreements and amendments.", Score: 0.9},
		},
		Relationships: []types.Relationship{
			{Src: "e1", Dst: "e2", Predicate: "PARTY_TO", Weight: 0.8},
			{Src: "e1", Dst: "e3", Predicate: "PARTY_TO", Weight: 0.5},
		},
		EntityDescriptions: []types.EntityDescription{
			{EntityID: "e1", Name: "Acme Corp", Description: "A supplier."},
			{EntityID: "e2", Name: "Beta LLC", Description: "A distributor."},
		},
	})

	require.Contains(t, out.CommunityPreamble, "Contracts")
	require.Len(t, out.Relationships, 1, "max_relationships must cap side channel output")
	require.Len(t, out.EntityDescriptions, 1, "max_entity_descriptions must cap side channel output")
}
