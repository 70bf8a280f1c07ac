package retrieve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"corpusrag/internal/graphrag/embedclient"
	"corpusrag/internal/graphrag/graphstore"
	"corpusrag/internal/rag/embedder"

	"corpusrag/internal/graphrag/types"
)

func TestCommunityMatcher_FiltersByMinScoreAndCapsTopK(t *testing.T) {
	store := graphstore.NewMemoryStore()
	store.LoadCommunity(types.Community{
		CommunityID: "comm1", Title: "Billing", Summary: "Invoices and payments.",
		SummaryEmbedding: []float32{1, 0, 0}, MemberEntityIDs: []string{"e1"},
		EmbeddingTextHash: hashSummary("Invoices and payments."),
	})
	store.LoadCommunity(types.Community{
		CommunityID: "comm2", Title: "Contracts", Summary: "Termination clauses.",
		SummaryEmbedding: []float32{0, 1, 0}, MemberEntityIDs: []string{"e2"},
		EmbeddingTextHash: hashSummary("Termination clauses."),
	})

	m := NewCommunityMatcher(store, nil, nil)
	got, err := m.Match(context.Background(), []float32{1, 0, 0}, 3, 0.05)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "comm1", got[0].Community.CommunityID)
}

func TestCommunityMatcher_ReembedsStaleSummaryEmbedding(t *testing.T) {
	store := graphstore.NewMemoryStore()
	store.LoadCommunity(types.Community{
		CommunityID: "comm1", Title: "Billing", Summary: "Invoices and payments.",
		SummaryEmbedding:  []float32{0, 0, 1}, // deliberately stale/wrong vector
		MemberEntityIDs:   []string{"e1"},
		EmbeddingTextHash: "stale-hash-does-not-match",
	})

	deterministic := embedclient.New(embedder.NewDeterministic(3, true, 1), 3)
	m := NewCommunityMatcher(store, deterministic, nil)

	got, err := m.Match(context.Background(), []float32{1, 0, 0}, 3, -1)
	require.NoError(t, err)
	require.Len(t, got, 1, "stale community must be re-embedded, not excluded, once re-embedding succeeds")
}

func TestCommunityMatcher_CachesAcrossCalls(t *testing.T) {
	store := graphstore.NewMemoryStore()
	store.LoadCommunity(types.Community{
		CommunityID: "comm1", Summary: "Invoices.", SummaryEmbedding: []float32{1, 0, 0},
		MemberEntityIDs: []string{"e1"}, EmbeddingTextHash: hashSummary("Invoices."),
	})
	m := NewCommunityMatcher(store, nil, nil)
	_, err := m.Match(context.Background(), []float32{1, 0, 0}, 3, 0)
	require.NoError(t, err)

	store.LoadCommunity(types.Community{
		CommunityID: "comm2", Summary: "Contracts.", SummaryEmbedding: []float32{0.9, 0, 0.1},
		MemberEntityIDs: []string{"e2"}, EmbeddingTextHash: hashSummary("Contracts."),
	})
	got, err := m.Match(context.Background(), []float32{1, 0, 0}, 3, -1)
	require.NoError(t, err)
	require.Len(t, got, 1, "the cache must not re-query the store until Invalidate is called")

	m.Invalidate()
	got, err = m.Match(context.Background(), []float32{1, 0, 0}, 3, -1)
	require.NoError(t, err)
	require.Len(t, got, 2)
}
