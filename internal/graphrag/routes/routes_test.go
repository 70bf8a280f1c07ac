package routes

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"corpusrag/internal/config"
	"corpusrag/internal/graphrag/embedclient"
	"corpusrag/internal/graphrag/graphstore"
	"corpusrag/internal/graphrag/llmclient"
	"corpusrag/internal/graphrag/retrieve"
	"corpusrag/internal/graphrag/types"
	"corpusrag/internal/rag/embedder"
)

// fakeLLM is a deterministic stand-in for llmclient.Client, used only to
// exercise R4's sub-question decomposition without a network call.
type fakeLLM struct {
	text string
	err  error
}

func (f fakeLLM) Complete(context.Context, llmclient.Request) (llmclient.Result, error) {
	if f.err != nil {
		return llmclient.Result{}, f.err
	}
	return llmclient.Result{Text: f.text, FinishReason: llmclient.FinishStop}, nil
}

func fixtureStore() *graphstore.MemoryStore {
	store := graphstore.NewMemoryStore()
	store.LoadDocument(types.Document{DocID: "doc1", Title: "Acme Master Services Agreement"})
	store.LoadDocument(types.Document{DocID: "doc2", Title: "Acme Data Processing Addendum"})

	store.LoadChunk(types.TextChunk{ChunkID: "c1", DocID: "doc1", SectionID: "s1", Text: "Acme Corp shall pay invoices within thirty days of receipt.", Page: 1, TokenCount: 12, Embedding: []float32{1, 0, 0}})
	store.LoadChunk(types.TextChunk{ChunkID: "c2", DocID: "doc1", SectionID: "s2", Text: "Termination requires sixty days written notice to Acme Corp.", Page: 2, TokenCount: 10, Embedding: []float32{0.9, 0.1, 0}})
	store.LoadChunk(types.TextChunk{ChunkID: "c3", DocID: "doc2", SectionID: "s1", Text: "Personal data is processed only for the purposes described herein.", Page: 1, TokenCount: 11, Embedding: []float32{0, 1, 0}})

	store.LoadEntity(types.Entity{EntityID: "e1", Name: "Acme Corp", Embedding: []float32{1, 0, 0}, Degree: 3, CommunityID: "comm1"})
	store.LoadMention("Acme Corp", "c1")
	store.LoadMention("Acme Corp", "c2")

	store.LoadCommunity(types.Community{
		CommunityID: "comm1", Title: "Commercial Terms", Summary: "Payment and termination obligations.",
		SummaryEmbedding: []float32{1, 0, 0}, MemberEntityIDs: []string{"e1"},
		EmbeddingTextHash: hashCommunitySummary("Payment and termination obligations."),
	})
	return store
}

func newOrchestrator(store graphstore.Store, llm llmclient.Client) *Orchestrator {
	cfg := config.DefaultRetrievalConfig()
	embedClient := embedclient.New(embedder.NewDeterministic(3, true, 1), 3)
	return New(store, embedClient, llm, cfg, nil)
}

func TestOrchestrator_RunVector_DistillsHybridCandidatesOnly(t *testing.T) {
	store := fixtureStore()
	o := newOrchestrator(store, nil)
	q := types.Query{QueryText: "When must Acme Corp pay invoices?", QueryEmbedding: []float32{1, 0, 0}}

	out, err := o.Run(context.Background(), types.RouteVector, q)
	require.NoError(t, err)
	require.NotEmpty(t, out.Candidates)
}

func TestOrchestrator_RunLocal_ExpandsSeedEntityMentions(t *testing.T) {
	store := fixtureStore()
	o := newOrchestrator(store, nil)
	q := types.Query{QueryText: "What are Acme Corp's payment terms?", QueryEmbedding: []float32{1, 0, 0}}

	out, err := o.Run(context.Background(), types.RouteLocal, q)
	require.NoError(t, err)
	require.NotEmpty(t, out.Candidates, "local route should surface Acme Corp's mentioned chunks")
}

func TestOrchestrator_RunGlobal_PopulatesCommunityPreamble(t *testing.T) {
	store := fixtureStore()
	o := newOrchestrator(store, nil)
	q := types.Query{QueryText: "Summarize the commercial relationship with Acme Corp", QueryEmbedding: []float32{1, 0, 0}}

	out, err := o.Run(context.Background(), types.RouteGlobal, q)
	require.NoError(t, err)
	require.NotEmpty(t, out.CommunityPreamble, "matched community summary should seed the preamble")
}

func TestOrchestrator_RunGlobal_CoverageGapFillInsertsMissingDocument(t *testing.T) {
	store := fixtureStore()
	o := newOrchestrator(store, nil)
	// Query text matches the "summarize each document" whitelist pattern, and
	// nothing in this fixture's hybrid/community/PPR paths surfaces doc2's
	// lone chunk (c3 shares no entity or strong lexical overlap with the
	// query), so the gap-fill step must append doc2's lead chunk.
	q := types.Query{QueryText: "Summarize each document in the corpus", QueryEmbedding: []float32{1, 0, 0}}

	union, err := o.fillCoverageGaps(context.Background(), q.QueryText, []types.Candidate{{ChunkID: "c1", DocID: "doc1"}})
	require.NoError(t, err)

	var sawDoc2 bool
	for _, c := range union {
		if c.DocID == "doc2" {
			sawDoc2 = true
		}
	}
	require.True(t, sawDoc2, "coverage gap-fill must insert doc2's lead chunk")
}

func TestOrchestrator_FillCoverageGaps_SkipsNonMatchingQueries(t *testing.T) {
	store := fixtureStore()
	o := newOrchestrator(store, nil)
	in := []types.Candidate{{ChunkID: "c1", DocID: "doc1"}}

	out, err := o.fillCoverageGaps(context.Background(), "What are Acme Corp's payment terms?", in)
	require.NoError(t, err)
	require.Equal(t, in, out, "a query that doesn't match the whitelist pattern must pass candidates through unchanged")
}

// bm25DownStore simulates a degraded lexical-search backend while every
// other store operation keeps working.
type bm25DownStore struct {
	graphstore.Store
}

func (bm25DownStore) BM25SearchChunks(context.Context, string, int) ([]graphstore.ChunkHit, error) {
	return nil, errors.New("bm25 backend down")
}

func TestOrchestrator_RunGlobal_HybridFailureFailsSoft(t *testing.T) {
	store := bm25DownStore{Store: fixtureStore()}
	o := newOrchestrator(store, nil)
	q := types.Query{QueryText: "Summarize the commercial relationship with Acme Corp", QueryEmbedding: []float32{1, 0, 0}}

	out, err := o.Run(context.Background(), types.RouteGlobal, q)
	require.NoError(t, err, "a single failed retriever must not fail the route while others produced results")
	require.NotEmpty(t, out.CommunityPreamble)
	require.NotEmpty(t, out.Candidates, "hub-entity enrichment should still surface mentioned chunks")
}

func TestOrchestrator_HubEntityEnrichment_RanksByQueryRelevanceNotDegree(t *testing.T) {
	store := graphstore.NewMemoryStore()
	store.LoadEntity(types.Entity{EntityID: "e-rel", Name: "Acme Corp", Embedding: []float32{1, 0, 0}, Degree: 1, CommunityID: "comm1"})
	store.LoadEntity(types.Entity{EntityID: "e-hub", Name: "Widget Holdings", Embedding: []float32{0, 0, 1}, Degree: 9, CommunityID: "comm1"})
	o := newOrchestrator(store, nil)

	matched := []retrieve.MatchedCommunity{{
		Community: types.Community{CommunityID: "comm1", MemberEntityIDs: []string{"e-rel", "e-hub"}},
		Score:     0.9,
	}}
	hubIDs, _, err := o.hubEntityEnrichment(context.Background(), matched, []float32{1, 0, 0})
	require.NoError(t, err)
	require.NotEmpty(t, hubIDs)
	require.Equal(t, "e-rel", hubIDs[0], "the query-aligned entity must outrank a better-connected but query-irrelevant one")
}

func TestOrchestrator_RunLocal_AttachesSideChannels(t *testing.T) {
	store := fixtureStore()
	store.LoadEntity(types.Entity{EntityID: "e2", Name: "Beta LLC", Description: "Counterparty to the services agreement.", Embedding: []float32{0.8, 0.2, 0}, Degree: 1, CommunityID: "comm1"})
	store.LoadRelationship(types.Relationship{Src: "e1", Dst: "e2", Predicate: "CONTRACTS_WITH", Weight: 0.9})
	o := newOrchestrator(store, nil)
	q := types.Query{QueryText: "What are Acme Corp's payment terms?", QueryEmbedding: []float32{1, 0, 0}}

	out, err := o.Run(context.Background(), types.RouteLocal, q)
	require.NoError(t, err)
	require.NotEmpty(t, out.Relationships, "relationship edges among traced entities should reach the distilled context")
	require.NotEmpty(t, out.EntityDescriptions)
}

func TestOrchestrator_RunDrift_MergesSubQuestionCandidates(t *testing.T) {
	store := fixtureStore()
	llm := fakeLLM{text: "What are the payment terms?\nWhat is the termination notice period?"}
	o := newOrchestrator(store, llm)
	q := types.Query{QueryText: "What are Acme Corp's payment and termination terms?", QueryEmbedding: []float32{1, 0, 0}}

	out, err := o.Run(context.Background(), types.RouteDrift, q)
	require.NoError(t, err)
	require.NotEmpty(t, out.Candidates)
}

func TestOrchestrator_Decompose_FallsBackToOriginalQueryOnEmptyResponse(t *testing.T) {
	store := fixtureStore()
	llm := fakeLLM{text: ""}
	o := newOrchestrator(store, llm)
	q := types.Query{QueryText: "What are Acme Corp's payment terms?", QueryEmbedding: []float32{1, 0, 0}}

	out, err := o.Run(context.Background(), types.RouteDrift, q)
	require.NoError(t, err)
	require.NotEmpty(t, out.Candidates)
}

func TestOrchestrator_SummarizeEachDocPattern(t *testing.T) {
	require.True(t, summarizeEachDocPattern.MatchString("Please summarize each document"))
	require.True(t, summarizeEachDocPattern.MatchString("Summarise every document in this set"))
	require.True(t, summarizeEachDocPattern.MatchString("Compare obligations across all documents"))
	require.False(t, summarizeEachDocPattern.MatchString("What is Acme Corp's payment term?"))
}

// hashCommunitySummary mirrors retrieve.hashSummary (unexported, so this
// fixture duplicates the same trim-then-sha256 computation) so the loaded
// community's embedding_text_hash agrees with its summary and the stale
// guard doesn't exclude it.
func hashCommunitySummary(s string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(s)))
	return hex.EncodeToString(sum[:])
}
