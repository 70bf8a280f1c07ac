package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"corpusrag/internal/config"
	"corpusrag/internal/graphrag/embedclient"
	"corpusrag/internal/graphrag/graphstore"
	"corpusrag/internal/graphrag/llmclient"
	"corpusrag/internal/graphrag/routes"
	"corpusrag/internal/graphrag/synthesize"
	"corpusrag/internal/graphrag/types"
	"corpusrag/internal/rag/embedder"
)

type fakeLLM struct {
	text string
}

func (f fakeLLM) Complete(context.Context, llmclient.Request) (llmclient.Result, error) {
	return llmclient.Result{Text: f.text, FinishReason: llmclient.FinishStop}, nil
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	store := graphstore.NewMemoryStore()
	store.LoadDocument(types.Document{DocID: "doc1", Title: "Acme Master Services Agreement"})
	store.LoadChunk(types.TextChunk{ChunkID: "c1", DocID: "doc1", SectionID: "s1", Text: "Acme Corp shall pay invoices within thirty days of receipt.", Page: 1, Embedding: []float32{1, 0, 0}})
	store.LoadEntity(types.Entity{EntityID: "e1", Name: "Acme Corp", Embedding: []float32{1, 0, 0}, Degree: 1})
	store.LoadMention("Acme Corp", "c1")

	cfg := config.DefaultRetrievalConfig()
	embedClient := embedclient.New(embedder.NewDeterministic(3, true, 1), 3)
	orchestrator := routes.New(store, embedClient, fakeLLM{text: "sub-question one"}, cfg, nil)
	synthesizer := synthesize.New(fakeLLM{text: "## Summary\nAcme Corp pays within thirty days [1].\n## Key Points\n- Net 30 days [1]\n"})
	return New(embedClient, orchestrator, synthesizer, cfg, nil)
}

func TestDispatcher_Query_RejectsEmptyQueryText(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Query(context.Background(), types.QueryRequest{QueryText: "   "})
	require.NotEmpty(t, resp.Error)
	require.Empty(t, resp.AnswerText)
}

func TestDispatcher_Query_RejectsUnknownRouteOverride(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Query(context.Background(), types.QueryRequest{QueryText: "hello", RouteOverride: types.RouteName("bogus")})
	require.NotEmpty(t, resp.Error)
}

func TestDispatcher_Query_HappyPathReturnsAnswerWithCitations(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Query(context.Background(), types.QueryRequest{
		QueryText:     "When must Acme Corp pay invoices?",
		RouteOverride: types.RouteVector,
	})
	require.Empty(t, resp.Error)
	require.False(t, resp.Refused)
	require.NotEmpty(t, resp.Citations)
	require.Equal(t, types.RouteVector, resp.RouteTaken)
	require.Contains(t, resp.Timings, "total")
}

func TestDispatcher_Query_RespectsExplicitRouteOverrideRegardlessOfClassifier(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Query(context.Background(), types.QueryRequest{
		QueryText:     "Summarize each document in the corpus",
		RouteOverride: types.RouteVector,
	})
	require.Equal(t, types.RouteVector, resp.RouteTaken, "an explicit override must win over the classifier's own preference")
}

func TestClassifyRoute_GlobalScopePhrasingWinsOverEverythingElse(t *testing.T) {
	require.Equal(t, types.RouteGlobal, ClassifyRoute("Summarize each document"))
	require.Equal(t, types.RouteGlobal, ClassifyRoute("Summarize all the contracts"))
	require.Equal(t, types.RouteGlobal, ClassifyRoute("What obligations exist across the portfolio?"))
}

func TestClassifyRoute_MultipleProperNounsOrRelationWordsRouteToDrift(t *testing.T) {
	require.Equal(t, types.RouteDrift, ClassifyRoute("What is the relationship between Acme Corp and Beta LLC?"))
	require.Equal(t, types.RouteDrift, ClassifyRoute("Is there a connection between the Master Agreement and the DPA?"))
}

func TestClassifyRoute_ShortFactoidRoutesToVector(t *testing.T) {
	require.Equal(t, types.RouteVector, ClassifyRoute("What is the effective date of the agreement?"))
}

func TestClassifyRoute_DefaultsToLocal(t *testing.T) {
	require.Equal(t, types.RouteLocal, ClassifyRoute("Tell me about the liability provisions."))
}
