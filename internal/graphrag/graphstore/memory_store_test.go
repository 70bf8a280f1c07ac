package graphstore

import (
	"context"
	"testing"

	"corpusrag/internal/graphrag/types"
)

func fixtureStore() *MemoryStore {
	s := NewMemoryStore()
	s.LoadDocument(types.Document{DocID: "docA", Title: "Acme Invoice Agreement"})
	s.LoadDocument(types.Document{DocID: "docB", Title: "Beta Service Contract"})
	s.LoadChunk(types.TextChunk{ChunkID: "c1", DocID: "docA", SectionID: "s1", Text: "Invoice total: $5,170.00", Page: 1, Embedding: []float32{1, 0, 0}})
	s.LoadChunk(types.TextChunk{ChunkID: "c2", DocID: "docA", SectionID: "s2", Text: "Payment terms net 30 days", Page: 2, Embedding: []float32{0, 1, 0}})
	s.LoadChunk(types.TextChunk{ChunkID: "c3", DocID: "docB", SectionID: "s3", Text: "Service contract termination clause applies", Page: 1, Embedding: []float32{0, 0, 1}})
	s.LoadEntity(types.Entity{EntityID: "e1", Name: "Acme Corp", Description: "The invoicing party.", Embedding: []float32{1, 0, 0}, Degree: 2})
	s.LoadEntity(types.Entity{EntityID: "e2", Name: "Beta LLC", Description: "The contracting party.", Embedding: []float32{0, 1, 0}, Degree: 1})
	s.LoadRelationship(types.Relationship{Src: "e1", Dst: "e2", Predicate: "INVOICES", Weight: 0.9})
	s.LoadMention("Acme Corp", "c1")
	s.LoadMention("Beta LLC", "c2")
	s.LoadCommunity(types.Community{CommunityID: "comm1", Title: "Billing", Summary: "Invoices and payments.", SummaryEmbedding: []float32{1, 0, 0}, MemberEntityIDs: []string{"e1", "e2"}, EmbeddingTextHash: "fixture-hash-1"})
	return s
}

func TestMemoryStore_FetchChunks_MissingIsFoundFalse(t *testing.T) {
	s := fixtureStore()
	got, err := s.FetchChunks(context.Background(), []string{"c1", "missing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if !got[0].Found || got[0].Chunk.ChunkID != "c1" {
		t.Fatalf("expected c1 found, got %#v", got[0])
	}
	if got[1].Found {
		t.Fatalf("expected missing chunk to report Found=false")
	}
}

func TestMemoryStore_VectorSearchChunks_OrdersByScoreThenID(t *testing.T) {
	s := fixtureStore()
	hits, err := s.VectorSearchChunks(context.Background(), []float32{1, 0, 0}, 3, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) == 0 || hits[0].ChunkID != "c1" {
		t.Fatalf("expected c1 as the top hit, got %#v", hits)
	}
}

func TestMemoryStore_BM25SearchChunks_FindsTermMatch(t *testing.T) {
	s := fixtureStore()
	hits, err := s.BM25SearchChunks(context.Background(), "termination clause", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 || hits[0].ChunkID != "c3" {
		t.Fatalf("expected c3 to match, got %#v", hits)
	}
}

func TestMemoryStore_MentionsToChunks_RespectsLimitPerEntity(t *testing.T) {
	s := fixtureStore()
	s.LoadMention("Acme Corp", "c2")
	s.LoadMention("Acme Corp", "c3")
	hits, err := s.MentionsToChunks(context.Background(), []string{"Acme Corp"}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected limit_per_entity=2 to cap results, got %d", len(hits))
	}
}

func TestMemoryStore_ExpandRelationships_SortedByWeightDesc(t *testing.T) {
	s := fixtureStore()
	s.LoadRelationship(types.Relationship{Src: "e2", Dst: "e1", Predicate: "BILLED_BY", Weight: 0.2})
	rels, err := s.ExpandRelationships(context.Background(), []string{"e1"}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rels) != 2 || rels[0].Weight < rels[1].Weight {
		t.Fatalf("expected descending weight order, got %#v", rels)
	}
}

func TestMemoryStore_PPRTraverse_PropagatesAlongRelationship(t *testing.T) {
	s := fixtureStore()
	scores, err := s.PPRTraverse(context.Background(), map[string]float64{"e1": 1.0}, PPRConfig{Damping: 0.5, Iterations: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, sc := range scores {
		if sc.EntityID == "e2" && sc.Score > 0 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected e2 to receive non-zero score via the e1->e2 relationship, got %#v", scores)
	}
}

func TestMemoryStore_ListDocuments_SortedByDocID(t *testing.T) {
	s := fixtureStore()
	docs, err := s.ListDocuments(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 2 || docs[0].DocID != "docA" || docs[1].DocID != "docB" {
		t.Fatalf("expected [docA, docB] in order, got %#v", docs)
	}
}

func TestMemoryStore_LeadChunks_PicksLowestPageThenChunkID(t *testing.T) {
	s := fixtureStore()
	got, err := s.LeadChunks(context.Background(), []string{"docA", "docB", "missing-doc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if !got[0].Found || got[0].Chunk.ChunkID != "c1" {
		t.Fatalf("expected docA's lead chunk to be c1 (page 1), got %#v", got[0])
	}
	if !got[1].Found || got[1].Chunk.ChunkID != "c3" {
		t.Fatalf("expected docB's lead chunk to be c3, got %#v", got[1])
	}
	if got[2].Found {
		t.Fatalf("expected a document with no indexed chunks to report Found=false")
	}
}

func TestMemoryStore_FetchCommunities_RoundTrips(t *testing.T) {
	s := fixtureStore()
	comms, err := s.FetchCommunities(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(comms) != 1 || comms[0].CommunityID != "comm1" {
		t.Fatalf("unexpected communities: %#v", comms)
	}
}
