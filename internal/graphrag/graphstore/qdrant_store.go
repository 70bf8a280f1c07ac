package graphstore

import "context"

// qdrantStore decorates a base Store, replacing its three vector-search
// operations with lookups against Qdrant collections while every other
// operation (BM25, PPR, beam walk, mentions, communities) still comes from
// base. This lets a deployment keep chunks/entities/communities in Postgres
// (or memory) and serve nearest-neighbor search from a dedicated vector
// database, the alternative vector backend supported alongside
// pgvector.
type qdrantStore struct {
	Store
	chunks    *qdrantCollection
	sentences *qdrantCollection
	entities  *qdrantCollection
}

// NewQdrantStore builds a Store that delegates vector search to Qdrant and
// everything else to base. collectionPrefix namespaces the three
// collections this corpus owns within a shared Qdrant instance.
func NewQdrantStore(base Store, dsn, collectionPrefix string, dimensions int, metric string) (Store, error) {
	chunks, err := newQdrantCollection(dsn, collectionPrefix+"_chunks", dimensions, metric)
	if err != nil {
		return nil, err
	}
	sentences, err := newQdrantCollection(dsn, collectionPrefix+"_sentences", dimensions, metric)
	if err != nil {
		return nil, err
	}
	entities, err := newQdrantCollection(dsn, collectionPrefix+"_entities", dimensions, metric)
	if err != nil {
		return nil, err
	}
	return &qdrantStore{Store: base, chunks: chunks, sentences: sentences, entities: entities}, nil
}

func (s *qdrantStore) VectorSearchSentences(ctx context.Context, embedding []float32, k int, minScore float64) ([]SentenceHit, error) {
	hits, err := s.sentences.Search(ctx, embedding, k)
	if err != nil {
		return nil, err
	}
	out := make([]SentenceHit, 0, len(hits))
	for _, h := range hits {
		if h.Score < minScore {
			continue
		}
		out = append(out, SentenceHit{SentID: h.ID, Score: h.Score})
	}
	return out, nil
}

func (s *qdrantStore) VectorSearchChunks(ctx context.Context, embedding []float32, k int, minScore float64) ([]ChunkHit, error) {
	hits, err := s.chunks.Search(ctx, embedding, k)
	if err != nil {
		return nil, err
	}
	out := make([]ChunkHit, 0, len(hits))
	for _, h := range hits {
		if h.Score < minScore {
			continue
		}
		out = append(out, ChunkHit{ChunkID: h.ID, Score: h.Score})
	}
	return out, nil
}

func (s *qdrantStore) VectorSearchEntities(ctx context.Context, embedding []float32, k int, minScore float64) ([]EntityHit, error) {
	hits, err := s.entities.Search(ctx, embedding, k)
	if err != nil {
		return nil, err
	}
	out := make([]EntityHit, 0, len(hits))
	for _, h := range hits {
		if h.Score < minScore {
			continue
		}
		out = append(out, EntityHit{EntityID: h.ID, Score: h.Score})
	}
	return out, nil
}

// UpsertChunkVector, UpsertSentenceVector, and UpsertEntityVector maintain
// the three Qdrant collections. The out-of-scope ingestion pipeline
// is responsible for calling these in step with writes to base.
func (s *qdrantStore) UpsertChunkVector(ctx context.Context, chunkID string, embedding []float32) error {
	return s.chunks.Upsert(ctx, chunkID, embedding)
}

func (s *qdrantStore) UpsertSentenceVector(ctx context.Context, sentID string, embedding []float32) error {
	return s.sentences.Upsert(ctx, sentID, embedding)
}

func (s *qdrantStore) UpsertEntityVector(ctx context.Context, entityID string, embedding []float32) error {
	return s.entities.Upsert(ctx, entityID, embedding)
}

// Close releases all three Qdrant collections' client connections.
func (s *qdrantStore) Close() error {
	_ = s.chunks.Close()
	_ = s.sentences.Close()
	_ = s.entities.Close()
	return nil
}

var _ Store = (*qdrantStore)(nil)
