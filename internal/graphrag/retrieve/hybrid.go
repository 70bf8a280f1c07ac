package retrieve

import (
	"context"
	"sort"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"corpusrag/internal/config"
	"corpusrag/internal/graphrag/graphstore"
	"corpusrag/internal/graphrag/types"
)

// HybridRetriever fuses BM25 and vector chunk search via Reciprocal Rank
// Fusion, then applies document-diversity capping before returning
// the top-k_out candidates.
type HybridRetriever struct {
	store graphstore.Store
	cfg   config.RetrievalConfig
}

// NewHybridRetriever builds the primary, query-relevant retriever used by
// every route (R1 alone, R2/R3/R4 in combination with the graph retrievers).
func NewHybridRetriever(store graphstore.Store, cfg config.RetrievalConfig) *HybridRetriever {
	return &HybridRetriever{store: store, cfg: cfg}
}

type rankedChunk struct {
	chunkID string
	docID   string
	score   float64
	source  types.CandidateSource
}

// Retrieve runs vector_search_chunks and bm25_search_chunks concurrently,
// fuses the two ranked lists, diversifies by doc_id, and returns the top
// k_out candidates with their source text and embedding populated.
func (h *HybridRetriever) Retrieve(ctx context.Context, queryText string, queryEmbedding []float32) ([]types.Candidate, error) {
	kv := orDefault(h.cfg.KVector, 30)
	kb := orDefault(h.cfg.KBM25, 30)

	var vecHits []graphstore.ChunkHit
	var bmHits []graphstore.ChunkHit
	var sentHits []graphstore.SentenceHit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vecHits, err = h.store.VectorSearchChunks(gctx, queryEmbedding, kv, 0)
		return err
	})
	g.Go(func() error {
		var err error
		bmHits, err = h.store.BM25SearchChunks(gctx, queryText, kb)
		return err
	})
	var sentErr error
	g.Go(func() error {
		// Sentence hits don't rank chunks; they pin the best-matching
		// sentence within each returned chunk for citation provenance, so a
		// failure here costs provenance, not evidence.
		sentHits, sentErr = h.store.VectorSearchSentences(gctx, queryEmbedding, kv, 0)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if sentErr != nil {
		log.Warn().Err(sentErr).Msg("sentence vector search failed, continuing without sentence provenance")
		sentHits = nil
	}

	bestSent := make(map[string]string, len(sentHits)) // chunk_id -> top sentence
	for _, sh := range sentHits {
		if _, ok := bestSent[sh.ChunkID]; !ok {
			bestSent[sh.ChunkID] = sh.SentID
		}
	}

	fused := fuseRRF(vecHits, bmHits, orDefaultF(h.cfg.RRFConstant, 60))

	chunkIDs := make([]string, len(fused))
	for i, f := range fused {
		chunkIDs[i] = f.chunkID
	}
	lookups, err := h.store.FetchChunks(ctx, chunkIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]graphstore.ChunkLookup, len(chunkIDs))
	for i, id := range chunkIDs {
		byID[id] = lookups[i]
	}

	var withDoc []rankedChunk
	for _, f := range fused {
		lk := byID[f.chunkID]
		if !lk.Found {
			continue
		}
		f.docID = lk.Chunk.DocID
		withDoc = append(withDoc, f)
	}

	diversified := diversifyByDoc(withDoc, orDefault(h.cfg.MaxPerDoc, 2), orDefault(h.cfg.MinDocs, 3), orDefault(h.cfg.KOut, 20))

	out := make([]types.Candidate, 0, len(diversified))
	for i, d := range diversified {
		lk := byID[d.chunkID].Chunk
		out = append(out, types.Candidate{
			ChunkID:   d.chunkID,
			SentID:    bestSent[d.chunkID],
			DocID:     lk.DocID,
			SectionID: lk.SectionID,
			Text:      lk.Text,
			Embedding: lk.Embedding,
			Sources:   map[types.CandidateSource]bool{d.source: true},
			BaseScore: d.score,
			Rank:      i + 1,
		})
	}
	return out, nil
}

// fuseRRF combines vector and BM25 ranked lists via rrf_score = 1/(c+r_v) +
// 1/(c+r_b), absent rank contributing 0; source is whichever list ranked the
// chunk higher. Output is sorted descending by fused score, ties broken by
// ascending chunk_id.
func fuseRRF(vecHits, bmHits []graphstore.ChunkHit, rrfC float64) []rankedChunk {
	vecRank := make(map[string]int, len(vecHits))
	for i, h := range vecHits {
		vecRank[h.ChunkID] = i + 1
	}
	bmRank := make(map[string]int, len(bmHits))
	for i, h := range bmHits {
		bmRank[h.ChunkID] = i + 1
	}

	seen := make(map[string]bool, len(vecHits)+len(bmHits))
	var ids []string
	for _, h := range vecHits {
		if !seen[h.ChunkID] {
			seen[h.ChunkID] = true
			ids = append(ids, h.ChunkID)
		}
	}
	for _, h := range bmHits {
		if !seen[h.ChunkID] {
			seen[h.ChunkID] = true
			ids = append(ids, h.ChunkID)
		}
	}

	out := make([]rankedChunk, 0, len(ids))
	for _, id := range ids {
		vr, vok := vecRank[id]
		br, bok := bmRank[id]
		var score float64
		if vok {
			score += 1 / (rrfC + float64(vr))
		}
		if bok {
			score += 1 / (rrfC + float64(br))
		}
		source := types.SourceVector
		if bok && (!vok || br < vr) {
			source = types.SourceBM25
		}
		out = append(out, rankedChunk{chunkID: id, score: score, source: source})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].chunkID < out[j].chunkID
	})
	return out
}

// diversifyByDoc implements the document-diversity rule: iterate the
// fused list keeping at most maxPerDoc per doc_id; if that strict pass
// leaves fewer than minDocs distinct documents represented (and more exist
// in the pool), relax the cap — in fused order — to pull in one
// representative from each still-missing document until min_docs is met or
// the pool is exhausted, then re-sort by score and cap to kOut.
func diversifyByDoc(items []rankedChunk, maxPerDoc, minDocs, kOut int) []rankedChunk {
	docCount := make(map[string]int)
	var kept, overflow []rankedChunk
	allDocs := make(map[string]bool)
	for _, it := range items {
		allDocs[it.docID] = true
		if docCount[it.docID] < maxPerDoc {
			docCount[it.docID]++
			kept = append(kept, it)
		} else {
			overflow = append(overflow, it)
		}
	}
	need := minDocs
	if len(allDocs) < need {
		need = len(allDocs)
	}
	if len(docCount) < need {
		for _, it := range overflow {
			if len(docCount) >= need {
				break
			}
			if docCount[it.docID] == 0 {
				docCount[it.docID]++
				kept = append(kept, it)
			}
		}
		sort.SliceStable(kept, func(i, j int) bool {
			if kept[i].score != kept[j].score {
				return kept[i].score > kept[j].score
			}
			return kept[i].chunkID < kept[j].chunkID
		})
	}
	if kOut > 0 && len(kept) > kOut {
		kept = kept[:kOut]
	}
	return kept
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orDefaultF(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}
