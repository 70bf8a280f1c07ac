// Package distill implements the Context Distiller: it reduces
// an unordered pool of retriever Candidates to one deterministic,
// token-budgeted DistilledContext. The distiller is CPU-only and never
// suspends — no network client is held here.
package distill

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strings"

	"corpusrag/internal/config"
	"corpusrag/internal/graphrag/types"
	"corpusrag/internal/llm"
)

// CommunityMatch is the distiller's view of a matched community: just enough
// to build the preamble, decoupled from the retrieve package's richer type
// so distill has no dependency on it.
type CommunityMatch struct {
	Title   string
	Summary string
	Score   float64
}

// Input bundles everything one query's distillation pass needs beyond the
// raw candidate pool.
type Input struct {
	Candidates         []types.Candidate
	QueryEmbedding     []float32
	Communities        []CommunityMatch
	Relationships      []types.Relationship
	EntityDescriptions []types.EntityDescription
}

// Distiller runs the seven-step distillation pipeline over a retrieval pool.
type Distiller struct {
	cfg config.RetrievalConfig
}

// New builds a Distiller from the process-wide retrieval tuning constants.
func New(cfg config.RetrievalConfig) *Distiller {
	return &Distiller{cfg: cfg}
}

// Distill executes the pipeline and returns the result. It never returns an
// error: every step is pure in-memory computation over already-fetched data.
func (d *Distiller) Distill(in Input) types.DistilledContext {
	tokenBudget := orDefault(d.cfg.TokenBudget, 32000)
	preambleBudget := orDefault(d.cfg.CommunityPreambleBudget, 2000)
	maxRelationships := orDefault(d.cfg.MaxRelationships, 20)
	maxEntityDescriptions := orDefault(d.cfg.MaxEntityDescriptions, 20)
	rerankWeight := orDefaultF(d.cfg.RerankWeight, 0.7)
	baseScoreWeight := orDefaultF(d.cfg.BaseScoreWeight, 0.3)

	pool := exactDedup(in.Candidates)
	pool = filterNoise(pool)
	pool = crossSourceDedup(pool)
	pool = rerank(pool, in.QueryEmbedding, rerankWeight, baseScoreWeight)

	remaining := tokenBudget

	preamble, preambleTokens := buildPreamble(in.Communities, preambleBudget)
	remaining -= preambleTokens

	kept, candidateTokens := truncateToBudget(pool, remaining)
	remaining -= candidateTokens

	relationships, relTokens := truncateRelationships(in.Relationships, maxRelationships, remaining)
	remaining -= relTokens

	entityDescriptions, descTokens := truncateEntityDescriptions(in.EntityDescriptions, maxEntityDescriptions, remaining)

	for i := range kept {
		kept[i].Rank = i + 1
	}

	return types.DistilledContext{
		Candidates:         kept,
		TotalTokens:        preambleTokens + candidateTokens + relTokens + descTokens,
		CommunityPreamble:  preamble,
		EntityDescriptions: entityDescriptions,
		Relationships:      relationships,
	}
}

// canonicalize trims and collapses internal whitespace, the text form every
// dedup/noise step operates on.
func canonicalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func textHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// exactDedup keeps the first occurrence of each canonicalized chunk text,
// merging `source` into a set.
func exactDedup(candidates []types.Candidate) []types.Candidate {
	seen := make(map[string]int) // text hash -> index into out
	var out []types.Candidate
	for _, c := range candidates {
		h := textHash(canonicalize(c.Text))
		if idx, ok := seen[h]; ok {
			mergeInto(&out[idx], c)
			continue
		}
		seen[h] = len(out)
		out = append(out, c)
	}
	return out
}

// mergeInto folds b's provenance into a without replacing a's identity
// fields; used by both the exact-text and cross-source dedup passes.
func mergeInto(a *types.Candidate, b types.Candidate) {
	if a.Sources == nil {
		a.Sources = make(map[types.CandidateSource]bool)
	}
	for s := range b.Sources {
		a.Sources[s] = true
	}
	if b.BaseScore > a.BaseScore {
		a.BaseScore = b.BaseScore
	}
	a.EntityAnchors = mergeAnchors(a.EntityAnchors, b.EntityAnchors)
}

func mergeAnchors(a, b []types.EntityAnchor) []types.EntityAnchor {
	byEntity := make(map[string]types.EntityAnchor, len(a)+len(b))
	var order []string
	for _, anchor := range append(append([]types.EntityAnchor{}, a...), b...) {
		existing, ok := byEntity[anchor.EntityID]
		if !ok {
			order = append(order, anchor.EntityID)
			byEntity[anchor.EntityID] = anchor
			continue
		}
		if anchor.Score > existing.Score {
			byEntity[anchor.EntityID] = anchor
		}
	}
	out := make([]types.EntityAnchor, 0, len(order))
	for _, id := range order {
		out = append(out, byEntity[id])
	}
	return out
}

// sentencePunct are the sentence-terminating marks the noise filter checks
// for.
const sentencePunct = ".!?,;"

// filterNoise drops candidates whose canonicalized text matches any of the
// three length/punctuation heuristics below.
func filterNoise(candidates []types.Candidate) []types.Candidate {
	out := make([]types.Candidate, 0, len(candidates))
	for _, c := range candidates {
		text := canonicalize(c.Text)
		n := len([]rune(text))
		if n < 20 {
			continue
		}
		if n < 40 && strings.HasSuffix(text, ":") {
			continue
		}
		if n < 50 && !strings.ContainsAny(text, sentencePunct) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// crossSourceDedup merges candidates that share a chunk_id, keeping the
// highest base_score and unioning source sets.
func crossSourceDedup(candidates []types.Candidate) []types.Candidate {
	key := func(c types.Candidate) string {
		return "chunk:" + c.ChunkID
	}
	seen := make(map[string]int)
	var out []types.Candidate
	for _, c := range candidates {
		k := key(c)
		if idx, ok := seen[k]; ok {
			mergeInto(&out[idx], c)
			continue
		}
		seen[k] = len(out)
		out = append(out, c)
	}
	return out
}

// rerank computes the blended final score and sorts
// descending, ties broken ascending chunk_id.
func rerank(candidates []types.Candidate, queryEmbedding []float32, rerankWeight, baseScoreWeight float64) []types.Candidate {
	if len(candidates) == 0 {
		return candidates
	}
	minBase, maxBase := candidates[0].BaseScore, candidates[0].BaseScore
	for _, c := range candidates {
		if c.BaseScore < minBase {
			minBase = c.BaseScore
		}
		if c.BaseScore > maxBase {
			maxBase = c.BaseScore
		}
	}
	normalize := func(v float64) float64 {
		if maxBase == minBase {
			return 1
		}
		return (v - minBase) / (maxBase - minBase)
	}

	type scored struct {
		c     types.Candidate
		final float64
	}
	out := make([]scored, len(candidates))
	for i, c := range candidates {
		rerankScore := cosineSim(queryEmbedding, c.Embedding)
		out[i] = scored{c: c, final: rerankWeight*rerankScore + baseScoreWeight*normalize(c.BaseScore)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].final != out[j].final {
			return out[i].final > out[j].final
		}
		return out[i].c.ChunkID < out[j].c.ChunkID
	})
	result := make([]types.Candidate, len(out))
	for i, s := range out {
		result[i] = s.c
	}
	return result
}

// cosineSim mirrors graphstore's and retrieve's private cosine helper;
// duplicated here because the distiller scores query_embedding against
// chunk embeddings already fetched by the retrievers, not against
// graphstore-internal state.
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

// truncateToBudget accumulates candidates in order until the next one would
// exceed budget tokens; overflow candidates are dropped whole.
func truncateToBudget(candidates []types.Candidate, budget int) ([]types.Candidate, int) {
	if budget <= 0 {
		return nil, 0
	}
	var out []types.Candidate
	used := 0
	for _, c := range candidates {
		n := llm.EstimateTokens(c.Text)
		if used+n > budget {
			break
		}
		used += n
		out = append(out, c)
	}
	return out, used
}

// buildPreamble renders up to budget tokens of community summaries as a
// "thematic overview" section. Communities are rendered
// in descending score order; a community that alone would blow the budget is
// skipped rather than truncated mid-summary.
func buildPreamble(communities []CommunityMatch, budget int) (string, int) {
	if len(communities) == 0 || budget <= 0 {
		return "", 0
	}
	sorted := append([]CommunityMatch{}, communities...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	var b strings.Builder
	b.WriteString("Thematic Overview\n")
	used := llm.EstimateTokens(b.String())
	wrote := false
	for _, c := range sorted {
		line := "- " + c.Title + ": " + c.Summary + "\n"
		n := llm.EstimateTokens(line)
		if used+n > budget {
			continue
		}
		b.WriteString(line)
		used += n
		wrote = true
	}
	if !wrote {
		return "", 0
	}
	return b.String(), used
}

// truncateRelationships keeps up to maxN relationships, in input order,
// budgeted within remaining tokens.
func truncateRelationships(rels []types.Relationship, maxN, remaining int) ([]types.Relationship, int) {
	if remaining <= 0 {
		return nil, 0
	}
	var out []types.Relationship
	used := 0
	for _, r := range rels {
		if len(out) >= maxN {
			break
		}
		n := llm.EstimateTokens(r.Src + r.Predicate + r.Dst)
		if used+n > remaining {
			continue
		}
		out = append(out, r)
		used += n
	}
	return out, used
}

// truncateEntityDescriptions keeps up to maxN entity descriptions, budgeted
// within remaining tokens.
func truncateEntityDescriptions(descs []types.EntityDescription, maxN, remaining int) ([]types.EntityDescription, int) {
	if remaining <= 0 {
		return nil, 0
	}
	var out []types.EntityDescription
	used := 0
	for _, d := range descs {
		if len(out) >= maxN {
			break
		}
		n := llm.EstimateTokens(d.Name + d.Description)
		if used+n > remaining {
			continue
		}
		out = append(out, d)
		used += n
	}
	return out, used
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
