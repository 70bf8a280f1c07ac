// Package routes implements the four route orchestrators: R1 Vector,
// R2 Local, R3 Global, and R4 Drift. Each wires the independent candidate
// retrievers of internal/graphrag/retrieve together under one deadline, then
// hands the merged pool to internal/graphrag/distill exactly once —
// distillation is a single sort-and-select pipeline and never runs
// concurrently with retrieval.
package routes

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"corpusrag/internal/config"
	"corpusrag/internal/graphrag/distill"
	"corpusrag/internal/graphrag/embedclient"
	"corpusrag/internal/graphrag/graphstore"
	"corpusrag/internal/graphrag/llmclient"
	"corpusrag/internal/graphrag/retrieve"
	"corpusrag/internal/graphrag/types"
)

// Orchestrator owns one instance of every retriever and runs whichever route
// the dispatcher selects.
type Orchestrator struct {
	store    graphstore.Store
	embedder embedclient.Client
	llm      llmclient.Client
	cfg      config.RetrievalConfig

	hybrid      *retrieve.HybridRetriever
	communities *retrieve.CommunityMatcher
	hubs        *retrieve.HubEntityExtractor
	mentions    *retrieve.MentionsExpander
}

// New builds an Orchestrator. notifier may be nil (defaults to
// retrieve.NoopNotifier).
func New(store graphstore.Store, embedder embedclient.Client, llm llmclient.Client, cfg config.RetrievalConfig, notifier retrieve.StaleCommunityNotifier) *Orchestrator {
	return &Orchestrator{
		store:       store,
		embedder:    embedder,
		llm:         llm,
		cfg:         cfg,
		hybrid:      retrieve.NewHybridRetriever(store, cfg),
		communities: retrieve.NewCommunityMatcher(store, embedder, notifier),
		hubs:        retrieve.NewHubEntityExtractor(store),
		mentions:    retrieve.NewMentionsExpander(store),
	}
}

// WithCommunityCache attaches a cross-process cache backend to the
// Orchestrator's CommunityMatcher. Returns o for chaining.
func (o *Orchestrator) WithCommunityCache(cache retrieve.CacheBackend, ttl time.Duration) *Orchestrator {
	o.communities.WithCache(cache, ttl)
	return o
}

// Run executes route for q and returns its DistilledContext.
func (o *Orchestrator) Run(ctx context.Context, route types.RouteName, q types.Query) (types.DistilledContext, error) {
	switch route {
	case types.RouteVector:
		return o.runVector(ctx, q)
	case types.RouteLocal:
		return o.runLocal(ctx, q)
	case types.RouteGlobal:
		return o.runGlobal(ctx, q)
	case types.RouteDrift:
		return o.runDrift(ctx, q)
	default:
		return o.runLocal(ctx, q) // the dispatcher's documented default
	}
}

// runVector implements R1: hybrid retriever only, distilled at a tighter
// 16k-token budget for low-latency factual lookups.
func (o *Orchestrator) runVector(ctx context.Context, q types.Query) (types.DistilledContext, error) {
	candidates, err := o.hybrid.Retrieve(ctx, q.QueryText, q.QueryEmbedding)
	if err != nil {
		return types.DistilledContext{}, err
	}
	distillCfg := o.cfg
	distillCfg.TokenBudget = orDefault(o.cfg.R1TokenBudget, 16000)
	return distill.New(distillCfg).Distill(distill.Input{
		Candidates:     candidates,
		QueryEmbedding: q.QueryEmbedding,
	}), nil
}

// runLocal implements R2: seed entities by name/vector match, trace the
// five-path PPR walk from those seeds, expand the resulting entities into
// mentioned chunks, and distill with PPR-score-weighted base_score (the
// score MentionsExpander.Expand already assigns each chunk). Relationship
// edges among the traced entities and their descriptions ride along as the
// distiller's side channels.
func (o *Orchestrator) runLocal(ctx context.Context, q types.Query) (types.DistilledContext, error) {
	seeds, err := retrieve.SeedEntities(ctx, o.store, q.QueryText, q.QueryEmbedding, o.cfg.PPRTopK)
	if err != nil {
		return types.DistilledContext{}, err
	}

	pprHits, err := o.store.PPRTraverse(ctx, retrieve.SeedWeights(seeds), o.pprConfig())
	if err != nil {
		return types.DistilledContext{}, err
	}
	entityScores, err := o.entityScoresFromPPR(ctx, pprHits)
	if err != nil {
		return types.DistilledContext{}, err
	}

	candidates, err := o.mentions.Expand(ctx, entityScores, o.cfg.MentionsMaxChunksPerEntity, o.cfg.MentionsMaxPerSection, o.cfg.MentionsMaxPerDoc)
	if err != nil {
		return types.DistilledContext{}, err
	}

	relationships, descriptions := o.sideChannels(ctx, entityScoreIDs(entityScores))

	return distill.New(o.cfg).Distill(distill.Input{
		Candidates:         candidates,
		QueryEmbedding:     q.QueryEmbedding,
		Relationships:      relationships,
		EntityDescriptions: descriptions,
	}), nil
}

// runGlobal implements R3: community matcher and hybrid retriever run
// concurrently; community summaries become the preamble, hybrid chunks the
// primary evidence. Hub entities from the matched communities seed a PPR
// trace whose mentions-expanded chunks are merged in as capped enrichment.
// The "summarize each document" coverage gap-fill runs last, before
// distillation.
//
// Retrievers fail soft here: a branch's failure is logged and contributes
// zero candidates as long as another branch produced results. The route
// errors only when neither candidates nor a community preamble are
// available and at least one branch failed; it then returns the matcher's
// error if that branch failed, else the hybrid retriever's.
func (o *Orchestrator) runGlobal(ctx context.Context, q types.Query) (types.DistilledContext, error) {
	var matched []retrieve.MatchedCommunity
	var hybridCandidates []types.Candidate
	var matchErr, hybridErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		matched, matchErr = o.communities.Match(gctx, q.QueryEmbedding, o.cfg.CommunityTopK, o.cfg.CommunityMinScore)
		return nil
	})
	g.Go(func() error {
		hybridCandidates, hybridErr = o.hybrid.Retrieve(gctx, q.QueryText, q.QueryEmbedding)
		return nil
	})
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return types.DistilledContext{}, err
	}
	if matchErr != nil {
		log.Warn().Err(matchErr).Msg("community matcher failed, continuing without thematic preamble")
	}
	if hybridErr != nil {
		log.Warn().Err(hybridErr).Msg("hybrid retriever failed, continuing with graph-derived evidence only")
	}

	hubEntityIDs, enrichment, err := o.hubEntityEnrichment(ctx, matched, q.QueryEmbedding)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return types.DistilledContext{}, cerr
		}
		log.Warn().Err(err).Msg("hub-entity enrichment failed, continuing without it")
		enrichment = nil
	}

	union := append(append([]types.Candidate{}, hybridCandidates...), enrichment...)
	union, err = o.fillCoverageGaps(ctx, q.QueryText, union)
	if err != nil {
		return types.DistilledContext{}, err
	}

	if len(union) == 0 && len(matched) == 0 {
		if matchErr != nil {
			return types.DistilledContext{}, matchErr
		}
		if hybridErr != nil {
			return types.DistilledContext{}, hybridErr
		}
	}

	communityMatches := make([]distill.CommunityMatch, 0, len(matched))
	for _, m := range matched {
		communityMatches = append(communityMatches, distill.CommunityMatch{
			Title:   m.Community.Title,
			Summary: m.Community.Summary,
			Score:   m.Score,
		})
	}

	relationships, descriptions := o.sideChannels(ctx, hubEntityIDs)

	return distill.New(o.cfg).Distill(distill.Input{
		Candidates:         union,
		QueryEmbedding:     q.QueryEmbedding,
		Communities:        communityMatches,
		Relationships:      relationships,
		EntityDescriptions: descriptions,
	}), nil
}

// hubEntityEnrichment extracts hub entities from matched, seeds a PPR trace
// from them (uniform seed weight — the extractor has already ranked and
// capped the members it returns, so the trace need only know which entities
// to start from, not a relative strength), expands them into mentions
// chunks, and caps the result at global_enrichment_cap so it cannot dominate
// the query-relevant hybrid evidence. The hub entity IDs are returned
// alongside so the caller can feed the distiller's side channels.
func (o *Orchestrator) hubEntityEnrichment(ctx context.Context, matched []retrieve.MatchedCommunity, queryEmbedding []float32) ([]string, []types.Candidate, error) {
	if len(matched) == 0 {
		return nil, nil, nil
	}
	hubEntities, err := o.hubs.Extract(ctx, matched, queryEmbedding, o.cfg.HubEntityTopKPerCommunity)
	if err != nil {
		return nil, nil, err
	}
	if len(hubEntities) == 0 {
		return nil, nil, nil
	}
	hubIDs := make([]string, 0, len(hubEntities))
	seeds := make(map[string]float64, len(hubEntities))
	for _, e := range hubEntities {
		hubIDs = append(hubIDs, e.EntityID)
		seeds[e.EntityID] = 1.0
	}
	pprHits, err := o.store.PPRTraverse(ctx, seeds, o.pprConfig())
	if err != nil {
		return hubIDs, nil, err
	}
	entityScores, err := o.entityScoresFromPPR(ctx, pprHits)
	if err != nil {
		return hubIDs, nil, err
	}
	enrichment, err := o.mentions.Expand(ctx, entityScores, o.cfg.MentionsMaxChunksPerEntity, o.cfg.MentionsMaxPerSection, o.cfg.MentionsMaxPerDoc)
	if err != nil {
		return hubIDs, nil, err
	}
	if cap := orDefault(o.cfg.GlobalEnrichmentCap, 10); len(enrichment) > cap {
		enrichment = enrichment[:cap]
	}
	return hubIDs, enrichment, nil
}

// summarizeEachDocPattern is the small whitelist of phrasings that trigger
// R3's coverage gap-fill.
var summarizeEachDocPattern = regexp.MustCompile(`(?i)\b(summarize|summarise)\s+(each|every|all)\s+document|across\s+all\s+documents|document[- ]by[- ]document\b`)

// fillCoverageGaps implements R3's coverage gap-fill: when queryText matches
// the "summarize each document" pattern, any indexed document absent from
// candidates gets its lead chunk appended before distillation.
func (o *Orchestrator) fillCoverageGaps(ctx context.Context, queryText string, candidates []types.Candidate) ([]types.Candidate, error) {
	if !summarizeEachDocPattern.MatchString(queryText) {
		return candidates, nil
	}
	docs, err := o.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		present[c.DocID] = true
	}
	var missing []string
	for _, d := range docs {
		if !present[d.DocID] {
			missing = append(missing, d.DocID)
		}
	}
	if len(missing) == 0 {
		return candidates, nil
	}
	leads, err := o.store.LeadChunks(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, lk := range leads {
		if !lk.Found {
			continue
		}
		candidates = append(candidates, types.Candidate{
			ChunkID:   lk.Chunk.ChunkID,
			DocID:     lk.Chunk.DocID,
			SectionID: lk.Chunk.SectionID,
			Text:      lk.Chunk.Text,
			Embedding: lk.Chunk.Embedding,
			Sources:   map[types.CandidateSource]bool{types.SourceVector: true},
			BaseScore: 0,
		})
	}
	return candidates, nil
}

// runDrift implements R4: decompose the query into up to
// drift_max_sub_questions sub-questions via an LLM call, then for each
// sub-question run seed identification, a semantic beam walk, a PPR trace,
// and hybrid retrieval; merge every sub-question's candidates into one pool
// and distill once at the end. A failed sub-question contributes zero
// candidates as long as another one succeeded.
func (o *Orchestrator) runDrift(ctx context.Context, q types.Query) (types.DistilledContext, error) {
	subQuestions, err := o.decompose(ctx, q.QueryText)
	if err != nil {
		log.Warn().Err(err).Msg("query decomposition failed, falling back to the original query")
		subQuestions = nil
	}
	if len(subQuestions) == 0 {
		subQuestions = []string{q.QueryText}
	}

	results := make([][]types.Candidate, len(subQuestions))
	errs := make([]error, len(subQuestions))
	g, gctx := errgroup.WithContext(ctx)
	for i, sq := range subQuestions {
		i, sq := i, sq
		g.Go(func() error {
			results[i], errs[i] = o.driftSubQuestion(gctx, sq)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return types.DistilledContext{}, err
	}

	var union []types.Candidate
	var firstErr error
	succeeded := false
	for i, r := range results {
		if errs[i] != nil {
			log.Warn().Err(errs[i]).Str("sub_question", subQuestions[i]).Msg("sub-question retrieval failed, continuing without it")
			if firstErr == nil {
				firstErr = errs[i]
			}
			continue
		}
		succeeded = true
		union = append(union, r...)
	}
	if !succeeded && firstErr != nil {
		return types.DistilledContext{}, firstErr
	}

	return distill.New(o.cfg).Distill(distill.Input{
		Candidates:     union,
		QueryEmbedding: q.QueryEmbedding,
	}), nil
}

// driftSubQuestion runs one sub-question's full retrieval chain: its own
// query embedding, seed identification, semantic beam walk, PPR trace, and
// hybrid retrieval, merging the beam/PPR entities' mentioned chunks with the
// hybrid chunks. The beam and PPR branches fail soft against the hybrid
// branch and vice versa; the sub-question errors only when all three fail.
func (o *Orchestrator) driftSubQuestion(ctx context.Context, subQuestion string) ([]types.Candidate, error) {
	embedding, err := o.embedder.EmbedQuery(ctx, subQuestion)
	if err != nil {
		return nil, err
	}

	seeds, err := retrieve.SeedEntities(ctx, o.store, subQuestion, embedding, o.cfg.PPRTopK)
	if err != nil {
		return nil, err
	}

	var beamHits []graphstore.BeamHit
	var pprHits []graphstore.EntityScore
	var hybridCandidates []types.Candidate
	var beamErr, pprErr, hybridErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		beamHits, beamErr = o.store.BeamExpand(gctx, retrieve.SeedIDs(seeds), embedding, o.cfg.BeamMaxHops, o.cfg.BeamWidth)
		return nil
	})
	g.Go(func() error {
		pprHits, pprErr = o.store.PPRTraverse(gctx, retrieve.SeedWeights(seeds), o.pprConfig())
		return nil
	})
	g.Go(func() error {
		hybridCandidates, hybridErr = o.hybrid.Retrieve(gctx, subQuestion, embedding)
		return nil
	})
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if beamErr != nil {
		log.Warn().Err(beamErr).Msg("beam walk failed, continuing without its entities")
	}
	if pprErr != nil {
		log.Warn().Err(pprErr).Msg("ppr trace failed, continuing without its entities")
	}
	if hybridErr != nil {
		log.Warn().Err(hybridErr).Msg("hybrid retrieval failed, continuing with graph-derived evidence only")
	}
	if beamErr != nil && pprErr != nil && hybridErr != nil {
		return nil, hybridErr
	}

	entityIDs := make(map[string]float64, len(pprHits)+len(beamHits))
	for _, h := range pprHits {
		entityIDs[h.EntityID] = h.Score
	}
	for _, h := range beamHits {
		if _, ok := entityIDs[h.EntityID]; !ok {
			entityIDs[h.EntityID] = 0 // beam hits without a PPR score still anchor a mentions lookup
		}
	}
	pprLike := make([]graphstore.EntityScore, 0, len(entityIDs))
	for id, score := range entityIDs {
		pprLike = append(pprLike, graphstore.EntityScore{EntityID: id, Score: score})
	}
	sort.Slice(pprLike, func(i, j int) bool {
		if pprLike[i].Score != pprLike[j].Score {
			return pprLike[i].Score > pprLike[j].Score
		}
		return pprLike[i].EntityID < pprLike[j].EntityID
	})
	entityScores, err := o.entityScoresFromPPR(ctx, pprLike)
	if err != nil {
		return nil, err
	}
	mentionsCandidates, err := o.mentions.Expand(ctx, entityScores, o.cfg.MentionsMaxChunksPerEntity, o.cfg.MentionsMaxPerSection, o.cfg.MentionsMaxPerDoc)
	if err != nil {
		return nil, err
	}

	return append(hybridCandidates, mentionsCandidates...), nil
}

// decompose asks the LLM to split queryText into up to
// drift_max_sub_questions standalone sub-questions, one per line. A
// malformed or empty response falls back to treating the original query as
// its own single sub-question (handled by the caller).
func (o *Orchestrator) decompose(ctx context.Context, queryText string) ([]string, error) {
	maxSub := orDefault(o.cfg.DriftMaxSubQuestions, 4)
	res, err := o.llm.Complete(ctx, llmclient.Request{
		SystemPrompt: "Decompose the user's question into up to " +
			strconv.Itoa(maxSub) + " standalone sub-questions needed to answer it fully. " +
			"Reply with exactly one sub-question per line and nothing else.",
		UserPrompt:  queryText,
		Temperature: llmclient.Float(0),
	})
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(res.Text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "0123456789.-) ")
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) >= maxSub {
			break
		}
	}
	return out, nil
}

// sideChannels fetches the relationship edges among entityIDs and their
// descriptions for the distiller's side channels. Both lookups fail soft:
// side channels enrich the prompt but never gate the route.
func (o *Orchestrator) sideChannels(ctx context.Context, entityIDs []string) ([]types.Relationship, []types.EntityDescription) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	if max := orDefault(o.cfg.MaxEntityDescriptions, 20); len(entityIDs) > max {
		entityIDs = entityIDs[:max]
	}
	relationships, err := o.store.ExpandRelationships(ctx, entityIDs, orDefault(o.cfg.MaxRelationships, 20))
	if err != nil {
		log.Warn().Err(err).Msg("relationship expansion failed, continuing without relationship context")
		relationships = nil
	}
	descriptions, err := o.store.FetchEntityDescriptions(ctx, entityIDs)
	if err != nil {
		log.Warn().Err(err).Msg("entity description fetch failed, continuing without description context")
		descriptions = nil
	}
	return relationships, descriptions
}

// entityScoresFromPPR resolves a ppr_traverse/beam_expand result's entity
// IDs to their canonical names (mentions_to_chunks is name-keyed),
// preserving each entity's score.
func (o *Orchestrator) entityScoresFromPPR(ctx context.Context, hits []graphstore.EntityScore) ([]retrieve.EntityScore, error) {
	ids := make([]string, len(hits))
	scoreByID := make(map[string]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.EntityID
		scoreByID[h.EntityID] = h.Score
	}
	entities, err := o.store.FetchEntities(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]retrieve.EntityScore, 0, len(entities))
	for _, e := range entities {
		out = append(out, retrieve.EntityScore{EntityID: e.EntityID, Name: e.Name, Score: scoreByID[e.EntityID]})
	}
	return out, nil
}

// entityScoreIDs extracts entity IDs in score order.
func entityScoreIDs(scores []retrieve.EntityScore) []string {
	out := make([]string, len(scores))
	for i, s := range scores {
		out[i] = s.EntityID
	}
	return out
}

func (o *Orchestrator) pprConfig() graphstore.PPRConfig {
	return graphstore.PPRConfig{
		Damping:    o.cfg.PPRDamping,
		SimWeight:  o.cfg.PPRSimWeight,
		HubWeight:  o.cfg.PPRHubWeight,
		Iterations: o.cfg.PPRIterations,
		TopK:       o.cfg.PPRTopK,
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
