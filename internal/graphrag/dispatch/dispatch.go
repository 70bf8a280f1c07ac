// Package dispatch implements the Query Dispatcher: the single
// query(QueryRequest) -> QueryResponse entry point. It embeds the
// query once, classifies the route, enforces a single query-scoped
// deadline with bounded downstream concurrency, and assembles the final
// Response envelope from whatever the chosen route and synthesizer
// produced.
package dispatch

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"corpusrag/internal/config"
	"corpusrag/internal/graphrag/embedclient"
	"corpusrag/internal/graphrag/metrics"
	"corpusrag/internal/graphrag/retrieve"
	"corpusrag/internal/graphrag/routes"
	"corpusrag/internal/graphrag/synthesize"
	"corpusrag/internal/graphrag/types"
	"corpusrag/internal/observability"
)

// tracer names every span this package opens; each dispatcher call opens a
// corpusrag.query root span with embed/retrieve/synthesize children.
var tracer = otel.Tracer("corpusrag/dispatch")

// Dispatcher is the query entry point's sole implementation.
type Dispatcher struct {
	embedder     embedclient.Client
	orchestrator *routes.Orchestrator
	synthesizer  *synthesize.Synthesizer
	cfg          config.RetrievalConfig
	sem          *semaphore.Weighted
	metrics      metrics.Metrics
	audit        observability.AuditSink
}

// New builds a Dispatcher. cfg.MaxConcurrency (default 16) bounds how many
// queries may be in their downstream (embedding/orchestrator/LLM) phase at
// once. m may be nil (defaults to
// metrics.NoopMetrics).
func New(embedder embedclient.Client, orchestrator *routes.Orchestrator, synthesizer *synthesize.Synthesizer, cfg config.RetrievalConfig, m metrics.Metrics) *Dispatcher {
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 16
	}
	if m == nil {
		m = metrics.NoopMetrics{}
	}
	return &Dispatcher{
		embedder:     embedder,
		orchestrator: orchestrator,
		synthesizer:  synthesizer,
		cfg:          cfg,
		sem:          semaphore.NewWeighted(int64(maxConcurrency)),
		metrics:      m,
		audit:        observability.DiscardAuditSink{},
	}
}

// WithAuditSink attaches the optional request/response audit trail
// that logs query text (truncated), route taken, refusal flag, and timings
// for every completed query. Discarded by default.
func (d *Dispatcher) WithAuditSink(sink observability.AuditSink) *Dispatcher {
	if sink != nil {
		d.audit = sink
	}
	return d
}

// globalQueryPattern flags queries whose scope is the whole corpus rather
// than one document.
var globalQueryPattern = regexp.MustCompile(`(?i)\beach document\b|\bsummarize all\b|\bacross\b`)

// relationWords flags queries that ask about a connection between entities.
var relationWords = regexp.MustCompile(`(?i)\bbetween\b|\bconnection\b`)

// shortFactoidPattern flags a short "what is the X of Y" lookup.
var shortFactoidPattern = regexp.MustCompile(`(?i)^\s*what\s+(?:is|are|was|were)\s+the\s+.+\s+of\s+.+\?*\s*$`)

// ClassifyRoute implements the deterministic, rule-based-first classifier.
// Order matters: global-scope phrasing wins over relation/proper-noun
// signals, which win over the short-factoid shape, which falls back to R2.
func ClassifyRoute(queryText string) types.RouteName {
	if globalQueryPattern.MatchString(queryText) {
		return types.RouteGlobal
	}
	properNouns := retrieve.ExtractProperNouns(queryText)
	if len(properNouns) >= 2 || relationWords.MatchString(queryText) {
		return types.RouteDrift
	}
	if shortFactoidPattern.MatchString(queryText) && len(strings.Fields(queryText)) <= 12 {
		return types.RouteVector
	}
	return types.RouteLocal
}

// Query is the canonical entry point: validate, embed, classify,
// retrieve+distill, synthesize, and assemble the Response envelope. It
// never returns a Go error — every failure mode is represented in the
// returned Response's Error/Refused fields.
func (d *Dispatcher) Query(ctx context.Context, req types.QueryRequest) (resp types.Response) {
	// requestID correlates every log line and span this query produces,
	// alongside the active span.
	requestID := uuid.NewString()

	ctx, span := tracer.Start(ctx, "corpusrag.query", trace.WithAttributes(
		attribute.String("request_id", requestID),
		attribute.String("group_id", req.GroupID),
		attribute.String("route_override", string(req.RouteOverride)),
	))
	defer func() {
		span.SetAttributes(
			attribute.String("route_taken", string(resp.RouteTaken)),
			attribute.Bool("refused", resp.Refused),
		)
		if resp.Error != "" {
			span.SetStatus(codes.Error, resp.Error)
		}
		span.End()
		d.audit.LogQuery(req.QueryText, string(resp.RouteTaken), resp.Refused, resp.Timings)
	}()

	reqLog := observability.LoggerWithTrace(ctx).With().Str("request_id", requestID).Logger()

	start := time.Now()
	timings := make(map[string]int64)

	if err := validate(req); err != nil {
		return types.Response{Error: err.Error()}
	}

	deadlineMS := req.DeadlineMS
	if deadlineMS <= 0 {
		deadlineMS = orDefault(d.cfg.DeadlineMS, 60000)
	}
	qctx, cancel := context.WithTimeout(ctx, time.Duration(deadlineMS)*time.Millisecond)
	defer cancel()

	embedCtx, embedSpan := tracer.Start(qctx, "corpusrag.embed")
	embedStart := time.Now()
	embedding, err := d.embedder.EmbedQuery(embedCtx, req.QueryText)
	timings["embed"] = time.Since(embedStart).Milliseconds()
	embedSpan.End()
	d.metrics.ObserveHistogram("query_stage_ms", float64(timings["embed"]), map[string]string{"stage": "embed"})
	if err != nil {
		if qctx.Err() != nil {
			return timeoutResponse(timings)
		}
		return types.Response{Error: err.Error(), Timings: timings}
	}

	route := req.RouteOverride
	if route == "" {
		route = ClassifyRoute(req.QueryText)
	}

	tokenBudget := req.TokenBudget
	if tokenBudget <= 0 {
		tokenBudget = orDefault(d.cfg.TokenBudget, 32000)
	}

	q := types.Query{
		QueryText:      req.QueryText,
		QueryEmbedding: embedding,
		RouteOverride:  route,
		DeadlineMS:     deadlineMS,
		TokenBudget:    tokenBudget,
		ResponseType:   req.ResponseType,
	}

	if err := d.sem.Acquire(qctx, 1); err != nil {
		return timeoutResponse(timings)
	}
	defer d.sem.Release(1)

	d.metrics.IncCounter("query_route_total", map[string]string{"route": string(route)})

	retrieveCtx, retrieveSpan := tracer.Start(qctx, "corpusrag.retrieve", trace.WithAttributes(attribute.String("route", string(route))))
	retrieveStart := time.Now()
	distilled, err := d.orchestrator.Run(retrieveCtx, route, q)
	timings["retrieve"] = time.Since(retrieveStart).Milliseconds()
	retrieveSpan.End()
	d.metrics.ObserveHistogram("query_stage_ms", float64(timings["retrieve"]), map[string]string{"stage": "retrieve"})
	if err != nil {
		if qctx.Err() != nil {
			return timeoutResponse(timings)
		}
		reqLog.Warn().Err(err).Str("route", string(route)).Msg("route orchestrator failed")
		d.metrics.IncCounter("query_errors_total", map[string]string{"stage": "retrieve"})
		return types.Response{RouteTaken: route, Error: err.Error(), Timings: timings}
	}

	synthCtx, synthSpan := tracer.Start(qctx, "corpusrag.synthesize")
	synthStart := time.Now()
	maxOutputTokens := 1024
	if req.ResponseType == types.ResponseDetailed {
		maxOutputTokens = 2048
	}
	result, err := d.synthesizer.Synthesize(synthCtx, req.QueryText, distilled, maxOutputTokens)
	timings["synthesize"] = time.Since(synthStart).Milliseconds()
	synthSpan.End()
	d.metrics.ObserveHistogram("query_stage_ms", float64(timings["synthesize"]), map[string]string{"stage": "synthesize"})
	if err != nil {
		if qctx.Err() != nil {
			return timeoutResponse(timings)
		}
		d.metrics.IncCounter("query_errors_total", map[string]string{"stage": "synthesize"})
		return types.Response{RouteTaken: route, Error: err.Error(), Timings: timings}
	}

	timings["total"] = time.Since(start).Milliseconds()
	d.metrics.ObserveHistogram("query_stage_ms", float64(timings["total"]), map[string]string{"stage": "total"})
	if result.Refused {
		d.metrics.IncCounter("query_refused_total", map[string]string{"route": string(route)})
	}
	return types.Response{
		AnswerText:    result.AnswerText,
		Citations:     result.Citations,
		RouteTaken:    route,
		EvidenceNodes: evidenceNodes(distilled, orDefault(d.cfg.EvidenceTopK, 20)),
		Refused:       result.Refused,
		Timings:       timings,
	}
}

// validate rejects a malformed request, returned
// immediately with no I/O.
func validate(req types.QueryRequest) error {
	if strings.TrimSpace(req.QueryText) == "" {
		return types.WrapValidation("query_text must not be empty")
	}
	switch req.RouteOverride {
	case "", types.RouteVector, types.RouteLocal, types.RouteGlobal, types.RouteDrift:
	default:
		return types.WrapValidation("unknown route_override %q", req.RouteOverride)
	}
	if req.DeadlineMS < 0 {
		return types.WrapValidation("deadline_ms must be non-negative, got %d", req.DeadlineMS)
	}
	if req.TokenBudget < 0 {
		return types.WrapValidation("token_budget must be non-negative, got %d", req.TokenBudget)
	}
	return nil
}

// timeoutResponse reports a deadline expiry: empty answer, refused
// false, error="timeout", whatever timings were captured so far.
func timeoutResponse(timings map[string]int64) types.Response {
	return types.Response{Error: "timeout", Timings: timings}
}

// evidenceNodes collects the distinct entity anchors across distilled's
// candidates, keeping each entity's highest score, sorted descending and
// capped at topK.
func evidenceNodes(distilled types.DistilledContext, topK int) []types.EvidenceNode {
	best := make(map[string]float64)
	for _, c := range distilled.Candidates {
		for _, a := range c.EntityAnchors {
			if cur, ok := best[a.EntityID]; !ok || a.Score > cur {
				best[a.EntityID] = a.Score
			}
		}
	}
	out := make([]types.EvidenceNode, 0, len(best))
	for id, score := range best {
		out = append(out, types.EvidenceNode{EntityID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].EntityID < out[j].EntityID
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
