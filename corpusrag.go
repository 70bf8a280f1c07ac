// Package corpusrag wires the library's independent packages — config,
// storage, embedding/LLM clients, retrieval, distillation, and synthesis —
// into one Engine exposing the query(QueryRequest) -> QueryResponse entry
// point. There is deliberately no cmd/ here: CLI, auth, tenancy, and
// deployment are explicitly out of scope, so New is the library's front
// door.
package corpusrag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"corpusrag/internal/config"
	"corpusrag/internal/graphrag/dispatch"
	"corpusrag/internal/graphrag/embedclient"
	"corpusrag/internal/graphrag/graphstore"
	"corpusrag/internal/graphrag/llmclient"
	"corpusrag/internal/graphrag/metrics"
	"corpusrag/internal/graphrag/retrieve"
	"corpusrag/internal/graphrag/routes"
	"corpusrag/internal/graphrag/synthesize"
	"corpusrag/internal/graphrag/types"
	"corpusrag/internal/observability"
	"corpusrag/internal/rag/embedder"
)

// Engine is a fully wired query pipeline: one Store, one embedding client,
// one LLM client, one Orchestrator, one Synthesizer, and the Dispatcher
// tying them together. Callers hold on to an Engine for the process
// lifetime and call Query per request.
type Engine struct {
	dispatcher *dispatch.Dispatcher

	store        graphstore.Store
	redis        *redis.Client
	notifier     *retrieve.KafkaNotifier
	otelShutdown func(context.Context) error
}

// New resolves every backend cfg names (storage, cache, messaging, embedding,
// LLM) and returns a ready-to-query Engine. m may be nil (NoopMetrics).
//
// New also initializes the ambient stack: structured logging via
// observability.InitLogger and, when cfg.Obs.OTLPEndpoint is set,
// OpenTelemetry tracing/metrics via observability.InitOTel. Both are
// process-global; calling New more than once re-applies them.
func New(ctx context.Context, cfg config.Config, m metrics.Metrics) (*Engine, error) {
	observability.InitLogger("", cfg.Obs.LogLevel)
	otelShutdown, err := observability.InitOTel(ctx, cfg.Obs)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}
	if otelShutdown != nil {
		observability.EnableOTelLogBridge(cfg.Obs.ServiceName)
	}

	store, err := graphstore.NewStoreFromConfig(ctx, cfg.Databases)
	if err != nil {
		return nil, fmt.Errorf("resolve store: %w", err)
	}
	store = graphstore.NewRetryingStore(store, time.Duration(cfg.Retrieval.RetryDelayMS)*time.Millisecond)

	embedClient := embedclient.New(embedder.NewClient(cfg.Embedding, cfg.Embedding.Dimensions), cfg.Embedding.Dimensions)

	llmClient, err := llmclient.New(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("resolve LLM client: %w", err)
	}

	var redisClient *redis.Client
	var cache retrieve.CacheBackend
	if strings.EqualFold(cfg.Cache.Backend, "redis") {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		cache = retrieve.NewRedisCache(redisClient)
	}

	var notifier *retrieve.KafkaNotifier
	var staleNotifier retrieve.StaleCommunityNotifier = retrieve.NoopNotifier
	if strings.EqualFold(cfg.Messaging.Backend, "kafka") && len(cfg.Messaging.Brokers) > 0 {
		notifier = retrieve.NewKafkaNotifier(cfg.Messaging.Brokers, cfg.Messaging.Topic)
		staleNotifier = notifier
	}

	orchestrator := routes.New(store, embedClient, llmClient, cfg.Retrieval, staleNotifier)
	if cache != nil {
		ttl := time.Duration(cfg.Cache.TTLSeconds) * time.Second
		orchestrator.WithCommunityCache(cache, ttl)
	}

	synthesizer := synthesize.New(llmClient)
	d := dispatch.New(embedClient, orchestrator, synthesizer, cfg.Retrieval, m)
	d.WithAuditSink(observability.ZerologAuditSink{})

	return &Engine{
		dispatcher:   d,
		store:        store,
		redis:        redisClient,
		notifier:     notifier,
		otelShutdown: otelShutdown,
	}, nil
}

// Query is the canonical entry point. It never returns a Go error:
// every failure mode is represented in the returned Response.
func (e *Engine) Query(ctx context.Context, req types.QueryRequest) types.Response {
	return e.dispatcher.Query(ctx, req)
}

// Close releases any network resources the Engine opened (Redis client,
// Kafka writer, Postgres/Qdrant pools behind the Store, if it supports
// closing).
func (e *Engine) Close() error {
	if e.notifier != nil {
		_ = e.notifier.Close()
	}
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.otelShutdown != nil {
		_ = e.otelShutdown(context.Background())
	}
	if c, ok := e.store.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
