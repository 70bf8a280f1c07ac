// Package config loads corpusrag's runtime configuration: storage DSNs,
// embedding/LLM client settings, and the tunable retrieval constants (rrf_c,
// distiller blend weights, etc) from environment variables and an optional
// YAML overlay.
package config

// SearchConfig configures the full-text (BM25) backend.
type SearchConfig struct {
	Backend string // "memory", "postgres", "auto", "none"
	DSN     string
	Index   string
}

// VectorConfig configures the vector-similarity backend.
type VectorConfig struct {
	Backend    string // "memory", "postgres", "qdrant", "auto", "none"
	DSN        string
	Index      string
	Dimensions int
	Metric     string // "cosine", "l2", "ip"
}

// GraphConfig configures the entity/relationship/community graph backend.
type GraphConfig struct {
	Backend string // "memory", "postgres", "auto", "none"
	DSN     string
}

// DBConfig groups the three pluggable storage backends the graph store adapter
// (internal/graphrag/graphstore) resolves at startup.
type DBConfig struct {
	DefaultDSN string
	Search     SearchConfig
	Vector     VectorConfig
	Graph      GraphConfig
}

// EmbeddingConfig configures the embedding HTTP client.
type EmbeddingConfig struct {
	BaseURL    string
	Path       string
	Model      string
	APIKey     string
	APIHeader  string
	Headers    map[string]string
	Dimensions int
	Timeout    int // seconds
}

// LLMProviderConfig holds one provider's credentials/endpoint.
type LLMProviderConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// LLMConfig selects and configures the synthesis/classification LLM client.
type LLMConfig struct {
	Provider  string // "anthropic", "openai", "google"
	Anthropic LLMProviderConfig
	OpenAI    LLMProviderConfig
	Google    LLMProviderConfig
}

// RetrievalConfig holds the engine's tunable retrieval constants. Every
// field carries a documented default; operators can override them without
// recompiling.
type RetrievalConfig struct {
	// Hybrid retriever
	RRFConstant    float64 // rrf_c, default 60
	MaxPerDoc      int     // doc-diversity cap, default 2
	MinDocs        int     // doc-diversity floor, default 3
	KVector        int     // k_v, default 30
	KBM25          int     // k_b, default 30
	KOut           int     // k_out, default 20

	// Community matcher
	CommunityMinScore float64 // min_score, default 0.05
	CommunityTopK     int     // k_c, default 3

	// Hub-entity extractor
	HubEntityTopKPerCommunity int // default 5

	// Personalized PageRank tracer
	PPRDamping       float64 // default 0.5
	PPRSimWeight     float64 // SEMANTICALLY_SIMILAR_TO weight, default 0.3
	PPRHubWeight     float64 // section co-membership / high-mention hub weight, default 0.2
	PPRIterations    int     // power-iteration steps, default 20
	PPRTopK          int     // default 20

	// Mentions expander
	MentionsMaxChunksPerEntity int // default 3
	MentionsMaxPerSection      int // default 3
	MentionsMaxPerDoc          int // default 6

	// Semantic beam walker
	BeamMaxHops int // default 3
	BeamWidth   int // default 10

	// Context distiller
	TokenBudget             int     // default 32000
	CommunityPreambleBudget int     // default 2000
	RerankWeight            float64 // blend weight on rerank_score, default 0.7
	BaseScoreWeight         float64 // blend weight on normalized base_score, default 0.3
	MaxRelationships        int     // side channel cap, default 20
	MaxEntityDescriptions   int     // side channel cap, default 20

	// Route orchestrators
	R1TokenBudget         int // R1 Vector's tighter distiller budget, default 16000
	GlobalEnrichmentCap   int // R3's mentions-from-hub-entities enrichment cap, default 10
	DriftMaxSubQuestions  int // R4's query decomposition fan-out cap, default 4

	// Dispatcher
	DeadlineMS        int // default 60000
	MaxConcurrency    int // default 16
	RetryDelayMS      int // default 50, exactly one retry per transient failure
	EvidenceTopK      int // evidence_nodes cap for debuggability, default 20
}

// DefaultRetrievalConfig returns the documented default constants.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		RRFConstant:               60,
		MaxPerDoc:                 2,
		MinDocs:                   3,
		KVector:                   30,
		KBM25:                     30,
		KOut:                      20,
		CommunityMinScore:         0.05,
		CommunityTopK:             3,
		HubEntityTopKPerCommunity: 5,
		PPRDamping:                0.5,
		PPRSimWeight:              0.3,
		PPRHubWeight:              0.2,
		PPRIterations:             20,
		PPRTopK:                   20,
		MentionsMaxChunksPerEntity: 3,
		MentionsMaxPerSection:      3,
		MentionsMaxPerDoc:          6,
		BeamMaxHops:                3,
		BeamWidth:                  10,
		TokenBudget:                32000,
		CommunityPreambleBudget:    2000,
		RerankWeight:               0.7,
		BaseScoreWeight:            0.3,
		MaxRelationships:           20,
		MaxEntityDescriptions:      20,
		R1TokenBudget:              16000,
		GlobalEnrichmentCap:        10,
		DriftMaxSubQuestions:       4,
		DeadlineMS:                 60000,
		MaxConcurrency:             16,
		RetryDelayMS:               50,
		EvidenceTopK:               20,
	}
}

// CacheConfig configures the optional cross-process cache backend for the
// community list. "memory" (default) keeps the in-process map only;
// "redis" additionally shares the cached list across processes.
type CacheConfig struct {
	Backend    string // "memory" (default) or "redis"
	Addr       string
	Password   string
	DB         int
	TTLSeconds int
}

// MessagingConfig configures the optional event sink for the stale-community
// detection event emitted when a community's summary embedding is stale.
// "none" (default) discards the event; "kafka" publishes it best-effort.
type MessagingConfig struct {
	Backend string // "none" (default) or "kafka"
	Brokers []string
	Topic   string
}

// ObsConfig configures structured logging and OpenTelemetry export.
type ObsConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	LogLevel       string
	OTLPEndpoint   string
	OTLPInsecure   bool
}

// Config is corpusrag's full runtime configuration.
type Config struct {
	Databases  DBConfig
	Embedding  EmbeddingConfig
	LLM        LLMConfig
	Retrieval  RetrievalConfig
	Cache      CacheConfig
	Messaging  MessagingConfig
	Obs        ObsConfig
	ConfigPath string // optional YAML overlay path for Retrieval tuning
}
