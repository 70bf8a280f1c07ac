package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

// Load reads configuration from environment variables (optionally .env),
// then overlays an optional YAML file for the retrieval tuning constants.
// Env resolution: Overload so .env deterministically
// wins in development, TrimSpace everywhere, typed defaults applied last.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{Retrieval: DefaultRetrievalConfig()}

	cfg.Databases.DefaultDSN = firstNonEmpty(
		strings.TrimSpace(os.Getenv("DATABASE_URL")),
		strings.TrimSpace(os.Getenv("DB_URL")),
		strings.TrimSpace(os.Getenv("POSTGRES_DSN")),
	)
	cfg.Databases.Search.Backend = strings.TrimSpace(os.Getenv("SEARCH_BACKEND"))
	cfg.Databases.Search.DSN = strings.TrimSpace(os.Getenv("SEARCH_DSN"))
	cfg.Databases.Search.Index = strings.TrimSpace(os.Getenv("SEARCH_INDEX"))
	cfg.Databases.Vector.Backend = strings.TrimSpace(os.Getenv("VECTOR_BACKEND"))
	cfg.Databases.Vector.DSN = strings.TrimSpace(os.Getenv("VECTOR_DSN"))
	cfg.Databases.Vector.Index = strings.TrimSpace(os.Getenv("VECTOR_INDEX"))
	if v := strings.TrimSpace(os.Getenv("VECTOR_DIMENSIONS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Databases.Vector.Dimensions = n
		}
	}
	cfg.Databases.Vector.Metric = strings.TrimSpace(os.Getenv("VECTOR_METRIC"))
	cfg.Databases.Graph.Backend = strings.TrimSpace(os.Getenv("GRAPH_BACKEND"))
	cfg.Databases.Graph.DSN = strings.TrimSpace(os.Getenv("GRAPH_DSN"))

	cfg.Embedding.BaseURL = strings.TrimSpace(os.Getenv("EMBED_BASE_URL"))
	cfg.Embedding.Path = strings.TrimSpace(os.Getenv("EMBED_PATH"))
	cfg.Embedding.Model = strings.TrimSpace(os.Getenv("EMBED_MODEL"))
	cfg.Embedding.APIKey = strings.TrimSpace(os.Getenv("EMBED_API_KEY"))
	cfg.Embedding.APIHeader = strings.TrimSpace(os.Getenv("EMBED_API_HEADER"))
	if v := strings.TrimSpace(os.Getenv("EMBED_DIMENSIONS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Embedding.Dimensions = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("EMBED_TIMEOUT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Embedding.Timeout = n
		}
	}

	cfg.LLM.Provider = strings.TrimSpace(os.Getenv("LLM_PROVIDER"))
	cfg.LLM.Anthropic.APIKey = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	cfg.LLM.Anthropic.Model = strings.TrimSpace(os.Getenv("ANTHROPIC_MODEL"))
	cfg.LLM.Anthropic.BaseURL = strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL"))
	cfg.LLM.OpenAI.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	cfg.LLM.OpenAI.Model = strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	cfg.LLM.OpenAI.BaseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	cfg.LLM.Google.APIKey = strings.TrimSpace(os.Getenv("GOOGLE_LLM_API_KEY"))
	cfg.LLM.Google.Model = strings.TrimSpace(os.Getenv("GOOGLE_LLM_MODEL"))
	cfg.LLM.Google.BaseURL = strings.TrimSpace(os.Getenv("GOOGLE_LLM_BASE_URL"))

	cfg.Cache.Backend = strings.TrimSpace(os.Getenv("CACHE_BACKEND"))
	cfg.Cache.Addr = strings.TrimSpace(os.Getenv("CACHE_ADDR"))
	cfg.Cache.Password = strings.TrimSpace(os.Getenv("CACHE_PASSWORD"))
	if v := strings.TrimSpace(os.Getenv("CACHE_DB")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CACHE_TTL_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.TTLSeconds = n
		}
	}

	cfg.Messaging.Backend = strings.TrimSpace(os.Getenv("MESSAGING_BACKEND"))
	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Messaging.Brokers = append(cfg.Messaging.Brokers, b)
			}
		}
	}
	cfg.Messaging.Topic = strings.TrimSpace(os.Getenv("KAFKA_TOPIC"))

	cfg.Obs.ServiceName = strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME"))
	cfg.Obs.ServiceVersion = strings.TrimSpace(os.Getenv("SERVICE_VERSION"))
	cfg.Obs.Environment = strings.TrimSpace(os.Getenv("ENVIRONMENT"))
	cfg.Obs.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	cfg.Obs.OTLPEndpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); v != "" {
		cfg.Obs.OTLPInsecure = strings.EqualFold(v, "true") || v == "1"
	}

	cfg.ConfigPath = strings.TrimSpace(os.Getenv("CORPUSRAG_CONFIG"))
	if err := applyRetrievalYAML(&cfg); err != nil {
		return Config{}, err
	}

	applyDefaults(&cfg)

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	switch cfg.LLM.Provider {
	case "anthropic", "openai", "google":
	default:
		return Config{}, fmt.Errorf("LLM_PROVIDER must be one of anthropic, openai, google (got %q)", cfg.LLM.Provider)
	}

	return cfg, nil
}

// retrievalYAML mirrors RetrievalConfig for the optional YAML tuning overlay.
type retrievalYAML struct {
	RRFConstant               *float64 `yaml:"rrf_c"`
	MaxPerDoc                 *int     `yaml:"max_per_doc"`
	MinDocs                   *int     `yaml:"min_docs"`
	KVector                   *int     `yaml:"k_v"`
	KBM25                     *int     `yaml:"k_b"`
	KOut                      *int     `yaml:"k_out"`
	CommunityMinScore         *float64 `yaml:"community_min_score"`
	CommunityTopK             *int     `yaml:"community_top_k"`
	HubEntityTopKPerCommunity *int     `yaml:"hub_entity_top_k_per_community"`
	PPRDamping                *float64 `yaml:"ppr_damping"`
	PPRSimWeight              *float64 `yaml:"ppr_sim_weight"`
	PPRHubWeight              *float64 `yaml:"ppr_hub_weight"`
	PPRIterations             *int     `yaml:"ppr_iterations"`
	PPRTopK                   *int     `yaml:"ppr_top_k"`
	MentionsMaxChunksPerEntity *int    `yaml:"mentions_max_chunks_per_entity"`
	MentionsMaxPerSection      *int    `yaml:"mentions_max_per_section"`
	MentionsMaxPerDoc          *int    `yaml:"mentions_max_per_doc"`
	BeamMaxHops               *int     `yaml:"beam_max_hops"`
	BeamWidth                 *int     `yaml:"beam_width"`
	TokenBudget               *int     `yaml:"token_budget"`
	CommunityPreambleBudget   *int     `yaml:"community_preamble_budget"`
	RerankWeight              *float64 `yaml:"rerank_weight"`
	BaseScoreWeight           *float64 `yaml:"base_score_weight"`
	MaxRelationships          *int     `yaml:"max_relationships"`
	MaxEntityDescriptions     *int     `yaml:"max_entity_descriptions"`
	R1TokenBudget             *int     `yaml:"r1_token_budget"`
	GlobalEnrichmentCap       *int     `yaml:"global_enrichment_cap"`
	DriftMaxSubQuestions      *int     `yaml:"drift_max_sub_questions"`
	DeadlineMS                *int     `yaml:"deadline_ms"`
	MaxConcurrency            *int     `yaml:"max_concurrency"`
	RetryDelayMS              *int     `yaml:"retry_delay_ms"`
	EvidenceTopK              *int     `yaml:"evidence_top_k"`
}

func applyRetrievalYAML(cfg *Config) error {
	path := cfg.ConfigPath
	if path == "" {
		path = "corpusrag.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // optional
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	var y struct {
		Retrieval retrievalYAML `yaml:"retrieval"`
	}
	if err := yaml.Unmarshal(data, &y); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	r := &cfg.Retrieval
	setF(&r.RRFConstant, y.Retrieval.RRFConstant)
	setI(&r.MaxPerDoc, y.Retrieval.MaxPerDoc)
	setI(&r.MinDocs, y.Retrieval.MinDocs)
	setI(&r.KVector, y.Retrieval.KVector)
	setI(&r.KBM25, y.Retrieval.KBM25)
	setI(&r.KOut, y.Retrieval.KOut)
	setF(&r.CommunityMinScore, y.Retrieval.CommunityMinScore)
	setI(&r.CommunityTopK, y.Retrieval.CommunityTopK)
	setI(&r.HubEntityTopKPerCommunity, y.Retrieval.HubEntityTopKPerCommunity)
	setF(&r.PPRDamping, y.Retrieval.PPRDamping)
	setF(&r.PPRSimWeight, y.Retrieval.PPRSimWeight)
	setF(&r.PPRHubWeight, y.Retrieval.PPRHubWeight)
	setI(&r.PPRIterations, y.Retrieval.PPRIterations)
	setI(&r.PPRTopK, y.Retrieval.PPRTopK)
	setI(&r.MentionsMaxChunksPerEntity, y.Retrieval.MentionsMaxChunksPerEntity)
	setI(&r.MentionsMaxPerSection, y.Retrieval.MentionsMaxPerSection)
	setI(&r.MentionsMaxPerDoc, y.Retrieval.MentionsMaxPerDoc)
	setI(&r.BeamMaxHops, y.Retrieval.BeamMaxHops)
	setI(&r.BeamWidth, y.Retrieval.BeamWidth)
	setI(&r.TokenBudget, y.Retrieval.TokenBudget)
	setI(&r.CommunityPreambleBudget, y.Retrieval.CommunityPreambleBudget)
	setF(&r.RerankWeight, y.Retrieval.RerankWeight)
	setF(&r.BaseScoreWeight, y.Retrieval.BaseScoreWeight)
	setI(&r.MaxRelationships, y.Retrieval.MaxRelationships)
	setI(&r.MaxEntityDescriptions, y.Retrieval.MaxEntityDescriptions)
	setI(&r.R1TokenBudget, y.Retrieval.R1TokenBudget)
	setI(&r.GlobalEnrichmentCap, y.Retrieval.GlobalEnrichmentCap)
	setI(&r.DriftMaxSubQuestions, y.Retrieval.DriftMaxSubQuestions)
	setI(&r.DeadlineMS, y.Retrieval.DeadlineMS)
	setI(&r.MaxConcurrency, y.Retrieval.MaxConcurrency)
	setI(&r.RetryDelayMS, y.Retrieval.RetryDelayMS)
	setI(&r.EvidenceTopK, y.Retrieval.EvidenceTopK)
	return nil
}

func setF(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func setI(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Databases.Search.Backend == "" {
		if cfg.Databases.DefaultDSN != "" {
			cfg.Databases.Search.Backend = "auto"
		} else {
			cfg.Databases.Search.Backend = "memory"
		}
	}
	if cfg.Databases.Vector.Backend == "" {
		if cfg.Databases.DefaultDSN != "" {
			cfg.Databases.Vector.Backend = "auto"
		} else {
			cfg.Databases.Vector.Backend = "memory"
		}
	}
	if cfg.Databases.Vector.Dimensions == 0 {
		cfg.Databases.Vector.Dimensions = 1536
	}
	if cfg.Databases.Vector.Metric == "" {
		cfg.Databases.Vector.Metric = "cosine"
	}
	if cfg.Databases.Graph.Backend == "" {
		if cfg.Databases.DefaultDSN != "" {
			cfg.Databases.Graph.Backend = "auto"
		} else {
			cfg.Databases.Graph.Backend = "memory"
		}
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "https://api.openai.com"
	}
	if cfg.Embedding.Path == "" {
		cfg.Embedding.Path = "/v1/embeddings"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.APIHeader == "" {
		cfg.Embedding.APIHeader = "Authorization"
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.TTLSeconds == 0 {
		cfg.Cache.TTLSeconds = 300
	}
	if cfg.Messaging.Backend == "" {
		cfg.Messaging.Backend = "none"
	}
	if cfg.Messaging.Topic == "" {
		cfg.Messaging.Topic = "corpusrag.stale_community"
	}
	if cfg.Obs.ServiceName == "" {
		cfg.Obs.ServiceName = "corpusrag"
	}
	if cfg.Obs.Environment == "" {
		cfg.Obs.Environment = "dev"
	}
	if cfg.Obs.LogLevel == "" {
		cfg.Obs.LogLevel = "info"
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
