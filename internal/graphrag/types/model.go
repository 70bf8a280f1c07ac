// Package types holds the query-time data model shared by every
// graphrag package: documents/chunks/entities as read-only index inputs, and
// the query/candidate/response types created and discarded within one query.
package types

// Document is a read-only ingestion artifact. section_index is assumed
// monotonically ordered by the ingestion subsystem; this package never
// reorders it.
type Document struct {
	DocID        string
	Title        string
	SectionIndex []string
}

// TextChunk is the primary retrieval unit. Embedding.dim must equal the
// index-declared model dimension; Text must be non-empty; ChunkID is
// globally unique.
type TextChunk struct {
	ChunkID    string
	DocID      string
	SectionID  string
	Text       string
	Page       int
	TokenCount int
	Embedding  []float32
}

// Sentence nests within a TextChunk at finer granularity.
type Sentence struct {
	SentID    string
	ChunkID   string
	Offset    int
	Text      string
	Embedding []float32
}

// Entity participates in Relationships, is mentioned by TextChunks, and may
// carry SEMANTICALLY_SIMILAR_TO edges to other entities. CommunityID
// references an existing Community; Name is canonicalized (whitespace
// collapsed, case preserved).
type Entity struct {
	EntityID    string
	Name        string
	Description string
	Embedding   []float32
	Degree      int
	CommunityID string
}

// Relationship is a directed, weighted edge between two entities.
// 0 <= Weight <= 1; self-loops are forbidden by the ingestion subsystem.
type Relationship struct {
	Src       string
	Dst       string
	Predicate string
	Weight    float64
}

// SimilarityEdge is a SEMANTICALLY_SIMILAR_TO edge between two entities,
// consumed by path 3 of the PPR tracer.
type SimilarityEdge struct {
	Src    string
	Dst    string
	Weight float64
}

// Community is a graph-clustered thematic group. EmbeddingTextHash must equal
// hash(Summary); a mismatch is the stale-embedding guard.
type Community struct {
	CommunityID       string
	Title             string
	Summary           string
	SummaryEmbedding  []float32
	MemberEntityIDs   []string
	EmbeddingTextHash string
}

// ResponseType selects the synthesizer's requested verbosity.
type ResponseType string

const (
	ResponseSummary  ResponseType = "summary"
	ResponseDetailed ResponseType = "detailed"
)

// RouteName identifies one of the four route orchestrators.
type RouteName string

const (
	RouteVector RouteName = "vector"
	RouteLocal  RouteName = "local"
	RouteGlobal RouteName = "global"
	RouteDrift  RouteName = "drift"
)

// QueryRequest is the external entry point's input.
type QueryRequest struct {
	QueryText     string
	GroupID       string
	RouteOverride RouteName // empty means "let the dispatcher classify"
	ResponseType  ResponseType
	DeadlineMS    int
	TokenBudget   int
}

// Query is the query-path entity created for one request and discarded after
// the response is returned.
type Query struct {
	QueryText      string
	QueryEmbedding []float32
	RouteOverride  RouteName
	DeadlineMS     int
	TokenBudget    int
	ResponseType   ResponseType
}

// CandidateSource identifies which retriever produced a Candidate.
type CandidateSource string

const (
	SourceVector    CandidateSource = "vector"
	SourceBM25      CandidateSource = "bm25"
	SourceMentions  CandidateSource = "mentions"
	SourcePPR       CandidateSource = "ppr"
	SourceCommunity CandidateSource = "community"
)

// EntityAnchor ties a candidate back to the entity that surfaced it, for
// citation provenance (used heavily by the mentions expander and beam walker).
type EntityAnchor struct {
	EntityID string
	Score    float64
}

// Candidate is one retrieved unit of evidence, owned by the retriever that
// produced it until handed to the distiller.
type Candidate struct {
	ChunkID      string
	SentID       string // optional; set when produced by the sentence retriever
	DocID        string
	SectionID    string
	Text         string
	Embedding    []float32
	Sources      map[CandidateSource]bool
	BaseScore    float64
	Rank         int
	EntityAnchors []EntityAnchor
	Path         []string // beam-walker provenance, if applicable
}

// DistilledContext is the distiller's single owned output.
type DistilledContext struct {
	Candidates          []Candidate
	TotalTokens         int
	CommunityPreamble   string
	EntityDescriptions  []EntityDescription
	Relationships       []Relationship
}

// EntityDescription is a side-channel item appended after relationships.
type EntityDescription struct {
	EntityID    string
	Name        string
	Description string
}

// Citation ties a generated [N] marker to the evidence it resolved to.
type Citation struct {
	Marker  string
	ChunkID string
	SentID  string
	DocID   string
}

// EvidenceNode surfaces a top-K entity score for debuggability.
type EvidenceNode struct {
	EntityID string
	Score    float64
}

// Response is the external entry point's output.
type Response struct {
	AnswerText    string
	Citations     []Citation
	RouteTaken    RouteName
	EvidenceNodes []EvidenceNode
	Refused       bool
	Timings       map[string]int64 // stage -> milliseconds
	Error         string
}

// CanonicalRefusal is the exact byte-for-byte refusal sentence.
const CanonicalRefusal = "The requested information was not found in the available documents."
