package graphstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// payloadIDField is the metadata key qdrantCollection stores the original
// (non-UUID) ID under, since Qdrant only allows UUIDs and positive integers
// as point IDs.
const payloadIDField = "_original_id"

// qdrantHit is one Qdrant nearest-neighbor result: just enough to satisfy a
// Store vector-search method (ChunkHit/SentenceHit/EntityHit are themselves
// ID+score pairs, so no payload round-trip is needed beyond ID recovery).
type qdrantHit struct {
	ID    string
	Score float64
}

// qdrantCollection wraps one Qdrant collection used as a vector index for a
// single embedding kind (chunks, sentences, or entities).
type qdrantCollection struct {
	client     *qdrant.Client
	collection string
	dimension  int
	metric     string // cosine|l2|euclidean|ip|dot|manhattan
}

// newQdrantCollection opens (and lazily creates) one Qdrant collection.
// dsn is a Qdrant gRPC endpoint, e.g. "http://localhost:6334?api_key=...".
func newQdrantCollection(dsn, collection string, dimensions int, metric string) (*qdrantCollection, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	parsedURL, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse Qdrant DSN: %w", err)
	}
	host := parsedURL.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsedURL.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid port in Qdrant DSN: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsedURL.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsedURL.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create Qdrant client: %w", err)
	}
	qc := &qdrantCollection{
		client:     client,
		collection: collection,
		dimension:  dimensions,
		metric:     strings.ToLower(strings.TrimSpace(metric)),
	}
	if err := qc.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("ensure collection %s: %w", collection, err)
	}
	return qc, nil
}

func (q *qdrantCollection) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	var distance qdrant.Distance
	switch q.metric {
	case "l2", "euclidean":
		distance = qdrant.Distance_Euclid
	case "ip", "dot":
		distance = qdrant.Distance_Dot
	case "manhattan":
		distance = qdrant.Distance_Manhattan
	default: // cosine
		distance = qdrant.Distance_Cosine
	}
	if q.dimension <= 0 {
		return fmt.Errorf("qdrant requires dimensions > 0")
	}
	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: distance,
		}),
	})
}

func qdrantPointID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func (q *qdrantCollection) Upsert(ctx context.Context, id string, vector []float32) error {
	uuidStr := qdrantPointID(id)
	payload := qdrant.NewValueMap(map[string]any{payloadIDField: id})
	vec := make([]float32, len(vector))
	copy(vec, vector)
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(uuidStr),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: payload,
		}},
	})
	return err
}

func (q *qdrantCollection) Delete(ctx context.Context, id string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(qdrantPointID(id))),
	})
	return err
}

func (q *qdrantCollection) Search(ctx context.Context, vector []float32, k int) ([]qdrantHit, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	limit := uint64(k)
	searchResult, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	out := make([]qdrantHit, 0, len(searchResult))
	for _, hit := range searchResult {
		id := hit.Id.GetUuid()
		if hit.Payload != nil {
			if v, ok := hit.Payload[payloadIDField]; ok {
				if s := v.GetStringValue(); s != "" {
					id = s
				}
			}
		}
		if id == "" {
			id = hit.Id.String()
		}
		out = append(out, qdrantHit{ID: id, Score: float64(hit.Score)})
	}
	return out, nil
}

func (q *qdrantCollection) Close() error {
	return q.client.Close()
}
