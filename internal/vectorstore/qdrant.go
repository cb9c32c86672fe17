package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/conarylabs/mira/internal/miraerr"
)

// payloadPointIDField recovers the borrowed relational id from a point's
// payload, since Qdrant only accepts UUIDs or unsigned ints as point ids and
// our ids are arbitrary uint64s that still need a stable UUID mapping.
const payloadPointIDField = "_point_id"

// QdrantStore is a per-head Qdrant-backed Store, generalizing the teacher's
// single-collection qdrantVector to N collections named "mira_<head>".
type QdrantStore struct {
	client *qdrant.Client
	prefix string
	metric string

	mu          sync.Mutex
	collections map[string]bool
}

// NewQdrantStore connects to dsn (Qdrant's gRPC endpoint, default port
// 6334) and returns a Store that lazily creates one collection per head.
func NewQdrantStore(dsn, collectionPrefix, metric string) (*QdrantStore, error) {
	const op = "vectorstore.NewQdrantStore"
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, miraerr.New(op, miraerr.Fatal, fmt.Errorf("parse qdrant dsn: %w", err))
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, miraerr.New(op, miraerr.Fatal, fmt.Errorf("invalid qdrant port: %w", err))
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, miraerr.New(op, miraerr.ProviderUnavailable, fmt.Errorf("create qdrant client: %w", err))
	}
	if collectionPrefix == "" {
		collectionPrefix = "mira"
	}
	return &QdrantStore{
		client:      client,
		prefix:      collectionPrefix,
		metric:      strings.ToLower(strings.TrimSpace(metric)),
		collections: make(map[string]bool),
	}, nil
}

func (q *QdrantStore) collectionName(head string) string {
	return q.prefix + "_" + head
}

func (q *QdrantStore) EnsureCollection(ctx context.Context, head string, dim int) error {
	const op = "vectorstore.EnsureCollection"
	name := q.collectionName(head)

	q.mu.Lock()
	if q.collections[name] {
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()

	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return miraerr.New(op, miraerr.ProviderUnavailable, err)
	}
	if !exists {
		if dim <= 0 {
			return miraerr.New(op, miraerr.Fatal, fmt.Errorf("qdrant requires dimensions > 0"))
		}
		var distance qdrant.Distance
		switch q.metric {
		case "l2", "euclidean":
			distance = qdrant.Distance_Euclid
		case "ip", "dot":
			distance = qdrant.Distance_Dot
		default:
			distance = qdrant.Distance_Cosine
		}
		err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: distance,
			}),
		})
		if err != nil {
			return miraerr.New(op, miraerr.ProviderUnavailable, fmt.Errorf("create collection %s: %w", name, err))
		}
	}
	q.mu.Lock()
	q.collections[name] = true
	q.mu.Unlock()
	return nil
}

func pointUUID(id uint64) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("mira-point-%d", id))).String()
}

func (q *QdrantStore) Upsert(ctx context.Context, head string, pointID uint64, vector []float32, payload map[string]string) error {
	const op = "vectorstore.Upsert"
	metadataAny := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		metadataAny[k] = v
	}
	metadataAny[payloadPointIDField] = strconv.FormatUint(pointID, 10)

	vec := make([]float32, len(vector))
	copy(vec, vector)
	points := []*qdrant.PointStruct{{
		Id:      qdrant.NewIDUUID(pointUUID(pointID)),
		Vectors: qdrant.NewVectorsDense(vec),
		Payload: qdrant.NewValueMap(metadataAny),
	}}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collectionName(head),
		Points:         points,
		Wait:           boolPtr(true),
	})
	if err != nil {
		return miraerr.New(op, miraerr.ProviderUnavailable, err)
	}
	return nil
}

func (q *QdrantStore) Delete(ctx context.Context, head string, pointID uint64) error {
	const op = "vectorstore.Delete"
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collectionName(head),
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(pointUUID(pointID))),
	})
	if err != nil {
		// Idempotent: a missing point is not an error (R-3); Qdrant delete
		// of an absent id does not itself fail, but guard defensively.
		return miraerr.New(op, miraerr.ProviderUnavailable, err)
	}
	return nil
}

func (q *QdrantStore) Search(ctx context.Context, head string, query []float32, k int, filter map[string]string) ([]Result, error) {
	const op = "vectorstore.Search"
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(query))
	copy(vec, query)

	var qf *qdrant.Filter
	if len(filter) > 0 {
		must := make([]*qdrant.Condition, 0, len(filter))
		for k, v := range filter {
			must = append(must, qdrant.NewMatch(k, v))
		}
		qf = &qdrant.Filter{Must: must}
	}
	limit := uint64(k)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collectionName(head),
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         qf,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, miraerr.New(op, miraerr.ProviderUnavailable, err)
	}
	out := make([]Result, 0, len(hits))
	for _, hit := range hits {
		payload := make(map[string]string)
		var pointID uint64
		if hit.Payload != nil {
			for k, v := range hit.Payload {
				if k == payloadPointIDField {
					pointID, _ = strconv.ParseUint(v.GetStringValue(), 10, 64)
					continue
				}
				payload[k] = v.GetStringValue()
			}
		}
		out = append(out, Result{PointID: pointID, Score: q.toDistance(hit.Score), Payload: payload})
	}
	return out, nil
}

// toDistance converts Qdrant's native "higher score = closer" ranking value
// into this package's "distance, smaller = closer" contract (vectorstore.go's
// Store.Search doc, also implemented by memory.go's cosineDistance = 1-cos_sim).
// Qdrant always sorts descending by score regardless of metric: for Cosine
// and Dot the score is the raw similarity (so invert the sign/complement);
// for Euclid the score is already the negated distance (score = -dist).
func (q *QdrantStore) toDistance(score float32) float64 {
	switch q.metric {
	case "l2", "euclidean":
		return float64(-score)
	case "ip", "dot":
		return float64(-score)
	default: // cosine
		return float64(1 - score)
	}
}

func (q *QdrantStore) ListPointIDs(ctx context.Context, head string) ([]uint64, error) {
	const op = "vectorstore.ListPointIDs"
	var ids []uint64
	var offset *qdrant.PointId
	for {
		resp, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: q.collectionName(head),
			WithPayload:    qdrant.NewWithPayload(true),
			Offset:         offset,
			Limit:          int32Ptr(256),
		})
		if err != nil {
			return nil, miraerr.New(op, miraerr.ProviderUnavailable, err)
		}
		if len(resp) == 0 {
			break
		}
		for _, p := range resp {
			if p.Payload != nil {
				if v, ok := p.Payload[payloadPointIDField]; ok {
					if id, err := strconv.ParseUint(v.GetStringValue(), 10, 64); err == nil {
						ids = append(ids, id)
					}
				}
			}
		}
		if len(resp) < 256 {
			break
		}
		offset = resp[len(resp)-1].Id
	}
	return ids, nil
}

func (q *QdrantStore) Close() error { return q.client.Close() }

func boolPtr(b bool) *bool   { return &b }
func int32Ptr(i int32) *int32 { return &i }
