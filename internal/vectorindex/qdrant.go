package vectorindex

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/config"
)

const (
	qdrantMaxRetries = 3
	qdrantRetryDelay = 250 * time.Millisecond
)

// QdrantStore backs the index with a Qdrant collection over gRPC. Points
// carry record and company IDs in the payload so queries can scope by
// company without a second lookup.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	vectorSize int

	ensureOnce sync.Once
	ensureErr  error
}

// NewQdrantStore connects to Qdrant. The collection is created lazily on
// first upsert so a read-only consumer never needs create permissions.
func NewQdrantStore(cfg config.VectorConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: qdrant host required", ErrUnavailable)
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: cfg.Host,
		Port: cfg.Port,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &QdrantStore{
		client:     client,
		collection: cfg.Collection,
		vectorSize: cfg.VectorSize,
	}, nil
}

// Upsert writes points, creating the collection on first use.
func (s *QdrantStore) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}

	qPoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		if len(p.Vector) == 0 {
			return fmt.Errorf("%w: empty vector for record %s", ErrInvalidVector, p.RecordID)
		}
		payload := map[string]*qdrant.Value{
			"record_id":  {Kind: &qdrant.Value_StringValue{StringValue: p.RecordID}},
			"company_id": {Kind: &qdrant.Value_StringValue{StringValue: p.CompanyID}},
		}
		if p.Text != "" {
			payload["text"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: p.Text}}
		}
		qPoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.RecordID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		}
	}

	return s.withRetry(ctx, func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Points:         qPoints,
		})
		return err
	})
}

// Query returns neighbors above minSimilarity, most similar first. Local
// scope filters on the company payload; global scope searches everything.
func (s *QdrantStore) Query(ctx context.Context, vector []float32, companyID string, scope Scope, topK int, minSimilarity float64) ([]Neighbor, error) {
	if topK <= 0 {
		return nil, nil
	}

	var filter *qdrant.Filter
	if scope == ScopeLocal {
		filter = &qdrant.Filter{
			Must: []*qdrant.Condition{{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: "company_id",
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keyword{Keyword: companyID},
						},
					},
				},
			}},
		}
	}

	threshold := float32(minSimilarity)
	var results []*qdrant.ScoredPoint
	err := s.withRetry(ctx, func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(topK)),
			Filter:         filter,
			ScoreThreshold: &threshold,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]Neighbor, 0, len(results))
	for _, sp := range results {
		n := Neighbor{Similarity: float64(sp.GetScore())}
		if payload := sp.GetPayload(); payload != nil {
			if v, ok := payload["record_id"]; ok {
				n.RecordID = v.GetStringValue()
			}
			if v, ok := payload["company_id"]; ok {
				n.CompanyID = v.GetStringValue()
			}
		}
		if n.RecordID == "" {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// Close releases the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// ensureCollection creates the cosine-distance collection once per process.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	s.ensureOnce.Do(func() {
		exists, err := s.client.CollectionExists(ctx, s.collection)
		if err != nil {
			s.ensureErr = fmt.Errorf("%w: checking collection: %v", ErrUnavailable, err)
			return
		}
		if exists {
			return
		}
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.vectorSize),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			s.ensureErr = fmt.Errorf("%w: creating collection: %v", ErrUnavailable, err)
		}
	})
	return s.ensureErr
}

// withRetry retries transient gRPC failures with a flat backoff, then wraps
// the final error as ErrUnavailable so callers abort the run.
func (s *QdrantStore) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= qdrantMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(qdrantRetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !transientGRPC(lastErr) {
			break
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func transientGRPC(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}
