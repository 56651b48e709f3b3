package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/config"
)

// ChromemStore backs the index with an embedded persistent chromem database.
// Suited to single-node deployments that want durability without running a
// vector server.
type ChromemStore struct {
	db         *chromem.DB
	collection string

	mu   sync.Mutex
	coll *chromem.Collection
}

// NewChromemStore opens (or creates) the persistent database at the
// configured path.
func NewChromemStore(cfg config.VectorConfig) (*ChromemStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: chromem path required", ErrUnavailable)
	}
	db, err := chromem.NewPersistentDB(cfg.Path, false)
	if err != nil {
		return nil, fmt.Errorf("%w: opening chromem db: %v", ErrUnavailable, err)
	}
	return &ChromemStore{db: db, collection: cfg.Collection}, nil
}

// Upsert stores documents with precomputed embeddings.
func (s *ChromemStore) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	coll, err := s.getCollection()
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(points))
	for i, p := range points {
		if len(p.Vector) == 0 {
			return fmt.Errorf("%w: empty vector for record %s", ErrInvalidVector, p.RecordID)
		}
		docs[i] = chromem.Document{
			ID:        p.RecordID,
			Content:   p.Text,
			Embedding: p.Vector,
			Metadata: map[string]string{
				"company_id": p.CompanyID,
			},
		}
	}

	// Concurrency 1: embeddings are precomputed, nothing to parallelize.
	if err := coll.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("%w: adding documents: %v", ErrUnavailable, err)
	}
	return nil
}

// Query returns neighbors above minSimilarity, most similar first.
func (s *ChromemStore) Query(ctx context.Context, vector []float32, companyID string, scope Scope, topK int, minSimilarity float64) ([]Neighbor, error) {
	if topK <= 0 {
		return nil, nil
	}
	coll, err := s.getCollection()
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults above the document count.
	count := coll.Count()
	if count == 0 {
		return nil, nil
	}
	k := topK
	if k > count {
		k = count
	}

	var where map[string]string
	if scope == ScopeLocal {
		where = map[string]string{"company_id": companyID}
	}

	results, err := coll.QueryEmbedding(ctx, vector, k, where, nil)
	if err != nil {
		// Scoped queries with fewer matching documents than k come back as
		// an error rather than a short result set; retry with k=1 is not
		// meaningful, so treat "not enough documents" as empty.
		if isTooFewDocuments(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: querying: %v", ErrUnavailable, err)
	}

	out := make([]Neighbor, 0, len(results))
	for _, r := range results {
		sim := float64(r.Similarity)
		if sim < minSimilarity {
			continue
		}
		out = append(out, Neighbor{
			RecordID:   r.ID,
			CompanyID:  r.Metadata["company_id"],
			Similarity: sim,
		})
	}
	return out, nil
}

// Close is a no-op; chromem persists synchronously.
func (s *ChromemStore) Close() error { return nil }

func (s *ChromemStore) getCollection() (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.coll != nil {
		return s.coll, nil
	}
	coll, err := s.db.GetOrCreateCollection(s.collection, nil, func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("embeddings are precomputed")
	})
	if err != nil {
		return nil, fmt.Errorf("%w: opening collection: %v", ErrUnavailable, err)
	}
	s.coll = coll
	return coll, nil
}

func isTooFewDocuments(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nresults") || strings.Contains(msg, "fewer")
}
