// Package vectorindex stores record embeddings and answers nearest-neighbor
// queries over them.
//
// Three backends implement the same Store contract: Qdrant over gRPC for
// production, chromem for embedded persistent deployments, and an in-memory
// scan for tests. The Index wrapper on top applies the similarity thresholds
// and hides backend selection from the pipeline.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/config"
)

var (
	// ErrUnavailable indicates the index backend cannot be reached. The
	// caller must abort the run rather than report records as clean.
	ErrUnavailable = errors.New("vector index unavailable")

	// ErrInvalidVector indicates a vector of the wrong dimension or with
	// non-finite components.
	ErrInvalidVector = errors.New("invalid vector")
)

// Scope selects the search population.
type Scope string

const (
	// ScopeLocal restricts the search to one company's records.
	ScopeLocal Scope = "local"

	// ScopeGlobal searches across all companies.
	ScopeGlobal Scope = "global"
)

// Point is one stored embedding with its identifying payload.
type Point struct {
	RecordID  string
	CompanyID string
	Vector    []float32
	Text      string
}

// Neighbor is one query result, ranked by similarity.
type Neighbor struct {
	RecordID   string
	CompanyID  string
	Similarity float64
}

// Store is the backend contract. Query returns neighbors with cosine
// similarity at or above minSimilarity, most similar first.
type Store interface {
	Upsert(ctx context.Context, points []Point) error
	Query(ctx context.Context, vector []float32, companyID string, scope Scope, topK int, minSimilarity float64) ([]Neighbor, error)
	Close() error
}

// NewStore creates the backend selected by configuration.
func NewStore(cfg config.VectorConfig) (Store, error) {
	switch cfg.Backend {
	case config.VectorBackendQdrant:
		return NewQdrantStore(cfg)
	case config.VectorBackendChromem:
		return NewChromemStore(cfg)
	case config.VectorBackendMemory, "":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Backend)
	}
}

// MemoryStore is a brute-force in-memory backend for tests and small
// deployments. Safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	points map[string]Point
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{points: make(map[string]Point)}
}

// Upsert stores points keyed by record ID, replacing existing vectors.
func (m *MemoryStore) Upsert(ctx context.Context, points []Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		if len(p.Vector) == 0 {
			return fmt.Errorf("%w: empty vector for record %s", ErrInvalidVector, p.RecordID)
		}
		m.points[p.RecordID] = p
	}
	return nil
}

// Query scans all stored points and ranks by cosine similarity.
func (m *MemoryStore) Query(ctx context.Context, vector []float32, companyID string, scope Scope, topK int, minSimilarity float64) ([]Neighbor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Neighbor
	for _, p := range m.points {
		if scope == ScopeLocal && p.CompanyID != companyID {
			continue
		}
		sim, ok := Cosine(vector, p.Vector)
		if !ok || sim < minSimilarity {
			continue
		}
		out = append(out, Neighbor{RecordID: p.RecordID, CompanyID: p.CompanyID, Similarity: sim})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].RecordID < out[j].RecordID
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// Len reports the number of stored points.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}

// Cosine computes cosine similarity between two vectors. The second return
// is false when the vectors differ in length or either has zero norm.
func Cosine(a, b []float32) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}
