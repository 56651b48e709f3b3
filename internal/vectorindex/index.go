package vectorindex

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/config"
	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/record"
	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/threat"
)

// Index answers the pipeline's similarity questions over a Store. It applies
// the suspicion floor at query time, excludes self-matches, and converts
// neighbors into similarity signals for the aggregator.
type Index struct {
	store  Store
	topK   int
	susMin float64
	logger *zap.Logger
}

// NewIndex wraps a store with the configured thresholds.
func NewIndex(store Store, cfg config.SimilarityConfig, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{
		store:  store,
		topK:   cfg.TopK,
		susMin: cfg.SuspicionThreshold,
		logger: logger.Named("vectorindex"),
	}
}

// Add indexes the embeddings of records that have them. Records without an
// embedding are skipped silently; their absence is reported elsewhere.
func (ix *Index) Add(ctx context.Context, records []*record.Record) error {
	points := make([]Point, 0, len(records))
	for _, r := range records {
		if r.Embedding == nil {
			continue
		}
		points = append(points, Point{
			RecordID:  r.ID,
			CompanyID: r.CompanyID,
			Vector:    r.Embedding,
			Text:      r.RawText,
		})
	}
	if len(points) == 0 {
		return nil
	}
	if err := ix.store.Upsert(ctx, points); err != nil {
		return fmt.Errorf("indexing %d records: %w", len(points), err)
	}
	return nil
}

// Search finds neighbors of one record above the suspicion threshold. The
// record itself is never its own neighbor. Records without an embedding
// return no signals and no error; the caller tracks them as skipped.
func (ix *Index) Search(ctx context.Context, r *record.Record, scope Scope) ([]threat.SimilaritySignal, error) {
	if r.Embedding == nil {
		return nil, nil
	}

	// Ask for one extra neighbor since the record may match itself.
	neighbors, err := ix.store.Query(ctx, r.Embedding, r.CompanyID, scope, ix.topK+1, ix.susMin)
	if err != nil {
		return nil, fmt.Errorf("searching neighbors of %s: %w", r.ID, err)
	}

	signals := make([]threat.SimilaritySignal, 0, len(neighbors))
	for _, n := range neighbors {
		if n.RecordID == r.ID {
			continue
		}
		if len(signals) == ix.topK {
			break
		}
		signals = append(signals, threat.SimilaritySignal{
			RecordID:        r.ID,
			MatchedRecordID: n.RecordID,
			Scope:           string(scope),
			Similarity:      n.Similarity,
		})
	}
	return signals, nil
}

// Close releases the underlying store.
func (ix *Index) Close() error { return ix.store.Close() }
