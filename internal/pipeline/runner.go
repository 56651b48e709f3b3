// Package pipeline orchestrates a screening run: normalize, embed, detect,
// aggregate, persist, report.
//
// A run is two phases. Phase one normalizes the batch and then, in parallel,
// generates embeddings while the duplicate detector, rule engine, and
// anomaly scorer work on the amount and identity fields (none of them need
// vectors). Phase two indexes the new embeddings and runs the similarity
// search, which needs phase one's output. Record-scoped failures degrade
// that record's result; a run-scoped failure (record store or vector index
// unreachable) aborts the whole run so no record is ever reported clean when
// its checks could not execute.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/anomaly"
	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/dedup"
	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/embeddings"
	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/record"
	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/rules"
	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/storage"
	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/threat"
	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/vectorindex"
)

// ErrRunAborted wraps run-scoped failures. The wrapped chain names the stage
// and the underlying cause.
var ErrRunAborted = errors.New("screening run aborted")

// RuleSource supplies the active rules for a company at run time.
type RuleSource interface {
	RulesFor(ctx context.Context, companyID string) ([]rules.Rule, error)
}

// StaticRules is a fixed rule set serving every company. Useful for tests
// and file-driven deployments.
type StaticRules []rules.Rule

// RulesFor returns the full set regardless of company.
func (s StaticRules) RulesFor(ctx context.Context, companyID string) ([]rules.Rule, error) {
	return s, nil
}

// Batch is one screening request.
type Batch struct {
	CompanyID string
	BatchID   string // generated when empty
	Raws      []record.Raw
}

// ValidationFailure reports one record rejected during normalization.
type ValidationFailure struct {
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason"`
}

// Result is the complete outcome of one run. SimilaritySkipped lists the
// record IDs whose embedding failed; those records were screened by every
// detector except similarity and must be surfaced as partially screened.
type Result struct {
	BatchID            string
	Records            []*record.Record
	Findings           []threat.Finding
	SimilaritySkipped  []string
	ValidationFailures []ValidationFailure
	Duration           time.Duration
}

// Runner wires the detection components into a screening pipeline. Safe for
// concurrent runs.
type Runner struct {
	normalizer *record.Normalizer
	embedder   *embeddings.Service
	index      *vectorindex.Index
	detector   *dedup.Detector
	engine     *rules.Engine
	ruleSource RuleSource
	scorer     *anomaly.Scorer
	aggregator *threat.Aggregator
	store      storage.Store
	scope      vectorindex.Scope
	sinks      []EventSink
	metrics    *Metrics
	fields     []rules.FieldSource
	logger     *zap.Logger
}

// Deps collects the runner's collaborators. All fields except Sinks and
// Metrics are required.
type Deps struct {
	Normalizer *record.Normalizer
	Embedder   *embeddings.Service
	Index      *vectorindex.Index
	Detector   *dedup.Detector
	Engine     *rules.Engine
	RuleSource RuleSource
	Scorer     *anomaly.Scorer
	Aggregator *threat.Aggregator
	Store      storage.Store
	Scope      vectorindex.Scope
	Sinks      []EventSink
	Metrics    *Metrics
	Logger     *zap.Logger

	// FieldSources feed rule evaluation with fields no record carries,
	// e.g. rolling per-partner counters kept by an external collaborator.
	FieldSources []rules.FieldSource
}

// NewRunner validates deps and builds a runner.
func NewRunner(deps Deps) (*Runner, error) {
	switch {
	case deps.Normalizer == nil:
		return nil, errors.New("pipeline: normalizer required")
	case deps.Embedder == nil:
		return nil, errors.New("pipeline: embedder required")
	case deps.Index == nil:
		return nil, errors.New("pipeline: vector index required")
	case deps.Detector == nil:
		return nil, errors.New("pipeline: duplicate detector required")
	case deps.Engine == nil:
		return nil, errors.New("pipeline: rule engine required")
	case deps.Scorer == nil:
		return nil, errors.New("pipeline: anomaly scorer required")
	case deps.Aggregator == nil:
		return nil, errors.New("pipeline: aggregator required")
	case deps.Store == nil:
		return nil, errors.New("pipeline: store required")
	}
	if deps.RuleSource == nil {
		deps.RuleSource = StaticRules(nil)
	}
	if deps.Scope == "" {
		deps.Scope = vectorindex.ScopeLocal
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Runner{
		normalizer: deps.Normalizer,
		embedder:   deps.Embedder,
		index:      deps.Index,
		detector:   deps.Detector,
		engine:     deps.Engine,
		ruleSource: deps.RuleSource,
		scorer:     deps.Scorer,
		aggregator: deps.Aggregator,
		store:      deps.Store,
		scope:      deps.Scope,
		sinks:      deps.Sinks,
		metrics:    deps.Metrics,
		fields:     deps.FieldSources,
		logger:     deps.Logger.Named("pipeline"),
	}, nil
}

// Run screens one batch end to end. The returned error is non-nil only for
// run-scoped failures; the Result is nil in that case and nothing from the
// run should be treated as screened.
func (r *Runner) Run(ctx context.Context, batch Batch) (*Result, error) {
	start := time.Now()
	batchID := batch.BatchID
	if batchID == "" {
		batchID = uuid.New().String()
	}
	logger := r.logger.With(
		zap.String("batch_id", batchID),
		zap.String("company_id", batch.CompanyID))

	res, err := r.run(ctx, batch, batchID, logger)
	elapsed := time.Since(start)
	if err != nil {
		r.metrics.observeRun("failed", elapsed)
		logger.Error("screening run failed", zap.Error(err), zap.Duration("duration", elapsed))
		return nil, err
	}

	res.Duration = elapsed
	r.metrics.observeRun("completed", elapsed)
	r.metrics.observeRecords(len(res.Records))
	r.metrics.observeEmbeddingFailures(len(res.SimilaritySkipped))
	for _, f := range res.Findings {
		r.metrics.observeFinding(string(f.Type))
	}

	event := CompletionEvent{
		BatchID:           batchID,
		CompanyID:         batch.CompanyID,
		Records:           len(res.Records),
		Findings:          res.Findings,
		SimilaritySkipped: len(res.SimilaritySkipped),
		Duration:          elapsed,
		CompletedAt:       time.Now().UTC(),
	}
	for _, sink := range r.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			logger.Warn("event sink failed", zap.Error(err))
		}
	}

	logger.Info("screening run complete",
		zap.Int("records", len(res.Records)),
		zap.Int("findings", len(res.Findings)),
		zap.Int("similarity_skipped", len(res.SimilaritySkipped)),
		zap.Int("validation_failures", len(res.ValidationFailures)),
		zap.Duration("duration", elapsed))
	return res, nil
}

func (r *Runner) run(ctx context.Context, batch Batch, batchID string, logger *zap.Logger) (*Result, error) {
	if len(batch.Raws) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrRunAborted)
	}
	if batch.CompanyID == "" {
		return nil, fmt.Errorf("%w: company id required", ErrRunAborted)
	}

	// Normalization. Malformed records fail individually, never the batch.
	records := make([]*record.Record, 0, len(batch.Raws))
	var failures []ValidationFailure
	for seq, raw := range batch.Raws {
		raw.CompanyID = batch.CompanyID
		rec, err := r.normalizer.Normalize(raw, batchID, seq)
		if err != nil {
			failures = append(failures, ValidationFailure{
				TransactionID: raw.TransactionID,
				Reason:        err.Error(),
			})
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return &Result{
			BatchID:            batchID,
			ValidationFailures: failures,
		}, nil
	}

	// Phase one: embeddings in parallel with the vector-free detectors.
	var (
		wg         sync.WaitGroup
		embedRes   *embeddings.BatchResult
		embedErr   error
		dups       []threat.DuplicateSignal
		dupErr     error
		ruleHits   []rules.Triggered
		ruleErr    error
		anomalyMap map[string]float64
	)

	texts := make([]string, len(records))
	for i, rec := range records {
		texts[i] = rec.EmbeddingText()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		embedRes, embedErr = r.embedder.EmbedBatch(ctx, texts)
	}()
	go func() {
		defer wg.Done()
		dups, dupErr = r.detector.Detect(ctx, records)
		if dupErr != nil {
			return
		}
		companyRules, err := r.ruleSource.RulesFor(ctx, batch.CompanyID)
		if err != nil {
			ruleErr = err
			return
		}
		ruleHits = r.engine.Evaluate(ctx, companyRules, records, r.fields...)
		anomalyMap = r.scorer.Score(records)
	}()
	wg.Wait()

	switch {
	case dupErr != nil:
		return nil, fmt.Errorf("%w: duplicate detection: %w", ErrRunAborted, dupErr)
	case ruleErr != nil:
		return nil, fmt.Errorf("%w: loading rules: %w", ErrRunAborted, ruleErr)
	case embedErr != nil:
		return nil, fmt.Errorf("%w: embedding: %w", ErrRunAborted, embedErr)
	case ctx.Err() != nil:
		return nil, fmt.Errorf("%w: %w", ErrRunAborted, ctx.Err())
	}

	// Attach embeddings. Failed records keep a nil embedding and are
	// reported as similarity-skipped, never silently clean.
	var skipped []string
	for i, rec := range records {
		if err, failed := embedRes.Failed[i]; failed {
			skipped = append(skipped, rec.ID)
			logger.Warn("embedding failed, similarity screening skipped",
				zap.String("record_id", rec.ID),
				zap.Error(err))
			continue
		}
		rec.Embedding = embedRes.Vectors[i]
	}
	sort.Strings(skipped)

	// Phase two: index the new vectors, then search. Index failures are
	// run-scoped for the same reason store failures are.
	if err := r.index.Add(ctx, records); err != nil {
		return nil, fmt.Errorf("%w: similarity indexing: %w", ErrRunAborted, err)
	}

	var sims []threat.SimilaritySignal
	for _, rec := range records {
		signals, err := r.index.Search(ctx, rec, r.scope)
		if err != nil {
			return nil, fmt.Errorf("%w: similarity search: %w", ErrRunAborted, err)
		}
		sims = append(sims, signals...)
	}

	ruleSignals := make([]threat.RuleSignal, len(ruleHits))
	for i, h := range ruleHits {
		ruleSignals[i] = threat.RuleSignal{
			RecordID:    h.RecordID,
			RuleID:      h.RuleID,
			RuleKind:    h.RuleKind,
			Confidence:  h.Confidence,
			Description: h.Description,
		}
	}

	findings := r.aggregator.Merge(dups, sims, ruleSignals, anomalyMap)

	if err := r.store.SaveThreats(ctx, findings); err != nil {
		return nil, fmt.Errorf("%w: persisting findings: %w", ErrRunAborted, err)
	}
	for _, rec := range records {
		rec.Status = record.StatusScreened
	}
	if err := r.store.SaveRecords(ctx, records); err != nil {
		return nil, fmt.Errorf("%w: persisting records: %w", ErrRunAborted, err)
	}

	return &Result{
		BatchID:            batchID,
		Records:            records,
		Findings:           findings,
		SimilaritySkipped:  skipped,
		ValidationFailures: failures,
	}, nil
}
