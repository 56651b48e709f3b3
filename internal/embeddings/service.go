package embeddings

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/config"
)

const (
	defaultBatchSize           = 64
	defaultFallbackConcurrency = 6
	defaultMaxRetries          = 3

	retryBaseDelay = 200 * time.Millisecond
	retryMaxDelay  = 5 * time.Second

	// providerRateLimit bounds outbound provider calls. Bursty batches are
	// smoothed rather than rejected.
	providerRateLimit = rate.Limit(20)
	providerRateBurst = 10
)

// BatchResult reports per-item outcomes for one batch. Vectors is aligned
// with the input slice; Failed holds errors by input index. An index appears
// in exactly one of the two (a nil vector slot always has a Failed entry).
type BatchResult struct {
	Vectors [][]float32
	Failed  map[int]error
}

// Service wraps a Provider with timeouts, bounded retries, rate limiting,
// and the per-item fallback path for providers without a batch endpoint.
// Safe for concurrent use.
type Service struct {
	provider Provider
	timeout  time.Duration
	batch    int
	workers  int
	retries  int
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewService creates a resilient embedding service over provider.
func NewService(cfg config.EmbeddingConfig, provider Provider, logger *zap.Logger) (*Service, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: provider required", ErrInvalidConfig)
	}
	if cfg.Timeout.Duration() <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	workers := cfg.FallbackConcurrency
	if workers <= 0 {
		workers = defaultFallbackConcurrency
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = defaultMaxRetries
	}

	return &Service{
		provider: provider,
		timeout:  cfg.Timeout.Duration(),
		batch:    batch,
		workers:  workers,
		retries:  retries,
		limiter:  rate.NewLimiter(providerRateLimit, providerRateBurst),
		logger:   logger.Named("embeddings"),
	}, nil
}

// EmbedBatch embeds texts, preserving order. Indices whose text is empty or
// whose embedding ultimately fails land in Failed; everything else gets a
// validated vector. The returned error is non-nil only for whole-call
// problems (nil input, cancelled context).
func (s *Service) EmbedBatch(ctx context.Context, texts []string) (*BatchResult, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	res := &BatchResult{
		Vectors: make([][]float32, len(texts)),
		Failed:  make(map[int]error),
	}

	// Empty texts are rejected up front so providers only see real inputs.
	pending := make([]int, 0, len(texts))
	for i, t := range texts {
		if t == "" {
			res.Failed[i] = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
			continue
		}
		pending = append(pending, i)
	}

	for start := 0; start < len(pending); start += s.batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + s.batch
		if end > len(pending) {
			end = len(pending)
		}
		if err := s.embedChunk(ctx, texts, pending[start:end], res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// EmbedOne embeds a single text with the full retry and timeout treatment.
func (s *Service) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	var vec []float32
	err := s.withRetry(ctx, func(callCtx context.Context) error {
		v, err := s.provider.EmbedOne(callCtx, text)
		if err != nil {
			return err
		}
		if err := validateVector(v); err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// Dimension reports the provider's embedding dimension.
func (s *Service) Dimension() int { return s.provider.Dimension() }

// Close releases the underlying provider.
func (s *Service) Close() error { return s.provider.Close() }

// embedChunk embeds one chunk of pending indices. Any batch-route failure,
// whether the route is missing or errored out after retries, degrades to the
// per-item fallback pool so each item fails or succeeds on its own.
func (s *Service) embedChunk(ctx context.Context, texts []string, indices []int, res *BatchResult) error {
	chunk := make([]string, len(indices))
	for i, idx := range indices {
		chunk[i] = texts[idx]
	}

	var vectors [][]float32
	err := s.withRetry(ctx, func(callCtx context.Context) error {
		v, err := s.provider.EmbedBatch(callCtx, chunk)
		if err != nil {
			return err
		}
		vectors = v
		return nil
	})

	switch {
	case err == nil:
		for i, idx := range indices {
			if vErr := validateVector(vectors[i]); vErr != nil {
				res.Failed[idx] = vErr
				continue
			}
			res.Vectors[idx] = vectors[i]
		}
		return nil

	case errors.Is(err, ErrBatchUnsupported):
		s.logger.Debug("batch route unavailable, falling back to per-item calls",
			zap.Int("items", len(indices)))
		return s.embedItems(ctx, texts, indices, res)

	case ctx.Err() != nil:
		return ctx.Err()

	default:
		// The batch call failed after retries. Degrade to per-item calls so
		// one bad chunk cannot take down records the single-item route can
		// still serve.
		s.logger.Warn("batch embedding failed, falling back to per-item calls",
			zap.Int("items", len(indices)), zap.Error(err))
		return s.embedItems(ctx, texts, indices, res)
	}
}

// embedItems runs per-item provider calls under the fallback worker pool.
// Output order matches input order; each item fails independently.
func (s *Service) embedItems(ctx context.Context, texts []string, indices []int, res *BatchResult) error {
	type itemResult struct {
		idx int
		vec []float32
		err error
	}

	jobs := make(chan int)
	results := make(chan itemResult, len(indices))

	var wg sync.WaitGroup
	for w := 0; w < s.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				var vec []float32
				err := s.withRetry(ctx, func(callCtx context.Context) error {
					v, err := s.provider.EmbedOne(callCtx, texts[idx])
					if err != nil {
						return err
					}
					if err := validateVector(v); err != nil {
						return err
					}
					vec = v
					return nil
				})
				results <- itemResult{idx: idx, vec: vec, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, idx := range indices {
			select {
			case jobs <- idx:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		if r.err != nil {
			res.Failed[r.idx] = r.err
			continue
		}
		res.Vectors[r.idx] = r.vec
	}
	return ctx.Err()
}

// withRetry runs fn under the per-call timeout with bounded exponential
// backoff. Retries apply to transient failures (timeouts, provider errors);
// validation and configuration errors fail immediately.
func (s *Service) withRetry(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			if delay > retryMaxDelay {
				delay = retryMaxDelay
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			err = fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		lastErr = err

		if !retryable(err) || ctx.Err() != nil {
			return err
		}
		s.logger.Debug("retrying embedding call",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return lastErr
}

// retryable reports whether an error is worth another attempt.
func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrTimeout):
		return true
	case errors.Is(err, ErrBatchUnsupported),
		errors.Is(err, ErrEmptyInput),
		errors.Is(err, ErrInvalidConfig):
		return false
	case errors.Is(err, ErrEmbeddingFailed):
		return true
	default:
		return false
	}
}

// validateVector rejects empty vectors and non-finite components. A vector
// that fails here is treated as an embedding failure for its record.
func validateVector(v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty vector", ErrEmbeddingFailed)
	}
	for i, c := range v {
		f := float64(c)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite component at %d", ErrEmbeddingFailed, i)
		}
	}
	return nil
}
