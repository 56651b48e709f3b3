// Package embeddings turns normalized transaction text into fixed-size
// vectors via an HTTP embedding provider.
//
// Two provider shapes are supported: a hosted API with a native batch
// endpoint, and a self-hosted endpoint that may only accept one text per
// call. The Service layered on top handles timeouts, retries, rate limiting,
// and the per-item fallback path, and reports partial failure per input so
// one bad text never sinks the batch.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/config"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid embedding configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrTimeout indicates the provider call exceeded its deadline. Timeouts
	// are retryable.
	ErrTimeout = errors.New("embedding request timed out")

	// ErrBatchUnsupported indicates the provider has no batch endpoint and
	// callers must fall back to per-item requests.
	ErrBatchUnsupported = errors.New("batch embedding not supported")
)

// Provider is a raw embedding backend. Implementations do one HTTP exchange
// per call; resilience lives in Service.
type Provider interface {
	// EmbedBatch embeds texts in one call, preserving input order.
	// Providers without a batch route return ErrBatchUnsupported.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedOne embeds a single text.
	EmbedOne(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding dimension for the configured model,
	// or 0 when unknown before the first call.
	Dimension() int

	// Close releases resources held by the provider.
	Close() error
}

// NewProvider creates a provider from configuration.
func NewProvider(cfg config.EmbeddingConfig) (Provider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	switch cfg.Provider {
	case config.ProviderHosted, "":
		return &HostedProvider{
			baseURL: cfg.BaseURL,
			apiKey:  cfg.APIKey.Value(),
			model:   cfg.Model,
			client:  &http.Client{},
		}, nil
	case config.ProviderLocal:
		return &LocalProvider{
			baseURL: cfg.BaseURL,
			model:   cfg.Model,
			client:  &http.Client{},
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// embedRequest is the request body for the embed endpoint. Inputs is either
// a single string or a list of strings.
type embedRequest struct {
	Inputs   interface{} `json:"inputs"`
	Truncate bool        `json:"truncate"`
	Model    string      `json:"model,omitempty"`
}

// HostedProvider talks to a hosted embedding API with a native batch
// endpoint and bearer-token authentication.
type HostedProvider struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client

	mu  sync.Mutex
	dim int
}

// EmbedBatch embeds texts in a single call.
func (p *HostedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vectors, err := p.post(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs", ErrEmbeddingFailed, len(vectors), len(texts))
	}
	p.observeDimension(vectors)
	return vectors, nil
}

// EmbedOne embeds a single text.
func (p *HostedProvider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vectors, err := p.post(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: got %d vectors for 1 input", ErrEmbeddingFailed, len(vectors))
	}
	p.observeDimension(vectors)
	return vectors[0], nil
}

// Dimension reports the dimension observed on the first successful call.
func (p *HostedProvider) Dimension() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dim
}

// Close is a no-op; the provider holds no connections beyond the HTTP pool.
func (p *HostedProvider) Close() error { return nil }

func (p *HostedProvider) observeDimension(vectors [][]float32) {
	if len(vectors) == 0 {
		return
	}
	p.mu.Lock()
	if p.dim == 0 {
		p.dim = len(vectors[0])
	}
	p.mu.Unlock()
}

func (p *HostedProvider) post(ctx context.Context, inputs interface{}) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Inputs: inputs, Truncate: true, Model: p.model})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return vectors, nil
}

// LocalProvider talks to a self-hosted embedding endpoint that accepts one
// text per call. Whether the endpoint also has a batch route is probed on
// the first batch attempt and remembered.
type LocalProvider struct {
	baseURL string
	model   string
	client  *http.Client

	mu      sync.Mutex
	dim     int
	noBatch bool
}

// EmbedBatch attempts the batch route once; endpoints without one answer
// 404 or 405 and every later call short-circuits to ErrBatchUnsupported.
func (p *LocalProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	p.mu.Lock()
	noBatch := p.noBatch
	p.mu.Unlock()
	if noBatch {
		return nil, ErrBatchUnsupported
	}

	vectors, status, err := p.post(ctx, texts)
	if status == http.StatusNotFound || status == http.StatusMethodNotAllowed {
		p.mu.Lock()
		p.noBatch = true
		p.mu.Unlock()
		return nil, ErrBatchUnsupported
	}
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs", ErrEmbeddingFailed, len(vectors), len(texts))
	}
	p.observeDimension(vectors)
	return vectors, nil
}

// EmbedOne embeds a single text.
func (p *LocalProvider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vectors, _, err := p.post(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: got %d vectors for 1 input", ErrEmbeddingFailed, len(vectors))
	}
	p.observeDimension(vectors)
	return vectors[0], nil
}

// Dimension reports the dimension observed on the first successful call.
func (p *LocalProvider) Dimension() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dim
}

// Close is a no-op.
func (p *LocalProvider) Close() error { return nil }

func (p *LocalProvider) observeDimension(vectors [][]float32) {
	if len(vectors) == 0 {
		return
	}
	p.mu.Lock()
	if p.dim == 0 {
		p.dim = len(vectors[0])
	}
	p.mu.Unlock()
}

// post returns the HTTP status alongside the error so EmbedBatch can
// distinguish a missing route from a failing one.
func (p *LocalProvider) post(ctx context.Context, inputs interface{}) ([][]float32, int, error) {
	body, err := json.Marshal(embedRequest{Inputs: inputs, Truncate: true, Model: p.model})
	if err != nil {
		return nil, 0, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, 0, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, resp.StatusCode, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decoding response: %w", err)
	}
	return vectors, resp.StatusCode, nil
}
