// Package config provides configuration loading for the fraudlens detection
// pipeline.
//
// Configuration is a single immutable struct constructed once at startup and
// passed explicitly into each component constructor. Values are loaded from a
// YAML file with environment variable overrides; no component reads
// process-wide state directly.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Embedding provider backends.
const (
	ProviderHosted = "hosted"
	ProviderLocal  = "local"
)

// Vector index backends.
const (
	VectorBackendQdrant  = "qdrant"
	VectorBackendChromem = "chromem"
	VectorBackendMemory  = "memory"
)

// Config holds the complete pipeline configuration.
type Config struct {
	Embedding  EmbeddingConfig  `koanf:"embedding"`
	Dedup      DedupConfig      `koanf:"dedup"`
	Similarity SimilarityConfig `koanf:"similarity"`
	Anomaly    AnomalyConfig    `koanf:"anomaly"`
	Normalizer NormalizerConfig `koanf:"normalizer"`
	Vector     VectorConfig     `koanf:"vector"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// EmbeddingConfig holds embedding provider configuration.
type EmbeddingConfig struct {
	// Provider selects the backend: "hosted" (batch-native API) or "local"
	// (self-hosted endpoint, may lack a batch route).
	Provider string `koanf:"provider"`

	// BaseURL is the provider endpoint.
	BaseURL string `koanf:"base_url"`

	// APIKey authenticates against the hosted provider. Optional for local.
	APIKey Secret `koanf:"api_key"`

	// Model is the embedding model name.
	Model string `koanf:"model"`

	// Timeout bounds every provider call. Mandatory; expiry surfaces as a
	// retryable timeout error.
	Timeout Duration `koanf:"timeout"`

	// BatchSize is the maximum texts per batch call.
	BatchSize int `koanf:"batch_size"`

	// FallbackConcurrency bounds per-item calls when the batch endpoint is
	// unavailable. Hard cap, not a suggestion.
	FallbackConcurrency int `koanf:"fallback_concurrency"`

	// MaxRetries is the retry budget for transient provider failures.
	MaxRetries int `koanf:"max_retries"`
}

// DedupConfig holds duplicate detection tolerances.
type DedupConfig struct {
	// TimestampTolerance is the maximum timestamp gap for canonical-key
	// duplicate candidates.
	TimestampTolerance Duration `koanf:"timestamp_tolerance"`

	// AmountToleranceCents is the allowed minor-unit difference for
	// canonical-key duplicate candidates.
	AmountToleranceCents int64 `koanf:"amount_tolerance_cents"`
}

// SimilarityConfig holds similarity search thresholds.
type SimilarityConfig struct {
	// DuplicateThreshold is the cosine similarity above which a match is
	// reported as a probable duplicate.
	DuplicateThreshold float64 `koanf:"duplicate_threshold"`

	// SuspicionThreshold is the minimum similarity for any match to be
	// reported at all.
	SuspicionThreshold float64 `koanf:"suspicion_threshold"`

	// TopK is the number of neighbors requested per record.
	TopK int `koanf:"top_k"`
}

// AnomalyConfig holds outlier scoring configuration.
type AnomalyConfig struct {
	// MinBatchSize is the smallest batch for which amount outlier scores are
	// statistically meaningful. Below it the signal is absent, not low.
	MinBatchSize int `koanf:"min_batch_size"`
}

// NormalizerConfig holds record normalization configuration.
type NormalizerConfig struct {
	// DefaultCurrency is assumed when a record carries no currency.
	DefaultCurrency string `koanf:"default_currency"`
}

// VectorConfig holds vector index configuration.
type VectorConfig struct {
	// Backend selects the index: "qdrant", "chromem", or "memory".
	Backend string `koanf:"backend"`

	// Host is the qdrant gRPC host.
	Host string `koanf:"host"`

	// Port is the qdrant gRPC port (6334, not the HTTP port).
	Port int `koanf:"port"`

	// Collection is the collection holding record embeddings.
	Collection string `koanf:"collection"`

	// VectorSize is the embedding dimensionality. Must match the embedding
	// model output.
	VectorSize int `koanf:"vector_size"`

	// Path is the chromem persistence directory (chromem backend only).
	Path string `koanf:"path"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is "json" or "console".
	Format string `koanf:"format"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Provider:            ProviderHosted,
			BaseURL:             "http://localhost:8080",
			Model:               "BAAI/bge-small-en-v1.5",
			Timeout:             Duration(30 * time.Second),
			BatchSize:           64,
			FallbackConcurrency: 6,
			MaxRetries:          3,
		},
		Dedup: DedupConfig{
			TimestampTolerance:   Duration(30 * time.Second),
			AmountToleranceCents: 0,
		},
		Similarity: SimilarityConfig{
			DuplicateThreshold: 0.82,
			SuspicionThreshold: 0.70,
			TopK:               5,
		},
		Anomaly: AnomalyConfig{
			MinBatchSize: 25,
		},
		Normalizer: NormalizerConfig{
			DefaultCurrency: "USD",
		},
		Vector: VectorConfig{
			Backend:    VectorBackendMemory,
			Host:       "localhost",
			Port:       6334,
			Collection: "fraudlens_records",
			VectorSize: 384,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case ProviderHosted, ProviderLocal:
	default:
		return fmt.Errorf("invalid embedding provider: %q", c.Embedding.Provider)
	}
	if c.Embedding.BaseURL == "" {
		return errors.New("embedding base URL required")
	}
	if c.Embedding.Timeout.Duration() <= 0 {
		return errors.New("embedding timeout must be positive")
	}
	if c.Embedding.BatchSize < 1 {
		return fmt.Errorf("embedding batch size must be at least 1, got %d", c.Embedding.BatchSize)
	}
	if c.Embedding.FallbackConcurrency < 1 {
		return fmt.Errorf("embedding fallback concurrency must be at least 1, got %d", c.Embedding.FallbackConcurrency)
	}

	if c.Dedup.AmountToleranceCents < 0 {
		return errors.New("dedup amount tolerance cannot be negative")
	}

	if c.Similarity.SuspicionThreshold < -1 || c.Similarity.SuspicionThreshold > 1 {
		return fmt.Errorf("suspicion threshold out of range: %v", c.Similarity.SuspicionThreshold)
	}
	if c.Similarity.DuplicateThreshold < c.Similarity.SuspicionThreshold {
		return fmt.Errorf("duplicate threshold %v below suspicion threshold %v",
			c.Similarity.DuplicateThreshold, c.Similarity.SuspicionThreshold)
	}
	if c.Similarity.TopK < 1 {
		return fmt.Errorf("similarity top_k must be at least 1, got %d", c.Similarity.TopK)
	}

	if c.Anomaly.MinBatchSize < 2 {
		return fmt.Errorf("anomaly min batch size must be at least 2, got %d", c.Anomaly.MinBatchSize)
	}

	if c.Normalizer.DefaultCurrency == "" {
		return errors.New("default currency required")
	}

	switch c.Vector.Backend {
	case VectorBackendQdrant:
		if c.Vector.Host == "" {
			return errors.New("qdrant host required")
		}
		if c.Vector.Port <= 0 || c.Vector.Port > 65535 {
			return fmt.Errorf("invalid qdrant port: %d", c.Vector.Port)
		}
	case VectorBackendChromem:
		if c.Vector.Path == "" {
			return errors.New("chromem path required")
		}
	case VectorBackendMemory:
	default:
		return fmt.Errorf("invalid vector backend: %q", c.Vector.Backend)
	}
	if c.Vector.Collection == "" {
		return errors.New("vector collection required")
	}
	if c.Vector.VectorSize < 1 {
		return fmt.Errorf("vector size must be at least 1, got %d", c.Vector.VectorSize)
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %q", c.Logging.Format)
	}

	return nil
}
