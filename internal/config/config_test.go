package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 64, cfg.Embedding.BatchSize)
	assert.Equal(t, 6, cfg.Embedding.FallbackConcurrency)
	assert.Equal(t, 30*time.Second, cfg.Dedup.TimestampTolerance.Duration())
	assert.Equal(t, int64(0), cfg.Dedup.AmountToleranceCents)
	assert.Equal(t, 0.82, cfg.Similarity.DuplicateThreshold)
	assert.Equal(t, 0.70, cfg.Similarity.SuspicionThreshold)
	assert.Equal(t, 25, cfg.Anomaly.MinBatchSize)
	assert.Equal(t, "USD", cfg.Normalizer.DefaultCurrency)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "openai" }},
		{"empty base URL", func(c *Config) { c.Embedding.BaseURL = "" }},
		{"zero timeout", func(c *Config) { c.Embedding.Timeout = 0 }},
		{"zero batch size", func(c *Config) { c.Embedding.BatchSize = 0 }},
		{"zero fallback concurrency", func(c *Config) { c.Embedding.FallbackConcurrency = 0 }},
		{"negative amount tolerance", func(c *Config) { c.Dedup.AmountToleranceCents = -1 }},
		{"duplicate below suspicion", func(c *Config) {
			c.Similarity.DuplicateThreshold = 0.5
			c.Similarity.SuspicionThreshold = 0.7
		}},
		{"tiny anomaly batch", func(c *Config) { c.Anomaly.MinBatchSize = 1 }},
		{"empty currency", func(c *Config) { c.Normalizer.DefaultCurrency = "" }},
		{"unknown vector backend", func(c *Config) { c.Vector.Backend = "pinecone" }},
		{"chromem without path", func(c *Config) { c.Vector.Backend = VectorBackendChromem; c.Vector.Path = "" }},
		{"bad logging format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := []byte(`
embedding:
  provider: local
  base_url: http://tei:8080
  batch_size: 32
dedup:
  timestamp_tolerance: 45s
similarity:
  top_k: 10
`)
	require.NoError(t, os.WriteFile(path, yamlContent, 0o600))

	t.Setenv("FRAUDLENS_EMBEDDING_BATCH_SIZE", "16")
	t.Setenv("FRAUDLENS_NORMALIZER_DEFAULT_CURRENCY", "EUR")

	cfg, err := Load(path)
	require.NoError(t, err)

	// YAML values
	assert.Equal(t, ProviderLocal, cfg.Embedding.Provider)
	assert.Equal(t, "http://tei:8080", cfg.Embedding.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.Dedup.TimestampTolerance.Duration())
	assert.Equal(t, 10, cfg.Similarity.TopK)

	// Env overrides YAML
	assert.Equal(t, 16, cfg.Embedding.BatchSize)
	assert.Equal(t, "EUR", cfg.Normalizer.DefaultCurrency)

	// Defaults survive for unset keys
	assert.Equal(t, 0.82, cfg.Similarity.DuplicateThreshold)
	assert.Equal(t, 25, cfg.Anomaly.MinBatchSize)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Similarity, cfg.Similarity)
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("sk-very-secret")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "sk-very-secret", s.Value())

	b, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(b), "very-secret")

	var empty Secret
	assert.Equal(t, "", empty.String())
}

func TestDurationUnmarshal(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("not-a-duration")))
}
