// Package main implements the fraudlensd CLI for screening transaction
// batches against the threat detection pipeline.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/anomaly"
	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/config"
	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/dedup"
	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/embeddings"
	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/logging"
	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/pipeline"
	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/record"
	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/rules"
	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/storage"
	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/threat"
	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/vectorindex"
)

var (
	configPath string
	rulesPath  string
	companyID  string
	batchID    string

	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fraudlensd",
	Short: "Transaction threat screening pipeline",
	Long: `fraudlensd screens transaction batches for duplicate payments,
suspiciously similar records, rule violations, and amount anomalies.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(scanCmd)
}

var scanCmd = &cobra.Command{
	Use:   "scan [batch file]",
	Short: "Screen a JSON batch file and print the findings",
	Long: `Screen a batch of transactions read from a JSON file.

The file holds an array of raw transaction objects:

  [{"transaction_id": "TX1", "partner": "Acme", "amount": "100.00",
    "currency": "USD", "timestamp": "2026-01-15T10:00:00Z"}]

Examples:
  fraudlensd scan --company co-1 batch.json
  fraudlensd scan --company co-1 --rules rules.json batch.json`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&companyID, "company", "", "company the batch belongs to (required)")
	scanCmd.Flags().StringVar(&rulesPath, "rules", "", "path to a JSON rules file")
	scanCmd.Flags().StringVar(&batchID, "batch-id", "", "stable batch id (generated when empty)")
	_ = scanCmd.MarkFlagRequired("company")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	raws, err := readBatchFile(args[0])
	if err != nil {
		return err
	}

	ruleSet, err := readRulesFile(rulesPath)
	if err != nil {
		return err
	}

	runner, closeAll, err := buildRunner(cfg, ruleSet, logger)
	if err != nil {
		return err
	}
	defer closeAll()

	res, err := runner.Run(cmd.Context(), pipeline.Batch{
		CompanyID: companyID,
		BatchID:   batchID,
		Raws:      raws,
	})
	if err != nil {
		return err
	}

	return printResult(cmd.OutOrStdout(), res)
}

func buildRunner(cfg *config.Config, ruleSet []rules.Rule, logger *zap.Logger) (*pipeline.Runner, func(), error) {
	provider, err := embeddings.NewProvider(cfg.Embedding)
	if err != nil {
		return nil, nil, fmt.Errorf("creating embedding provider: %w", err)
	}
	embedder, err := embeddings.NewService(cfg.Embedding, provider, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating embedding service: %w", err)
	}

	vstore, err := vectorindex.NewStore(cfg.Vector)
	if err != nil {
		return nil, nil, fmt.Errorf("creating vector store: %w", err)
	}
	index := vectorindex.NewIndex(vstore, cfg.Similarity, logger)

	store := storage.NewMemoryStore()

	runner, err := pipeline.NewRunner(pipeline.Deps{
		Normalizer: record.NewNormalizer(cfg.Normalizer.DefaultCurrency, logger),
		Embedder:   embedder,
		Index:      index,
		Detector: dedup.NewDetector(dedup.Config{
			TimestampTolerance:   cfg.Dedup.TimestampTolerance.Duration(),
			AmountToleranceCents: cfg.Dedup.AmountToleranceCents,
		}, store, logger),
		Engine:     rules.NewEngine(logger),
		RuleSource: pipeline.StaticRules(ruleSet),
		Scorer:     anomaly.NewScorer(anomaly.Config{MinBatchSize: cfg.Anomaly.MinBatchSize}, logger),
		Aggregator: threat.NewAggregator(threat.AggregatorConfig{
			TimestampTolerance:   cfg.Dedup.TimestampTolerance.Duration(),
			AmountToleranceCents: cfg.Dedup.AmountToleranceCents,
			DuplicateThreshold:   cfg.Similarity.DuplicateThreshold,
			SuspicionThreshold:   cfg.Similarity.SuspicionThreshold,
		}, logger),
		Store:   store,
		Sinks:   []pipeline.EventSink{pipeline.NewLogSink(logger)},
		Metrics: pipeline.NewMetrics(),
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, err
	}

	closeAll := func() {
		_ = index.Close()
		_ = embedder.Close()
	}
	return runner, closeAll, nil
}

func readBatchFile(path string) ([]record.Raw, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading batch file: %w", err)
	}
	var raws []record.Raw
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("parsing batch file: %w", err)
	}
	return raws, nil
}

func readRulesFile(path string) ([]rules.Rule, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	var ruleSet []rules.Rule
	if err := json.Unmarshal(data, &ruleSet); err != nil {
		return nil, fmt.Errorf("parsing rules file: %w", err)
	}
	return ruleSet, nil
}

// scanOutput is the JSON document printed after a successful run.
type scanOutput struct {
	BatchID            string                       `json:"batch_id"`
	Records            int                          `json:"records"`
	Findings           []threat.Finding             `json:"findings"`
	SimilaritySkipped  []string                     `json:"similarity_skipped,omitempty"`
	ValidationFailures []pipeline.ValidationFailure `json:"validation_failures,omitempty"`
	DurationMillis     int64                        `json:"duration_ms"`
}

func printResult(w io.Writer, res *pipeline.Result) error {
	out := scanOutput{
		BatchID:            res.BatchID,
		Records:            len(res.Records),
		Findings:           res.Findings,
		SimilaritySkipped:  res.SimilaritySkipped,
		ValidationFailures: res.ValidationFailures,
		DurationMillis:     res.Duration.Milliseconds(),
	}
	if out.Findings == nil {
		out.Findings = []threat.Finding{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
