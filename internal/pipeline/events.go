package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/threat"
)

// CompletionEvent announces a finished screening run to interested
// collaborators (notification delivery, dashboards). It carries the full
// finding list so downstream consumers need no follow-up store read.
// Emission is best-effort: a sink failure is logged, never propagated.
type CompletionEvent struct {
	BatchID           string           `json:"batch_id"`
	CompanyID         string           `json:"company_id"`
	Records           int              `json:"records"`
	Findings          []threat.Finding `json:"findings"`
	SimilaritySkipped int              `json:"similarity_skipped"`
	Duration          time.Duration    `json:"duration"`
	CompletedAt       time.Time        `json:"completed_at"`
}

// EventSink receives completion events.
type EventSink interface {
	Publish(ctx context.Context, event CompletionEvent) error
}

// LogSink writes completion events to the structured log. The default sink
// when no external delivery is wired.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink writing to logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("events")}
}

// Publish logs the event.
func (s *LogSink) Publish(ctx context.Context, event CompletionEvent) error {
	s.logger.Info("completion event published",
		zap.String("batch_id", event.BatchID),
		zap.String("company_id", event.CompanyID),
		zap.Int("records", event.Records),
		zap.Int("findings", len(event.Findings)),
		zap.Int("similarity_skipped", event.SimilaritySkipped),
		zap.Duration("duration", event.Duration))
	return nil
}
