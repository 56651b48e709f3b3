package threat

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Default confidences for rule findings without an explicit confidence in the
// rule definition.
const (
	defaultGreaterThanConfidence = 0.75
	defaultInSetConfidence       = 0.85
	defaultRegexConfidence       = 0.70
	defaultRuleConfidence        = 0.60
)

// anomalyBoost scales how much a co-occurring anomaly score raises a
// finding's confidence. Anomaly scores are batch-relative and ordinal, so
// they only nudge confidence, capped at 1.0.
const anomalyBoost = 0.1

// AggregatorConfig holds the tolerances and thresholds the aggregator needs
// to derive confidence scores.
type AggregatorConfig struct {
	// TimestampTolerance is the canonical-duplicate timestamp tolerance; time
	// gaps are scored relative to it.
	TimestampTolerance time.Duration

	// AmountToleranceCents is the canonical-duplicate amount tolerance.
	AmountToleranceCents int64

	// DuplicateThreshold separates probable-duplicate similarity findings
	// from merely suspicious ones.
	DuplicateThreshold float64

	// SuspicionThreshold anchors the linear confidence scaling for
	// similarity findings.
	SuspicionThreshold float64
}

// Aggregator merges per-record detection signals into the final finding set.
type Aggregator struct {
	cfg    AggregatorConfig
	logger *zap.Logger
}

// NewAggregator creates an aggregator.
func NewAggregator(cfg AggregatorConfig, logger *zap.Logger) *Aggregator {
	return &Aggregator{cfg: cfg, logger: logger.Named("aggregator")}
}

// Merge produces the deduplicated, deterministically ordered finding set.
//
// Precedence: a TXID duplicate always wins over a canonical duplicate for the
// same pair. Duplicate, similarity, and rule findings are independent
// evidentiary channels and are all reported. Anomaly scores never produce a
// finding alone; they attach as supplementary evidence on co-occurring
// findings and raise their confidence.
func (a *Aggregator) Merge(
	dups []DuplicateSignal,
	sims []SimilaritySignal,
	ruleHits []RuleSignal,
	anomalyScores map[string]float64,
) []Finding {
	findings := make([]Finding, 0, len(dups)+len(sims)+len(ruleHits))

	// TXID matches suppress canonical matches for the same unordered pair.
	txidPairs := make(map[string]bool)
	for _, d := range dups {
		if d.Type == TypeDupInBatchTxID || d.Type == TypeDupInDBTxID {
			txidPairs[pairKey(d.RecordID, d.CounterpartID)] = true
		}
	}

	for _, d := range dups {
		switch d.Type {
		case TypeDupInBatchCanonical, TypeDupInDBCanonical:
			if txidPairs[pairKey(d.RecordID, d.CounterpartID)] {
				continue
			}
		}
		findings = append(findings, a.duplicateFinding(d))
	}

	for _, s := range sims {
		findings = append(findings, a.similarityFinding(s))
	}

	for _, r := range ruleHits {
		findings = append(findings, a.ruleFinding(r))
	}

	// Attach anomaly evidence and boost confidence of co-occurring findings.
	if len(anomalyScores) > 0 {
		for i := range findings {
			score, ok := anomalyScores[findings[i].RecordID]
			if !ok {
				continue
			}
			s := score
			findings[i].Evidence.AnomalyScore = &s
			findings[i].Confidence = clamp01(findings[i].Confidence + anomalyBoost*score)
		}
	}

	// Deduplicate on (record, type, evidence key), keeping the highest
	// confidence. Re-runs and overlapping store/batch matches collapse here.
	byKey := make(map[string]int, len(findings))
	deduped := findings[:0]
	for _, f := range findings {
		key := f.DedupKey()
		if idx, seen := byKey[key]; seen {
			if f.Confidence > deduped[idx].Confidence {
				deduped[idx] = f
			}
			continue
		}
		byKey[key] = len(deduped)
		deduped = append(deduped, f)
	}

	sort.Slice(deduped, func(i, j int) bool {
		if deduped[i].RecordID != deduped[j].RecordID {
			return deduped[i].RecordID < deduped[j].RecordID
		}
		if deduped[i].Type != deduped[j].Type {
			return deduped[i].Type < deduped[j].Type
		}
		return deduped[i].Evidence.Key(deduped[i].Type) < deduped[j].Evidence.Key(deduped[j].Type)
	})

	a.logger.Debug("merged detection signals",
		zap.Int("duplicates", len(dups)),
		zap.Int("similarity", len(sims)),
		zap.Int("rules", len(ruleHits)),
		zap.Int("findings", len(deduped)))

	return deduped
}

func (a *Aggregator) duplicateFinding(d DuplicateSignal) Finding {
	f := Finding{
		ID:       uuid.New().String(),
		RecordID: d.RecordID,
		Type:     d.Type,
		Evidence: Evidence{
			MatchedRecordID:      d.CounterpartID,
			MatchedTransactionID: d.CounterpartTxID,
			AmountDeltaCents:     d.AmountDeltaCents,
		},
	}
	if d.TimeDelta != nil {
		secs := d.TimeDelta.Seconds()
		f.Evidence.TimeDeltaSeconds = &secs
	}

	switch d.Type {
	case TypeDupInBatchTxID:
		f.Confidence = 1.0
		f.Description = fmt.Sprintf("transaction id %s appears more than once in this batch", d.CounterpartTxID)
	case TypeDupInDBTxID:
		f.Confidence = 1.0
		f.Description = fmt.Sprintf("transaction id %s matches a previously recorded transaction", d.CounterpartTxID)
	case TypeDupInBatchCanonical:
		f.Confidence = a.canonicalConfidence(d)
		f.Description = "matches another record in this batch on partner, amount, currency and date"
	case TypeDupInDBCanonical:
		f.Confidence = a.canonicalConfidence(d)
		f.Description = "matches a previously recorded transaction on partner, amount, currency and date"
	}
	return f
}

// canonicalConfidence scales down from 1.0 by how close the amount and time
// gaps sit to their tolerance boundaries. A missing timestamp contributes
// nothing (the permissive date policy), as does a zero tolerance.
func (a *Aggregator) canonicalConfidence(d DuplicateSignal) float64 {
	var amountFrac, timeFrac float64
	if d.AmountDeltaCents != nil && a.cfg.AmountToleranceCents > 0 {
		amountFrac = clamp01(float64(*d.AmountDeltaCents) / float64(a.cfg.AmountToleranceCents))
	}
	if d.TimeDelta != nil && a.cfg.TimestampTolerance > 0 {
		timeFrac = clamp01(float64(*d.TimeDelta) / float64(a.cfg.TimestampTolerance))
	}
	return 1.0 - 0.25*amountFrac - 0.25*timeFrac
}

func (a *Aggregator) similarityFinding(s SimilaritySignal) Finding {
	span := 1.0 - a.cfg.SuspicionThreshold
	confidence := 0.0
	if span > 0 {
		confidence = clamp01((s.Similarity - a.cfg.SuspicionThreshold) / span)
	}

	desc := fmt.Sprintf("suspiciously similar to record %s (similarity %.2f, %s scope)",
		s.MatchedRecordID, s.Similarity, s.Scope)
	if s.Similarity >= a.cfg.DuplicateThreshold {
		desc = fmt.Sprintf("probable duplicate of record %s (similarity %.2f, %s scope)",
			s.MatchedRecordID, s.Similarity, s.Scope)
	}

	return Finding{
		ID:          uuid.New().String(),
		RecordID:    s.RecordID,
		Type:        TypeSimilarityMatch,
		Confidence:  confidence,
		Description: desc,
		Evidence: Evidence{
			MatchedRecordID: s.MatchedRecordID,
			Similarity:      s.Similarity,
			Scope:           s.Scope,
		},
	}
}

func (a *Aggregator) ruleFinding(r RuleSignal) Finding {
	confidence := r.Confidence
	if confidence <= 0 {
		switch r.RuleKind {
		case "greater-than":
			confidence = defaultGreaterThanConfidence
		case "in-set":
			confidence = defaultInSetConfidence
		case "regex":
			confidence = defaultRegexConfidence
		default:
			confidence = defaultRuleConfidence
		}
	}

	return Finding{
		ID:          uuid.New().String(),
		RecordID:    r.RecordID,
		Type:        TypeRuleTrigger,
		Confidence:  clamp01(confidence),
		Description: fmt.Sprintf("rule %s triggered: %s", r.RuleID, r.Description),
		Evidence:    Evidence{RuleID: r.RuleID},
	}
}

// pairKey builds an order-independent key for a record pair.
func pairKey(a, b string) string {
	if a < b {
		return a + "|" + b
	}
	return b + "|" + a
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
