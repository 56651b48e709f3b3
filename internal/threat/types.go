// Package threat defines typed threat findings and the aggregator that merges
// per-record detection signals into a final finding set.
package threat

import (
	"fmt"
	"time"
)

// Type classifies a threat finding.
type Type string

const (
	// TypeDupInBatchTxID marks two records in the same batch sharing a
	// transaction id.
	TypeDupInBatchTxID Type = "DUP_IN_BATCH__TXID"

	// TypeDupInDBTxID marks a batch record whose transaction id matches a
	// previously persisted record for the same company.
	TypeDupInDBTxID Type = "DUP_IN_DB__TXID"

	// TypeDupInBatchCanonical marks two batch records sharing a canonical key
	// with timestamps within tolerance, transaction ids differing.
	TypeDupInBatchCanonical Type = "DUP_IN_BATCH__CANONICAL"

	// TypeDupInDBCanonical is the canonical-key match against the persisted
	// store.
	TypeDupInDBCanonical Type = "DUP_IN_DB__CANONICAL"

	// TypeSimilarityMatch marks a record semantically similar to a suspicious
	// historical record. Probable duplicates and merely suspicious matches
	// share this type and differ in confidence band.
	TypeSimilarityMatch Type = "SIMILARITY_MATCH"

	// TypeRuleTrigger marks a record that tripped a configurable business
	// rule.
	TypeRuleTrigger Type = "RULE_TRIGGER"
)

// Evidence carries the supporting data behind a finding. Key() derives the
// evidence key used for idempotent threat writes.
type Evidence struct {
	// MatchedRecordID is the counterpart record for duplicate and similarity
	// findings.
	MatchedRecordID string `json:"matched_record_id,omitempty"`

	// MatchedTransactionID is the counterpart's transaction id, for display.
	MatchedTransactionID string `json:"matched_transaction_id,omitempty"`

	// RuleID identifies the triggered rule for rule findings.
	RuleID string `json:"rule_id,omitempty"`

	// Similarity is the cosine similarity for similarity findings.
	Similarity float64 `json:"similarity,omitempty"`

	// Scope is "local" or "global" for similarity findings.
	Scope string `json:"scope,omitempty"`

	// AmountDeltaCents is the minor-unit amount gap for canonical duplicates.
	AmountDeltaCents *int64 `json:"amount_delta_cents,omitempty"`

	// TimeDeltaSeconds is the timestamp gap for canonical duplicates. Nil
	// when a timestamp was missing on either side.
	TimeDeltaSeconds *float64 `json:"time_delta_seconds,omitempty"`

	// AnomalyScore is the batch-relative amount outlier score attached as
	// supplementary evidence. Nil when the signal was absent.
	AnomalyScore *float64 `json:"anomaly_score,omitempty"`
}

// Key returns the evidence key for idempotent upserts, per finding type.
func (e Evidence) Key(t Type) string {
	switch t {
	case TypeDupInBatchTxID, TypeDupInDBTxID, TypeDupInBatchCanonical, TypeDupInDBCanonical:
		return e.MatchedRecordID
	case TypeSimilarityMatch:
		return e.Scope + ":" + e.MatchedRecordID
	case TypeRuleTrigger:
		return e.RuleID
	default:
		return ""
	}
}

// Finding is a single typed, scored detection result attached to one record.
// Findings are created fresh per pipeline run and never mutated.
type Finding struct {
	ID          string   `json:"id"`
	RecordID    string   `json:"record_id"`
	Type        Type     `json:"type"`
	Confidence  float64  `json:"confidence"`
	Description string   `json:"description"`
	Evidence    Evidence `json:"evidence"`
}

// DedupKey identifies a finding for idempotent persistence:
// (record id, threat type, evidence key).
func (f Finding) DedupKey() string {
	return fmt.Sprintf("%s|%s|%s", f.RecordID, f.Type, f.Evidence.Key(f.Type))
}

// DuplicateSignal is one candidate duplicate pair from the detector.
type DuplicateSignal struct {
	// RecordID is the batch record carrying the finding.
	RecordID string

	// CounterpartID is the matched record (co-batch or persisted).
	CounterpartID string

	CounterpartTxID string

	Type Type

	// AmountDeltaCents is the absolute minor-unit gap between the two
	// amounts. Nil when either amount is unknown (txid matches).
	AmountDeltaCents *int64

	// TimeDelta is the absolute timestamp gap. Nil when either timestamp is
	// missing, which the closeness check treats permissively.
	TimeDelta *time.Duration
}

// SimilaritySignal is one neighbor above the suspicion threshold.
type SimilaritySignal struct {
	RecordID        string
	MatchedRecordID string
	Scope           string
	Similarity      float64
}

// RuleSignal is one triggered rule for one record.
type RuleSignal struct {
	RecordID string
	RuleID   string
	RuleKind string

	// Confidence overrides the per-kind default when positive.
	Confidence float64

	Description string
}
