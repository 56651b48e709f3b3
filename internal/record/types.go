// Package record defines the transaction record model and its normalization.
package record

import (
	"fmt"
	"time"
)

// Status tracks a record's position in the pipeline lifecycle.
//
// Records move ingested -> normalized -> screened. Screened is terminal for a
// pipeline run; reprocessing requires a new explicit run.
type Status string

const (
	StatusIngested   Status = "ingested"
	StatusNormalized Status = "normalized"
	StatusScreened   Status = "screened"
)

// Raw is a single ingested line before normalization.
//
// Amount arrives as a decimal string ("149.99") because upstream sources mix
// strings and numbers; the normalizer converts it to integer minor units.
type Raw struct {
	TransactionID string `json:"transaction_id"`
	CompanyID     string `json:"company_id"`
	Partner       string `json:"partner"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Timestamp     string `json:"timestamp"`
	Description   string `json:"description"`
	MCC           string `json:"mcc"`
	Location      string `json:"location"`
	Device        string `json:"device"`
	Channel       string `json:"channel"`
}

// Record is a normalized transaction record.
//
// Immutable after normalization except for embedding attachment and status
// transitions driven by the pipeline.
type Record struct {
	// ID uniquely identifies this record within the system. Transaction IDs
	// can collide (that is one of the duplicate signals), so findings
	// reference this ID instead.
	ID string

	CompanyID     string
	BatchID       string
	TransactionID string

	// Partner is trimmed and case-folded for comparison. DisplayPartner
	// retains the original casing.
	Partner        string
	DisplayPartner string

	// MinorUnits is the amount in integer minor units (cents). Nil means the
	// amount is unknown, which is distinct from zero.
	MinorUnits *int64

	Currency string

	// Timestamp is nil when the source value was absent or unparseable.
	Timestamp *time.Time

	MCC      string
	Location string
	Device   string
	Channel  string

	// RawText is the descriptive text used for embedding.
	RawText string

	// Embedding is nil until attached by the embedding phase. When present it
	// is complete and finite.
	Embedding []float32

	Status Status
}

// CanonicalKey is the derived equality key for non-ID duplicate matching:
// (normalized partner, amount in minor units, currency, day-bucketed
// timestamp). Records without a known amount have no canonical key.
type CanonicalKey struct {
	Partner    string
	MinorUnits int64
	Currency   string
	DayBucket  string // "2026-01-15", empty when the timestamp is unknown
}

// String renders the key for use as an evidence key in idempotent writes.
func (k CanonicalKey) String() string {
	return fmt.Sprintf("%s|%d|%s|%s", k.Partner, k.MinorUnits, k.Currency, k.DayBucket)
}

// CanonicalKey derives the record's canonical key. The second return is false
// when the amount is unknown: such records cannot be confirmed as canonical
// duplicates.
func (r *Record) CanonicalKey() (CanonicalKey, bool) {
	if r.MinorUnits == nil {
		return CanonicalKey{}, false
	}
	key := CanonicalKey{
		Partner:    r.Partner,
		MinorUnits: *r.MinorUnits,
		Currency:   r.Currency,
	}
	if r.Timestamp != nil {
		key.DayBucket = r.Timestamp.UTC().Format("2006-01-02")
	}
	return key, true
}

// EmbeddingText returns the text embedded for similarity search.
func (r *Record) EmbeddingText() string {
	if r.RawText != "" {
		return r.RawText
	}
	amount := "unknown"
	if r.MinorUnits != nil {
		amount = fmt.Sprintf("%d.%02d", *r.MinorUnits/100, abs64(*r.MinorUnits%100))
	}
	return fmt.Sprintf("%s %s %s", r.DisplayPartner, amount, r.Currency)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
