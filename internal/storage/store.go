// Package storage defines the persisted record and threat store interfaces
// the pipeline consumes, plus an in-memory implementation.
//
// The pipeline only reads records for duplicate lookups and, at the very end
// of a run, writes the finalized finding set. Persistence engine internals
// live elsewhere; implementations can use SQL, a document store, or memory.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/record"
	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/threat"
)

// ErrUnavailable indicates the store could not execute a lookup or write.
// Fatal for the whole run: duplicate detection must not silently produce
// false negatives.
var ErrUnavailable = errors.New("record store unavailable")

// RecordStore reads persisted records for duplicate lookups.
type RecordStore interface {
	// FindByTransactionID returns persisted records for the company sharing
	// the transaction id.
	FindByTransactionID(ctx context.Context, companyID, txID string) ([]*record.Record, error)

	// FindByCanonicalKey returns persisted candidate duplicates for the
	// company: same normalized partner and currency, amount within
	// amountTolerance minor units of the key's, timestamp within window of
	// the key's day bucket or missing on either side.
	FindByCanonicalKey(ctx context.Context, companyID string, key record.CanonicalKey, amountTolerance int64, window time.Duration) ([]*record.Record, error)
}

// ThreatWriter persists finalized findings. SaveThreats is an idempotent
// upsert keyed by (record id, threat type, evidence key) so re-runs under
// at-least-once semantics do not duplicate findings.
type ThreatWriter interface {
	SaveThreats(ctx context.Context, findings []threat.Finding) error
}

// Store combines the read and write surfaces the pipeline needs.
type Store interface {
	RecordStore
	ThreatWriter

	// SaveRecords persists screened batch records, making them visible to
	// future runs' duplicate lookups.
	SaveRecords(ctx context.Context, records []*record.Record) error
}
