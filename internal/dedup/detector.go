// Package dedup finds exact and near-exact duplicate transaction records
// within a batch and against the persisted record store.
package dedup

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/record"
	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/storage"
	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/threat"
)

// Config holds duplicate detection tolerances.
type Config struct {
	// TimestampTolerance is the maximum timestamp gap for canonical-key
	// candidates.
	TimestampTolerance time.Duration

	// AmountToleranceCents is the allowed minor-unit amount gap for
	// canonical-key candidates.
	AmountToleranceCents int64
}

// Detector produces candidate duplicate pairs for a batch.
type Detector struct {
	cfg    Config
	store  storage.RecordStore
	logger *zap.Logger
}

// NewDetector creates a detector reading persisted records from store.
func NewDetector(cfg Config, store storage.RecordStore, logger *zap.Logger) *Detector {
	return &Detector{cfg: cfg, store: store, logger: logger.Named("dedup")}
}

// Detect returns duplicate signals for the batch: txid and canonical-key
// matches, both in-batch and against the store. A store error aborts
// detection; a silent false negative is worse than a failed run.
//
// Batch-internal comparison is sub-quadratic: records are grouped by
// transaction id and by (partner, amount, currency) and only compared within
// groups.
func (d *Detector) Detect(ctx context.Context, records []*record.Record) ([]threat.DuplicateSignal, error) {
	signals := d.detectInBatch(records)

	// Pairs already matched by txid are not re-flagged by canonical match.
	txidPairs := make(map[string]bool)
	for _, sig := range signals {
		if sig.Type == threat.TypeDupInBatchTxID {
			txidPairs[pairKey(sig.RecordID, sig.CounterpartID)] = true
		}
	}

	storeSignals, err := d.detectAgainstStore(ctx, records)
	if err != nil {
		return nil, err
	}

	for _, sig := range storeSignals {
		if sig.Type == threat.TypeDupInDBCanonical && txidPairs[pairKey(sig.RecordID, sig.CounterpartID)] {
			continue
		}
		if sig.Type == threat.TypeDupInDBTxID {
			txidPairs[pairKey(sig.RecordID, sig.CounterpartID)] = true
		}
		signals = append(signals, sig)
	}

	d.logger.Debug("duplicate detection complete",
		zap.Int("records", len(records)),
		zap.Int("signals", len(signals)))

	return signals, nil
}

// detectInBatch finds duplicate pairs inside the batch.
func (d *Detector) detectInBatch(records []*record.Record) []threat.DuplicateSignal {
	var signals []threat.DuplicateSignal

	// Identical transaction ids.
	byTxID := make(map[string][]*record.Record)
	for _, r := range records {
		byTxID[r.TransactionID] = append(byTxID[r.TransactionID], r)
	}

	txidFlagged := make(map[string]bool)
	for _, group := range byTxID {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				signals = append(signals, threat.DuplicateSignal{
					RecordID:        group[j].ID,
					CounterpartID:   group[i].ID,
					CounterpartTxID: group[i].TransactionID,
					Type:            threat.TypeDupInBatchTxID,
				})
				txidFlagged[pairKey(group[i].ID, group[j].ID)] = true
			}
		}
	}

	// Canonical-key matches: group by (partner, currency), sort each group
	// by amount, and compare only inside the sliding window where amounts
	// sit within tolerance. Records without a known amount cannot be
	// confirmed as duplicates and are skipped. The day bucket is
	// deliberately absent from the group key so that a missing timestamp
	// does not block the match.
	byKey := make(map[string][]*record.Record)
	for _, r := range records {
		if r.MinorUnits == nil {
			continue
		}
		key := r.Partner + "|" + r.Currency
		byKey[key] = append(byKey[key], r)
	}

	for _, group := range byKey {
		sort.Slice(group, func(i, j int) bool {
			return *group[i].MinorUnits < *group[j].MinorUnits
		})
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				if *b.MinorUnits-*a.MinorUnits > d.cfg.AmountToleranceCents {
					break // sorted: no further record can be within tolerance
				}
				if a.TransactionID == b.TransactionID {
					continue // already a txid pair
				}
				if txidFlagged[pairKey(a.ID, b.ID)] {
					continue
				}
				if !d.timestampsClose(a.Timestamp, b.Timestamp) {
					continue
				}
				signals = append(signals, threat.DuplicateSignal{
					RecordID:         b.ID,
					CounterpartID:    a.ID,
					CounterpartTxID:  a.TransactionID,
					Type:             threat.TypeDupInBatchCanonical,
					AmountDeltaCents: amountDelta(a, b),
					TimeDelta:        timeDelta(a.Timestamp, b.Timestamp),
				})
			}
		}
	}

	return signals
}

// detectAgainstStore finds duplicates of batch records in the persisted
// store.
func (d *Detector) detectAgainstStore(ctx context.Context, records []*record.Record) ([]threat.DuplicateSignal, error) {
	var signals []threat.DuplicateSignal

	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		matches, err := d.store.FindByTransactionID(ctx, r.CompanyID, r.TransactionID)
		if err != nil {
			return nil, fmt.Errorf("%w: transaction id lookup for %s: %v", storage.ErrUnavailable, r.TransactionID, err)
		}

		txidCounterparts := make(map[string]bool)
		for _, m := range matches {
			if m.ID == r.ID || m.BatchID == r.BatchID {
				// The record itself, or a batch sibling already compared
				// in-batch. Replayed batches hit this path too.
				continue
			}
			txidCounterparts[m.ID] = true
			signals = append(signals, threat.DuplicateSignal{
				RecordID:        r.ID,
				CounterpartID:   m.ID,
				CounterpartTxID: m.TransactionID,
				Type:            threat.TypeDupInDBTxID,
			})
		}

		key, ok := r.CanonicalKey()
		if !ok {
			continue // unknown amount: cannot confirm a canonical duplicate
		}

		candidates, err := d.store.FindByCanonicalKey(ctx, r.CompanyID, key, d.cfg.AmountToleranceCents, d.cfg.TimestampTolerance)
		if err != nil {
			return nil, fmt.Errorf("%w: canonical key lookup for %s: %v", storage.ErrUnavailable, r.TransactionID, err)
		}

		for _, m := range candidates {
			if m.ID == r.ID || m.BatchID == r.BatchID || m.TransactionID == r.TransactionID || txidCounterparts[m.ID] {
				continue
			}
			if !d.amountsWithinTolerance(r, m) {
				continue
			}
			if !d.timestampsClose(r.Timestamp, m.Timestamp) {
				continue
			}
			signals = append(signals, threat.DuplicateSignal{
				RecordID:         r.ID,
				CounterpartID:    m.ID,
				CounterpartTxID:  m.TransactionID,
				Type:             threat.TypeDupInDBCanonical,
				AmountDeltaCents: amountDelta(r, m),
				TimeDelta:        timeDelta(r.Timestamp, m.Timestamp),
			})
		}
	}

	return signals, nil
}

// amountsWithinTolerance reports whether both amounts are known and within
// the configured gap. An unknown amount on either side means the match
// cannot be confirmed.
func (d *Detector) amountsWithinTolerance(a, b *record.Record) bool {
	if a.MinorUnits == nil || b.MinorUnits == nil {
		return false
	}
	delta := *a.MinorUnits - *b.MinorUnits
	if delta < 0 {
		delta = -delta
	}
	return delta <= d.cfg.AmountToleranceCents
}

// timestampsClose reports whether two timestamps are within tolerance. A
// missing timestamp on either side cannot disprove closeness and does not
// block the match.
func (d *Detector) timestampsClose(a, b *time.Time) bool {
	if a == nil || b == nil {
		return true
	}
	gap := a.Sub(*b)
	if gap < 0 {
		gap = -gap
	}
	return gap <= d.cfg.TimestampTolerance
}

func amountDelta(a, b *record.Record) *int64 {
	if a.MinorUnits == nil || b.MinorUnits == nil {
		return nil
	}
	delta := *a.MinorUnits - *b.MinorUnits
	if delta < 0 {
		delta = -delta
	}
	return &delta
}

func timeDelta(a, b *time.Time) *time.Duration {
	if a == nil || b == nil {
		return nil
	}
	gap := a.Sub(*b)
	if gap < 0 {
		gap = -gap
	}
	return &gap
}

func pairKey(a, b string) string {
	if a < b {
		return a + "|" + b
	}
	return b + "|" + a
}
