package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/record"
	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/storage"
	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/threat"
)

func testDetector(store storage.RecordStore) *Detector {
	return NewDetector(Config{
		TimestampTolerance:   30 * time.Second,
		AmountToleranceCents: 0,
	}, store, zap.NewNop())
}

func rec(id, txID, partner string, minor *int64, ts *time.Time) *record.Record {
	return &record.Record{
		ID:            id,
		CompanyID:     "co-1",
		BatchID:       "batch-1",
		TransactionID: txID,
		Partner:       partner,
		MinorUnits:    minor,
		Currency:      "USD",
		Timestamp:     ts,
	}
}

func at(t *testing.T, s string) *time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return &ts
}

func minor(v int64) *int64 { return &v }

func TestDetectTxIDInBatch(t *testing.T) {
	d := testDetector(storage.NewMemoryStore())

	// Records #1 and #3 share a transaction id.
	records := []*record.Record{
		rec("r1", "TX1014", "acme", minor(1000), at(t, "2026-01-15T10:00:00Z")),
		rec("r2", "TX2000", "globex", minor(2000), at(t, "2026-01-15T10:01:00Z")),
		rec("r3", "TX1014", "acme", minor(1000), at(t, "2026-01-15T10:02:00Z")),
	}

	signals, err := d.Detect(context.Background(), records)
	require.NoError(t, err)

	require.Len(t, signals, 1)
	assert.Equal(t, threat.TypeDupInBatchTxID, signals[0].Type)
	assert.Equal(t, "r3", signals[0].RecordID)
	assert.Equal(t, "r1", signals[0].CounterpartID)
	assert.Equal(t, "TX1014", signals[0].CounterpartTxID)
}

func TestDetectCanonicalInBatch(t *testing.T) {
	d := testDetector(storage.NewMemoryStore())

	records := []*record.Record{
		rec("r1", "TX1", "acme", minor(5000), at(t, "2026-01-15T10:00:00Z")),
		rec("r2", "TX2", "acme", minor(5000), at(t, "2026-01-15T10:00:20Z")),
	}

	signals, err := d.Detect(context.Background(), records)
	require.NoError(t, err)

	require.Len(t, signals, 1)
	assert.Equal(t, threat.TypeDupInBatchCanonical, signals[0].Type)
	require.NotNil(t, signals[0].TimeDelta)
	assert.Equal(t, 20*time.Second, *signals[0].TimeDelta)
	require.NotNil(t, signals[0].AmountDeltaCents)
	assert.Equal(t, int64(0), *signals[0].AmountDeltaCents)
}

func TestDetectCanonicalTimestampTolerance(t *testing.T) {
	d := testDetector(storage.NewMemoryStore())

	// Timestamps 31s apart: outside the 30s tolerance, no finding.
	records := []*record.Record{
		rec("r1", "TX1", "acme", minor(5000), at(t, "2026-01-15T10:00:00Z")),
		rec("r2", "TX2", "acme", minor(5000), at(t, "2026-01-15T10:00:31Z")),
	}

	signals, err := d.Detect(context.Background(), records)
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestDetectCanonicalMissingTimestampIsPermissive(t *testing.T) {
	d := testDetector(storage.NewMemoryStore())

	// A missing timestamp cannot disprove closeness: the match proceeds.
	records := []*record.Record{
		rec("r1", "TX1", "acme", minor(5000), at(t, "2026-01-15T10:00:00Z")),
		rec("r2", "TX2", "acme", minor(5000), nil),
	}

	signals, err := d.Detect(context.Background(), records)
	require.NoError(t, err)

	require.Len(t, signals, 1)
	assert.Equal(t, threat.TypeDupInBatchCanonical, signals[0].Type)
	assert.Nil(t, signals[0].TimeDelta)
}

func TestDetectNullAmountCannotConfirmDuplicate(t *testing.T) {
	d := testDetector(storage.NewMemoryStore())

	records := []*record.Record{
		rec("r1", "TX1", "acme", nil, at(t, "2026-01-15T10:00:00Z")),
		rec("r2", "TX2", "acme", nil, at(t, "2026-01-15T10:00:01Z")),
	}

	signals, err := d.Detect(context.Background(), records)
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestDetectCrossCurrencyNeverMatches(t *testing.T) {
	d := testDetector(storage.NewMemoryStore())

	records := []*record.Record{
		rec("r1", "TX1", "acme", minor(5000), at(t, "2026-01-15T10:00:00Z")),
		func() *record.Record {
			r := rec("r2", "TX2", "acme", minor(5000), at(t, "2026-01-15T10:00:01Z"))
			r.Currency = "EUR"
			return r
		}(),
	}

	signals, err := d.Detect(context.Background(), records)
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestDetectTxIDTakesPrecedenceOverCanonical(t *testing.T) {
	d := testDetector(storage.NewMemoryStore())

	// Same txid AND same canonical key: only the txid signal is emitted.
	records := []*record.Record{
		rec("r1", "TX1", "acme", minor(5000), at(t, "2026-01-15T10:00:00Z")),
		rec("r2", "TX1", "acme", minor(5000), at(t, "2026-01-15T10:00:10Z")),
	}

	signals, err := d.Detect(context.Background(), records)
	require.NoError(t, err)

	require.Len(t, signals, 1)
	assert.Equal(t, threat.TypeDupInBatchTxID, signals[0].Type)
}

func TestDetectAgainstStore(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	hist1 := rec("hist-1", "TX1", "acme", minor(5000), at(t, "2026-01-15T10:00:00Z"))
	hist2 := rec("hist-2", "TX9", "acme", minor(7000), at(t, "2026-01-14T09:00:00Z"))
	hist1.BatchID = "batch-0"
	hist2.BatchID = "batch-0"
	require.NoError(t, store.SaveRecords(ctx, []*record.Record{hist1, hist2}))

	d := testDetector(store)

	records := []*record.Record{
		// Same txid as hist-1.
		rec("r1", "TX1", "other", minor(100), at(t, "2026-01-16T12:00:00Z")),
		// Same canonical key as hist-2, close enough in time.
		rec("r2", "TX77", "acme", minor(7000), at(t, "2026-01-14T09:00:15Z")),
	}

	signals, err := d.Detect(ctx, records)
	require.NoError(t, err)
	require.Len(t, signals, 2)

	byType := map[threat.Type]threat.DuplicateSignal{}
	for _, s := range signals {
		byType[s.Type] = s
	}

	dbTx := byType[threat.TypeDupInDBTxID]
	assert.Equal(t, "r1", dbTx.RecordID)
	assert.Equal(t, "hist-1", dbTx.CounterpartID)

	dbCanonical := byType[threat.TypeDupInDBCanonical]
	assert.Equal(t, "r2", dbCanonical.RecordID)
	assert.Equal(t, "hist-2", dbCanonical.CounterpartID)
}

type failingStore struct{}

func (failingStore) FindByTransactionID(ctx context.Context, companyID, txID string) ([]*record.Record, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) FindByCanonicalKey(ctx context.Context, companyID string, key record.CanonicalKey, amountTolerance int64, window time.Duration) ([]*record.Record, error) {
	return nil, errors.New("connection refused")
}

func TestDetectStoreFailureAbortsLoudly(t *testing.T) {
	d := testDetector(failingStore{})

	records := []*record.Record{
		rec("r1", "TX1", "acme", minor(5000), at(t, "2026-01-15T10:00:00Z")),
	}

	_, err := d.Detect(context.Background(), records)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestDetectCancelledContext(t *testing.T) {
	d := testDetector(storage.NewMemoryStore())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Detect(ctx, []*record.Record{
		rec("r1", "TX1", "acme", minor(5000), at(t, "2026-01-15T10:00:00Z")),
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDetectAmountTolerance(t *testing.T) {
	d := NewDetector(Config{
		TimestampTolerance:   30 * time.Second,
		AmountToleranceCents: 100,
	}, storage.NewMemoryStore(), zap.NewNop())

	// Amounts differ by 50 cents, within the 100-cent tolerance. Records
	// with near amounts share a (partner, currency) group via sorted-scan.
	records := []*record.Record{
		rec("r1", "TX1", "acme", minor(5000), at(t, "2026-01-15T10:00:00Z")),
		rec("r2", "TX2", "acme", minor(5050), at(t, "2026-01-15T10:00:10Z")),
	}

	signals, err := d.Detect(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	require.NotNil(t, signals[0].AmountDeltaCents)
	assert.Equal(t, int64(50), *signals[0].AmountDeltaCents)
}
