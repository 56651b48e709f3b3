package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/record"
	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/threat"
)

func storedRecord(id, companyID, txID, partner string, minor int64, ts *time.Time) *record.Record {
	return &record.Record{
		ID:            id,
		CompanyID:     companyID,
		TransactionID: txID,
		Partner:       partner,
		MinorUnits:    &minor,
		Currency:      "USD",
		Timestamp:     ts,
	}
}

func TestFindByTransactionIDScopedToCompany(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	ts := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveRecords(ctx, []*record.Record{
		storedRecord("r1", "co-1", "TX1", "acme", 100, &ts),
		storedRecord("r2", "co-2", "TX1", "acme", 100, &ts),
	}))

	got, err := store.FindByTransactionID(ctx, "co-1", "TX1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].ID)

	got, err = store.FindByTransactionID(ctx, "co-1", "TX404")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFindByCanonicalKey(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	ts := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveRecords(ctx, []*record.Record{
		storedRecord("match", "co-1", "TX1", "acme", 10000, &ts),
		storedRecord("wrong-partner", "co-1", "TX2", "globex", 10000, &ts),
		storedRecord("wrong-amount", "co-1", "TX3", "acme", 20000, &ts),
		storedRecord("no-timestamp", "co-1", "TX4", "acme", 10000, nil),
	}))

	key := record.CanonicalKey{Partner: "acme", MinorUnits: 10000, Currency: "USD", DayBucket: "2026-01-15"}
	got, err := store.FindByCanonicalKey(ctx, "co-1", key, 0, 30*time.Second)
	require.NoError(t, err)

	ids := make([]string, 0, len(got))
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	assert.Contains(t, ids, "match")
	assert.Contains(t, ids, "no-timestamp") // missing timestamp cannot disprove closeness
	assert.NotContains(t, ids, "wrong-partner")
	assert.NotContains(t, ids, "wrong-amount")
}

func TestSaveThreatsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	finding := threat.Finding{
		ID:       "f1",
		RecordID: "r1",
		Type:     threat.TypeDupInBatchTxID,
		Evidence: threat.Evidence{MatchedRecordID: "r2"},
	}

	require.NoError(t, store.SaveThreats(ctx, []threat.Finding{finding}))
	// Re-run with a new finding ID but the same dedup key.
	finding.ID = "f2"
	require.NoError(t, store.SaveThreats(ctx, []threat.Finding{finding}))

	assert.Len(t, store.Findings(), 1)
}
