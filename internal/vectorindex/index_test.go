package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/config"
	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/record"
)

func testIndex(t *testing.T) (*Index, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	ix := NewIndex(store, config.SimilarityConfig{
		SuspicionThreshold: 0.70,
		DuplicateThreshold: 0.82,
		TopK:               5,
	}, zap.NewNop())
	return ix, store
}

func rec(id, company string, vec []float32) *record.Record {
	return &record.Record{ID: id, CompanyID: company, Embedding: vec, RawText: "txn " + id}
}

func TestIndexAddSkipsMissingEmbeddings(t *testing.T) {
	ix, store := testIndex(t)

	err := ix.Add(context.Background(), []*record.Record{
		rec("with", "co", []float32{1, 0}),
		rec("without", "co", nil),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
}

func TestSearchExcludesSelfAndBelowThreshold(t *testing.T) {
	ix, _ := testIndex(t)
	ctx := context.Background()

	self := rec("self", "co", []float32{1, 0})
	twin := rec("twin", "co", []float32{1, 0.02})
	unrelated := rec("unrelated", "co", []float32{0, 1})
	require.NoError(t, ix.Add(ctx, []*record.Record{self, twin, unrelated}))

	signals, err := ix.Search(ctx, self, ScopeLocal)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, "self", signals[0].RecordID)
	assert.Equal(t, "twin", signals[0].MatchedRecordID)
	assert.Equal(t, string(ScopeLocal), signals[0].Scope)
	assert.GreaterOrEqual(t, signals[0].Similarity, 0.70)
}

func TestSearchNoEmbeddingReturnsNothing(t *testing.T) {
	ix, _ := testIndex(t)

	signals, err := ix.Search(context.Background(), rec("bare", "co", nil), ScopeLocal)
	require.NoError(t, err)
	assert.Nil(t, signals)
}

func TestSearchRespectsTopKAfterSelfExclusion(t *testing.T) {
	store := NewMemoryStore()
	ix := NewIndex(store, config.SimilarityConfig{
		SuspicionThreshold: 0.5,
		TopK:               2,
	}, zap.NewNop())
	ctx := context.Background()

	target := rec("target", "co", []float32{1, 0})
	recs := []*record.Record{
		target,
		rec("n1", "co", []float32{1, 0.01}),
		rec("n2", "co", []float32{1, 0.02}),
		rec("n3", "co", []float32{1, 0.03}),
	}
	require.NoError(t, ix.Add(ctx, recs))

	signals, err := ix.Search(ctx, target, ScopeLocal)
	require.NoError(t, err)
	assert.Len(t, signals, 2)
	for _, s := range signals {
		assert.NotEqual(t, "target", s.MatchedRecordID)
	}
}

func TestSearchGlobalScopeCrossesCompanies(t *testing.T) {
	ix, _ := testIndex(t)
	ctx := context.Background()

	mine := rec("mine", "co-1", []float32{1, 0})
	other := rec("other", "co-2", []float32{1, 0.01})
	require.NoError(t, ix.Add(ctx, []*record.Record{mine, other}))

	local, err := ix.Search(ctx, mine, ScopeLocal)
	require.NoError(t, err)
	assert.Empty(t, local)

	global, err := ix.Search(ctx, mine, ScopeGlobal)
	require.NoError(t, err)
	require.Len(t, global, 1)
	assert.Equal(t, "other", global[0].MatchedRecordID)
}
