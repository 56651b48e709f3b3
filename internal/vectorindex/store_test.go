package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/config"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
		ok   bool
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0, true},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0, true},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0, true},
		{"scaled", []float32{2, 0}, []float32{5, 0}, 1.0, true},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0, false},
		{"zero norm", []float32{0, 0}, []float32{1, 0}, 0, false},
		{"empty", nil, nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Cosine(tt.a, tt.b)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

func TestCosineSymmetry(t *testing.T) {
	a := []float32{0.3, 0.5, 0.1, 0.7}
	b := []float32{0.2, 0.9, 0.4, 0.1}
	ab, ok1 := Cosine(a, b)
	ba, ok2 := Cosine(b, a)
	require.True(t, ok1)
	require.True(t, ok2)
	assert.InDelta(t, ab, ba, 1e-12)
}

func TestMemoryStoreQueryScoping(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Upsert(ctx, []Point{
		{RecordID: "mine", CompanyID: "co-1", Vector: []float32{1, 0}},
		{RecordID: "theirs", CompanyID: "co-2", Vector: []float32{1, 0.01}},
	}))

	local, err := store.Query(ctx, []float32{1, 0}, "co-1", ScopeLocal, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.Equal(t, "mine", local[0].RecordID)

	global, err := store.Query(ctx, []float32{1, 0}, "co-1", ScopeGlobal, 10, 0.5)
	require.NoError(t, err)
	assert.Len(t, global, 2)
}

func TestMemoryStoreThresholdAndRanking(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Upsert(ctx, []Point{
		{RecordID: "near", CompanyID: "co-1", Vector: []float32{1, 0.05}},
		{RecordID: "far", CompanyID: "co-1", Vector: []float32{0, 1}},
		{RecordID: "exact", CompanyID: "co-1", Vector: []float32{1, 0}},
	}))

	got, err := store.Query(ctx, []float32{1, 0}, "co-1", ScopeLocal, 10, 0.7)
	require.NoError(t, err)
	require.Len(t, got, 2, "orthogonal vector sits below the floor")
	assert.Equal(t, "exact", got[0].RecordID)
	assert.Equal(t, "near", got[1].RecordID)
	assert.Greater(t, got[0].Similarity, got[1].Similarity)
}

func TestMemoryStoreTopK(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, []Point{
		{RecordID: "a", CompanyID: "c", Vector: []float32{1, 0}},
		{RecordID: "b", CompanyID: "c", Vector: []float32{1, 0.01}},
		{RecordID: "c", CompanyID: "c", Vector: []float32{1, 0.02}},
	}))

	got, err := store.Query(ctx, []float32{1, 0}, "c", ScopeLocal, 2, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestMemoryStoreUpsertReplaces(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, []Point{{RecordID: "r", CompanyID: "c", Vector: []float32{1, 0}}}))
	require.NoError(t, store.Upsert(ctx, []Point{{RecordID: "r", CompanyID: "c", Vector: []float32{0, 1}}}))
	assert.Equal(t, 1, store.Len())

	got, err := store.Query(ctx, []float32{0, 1}, "c", ScopeLocal, 1, 0.9)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-9)
}

func TestMemoryStoreRejectsEmptyVector(t *testing.T) {
	store := NewMemoryStore()
	err := store.Upsert(context.Background(), []Point{{RecordID: "r", CompanyID: "c"}})
	assert.ErrorIs(t, err, ErrInvalidVector)
}

func TestNewStoreBackendSelection(t *testing.T) {
	s, err := NewStore(config.VectorConfig{Backend: config.VectorBackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = NewStore(config.VectorConfig{Backend: "faiss"})
	assert.Error(t, err)
}
