package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "sub", "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"empty", []float32{}, []float32{}, 0.0},
		{"mismatched", []float32{1, 2}, []float32{1, 2, 3}, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, cosine(tt.a, tt.b), 0.001)
		})
	}
}

func TestVectorEncoding(t *testing.T) {
	in := []float32{0.25, -1.5, 3}
	assert.Equal(t, in, decodeVector(encodeVector(in)))
}

func TestSQLiteStore_RecallTopKAboveThreshold(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.Remember(ctx, Episodic, Snippet{Content: "exact"}, []float32{1, 0}))
	require.NoError(t, store.Remember(ctx, Episodic, Snippet{Content: "close"}, []float32{1, 0.2}))
	require.NoError(t, store.Remember(ctx, Episodic, Snippet{Content: "far"}, []float32{0, 1}))
	require.NoError(t, store.Remember(ctx, Declarative, Snippet{Content: "other class"}, []float32{1, 0}))

	got, err := store.Recall(ctx, Episodic, RecallConfig{K: 3, Threshold: 0.7, Embedding: []float32{1, 0}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "exact", got[0].Content)
	assert.Equal(t, "close", got[1].Content)
	assert.GreaterOrEqual(t, got[0].Score, got[1].Score)

	got, err = store.Recall(ctx, Episodic, RecallConfig{K: 1, Threshold: 0, Embedding: []float32{1, 0}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "exact", got[0].Content)
}

func TestSQLiteStore_RecallWithoutEmbedding(t *testing.T) {
	store := openTestStore(t)
	got, err := store.Recall(context.Background(), Episodic, RecallConfig{K: 3})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteStore_Conditions(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.Remember(ctx, Declarative, Snippet{
		Content:  "from the manual",
		Metadata: Metadata{Source: "manual.pdf"},
	}, []float32{1, 0}))
	require.NoError(t, store.Remember(ctx, Declarative, Snippet{
		Content:  "from the faq",
		Metadata: Metadata{Source: "faq.md", Extra: map[string]string{"lang": "en"}},
	}, []float32{1, 0}))

	got, err := store.Recall(ctx, Declarative, RecallConfig{
		K: 5, Embedding: []float32{1, 0}, Conditions: map[string]string{"source": "manual.pdf"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "manual.pdf", got[0].Metadata.Source)

	got, err = store.Recall(ctx, Declarative, RecallConfig{
		K: 5, Embedding: []float32{1, 0}, Conditions: map[string]string{"lang": "en"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "from the faq", got[0].Content)
}

func TestSQLiteStore_MetadataRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	when := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Remember(ctx, Episodic, Snippet{ID: "m1", Content: "hi", Metadata: Metadata{When: when}}, []float32{1}))
	// Replacing by ID keeps a single row.
	require.NoError(t, store.Remember(ctx, Episodic, Snippet{ID: "m1", Content: "hello", Metadata: Metadata{When: when}}, []float32{1}))

	n, err := store.Count(ctx, Episodic)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.Recall(ctx, Episodic, RecallConfig{K: 1, Embedding: []float32{1}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Content)
	assert.True(t, when.Equal(got[0].Metadata.When))
}

func TestSQLiteStore_Deletes(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	old := time.Now().Add(-48 * time.Hour)

	require.NoError(t, store.Remember(ctx, Episodic, Snippet{Content: "old", Metadata: Metadata{When: old}}, []float32{1}))
	require.NoError(t, store.Remember(ctx, Episodic, Snippet{Content: "new", Metadata: Metadata{When: time.Now()}}, []float32{1}))
	require.NoError(t, store.Remember(ctx, Procedural, Snippet{Content: "tool"}, []float32{1}))

	removed, err := store.DeleteBefore(ctx, Episodic, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	require.NoError(t, store.DeleteCollection(ctx, Procedural))
	n, err := store.Count(ctx, Procedural)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteStore_RememberRejectsEmptyEmbedding(t *testing.T) {
	store := openTestStore(t)
	err := store.Remember(context.Background(), Episodic, Snippet{Content: "x"}, nil)
	assert.Error(t, err)
}
