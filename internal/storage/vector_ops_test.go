package storage

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/dshills/highlight-search/pkg/types"
)

// TestVectorSearchOptimization verifies that SQL ranking matches the Go fallback
func TestVectorSearchOptimization(t *testing.T) {
	if !VectorExtensionAvailable {
		t.Skip("Skipping test: sqlite-vec extension not available")
	}

	storage := setupTestDB(t)
	ctx := context.Background()

	for i := int64(1); i <= 20; i++ {
		rec := bookmark(i, "alice", fmt.Sprintf("vector doc %d", i), types.VisibilityPrivate)
		_, err := storage.UpsertEntry(ctx, rec)
		require.NoError(t, err)

		v := make([]float32, types.EmbeddingDimension)
		for j := range v {
			v[j] = float32(math.Sin(float64(i*int64(j+1)) * 0.01))
		}
		_, err = storage.SetEmbedding(ctx, rec.Key(), rec.Content, v)
		require.NoError(t, err)
	}

	query := make([]float32, types.EmbeddingDimension)
	for i := range query {
		query[i] = float32(i) * 0.01
	}

	testCases := []struct {
		name string
		q    SemanticQuery
	}{
		{"no threshold", SemanticQuery{Vector: query, Filter: everyone("alice"), MinSimilarity: -1, Limit: 10}},
		{"with threshold", SemanticQuery{Vector: query, Filter: everyone("alice"), MinSimilarity: 0.2, Limit: 10}},
		{"other caller", SemanticQuery{Vector: query, Filter: everyone("bob"), MinSimilarity: -1, Limit: 10}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			optimized, err := searchVectorOptimized(ctx, storage.DB(), tc.q)
			require.NoError(t, err)
			fallback, err := searchVectorFallback(ctx, storage.DB(), tc.q)
			require.NoError(t, err)

			require.Len(t, optimized, len(fallback))
			for i := range optimized {
				assert.Equal(t, fallback[i].Ref, optimized[i].Ref, "rank %d", i)
				assert.InDelta(t, fallback[i].Score, optimized[i].Score, 1e-4)
			}
		})
	}
}

func TestSerializeVector(t *testing.T) {
	assert.Nil(t, deserializeVector(nil))
	assert.Empty(t, serializeVector(nil))

	rapid.Check(t, func(rt *rapid.T) {
		v := rapid.SliceOf(rapid.Float32()).Draw(rt, "vector")
		got := deserializeVector(serializeVector(v))
		if len(v) == 0 {
			return
		}
		for i := range v {
			if math.Float32bits(v[i]) != math.Float32bits(got[i]) {
				rt.Fatalf("element %d: got %v, want %v", i, got[i], v[i])
			}
		}
	})
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, cosineSimilarity([]float32{0, 0}, []float32{1, 1}))
	assert.Zero(t, cosineSimilarity([]float32{1}, []float32{1, 1}))
}

func TestNormalizeBM25(t *testing.T) {
	assert.Equal(t, 1.0, normalizeBM25(0))
	assert.Greater(t, normalizeBM25(-1), normalizeBM25(-10), "better bm25 must normalize higher")
	assert.Greater(t, normalizeBM25(-1000), 0.0)
}

func TestSortHits(t *testing.T) {
	ref := func(typ types.EntityType, id int64) types.EntityRef { return types.EntityRef{Type: typ, ID: id} }
	hits := []Hit{
		{Ref: ref(types.EntityHighlight, 2), Score: 0.5, CreatedAt: baseTime},
		{Ref: ref(types.EntityBookmark, 9), Score: 0.5, CreatedAt: baseTime},
		{Ref: ref(types.EntityBookmark, 1), Score: 0.5, CreatedAt: baseTime.Add(1)},
		{Ref: ref(types.EntityComment, 3), Score: 0.9, CreatedAt: baseTime},
		{Ref: ref(types.EntityBookmark, 4), Score: 0.5, CreatedAt: baseTime},
	}
	sortHits(hits)

	want := []types.EntityRef{
		ref(types.EntityComment, 3),
		ref(types.EntityBookmark, 1),
		ref(types.EntityBookmark, 4),
		ref(types.EntityBookmark, 9),
		ref(types.EntityHighlight, 2),
	}
	got := make([]types.EntityRef, len(hits))
	for i, h := range hits {
		got[i] = h.Ref
	}
	assert.Equal(t, want, got)
}

func TestFTSMatchQuery(t *testing.T) {
	tests := map[string]string{
		"paul graham":           `"paul" "graham"`,
		`"read*" OR NOT x`:      `"read" "OR" "NOT" "x"`,
		"paulgraham.com":        `"paulgraham" "com"`,
		"  ":                    "",
		"-- ; DROP TABLE":       `"DROP" "TABLE"`,
		"café naïve 2024":       `"café" "naïve" "2024"`,
		`col:value ^start NEAR`: `"col" "value" "start" "NEAR"`,
	}
	for in, want := range tests {
		assert.Equal(t, want, ftsMatchQuery(in), "ftsMatchQuery(%q)", in)
	}
}
