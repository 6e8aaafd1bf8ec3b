package storage

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/dshills/highlight-search/pkg/types"
)

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	if len(blob) == 0 {
		return nil
	}
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// validateVector rejects vectors that do not fit the embedding column
func validateVector(vector []float32) error {
	if len(vector) != types.EmbeddingDimension {
		return fmt.Errorf("%w: got %d, want %d", types.ErrDimension, len(vector), types.EmbeddingDimension)
	}
	return nil
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// normalizeBM25 maps an FTS5 bm25 score (negative, lower is better) into (0, 1]
func normalizeBM25(score float64) float64 {
	return 1.0 / (1.0 + math.Abs(score)/50.0)
}

// sortHits orders hits by score descending, then newest first, then by key
func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return newerFirst(hits[i], hits[j])
	})
}

// SortHits orders hits in place the way lexical queries do: by score for
// SortRelevance, by creation time for SortCreated.
func SortHits(hits []Hit, by SortOrder) {
	if by == SortCreated {
		sort.SliceStable(hits, func(i, j int) bool {
			return newerFirst(hits[i], hits[j])
		})
		return
	}
	sortHits(hits)
}

// newerFirst is the deterministic tie-break shared by every ordering
func newerFirst(a, b Hit) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	if a.Ref.Type != b.Ref.Type {
		return a.Ref.Type < b.Ref.Type
	}
	return a.Ref.ID < b.Ref.ID
}

// queryTerms splits a free-text query into letter/digit runs
func queryTerms(query string) []string {
	return strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ftsMatchQuery builds an FTS5 MATCH expression requiring every term.
// Terms are quoted so operators and syntax characters in user input are inert.
func ftsMatchQuery(query string) string {
	terms := queryTerms(query)
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " ")
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineSimilarity returns the cosine similarity of two equal-length vectors
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
