package embedder

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/dshills/highlight-search/pkg/types"
)

func TestComputeHash(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "empty string",
			text: "",
			want: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			name: "simple text",
			text: "hello world",
			want: "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeHash(tt.text); got != tt.want {
				t.Errorf("ComputeHash() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     EmbeddingRequest
		wantErr error
	}{
		{name: "valid request", req: EmbeddingRequest{Text: "How to Read"}},
		{name: "empty text", req: EmbeddingRequest{Text: ""}, wantErr: ErrEmptyText},
		{name: "whitespace only", req: EmbeddingRequest{Text: " \n\t"}, wantErr: ErrEmptyText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateRequest(tt.req); !errors.Is(err, tt.wantErr) && err != tt.wantErr {
				t.Errorf("ValidateRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateBatchRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     BatchEmbeddingRequest
		wantErr bool
	}{
		{name: "valid batch", req: BatchEmbeddingRequest{Texts: []string{"a", "b"}}},
		{name: "empty batch", req: BatchEmbeddingRequest{}, wantErr: true},
		{name: "contains blank text", req: BatchEmbeddingRequest{Texts: []string{"a", "  "}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBatchRequest(tt.req)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBatchRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidInput) {
				t.Errorf("ValidateBatchRequest() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestCache(t *testing.T) {
	t.Run("get returns a copy", func(t *testing.T) {
		cache := NewCache(4)
		cache.Set("k", &Embedding{Vector: []float32{1, 2, 3}, Dimension: 3})

		got, ok := cache.Get("k")
		if !ok {
			t.Fatal("expected cache hit")
		}
		got.Vector[0] = 42

		again, _ := cache.Get("k")
		if again.Vector[0] != 1 {
			t.Errorf("cached vector was mutated: %v", again.Vector)
		}
	})

	t.Run("lru eviction", func(t *testing.T) {
		cache := NewCache(2)
		cache.Set("a", &Embedding{Vector: []float32{1}})
		cache.Set("b", &Embedding{Vector: []float32{2}})
		cache.Set("c", &Embedding{Vector: []float32{3}})

		if cache.Size() != 2 {
			t.Errorf("Size() = %d, want 2", cache.Size())
		}
		if _, ok := cache.Get("a"); ok {
			t.Error("oldest entry should have been evicted")
		}

		cache.Clear()
		if cache.Size() != 0 {
			t.Errorf("Size() after Clear = %d", cache.Size())
		}
	})

	t.Run("non-positive size uses default", func(t *testing.T) {
		cache := NewCache(0)
		cache.Set("x", &Embedding{})
		if cache.Size() != 1 {
			t.Errorf("Size() = %d, want 1", cache.Size())
		}
	})

	t.Run("concurrent access", func(t *testing.T) {
		cache := NewCache(100)
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					key := ComputeHash(string(rune('a' + n)))
					cache.Set(key, &Embedding{Vector: []float32{float32(j)}})
					_, _ = cache.Get(key)
				}
			}(i)
		}
		wg.Wait()

		if cache.Size() == 0 {
			t.Error("Cache is empty after concurrent operations")
		}
	})
}

func TestLocalProvider(t *testing.T) {
	provider := mustNewLocalProvider(t)

	t.Run("provider metadata", func(t *testing.T) {
		if provider.Provider() != ProviderLocal {
			t.Errorf("Provider() = %s, want %s", provider.Provider(), ProviderLocal)
		}
		if provider.Dimension() != LocalDimension {
			t.Errorf("Dimension() = %d, want %d", provider.Dimension(), LocalDimension)
		}
	})

	t.Run("deterministic unit vectors", func(t *testing.T) {
		ctx := context.Background()
		a, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "paul graham essays"})
		if err != nil {
			t.Fatalf("GenerateEmbedding() error = %v", err)
		}
		fresh := mustNewLocalProvider(t)
		b, err := fresh.GenerateEmbedding(ctx, EmbeddingRequest{Text: "paul graham essays"})
		if err != nil {
			t.Fatalf("GenerateEmbedding() error = %v", err)
		}

		if len(a.Vector) != LocalDimension {
			t.Fatalf("dimension = %d, want %d", len(a.Vector), LocalDimension)
		}
		for i := range a.Vector {
			if a.Vector[i] != b.Vector[i] {
				t.Fatalf("vectors differ at %d", i)
			}
		}

		var norm float64
		for _, v := range a.Vector {
			norm += float64(v * v)
		}
		if math.Abs(norm-1) > 1e-4 {
			t.Errorf("norm^2 = %f, want 1", norm)
		}
	})

	t.Run("different texts differ", func(t *testing.T) {
		ctx := context.Background()
		a, _ := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "alpha"})
		b, _ := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "beta"})
		same := true
		for i := range a.Vector {
			if a.Vector[i] != b.Vector[i] {
				same = false
				break
			}
		}
		if same {
			t.Error("distinct texts produced identical vectors")
		}
	})

	t.Run("batch preserves order", func(t *testing.T) {
		ctx := context.Background()
		resp, err := provider.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"one", "two", "three"}})
		if err != nil {
			t.Fatalf("GenerateBatch() error = %v", err)
		}
		for i, text := range []string{"one", "two", "three"} {
			if resp.Embeddings[i].Hash != ComputeHash(text) {
				t.Errorf("embedding %d is not for %q", i, text)
			}
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "never cached"}); err == nil {
			t.Error("expected error for cancelled context")
		}
	})
}

func TestNormalizeVector(t *testing.T) {
	got := NormalizeVector([]float32{3, 4})
	if math.Abs(float64(got[0])-0.6) > 1e-6 || math.Abs(float64(got[1])-0.8) > 1e-6 {
		t.Errorf("NormalizeVector() = %v, want [0.6 0.8]", got)
	}

	zero := NormalizeVector([]float32{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("zero vector changed: %v", zero)
	}
}

func TestEmbedding_Usable(t *testing.T) {
	var missing *Embedding
	if missing.Usable() {
		t.Error("nil embedding reported usable")
	}
	if (&Embedding{Vector: make([]float32, 3)}).Usable() {
		t.Error("short vector reported usable")
	}
	if !(&Embedding{Vector: make([]float32, types.EmbeddingDimension)}).Usable() {
		t.Error("full-size vector reported unusable")
	}
}
