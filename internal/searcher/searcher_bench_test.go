package searcher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dshills/highlight-search/internal/storage"
	"github.com/dshills/highlight-search/pkg/types"
)

func BenchmarkApplyRRF(b *testing.B) {
	lexical := make([]storage.Hit, 1000)
	semantic := make([]storage.Hit, DefaultSemanticCandidates)
	for i := range lexical {
		lexical[i] = storage.Hit{Ref: types.EntityRef{Type: types.EntityHighlight, ID: int64(i)}}
	}
	for i := range semantic {
		semantic[i] = storage.Hit{Ref: types.EntityRef{Type: types.EntityHighlight, ID: int64(i * 7)}}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		fused := applyRRF(lexical, semantic, DefaultRRFConstant)
		storage.SortHits(fused, storage.SortRelevance)
	}
}

func BenchmarkSearch(b *testing.B) {
	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		b.Fatalf("failed to create storage: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	for i := 1; i <= 2000; i++ {
		text := fmt.Sprintf("passage %d about startups and essays", i)
		rec := types.IndexRecord{
			EntityType:  types.EntityHighlight,
			EntityID:    int64(i),
			OwnerUserID: "alice",
			Content:     text,
			Body:        text,
			Visibility:  types.VisibilityPublic,
			CreatedAt:   time.Unix(int64(i), 0),
		}
		if _, err := store.UpsertEntry(ctx, rec); err != nil {
			b.Fatalf("upsert: %v", err)
		}
		if _, err := store.SetEmbedding(ctx, rec.Key(), text, wordVector(text)); err != nil {
			b.Fatalf("set embedding: %v", err)
		}
	}

	s := New(store, newGenerator(&wordEmbedder{}), Options{})
	for _, mode := range SupportedModes {
		b.Run(string(mode), func(b *testing.B) {
			req := SearchRequest{Query: "startups essays", Mode: mode, CallerUserID: "bob"}
			for i := 0; i < b.N; i++ {
				if _, err := s.Search(ctx, req); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
