// Command embedding-probe checks the configured embedding provider end to
// end: it embeds a query and a few sample passages and prints their cosine
// similarity against the semantic threshold.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dshills/highlight-search/internal/config"
	"github.com/dshills/highlight-search/internal/embedder"
	"github.com/dshills/highlight-search/internal/storage"
	"github.com/dshills/highlight-search/pkg/types"
)

var samples = []string{
	"The best way to understand a book is to read it slowly and take notes.",
	"Context carries deadlines and cancellation signals across API boundaries.",
	"Sourdough needs a long, cold fermentation to develop flavour.",
}

func main() {
	query := flag.String("query", "how to read more carefully", "query to compare against the samples")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	emb, err := embedder.New(cfg.Embedder())
	if err != nil {
		log.Fatalf("Failed to create embedder: %v", err)
	}
	if emb == nil {
		log.Fatalf("No embedding provider configured (HS_EMBEDDING_PROVIDER=%s)", cfg.EmbeddingProvider)
	}
	defer emb.Close()

	fmt.Printf("Provider: %s, model: %s, dimension: %d\n", emb.Provider(), emb.Model(), emb.Dimension())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.EmbeddingTimeout)
	defer cancel()

	start := time.Now()
	q, err := emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: *query})
	if err != nil {
		log.Fatalf("Failed to embed query: %v", err)
	}
	batch, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: samples})
	if err != nil {
		log.Fatalf("Failed to embed samples: %v", err)
	}
	fmt.Printf("Embedded %d texts in %v\n\n", len(samples)+1, time.Since(start))

	if len(q.Vector) != types.EmbeddingDimension {
		fmt.Printf("✗ FAILURE: query vector has %d dimensions, index expects %d\n", len(q.Vector), types.EmbeddingDimension)
		os.Exit(1)
	}

	fmt.Printf("Query: %q (threshold %.2f)\n", *query, cfg.MinSimilarity)
	for i, e := range batch.Embeddings {
		sim := storage.CosineSimilarity(q.Vector, e.Vector)
		mark := " "
		if sim >= cfg.MinSimilarity {
			mark = "*"
		}
		fmt.Printf("  %s %.4f  %s\n", mark, sim, truncate(samples[i], 60))
	}

	fmt.Println("\n✓ SUCCESS: provider returned usable embeddings")
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
