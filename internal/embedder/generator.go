package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dshills/highlight-search/internal/logging"
	"github.com/dshills/highlight-search/internal/metrics"
	"github.com/dshills/highlight-search/pkg/types"
)

// Generator defaults
const (
	DefaultBatchSize    = 20
	DefaultBatchDelay   = 100 * time.Millisecond
	DefaultQueryTimeout = 5 * time.Second
)

// GeneratorOptions configures a Generator. Zero values take the defaults;
// a negative BatchDelay disables the pause between batches.
type GeneratorOptions struct {
	BatchSize    int
	BatchDelay   time.Duration
	QueryTimeout time.Duration
	Logger       *slog.Logger
	Metrics      metrics.Recorder
}

// Generator turns texts into index-ready vectors.
//
// It never fails a whole call: positions whose batch could not be embedded
// come back nil, and the caller stores no embedding for them.
type Generator struct {
	emb          Embedder
	batchSize    int
	batchDelay   time.Duration
	queryTimeout time.Duration
	logger       *slog.Logger
	metrics      metrics.Recorder

	// sleep is swapped in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewGenerator wraps emb. A nil emb yields a generator with semantic search
// disabled.
func NewGenerator(emb Embedder, opts GeneratorOptions) *Generator {
	if opts.BatchSize <= 0 || opts.BatchSize > DefaultBatchSize {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchDelay < 0 {
		opts.BatchDelay = 0
	} else if opts.BatchDelay == 0 {
		opts.BatchDelay = DefaultBatchDelay
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = DefaultQueryTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}

	return &Generator{
		emb:          emb,
		batchSize:    opts.BatchSize,
		batchDelay:   opts.BatchDelay,
		queryTimeout: opts.QueryTimeout,
		logger:       logging.OrDiscard(opts.Logger),
		metrics:      opts.Metrics,
		sleep:        sleepContext,
	}
}

// SemanticAvailable reports whether a provider is configured
func (g *Generator) SemanticAvailable() bool {
	return g != nil && g.emb != nil
}

// Provider returns the provider name, or "none"
func (g *Generator) Provider() string {
	if !g.SemanticAvailable() {
		return ProviderNone
	}
	return g.emb.Provider()
}

// Generate embeds texts in order. The result is aligned with texts; a nil
// entry means no embedding is available for that text.
func (g *Generator) Generate(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	if !g.SemanticAvailable() || len(texts) == 0 {
		return out
	}

	// Blank texts are never sent
	positions := make([]int, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) != "" {
			positions = append(positions, i)
		}
	}

	for start := 0; start < len(positions); start += g.batchSize {
		if ctx.Err() != nil {
			return out
		}

		end := start + g.batchSize
		if end > len(positions) {
			end = len(positions)
		}
		batch := positions[start:end]

		g.embedBatch(ctx, texts, batch, out)

		if end < len(positions) && g.batchDelay > 0 {
			if err := g.sleep(ctx, g.batchDelay); err != nil {
				return out
			}
		}
	}

	return out
}

// embedBatch fills out at the given positions. Failures leave them nil.
func (g *Generator) embedBatch(ctx context.Context, texts []string, positions []int, out [][]float32) {
	batchTexts := make([]string, len(positions))
	for i, pos := range positions {
		batchTexts[i] = texts[pos]
	}

	start := time.Now()
	resp, err := g.emb.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: batchTexts})
	if err == nil && len(resp.Embeddings) != len(batchTexts) {
		err = fmt.Errorf("%w: got %d embeddings for %d texts", ErrProviderFailed, len(resp.Embeddings), len(batchTexts))
	}
	if err != nil {
		g.metrics.RecordEmbedBatch(len(batchTexts), 0, time.Since(start), err)
		g.logger.Warn("embedding batch failed",
			"provider", g.emb.Provider(),
			"size", len(batchTexts),
			"error", err)
		return
	}

	produced := 0
	for i, emb := range resp.Embeddings {
		if !emb.Usable() {
			continue
		}
		out[positions[i]] = emb.Vector
		produced++
	}
	if produced < len(batchTexts) {
		g.logger.Warn("embedding batch returned unusable vectors",
			"provider", g.emb.Provider(),
			"size", len(batchTexts),
			"usable", produced)
	}

	g.metrics.RecordEmbedBatch(len(batchTexts), produced, time.Since(start), nil)
}

// EmbedQuery embeds a single search query within the query timeout.
// Errors are returned so the caller can fall back to full-text search.
func (g *Generator) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if !g.SemanticAvailable() {
		return nil, ErrNoProviderEnabled
	}

	ctx, cancel := context.WithTimeout(ctx, g.queryTimeout)
	defer cancel()

	emb, err := g.emb.GenerateEmbedding(ctx, EmbeddingRequest{Text: query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(emb.Vector) != types.EmbeddingDimension {
		return nil, fmt.Errorf("embed query: %w: got %d, want %d", types.ErrDimension, len(emb.Vector), types.EmbeddingDimension)
	}
	return emb.Vector, nil
}

// Close releases the provider
func (g *Generator) Close() error {
	if !g.SemanticAvailable() {
		return nil
	}
	return g.emb.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
