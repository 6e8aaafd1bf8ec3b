// Package app wires storage, the embedding pipeline, the source database
// and the query engine into one set of components shared by the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dshills/highlight-search/internal/backfill"
	"github.com/dshills/highlight-search/internal/config"
	"github.com/dshills/highlight-search/internal/embedder"
	"github.com/dshills/highlight-search/internal/indexer"
	"github.com/dshills/highlight-search/internal/metrics"
	"github.com/dshills/highlight-search/internal/searcher"
	"github.com/dshills/highlight-search/internal/source"
	"github.com/dshills/highlight-search/internal/storage"
)

// App holds the wired components
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.Prometheus

	Store     storage.Storage
	Source    *source.SQLSource // nil when no source database is configured
	Generator *embedder.Generator

	Queue      *indexer.EmbedQueue
	Reconciler *indexer.Reconciler
	Backfill   *backfill.Orchestrator // nil without a source database
	Searcher   *searcher.Searcher
}

// Options tunes what New starts
type Options struct {
	// Queue starts the background embedding workers. One-shot jobs such as
	// the backfill embed synchronously and leave it off.
	Queue bool
}

// New opens every configured dependency. On error, whatever was opened is
// closed again.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (a *App, err error) {
	a = &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewPrometheus(),
	}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
			a = nil
		}
	}()

	a.Store, err = storage.Open(ctx, cfg.Storage())
	if err != nil {
		return nil, fmt.Errorf("open index storage: %w", err)
	}

	emb, err := embedder.New(cfg.Embedder())
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	if emb == nil {
		logger.Warn("no embedding provider configured, semantic search disabled")
	}
	a.Generator = embedder.NewGenerator(emb, embedder.GeneratorOptions{
		BatchSize:    cfg.BatchSize,
		BatchDelay:   cfg.BatchDelay,
		QueryTimeout: cfg.QueryTimeout,
		Logger:       logger.With("component", "embedder"),
		Metrics:      a.Metrics,
	})

	if cfg.SourceDSN != "" {
		a.Source, err = source.Open(ctx, cfg.SourceDriver, cfg.SourceDSN)
		if err != nil {
			return nil, err
		}
	} else {
		logger.Warn("no source database configured; backfill, friends and tags are unavailable")
	}

	if opts.Queue && a.Generator.SemanticAvailable() {
		a.Queue = indexer.NewEmbedQueue(a.Generator, a.Store, indexer.QueueOptions{
			Capacity: cfg.QueueCapacity,
			Workers:  cfg.QueueWorkers,
			Logger:   logger.With("component", "queue"),
			Metrics:  a.Metrics,
		})
	}

	recOpts := indexer.Options{
		Queue:   a.Queue,
		Logger:  logger.With("component", "reconciler"),
		Metrics: a.Metrics,
	}
	searchOpts := searcher.Options{
		MinSimilarity:      cfg.MinSimilarity,
		SemanticCandidates: cfg.SemanticCandidates,
		Logger:             logger.With("component", "searcher"),
		Metrics:            a.Metrics,
	}
	if a.Source != nil {
		recOpts.Comments = a.Source
		recOpts.Records = a.Source
		searchOpts.Friends = a.Source
		searchOpts.Tags = a.Source
	}

	a.Reconciler = indexer.New(a.Store, a.Generator, recOpts)
	a.Searcher = searcher.New(a.Store, a.Generator, searchOpts)

	if a.Source != nil {
		a.Backfill = backfill.New(backfill.FromSQL(a.Source), a.Reconciler, backfill.Options{
			PageSize: cfg.PageSize,
			Types:    cfg.BackfillTypes,
			Logger:   logger.With("component", "backfill"),
			Metrics:  a.Metrics,
		})
		a.Reconciler.SetRebuilder(a.Backfill.Rebuild)
	}

	return a, nil
}

// Close drains the queue and closes every dependency
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Queue != nil {
		if err := a.Queue.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close queue: %w", err))
		}
	}
	if a.Generator != nil {
		if err := a.Generator.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close embedder: %w", err))
		}
	}
	if a.Source != nil {
		if err := a.Source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close source: %w", err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	return errors.Join(errs...)
}
