package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dshills/highlight-search/internal/embedder"
	"github.com/dshills/highlight-search/internal/extractor"
	"github.com/dshills/highlight-search/internal/logging"
	"github.com/dshills/highlight-search/internal/metrics"
	"github.com/dshills/highlight-search/internal/storage"
	"github.com/dshills/highlight-search/pkg/types"
)

var (
	// ErrNoRebuilder is returned by Rebuild when no rebuild function is registered
	ErrNoRebuilder = errors.New("no rebuild function registered")
	// ErrRebuildInProgress is returned when a rebuild is already running
	ErrRebuildInProgress = errors.New("rebuild already in progress")
	// ErrNoSource is returned by SyncRef when no record lookup is configured
	ErrNoSource = errors.New("no source record lookup configured")
)

// RebuildFunc rebuilds the whole index from the source tables
type RebuildFunc func(ctx context.Context) error

// CommentLister returns the comments attached to a highlight
type CommentLister interface {
	CommentsForHighlight(ctx context.Context, highlightID int64) ([]types.Comment, error)
}

// RecordLookup loads the current state of one source row. A comment comes
// back with its inherited fields set.
type RecordLookup interface {
	LookupRecord(ctx context.Context, ref types.EntityRef) (rec types.SourceRecord, found bool, err error)
}

// Options configures a Reconciler
type Options struct {
	// Queue receives phase-2 jobs. Without a queue only UpsertSync embeds.
	Queue *EmbedQueue

	// Comments lets Sync re-index a highlight's comments when it changes
	Comments CommentLister

	// Records lets SyncRef reload a row from the source tables
	Records RecordLookup

	Logger  *slog.Logger
	Metrics metrics.Recorder
}

// Reconciler is the single writer of the search index. Incremental hooks
// and the backfill job both go through it.
type Reconciler struct {
	store    storage.Storage
	gen      *embedder.Generator
	queue    *EmbedQueue
	comments CommentLister
	records  RecordLookup
	logger   *slog.Logger
	metrics  metrics.Recorder

	rebuild RebuildFunc
	lock    RebuildLock
}

// Result reports the outcome of a phase-1 write
type Result struct {
	Written  int
	Pending  []Job // rows still lacking an embedding for their current content
	Duration time.Duration
}

// New creates a Reconciler. gen may be nil, which disables phase 2.
func New(store storage.Storage, gen *embedder.Generator, opts Options) *Reconciler {
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	return &Reconciler{
		store:    store,
		gen:      gen,
		queue:    opts.Queue,
		comments: opts.Comments,
		records:  opts.Records,
		logger:   logging.OrDiscard(opts.Logger),
		metrics:  opts.Metrics,
	}
}

// SetRebuilder registers the function Rebuild delegates to
func (r *Reconciler) SetRebuilder(fn RebuildFunc) {
	r.rebuild = fn
}

// Upsert writes records (phase 1) and queues their embeddings (phase 2).
// Queueing blocks while the embed queue is full; the write itself is
// committed either way and embedding problems are never returned.
func (r *Reconciler) Upsert(ctx context.Context, records []types.IndexRecord) (*Result, error) {
	res, err := r.write(ctx, records)
	if err != nil {
		return nil, err
	}

	if r.queue != nil && len(res.Pending) > 0 {
		if err := r.queue.Enqueue(ctx, res.Pending...); err != nil {
			r.logger.Warn("embedding not queued", "rows", len(res.Pending), "error", err)
		}
	}
	return res, nil
}

// UpsertSync writes records, then embeds and stores vectors before returning.
// It reports how many embeddings were stored. Only storage failures are errors.
func (r *Reconciler) UpsertSync(ctx context.Context, records []types.IndexRecord) (int, error) {
	res, err := r.write(ctx, records)
	if err != nil {
		return 0, err
	}
	if len(res.Pending) == 0 || !r.gen.SemanticAvailable() {
		return 0, nil
	}

	texts := make([]string, len(res.Pending))
	for i, j := range res.Pending {
		texts[i] = j.Content
	}
	vectors := r.gen.Generate(ctx, texts)

	embedded := 0
	for i, j := range res.Pending {
		if vectors[i] == nil {
			continue
		}
		stored, err := r.store.SetEmbedding(ctx, j.Ref, j.Content, vectors[i])
		if err != nil {
			return embedded, fmt.Errorf("store embedding for %s %d: %w", j.Ref.Type, j.Ref.ID, err)
		}
		if stored {
			embedded++
		}
	}
	return embedded, nil
}

// write runs phase 1 for all records in one transaction
func (r *Reconciler) write(ctx context.Context, records []types.IndexRecord) (*Result, error) {
	start := time.Now()
	res := &Result{}
	if len(records) == 0 {
		return res, nil
	}

	tx, err := r.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, rec := range records {
		entry, err := tx.UpsertEntry(ctx, rec)
		if err != nil {
			r.metrics.RecordIndexWrite("upsert", 0, err)
			return nil, err
		}
		res.Written++
		if !entry.HasEmbedding() && r.gen.SemanticAvailable() {
			res.Pending = append(res.Pending, Job{Ref: entry.Key(), Content: entry.Content})
		}
	}

	if err := tx.Commit(); err != nil {
		r.metrics.RecordIndexWrite("upsert", 0, err)
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	res.Duration = time.Since(start)
	r.metrics.RecordIndexWrite("upsert", res.Written, nil)
	return res, nil
}

// Remove deletes the row for ref. Removing a missing row is not an error.
func (r *Reconciler) Remove(ctx context.Context, ref types.EntityRef) (bool, error) {
	removed, err := r.store.DeleteEntry(ctx, ref)
	r.metrics.RecordIndexWrite("delete", boolCount(removed), err)
	if err != nil {
		return false, err
	}
	return removed, nil
}

// Sync reconciles the index with the current state of one source record.
// Records that extract to nothing, and soft-deleted comments, are removed.
// Phase 2 is queued without blocking, so a full queue never delays the
// mutation that triggered the sync.
func (r *Reconciler) Sync(ctx context.Context, src types.SourceRecord) error {
	ref := types.EntityRef{Type: src.EntityType(), ID: src.PrimaryKey()}

	rec, ok := extractor.Record(src)
	if !ok {
		if _, err := r.Remove(ctx, ref); err != nil {
			return err
		}
		r.logger.Debug("record not indexed", "type", ref.Type, "id", ref.ID)
	} else {
		res, err := r.write(ctx, []types.IndexRecord{rec})
		if err != nil {
			return err
		}
		if r.queue != nil {
			for _, j := range res.Pending {
				r.queue.TryEnqueue(j)
			}
		}
	}

	if h, isHighlight := src.(types.Highlight); isHighlight && r.comments != nil {
		return r.SyncComments(ctx, h)
	}
	return nil
}

// SyncComments re-indexes the comments of h so they pick up its current
// URL and visibility.
func (r *Reconciler) SyncComments(ctx context.Context, h types.Highlight) error {
	if r.comments == nil {
		return nil
	}

	comments, err := r.comments.CommentsForHighlight(ctx, h.ID)
	if err != nil {
		return fmt.Errorf("list comments of highlight %d: %w", h.ID, err)
	}
	for _, c := range comments {
		if err := r.Sync(ctx, c.Inherit(h)); err != nil {
			return err
		}
	}
	return nil
}

// SyncRef reloads ref from the source tables and reconciles its row. A row
// that no longer exists is removed; so are the comments of a vanished
// highlight, which have nothing left to inherit from.
func (r *Reconciler) SyncRef(ctx context.Context, ref types.EntityRef) error {
	if !ref.Type.Valid() {
		return fmt.Errorf("%w: unknown entity type %q", types.ErrValidation, ref.Type)
	}
	if r.records == nil {
		return ErrNoSource
	}

	src, found, err := r.records.LookupRecord(ctx, ref)
	if err != nil {
		return fmt.Errorf("load %s %d: %w", ref.Type, ref.ID, err)
	}
	if found {
		return r.Sync(ctx, src)
	}

	if _, err := r.Remove(ctx, ref); err != nil {
		return err
	}
	if ref.Type != types.EntityHighlight || r.comments == nil {
		return nil
	}
	comments, err := r.comments.CommentsForHighlight(ctx, ref.ID)
	if err != nil {
		return fmt.Errorf("list comments of highlight %d: %w", ref.ID, err)
	}
	for _, c := range comments {
		if _, err := r.Remove(ctx, types.EntityRef{Type: types.EntityComment, ID: c.ID}); err != nil {
			return err
		}
	}
	return nil
}

// StartRebuild takes the rebuild lock and returns the function that runs
// the rebuild and releases it. The returned function must be called exactly
// once. Callers that run it in the background still learn synchronously
// whether a rebuild was already running.
func (r *Reconciler) StartRebuild() (func(ctx context.Context) error, error) {
	if r.rebuild == nil {
		return nil, ErrNoRebuilder
	}
	if !r.lock.TryAcquire() {
		return nil, ErrRebuildInProgress
	}
	return func(ctx context.Context) error {
		defer r.lock.Release()
		return r.rebuild(ctx)
	}, nil
}

// Rebuild runs the registered rebuild function. Only one rebuild runs at a time.
func (r *Reconciler) Rebuild(ctx context.Context) error {
	run, err := r.StartRebuild()
	if err != nil {
		return err
	}
	return run(ctx)
}

// Rebuilding reports whether a rebuild is running
func (r *Reconciler) Rebuilding() bool {
	return r.lock.Held()
}

// QueueStats returns the embed queue counters, or zero when there is no queue
func (r *Reconciler) QueueStats() QueueStats {
	if r.queue == nil {
		return QueueStats{}
	}
	return r.queue.Stats()
}

func boolCount(b bool) int {
	if b {
		return 1
	}
	return 0
}
