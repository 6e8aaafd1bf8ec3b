// Package backfill rebuilds the search index from the source tables.
//
// One loop runs per entity type, all concurrently. Each loop pages through
// its table in primary key order with an in-memory cursor and hands every
// page to the Reconciler, waiting for that page's embeddings before fetching
// the next. Nothing is persisted between runs: an interrupted run is simply
// started again, and upserts keyed by (type, id) make the rerun converge.
//
// Only storage and source read failures abort a run. A record that cannot be
// extracted, or that the index rejects, is skipped and counted.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/highlight-search/internal/extractor"
	"github.com/dshills/highlight-search/internal/logging"
	"github.com/dshills/highlight-search/internal/metrics"
	"github.com/dshills/highlight-search/internal/source"
	"github.com/dshills/highlight-search/pkg/types"
)

// DefaultPageSize is the number of source rows fetched per page
const DefaultPageSize = 100

// Writer is the part of the Reconciler the orchestrator needs
type Writer interface {
	UpsertSync(ctx context.Context, records []types.IndexRecord) (int, error)
	Remove(ctx context.Context, ref types.EntityRef) (bool, error)
}

// Sources bundles the source collaborators
type Sources struct {
	Bookmarks  source.Lister[types.Bookmark]
	Highlights source.Lister[types.Highlight]
	Comments   source.Lister[types.Comment]
	Lookup     source.HighlightLookup
}

// FromSQL builds Sources from an SQLSource
func FromSQL(s *source.SQLSource) Sources {
	return Sources{
		Bookmarks:  s.Bookmarks(),
		Highlights: s.Highlights(),
		Comments:   s.Comments(),
		Lookup:     s,
	}
}

// Options configures an Orchestrator
type Options struct {
	PageSize int                // rows per page (default 100)
	Types    []types.EntityType // subset to backfill; empty means all
	Logger   *slog.Logger
	Metrics  metrics.Recorder
}

// Counts are per-type outcomes of a run
type Counts struct {
	Fetched  int `json:"fetched"`
	Indexed  int `json:"indexed"`
	Skipped  int `json:"skipped"`
	Removed  int `json:"removed"`
	Embedded int `json:"embedded"`
}

// Summary reports a finished run
type Summary struct {
	Types   map[types.EntityType]*Counts `json:"types"`
	Elapsed time.Duration                `json:"elapsed"`
}

// Total sums the counts of every type
func (s *Summary) Total() Counts {
	var total Counts
	for _, c := range s.Types {
		total.Fetched += c.Fetched
		total.Indexed += c.Indexed
		total.Skipped += c.Skipped
		total.Removed += c.Removed
		total.Embedded += c.Embedded
	}
	return total
}

// Orchestrator drives a backfill run
type Orchestrator struct {
	src      Sources
	writer   Writer
	pageSize int
	types    []types.EntityType
	logger   *slog.Logger
	metrics  metrics.Recorder

	extract func(types.SourceRecord) (types.IndexRecord, bool)
}

// New creates an Orchestrator
func New(src Sources, writer Writer, opts Options) *Orchestrator {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if len(opts.Types) == 0 {
		opts.Types = types.AllEntityTypes
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	return &Orchestrator{
		src:      src,
		writer:   writer,
		pageSize: opts.PageSize,
		types:    opts.Types,
		logger:   logging.OrDiscard(opts.Logger),
		metrics:  opts.Metrics,
		extract:  extractor.Record,
	}
}

// Rebuild runs a backfill and discards the summary. It matches the
// Reconciler's rebuild hook.
func (o *Orchestrator) Rebuild(ctx context.Context) error {
	_, err := o.Run(ctx)
	return err
}

// Run backfills every configured entity type. The first fatal error cancels
// the other loops; the summary still reports what was done.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	for _, t := range o.types {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: unknown entity type %q", types.ErrValidation, t)
		}
	}

	start := time.Now()
	summary := &Summary{Types: make(map[types.EntityType]*Counts, len(o.types))}
	for _, t := range o.types {
		summary.Types[t] = &Counts{}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range o.types {
		counts := summary.Types[t]
		switch t {
		case types.EntityBookmark:
			g.Go(func() error {
				return runLoop(gctx, o, t, counts, o.src.Bookmarks, o.prepareBookmarks)
			})
		case types.EntityHighlight:
			g.Go(func() error {
				return runLoop(gctx, o, t, counts, o.src.Highlights, o.prepareHighlights)
			})
		case types.EntityComment:
			g.Go(func() error {
				return runLoop(gctx, o, t, counts, o.src.Comments, o.prepareComments)
			})
		}
	}

	err := g.Wait()
	summary.Elapsed = time.Since(start)

	total := summary.Total()
	if err != nil {
		o.logger.Error("backfill aborted", "error", err, "indexed", total.Indexed, "elapsed", summary.Elapsed)
		return summary, err
	}
	o.logger.Info("backfill complete",
		"indexed", total.Indexed,
		"skipped", total.Skipped,
		"removed", total.Removed,
		"embedded", total.Embedded,
		"elapsed", summary.Elapsed)
	return summary, nil
}

// prepared is one page ready for the writer
type prepared struct {
	records []types.IndexRecord
	remove  []types.EntityRef
}

// runLoop pages through one table until it is exhausted
func runLoop[T types.SourceRecord](
	ctx context.Context,
	o *Orchestrator,
	entityType types.EntityType,
	counts *Counts,
	lister source.Lister[T],
	prepare func(context.Context, []T) (*prepared, error),
) error {
	if lister == nil {
		return fmt.Errorf("no source configured for %s", entityType)
	}

	var cursor int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := lister.ListAfter(ctx, cursor, o.pageSize)
		if err != nil {
			return fmt.Errorf("backfill %s: %w", entityType, err)
		}
		if len(page) == 0 {
			return nil
		}
		counts.Fetched += len(page)

		batch, err := prepare(ctx, page)
		if err != nil {
			return fmt.Errorf("backfill %s: %w", entityType, err)
		}

		for _, ref := range batch.remove {
			removed, err := o.writer.Remove(ctx, ref)
			if err != nil {
				return fmt.Errorf("backfill %s: %w", entityType, err)
			}
			if removed {
				counts.Removed++
			}
		}
		indexed, embedded, err := o.upsertPage(ctx, batch.records)
		if err != nil {
			return fmt.Errorf("backfill %s: %w", entityType, err)
		}
		skipped := len(page) - indexed
		counts.Skipped += skipped
		counts.Indexed += indexed
		counts.Embedded += embedded

		o.metrics.RecordBackfill(string(entityType), "indexed", indexed)
		o.metrics.RecordBackfill(string(entityType), "skipped", skipped)

		cursor = page[len(page)-1].PrimaryKey()
		o.logger.Info("backfill progress",
			"type", entityType,
			"cursor", cursor,
			"processed", counts.Fetched,
			"indexed", counts.Indexed)
	}
}

// upsertPage writes a page in one transaction. When the writer rejects the
// page because of a record, the page is written again one record at a time
// and only the rejected records are dropped.
func (o *Orchestrator) upsertPage(ctx context.Context, records []types.IndexRecord) (indexed, embedded int, err error) {
	embedded, err = o.writer.UpsertSync(ctx, records)
	if err == nil {
		return len(records), embedded, nil
	}
	if !recordError(err) {
		return 0, 0, err
	}

	embedded = 0
	for _, rec := range records {
		n, err := o.writer.UpsertSync(ctx, []types.IndexRecord{rec})
		if recordError(err) {
			o.logger.Warn("record rejected", "type", rec.EntityType, "id", rec.EntityID, "error", err)
			if _, err := o.writer.Remove(ctx, rec.Key()); err != nil {
				return indexed, embedded, err
			}
			continue
		}
		if err != nil {
			return indexed, embedded, err
		}
		indexed++
		embedded += n
	}
	return indexed, embedded, nil
}

// recordError reports whether err is about the record rather than storage
func recordError(err error) bool {
	return errors.Is(err, types.ErrValidation) || errors.Is(err, types.ErrEmptyContent)
}

func (o *Orchestrator) prepareBookmarks(_ context.Context, page []types.Bookmark) (*prepared, error) {
	return extractAll(o, page), nil
}

func (o *Orchestrator) prepareHighlights(_ context.Context, page []types.Highlight) (*prepared, error) {
	return extractAll(o, page), nil
}

// prepareComments attaches each comment's highlight before extraction.
// Soft-deleted comments and comments without a highlight are removed.
func (o *Orchestrator) prepareComments(ctx context.Context, page []types.Comment) (*prepared, error) {
	ids := make([]int64, 0, len(page))
	seen := make(map[int64]struct{}, len(page))
	for _, c := range page {
		if c.Deleted() {
			continue
		}
		if _, ok := seen[c.HighlightID]; !ok {
			seen[c.HighlightID] = struct{}{}
			ids = append(ids, c.HighlightID)
		}
	}

	highlights := map[int64]types.Highlight{}
	if len(ids) > 0 {
		if o.src.Lookup == nil {
			return nil, fmt.Errorf("no highlight lookup configured")
		}
		var err error
		highlights, err = o.src.Lookup.HighlightsByID(ctx, ids)
		if err != nil {
			return nil, err
		}
	}

	live := make([]types.Comment, 0, len(page))
	var gone []types.EntityRef
	for _, c := range page {
		h, ok := highlights[c.HighlightID]
		if c.Deleted() || !ok {
			o.logger.Debug("comment not indexed", "id", c.ID, "deleted", c.Deleted(), "highlight_found", ok)
			gone = append(gone, types.EntityRef{Type: types.EntityComment, ID: c.ID})
			continue
		}
		live = append(live, c.Inherit(h))
	}

	batch := extractAll(o, live)
	batch.remove = append(gone, batch.remove...)
	return batch, nil
}

// extractAll builds index records for a page. Records that extract to
// nothing, or whose extraction panics, are skipped and queued for removal.
func extractAll[T types.SourceRecord](o *Orchestrator, page []T) *prepared {
	batch := &prepared{records: make([]types.IndexRecord, 0, len(page))}
	for _, src := range page {
		rec, ok := o.safeRecord(src)
		if !ok {
			batch.remove = append(batch.remove, types.EntityRef{Type: src.EntityType(), ID: src.PrimaryKey()})
			continue
		}
		batch.records = append(batch.records, rec)
	}
	return batch
}

// safeRecord runs extraction under a recover guard
func (o *Orchestrator) safeRecord(src types.SourceRecord) (rec types.IndexRecord, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Warn("record extraction panicked", "type", src.EntityType(), "id", src.PrimaryKey(), "panic", r)
			rec, ok = types.IndexRecord{}, false
		}
	}()

	rec, ok = o.extract(src)
	if !ok {
		o.logger.Debug("record skipped: empty content", "type", src.EntityType(), "id", src.PrimaryKey())
	}
	return rec, ok
}
