package backfill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/highlight-search/internal/embedder"
	"github.com/dshills/highlight-search/internal/indexer"
	"github.com/dshills/highlight-search/internal/metrics"
	"github.com/dshills/highlight-search/internal/storage"
	"github.com/dshills/highlight-search/pkg/types"
)

// sliceLister serves a fixed table in primary key order
type sliceLister[T types.SourceRecord] struct {
	mu    sync.Mutex
	rows  []T
	err   error
	pages int
}

func (l *sliceLister[T]) ListAfter(_ context.Context, cursor int64, limit int) ([]T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.pages++

	out := make([]T, 0, limit)
	for _, r := range l.rows {
		if r.PrimaryKey() > cursor && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

type mapLookup map[int64]types.Highlight

func (m mapLookup) HighlightsByID(_ context.Context, ids []int64) (map[int64]types.Highlight, error) {
	out := make(map[int64]types.Highlight)
	for _, id := range ids {
		if h, ok := m[id]; ok {
			out[id] = h
		}
	}
	return out, nil
}

var created = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	store      *storage.SQLiteStorage
	rec        *indexer.Reconciler
	bookmarks  *sliceLister[types.Bookmark]
	highlights *sliceLister[types.Highlight]
	comments   *sliceLister[types.Comment]
	lookup     mapLookup
}

func newFixture(t *testing.T, emb embedder.Embedder) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	var gen *embedder.Generator
	if emb != nil {
		gen = embedder.NewGenerator(emb, embedder.GeneratorOptions{BatchDelay: -1})
	}

	f := &fixture{
		store:      store,
		rec:        indexer.New(store, gen, indexer.Options{}),
		bookmarks:  &sliceLister[types.Bookmark]{},
		highlights: &sliceLister[types.Highlight]{},
		comments:   &sliceLister[types.Comment]{},
		lookup:     mapLookup{},
	}

	h := types.Highlight{ID: 1, UserID: "alice", URL: "https://www.example.com/a", Text: "a highlighted passage", Visibility: types.VisibilityFriends, CreatedAt: created}
	f.highlights.rows = []types.Highlight{h, {ID: 2, UserID: "alice", CreatedAt: created}}
	f.lookup[1] = h

	deleted := created.Add(time.Hour)
	f.comments.rows = []types.Comment{
		{ID: 1, UserID: "bob", HighlightID: 1, Body: "great point", CreatedAt: created},
		{ID: 2, UserID: "bob", HighlightID: 1, Body: "retracted", DeletedAt: &deleted, CreatedAt: created},
		{ID: 3, UserID: "bob", HighlightID: 99, Body: "orphan", CreatedAt: created},
		{ID: 4, UserID: "bob", HighlightID: 1, Body: "   ", CreatedAt: created},
	}
	return f
}

func (f *fixture) addBookmarks(n int) {
	for i := 1; i <= n; i++ {
		f.bookmarks.rows = append(f.bookmarks.rows, types.Bookmark{
			ID:         int64(i),
			UserID:     "alice",
			URL:        fmt.Sprintf("https://paulgraham.com/%d.html", i),
			Title:      fmt.Sprintf("Essay %d", i),
			Visibility: types.VisibilityPublic,
			CreatedAt:  created.Add(time.Duration(i) * time.Minute),
		})
	}
}

func (f *fixture) sources() Sources {
	return Sources{Bookmarks: f.bookmarks, Highlights: f.highlights, Comments: f.comments, Lookup: f.lookup}
}

func mustLocal(t *testing.T) embedder.Embedder {
	t.Helper()
	p, err := embedder.NewLocalProvider(nil)
	require.NoError(t, err)
	return p
}

func TestRun(t *testing.T) {
	f := newFixture(t, mustLocal(t))
	f.addBookmarks(250)
	ctx := context.Background()
	m := &metrics.Basic{}

	o := New(f.sources(), f.rec, Options{Metrics: m})
	summary, err := o.Run(ctx)
	require.NoError(t, err)

	bm := summary.Types[types.EntityBookmark]
	assert.Equal(t, Counts{Fetched: 250, Indexed: 250, Embedded: 250}, *bm)
	assert.Equal(t, 4, f.bookmarks.pages, "three full pages and an empty one")

	hl := summary.Types[types.EntityHighlight]
	assert.Equal(t, Counts{Fetched: 2, Indexed: 1, Skipped: 1, Embedded: 1}, *hl)

	cm := summary.Types[types.EntityComment]
	assert.Equal(t, 4, cm.Fetched)
	assert.Equal(t, 1, cm.Indexed)
	assert.Equal(t, 3, cm.Skipped)

	assert.Equal(t, int64(252), m.BackfillIndexed.Load())
	assert.Positive(t, summary.Elapsed)

	comment, err := f.store.GetEntry(ctx, types.EntityRef{Type: types.EntityComment, ID: 1})
	require.NoError(t, err)
	assert.Equal(t, "great point", comment.Content)
	assert.Equal(t, "https://www.example.com/a", comment.SourceURL, "inherited from the highlight")
	assert.Equal(t, types.VisibilityFriends, comment.Visibility)

	for _, id := range []int64{2, 3, 4} {
		_, err := f.store.GetEntry(ctx, types.EntityRef{Type: types.EntityComment, ID: id})
		assert.ErrorIs(t, err, storage.ErrNotFound, "comment %d", id)
	}
	_, err = f.store.GetEntry(ctx, types.EntityRef{Type: types.EntityHighlight, ID: 2})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRun_Idempotent(t *testing.T) {
	f := newFixture(t, mustLocal(t))
	f.addBookmarks(30)
	ctx := context.Background()
	o := New(f.sources(), f.rec, Options{PageSize: 7})

	_, err := o.Run(ctx)
	require.NoError(t, err)
	before := snapshot(t, f.store)

	summary, err := o.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Total().Embedded, "unchanged content keeps its vectors")

	after := snapshot(t, f.store)
	assert.Equal(t, before, after)

	status, err := f.store.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 32, status.Total)
}

type row struct {
	content   string
	embedding []float32
}

func snapshot(t *testing.T, s *storage.SQLiteStorage) map[types.EntityRef]row {
	t.Helper()
	refs := make([]types.EntityRef, 0, 40)
	for id := int64(1); id <= 30; id++ {
		refs = append(refs, types.EntityRef{Type: types.EntityBookmark, ID: id})
	}
	refs = append(refs,
		types.EntityRef{Type: types.EntityHighlight, ID: 1},
		types.EntityRef{Type: types.EntityComment, ID: 1})

	entries, err := s.GetEntries(context.Background(), refs)
	require.NoError(t, err)

	out := make(map[types.EntityRef]row, len(entries))
	for ref, e := range entries {
		out[ref] = row{content: e.Content, embedding: e.Embedding}
	}
	return out
}

func TestRun_RemovesNewlyDeletedComment(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	o := New(f.sources(), f.rec, Options{Types: []types.EntityType{types.EntityComment}})

	_, err := o.Run(ctx)
	require.NoError(t, err)
	ref := types.EntityRef{Type: types.EntityComment, ID: 1}
	_, err = f.store.GetEntry(ctx, ref)
	require.NoError(t, err)

	deleted := created.Add(2 * time.Hour)
	f.comments.rows[0].DeletedAt = &deleted

	summary, err := o.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Types[types.EntityComment].Removed)
	_, err = f.store.GetEntry(ctx, ref)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRun_PanicSkipsOnlyThatRecord(t *testing.T) {
	f := newFixture(t, nil)
	f.addBookmarks(5)
	o := New(f.sources(), f.rec, Options{Types: []types.EntityType{types.EntityBookmark}})

	base := o.extract
	o.extract = func(src types.SourceRecord) (types.IndexRecord, bool) {
		if src.PrimaryKey() == 3 {
			panic("malformed record")
		}
		return base(src)
	}

	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Types[types.EntityBookmark].Indexed)
	assert.Equal(t, 1, summary.Types[types.EntityBookmark].Skipped)
	assert.NotContains(t, summary.Types, types.EntityComment)
}

func TestRun_LegacyVisibilityIsNormalised(t *testing.T) {
	f := newFixture(t, nil)
	f.addBookmarks(5)
	f.bookmarks.rows[2].Visibility = "Public"
	f.bookmarks.rows[3].Visibility = "shared"
	ctx := context.Background()

	o := New(f.sources(), f.rec, Options{Types: []types.EntityType{types.EntityBookmark}})
	summary, err := o.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Fetched: 5, Indexed: 5}, *summary.Types[types.EntityBookmark])

	e, err := f.store.GetEntry(ctx, types.EntityRef{Type: types.EntityBookmark, ID: 3})
	require.NoError(t, err)
	assert.Equal(t, types.VisibilityPublic, e.Visibility)

	e, err = f.store.GetEntry(ctx, types.EntityRef{Type: types.EntityBookmark, ID: 4})
	require.NoError(t, err)
	assert.Equal(t, types.VisibilityPrivate, e.Visibility, "unknown tiers fall back to private")
}

func TestRun_RejectedRecordSkipsOnlyThatRecord(t *testing.T) {
	f := newFixture(t, mustLocal(t))
	f.addBookmarks(5)
	ctx := context.Background()
	o := New(f.sources(), f.rec, Options{Types: []types.EntityType{types.EntityBookmark}})

	base := o.extract
	o.extract = func(src types.SourceRecord) (types.IndexRecord, bool) {
		rec, ok := base(src)
		if src.PrimaryKey() == 3 {
			rec.Visibility = "Public"
		}
		return rec, ok
	}

	summary, err := o.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Fetched: 5, Indexed: 4, Skipped: 1, Embedded: 4}, *summary.Types[types.EntityBookmark])

	status, err := f.store.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, status.Entries[types.EntityBookmark])
	_, err = f.store.GetEntry(ctx, types.EntityRef{Type: types.EntityBookmark, ID: 3})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRun_SourceErrorIsFatal(t *testing.T) {
	f := newFixture(t, nil)
	f.addBookmarks(5)
	f.highlights.err = errors.New("connection refused")

	o := New(f.sources(), f.rec, Options{})
	summary, err := o.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backfill highlight")
	require.NotNil(t, summary)
}

func TestRun_StorageErrorIsFatal(t *testing.T) {
	f := newFixture(t, nil)
	f.addBookmarks(5)
	require.NoError(t, f.store.Close())

	o := New(f.sources(), f.rec, Options{Types: []types.EntityType{types.EntityBookmark}})
	_, err := o.Run(context.Background())
	assert.Error(t, err)
}

func TestRun_UnknownType(t *testing.T) {
	f := newFixture(t, nil)
	o := New(f.sources(), f.rec, Options{Types: []types.EntityType{"note"}})
	_, err := o.Run(context.Background())
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestRebuildThroughReconciler(t *testing.T) {
	f := newFixture(t, nil)
	f.addBookmarks(3)
	o := New(f.sources(), f.rec, Options{})
	f.rec.SetRebuilder(o.Rebuild)

	require.NoError(t, f.rec.Rebuild(context.Background()))

	status, err := f.store.GetStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, status.Entries[types.EntityBookmark])
}
