package indexer

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
	"github.com/dshills/highlight-search/internal/metrics"
	"github.com/dshills/highlight-search/internal/storage"
	"github.com/dshills/highlight-search/pkg/types"
)

// mockEmbedder implements embedder.Embedder for testing
type mockEmbedder struct {
	mu        sync.Mutex
	err       error
	calls     int
	started   chan struct{} // signalled when a batch call begins, if set
	release   chan struct{} // batch calls wait on this, if set
	dimension int
}

func newMockEmbedder() *mockEmbedder {
	return &mockEmbedder{dimension: types.EmbeddingDimension}
}

func (m *mockEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	resp, err := m.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (m *mockEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	if m.started != nil {
		m.started <- struct{}{}
	}
	if m.release != nil {
		select {
		case <-m.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}

	embeddings := make([]*embedder.Embedding, len(req.Texts))
	for i := range req.Texts {
		vector := make([]float32, m.dimension)
		vector[0] = 1
		embeddings[i] = &embedder.Embedding{Vector: vector, Dimension: m.dimension, Provider: "mock", Model: "test-v1"}
	}
	return &embedder.BatchEmbeddingResponse{Embeddings: embeddings, Provider: "mock", Model: "test-v1"}, nil
}

func (m *mockEmbedder) Dimension() int   { return m.dimension }
func (m *mockEmbedder) Provider() string { return "mock" }
func (m *mockEmbedder) Model() string    { return "test-v1" }
func (m *mockEmbedder) Close() error     { return nil }

func (m *mockEmbedder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func setupStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newGenerator(emb embedder.Embedder) *embedder.Generator {
	return embedder.NewGenerator(emb, embedder.GeneratorOptions{BatchDelay: -1})
}

func records(n int) []types.IndexRecord {
	out := make([]types.IndexRecord, n)
	for i := range out {
		out[i] = types.IndexRecord{
			EntityType:  types.EntityBookmark,
			EntityID:    int64(i + 1),
			OwnerUserID: "alice",
			Content:     fmt.Sprintf("bookmark number %d", i+1),
			CreatedAt:   time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC),
		}
	}
	return out
}

func TestUpsertSync(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	emb := newMockEmbedder()
	rec := New(store, newGenerator(emb), Options{})

	embedded, err := rec.UpsertSync(ctx, records(25))
	require.NoError(t, err)
	assert.Equal(t, 25, embedded)
	assert.Equal(t, 2, emb.callCount(), "25 texts at batch size 20")

	// Unchanged content keeps its embedding, so a rerun embeds nothing
	embedded, err = rec.UpsertSync(ctx, records(25))
	require.NoError(t, err)
	assert.Zero(t, embedded)
	assert.Equal(t, 2, emb.callCount())

	status, err := store.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25, status.Total)
	assert.Equal(t, 25, status.TotalEmbedded)
}

func TestUpsertSync_ProviderFailure(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	emb := newMockEmbedder()
	emb.err = errors.New("provider down")
	rec := New(store, newGenerator(emb), Options{})

	embedded, err := rec.UpsertSync(ctx, records(3))
	require.NoError(t, err, "embedding failures must not fail the write")
	assert.Zero(t, embedded)

	status, err := store.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, status.Total)
	assert.Zero(t, status.TotalEmbedded)
}

func TestUpsertSync_NoProvider(t *testing.T) {
	store := setupStore(t)
	rec := New(store, nil, Options{})

	embedded, err := rec.UpsertSync(context.Background(), records(2))
	require.NoError(t, err)
	assert.Zero(t, embedded)
}

func TestUpsert_InvalidRecordRollsBack(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	m := &metrics.Basic{}
	rec := New(store, nil, Options{Metrics: m})

	batch := records(3)
	batch[2].Content = "   "

	_, err := rec.Upsert(ctx, batch)
	require.ErrorIs(t, err, types.ErrEmptyContent)
	assert.Equal(t, int64(1), m.IndexErrors.Load())

	status, err := store.GetStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.Total, "the whole batch is rolled back")
}

func TestUpsert_QueuesEmbeddings(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	gen := newGenerator(newMockEmbedder())
	queue := NewEmbedQueue(gen, store, QueueOptions{Workers: 2})
	rec := New(store, gen, Options{Queue: queue})

	res, err := rec.Upsert(ctx, records(30))
	require.NoError(t, err)
	assert.Equal(t, 30, res.Written)
	assert.Len(t, res.Pending, 30)

	require.NoError(t, queue.Close(ctx))

	stats := rec.QueueStats()
	assert.Equal(t, int64(30), stats.Queued)
	assert.Equal(t, int64(30), stats.Processed)
	assert.Equal(t, int64(30), stats.Embedded)
	assert.Zero(t, stats.Failed)

	status, err := store.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, status.TotalEmbedded)
}

func TestRemove(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	rec := New(store, nil, Options{})

	_, err := rec.Upsert(ctx, records(1))
	require.NoError(t, err)

	ref := types.EntityRef{Type: types.EntityBookmark, ID: 1}
	removed, err := rec.Remove(ctx, ref)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = rec.Remove(ctx, ref)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestSync(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	rec := New(store, nil, Options{})
	created := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	b := types.Bookmark{ID: 5, UserID: "alice", URL: "https://paulgraham.com/read.html", Title: "How to Read", Visibility: types.VisibilityPrivate, CreatedAt: created}
	require.NoError(t, rec.Sync(ctx, b))

	entry, err := store.GetEntry(ctx, types.EntityRef{Type: types.EntityBookmark, ID: 5})
	require.NoError(t, err)
	assert.Equal(t, "How to Read paulgraham.com", entry.Content)
	assert.Equal(t, types.VisibilityPrivate, entry.Visibility)

	t.Run("visibility change is applied immediately", func(t *testing.T) {
		b.Visibility = types.VisibilityPublic
		require.NoError(t, rec.Sync(ctx, b))
		entry, err := store.GetEntry(ctx, types.EntityRef{Type: types.EntityBookmark, ID: 5})
		require.NoError(t, err)
		assert.Equal(t, types.VisibilityPublic, entry.Visibility)
	})

	t.Run("empty content removes the row", func(t *testing.T) {
		empty := types.Bookmark{ID: 5, UserID: "alice"}
		require.NoError(t, rec.Sync(ctx, empty))
		_, err := store.GetEntry(ctx, types.EntityRef{Type: types.EntityBookmark, ID: 5})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("soft-deleted comment is removed", func(t *testing.T) {
		c := types.Comment{ID: 8, UserID: "bob", HighlightID: 1, Body: "nice", CreatedAt: created}
		require.NoError(t, rec.Sync(ctx, c))
		_, err := store.GetEntry(ctx, types.EntityRef{Type: types.EntityComment, ID: 8})
		require.NoError(t, err)

		deleted := created.Add(time.Hour)
		c.DeletedAt = &deleted
		require.NoError(t, rec.Sync(ctx, c))
		_, err = store.GetEntry(ctx, types.EntityRef{Type: types.EntityComment, ID: 8})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

type stubComments map[int64][]types.Comment

func (s stubComments) CommentsForHighlight(_ context.Context, highlightID int64) ([]types.Comment, error) {
	return s[highlightID], nil
}

func TestSync_HighlightPropagatesToComments(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	comments := stubComments{
		3: {
			{ID: 1, UserID: "bob", HighlightID: 3, Body: "first"},
			{ID: 2, UserID: "carol", HighlightID: 3, Body: "second"},
		},
	}
	rec := New(store, nil, Options{Comments: comments})

	h := types.Highlight{ID: 3, UserID: "alice", URL: "https://example.com/a", Text: "passage", Visibility: types.VisibilityFriends}
	require.NoError(t, rec.Sync(ctx, h))

	h.Visibility = types.VisibilityPublic
	require.NoError(t, rec.Sync(ctx, h))

	for _, id := range []int64{1, 2} {
		entry, err := store.GetEntry(ctx, types.EntityRef{Type: types.EntityComment, ID: id})
		require.NoError(t, err)
		assert.Equal(t, types.VisibilityPublic, entry.Visibility)
		assert.Equal(t, "https://example.com/a", entry.SourceURL)
	}
}

func TestRebuild(t *testing.T) {
	rec := New(setupStore(t), nil, Options{})
	ctx := context.Background()

	assert.ErrorIs(t, rec.Rebuild(ctx), ErrNoRebuilder)

	started := make(chan struct{})
	release := make(chan struct{})
	rec.SetRebuilder(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- rec.Rebuild(ctx) }()

	<-started
	assert.True(t, rec.Rebuilding())
	assert.ErrorIs(t, rec.Rebuild(ctx), ErrRebuildInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, rec.Rebuilding())
}

type stubRecords map[types.EntityRef]types.SourceRecord

func (s stubRecords) LookupRecord(_ context.Context, ref types.EntityRef) (types.SourceRecord, bool, error) {
	rec, ok := s[ref]
	return rec, ok, nil
}

func TestSyncRef(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	gen := newGenerator(newMockEmbedder())
	queue := NewEmbedQueue(gen, store, QueueOptions{Workers: 1})

	h := types.Highlight{ID: 3, UserID: "alice", URL: "https://example.com/a", Text: "passage", Visibility: types.VisibilityFriends}
	hRef := types.EntityRef{Type: types.EntityHighlight, ID: 3}
	cRef := types.EntityRef{Type: types.EntityComment, ID: 1}
	comment := types.Comment{ID: 1, UserID: "bob", HighlightID: 3, Body: "first"}

	src := stubRecords{hRef: h, cRef: comment.Inherit(h)}
	rec := New(store, gen, Options{
		Queue:    queue,
		Records:  src,
		Comments: stubComments{3: {comment}},
	})

	require.NoError(t, rec.SyncRef(ctx, hRef))
	entry, err := store.GetEntry(ctx, cRef)
	require.NoError(t, err)
	assert.Equal(t, types.VisibilityFriends, entry.Visibility, "comments follow their highlight")

	require.NoError(t, queue.Close(ctx))
	assert.Equal(t, int64(2), rec.QueueStats().Queued, "phase 2 goes through the queue")

	t.Run("vanished highlight takes its comments along", func(t *testing.T) {
		delete(src, hRef)
		require.NoError(t, rec.SyncRef(ctx, hRef))
		for _, ref := range []types.EntityRef{hRef, cRef} {
			_, err := store.GetEntry(ctx, ref)
			assert.ErrorIs(t, err, storage.ErrNotFound, "%s %d", ref.Type, ref.ID)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		err := rec.SyncRef(ctx, types.EntityRef{Type: "note", ID: 1})
		assert.ErrorIs(t, err, types.ErrValidation)
	})

	t.Run("no source", func(t *testing.T) {
		err := New(store, nil, Options{}).SyncRef(ctx, hRef)
		assert.ErrorIs(t, err, ErrNoSource)
	})
}

func TestStartRebuild(t *testing.T) {
	rec := New(setupStore(t), nil, Options{})
	_, err := rec.StartRebuild()
	assert.ErrorIs(t, err, ErrNoRebuilder)

	runs := 0
	rec.SetRebuilder(func(context.Context) error {
		runs++
		return nil
	})

	run, err := rec.StartRebuild()
	require.NoError(t, err)
	assert.True(t, rec.Rebuilding(), "the lock is held before the rebuild runs")

	_, err = rec.StartRebuild()
	assert.ErrorIs(t, err, ErrRebuildInProgress)

	require.NoError(t, run(context.Background()))
	assert.False(t, rec.Rebuilding())
	assert.Equal(t, 1, runs)
}
