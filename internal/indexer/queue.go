package indexer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/highlight-search/internal/embedder"
	"github.com/dshills/highlight-search/internal/logging"
	"github.com/dshills/highlight-search/internal/metrics"
	"github.com/dshills/highlight-search/internal/storage"
	"github.com/dshills/highlight-search/pkg/types"
)

// ErrQueueClosed is returned when enqueueing after Close
var ErrQueueClosed = errors.New("embed queue closed")

// Queue defaults
const (
	DefaultQueueCapacity = 1024
	DefaultQueueWorkers  = 2
)

// Job asks for the embedding of one index row. Content is the text the row
// held when the job was created; the vector is only stored if it still does.
type Job struct {
	Ref     types.EntityRef
	Content string
}

// QueueOptions configures an EmbedQueue
type QueueOptions struct {
	Capacity int // pending jobs before Enqueue blocks (default 1024)
	Workers  int // concurrent workers (default 2)
	Logger   *slog.Logger
	Metrics  metrics.Recorder
}

// QueueStats is a snapshot of queue activity
type QueueStats struct {
	Pending   int   `json:"pending"`
	Queued    int64 `json:"queued"`
	Processed int64 `json:"processed"`
	Embedded  int64 `json:"embedded"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

// EmbedQueue runs phase-2 embedding work in the background. Workers pull
// jobs in batches, embed them through the Generator and store the vectors.
type EmbedQueue struct {
	gen     *embedder.Generator
	store   storage.Storage
	logger  *slog.Logger
	metrics metrics.Recorder

	jobs     chan Job
	quit     chan struct{}
	quitOnce sync.Once
	mu       sync.RWMutex // guards closed and the close of jobs
	closed   bool

	group  *errgroup.Group
	cancel context.CancelFunc

	queued    atomic.Int64
	processed atomic.Int64
	embedded  atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewEmbedQueue starts the workers. Call Close to drain and stop them.
func NewEmbedQueue(gen *embedder.Generator, store storage.Storage, opts QueueOptions) *EmbedQueue {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultQueueCapacity
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultQueueWorkers
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	q := &EmbedQueue{
		gen:     gen,
		store:   store,
		logger:  logging.OrDiscard(opts.Logger),
		metrics: opts.Metrics,
		jobs:    make(chan Job, opts.Capacity),
		quit:    make(chan struct{}),
		group:   g,
		cancel:  cancel,
	}

	for i := 0; i < opts.Workers; i++ {
		g.Go(func() error {
			q.work(gctx)
			return nil
		})
	}

	return q
}

// Enqueue adds jobs, blocking while the queue is full
func (q *EmbedQueue) Enqueue(ctx context.Context, jobs ...Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	for _, j := range jobs {
		select {
		case q.jobs <- j:
			q.accepted()
		case <-ctx.Done():
			return ctx.Err()
		case <-q.quit:
			return ErrQueueClosed
		}
	}
	return nil
}

// TryEnqueue adds a job without blocking. It reports false and counts a
// drop when the queue is full or closed.
func (q *EmbedQueue) TryEnqueue(j Job) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if !q.closed {
		select {
		case q.jobs <- j:
			q.accepted()
			return true
		default:
		}
	}

	q.dropped.Add(1)
	q.metrics.RecordQueueEvent(metrics.QueueDropped)
	q.logger.Debug("embed job dropped", "type", j.Ref.Type, "id", j.Ref.ID)
	return false
}

func (q *EmbedQueue) accepted() {
	q.queued.Add(1)
	q.metrics.RecordQueueEvent(metrics.QueueEnqueued)
	q.metrics.RecordQueueDepth(len(q.jobs))
}

// Stats returns current counters
func (q *EmbedQueue) Stats() QueueStats {
	return QueueStats{
		Pending:   len(q.jobs),
		Queued:    q.queued.Load(),
		Processed: q.processed.Load(),
		Embedded:  q.embedded.Load(),
		Failed:    q.failed.Load(),
		Dropped:   q.dropped.Load(),
	}
}

// Close stops accepting jobs and waits for pending ones to finish. If ctx
// ends first, in-flight work is cancelled and ctx's error returned.
func (q *EmbedQueue) Close(ctx context.Context) error {
	// Release senders blocked on a full queue before taking the write lock
	q.quitOnce.Do(func() { close(q.quit) })

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- q.group.Wait() }()

	select {
	case err := <-done:
		q.cancel()
		return err
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

// work pulls jobs until the channel is closed and drained
func (q *EmbedQueue) work(ctx context.Context) {
	batchSize := embedder.DefaultBatchSize
	for j := range q.jobs {
		batch := []Job{j}
	fill:
		for len(batch) < batchSize {
			select {
			case next, ok := <-q.jobs:
				if !ok {
					break fill
				}
				batch = append(batch, next)
			default:
				break fill
			}
		}
		q.process(ctx, batch)
		q.metrics.RecordQueueDepth(len(q.jobs))
	}
}

// process embeds one batch and stores the vectors. A cancelled context
// fails the remaining jobs.
func (q *EmbedQueue) process(ctx context.Context, batch []Job) {
	texts := make([]string, len(batch))
	for i, j := range batch {
		texts[i] = j.Content
	}

	start := time.Now()
	vectors := q.gen.Generate(ctx, texts)

	for i, j := range batch {
		q.processed.Add(1)
		q.metrics.RecordQueueEvent(metrics.QueueProcessed)

		if vectors[i] == nil {
			q.fail(j, errNoVector)
			continue
		}
		stored, err := q.store.SetEmbedding(ctx, j.Ref, j.Content, vectors[i])
		if err != nil {
			q.fail(j, err)
			continue
		}
		// Not stored means the row changed or vanished; a newer job covers it
		if stored {
			q.embedded.Add(1)
		}
	}

	q.logger.Debug("embed batch processed", "size", len(batch), "duration", time.Since(start))
}

var errNoVector = errors.New("no embedding produced")

func (q *EmbedQueue) fail(j Job, err error) {
	q.failed.Add(1)
	q.metrics.RecordQueueEvent(metrics.QueueFailed)
	q.logger.Warn("embed job failed", "type", j.Ref.Type, "id", j.Ref.ID, "error", err)
}
