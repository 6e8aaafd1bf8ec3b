// Package metrics records operational counters for indexing and search.
//
// Components accept a Recorder. Use Noop when metrics are not needed and
// Prometheus to expose them on /metrics.
package metrics

import (
	"sync/atomic"
	"time"
)

// Queue events reported through RecordQueueEvent
const (
	QueueEnqueued  = "enqueued"
	QueueProcessed = "processed"
	QueueFailed    = "failed"
	QueueDropped   = "dropped"
)

// Recorder collects metrics from the indexing and query paths.
type Recorder interface {
	// RecordEmbedBatch is called once per provider batch.
	// produced is the number of usable vectors, err is nil if the call succeeded.
	RecordEmbedBatch(size, produced int, duration time.Duration, err error)

	// RecordSearch is called after each query. degraded is true when a
	// semantic or hybrid request ran as full-text only.
	RecordSearch(modeUsed string, degraded bool, duration time.Duration, err error)

	// RecordIndexWrite is called after each upsert or delete against the index.
	RecordIndexWrite(op string, count int, err error)

	// RecordQueueDepth reports the current number of pending embedding jobs.
	RecordQueueDepth(depth int)

	// RecordQueueEvent counts embedding queue events.
	RecordQueueEvent(event string)

	// RecordBackfill counts backfill outcomes per entity type.
	RecordBackfill(entityType, outcome string, n int)
}

// Noop discards all metrics.
type Noop struct{}

func (Noop) RecordEmbedBatch(int, int, time.Duration, error) {}
func (Noop) RecordSearch(string, bool, time.Duration, error) {}
func (Noop) RecordIndexWrite(string, int, error)             {}
func (Noop) RecordQueueDepth(int)                            {}
func (Noop) RecordQueueEvent(string)                         {}
func (Noop) RecordBackfill(string, string, int)              {}

// Basic keeps in-memory counters. Tests use it to assert on activity.
type Basic struct {
	EmbedBatches     atomic.Int64
	EmbedFailures    atomic.Int64
	VectorsProduced  atomic.Int64
	Searches         atomic.Int64
	SearchErrors     atomic.Int64
	DegradedSearches atomic.Int64
	IndexWrites      atomic.Int64
	IndexErrors      atomic.Int64
	QueueDepth       atomic.Int64
	QueueDropped     atomic.Int64
	QueueFailed      atomic.Int64
	BackfillIndexed  atomic.Int64
}

// RecordEmbedBatch implements Recorder.
func (b *Basic) RecordEmbedBatch(_, produced int, _ time.Duration, err error) {
	b.EmbedBatches.Add(1)
	b.VectorsProduced.Add(int64(produced))
	if err != nil {
		b.EmbedFailures.Add(1)
	}
}

// RecordSearch implements Recorder.
func (b *Basic) RecordSearch(_ string, degraded bool, _ time.Duration, err error) {
	b.Searches.Add(1)
	if degraded {
		b.DegradedSearches.Add(1)
	}
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordIndexWrite implements Recorder.
func (b *Basic) RecordIndexWrite(_ string, count int, err error) {
	if err != nil {
		b.IndexErrors.Add(1)
		return
	}
	b.IndexWrites.Add(int64(count))
}

// RecordQueueDepth implements Recorder.
func (b *Basic) RecordQueueDepth(depth int) {
	b.QueueDepth.Store(int64(depth))
}

// RecordQueueEvent implements Recorder.
func (b *Basic) RecordQueueEvent(event string) {
	switch event {
	case QueueDropped:
		b.QueueDropped.Add(1)
	case QueueFailed:
		b.QueueFailed.Add(1)
	}
}

// RecordBackfill implements Recorder.
func (b *Basic) RecordBackfill(_, outcome string, n int) {
	if outcome == "indexed" {
		b.BackfillIndexed.Add(int64(n))
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
