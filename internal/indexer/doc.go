// Package indexer keeps the search index in step with the source tables.
//
// The Reconciler is the only component that writes index rows. Mutation
// handlers call Sync with the changed record; the backfill job calls
// UpsertSync page by page. Both converge on the same rows because writes are
// upserts keyed by (entity type, entity id).
//
// # Two-phase writes
//
// Phase 1 stores the row and its full-text data in one transaction and is
// what makes a record searchable. Phase 2 attaches an embedding:
//
//	rec := indexer.New(store, gen, indexer.Options{Queue: queue})
//
//	// Incremental: phase 2 runs on the EmbedQueue
//	err := rec.Sync(ctx, types.Bookmark{ID: 42, Title: "How to Read", ...})
//
//	// Backfill: phase 2 runs inline
//	embedded, err := rec.UpsertSync(ctx, records)
//
// Embedding failures never fail either call. The row stays searchable by
// text and is picked up again by the next sync or backfill.
//
// # Embed queue
//
// EmbedQueue is a bounded worker pool. Enqueue blocks while the queue is
// full; TryEnqueue drops the job instead and counts it. Close drains pending
// jobs before returning:
//
//	queue := indexer.NewEmbedQueue(gen, store, indexer.QueueOptions{Workers: 2})
//	defer queue.Close(ctx)
//
// A vector is only stored if the row still holds the content it was computed
// from, so a slow job never overwrites a newer edit.
//
// # Rebuild
//
// Rebuild delegates to the function registered with SetRebuilder, normally
// the backfill orchestrator's Run. Concurrent rebuilds are refused with
// ErrRebuildInProgress.
package indexer
