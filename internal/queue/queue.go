// Package queue implements the durable, order-preserving buffer between the
// ingestion gateway and the batch pipeline.
//
// The queue is the only mutable state shared between HTTP handlers (Append)
// and the batch scheduler (DrainAll). Both mutations persist the full queue
// state before returning, so a restart reconstructs exactly the pending set.
package queue

import (
	"context"
	"encoding/json"
	"sync"

	"hookrelay/internal/record"
	"hookrelay/internal/storage"
	logx "hookrelay/pkg/logx"
)

type Queue struct {
	mu    sync.Mutex
	items []record.Record

	store storage.Store
	log   logx.Logger
}

// New creates the queue, restoring any snapshot left by a previous run.
// A nil store keeps the queue purely in-memory.
func New(ctx context.Context, store storage.Store, log logx.Logger) *Queue {
	if log.IsZero() {
		log = logx.Nop()
	}
	q := &Queue{store: store, log: log}

	if store != nil {
		snap, err := store.LoadQueue(ctx)
		if err != nil {
			log.Warn("queue restore failed", logx.Err(err))
		} else if len(snap) > 0 {
			var items []record.Record
			if err := json.Unmarshal(snap, &items); err != nil {
				log.Warn("queue snapshot unreadable; starting empty", logx.Err(err))
			} else if len(items) > 0 {
				q.items = items
				log.Info("recovered pending messages", logx.Int("count", len(items)))
			}
		}
	}
	return q
}

// Append adds one record to the tail of the queue and persists the new
// state. A failed persist is logged and tolerated: the record stays in
// memory and the next successful mutation re-persists everything.
func (q *Queue) Append(ctx context.Context, rec record.Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, rec)
	q.persistLocked(ctx)
	return nil
}

// DrainAll atomically captures and clears the queue, persists the empty
// state, and returns the captured records in insertion order.
//
// Once drained, records are never restored; delivery after this point is
// best-effort.
func (q *Queue) DrainAll(ctx context.Context) []record.Record {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	drained := q.items
	q.items = nil
	q.persistLocked(ctx)
	return drained
}

// Len reports the number of pending records. Safe to call concurrently
// with Append/DrainAll.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// persistLocked snapshots the current in-memory sequence. Callers hold q.mu,
// which keeps append/drain each atomic with respect to persistence.
func (q *Queue) persistLocked(ctx context.Context) {
	if q.store == nil {
		return
	}
	snap, err := json.Marshal(q.items)
	if err != nil {
		q.log.Warn("queue snapshot encode failed", logx.Err(err))
		return
	}
	if err := q.store.SaveQueue(ctx, snap); err != nil {
		q.log.Warn("queue persist failed; keeping in-memory state", logx.Err(err), logx.Int("pending", len(q.items)))
	}
}
