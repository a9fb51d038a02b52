// Package batchwriter streams an unbounded set of writes and deletes
// through a remote store's fixed-size write batches, committing and
// reopening as it goes.
package batchwriter

import (
	"context"
	"fmt"

	"github.com/fireflightsync/fireflight/pkg/log"
	"github.com/fireflightsync/fireflight/pkg/store"
)

// Writer is a streaming accumulator bound to a single remote write-batch
// handle and a running write count. It is not safe for concurrent use —
// callers must await each Add/AddDeletes before issuing the next, since
// the internal counter is not atomic — and it is not reusable after
// Flush.
type Writer struct {
	ctx     context.Context
	backend store.Store
	batch   store.WriteBatch
	count   int
	flushed bool
}

// New returns a Writer that commits full batches through backend as it
// fills up.
func New(ctx context.Context, backend store.Store) *Writer {
	return &Writer{ctx: ctx, backend: backend, batch: backend.Batch()}
}

// Add queues a set at ref, committing and opening a fresh batch once the
// running count reaches store.MaxTransactionWrites.
func (w *Writer) Add(ref store.DocRef, data map[string]any, merge bool) error {
	if w.flushed {
		return fmt.Errorf("batchwriter: Add called after Flush")
	}
	w.batch.Set(ref, data, merge)
	w.count++
	return w.rolloverIfFull()
}

// AddDeletes queues deletes for every ref given. refs may number more
// than store.MaxTransactionWrites: AddDeletes fills the current batch,
// flushes it, then commits full-sized batches for the remainder until
// fewer than a full batch's worth of refs is left, carrying that
// remainder forward uncommitted.
func (w *Writer) AddDeletes(refs []store.DocRef) error {
	if w.flushed {
		return fmt.Errorf("batchwriter: AddDeletes called after Flush")
	}
	for _, ref := range refs {
		w.batch.Delete(ref)
		w.count++
		if err := w.rolloverIfFull(); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) rolloverIfFull() error {
	if w.count < store.MaxTransactionWrites {
		return nil
	}
	if err := w.batch.Commit(w.ctx); err != nil {
		return fmt.Errorf("batchwriter: commit failed: %w", err)
	}
	log.Logger.Debug().Int("writes", w.count).Msg("batch writer committed full batch")
	w.batch = w.backend.Batch()
	w.count = 0
	return nil
}

// Flush commits the current, possibly partial, batch. It must be called
// exactly once, after which the Writer must not be used again.
func (w *Writer) Flush() error {
	if w.flushed {
		return fmt.Errorf("batchwriter: Flush called twice")
	}
	w.flushed = true
	if w.count == 0 {
		return nil
	}
	if err := w.batch.Commit(w.ctx); err != nil {
		return fmt.Errorf("batchwriter: final commit failed: %w", err)
	}
	log.Logger.Debug().Int("writes", w.count).Msg("batch writer flushed")
	return nil
}
