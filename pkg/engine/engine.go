// Package engine implements the pull/push revision engine: the push
// planner, inline and side-batch push paths, and the pull merger. An
// Engine is the only piece of this module a sync-framework adapter
// talks to.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/fireflightsync/fireflight/pkg/batchwriter"
	"github.com/fireflightsync/fireflight/pkg/idcodec"
	"github.com/fireflightsync/fireflight/pkg/log"
	"github.com/fireflightsync/fireflight/pkg/metrics"
	"github.com/fireflightsync/fireflight/pkg/revision"
	"github.com/fireflightsync/fireflight/pkg/store"
	"github.com/fireflightsync/fireflight/pkg/syncerr"
	"github.com/fireflightsync/fireflight/pkg/types"
	"github.com/rs/zerolog"
)

// Engine runs pull and push against a single remote store backend.
type Engine struct {
	backend store.Store
	logger  zerolog.Logger
}

// New returns an Engine bound to backend.
func New(backend store.Store) *Engine {
	metrics.RegisterComponent("engine", true, "")
	return &Engine{backend: backend, logger: log.WithComponent("engine")}
}

// Push reconciles args.Changes onto root, choosing the inline or
// side-batch path by the effective write count.
func (e *Engine) Push(ctx context.Context, rootHandle string, args types.PushArgs) error {
	timer := metrics.NewTimer()
	logger := e.logger.With().Str("root", rootHandle).Logger()

	root := e.backend.Root(rootHandle)
	rootSnap, err := root.Get(ctx)
	if err != nil {
		return wrapStoreErr(err)
	}
	rs := revision.ParseRoot(rootSnap)

	deleteRefs, err := e.findDeleteRefs(ctx, root, rs.Tokens(), args.Changes)
	if err != nil {
		return wrapStoreErr(err)
	}
	created, updated := countChanges(args.Changes)
	deleteCount := totalRefs(deleteRefs)
	effective := created + updated
	if deleteCount > 0 {
		effective += deleteCount + 1
	}

	logger = logger.With().Int("created", created).Int("updated", updated).Int("deletes", deleteCount).Logger()

	if effective+1 <= store.MaxTransactionWrites {
		logger.Info().Msg("push: taking inline path")
		err = e.inlinePush(ctx, root, args, deleteRefs)
		metrics.PushPathTotal.WithLabelValues("inline").Inc()
	} else {
		logger.Info().Msg("push: taking side-batch path")
		err = e.sideBatchPush(ctx, root, args, deleteRefs, rs)
		metrics.PushPathTotal.WithLabelValues("side_batch").Inc()
		metrics.SideBatchRowsTotal.Add(float64(created + updated))
	}

	timer.ObserveDuration(metrics.PushDuration)
	if err != nil {
		metrics.PushFailuresTotal.Inc()
		logger.Error().Err(err).Msg("push failed")
		return err
	}
	logger.Info().Msg("push committed")
	return nil
}

// inlinePush writes every changed row, every delete, and the delete
// record and root update inside a single transaction.
func (e *Engine) inlinePush(ctx context.Context, root store.DocRef, args types.PushArgs, deleteRefs map[string][]deleteRef) error {
	return wrapStoreErr(e.backend.RunTransaction(ctx, func(ctx context.Context, tx store.Transaction) error {
		rootSnap, err := tx.Get(ctx, root)
		if err != nil {
			return err
		}
		rs := revision.ParseRoot(rootSnap)
		rev := rs.NextRevision()
		if rev != args.LastPulledAt {
			return syncerr.New(syncerr.OutOfSync, fmt.Errorf("next revision is %d, caller expected %d", rev, args.LastPulledAt))
		}

		tableDeletes := map[string][]string{}
		for table, tc := range args.Changes {
			coll := root.Collection(table)
			for _, row := range allRows(tc) {
				encoded := idcodec.Encode(row.ID())
				clean := row.Clean()
				clean[types.FieldFireRevision] = rev
				tx.Set(coll.Doc(encoded), clean, false)
			}
			for _, ref := range deleteRefs[table] {
				tableDeletes[table] = append(tableDeletes[table], ref.EncodedID)
				tx.Delete(ref.Ref)
			}
		}

		if len(tableDeletes) > 0 {
			deleteDoc := root.Collection(revision.CollectionDeletes).Doc()
			tx.Set(deleteDoc, revision.BuildDeleteRecord(rev, tableDeletes), false)
		}

		tx.Set(root, revision.Update(rev), true)
		return nil
	}))
}

// sideBatchPush stages every row into a private side-batch document,
// then integrates it by pointing the root at it; a failed integrate
// rolls the staged data back.
func (e *Engine) sideBatchPush(ctx context.Context, root store.DocRef, args types.PushArgs, deleteRefs map[string][]deleteRef, rs revision.Root) error {
	rev := rs.NextRevision()
	batchDoc := root.Collection(revision.CollectionBatches).Doc()
	logger := e.logger.With().Int64("revision", rev).Logger()

	deletes, err := e.stage(ctx, batchDoc, rev, args.Changes, deleteRefs)
	if err != nil {
		logger.Error().Err(err).Msg("side-batch stage failed; leaving orphaned data")
		return syncerr.New(syncerr.StageFailed, err)
	}

	err = e.backend.RunTransaction(ctx, func(ctx context.Context, tx store.Transaction) error {
		rootSnap, err := tx.Get(ctx, root)
		if err != nil {
			return err
		}
		cur := revision.ParseRoot(rootSnap)
		if cur.NextRevision() != args.LastPulledAt {
			return syncerr.New(syncerr.OutOfSync, fmt.Errorf("next revision is %d, caller expected %d", cur.NextRevision(), args.LastPulledAt))
		}
		tx.Set(batchDoc, revision.BuildSideBatch(rev, deletes), false)
		tx.Set(root, revision.UpdateWithToken(rev, cur.Tokens(), batchDoc.ID()), true)
		return nil
	})
	if err == nil {
		return nil
	}

	logger.Warn().Err(err).Msg("integrate failed; rolling back staged side-batch")
	if rbErr := e.rollback(ctx, batchDoc, tableNames(args.Changes)); rbErr != nil {
		metrics.RollbackFailuresTotal.Inc()
		return syncerr.Rollback(err, rbErr)
	}
	metrics.RollbacksTotal.Inc()
	var syncErr *syncerr.Error
	if errors.As(err, &syncErr) {
		return syncErr
	}
	return syncerr.New(syncerr.IntegrateFailed, err)
}

// stage writes every created/updated row into batchDoc and deletes every
// discovered delete reference from its prior location.
func (e *Engine) stage(ctx context.Context, batchDoc store.DocRef, rev int64, changes types.Changes, deleteRefs map[string][]deleteRef) (map[string][]string, error) {
	writer := batchwriter.New(ctx, e.backend)
	deletes := map[string][]string{}

	for table, tc := range changes {
		coll := batchDoc.Collection(table)
		for _, row := range allRows(tc) {
			encoded := idcodec.Encode(row.ID())
			clean := row.Clean()
			clean[types.FieldFireRevision] = rev
			if err := writer.Add(coll.Doc(encoded), clean, false); err != nil {
				return nil, err
			}
		}
		if refs := deleteRefs[table]; len(refs) > 0 {
			docRefs := make([]store.DocRef, len(refs))
			for i, r := range refs {
				docRefs[i] = r.Ref
				deletes[table] = append(deletes[table], r.EncodedID)
			}
			if err := writer.AddDeletes(docRefs); err != nil {
				return nil, err
			}
		}
	}

	if err := writer.Flush(); err != nil {
		return nil, err
	}
	return deletes, nil
}

// rollback deletes every document staged under batchDoc, in chunks of
// store.MaxTransactionWrites.
func (e *Engine) rollback(ctx context.Context, batchDoc store.DocRef, tables []string) error {
	var refs []store.DocRef
	for _, table := range tables {
		snaps, err := batchDoc.Collection(table).Get(ctx)
		if err != nil {
			return err
		}
		for _, snap := range snaps {
			refs = append(refs, batchDoc.Collection(table).Doc(snap.ID))
		}
	}
	if len(refs) == 0 {
		return nil
	}
	w := batchwriter.New(ctx, e.backend)
	if err := w.AddDeletes(refs); err != nil {
		return err
	}
	return w.Flush()
}

func allRows(tc types.TableChanges) []types.Row {
	rows := make([]types.Row, 0, len(tc.Created)+len(tc.Updated))
	rows = append(rows, tc.Created...)
	rows = append(rows, tc.Updated...)
	return rows
}

func tableNames(changes types.Changes) []string {
	names := make([]string, 0, len(changes))
	for table := range changes {
		names = append(names, table)
	}
	return names
}

func countChanges(changes types.Changes) (created, updated int) {
	for _, tc := range changes {
		created += len(tc.Created)
		updated += len(tc.Updated)
	}
	return
}

func totalRefs(m map[string][]deleteRef) int {
	n := 0
	for _, refs := range m {
		n += len(refs)
	}
	return n
}

func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	var syncErr *syncerr.Error
	if errors.As(err, &syncErr) {
		return syncErr
	}
	return syncerr.New(syncerr.StoreUnavailable, err)
}
