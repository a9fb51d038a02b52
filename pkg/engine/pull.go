package engine

import (
	"context"
	"sort"
	"strconv"

	"github.com/fireflightsync/fireflight/pkg/idcodec"
	"github.com/fireflightsync/fireflight/pkg/metrics"
	"github.com/fireflightsync/fireflight/pkg/revision"
	"github.com/fireflightsync/fireflight/pkg/store"
	"github.com/fireflightsync/fireflight/pkg/types"
)

// tableState accumulates the merged view of one table across the walked
// revision range. Upserts are folded in ascending revision order, so the
// latest upsert of an id wins; a delete of an id anywhere in the range
// occludes every upsert of it, whichever revision came later.
type tableState struct {
	updated map[string]types.Row
	deleted map[string]bool
}

func newTableState() *tableState {
	return &tableState{updated: map[string]types.Row{}, deleted: map[string]bool{}}
}

func (s *tableState) applyUpdate(id string, row types.Row) {
	s.updated[id] = row
}

func (s *tableState) applyDelete(id string) {
	s.deleted[id] = true
}

// Pull walks the revision range [lastPulledAt ?? 1, endRevisionExclusive)
// across the root and any side-batches it references, producing a merged
// changeset.
func (e *Engine) Pull(ctx context.Context, rootHandle string, tables []string, args types.PullArgs) (result *types.PullResult, err error) {
	timer := metrics.NewTimer()
	logger := e.logger.With().Str("root", rootHandle).Logger()
	defer func() {
		if err != nil {
			metrics.PullFailuresTotal.Inc()
			logger.Error().Err(err).Msg("pull failed")
		}
	}()

	root := e.backend.Root(rootHandle)
	rootSnap, err := root.Get(ctx)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	rs := revision.ParseRoot(rootSnap)
	end := rs.EndRevisionExclusive()
	tokens := rs.Tokens()

	start := int64(1)
	if args.LastPulledAt != nil {
		start = *args.LastPulledAt
	}

	states := make(map[string]*tableState, len(tables))
	for _, t := range tables {
		states[t] = newTableState()
	}

	for cur := start; cur < end; {
		token, isBatchRevision := tokens[strconv.FormatInt(cur, 10)]
		if isBatchRevision {
			if err := e.mergeSideBatchRun(ctx, root, token, cur, tables, states); err != nil {
				return nil, err
			}
			cur++
			continue
		}

		runEnd := cur + 1
		for runEnd < end {
			if _, ok := tokens[strconv.FormatInt(runEnd, 10)]; ok {
				break
			}
			runEnd++
		}
		if err := e.mergeRootRun(ctx, root, cur, runEnd, tables, states); err != nil {
			return nil, err
		}
		cur = runEnd
	}

	changes := make(types.Changes, len(tables))
	for _, table := range tables {
		changes[table] = states[table].toTableChanges()
	}

	timer.ObserveDuration(metrics.PullDuration)
	logger.Info().Int64("start", start).Int64("end", end).Msg("pull merged")

	return &types.PullResult{Changes: changes, Timestamp: end}, nil
}

func (s *tableState) toTableChanges() types.TableChanges {
	var tc types.TableChanges
	for id := range s.deleted {
		tc.Deleted = append(tc.Deleted, id)
	}
	for id, row := range s.updated {
		if s.deleted[id] {
			continue
		}
		tc.Updated = append(tc.Updated, row)
	}
	sort.Strings(tc.Deleted)
	sort.Slice(tc.Updated, func(i, j int) bool { return tc.Updated[i].ID() < tc.Updated[j].ID() })
	return tc
}

// mergeSideBatchRun folds a single-revision side-batch into states.
func (e *Engine) mergeSideBatchRun(ctx context.Context, root store.DocRef, token string, rev int64, tables []string, states map[string]*tableState) error {
	batchDoc := root.Collection(revision.CollectionBatches).Doc(token)
	if err := e.mergeCreatesAndUpdates(ctx, batchDoc, tables, rev, rev+1, states); err != nil {
		return err
	}
	snap, err := batchDoc.Get(ctx)
	if err != nil {
		return wrapStoreErr(err)
	}
	sb := revision.ParseSideBatch(snap)
	applyDeletes(sb.Deletes, states)
	return nil
}

// mergeRootRun folds a contiguous root-backed revision range [start, end)
// into states.
func (e *Engine) mergeRootRun(ctx context.Context, root store.DocRef, start, end int64, tables []string, states map[string]*tableState) error {
	if err := e.mergeCreatesAndUpdates(ctx, root, tables, start, end, states); err != nil {
		return err
	}
	snaps, err := root.Collection(revision.CollectionDeletes).
		Where("revision", store.OpGreaterEqual, start).
		Where("revision", store.OpLess, end).
		Get(ctx)
	if err != nil {
		return wrapStoreErr(err)
	}
	for _, snap := range snaps {
		dr := revision.ParseDeleteRecord(snap)
		applyDeletes(dr.Deletes, states)
	}
	return nil
}

func applyDeletes(deletes map[string][]string, states map[string]*tableState) {
	for table, ids := range deletes {
		st := states[table]
		if st == nil {
			continue
		}
		for _, encoded := range ids {
			st.applyDelete(idcodec.Decode(encoded))
		}
	}
}

// mergeCreatesAndUpdates queries parent/<table> for every document whose
// melonFireRevision falls in [start, end), ascending, and folds each into
// states; ascending order guarantees the latest revision in the range
// wins.
func (e *Engine) mergeCreatesAndUpdates(ctx context.Context, parent store.DocRef, tables []string, start, end int64, states map[string]*tableState) error {
	for _, table := range tables {
		st := states[table]
		if st == nil {
			continue
		}
		snaps, err := parent.Collection(table).
			Where(types.FieldFireRevision, store.OpGreaterEqual, start).
			Where(types.FieldFireRevision, store.OpLess, end).
			OrderBy(types.FieldFireRevision, true).
			Get(ctx)
		if err != nil {
			return wrapStoreErr(err)
		}
		for _, snap := range snaps {
			id := idcodec.Decode(snap.ID)
			row := types.Row(snap.Data).Clean()
			row[types.FieldID] = id
			st.applyUpdate(id, row)
		}
	}
	return nil
}

// deleteRef is a discovered reference to an existing copy of a deleted
// row.
type deleteRef struct {
	Ref       store.DocRef
	EncodedID string
}

// findDeleteRefs discovers every existing copy of every deleted id in
// changes, across the root and every known side-batch.
func (e *Engine) findDeleteRefs(ctx context.Context, root store.DocRef, tokens map[string]string, changes types.Changes) (map[string][]deleteRef, error) {
	out := map[string][]deleteRef{}
	for table, tc := range changes {
		for _, id := range tc.Deleted {
			encoded := idcodec.Encode(id)

			rootRef := root.Collection(table).Doc(encoded)
			snap, err := rootRef.Get(ctx)
			if err != nil {
				return nil, err
			}
			if snap.Exists {
				out[table] = append(out[table], deleteRef{Ref: rootRef, EncodedID: encoded})
			}

			for _, token := range tokens {
				batchRef := root.Collection(revision.CollectionBatches).Doc(token).Collection(table).Doc(encoded)
				bsnap, err := batchRef.Get(ctx)
				if err != nil {
					return nil, err
				}
				if bsnap.Exists {
					out[table] = append(out[table], deleteRef{Ref: batchRef, EncodedID: encoded})
				}
			}
		}
	}
	return out, nil
}
