package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/fireflightsync/fireflight/pkg/store"
	"github.com/fireflightsync/fireflight/pkg/store/boltstore"
	"github.com/fireflightsync/fireflight/pkg/syncerr"
	"github.com/fireflightsync/fireflight/pkg/types"
)

func newTestEngine(t *testing.T) (*Engine, *boltstore.Store) {
	t.Helper()
	backend, err := boltstore.Open(boltstore.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	return New(backend), backend
}

func row(id string, data string) types.Row {
	return types.Row{types.FieldID: id, "data": data}
}

func changeset(table string, created, updated []types.Row, deleted []string) types.Changes {
	return types.Changes{table: {Created: created, Updated: updated, Deleted: deleted}}
}

func sortedIDs(rows []types.Row) []string {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID()
	}
	sort.Strings(ids)
	return ids
}

// First push, then pull-from-null returns the pushed row as an update.
func TestPushThenPullFromNull(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)

	err := eng.Push(ctx, "sync-1", types.PushArgs{
		LastPulledAt: 1,
		Changes:      changeset("entries", []types.Row{row("aaa", "hello")}, nil, nil),
	})
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	result, err := eng.Pull(ctx, "sync-1", []string{"entries"}, types.PullArgs{})
	if err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	entries := result.Changes["entries"]
	if len(entries.Created) != 0 {
		t.Errorf("Created = %v, want empty", entries.Created)
	}
	if len(entries.Updated) != 1 || entries.Updated[0].ID() != "aaa" || entries.Updated[0]["data"] != "hello" {
		t.Errorf("Updated = %v, want [{aaa hello}]", entries.Updated)
	}
	if len(entries.Deleted) != 0 {
		t.Errorf("Deleted = %v, want empty", entries.Deleted)
	}
	if result.Timestamp != 2 {
		t.Errorf("Timestamp = %d, want 2", result.Timestamp)
	}
}

// Sequential pushes merge on pull.
func TestSequentialPushesMergeOnPull(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)

	mustPush(t, eng, ctx, 1, changeset("entries", []types.Row{row("aaa", "hello")}, nil, nil))
	mustPush(t, eng, ctx, 2, changeset("entries", []types.Row{row("bbb", "yo")}, []types.Row{row("aaa", "it's me")}, nil))

	result, err := eng.Pull(ctx, "sync-1", []string{"entries"}, types.PullArgs{})
	if err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	entries := result.Changes["entries"]
	if got := sortedIDs(entries.Updated); len(got) != 2 || got[0] != "aaa" || got[1] != "bbb" {
		t.Errorf("Updated ids = %v, want [aaa bbb]", got)
	}
	for _, r := range entries.Updated {
		if r.ID() == "aaa" && r["data"] != "it's me" {
			t.Errorf("aaa.data = %v, want \"it's me\"", r["data"])
		}
	}
	if result.Timestamp != 3 {
		t.Errorf("Timestamp = %d, want 3", result.Timestamp)
	}
}

// Pull with current watermark is empty.
func TestPullAtCurrentWatermarkIsEmpty(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)

	mustPush(t, eng, ctx, 1, changeset("entries", []types.Row{row("aaa", "hello")}, nil, nil))
	mustPush(t, eng, ctx, 2, changeset("entries", []types.Row{row("bbb", "yo")}, []types.Row{row("aaa", "it's me")}, nil))

	watermark := int64(3)
	result, err := eng.Pull(ctx, "sync-1", []string{"entries"}, types.PullArgs{LastPulledAt: &watermark})
	if err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	entries := result.Changes["entries"]
	if len(entries.Created) != 0 || len(entries.Updated) != 0 || len(entries.Deleted) != 0 {
		t.Errorf("expected empty changes at current watermark, got %+v", entries)
	}
	if result.Timestamp != 3 {
		t.Errorf("Timestamp = %d, want 3", result.Timestamp)
	}
}

// Delete after create.
func TestDeleteAfterCreate(t *testing.T) {
	ctx := context.Background()
	eng, backend := newTestEngine(t)

	mustPush(t, eng, ctx, 1, changeset("entries", []types.Row{row("aaa", "hello")}, nil, nil))
	mustPush(t, eng, ctx, 2, changeset("entries", nil, nil, []string{"aaa"}))

	result, err := eng.Pull(ctx, "sync-1", []string{"entries"}, types.PullArgs{})
	if err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	entries := result.Changes["entries"]
	if len(entries.Updated) != 0 {
		t.Errorf("Updated = %v, want empty", entries.Updated)
	}
	if len(entries.Deleted) != 1 || entries.Deleted[0] != "aaa" {
		t.Errorf("Deleted = %v, want [aaa]", entries.Deleted)
	}
	if result.Timestamp != 3 {
		t.Errorf("Timestamp = %d, want 3", result.Timestamp)
	}

	snap, err := backend.Root("sync-1").Collection("entries").Doc("aaa").Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if snap.Exists {
		t.Error("root/entries/aaa should not exist after delete")
	}
}

// Non-key-safe ids round-trip byte-for-byte.
func TestNonKeySafeIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)
	id := "https://rss.art19.com/smartless-gid://art19-episode-locator"

	mustPush(t, eng, ctx, 1, changeset("entries", []types.Row{row(id, "x")}, nil, nil))

	watermark := int64(1)
	result, err := eng.Pull(ctx, "sync-1", []string{"entries"}, types.PullArgs{LastPulledAt: &watermark})
	if err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	entries := result.Changes["entries"]
	if len(entries.Updated) != 1 || entries.Updated[0].ID() != id {
		t.Errorf("Updated = %v, want id %q preserved", entries.Updated, id)
	}
}

// Stale-write detection: a push with the wrong lastPulledAt fails
// without mutating the root.
func TestStaleWriteDetection(t *testing.T) {
	ctx := context.Background()
	eng, backend := newTestEngine(t)

	mustPush(t, eng, ctx, 1, changeset("entries", []types.Row{row("aaa", "hello")}, nil, nil))

	err := eng.Push(ctx, "sync-1", types.PushArgs{
		LastPulledAt: 1, // stale: next revision is now 2
		Changes:      changeset("entries", []types.Row{row("bbb", "late")}, nil, nil),
	})
	var syncErr *syncerr.Error
	if !errors.As(err, &syncErr) || syncErr.Kind != syncerr.OutOfSync {
		t.Fatalf("Push() error = %v, want OUT_OF_SYNC", err)
	}

	snap, getErr := backend.Root("sync-1").Collection("entries").Doc("bbb").Get(ctx)
	if getErr != nil {
		t.Fatalf("Get() error = %v", getErr)
	}
	if snap.Exists {
		t.Error("a rejected push must not write any table document")
	}
}

// Idempotent re-pull: two consecutive pulls with the same lastPulledAt
// return structurally equal changes and the same timestamp.
func TestIdempotentRepull(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)

	mustPush(t, eng, ctx, 1, changeset("entries", []types.Row{row("aaa", "hello")}, nil, nil))
	mustPush(t, eng, ctx, 2, changeset("entries", []types.Row{row("bbb", "yo")}, nil, nil))

	first, err := eng.Pull(ctx, "sync-1", []string{"entries"}, types.PullArgs{})
	if err != nil {
		t.Fatalf("first Pull() error = %v", err)
	}
	second, err := eng.Pull(ctx, "sync-1", []string{"entries"}, types.PullArgs{})
	if err != nil {
		t.Fatalf("second Pull() error = %v", err)
	}

	if first.Timestamp != second.Timestamp {
		t.Errorf("Timestamp differs across identical pulls: %d vs %d", first.Timestamp, second.Timestamp)
	}
	if fmt.Sprint(first.Changes) != fmt.Sprint(second.Changes) {
		t.Errorf("Changes differ across identical pulls:\n%v\nvs\n%v", first.Changes, second.Changes)
	}
}

// Side-batch boundary: a changeset larger than the transaction write
// limit forces the side-batch path, and the staged rows remain fully
// visible on pull.
func TestSideBatchBoundary(t *testing.T) {
	ctx := context.Background()
	eng, backend := newTestEngine(t)

	const n = store.MaxTransactionWrites + 100
	creates := make([]types.Row, n)
	for i := range creates {
		creates[i] = row(fmt.Sprintf("id-%04d", i), "x")
	}

	mustPush(t, eng, ctx, 1, changeset("entries", creates, nil, nil))

	batchSnaps, err := backend.Root("sync-1").Collection("melonBatches").Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(batchSnaps) != 1 {
		t.Fatalf("len(melonBatches) = %d, want 1", len(batchSnaps))
	}

	result, err := eng.Pull(ctx, "sync-1", []string{"entries"}, types.PullArgs{})
	if err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	entries := result.Changes["entries"]
	if len(entries.Updated) != n {
		t.Errorf("Updated has %d rows, want %d", len(entries.Updated), n)
	}
	if result.Timestamp != 2 {
		t.Errorf("Timestamp = %d, want 2", result.Timestamp)
	}
}

func mustPush(t *testing.T, eng *Engine, ctx context.Context, lastPulledAt int64, changes types.Changes) {
	t.Helper()
	err := eng.Push(ctx, "sync-1", types.PushArgs{LastPulledAt: lastPulledAt, Changes: changes})
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
}
