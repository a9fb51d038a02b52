// Package revision reads and writes the revision metadata carried by the
// root document and by side-batch documents: the monotone revision
// counter that replaces wall-clock ordering, and the batch-token map that
// routes a revision's writes to either the root or a private side-batch.
//
// Field and collection names here are part of the wire contract and
// must not change.
package revision

import (
	"strconv"
	"time"

	"github.com/fireflightsync/fireflight/pkg/store"
)

// Wire field and collection names.
const (
	FieldLatestRevision = "melonLatestRevision"
	FieldLatestDate     = "melonLatestDate"
	FieldBatchTokens    = "melonBatchTokens"

	CollectionBatches = "melonBatches"
	CollectionDeletes = "melonDeletes"
)

// Root is the parsed state of the root document: an explicit sum type
// rather than a partial record with implicit nil/absent fields. A root
// that has never been written is the zero value (Present == false).
type Root struct {
	Present        bool
	LatestRevision int64
	LatestDate     string
	BatchTokens    map[string]string // revision string -> side-batch doc id
}

// ParseRoot derives a Root from a snapshot of the root document. A
// never-written root (snap.Exists == false) is the absent state.
func ParseRoot(snap *store.Snapshot) Root {
	if snap == nil || !snap.Exists {
		return Root{}
	}
	r := Root{Present: true}
	if v, ok := toInt64(snap.Data[FieldLatestRevision]); ok {
		r.LatestRevision = v
	}
	if s, ok := snap.Data[FieldLatestDate].(string); ok {
		r.LatestDate = s
	}
	r.BatchTokens = parseTokens(snap.Data[FieldBatchTokens])
	return r
}

func parseTokens(v any) map[string]string {
	out := map[string]string{}
	m, ok := v.(map[string]any)
	if !ok {
		return out
	}
	for k, tv := range m {
		if s, ok := tv.(string); ok {
			out[k] = s
		}
	}
	return out
}

// NextRevision is the revision number the next successful push will
// commit, and equals the exclusive end of the range a pull with this root
// snapshot would return: (latestRevision ?? 0) + 1.
func (r Root) NextRevision() int64 {
	return r.LatestRevision + 1
}

// EndRevisionExclusive is an alias for NextRevision: pull and push derive
// the identical value from the identical root snapshot.
func (r Root) EndRevisionExclusive() int64 {
	return r.NextRevision()
}

// Tokens returns the root's batch-token map, never nil.
func (r Root) Tokens() map[string]string {
	if r.BatchTokens == nil {
		return map[string]string{}
	}
	return r.BatchTokens
}

// Now returns the advisory ISO-8601 timestamp stamped on root and
// side-batch writes. It is never used for ordering.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Update is the merge-write payload for committing a revision onto the
// root. Merge semantics (store.DocRef via tx.Set(..., merge=true)) must
// preserve any batchTokens entries the caller does not include here.
func Update(revision int64) map[string]any {
	return map[string]any{
		FieldLatestRevision: revision,
		FieldLatestDate:     Now(),
	}
}

// UpdateWithToken is Update plus a single new batchTokens entry, merged on
// top of whatever the root already has.
func UpdateWithToken(revision int64, priorTokens map[string]string, newToken string) map[string]any {
	tokens := make(map[string]any, len(priorTokens)+1)
	for k, v := range priorTokens {
		tokens[k] = v
	}
	tokens[revString(revision)] = newToken
	u := Update(revision)
	u[FieldBatchTokens] = tokens
	return u
}

func revString(revision int64) string {
	return strconv.FormatInt(revision, 10)
}

// SideBatch is the parsed state of a side-batch document.
type SideBatch struct {
	LatestRevision int64
	LatestDate     string
	Deletes        map[string][]string // table -> encoded ids
}

// ParseSideBatch derives a SideBatch from a side-batch document snapshot.
func ParseSideBatch(snap *store.Snapshot) SideBatch {
	var sb SideBatch
	if snap == nil || !snap.Exists {
		return sb
	}
	if v, ok := toInt64(snap.Data[FieldLatestRevision]); ok {
		sb.LatestRevision = v
	}
	if s, ok := snap.Data[FieldLatestDate].(string); ok {
		sb.LatestDate = s
	}
	sb.Deletes = parseDeletes(snap.Data["deletes"])
	return sb
}

func parseDeletes(v any) map[string][]string {
	out := map[string][]string{}
	m, ok := v.(map[string]any)
	if !ok {
		return out
	}
	for table, idsV := range m {
		ids, ok := idsV.([]any)
		if !ok {
			continue
		}
		list := make([]string, 0, len(ids))
		for _, idv := range ids {
			if s, ok := idv.(string); ok {
				list = append(list, s)
			}
		}
		out[table] = list
	}
	return out
}

// BuildSideBatch is the write payload for a side-batch document at
// integrate time.
func BuildSideBatch(revision int64, deletes map[string][]string) map[string]any {
	d := make(map[string]any, len(deletes))
	for table, ids := range deletes {
		anyIDs := make([]any, len(ids))
		for i, id := range ids {
			anyIDs[i] = id
		}
		d[table] = anyIDs
	}
	return map[string]any{
		FieldLatestRevision: revision,
		FieldLatestDate:     Now(),
		"deletes":           d,
	}
}

// DeleteRecord is the parsed state of an inline-push delete record.
type DeleteRecord struct {
	Revision int64
	Deletes  map[string][]string
}

// ParseDeleteRecord derives a DeleteRecord from a melonDeletes document.
func ParseDeleteRecord(snap *store.Snapshot) DeleteRecord {
	var dr DeleteRecord
	if snap == nil || !snap.Exists {
		return dr
	}
	if v, ok := toInt64(snap.Data["revision"]); ok {
		dr.Revision = v
	}
	dr.Deletes = parseDeletes(snap.Data["deletes"])
	return dr
}

// BuildDeleteRecord is the write payload for a melonDeletes document.
func BuildDeleteRecord(revision int64, deletes map[string][]string) map[string]any {
	d := make(map[string]any, len(deletes))
	for table, ids := range deletes {
		anyIDs := make([]any, len(ids))
		for i, id := range ids {
			anyIDs[i] = id
		}
		d[table] = anyIDs
	}
	return map[string]any{
		"revision": revision,
		"deletes":  d,
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	default:
		return 0, false
	}
}
