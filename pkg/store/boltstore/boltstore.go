// Package boltstore is a bbolt-backed reference implementation of
// pkg/store.Store. The production remote document store is out of scope
// for the sync engine (it is consumed only through the store.Store
// interface); this package exists so the engine has a concrete backend to
// run against in tests, the CLI demo, and local development, simulating
// Firestore-shaped documents, collections, transactions, and batches on
// top of bbolt's nested buckets.
//
// Every document is represented as a bucket named by its (encoded) id; the
// document's own fields are JSON-encoded under a reserved "__data__" key
// inside that bucket, and its subcollections are nested buckets keyed by
// collection name. A bucket that exists only because it holds
// subcollections, but was never itself written, reports Exists == false —
// matching the way a Firestore document can have live subcollections
// without existing itself.
package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/fireflightsync/fireflight/pkg/metrics"
	"github.com/fireflightsync/fireflight/pkg/store"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var dataKey = []byte("__data__")

// Config holds configuration for opening a Store.
type Config struct {
	DataDir  string
	FileName string // defaults to "fireflight.db"
}

// Store is a bbolt-backed store.Store.
type Store struct {
	db *bolt.DB
}

// Open creates or opens a bbolt-backed store under cfg.DataDir.
func Open(cfg Config) (*Store, error) {
	name := cfg.FileName
	if name == "" {
		name = "fireflight.db"
	}
	dbPath := filepath.Join(cfg.DataDir, name)

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		metrics.RegisterComponent("store", false, err.Error())
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	metrics.RegisterComponent("store", true, "")
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Root returns the root document for the given sync context handle.
func (s *Store) Root(handle string) store.DocRef {
	return &docRef{db: s.db, path: []string{handle}}
}

// RunTransaction executes fn inside one bbolt read-write transaction.
// Writes queued through tx.Set/tx.Delete are applied immediately against
// the live bolt transaction but, like a real document-store transaction,
// are invisible to any other reader until this call returns successfully.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Transaction) error) error {
	return s.db.Update(func(btx *bolt.Tx) error {
		tx := &transaction{tx: btx}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if tx.err != nil {
			return tx.err
		}
		if tx.writes > store.MaxTransactionWrites {
			return fmt.Errorf("transaction queued %d writes, exceeding the %d-write limit", tx.writes, store.MaxTransactionWrites)
		}
		return nil
	})
}

// Batch returns a fresh, empty write batch.
func (s *Store) Batch() store.WriteBatch {
	return &writeBatch{db: s.db}
}

// docRef / collectionRef

type docRef struct {
	db   *bolt.DB
	path []string
}

func (r *docRef) ID() string {
	return r.path[len(r.path)-1]
}

func (r *docRef) Get(ctx context.Context) (*store.Snapshot, error) {
	snap := &store.Snapshot{ID: r.ID()}
	err := r.db.View(func(tx *bolt.Tx) error {
		b, err := walk(tx, r.path, false)
		if err != nil {
			return err
		}
		data, ok, err := readData(b)
		if err != nil {
			return err
		}
		snap.Data, snap.Exists = data, ok
		return nil
	})
	return snap, err
}

func (r *docRef) Collection(name string) store.CollectionRef {
	return &collectionRef{db: r.db, path: appendPath(r.path, name)}
}

type collectionRef struct {
	db   *bolt.DB
	path []string
}

func (c *collectionRef) Doc(id ...string) store.DocRef {
	docID := ""
	if len(id) > 0 {
		docID = id[0]
	}
	if docID == "" {
		docID = uuid.New().String()
	}
	return &docRef{db: c.db, path: appendPath(c.path, docID)}
}

func (c *collectionRef) Where(field string, op store.Op, value any) store.Query {
	return (&query{db: c.db, collPath: c.path}).Where(field, op, value)
}

func (c *collectionRef) Get(ctx context.Context) ([]*store.Snapshot, error) {
	return (&query{db: c.db, collPath: c.path}).Get(ctx)
}

func appendPath(path []string, seg string) []string {
	out := make([]string, len(path)+1)
	copy(out, path)
	out[len(path)] = seg
	return out
}

// transaction

type transaction struct {
	tx     *bolt.Tx
	writes int
	err    error
}

func (t *transaction) Get(ctx context.Context, ref store.DocRef) (*store.Snapshot, error) {
	r, ok := ref.(*docRef)
	if !ok {
		return nil, fmt.Errorf("boltstore: ref not bound to this backend")
	}
	b, err := walk(t.tx, r.path, false)
	if err != nil {
		return nil, err
	}
	data, exists, err := readData(b)
	if err != nil {
		return nil, err
	}
	return &store.Snapshot{ID: r.ID(), Exists: exists, Data: data}, nil
}

func (t *transaction) Set(ref store.DocRef, data map[string]any, merge bool) {
	r, ok := ref.(*docRef)
	if !ok {
		t.err = fmt.Errorf("boltstore: ref not bound to this backend")
		return
	}
	t.writes++
	b, err := walk(t.tx, r.path, true)
	if err != nil {
		t.err = err
		return
	}
	if err := writeData(b, data, merge); err != nil {
		t.err = err
	}
}

func (t *transaction) Delete(ref store.DocRef) {
	r, ok := ref.(*docRef)
	if !ok {
		t.err = fmt.Errorf("boltstore: ref not bound to this backend")
		return
	}
	t.writes++
	if err := deleteDoc(t.tx, r.path); err != nil {
		t.err = err
	}
}

// writeBatch

type batchOp struct {
	ref    *docRef
	data   map[string]any
	merge  bool
	delete bool
}

type writeBatch struct {
	db  *bolt.DB
	ops []batchOp
}

func (b *writeBatch) Set(ref store.DocRef, data map[string]any, merge bool) {
	r, _ := ref.(*docRef)
	b.ops = append(b.ops, batchOp{ref: r, data: data, merge: merge})
}

func (b *writeBatch) Delete(ref store.DocRef) {
	r, _ := ref.(*docRef)
	b.ops = append(b.ops, batchOp{ref: r, delete: true})
}

func (b *writeBatch) Commit(ctx context.Context) error {
	if len(b.ops) > store.MaxTransactionWrites {
		return fmt.Errorf("batch holds %d writes, exceeding the %d-write limit", len(b.ops), store.MaxTransactionWrites)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		for _, op := range b.ops {
			if op.ref == nil {
				return fmt.Errorf("boltstore: ref not bound to this backend")
			}
			if op.delete {
				if err := deleteDoc(tx, op.ref.path); err != nil {
					return err
				}
				continue
			}
			bucket, err := walk(tx, op.ref.path, true)
			if err != nil {
				return err
			}
			if err := writeData(bucket, op.data, op.merge); err != nil {
				return err
			}
		}
		return nil
	})
}

// query

type filter struct {
	field string
	op    store.Op
	value any
}

type query struct {
	db         *bolt.DB
	collPath   []string
	filters    []filter
	orderField string
	ascending  bool
	hasOrder   bool
}

func (q *query) Where(field string, op store.Op, value any) store.Query {
	nq := *q
	nq.filters = append(append([]filter{}, q.filters...), filter{field, op, value})
	return &nq
}

func (q *query) OrderBy(field string, ascending bool) store.Query {
	nq := *q
	nq.orderField, nq.ascending, nq.hasOrder = field, ascending, true
	return &nq
}

func (q *query) Get(ctx context.Context) ([]*store.Snapshot, error) {
	var results []*store.Snapshot
	err := q.db.View(func(tx *bolt.Tx) error {
		b, err := walk(tx, q.collPath, false)
		if err != nil {
			return err
		}
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			if v != nil {
				return nil
			}
			docBucket := b.Bucket(k)
			data, exists, err := readData(docBucket)
			if err != nil || !exists {
				return err
			}
			if !matchesAll(data, q.filters) {
				return nil
			}
			results = append(results, &store.Snapshot{ID: string(k), Exists: true, Data: data})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if q.hasOrder {
		sort.SliceStable(results, func(i, j int) bool {
			a, _ := toFloat(results[i].Data[q.orderField])
			b, _ := toFloat(results[j].Data[q.orderField])
			if q.ascending {
				return a < b
			}
			return a > b
		})
	}
	return results, nil
}

func matchesAll(data map[string]any, filters []filter) bool {
	for _, f := range filters {
		v, ok := toFloat(data[f.field])
		if !ok {
			return false
		}
		want, ok := toFloat(f.value)
		if !ok {
			return false
		}
		switch f.op {
		case store.OpEqual:
			if v != want {
				return false
			}
		case store.OpGreaterEqual:
			if v < want {
				return false
			}
		case store.OpLess:
			if v >= want {
				return false
			}
		}
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// bucket-chain helpers

func walk(tx *bolt.Tx, path []string, create bool) (*bolt.Bucket, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("boltstore: empty path")
	}
	b, err := rootBucket(tx, path[0], create)
	if err != nil || b == nil {
		return b, err
	}
	for _, seg := range path[1:] {
		b, err = childBucket(b, seg, create)
		if err != nil || b == nil {
			return b, err
		}
	}
	return b, nil
}

func rootBucket(tx *bolt.Tx, name string, create bool) (*bolt.Bucket, error) {
	if create {
		return tx.CreateBucketIfNotExists([]byte(name))
	}
	return tx.Bucket([]byte(name)), nil
}

func childBucket(b *bolt.Bucket, name string, create bool) (*bolt.Bucket, error) {
	if create {
		return b.CreateBucketIfNotExists([]byte(name))
	}
	return b.Bucket([]byte(name)), nil
}

func readData(b *bolt.Bucket) (map[string]any, bool, error) {
	if b == nil {
		return nil, false, nil
	}
	raw := b.Get(dataKey)
	if raw == nil {
		return nil, false, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false, err
	}
	return m, true, nil
}

func writeData(b *bolt.Bucket, data map[string]any, merge bool) error {
	final := data
	if merge {
		existing, ok, err := readData(b)
		if err != nil {
			return err
		}
		if ok {
			final = make(map[string]any, len(existing)+len(data))
			for k, v := range existing {
				final[k] = v
			}
			for k, v := range data {
				final[k] = v
			}
		}
	}
	raw, err := json.Marshal(final)
	if err != nil {
		return err
	}
	return b.Put(dataKey, raw)
}

func deleteDoc(tx *bolt.Tx, path []string) error {
	if len(path) == 1 {
		err := tx.DeleteBucket([]byte(path[0]))
		if err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		return nil
	}
	parent, err := walk(tx, path[:len(path)-1], false)
	if err != nil {
		return err
	}
	if parent == nil {
		return nil
	}
	err = parent.DeleteBucket([]byte(path[len(path)-1]))
	if err != nil && err != bolt.ErrBucketNotFound {
		return err
	}
	return nil
}
