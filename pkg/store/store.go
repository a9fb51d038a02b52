// Package store defines the remote document store interface the sync
// engine consumes: single-document read, bounded multi-document
// transactions, bounded write batches, and collection queries by an
// indexed numeric field. The engine never talks to a concrete backend
// directly — every push and pull runs entirely against this interface.
package store

import "context"

// MaxTransactionWrites is the hard cap on writes (set/delete operations)
// the backend accepts within a single transaction or batch. The planner
// reserves one write of this budget for the root-document update.
const MaxTransactionWrites = 500

// Snapshot is the result of reading a single document.
type Snapshot struct {
	ID     string
	Exists bool
	Data   map[string]any
}

// DocRef addresses a single document under a collection.
type DocRef interface {
	ID() string
	Get(ctx context.Context) (*Snapshot, error)
	Collection(name string) CollectionRef
}

// CollectionRef addresses a collection of documents under a DocRef (or the
// store root).
type CollectionRef interface {
	// Doc returns a handle to the document with the given id. Called with
	// no id, it allocates a fresh auto-generated id.
	Doc(id ...string) DocRef
	// Where begins a query over the collection's documents.
	Where(field string, op Op, value any) Query
	// Get returns every document currently in the collection.
	Get(ctx context.Context) ([]*Snapshot, error)
}

// Op is a query comparison operator.
type Op string

const (
	OpEqual        Op = "=="
	OpGreaterEqual Op = ">="
	OpLess         Op = "<"
)

// Query is a chainable, filtered, ordered collection read.
type Query interface {
	Where(field string, op Op, value any) Query
	OrderBy(field string, ascending bool) Query
	Get(ctx context.Context) ([]*Snapshot, error)
}

// Transaction is the mutation surface available inside RunTransaction. A
// transaction may read any number of documents but at most
// MaxTransactionWrites set/delete operations may be queued before commit.
type Transaction interface {
	Get(ctx context.Context, ref DocRef) (*Snapshot, error)
	Set(ref DocRef, data map[string]any, merge bool)
	Delete(ref DocRef)
}

// WriteBatch is a non-transactional bounded write batch: writes queued on
// it are not visible to readers, and to each other, until Commit succeeds.
type WriteBatch interface {
	Set(ref DocRef, data map[string]any, merge bool)
	Delete(ref DocRef)
	Commit(ctx context.Context) error
}

// Store is the root handle into the remote document store.
type Store interface {
	// Root returns the root document for the given sync context handle.
	Root(handle string) DocRef
	// RunTransaction executes fn inside one all-or-nothing transaction.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
	// Batch returns a fresh, empty write batch.
	Batch() WriteBatch
}
