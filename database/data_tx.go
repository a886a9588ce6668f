package database

import (
	"github.com/dmikhalin/typedb/errors"
	"github.com/dmikhalin/typedb/graph"
)

// DataTransaction is the Data variant of Transaction. Its own Store
// (txBase.store) holds instance-level vertices and edges, plus cached
// handles of the types NewThing links instances to (Flush rewrites those
// type records unchanged); type lookups go through the pinned
// schemaCache, read-only, so a data
// transaction can never mutate the schema subgraph -- the commit
// protocol's "schema subgraph appears modified" guard is therefore
// structural here rather than a runtime check (see DESIGN.md).
type DataTransaction struct {
	*txBase
	db    *Database
	cache *schemaCache
}

func (db *Database) newDataTransaction(txType TxType) (*DataTransaction, error) {
	cache, err := db.acquireSchemaCache()
	if err != nil {
		return nil, err
	}
	kvTx, err := db.engine.BeginTx(txType == Write)
	if err != nil {
		db.releaseSchemaCache(cache)
		return nil, errors.Wrap(err, "database: open data transaction")
	}
	base := newTxBase(txType, kvTx)
	return &DataTransaction{txBase: base, db: db, cache: cache}, nil
}

// SchemaGraph returns the read-only pinned schema graph this data
// transaction's type lookups resolve against.
func (t *DataTransaction) SchemaGraph() *graph.Store { return t.cache.store }

// NewThing allocates a fresh instance vertex of kind and links it to its
// type via HasInstance, the same edge kind Lattice.Delete checks to reject
// deleting a type with live instances in its subtree.
func (t *DataTransaction) NewThing(kind graph.Kind, typeVertex *graph.Vertex) (*graph.Vertex, error) {
	if t.txType != Write {
		return nil, errors.New(errors.IllegalCommit, "database: read transaction cannot create instances")
	}
	id, err := t.db.dataKeyGen.Next(t.kvTx)
	if err != nil {
		return nil, err
	}
	// Cache the committed type vertex in this transaction's store so
	// AddEdge can link to it.
	tv, err := t.store.Vertex(typeVertex.ID)
	if err != nil {
		return nil, err
	}
	if tv == nil {
		return nil, errors.New(errors.Internal, "database: type vertex not found in storage")
	}
	v := t.store.NewVertex(id, kind)
	if _, err := t.store.AddEdge(graph.HasInstance, v.ID, typeVertex.ID, 0); err != nil {
		return nil, err
	}
	return v, nil
}

// Commit runs the write-data commit protocol.
func (t *DataTransaction) Commit() error {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return errors.New(errors.TransactionClosed, "database: transaction closed")
	}
	t.open = false
	t.mu.Unlock()

	defer t.finishCommit()

	if t.txType != Write {
		return errors.New(errors.IllegalCommit, "database: read transaction cannot commit")
	}

	t.kvTx.DisableIndexing()

	if err := t.store.Flush(); err != nil {
		t.kvTx.Rollback()
		return err
	}

	if err := t.kvTx.Commit(); err != nil {
		return errors.Wrap(err, "database: data commit")
	}
	return nil
}

func (t *DataTransaction) finishCommit() {
	t.db.signalMayRefreshStorage(t.cache)
	t.closeAllIterators()
	t.kvTx.Close()
	t.db.releaseSchemaCache(t.cache)
}

func (t *DataTransaction) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return errors.New(errors.TransactionClosed, "database: transaction closed")
	}
	newKvTx, err := t.db.engine.BeginTx(t.txType == Write)
	if err != nil {
		return errors.Wrap(err, "database: reopen after rollback")
	}
	t.kvTx.Rollback()
	t.kvTx = newKvTx
	t.resetGraph()
	return nil
}

// Unwrap returns t itself; DataTransaction is never wrapped further.
func (t *DataTransaction) Unwrap() Transaction { return t }

func (t *DataTransaction) Close() error {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return nil
	}
	t.open = false
	t.mu.Unlock()
	t.closeAllIterators()
	err := t.kvTx.Close()
	t.db.releaseSchemaCache(t.cache)
	return err
}
