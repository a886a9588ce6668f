package database

import (
	"github.com/dmikhalin/typedb/errors"
	"github.com/dmikhalin/typedb/graph"
	"github.com/dmikhalin/typedb/schema"
)

// SchemaTransaction is the Schema variant of Transaction. Its Store
// (txBase.store) is the authoritative in-memory schema graph
// for the duration of the transaction; on a successful WRITE commit the
// database's shared schemaCache is evicted so the next acquirer reloads
// it from the freshly committed KV state.
type SchemaTransaction struct {
	*txBase
	db      *Database
	Lattice *schema.Lattice
}

func (db *Database) newSchemaTransaction(txType TxType) (*SchemaTransaction, error) {
	kvTx, err := db.engine.BeginTx(txType == Write)
	if err != nil {
		return nil, errors.Wrap(err, "database: open schema transaction")
	}
	base := newTxBase(txType, kvTx)
	return &SchemaTransaction{
		txBase:  base,
		db:      db,
		Lattice: schema.NewLattice(base.store),
	}, nil
}

// NewType allocates a fresh schema vertex of kind, labels it, and wires it
// under parent via SUB (the SUB closure starts at one of the five root
// types). The caller must hold a write transaction.
func (t *SchemaTransaction) NewType(kind graph.Kind, label string, parent *graph.Vertex) (*graph.Vertex, error) {
	if t.txType != Write {
		return nil, errors.New(errors.IllegalCommit, "database: read transaction cannot define types")
	}
	id, err := t.db.schemaKeyGen.Next(t.kvTx)
	if err != nil {
		return nil, err
	}
	v := t.store.NewVertex(id, kind)
	if err := t.Lattice.SetLabel(v, label); err != nil {
		return nil, err
	}
	if err := t.Lattice.SetSub(v, parent); err != nil {
		return nil, err
	}
	return v, nil
}

// Commit runs the write-schema commit protocol.
func (t *SchemaTransaction) Commit() error {
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

	for _, v := range t.store.VerticesSnapshot() {
		if v.Kind.IsType() {
			if err := t.Lattice.ValidateSubtree(v); err != nil {
				t.kvTx.Rollback()
				return err
			}
		}
	}

	if err := t.store.Flush(); err != nil {
		t.kvTx.Rollback()
		return err
	}

	t.db.dataReadSchemaLock.Lock()
	defer t.db.dataReadSchemaLock.Unlock()

	if err := t.kvTx.Commit(); err != nil {
		return errors.Wrap(err, "database: schema commit")
	}
	return nil
}

// finishCommit is the "finally" block of the commit protocol: evict the
// cached schema graph, clear in-memory state, and release resources,
// regardless of whether commit succeeded.
func (t *SchemaTransaction) finishCommit() {
	t.db.evictSchemaCache()
	t.resetGraph()
	t.Lattice = schema.NewLattice(t.store)
	t.closeAllIterators()
	t.kvTx.Close()
}

func (t *SchemaTransaction) Rollback() error {
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
	t.Lattice = schema.NewLattice(t.store)
	return nil
}

// Unwrap returns t itself; SchemaTransaction is never wrapped further.
func (t *SchemaTransaction) Unwrap() Transaction { return t }

func (t *SchemaTransaction) Close() error {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return nil
	}
	t.open = false
	t.mu.Unlock()
	t.closeAllIterators()
	return t.kvTx.Close()
}
