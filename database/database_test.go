package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dmikhalin/typedb/errors"
	"github.com/dmikhalin/typedb/graph"
	"github.com/dmikhalin/typedb/kv"
	"github.com/dmikhalin/typedb/testhook"
)

func openTestDatabase(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	engine, err := kv.OpenBboltEngine(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	db, err := Open(engine, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func defineType(t *testing.T, db *Database, label, sub string) *graph.Vertex {
	t.Helper()
	sess := db.OpenSession(SchemaSession)
	defer sess.Close()
	tx, err := sess.OpenTransaction(Write)
	require.NoError(t, err)
	schemaTx := tx.Unwrap().(*SchemaTransaction)

	parent, err := schemaTx.Lattice.Lookup(sub)
	require.NoError(t, err)
	require.NotNil(t, parent)

	v, err := schemaTx.NewType(parent.Kind, label, parent)
	require.NoError(t, err)
	require.NoError(t, schemaTx.Commit())
	return v
}

func TestDatabase_OpenBootstrapsRootTypes(t *testing.T) {
	db := openTestDatabase(t)

	sess := db.OpenSession(SchemaSession)
	defer sess.Close()
	tx, err := sess.OpenTransaction(Read)
	require.NoError(t, err)
	defer tx.Close()
	schemaTx := tx.Unwrap().(*SchemaTransaction)

	for _, label := range []string{"thing", "entity", "attribute", "relation", "role"} {
		v, err := schemaTx.Lattice.Lookup(label)
		require.NoError(t, err)
		require.NotNil(t, v, "expected root type %q to exist", label)
		require.True(t, v.IsRoot)
	}
}

func TestDatabase_SchemaTypeVisibleAfterCommit(t *testing.T) {
	db := openTestDatabase(t)
	defineType(t, db, "person", "entity")

	sess := db.OpenSession(SchemaSession)
	defer sess.Close()
	tx, err := sess.OpenTransaction(Read)
	require.NoError(t, err)
	defer tx.Close()
	schemaTx := tx.Unwrap().(*SchemaTransaction)

	v, err := schemaTx.Lattice.Lookup("person")
	require.NoError(t, err)
	require.NotNil(t, v)
	require.Equal(t, graph.EntityType, v.Kind)
}

func TestDatabase_DataTransactionSeesCommittedSchema(t *testing.T) {
	db := openTestDatabase(t)
	defineType(t, db, "person", "entity")

	sess := db.OpenSession(DataSession)
	defer sess.Close()
	tx, err := sess.OpenTransaction(Write)
	require.NoError(t, err)
	dataTx := tx.Unwrap().(*DataTransaction)

	vertices, err := dataTx.SchemaGraph().All()
	require.NoError(t, err)
	var found bool
	for _, v := range vertices {
		if v.Label == "person" {
			found = true
		}
	}
	require.True(t, found)
	require.NoError(t, dataTx.Rollback())
}

func TestDatabase_NewThingCreatesInstanceLinkedToType(t *testing.T) {
	db := openTestDatabase(t)
	personType := defineType(t, db, "person", "entity")

	sess := db.OpenSession(DataSession)
	defer sess.Close()
	tx, err := sess.OpenTransaction(Write)
	require.NoError(t, err)
	dataTx := tx.Unwrap().(*DataTransaction)

	v, err := dataTx.NewThing(graph.Entity, personType)
	require.NoError(t, err)
	require.NoError(t, dataTx.Commit())

	sess2 := db.OpenSession(DataSession)
	defer sess2.Close()
	tx2, err := sess2.OpenTransaction(Read)
	require.NoError(t, err)
	defer tx2.Close()
	dataTx2 := tx2.Unwrap().(*DataTransaction)

	instance, err := dataTx2.Store().Vertex(v.ID)
	require.NoError(t, err)
	require.NotNil(t, instance)
	ins, err := dataTx2.Store().Outs(instance, graph.HasInstance)
	require.NoError(t, err)
	require.Len(t, ins, 1)
	require.Equal(t, personType.ID, ins[0].To)
}

func TestDatabase_ReadTransactionCannotCommitTypeOrThing(t *testing.T) {
	db := openTestDatabase(t)
	personType := defineType(t, db, "person", "entity")

	schemaSess := db.OpenSession(SchemaSession)
	defer schemaSess.Close()
	rtx, err := schemaSess.OpenTransaction(Read)
	require.NoError(t, err)
	defer rtx.Close()
	schemaTx := rtx.Unwrap().(*SchemaTransaction)
	_, err = schemaTx.NewType(graph.EntityType, "employee", personType)
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.IllegalCommit))

	dataSess := db.OpenSession(DataSession)
	defer dataSess.Close()
	dtx, err := dataSess.OpenTransaction(Read)
	require.NoError(t, err)
	defer dtx.Close()
	dataTx := dtx.Unwrap().(*DataTransaction)
	_, err = dataTx.NewThing(graph.Entity, personType)
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.IllegalCommit))
}

func TestDatabase_TransactionUnusableAfterClose(t *testing.T) {
	db := openTestDatabase(t)

	sess := db.OpenSession(SchemaSession)
	defer sess.Close()
	tx, err := sess.OpenTransaction(Read)
	require.NoError(t, err)
	require.NoError(t, tx.Close())

	_, err = tx.Storage()
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.TransactionClosed))

	// Close is idempotent.
	require.NoError(t, tx.Close())
}

func TestDatabase_SessionCloseClosesLiveTransactions(t *testing.T) {
	db := openTestDatabase(t)

	sess := db.OpenSession(SchemaSession)
	tx, err := sess.OpenTransaction(Read)
	require.NoError(t, err)
	require.True(t, tx.IsOpen())

	require.NoError(t, sess.Close())
	require.False(t, tx.IsOpen())
}

func TestDatabase_IteratorsAreForceClosedOnTransactionClose(t *testing.T) {
	db := openTestDatabase(t)
	defineType(t, db, "person", "entity")

	auditor := testhook.NewVerifyCloseAuditor(nil)
	restore := SetIteratorAuditor(auditor)
	defer restore()

	sess := db.OpenSession(SchemaSession)
	tx, err := sess.OpenTransaction(Read)
	require.NoError(t, err)
	storage, err := tx.Storage()
	require.NoError(t, err)

	it, err := storage.Iterate(graph.VertexRecordPrefix())
	require.NoError(t, err)
	require.True(t, it.Next())

	require.NoError(t, tx.Close())

	err, errs := auditor.FinalCheck()
	require.NoError(t, err)
	require.Empty(t, errs)
}

func TestDatabase_SchemaCacheEvictedAndReloadedAfterSchemaCommit(t *testing.T) {
	db := openTestDatabase(t)

	sess := db.OpenSession(DataSession)
	tx, err := sess.OpenTransaction(Read)
	require.NoError(t, err)
	dataTx := tx.Unwrap().(*DataTransaction)
	firstCache := dataTx.cache
	require.NoError(t, tx.Close())

	defineType(t, db, "person", "entity")

	sess2 := db.OpenSession(DataSession)
	defer sess2.Close()
	tx2, err := sess2.OpenTransaction(Read)
	require.NoError(t, err)
	defer tx2.Close()
	dataTx2 := tx2.Unwrap().(*DataTransaction)
	require.NotSame(t, firstCache, dataTx2.cache)

	v, err := dataTx2.cache.store.All()
	require.NoError(t, err)
	var found bool
	for _, vertex := range v {
		if vertex.Label == "person" {
			found = true
		}
	}
	require.True(t, found)
}

func TestDatabase_SchemaCacheRefreshesAfterRefreshRateSignals(t *testing.T) {
	db := openTestDatabase(t)

	sess := db.OpenSession(DataSession)
	tx, err := sess.OpenTransaction(Read)
	require.NoError(t, err)
	dataTx := tx.Unwrap().(*DataTransaction)
	original := dataTx.cache
	require.NoError(t, tx.Close())

	for i := 0; i < SchemaGraphStorageRefreshRate; i++ {
		db.signalMayRefreshStorage(original)
	}

	sess2 := db.OpenSession(DataSession)
	defer sess2.Close()
	tx2, err := sess2.OpenTransaction(Read)
	require.NoError(t, err)
	defer tx2.Close()
	dataTx2 := tx2.Unwrap().(*DataTransaction)

	require.NotSame(t, original, dataTx2.cache)
	require.True(t, original.mayClose)

	// Fewer than the rate must not trigger a swap.
	db2 := openTestDatabase(t)
	sess3 := db2.OpenSession(DataSession)
	tx3, err := sess3.OpenTransaction(Read)
	require.NoError(t, err)
	dataTx3 := tx3.Unwrap().(*DataTransaction)
	before := dataTx3.cache
	require.NoError(t, tx3.Close())
	for i := 0; i < SchemaGraphStorageRefreshRate-1; i++ {
		db2.signalMayRefreshStorage(before)
	}
	sess4 := db2.OpenSession(DataSession)
	defer sess4.Close()
	tx4, err := sess4.OpenTransaction(Read)
	require.NoError(t, err)
	defer tx4.Close()
	dataTx4 := tx4.Unwrap().(*DataTransaction)
	require.Same(t, before, dataTx4.cache)
}
