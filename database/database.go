// Package database implements the transaction manager, the
// database/session lifecycle, and the storage-view glue that lets the
// typed graph store (package graph) and the schema lattice (package
// schema) run against a kv.Engine.
//
// The transaction manager and the session/database lifecycle are merged
// into one package rather than kept separate: Session.OpenTransaction
// must return transaction values that close back over database-owned
// locks and the schema cache, while the transaction commit protocol must
// reach back into the database to evict/refresh that same cache -- a
// genuine import cycle if split across two packages. See DESIGN.md.
package database

import (
	"sync"
	"sync/atomic"

	"github.com/dmikhalin/typedb/errors"
	"github.com/dmikhalin/typedb/graph"
	"github.com/dmikhalin/typedb/kv"
	"github.com/dmikhalin/typedb/logger"
	"github.com/dmikhalin/typedb/schema"
)

// rootVertexIDs are the five well-known root-type identifiers bootstrapped
// into every fresh schema graph.
var rootVertexIDs = map[graph.Kind]graph.VertexID{
	graph.ThingType:     1,
	graph.EntityType:    2,
	graph.AttributeType: 3,
	graph.RelationType:  4,
	graph.RoleType:      5,
}

// SchemaGraphStorageRefreshRate is the number of signalMayRefreshStorage
// calls the shared schema cache absorbs before its underlying KV read
// snapshot is swapped for a fresh one. A data transaction holding an
// old snapshot open indefinitely pins bbolt pages that can otherwise be
// reclaimed; periodically rolling the snapshot forward bounds how long
// that pinning lasts even when no schema write ever evicts the cache.
const SchemaGraphStorageRefreshRate = 64

// Database owns the KV engine, the database-wide dataReadSchemaLock, the
// lazily rebuilt cached schema graph, and the schema/data key generators.
type Database struct {
	engine kv.Engine
	log    logger.Logger

	dataReadSchemaLock sync.RWMutex

	schemaMu    sync.Mutex
	schemaCache *schemaCache

	schemaKeyGen *KeyGenerator
	dataKeyGen   *KeyGenerator
}

// schemaCache is the shared, reference-counted handle around the live
// schema graph.
type schemaCache struct {
	store        *graph.Store
	kvTx         kv.Tx // the read snapshot store lazily reads through; stays open until eviction
	refCount     int32 // atomic; pinned by every live data transaction
	mayClose     bool
	refreshCount int64 // atomic; counts toward SchemaGraphStorageRefreshRate
}

// Open opens (creating if necessary) a database backed by the given
// kv.Engine, bootstrapping the root types on first use.
func Open(engine kv.Engine, log logger.Logger) (*Database, error) {
	if log == nil {
		log = logger.NewStandardLogger(nil)
	}
	db := &Database{
		engine:       engine,
		log:          log,
		schemaKeyGen: newKeyGenerator(schemaKeyGenMetaKey),
		dataKeyGen:   newKeyGenerator(dataKeyGenMetaKey),
	}

	tx, err := engine.BeginTx(true)
	if err != nil {
		return nil, errors.Wrap(err, "database: open")
	}
	if err := db.schemaKeyGen.load(tx); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := db.dataKeyGen.load(tx); err != nil {
		tx.Rollback()
		return nil, err
	}
	store := graph.NewStore(newBootstrapStorage(tx))
	if err := schema.Bootstrap(store, rootVertexIDs); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := store.Flush(); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "database: bootstrap commit")
	}

	db.log.Debugf("database: opened, schema key floor=%d data key floor=%d", reservedIDFloor, reservedIDFloor)
	return db, nil
}

func (db *Database) Close() error {
	return db.engine.Close()
}

// loadSchemaCache rebuilds the schema graph from a fresh read snapshot.
// The snapshot's kv.Tx stays open for the cache's lifetime: the schema
// graph Store reads through it lazily, not eagerly, so closing it early
// would break every later lookup. It is closed only after the cache has
// been marked closeable (by evictSchemaCache or refreshSchemaCache) and
// its reference count is zero: by that function if nothing pins the cache
// at that moment, otherwise by releaseSchemaCache when the last pin is
// released. Called with schemaMu held.
func (db *Database) loadSchemaCache() (*schemaCache, error) {
	tx, err := db.engine.BeginTx(false)
	if err != nil {
		return nil, errors.Wrap(err, "database: load schema cache")
	}
	store := graph.NewStore(newBootstrapStorage(tx))
	cache := &schemaCache{store: store, kvTx: tx}
	db.schemaCache = cache
	return cache, nil
}

// acquireSchemaCache returns the cached schema graph, pinning it with a
// reference the caller must later release via releaseSchemaCache. It
// takes dataReadSchemaLock in read mode only long enough to do so.
func (db *Database) acquireSchemaCache() (*schemaCache, error) {
	db.dataReadSchemaLock.RLock()
	defer db.dataReadSchemaLock.RUnlock()

	db.schemaMu.Lock()
	defer db.schemaMu.Unlock()
	cache := db.schemaCache
	if cache == nil {
		var err error
		cache, err = db.loadSchemaCache()
		if err != nil {
			return nil, err
		}
	}
	atomic.AddInt32(&cache.refCount, 1)
	return cache, nil
}

func (db *Database) releaseSchemaCache(cache *schemaCache) {
	if atomic.AddInt32(&cache.refCount, -1) == 0 {
		db.schemaMu.Lock()
		closeable := cache.mayClose
		if closeable && db.schemaCache == cache {
			db.schemaCache = nil
		}
		db.schemaMu.Unlock()
		if closeable {
			cache.kvTx.Close()
		}
	}
}

// evictSchemaCache is called by a schema commit: it always drops the
// database-level pointer so the next acquirer rebuilds a fresh graph, and
// marks the outgoing cache closeable so its snapshot is released as soon
// as its last pinning data transaction lets go (immediately, if nothing
// pins it right now).
func (db *Database) evictSchemaCache() {
	db.schemaMu.Lock()
	outgoing := db.schemaCache
	if outgoing == nil {
		db.schemaMu.Unlock()
		return
	}
	db.schemaCache = nil
	outgoing.mayClose = true
	closeNow := atomic.LoadInt32(&outgoing.refCount) == 0
	db.schemaMu.Unlock()
	if closeNow {
		outgoing.kvTx.Close()
	}
}

// signalMayRefreshStorage is called by a data transaction's commit
// cleanup. It advances the shared cache's refresh counter, and every
// SchemaGraphStorageRefreshRate signals it swaps the database-level
// schema cache for a freshly loaded one, rolling the KV read snapshot
// forward. Any data transaction that already pinned the outgoing cache
// keeps using it unchanged; only future acquirers see the new one.
func (db *Database) signalMayRefreshStorage(cache *schemaCache) {
	if atomic.AddInt64(&cache.refreshCount, 1) != SchemaGraphStorageRefreshRate {
		return
	}
	atomic.AddInt64(&cache.refreshCount, -SchemaGraphStorageRefreshRate)
	db.refreshSchemaCache(cache)
}

// refreshSchemaCache replaces outgoing with a fresh cache if outgoing is
// still the live database-level cache, then lets go of outgoing the same
// way evictSchemaCache does: mark it closeable and close its kvTx
// immediately if nothing is pinning it anymore.
func (db *Database) refreshSchemaCache(outgoing *schemaCache) {
	db.schemaMu.Lock()
	if db.schemaCache != outgoing {
		// Already evicted or refreshed by a schema commit or another
		// signal; nothing to do.
		db.schemaMu.Unlock()
		return
	}
	if _, err := db.loadSchemaCache(); err != nil {
		db.log.Errorf("database: schema storage refresh failed: %v", err)
		db.schemaMu.Unlock()
		return
	}
	outgoing.mayClose = true
	closeNow := atomic.LoadInt32(&outgoing.refCount) == 0
	db.schemaMu.Unlock()
	if closeNow {
		outgoing.kvTx.Close()
	}
}

// bootstrapStorage adapts a bare kv.Tx to graph.Storage for the one-off
// root-type bootstrap at Open, before any Transaction/StorageView exists.
type bootstrapStorage struct {
	tx kv.Tx
}

func newBootstrapStorage(tx kv.Tx) *bootstrapStorage { return &bootstrapStorage{tx: tx} }

func (b *bootstrapStorage) Get(key []byte) ([]byte, error)      { return b.tx.Get(key) }
func (b *bootstrapStorage) GetLast(prefix []byte) ([]byte, []byte, error) {
	return b.tx.GetLast(prefix)
}
func (b *bootstrapStorage) Put(key, value []byte) error            { return b.tx.Put(key, value) }
func (b *bootstrapStorage) Delete(key []byte) error                { return b.tx.Delete(key) }
func (b *bootstrapStorage) PutUntracked(key, value []byte) error   { return b.tx.PutUntracked(key, value) }
func (b *bootstrapStorage) Iterate(prefix []byte) (graph.Iterator, error) {
	return b.tx.Iterate(prefix)
}
