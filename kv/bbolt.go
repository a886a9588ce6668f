package kv

import (
	"sort"
	"sync"

	"github.com/dmikhalin/typedb/errors"
	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("kv")

// BboltEngine is an Engine backed by a single go.etcd.io/bbolt file. bbolt
// supplies the ordered, durable, snapshot-per-transaction keyspace;
// optimistic conflict detection across concurrent writers is added here,
// since bbolt's own transactions are pessimistic single-writer MVCC.
type BboltEngine struct {
	db *bolt.DB

	mu       sync.Mutex // serializes commit validation + apply
	seq      uint64     // commit sequence number
	versions *versionMap
}

// OpenBboltEngine opens (creating if necessary) a bbolt-backed Engine at path.
func OpenBboltEngine(path string) (*BboltEngine, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 0})
	if err != nil {
		return nil, errors.Wrapf(err, "open bbolt file: %s", path)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create kv bucket")
	}
	return &BboltEngine{db: db, versions: newVersionMap()}, nil
}

func (e *BboltEngine) Close() error {
	return e.db.Close()
}

func (e *BboltEngine) BeginTx(writable bool) (Tx, error) {
	snapTx, err := e.db.Begin(false)
	if err != nil {
		return nil, errors.Wrap(err, "begin bbolt snapshot view")
	}
	e.mu.Lock()
	beginSeq := e.seq
	e.mu.Unlock()

	return &bboltTx{
		engine:    e,
		writable:  writable,
		snapTx:    snapTx,
		beginSeq:  beginSeq,
		puts:      map[string][]byte{},
		deletes:   map[string]struct{}{},
		untracked: map[string]struct{}{},
		readSet:   map[string]struct{}{},
		open:      true,
	}, nil
}

type bboltTx struct {
	engine   *BboltEngine
	writable bool
	open     bool

	snapTx   *bolt.Tx // read-only bbolt view taken at Begin
	beginSeq uint64

	puts      map[string][]byte
	deletes   map[string]struct{}
	untracked map[string]struct{} // keys written via PutUntracked
	readSet   map[string]struct{}

	indexingDisabled bool

	// cursorPool recycles *bolt.Cursor objects across GetLast/Iterate calls
	// on a READ transaction. WRITE transaction cursors see the write
	// buffer and are never pooled.
	cpMu       sync.Mutex
	cursorPool []*bolt.Cursor
}

func (tx *bboltTx) getCursor() *bolt.Cursor {
	tx.cpMu.Lock()
	defer tx.cpMu.Unlock()
	if n := len(tx.cursorPool); n > 0 {
		c := tx.cursorPool[n-1]
		tx.cursorPool = tx.cursorPool[:n-1]
		return c
	}
	return tx.snapTx.Bucket(bucketName).Cursor()
}

func (tx *bboltTx) putCursor(c *bolt.Cursor) {
	if tx.writable {
		return
	}
	tx.cpMu.Lock()
	defer tx.cpMu.Unlock()
	tx.cursorPool = append(tx.cursorPool, c)
}

func (tx *bboltTx) checkOpen() error {
	if !tx.open {
		return ErrTxClosed
	}
	return nil
}

func (tx *bboltTx) Get(key []byte) ([]byte, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	k := string(key)
	if _, deleted := tx.deletes[k]; deleted {
		return nil, nil
	}
	if v, ok := tx.puts[k]; ok {
		return v, nil
	}
	tx.readSet[k] = struct{}{}
	return tx.storageGet(key)
}

func (tx *bboltTx) storageGet(key []byte) ([]byte, error) {
	b := tx.snapTx.Bucket(bucketName)
	v := b.Get(key)
	if v == nil {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (tx *bboltTx) Put(key, value []byte) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	k := string(key)
	delete(tx.deletes, k)
	vv := make([]byte, len(value))
	copy(vv, value)
	tx.puts[k] = vv
	return nil
}

func (tx *bboltTx) PutUntracked(key, value []byte) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	if err := tx.Put(key, value); err != nil {
		return err
	}
	tx.untracked[string(key)] = struct{}{}
	return nil
}

func (tx *bboltTx) Delete(key []byte) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	k := string(key)
	delete(tx.puts, k)
	delete(tx.untracked, k)
	tx.deletes[k] = struct{}{}
	return nil
}

func (tx *bboltTx) DisableIndexing() {
	// Nothing to disable: this engine has no separate read index over
	// buffered writes to skip building.
	tx.indexingDisabled = true
}

// GetLast returns the lexicographically greatest key with the given
// prefix, considering both committed storage and this transaction's own
// buffered writes.
func (tx *bboltTx) GetLast(prefix []byte) ([]byte, []byte, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, nil, err
	}
	var storedKey, storedVal []byte
	c := tx.getCursor()
	upper := incrementPrefix(prefix)
	k, v := c.Seek(upper)
	if k == nil {
		k, v = c.Last()
	} else {
		k, v = c.Prev()
	}
	if k != nil && hasPrefix(k, prefix) {
		storedKey = append([]byte(nil), k...)
		storedVal = append([]byte(nil), v...)
	}
	tx.putCursor(c)

	var bufKey, bufVal []byte
	for k := range tx.puts {
		kb := []byte(k)
		if hasPrefix(kb, prefix) && (bufKey == nil || string(kb) > string(bufKey)) {
			bufKey = kb
			bufVal = tx.puts[k]
		}
	}
	for k := range tx.deletes {
		if storedKey != nil && k == string(storedKey) {
			// The greatest stored key was deleted in this tx; fall back to
			// rescanning storage below the deleted key.
			storedKey, storedVal = tx.storageGetLastBelow(prefix, []byte(k))
		}
	}

	switch {
	case bufKey != nil && (storedKey == nil || string(bufKey) > string(storedKey)):
		return bufKey, bufVal, nil
	case storedKey != nil:
		return storedKey, storedVal, nil
	default:
		return nil, nil, nil
	}
}

// storageGetLastBelow re-walks storage for the greatest key with prefix
// that sorts strictly below exclusiveKey, used when GetLast's first
// candidate turned out to be tombstoned by this transaction.
func (tx *bboltTx) storageGetLastBelow(prefix, exclusiveKey []byte) ([]byte, []byte) {
	c := tx.getCursor()
	defer tx.putCursor(c)
	k, v := c.Seek(exclusiveKey)
	if k != nil && string(k) == string(exclusiveKey) {
		k, v = c.Prev()
	} else if k != nil {
		k, v = c.Prev()
	} else {
		k, v = c.Last()
	}
	if k != nil && hasPrefix(k, prefix) {
		if _, deleted := tx.deletes[string(k)]; !deleted {
			return append([]byte(nil), k...), append([]byte(nil), v...)
		}
		return tx.storageGetLastBelow(prefix, k)
	}
	return nil, nil
}

func (tx *bboltTx) Iterate(prefix []byte) (Iterator, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	c := tx.getCursor()

	var buffered []kvPair
	for k, v := range tx.puts {
		kb := []byte(k)
		if hasPrefix(kb, prefix) {
			buffered = append(buffered, kvPair{key: kb, value: v})
		}
	}
	sort.Slice(buffered, func(i, j int) bool { return string(buffered[i].key) < string(buffered[j].key) })

	return &mergeIterator{
		cursor:   c,
		prefix:   prefix,
		buffered: buffered,
		deletes:  tx.deletes,
		owner:    tx,
	}, nil
}

func (tx *bboltTx) Commit() error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	if !tx.writable {
		tx.Close()
		return errors.New(errors.IllegalCommit, "kv: read transaction cannot commit")
	}

	tx.engine.mu.Lock()
	defer tx.engine.mu.Unlock()

	for k := range tx.readSet {
		if tx.engine.versionNewerThan(k, tx.beginSeq) {
			tx.Close()
			return errors.New(errors.StorageFailure, "kv: optimistic conflict on read key")
		}
	}
	for k := range tx.puts {
		if _, skip := tx.untracked[k]; skip {
			continue
		}
		if tx.engine.versionNewerThan(k, tx.beginSeq) {
			tx.Close()
			return errors.New(errors.StorageFailure, "kv: optimistic conflict on write key")
		}
	}
	for k := range tx.deletes {
		if tx.engine.versionNewerThan(k, tx.beginSeq) {
			tx.Close()
			return errors.New(errors.StorageFailure, "kv: optimistic conflict on delete key")
		}
	}

	// Release this transaction's own read snapshot before writing: a bbolt
	// writer that has to remap a growing file blocks until every read
	// transaction has ended, including one held by this goroutine.
	closeErr := tx.Close()

	if len(tx.puts) > 0 || len(tx.deletes) > 0 {
		err := tx.engine.db.Update(func(btx *bolt.Tx) error {
			bkt := btx.Bucket(bucketName)
			for k, v := range tx.puts {
				if err := bkt.Put([]byte(k), v); err != nil {
					return err
				}
			}
			for k := range tx.deletes {
				if err := bkt.Delete([]byte(k)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			tx.Close()
			return errors.Wrap(err, "kv: commit")
		}
		tx.engine.seq++
		seq := tx.engine.seq
		keys := make([][]byte, 0, len(tx.puts)+len(tx.deletes))
		for k := range tx.puts {
			keys = append(keys, []byte(k))
		}
		for k := range tx.deletes {
			keys = append(keys, []byte(k))
		}
		tx.engine.versions.bump(keys, seq)
	}

	return closeErr
}

func (tx *bboltTx) Rollback() error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	tx.puts = nil
	tx.deletes = nil
	return tx.Close()
}

func (tx *bboltTx) Close() error {
	if !tx.open {
		return nil
	}
	tx.open = false
	return tx.snapTx.Rollback() // releases the read-only snapshot view
}

func (e *BboltEngine) versionNewerThan(key string, beginSeq uint64) bool {
	ver := e.versions.get(e.versions.snapshot(), []byte(key))
	return ver > beginSeq
}

type kvPair struct {
	key, value []byte
}
