package kv

import (
	bolt "go.etcd.io/bbolt"
)

// mergeIterator walks the committed-storage cursor and a sorted slice of
// this transaction's own buffered writes in lockstep, the way a read over
// an LSM memtable-plus-sstables is normally merged: on a tie the buffered
// write shadows storage, and keys in the transaction's delete set are
// skipped from either source.
type mergeIterator struct {
	cursor *bolt.Cursor
	prefix []byte

	buffered []kvPair
	bufIdx   int

	deletes map[string]struct{}
	owner   *bboltTx

	started     bool
	storKey     []byte
	storVal     []byte
	storExhaust bool

	key, value []byte
	err        error
	closed     bool
}

func (it *mergeIterator) ensureStarted() {
	if it.started {
		return
	}
	it.started = true
	k, v := it.cursor.Seek(it.prefix)
	it.setStorage(k, v)
}

func (it *mergeIterator) setStorage(k, v []byte) {
	if k == nil || !hasPrefix(k, it.prefix) {
		it.storExhaust = true
		it.storKey, it.storVal = nil, nil
		return
	}
	it.storKey = append([]byte(nil), k...)
	it.storVal = append([]byte(nil), v...)
}

func (it *mergeIterator) advanceStorage() {
	k, v := it.cursor.Next()
	it.setStorage(k, v)
}

func (it *mergeIterator) Next() bool {
	it.ensureStarted()
	for {
		bufHas := it.bufIdx < len(it.buffered)
		storHas := !it.storExhaust

		if !bufHas && !storHas {
			it.key, it.value = nil, nil
			return false
		}

		var fromBuffer bool
		switch {
		case bufHas && !storHas:
			fromBuffer = true
		case storHas && !bufHas:
			fromBuffer = false
		default:
			bk := string(it.buffered[it.bufIdx].key)
			sk := string(it.storKey)
			if bk <= sk {
				fromBuffer = true
			} else {
				fromBuffer = false
			}
		}

		var k, v []byte
		if fromBuffer {
			k, v = it.buffered[it.bufIdx].key, it.buffered[it.bufIdx].value
			it.bufIdx++
			// A buffered write shadows a storage entry with the same key.
			if storHas && string(it.storKey) == string(k) {
				it.advanceStorage()
			}
		} else {
			k, v = it.storKey, it.storVal
			it.advanceStorage()
		}

		if _, deleted := it.deletes[string(k)]; deleted {
			continue
		}

		it.key, it.value = k, v
		return true
	}
}

func (it *mergeIterator) Key() []byte   { return it.key }
func (it *mergeIterator) Value() []byte { return it.value }
func (it *mergeIterator) Err() error    { return it.err }

func (it *mergeIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	if it.owner != nil {
		it.owner.putCursor(it.cursor)
	}
	return nil
}
