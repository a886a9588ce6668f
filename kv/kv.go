// Package kv defines the minimal ordered key-value contract the rest of
// the core depends on, and an optimistic-transaction implementation of
// it backed by go.etcd.io/bbolt.
//
// bbolt itself gives us ordered byte keys, prefix-scannable buckets, and a
// snapshot read view per transaction -- but its transactions are
// single-writer MVCC, not optimistic. The optimistic layer (buffered
// writes, validated for conflicts only at commit time) is built on top
// here rather than provided by bbolt: see version.go.
package kv

import (
	"bytes"

	"github.com/dmikhalin/typedb/errors"
)

// Engine is the contract the transaction manager depends on. Any engine
// offering ordered byte keys, prefix iteration and optimistic
// transactions with a snapshot read view can implement it; BboltEngine is
// the concrete implementation this module ships.
type Engine interface {
	// BeginTx creates a transaction with a snapshot taken at call time.
	BeginTx(writable bool) (Tx, error)
	Close() error
}

// Tx is a single optimistic transaction against an Engine.
type Tx interface {
	Get(key []byte) ([]byte, error)
	// GetLast returns the greatest key with the given prefix, or (nil, nil,
	// nil) if none exists. prefix's last byte must be < 0xFF; callers (the
	// encoding layer) are responsible for this, it is not checked here.
	GetLast(prefix []byte) (key, value []byte, err error)
	Put(key, value []byte) error
	Delete(key []byte) error
	// PutUntracked writes a value without adding it to the transaction's
	// write set, so it is never a source of an optimistic conflict.
	PutUntracked(key, value []byte) error
	Iterate(prefix []byte) (Iterator, error)
	// DisableIndexing hints that this is a write-only transaction about to
	// commit, so there is no need to build a read index over its buffered
	// writes. Implementations against engines without such an index (like
	// this one) may ignore it.
	DisableIndexing()
	Commit() error
	Rollback() error
	Close() error
}

// Iterator yields key/value pairs in lexicographic key order.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	// Err returns any error encountered during iteration.
	Err() error
	Close() error
}

var (
	// ErrTxClosed is returned by any operation on a Tx after Close, Commit
	// or Rollback has already run.
	ErrTxClosed = errors.New(errors.TransactionClosed, "kv: transaction closed")
	// ErrNotFound is not returned by any operation of BboltEngine: a
	// missing key is reported by Get and GetLast as a nil result.
	ErrNotFound = errors.New(errors.Internal, "kv: key not found")
)

// incrementPrefix returns the smallest byte string greater than every key
// with the given prefix: prefix with its last byte incremented by one. The
// caller (GetLast) must guarantee prefix's last byte is < 0xFF.
func incrementPrefix(prefix []byte) []byte {
	up := make([]byte, len(prefix))
	copy(up, prefix)
	up[len(up)-1]++
	return up
}

func hasPrefix(key, prefix []byte) bool {
	return bytes.HasPrefix(key, prefix)
}
