package database

import (
	"sync"

	"github.com/dmikhalin/typedb/errors"
	"github.com/dmikhalin/typedb/graph"
	"github.com/dmikhalin/typedb/kv"
	"github.com/dmikhalin/typedb/testhook"
)

// iteratorAuditor tracks registeredIterator open/close events for tests
// that want to assert every iterator they obtained was eventually closed.
// A nop auditor in production costs only no-op calls per iterator;
// SetIteratorAuditor lets a test swap in a testhook.VerifyCloseAuditor for
// the duration of a run.
var iteratorAuditor testhook.Auditor = testhook.NewNopAuditor()

// SetIteratorAuditor installs an auditor for the duration of a test. It
// returns a restore function the caller should defer.
func SetIteratorAuditor(a testhook.Auditor) (restore func()) {
	prev := iteratorAuditor
	iteratorAuditor = a
	return func() { iteratorAuditor = prev }
}

// TxType is a transaction's read/write mode.
type TxType uint8

const (
	Read TxType = iota
	Write
)

// Transaction is the shared contract of SchemaTransaction and
// DataTransaction.
type Transaction interface {
	Type() TxType
	IsOpen() bool
	Storage() (*StorageView, error)
	Commit() error
	Rollback() error
	Close() error

	// Unwrap returns the concrete *SchemaTransaction or *DataTransaction
	// beneath any Session bookkeeping wrapper, so callers that need
	// variant-specific operations (Lattice, NewType, NewThing, ...) can
	// still reach them with a type assertion after OpenTransaction.
	Unwrap() Transaction
}

// txBase is the state every transaction variant shares: a KV transaction,
// the per-transaction read/write lock guarding storage-view calls, the
// live-iterator registry, and the typed graph layered atop it.
type txBase struct {
	txType TxType
	kvTx   kv.Tx

	mu   sync.Mutex // guards open + the one-shot commit/rollback transition
	open bool

	rwlock sync.RWMutex // storage-view read/write lock

	itersMu sync.Mutex
	iters   map[*registeredIterator]struct{}

	store   *graph.Store
	storage *StorageView
}

func newTxBase(txType TxType, kvTx kv.Tx) *txBase {
	b := &txBase{
		txType: txType,
		kvTx:   kvTx,
		open:   true,
		iters:  map[*registeredIterator]struct{}{},
	}
	b.storage = &StorageView{base: b}
	b.store = graph.NewStore(b.storage)
	return b
}

// resetGraph drops all in-memory graph state, used by Rollback.
func (b *txBase) resetGraph() {
	b.store = graph.NewStore(b.storage)
}

func (b *txBase) Type() TxType { return b.txType }

func (b *txBase) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// Store returns the typed graph store this transaction mutates -- the
// schema graph for a SchemaTransaction, or the transaction-private data
// graph for a DataTransaction (use SchemaGraph for the latter's pinned
// read-only schema view).
func (b *txBase) Store() *graph.Store { return b.store }

func (b *txBase) Storage() (*StorageView, error) {
	if !b.IsOpen() {
		return nil, errors.New(errors.TransactionClosed, "database: transaction closed")
	}
	return b.storage, nil
}

// registerIterator wraps a graph.Iterator so the transaction can
// force-close every live iterator on Close.
func (b *txBase) registerIterator(it graph.Iterator, prefix []byte) graph.Iterator {
	ri := &registeredIterator{inner: it}
	b.itersMu.Lock()
	b.iters[ri] = struct{}{}
	b.itersMu.Unlock()
	testhook.Opened(iteratorAuditor, ri, testhook.KV{"prefix": prefix})
	ri.onClose = func() {
		b.itersMu.Lock()
		delete(b.iters, ri)
		b.itersMu.Unlock()
	}
	return ri
}

// closeAllIterators force-closes every still-live iterator; used by Close,
// by the commit cleanup (successful or not) and by forceClose. Best-effort:
// an iterator mid-Next may yield one more element before observing closure.
func (b *txBase) closeAllIterators() {
	b.itersMu.Lock()
	live := make([]*registeredIterator, 0, len(b.iters))
	for ri := range b.iters {
		live = append(live, ri)
	}
	b.itersMu.Unlock()
	for _, ri := range live {
		ri.Close()
	}
}

// registeredIterator is the handle handed to callers; closed is checked
// on every method so a caller touching it after transaction Close reads no
// stale state: Next returns false, Key and Value return nil, and Err
// returns errClosedIterator (code TransactionClosed).
type registeredIterator struct {
	inner   graph.Iterator
	mu      sync.Mutex
	closed  bool
	onClose func()
}

var errClosedIterator = errors.New(errors.TransactionClosed, "database: iterator closed")

func (r *registeredIterator) Next() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	return r.inner.Next()
}

func (r *registeredIterator) Key() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	return r.inner.Key()
}

func (r *registeredIterator) Value() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	return r.inner.Value()
}

func (r *registeredIterator) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errClosedIterator
	}
	return r.inner.Err()
}

func (r *registeredIterator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.inner.Close()
	testhook.Closed(iteratorAuditor, r, nil)
	if r.onClose != nil {
		r.onClose()
	}
	return err
}

// StorageView is the graph.Storage implementation every transaction
// exposes to its typed graph Store: per-call locking (read for
// get/iterate, write for put/delete/put_untracked), wrapped KV errors,
// and transaction-fatal-on-error closing.
type StorageView struct {
	base *txBase
}

func (s *StorageView) checkOpen() error {
	if !s.base.IsOpen() {
		return errors.New(errors.TransactionClosed, "database: transaction closed")
	}
	return nil
}

// fail closes the owning transaction (a KV exception is transaction-fatal)
// and wraps err with the failed operation's name; the error code of err,
// if any, is kept.
func (s *StorageView) fail(err error, op string) error {
	s.base.forceClose()
	return errors.Wrap(err, "database: storage "+op)
}

func (s *StorageView) Get(key []byte) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	s.base.rwlock.RLock()
	defer s.base.rwlock.RUnlock()
	v, err := s.base.kvTx.Get(key)
	if err != nil {
		return nil, s.fail(err, "get")
	}
	return v, nil
}

func (s *StorageView) GetLast(prefix []byte) ([]byte, []byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, nil, err
	}
	s.base.rwlock.RLock()
	defer s.base.rwlock.RUnlock()
	k, v, err := s.base.kvTx.GetLast(prefix)
	if err != nil {
		return nil, nil, s.fail(err, "get_last")
	}
	return k, v, nil
}

func (s *StorageView) Put(key, value []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.base.rwlock.Lock()
	defer s.base.rwlock.Unlock()
	if err := s.base.kvTx.Put(key, value); err != nil {
		return s.fail(err, "put")
	}
	return nil
}

func (s *StorageView) Delete(key []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.base.rwlock.Lock()
	defer s.base.rwlock.Unlock()
	if err := s.base.kvTx.Delete(key); err != nil {
		return s.fail(err, "delete")
	}
	return nil
}

func (s *StorageView) PutUntracked(key, value []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.base.rwlock.Lock()
	defer s.base.rwlock.Unlock()
	if err := s.base.kvTx.PutUntracked(key, value); err != nil {
		return s.fail(err, "put_untracked")
	}
	return nil
}

func (s *StorageView) Iterate(prefix []byte) (graph.Iterator, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	s.base.rwlock.RLock()
	defer s.base.rwlock.RUnlock()
	it, err := s.base.kvTx.Iterate(prefix)
	if err != nil {
		return nil, s.fail(err, "iterate")
	}
	return s.base.registerIterator(it, prefix), nil
}

// forceClose is called on a transaction-fatal storage error; it is not
// the user-facing Close path but shares the same idempotent teardown.
func (b *txBase) forceClose() {
	b.mu.Lock()
	if !b.open {
		b.mu.Unlock()
		return
	}
	b.open = false
	b.mu.Unlock()
	b.closeAllIterators()
	b.kvTx.Close()
}
