package database

import (
	"sync"

	"github.com/google/uuid"

	"github.com/dmikhalin/typedb/errors"
)

// SessionKind is the mode a Session is bound to: it can only produce
// transactions of the matching kind.
type SessionKind uint8

const (
	SchemaSession SessionKind = iota
	DataSession
)

// Session is a process-long client handle producing transactions of one
// kind against a Database, holding a registry of its own live
// transactions so it can close them all on Session.Close.
type Session struct {
	ID   uuid.UUID
	db   *Database
	kind SessionKind

	mu     sync.Mutex
	liveTx map[uuid.UUID]Transaction
	closed bool
}

// OpenSession opens a new session of the given kind against db.
func (db *Database) OpenSession(kind SessionKind) *Session {
	return &Session{
		ID:     uuid.New(),
		db:     db,
		kind:   kind,
		liveTx: map[uuid.UUID]Transaction{},
	}
}

// OpenTransaction opens a transaction of txType, matching this session's
// kind.
func (s *Session) OpenTransaction(txType TxType) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New(errors.TransactionClosed, "database: session closed")
	}

	var tx Transaction
	var err error
	switch s.kind {
	case SchemaSession:
		tx, err = s.db.newSchemaTransaction(txType)
	case DataSession:
		tx, err = s.db.newDataTransaction(txType)
	default:
		return nil, errors.New(errors.Internal, "database: unknown session kind")
	}
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	s.liveTx[id] = tx
	tracked := &trackedTransaction{Transaction: tx, session: s, id: id}
	return tracked, nil
}

func (s *Session) forget(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.liveTx, id)
}

// Close closes every live transaction opened by this session.
func (s *Session) Close() error {
	s.mu.Lock()
	live := make([]Transaction, 0, len(s.liveTx))
	for _, tx := range s.liveTx {
		live = append(live, tx)
	}
	s.liveTx = map[uuid.UUID]Transaction{}
	s.closed = true
	s.mu.Unlock()

	var firstErr error
	for _, tx := range live {
		if err := tx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// trackedTransaction deregisters itself from its owning session's live-tx
// registry on Close, so a session close doesn't try to double-close an
// already-closed transaction.
type trackedTransaction struct {
	Transaction
	session *Session
	id      uuid.UUID
}

func (t *trackedTransaction) Close() error {
	t.session.forget(t.id)
	return t.Transaction.Close()
}

// Unwrap delegates to the wrapped transaction rather than returning t
// itself, so a caller always lands on the concrete *SchemaTransaction or
// *DataTransaction regardless of how many bookkeeping layers sit on top.
func (t *trackedTransaction) Unwrap() Transaction { return t.Transaction.Unwrap() }
