package database

import (
	"encoding/binary"
	"sync"

	"github.com/dmikhalin/typedb/errors"
	"github.com/dmikhalin/typedb/graph"
	"github.com/dmikhalin/typedb/kv"
)

// KeyGenerator hands out monotonically increasing VertexIDs from an
// independent counter persisted at a fixed meta key. There are two
// instances, one for the schema graph and one for the data graph, each
// providing monotonic encoded identifiers. The persisted write is
// untracked so handing out an ID is never itself a source of an
// optimistic write-write conflict; mu guards the counter itself, since
// one KeyGenerator is shared on Database and reached concurrently by
// every write transaction of its kind.
type KeyGenerator struct {
	metaKey []byte

	mu   sync.Mutex
	next uint64
}

// reservedIDFloor keeps generated IDs clear of the small fixed IDs the
// five root types are bootstrapped at (see database.go).
const reservedIDFloor = 100

func newKeyGenerator(metaKey []byte) *KeyGenerator {
	return &KeyGenerator{metaKey: metaKey, next: reservedIDFloor - 1}
}

// load recovers the counter from a read transaction at database open.
func (g *KeyGenerator) load(tx kv.Tx) error {
	v, err := tx.Get(g.metaKey)
	if err != nil {
		return errors.Wrap(err, "database: load key generator")
	}
	if v == nil {
		return nil
	}
	g.next = binary.BigEndian.Uint64(v)
	return nil
}

// Next allocates and persists the next ID against tx. Concurrent callers
// (every write transaction shares one KeyGenerator per kind) are
// serialized on mu so two transactions can never read-modify-write the
// same counter value and mint the same VertexID twice.
func (g *KeyGenerator) Next(tx kv.Tx) (graph.VertexID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.next++
	next := g.next
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := tx.PutUntracked(g.metaKey, buf); err != nil {
		g.next--
		return 0, errors.Wrap(err, "database: persist key generator")
	}
	return graph.VertexID(next), nil
}

var (
	schemaKeyGenMetaKey = []byte{0xff, 0x01}
	dataKeyGenMetaKey   = []byte{0xff, 0x02}
)
