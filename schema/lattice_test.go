package schema

import (
	"sort"
	"testing"

	"github.com/dmikhalin/typedb/errors"
	"github.com/dmikhalin/typedb/graph"
	"github.com/stretchr/testify/require"
)

// memStorage is a minimal graph.Storage used only to exercise the lattice
// without pulling in the bbolt-backed kv package.
type memStorage struct{ data map[string][]byte }

func newMemStorage() *memStorage { return &memStorage{data: map[string][]byte{}} }

func (m *memStorage) Get(key []byte) ([]byte, error) { return m.data[string(key)], nil }

func (m *memStorage) GetLast(prefix []byte) ([]byte, []byte, error) {
	var bestKey, bestVal []byte
	for k, v := range m.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == string(prefix) {
			if bestKey == nil || k > string(bestKey) {
				bestKey, bestVal = []byte(k), v
			}
		}
	}
	return bestKey, bestVal, nil
}

func (m *memStorage) Put(key, value []byte) error {
	m.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (m *memStorage) Delete(key []byte) error { delete(m.data, string(key)); return nil }

func (m *memStorage) PutUntracked(key, value []byte) error { return m.Put(key, value) }

func (m *memStorage) Iterate(prefix []byte) (graph.Iterator, error) {
	var keys []string
	for k := range m.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == string(prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return &memIterator{storage: m, keys: keys, idx: -1}, nil
}

type memIterator struct {
	storage *memStorage
	keys    []string
	idx     int
}

func (it *memIterator) Next() bool   { it.idx++; return it.idx < len(it.keys) }
func (it *memIterator) Key() []byte  { return []byte(it.keys[it.idx]) }
func (it *memIterator) Value() []byte { return it.storage.data[it.keys[it.idx]] }
func (it *memIterator) Err() error   { return nil }
func (it *memIterator) Close() error { return nil }

// newTestLattice returns a lattice with the entity and attribute roots
// already bootstrapped, plus those two root vertex handles.
func newTestLattice(t *testing.T) (*Lattice, *graph.Store, *graph.Vertex, *graph.Vertex) {
	t.Helper()
	store := graph.NewStore(newMemStorage())
	require.NoError(t, Bootstrap(store, map[graph.Kind]graph.VertexID{
		graph.EntityType:    1,
		graph.AttributeType: 2,
	}))
	entityRoot, err := store.Vertex(1)
	require.NoError(t, err)
	attributeRoot, err := store.Vertex(2)
	require.NoError(t, err)
	return NewLattice(store), store, entityRoot, attributeRoot
}

func newSubtype(t *testing.T, store *graph.Store, l *Lattice, id graph.VertexID, kind graph.Kind, label string, parent *graph.Vertex) *graph.Vertex {
	t.Helper()
	v := store.NewVertex(id, kind)
	require.NoError(t, l.SetLabel(v, label))
	require.NoError(t, l.SetSub(v, parent))
	return v
}

func newAttribute(t *testing.T, store *graph.Store, l *Lattice, id graph.VertexID, label string, vt graph.ValueType, parent *graph.Vertex) *graph.Vertex {
	t.Helper()
	v := store.NewVertex(id, graph.AttributeType)
	v.ValueType = vt
	store.MarkDirty(v)
	require.NoError(t, l.SetLabel(v, label))
	require.NoError(t, l.SetSub(v, parent))
	return v
}

func labels(t *testing.T, vs []*graph.Vertex) []string {
	t.Helper()
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Label
	}
	sort.Strings(out)
	return out
}

// S1 — Schema inheritance & override.
func TestS1_InheritanceAndOverride(t *testing.T) {
	l, store, entityRoot, attributeRoot := newTestLattice(t)

	person := newSubtype(t, store, l, 10, graph.EntityType, "person", entityRoot)
	employee := newSubtype(t, store, l, 11, graph.EntityType, "employee", person)

	name := newAttribute(t, store, l, 20, "name", graph.String, attributeRoot)
	fullName := newAttribute(t, store, l, 21, "full_name", graph.String, name)
	unrelated := newAttribute(t, store, l, 22, "unrelated", graph.String, attributeRoot)

	require.NoError(t, l.AddHas(person, name))
	require.NoError(t, l.AddHasOverride(employee, fullName, name))

	empAttrs, err := l.Attributes(employee)
	require.NoError(t, err)
	require.Equal(t, []string{"full_name"}, labels(t, empAttrs))

	personAttrs, err := l.Attributes(person)
	require.NoError(t, err)
	require.Equal(t, []string{"name"}, labels(t, personAttrs))

	err = l.AddHasOverride(employee, unrelated, name)
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.InvalidOverrideNotSupertype))
}

// S2 — Key value-type gate.
func TestS2_KeyValueTypeGate(t *testing.T) {
	l, store, _, attributeRoot := newTestLattice(t)
	person := newSubtype(t, store, l, 10, graph.EntityType, "person", mustVertex(t, store, 1))

	weight := newAttribute(t, store, l, 20, "weight", graph.Double, attributeRoot)
	err := l.AddKey(person, weight)
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.InvalidKeyValueType))

	ssn := newAttribute(t, store, l, 21, "ssn", graph.String, attributeRoot)
	require.NoError(t, l.AddKey(person, ssn))

	err = l.AddHas(person, ssn)
	require.Error(t, err)
}

func mustVertex(t *testing.T, store *graph.Store, id graph.VertexID) *graph.Vertex {
	t.Helper()
	v, err := store.Vertex(id)
	require.NoError(t, err)
	return v
}

func TestRootMutationRejected(t *testing.T) {
	l, store, entityRoot, _ := newTestLattice(t)
	require.True(t, errors.Is(l.SetLabel(entityRoot, "x"), errors.InvalidRootTypeMutation))

	child := newSubtype(t, store, l, 30, graph.EntityType, "thing", entityRoot)
	require.NoError(t, l.Delete(child))
}

func TestDeleteFailsWithSubtype(t *testing.T) {
	l, store, entityRoot, _ := newTestLattice(t)
	parent := newSubtype(t, store, l, 40, graph.EntityType, "parent", entityRoot)
	newSubtype(t, store, l, 41, graph.EntityType, "child", parent)

	err := l.Delete(parent)
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.SchemaViolation))
}
