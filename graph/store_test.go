package graph

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

// memStorage is a minimal in-memory Storage used only to exercise Store
// without pulling in the bbolt-backed kv package.
type memStorage struct {
	data map[string][]byte
}

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

func (m *memStorage) Delete(key []byte) error {
	delete(m.data, string(key))
	return nil
}

func (m *memStorage) PutUntracked(key, value []byte) error { return m.Put(key, value) }

func (m *memStorage) Iterate(prefix []byte) (Iterator, error) {
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

func (it *memIterator) Next() bool {
	it.idx++
	return it.idx < len(it.keys)
}

func (it *memIterator) Key() []byte   { return []byte(it.keys[it.idx]) }
func (it *memIterator) Value() []byte { return it.storage.data[it.keys[it.idx]] }
func (it *memIterator) Err() error    { return nil }
func (it *memIterator) Close() error  { return nil }

func TestStore_AddEdgeUpdatesBothAdjacencyLists(t *testing.T) {
	storage := newMemStorage()
	s := NewStore(storage)

	person := s.NewVertex(1, EntityType)
	name := s.NewVertex(2, AttributeType)

	e, err := s.AddEdge(Has, person.ID, name.ID, 0)
	require.NoError(t, err)

	outs, err := s.Outs(person, Has)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	require.Equal(t, e.ID, outs[0].ID)

	ins, err := s.Ins(name, Has)
	require.NoError(t, err)
	require.Len(t, ins, 1)
	require.Equal(t, e.ID, ins[0].ID)
}

func TestStore_FlushThenReloadRehydratesAdjacency(t *testing.T) {
	storage := newMemStorage()
	s := NewStore(storage)

	animal := s.NewVertex(1, EntityType)
	dog := s.NewVertex(2, EntityType)
	_, err := s.AddEdge(Sub, dog.ID, animal.ID, 0)
	require.NoError(t, err)
	require.NoError(t, s.Flush())

	// A fresh Store over the same storage has no in-memory cache and must
	// rebuild adjacency purely from the persisted index.
	reloaded := NewStore(storage)
	dogHandle, err := reloaded.Vertex(2)
	require.NoError(t, err)
	require.NotNil(t, dogHandle)

	outs, err := reloaded.Outs(dogHandle, Sub)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	require.Equal(t, VertexID(1), outs[0].To)
}

func TestStore_RemoveEdgeDetachesAdjacency(t *testing.T) {
	storage := newMemStorage()
	s := NewStore(storage)

	a := s.NewVertex(1, EntityType)
	b := s.NewVertex(2, EntityType)
	e, err := s.AddEdge(Plays, a.ID, b.ID, 0)
	require.NoError(t, err)

	require.NoError(t, s.RemoveEdge(e))

	outs, err := s.Outs(a, Plays)
	require.NoError(t, err)
	require.Empty(t, outs)

	require.NoError(t, s.Flush())
	require.NotContains(t, storage.data, string(encodeEdgeKey(e.ID)))
}

func TestStore_AllSeesUnflushedAndHidesDeletedVertices(t *testing.T) {
	storage := newMemStorage()
	s := NewStore(storage)

	animal := s.NewVertex(1, EntityType)
	animal.Label = "animal"
	s.MarkDirty(animal)
	require.NoError(t, s.Flush())

	// dog is created in this transaction and never flushed; All must still
	// surface it from the in-memory cache.
	dog := s.NewVertex(2, EntityType)
	dog.Label = "dog"
	s.MarkDirty(dog)

	all, err := s.All()
	require.NoError(t, err)
	require.Len(t, all, 2)

	s.RemoveVertex(animal)
	all, err = s.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, VertexID(2), all[0].ID)
}

func TestVertexKindPredicates(t *testing.T) {
	require.True(t, EntityType.IsType())
	require.False(t, Entity.IsType())
}

func TestValueTypeKeyable(t *testing.T) {
	require.True(t, Long.Keyable())
	require.True(t, String.Keyable())
	require.True(t, Boolean.Keyable())
	require.True(t, DateTime.Keyable())
	require.False(t, Double.Keyable())
	require.False(t, NoValueType.Keyable())
}
