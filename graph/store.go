package graph

import (
	"sync"

	"github.com/dmikhalin/typedb/errors"
)

// Iterator is the read-only sequence Storage.Iterate returns.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
	Close() error
}

// Storage is the subset of a transaction's storage view that the typed
// graph store needs. It is declared here, not imported from the
// transaction layer, so this package has no dependency on how
// transactions or locking work; any type satisfying it (in particular
// *database.StorageView) can back a Store.
type Storage interface {
	Get(key []byte) ([]byte, error)
	GetLast(prefix []byte) (key, value []byte, err error)
	Put(key, value []byte) error
	Delete(key []byte) error
	PutUntracked(key, value []byte) error
	Iterate(prefix []byte) (Iterator, error)
}

// Store is the in-memory cached view of one transaction's typed graph
// (either the shared schema graph or a transaction-private data graph).
// It owns every Vertex and Edge by value; adjacency lists hold EdgeIDs so
// the vertex<->edge cycle never needs pointer cycles.
type Store struct {
	storage Storage

	mu       sync.RWMutex
	vertices map[VertexID]*Vertex
	edges    map[EdgeID]*Edge

	nextEdgeID uint64

	dirtyVertices   map[VertexID]struct{}
	dirtyEdges      map[EdgeID]struct{}
	deletedVertices map[VertexID]struct{}
	deletedEdges    map[EdgeID]*Edge // keep the edge around so Flush knows its index keys

	// loadedOut/loadedIn remember which (vertex, edge-kind) adjacency
	// lists have already been hydrated from the storage index, so a
	// vertex loaded fresh from storage only pays for one prefix scan per
	// edge kind actually queried.
	loadedOut map[adjKey]struct{}
	loadedIn  map[adjKey]struct{}
}

type adjKey struct {
	vertex VertexID
	kind   EdgeKind
}

func NewStore(storage Storage) *Store {
	return &Store{
		storage:         storage,
		vertices:        map[VertexID]*Vertex{},
		edges:           map[EdgeID]*Edge{},
		dirtyVertices:   map[VertexID]struct{}{},
		dirtyEdges:      map[EdgeID]struct{}{},
		deletedVertices: map[VertexID]struct{}{},
		deletedEdges:    map[EdgeID]*Edge{},
		loadedOut:       map[adjKey]struct{}{},
		loadedIn:        map[adjKey]struct{}{},
	}
}

// NewVertex creates and registers a vertex with a caller-supplied ID (IDs
// are allocated by the database's KeyGenerator, not by Store itself, so
// that schema and data identifiers can be generated from independent
// counters).
func (s *Store) NewVertex(id VertexID, kind Kind) *Vertex {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := &Vertex{
		ID:   id,
		Kind: kind,
		out:  map[EdgeKind][]EdgeID{},
		in:   map[EdgeKind][]EdgeID{},
	}
	s.vertices[id] = v
	s.dirtyVertices[id] = struct{}{}
	return v
}

// Vertex returns a cached vertex handle, loading it from storage on first
// access if necessary.
func (s *Store) Vertex(id VertexID) (*Vertex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.vertices[id]; ok {
		return v, nil
	}
	data, err := s.storage.Get(encodeVertexKey(id))
	if err != nil {
		return nil, errors.Wrap(err, "graph: read vertex")
	}
	if data == nil {
		return nil, nil
	}
	v := decodeVertex(id, data)
	s.vertices[id] = v
	return v, nil
}

// Edge returns a cached edge handle, loading it from storage if necessary.
func (s *Store) Edge(id EdgeID) (*Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.edgeLocked(id)
}

func (s *Store) edgeLocked(id EdgeID) (*Edge, error) {
	if e, ok := s.edges[id]; ok {
		return e, nil
	}
	data, err := s.storage.Get(encodeEdgeKey(id))
	if err != nil {
		return nil, errors.Wrap(err, "graph: read edge")
	}
	if data == nil {
		return nil, nil
	}
	e := decodeEdge(id, data)
	s.edges[id] = e
	return e, nil
}

// AddEdge creates an edge of the given kind between two already-registered
// vertices and updates both endpoints' adjacency. overridden is 0 when the
// edge declares no override.
func (s *Store) AddEdge(kind EdgeKind, from, to, overridden VertexID) (*Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fv, ok := s.vertices[from]
	if !ok {
		return nil, errors.New(errors.Internal, "graph: unknown from-vertex")
	}
	tv, ok := s.vertices[to]
	if !ok {
		return nil, errors.New(errors.Internal, "graph: unknown to-vertex")
	}
	if s.nextEdgeID == 0 {
		// EdgeIDs are part of persisted keys, so continue numbering after
		// the greatest edge record already in storage.
		k, _, err := s.storage.GetLast([]byte{edgeRecordPrefix})
		if err != nil {
			return nil, errors.Wrap(err, "graph: read last edge id")
		}
		if k != nil {
			s.nextEdgeID = getUint64(k[1:9])
		}
	}
	s.nextEdgeID++
	id := EdgeID(s.nextEdgeID)
	e := &Edge{ID: id, Kind: kind, From: from, To: to, Overridden: overridden}
	s.edges[id] = e
	s.dirtyEdges[id] = struct{}{}
	fv.addOut(kind, id)
	tv.addIn(kind, id)
	s.markVertexDirty(from)
	s.markVertexDirty(to)
	return e, nil
}

// AddRolePlayerEdge is AddEdge specialised for instance-level role-player
// edges, which additionally carry a role-type label and a repetition
// index.
func (s *Store) AddRolePlayerEdge(from, to VertexID, roleType string, repetition int) (*Edge, error) {
	e, err := s.AddEdge(RolePlayer, from, to, 0)
	if err != nil {
		return nil, err
	}
	e.RoleType = roleType
	e.Repetition = repetition
	return e, nil
}

// RemoveEdge detaches an edge from both endpoints and marks it for
// deletion on Flush.
func (s *Store) RemoveEdge(e *Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fv, ok := s.vertices[e.From]; ok {
		fv.removeOut(e.Kind, e.ID)
		s.markVertexDirty(e.From)
	}
	if tv, ok := s.vertices[e.To]; ok {
		tv.removeIn(e.Kind, e.ID)
		s.markVertexDirty(e.To)
	}
	delete(s.edges, e.ID)
	delete(s.dirtyEdges, e.ID)
	s.deletedEdges[e.ID] = e
	return nil
}

// RemoveVertex marks a vertex for deletion on Flush. The caller is
// responsible for having already removed any edges touching it (the
// schema lattice's delete() precondition guarantees a deletable type has
// no remaining edges that matter).
func (s *Store) RemoveVertex(v *Vertex) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vertices, v.ID)
	delete(s.dirtyVertices, v.ID)
	s.deletedVertices[v.ID] = struct{}{}
}

func (s *Store) markVertexDirty(id VertexID) {
	s.dirtyVertices[id] = struct{}{}
}

// MarkDirty flags a vertex whose scalar fields (label, isAbstract, ...)
// were mutated in place, so Flush persists it.
func (s *Store) MarkDirty(v *Vertex) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markVertexDirty(v.ID)
}

// Flush persists every pending mutation to storage. It does not commit the
// underlying KV transaction; the caller (SchemaTransaction/DataTransaction
// commit protocol) does that afterward.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.dirtyVertices {
		v, ok := s.vertices[id]
		if !ok {
			continue
		}
		if err := s.storage.Put(encodeVertexKey(id), encodeVertex(v)); err != nil {
			return errors.Wrap(err, "graph: flush vertex")
		}
	}
	for id := range s.dirtyEdges {
		e, ok := s.edges[id]
		if !ok {
			continue
		}
		if err := s.putEdge(e); err != nil {
			return err
		}
	}
	for id := range s.deletedVertices {
		if err := s.storage.Delete(encodeVertexKey(id)); err != nil {
			return errors.Wrap(err, "graph: delete vertex")
		}
	}
	for id, e := range s.deletedEdges {
		if err := s.storage.Delete(encodeEdgeKey(id)); err != nil {
			return errors.Wrap(err, "graph: delete edge")
		}
		if err := s.storage.Delete(encodeEdgeOutIndexKey(e.From, e.Kind, id)); err != nil {
			return errors.Wrap(err, "graph: delete edge out-index")
		}
		if err := s.storage.Delete(encodeEdgeInIndexKey(e.To, e.Kind, id)); err != nil {
			return errors.Wrap(err, "graph: delete edge in-index")
		}
	}

	s.dirtyVertices = map[VertexID]struct{}{}
	s.dirtyEdges = map[EdgeID]struct{}{}
	s.deletedVertices = map[VertexID]struct{}{}
	s.deletedEdges = map[EdgeID]*Edge{}
	return nil
}

func (s *Store) putEdge(e *Edge) error {
	if err := s.storage.Put(encodeEdgeKey(e.ID), encodeEdge(e)); err != nil {
		return errors.Wrap(err, "graph: flush edge")
	}
	if err := s.storage.Put(encodeEdgeOutIndexKey(e.From, e.Kind, e.ID), []byte{}); err != nil {
		return errors.Wrap(err, "graph: flush edge out-index")
	}
	if err := s.storage.Put(encodeEdgeInIndexKey(e.To, e.Kind, e.ID), []byte{}); err != nil {
		return errors.Wrap(err, "graph: flush edge in-index")
	}
	return nil
}

// Outs returns vertex's out-edges of kind, hydrating the adjacency list
// from the out-index prefix scan on first access. This is what keeps
// vertex.outs(kind) an O(result size) lookup rather than a full edge-table
// filter.
func (s *Store) Outs(v *Vertex, kind EdgeKind) ([]*Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hydrateOut(v, kind); err != nil {
		return nil, err
	}
	return s.resolveEdges(v.out[kind])
}

// Ins is the mirror of Outs over in-edges.
func (s *Store) Ins(v *Vertex, kind EdgeKind) ([]*Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hydrateIn(v, kind); err != nil {
		return nil, err
	}
	return s.resolveEdges(v.in[kind])
}

func (s *Store) hydrateOut(v *Vertex, kind EdgeKind) error {
	key := adjKey{v.ID, kind}
	if _, ok := s.loadedOut[key]; ok {
		return nil
	}
	it, err := s.storage.Iterate(VertexOutPrefix(v.ID, kind))
	if err != nil {
		return errors.Wrap(err, "graph: scan out-index")
	}
	defer it.Close()
	for it.Next() {
		v.addOut(kind, DecodeEdgeIDFromIndexKey(it.Key()))
	}
	if err := it.Err(); err != nil {
		return errors.Wrap(err, "graph: scan out-index")
	}
	s.loadedOut[key] = struct{}{}
	return nil
}

func (s *Store) hydrateIn(v *Vertex, kind EdgeKind) error {
	key := adjKey{v.ID, kind}
	if _, ok := s.loadedIn[key]; ok {
		return nil
	}
	it, err := s.storage.Iterate(VertexInPrefix(v.ID, kind))
	if err != nil {
		return errors.Wrap(err, "graph: scan in-index")
	}
	defer it.Close()
	for it.Next() {
		v.addIn(kind, DecodeEdgeIDFromIndexKey(it.Key()))
	}
	if err := it.Err(); err != nil {
		return errors.Wrap(err, "graph: scan in-index")
	}
	s.loadedIn[key] = struct{}{}
	return nil
}

func (s *Store) resolveEdges(ids []EdgeID) ([]*Edge, error) {
	out := make([]*Edge, 0, len(ids))
	for _, id := range ids {
		e, err := s.edgeLocked(id)
		if err != nil {
			return nil, err
		}
		if e != nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// VerticesSnapshot returns every vertex currently cached in memory. It
// does not load vertices that exist in storage but have never been
// touched this transaction; callers that need the whole graph (e.g.
// commit-time schema validation) rely on every mutated type already
// being cached from the edit that dirtied it.
func (s *Store) VerticesSnapshot() []*Vertex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Vertex, 0, len(s.vertices))
	for _, v := range s.vertices {
		out = append(out, v)
	}
	return out
}

// All scans every vertex record in storage, populating the cache as it
// goes, and returns the complete set. Unlike VerticesSnapshot this pays
// for a full prefix scan every call; it exists for label lookups and
// other whole-graph queries that have no adjacency index to ride on.
func (s *Store) All() ([]*Vertex, error) {
	it, err := s.storage.Iterate(VertexRecordPrefix())
	if err != nil {
		return nil, errors.Wrap(err, "graph: scan vertices")
	}
	defer it.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[VertexID]struct{}{}
	var out []*Vertex
	for it.Next() {
		id := DecodeVertexIDFromKey(it.Key())
		seen[id] = struct{}{}
		if _, deleted := s.deletedVertices[id]; deleted {
			continue
		}
		if v, ok := s.vertices[id]; ok {
			out = append(out, v)
			continue
		}
		v := decodeVertex(id, it.Value())
		s.vertices[id] = v
		out = append(out, v)
	}
	if err := it.Err(); err != nil {
		return nil, errors.Wrap(err, "graph: scan vertices")
	}
	// Vertices created this transaction have no storage record yet; the
	// prefix scan above never sees them, so fold them in from the cache.
	for id, v := range s.vertices {
		if _, scanned := seen[id]; scanned {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
