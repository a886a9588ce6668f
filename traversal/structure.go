// Package traversal implements the query planner's input graph: a
// mutable, identity-keyed multigraph of structure-vertices and
// structure-edges, with weakly-connected-component partitioning
// (SplitDisjoint) as its one non-trivial algorithm.
package traversal

import "github.com/dmikhalin/typedb/graph"

// VertexID identifies a structure-vertex: a query variable name, or a
// synthetic identifier for an anonymous vertex. Two calls to ThingVertex
// or TypeVertex with the same VertexID return the same vertex.
type VertexID string

// VertexKind partitions structure-vertices into the thing/type split.
type VertexKind uint8

const (
	ThingVertex VertexKind = iota
	TypeVertex
)

// StructVertex is one vertex of a Structure. Props holds the property
// bag for variable-identified vertices, stored once and referenced;
// anonymous vertices never populate it.
type StructVertex struct {
	ID         VertexID
	Kind       VertexKind
	IsVariable bool
	Props      map[string]interface{}

	out, in, loop []*StructEdge
}

// EdgeVariant is the closed set of structure-edge shapes.
type EdgeVariant uint8

const (
	Equal EdgeVariant = iota
	Predicate
	Native
	RolePlayer
)

// StructEdge is one edge of a Structure. Which fields are meaningful
// depends on Variant: Predicate uses PredicateStr; Native uses EdgeKind,
// Transitive, Annotations; RolePlayer uses RoleTypes, Repetition,
// Annotations.
type StructEdge struct {
	Variant EdgeVariant
	From    *StructVertex
	To      *StructVertex

	PredicateStr string

	EdgeKind   graph.EdgeKind
	Transitive bool
	Annotations []string

	RoleTypes  []string
	Repetition int
}

func (e *StructEdge) isLoop() bool { return e.From == e.To }

// Structure is a mutable query graph builder. The zero value is not
// usable; use NewStructure.
type Structure struct {
	vertices map[VertexID]*StructVertex
	edges    []*StructEdge
}

func NewStructure() *Structure {
	return &Structure{vertices: map[VertexID]*StructVertex{}}
}

// ThingVertex returns the thing-kind vertex with id, creating it (as a
// variable-identified vertex with an empty property bag) if absent.
func (s *Structure) ThingVertex(id VertexID) *StructVertex {
	return s.getOrCreate(id, ThingVertex)
}

// TypeVertex returns the type-kind vertex with id, creating it if absent.
func (s *Structure) TypeVertex(id VertexID) *StructVertex {
	return s.getOrCreate(id, TypeVertex)
}

func (s *Structure) getOrCreate(id VertexID, kind VertexKind) *StructVertex {
	if v, ok := s.vertices[id]; ok {
		if v.Kind != kind {
			panic("traversal: vertex " + string(id) + " recreated under a different kind")
		}
		return v
	}
	v := &StructVertex{ID: id, Kind: kind, IsVariable: true, Props: map[string]interface{}{}}
	s.vertices[id] = v
	return v
}

func (s *Structure) addEdge(e *StructEdge) *StructEdge {
	s.edges = append(s.edges, e)
	if e.isLoop() {
		e.From.loop = append(e.From.loop, e)
	} else {
		e.From.out = append(e.From.out, e)
		e.To.in = append(e.To.in, e)
	}
	return e
}

func (s *Structure) EqualEdge(a, b *StructVertex) *StructEdge {
	return s.addEdge(&StructEdge{Variant: Equal, From: a, To: b})
}

func (s *Structure) PredicateEdge(a, b *StructVertex, predicate string) *StructEdge {
	return s.addEdge(&StructEdge{Variant: Predicate, From: a, To: b, PredicateStr: predicate})
}

func (s *Structure) NativeEdge(from, to *StructVertex, kind graph.EdgeKind, transitive bool, annotations []string) *StructEdge {
	return s.addEdge(&StructEdge{
		Variant:     Native,
		From:        from,
		To:          to,
		EdgeKind:    kind,
		Transitive:  transitive,
		Annotations: annotations,
	})
}

func (s *Structure) RolePlayerEdge(from, to *StructVertex, roleTypes []string, repetition int) *StructEdge {
	return s.addEdge(&StructEdge{
		Variant:    RolePlayer,
		From:       from,
		To:         to,
		RoleTypes:  roleTypes,
		Repetition: repetition,
	})
}

// Vertices returns a read-only snapshot of every vertex in the structure.
func (s *Structure) Vertices() []*StructVertex {
	out := make([]*StructVertex, 0, len(s.vertices))
	for _, v := range s.vertices {
		out = append(out, v)
	}
	return out
}

// Edges returns a read-only snapshot of every edge in the structure.
func (s *Structure) Edges() []*StructEdge {
	out := make([]*StructEdge, len(s.edges))
	copy(out, s.edges)
	return out
}
