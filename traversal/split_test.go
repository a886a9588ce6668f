package traversal

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func vertexIDs(vs []*StructVertex) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = string(v.ID)
	}
	sort.Strings(out)
	return out
}

// S5 — Disjoint split with seeds.
func TestSplitDisjoint_S5(t *testing.T) {
	build := func() *Structure {
		s := NewStructure()
		a, b, c, d, e := s.ThingVertex("a"), s.ThingVertex("b"), s.ThingVertex("c"), s.ThingVertex("d"), s.ThingVertex("e")
		s.EqualEdge(a, b)
		s.EqualEdge(c, d)
		_ = e
		return s
	}

	s := build()
	parts := s.SplitDisjoint([]VertexID{"a", "c"})
	require.Len(t, parts, 2)
	require.ElementsMatch(t, []string{"a", "b", "c", "d"}, vertexIDs(parts[0].Vertices()))
	require.ElementsMatch(t, []string{"e"}, vertexIDs(parts[1].Vertices()))

	s2 := build()
	parts2 := s2.SplitDisjoint(nil)
	require.Len(t, parts2, 3)
	var sizes []int
	for _, p := range parts2 {
		sizes = append(sizes, len(p.Vertices()))
	}
	sort.Ints(sizes)
	require.Equal(t, []int{1, 2, 2}, sizes)
}

// Testable property 4: split_disjoint is a partition.
func TestSplitDisjoint_IsPartition(t *testing.T) {
	s := NewStructure()
	a, b, c, d, e := s.ThingVertex("a"), s.ThingVertex("b"), s.ThingVertex("c"), s.ThingVertex("d"), s.ThingVertex("e")
	s.EqualEdge(a, b)
	s.EqualEdge(b, c)
	s.PredicateEdge(c, d, ">")
	_ = e

	parts := s.SplitDisjoint(nil)

	seenV := map[string]int{}
	totalE := 0
	for _, p := range parts {
		for _, v := range p.Vertices() {
			seenV[string(v.ID)]++
		}
		totalE += len(p.Edges())
	}
	require.Len(t, seenV, 5)
	for id, count := range seenV {
		require.Equal(t, 1, count, "vertex %s should appear in exactly one output", id)
	}
	require.Equal(t, len(s.Edges()), totalE)
}

func TestSelfLoopRecordedOnlyOnLoopSet(t *testing.T) {
	s := NewStructure()
	a := s.ThingVertex("a")
	s.NativeEdge(a, a, 0, false, nil)
	require.Len(t, a.loop, 1)
	require.Empty(t, a.out)
	require.Empty(t, a.in)
}

func TestRecreatingVertexUnderOtherKindPanics(t *testing.T) {
	s := NewStructure()
	s.ThingVertex("x")
	require.Panics(t, func() { s.TypeVertex("x") })
}
