package traversal

// SplitDisjoint partitions the structure into weakly-connected components.
// If forceConnect is non-empty, every component reachable
// from any listed vertex is collapsed into the first output element, even
// if no edge directly links those components to each other; remaining
// components each become their own output element.
func (s *Structure) SplitDisjoint(forceConnect []VertexID) []*Structure {
	unvisitedV := make(map[VertexID]*StructVertex, len(s.vertices))
	for id, v := range s.vertices {
		unvisitedV[id] = v
	}
	unvisitedE := make(map[*StructEdge]struct{}, len(s.edges))
	for _, e := range s.edges {
		unvisitedE[e] = struct{}{}
	}

	var results []*Structure

	if len(forceConnect) > 0 {
		merged := NewStructure()
		any := false
		for _, id := range forceConnect {
			seed, ok := unvisitedV[id]
			if !ok {
				continue
			}
			walk(seed, merged, unvisitedV, unvisitedE)
			any = true
		}
		if any {
			results = append(results, merged)
		}
	}

	for len(unvisitedV) > 0 {
		var seed *StructVertex
		for _, v := range unvisitedV {
			seed = v
			break
		}
		out := NewStructure()
		walk(seed, out, unvisitedV, unvisitedE)
		results = append(results, out)
	}

	return results
}

// walk marks seed visited, copies it (and its property bag, if
// variable-identified) into out, then recursively follows every
// still-unvisited edge touching it, copying each edge and recursing on
// the far endpoint. Loop edges advance no vertex.
func walk(seed *StructVertex, out *Structure, unvisitedV map[VertexID]*StructVertex, unvisitedE map[*StructEdge]struct{}) {
	if _, ok := unvisitedV[seed.ID]; !ok {
		return
	}
	delete(unvisitedV, seed.ID)

	seedCopy := out.getOrCreate(seed.ID, seed.Kind)
	seedCopy.IsVariable = seed.IsVariable
	if seed.IsVariable {
		for k, v := range seed.Props {
			seedCopy.Props[k] = v
		}
	}

	edges := make([]*StructEdge, 0, len(seed.out)+len(seed.in)+len(seed.loop))
	edges = append(edges, seed.out...)
	edges = append(edges, seed.in...)
	edges = append(edges, seed.loop...)

	for _, e := range edges {
		if _, ok := unvisitedE[e]; !ok {
			continue
		}
		delete(unvisitedE, e)

		other := e.From
		if other == seed {
			other = e.To
		}

		fromCopy := out.getOrCreate(e.From.ID, e.From.Kind)
		toCopy := out.getOrCreate(e.To.ID, e.To.Kind)
		out.addEdge(&StructEdge{
			Variant:      e.Variant,
			From:         fromCopy,
			To:           toCopy,
			PredicateStr: e.PredicateStr,
			EdgeKind:     e.EdgeKind,
			Transitive:   e.Transitive,
			Annotations:  e.Annotations,
			RoleTypes:    e.RoleTypes,
			Repetition:   e.Repetition,
		})

		if !e.isLoop() {
			walk(other, out, unvisitedV, unvisitedE)
		}
	}
}
