package schema

import "github.com/dmikhalin/typedb/graph"

// rootLabels is the fixed label for each kind's distinguished SUB root.
// Root vertices have no SUB parent and every mutating lattice operation
// on them fails.
var rootLabels = map[graph.Kind]string{
	graph.ThingType:     "thing",
	graph.EntityType:    "entity",
	graph.AttributeType: "attribute",
	graph.RelationType:  "relation",
	graph.RoleType:      "role",
}

// Bootstrap creates a root type vertex for each kind in ids, at its given
// ID, unless the store already holds a vertex at that ID. It is
// idempotent: calling it against an already-initialised schema graph is a
// no-op.
func Bootstrap(store *graph.Store, ids map[graph.Kind]graph.VertexID) error {
	for kind, id := range ids {
		existing, err := store.Vertex(id)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		v := store.NewVertex(id, kind)
		v.Label = rootLabels[kind]
		v.IsRoot = true
		store.MarkDirty(v)
	}
	return nil
}
