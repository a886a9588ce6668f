// Package schema implements the type lattice: inheritance over the typed
// graph's SUB edges, override-aware transitive queries for
// keys/attributes/plays, and the mutation operations' validation rules.
package schema

import (
	"github.com/dmikhalin/typedb/errors"
	"github.com/dmikhalin/typedb/graph"
)

// Lattice is a thin set of operations over a *graph.Store restricted to
// type vertices. It holds no state of its own; every call re-reads the
// store, which is already an in-memory cache, so repeated lattice calls
// within one transaction are cheap.
type Lattice struct {
	store *graph.Store
}

func NewLattice(store *graph.Store) *Lattice {
	return &Lattice{store: store}
}

func (l *Lattice) checkNotRoot(t *graph.Vertex) error {
	if t.IsRoot {
		return errors.New(errors.InvalidRootTypeMutation, "cannot mutate a root type")
	}
	return nil
}

// Parent returns t's single SUB parent, or nil if t is a root.
func (l *Lattice) Parent(t *graph.Vertex) (*graph.Vertex, error) {
	outs, err := l.store.Outs(t, graph.Sub)
	if err != nil {
		return nil, err
	}
	if len(outs) == 0 {
		return nil, nil
	}
	return l.store.Vertex(outs[0].To)
}

// IsSubtype reports whether sub is super or a (possibly transitive)
// descendant of super, walking the SUB chain.
func (l *Lattice) IsSubtype(sub, super *graph.Vertex) (bool, error) {
	for cur := sub; cur != nil; {
		if cur.ID == super.ID {
			return true, nil
		}
		p, err := l.Parent(cur)
		if err != nil {
			return false, err
		}
		cur = p
	}
	return false, nil
}

func (l *Lattice) SetLabel(t *graph.Vertex, label string) error {
	if err := l.checkNotRoot(t); err != nil {
		return err
	}
	t.Label = label
	l.store.MarkDirty(t)
	return nil
}

func (l *Lattice) SetAbstract(t *graph.Vertex, abstract bool) error {
	if err := l.checkNotRoot(t); err != nil {
		return err
	}
	t.IsAbstract = abstract
	l.store.MarkDirty(t)
	return nil
}

// SetSub rewires t's single SUB parent. Any previously existing SUB edge
// is dropped first; the invariant that SUB is acyclic is the caller's
// (schema-validation) responsibility, checked at commit via Validate.
func (l *Lattice) SetSub(t, parent *graph.Vertex) error {
	if err := l.checkNotRoot(t); err != nil {
		return err
	}
	outs, err := l.store.Outs(t, graph.Sub)
	if err != nil {
		return err
	}
	for _, e := range outs {
		if err := l.store.RemoveEdge(e); err != nil {
			return err
		}
	}
	_, err = l.store.AddEdge(graph.Sub, t.ID, parent.ID, 0)
	return err
}

// declaredEdges returns t's own KEY, HAS or PLAYS edges (not inherited).
func (l *Lattice) declaredEdges(t *graph.Vertex, kind graph.EdgeKind) ([]*graph.Edge, error) {
	return l.store.Outs(t, kind)
}

func edgeTargets(store *graph.Store, edges []*graph.Edge) ([]*graph.Vertex, error) {
	out := make([]*graph.Vertex, 0, len(edges))
	for _, e := range edges {
		v, err := store.Vertex(e.To)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// overriddenAt returns the set of vertex IDs named as `overridden` by t's
// declared edges of the given kinds.
func (l *Lattice) overriddenAt(t *graph.Vertex, kinds ...graph.EdgeKind) (map[graph.VertexID]struct{}, error) {
	set := map[graph.VertexID]struct{}{}
	for _, kind := range kinds {
		edges, err := l.declaredEdges(t, kind)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			if e.Overridden != 0 {
				set[e.Overridden] = struct{}{}
			}
		}
	}
	return set, nil
}

// Keys returns the visible key set of t: keys(T) = declared_keys(T) ∪
// {a ∈ keys(parent(T)) : a ∉ overridden_keys_at(T)}, declared-first then
// inherited in nearest-ancestor-first order.
func (l *Lattice) Keys(t *graph.Vertex) ([]*graph.Vertex, error) {
	declaredEdges, err := l.declaredEdges(t, graph.Key)
	if err != nil {
		return nil, err
	}
	declared, err := edgeTargets(l.store, declaredEdges)
	if err != nil {
		return nil, err
	}

	parent, err := l.Parent(t)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return declared, nil
	}
	parentKeys, err := l.Keys(parent)
	if err != nil {
		return nil, err
	}
	overridden, err := l.overriddenAt(t, graph.Key)
	if err != nil {
		return nil, err
	}
	result := declared
	for _, a := range parentKeys {
		if _, ok := overridden[a.ID]; !ok {
			result = append(result, a)
		}
	}
	return result, nil
}

// Attributes returns the visible attribute set of t, over the union of
// KEY and HAS edges, analogous to Keys.
func (l *Lattice) Attributes(t *graph.Vertex) ([]*graph.Vertex, error) {
	keyEdges, err := l.declaredEdges(t, graph.Key)
	if err != nil {
		return nil, err
	}
	hasEdges, err := l.declaredEdges(t, graph.Has)
	if err != nil {
		return nil, err
	}
	declared, err := edgeTargets(l.store, append(append([]*graph.Edge{}, keyEdges...), hasEdges...))
	if err != nil {
		return nil, err
	}

	parent, err := l.Parent(t)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return declared, nil
	}
	parentAttrs, err := l.Attributes(parent)
	if err != nil {
		return nil, err
	}
	overridden, err := l.overriddenAt(t, graph.Key, graph.Has)
	if err != nil {
		return nil, err
	}
	result := declared
	for _, a := range parentAttrs {
		if _, ok := overridden[a.ID]; !ok {
			result = append(result, a)
		}
	}
	return result, nil
}

// Plays returns the visible PLAYS set of t, analogous to Keys.
func (l *Lattice) Plays(t *graph.Vertex) ([]*graph.Vertex, error) {
	declaredEdges, err := l.declaredEdges(t, graph.Plays)
	if err != nil {
		return nil, err
	}
	declared, err := edgeTargets(l.store, declaredEdges)
	if err != nil {
		return nil, err
	}

	parent, err := l.Parent(t)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return declared, nil
	}
	parentPlays, err := l.Plays(parent)
	if err != nil {
		return nil, err
	}
	overridden, err := l.overriddenAt(t, graph.Plays)
	if err != nil {
		return nil, err
	}
	result := declared
	for _, a := range parentPlays {
		if _, ok := overridden[a.ID]; !ok {
			result = append(result, a)
		}
	}
	return result, nil
}

func containsVertex(vs []*graph.Vertex, id graph.VertexID) bool {
	for _, v := range vs {
		if v.ID == id {
			return true
		}
	}
	return false
}

func containsID(ids []graph.VertexID, id graph.VertexID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// edgeTargetIDs is edgeTargets without resolving vertex handles, used by
// the idempotence checks below where only identity comparison matters.
func edgeTargetIDs(edges []*graph.Edge) []graph.VertexID {
	ids := make([]graph.VertexID, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, e.To)
	}
	return ids
}

// AddKey declares attr as a key of t.
func (l *Lattice) AddKey(t, attr *graph.Vertex) error {
	if err := l.checkNotRoot(t); err != nil {
		return err
	}
	existing, err := l.declaredEdges(t, graph.Key)
	if err != nil {
		return err
	}
	if containsID(edgeTargetIDs(existing), attr.ID) {
		return nil // idempotent
	}
	if !attr.ValueType.Keyable() {
		return errors.New(errors.InvalidKeyValueType, "attribute value type is not keyable")
	}
	if err := l.checkAttributeAvailable(t, attr); err != nil {
		return err
	}
	_, err = l.store.AddEdge(graph.Key, t.ID, attr.ID, 0)
	return err
}

// AddKeyOverride declares attr as a key of t, overriding the ancestor's
// edge to overridden.
func (l *Lattice) AddKeyOverride(t, attr, overridden *graph.Vertex) error {
	if err := l.checkNotRoot(t); err != nil {
		return err
	}
	if !attr.ValueType.Keyable() {
		return errors.New(errors.InvalidKeyValueType, "attribute value type is not keyable")
	}
	if err := l.checkOverride(t, attr, overridden); err != nil {
		return err
	}
	_, err := l.store.AddEdge(graph.Key, t.ID, attr.ID, overridden.ID)
	return err
}

// AddHas declares attr as an (unkeyed) attribute of t.
func (l *Lattice) AddHas(t, attr *graph.Vertex) error {
	if err := l.checkNotRoot(t); err != nil {
		return err
	}
	existing, err := l.declaredEdges(t, graph.Has)
	if err != nil {
		return err
	}
	if containsID(edgeTargetIDs(existing), attr.ID) {
		return nil
	}
	if err := l.checkAttributeAvailable(t, attr); err != nil {
		return err
	}
	_, err = l.store.AddEdge(graph.Has, t.ID, attr.ID, 0)
	return err
}

// AddHasOverride declares attr as an attribute of t, overriding overridden.
func (l *Lattice) AddHasOverride(t, attr, overridden *graph.Vertex) error {
	if err := l.checkNotRoot(t); err != nil {
		return err
	}
	if err := l.checkOverride(t, attr, overridden); err != nil {
		return err
	}
	_, err := l.store.AddEdge(graph.Has, t.ID, attr.ID, overridden.ID)
	return err
}

// AddPlays declares that instances of t may play role.
func (l *Lattice) AddPlays(t, role *graph.Vertex) error {
	if err := l.checkNotRoot(t); err != nil {
		return err
	}
	declaredEdges, err := l.declaredEdges(t, graph.Plays)
	if err != nil {
		return err
	}
	if containsID(edgeTargetIDs(declaredEdges), role.ID) {
		return nil
	}
	declared, err := edgeTargets(l.store, declaredEdges)
	if err != nil {
		return err
	}
	parent, err := l.Parent(t)
	if err != nil {
		return err
	}
	if parent != nil {
		inherited, err := l.Plays(parent)
		if err != nil {
			return err
		}
		if containsVertex(inherited, role.ID) || containsVertex(declared, role.ID) {
			return errors.New(errors.InvalidOverrideNotAvailable, "role already playable without an explicit override")
		}
	}
	_, err = l.store.AddEdge(graph.Plays, t.ID, role.ID, 0)
	return err
}

// AddPlaysOverride declares that t plays role, overriding overridden.
func (l *Lattice) AddPlaysOverride(t, role, overridden *graph.Vertex) error {
	if err := l.checkNotRoot(t); err != nil {
		return err
	}
	parent, err := l.Parent(t)
	if err != nil {
		return err
	}
	if parent == nil {
		return errors.New(errors.InvalidOverrideNotAvailable, "root type has no ancestor to override")
	}
	inherited, err := l.Plays(parent)
	if err != nil {
		return err
	}
	if !containsVertex(inherited, overridden.ID) {
		return errors.New(errors.InvalidOverrideNotAvailable, "overridden role is not ancestor-visible")
	}
	declaredEdges, err := l.declaredEdges(t, graph.Plays)
	if err != nil {
		return err
	}
	declared, err := edgeTargets(l.store, declaredEdges)
	if err != nil {
		return err
	}
	if containsVertex(declared, role.ID) {
		return errors.New(errors.InvalidOverrideNotAvailable, "role already declared on this type")
	}
	ok, err := l.IsSubtype(role, overridden)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New(errors.InvalidOverrideNotSupertype, "overriding role is not a subtype of the overridden role")
	}
	_, err = l.store.AddEdge(graph.Plays, t.ID, role.ID, overridden.ID)
	return err
}

// checkAttributeAvailable implements the "no existing HAS/KEY to attr on
// self, no ancestor declares/inherits attr" precondition shared by plain
// AddKey and AddHas.
func (l *Lattice) checkAttributeAvailable(t, attr *graph.Vertex) error {
	keyEdges, err := l.declaredEdges(t, graph.Key)
	if err != nil {
		return err
	}
	hasEdges, err := l.declaredEdges(t, graph.Has)
	if err != nil {
		return err
	}
	selfKeys, err := edgeTargets(l.store, keyEdges)
	if err != nil {
		return err
	}
	selfHas, err := edgeTargets(l.store, hasEdges)
	if err != nil {
		return err
	}
	if containsVertex(selfKeys, attr.ID) || containsVertex(selfHas, attr.ID) {
		return errors.New(errors.InvalidOverrideNotAvailable, "attribute already declared on this type")
	}
	parent, err := l.Parent(t)
	if err != nil {
		return err
	}
	if parent != nil {
		ancestorAttrs, err := l.Attributes(parent)
		if err != nil {
			return err
		}
		if containsVertex(ancestorAttrs, attr.ID) {
			return errors.New(errors.InvalidOverrideNotAvailable, "attribute already declared by an ancestor")
		}
	}
	return nil
}

// checkOverride implements the shared key(attr,overridden)/has(attr,overridden)
// precondition: overridden must be ancestor-visible, of the same value
// type, not among this type's own declared attributes, and attr must be a
// subtype (inclusive) of overridden.
func (l *Lattice) checkOverride(t, attr, overridden *graph.Vertex) error {
	parent, err := l.Parent(t)
	if err != nil {
		return err
	}
	if parent == nil {
		return errors.New(errors.InvalidOverrideNotAvailable, "root type has no ancestor to override")
	}
	ancestorAttrs, err := l.Attributes(parent)
	if err != nil {
		return err
	}
	if !containsVertex(ancestorAttrs, overridden.ID) {
		return errors.New(errors.InvalidOverrideNotAvailable, "overridden attribute is not ancestor-visible")
	}
	keyEdges, err := l.declaredEdges(t, graph.Key)
	if err != nil {
		return err
	}
	hasEdges, err := l.declaredEdges(t, graph.Has)
	if err != nil {
		return err
	}
	declared, err := edgeTargets(l.store, keyEdges)
	if err != nil {
		return err
	}
	declaredHas, err := edgeTargets(l.store, hasEdges)
	if err != nil {
		return err
	}
	if containsVertex(declared, attr.ID) || containsVertex(declaredHas, attr.ID) {
		return errors.New(errors.InvalidOverrideNotAvailable, "attribute already declared on this type")
	}
	if containsVertex(declared, overridden.ID) || containsVertex(declaredHas, overridden.ID) {
		return errors.New(errors.InvalidOverrideNotAvailable, "overridden attribute is declared on this type")
	}
	if attr.ValueType != overridden.ValueType {
		return errors.New(errors.InvalidOverrideNotSupertype, "overriding attribute has a different value type")
	}
	ok, err := l.IsSubtype(attr, overridden)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New(errors.InvalidOverrideNotSupertype, "overriding attribute is not a subtype of the overridden attribute")
	}
	return nil
}

func (l *Lattice) Unkey(t, attr *graph.Vertex) error {
	return l.removeDeclared(t, graph.Key, attr)
}

func (l *Lattice) Unhas(t, attr *graph.Vertex) error {
	return l.removeDeclared(t, graph.Has, attr)
}

func (l *Lattice) Unplay(t, role *graph.Vertex) error {
	return l.removeDeclared(t, graph.Plays, role)
}

func (l *Lattice) removeDeclared(t *graph.Vertex, kind graph.EdgeKind, target *graph.Vertex) error {
	if err := l.checkNotRoot(t); err != nil {
		return err
	}
	edges, err := l.declaredEdges(t, kind)
	if err != nil {
		return err
	}
	for _, e := range edges {
		if e.To == target.ID {
			return l.store.RemoveEdge(e)
		}
	}
	return nil // idempotent: nothing to remove
}

// Delete removes t, failing if it has a proper subtype or any instance in
// its subtree.
func (l *Lattice) Delete(t *graph.Vertex) error {
	if err := l.checkNotRoot(t); err != nil {
		return err
	}
	children, err := l.store.Ins(t, graph.Sub)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return errors.New(errors.SchemaViolation, "cannot delete a type with proper subtypes")
	}
	// HasInstance edges link instances directly to their type; their
	// absence is this core's proxy for "no instance in the subtree"
	// (instances of subtypes are excluded already by the check above).
	instances, err := l.store.Ins(t, graph.HasInstance)
	if err != nil {
		return err
	}
	if len(instances) > 0 {
		return errors.New(errors.SchemaViolation, "cannot delete a type with instances")
	}
	l.store.RemoveVertex(t)
	return nil
}

// Validate checks t against the lattice invariants. Root types are no-ops.
// It checks that t's SUB chain contains no cycle and that no attribute is
// declared on t by both a KEY and a HAS edge. The value-type, ancestor-
// availability and PLAYS rules are checked only by AddKey/AddHas/AddPlays
// and their override variants at declaration time, not here.
func (l *Lattice) Validate(t *graph.Vertex) error {
	if t.IsRoot {
		return nil
	}
	ancestors := map[graph.VertexID]struct{}{t.ID: {}}
	for cur := t; ; {
		p, err := l.Parent(cur)
		if err != nil {
			return err
		}
		if p == nil {
			break
		}
		if _, cycle := ancestors[p.ID]; cycle {
			return errors.New(errors.SchemaViolation, "SUB chain contains a cycle")
		}
		ancestors[p.ID] = struct{}{}
		cur = p
	}
	keyEdges, err := l.declaredEdges(t, graph.Key)
	if err != nil {
		return err
	}
	hasEdges, err := l.declaredEdges(t, graph.Has)
	if err != nil {
		return err
	}
	seen := map[graph.VertexID]struct{}{}
	for _, e := range keyEdges {
		if _, dup := seen[e.To]; dup {
			return errors.New(errors.SchemaViolation, "attribute declared by both KEY and HAS")
		}
		seen[e.To] = struct{}{}
	}
	for _, e := range hasEdges {
		if _, dup := seen[e.To]; dup {
			return errors.New(errors.SchemaViolation, "attribute declared by both KEY and HAS")
		}
		seen[e.To] = struct{}{}
	}
	return nil
}

// ValidateSubtree recursively validates t and every proper subtype,
// matching the commit-time "validate types" step.
func (l *Lattice) ValidateSubtree(t *graph.Vertex) error {
	if err := l.Validate(t); err != nil {
		return err
	}
	children, err := l.store.Ins(t, graph.Sub)
	if err != nil {
		return err
	}
	for _, e := range children {
		child, err := l.store.Vertex(e.From)
		if err != nil {
			return err
		}
		if err := l.ValidateSubtree(child); err != nil {
			return err
		}
	}
	return nil
}

// Lookup resolves a type by its label, scanning every vertex in the
// schema graph. There is no label index; this core expects label
// resolution to happen at schema-definition time, not per query, so a
// full scan is acceptable here (used by the CLI and by callers bridging
// user-facing names to vertex handles).
func (l *Lattice) Lookup(label string) (*graph.Vertex, error) {
	vertices, err := l.store.All()
	if err != nil {
		return nil, err
	}
	for _, v := range vertices {
		if v.Kind.IsType() && v.Label == label {
			return v, nil
		}
	}
	return nil, nil
}
