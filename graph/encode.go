package graph

import "encoding/binary"

// Key layout. Every key starts with a single type byte so vertex records,
// canonical edge records, and the two adjacency indexes each live in their
// own lexicographic range and never collide under a prefix scan.
const (
	vertexRecordPrefix  byte = 0x01
	edgeRecordPrefix    byte = 0x02
	edgeOutIndexPrefix  byte = 0x03
	edgeInIndexPrefix   byte = 0x04
)

func putUint64(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }
func getUint64(b []byte) uint64    { return binary.BigEndian.Uint64(b) }

func encodeVertexKey(id VertexID) []byte {
	k := make([]byte, 1+8)
	k[0] = vertexRecordPrefix
	putUint64(k[1:], uint64(id))
	return k
}

// VertexRecordPrefix is the single-byte prefix covering every vertex
// record, letting Storage.Iterate answer a full vertex scan (Store.All)
// without touching the edge ranges.
func VertexRecordPrefix() []byte { return []byte{vertexRecordPrefix} }

// DecodeVertexIDFromKey extracts the ID from a vertex record key, for
// callers scanning VertexRecordPrefix directly.
func DecodeVertexIDFromKey(key []byte) VertexID {
	return VertexID(getUint64(key[1:9]))
}

func encodeEdgeKey(id EdgeID) []byte {
	k := make([]byte, 1+8)
	k[0] = edgeRecordPrefix
	putUint64(k[1:], uint64(id))
	return k
}

// VertexOutPrefix returns the key prefix covering every out-edge of kind
// belonging to vertex id, letting Storage.Iterate answer vertex.outs(kind)
// as a single prefix scan.
func VertexOutPrefix(id VertexID, kind EdgeKind) []byte {
	k := make([]byte, 1+8+1)
	k[0] = edgeOutIndexPrefix
	putUint64(k[1:9], uint64(id))
	k[9] = byte(kind)
	return k
}

func VertexInPrefix(id VertexID, kind EdgeKind) []byte {
	k := make([]byte, 1+8+1)
	k[0] = edgeInIndexPrefix
	putUint64(k[1:9], uint64(id))
	k[9] = byte(kind)
	return k
}

func encodeEdgeOutIndexKey(from VertexID, kind EdgeKind, id EdgeID) []byte {
	k := append(VertexOutPrefix(from, kind), make([]byte, 8)...)
	putUint64(k[10:], uint64(id))
	return k
}

func encodeEdgeInIndexKey(to VertexID, kind EdgeKind, id EdgeID) []byte {
	k := append(VertexInPrefix(to, kind), make([]byte, 8)...)
	putUint64(k[10:], uint64(id))
	return k
}

// DecodeEdgeIDFromIndexKey extracts the trailing edge ID from an out/in
// index key; Store uses it to hydrate adjacency lists from an index scan.
func DecodeEdgeIDFromIndexKey(key []byte) EdgeID {
	return EdgeID(getUint64(key[10:18]))
}

// encodeVertex serialises a vertex's scalar fields. Adjacency is not part
// of the vertex record: it lives entirely in the edge index keys, so
// appending an edge never requires rewriting a vertex record.
func encodeVertex(v *Vertex) []byte {
	label := []byte(v.Label)
	buf := make([]byte, 1+1+1+1+2+len(label))
	buf[0] = byte(v.Kind)
	buf[1] = boolByte(v.IsAbstract)
	buf[2] = boolByte(v.IsRoot)
	buf[3] = byte(v.ValueType)
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(label)))
	copy(buf[6:], label)
	return buf
}

func decodeVertex(id VertexID, data []byte) *Vertex {
	v := &Vertex{
		ID:         id,
		Kind:       Kind(data[0]),
		IsAbstract: data[1] != 0,
		IsRoot:     data[2] != 0,
		ValueType:  ValueType(data[3]),
		out:        map[EdgeKind][]EdgeID{},
		in:         map[EdgeKind][]EdgeID{},
	}
	n := binary.BigEndian.Uint16(data[4:6])
	v.Label = string(data[6 : 6+int(n)])
	return v
}

// encodeEdge serialises an edge's scalar fields. From/To/Kind are also
// encoded into the index keys, but are repeated here so a canonical
// lookup by EdgeID alone (Store.Edge) doesn't need to scan an index.
func encodeEdge(e *Edge) []byte {
	role := []byte(e.RoleType)
	buf := make([]byte, 1+8+8+8+8+2+len(role))
	buf[0] = byte(e.Kind)
	putUint64(buf[1:9], uint64(e.From))
	putUint64(buf[9:17], uint64(e.To))
	putUint64(buf[17:25], uint64(e.Overridden))
	putUint64(buf[25:33], uint64(e.Repetition))
	binary.BigEndian.PutUint16(buf[33:35], uint16(len(role)))
	copy(buf[35:], role)
	return buf
}

func decodeEdge(id EdgeID, data []byte) *Edge {
	e := &Edge{
		ID:         id,
		Kind:       EdgeKind(data[0]),
		From:       VertexID(getUint64(data[1:9])),
		To:         VertexID(getUint64(data[9:17])),
		Overridden: VertexID(getUint64(data[17:25])),
		Repetition: int(getUint64(data[25:33])),
	}
	n := binary.BigEndian.Uint16(data[33:35])
	e.RoleType = string(data[35 : 35+int(n)])
	return e
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
