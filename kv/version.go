package kv

import (
	"github.com/benbjohnson/immutable"
	"github.com/cespare/xxhash"
)

// versionMap tracks, for every key ever written, the commit sequence
// number at which it was last written, using a persistent map that can
// be snapshotted cheaply (by just keeping a pointer) at the start of
// every transaction, and advanced one key at a time on commit without
// disturbing transactions that hold an older snapshot.
type versionMap struct {
	m *immutable.Map[string, uint64]
}

func newVersionMap() *versionMap {
	return &versionMap{m: immutable.NewMap[string, uint64](&stringHasher{})}
}

func (v *versionMap) snapshot() *immutable.Map[string, uint64] {
	return v.m
}

func (v *versionMap) get(snap *immutable.Map[string, uint64], key []byte) uint64 {
	ver, ok := snap.Get(string(key))
	if !ok {
		return 0
	}
	return ver
}

// bump advances the version of every key in keys to seq, replacing v's map
// with the new one. The caller holds the engine's write mutex while doing
// this.
func (v *versionMap) bump(keys [][]byte, seq uint64) {
	m := v.m
	for _, k := range keys {
		m = m.Set(string(k), seq)
	}
	v.m = m
}

// stringHasher implements immutable.Hasher[string] the same way the
// teacher's uint32Hasher (rbf/rbf.go) implements it for uint32 page
// numbers, just hashing the raw key bytes with xxhash instead of folding a
// uint64.
type stringHasher struct{}

func (h *stringHasher) Hash(key string) uint32 {
	return uint32(xxhash.Sum64String(key))
}

func (h *stringHasher) Equal(a, b string) bool {
	return a == b
}
