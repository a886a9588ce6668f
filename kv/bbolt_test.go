package kv

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestEngine(t *testing.T) *BboltEngine {
	t.Helper()
	dir := t.TempDir()
	engine, err := OpenBboltEngine(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

func putAndCommit(t *testing.T, engine *BboltEngine, kvs map[string]string) {
	t.Helper()
	tx, err := engine.BeginTx(true)
	require.NoError(t, err)
	for k, v := range kvs {
		require.NoError(t, tx.Put([]byte(k), []byte(v)))
	}
	require.NoError(t, tx.Commit())
}

// TestBboltTx_GetLastReturnsGreatestKeyWithPrefix exercises property 6: for
// any prefix, GetLast returns the same key Iterate would yield last.
func TestBboltTx_GetLastReturnsGreatestKeyWithPrefix(t *testing.T) {
	engine := openTestEngine(t)
	putAndCommit(t, engine, map[string]string{
		"a\x01": "1",
		"a\x02": "2",
		"a\x05": "5",
		"b\x01": "other prefix",
	})

	tx, err := engine.BeginTx(false)
	require.NoError(t, err)
	defer tx.Close()

	k, v, err := tx.GetLast([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("a\x05"), k)
	require.Equal(t, []byte("5"), v)
}

func TestBboltTx_GetLastReturnsNilForAbsentPrefix(t *testing.T) {
	engine := openTestEngine(t)
	putAndCommit(t, engine, map[string]string{"a\x01": "1"})

	tx, err := engine.BeginTx(false)
	require.NoError(t, err)
	defer tx.Close()

	k, v, err := tx.GetLast([]byte("z"))
	require.NoError(t, err)
	require.Nil(t, k)
	require.Nil(t, v)
}

// TestBboltTx_GetLastPrefersBufferedWriteOverStorage covers the case where
// this transaction's own uncommitted Put is the greatest key with the
// prefix, ahead of anything already committed.
func TestBboltTx_GetLastPrefersBufferedWriteOverStorage(t *testing.T) {
	engine := openTestEngine(t)
	putAndCommit(t, engine, map[string]string{"a\x01": "1"})

	tx, err := engine.BeginTx(true)
	require.NoError(t, err)
	defer tx.Close()
	require.NoError(t, tx.Put([]byte("a\x09"), []byte("buffered")))

	k, v, err := tx.GetLast([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("a\x09"), k)
	require.Equal(t, []byte("buffered"), v)
}

// TestBboltTx_GetLastRescansBelowTombstonedKey covers storageGetLastBelow:
// when this transaction deletes the greatest stored key with the prefix,
// GetLast must fall back to the next-greatest surviving key instead of
// returning the tombstone or skipping the prefix entirely.
func TestBboltTx_GetLastRescansBelowTombstonedKey(t *testing.T) {
	engine := openTestEngine(t)
	putAndCommit(t, engine, map[string]string{
		"a\x01": "1",
		"a\x02": "2",
		"a\x05": "5",
	})

	tx, err := engine.BeginTx(true)
	require.NoError(t, err)
	defer tx.Close()
	require.NoError(t, tx.Delete([]byte("a\x05")))

	k, v, err := tx.GetLast([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("a\x02"), k)
	require.Equal(t, []byte("2"), v)
}

// TestBboltTx_GetLastRescansPastMultipleTombstones covers
// storageGetLastBelow's recursive case: several of the greatest keys with
// the prefix are tombstoned in this transaction, so the rescan must walk
// past all of them to the first surviving one.
func TestBboltTx_GetLastRescansPastMultipleTombstones(t *testing.T) {
	engine := openTestEngine(t)
	putAndCommit(t, engine, map[string]string{
		"a\x01": "1",
		"a\x02": "2",
		"a\x03": "3",
		"a\x05": "5",
	})

	tx, err := engine.BeginTx(true)
	require.NoError(t, err)
	defer tx.Close()
	require.NoError(t, tx.Delete([]byte("a\x05")))
	require.NoError(t, tx.Delete([]byte("a\x03")))
	require.NoError(t, tx.Delete([]byte("a\x02")))

	k, v, err := tx.GetLast([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("a\x01"), k)
	require.Equal(t, []byte("1"), v)
}

func TestBboltTx_GetLastAfterTombstoningEveryKeyInPrefix(t *testing.T) {
	engine := openTestEngine(t)
	putAndCommit(t, engine, map[string]string{"a\x01": "1", "a\x02": "2"})

	tx, err := engine.BeginTx(true)
	require.NoError(t, err)
	defer tx.Close()
	require.NoError(t, tx.Delete([]byte("a\x01")))
	require.NoError(t, tx.Delete([]byte("a\x02")))

	k, v, err := tx.GetLast([]byte("a"))
	require.NoError(t, err)
	require.Nil(t, k)
	require.Nil(t, v)
}
