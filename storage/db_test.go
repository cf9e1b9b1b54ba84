package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelDBBatchPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	db1, err := NewLevelDB(dir)
	require.NoError(t, err)

	batch := db1.NewBatch()
	batch.Put([]byte("a"), []byte("1"))
	batch.Put([]byte("b"), []byte("2"))
	require.Equal(t, 2, batch.Len())
	require.NoError(t, batch.Write())
	db1.Close()

	db2, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()

	got, err := db2.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)

	_, err = db2.Get([]byte("missing"))
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestOverlayStagesUntilCommit(t *testing.T) {
	base := NewMemDB()
	require.NoError(t, base.Put([]byte("k"), []byte("old")))
	require.NoError(t, base.Put([]byte("gone"), []byte("x")))

	overlay := NewOverlay(base)
	require.NoError(t, overlay.Put([]byte("k"), []byte("new")))
	require.NoError(t, overlay.Delete([]byte("gone")))

	staged, err := overlay.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("new"), staged)
	_, err = overlay.Get([]byte("gone"))
	require.ErrorIs(t, err, ErrNotFound)

	committed, err := base.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("old"), committed)

	require.NoError(t, overlay.Commit())

	committed, err = base.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("new"), committed)
	_, err = base.Get([]byte("gone"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOverlayDiscardLeavesBaseUntouched(t *testing.T) {
	base := NewMemDB()
	overlay := NewOverlay(base)
	require.NoError(t, overlay.Put([]byte("k"), []byte("v")))
	overlay.Discard()

	_, err := base.Get([]byte("k"))
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 0, base.Len())
	require.ErrorIs(t, overlay.Put([]byte("k"), []byte("v")), ErrOverlayClosed)
	require.ErrorIs(t, overlay.Commit(), ErrOverlayClosed)
}

func TestOverlayBatchStagesIntoOverlay(t *testing.T) {
	base := NewMemDB()
	overlay := NewOverlay(base)
	batch := overlay.NewBatch()
	batch.Put([]byte("x"), []byte("1"))
	require.NoError(t, batch.Write())
	require.Equal(t, 1, overlay.Dirty())
	require.Equal(t, 0, base.Len())
}
