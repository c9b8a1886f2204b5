package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBitmapDefaultAllValid(t *testing.T) {
	bm := &Bitmap{}
	require.True(t, bm.AllValid())
	require.True(t, bm.RowIsValid(0))
	require.True(t, bm.RowIsValid(1000))
}

func TestBitmapSetInvalid(t *testing.T) {
	bm := &Bitmap{}
	bm.SetInvalid(3)
	require.False(t, bm.RowIsValid(3))
	require.True(t, bm.RowIsValid(2))
	require.True(t, bm.RowIsValid(4))
	bm.SetValid(3)
	require.True(t, bm.RowIsValid(3))
}

func TestBitmapSetAllValid(t *testing.T) {
	bm := &Bitmap{}
	bm.SetAllValid(10)
	for i := 0; i < 10; i++ {
		require.True(t, bm.RowIsValid(uint64(i)))
	}
	bm.SetInvalid(9)
	require.False(t, bm.RowIsValid(9))
	bm.SetAllValid(10)
	require.True(t, bm.RowIsValid(9))
}

func TestEntryCount(t *testing.T) {
	require.Equal(t, 0, EntryCount(0))
	require.Equal(t, 1, EntryCount(1))
	require.Equal(t, 1, EntryCount(8))
	require.Equal(t, 2, EntryCount(9))
}
