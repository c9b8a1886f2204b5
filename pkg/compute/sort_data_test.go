package compute

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/vexdb/vexsort/pkg/util"
)

func TestRowChunkBuildFixedWidth(t *testing.T) {
	bufferMgr := newTestBufferMgr(t)
	entrySize := 16
	rc := NewRowChunk(bufferMgr, 8, entrySize)
	defer rc.Close()

	locs := make([]unsafe.Pointer, 20)
	require.NoError(t, rc.Build(20, locs, nil))
	require.Equal(t, 20, rc.Count())
	//blocks hold at most 8 entries each
	require.Equal(t, 3, len(rc._blocks))
	for _, block := range rc._blocks {
		require.Equal(t, block._count*entrySize, block._byteOffset)
		require.LessOrEqual(t, block._count, block._capacity)
	}
	//every reserved slot is writable and distinct
	for i, loc := range locs {
		util.Store[uint64](uint64(i), loc)
	}
	for i, loc := range locs {
		require.Equal(t, uint64(i), util.Load[uint64](loc))
	}
}

func TestRowChunkBuildVariableWidth(t *testing.T) {
	bufferMgr := newTestBufferMgr(t)
	rc := NewRowChunk(bufferMgr, 64, 1)
	defer rc.Close()

	sizes := []int{5, 30, 29, 10}
	locs := make([]unsafe.Pointer, len(sizes))
	require.NoError(t, rc.Build(len(sizes), locs, sizes))
	require.Equal(t, len(sizes), rc.Count())

	total := 0
	for _, block := range rc._blocks {
		require.LessOrEqual(t, block._byteOffset, block._capacity*block._entrySize)
		require.LessOrEqual(t, block._count, block._capacity)
		total += block._byteOffset
	}
	want := 0
	for _, sz := range sizes {
		want += sz
	}
	require.Equal(t, want, total)
}

func TestSizesToOffsets(t *testing.T) {
	bufferMgr := newTestBufferMgr(t)
	rc := NewRowChunk(bufferMgr, 1024, 8)
	sizes := []uint64{3, 0, 7, 12, 1}
	locs := make([]unsafe.Pointer, len(sizes))
	require.NoError(t, rc.Build(len(sizes), locs, nil))
	for i, sz := range sizes {
		util.Store[uint64](sz, locs[i])
	}

	block, err := SizesToOffsets(bufferMgr, rc)
	require.NoError(t, err)
	defer block.Close()
	base, err := block.Pin()
	require.NoError(t, err)
	offsets := util.PointerToSlice[uint64](base, len(sizes)+1)
	require.Equal(t, uint64(0), offsets[0])
	running := uint64(0)
	for i, sz := range sizes {
		running += sz
		require.Equal(t, running, offsets[i+1])
	}
	//the final entry equals the total bytes
	require.Equal(t, uint64(23), offsets[len(sizes)])
}

func TestConcatenateIdempotent(t *testing.T) {
	bufferMgr := newTestBufferMgr(t)
	entrySize := 8
	rc := NewRowChunk(bufferMgr, 4, entrySize)
	locs := make([]unsafe.Pointer, 10)
	require.NoError(t, rc.Build(10, locs, nil))
	for i, loc := range locs {
		util.Store[uint64](uint64(1000+i), loc)
	}

	first, err := ConcatenateBlocks(bufferMgr, rc, false)
	require.NoError(t, err)
	require.Equal(t, 10, first._count)
	firstPtr, err := first.Pin()
	require.NoError(t, err)
	firstBytes := make([]byte, 10*entrySize)
	copy(firstBytes, util.PointerToSlice[byte](firstPtr, 10*entrySize))

	//concatenating the result again is byte for byte the same
	rc2 := NewRowChunk(bufferMgr, 4, entrySize)
	rc2._blocks = append(rc2._blocks, first)
	rc2._count = first._count
	second, err := ConcatenateBlocks(bufferMgr, rc2, false)
	require.NoError(t, err)
	defer second.Close()
	require.Equal(t, 10, second._count)
	secondPtr, err := second.Pin()
	require.NoError(t, err)
	require.Equal(t, firstBytes,
		util.PointerToSlice[byte](secondPtr, 10*entrySize))
}
