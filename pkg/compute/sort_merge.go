package compute

import (
	"unsafe"

	"go.uber.org/zap"

	"github.com/vexdb/vexsort/pkg/util"
)

// runCursor walks one continuous run during the merge. All the run's
// blocks stay pinned for the cursor's lifetime.
type runCursor struct {
	_run      *ContinuousRun
	_entryIdx int
	_count    int

	_sortingPtr unsafe.Pointer
	//per key column, nil for constant-width ones
	_blobPtrs       []unsafe.Pointer
	_blobOffsetPtrs []unsafe.Pointer

	_payloadPtr        unsafe.Pointer
	_payloadOffsetsPtr unsafe.Pointer
}

func newRunCursor(
	run *ContinuousRun,
	sortingState *SortingState,
	payloadState *PayloadState,
) (*runCursor, error) {
	ret := &runCursor{
		_run:   run,
		_count: run.Count(),
	}
	var err error
	ret._sortingPtr, err = util.Back(run._sortingBlocks).Pin()
	if err != nil {
		return nil, err
	}
	for i := 0; i < sortingState.ColumnCount(); i++ {
		if sortingState._constantSize[i] {
			ret._blobPtrs = append(ret._blobPtrs, nil)
			ret._blobOffsetPtrs = append(ret._blobOffsetPtrs, nil)
			continue
		}
		cc := run._varSortingChunks[i]
		blobPtr, err := util.Back(cc._dataBlocks).Pin()
		if err != nil {
			return nil, err
		}
		offsetsPtr, err := util.Back(cc._offsetBlocks).Pin()
		if err != nil {
			return nil, err
		}
		ret._blobPtrs = append(ret._blobPtrs, blobPtr)
		ret._blobOffsetPtrs = append(ret._blobOffsetPtrs, offsetsPtr)
	}
	ret._payloadPtr, err = util.Back(run._payloadChunk._dataBlocks).Pin()
	if err != nil {
		return nil, err
	}
	if !payloadState._hasVariableSize {
		return ret, nil
	}
	ret._payloadOffsetsPtr, err = util.Back(run._payloadChunk._offsetBlocks).Pin()
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (cur *runCursor) done() bool {
	return cur._entryIdx >= cur._count
}

func (cur *runCursor) rowPtr(sortingState *SortingState) unsafe.Pointer {
	return util.PointerAdd(cur._sortingPtr, cur._entryIdx*sortingState._entrySize)
}

// compareCursors orders two cursors by the full logical comparator:
// memcmp per column, resolved through the blob sidecars when a
// variable-width prefix ties.
func compareCursors(
	a, b *runCursor,
	sortingState *SortingState,
) int {
	aRow := a.rowPtr(sortingState)
	bRow := b.rowPtr(sortingState)
	offset := 0
	for i := 0; i < sortingState.ColumnCount(); i++ {
		colSize := sortingState._colSizes[i]
		cmp := util.PointerMemcmp(
			util.PointerAdd(aRow, offset),
			util.PointerAdd(bRow, offset),
			colSize)
		if cmp != 0 {
			return cmp
		}
		if !sortingState._constantSize[i] {
			//equal prefixes. consult the full strings unless both
			//rows hold the encoded null
			nullByte := byte(1)
			if sortingState._orderByNullTypes[i] == OBNT_NULLS_FIRST {
				nullByte = 0
			}
			validity := util.Load[byte](util.PointerAdd(aRow, offset))
			if validity != nullByte {
				aPtr := util.PointerAdd(a._blobPtrs[i],
					int(loadOffset(a._blobOffsetPtrs[i], uint64(a._entryIdx))))
				bPtr := util.PointerAdd(b._blobPtrs[i],
					int(loadOffset(b._blobOffsetPtrs[i], uint64(b._entryIdx))))
				aLen := int(util.Load[uint32](aPtr))
				bLen := int(util.Load[uint32](bPtr))
				full := util.PointerMemcmp2(
					util.PointerAdd(aPtr, 4),
					util.PointerAdd(bPtr, 4),
					aLen,
					bLen)
				if sortingState._orderTypes[i] == OT_DESC {
					full = -full
				}
				if full != 0 {
					return full
				}
			}
		}
		offset += colSize
	}
	return 0
}

// MergeRuns folds every sorted run of the global state into a single
// continuous run by a serial k-way cursor merge.
func MergeRuns(gstate *OrderGlobalState) error {
	if len(gstate._sortedRuns) <= 1 {
		return nil
	}
	bufferMgr := gstate._bufferMgr
	sortingState := gstate._sortingState
	payloadState := gstate._payloadState

	cursors := make([]*runCursor, 0, len(gstate._sortedRuns))
	total := 0
	for _, run := range gstate._sortedRuns {
		cur, err := newRunCursor(run, sortingState, payloadState)
		if err != nil {
			return err
		}
		cursors = append(cursors, cur)
		total += cur._count
	}

	//the merged rows accumulate through the same chunks the sink uses
	merged := &OrderLocalState{}
	merged.initialize(bufferMgr, sortingState, payloadState)

	for k := 0; k < total; k++ {
		var best *runCursor
		for _, cur := range cursors {
			if cur.done() {
				continue
			}
			if best == nil || compareCursors(cur, best, sortingState) < 0 {
				best = cur
			}
		}
		util.AssertFunc(best != nil)
		if err := copyMergedEntry(merged, best, k, sortingState, payloadState); err != nil {
			return err
		}
		best._entryIdx++
	}

	mergedRun, err := consolidateRun(bufferMgr, merged, sortingState, payloadState)
	if err != nil {
		return err
	}
	mergedRun.Unpin()

	for _, run := range gstate._sortedRuns {
		run.Close()
	}
	gstate._sortedRuns = gstate._sortedRuns[:0]
	gstate._sortedRuns = append(gstate._sortedRuns, mergedRun)
	util.Debug("runs merged",
		zap.Int("runs", len(cursors)),
		zap.Int("count", total))
	return nil
}

// copyMergedEntry appends the cursor's current row to the merged
// accumulator. Sidecars and payload are addressed by row position:
// after the reorder pass they are aligned with the sorted rows.
func copyMergedEntry(
	merged *OrderLocalState,
	cur *runCursor,
	mergedIdx int,
	sortingState *SortingState,
	payloadState *PayloadState,
) error {
	locs := merged._keyLocs[:1]
	sizes := merged._entrySizes[:1]

	//sorting row, stamped with its merged position
	if err := merged._sortingChunk.Build(1, locs, nil); err != nil {
		return err
	}
	util.PointerCopy(locs[0], cur.rowPtr(sortingState), sortingState._comparisonSize)
	util.Store[uint64](uint64(mergedIdx),
		util.PointerAdd(locs[0], sortingState._comparisonSize))

	//variable size key sidecars
	for i := 0; i < sortingState.ColumnCount(); i++ {
		if sortingState._constantSize[i] {
			continue
		}
		entryOffset := loadOffset(cur._blobOffsetPtrs[i], uint64(cur._entryIdx))
		entrySize := loadOffset(cur._blobOffsetPtrs[i], uint64(cur._entryIdx)+1) -
			entryOffset
		if err := merged._varSortingSizes[i].Build(1, locs, nil); err != nil {
			return err
		}
		util.Store[uint64](entrySize, locs[0])
		sizes[0] = int(entrySize)
		if err := merged._varSortingChunks[i].Build(1, locs, sizes); err != nil {
			return err
		}
		util.PointerCopy(locs[0],
			util.PointerAdd(cur._blobPtrs[i], int(entryOffset)),
			int(entrySize))
	}

	//payload
	if payloadState._hasVariableSize {
		entryOffset := loadOffset(cur._payloadOffsetsPtr, uint64(cur._entryIdx))
		entrySize := loadOffset(cur._payloadOffsetsPtr, uint64(cur._entryIdx)+1) -
			entryOffset
		if err := merged._sizesChunk.Build(1, locs, nil); err != nil {
			return err
		}
		util.Store[uint64](entrySize, locs[0])
		sizes[0] = int(entrySize)
		if err := merged._payloadChunk.Build(1, locs, sizes); err != nil {
			return err
		}
		util.PointerCopy(locs[0],
			util.PointerAdd(cur._payloadPtr, int(entryOffset)),
			int(entrySize))
	} else {
		if err := merged._payloadChunk.Build(1, locs, nil); err != nil {
			return err
		}
		util.PointerCopy(locs[0],
			util.PointerAdd(cur._payloadPtr, cur._entryIdx*payloadState._entrySize),
			payloadState._entrySize)
	}
	return nil
}
