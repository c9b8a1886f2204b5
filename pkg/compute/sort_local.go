package compute

import (
	"unsafe"

	"go.uber.org/zap"

	"github.com/vexdb/vexsort/pkg/storage"
	"github.com/vexdb/vexsort/pkg/util"
)

// ContinuousChunk holds the consolidated blocks of one sidecar: the
// data plus, for variable-width entries, the prefix-sum offsets.
type ContinuousChunk struct {
	_bufferMgr    *storage.BufferManager
	_constantSize bool
	_entrySize    int
	_dataBlocks   []*RowDataBlock
	_offsetBlocks []*RowDataBlock
}

func NewContinuousChunk(
	bufferMgr *storage.BufferManager,
	constantSize bool,
	entrySize int,
) *ContinuousChunk {
	return &ContinuousChunk{
		_bufferMgr:    bufferMgr,
		_constantSize: constantSize,
		_entrySize:    entrySize,
	}
}

func (cc *ContinuousChunk) Count() int {
	if len(cc._dataBlocks) == 0 {
		return 0
	}
	return util.Back(cc._dataBlocks)._count
}

func (cc *ContinuousChunk) Unpin() {
	for _, block := range cc._dataBlocks {
		block.Unpin()
	}
	for _, block := range cc._offsetBlocks {
		block.Unpin()
	}
}

func (cc *ContinuousChunk) Close() {
	for _, block := range cc._dataBlocks {
		block.Close()
	}
	for _, block := range cc._offsetBlocks {
		block.Close()
	}
	cc._dataBlocks = nil
	cc._offsetBlocks = nil
}

// ContinuousRun is one totally ordered sequence: the sorted key rows,
// one sidecar per variable-size key column, and the payload.
type ContinuousRun struct {
	_sortingBlocks    []*RowDataBlock
	_varSortingChunks []*ContinuousChunk
	_payloadChunk     *ContinuousChunk
}

func (run *ContinuousRun) Count() int {
	if len(run._sortingBlocks) == 0 {
		return 0
	}
	return util.Back(run._sortingBlocks)._count
}

func (run *ContinuousRun) Unpin() {
	for _, block := range run._sortingBlocks {
		block.Unpin()
	}
	for _, cc := range run._varSortingChunks {
		if cc != nil {
			cc.Unpin()
		}
	}
	if run._payloadChunk != nil {
		run._payloadChunk.Unpin()
	}
}

func (run *ContinuousRun) Close() {
	for _, block := range run._sortingBlocks {
		block.Close()
	}
	run._sortingBlocks = nil
	for _, cc := range run._varSortingChunks {
		if cc != nil {
			cc.Close()
		}
	}
	run._varSortingChunks = nil
	if run._payloadChunk != nil {
		run._payloadChunk.Close()
		run._payloadChunk = nil
	}
}

// consolidateRun folds the accumulator's chunks into single blocks
// and converts the size sidecars to offsets.
func consolidateRun(
	bufferMgr *storage.BufferManager,
	lstate *OrderLocalState,
	sortingState *SortingState,
	payloadState *PayloadState,
) (*ContinuousRun, error) {
	run := &ContinuousRun{}
	//fixed-size sorting data
	sortingBlock, err := ConcatenateBlocks(bufferMgr, lstate._sortingChunk, false)
	if err != nil {
		return nil, err
	}
	run._sortingBlocks = append(run._sortingBlocks, sortingBlock)
	//variable size sorting columns
	for i := 0; i < sortingState.ColumnCount(); i++ {
		var cc *ContinuousChunk
		if !sortingState._constantSize[i] {
			cc = NewContinuousChunk(bufferMgr, false, 1)
			dataBlock, err := ConcatenateBlocks(bufferMgr, lstate._varSortingChunks[i], true)
			if err != nil {
				return nil, err
			}
			offsetsBlock, err := SizesToOffsets(bufferMgr, lstate._varSortingSizes[i])
			if err != nil {
				return nil, err
			}
			cc._dataBlocks = append(cc._dataBlocks, dataBlock)
			cc._offsetBlocks = append(cc._offsetBlocks, offsetsBlock)
		}
		run._varSortingChunks = append(run._varSortingChunks, cc)
	}
	//payload data
	payloadCC := NewContinuousChunk(bufferMgr,
		!payloadState._hasVariableSize, payloadState._entrySize)
	payloadBlock, err := ConcatenateBlocks(bufferMgr, lstate._payloadChunk,
		payloadState._hasVariableSize)
	if err != nil {
		return nil, err
	}
	payloadCC._dataBlocks = append(payloadCC._dataBlocks, payloadBlock)
	if payloadState._hasVariableSize {
		offsetsBlock, err := SizesToOffsets(bufferMgr, lstate._sizesChunk)
		if err != nil {
			return nil, err
		}
		payloadCC._offsetBlocks = append(payloadCC._offsetBlocks, offsetsBlock)
	}
	run._payloadChunk = payloadCC
	return run, nil
}

// sortLocalState seals the local accumulator into one continuous run:
// consolidate, sort, reorder, append to the local run list.
func sortLocalState(
	gstate *OrderGlobalState,
	lstate *OrderLocalState,
) error {
	count := lstate._sortingChunk.Count()
	if count == 0 {
		return nil
	}
	if count != lstate._payloadChunk.Count() {
		return ErrCountMismatch
	}
	sortingState := gstate._sortingState
	payloadState := gstate._payloadState
	bufferMgr := gstate._bufferMgr

	run, err := consolidateRun(bufferMgr, lstate, sortingState, payloadState)
	if err != nil {
		return err
	}
	if err = SortInMemory(bufferMgr, run, sortingState); err != nil {
		return err
	}
	if err = ReOrder(bufferMgr, run, sortingState); err != nil {
		return err
	}
	//scans pin on demand
	run.Unpin()
	lstate._sortedRuns = append(lstate._sortedRuns, run)
	util.Debug("local run sealed", zap.Int("count", count))
	return nil
}

// SortInMemory orders the rows of the run's sorting block. All
// constant-width keys take one radix pass over the whole comparison
// region; variable-width keys alternate radix sort, tie detection and
// tie-breaking through the sidecars.
func SortInMemory(
	bufferMgr *storage.BufferManager,
	run *ContinuousRun,
	sortingState *SortingState,
) error {
	block := util.Back(run._sortingBlocks)
	count := block._count
	dataPtr, err := block.Pin()
	if err != nil {
		return err
	}

	//stamp each row with its index
	idxPtr := util.PointerAdd(dataPtr, sortingState._comparisonSize)
	for i := 0; i < count; i++ {
		util.Store[uint64](uint64(i), idxPtr)
		idxPtr = util.PointerAdd(idxPtr, sortingState._entrySize)
	}

	if sortingState._allConstant {
		return RadixSort(bufferMgr, dataPtr, count, 0,
			sortingState._comparisonSize, sortingState)
	}

	sortingSize := 0
	colOffset := 0
	var ties []bool
	var tiesScratch *scratchBlock
	defer func() {
		if tiesScratch != nil {
			tiesScratch.close(bufferMgr)
		}
	}()
	numCols := sortingState.ColumnCount()
	for i := 0; i < numCols; i++ {
		sortingSize += sortingState._colSizes[i]
		if sortingState._constantSize[i] && i < numCols-1 {
			//coalesce constant columns into one radix pass
			continue
		}

		if ties == nil {
			//first sort covers all rows
			err = RadixSort(bufferMgr, dataPtr, count, colOffset,
				sortingSize, sortingState)
			if err != nil {
				return err
			}
			var tiesPtr unsafe.Pointer
			tiesScratch, tiesPtr, err = allocScratch(bufferMgr, count)
			if err != nil {
				return err
			}
			ties = util.PointerToSlice[bool](tiesPtr, count)
			util.Fill(ties, count-1, true)
			ties[count-1] = false
		} else {
			err = SubSortTiedTuples(bufferMgr, dataPtr, count, colOffset,
				sortingSize, ties, sortingState)
			if err != nil {
				return err
			}
		}

		if sortingState._constantSize[i] && i == numCols-1 {
			//the last column is constant size. its radix pass cannot
			//leave ties that matter
			break
		}

		ComputeTies(dataPtr, count, colOffset, sortingSize, ties, sortingState)
		if !AnyTies(ties, count) {
			break
		}

		if !sortingState._constantSize[i] {
			err = BreakTies(bufferMgr, run, ties, dataPtr, count, i, sortingState)
			if err != nil {
				return err
			}
			if !AnyTies(ties, count) {
				break
			}
		}

		colOffset += sortingSize
		sortingSize = 0
	}
	return nil
}

// ReOrder materializes the sorted permutation into the sidecars and
// the payload. The sorting block itself is already in order; its
// trailing indexes keep pointing at the pre-sort positions, which the
// fresh blocks below replace.
func ReOrder(
	bufferMgr *storage.BufferManager,
	run *ContinuousRun,
	sortingState *SortingState,
) error {
	sortingBlock := util.Back(run._sortingBlocks)
	basePtr, err := sortingBlock.Pin()
	if err != nil {
		return err
	}
	sortingPtr := util.PointerAdd(basePtr, sortingState._comparisonSize)
	for i := 0; i < sortingState.ColumnCount(); i++ {
		if !sortingState._constantSize[i] {
			err = reOrderChunk(bufferMgr, run._varSortingChunks[i], sortingPtr, sortingState)
			if err != nil {
				return err
			}
		}
	}
	return reOrderChunk(bufferMgr, run._payloadChunk, sortingPtr, sortingState)
}

func reOrderChunk(
	bufferMgr *storage.BufferManager,
	cc *ContinuousChunk,
	sortingPtr unsafe.Pointer,
	sortingState *SortingState,
) error {
	unorderedBlock := util.Back(cc._dataBlocks)
	count := unorderedBlock._count
	unorderedPtr, err := unorderedBlock.Pin()
	if err != nil {
		return err
	}
	orderedBlock, err := NewRowDataBlock(bufferMgr,
		unorderedBlock._capacity, unorderedBlock._entrySize)
	if err != nil {
		return err
	}
	orderedBlock._count = count
	orderedPtr, err := orderedBlock.Pin()
	if err != nil {
		return err
	}

	if cc._constantSize {
		entrySize := cc._entrySize
		for i := 0; i < count; i++ {
			index := util.Load[uint64](sortingPtr)
			util.PointerCopy(
				orderedPtr,
				util.PointerAdd(unorderedPtr, int(index)*entrySize),
				entrySize)
			orderedPtr = util.PointerAdd(orderedPtr, entrySize)
			sortingPtr = util.PointerAdd(sortingPtr, sortingState._entrySize)
		}
		orderedBlock._byteOffset = count * entrySize
	} else {
		//variable size entries move with their offsets
		orderedBlock._byteOffset = unorderedBlock._byteOffset
		unorderedOffsetBlock := util.Back(cc._offsetBlocks)
		offsetsBase, err := unorderedOffsetBlock.Pin()
		if err != nil {
			return err
		}
		reorderedOffsetBlock, err := NewRowDataBlock(bufferMgr,
			unorderedOffsetBlock._capacity, unorderedOffsetBlock._entrySize)
		if err != nil {
			return err
		}
		reorderedOffsetBlock._count = count + 1
		reorderedOffsetBlock._byteOffset = (count + 1) * unorderedOffsetBlock._entrySize
		reorderedOffsetsPtr, err := reorderedOffsetBlock.Pin()
		if err != nil {
			return err
		}
		reorderedOffsets := util.PointerToSlice[uint64](reorderedOffsetsPtr, count+1)
		reorderedOffsets[0] = 0

		for i := 0; i < count; i++ {
			index := util.Load[uint64](sortingPtr)
			size := loadOffset(offsetsBase, index+1) - loadOffset(offsetsBase, index)
			util.PointerCopy(
				orderedPtr,
				util.PointerAdd(unorderedPtr, int(loadOffset(offsetsBase, index))),
				int(size))
			orderedPtr = util.PointerAdd(orderedPtr, int(size))
			reorderedOffsets[i+1] = reorderedOffsets[i] + size
			sortingPtr = util.PointerAdd(sortingPtr, sortingState._entrySize)
		}
		//replace the offset block
		unorderedOffsetBlock.Close()
		cc._offsetBlocks = nil
		cc._offsetBlocks = append(cc._offsetBlocks, reorderedOffsetBlock)
	}
	//replace the data block
	unorderedBlock.Close()
	cc._dataBlocks = nil
	cc._dataBlocks = append(cc._dataBlocks, orderedBlock)
	return nil
}
