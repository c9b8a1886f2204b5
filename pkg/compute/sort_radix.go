package compute

import (
	"fmt"
	"sort"
	"unsafe"

	"github.com/vexdb/vexsort/pkg/common"
	"github.com/vexdb/vexsort/pkg/storage"
	"github.com/vexdb/vexsort/pkg/util"
)

// scratchBlock routes scratch space through the buffer manager so it
// is accounted like every other large allocation.
type scratchBlock struct {
	_block *storage.BlockHandle
	_pin   *storage.BufferHandle
}

func allocScratch(
	bufferMgr *storage.BufferManager,
	sz int,
) (*scratchBlock, unsafe.Pointer, error) {
	ret := &scratchBlock{}
	pin, err := bufferMgr.Allocate(uint64(max(sz, storage.BLOCK_ALLOC_SIZE)), &ret._block)
	if err != nil {
		return nil, nil, err
	}
	ret._pin = pin
	return ret, pin.Ptr(), nil
}

func (scratch *scratchBlock) close(bufferMgr *storage.BufferManager) {
	scratch._pin.Close()
	bufferMgr.UnregisterBlock(scratch._block.BlockId(), true)
}

// RadixSort runs a least-significant-digit radix sort over the bytes
// [colOffset, colOffset+sortingSize) of every row, 256 buckets per
// byte, right to left.
func RadixSort(
	bufferMgr *storage.BufferManager,
	dataPtr unsafe.Pointer,
	count int,
	colOffset int,
	sortingSize int,
	sortingState *SortingState,
) error {
	entrySize := sortingState._entrySize
	scratch, temp, err := allocScratch(bufferMgr, count*entrySize)
	if err != nil {
		return err
	}
	defer scratch.close(bufferMgr)
	swap := false

	var counts [VALUES_PER_RADIX]uint64
	for r := 1; r <= sortingSize; r++ {
		util.Fill(counts[:], VALUES_PER_RADIX, 0)
		sourcePtr, targetPtr := dataPtr, temp
		if swap {
			sourcePtr, targetPtr = temp, dataPtr
		}
		offset := colOffset + sortingSize - r
		offsetPtr := util.PointerAdd(sourcePtr, offset)
		for i := 0; i < count; i++ {
			val := util.Load[byte](offsetPtr)
			counts[val]++
			offsetPtr = util.PointerAdd(offsetPtr, entrySize)
		}
		maxCount := counts[0]
		for val := 1; val < VALUES_PER_RADIX; val++ {
			maxCount = max(maxCount, counts[val])
			counts[val] = counts[val] + counts[val-1]
		}
		if maxCount == uint64(count) {
			continue
		}
		rowPtr := util.PointerAdd(sourcePtr, (count-1)*entrySize)
		for i := 0; i < count; i++ {
			val := util.Load[byte](util.PointerAdd(rowPtr, offset))
			counts[val]--
			radixOffset := counts[val]
			util.PointerCopy(
				util.PointerAdd(targetPtr, int(radixOffset)*entrySize),
				rowPtr,
				entrySize)
			rowPtr = util.PointerAdd(rowPtr, -entrySize)
		}
		swap = !swap
	}
	if swap {
		util.PointerCopy(dataPtr, temp, count*entrySize)
	}
	return nil
}

// SubSortTiedTuples radix sorts each maximal run of tied rows on the
// current column window.
func SubSortTiedTuples(
	bufferMgr *storage.BufferManager,
	dataPtr unsafe.Pointer,
	count int,
	colOffset int,
	sortingSize int,
	ties []bool,
	sortingState *SortingState,
) error {
	util.AssertFunc(!ties[count-1])
	for i := 0; i < count; i++ {
		if !ties[i] {
			continue
		}
		var j int
		for j = i + 1; j < count; j++ {
			if !ties[j] {
				break
			}
		}
		err := RadixSort(
			bufferMgr,
			util.PointerAdd(dataPtr, i*sortingState._entrySize),
			j-i+1,
			colOffset,
			sortingSize,
			sortingState)
		if err != nil {
			return err
		}
		i = j
	}
	return nil
}

func ComputeTies(
	dataPtr unsafe.Pointer,
	count int,
	colOffset int,
	tieSize int,
	ties []bool,
	sortingState *SortingState,
) {
	util.AssertFunc(!ties[count-1])
	util.AssertFunc(colOffset+tieSize <= sortingState._comparisonSize)
	dataPtr = util.PointerAdd(dataPtr, colOffset)
	for i := 0; i < count-1; i++ {
		ties[i] = ties[i] &&
			util.PointerMemcmp(
				dataPtr,
				util.PointerAdd(dataPtr, sortingState._entrySize),
				tieSize) == 0
		dataPtr = util.PointerAdd(dataPtr, sortingState._entrySize)
	}
	ties[count-1] = false
}

func AnyTies(ties []bool, count int) bool {
	util.AssertFunc(!ties[count-1])
	anyTies := false
	for i := 0; i < count-1; i++ {
		anyTies = anyTies || ties[i]
	}
	return anyTies
}

func loadOffset(offsetsPtr unsafe.Pointer, idx uint64) uint64 {
	return util.Load[uint64](util.PointerAdd(offsetsPtr, int(idx)*common.Int64Size))
}

// CompareStrings resolves two key rows to their full serialized
// strings through the blob sidecar and compares them, negated for
// descending order.
func CompareStrings(
	l, r unsafe.Pointer,
	blobPtr unsafe.Pointer,
	offsetsPtr unsafe.Pointer,
	order int,
	sortingSize int,
) bool {
	leftIdx := util.Load[uint64](util.PointerAdd(l, sortingSize))
	rightIdx := util.Load[uint64](util.PointerAdd(r, sortingSize))
	leftPtr := util.PointerAdd(blobPtr, int(loadOffset(offsetsPtr, leftIdx)))
	rightPtr := util.PointerAdd(blobPtr, int(loadOffset(offsetsPtr, rightIdx)))
	leftSize := int(util.Load[uint32](leftPtr))
	rightSize := int(util.Load[uint32](rightPtr))
	compRes := util.PointerMemcmp2(
		util.PointerAdd(leftPtr, common.Int32Size),
		util.PointerAdd(rightPtr, common.Int32Size),
		leftSize,
		rightSize)
	return order*compRes < 0
}

func stringEntriesEqual(
	lPtr, rPtr unsafe.Pointer,
) bool {
	lSize := int(util.Load[uint32](lPtr))
	rSize := int(util.Load[uint32](rPtr))
	if lSize != rSize {
		return false
	}
	return util.PointerMemcmp(
		util.PointerAdd(lPtr, common.Int32Size),
		util.PointerAdd(rPtr, common.Int32Size),
		lSize) == 0
}

// BreakStringTies sorts one tied range [start, end) by the full
// string values behind the prefixes.
func BreakStringTies(
	bufferMgr *storage.BufferManager,
	dataPtr unsafe.Pointer,
	start int,
	end int,
	tieCol int,
	ties []bool,
	blobPtr unsafe.Pointer,
	offsetsPtr unsafe.Pointer,
	sortingState *SortingState,
) error {
	entrySize := sortingState._entrySize
	tieColOffset := 0
	for i := 0; i < tieCol; i++ {
		tieColOffset += sortingState._colSizes[i]
	}
	if sortingState._hasNull[tieCol] {
		validity := util.Load[byte](util.PointerAdd(dataPtr,
			start*entrySize+tieColOffset))
		if sortingState._orderByNullTypes[tieCol] == OBNT_NULLS_FIRST &&
			validity == 0 {
			//NULLS_FIRST, null encoded as 0. a null tie cannot break
			return nil
		} else if sortingState._orderByNullTypes[tieCol] == OBNT_NULLS_LAST &&
			validity == 1 {
			//NULLS_LAST, null encoded as 1. a null tie cannot break
			return nil
		}
		tieColOffset++
	}
	//strings shorter than the prefix carry the pad byte. the prefix
	//already decided the order in full
	prefixPtr := util.PointerAdd(dataPtr, start*entrySize+tieColOffset)
	nullChar := byte(0)
	if sortingState._orderTypes[tieCol] == OT_DESC {
		nullChar = 0xFF
	}
	for i := 0; i < sortingState._prefixLengths[tieCol]; i++ {
		if util.Load[byte](util.PointerAdd(prefixPtr, i)) == nullChar {
			return nil
		}
	}

	//pointer array for sorting
	ptrScratch, ptrBase, err := allocScratch(bufferMgr, (end-start)*common.PointerSize)
	if err != nil {
		return err
	}
	defer ptrScratch.close(bufferMgr)
	entryPtrs := util.PointerToSlice[unsafe.Pointer](ptrBase, end-start)
	rowPtr := util.PointerAdd(dataPtr, start*entrySize)
	for i := start; i < end; i++ {
		entryPtrs[i-start] = rowPtr
		rowPtr = util.PointerAdd(rowPtr, entrySize)
	}

	order := 1
	if sortingState._orderTypes[tieCol] == OT_DESC {
		order = -1
	}
	sortingSize := sortingState._comparisonSize
	sort.Slice(entryPtrs, func(i, j int) bool {
		return CompareStrings(
			entryPtrs[i], entryPtrs[j],
			blobPtr, offsetsPtr,
			order, sortingSize)
	})

	//materialize the new order, then copy back
	tempScratch, tempBase, err := allocScratch(bufferMgr, (end-start)*entrySize)
	if err != nil {
		return err
	}
	defer tempScratch.close(bufferMgr)
	tempPtr := tempBase
	for i := 0; i < end-start; i++ {
		util.PointerCopy(tempPtr, entryPtrs[i], entrySize)
		tempPtr = util.PointerAdd(tempPtr, entrySize)
	}
	util.PointerCopy(
		util.PointerAdd(dataPtr, start*entrySize),
		tempBase,
		(end-start)*entrySize)

	//the prefix comparison is settled now. re-derive the remaining
	//ties from full string equality
	if tieCol < sortingState.ColumnCount()-1 {
		idxPtr := util.PointerAdd(dataPtr, start*entrySize+sortingSize)
		currentIdx := util.Load[uint64](idxPtr)
		currentPtr := util.PointerAdd(blobPtr, int(loadOffset(offsetsPtr, currentIdx)))
		for i := 0; i < end-start-1; i++ {
			idxPtr = util.PointerAdd(idxPtr, entrySize)
			nextIdx := util.Load[uint64](idxPtr)
			nextPtr := util.PointerAdd(blobPtr, int(loadOffset(offsetsPtr, nextIdx)))
			ties[start+i] = stringEntriesEqual(currentPtr, nextPtr)
			currentPtr = nextPtr
		}
	}
	return nil
}

// BreakTies walks the maximal tied ranges and resolves each through
// the variable-size column's sidecar.
func BreakTies(
	bufferMgr *storage.BufferManager,
	run *ContinuousRun,
	ties []bool,
	dataPtr unsafe.Pointer,
	count int,
	tieCol int,
	sortingState *SortingState,
) error {
	util.AssertFunc(!ties[count-1])
	cc := run._varSortingChunks[tieCol]
	blobBlock := util.Back(cc._dataBlocks)
	offsetsBlock := util.Back(cc._offsetBlocks)
	blobPtr, err := blobBlock.Pin()
	if err != nil {
		return err
	}
	offsetsPtr, err := offsetsBlock.Pin()
	if err != nil {
		return err
	}

	for i := 0; i < count; i++ {
		if !ties[i] {
			continue
		}
		var j int
		for j = i; j < count; j++ {
			if !ties[j] {
				break
			}
		}
		switch sortingState._logicalTypes[tieCol].GetInternalType() {
		case common.VARCHAR:
			err = BreakStringTies(
				bufferMgr, dataPtr, i, j+1, tieCol, ties,
				blobPtr, offsetsPtr, sortingState)
			if err != nil {
				return err
			}
		default:
			return fmt.Errorf("cannot break ties on type %s: %w",
				sortingState._logicalTypes[tieCol].String(),
				ErrNotImplemented)
		}
		i = j
	}
	return nil
}
