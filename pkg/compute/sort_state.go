package compute

import (
	"sync"
	"unsafe"

	"github.com/vexdb/vexsort/pkg/chunk"
	"github.com/vexdb/vexsort/pkg/common"
	"github.com/vexdb/vexsort/pkg/storage"
	"github.com/vexdb/vexsort/pkg/util"
)

// SortingState holds the constants of the memcmp-able key layout,
// shared by every thread of one sort.
type SortingState struct {
	_entrySize      int
	_comparisonSize int

	_orderTypes       []OrderType
	_orderByNullTypes []OrderByNullType
	_logicalTypes     []common.LType

	_hasNull      []bool
	_constantSize []bool
	_colSizes     []int
	_prefixLengths []int
	_allConstant  bool
}

func NewSortingState(orders []*OrderByNode, prefixLen int) *SortingState {
	ret := &SortingState{
		_allConstant: true,
	}
	entrySize := 0
	for _, order := range orders {
		if order.Desc {
			ret._orderTypes = append(ret._orderTypes, OT_DESC)
		} else {
			ret._orderTypes = append(ret._orderTypes, OT_ASC)
		}
		if order.NullsFirst {
			ret._orderByNullTypes = append(ret._orderByNullTypes, OBNT_NULLS_FIRST)
		} else {
			ret._orderByNullTypes = append(ret._orderByNullTypes, OBNT_NULLS_LAST)
		}
		ret._logicalTypes = append(ret._logicalTypes, order.Child.DataTyp)

		interTyp := order.Child.DataTyp.GetInternalType()
		constant := interTyp.IsConstant()
		ret._constantSize = append(ret._constantSize, constant)
		ret._allConstant = ret._allConstant && constant
		ret._hasNull = append(ret._hasNull, true)

		//validity byte
		colSize := 1
		if constant {
			colSize += interTyp.Size()
			ret._prefixLengths = append(ret._prefixLengths, 0)
		} else if interTyp == common.VARCHAR {
			colSize += prefixLen
			ret._prefixLengths = append(ret._prefixLengths, prefixLen)
		} else {
			panic("usp")
		}
		ret._colSizes = append(ret._colSizes, colSize)
		entrySize += colSize
	}
	ret._comparisonSize = entrySize
	ret._entrySize = entrySize + ROW_INDEX_WIDTH
	return ret
}

func (state *SortingState) ColumnCount() int {
	return len(state._orderTypes)
}

// PayloadState holds the constants of the payload row layout.
type PayloadState struct {
	_hasVariableSize  bool
	_validitymaskSize int
	_entrySize        int
	_rowChunkInitSize int
}

func NewPayloadState(payloadTypes []common.LType) *PayloadState {
	ret := &PayloadState{}
	ret._validitymaskSize = util.EntryCount(len(payloadTypes))
	entrySize := ret._validitymaskSize
	for _, typ := range payloadTypes {
		interTyp := typ.GetInternalType()
		if interTyp.IsConstant() {
			entrySize += interTyp.Size()
		} else {
			ret._hasVariableSize = true
		}
	}
	ret._entrySize = entrySize
	if ret._hasVariableSize {
		ret._rowChunkInitSize = 1 << 20
	} else {
		vectorsPerBlock := (storage.BLOCK_ALLOC_SIZE/entrySize + util.DefaultVectorSize) /
			util.DefaultVectorSize
		ret._rowChunkInitSize = vectorsPerBlock * util.DefaultVectorSize * entrySize
	}
	return ret
}

// OrderGlobalState aggregates the sorted runs of all sink threads.
type OrderGlobalState struct {
	_bufferMgr *storage.BufferManager
	_lock      sync.Mutex

	_sortingState *SortingState
	_payloadState *PayloadState
	_payloadTypes []common.LType

	_sortedRuns []*ContinuousRun

	//set by Finalize
	_totalCount int
}

func (gstate *OrderGlobalState) TotalCount() int {
	return gstate._totalCount
}

func (gstate *OrderGlobalState) Close() {
	for _, run := range gstate._sortedRuns {
		run.Close()
	}
	gstate._sortedRuns = nil
}

// OrderLocalState is the per-sink-thread accumulator.
type OrderLocalState struct {
	_initialized bool
	_executor    *ExprExec
	_sort        *chunk.Chunk
	_keyTypes    []common.LType

	_sortingChunk    *RowChunk
	_varSortingChunks []*RowChunk
	_varSortingSizes []*RowChunk
	_payloadChunk    *RowChunk
	_sizesChunk      *RowChunk

	_sortedRuns []*ContinuousRun

	//scratch reused across batches
	_keyLocs      []unsafe.Pointer
	_validityLocs []unsafe.Pointer
	_entrySizes   []int
}

func (lstate *OrderLocalState) initialize(
	bufferMgr *storage.BufferManager,
	sortingState *SortingState,
	payloadState *PayloadState,
) {
	//sorting chunk
	vectorsPerBlock := (storage.BLOCK_ALLOC_SIZE/sortingState._entrySize +
		util.DefaultVectorSize) / util.DefaultVectorSize
	lstate._sortingChunk = NewRowChunk(
		bufferMgr,
		vectorsPerBlock*util.DefaultVectorSize,
		sortingState._entrySize)
	//variable size key sidecars
	for i := 0; i < sortingState.ColumnCount(); i++ {
		if sortingState._constantSize[i] {
			lstate._varSortingChunks = append(lstate._varSortingChunks, nil)
			lstate._varSortingSizes = append(lstate._varSortingSizes, nil)
		} else {
			lstate._varSortingChunks = append(lstate._varSortingChunks,
				NewRowChunk(bufferMgr, 1<<20, 1))
			lstate._varSortingSizes = append(lstate._varSortingSizes,
				NewRowChunk(bufferMgr, storage.BLOCK_ALLOC_SIZE/common.Int64Size+1,
					common.Int64Size))
		}
	}
	//payload chunk
	if payloadState._hasVariableSize {
		lstate._payloadChunk = NewRowChunk(bufferMgr, payloadState._rowChunkInitSize, 1)
		lstate._sizesChunk = NewRowChunk(bufferMgr,
			storage.BLOCK_ALLOC_SIZE/common.Int64Size+1, common.Int64Size)
	} else {
		lstate._payloadChunk = NewRowChunk(bufferMgr,
			payloadState._rowChunkInitSize/payloadState._entrySize,
			payloadState._entrySize)
	}
	lstate._keyLocs = make([]unsafe.Pointer, util.DefaultVectorSize)
	lstate._validityLocs = make([]unsafe.Pointer, util.DefaultVectorSize)
	lstate._entrySizes = make([]int, util.DefaultVectorSize)
	lstate._initialized = true
}

func (lstate *OrderLocalState) Close() {
	if lstate._sortingChunk != nil {
		lstate._sortingChunk.Close()
	}
	for _, rc := range lstate._varSortingChunks {
		if rc != nil {
			rc.Close()
		}
	}
	for _, rc := range lstate._varSortingSizes {
		if rc != nil {
			rc.Close()
		}
	}
	if lstate._payloadChunk != nil {
		lstate._payloadChunk.Close()
	}
	if lstate._sizesChunk != nil {
		lstate._sizesChunk.Close()
	}
	for _, run := range lstate._sortedRuns {
		run.Close()
	}
	lstate._sortedRuns = nil
}
