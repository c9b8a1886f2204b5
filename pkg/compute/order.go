// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package compute

import (
	"fmt"
	"strings"
	"sync"
	"unsafe"

	"github.com/xlab/treeprint"
	"go.uber.org/zap"

	"github.com/vexdb/vexsort/pkg/chunk"
	"github.com/vexdb/vexsort/pkg/common"
	"github.com/vexdb/vexsort/pkg/storage"
	"github.com/vexdb/vexsort/pkg/util"
)

// PhysicalOrder is the external sort operator. Sink accumulates rows
// per thread, Combine publishes the per-thread runs, Finalize merges
// them, GetChunk emits the ordered payload.
type PhysicalOrder struct {
	_payloadTypes        []common.LType
	_orders              []*OrderByNode
	_estimatedCardinality int

	_sortingBlockSize int
	_prefixLength     int
}

func NewPhysicalOrder(
	payloadTypes []common.LType,
	orders []*OrderByNode,
	estimatedCardinality int,
	cfg *util.Config,
) *PhysicalOrder {
	ret := &PhysicalOrder{
		_payloadTypes:        common.CopyLTypes(payloadTypes...),
		_orders:              orders,
		_estimatedCardinality: estimatedCardinality,
		_sortingBlockSize:    SORTING_BLOCK_SIZE,
		_prefixLength:        PREFIX_LENGTH,
	}
	if cfg != nil {
		if cfg.Sort.SortingBlockSize > 0 {
			ret._sortingBlockSize = cfg.Sort.SortingBlockSize
		}
		if cfg.Sort.PrefixLength > 0 {
			ret._prefixLength = cfg.Sort.PrefixLength
		}
	}
	return ret
}

func (order *PhysicalOrder) GetGlobalState(
	bufferMgr *storage.BufferManager,
) *OrderGlobalState {
	return &OrderGlobalState{
		_bufferMgr:    bufferMgr,
		_sortingState: NewSortingState(order._orders, order._prefixLength),
		_payloadState: NewPayloadState(order._payloadTypes),
		_payloadTypes: common.CopyLTypes(order._payloadTypes...),
	}
}

func (order *PhysicalOrder) GetLocalSinkState() *OrderLocalState {
	ret := &OrderLocalState{}
	exprs := make([]*Expr, 0, len(order._orders))
	for _, by := range order._orders {
		exprs = append(exprs, by.Child)
		ret._keyTypes = append(ret._keyTypes, by.Child.DataTyp)
	}
	ret._executor = NewExprExec(exprs...)
	return ret
}

// Sink appends one batch to the local state; a local sort runs once
// the accumulated sorting data passes the threshold.
func (order *PhysicalOrder) Sink(
	gstate *OrderGlobalState,
	lstate *OrderLocalState,
	input *chunk.Chunk,
) error {
	sortingState := gstate._sortingState
	payloadState := gstate._payloadState
	if !lstate._initialized {
		lstate.initialize(gstate._bufferMgr, sortingState, payloadState)
		lstate._sort = &chunk.Chunk{}
		lstate._sort.Init(lstate._keyTypes, util.DefaultVectorSize)
	}

	//evaluate order keys
	sort := lstate._sort
	if err := lstate._executor.ExecuteExprs(input, sort); err != nil {
		return err
	}
	count := sort.Card()
	if count == 0 {
		return nil
	}
	sel := chunk.IncrSelectVectorInPhyFormatFlat()

	//build and serialize the memcmp-able keys
	if err := lstate._sortingChunk.Build(count, lstate._keyLocs, nil); err != nil {
		return err
	}
	for sortCol := 0; sortCol < sort.ColumnCount(); sortCol++ {
		hasNull := sortingState._hasNull[sortCol]
		nullsFirst := sortingState._orderByNullTypes[sortCol] == OBNT_NULLS_FIRST
		desc := sortingState._orderTypes[sortCol] == OT_DESC
		SerializeVectorSortable(
			sort.Data[sortCol],
			count,
			sel,
			count,
			lstate._keyLocs,
			desc,
			hasNull,
			nullsFirst,
			sortingState._prefixLengths[sortCol])
	}

	//fully serialize the variable size key columns
	for sortCol := 0; sortCol < sort.ColumnCount(); sortCol++ {
		if sortingState._constantSize[sortCol] {
			continue
		}
		var vdata chunk.UnifiedFormat
		sort.Data[sortCol].ToUnifiedFormat(count, &vdata)
		util.Fill(lstate._entrySizes, count, common.Int32Size)
		ComputeStringEntrySizes(&vdata, lstate._entrySizes, sel, count)
		//sizes
		if err := lstate._varSortingSizes[sortCol].Build(count, lstate._keyLocs, nil); err != nil {
			return err
		}
		for i := 0; i < count; i++ {
			util.Store[uint64](uint64(lstate._entrySizes[i]), lstate._keyLocs[i])
		}
		//blob
		if err := lstate._varSortingChunks[sortCol].Build(count, lstate._keyLocs,
			lstate._entrySizes); err != nil {
			return err
		}
		SerializeVector(
			sort.Data[sortCol], count, sel, count, 0,
			lstate._keyLocs, nil)
	}

	//payload rows
	if payloadState._hasVariableSize {
		colData := input.ToUnifiedFormat()
		ComputeChunkEntrySizes(colData, order._payloadTypes,
			lstate._entrySizes, count, payloadState._entrySize)
		if err := lstate._sizesChunk.Build(count, lstate._keyLocs, nil); err != nil {
			return err
		}
		for i := 0; i < count; i++ {
			util.Store[uint64](uint64(lstate._entrySizes[i]), lstate._keyLocs[i])
		}
		if err := lstate._payloadChunk.Build(count, lstate._keyLocs,
			lstate._entrySizes); err != nil {
			return err
		}
	} else {
		if err := lstate._payloadChunk.Build(count, lstate._keyLocs, nil); err != nil {
			return err
		}
	}
	//leading validity mask, then the column values
	for i := 0; i < count; i++ {
		util.Memset(lstate._keyLocs[i], 0xFF, payloadState._validitymaskSize)
		lstate._validityLocs[i] = lstate._keyLocs[i]
		lstate._keyLocs[i] = util.PointerAdd(lstate._keyLocs[i],
			payloadState._validitymaskSize)
	}
	for payloadCol := 0; payloadCol < input.ColumnCount(); payloadCol++ {
		SerializeVector(
			input.Data[payloadCol], count, sel, count, payloadCol,
			lstate._keyLocs, lstate._validityLocs)
	}

	if lstate._sortingChunk.Count()*sortingState._entrySize > order._sortingBlockSize {
		return sortLocalState(gstate, lstate)
	}
	return nil
}

// Combine seals the local remainder and moves the thread's runs into
// the global state.
func (order *PhysicalOrder) Combine(
	gstate *OrderGlobalState,
	lstate *OrderLocalState,
) error {
	if !lstate._initialized {
		return nil
	}
	if err := sortLocalState(gstate, lstate); err != nil {
		return err
	}
	gstate._lock.Lock()
	gstate._sortedRuns = append(gstate._sortedRuns, lstate._sortedRuns...)
	gstate._lock.Unlock()
	lstate._sortedRuns = nil
	return nil
}

// Finalize merges the runs into one and publishes the total count.
func (order *PhysicalOrder) Finalize(gstate *OrderGlobalState) error {
	if len(gstate._sortedRuns) == 0 {
		gstate._totalCount = 0
		return nil
	}
	if err := MergeRuns(gstate); err != nil {
		return err
	}
	run := util.Back(gstate._sortedRuns)
	if run.Count() != run._payloadChunk.Count() {
		return ErrCountMismatch
	}
	gstate._totalCount = run.Count()
	util.Debug("order finalized", zap.Int("totalCount", gstate._totalCount))
	return nil
}

func (order *PhysicalOrder) MaxThreads(gstate *OrderGlobalState) int {
	if gstate != nil && len(gstate._sortedRuns) != 0 {
		return gstate._totalCount/util.DefaultVectorSize + 1
	}
	return order._estimatedCardinality/util.DefaultVectorSize + 1
}

// OrderParallelState is the shared emit cursor.
type OrderParallelState struct {
	_lock     sync.Mutex
	_entryIdx int
}

func (order *PhysicalOrder) GetParallelState() *OrderParallelState {
	return &OrderParallelState{}
}

// PhysicalOrderOperatorState is one consumer's scan state over the
// final run.
type PhysicalOrderOperatorState struct {
	_parallel    *OrderParallelState
	_initialized bool
	_count       int
	_entryIdx    int

	_payloadHandle *storage.BufferHandle
	_offsetsHandle *storage.BufferHandle
	_payloadPtr    unsafe.Pointer
	_offsetsPtr    unsafe.Pointer

	_keyLocs      []unsafe.Pointer
	_validityLocs []unsafe.Pointer
}

func (order *PhysicalOrder) GetOperatorState(
	parallel *OrderParallelState,
) *PhysicalOrderOperatorState {
	return &PhysicalOrderOperatorState{
		_parallel:     parallel,
		_keyLocs:      make([]unsafe.Pointer, util.DefaultVectorSize),
		_validityLocs: make([]unsafe.Pointer, util.DefaultVectorSize),
	}
}

func (state *PhysicalOrderOperatorState) Close() {
	if state._payloadHandle != nil {
		state._payloadHandle.Close()
		state._payloadHandle = nil
	}
	if state._offsetsHandle != nil {
		state._offsetsHandle.Close()
		state._offsetsHandle = nil
	}
}

func (state *PhysicalOrderOperatorState) initScan(
	gstate *OrderGlobalState,
) error {
	run := util.Back(gstate._sortedRuns)
	state._count = gstate._totalCount
	if state._count > 0 {
		payloadBlock := util.Back(run._payloadChunk._dataBlocks)
		handle, err := gstate._bufferMgr.Pin(payloadBlock.Handle())
		if err != nil {
			return err
		}
		state._payloadHandle = handle
		state._payloadPtr = handle.Ptr()
		if gstate._payloadState._hasVariableSize {
			offsetsBlock := util.Back(run._payloadChunk._offsetBlocks)
			handle, err = gstate._bufferMgr.Pin(offsetsBlock.Handle())
			if err != nil {
				return err
			}
			state._offsetsHandle = handle
			state._offsetsPtr = handle.Ptr()
		}
	}
	state._initialized = true
	return nil
}

func scan(
	gstate *OrderGlobalState,
	output *chunk.Chunk,
	state *PhysicalOrderOperatorState,
	offset int,
	next int,
) {
	payloadState := gstate._payloadState
	if payloadState._hasVariableSize {
		for i := 0; i < next; i++ {
			state._validityLocs[i] = util.PointerAdd(state._payloadPtr,
				int(loadOffset(state._offsetsPtr, uint64(offset+i))))
			state._keyLocs[i] = util.PointerAdd(state._validityLocs[i],
				payloadState._validitymaskSize)
		}
	} else {
		for i := 0; i < next; i++ {
			state._validityLocs[i] = util.PointerAdd(state._payloadPtr,
				(offset+i)*payloadState._entrySize)
			state._keyLocs[i] = util.PointerAdd(state._validityLocs[i],
				payloadState._validitymaskSize)
		}
	}
	for payloadCol := 0; payloadCol < output.ColumnCount(); payloadCol++ {
		DeserializeIntoVector(
			output.Data[payloadCol], next, payloadCol,
			state._keyLocs, state._validityLocs)
	}
	output.SetCard(next)
}

// GetChunk emits the next batch of ordered rows, claiming a row range
// from the shared cursor when a parallel state is attached.
func (order *PhysicalOrder) GetChunk(
	gstate *OrderGlobalState,
	output *chunk.Chunk,
	state *PhysicalOrderOperatorState,
) error {
	output.SetCard(0)
	if len(gstate._sortedRuns) == 0 {
		return nil
	}
	if !state._initialized {
		if err := state.initScan(gstate); err != nil {
			return err
		}
	}

	if state._parallel == nil {
		//sequential scan
		next := min(util.DefaultVectorSize, state._count-state._entryIdx)
		if next <= 0 {
			return nil
		}
		scan(gstate, output, state, state._entryIdx, next)
		state._entryIdx += next
		return nil
	}
	//parallel scan: claim under the lock, deserialize outside it
	parallel := state._parallel
	parallel._lock.Lock()
	offset := parallel._entryIdx
	next := min(util.DefaultVectorSize, state._count-offset)
	if next > 0 {
		parallel._entryIdx += next
	}
	parallel._lock.Unlock()
	if next <= 0 {
		return nil
	}
	scan(gstate, output, state, offset, next)
	return nil
}

func (order *PhysicalOrder) ParamsToString() string {
	sb := strings.Builder{}
	for i, by := range order._orders {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(fmt.Sprintf("#%d %s", by.Child.ColIdx, by.Child.DataTyp.String()))
		if by.Desc {
			sb.WriteString(" DESC")
		} else {
			sb.WriteString(" ASC")
		}
		if by.NullsFirst {
			sb.WriteString(" NULLS FIRST")
		} else {
			sb.WriteString(" NULLS LAST")
		}
	}
	return sb.String()
}

func (order *PhysicalOrder) Explain() string {
	tree := treeprint.New()
	root := tree.AddBranch("ORDER_BY")
	keys := root.AddBranch("keys")
	for _, line := range strings.Split(order.ParamsToString(), "\n") {
		keys.AddNode(line)
	}
	payload := root.AddBranch("payload")
	for i, typ := range order._payloadTypes {
		payload.AddNode(fmt.Sprintf("#%d %s", i, typ.String()))
	}
	return tree.String()
}
