package compute

import (
	"unsafe"

	"github.com/vexdb/vexsort/pkg/storage"
	"github.com/vexdb/vexsort/pkg/util"
)

// RowDataBlock is one buffer-managed block of rows sharing an entry
// size. For variable-width blocks the entry size is 1 and capacity
// counts bytes.
type RowDataBlock struct {
	_bufferMgr  *storage.BufferManager
	_block      *storage.BlockHandle
	_pin        *storage.BufferHandle
	_capacity   int
	_entrySize  int
	_count      int
	_byteOffset int
}

func NewRowDataBlock(
	bufferMgr *storage.BufferManager,
	capacity int,
	entrySize int,
) (*RowDataBlock, error) {
	ret := &RowDataBlock{
		_bufferMgr: bufferMgr,
		_capacity:  capacity,
		_entrySize: entrySize,
	}
	sz := max(storage.BLOCK_ALLOC_SIZE, capacity*entrySize)
	pin, err := bufferMgr.Allocate(uint64(sz), &ret._block)
	if err != nil {
		return nil, err
	}
	ret._pin = pin
	return ret, nil
}

func (block *RowDataBlock) Handle() *storage.BlockHandle {
	return block._block
}

// Pin returns the base pointer, pinning the block first if needed.
func (block *RowDataBlock) Pin() (unsafe.Pointer, error) {
	if block._pin == nil {
		pin, err := block._bufferMgr.Pin(block._block)
		if err != nil {
			return nil, err
		}
		block._pin = pin
	}
	return block._pin.Ptr(), nil
}

func (block *RowDataBlock) Unpin() {
	if block._pin != nil {
		block._pin.Close()
		block._pin = nil
	}
}

func (block *RowDataBlock) Close() {
	block.Unpin()
	block._bufferMgr.UnregisterBlock(block._block.BlockId(), true)
	block._count = 0
}

// RowChunk is an append-only list of blocks over one logical row
// sequence.
type RowChunk struct {
	_bufferMgr     *storage.BufferManager
	_count         int
	_blockCapacity int
	_entrySize     int
	_blocks        []*RowDataBlock
}

func NewRowChunk(
	bufferMgr *storage.BufferManager,
	blockCapacity int,
	entrySize int,
) *RowChunk {
	return &RowChunk{
		_bufferMgr:     bufferMgr,
		_blockCapacity: blockCapacity,
		_entrySize:     entrySize,
	}
}

func (rc *RowChunk) Count() int {
	return rc._count
}

type blockAppendEntry struct {
	_basePtr unsafe.Pointer
	_count   int
}

// Build reserves addedCnt row slots and writes each row's destination
// pointer into keyLocs. entrySizes drives variable-width reservation.
func (rc *RowChunk) Build(
	addedCnt int,
	keyLocs []unsafe.Pointer,
	entrySizes []int,
) error {
	appendEntries := make([]blockAppendEntry, 0)
	remaining := addedCnt
	rc._count += remaining
	if len(rc._blocks) != 0 {
		lastBlock := util.Back(rc._blocks)
		if lastBlock._count < lastBlock._capacity {
			appendCnt, err := rc.appendToBlock(lastBlock, &appendEntries, remaining, entrySizes)
			if err != nil {
				return err
			}
			remaining -= appendCnt
		}
	}
	for remaining > 0 {
		minCap := rc._blockCapacity
		var offsetEntrySizes []int = nil
		if entrySizes != nil {
			offsetEntrySizes = entrySizes[addedCnt-remaining:]
			minCap = max(minCap, offsetEntrySizes[0])
		}
		newBlock, err := rc.createBlock(minCap)
		if err != nil {
			return err
		}
		appendCnt, err := rc.appendToBlock(newBlock, &appendEntries, remaining, offsetEntrySizes)
		if err != nil {
			return err
		}
		util.AssertFunc(newBlock._count > 0)
		remaining -= appendCnt
	}
	//fill keyLocs
	aidx := 0
	for _, entry := range appendEntries {
		next := aidx + entry._count
		if entrySizes != nil {
			for ; aidx < next; aidx++ {
				keyLocs[aidx] = entry._basePtr
				entry._basePtr = util.PointerAdd(entry._basePtr, entrySizes[aidx])
			}
		} else {
			for ; aidx < next; aidx++ {
				keyLocs[aidx] = entry._basePtr
				entry._basePtr = util.PointerAdd(entry._basePtr, rc._entrySize)
			}
		}
	}
	return nil
}

func (rc *RowChunk) appendToBlock(
	block *RowDataBlock,
	appendEntries *[]blockAppendEntry,
	remaining int,
	entrySizes []int,
) (int, error) {
	appendCnt := 0
	var dataPtr unsafe.Pointer
	basePtr, err := block.Pin()
	if err != nil {
		return 0, err
	}
	if entrySizes != nil {
		util.AssertFunc(rc._entrySize == 1)
		dataPtr = util.PointerAdd(basePtr, block._byteOffset)
		for i := 0; i < remaining; i++ {
			if block._byteOffset+entrySizes[i] > block._capacity {
				break
			}
			appendCnt++
			block._byteOffset += entrySizes[i]
		}
	} else {
		appendCnt = min(remaining, block._capacity-block._count)
		dataPtr = util.PointerAdd(basePtr, block._count*block._entrySize)
		block._byteOffset += appendCnt * block._entrySize
	}
	if appendCnt > 0 {
		*appendEntries = append(*appendEntries, blockAppendEntry{
			_basePtr: dataPtr,
			_count:   appendCnt,
		})
	}
	block._count += appendCnt
	return appendCnt, nil
}

func (rc *RowChunk) createBlock(minCapacity int) (*RowDataBlock, error) {
	nb, err := NewRowDataBlock(rc._bufferMgr, minCapacity, rc._entrySize)
	if err != nil {
		return nil, err
	}
	rc._blocks = append(rc._blocks, nb)
	return nb, nil
}

func (rc *RowChunk) Close() {
	for _, block := range rc._blocks {
		block.Close()
	}
	rc._blocks = nil
	rc._count = 0
}

func computeCountAndCapacity(
	rc *RowChunk,
	variableEntrySize bool,
) (count int, capacity int) {
	entrySize := rc._entrySize
	totalSize := 0
	for _, block := range rc._blocks {
		count += block._count
		if variableEntrySize {
			totalSize += block._byteOffset
		} else {
			totalSize += block._count * entrySize
		}
	}
	if variableEntrySize {
		capacity = max(storage.BLOCK_ALLOC_SIZE/entrySize, totalSize/entrySize+1)
	} else {
		capacity = max(storage.BLOCK_ALLOC_SIZE/entrySize+1, count+1)
	}
	return count, capacity
}

// ConcatenateBlocks folds every block of the chunk into one fresh
// block and releases the originals.
func ConcatenateBlocks(
	bufferMgr *storage.BufferManager,
	rc *RowChunk,
	variableEntrySize bool,
) (*RowDataBlock, error) {
	totalCount, capacity := computeCountAndCapacity(rc, variableEntrySize)
	entrySize := rc._entrySize

	newBlock, err := NewRowDataBlock(bufferMgr, capacity, entrySize)
	if err != nil {
		return nil, err
	}
	newBlock._count = totalCount
	newBlockPtr, err := newBlock.Pin()
	if err != nil {
		return nil, err
	}
	for _, block := range rc._blocks {
		blockPtr, err := block.Pin()
		if err != nil {
			return nil, err
		}
		cLen := block._count * entrySize
		if variableEntrySize {
			cLen = block._byteOffset
		}
		util.PointerCopy(newBlockPtr, blockPtr, cLen)
		newBlockPtr = util.PointerAdd(newBlockPtr, cLen)
		newBlock._byteOffset += cLen
		block.Close()
	}
	rc._blocks = nil
	rc._count = 0
	return newBlock, nil
}

// SizesToOffsets concatenates the fixed-width per-row sizes and
// converts them in place to a count+1 prefix sum.
func SizesToOffsets(
	bufferMgr *storage.BufferManager,
	rc *RowChunk,
) (*RowDataBlock, error) {
	newBlock, err := ConcatenateBlocks(bufferMgr, rc, false)
	if err != nil {
		return nil, err
	}
	totalCount := newBlock._count
	basePtr, err := newBlock.Pin()
	if err != nil {
		return nil, err
	}
	offsets := util.PointerToSlice[uint64](basePtr, totalCount+1)
	if totalCount == 0 {
		offsets[0] = 0
		newBlock._count = 1
		newBlock._byteOffset = newBlock._entrySize
		return newBlock, nil
	}
	prev := offsets[0]
	offsets[0] = 0
	var curr uint64
	for i := 1; i < totalCount; i++ {
		curr = offsets[i]
		offsets[i] = offsets[i-1] + prev
		prev = curr
	}
	offsets[totalCount] = offsets[totalCount-1] + prev
	newBlock._count = totalCount + 1
	newBlock._byteOffset = (totalCount + 1) * newBlock._entrySize
	return newBlock, nil
}
