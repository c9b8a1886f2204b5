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

package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/tidwall/btree"
	"go.uber.org/zap"

	"github.com/vexdb/vexsort/pkg/util"
)

//#include <stdlib.h>
import "C"

const (
	BLOCK_ALLOC_SIZE = 256 * 1024
)

var (
	ErrOutOfMemory = errors.New("buffer manager: out of memory")
)

type Allocator struct {
}

func NewAllocator() *Allocator {
	return &Allocator{}
}

func (alloc *Allocator) AllocateData(sz uint64) (unsafe.Pointer, error) {
	ptr := C.malloc(C.size_t(sz))
	if ptr == nil {
		return nil, fmt.Errorf("allocate %d bytes: %w", sz, ErrOutOfMemory)
	}
	return ptr, nil
}

func (alloc *Allocator) FreeData(ptr unsafe.Pointer, sz uint64) {
	C.free(ptr)
}

// BufferManager hands out fixed-size managed blocks. Unpinned blocks
// may be written to a temp file when the resident set exceeds the
// memory limit and are read back on the next Pin.
type BufferManager struct {
	_tempDir     string
	_tempId      atomic.Uint64
	_bufferAlloc *Allocator
	_memoryLimit int64
	_usedMemory  atomic.Int64

	_blocksLock sync.Mutex
	_blocks     *btree.Map[BlockID, *BlockHandle]
}

func NewBufferManager(tempDir string, memoryLimit int64) *BufferManager {
	ret := &BufferManager{
		_tempDir:     tempDir,
		_bufferAlloc: NewAllocator(),
		_memoryLimit: memoryLimit,
		_blocks:      &btree.Map[BlockID, *BlockHandle]{},
	}
	return ret
}

func (mgr *BufferManager) UsedMemory() int64 {
	return mgr._usedMemory.Load()
}

// RegisterMemory creates a new managed block of sz bytes. The block
// starts loaded with zero readers.
func (mgr *BufferManager) RegisterMemory(sz uint64) (*BlockHandle, error) {
	if err := mgr.reserveMemory(int64(sz)); err != nil {
		return nil, err
	}
	buffer, err := NewFileBuffer(mgr._bufferAlloc, sz)
	if err != nil {
		mgr._usedMemory.Add(-int64(sz))
		return nil, err
	}
	id := BlockID(mgr._tempId.Add(1))
	handle := NewBlockHandle(mgr, id, buffer)
	mgr._blocksLock.Lock()
	mgr._blocks.Set(id, handle)
	mgr._blocksLock.Unlock()
	return handle, nil
}

// Allocate registers sz bytes and pins the result.
func (mgr *BufferManager) Allocate(
	sz uint64,
	block **BlockHandle,
) (*BufferHandle, error) {
	var local *BlockHandle
	if block == nil {
		block = &local
	}
	var err error
	*block, err = mgr.RegisterMemory(sz)
	if err != nil {
		return nil, err
	}
	return mgr.Pin(*block)
}

func (mgr *BufferManager) Pin(handle *BlockHandle) (*BufferHandle, error) {
	handle._lock.Lock()
	defer handle._lock.Unlock()
	if handle.State() == LOADED {
		handle._readers.Add(1)
		return &BufferHandle{_handle: handle, _node: handle._buffer}, nil
	}
	//read the spilled block back
	if err := mgr.reserveMemory(int64(handle._size)); err != nil {
		return nil, err
	}
	buffer, err := NewFileBuffer(mgr._bufferAlloc, handle._size)
	if err != nil {
		mgr._usedMemory.Add(-int64(handle._size))
		return nil, err
	}
	err = mgr.readTemp(handle._blockId, buffer)
	if err != nil {
		buffer.Close()
		mgr._usedMemory.Add(-int64(handle._size))
		return nil, err
	}
	handle._buffer = buffer
	handle._state.Store(int32(LOADED))
	util.AssertFunc(handle._readers.Load() == 0)
	handle._readers.Store(1)
	return &BufferHandle{_handle: handle, _node: handle._buffer}, nil
}

func (mgr *BufferManager) Unpin(handle *BlockHandle) {
	handle._lock.Lock()
	defer handle._lock.Unlock()
	util.AssertFunc(handle._readers.Load() > 0)
	handle._readers.Add(-1)
}

// UnregisterBlock drops the block. canDestroy also removes any
// spilled copy on disk.
func (mgr *BufferManager) UnregisterBlock(id BlockID, canDestroy bool) {
	mgr._blocksLock.Lock()
	handle, has := mgr._blocks.Get(id)
	if has {
		mgr._blocks.Delete(id)
	}
	mgr._blocksLock.Unlock()
	if !has {
		return
	}
	handle._lock.Lock()
	defer handle._lock.Unlock()
	if handle.State() == LOADED {
		mgr._usedMemory.Add(-int64(handle._size))
		handle._buffer.Close()
		handle._buffer = nil
		handle._state.Store(int32(UNLOADED))
	}
	if handle._spilled && canDestroy {
		_ = os.Remove(mgr.tempPath(id))
		handle._spilled = false
	}
}

// reserveMemory accounts sz bytes, evicting unpinned blocks first if
// the limit would be exceeded. 0 limit means unlimited.
func (mgr *BufferManager) reserveMemory(sz int64) error {
	used := mgr._usedMemory.Add(sz)
	if mgr._memoryLimit <= 0 || used <= mgr._memoryLimit {
		return nil
	}
	if err := mgr.evict(used - mgr._memoryLimit); err != nil {
		mgr._usedMemory.Add(-sz)
		return err
	}
	return nil
}

func (mgr *BufferManager) evict(needed int64) error {
	candidates := make([]*BlockHandle, 0)
	mgr._blocksLock.Lock()
	mgr._blocks.Scan(func(id BlockID, handle *BlockHandle) bool {
		if handle.canUnload() {
			candidates = append(candidates, handle)
		}
		return true
	})
	mgr._blocksLock.Unlock()

	freed := int64(0)
	for _, handle := range candidates {
		if freed >= needed {
			break
		}
		n, err := mgr.unload(handle)
		if err != nil {
			return err
		}
		freed += n
	}
	if freed < needed {
		return fmt.Errorf("needed %d bytes, evicted %d: %w",
			needed, freed, ErrOutOfMemory)
	}
	return nil
}

func (mgr *BufferManager) unload(handle *BlockHandle) (int64, error) {
	handle._lock.Lock()
	defer handle._lock.Unlock()
	if !handle.canUnload() {
		return 0, nil
	}
	err := mgr.writeTemp(handle._blockId, handle._buffer)
	if err != nil {
		return 0, err
	}
	handle._spilled = true
	sz := int64(handle._size)
	handle._buffer.Close()
	handle._buffer = nil
	handle._state.Store(int32(UNLOADED))
	mgr._usedMemory.Add(-sz)
	util.Debug("block spilled",
		zap.Uint64("blockId", uint64(handle._blockId)),
		zap.Int64("bytes", sz))
	return sz, nil
}

func (mgr *BufferManager) tempPath(id BlockID) string {
	return filepath.Join(mgr._tempDir, fmt.Sprintf("vexsort.%d.block", id))
}

func (mgr *BufferManager) writeTemp(id BlockID, buffer *FileBuffer) error {
	fpath := mgr.tempPath(id)
	file, err := os.OpenFile(fpath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = file.Write(buffer.Slice())
	return err
}

func (mgr *BufferManager) readTemp(id BlockID, buffer *FileBuffer) error {
	fpath := mgr.tempPath(id)
	file, err := os.Open(fpath)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.ReadFull(file, buffer.Slice())
	return err
}

// Close drops every block still registered. Spill files are removed.
func (mgr *BufferManager) Close() {
	ids := make([]BlockID, 0)
	mgr._blocksLock.Lock()
	mgr._blocks.Scan(func(id BlockID, handle *BlockHandle) bool {
		ids = append(ids, id)
		return true
	})
	mgr._blocksLock.Unlock()
	for _, id := range ids {
		mgr.UnregisterBlock(id, true)
	}
}
