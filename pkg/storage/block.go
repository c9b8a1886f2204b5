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
	"sync/atomic"
	"unsafe"

	"github.com/vexdb/vexsort/pkg/util"
)

type BlockID uint64

type BlockState int32

const (
	UNLOADED BlockState = 0
	LOADED   BlockState = 1
)

type FileBuffer struct {
	_bufferAlloc *Allocator
	_buffer      unsafe.Pointer
	_size        uint64
}

func NewFileBuffer(alloc *Allocator, sz uint64) (*FileBuffer, error) {
	ptr, err := alloc.AllocateData(sz)
	if err != nil {
		return nil, err
	}
	return &FileBuffer{
		_bufferAlloc: alloc,
		_buffer:      ptr,
		_size:        sz,
	}, nil
}

func (fbuf *FileBuffer) Ptr() unsafe.Pointer {
	return fbuf._buffer
}

func (fbuf *FileBuffer) Size() uint64 {
	return fbuf._size
}

func (fbuf *FileBuffer) Close() {
	if fbuf == nil || fbuf._buffer == nil {
		return
	}
	fbuf._bufferAlloc.FreeData(fbuf._buffer, fbuf._size)
	fbuf._buffer = nil
	fbuf._size = 0
}

func (fbuf *FileBuffer) Slice() []byte {
	return util.PointerToSlice[byte](fbuf._buffer, int(fbuf._size))
}

// BlockHandle tracks one managed block. The handle outlives the
// buffer: when the block is spilled the buffer is released and the
// state goes back to UNLOADED.
type BlockHandle struct {
	_lock     *util.ReentryLock
	_bufferMgr *BufferManager
	_state    atomic.Int32
	_readers  atomic.Int32
	_blockId  BlockID
	_buffer   *FileBuffer
	_size     uint64
	_spilled  bool
}

func NewBlockHandle(
	bufferMgr *BufferManager,
	blockId BlockID,
	buffer *FileBuffer,
) *BlockHandle {
	ret := &BlockHandle{
		_lock:     util.NewReentryLock(),
		_bufferMgr: bufferMgr,
		_blockId:  blockId,
		_buffer:   buffer,
		_size:     buffer.Size(),
	}
	ret._state.Store(int32(LOADED))
	return ret
}

func (handle *BlockHandle) BlockId() BlockID {
	return handle._blockId
}

func (handle *BlockHandle) State() BlockState {
	return BlockState(handle._state.Load())
}

func (handle *BlockHandle) Readers() int32 {
	return handle._readers.Load()
}

func (handle *BlockHandle) canUnload() bool {
	if handle.State() == UNLOADED {
		return false
	}
	return handle._readers.Load() == 0
}

type BufferHandle struct {
	_handle *BlockHandle
	_node   *FileBuffer
}

func (handle *BufferHandle) Ptr() unsafe.Pointer {
	return handle._node._buffer
}

func (handle *BufferHandle) Close() {
	if handle._handle == nil || handle._node == nil {
		return
	}
	handle._handle._bufferMgr.Unpin(handle._handle)
	handle._handle = nil
	handle._node = nil
}
