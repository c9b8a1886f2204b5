package chunk

import (
	"github.com/vexdb/vexsort/pkg/common"
	"github.com/vexdb/vexsort/pkg/util"
)

type VecBufferType int

const (
	//array of data
	VBT_STANDARD VecBufferType = iota
	VBT_STRING
)

type VecBuffer struct {
	BufTyp VecBufferType
	Data   []byte
}

func NewBuffer(sz int) *VecBuffer {
	return &VecBuffer{
		BufTyp: VBT_STANDARD,
		Data:   util.GAlloc.Alloc(sz),
	}
}

func NewStandardBuffer(lt common.LType, cap int) *VecBuffer {
	return NewBuffer(lt.GetInternalType().Size() * cap)
}

func NewConstBuffer(typ common.LType) *VecBuffer {
	return NewStandardBuffer(typ, 1)
}
