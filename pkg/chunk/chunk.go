package chunk

import (
	"go.uber.org/zap"

	"github.com/vexdb/vexsort/pkg/common"
	"github.com/vexdb/vexsort/pkg/util"
)

type Chunk struct {
	Data  []*Vector
	Count int
	_Cap  int
}

func (c *Chunk) Init(types []common.LType, cap int) {
	c._Cap = cap
	c.Data = nil
	for _, lType := range types {
		c.Data = append(c.Data, NewFlatVector(lType, c._Cap))
	}
}

func (c *Chunk) Reset() {
	if len(c.Data) == 0 {
		return
	}
	for _, vec := range c.Data {
		vec.Reset()
	}
	c._Cap = util.DefaultVectorSize
	c.Count = 0
}

func (c *Chunk) Cap() int {
	return c._Cap
}

func (c *Chunk) SetCap(cap int) {
	c._Cap = cap
}

func (c *Chunk) SetCard(count int) {
	util.AssertFunc(count <= c._Cap)
	c.Count = count
}

func (c *Chunk) Card() int {
	return c.Count
}

func (c *Chunk) ColumnCount() int {
	if c == nil {
		return 0
	}
	return len(c.Data)
}

func (c *Chunk) Types() []common.LType {
	ret := make([]common.LType, c.ColumnCount())
	for i, vec := range c.Data {
		ret[i] = vec.Typ()
	}
	return ret
}

func (c *Chunk) ToUnifiedFormat() []*UnifiedFormat {
	ret := make([]*UnifiedFormat, c.ColumnCount())
	for i := 0; i < c.ColumnCount(); i++ {
		ret[i] = &UnifiedFormat{}
		c.Data[i].ToUnifiedFormat(c.Card(), ret[i])
	}
	return ret
}

func (c *Chunk) Print2(rowPrefix string) {
	for i := 0; i < c.Card(); i++ {
		fields := make([]zap.Field, 0)
		for j := 0; j < c.ColumnCount(); j++ {
			val := c.Data[j].GetValue(i)
			fields = append(fields, zap.String("", val.String()))
		}
		util.Info(rowPrefix, fields...)
	}
}
