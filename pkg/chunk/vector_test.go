package chunk

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vexdb/vexsort/pkg/common"
	"github.com/vexdb/vexsort/pkg/util"
)

func TestVectorSetGet(t *testing.T) {
	vec := NewFlatVector(common.IntegerType(), util.DefaultVectorSize)
	vec.SetValue(0, &Value{Typ: common.IntegerType(), I64: -7})
	vec.SetValue(1, &Value{Typ: common.IntegerType(), IsNull: true})
	vec.SetValue(2, &Value{Typ: common.IntegerType(), I64: 42})

	require.Equal(t, int64(-7), vec.GetValue(0).I64)
	require.True(t, vec.GetValue(1).IsNull)
	require.Equal(t, int64(42), vec.GetValue(2).I64)
}

func TestVectorVarchar(t *testing.T) {
	vec := NewFlatVector(common.VarcharType(), util.DefaultVectorSize)
	vec.SetValue(0, &Value{Typ: common.VarcharType(), Str: "hello world"})
	vec.SetValue(1, &Value{Typ: common.VarcharType(), Str: ""})
	vec.SetValue(2, &Value{Typ: common.VarcharType(), IsNull: true})

	require.Equal(t, "hello world", vec.GetValue(0).Str)
	require.Equal(t, "", vec.GetValue(1).Str)
	require.True(t, vec.GetValue(2).IsNull)
}

func TestVectorToUnifiedFormat(t *testing.T) {
	vec := NewFlatVector(common.IntegerType(), util.DefaultVectorSize)
	for i := 0; i < 4; i++ {
		vec.SetValue(i, &Value{Typ: common.IntegerType(), I64: int64(i * 10)})
	}
	var vdata UnifiedFormat
	vec.ToUnifiedFormat(4, &vdata)
	slice := GetSliceInPhyFormatUnifiedFormat[int32](&vdata)
	for i := 0; i < 4; i++ {
		require.Equal(t, int32(i*10), slice[vdata.Sel.GetIndex(i)])
	}
}

func TestChunkInitAndTypes(t *testing.T) {
	types := []common.LType{common.IntegerType(), common.VarcharType()}
	c := &Chunk{}
	c.Init(types, util.DefaultVectorSize)
	require.Equal(t, 2, c.ColumnCount())
	require.True(t, c.Types()[0].Equal(common.IntegerType()))
	require.True(t, c.Types()[1].Equal(common.VarcharType()))
	c.SetCard(5)
	require.Equal(t, 5, c.Card())
}
