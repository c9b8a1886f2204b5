package compute

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/vexdb/vexsort/pkg/chunk"
	"github.com/vexdb/vexsort/pkg/common"
	"github.com/vexdb/vexsort/pkg/util"
)

// encodeTwo encodes two single-column rows and returns the raw key
// bytes of both.
func encodeTwo(
	t *testing.T,
	typ common.LType,
	a, b *chunk.Value,
	desc bool,
	nullsFirst bool,
	prefixLen int,
	colSize int,
) ([]byte, []byte) {
	t.Helper()
	vec := chunk.NewFlatVector(typ, util.DefaultVectorSize)
	vec.SetValue(0, a)
	vec.SetValue(1, b)
	bufA := make([]byte, colSize)
	bufB := make([]byte, colSize)
	keyLocs := []unsafe.Pointer{
		unsafe.Pointer(&bufA[0]),
		unsafe.Pointer(&bufB[0]),
	}
	SerializeVectorSortable(
		vec, 2,
		chunk.IncrSelectVectorInPhyFormatFlat(), 2,
		keyLocs, desc, true, nullsFirst, prefixLen)
	return bufA, bufB
}

func memcmpSign(a, b []byte) int {
	cmp := util.PointerMemcmp(
		unsafe.Pointer(&a[0]),
		unsafe.Pointer(&b[0]),
		len(a))
	return cmp
}

func TestSortableEncodingInt32(t *testing.T) {
	values := []int{-2147483648, -500, -1, 0, 1, 42, 2147483647}
	colSize := 1 + common.Int32Size
	for _, desc := range []bool{false, true} {
		for _, nullsFirst := range []bool{false, true} {
			for i := 0; i < len(values); i++ {
				for j := 0; j < len(values); j++ {
					a, b := encodeTwo(t,
						common.IntegerType(),
						i32Val(values[i]), i32Val(values[j]),
						desc, nullsFirst, 0, colSize)
					want := 0
					if values[i] < values[j] {
						want = -1
					} else if values[i] > values[j] {
						want = 1
					}
					if desc {
						want = -want
					}
					require.Equal(t, want, memcmpSign(a, b),
						"values %d %d desc %v", values[i], values[j], desc)
				}
			}
		}
	}
}

func TestSortableEncodingNullOrder(t *testing.T) {
	colSize := 1 + common.Int32Size
	for _, desc := range []bool{false, true} {
		//NULLS FIRST: the null row compares below every value
		a, b := encodeTwo(t, common.IntegerType(),
			nullVal(common.IntegerType()), i32Val(-100),
			desc, true, 0, colSize)
		require.Equal(t, -1, memcmpSign(a, b))
		//NULLS LAST: the null row compares above every value
		a, b = encodeTwo(t, common.IntegerType(),
			nullVal(common.IntegerType()), i32Val(2147483647),
			desc, false, 0, colSize)
		require.Equal(t, 1, memcmpSign(a, b))
	}
}

func TestSortableEncodingVarcharPrefix(t *testing.T) {
	prefixLen := 12
	colSize := 1 + prefixLen
	pairs := [][2]string{
		{"a", "b"},
		{"", "a"},
		{"abc", "abd"},
		{"short", "shorter"},
		{"same", "same"},
	}
	for _, desc := range []bool{false, true} {
		for _, pair := range pairs {
			a, b := encodeTwo(t, common.VarcharType(),
				strVal(pair[0]), strVal(pair[1]),
				desc, false, prefixLen, colSize)
			want := 0
			if pair[0] < pair[1] {
				want = -1
			} else if pair[0] > pair[1] {
				want = 1
			}
			if desc {
				want = -want
			}
			require.Equal(t, want, memcmpSign(a, b),
				"pair %q %q desc %v", pair[0], pair[1], desc)
		}
	}
}

func TestSortableEncodingDate(t *testing.T) {
	colSize := 1 + common.DateSize
	older := &chunk.Value{Typ: common.DateType(), I64: 1999, I64_1: 12, I64_2: 31}
	newer := &chunk.Value{Typ: common.DateType(), I64: 2000, I64_1: 1, I64_2: 1}
	a, b := encodeTwo(t, common.DateType(), older, newer, false, false, 0, colSize)
	require.Equal(t, -1, memcmpSign(a, b))
	a, b = encodeTwo(t, common.DateType(), older, newer, true, false, 0, colSize)
	require.Equal(t, 1, memcmpSign(a, b))
}

func TestSortableEncodingDecimal(t *testing.T) {
	colSize := 1 + common.DecimalSize
	typ := common.DecimalType(15, 2)
	small := &chunk.Value{Typ: typ, Str: "-12.50"}
	big := &chunk.Value{Typ: typ, Str: "3.25"}
	a, b := encodeTwo(t, typ, small, big, false, false, 0, colSize)
	require.Equal(t, -1, memcmpSign(a, b))
}

func TestPayloadRoundTrip(t *testing.T) {
	types := []common.LType{
		common.IntegerType(),
		common.VarcharType(),
		common.DoubleType(),
		common.BigintType(),
	}
	vals := [][]*chunk.Value{
		{i32Val(7), nullVal(common.IntegerType()), i32Val(-3)},
		{strVal("hello"), strVal(""), nullVal(common.VarcharType())},
		{
			{Typ: common.DoubleType(), F64: 3.5},
			{Typ: common.DoubleType(), F64: -0.25},
			nullVal(common.DoubleType()),
		},
		{
			{Typ: common.BigintType(), I64: 1 << 40},
			nullVal(common.BigintType()),
			{Typ: common.BigintType(), I64: -9},
		},
	}
	count := 3
	input := &chunk.Chunk{}
	input.Init(types, util.DefaultVectorSize)
	for col, colVals := range vals {
		for row, val := range colVals {
			input.Data[col].SetValue(row, val)
		}
	}
	input.SetCard(count)

	payloadState := NewPayloadState(types)
	require.True(t, payloadState._hasVariableSize)

	colData := input.ToUnifiedFormat()
	entrySizes := make([]int, count)
	ComputeChunkEntrySizes(colData, types, entrySizes, count, payloadState._entrySize)

	total := 0
	for _, sz := range entrySizes {
		total += sz
	}
	buf := make([]byte, total)
	keyLocs := make([]unsafe.Pointer, count)
	validityLocs := make([]unsafe.Pointer, count)
	off := 0
	for i := 0; i < count; i++ {
		keyLocs[i] = unsafe.Pointer(&buf[off])
		off += entrySizes[i]
	}
	sel := chunk.IncrSelectVectorInPhyFormatFlat()
	for i := 0; i < count; i++ {
		util.Memset(keyLocs[i], 0xFF, payloadState._validitymaskSize)
		validityLocs[i] = keyLocs[i]
		keyLocs[i] = util.PointerAdd(keyLocs[i], payloadState._validitymaskSize)
	}
	for col := 0; col < input.ColumnCount(); col++ {
		SerializeVector(input.Data[col], count, sel, count, col, keyLocs, validityLocs)
	}

	//deserialize from the row starts
	off = 0
	for i := 0; i < count; i++ {
		validityLocs[i] = unsafe.Pointer(&buf[off])
		keyLocs[i] = util.PointerAdd(validityLocs[i], payloadState._validitymaskSize)
		off += entrySizes[i]
	}
	output := &chunk.Chunk{}
	output.Init(types, util.DefaultVectorSize)
	for col := 0; col < output.ColumnCount(); col++ {
		DeserializeIntoVector(output.Data[col], count, col, keyLocs, validityLocs)
	}
	output.SetCard(count)

	for col, colVals := range vals {
		for row, want := range colVals {
			got := output.Data[col].GetValue(row)
			require.Equal(t, want.IsNull, got.IsNull, "col %d row %d", col, row)
			if want.IsNull {
				continue
			}
			require.Equal(t, want.String(), got.String(), "col %d row %d", col, row)
		}
	}
}
