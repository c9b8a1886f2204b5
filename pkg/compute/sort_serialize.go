package compute

import (
	"unsafe"

	"github.com/vexdb/vexsort/pkg/chunk"
	"github.com/vexdb/vexsort/pkg/common"
	"github.com/vexdb/vexsort/pkg/util"
)

type Encoder[T any] interface {
	EncodeData(unsafe.Pointer, *T)
	TypeSize() int
}

func BSWAP16(x uint16) uint16 {
	return ((x & 0xff00) >> 8) | ((x & 0x00ff) << 8)
}

func BSWAP32(x uint32) uint32 {
	return ((x & 0xff000000) >> 24) | ((x & 0x00ff0000) >> 8) |
		((x & 0x0000ff00) << 8) | ((x & 0x000000ff) << 24)
}

func BSWAP64(x uint64) uint64 {
	return ((x & 0xff00000000000000) >> 56) | ((x & 0x00ff000000000000) >> 40) |
		((x & 0x0000ff0000000000) >> 24) | ((x & 0x000000ff00000000) >> 8) |
		((x & 0x00000000ff000000) << 8) | ((x & 0x0000000000ff0000) << 24) |
		((x & 0x000000000000ff00) << 40) | ((x & 0x00000000000000ff) << 56)
}

func FlipSign(b uint8) uint8 {
	return b ^ 128
}

func encodeInt32(ptr unsafe.Pointer, value int32) {
	util.Store[uint32](BSWAP32(uint32(value)), ptr)
	util.Store[uint8](FlipSign(util.Load[uint8](ptr)), ptr)
}

func encodeInt64(ptr unsafe.Pointer, value int64) {
	util.Store[uint64](BSWAP64(uint64(value)), ptr)
	util.Store[uint8](FlipSign(util.Load[uint8](ptr)), ptr)
}

func encodeUint64(ptr unsafe.Pointer, value uint64) {
	util.Store[uint64](BSWAP64(value), ptr)
}

type int32Encoder struct {
}

func (i int32Encoder) EncodeData(ptr unsafe.Pointer, value *int32) {
	encodeInt32(ptr, *value)
}

func (i int32Encoder) TypeSize() int {
	return common.Int32Size
}

type int64Encoder struct {
}

func (i int64Encoder) EncodeData(ptr unsafe.Pointer, value *int64) {
	encodeInt64(ptr, *value)
}

func (i int64Encoder) TypeSize() int {
	return common.Int64Size
}

type dateEncoder struct{}

func (dateEncoder) EncodeData(ptr unsafe.Pointer, d *common.Date) {
	encodeInt32(ptr, d.Year)
	encodeInt32(util.PointerAdd(ptr, common.Int32Size), d.Month)
	encodeInt32(util.PointerAdd(ptr, 2*common.Int32Size), d.Day)
}

func (dateEncoder) TypeSize() int {
	return common.DateSize
}

type decimalEncoder struct {
	scale int
}

func (enc decimalEncoder) EncodeData(ptr unsafe.Pointer, dec *common.Decimal) {
	whole, frac, ok := dec.Int64(enc.scale)
	util.AssertFunc(ok)
	encodeInt64(ptr, whole)
	encodeInt64(util.PointerAdd(ptr, common.Int64Size), frac)
	//zero the rest of the slot so equal values memcmp equal
	util.Memset(util.PointerAdd(ptr, 2*common.Int64Size), 0,
		common.DecimalSize-2*common.Int64Size)
}

func (decimalEncoder) TypeSize() int {
	return common.DecimalSize
}

type hugeEncoder struct{}

func (hugeEncoder) EncodeData(ptr unsafe.Pointer, d *common.Hugeint) {
	encodeInt64(ptr, d.Upper)
	encodeUint64(util.PointerAdd(ptr, common.Int64Size), d.Lower)
}

func (hugeEncoder) TypeSize() int {
	return common.Int128Size
}

// SerializeVectorSortable writes the memcmp-ordered prefix of every
// row of v into the pre-reserved key slots. keyLocs advance past the
// written bytes so the next key column continues behind this one.
func SerializeVectorSortable(
	v *chunk.Vector,
	vcount int,
	sel *chunk.SelectVector,
	serCount int,
	keyLocs []unsafe.Pointer,
	desc bool,
	hasNull bool,
	nullsFirst bool,
	prefixLen int,
) {
	var vdata chunk.UnifiedFormat
	v.ToUnifiedFormat(vcount, &vdata)
	switch v.Typ().GetInternalType() {
	case common.INT32:
		templatedSerializeSortable[int32](
			&vdata, sel, serCount, keyLocs,
			desc, hasNull, nullsFirst, int32Encoder{})
	case common.INT64:
		templatedSerializeSortable[int64](
			&vdata, sel, serCount, keyLocs,
			desc, hasNull, nullsFirst, int64Encoder{})
	case common.DATE:
		templatedSerializeSortable[common.Date](
			&vdata, sel, serCount, keyLocs,
			desc, hasNull, nullsFirst, dateEncoder{})
	case common.DECIMAL:
		templatedSerializeSortable[common.Decimal](
			&vdata, sel, serCount, keyLocs,
			desc, hasNull, nullsFirst, decimalEncoder{scale: v.Typ().Scale})
	case common.INT128:
		templatedSerializeSortable[common.Hugeint](
			&vdata, sel, serCount, keyLocs,
			desc, hasNull, nullsFirst, hugeEncoder{})
	case common.VARCHAR:
		serializeStringVectorSortable(
			&vdata, sel, serCount, keyLocs,
			desc, hasNull, nullsFirst, prefixLen)
	default:
		panic("usp")
	}
}

func templatedSerializeSortable[T any](
	vdata *chunk.UnifiedFormat,
	sel *chunk.SelectVector,
	addCount int,
	keyLocs []unsafe.Pointer,
	desc bool,
	hasNull bool,
	nullsFirst bool,
	enc Encoder[T],
) {
	srcSlice := chunk.GetSliceInPhyFormatUnifiedFormat[T](vdata)
	if hasNull {
		mask := vdata.Mask
		valid := byte(0)
		if nullsFirst {
			valid = 1
		}
		invalid := 1 - valid
		for i := 0; i < addCount; i++ {
			idx := sel.GetIndex(i)
			srcIdx := vdata.Sel.GetIndex(idx)
			if mask.RowIsValid(uint64(srcIdx)) {
				//validity byte
				util.Store[byte](valid, keyLocs[i])
				enc.EncodeData(util.PointerAdd(keyLocs[i], 1), &srcSlice[srcIdx])
				//desc, invert value bits. the validity byte is kept so
				//the null order is independent of asc|desc
				if desc {
					for s := 1; s < enc.TypeSize()+1; s++ {
						util.InvertBits(keyLocs[i], s)
					}
				}
			} else {
				util.Store[byte](invalid, keyLocs[i])
				util.Memset(util.PointerAdd(keyLocs[i], 1), 0, enc.TypeSize())
			}
			keyLocs[i] = util.PointerAdd(keyLocs[i], 1+enc.TypeSize())
		}
	} else {
		for i := 0; i < addCount; i++ {
			idx := sel.GetIndex(i)
			srcIdx := vdata.Sel.GetIndex(idx)
			enc.EncodeData(keyLocs[i], &srcSlice[srcIdx])
			if desc {
				for s := 0; s < enc.TypeSize(); s++ {
					util.InvertBits(keyLocs[i], s)
				}
			}
			keyLocs[i] = util.PointerAdd(keyLocs[i], enc.TypeSize())
		}
	}
}

func serializeStringVectorSortable(
	vdata *chunk.UnifiedFormat,
	sel *chunk.SelectVector,
	addCount int,
	keyLocs []unsafe.Pointer,
	desc bool,
	hasNull bool,
	nullsFirst bool,
	prefixLen int,
) {
	srcSlice := chunk.GetSliceInPhyFormatUnifiedFormat[common.String](vdata)
	if hasNull {
		mask := vdata.Mask
		valid := byte(0)
		if nullsFirst {
			valid = 1
		}
		invalid := 1 - valid
		for i := 0; i < addCount; i++ {
			idx := sel.GetIndex(i)
			srcIdx := vdata.Sel.GetIndex(idx)
			if mask.RowIsValid(uint64(srcIdx)) {
				util.Store[byte](valid, keyLocs[i])
				encodeStringPrefix(
					util.PointerAdd(keyLocs[i], 1),
					&srcSlice[srcIdx],
					prefixLen)
				if desc {
					for s := 1; s < prefixLen+1; s++ {
						util.InvertBits(keyLocs[i], s)
					}
				}
			} else {
				util.Store[byte](invalid, keyLocs[i])
				util.Memset(util.PointerAdd(keyLocs[i], 1), 0, prefixLen)
			}
			keyLocs[i] = util.PointerAdd(keyLocs[i], prefixLen+1)
		}
	} else {
		for i := 0; i < addCount; i++ {
			idx := sel.GetIndex(i)
			srcIdx := vdata.Sel.GetIndex(idx)
			encodeStringPrefix(keyLocs[i], &srcSlice[srcIdx], prefixLen)
			if desc {
				for s := 0; s < prefixLen; s++ {
					util.InvertBits(keyLocs[i], s)
				}
			}
			keyLocs[i] = util.PointerAdd(keyLocs[i], prefixLen)
		}
	}
}

func encodeStringPrefix(
	dataPtr unsafe.Pointer,
	value *common.String,
	prefixLen int,
) {
	l := value.Length()
	util.PointerCopy(dataPtr, value.DataPtr(), min(l, prefixLen))
	if l < prefixLen {
		util.Memset(util.PointerAdd(dataPtr, l), 0, prefixLen-l)
	}
}

// ComputeStringEntrySizes adds the byte length of every valid varchar
// entry to entrySizes. The uint32 length written before the bytes is
// not added here; callers count it.
func ComputeStringEntrySizes(
	col *chunk.UnifiedFormat,
	entrySizes []int,
	sel *chunk.SelectVector,
	count int,
) {
	data := chunk.GetSliceInPhyFormatUnifiedFormat[common.String](col)
	for i := 0; i < count; i++ {
		idx := sel.GetIndex(i)
		colIdx := col.Sel.GetIndex(idx)
		if col.Mask.RowIsValid(uint64(colIdx)) {
			entrySizes[i] += data[colIdx].Length()
		}
	}
}

// ComputeChunkEntrySizes fills the per-row payload entry size:
// the fixed part (validity mask plus constant-width columns) plus
// every variable-width column's serialized size.
func ComputeChunkEntrySizes(
	colData []*chunk.UnifiedFormat,
	types []common.LType,
	entrySizes []int,
	count int,
	baseEntrySize int,
) {
	util.Fill(entrySizes, count, baseEntrySize)
	sel := chunk.IncrSelectVectorInPhyFormatFlat()
	for colNo, typ := range types {
		interTyp := typ.GetInternalType()
		if interTyp.IsConstant() {
			continue
		}
		switch interTyp {
		case common.VARCHAR:
			for i := 0; i < count; i++ {
				entrySizes[i] += common.Int32Size
			}
			ComputeStringEntrySizes(colData[colNo], entrySizes, sel, count)
		default:
			panic("usp")
		}
	}
}

func clearValidityBit(validityLoc unsafe.Pointer, colIdx int) {
	eIdx, pos := util.GetEntryIndex(uint64(colIdx))
	ptr := util.PointerAdd(validityLoc, int(eIdx))
	b := util.Load[byte](ptr)
	b &= ^(byte(1) << pos)
	util.Store[byte](b, ptr)
}

func validityBitIsSet(validityLoc unsafe.Pointer, colIdx int) bool {
	eIdx, pos := util.GetEntryIndex(uint64(colIdx))
	b := util.Load[byte](util.PointerAdd(validityLoc, int(eIdx)))
	return util.RowIsValidInEntry(b, pos)
}

// SerializeVector writes the full typed payload of one column into
// the payload rows. NULL rows clear their bit in the row's leading
// validity mask.
func SerializeVector(
	v *chunk.Vector,
	vcount int,
	sel *chunk.SelectVector,
	serCount int,
	colIdx int,
	keyLocs []unsafe.Pointer,
	validityLocs []unsafe.Pointer,
) {
	var vdata chunk.UnifiedFormat
	v.ToUnifiedFormat(vcount, &vdata)
	switch v.Typ().GetInternalType() {
	case common.BOOL:
		templatedSerialize[bool](&vdata, sel, serCount, colIdx, keyLocs, validityLocs)
	case common.INT32:
		templatedSerialize[int32](&vdata, sel, serCount, colIdx, keyLocs, validityLocs)
	case common.INT64:
		templatedSerialize[int64](&vdata, sel, serCount, colIdx, keyLocs, validityLocs)
	case common.DOUBLE:
		templatedSerialize[float64](&vdata, sel, serCount, colIdx, keyLocs, validityLocs)
	case common.DATE:
		templatedSerialize[common.Date](&vdata, sel, serCount, colIdx, keyLocs, validityLocs)
	case common.DECIMAL:
		templatedSerialize[common.Decimal](&vdata, sel, serCount, colIdx, keyLocs, validityLocs)
	case common.INT128:
		templatedSerialize[common.Hugeint](&vdata, sel, serCount, colIdx, keyLocs, validityLocs)
	case common.VARCHAR:
		serializeStringVector(&vdata, sel, serCount, colIdx, keyLocs, validityLocs)
	default:
		panic("usp")
	}
}

func templatedSerialize[T any](
	vdata *chunk.UnifiedFormat,
	sel *chunk.SelectVector,
	count int,
	colIdx int,
	keyLocs []unsafe.Pointer,
	validityLocs []unsafe.Pointer,
) {
	data := chunk.GetSliceInPhyFormatUnifiedFormat[T](vdata)
	var zero T
	sz := int(unsafe.Sizeof(zero))
	for i := 0; i < count; i++ {
		idx := sel.GetIndex(i)
		srcIdx := vdata.Sel.GetIndex(idx)
		if vdata.Mask.RowIsValid(uint64(srcIdx)) {
			util.Store[T](data[srcIdx], keyLocs[i])
		} else {
			util.Store[T](zero, keyLocs[i])
			if validityLocs != nil {
				clearValidityBit(validityLocs[i], colIdx)
			}
		}
		keyLocs[i] = util.PointerAdd(keyLocs[i], sz)
	}
}

func serializeStringVector(
	vdata *chunk.UnifiedFormat,
	sel *chunk.SelectVector,
	count int,
	colIdx int,
	keyLocs []unsafe.Pointer,
	validityLocs []unsafe.Pointer,
) {
	data := chunk.GetSliceInPhyFormatUnifiedFormat[common.String](vdata)
	for i := 0; i < count; i++ {
		idx := sel.GetIndex(i)
		srcIdx := vdata.Sel.GetIndex(idx)
		if vdata.Mask.RowIsValid(uint64(srcIdx)) {
			str := &data[srcIdx]
			util.Store[uint32](uint32(str.Length()), keyLocs[i])
			util.PointerCopy(
				util.PointerAdd(keyLocs[i], common.Int32Size),
				str.DataPtr(),
				str.Length())
			keyLocs[i] = util.PointerAdd(keyLocs[i], common.Int32Size+str.Length())
		} else {
			util.Store[uint32](0, keyLocs[i])
			if validityLocs != nil {
				clearValidityBit(validityLocs[i], colIdx)
			}
			keyLocs[i] = util.PointerAdd(keyLocs[i], common.Int32Size)
		}
	}
}

// DeserializeIntoVector is the inverse of SerializeVector. Strings
// reference the underlying row bytes and stay valid while the source
// block remains pinned.
func DeserializeIntoVector(
	v *chunk.Vector,
	count int,
	colIdx int,
	keyLocs []unsafe.Pointer,
	validityLocs []unsafe.Pointer,
) {
	switch v.Typ().GetInternalType() {
	case common.BOOL:
		templatedDeserialize[bool](v, count, colIdx, keyLocs, validityLocs)
	case common.INT32:
		templatedDeserialize[int32](v, count, colIdx, keyLocs, validityLocs)
	case common.INT64:
		templatedDeserialize[int64](v, count, colIdx, keyLocs, validityLocs)
	case common.DOUBLE:
		templatedDeserialize[float64](v, count, colIdx, keyLocs, validityLocs)
	case common.DATE:
		templatedDeserialize[common.Date](v, count, colIdx, keyLocs, validityLocs)
	case common.DECIMAL:
		templatedDeserialize[common.Decimal](v, count, colIdx, keyLocs, validityLocs)
	case common.INT128:
		templatedDeserialize[common.Hugeint](v, count, colIdx, keyLocs, validityLocs)
	case common.VARCHAR:
		deserializeStringVector(v, count, colIdx, keyLocs, validityLocs)
	default:
		panic("usp")
	}
}

func templatedDeserialize[T any](
	v *chunk.Vector,
	count int,
	colIdx int,
	keyLocs []unsafe.Pointer,
	validityLocs []unsafe.Pointer,
) {
	dataSlice := chunk.GetSliceInPhyFormatFlat[T](v)
	mask := chunk.GetMaskInPhyFormatFlat(v)
	var zero T
	sz := int(unsafe.Sizeof(zero))
	for i := 0; i < count; i++ {
		dataSlice[i] = util.Load[T](keyLocs[i])
		keyLocs[i] = util.PointerAdd(keyLocs[i], sz)
		if !validityBitIsSet(validityLocs[i], colIdx) {
			mask.SetInvalid(uint64(i))
		}
	}
}

func deserializeStringVector(
	v *chunk.Vector,
	count int,
	colIdx int,
	keyLocs []unsafe.Pointer,
	validityLocs []unsafe.Pointer,
) {
	dataSlice := chunk.GetSliceInPhyFormatFlat[common.String](v)
	mask := chunk.GetMaskInPhyFormatFlat(v)
	for i := 0; i < count; i++ {
		l := int(util.Load[uint32](keyLocs[i]))
		dataSlice[i] = common.String{
			Len:  l,
			Data: util.PointerAdd(keyLocs[i], common.Int32Size),
		}
		keyLocs[i] = util.PointerAdd(keyLocs[i], common.Int32Size+l)
		if !validityBitIsSet(validityLocs[i], colIdx) {
			mask.SetInvalid(uint64(i))
		}
	}
}
