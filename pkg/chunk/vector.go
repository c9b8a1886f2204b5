package chunk

import (
	"github.com/govalues/decimal"

	"github.com/vexdb/vexsort/pkg/common"
	"github.com/vexdb/vexsort/pkg/util"
)

type Vector struct {
	_PhyFormat PhyFormat
	_Typ       common.LType
	Data       []byte
	Mask       *util.Bitmap
	Buf        *VecBuffer
}

func NewVector(lTyp common.LType, initData bool, cap int) *Vector {
	vec := &Vector{
		_PhyFormat: PF_FLAT,
		_Typ:       lTyp,
		Mask:       &util.Bitmap{},
	}
	if initData {
		vec.Init(cap)
	}
	return vec
}

func NewFlatVector(lTyp common.LType, cap int) *Vector {
	return NewVector(lTyp, true, cap)
}

func (vec *Vector) Init(cap int) {
	vec.Mask.Reset()
	sz := vec.Typ().GetInternalType().Size()
	if sz > 0 {
		vec.Buf = NewStandardBuffer(vec.Typ(), cap)
		vec.Data = vec.Buf.Data
	}
	if cap > util.DefaultVectorSize {
		vec.Mask.Resize(util.DefaultVectorSize, cap)
	}
}

func (vec *Vector) Typ() common.LType {
	return vec._Typ
}

func (vec *Vector) PhyFormat() PhyFormat {
	return vec._PhyFormat
}

func (vec *Vector) SetPhyFormat(pf PhyFormat) {
	vec._PhyFormat = pf
}

func (vec *Vector) Reset() {
	vec._PhyFormat = PF_FLAT
	vec.Mask.Reset()
}

func (vec *Vector) Reference(other *Vector) {
	util.AssertFunc(vec.Typ().Equal(other.Typ()))
	vec._PhyFormat = other._PhyFormat
	vec.Buf = other.Buf
	vec.Data = other.Data
	vec.Mask = other.Mask
}

func (vec *Vector) ToUnifiedFormat(count int, output *UnifiedFormat) {
	output.PTypSize = vec._Typ.GetInternalType().Size()
	switch vec.PhyFormat() {
	case PF_CONST:
		output.Sel = &output.InterSel
		output.Sel.Init(count)
		output.Data = GetDataInPhyFormatConst(vec)
		output.Mask = vec.Mask
	case PF_FLAT:
		output.Sel = IncrSelectVectorInPhyFormatFlat()
		output.Data = GetDataInPhyFormatFlat(vec)
		output.Mask = GetMaskInPhyFormatFlat(vec)
	default:
		panic("usp")
	}
}

func GetDataInPhyFormatFlat(vec *Vector) []byte {
	util.AssertFunc(vec.PhyFormat().IsFlat())
	return vec.Data
}

func GetDataInPhyFormatConst(vec *Vector) []byte {
	util.AssertFunc(vec.PhyFormat().IsConst())
	return vec.Data
}

func GetSliceInPhyFormatFlat[T any](vec *Vector) []T {
	data := GetDataInPhyFormatFlat(vec)
	return util.ToSlice[T](data, vec.Typ().GetInternalType().Size())
}

func GetMaskInPhyFormatFlat(vec *Vector) *util.Bitmap {
	util.AssertFunc(vec.PhyFormat().IsFlat())
	return vec.Mask
}

func (vec *Vector) SetValue(idx int, val *Value) {
	util.AssertFunc(val.Typ.GetInternalType() == vec.Typ().GetInternalType())
	vec.Mask.Set(uint64(idx), !val.IsNull)
	pTyp := vec.Typ().GetInternalType()
	switch pTyp {
	case common.BOOL:
		slice := util.ToSlice[bool](vec.Data, pTyp.Size())
		slice[idx] = val.Bool
	case common.INT32:
		slice := util.ToSlice[int32](vec.Data, pTyp.Size())
		slice[idx] = int32(val.I64)
	case common.INT64:
		slice := util.ToSlice[int64](vec.Data, pTyp.Size())
		slice[idx] = val.I64
	case common.DOUBLE:
		slice := util.ToSlice[float64](vec.Data, pTyp.Size())
		slice[idx] = val.F64
	case common.VARCHAR:
		slice := util.ToSlice[common.String](vec.Data, pTyp.Size())
		byteSlice := []byte(val.Str)
		dstMem := util.CMalloc(len(byteSlice))
		dst := util.PointerToSlice[byte](dstMem, len(byteSlice))
		copy(dst, byteSlice)
		slice[idx] = common.String{
			Data: dstMem,
			Len:  len(dst),
		}
	case common.DATE:
		slice := util.ToSlice[common.Date](vec.Data, pTyp.Size())
		slice[idx] = common.Date{
			Year:  int32(val.I64),
			Month: int32(val.I64_1),
			Day:   int32(val.I64_2),
		}
	case common.DECIMAL:
		slice := util.ToSlice[common.Decimal](vec.Data, pTyp.Size())
		decVal, err := decimal.ParseExact(val.Str, vec.Typ().Scale)
		if err != nil {
			panic(err)
		}
		slice[idx] = common.Decimal{Decimal: decVal}
	case common.INT128:
		slice := util.ToSlice[common.Hugeint](vec.Data, pTyp.Size())
		slice[idx].Upper = val.I64
		slice[idx].Lower = uint64(val.I64_1)
	default:
		panic("usp")
	}
}

func (vec *Vector) GetValue(idx int) *Value {
	switch vec.PhyFormat() {
	case PF_CONST:
		idx = 0
	case PF_FLAT:
	default:
		panic("usp")
	}
	if !vec.Mask.RowIsValid(uint64(idx)) {
		return &Value{
			Typ:    vec.Typ(),
			IsNull: true,
		}
	}
	pTyp := vec.Typ().GetInternalType()
	switch pTyp {
	case common.BOOL:
		data := util.ToSlice[bool](vec.Data, pTyp.Size())
		return &Value{Typ: vec.Typ(), Bool: data[idx]}
	case common.INT32:
		data := util.ToSlice[int32](vec.Data, pTyp.Size())
		return &Value{Typ: vec.Typ(), I64: int64(data[idx])}
	case common.INT64:
		data := util.ToSlice[int64](vec.Data, pTyp.Size())
		return &Value{Typ: vec.Typ(), I64: data[idx]}
	case common.DOUBLE:
		data := util.ToSlice[float64](vec.Data, pTyp.Size())
		return &Value{Typ: vec.Typ(), F64: data[idx]}
	case common.VARCHAR:
		data := util.ToSlice[common.String](vec.Data, pTyp.Size())
		return &Value{Typ: vec.Typ(), Str: data[idx].String()}
	case common.DATE:
		data := util.ToSlice[common.Date](vec.Data, pTyp.Size())
		return &Value{
			Typ:   vec.Typ(),
			I64:   int64(data[idx].Year),
			I64_1: int64(data[idx].Month),
			I64_2: int64(data[idx].Day),
		}
	case common.DECIMAL:
		data := util.ToSlice[common.Decimal](vec.Data, pTyp.Size())
		return &Value{Typ: vec.Typ(), Str: data[idx].String()}
	case common.INT128:
		data := util.ToSlice[common.Hugeint](vec.Data, pTyp.Size())
		return &Value{
			Typ:   vec.Typ(),
			I64:   data[idx].Upper,
			I64_1: int64(data[idx].Lower),
		}
	default:
		panic("usp")
	}
}

func (vec *Vector) SetNull(idx int, null bool) {
	vec.Mask.Set(uint64(idx), !null)
}

func (vec *Vector) IsNull(idx int) bool {
	return !vec.Mask.RowIsValid(uint64(idx))
}
