package common

import (
	"fmt"
)

type LTypeId int

const (
	LTID_INVALID LTypeId = iota
	LTID_NULL
	LTID_BOOLEAN
	LTID_INTEGER
	LTID_BIGINT
	LTID_HUGEINT
	LTID_DOUBLE
	LTID_DECIMAL
	LTID_VARCHAR
	LTID_DATE
	LTID_POINTER
)

var lTypeIdToStr = map[LTypeId]string{
	LTID_INVALID: "INVALID",
	LTID_NULL:    "NULL",
	LTID_BOOLEAN: "BOOLEAN",
	LTID_INTEGER: "INTEGER",
	LTID_BIGINT:  "BIGINT",
	LTID_HUGEINT: "HUGEINT",
	LTID_DOUBLE:  "DOUBLE",
	LTID_DECIMAL: "DECIMAL",
	LTID_VARCHAR: "VARCHAR",
	LTID_DATE:    "DATE",
	LTID_POINTER: "POINTER",
}

type LType struct {
	Id    LTypeId
	PTyp  PhyType
	Width int
	Scale int
}

func MakeLType(id LTypeId) LType {
	ret := LType{Id: id}
	ret.PTyp = ret.GetInternalType()
	return ret
}

func IntegerType() LType {
	return MakeLType(LTID_INTEGER)
}

func BigintType() LType {
	return MakeLType(LTID_BIGINT)
}

func HugeintType() LType {
	return MakeLType(LTID_HUGEINT)
}

func DoubleType() LType {
	return MakeLType(LTID_DOUBLE)
}

func DecimalType(width, scale int) LType {
	ret := MakeLType(LTID_DECIMAL)
	ret.Width = width
	ret.Scale = scale
	return ret
}

func VarcharType() LType {
	return MakeLType(LTID_VARCHAR)
}

func DateType() LType {
	return MakeLType(LTID_DATE)
}

func BooleanType() LType {
	return MakeLType(LTID_BOOLEAN)
}

func PointerType() LType {
	return MakeLType(LTID_POINTER)
}

func CopyLTypes(typs ...LType) []LType {
	ret := make([]LType, len(typs))
	copy(ret, typs)
	return ret
}

func (lt LType) Equal(o LType) bool {
	if lt.Id != o.Id {
		return false
	}
	switch lt.Id {
	case LTID_DECIMAL:
		return lt.Width == o.Width && lt.Scale == o.Scale
	default:
	}
	return true
}

func (lt LType) String() string {
	if s, has := lTypeIdToStr[lt.Id]; has {
		return s
	}
	panic(fmt.Sprintf("usp logical type %d", lt.Id))
}

func (lt LType) GetInternalType() PhyType {
	switch lt.Id {
	case LTID_BOOLEAN:
		return BOOL
	case LTID_NULL, LTID_INTEGER:
		return INT32
	case LTID_BIGINT:
		return INT64
	case LTID_HUGEINT:
		return INT128
	case LTID_DOUBLE:
		return DOUBLE
	case LTID_DECIMAL:
		return DECIMAL
	case LTID_VARCHAR:
		return VARCHAR
	case LTID_DATE:
		return DATE
	case LTID_POINTER:
		return UINT64
	case LTID_INVALID:
		return INVALID
	default:
		panic(fmt.Sprintf("usp logical type %d", lt.Id))
	}
}
