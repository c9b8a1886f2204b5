package common

import "unsafe"

var (
	b bool
	i int8
)

var (
	BoolSize    = int(unsafe.Sizeof(b))
	Int8Size    = int(unsafe.Sizeof(i))
	Int16Size   = Int8Size * 2
	Int32Size   = Int8Size * 4
	Int64Size   = Int8Size * 8
	Int128Size  = int(unsafe.Sizeof(Hugeint{}))
	DateSize    = int(unsafe.Sizeof(Date{}))
	VarcharSize = int(unsafe.Sizeof(String{}))
	PointerSize = int(unsafe.Sizeof(unsafe.Pointer(&b)))
	DecimalSize = int(unsafe.Sizeof(Decimal{}))
	Float32Size = Int32Size
)
