package compute

import (
	"errors"
)

type OrderType int

const (
	OT_INVALID OrderType = iota
	OT_DEFAULT
	OT_ASC
	OT_DESC
)

type OrderByNullType int

const (
	OBNT_INVALID OrderByNullType = iota
	OBNT_DEFAULT
	OBNT_NULLS_FIRST
	OBNT_NULLS_LAST
)

const (
	VALUES_PER_RADIX = 256

	//row index stored behind the comparison region of every key row
	ROW_INDEX_WIDTH = 8

	//bytes of sorting data accumulated before a local sort runs
	SORTING_BLOCK_SIZE = 1 << 20

	//string prefix bytes kept in the memcmp-able key
	PREFIX_LENGTH = 12
)

var (
	ErrNotImplemented = errors.New("not implemented")
	ErrCountMismatch  = errors.New("sorting and payload counts disagree")
)
