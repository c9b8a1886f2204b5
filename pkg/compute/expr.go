package compute

import (
	"fmt"

	"github.com/vexdb/vexsort/pkg/chunk"
	"github.com/vexdb/vexsort/pkg/common"
)

// Expr is a bound column reference. Order keys are evaluated against
// the input batch before they are encoded.
type Expr struct {
	ColIdx  int
	DataTyp common.LType
}

func NewColumnRef(colIdx int, typ common.LType) *Expr {
	return &Expr{
		ColIdx:  colIdx,
		DataTyp: typ,
	}
}

type OrderByNode struct {
	Child      *Expr
	Desc       bool
	NullsFirst bool
}

type ExprExec struct {
	_exprs []*Expr
}

func NewExprExec(exprs ...*Expr) *ExprExec {
	return &ExprExec{
		_exprs: exprs,
	}
}

func (exec *ExprExec) ExecuteExprs(input *chunk.Chunk, output *chunk.Chunk) error {
	if output.ColumnCount() != len(exec._exprs) {
		return fmt.Errorf("expect %d output columns, got %d",
			len(exec._exprs), output.ColumnCount())
	}
	for i, expr := range exec._exprs {
		if expr.ColIdx >= input.ColumnCount() {
			return fmt.Errorf("column %d out of range %d",
				expr.ColIdx, input.ColumnCount())
		}
		output.Data[i].Reference(input.Data[expr.ColIdx])
	}
	output.SetCap(input.Cap())
	output.SetCard(input.Card())
	return nil
}
