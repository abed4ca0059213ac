package formula

import (
	"time"

	"github.com/race-platform/race-core/internal/tabular"
)

// zeroTime stamps literal constants, which carry no meaningful
// assignment time of their own.
var zeroTime time.Time

// expr is one node of a formula's AST. Every expr, once compiled,
// yields a single CellValue when evaluated.
type expr interface {
	isExpr()
}

// litExpr is a literal numeric or boolean constant.
type litExpr struct {
	value tabular.CellValue
}

// refExpr is an unresolved cell reference, e.g. `../r1` or
// `../c{1,2}::.`. columnRaw/rowRaw are the raw (unresolved) pattern
// halves; cells is filled in during compilation by pattern expansion
// against the node's declared columns/rows.
type refExpr struct {
	raw       string
	columnRaw string
	rowRaw    string
	cells     []CellRef
}

// callExpr is a function application `(Name arg …)`.
type callExpr struct {
	name string
	args []expr
	sig  *signature
}

func (*litExpr) isExpr()  {}
func (*refExpr) isExpr()  {}
func (*callExpr) isExpr() {}
