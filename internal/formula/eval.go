package formula

import (
	"time"

	"github.com/race-platform/race-core/internal/tabular"
)

// EvalContext is spec.md §4.G's EvalContext: it exposes cell values
// by (column id, row id) and the current change date to a compiled
// formula during evaluation. Previous exposes a cell's value from
// before the current change, for accumulator-style functions.
type EvalContext interface {
	Cell(column, row string) (tabular.CellValue, bool)
	Previous(column, row string) (tabular.CellValue, bool)
	ChangeTime() time.Time
}

// Eval evaluates the compiled formula against ctx. Per spec.md
// §4.G, a formula returns an absent value if any dependency is
// missing; this is not an error, it simply leaves the target cell
// un-computed for this pass.
func (cf *CompiledFormula) Eval(ctx EvalContext) (tabular.CellValue, error) {
	v, ok, err := evalExpr(cf.root, ctx, CellRef{Column: cf.Column, Row: cf.Row})
	if err != nil {
		return tabular.Absent, err
	}
	if !ok {
		return tabular.Absent, nil
	}
	return v, nil
}

// evalExpr evaluates e, returning ok=false (not an error) when a
// referenced cell is missing.
func evalExpr(e expr, ctx EvalContext, self CellRef) (tabular.CellValue, bool, error) {
	switch n := e.(type) {
	case *litExpr:
		return n.value, true, nil
	case *refExpr:
		if len(n.cells) != 1 {
			// Multi-cell references are only valid directly inside a
			// variadic call's argument list, where evalCall expands
			// them itself; reaching here means a reference was used
			// where a single value was required.
			return tabular.Absent, false, nil
		}
		cell := n.cells[0]
		v, ok := ctx.Cell(cell.Column, cell.Row)
		return v, ok, nil
	case *callExpr:
		return evalCall(n, ctx, self)
	default:
		return tabular.Absent, false, nil
	}
}

func evalCall(n *callExpr, ctx EvalContext, self CellRef) (tabular.CellValue, bool, error) {
	var flat []tabular.CellValue
	for _, a := range n.args {
		if ref, isRef := a.(*refExpr); isRef {
			for _, cell := range ref.cells {
				v, ok := ctx.Cell(cell.Column, cell.Row)
				if !ok {
					return tabular.Absent, false, nil
				}
				flat = append(flat, v)
			}
			continue
		}
		v, ok, err := evalExpr(a, ctx, self)
		if err != nil {
			return tabular.Absent, false, err
		}
		if !ok {
			return tabular.Absent, false, nil
		}
		flat = append(flat, v)
	}
	v, err := n.sig.eval(flat, ctx, self)
	if err != nil {
		return tabular.Absent, false, err
	}
	return v, true, nil
}
