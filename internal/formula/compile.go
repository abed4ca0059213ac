package formula

import (
	"fmt"
	"path"
	"strings"

	"github.com/race-platform/race-core/internal/racepath"
	"github.com/race-platform/race-core/internal/tabular"
)

// CompileError is spec.md §7's FormulaCompileError: unknown function,
// arity mismatch, type mismatch, or an unresolvable reference. It is
// fatal for the one formula it names, never for the rest of the node.
type CompileError struct {
	Column string
	Row    string
	Err    error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("formula: compile %s::%s: %v", e.Column, e.Row, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// CompiledFormula is spec.md §3's CompiledFormula: an AST together
// with its post-expansion dependency set and result kind.
type CompiledFormula struct {
	Text       string
	Column     string
	Row        string
	ResultKind tabular.CellKind
	Deps       []CellRef
	root       expr
}

// declaredColumn/declaredRow abstract the node lookups Compile needs,
// so tests can compile formulas against a bare ColumnList/RowList
// without constructing a full Node.
type declaredColumn interface {
	IDs() []string
}

type declaredRow interface {
	IDs() []string
	Find(id string) (tabular.Row, bool)
}

// Compile runs all three of spec.md §4.G's compilation passes over
// text, the formula attached to column::row: lex/parse into an AST
// with unresolved references, resolve those references against
// columns/rows into concrete dependency cells, then typecheck the
// whole tree against the function library. The row a formula is
// attached to only needs to exist; its declared kind constrains
// literal data entered for that row, not what a formula may compute
// into it (spec.md's S5 scenario computes a Real average into an
// Integer-declared row).
func Compile(text, column, row string, columns declaredColumn, rows declaredRow) (*CompiledFormula, error) {
	root, err := parse(text)
	if err != nil {
		return nil, &CompileError{Column: column, Row: row, Err: err}
	}
	if err := resolveRefs(root, column, row, columns, rows); err != nil {
		return nil, &CompileError{Column: column, Row: row, Err: err}
	}
	resultKind, err := typecheck(root, rows)
	if err != nil {
		return nil, &CompileError{Column: column, Row: row, Err: err}
	}
	if _, ok := rows.Find(row); !ok {
		return nil, &CompileError{Column: column, Row: row, Err: fmt.Errorf("row %q not declared", row)}
	}
	return &CompiledFormula{
		Text:       text,
		Column:     column,
		Row:        row,
		ResultKind: resultKind,
		Deps:       dedupRefs(collectRefs(root)),
		root:       root,
	}, nil
}

// resolveRefs walks the AST resolving every refExpr's raw column/row
// pattern halves into a concrete set of CellRefs, expanding glob
// patterns against the declared column and row universes.
func resolveRefs(e expr, column, row string, columns declaredColumn, rows declaredRow) error {
	switch n := e.(type) {
	case *litExpr:
		return nil
	case *refExpr:
		colPat := resolvePatternText(column, n.columnRaw)
		rowPat := resolvePatternText(row, n.rowRaw)
		colPattern, err := racepath.Compile(colPat)
		if err != nil {
			return fmt.Errorf("reference %q: %w", n.raw, err)
		}
		rowPattern, err := racepath.Compile(rowPat)
		if err != nil {
			return fmt.Errorf("reference %q: %w", n.raw, err)
		}
		matchedCols := colPattern.Expand(columns.IDs())
		matchedRows := rowPattern.Expand(rows.IDs())
		if len(matchedCols) == 0 || len(matchedRows) == 0 {
			return fmt.Errorf("reference %q resolves to no declared cells", n.raw)
		}
		n.cells = make([]CellRef, 0, len(matchedCols)*len(matchedRows))
		for _, c := range matchedCols {
			for _, r := range matchedRows {
				n.cells = append(n.cells, CellRef{Column: c, Row: r})
			}
		}
		return nil
	case *callExpr:
		for _, a := range n.args {
			if err := resolveRefs(a, column, row, columns, rows); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("formula: unknown expr type %T", e)
	}
}

// resolvePatternText resolves a single "." or relative ("../x") raw
// reference half against currentID, treating ids as rooted UNIX-style
// paths per spec.md §3. "." means currentID itself, exactly.
func resolvePatternText(currentID, raw string) string {
	if raw == "." {
		return currentID
	}
	base := path.Dir("/" + strings.TrimPrefix(currentID, "/"))
	joined := path.Clean(path.Join(base, raw))
	return strings.TrimPrefix(joined, "/")
}

func collectRefs(e expr) []CellRef {
	switch n := e.(type) {
	case *refExpr:
		return append([]CellRef(nil), n.cells...)
	case *callExpr:
		var out []CellRef
		for _, a := range n.args {
			out = append(out, collectRefs(a)...)
		}
		return out
	default:
		return nil
	}
}

func dedupRefs(refs []CellRef) []CellRef {
	seen := make(map[CellRef]bool, len(refs))
	out := make([]CellRef, 0, len(refs))
	for _, r := range refs {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

// typecheck resolves each callExpr's signature and validates arity
// and argument kinds, flattening multi-cell references into their
// expanded cell count first and checking each referenced cell's
// declared row kind against the calling function's expected argument
// kind. It returns the root expression's result kind.
func typecheck(e expr, rows declaredRow) (tabular.CellKind, error) {
	switch n := e.(type) {
	case *litExpr:
		return n.value.Kind, nil
	case *refExpr:
		// A bare reference as the whole formula body has no function
		// to fix its kind, so it is rejected. References are accepted
		// only as call arguments, where the callExpr case below checks
		// each referenced row's declared kind.
		return 0, fmt.Errorf("bare reference %q is not a valid formula body", n.raw)
	case *callExpr:
		sig, err := lookupFunc(n.name)
		if err != nil {
			return 0, err
		}
		n.sig = sig
		flat := 0
		for _, a := range n.args {
			switch arg := a.(type) {
			case *refExpr:
				for _, cell := range arg.cells {
					row, ok := rows.Find(cell.Row)
					if !ok {
						return 0, fmt.Errorf("reference %q: row %q not declared", arg.raw, cell.Row)
					}
					if !sig.acceptsKind(row.Kind) {
						return 0, fmt.Errorf("function %s: reference %q cell %s has kind %s, not accepted", sig.name, arg.raw, cell, row.Kind)
					}
					flat++
				}
			default:
				k, err := typecheck(a, rows)
				if err != nil {
					return 0, err
				}
				if !sig.acceptsKind(k) {
					return 0, fmt.Errorf("function %s: argument kind %s not accepted", sig.name, k)
				}
				flat++
			}
		}
		if !sig.checkArity(flat) {
			return 0, fmt.Errorf("function %s: arity mismatch (got %d arguments)", sig.name, flat)
		}
		return sig.resultKind, nil
	default:
		return 0, fmt.Errorf("formula: unknown expr type %T", e)
	}
}
