// Package formula implements spec.md §4.F/§4.G's formula compiler and
// evaluator: an S-expression language over glob cell references,
// compiled in three passes into a typed, dependency-tracked
// CompiledFormula, with node-wide topological ordering and cycle
// detection for change propagation. The pattern-expansion half reuses
// internal/racepath; the compiled-program/typed-environment shape
// follows github.com/expr-lang/expr's vm.Program idiom, as used by
// the teacher in internal/tagger/classifyJob.go, generalized from a
// boolean rule language to a small typed expression language over
// CellValue.
package formula

import "fmt"

// CellRef identifies a single concrete cell: a (column id, row id)
// pair after pattern expansion.
type CellRef struct {
	Column string
	Row    string
}

func (r CellRef) String() string { return fmt.Sprintf("%s::%s", r.Column, r.Row) }

// key returns a value suitable for use as both a map key and a graph
// vertex id.
func (r CellRef) key() string { return r.Column + "::" + r.Row }

func cellRefFromKey(k string) CellRef {
	for i := 0; i+1 < len(k); i++ {
		if k[i] == ':' && k[i+1] == ':' {
			return CellRef{Column: k[:i], Row: k[i+2:]}
		}
	}
	return CellRef{Row: k}
}
