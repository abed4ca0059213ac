package formula

import (
	"fmt"

	"github.com/race-platform/race-core/internal/tabular"
)

// signature describes one function's compile-time contract: the kind
// every (flattened) argument must carry, how many arguments it takes,
// its result kind, and the evaluator that produces a result from
// already-evaluated argument values. Arity/kind mismatches are
// FormulaCompileErrors, not runtime errors, per spec.md §4.G.
type signature struct {
	name       string
	argKinds   []tabular.CellKind
	minArity   int
	variadic   bool
	resultKind tabular.CellKind
	eval       func(args []tabular.CellValue, ctx EvalContext, self CellRef) (tabular.CellValue, error)
}

// checkArity reports whether n flattened arguments satisfy the
// signature's arity contract.
func (s *signature) checkArity(n int) bool {
	if s.variadic {
		return n >= s.minArity
	}
	return n == s.minArity
}

// acceptsKind reports whether k is one of the signature's allowed
// argument kinds, e.g. RealSum accepts both Integer and Real cells,
// widening Integer via CellValue.AsFloat64.
func (s *signature) acceptsKind(k tabular.CellKind) bool {
	for _, ak := range s.argKinds {
		if ak == k {
			return true
		}
	}
	return false
}

var builtins = map[string]*signature{}

func register(s *signature) { builtins[s.name] = s }

func init() {
	register(&signature{
		name:       "RealSum",
		argKinds:   []tabular.CellKind{tabular.KindInteger, tabular.KindReal},
		minArity:   1,
		variadic:   true,
		resultKind: tabular.KindReal,
		eval: func(args []tabular.CellValue, ctx EvalContext, self CellRef) (tabular.CellValue, error) {
			var sum float64
			for _, a := range args {
				f, err := a.AsFloat64()
				if err != nil {
					return tabular.Absent, err
				}
				sum += f
			}
			return tabular.NewReal(sum, ctx.ChangeTime()), nil
		},
	})

	register(&signature{
		name:       "IntSum",
		argKinds:   []tabular.CellKind{tabular.KindInteger},
		minArity:   1,
		variadic:   true,
		resultKind: tabular.KindInteger,
		eval: func(args []tabular.CellValue, ctx EvalContext, self CellRef) (tabular.CellValue, error) {
			var sum int64
			for _, a := range args {
				sum += a.Int
			}
			return tabular.NewInteger(sum, ctx.ChangeTime()), nil
		},
	})

	register(&signature{
		name:       "IntAvgReal",
		argKinds:   []tabular.CellKind{tabular.KindInteger},
		minArity:   1,
		variadic:   true,
		resultKind: tabular.KindReal,
		eval: func(args []tabular.CellValue, ctx EvalContext, self CellRef) (tabular.CellValue, error) {
			var sum int64
			for _, a := range args {
				sum += a.Int
			}
			avg := float64(sum) / float64(len(args))
			return tabular.NewReal(avg, ctx.ChangeTime()), nil
		},
	})

	register(&signature{
		name:       "BoolAnd",
		argKinds:   []tabular.CellKind{tabular.KindBoolean},
		minArity:   1,
		variadic:   true,
		resultKind: tabular.KindBoolean,
		eval: func(args []tabular.CellValue, ctx EvalContext, self CellRef) (tabular.CellValue, error) {
			for _, a := range args {
				if !a.Bool {
					return tabular.NewBoolean(false, ctx.ChangeTime()), nil
				}
			}
			return tabular.NewBoolean(true, ctx.ChangeTime()), nil
		},
	})

	register(&signature{
		name:       "BoolOr",
		argKinds:   []tabular.CellKind{tabular.KindBoolean},
		minArity:   1,
		variadic:   true,
		resultKind: tabular.KindBoolean,
		eval: func(args []tabular.CellValue, ctx EvalContext, self CellRef) (tabular.CellValue, error) {
			for _, a := range args {
				if a.Bool {
					return tabular.NewBoolean(true, ctx.ChangeTime()), nil
				}
			}
			return tabular.NewBoolean(false, ctx.ChangeTime()), nil
		},
	})

	// Acc is the accumulator: it reads its own cell's previous value
	// and adds a single real delta. It is the one function in the
	// library that is not side-effect-free in the sense of spec.md
	// §4.G: its result depends on history, not just the current
	// snapshot of other cells.
	register(&signature{
		name:       "Acc",
		argKinds:   []tabular.CellKind{tabular.KindReal},
		minArity:   1,
		variadic:   false,
		resultKind: tabular.KindReal,
		eval: func(args []tabular.CellValue, ctx EvalContext, self CellRef) (tabular.CellValue, error) {
			delta, err := args[0].AsFloat64()
			if err != nil {
				return tabular.Absent, err
			}
			prev, ok := ctx.Previous(self.Column, self.Row)
			base := 0.0
			if ok {
				f, err := prev.AsFloat64()
				if err != nil {
					return tabular.Absent, err
				}
				base = f
			}
			return tabular.NewReal(base+delta, ctx.ChangeTime()), nil
		},
	})
}

func lookupFunc(name string) (*signature, error) {
	sig, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("formula: unknown function %q", name)
	}
	return sig, nil
}
