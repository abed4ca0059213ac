// Package constraint implements spec.md §4.G's constraint model: a
// named predicate over a cell subset, whose satisfied/violated
// transitions are tracked across update-engine passes. Predicates are
// expr-lang boolean expressions evaluated once per matched cell,
// exactly the way internal/tagger/classifyJob.go compiles and runs
// job-classification rules with github.com/expr-lang/expr, generalized
// from a per-job environment to a per-cell one.
package constraint

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/race-platform/race-core/internal/formula"
	"github.com/race-platform/race-core/internal/racepath"
	"github.com/race-platform/race-core/internal/tabular"
)

// ParseSpecs decodes a constraint-list definition file: a bare JSON
// array of Spec, mirroring spec.md §6's other definition-file shapes
// (column-list, row-list, formula-list all decode straight into their
// Go types with no enclosing envelope beyond the declared id/info/date
// those carry; a constraint list carries none of those, only specs).
func ParseSpecs(raw []byte) ([]Spec, error) {
	var specs []Spec
	if err := json.Unmarshal(raw, &specs); err != nil {
		return nil, fmt.Errorf("constraint: parse constraint list: %w", err)
	}
	return specs, nil
}

// Spec is one constraint declaration: an id, the `column::row` glob
// pattern naming the cell subset it governs, and a boolean expression
// evaluated once per matched cell against that cell's value and its
// row's declared bounds.
type Spec struct {
	ID        string `json:"id"`
	Cells     string `json:"cells"`
	Predicate string `json:"predicate"`
}

type compiledSpec struct {
	spec    Spec
	column  racepath.Pattern
	row     racepath.Pattern
	program *vm.Program
}

// State is the materialized satisfied/violated record for one
// registered constraint, per spec.md §4.G: "on transition from
// satisfied <-> violated it records the current set of offending
// cells."
type State struct {
	ID          string
	Satisfied   bool
	Offending   []formula.CellRef
	LastChanged time.Time
}

// Change is emitted whenever a constraint transitions between
// satisfied and violated (or its offending-cell set changes while
// remaining violated).
type Change struct {
	ID        string
	Satisfied bool
	Offending []formula.CellRef
	At        time.Time
}

// Registry holds every compiled constraint for one node and its
// current satisfied/violated state, keyed by constraint id, per
// spec.md §4.G: "The engine keeps a map from constraint id to its
// current state."
type Registry struct {
	specs []*compiledSpec
	state map[string]*State
}

// Compile parses each spec's cell pattern and predicate, failing
// closed on the first bad constraint (a malformed constraint is a
// configuration error, not a per-cell runtime condition).
func Compile(specs []Spec) (*Registry, error) {
	r := &Registry{state: make(map[string]*State, len(specs))}
	for _, s := range specs {
		colRaw, rowRaw, err := splitCellPattern(s.Cells)
		if err != nil {
			return nil, fmt.Errorf("constraint %q: %w", s.ID, err)
		}
		colPat, err := racepath.Compile(colRaw)
		if err != nil {
			return nil, fmt.Errorf("constraint %q: column pattern: %w", s.ID, err)
		}
		rowPat, err := racepath.Compile(rowRaw)
		if err != nil {
			return nil, fmt.Errorf("constraint %q: row pattern: %w", s.ID, err)
		}
		program, err := expr.Compile(s.Predicate, expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("constraint %q: predicate: %w", s.ID, err)
		}
		r.specs = append(r.specs, &compiledSpec{spec: s, column: colPat, row: rowPat, program: program})
		r.state[s.ID] = &State{ID: s.ID, Satisfied: true}
	}
	return r, nil
}

func splitCellPattern(raw string) (column, row string, err error) {
	for i := 0; i+1 < len(raw); i++ {
		if raw[i] == ':' && raw[i+1] == ':' {
			return raw[:i], raw[i+2:], nil
		}
	}
	return "", "", fmt.Errorf("cell pattern %q: expected \"column::row\"", raw)
}

// Evaluate re-checks every registered constraint against node's
// current data at time now, per spec.md §4.G step 6 ("Check
// constraints... If new constraint violations arose or existing ones
// cleared, emit a corresponding ConstraintChange event."). It returns
// one Change per constraint whose satisfied/offending state differs
// from its previously recorded State.
func (r *Registry) Evaluate(node *tabular.Node, now time.Time) []Change {
	var changes []Change
	for _, cs := range r.specs {
		offending := r.offendingCells(cs, node)
		satisfied := len(offending) == 0
		prev := r.state[cs.spec.ID]
		if satisfied == prev.Satisfied && sameCells(offending, prev.Offending) {
			continue
		}
		next := &State{ID: cs.spec.ID, Satisfied: satisfied, Offending: offending, LastChanged: now}
		r.state[cs.spec.ID] = next
		changes = append(changes, Change{ID: cs.spec.ID, Satisfied: satisfied, Offending: offending, At: now})
	}
	return changes
}

func (r *Registry) offendingCells(cs *compiledSpec, node *tabular.Node) []formula.CellRef {
	var offending []formula.CellRef
	for _, colID := range node.Columns.IDs() {
		if !cs.column.Match(colID) {
			continue
		}
		for _, rowID := range node.Rows.IDs() {
			if !cs.row.Match(rowID) {
				continue
			}
			v, ok := node.Cell(colID, rowID)
			if !ok {
				continue
			}
			row, _ := node.Rows.Find(rowID)
			env := cellEnv(v, row)
			result, err := expr.Run(cs.program, env)
			if err != nil {
				cclog.Errorf("constraint %s: evaluate %s::%s: %v", cs.spec.ID, colID, rowID, err)
				continue
			}
			if !result.(bool) {
				offending = append(offending, formula.CellRef{Column: colID, Row: rowID})
			}
		}
	}
	return offending
}

func cellEnv(v tabular.CellValue, row tabular.Row) map[string]any {
	env := map[string]any{"present": v.Present}
	switch v.Kind {
	case tabular.KindInteger:
		env["value"] = v.Int
	case tabular.KindReal:
		env["value"] = v.Real
	case tabular.KindBoolean:
		env["value"] = v.Bool
	case tabular.KindIntegerList:
		env["value"] = v.IntList
	}
	if row.Min != nil {
		env["min"] = *row.Min
	} else {
		env["min"] = nil
	}
	if row.Max != nil {
		env["max"] = *row.Max
	} else {
		env["max"] = nil
	}
	return env
}

// State returns a snapshot of one constraint's current state.
func (r *Registry) State(id string) (State, bool) {
	s, ok := r.state[id]
	if !ok {
		return State{}, false
	}
	return *s, true
}

// All returns every registered constraint's current state.
func (r *Registry) All() []State {
	out := make([]State, 0, len(r.state))
	for _, cs := range r.specs {
		out = append(out, *r.state[cs.spec.ID])
	}
	return out
}

func sameCells(a, b []formula.CellRef) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[formula.CellRef]bool, len(a))
	for _, c := range a {
		seen[c] = true
	}
	for _, c := range b {
		if !seen[c] {
			return false
		}
	}
	return true
}
