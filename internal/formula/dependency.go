package formula

import (
	"errors"
	"fmt"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/katalvlaran/lvlath/core"
	"github.com/katalvlaran/lvlath/dfs"

	"github.com/race-platform/race-core/internal/tabular"
)

// CompiledSet is every successfully compiled formula of one node,
// together with a topological evaluation order over the dependency
// graph (dependency before dependent). Cells whose formula failed to
// compile are absent from ByCell and are simply never computed,
// per spec.md §7's FormulaCompileError contract.
type CompiledSet struct {
	ByCell map[CellRef]*CompiledFormula
	Order  []CellRef
}

// ErrDependencyCycle is returned by CompileNode when the node's
// formulas contain a cycle. spec.md §4.G requires cycle detection at
// compile time; since the graph algorithm used here (lvlath's DFS
// topological sort) reports only that a cycle exists and not which
// formulas form it, a cycle fails every computed cell in the node
// rather than isolating the offending ones.
var ErrDependencyCycle = errors.New("formula: dependency graph contains a cycle")

// CompileNode compiles every formula declared in node.Formulas,
// logging and skipping any formula that fails to compile (it becomes
// un-computed, not fatal to the node), then orders the survivors
// topologically so dependencies evaluate before dependents.
func CompileNode(node *tabular.Node) (*CompiledSet, error) {
	cs := &CompiledSet{ByCell: make(map[CellRef]*CompiledFormula)}
	g := core.NewGraph(core.WithDirected(true))

	for columnID, byRow := range node.Formulas {
		for rowID, text := range byRow {
			cf, err := Compile(text, columnID, rowID, node.Columns, node.Rows)
			if err != nil {
				cclog.Warnf("formula: skipping %s::%s: %v", columnID, rowID, err)
				continue
			}
			cs.ByCell[CellRef{Column: columnID, Row: rowID}] = cf
		}
	}

	for self := range cs.ByCell {
		if _, err := g.AddVertex(self.key()); err != nil {
			return nil, fmt.Errorf("formula: graph: %w", err)
		}
	}
	for self, cf := range cs.ByCell {
		for _, dep := range cf.Deps {
			if !g.HasVertex(dep.key()) {
				if _, err := g.AddVertex(dep.key()); err != nil {
					return nil, fmt.Errorf("formula: graph: %w", err)
				}
			}
			if _, err := g.AddEdge(dep.key(), self.key(), 0); err != nil {
				return nil, fmt.Errorf("formula: graph: %w", err)
			}
		}
	}

	order, err := dfs.TopologicalSort(g)
	if err != nil {
		if errors.Is(err, dfs.ErrCycleDetected) {
			return nil, ErrDependencyCycle
		}
		return nil, fmt.Errorf("formula: topological sort: %w", err)
	}

	for _, key := range order {
		ref := cellRefFromKey(key)
		if _, ok := cs.ByCell[ref]; ok {
			cs.Order = append(cs.Order, ref)
		}
	}
	return cs, nil
}

// Affected returns every computed cell whose dependency set
// transitively intersects changed, in topological order — spec.md
// §4.G step 4's "transitive set of computed cells whose dependency
// set intersects the changed cells".
func (cs *CompiledSet) Affected(changed []CellRef) []CellRef {
	dirty := make(map[CellRef]bool, len(changed))
	for _, c := range changed {
		dirty[c] = true
	}
	var out []CellRef
	// A single forward pass in topological order is sufficient: any
	// computed cell's dependencies either are in `changed` or were
	// already classified dirty earlier in this same pass, since
	// dependencies always precede dependents in Order.
	for _, ref := range cs.Order {
		cf := cs.ByCell[ref]
		affected := false
		for _, dep := range cf.Deps {
			if dirty[dep] {
				affected = true
				break
			}
		}
		if affected {
			dirty[ref] = true
			out = append(out, ref)
		}
	}
	return out
}
