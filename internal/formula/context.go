package formula

import (
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/race-platform/race-core/internal/tabular"
)

// NodeContext is an EvalContext backed by a tabular.Node's live data,
// overlaid with any cells recomputed earlier in the same evaluation
// pass so that a dependent formula sees its dependencies' brand-new
// values rather than the stale snapshot still held in node.Data.
// Previous always reads node.Data directly, since that is always the
// pre-change value until the caller commits the pass's results.
type NodeContext struct {
	Node    *tabular.Node
	When    time.Time
	Overlay map[CellRef]tabular.CellValue
}

// NewNodeContext returns a NodeContext for a single recompute pass.
func NewNodeContext(node *tabular.Node, when time.Time) *NodeContext {
	return &NodeContext{Node: node, When: when, Overlay: make(map[CellRef]tabular.CellValue)}
}

func (c *NodeContext) Cell(column, row string) (tabular.CellValue, bool) {
	if v, ok := c.Overlay[CellRef{Column: column, Row: row}]; ok {
		return v, v.Present
	}
	return c.Node.Cell(column, row)
}

func (c *NodeContext) Previous(column, row string) (tabular.CellValue, bool) {
	return c.Node.Cell(column, row)
}

func (c *NodeContext) ChangeTime() time.Time { return c.When }

// Commit records ref's freshly computed value in the overlay, making
// it visible to subsequently evaluated dependents in this same pass.
func (c *NodeContext) Commit(ref CellRef, v tabular.CellValue) {
	c.Overlay[ref] = v
}

// Results returns every cell committed during this pass.
func (c *NodeContext) Results() map[CellRef]tabular.CellValue {
	return c.Overlay
}

// Recompute evaluates every cell in cs.Affected(changed), in
// dependency order, against a fresh NodeContext seeded from node's
// current data, and returns the resulting values. A cell whose
// evaluation fails is logged and left out of the results, so it keeps
// its previous value while the pass goes on. It does not mutate
// node; applying the results to live ColumnData is internal/update's
// responsibility (component H), which also owns constraint
// re-checking and outbound CDC emission.
func Recompute(node *tabular.Node, cs *CompiledSet, changed []CellRef, when time.Time) (map[CellRef]tabular.CellValue, error) {
	ctx := NewNodeContext(node, when)
	for _, ref := range cs.Affected(changed) {
		cf := cs.ByCell[ref]
		v, err := cf.Eval(ctx)
		if err != nil {
			cclog.Warnf("formula: evaluate %s: %v; keeping previous value", ref, err)
			continue
		}
		if v.Present {
			ctx.Commit(ref, v)
		}
	}
	return ctx.Results(), nil
}
