package formula

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/race-platform/race-core/internal/tabular"
)

// scenarioNode replicates spec.md §8's scenario S4/S5 fixture: columns
// c1/c2/c3, rows r1(int)/r2(real)/r3(real, computed)/r4(int)/r5(int
// list), with c1:{r1=42,r2=0.42,r4=43,r5=[43,41]} and c2:{r1=43,r2=0.43}.
func scenarioNode(t *testing.T, formulas tabular.FormulaList) *tabular.Node {
	t.Helper()
	columns := &tabular.ColumnList{Columns: []tabular.Column{{ID: "c1"}, {ID: "c2"}, {ID: "c3"}}}
	rows := &tabular.RowList{Rows: []tabular.Row{
		{ID: "r1", Kind: tabular.KindInteger},
		{ID: "r2", Kind: tabular.KindReal},
		{ID: "r3", Kind: tabular.KindReal, Formula: "(RealSum ../r1 ../r2)"},
		{ID: "r4", Kind: tabular.KindInteger},
		{ID: "r5", Kind: tabular.KindIntegerList},
	}}
	node := tabular.NewNode("n1", "", columns, rows, formulas)

	c1Raw := []byte(`{"id":"c1","date":1700000000000,"rows":{
		"r1":{"value":42,"date":1700000000000},
		"r2":{"value":0.42,"date":1700000000000},
		"r4":{"value":43,"date":1700000000000},
		"r5":{"value":[43,41],"date":1700000000000}
	}}`)
	c1, err := tabular.ParseColumnData(c1Raw, rows)
	require.NoError(t, err)
	require.NoError(t, node.LoadColumnData(c1))

	c2Raw := []byte(`{"id":"c2","date":1700000000000,"rows":{
		"r1":{"value":43,"date":1700000000000},
		"r2":{"value":0.43,"date":1700000000000}
	}}`)
	c2, err := tabular.ParseColumnData(c2Raw, rows)
	require.NoError(t, err)
	require.NoError(t, node.LoadColumnData(c2))

	return node
}

func TestCompileRealSumScenarioS4(t *testing.T) {
	node := scenarioNode(t, tabular.FormulaList{
		"c1": {"r3": "(RealSum ../r1 ../r2)"},
	})

	cf, err := Compile("(RealSum ../r1 ../r2)", "c1", "r3", node.Columns, node.Rows)
	require.NoError(t, err)
	require.Equal(t, tabular.KindReal, cf.ResultKind)
	require.ElementsMatch(t, []CellRef{{Column: "c1", Row: "r1"}, {Column: "c1", Row: "r2"}}, cf.Deps)

	ctx := NewNodeContext(node, time.UnixMilli(1_700_000_000_000).UTC())
	v, err := cf.Eval(ctx)
	require.NoError(t, err)
	require.True(t, v.Present)
	require.InDelta(t, 42.42, v.Real, 1e-9)
}

func TestCompileIntAvgRealScenarioS5(t *testing.T) {
	node := scenarioNode(t, tabular.FormulaList{
		"c1": {"r1": "(IntAvgReal ../c{1,2}::.)"},
	})

	cf, err := Compile("(IntAvgReal ../c{1,2}::.)", "c1", "r1", node.Columns, node.Rows)
	require.NoError(t, err)
	require.Equal(t, tabular.KindReal, cf.ResultKind)
	require.ElementsMatch(t, []CellRef{{Column: "c1", Row: "r1"}, {Column: "c2", Row: "r1"}}, cf.Deps)

	ctx := NewNodeContext(node, time.UnixMilli(1_700_000_000_000).UTC())
	v, err := cf.Eval(ctx)
	require.NoError(t, err)
	require.True(t, v.Present)
	require.InDelta(t, 42.5, v.Real, 1e-9)
}

func TestCompileRejectsUnknownFunction(t *testing.T) {
	node := scenarioNode(t, nil)
	_, err := Compile("(NoSuchFunc ../r1)", "c1", "r3", node.Columns, node.Rows)
	require.Error(t, err)
	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
}

func TestCompileRejectsArityMismatch(t *testing.T) {
	node := scenarioNode(t, nil)
	_, err := Compile("(Acc ../r2 ../r2)", "c1", "r3", node.Columns, node.Rows)
	require.Error(t, err)
}

func TestCompileRejectsKindMismatch(t *testing.T) {
	node := scenarioNode(t, nil)
	_, err := Compile("(BoolAnd ../r1)", "c1", "r3", node.Columns, node.Rows)
	require.Error(t, err)
}

func TestCompileNodeSkipsBadFormulaButKeepsGood(t *testing.T) {
	node := scenarioNode(t, tabular.FormulaList{
		"c1": {
			"r3": "(RealSum ../r1 ../r2)",
			"r4": "(NoSuchFunc ../r1)",
		},
	})
	cs, err := CompileNode(node)
	require.NoError(t, err)
	_, ok := cs.ByCell[CellRef{Column: "c1", Row: "r3"}]
	require.True(t, ok)
	_, ok = cs.ByCell[CellRef{Column: "c1", Row: "r4"}]
	require.False(t, ok)
}

func TestCompileNodeDetectsCycle(t *testing.T) {
	rows := &tabular.RowList{Rows: []tabular.Row{
		{ID: "ra", Kind: tabular.KindReal, Formula: "(RealSum ../rb)"},
		{ID: "rb", Kind: tabular.KindReal, Formula: "(RealSum ../ra)"},
	}}
	columns := &tabular.ColumnList{Columns: []tabular.Column{{ID: "c1"}}}
	node := tabular.NewNode("n1", "", columns, rows, tabular.FormulaList{
		"c1": {"ra": "(RealSum ../rb)", "rb": "(RealSum ../ra)"},
	})
	_, err := CompileNode(node)
	require.ErrorIs(t, err, ErrDependencyCycle)
}

func TestRecomputePropagatesChange(t *testing.T) {
	node := scenarioNode(t, tabular.FormulaList{
		"c1": {"r3": "(RealSum ../r1 ../r2)"},
	})
	cs, err := CompileNode(node)
	require.NoError(t, err)

	results, err := Recompute(node, cs, []CellRef{{Column: "c1", Row: "r1"}}, time.UnixMilli(1_700_000_001_000).UTC())
	require.NoError(t, err)
	v, ok := results[CellRef{Column: "c1", Row: "r3"}]
	require.True(t, ok)
	require.InDelta(t, 42.42, v.Real, 1e-9)
}

func TestAccReadsPreviousValue(t *testing.T) {
	rows := &tabular.RowList{Rows: []tabular.Row{
		{ID: "r1", Kind: tabular.KindReal},
		{ID: "r2", Kind: tabular.KindReal, Formula: "(Acc ../r1)"},
	}}
	columns := &tabular.ColumnList{Columns: []tabular.Column{{ID: "c1"}}}
	node := tabular.NewNode("n1", "", columns, rows, tabular.FormulaList{
		"c1": {"r2": "(Acc ../r1)"},
	})

	raw := []byte(`{"id":"c1","date":1700000000000,"rows":{
		"r1":{"value":1.5,"date":1700000000000},
		"r2":{"value":10.0,"date":1700000000000}
	}}`)
	cd, err := tabular.ParseColumnData(raw, rows)
	require.NoError(t, err)
	require.NoError(t, node.LoadColumnData(cd))

	cs, err := CompileNode(node)
	require.NoError(t, err)
	cf := cs.ByCell[CellRef{Column: "c1", Row: "r2"}]
	require.NotNil(t, cf)

	ctx := NewNodeContext(node, time.UnixMilli(1_700_000_001_000).UTC())
	v, err := cf.Eval(ctx)
	require.NoError(t, err)
	require.InDelta(t, 11.5, v.Real, 1e-9)
}
