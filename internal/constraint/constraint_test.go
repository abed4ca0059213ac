package constraint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/race-platform/race-core/internal/tabular"
)

func testNode(t *testing.T) *tabular.Node {
	t.Helper()
	columns, err := tabular.ParseColumnList([]byte(`{"id":"cl","info":"","date":0,"columns":[{"id":"c1","info":"","owner":"c1","update":["c1:*"]}]}`))
	require.NoError(t, err)
	min, max := 0.0, 100.0
	rows := &tabular.RowList{Rows: []tabular.Row{
		{ID: "r1", Kind: tabular.KindReal, Min: &min, Max: &max},
	}}
	return tabular.NewNode("n1", "", columns, rows, tabular.FormulaList{})
}

func TestConstraintTracksViolationTransitions(t *testing.T) {
	node := testNode(t)
	reg, err := Compile([]Spec{
		{ID: "bounds", Cells: "c1::r1", Predicate: "min == nil || max == nil || (value >= min && value <= max)"},
	})
	require.NoError(t, err)

	t0 := time.Unix(1700000000, 0).UTC()
	cd := node.Data["c1"]
	cd.Apply("r1", tabular.NewReal(50, t0))

	changes := reg.Evaluate(node, t0)
	require.Empty(t, changes)
	st, ok := reg.State("bounds")
	require.True(t, ok)
	require.True(t, st.Satisfied)

	t1 := t0.Add(time.Second)
	cd.Apply("r1", tabular.NewReal(500, t1))
	changes = reg.Evaluate(node, t1)
	require.Len(t, changes, 1)
	require.False(t, changes[0].Satisfied)
	require.Len(t, changes[0].Offending, 1)
	require.Equal(t, "c1", changes[0].Offending[0].Column)
	require.Equal(t, "r1", changes[0].Offending[0].Row)

	t2 := t1.Add(time.Second)
	cd.Apply("r1", tabular.NewReal(10, t2))
	changes = reg.Evaluate(node, t2)
	require.Len(t, changes, 1)
	require.True(t, changes[0].Satisfied)
}
