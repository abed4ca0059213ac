package update

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/race-platform/race-core/internal/tabular"
	"github.com/race-platform/race-core/pkg/wire"
)

func trackColumnsNode(t *testing.T) *tabular.Node {
	t.Helper()
	columns, err := tabular.ParseColumnList([]byte(`{"id":"cl","info":"","date":0,"columns":[
		{"id":"c1","info":"","owner":"c1","update":["c1:*"]}]}`))
	require.NoError(t, err)
	rows, err := tabular.ParseRowList([]byte(`{"id":"rl","info":"","date":0,"rows":[
		{"id":"lat","info":"","type":"real"},
		{"id":"lon","info":"","type":"real"},
		{"id":"alt","info":"","type":"real"},
		{"id":"heading","info":"","type":"real"},
		{"id":"speed","info":"","type":"real"},
		{"id":"vertical-rate","info":"","type":"real"}
	]}`))
	require.NoError(t, err)
	return tabular.NewNode("n1", "", columns, rows, tabular.FormulaList{})
}

func TestNodeDataSourceReturnsCompleteColumns(t *testing.T) {
	node := trackColumnsNode(t)
	engine, err := New(node, nil)
	require.NoError(t, err)

	when := time.UnixMilli(1_700_000_000_000).UTC()
	_, err = engine.Apply(&tabular.CDC{
		Originator: "c1", Column: "c1", ChangeTime: when,
		Changes: []tabular.RowChange{
			{RowID: "lat", Value: tabular.NewReal(1, when)},
			{RowID: "lon", Value: tabular.NewReal(2, when)},
			{RowID: "alt", Value: tabular.NewReal(3, when)},
			{RowID: "heading", Value: tabular.NewReal(4, when)},
			{RowID: "speed", Value: tabular.NewReal(5, when)},
			{RowID: "vertical-rate", Value: tabular.NewReal(6, when)},
		},
	})
	require.NoError(t, err)

	ds := NewNodeDataSource(engine)
	data, ok := ds.NextData(&wire.ClientEntry{ID: 42}, when.UnixMilli())
	require.True(t, ok)
	require.Len(t, data.Tracks, 1)
	require.Equal(t, "c1", data.Tracks[0].ID)
	require.Equal(t, 2.0, data.Tracks[0].LonDeg)
}

func TestNodeDataSourceSkipsIncompleteColumns(t *testing.T) {
	node := trackColumnsNode(t)
	engine, err := New(node, nil)
	require.NoError(t, err)
	ds := NewNodeDataSource(engine)
	_, ok := ds.NextData(&wire.ClientEntry{ID: 1}, 0)
	require.False(t, ok)
}
