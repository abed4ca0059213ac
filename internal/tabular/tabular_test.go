package tabular

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func scenarioS4Node(t *testing.T) *Node {
	t.Helper()
	columns := &ColumnList{Columns: []Column{
		{ID: "c1", UpdateFilter: []UpdateRule{mustRule(t, "*:*")}},
		{ID: "c2", UpdateFilter: []UpdateRule{mustRule(t, "c2:*")}},
		{ID: "c3"},
	}}
	rows := &RowList{Rows: []Row{
		{ID: "r1", Kind: KindInteger},
		{ID: "r2", Kind: KindReal},
		{ID: "r3", Kind: KindReal, Formula: "(RealSum ../r1 ../r2)"},
		{ID: "r4", Kind: KindInteger},
		{ID: "r5", Kind: KindIntegerList},
	}}
	node := NewNode("n1", "", columns, rows, FormulaList{
		"c1": {"r3": "(RealSum ../r1 ../r2)"},
	})

	ts := time.UnixMilli(1_700_000_000_000).UTC()
	node.Data["c1"].set("r1", NewInteger(42, ts))
	node.Data["c1"].set("r2", NewReal(0.42, ts))
	node.Data["c1"].set("r4", NewInteger(43, ts))
	node.Data["c1"].set("r5", NewIntegerList([]int64{43, 41}, ts))
	node.Data["c2"].set("r1", NewInteger(43, ts))
	node.Data["c2"].set("r2", NewReal(0.43, ts))
	return node
}

func mustRule(t *testing.T, s string) UpdateRule {
	t.Helper()
	rule, err := parseUpdateRule(s)
	require.NoError(t, err)
	return rule
}

func TestNodeCellLookup(t *testing.T) {
	node := scenarioS4Node(t)
	v, ok := node.Cell("c1", "r1")
	require.True(t, ok)
	require.Equal(t, int64(42), v.Int)

	_, ok = node.Cell("c1", "r3")
	require.False(t, ok, "r3 is computed and not yet evaluated")
}

func TestColumnAllowsRespectsUpdateFilter(t *testing.T) {
	node := scenarioS4Node(t)
	c1, _ := node.Columns.Find("c1")
	c2, _ := node.Columns.Find("c2")

	require.True(t, c1.Allows("anyone", "r1"))
	require.True(t, c2.Allows("c2", "r2"))
	require.False(t, c2.Allows("c1", "r2"))
}

func TestColumnDataJSONRoundTrip(t *testing.T) {
	rows := &RowList{Rows: []Row{
		{ID: "r1", Kind: KindInteger},
		{ID: "r2", Kind: KindReal},
		{ID: "r5", Kind: KindIntegerList},
	}}
	raw := []byte(`{"id":"c1","date":1700000000000,"rows":{
		"r1":{"value":42,"date":1700000000000},
		"r2":{"value":0.42,"date":1700000000000},
		"r5":{"value":[43,41],"date":1700000000000}
	}}`)

	cd, err := ParseColumnData(raw, rows)
	require.NoError(t, err)
	require.Equal(t, "c1", cd.ColumnID)

	v, ok := cd.Get("r1")
	require.True(t, ok)
	require.Equal(t, int64(42), v.Int)

	v, ok = cd.Get("r5")
	require.True(t, ok)
	require.Equal(t, []int64{43, 41}, v.IntList)
}

func TestCDCEncodeDecodeRoundTrip(t *testing.T) {
	rows := &RowList{Rows: []Row{{ID: "r2", Kind: KindReal}}}
	ts := time.UnixMilli(1_700_000_000_000).UTC()
	cdc := &CDC{
		Originator: "c2",
		Column:     "c2",
		ChangeTime: ts,
		Changes:    []RowChange{{RowID: "r2", Value: NewReal(1000.0, ts)}},
	}

	raw, err := cdc.Encode()
	require.NoError(t, err)

	got, err := ParseCDC(raw, rows)
	require.NoError(t, err)
	require.Equal(t, cdc.Originator, got.Originator)
	require.Equal(t, cdc.Column, got.Column)
	require.Len(t, got.Changes, 1)
	require.True(t, got.Changes[0].Value.Equal(cdc.Changes[0].Value))
}

func TestBinaryCheckpointRoundTrip(t *testing.T) {
	node := scenarioS4Node(t)
	path := filepath.Join(t.TempDir(), "snapshot.bin")

	require.NoError(t, WriteCheckpoint(path, node, FormatBinary))

	restored := NewNode("n1", "", node.Columns, node.Rows, node.Formulas)
	require.NoError(t, ReadCheckpoint(path, restored, FormatBinary))

	for _, col := range node.Columns.Columns {
		want := node.Data[col.ID]
		got := restored.Data[col.ID]
		require.Equal(t, want.LastUpdate.UnixMilli(), got.LastUpdate.UnixMilli())
		for rowID, wv := range want.Cells {
			gv, ok := got.Cells[rowID]
			require.True(t, ok, "row %s missing after restore", rowID)
			require.True(t, wv.Equal(gv), "row %s: %+v != %+v", rowID, wv, gv)
		}
	}
}

func TestAvroCheckpointRoundTrip(t *testing.T) {
	node := scenarioS4Node(t)
	path := filepath.Join(t.TempDir(), "snapshot.avro")

	require.NoError(t, WriteCheckpoint(path, node, FormatAvro))
	require.FileExists(t, path)

	restored := NewNode("n1", "", node.Columns, node.Rows, node.Formulas)
	require.NoError(t, ReadCheckpoint(path, restored, FormatAvro))

	for _, col := range node.Columns.Columns {
		want := node.Data[col.ID]
		got := restored.Data[col.ID]
		for rowID, wv := range want.Cells {
			gv, ok := got.Cells[rowID]
			require.True(t, ok, "row %s missing after restore", rowID)
			require.True(t, wv.Equal(gv), "row %s: %+v != %+v", rowID, wv, gv)
		}
	}
}

func TestParseColumnListAndRowList(t *testing.T) {
	clRaw := []byte(`{"id":"cl1","info":"","date":0,"columns":[
		{"id":"c1","info":"","owner":"n1","update":["*:*"]}
	]}`)
	cl, err := ParseColumnList(clRaw)
	require.NoError(t, err)
	require.Len(t, cl.Columns, 1)
	require.True(t, cl.Columns[0].Allows("anyone", "r1"))

	rlRaw := []byte(`{"id":"rl1","info":"","date":0,"rows":[
		{"id":"r1","info":"","type":"integer"},
		{"id":"r3","info":"","type":"real","attrs":["computed"],"formula":"(RealSum ../r1 ../r2)"}
	]}`)
	rl, err := ParseRowList(rlRaw)
	require.NoError(t, err)
	r3, ok := rl.Find("r3")
	require.True(t, ok)
	require.True(t, r3.HasAttr(AttrComputed))
	require.Equal(t, "(RealSum ../r1 ../r2)", r3.Formula)
}
