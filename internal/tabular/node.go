package tabular

import "fmt"

// Node is spec.md §3's Node: the full state owned by one logical
// update-engine instance — its column/row declarations, live data per
// column, and the formula text attached to computed rows.
type Node struct {
	LocalID    string
	UpstreamID string
	Columns    *ColumnList
	Rows       *RowList
	Formulas   FormulaList
	Data       map[string]*ColumnData
}

// NewNode constructs an empty Node from its immutable declarations.
// Every declared column gets an empty ColumnData entry so later
// lookups never need a nil check.
func NewNode(localID, upstreamID string, columns *ColumnList, rows *RowList, formulas FormulaList) *Node {
	n := &Node{
		LocalID:    localID,
		UpstreamID: upstreamID,
		Columns:    columns,
		Rows:       rows,
		Formulas:   formulas,
		Data:       make(map[string]*ColumnData, len(columns.Columns)),
	}
	for _, c := range columns.Columns {
		n.Data[c.ID] = NewColumnData(c.ID)
	}
	return n
}

// Cell resolves a single `column::row` reference to its current
// value, if present.
func (n *Node) Cell(column, row string) (CellValue, bool) {
	cd, ok := n.Data[column]
	if !ok {
		return CellValue{}, false
	}
	return cd.Get(row)
}

// FormulaFor returns the formula text attached to column::row, if any.
func (n *Node) FormulaFor(column, row string) (string, bool) {
	byRow, ok := n.Formulas[column]
	if !ok {
		return "", false
	}
	f, ok := byRow[row]
	return f, ok
}

// LoadColumnData seeds a column's ColumnData from a parsed snapshot,
// e.g. at node startup from a definition file or checkpoint.
func (n *Node) LoadColumnData(cd *ColumnData) error {
	if _, ok := n.Columns.Find(cd.ColumnID); !ok {
		return fmt.Errorf("tabular: column %q not declared for node %q", cd.ColumnID, n.LocalID)
	}
	n.Data[cd.ColumnID] = cd
	return nil
}

// Snapshot returns an immutable copy of every column's current data,
// suitable for checkpointing or handing to a subscriber.
func (n *Node) Snapshot() map[string]ColumnData {
	out := make(map[string]ColumnData, len(n.Data))
	for id, cd := range n.Data {
		out[id] = cd.Snapshot()
	}
	return out
}
