package tabular

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/race-platform/race-core/internal/racepath"
)

// UpdateRule is one (originator pattern, row pattern) pair from a
// column's update-filter spec (spec.md §4.G "Update filters"). A CDC
// may mutate a cell only if some rule's Originator pattern matches the
// CDC's originator AND the rule's Row pattern matches the target row.
type UpdateRule struct {
	Originator racepath.Pattern
	Row        racepath.Pattern
}

// Column is spec.md §3's Column: `{id, owner node, update-filter spec}`.
type Column struct {
	ID           string `json:"id"`
	Info         string `json:"info"`
	Owner        string `json:"owner"`
	UpdateFilter []UpdateRule
}

// RowAttr is one of the declared attribute flags a Row may carry.
type RowAttr string

const (
	AttrHeader   RowAttr = "header"
	AttrLocked   RowAttr = "locked"
	AttrHidden   RowAttr = "hidden"
	AttrComputed RowAttr = "computed"
)

// Row is spec.md §3's Row.
type Row struct {
	ID      string
	Info    string
	Kind    CellKind
	Attrs   map[RowAttr]bool
	Formula string
	Min     *float64
	Max     *float64
}

// HasAttr reports whether the row carries the given attribute.
func (r Row) HasAttr(a RowAttr) bool { return r.Attrs[a] }

// ColumnList is an immutable, JSON-loaded definition of a node's
// columns (spec.md §6 "columnList").
type ColumnList struct {
	ID      string
	Info    string
	DateMs  int64
	Columns []Column
}

// RowList is an immutable, JSON-loaded definition of a node's rows
// (spec.md §6 "rowList").
type RowList struct {
	ID     string
	Info   string
	DateMs int64
	Rows   []Row
}

// FormulaList is spec.md §6's "formulaList": per-column map of row id
// to formula text.
type FormulaList map[string]map[string]string

// columnListJSON / rowListJSON mirror spec.md §6's on-disk shapes
// exactly; UpdateFilter entries are encoded as "originatorPattern:rowPattern"
// strings, matching the ":"-joined cell-reference convention ("col::row")
// used elsewhere in the wire formats.
type columnListJSON struct {
	ID      string `json:"id"`
	Info    string `json:"info"`
	Date    int64  `json:"date"`
	Columns []struct {
		ID     string   `json:"id"`
		Info   string   `json:"info"`
		Owner  string   `json:"owner"`
		Update []string `json:"update"`
	} `json:"columns"`
}

type rowListJSON struct {
	ID   string `json:"id"`
	Info string `json:"info"`
	Date int64  `json:"date"`
	Rows []struct {
		ID      string   `json:"id"`
		Info    string   `json:"info"`
		Type    string   `json:"type"`
		Attrs   []string `json:"attrs,omitempty"`
		Formula string   `json:"formula,omitempty"`
		Min     *float64 `json:"min,omitempty"`
		Max     *float64 `json:"max,omitempty"`
	} `json:"rows"`
}

// ParseColumnList decodes a columnList definition file.
func ParseColumnList(raw []byte) (*ColumnList, error) {
	var doc columnListJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("tabular: parse column list: %w", err)
	}
	cl := &ColumnList{ID: doc.ID, Info: doc.Info, DateMs: doc.Date}
	for _, c := range doc.Columns {
		col := Column{ID: c.ID, Info: c.Info, Owner: c.Owner}
		for _, rule := range c.Update {
			ur, err := parseUpdateRule(rule)
			if err != nil {
				return nil, fmt.Errorf("tabular: column %q: %w", c.ID, err)
			}
			col.UpdateFilter = append(col.UpdateFilter, ur)
		}
		cl.Columns = append(cl.Columns, col)
	}
	return cl, nil
}

func parseUpdateRule(s string) (UpdateRule, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return UpdateRule{}, fmt.Errorf("update rule %q: expected \"originator:row\"", s)
	}
	originator, err := racepath.Compile(parts[0])
	if err != nil {
		return UpdateRule{}, err
	}
	row, err := racepath.Compile(parts[1])
	if err != nil {
		return UpdateRule{}, err
	}
	return UpdateRule{Originator: originator, Row: row}, nil
}

// ParseRowList decodes a rowList definition file.
func ParseRowList(raw []byte) (*RowList, error) {
	var doc rowListJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("tabular: parse row list: %w", err)
	}
	rl := &RowList{ID: doc.ID, Info: doc.Info, DateMs: doc.Date}
	for _, r := range doc.Rows {
		kind, err := ParseCellKind(r.Type)
		if err != nil {
			return nil, fmt.Errorf("tabular: row %q: %w", r.ID, err)
		}
		row := Row{ID: r.ID, Info: r.Info, Kind: kind, Formula: r.Formula, Min: r.Min, Max: r.Max}
		if len(r.Attrs) > 0 {
			row.Attrs = make(map[RowAttr]bool, len(r.Attrs))
			for _, a := range r.Attrs {
				row.Attrs[RowAttr(a)] = true
			}
		}
		rl.Rows = append(rl.Rows, row)
	}
	return rl, nil
}

// ParseFormulaList decodes a formulaList definition file.
func ParseFormulaList(raw []byte) (FormulaList, error) {
	var fl FormulaList
	if err := json.Unmarshal(raw, &fl); err != nil {
		return nil, fmt.Errorf("tabular: parse formula list: %w", err)
	}
	return fl, nil
}

// Find returns the row declaration with the given id, if any.
func (rl *RowList) Find(id string) (Row, bool) {
	for _, r := range rl.Rows {
		if r.ID == id {
			return r, true
		}
	}
	return Row{}, false
}

// IDs returns every declared row id, in declaration order.
func (rl *RowList) IDs() []string {
	out := make([]string, len(rl.Rows))
	for i, r := range rl.Rows {
		out[i] = r.ID
	}
	return out
}

// Find returns the column declaration with the given id, if any.
func (cl *ColumnList) Find(id string) (Column, bool) {
	for _, c := range cl.Columns {
		if c.ID == id {
			return c, true
		}
	}
	return Column{}, false
}

// IDs returns every declared column id, in declaration order.
func (cl *ColumnList) IDs() []string {
	out := make([]string, len(cl.Columns))
	for i, c := range cl.Columns {
		out[i] = c.ID
	}
	return out
}

// Allows reports whether originator may write to row within this
// column, per spec.md §4.G's update-filter check. A column with no
// UpdateFilter entries allows no writes (fail closed).
func (c Column) Allows(originator, row string) bool {
	for _, rule := range c.UpdateFilter {
		if rule.Originator.Match(originator) && rule.Row.Match(row) {
			return true
		}
	}
	return false
}
