package tabular

import (
	"encoding/json"
	"fmt"
	"time"
)

// RowChange is one (row id, value) pair inside a CDC.
type RowChange struct {
	RowID string
	Value CellValue
}

// CDC is spec.md §3's ColumnDataChange: the atomic delta unit. All
// mutation of ColumnData goes through a CDC.
type CDC struct {
	Originator string
	Column     string
	ChangeTime time.Time
	Changes    []RowChange
}

// cdcJSON mirrors spec.md §6's on-disk CDC shape:
// `{columnId, changeNodeId, date, changedValues:{<row-id>:{value,date}, …}}`.
type cdcJSON struct {
	ColumnID      string                     `json:"columnId"`
	ChangeNodeID  string                     `json:"changeNodeId"`
	Date          int64                      `json:"date"`
	ChangedValues map[string]cellRecordJSON `json:"changedValues"`
}

// ParseCDC decodes an inbound CDC, resolving each row's kind via rows.
func ParseCDC(raw []byte, rows *RowList) (*CDC, error) {
	var doc cdcJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("tabular: parse CDC: %w", err)
	}
	cdc := &CDC{
		Originator: doc.ChangeNodeID,
		Column:     doc.ColumnID,
		ChangeTime: time.UnixMilli(doc.Date).UTC(),
	}
	for rowID, rec := range doc.ChangedValues {
		row, ok := rows.Find(rowID)
		if !ok {
			return nil, fmt.Errorf("tabular: CDC for column %q: row %q not declared", doc.ColumnID, rowID)
		}
		v, err := decodeCellValue(row.Kind, rec)
		if err != nil {
			return nil, fmt.Errorf("tabular: CDC column %q row %q: %w", doc.ColumnID, rowID, err)
		}
		cdc.Changes = append(cdc.Changes, RowChange{RowID: rowID, Value: v})
	}
	return cdc, nil
}

// Encode serializes the CDC back to spec.md §6's on-disk shape, e.g.
// for transmission to subscribers.
func (c *CDC) Encode() ([]byte, error) {
	doc := cdcJSON{
		ColumnID:      c.Column,
		ChangeNodeID:  c.Originator,
		Date:          c.ChangeTime.UnixMilli(),
		ChangedValues: make(map[string]cellRecordJSON, len(c.Changes)),
	}
	for _, rc := range c.Changes {
		raw, err := encodeCellValue(rc.Value)
		if err != nil {
			return nil, err
		}
		doc.ChangedValues[rc.RowID] = cellRecordJSON{Value: raw, Date: rc.Value.Timestamp.UnixMilli()}
	}
	return json.Marshal(doc)
}
