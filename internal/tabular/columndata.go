package tabular

import (
	"encoding/json"
	"fmt"
	"time"
)

// ColumnData is spec.md §3's ColumnData: `{column id, last-update
// timestamp, map<row id, CellValue>}`. Invariant: every cell's
// timestamp is <= LastUpdate. Held by exactly one Node; shared with
// subscribers only as an immutable snapshot (callers must not mutate
// the returned Cells map).
type ColumnData struct {
	ColumnID   string
	LastUpdate time.Time
	Cells      map[string]CellValue
}

// NewColumnData returns an empty ColumnData for columnID.
func NewColumnData(columnID string) *ColumnData {
	return &ColumnData{ColumnID: columnID, Cells: map[string]CellValue{}}
}

// Get returns the cell for rowID, if present.
func (cd *ColumnData) Get(rowID string) (CellValue, bool) {
	v, ok := cd.Cells[rowID]
	return v, ok && v.Present
}

// Snapshot returns an immutable copy suitable for handing to
// subscribers without exposing the live map.
func (cd *ColumnData) Snapshot() ColumnData {
	cells := make(map[string]CellValue, len(cd.Cells))
	for k, v := range cd.Cells {
		cells[k] = v
	}
	return ColumnData{ColumnID: cd.ColumnID, LastUpdate: cd.LastUpdate, Cells: cells}
}

// Apply writes rowID=v and reports whether the cell's value actually
// changed (ignoring timestamp). Callers (internal/update) are
// responsible for the staleness and permission checks of spec.md
// §4.G steps 1-2 before calling Apply; Apply itself only performs the
// unconditional write and change detection of step 3.
func (cd *ColumnData) Apply(rowID string, v CellValue) (changed bool) {
	old, hadOld := cd.Cells[rowID]
	cd.set(rowID, v)
	if !hadOld {
		return v.Present
	}
	return !old.Equal(v)
}

// set applies a single cell write, advancing LastUpdate if the new
// timestamp is later. Callers are responsible for the staleness check
// (spec.md §4.G step 2) before calling set.
func (cd *ColumnData) set(rowID string, v CellValue) {
	cd.Cells[rowID] = v
	if v.Timestamp.After(cd.LastUpdate) {
		cd.LastUpdate = v.Timestamp
	}
}

// columnDataJSON mirrors spec.md §6's on-disk "columnData" shape:
// `{id, date, rows:{<row-id>:{value, date}, …}}`.
type columnDataJSON struct {
	ID   string                     `json:"id"`
	Date int64                      `json:"date"`
	Rows map[string]cellRecordJSON `json:"rows"`
}

type cellRecordJSON struct {
	Value json.RawMessage `json:"value"`
	Date  int64           `json:"date"`
}

// ParseColumnData decodes a columnData definition file, resolving
// each row's declared kind via rows so ambiguous JSON values (integer
// vs. real, single value vs. list) decode correctly.
func ParseColumnData(raw []byte, rows *RowList) (*ColumnData, error) {
	var doc columnDataJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("tabular: parse column data: %w", err)
	}
	cd := NewColumnData(doc.ID)
	cd.LastUpdate = time.UnixMilli(doc.Date).UTC()
	for rowID, rec := range doc.Rows {
		row, ok := rows.Find(rowID)
		if !ok {
			return nil, fmt.Errorf("tabular: column %q: row %q not declared", doc.ID, rowID)
		}
		v, err := decodeCellValue(row.Kind, rec)
		if err != nil {
			return nil, fmt.Errorf("tabular: column %q row %q: %w", doc.ID, rowID, err)
		}
		cd.Cells[rowID] = v
	}
	return cd, nil
}

func decodeCellValue(kind CellKind, rec cellRecordJSON) (CellValue, error) {
	ts := time.UnixMilli(rec.Date).UTC()
	switch kind {
	case KindInteger:
		var i int64
		if err := json.Unmarshal(rec.Value, &i); err != nil {
			return CellValue{}, fmt.Errorf("decode integer: %w", err)
		}
		return NewInteger(i, ts), nil
	case KindReal:
		var f float64
		if err := json.Unmarshal(rec.Value, &f); err != nil {
			return CellValue{}, fmt.Errorf("decode real: %w", err)
		}
		return NewReal(f, ts), nil
	case KindIntegerList:
		var list []int64
		if err := json.Unmarshal(rec.Value, &list); err != nil {
			return CellValue{}, fmt.Errorf("decode integer list: %w", err)
		}
		return NewIntegerList(list, ts), nil
	case KindBoolean:
		var b bool
		if err := json.Unmarshal(rec.Value, &b); err != nil {
			return CellValue{}, fmt.Errorf("decode boolean: %w", err)
		}
		return NewBoolean(b, ts), nil
	default:
		return CellValue{}, fmt.Errorf("unknown kind %s", kind)
	}
}

// encodeCellValue is decodeCellValue's inverse, used by outbound CDC
// encoding (CDC.Encode).
func encodeCellValue(v CellValue) (json.RawMessage, error) {
	var (
		raw []byte
		err error
	)
	switch v.Kind {
	case KindInteger:
		raw, err = json.Marshal(v.Int)
	case KindReal:
		raw, err = json.Marshal(v.Real)
	case KindIntegerList:
		raw, err = json.Marshal(v.IntList)
	case KindBoolean:
		raw, err = json.Marshal(v.Bool)
	default:
		return nil, fmt.Errorf("tabular: unknown kind %s", v.Kind)
	}
	return raw, err
}
