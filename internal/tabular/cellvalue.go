// Package tabular implements the tabular cell model of spec.md §3/§4.F:
// Column, Row, CellValue, ColumnData, Node and ColumnDataChange (CDC).
// Its columnar organization — a typed row declaration shared across
// every column, with per-column data held as a flat map keyed by row
// id — is the flat-schema analogue of the teacher's Level/buffer tree
// in pkg/metricstore/level.go, collapsed from a hierarchical
// cluster→host→core selector path to this system's single column×row
// grid, and its single `CellValue` sum type over {Integer, Real,
// IntegerList, Boolean} follows pkg/schema's narrow custom scalar
// types (schema.Float's NaN-as-null JSON convention) generalized to a
// small tagged union instead of one type per kind.
package tabular

import (
	"fmt"
	"time"
)

// CellKind is a row's declared value kind.
type CellKind int

const (
	KindInteger CellKind = iota
	KindReal
	KindIntegerList
	KindBoolean
)

func (k CellKind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindIntegerList:
		return "integer_list"
	case KindBoolean:
		return "boolean"
	default:
		return fmt.Sprintf("CellKind(%d)", int(k))
	}
}

func ParseCellKind(s string) (CellKind, error) {
	switch s {
	case "integer":
		return KindInteger, nil
	case "real":
		return KindReal, nil
	case "integer_list":
		return KindIntegerList, nil
	case "boolean":
		return KindBoolean, nil
	default:
		return 0, fmt.Errorf("tabular: unknown cell kind %q", s)
	}
}

// CellValue is spec.md §3's CellValue: a typed sum value carrying the
// timestamp at which it was assigned. A cell may be absent (Present ==
// false), e.g. a declared row with no data yet for a given column.
type CellValue struct {
	Kind      CellKind
	Int       int64
	Real      float64
	IntList   []int64
	Bool      bool
	Timestamp time.Time
	Present   bool
}

// Absent is the zero-value "no cell" sentinel.
var Absent = CellValue{}

// NewInteger constructs a present Integer cell.
func NewInteger(v int64, ts time.Time) CellValue {
	return CellValue{Kind: KindInteger, Int: v, Timestamp: ts, Present: true}
}

// NewReal constructs a present Real cell.
func NewReal(v float64, ts time.Time) CellValue {
	return CellValue{Kind: KindReal, Real: v, Timestamp: ts, Present: true}
}

// NewIntegerList constructs a present IntegerList cell.
func NewIntegerList(v []int64, ts time.Time) CellValue {
	return CellValue{Kind: KindIntegerList, IntList: v, Timestamp: ts, Present: true}
}

// NewBoolean constructs a present Boolean cell.
func NewBoolean(v bool, ts time.Time) CellValue {
	return CellValue{Kind: KindBoolean, Bool: v, Timestamp: ts, Present: true}
}

// AsFloat64 widens Integer and Real cells to a float64 for use by
// formula functions that accept either numeric kind (e.g. RealSum);
// it is an error to widen IntegerList or Boolean.
func (c CellValue) AsFloat64() (float64, error) {
	switch c.Kind {
	case KindInteger:
		return float64(c.Int), nil
	case KindReal:
		return c.Real, nil
	default:
		return 0, fmt.Errorf("tabular: cannot widen %s cell to a number", c.Kind)
	}
}

// Equal reports whether two cell values carry the same kind and
// content (ignoring timestamp); used by the update engine to decide
// whether a CDC actually changes a cell's value.
func (c CellValue) Equal(other CellValue) bool {
	if c.Present != other.Present || c.Kind != other.Kind {
		return false
	}
	if !c.Present {
		return true
	}
	switch c.Kind {
	case KindInteger:
		return c.Int == other.Int
	case KindReal:
		return c.Real == other.Real
	case KindBoolean:
		return c.Bool == other.Bool
	case KindIntegerList:
		if len(c.IntList) != len(other.IntList) {
			return false
		}
		for i := range c.IntList {
			if c.IntList[i] != other.IntList[i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}
