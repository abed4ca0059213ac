package json

import (
	"testing"

	"github.com/race-platform/race-core/pkg/slicebuf"
	"github.com/stretchr/testify/require"
)

func TestForeachMemberBasic(t *testing.T) {
	p := New([]byte(`{"id":"c1","info":"desc","n":42}`))

	got := map[string]string{}
	err := p.ForeachMemberInCurrentObject(func(member slicebuf.Slice) error {
		switch member.String() {
		case "id", "info":
			v, err := p.QuotedValue()
			if err != nil {
				return err
			}
			got[member.String()] = v.String()
		case "n":
			v, err := p.UnquotedValue()
			if err != nil {
				return err
			}
			got[member.String()] = v.String()
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"id": "c1", "info": "desc", "n": "42"}, got)
}

func TestForeachElementArray(t *testing.T) {
	p := New([]byte(`[1,2,3]`))
	var got []string
	err := p.ForeachElementInCurrentArray(func() error {
		v, err := p.UnquotedValue()
		if err != nil {
			return err
		}
		got = append(got, v.String())
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2", "3"}, got)
}

func TestUnconsumedMemberAutoSkipped(t *testing.T) {
	p := New([]byte(`{"a":{"nested":[1,2,3]},"b":"x"}`))
	var bVal string
	err := p.ForeachMemberInCurrentObject(func(member slicebuf.Slice) error {
		if member.String() == "b" {
			v, err := p.QuotedValue()
			if err != nil {
				return err
			}
			bVal = v.String()
		}
		// "a"'s object value is never consumed here; it must be
		// auto-skipped so "b" is still reachable.
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "x", bVal)
}

func TestIsNullAndIsInObject(t *testing.T) {
	p := New([]byte(`{"v":null}`))
	err := p.ForeachMemberInCurrentObject(func(member slicebuf.Slice) error {
		require.True(t, p.IsInObject())
		require.True(t, p.IsNull())
		return p.SkipValue()
	})
	require.NoError(t, err)
}

// TestColumnListShape mirrors the columnList definition-file shape
// from spec.md §6.
func TestColumnListShape(t *testing.T) {
	doc := `{"id":"root","info":"root node","date":1700000000000,
		"columns":[{"id":"c1","info":"col 1","owner":"n1","update":[]}]}`
	p := New([]byte(doc))

	var columnIDs []string
	err := p.ForeachMemberInCurrentObject(func(member slicebuf.Slice) error {
		if member.String() != "columns" {
			return nil
		}
		return p.ForeachElementInCurrentArray(func() error {
			return p.ForeachMemberInCurrentObject(func(m slicebuf.Slice) error {
				if m.String() == "id" {
					v, err := p.QuotedValue()
					if err != nil {
						return err
					}
					columnIDs = append(columnIDs, v.String())
				}
				return nil
			})
		})
	})
	require.NoError(t, err)
	require.Equal(t, []string{"c1"}, columnIDs)
}
