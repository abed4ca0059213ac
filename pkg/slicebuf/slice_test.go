package slicebuf

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func refHash(s string) uint32 {
	b := []byte(s)
	if len(b) == 0 {
		return 0
	}
	h := uint32(b[0])
	for _, c := range b[1:] {
		h = h*31 + uint32(c)
	}
	return h
}

func TestSliceHashAndString(t *testing.T) {
	for _, s := range []string{"", "a", "hello world", "/a/b/c", "RACE"} {
		sl := FromString(s)
		require.Equal(t, refHash(s), sl.Hash())
		require.Equal(t, s, sl.String())
	}
}

func TestSliceToInt64RoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 42, -42, 1700000000000, -9223372036854775807} {
		sl := FromString(strconv.FormatInt(v, 10))
		got, err := sl.ToInt64()
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestSliceToFloat64RoundTrip(t *testing.T) {
	for _, v := range []float64{0, 1, -1, 0.42, 42.42, 1e10, -1.5e-3, 100} {
		text := strconv.FormatFloat(v, 'g', -1, 64)
		sl := FromString(text)
		got, err := sl.ToFloat64()
		require.NoError(t, err)
		require.InEpsilon(t, v+1, got+1, 1e-9) // +1 guards v==0
	}
}

func TestSliceToFloat64RejectsTrailingGarbage(t *testing.T) {
	_, err := FromString("1.5x").ToFloat64()
	require.Error(t, err)
	var ce *ContentError
	require.ErrorAs(t, err, &ce)
}

func TestSliceToBool(t *testing.T) {
	trueCases := []string{"true", "TRUE", "yes", "Yes", "1"}
	falseCases := []string{"false", "FALSE", "no", "No", "0"}
	for _, c := range trueCases {
		v, err := FromString(c).ToBool()
		require.NoError(t, err)
		require.True(t, v)
	}
	for _, c := range falseCases {
		v, err := FromString(c).ToBool()
		require.NoError(t, err)
		require.False(t, v)
	}
	_, err := FromString("maybe").ToBool()
	require.Error(t, err)
}

func TestSliceUnescapeString(t *testing.T) {
	got, err := FromString(`a\nb\tc\\dA`).UnescapeString()
	require.NoError(t, err)
	require.Equal(t, "a\nb\tc\\dA", got)
}

func TestRangeStackPushPopGrows(t *testing.T) {
	rs := NewRangeStack(2)
	for i := 0; i < 10; i++ {
		rs.Push(i, i+1)
	}
	require.Equal(t, 10, rs.Depth())
	for i := 9; i >= 0; i-- {
		r, ok := rs.Pop()
		require.True(t, ok)
		require.Equal(t, i, r.Off)
		require.Equal(t, i+1, r.Len)
	}
	_, ok := rs.Pop()
	require.False(t, ok)
}

func TestRangeStackParentPredicates(t *testing.T) {
	buf := []byte("a/b/c")
	rs := NewRangeStack(4)
	rs.Push(0, 1) // "a"
	rs.Push(2, 1) // "b"
	rs.Push(4, 1) // "c"

	require.True(t, rs.HasParent(buf, "b"))
	require.True(t, rs.HasParents(buf, "b", "a"))
	require.True(t, rs.HasSomeParent(buf, "a"))
	require.False(t, rs.HasSomeParent(buf, "z"))
}

func TestLineBufferNextRecord(t *testing.T) {
	r := strings.NewReader("one\ntwo\nthree")
	lb := NewLineBuffer(r, 4, '\n') // capacity below the 64-byte minimum is raised to it
	var got []string
	for {
		rec, ok := lb.NextRecord()
		if !ok {
			break
		}
		got = append(got, string(rec))
	}
	require.Equal(t, []string{"one", "two", "three"}, got)
}
