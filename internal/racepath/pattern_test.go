package racepath

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLiteralMatch(t *testing.T) {
	p := MustCompile("a/b/c")
	require.True(t, p.Match("a/b/c"))
	require.False(t, p.Match("a/b/d"))
	require.False(t, p.Match("a/b"))
}

func TestStarMatchesExactlyOneSegment(t *testing.T) {
	p := MustCompile("a/*/c")
	require.True(t, p.Match("a/x/c"))
	require.False(t, p.Match("a/c"))
	require.False(t, p.Match("a/x/y/c"))
}

func TestDoubleStarMatchesAnyDepthIncludingZero(t *testing.T) {
	p := MustCompile("a/**/c")
	require.True(t, p.Match("a/c"))
	require.True(t, p.Match("a/x/c"))
	require.True(t, p.Match("a/x/y/c"))
	require.False(t, p.Match("a/x/y/d"))
}

func TestBraceAlternation(t *testing.T) {
	p := MustCompile("c{1,2}")
	require.True(t, p.Match("c1"))
	require.True(t, p.Match("c2"))
	require.False(t, p.Match("c3"))
}

func TestExpandPreservesCandidateOrder(t *testing.T) {
	p := MustCompile("c{1,2}")
	got := p.Expand([]string{"c3", "c1", "c2", "c4"})
	require.Equal(t, []string{"c1", "c2"}, got)
}

func TestIsGlob(t *testing.T) {
	require.False(t, MustCompile("a/b").IsGlob())
	require.True(t, MustCompile("a/*").IsGlob())
	require.True(t, MustCompile("a/**").IsGlob())
	require.True(t, MustCompile("c{1,2}").IsGlob())
}

func TestCompileRejectsEmptyBrace(t *testing.T) {
	_, err := Compile("c{}")
	require.Error(t, err)
}
