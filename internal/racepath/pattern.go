// Package racepath implements the UNIX-style glob path matching spec.md
// §3/§4.G needs in three places: column/row update-filter patterns,
// formula cell-reference patterns (`col::row` where either half may be
// a glob), and pkg/pullparse/xml's element-path predicates (spec.md
// §4.B's compiled glob-path match over the path stack). Paths are
// `/`-separated; a segment may be a literal, `*`
// (exactly one segment), `**` (any number of segments, including
// zero), or a brace alternation `{a,b,c}` of literals, optionally
// combined with a surrounding literal prefix/suffix in the same
// segment (e.g. `c{1,2}` expands to `c1`/`c2`). This mirrors
// internal/config/nodelist.go's small chain-of-consuming-terms parser,
// generalized from a flat hostname-range grammar to `/`-delimited
// paths with a recursive-descent wildcard.
package racepath

import (
	"fmt"
	"strings"
)

// segment is one `/`-delimited piece of a compiled Pattern.
type segment struct {
	kind segmentKind
	alts []string // literal text, or the brace alternatives
}

type segmentKind int

const (
	segLiteral segmentKind = iota
	segStar
	segDoubleStar
	segAlt
)

// Pattern is a compiled path pattern, ready to test concrete paths
// against or to expand against a known universe of paths.
type Pattern struct {
	segments []segment
	raw      string
}

// Compile parses a pattern string into a Pattern. An empty pattern
// matches only the empty path.
func Compile(raw string) (Pattern, error) {
	parts := splitPath(raw)
	segs := make([]segment, 0, len(parts))
	for _, p := range parts {
		s, err := compileSegment(p)
		if err != nil {
			return Pattern{}, fmt.Errorf("racepath: %q: %w", raw, err)
		}
		segs = append(segs, s)
	}
	return Pattern{segments: segs, raw: raw}, nil
}

// MustCompile panics on a malformed pattern; intended for compile-time
// constant patterns in tests and internal call sites where the error
// has already been surfaced to the user once.
func MustCompile(raw string) Pattern {
	p, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func splitPath(raw string) []string {
	raw = strings.Trim(raw, "/")
	if raw == "" {
		return nil
	}
	return strings.Split(raw, "/")
}

func compileSegment(part string) (segment, error) {
	switch part {
	case "*":
		return segment{kind: segStar}, nil
	case "**":
		return segment{kind: segDoubleStar}, nil
	}
	open := strings.IndexByte(part, '{')
	if open < 0 {
		return segment{kind: segLiteral, alts: []string{part}}, nil
	}
	shut := strings.IndexByte(part[open:], '}')
	if shut < 0 {
		return segment{}, fmt.Errorf("unterminated brace alternation in %q", part)
	}
	shut += open
	inner := part[open+1 : shut]
	if inner == "" {
		return segment{}, fmt.Errorf("empty brace alternation in %q", part)
	}
	prefix, suffix := part[:open], part[shut+1:]
	alts := strings.Split(inner, ",")
	for i, a := range alts {
		alts[i] = prefix + a + suffix
	}
	return segment{kind: segAlt, alts: alts}, nil
}

// String returns the original pattern text.
func (p Pattern) String() string { return p.raw }

// IsGlob reports whether the pattern contains any wildcard segment,
// i.e. whether it can match more than one concrete path.
func (p Pattern) IsGlob() bool {
	for _, s := range p.segments {
		if s.kind != segLiteral || len(s.alts) > 1 {
			return true
		}
	}
	return false
}

// Match reports whether path (a concrete, wildcard-free `/`-separated
// path) matches the pattern.
func (p Pattern) Match(path string) bool {
	return matchSegments(p.segments, splitPath(path))
}

func matchSegments(pat []segment, parts []string) bool {
	if len(pat) == 0 {
		return len(parts) == 0
	}
	head := pat[0]
	if head.kind == segDoubleStar {
		// ** may consume zero or more path segments.
		for consume := 0; consume <= len(parts); consume++ {
			if matchSegments(pat[1:], parts[consume:]) {
				return true
			}
		}
		return false
	}
	if len(parts) == 0 {
		return false
	}
	switch head.kind {
	case segLiteral, segAlt:
		if !containsString(head.alts, parts[0]) {
			return false
		}
	case segStar:
		// matches exactly one segment, any content
	}
	return matchSegments(pat[1:], parts[1:])
}

func containsString(ss []string, s string) bool {
	for _, c := range ss {
		if c == s {
			return true
		}
	}
	return false
}

// Expand returns every element of candidates that matches the
// pattern, preserving candidates' order. Used at formula-compile time
// to turn a glob cell-reference half into a concrete set of ids.
func (p Pattern) Expand(candidates []string) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if p.Match(c) {
			out = append(out, c)
		}
	}
	return out
}
