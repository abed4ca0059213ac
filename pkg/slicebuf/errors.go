package slicebuf

import "fmt"

// ContentError is spec.md §7's ContentParseError: a data-content fault
// (bad numeric literal, unknown enum spelling) that carries the
// offending slice for diagnostics. Unlike a structural fault it never
// implies the cursor should stop advancing.
type ContentError struct {
	Kind string // e.g. "integer", "float", "bool", "hex", "escape"
	Text string // the offending text, materialized for the error message
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("slicebuf: invalid %s literal: %q", e.Kind, e.Text)
}

func contentErr(kind string, s Slice) error {
	return &ContentError{Kind: kind, Text: s.String()}
}
