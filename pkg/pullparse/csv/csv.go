// Package csv implements the UTF-8 CSV pull parser of spec.md §4.B:
// row-oriented reading over a slicebuf.LineBuffer, fields surfaced one
// at a time as borrowed slices. Quoted-field handling is intentionally
// not part of the contract: the aviation CSV inputs this parser is
// built for are unquoted, matching spec.md's explicit carve-out.
package csv

import (
	"fmt"

	"github.com/race-platform/race-core/pkg/slicebuf"
)

// StructuralError mirrors the xml package's error type, locating a
// malformed record by line number and context. No function of this
// package returns it; ReadNextValue with no current record reports
// ok == false instead.
type StructuralError struct {
	Line    int
	Context string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("csv: structural error at line %d near %q", e.Line, e.Context)
}

// Parser pulls fields out of one record at a time. It owns no input
// buffering itself beyond the current record slice handed to it by
// the LineBuffer; SkipToNextRecord must be called before the first
// ReadNextValue of each record.
type Parser struct {
	lb    *slicebuf.LineBuffer
	rec   []byte
	pos   int
	field slicebuf.Slice
	sep   byte
}

// New returns a parser pulling records from lb, splitting each record
// on sep (typically ',').
func New(lb *slicebuf.LineBuffer, sep byte) *Parser {
	return &Parser{lb: lb, sep: sep}
}

// SkipToNextRecord advances to the next record, discarding whatever
// remains unread of the current one. It returns false at end of input.
func (p *Parser) SkipToNextRecord() bool {
	rec, ok := p.lb.NextRecord()
	if !ok {
		p.rec = nil
		return false
	}
	p.rec = rec
	p.pos = 0
	return true
}

// ReadNextValue returns the next field of the current record as a
// slice. ok is false once the record's fields are exhausted; the
// caller must call SkipToNextRecord to move on.
func (p *Parser) ReadNextValue() (slicebuf.Slice, bool) {
	if p.rec == nil || p.pos > len(p.rec) {
		return slicebuf.Slice{}, false
	}

	start := p.pos
	for p.pos < len(p.rec) && p.rec[p.pos] != p.sep {
		p.pos++
	}
	p.field = slicebuf.New(p.rec, start, p.pos-start)

	if p.pos < len(p.rec) {
		p.pos++ // consume separator
	} else {
		p.pos++ // sentinel: past-end marks "no more fields"
	}
	return p.field, true
}

// RecordLineNumber returns the 1-based line number of the current
// record, for diagnostics.
func (p *Parser) RecordLineNumber() int { return p.lb.LineNumber() }
