// Package json implements the JSON pull parser of spec.md §4.B: a
// recursive pull API (ForeachMemberInCurrentObject,
// ForeachElementInCurrentArray) that leaves the cursor positioned on
// each member's value without allocating an intermediate document
// tree. Callers consume the value with QuotedValue/UnquotedValue/
// IsNull from inside the iteration callback; a value the callback
// doesn't consume is skipped automatically before the next member is
// read, so a caller may safely ignore fields it doesn't recognize.
package json

import (
	"fmt"

	"github.com/race-platform/race-core/pkg/slicebuf"
)

// StructuralError mirrors the xml/csv packages' variant.
type StructuralError struct {
	Offset  int
	Context string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("json: structural error at offset %d near %q", e.Offset, e.Context)
}

// Parser is single-threaded and stateful, like the XML and CSV
// parsers it shares a design with.
type Parser struct {
	buf     []byte
	idx     int
	ctxKind []byte // stack of '{' / '[' tracking nesting for IsInObject

	// Member is the most recently read object-member name, valid
	// until the next ForeachMemberInCurrentObject iteration step.
	Member slicebuf.Slice
}

// New returns a parser over buf positioned at the start of the
// document.
func New(buf []byte) *Parser {
	return &Parser{buf: buf}
}

// Reset repoints the parser at a new buffer.
func (p *Parser) Reset(buf []byte) {
	p.buf = buf
	p.idx = 0
	p.ctxKind = p.ctxKind[:0]
}

func isWS(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }

func (p *Parser) skipWS() {
	for p.idx < len(p.buf) && isWS(p.buf[p.idx]) {
		p.idx++
	}
}

func (p *Parser) ctxSnippet() string {
	at := p.idx
	start := at - 10
	if start < 0 {
		start = 0
	}
	end := at + 10
	if end > len(p.buf) {
		end = len(p.buf)
	}
	return string(p.buf[start:end])
}

func (p *Parser) structErr() error {
	return &StructuralError{Offset: p.idx, Context: p.ctxSnippet()}
}

func (p *Parser) peek() (byte, bool) {
	if p.idx >= len(p.buf) {
		return 0, false
	}
	return p.buf[p.idx], true
}

func (p *Parser) expect(c byte) error {
	b, ok := p.peek()
	if !ok || b != c {
		return p.structErr()
	}
	p.idx++
	return nil
}

// IsInObject reports whether the cursor is currently nested inside an
// object (as opposed to an array or the top level).
func (p *Parser) IsInObject() bool {
	if len(p.ctxKind) == 0 {
		return false
	}
	return p.ctxKind[len(p.ctxKind)-1] == '{'
}

// IsNull reports whether the value at the cursor is the literal null,
// without consuming it.
func (p *Parser) IsNull() bool {
	save := p.idx
	p.skipWS()
	ok := hasPrefixAt(p.buf, p.idx, "null")
	p.idx = save
	return ok
}

func hasPrefixAt(buf []byte, at int, s string) bool {
	if at+len(s) > len(buf) {
		return false
	}
	return string(buf[at:at+len(s)]) == s
}

// readRawString consumes a JSON string literal (including quotes) and
// returns the raw (still-escaped) text inside the quotes.
func (p *Parser) readRawString() (slicebuf.Slice, error) {
	if err := p.expect('"'); err != nil {
		return slicebuf.Slice{}, err
	}
	start := p.idx
	for p.idx < len(p.buf) {
		c := p.buf[p.idx]
		if c == '\\' {
			p.idx += 2
			continue
		}
		if c == '"' {
			s := slicebuf.New(p.buf, start, p.idx-start)
			p.idx++
			return s, nil
		}
		p.idx++
	}
	return slicebuf.Slice{}, p.structErr()
}

// QuotedValue reads the current value as a JSON string literal,
// returning the raw (escaped) content. Call Slice.UnescapeString on
// the result to decode escapes on demand.
func (p *Parser) QuotedValue() (slicebuf.Slice, error) {
	p.skipWS()
	return p.readRawString()
}

// UnquotedValue reads the current value's raw text when it is a
// number, boolean, or null literal (i.e. anything not a JSON string
// or structural container).
func (p *Parser) UnquotedValue() (slicebuf.Slice, error) {
	p.skipWS()
	start := p.idx
	for p.idx < len(p.buf) {
		c := p.buf[p.idx]
		if c == ',' || c == '}' || c == ']' || isWS(c) {
			break
		}
		p.idx++
	}
	if p.idx == start {
		return slicebuf.Slice{}, p.structErr()
	}
	return slicebuf.New(p.buf, start, p.idx-start), nil
}

// skipValue consumes one complete value of any kind (object, array,
// string, or bare literal) starting at the cursor, used both for
// explicit skipping and to auto-advance past values a callback left
// unconsumed.
func (p *Parser) skipValue() error {
	p.skipWS()
	c, ok := p.peek()
	if !ok {
		return p.structErr()
	}
	switch c {
	case '"':
		_, err := p.readRawString()
		return err
	case '{':
		return p.ForeachMemberInCurrentObject(func(slicebuf.Slice) error { return nil })
	case '[':
		return p.ForeachElementInCurrentArray(func() error { return nil })
	default:
		_, err := p.UnquotedValue()
		return err
	}
}

// SkipValue exposes skipValue for callers that want to explicitly
// discard the value at the cursor.
func (p *Parser) SkipValue() error { return p.skipValue() }

// ForeachMemberInCurrentObject consumes a '{' ... '}' object at the
// cursor, invoking f once per member with the member name; f must
// consume the member's value using QuotedValue/UnquotedValue/
// ForeachMemberInCurrentObject/ForeachElementInCurrentArray as
// appropriate, or it is skipped automatically.
func (p *Parser) ForeachMemberInCurrentObject(f func(member slicebuf.Slice) error) error {
	p.skipWS()
	if err := p.expect('{'); err != nil {
		return err
	}
	p.ctxKind = append(p.ctxKind, '{')
	defer func() { p.ctxKind = p.ctxKind[:len(p.ctxKind)-1] }()

	p.skipWS()
	if c, ok := p.peek(); ok && c == '}' {
		p.idx++
		return nil
	}

	for {
		p.skipWS()
		name, err := p.readRawString()
		if err != nil {
			return err
		}
		p.Member = name

		p.skipWS()
		if err := p.expect(':'); err != nil {
			return err
		}

		before := p.idx
		if err := f(name); err != nil {
			return err
		}
		if p.idx == before {
			if err := p.skipValue(); err != nil {
				return err
			}
		}

		p.skipWS()
		c, ok := p.peek()
		if !ok {
			return p.structErr()
		}
		if c == ',' {
			p.idx++
			continue
		}
		if c == '}' {
			p.idx++
			return nil
		}
		return p.structErr()
	}
}

// ForeachElementInCurrentArray consumes a '[' ... ']' array at the
// cursor, invoking f once per element with the cursor positioned on
// it; an element f doesn't consume is skipped automatically.
func (p *Parser) ForeachElementInCurrentArray(f func() error) error {
	p.skipWS()
	if err := p.expect('['); err != nil {
		return err
	}
	p.ctxKind = append(p.ctxKind, '[')
	defer func() { p.ctxKind = p.ctxKind[:len(p.ctxKind)-1] }()

	p.skipWS()
	if c, ok := p.peek(); ok && c == ']' {
		p.idx++
		return nil
	}

	for {
		before := p.idx
		if err := f(); err != nil {
			return err
		}
		if p.idx == before {
			if err := p.skipValue(); err != nil {
				return err
			}
		}

		p.skipWS()
		c, ok := p.peek()
		if !ok {
			return p.structErr()
		}
		if c == ',' {
			p.idx++
			continue
		}
		if c == ']' {
			p.idx++
			return nil
		}
		return p.structErr()
	}
}
