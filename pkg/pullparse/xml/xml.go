// Package xml implements the zero-allocation XML pull parser of
// spec.md §4.B. The parser's pull API mirrors the shape of
// influxdata/line-protocol's Decoder: the caller repeatedly calls a
// Next* method that returns a bool and updates public cursor fields
// (Tag, AttrName, AttrValue, Text) in place, rather than pushing
// events to a handler or allocating intermediate tokens.
package xml

import (
	"fmt"
	"strings"

	"github.com/race-platform/race-core/internal/racepath"
	"github.com/race-platform/race-core/pkg/slicebuf"
)

type state int

const (
	stateTag state = iota
	stateAttr
	stateEndTag
	stateContent
	stateFinished
)

// StructuralError is spec.md §7's StructuralParseError: buffer ended
// mid-token, unbalanced element, non-quoted attribute, bad delimiter.
// It carries the byte offset and a short context snippet and the
// parser does not advance past the fault.
type StructuralError struct {
	Offset  int
	Context string // at most 20 bytes of surrounding input
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("xml: structural error at offset %d near %q", e.Offset, e.Context)
}

// Parser is a single-threaded, stateful pull parser over a borrowed
// byte buffer. It must not be shared between goroutines, and may be
// reused across inputs via Reset.
type Parser struct {
	buf   []byte
	idx   int
	state state
	path  *slicebuf.RangeStack

	// Cursor fields updated by ParseNextElement / ParseNextAttribute /
	// ParseTrimmedText. Callers read these immediately after a call
	// returns true; they are overwritten by the next call.
	Tag                 slicebuf.Slice
	IsStartElement      bool
	IsEmptyElement      bool
	LastWasStartElement bool
	AttrName            slicebuf.Slice
	AttrValue           slicebuf.Slice
	Text                slicebuf.Slice

	// attrScan/attrScanEnd delimit the attribute region of the most
	// recently parsed start tag, consumed incrementally by
	// ParseNextAttribute.
	attrScan, attrScanEnd int

	pendingEmptyPop bool
}

// New returns a parser over buf, positioned before the first token.
func New(buf []byte) *Parser {
	p := &Parser{buf: buf, path: slicebuf.NewRangeStack(8)}
	return p
}

// Reset repoints the parser at a new buffer, discarding all state, so
// that a single Parser instance can be reused across inputs.
func (p *Parser) Reset(buf []byte) {
	p.buf = buf
	p.idx = 0
	p.state = stateTag
	p.path.Clear()
	p.pendingEmptyPop = false
	p.LastWasStartElement = false
}

// Depth returns the current element-nesting depth.
func (p *Parser) Depth() int { return p.path.Depth() }

// HasParent reports whether the current element's immediate parent
// is named name, per spec.md §4.B's path-tracking predicates.
func (p *Parser) HasParent(name string) bool {
	return p.path.HasParent(p.buf, name)
}

// HasParents reports whether the current element's ancestor chain,
// read from the immediate parent upward, matches names in order.
func (p *Parser) HasParents(names ...string) bool {
	return p.path.HasParents(p.buf, names...)
}

// HasSomeParent reports whether any ancestor of the current element
// (not just the immediate parent) is named name.
func (p *Parser) HasSomeParent(name string) bool {
	return p.path.HasSomeParent(p.buf, name)
}

// CurrentPath returns the `/`-rooted path of the element currently on
// top of the path stack, oldest ancestor first, for use with
// MatchPath or any other racepath.Pattern.
func (p *Parser) CurrentPath() string {
	depth := p.path.Depth()
	if depth == 0 {
		return "/"
	}
	parts := make([]string, depth)
	for i := 0; i < depth; i++ {
		r, _ := p.path.PeekAt(depth - 1 - i)
		parts[i] = r.Slice(p.buf).String()
	}
	return "/" + strings.Join(parts, "/")
}

// MatchPath reports whether the current element's path matches the
// compiled glob pattern (`*` for a single element, `**` for any
// depth), reusing the same pattern engine internal/formula and
// internal/constraint compile update-filter and cell-reference
// patterns with.
func (p *Parser) MatchPath(pat racepath.Pattern) bool {
	return pat.Match(p.CurrentPath())
}

func (p *Parser) ctxSnippet(at int) string {
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

func (p *Parser) structErr(at int) error {
	return &StructuralError{Offset: at, Context: p.ctxSnippet(at)}
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\r' || c == '\n' }

func (p *Parser) skipSpaces() {
	for p.idx < len(p.buf) && isSpace(p.buf[p.idx]) {
		p.idx++
	}
}

// skipNonContent skips any run of `<?...?>` processing instructions
// (the prolog included) and `<!--...-->` comments at the cursor. It
// stops at the first byte that begins neither, and returns a
// StructuralError if one of them is unterminated.
func (p *Parser) skipNonContent() error {
	for {
		if p.idx >= len(p.buf) {
			return nil
		}
		if p.buf[p.idx] != '<' {
			return nil
		}
		switch {
		case hasPrefixAt(p.buf, p.idx, "<?"):
			end := indexFrom(p.buf, p.idx, "?>")
			if end < 0 {
				return p.structErr(p.idx)
			}
			p.idx = end + 2
		case hasPrefixAt(p.buf, p.idx, "<!--"):
			end := indexFrom(p.buf, p.idx, "-->")
			if end < 0 {
				return p.structErr(p.idx)
			}
			p.idx = end + 3
		default:
			return nil
		}
	}
}

func hasPrefixAt(buf []byte, at int, prefix string) bool {
	if at+len(prefix) > len(buf) {
		return false
	}
	return string(buf[at:at+len(prefix)]) == prefix
}

func indexFrom(buf []byte, from int, sep string) int {
	n := len(sep)
	for i := from; i+n <= len(buf); i++ {
		if string(buf[i:i+n]) == sep {
			return i
		}
	}
	return -1
}

// ParseNextElement advances to the next start or end tag and returns
// false once the document is exhausted. A CDATA section met on the way
// is not returned as a tag: its content (merged with any literal text
// that follows it) is left in Text and the call goes on to the next
// tag. Other element text must be consumed first with
// ParseTrimmedText, ParseNextDouble or ParseNextInt.
func (p *Parser) ParseNextElement() (bool, error) {
	if p.pendingEmptyPop {
		// The previous call returned an empty-element start tag
		// (<x/>); spec.md §4.B requires it to push then immediately
		// pop so hasParent() behaves the same as for text-bearing
		// elements. We surface that pop as a synthetic end tag now.
		p.pendingEmptyPop = false
		r, _ := p.path.Pop()
		p.Tag = r.Slice(p.buf)
		p.IsStartElement = false
		p.IsEmptyElement = false
		p.LastWasStartElement = false
		return true, nil
	}

	if p.state == stateFinished {
		return false, nil
	}

	if err := p.skipNonContent(); err != nil {
		return false, err
	}
	if p.idx >= len(p.buf) {
		p.state = stateFinished
		return false, nil
	}
	if p.buf[p.idx] != '<' {
		return false, p.structErr(p.idx)
	}

	start := p.idx
	p.idx++ // consume '<'

	if p.idx < len(p.buf) && p.buf[p.idx] == '/' {
		p.idx++
		nameStart := p.idx
		for p.idx < len(p.buf) && p.buf[p.idx] != '>' {
			p.idx++
		}
		if p.idx >= len(p.buf) {
			return false, p.structErr(start)
		}
		name := p.buf[nameStart:p.idx]
		p.idx++ // consume '>'

		top, ok := p.path.Pop()
		if !ok {
			return false, p.structErr(start)
		}
		if top.Slice(p.buf).String() != string(name) {
			return false, p.structErr(start)
		}

		p.Tag = slicebuf.New(p.buf, nameStart, len(name))
		p.IsStartElement = false
		p.IsEmptyElement = false
		p.LastWasStartElement = false
		p.state = stateTag
		return true, nil
	}

	// Handle CDATA as a content run, not a tag.
	if hasPrefixAt(p.buf, start, "<![CDATA[") {
		return p.parseCDATARun(start)
	}

	nameStart := p.idx
	for p.idx < len(p.buf) && !isSpace(p.buf[p.idx]) && p.buf[p.idx] != '>' && p.buf[p.idx] != '/' {
		p.idx++
	}
	if p.idx == nameStart {
		return false, p.structErr(start)
	}
	name := p.buf[nameStart:p.idx]

	p.skipAttributesToTagEnd()

	closeIdx := p.idx
	if closeIdx >= len(p.buf) {
		return false, p.structErr(start)
	}
	empty := false
	if p.buf[closeIdx] == '/' {
		empty = true
		closeIdx++
	}
	if closeIdx >= len(p.buf) || p.buf[closeIdx] != '>' {
		return false, p.structErr(start)
	}
	p.idx = closeIdx + 1

	p.Tag = slicebuf.New(p.buf, nameStart, len(name))
	p.IsStartElement = true
	p.IsEmptyElement = empty
	p.LastWasStartElement = true
	p.attrScan = nameStart + len(name)
	p.attrScanEnd = closeIdx

	p.path.Push(nameStart, len(name))
	if empty {
		p.pendingEmptyPop = true
	}
	p.state = stateContent
	return true, nil
}

// parseCDATARun consumes one or more `<![CDATA[...]]>` sections
// starting at start, plus any ordinary text immediately following
// them up to the next '<' (spec.md §4.B: "CDATA text is preserved as
// content"). A lone CDATA section's content is a single borrowed
// slice, same as before; when literal text follows it inside the same
// element (e.g. `<a>foo<![CDATA[bar]]>baz</a>`), the CDATA content and
// the trailing literal run are not contiguous in the backing buffer,
// so they are merged into one owned fragment via RangeStack-style
// multi-fragment accumulation (spec.md §4.A). Once content is
// exhausted it recurses to surface the next real tag, with Text left
// set to the accumulated run.
func (p *Parser) parseCDATARun(start int) (bool, error) {
	var merged []byte
	single := slicebuf.Slice{}
	fragments := 0

	for {
		end := indexFrom(p.buf, start, "]]>")
		if end < 0 {
			return false, p.structErr(start)
		}
		contentStart := start + len("<![CDATA[")
		if fragments == 0 {
			single = slicebuf.New(p.buf, contentStart, end-contentStart)
		} else {
			merged = append(merged, p.buf[contentStart:end]...)
		}
		fragments++
		p.idx = end + 3

		textStart := p.idx
		for p.idx < len(p.buf) && p.buf[p.idx] != '<' {
			p.idx++
		}
		if p.idx > textStart {
			if fragments == 1 {
				merged = append(merged, single.Bytes()...)
			}
			merged = append(merged, p.buf[textStart:p.idx]...)
			fragments++
		}

		if p.idx < len(p.buf) && hasPrefixAt(p.buf, p.idx, "<![CDATA[") {
			if fragments == 1 {
				merged = append(merged, single.Bytes()...)
				fragments++
			}
			start = p.idx
			continue
		}
		break
	}

	if fragments <= 1 {
		p.Text = single
	} else {
		p.Text = slicebuf.New(merged, 0, len(merged))
	}
	return p.ParseNextElement()
}

// attrScan/attrScanEnd delimit the attribute region of the most
// recently parsed start tag, used by ParseNextAttribute and by
// skipAttributesToTagEnd to find the tag's closing '>' without
// allocating an attribute list.
func (p *Parser) skipAttributesToTagEnd() {
	for p.idx < len(p.buf) {
		p.skipSpaces()
		if p.idx >= len(p.buf) {
			return
		}
		if p.buf[p.idx] == '>' || p.buf[p.idx] == '/' {
			return
		}
		// skip name=
		for p.idx < len(p.buf) && p.buf[p.idx] != '=' && !isSpace(p.buf[p.idx]) && p.buf[p.idx] != '>' && p.buf[p.idx] != '/' {
			p.idx++
		}
		p.skipSpaces()
		if p.idx < len(p.buf) && p.buf[p.idx] == '=' {
			p.idx++
			p.skipSpaces()
			if p.idx < len(p.buf) && (p.buf[p.idx] == '"' || p.buf[p.idx] == '\'') {
				q := p.buf[p.idx]
				p.idx++
				for p.idx < len(p.buf) && p.buf[p.idx] != q {
					p.idx++
				}
				p.idx++ // consume closing quote
			}
		}
	}
}

// ParseNextAttribute walks the attribute list of the current start
// tag, surfacing each name/value pair in AttrName/AttrValue. Returns
// false once the tag's attributes are exhausted.
func (p *Parser) ParseNextAttribute() (bool, error) {
	i := p.attrScan
	for i < p.attrScanEnd && isSpace(p.buf[i]) {
		i++
	}
	if i >= p.attrScanEnd || p.buf[i] == '/' {
		return false, nil
	}

	nameStart := i
	for i < p.attrScanEnd && p.buf[i] != '=' && !isSpace(p.buf[i]) {
		i++
	}
	nameEnd := i
	if nameStart == nameEnd {
		return false, nil
	}

	for i < p.attrScanEnd && isSpace(p.buf[i]) {
		i++
	}
	if i >= p.attrScanEnd || p.buf[i] != '=' {
		return false, p.structErr(i)
	}
	i++
	for i < p.attrScanEnd && isSpace(p.buf[i]) {
		i++
	}
	if i >= p.attrScanEnd || (p.buf[i] != '"' && p.buf[i] != '\'') {
		return false, p.structErr(i)
	}
	q := p.buf[i]
	i++
	valStart := i
	for i < p.attrScanEnd && p.buf[i] != q {
		i++
	}
	if i >= p.attrScanEnd {
		return false, p.structErr(i)
	}
	valEnd := i
	i++ // consume closing quote

	p.AttrName = slicebuf.New(p.buf, nameStart, nameEnd-nameStart)
	p.AttrValue = slicebuf.New(p.buf, valStart, valEnd-valStart)
	p.attrScan = i
	return true, nil
}

// ParseTrimmedText reads up to the next '<', trims ASCII whitespace
// from both ends, and yields a slice into the backing buffer.
func (p *Parser) ParseTrimmedText() (slicebuf.Slice, bool) {
	start := p.idx
	for p.idx < len(p.buf) && p.buf[p.idx] != '<' {
		p.idx++
	}
	end := p.idx
	for start < end && isSpace(p.buf[start]) {
		start++
	}
	for end > start && isSpace(p.buf[end-1]) {
		end--
	}
	if start == end {
		return slicebuf.Slice{}, false
	}
	p.Text = slicebuf.New(p.buf, start, end-start)
	return p.Text, true
}

// ParseNextDouble walks whitespace- or comma-separated numeric values
// inside the current element's content without allocating, used for
// coordinate streams. ok is false once no further number is found
// before the next '<'.
func (p *Parser) ParseNextDouble() (float64, bool, error) {
	p.skipListSeparators()
	start := p.idx
	for p.idx < len(p.buf) && p.buf[p.idx] != '<' && !isListSeparator(p.buf[p.idx]) {
		p.idx++
	}
	if p.idx == start {
		return 0, false, nil
	}
	v, err := slicebuf.New(p.buf, start, p.idx-start).ToFloat64()
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// ParseNextInt is ParseNextDouble's integer counterpart.
func (p *Parser) ParseNextInt() (int64, bool, error) {
	p.skipListSeparators()
	start := p.idx
	for p.idx < len(p.buf) && p.buf[p.idx] != '<' && !isListSeparator(p.buf[p.idx]) {
		p.idx++
	}
	if p.idx == start {
		return 0, false, nil
	}
	v, err := slicebuf.New(p.buf, start, p.idx-start).ToInt64()
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func isListSeparator(c byte) bool { return isSpace(c) || c == ',' }

func (p *Parser) skipListSeparators() {
	for p.idx < len(p.buf) && isListSeparator(p.buf[p.idx]) {
		p.idx++
	}
}
