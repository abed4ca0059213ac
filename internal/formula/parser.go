package formula

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/race-platform/race-core/internal/tabular"
)

// parser walks a token stream produced by lex into an expr tree. It
// knows nothing about the node's declared columns/rows — reference
// atoms are kept as raw text and resolved in a later compile pass.
type parser struct {
	toks []token
	pos  int
}

// parse parses a complete formula body, e.g. "(RealSum ../r1 ../r2)".
func parse(src string) (expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("formula: trailing tokens after expression: %q", p.peek().text)
	}
	return e, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) parseExpr() (expr, error) {
	t := p.peek()
	switch t.kind {
	case tokLParen:
		return p.parseCall()
	case tokAtom:
		p.next()
		return parseAtom(t.text)
	default:
		return nil, fmt.Errorf("formula: unexpected token %q", t.text)
	}
}

func (p *parser) parseCall() (expr, error) {
	p.next() // consume '('
	nameTok := p.peek()
	if nameTok.kind != tokAtom {
		return nil, fmt.Errorf("formula: expected function name after '('")
	}
	p.next()
	call := &callExpr{name: nameTok.text}
	for p.peek().kind != tokRParen {
		if p.peek().kind == tokEOF {
			return nil, fmt.Errorf("formula: unterminated call to %q", call.name)
		}
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		call.args = append(call.args, arg)
	}
	p.next() // consume ')'
	return call, nil
}

// parseAtom classifies a bare atom as a numeric literal, a boolean
// literal, or a cell reference.
func parseAtom(text string) (expr, error) {
	if text == "true" || text == "false" {
		return &litExpr{value: tabular.NewBoolean(text == "true", zeroTime)}, nil
	}
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		return &litExpr{value: tabular.NewInteger(i, zeroTime)}, nil
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return &litExpr{value: tabular.NewReal(f, zeroTime)}, nil
	}
	return parseRef(text)
}

// parseRef splits a reference atom on "::" into its column and row
// halves. A reference with no "::" is a row-only reference; its
// column half defaults to "." (the formula's own column).
func parseRef(text string) (*refExpr, error) {
	if text == "" {
		return nil, fmt.Errorf("formula: empty reference")
	}
	if idx := strings.Index(text, "::"); idx >= 0 {
		col, row := text[:idx], text[idx+2:]
		if col == "" || row == "" {
			return nil, fmt.Errorf("formula: malformed reference %q", text)
		}
		return &refExpr{raw: text, columnRaw: col, rowRaw: row}, nil
	}
	return &refExpr{raw: text, columnRaw: ".", rowRaw: text}, nil
}
