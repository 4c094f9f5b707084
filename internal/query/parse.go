// Package query runs ad hoc read queries written in a small SQL-like
// language against the depot entities. A query names logical fields and
// entities; it is compiled once per dialect into parameterized SQL and its
// results are streamed back in bounded batches.
//
//	select exitStatus, body from Report where seriesId = :sid order by id desc limit 10
//	select Report from Report where exitMessage is not null
//	select collected, wallClockTimeSec from InstanceInfo of :series order by collected desc
//
// Instances are stored per series, so a query over InstanceInfo names the
// series with "of" followed by a series id or a parameter.
package query

import (
	"strconv"
	"strings"
	"text/scanner"

	"github.com/pkg/errors"

	"github.com/mesh-intelligence/depot/pkg/types"
)

// Operand is the right-hand side of a comparison: either a named
// parameter or a literal.
type Operand struct {
	Param   string
	Literal any
}

// Condition is one predicate of the where clause.
type Condition struct {
	Field   string
	Op      string
	Operand Operand
}

// Ordering is one order by term.
type Ordering struct {
	Field string
	Desc  bool
}

// Statement is a parsed query. Where holds a disjunction of conjunctions:
// "a and b or c" parses as [[a b] [c]]. Series is the "of" operand.
type Statement struct {
	Fields []string
	Entity bool
	From   string
	Series *Operand
	Where  [][]Condition
	Order  []Ordering
	Limit  uint
}

var comparisons = map[string]bool{
	"=": true, "!=": true, "<>": true, "<": true, "<=": true, ">": true, ">=": true, "like": true,
}

type token struct {
	kind rune
	text string
	pos  scanner.Position
}

type parser struct {
	toks []token
	pos  int
}

// Parse parses text into a Statement. Keywords are case-insensitive.
func Parse(text string) (*Statement, error) {
	toks, err := tokenize(text)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	return p.statement()
}

func invalid(format string, args ...any) error {
	return errors.Wrapf(types.ErrInvalidQuery, format, args...)
}

func tokenize(text string) ([]token, error) {
	var s scanner.Scanner
	s.Init(strings.NewReader(text))
	s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats | scanner.ScanStrings
	var scanErr error
	s.Error = func(_ *scanner.Scanner, msg string) { scanErr = invalid("%s", msg) }

	var toks []token
	for tok := s.Scan(); tok != scanner.EOF; tok = s.Scan() {
		if scanErr != nil {
			return nil, scanErr
		}
		t := token{kind: tok, text: s.TokenText(), pos: s.Position}
		switch tok {
		case '\'':
			var b strings.Builder
			for {
				ch := s.Next()
				if ch == scanner.EOF {
					return nil, invalid("unterminated string at %s", t.pos)
				}
				if ch == '\'' {
					if s.Peek() != '\'' {
						break
					}
					s.Next()
				}
				b.WriteRune(ch)
			}
			t = token{kind: scanner.String, text: strconv.Quote(b.String()), pos: t.pos}
		case '<', '>', '!':
			if next := s.Peek(); next == '=' || (tok == '<' && next == '>') {
				s.Next()
				t.text += string(next)
			}
		}
		toks = append(toks, t)
	}
	if scanErr != nil {
		return nil, scanErr
	}
	return toks, nil
}

func (p *parser) peek() token {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return token{kind: scanner.EOF}
}

func (p *parser) next() token {
	t := p.peek()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *parser) keyword(words ...string) bool {
	t := p.peek()
	if t.kind != scanner.Ident {
		return false
	}
	for _, w := range words {
		if strings.EqualFold(t.text, w) {
			return true
		}
	}
	return false
}

func (p *parser) expect(word string) error {
	if !p.keyword(word) {
		return invalid("expected %q, got %q", word, p.peek().text)
	}
	p.next()
	return nil
}

func (p *parser) ident() (string, error) {
	t := p.next()
	if t.kind != scanner.Ident {
		return "", invalid("expected a name, got %q", t.text)
	}
	return t.text, nil
}

func (p *parser) statement() (*Statement, error) {
	st := &Statement{}
	if err := p.expect("select"); err != nil {
		return nil, err
	}
	for {
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		st.Fields = append(st.Fields, name)
		if p.peek().kind != ',' {
			break
		}
		p.next()
	}
	if err := p.expect("from"); err != nil {
		return nil, err
	}
	from, err := p.ident()
	if err != nil {
		return nil, err
	}
	st.From = from
	if len(st.Fields) == 1 && strings.EqualFold(st.Fields[0], from) {
		st.Entity = true
		st.Fields = nil
	}
	if p.keyword("of") {
		p.next()
		op, err := p.operand()
		if err != nil {
			return nil, err
		}
		if _, isInt := op.Literal.(int64); op.Param == "" && !isInt {
			return nil, invalid("series must be an id or a parameter")
		}
		st.Series = &op
	}

	if p.keyword("where") {
		p.next()
		if st.Where, err = p.where(); err != nil {
			return nil, err
		}
	}
	if p.keyword("order") {
		p.next()
		if err := p.expect("by"); err != nil {
			return nil, err
		}
		if st.Order, err = p.order(); err != nil {
			return nil, err
		}
	}
	if p.keyword("limit") {
		p.next()
		t := p.next()
		n, err := strconv.ParseUint(t.text, 10, 32)
		if t.kind != scanner.Int || err != nil {
			return nil, invalid("bad limit %q", t.text)
		}
		st.Limit = uint(n)
	}
	if t := p.peek(); t.kind != scanner.EOF {
		return nil, invalid("unexpected %q at %s", t.text, t.pos)
	}
	return st, nil
}

func (p *parser) where() ([][]Condition, error) {
	var groups [][]Condition
	var current []Condition
	for {
		c, err := p.condition()
		if err != nil {
			return nil, err
		}
		current = append(current, c)
		switch {
		case p.keyword("and"):
			p.next()
		case p.keyword("or"):
			p.next()
			groups = append(groups, current)
			current = nil
		default:
			return append(groups, current), nil
		}
	}
}

func (p *parser) condition() (Condition, error) {
	field, err := p.ident()
	if err != nil {
		return Condition{}, err
	}
	c := Condition{Field: field}

	if p.keyword("is") {
		p.next()
		c.Op = "is null"
		if p.keyword("not") {
			p.next()
			c.Op = "is not null"
		}
		return c, p.expect("null")
	}

	op := p.next()
	c.Op = strings.ToLower(op.text)
	if !comparisons[c.Op] {
		return Condition{}, invalid("unknown operator %q", op.text)
	}
	c.Operand, err = p.operand()
	return c, err
}

func (p *parser) operand() (Operand, error) {
	t := p.next()
	if t.kind == '-' {
		if n := p.peek(); n.kind == scanner.Int || n.kind == scanner.Float {
			t = p.next()
			t.text = "-" + t.text
		}
	}
	switch t.kind {
	case ':':
		name, err := p.ident()
		return Operand{Param: name}, err
	case scanner.Int:
		v, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return Operand{}, invalid("bad integer %q", t.text)
		}
		return Operand{Literal: v}, nil
	case scanner.Float:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return Operand{}, invalid("bad number %q", t.text)
		}
		return Operand{Literal: v}, nil
	case scanner.String:
		v, err := strconv.Unquote(t.text)
		if err != nil {
			return Operand{}, invalid("bad string %s", t.text)
		}
		return Operand{Literal: v}, nil
	case scanner.Ident:
		switch strings.ToLower(t.text) {
		case "true":
			return Operand{Literal: true}, nil
		case "false":
			return Operand{Literal: false}, nil
		}
	}
	return Operand{}, invalid("expected a value, got %q", t.text)
}

func (p *parser) order() ([]Ordering, error) {
	var out []Ordering
	for {
		field, err := p.ident()
		if err != nil {
			return nil, err
		}
		o := Ordering{Field: field}
		if p.keyword("asc", "desc") {
			o.Desc = strings.EqualFold(p.next().text, "desc")
		}
		out = append(out, o)
		if p.peek().kind != ',' {
			return out, nil
		}
		p.next()
	}
}
