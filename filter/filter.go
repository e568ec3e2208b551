// Package filter implements the boolean expression language used to
// classify discovered resource records. Expressions are parsed into an
// AST and evaluated in-process against record fields, never interpolated
// into storage queries.
//
// Supported surface:
//
//	fields:      account_id, region, service, resource_type,
//	             resource_id, name, tags, tags_number, arn
//	literals:    'single' or "double" quoted strings, decimal integers
//	comparison:  = == != <> < <= > >=
//	pattern:     <field> LIKE '<pattern>'  (% any run, _ one character)
//	containment: '<key>' in tags
//	lookup:      tags['<key>']  (missing keys read as empty string)
//	logic:       AND OR NOT (case-insensitive; && || ! also accepted)
//
// A blank expression is the constant true.
package filter

import (
	"fmt"
	"strings"
)

// Expr is a parsed boolean expression.
type Expr interface {
	eval(rec Record) (bool, error)
}

// Parse compiles a filter string. A blank string yields an expression
// that is always true.
func Parse(input string) (Expr, error) {
	if strings.TrimSpace(input) == "" {
		return constExpr(true), nil
	}
	p := &parser{lex: &lexer{input: input}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at position %d", p.cur.text, p.cur.pos)
	}
	return expr, nil
}

type constExpr bool

func (c constExpr) eval(Record) (bool, error) { return bool(c), nil }

type binaryExpr struct {
	op          tokenKind // tokAnd or tokOr
	left, right Expr
}

func (b *binaryExpr) eval(rec Record) (bool, error) {
	l, err := b.left.eval(rec)
	if err != nil {
		return false, err
	}
	if b.op == tokAnd && !l {
		return false, nil
	}
	if b.op == tokOr && l {
		return true, nil
	}
	return b.right.eval(rec)
}

type notExpr struct{ inner Expr }

func (n *notExpr) eval(rec Record) (bool, error) {
	v, err := n.inner.eval(rec)
	return !v, err
}

type parser struct {
	lex *lexer
	cur token
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = tok
	return nil
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokOr {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: tokOr, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokAnd {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: tokAnd, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.cur.kind == tokNot {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notExpr{inner: inner}, nil
	}
	if p.cur.kind == tokLParen {
		if err := p.advance(); err != nil {
			return nil, err
		}
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.cur.kind != tokRParen {
			return nil, fmt.Errorf("expected ) at position %d", p.cur.pos)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return expr, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	switch p.cur.kind {
	case tokOp:
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &cmpExpr{op: op, left: left, right: right}, nil

	case tokLike:
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.kind != tokString {
			return nil, fmt.Errorf("LIKE requires a string pattern at position %d", p.cur.pos)
		}
		pattern := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return newLikeExpr(left, pattern)

	case tokIn:
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.kind != tokIdent || p.cur.text != "tags" {
			return nil, fmt.Errorf("IN is only supported against tags, at position %d", p.cur.pos)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &inTagsExpr{key: left}, nil

	default:
		return nil, fmt.Errorf("expected comparison operator at position %d", p.cur.pos)
	}
}

func (p *parser) parseOperand() (operand, error) {
	switch p.cur.kind {
	case tokString:
		op := stringOperand(p.cur.text)
		return op, p.advance()

	case tokNumber:
		op := numberOperand(p.cur.text)
		return op, p.advance()

	case tokIdent:
		name := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if name == "tags" {
			return p.parseTagLookup()
		}
		if !isRecordField(name) {
			return nil, fmt.Errorf("unknown field %q", name)
		}
		return fieldOperand(name), nil

	default:
		return nil, fmt.Errorf("expected a field or literal at position %d", p.cur.pos)
	}
}

func (p *parser) parseTagLookup() (operand, error) {
	if p.cur.kind != tokLBracket {
		return nil, fmt.Errorf("tags requires ['key'] lookup or `'key' in tags`, at position %d", p.cur.pos)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.cur.kind != tokString {
		return nil, fmt.Errorf("tag lookup key must be a string at position %d", p.cur.pos)
	}
	key := p.cur.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.cur.kind != tokRBracket {
		return nil, fmt.Errorf("expected ] at position %d", p.cur.pos)
	}
	return tagOperand(key), p.advance()
}

var recordFields = map[string]bool{
	"account_id":    true,
	"region":        true,
	"service":       true,
	"resource_type": true,
	"resource_id":   true,
	"name":          true,
	"tags_number":   true,
	"arn":           true,
}

func isRecordField(name string) bool { return recordFields[name] }
