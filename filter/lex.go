package filter

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokOp     // = == != <> < <= > >=
	tokAnd
	tokOr
	tokNot
	tokLike
	tokIn
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	input string
	pos   int
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}

	start := l.pos
	c := l.input[l.pos]

	switch {
	case c == '(':
		l.pos++
		return token{tokLParen, "(", start}, nil
	case c == ')':
		l.pos++
		return token{tokRParen, ")", start}, nil
	case c == '[':
		l.pos++
		return token{tokLBracket, "[", start}, nil
	case c == ']':
		l.pos++
		return token{tokRBracket, "]", start}, nil
	case c == '\'' || c == '"':
		return l.lexString(c)
	case c >= '0' && c <= '9':
		return l.lexNumber()
	case isOpByte(c):
		return l.lexOperator()
	case isIdentByte(c):
		return l.lexWord()
	default:
		return token{}, fmt.Errorf("unexpected character %q at position %d", c, start)
	}
}

func (l *lexer) lexString(quote byte) (token, error) {
	start := l.pos
	l.pos++ // opening quote
	var sb strings.Builder
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if c == quote {
			l.pos++
			return token{tokString, sb.String(), start}, nil
		}
		sb.WriteByte(c)
		l.pos++
	}
	return token{}, fmt.Errorf("unterminated string starting at position %d", start)
}

func (l *lexer) lexNumber() (token, error) {
	start := l.pos
	for l.pos < len(l.input) && l.input[l.pos] >= '0' && l.input[l.pos] <= '9' {
		l.pos++
	}
	return token{tokNumber, l.input[start:l.pos], start}, nil
}

func (l *lexer) lexOperator() (token, error) {
	start := l.pos
	for l.pos < len(l.input) && isOpByte(l.input[l.pos]) {
		l.pos++
	}
	op := l.input[start:l.pos]
	switch op {
	case "=", "==", "!=", "<>", "<", "<=", ">", ">=":
		return token{tokOp, op, start}, nil
	case "&&":
		return token{tokAnd, op, start}, nil
	case "||":
		return token{tokOr, op, start}, nil
	case "!":
		return token{tokNot, op, start}, nil
	default:
		return token{}, fmt.Errorf("unknown operator %q at position %d", op, start)
	}
}

func (l *lexer) lexWord() (token, error) {
	start := l.pos
	for l.pos < len(l.input) && isIdentByte(l.input[l.pos]) {
		l.pos++
	}
	word := l.input[start:l.pos]
	switch strings.ToLower(word) {
	case "and":
		return token{tokAnd, word, start}, nil
	case "or":
		return token{tokOr, word, start}, nil
	case "not":
		return token{tokNot, word, start}, nil
	case "like":
		return token{tokLike, word, start}, nil
	case "in":
		return token{tokIn, word, start}, nil
	default:
		return token{tokIdent, word, start}, nil
	}
}

func isOpByte(c byte) bool {
	return c == '=' || c == '!' || c == '<' || c == '>' || c == '&' || c == '|'
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
