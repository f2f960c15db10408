// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package filter

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Node is a parsed filter expression which can be matched against a record
type Node interface {
	Match(record map[string]interface{}) bool
}

type andNode []Node

func (n andNode) Match(record map[string]interface{}) bool {
	for _, c := range n {
		if !c.Match(record) {
			return false
		}
	}
	return true
}

type orNode []Node

func (n orNode) Match(record map[string]interface{}) bool {
	for _, c := range n {
		if c.Match(record) {
			return true
		}
	}
	return false
}

type matchAll struct{}

func (matchAll) Match(map[string]interface{}) bool { return true }

// Parse parses a filter expression. The empty string matches every record.
//
// Supported are comparisons with the operators of this package, combined with
// && and ||, and grouped with parentheses.
func Parse(s string) (Node, error) {
	if strings.TrimSpace(s) == "" {
		return matchAll{}, nil
	}
	tokens, err := tokenize(s)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, fmt.Errorf("unexpected '%s' at position %d", p.peek().text, p.peek().pos)
	}
	return node, nil
}

type tokenKind int

const (
	tokenIdent tokenKind = iota
	tokenString
	tokenNumber
	tokenOperator
	tokenAnd
	tokenOr
	tokenOpen
	tokenClose
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func tokenize(s string) ([]token, error) {
	var tokens []token
	runes := []rune(s)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, token{tokenOpen, "(", i})
			i++
		case r == ')':
			tokens = append(tokens, token{tokenClose, ")", i})
			i++
		case r == '&' || r == '|':
			if i+1 >= len(runes) || runes[i+1] != r {
				return nil, fmt.Errorf("unexpected '%c' at position %d", r, i)
			}
			kind := tokenAnd
			if r == '|' {
				kind = tokenOr
			}
			tokens = append(tokens, token{kind, string(runes[i : i+2]), i})
			i += 2
		case r == '"' || r == '\'':
			value, next, err := readString(runes, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{tokenString, value, i})
			i = next
		case strings.ContainsRune("=!<>~", r):
			j := i + 1
			if j < len(runes) && (runes[j] == '=' || runes[j] == '~') {
				j++
			}
			op := Operator(runes[i:j])
			if !op.valid() {
				return nil, fmt.Errorf("invalid operator '%s' at position %d", op, i)
			}
			tokens = append(tokens, token{tokenOperator, string(op), i})
			i = j
		case r == '-' || r == '.' || unicode.IsDigit(r):
			j := i + 1
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.' || runes[j] == 'e' || runes[j] == 'E') {
				j++
			}
			tokens = append(tokens, token{tokenNumber, string(runes[i:j]), i})
			i = j
		case r == '_' || r == '@' || unicode.IsLetter(r):
			j := i + 1
			for j < len(runes) && (runes[j] == '_' || runes[j] == '.' || unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j])) {
				j++
			}
			tokens = append(tokens, token{tokenIdent, string(runes[i:j]), i})
			i = j
		default:
			return nil, fmt.Errorf("unexpected '%c' at position %d", r, i)
		}
	}
	return tokens, nil
}

func readString(runes []rune, start int) (string, int, error) {
	quote := runes[start]
	var b strings.Builder
	for i := start + 1; i < len(runes); i++ {
		r := runes[i]
		if r == '\\' {
			if i+1 >= len(runes) {
				break
			}
			i++
			switch runes[i] {
			case 'n':
				b.WriteRune('\n')
			case 'r':
				b.WriteRune('\r')
			case 't':
				b.WriteRune('\t')
			default:
				b.WriteRune(runes[i])
			}
			continue
		}
		if r == quote {
			return b.String(), i + 1, nil
		}
		b.WriteRune(r)
	}
	return "", 0, fmt.Errorf("unterminated string literal at position %d", start)
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) done() bool { return p.pos >= len(p.tokens) }

func (p *parser) peek() token {
	if p.done() {
		return token{pos: -1}
	}
	return p.tokens[p.pos]
}

func (p *parser) next() (token, error) {
	if p.done() {
		return token{}, fmt.Errorf("unexpected end of filter")
	}
	t := p.tokens[p.pos]
	p.pos++
	return t, nil
}

func (p *parser) parseOr() (Node, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	nodes := orNode{first}
	for !p.done() && p.peek().kind == tokenOr {
		p.pos++
		n, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 1 {
		return first, nil
	}
	return nodes, nil
}

func (p *parser) parseAnd() (Node, error) {
	first, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	nodes := andNode{first}
	for !p.done() && p.peek().kind == tokenAnd {
		p.pos++
		n, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 1 {
		return first, nil
	}
	return nodes, nil
}

func (p *parser) parseUnary() (Node, error) {
	if p.peek().kind == tokenOpen && !p.done() {
		p.pos++
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		t, err := p.next()
		if err != nil {
			return nil, err
		}
		if t.kind != tokenClose {
			return nil, fmt.Errorf("expected ')' at position %d", t.pos)
		}
		return n, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Node, error) {
	field, err := p.next()
	if err != nil {
		return nil, err
	}
	if field.kind != tokenIdent || !fieldPattern.MatchString(field.text) {
		return nil, fmt.Errorf("expected field name at position %d, got '%s'", field.pos, field.text)
	}
	op, err := p.next()
	if err != nil {
		return nil, err
	}
	if op.kind != tokenOperator {
		return nil, fmt.Errorf("expected operator at position %d, got '%s'", op.pos, op.text)
	}
	lit, err := p.next()
	if err != nil {
		return nil, err
	}
	var value interface{}
	switch lit.kind {
	case tokenString:
		value = lit.text
	case tokenNumber:
		f, err := strconv.ParseFloat(lit.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number '%s' at position %d", lit.text, lit.pos)
		}
		value = f
	case tokenIdent:
		switch lit.text {
		case "true":
			value = true
		case "false":
			value = false
		case "null":
			value = nil
		default:
			return nil, fmt.Errorf("unexpected identifier '%s' at position %d", lit.text, lit.pos)
		}
	default:
		return nil, fmt.Errorf("expected literal at position %d, got '%s'", lit.pos, lit.text)
	}
	return Condition{Field: field.text, Operator: Operator(op.text), Value: value}, nil
}
