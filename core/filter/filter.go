// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package filter builds filter expressions for the remote record store.

Expressions are composed from typed field/operator/value conditions and rendered
into the store's filter syntax, for example

	filter.Where("user", filter.Equal, callerID).
		And("granja", filter.Equal, farmID).
		And("fecha_entrada", filter.GreaterOrEqual, "2024-01-01")

renders as

	user="..." && granja="..." && fecha_entrada>="2024-01-01"

String literals are always quoted and escaped, so caller supplied values can never
terminate a literal and inject further conditions. Field names are checked against
a strict identifier pattern.

The package also contains a parser and evaluator for the same grammar, which the
in-process store uses to answer list requests.
*/
package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Operator is a comparison operator of the filter grammar
type Operator string

// all supported operators
const (
	Equal          Operator = "="
	NotEqual       Operator = "!="
	Greater        Operator = ">"
	GreaterOrEqual Operator = ">="
	Less           Operator = "<"
	LessOrEqual    Operator = "<="
	Like           Operator = "~"
	NotLike        Operator = "!~"
)

// DateTimeLayout is the layout used to render time.Time values
const DateTimeLayout = "2006-01-02 15:04:05.000Z"

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// Condition is a single field comparison
type Condition struct {
	Field    string
	Operator Operator
	Value    interface{}
}

// Expression is a conjunction of conditions. The zero value is the empty expression,
// which matches everything.
type Expression struct {
	conditions []Condition
}

// Where returns a new expression with a single condition
func Where(field string, op Operator, value interface{}) Expression {
	return Expression{}.And(field, op, value)
}

// And returns a new expression with the condition added
func (e Expression) And(field string, op Operator, value interface{}) Expression {
	// we want a true copy to avoid side effects
	conditions := append(append([]Condition{}, e.conditions...), Condition{Field: field, Operator: op, Value: value})
	return Expression{conditions: conditions}
}

// Merge returns a new expression with all conditions of other added
func (e Expression) Merge(other Expression) Expression {
	conditions := append(append([]Condition{}, e.conditions...), other.conditions...)
	return Expression{conditions: conditions}
}

// Conditions returns a copy of the conditions of this expression
func (e Expression) Conditions() []Condition {
	return append([]Condition{}, e.conditions...)
}

// IsEmpty returns true if the expression has no conditions
func (e Expression) IsEmpty() bool {
	return len(e.conditions) == 0
}

// Build renders the expression. It fails on invalid field names, unknown operators
// and unsupported value types.
func (e Expression) Build() (string, error) {
	parts := make([]string, 0, len(e.conditions))
	for _, c := range e.conditions {
		if !fieldPattern.MatchString(c.Field) {
			return "", fmt.Errorf("invalid filter field '%s'", c.Field)
		}
		if !c.Operator.valid() {
			return "", fmt.Errorf("invalid filter operator '%s' for field '%s'", c.Operator, c.Field)
		}
		literal, err := Literal(c.Value)
		if err != nil {
			return "", fmt.Errorf("field '%s': %w", c.Field, err)
		}
		parts = append(parts, c.Field+string(c.Operator)+literal)
	}
	return strings.Join(parts, " && "), nil
}

// String renders the expression, or an empty string if it cannot be rendered
func (e Expression) String() string {
	s, _ := e.Build()
	return s
}

func (o Operator) valid() bool {
	switch o {
	case Equal, NotEqual, Greater, GreaterOrEqual, Less, LessOrEqual, Like, NotLike:
		return true
	}
	return false
}

// Quote returns s as a quoted and escaped string literal
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// EscapeLike escapes the wildcards % and _ of s, so that a Like condition matches
// them literally
func EscapeLike(s string) string {
	r := strings.NewReplacer(`%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Literal renders a value as a literal of the filter grammar
func Literal(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "null", nil
	case string:
		return Quote(v), nil
	case fmt.Stringer:
		if t, ok := v.(time.Time); ok {
			return Quote(t.UTC().Format(DateTimeLayout)), nil
		}
		return Quote(v.String()), nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	}
	return "", fmt.Errorf("unsupported filter value of type %T", value)
}
