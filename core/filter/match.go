// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package filter

import (
	"strconv"
	"strings"
)

// Match evaluates the condition against a record. Dotted field names descend into
// nested objects. Missing fields compare like empty strings.
func (c Condition) Match(record map[string]interface{}) bool {
	actual := lookup(record, c.Field)
	switch c.Operator {
	case Equal:
		return compare(actual, c.Value) == 0
	case NotEqual:
		return compare(actual, c.Value) != 0
	case Greater:
		return compare(actual, c.Value) > 0
	case GreaterOrEqual:
		return compare(actual, c.Value) >= 0
	case Less:
		return compare(actual, c.Value) < 0
	case LessOrEqual:
		return compare(actual, c.Value) <= 0
	case Like:
		return like(toString(actual), toString(c.Value))
	case NotLike:
		return !like(toString(actual), toString(c.Value))
	}
	return false
}

// Match evaluates the expression against a record
func (e Expression) Match(record map[string]interface{}) bool {
	for _, c := range e.conditions {
		if !c.Match(record) {
			return false
		}
	}
	return true
}

func lookup(record map[string]interface{}, field string) interface{} {
	var current interface{} = record
	for _, part := range strings.Split(field, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	}
	if f, ok := toNumber(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}

// compare compares numerically if both sides are numbers, otherwise as strings.
// Booleans compare equal to true/false literals.
func compare(a, b interface{}) int {
	if fa, ok := toNumber(a); ok {
		if fb, ok := toNumber(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	if a == nil && b == nil {
		return 0
	}
	return strings.Compare(toString(a), toString(b))
}

// like is a case insensitive LIKE with \ as escape character. A pattern without an
// unescaped % is matched as a substring. With wildcards, % matches any sequence and _
// matches one character.
func like(s, pattern string) bool {
	s = strings.ToLower(s)
	p := []rune(strings.ToLower(pattern))
	if !hasWildcard(p) {
		return strings.Contains(s, unescapeLike(p))
	}
	return wildcardMatch([]rune(s), p)
}

func isLikeEscape(p []rune, i int) bool {
	return p[i] == '\\' && i+1 < len(p) && (p[i+1] == '%' || p[i+1] == '_')
}

func hasWildcard(p []rune) bool {
	for i := 0; i < len(p); i++ {
		if isLikeEscape(p, i) {
			i++
			continue
		}
		if p[i] == '%' {
			return true
		}
	}
	return false
}

func unescapeLike(p []rune) string {
	var b strings.Builder
	for i := 0; i < len(p); i++ {
		if isLikeEscape(p, i) {
			i++
		}
		b.WriteRune(p[i])
	}
	return b.String()
}

func wildcardMatch(s, p []rune) bool {
	if len(p) == 0 {
		return len(s) == 0
	}
	if isLikeEscape(p, 0) {
		return len(s) > 0 && s[0] == p[1] && wildcardMatch(s[1:], p[2:])
	}
	switch p[0] {
	case '%':
		for i := 0; i <= len(s); i++ {
			if wildcardMatch(s[i:], p[1:]) {
				return true
			}
		}
		return false
	case '_':
		return len(s) > 0 && wildcardMatch(s[1:], p[1:])
	}
	return len(s) > 0 && s[0] == p[0] && wildcardMatch(s[1:], p[1:])
}

// Compare orders two record values the way conditions do: numerically if both are
// numbers, otherwise as strings.
func Compare(a, b interface{}) int {
	return compare(a, b)
}
