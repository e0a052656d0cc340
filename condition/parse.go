package condition

import (
	"fmt"
	"regexp"
	"strings"
)

// head matches everything up to and including the opening quote of a
// condition's value: a column name or wildcard, one of the four operators,
// and the opening double quote. The value itself is scanned by hand below
// since RE2 has no negative lookbehind to stop a lazy match at an unescaped
// quote.
var head = regexp.MustCompile(`^\s*(\*|[A-Za-z0-9_]+)\s*(==|!=|\$=|&=)\s*"`)

// tail matches the connective following a condition's closing quote: "and",
// "or", or the end of the string.
var tail = regexp.MustCompile(`^(\s+and\s+|\s+or\s+|\s*$)`)

// Parse parses a chain of conditions such as:
//
//	name == "bob" and age != "30"
//
// into a slice of Condition, preserving the order conditions appear in and
// the connective between each pair.
func Parse(query string) ([]Condition, error) {
	matches, err := findConditions(query)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("condition: could not parse query %q", query)
	}
	conditions := make([]Condition, 0, len(matches))
	for _, m := range matches {
		conditions = append(conditions, Condition{
			Column:   m.column,
			Operator: Operator(m.operator),
			Value:    unescape(m.value),
			Logic:    Logic(strings.TrimSpace(m.logic)),
		})
	}
	return conditions, nil
}

type rawMatch struct {
	column, operator, value, logic string
}

// findConditions walks query left to right, pulling off one
// column/operator/"value"/connective group at a time. Any leftover
// non-whitespace text that doesn't conform to the grammar at the point it's
// encountered is reported as an error rather than silently truncating the
// chain.
func findConditions(query string) ([]rawMatch, error) {
	var out []rawMatch
	rest := query
	for {
		if strings.TrimSpace(rest) == "" {
			break
		}

		hm := head.FindStringSubmatchIndex(rest)
		if hm == nil {
			return nil, fmt.Errorf("condition: malformed condition at %q", rest)
		}
		column := rest[hm[2]:hm[3]]
		operator := rest[hm[4]:hm[5]]
		afterQuote := rest[hm[1]:]

		value, n, ok := scanQuotedValue(afterQuote)
		if !ok {
			return nil, fmt.Errorf("condition: unterminated quoted value in %q", afterQuote)
		}
		afterValue := afterQuote[n:]

		tm := tail.FindStringSubmatchIndex(afterValue)
		if tm == nil {
			return nil, fmt.Errorf("condition: malformed connective in %q", afterValue)
		}
		logic := afterValue[tm[2]:tm[3]]

		out = append(out, rawMatch{column: column, operator: operator, value: value, logic: logic})
		rest = afterValue[tm[1]:]
		if strings.TrimSpace(logic) == "" {
			break
		}
	}
	return out, nil
}

// scanQuotedValue reads a possibly-escaped value up to the next unescaped
// double quote. It returns the raw (still-escaped) value, the number of
// bytes consumed including the closing quote, and whether a closing quote
// was found.
func scanQuotedValue(s string) (value string, consumed int, ok bool) {
	var b strings.Builder
	i := 0
	for i < len(s) {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			b.WriteByte(c)
			b.WriteByte(s[i+1])
			i += 2
			continue
		}
		if c == '"' {
			return b.String(), i + 1, true
		}
		b.WriteByte(c)
		i++
	}
	return "", 0, false
}

func unescape(s string) string {
	return strings.ReplaceAll(s, `\"`, `"`)
}

// Format renders a condition chain back into query-language syntax, the
// inverse of Parse for any chain Parse can produce.
func Format(conditions []Condition) string {
	var b strings.Builder
	for i, c := range conditions {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(c.Column)
		b.WriteByte(' ')
		b.WriteString(string(c.Operator))
		b.WriteString(` "`)
		b.WriteString(strings.ReplaceAll(c.Value, `"`, `\"`))
		b.WriteByte('"')
		if c.Logic != None {
			b.WriteByte(' ')
			b.WriteString(string(c.Logic))
		}
	}
	return b.String()
}
