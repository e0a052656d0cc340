// Package command parses and represents the three mutation verbs of the
// command language: INSERT, DELETE, and UPDATE.
package command

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/rowdb/rowdb/util"
)

// Kind identifies which mutation verb a Command carries.
type Kind int

const (
	Insert Kind = iota
	Delete
	Update
)

// Command is a parsed mutation command, ready to be applied to a backend
// once its positional values have been bound to a column set.
type Command struct {
	Kind Kind

	// Insert: ordered values, one per column, in column order.
	InsertValues []string

	// Delete: ordered condition values, bound to the first len(Values)
	// columns in column order.
	DeleteValues []string

	// Update: ordered condition values (bound the same way as Delete),
	// plus the target column and its new value.
	UpdateConditionValues []string
	UpdateTargetColumn    string
	UpdateNewValue        string
}

var quoted = regexp.MustCompile(`(?s)"((?:[^"\\]|\\.)*)"`)
var insertPrefix = regexp.MustCompile(`(?s)^((?:"(?:[^"\\]|\\.)*"\s*,\s*)*(?:"(?:[^"\\]|\\.)*"))`)
var updateToken = regexp.MustCompile(`(?s)"((?:[^"\\]|\\.)*)"|\b([A-Za-z0-9_]+)\b`)

// Parse parses a raw, URL-encoded command string such as:
//
//	INSERT "1","alice","nyc"
//	DELETE "1"
//	UPDATE "1" city "la"
func Parse(raw string) (Command, error) {
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return Command{}, fmt.Errorf("command: decode command: %w", err)
	}
	switch {
	case strings.HasPrefix(decoded, "INSERT"):
		return parseInsert(strings.TrimSpace(decoded[len("INSERT"):]))
	case strings.HasPrefix(decoded, "DELETE"):
		return parseDelete(strings.TrimSpace(decoded[len("DELETE"):]))
	case strings.HasPrefix(decoded, "UPDATE"):
		return parseUpdate(strings.TrimSpace(decoded[len("UPDATE"):]))
	default:
		return Command{}, fmt.Errorf("command: unknown command %q", decoded)
	}
}

func parseInsert(body string) (Command, error) {
	m := insertPrefix.FindStringSubmatch(body)
	if m == nil {
		return Command{}, fmt.Errorf("command: invalid INSERT command format")
	}
	values := extractQuoted(m[1])
	for i, v := range values {
		values[i] = unescape(v)
	}
	return Command{Kind: Insert, InsertValues: values}, nil
}

func parseDelete(body string) (Command, error) {
	values := extractQuoted(body)
	if len(values) < 1 {
		return Command{}, fmt.Errorf(`command: too few conditions for DELETE command, conditions must be surrounded by ""`)
	}
	for i, v := range values {
		values[i] = unescape(v)
	}
	return Command{Kind: Delete, DeleteValues: values}, nil
}

func parseUpdate(body string) (Command, error) {
	matches := updateToken.FindAllStringSubmatch(body, -1)
	tokens := make([]string, 0, len(matches))
	for _, m := range matches {
		if len(m[0]) > 0 && m[0][0] == '"' {
			tokens = append(tokens, m[1])
		} else {
			tokens = append(tokens, m[2])
		}
	}
	if len(tokens) < 3 {
		return Command{}, fmt.Errorf("command: UPDATE command must include at least one condition, target column, and a new value")
	}

	conditionParts := tokens[:len(tokens)-2]
	targetColumn := tokens[len(tokens)-2]
	newValue := tokens[len(tokens)-1]

	for i, p := range conditionParts {
		conditionParts[i] = unescape(p)
	}
	newValue = unescape(newValue)

	return Command{
		Kind:                  Update,
		UpdateConditionValues: conditionParts,
		UpdateTargetColumn:    targetColumn,
		UpdateNewValue:        newValue,
	}, nil
}

func extractQuoted(s string) []string {
	matches := quoted.FindAllStringSubmatch(s, -1)
	return util.TransformSlice(matches, func(m []string) string { return m[1] })
}

func unescape(s string) string {
	s = strings.ReplaceAll(s, `\"`, `"`)
	s = strings.ReplaceAll(s, `\\`, `\`)
	return s
}

// BindDeleteConditions maps c's positional delete values onto the first
// len(values) of columns, in order. DELETE takes 1..len(columns) condition
// values; more than that can't be positionally bound to a real column, so
// it's rejected rather than silently truncated.
func BindDeleteConditions(columns []string, values []string) (map[string]string, error) {
	if len(values) > len(columns) {
		return nil, fmt.Errorf("command: too many conditions for DELETE command, table has %d columns", len(columns))
	}
	return bindPositional(columns, values), nil
}

// BindUpdateConditions maps c's positional update condition values onto the
// first min(len(values), len(columns)) of columns, in order.
func BindUpdateConditions(columns []string, values []string) map[string]string {
	return bindPositional(columns, values)
}

func bindPositional(columns []string, values []string) map[string]string {
	out := make(map[string]string, len(values))
	n := len(values)
	if len(columns) < n {
		n = len(columns)
	}
	for i := 0; i < n; i++ {
		out[columns[i]] = values[i]
	}
	return out
}
