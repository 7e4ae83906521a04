// Package policy evaluates declarative Policy conditions against an
// event's data, expressed as flat field/operator/value tuples rather than
// a class hierarchy of condition types.
package policy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/IngaCherny/AgentsLeak/internal/models"
)

// Matches reports whether an event (flattened to a dotted-path-addressable
// map) satisfies a policy: its categories/tools filters (if non-empty) and
// its condition list, combined per ConditionLogic.
func Matches(p *models.Policy, eventData models.JSONMap, category models.EventCategory, toolName string) bool {
	if !p.Enabled {
		return false
	}
	if len(p.Categories) > 0 && !containsCategory(p.Categories, category) {
		return false
	}
	if len(p.Tools) > 0 && !containsString(p.Tools, toolName) {
		return false
	}
	if len(p.Conditions) == 0 {
		return true
	}

	if p.ConditionLogic == models.LogicAny {
		for _, c := range p.Conditions {
			if evaluateCondition(c, eventData) {
				return true
			}
		}
		return false
	}
	for _, c := range p.Conditions {
		if !evaluateCondition(c, eventData) {
			return false
		}
	}
	return true
}

func containsCategory(list []models.EventCategory, c models.EventCategory) bool {
	for _, item := range list {
		if item == c {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// evaluateCondition looks up Field by dotted path; a missing path is a
// miss, never an error. When the looked-up value is a list, the condition
// is evaluated against each element and the results OR'd together.
func evaluateCondition(c models.RuleCondition, data models.JSONMap) bool {
	value, ok := lookupPath(data, c.Field)
	if !ok {
		return false
	}

	if list, isList := value.([]any); isList {
		for _, item := range list {
			if evaluateScalar(c, item) {
				return true
			}
		}
		return false
	}
	if list, isList := value.([]string); isList {
		for _, item := range list {
			if evaluateScalar(c, item) {
				return true
			}
		}
		return false
	}
	return evaluateScalar(c, value)
}

func lookupPath(data models.JSONMap, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = map[string]any(data)
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			if jm, ok2 := cur.(models.JSONMap); ok2 {
				m = map[string]any(jm)
			} else {
				return nil, false
			}
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func evaluateScalar(c models.RuleCondition, actual any) bool {
	switch c.Operator {
	case models.OpEquals:
		return equalValues(actual, c.Value, c.CaseSensitive)
	case models.OpNotEquals:
		return !equalValues(actual, c.Value, c.CaseSensitive)
	case models.OpContains:
		return stringContains(actual, c.Value, c.CaseSensitive)
	case models.OpNotContains:
		return !stringContains(actual, c.Value, c.CaseSensitive)
	case models.OpStartsWith:
		return stringPrefix(actual, c.Value, c.CaseSensitive, true)
	case models.OpEndsWith:
		return stringPrefix(actual, c.Value, c.CaseSensitive, false)
	case models.OpMatches:
		return regexMatch(actual, c.Value, c.CaseSensitive)
	case models.OpNotMatches:
		return !regexMatch(actual, c.Value, c.CaseSensitive)
	case models.OpGreaterThan:
		return numericCompare(actual, c.Value, func(a, b float64) bool { return a > b })
	case models.OpLessThan:
		return numericCompare(actual, c.Value, func(a, b float64) bool { return a < b })
	case models.OpIn:
		return inList(actual, c.Value, c.CaseSensitive)
	case models.OpNotIn:
		return !inList(actual, c.Value, c.CaseSensitive)
	default:
		return false
	}
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

func equalValues(actual, expected any, caseSensitive bool) bool {
	as, aok := actual.(string)
	es, eok := expected.(string)
	if aok && eok {
		if caseSensitive {
			return as == es
		}
		return strings.EqualFold(as, es)
	}
	return asString(actual) == asString(expected)
}

func stringContains(actual, expected any, caseSensitive bool) bool {
	a, e := asString(actual), asString(expected)
	if !caseSensitive {
		a, e = strings.ToLower(a), strings.ToLower(e)
	}
	return strings.Contains(a, e)
}

func stringPrefix(actual, expected any, caseSensitive, prefix bool) bool {
	a, e := asString(actual), asString(expected)
	if !caseSensitive {
		a, e = strings.ToLower(a), strings.ToLower(e)
	}
	if prefix {
		return strings.HasPrefix(a, e)
	}
	return strings.HasSuffix(a, e)
}

// regexMatch compiles Value as a regex and matches it against actual; an
// invalid pattern is treated as a non-match rather than an error.
func regexMatch(actual, pattern any, caseSensitive bool) bool {
	p := asString(pattern)
	if !caseSensitive {
		p = "(?i)" + p
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return false
	}
	return re.MatchString(asString(actual))
}

func numericCompare(actual, expected any, cmp func(a, b float64) bool) bool {
	a, aok := toFloat(actual)
	e, eok := toFloat(expected)
	if !aok || !eok {
		return false
	}
	return cmp(a, e)
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func inList(actual, expected any, caseSensitive bool) bool {
	list, ok := expected.([]any)
	if !ok {
		if strList, ok := expected.([]string); ok {
			for _, s := range strList {
				if equalValues(actual, s, caseSensitive) {
					return true
				}
			}
		}
		return false
	}
	for _, item := range list {
		if equalValues(actual, item, caseSensitive) {
			return true
		}
	}
	return false
}
