package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/IngaCherny/AgentsLeak/internal/models"
)

func basePolicy() *models.Policy {
	return &models.Policy{
		Enabled:        true,
		ConditionLogic: models.LogicAll,
	}
}

func TestMatches_DisabledPolicyNeverMatches(t *testing.T) {
	p := basePolicy()
	p.Enabled = false
	assert.False(t, Matches(p, models.JSONMap{}, models.CategoryCommandExec, "Bash"))
}

func TestMatches_CategoryAndToolFilters(t *testing.T) {
	p := basePolicy()
	p.Categories = []models.EventCategory{models.CategoryNetworkAccess}
	assert.False(t, Matches(p, models.JSONMap{}, models.CategoryCommandExec, "Bash"))
	assert.True(t, Matches(p, models.JSONMap{}, models.CategoryNetworkAccess, "curl"))

	p = basePolicy()
	p.Tools = []string{"Bash"}
	assert.False(t, Matches(p, models.JSONMap{}, models.CategoryCommandExec, "Write"))
	assert.True(t, Matches(p, models.JSONMap{}, models.CategoryCommandExec, "Bash"))
}

func TestMatches_NoConditionsMatchesOnFiltersAlone(t *testing.T) {
	p := basePolicy()
	assert.True(t, Matches(p, models.JSONMap{}, models.CategoryUnknown, ""))
}

func TestMatches_ConditionLogicAllVsAny(t *testing.T) {
	p := basePolicy()
	p.Conditions = []models.RuleCondition{
		{Field: "command", Operator: models.OpContains, Value: "curl"},
		{Field: "command", Operator: models.OpContains, Value: "wget"},
	}
	data := models.JSONMap{"command": "curl http://example.com"}

	p.ConditionLogic = models.LogicAll
	assert.False(t, Matches(p, data, models.CategoryUnknown, ""))

	p.ConditionLogic = models.LogicAny
	assert.True(t, Matches(p, data, models.CategoryUnknown, ""))
}

func TestMatches_DottedPathLookup(t *testing.T) {
	p := basePolicy()
	p.Conditions = []models.RuleCondition{
		{Field: "tool_input.file_path", Operator: models.OpEquals, Value: "/etc/passwd"},
	}
	data := models.JSONMap{"tool_input": models.JSONMap{"file_path": "/etc/passwd"}}
	assert.True(t, Matches(p, data, models.CategoryUnknown, ""))

	data = models.JSONMap{"tool_input": models.JSONMap{"file_path": "/tmp/x"}}
	assert.False(t, Matches(p, data, models.CategoryUnknown, ""))
}

func TestMatches_MissingFieldIsAMiss(t *testing.T) {
	p := basePolicy()
	p.Conditions = []models.RuleCondition{
		{Field: "nonexistent.path", Operator: models.OpEquals, Value: "x"},
	}
	assert.False(t, Matches(p, models.JSONMap{}, models.CategoryUnknown, ""))
}

func TestMatches_ListFieldOredAcrossElements(t *testing.T) {
	p := basePolicy()
	p.Conditions = []models.RuleCondition{
		{Field: "urls", Operator: models.OpContains, Value: "evil"},
	}
	data := models.JSONMap{"urls": []any{"http://safe.example", "http://evil.example"}}
	assert.True(t, Matches(p, data, models.CategoryUnknown, ""))
}

func TestMatches_Operators(t *testing.T) {
	cases := []struct {
		name     string
		cond     models.RuleCondition
		data     models.JSONMap
		expected bool
	}{
		{"not_equals_match", models.RuleCondition{Field: "x", Operator: models.OpNotEquals, Value: "b"}, models.JSONMap{"x": "a"}, true},
		{"starts_with", models.RuleCondition{Field: "x", Operator: models.OpStartsWith, Value: "/etc"}, models.JSONMap{"x": "/etc/passwd"}, true},
		{"ends_with", models.RuleCondition{Field: "x", Operator: models.OpEndsWith, Value: ".env"}, models.JSONMap{"x": "/app/.env"}, true},
		{"matches_regex_case_insensitive", models.RuleCondition{Field: "x", Operator: models.OpMatches, Value: "^SECRET"}, models.JSONMap{"x": "secret-key"}, true},
		{"greater_than_numeric_string", models.RuleCondition{Field: "x", Operator: models.OpGreaterThan, Value: 10}, models.JSONMap{"x": "15"}, true},
		{"less_than_false", models.RuleCondition{Field: "x", Operator: models.OpLessThan, Value: 10}, models.JSONMap{"x": 15}, false},
		{"in_list", models.RuleCondition{Field: "x", Operator: models.OpIn, Value: []any{"a", "b"}}, models.JSONMap{"x": "b"}, true},
		{"not_in_list", models.RuleCondition{Field: "x", Operator: models.OpNotIn, Value: []any{"a", "b"}}, models.JSONMap{"x": "c"}, true},
		{"unknown_operator", models.RuleCondition{Field: "x", Operator: models.ConditionOperator("bogus")}, models.JSONMap{"x": "a"}, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := basePolicy()
			p.Conditions = []models.RuleCondition{c.cond}
			assert.Equal(t, c.expected, Matches(p, c.data, models.CategoryUnknown, ""))
		})
	}
}

func TestMatches_CaseSensitivity(t *testing.T) {
	p := basePolicy()
	p.Conditions = []models.RuleCondition{
		{Field: "x", Operator: models.OpEquals, Value: "SECRET", CaseSensitive: true},
	}
	assert.False(t, Matches(p, models.JSONMap{"x": "secret"}, models.CategoryUnknown, ""))

	p.Conditions[0].CaseSensitive = false
	assert.True(t, Matches(p, models.JSONMap{"x": "secret"}, models.CategoryUnknown, ""))
}
