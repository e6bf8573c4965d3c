package engine_test

import (
	"testing"

	"github.com/loomworks/loom/internal/assert"
	"github.com/loomworks/loom/internal/engine"
	"github.com/loomworks/loom/pkg/api"
)

func TestEvalPredicate(t *testing.T) {
	as := assert.New(t)
	env := engine.NewLuaEnv()

	vars := api.Args{
		"count":  3,
		"name":   "widget",
		"nested": map[string]any{"ready": true},
		"items":  []any{"a", "b"},
	}

	tests := []struct {
		name     string
		expr     string
		expected bool
	}{
		{"numeric_comparison", "vars.count > 2", true},
		{"numeric_comparison_false", "vars.count > 5", false},
		{"string_equality", `vars.name == "widget"`, true},
		{"nested_lookup", "vars.nested.ready", true},
		{"array_index", `vars.items[1] == "a"`, true},
		{"missing_key_is_falsy", "vars.absent", false},
		{"compound", `vars.count == 3 and vars.name ~= ""`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := env.EvalPredicate(tt.expr, vars)
			as.NoError(err)
			as.Equal(tt.expected, res)
		})
	}

	t.Run("syntax_error", func(t *testing.T) {
		_, err := env.EvalPredicate("vars.count >", vars)
		as.Error(err)
	})
}

func TestEvalScript(t *testing.T) {
	as := assert.New(t)
	env := engine.NewLuaEnv()

	t.Run("returns_scalar", func(t *testing.T) {
		res, err := env.EvalScript(
			"return vars.a + vars.b", api.Args{"a": 2, "b": 3},
		)
		as.NoError(err)
		as.Equal(5, res)
	})

	t.Run("returns_table", func(t *testing.T) {
		res, err := env.EvalScript(
			`return { total = vars.a * 2, label = "sum" }`,
			api.Args{"a": 4},
		)
		as.NoError(err)
		m, ok := res.(map[string]any)
		as.True(ok)
		as.Equal(8, m["total"])
		as.Equal("sum", m["label"])
	})

	t.Run("returns_array", func(t *testing.T) {
		res, err := env.EvalScript(`return { 1, 2, 3 }`, api.Args{})
		as.NoError(err)
		as.Equal([]any{1, 2, 3}, res)
	})

	t.Run("runtime_error", func(t *testing.T) {
		_, err := env.EvalScript(`error("deliberate")`, api.Args{})
		as.Error(err)
	})
}

func TestLuaSandbox(t *testing.T) {
	as := assert.New(t)
	env := engine.NewLuaEnv()

	for _, expr := range []string{
		"io ~= nil",
		"os ~= nil",
		"require ~= nil",
		"load ~= nil",
	} {
		res, err := env.EvalPredicate(expr, api.Args{})
		as.NoError(err)
		as.False(res, "sandbox should remove: %s", expr)
	}
}

func TestScriptRegistry(t *testing.T) {
	as := assert.New(t)
	reg := engine.NewScriptRegistry()

	vars := api.Args{
		"status": "active",
		"flag":   false,
	}

	t.Run("nil_condition_holds", func(t *testing.T) {
		ok, err := reg.EvalCondition(nil, vars)
		as.NoError(err)
		as.True(ok)
	})

	t.Run("lua_condition", func(t *testing.T) {
		ok, err := reg.EvalCondition(&api.Condition{
			Lang: api.ConditionLua,
			Expr: `vars.status == "active"`,
		}, vars)
		as.NoError(err)
		as.True(ok)
	})

	t.Run("path_condition_match", func(t *testing.T) {
		ok, err := reg.EvalCondition(&api.Condition{
			Lang: api.ConditionPath,
			Expr: "status",
		}, vars)
		as.NoError(err)
		as.True(ok)
	})

	t.Run("path_is_default_language", func(t *testing.T) {
		ok, err := reg.EvalCondition(&api.Condition{
			Expr: "status",
		}, vars)
		as.NoError(err)
		as.True(ok)
	})

	t.Run("path_condition_missing", func(t *testing.T) {
		ok, err := reg.EvalCondition(&api.Condition{
			Lang: api.ConditionPath,
			Expr: "absent",
		}, vars)
		as.NoError(err)
		as.False(ok)
	})

	t.Run("path_condition_false_value", func(t *testing.T) {
		ok, err := reg.EvalCondition(&api.Condition{
			Lang: api.ConditionPath,
			Expr: "flag",
		}, vars)
		as.NoError(err)
		as.False(ok)
	})

	t.Run("unknown_language", func(t *testing.T) {
		_, err := reg.EvalCondition(&api.Condition{
			Lang: "brainfuck",
			Expr: "whatever",
		}, vars)
		as.Error(err)
	})
}
