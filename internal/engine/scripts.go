package engine

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/loomworks/loom/pkg/api"
)

// ScriptRegistry dispatches condition and transform evaluation to the
// supported expression languages
type ScriptRegistry struct {
	lua *LuaEnv
}

var (
	ErrUnknownConditionLang = errors.New("unknown condition language")
	ErrMarshalBindings      = errors.New("failed to marshal bindings")
)

// NewScriptRegistry creates a registry with the Lua and path
// environments
func NewScriptRegistry() *ScriptRegistry {
	return &ScriptRegistry{
		lua: NewLuaEnv(),
	}
}

// EvalCondition evaluates an edge or branch condition against the
// current variable bindings. Path is the default language: the condition
// holds when the expression matches anything in the bindings document
func (s *ScriptRegistry) EvalCondition(
	cond *api.Condition, vars api.Args,
) (bool, error) {
	if cond == nil {
		return true, nil
	}

	switch cond.Lang {
	case api.ConditionLua:
		return s.lua.EvalPredicate(cond.Expr, vars)
	case api.ConditionPath, "":
		doc, err := marshalBindings(vars)
		if err != nil {
			return false, err
		}
		res := gjson.GetBytes(doc, cond.Expr)
		if !res.Exists() {
			return false, nil
		}
		if res.Type == gjson.False {
			return false, nil
		}
		return true, nil
	default:
		return false, fmt.Errorf(
			"%w: %s", ErrUnknownConditionLang, cond.Lang,
		)
	}
}

// EvalTransform runs a transform node's script over the bindings
func (s *ScriptRegistry) EvalTransform(
	script string, vars api.Args,
) (any, error) {
	return s.lua.EvalScript(script, vars)
}

func marshalBindings(vars api.Args) ([]byte, error) {
	doc, err := json.Marshal(vars)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMarshalBindings, err)
	}
	return doc, nil
}
