package engine

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/loomworks/loom/pkg/api"
)

// placeholderPattern matches ${path} references in prompt and parameter
// templates. The path is a JSON path into the variable bindings
var placeholderPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// resolveTemplate substitutes ${path} placeholders in a template string
// with values drawn from the bindings. Unresolved placeholders are
// replaced with the empty string
func resolveTemplate(template string, vars api.Args) (string, error) {
	if !strings.Contains(template, "${") {
		return template, nil
	}

	doc, err := marshalBindings(vars)
	if err != nil {
		return "", err
	}

	res := placeholderPattern.ReplaceAllStringFunc(template,
		func(m string) string {
			path := m[2 : len(m)-1]
			return gjson.GetBytes(doc, path).String()
		},
	)
	return res, nil
}

// resolveArgs resolves a node's parameter map against the bindings.
// String values beginning with "$" are treated as JSON path lookups and
// replaced with the referenced value; everything else passes through
func resolveArgs(params, vars api.Args) (api.Args, error) {
	if len(params) == 0 {
		return api.Args{}, nil
	}

	doc, err := marshalBindings(vars)
	if err != nil {
		return nil, err
	}

	res := make(api.Args, len(params))
	for name, value := range params {
		s, ok := value.(string)
		if !ok || !strings.HasPrefix(s, "$") {
			res[name] = value
			continue
		}
		hit := gjson.GetBytes(doc, strings.TrimPrefix(s, "$"))
		if !hit.Exists() {
			res[name] = nil
			continue
		}
		res[name] = hit.Value()
	}
	return res, nil
}
