package vars

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Expand evaluates template as an HCL string template against this scope.
// Dotted variable names form nested objects, so a scope entry
// "build.sourceBranch" is addressed as ${build.sourceBranch}. On any parse
// or evaluation error the input is returned unchanged alongside the error,
// letting callers log and fall back to the literal text.
func (s *Scope) Expand(template string) (string, error) {
	if !strings.Contains(template, "${") {
		return template, nil
	}

	expr, diags := hclsyntax.ParseTemplate([]byte(template), "variable", hcl.InitialPos)
	if diags.HasErrors() {
		return template, fmt.Errorf("parsing template %q: %w", template, diags)
	}

	value, diags := expr.Value(&hcl.EvalContext{Variables: s.HCLVariables()})
	if diags.HasErrors() {
		return template, fmt.Errorf("expanding template %q: %w", template, diags)
	}

	str, err := convert.Convert(value, cty.String)
	if err != nil {
		return template, fmt.Errorf("expanding template %q: %w", template, err)
	}
	return str.AsString(), nil
}

// HCLVariables materializes the visible variables as a cty object tree, for
// template expansion here and for condition evaluation in the expr package.
func (s *Scope) HCLVariables() map[string]cty.Value {
	tree := map[string]any{}
	for _, name := range s.Names() {
		value, _ := s.Get(name)
		insertDotted(tree, strings.Split(name, "."), value)
	}

	vars := make(map[string]cty.Value, len(tree))
	for key, node := range tree {
		vars[key] = toCty(node)
	}
	return vars
}

// insertDotted places value at the path described by parts, creating
// intermediate maps. A scalar already present where an object is needed is
// displaced; the object wins because it carries more addressable names.
func insertDotted(tree map[string]any, parts []string, value string) {
	if len(parts) == 1 {
		if _, isMap := tree[parts[0]].(map[string]any); !isMap {
			tree[parts[0]] = value
		}
		return
	}

	child, ok := tree[parts[0]].(map[string]any)
	if !ok {
		child = map[string]any{}
		tree[parts[0]] = child
	}
	insertDotted(child, parts[1:], value)
}

func toCty(node any) cty.Value {
	switch v := node.(type) {
	case string:
		return cty.StringVal(v)
	case map[string]any:
		obj := make(map[string]cty.Value, len(v))
		for key, member := range v {
			obj[key] = toCty(member)
		}
		return cty.ObjectVal(obj)
	default:
		return cty.NilVal
	}
}
