// Package expr evaluates step condition expressions. Conditions are HCL
// expressions over job variables plus outcome functions: always(),
// succeeded(), succeededOrFailed(), failed() and canceled(). A step with no
// condition runs only if everything before it succeeded.
package expr

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"

	"github.com/vk/rigrunner/internal/vars"
)

// DefaultCondition is applied when a step declares no condition.
const DefaultCondition = "succeeded()"

// State captures the job outcome so far, as seen by a condition.
type State struct {
	// Succeeded is true while no prior step has failed.
	Succeeded bool
	// Canceled is true once job cancellation has been observed.
	Canceled bool
}

// Condition is a parsed, reusable predicate.
type Condition struct {
	raw  string
	expr hclsyntax.Expression
}

// Parse compiles raw into a Condition. An empty string compiles to the
// default "succeeded()". The bare constant names "Always" and "Succeeded"
// are accepted as aliases of their function forms.
func Parse(raw string) (*Condition, error) {
	source := strings.TrimSpace(raw)
	switch strings.ToLower(source) {
	case "":
		source = DefaultCondition
	case "always":
		source = "always()"
	case "succeeded":
		source = "succeeded()"
	case "succeededorfailed":
		source = "succeededOrFailed()"
	}

	expr, diags := hclsyntax.ParseExpression([]byte(source), "condition", hcl.InitialPos)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing condition %q: %w", raw, diags)
	}
	return &Condition{raw: source, expr: expr}, nil
}

// MustParse is Parse for known-good literals; it panics on error.
func MustParse(raw string) *Condition {
	c, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return c
}

// String returns the compiled source form.
func (c *Condition) String() string {
	return c.raw
}

// Evaluate runs the condition against the scope's variables and the job
// state. The result is coerced to bool; anything else is an error.
func (c *Condition) Evaluate(scope *vars.Scope, state State) (bool, error) {
	evalCtx := &hcl.EvalContext{
		Functions: outcomeFunctions(state),
	}
	if scope != nil {
		evalCtx.Variables = scope.HCLVariables()
	}

	value, diags := c.expr.Value(evalCtx)
	if diags.HasErrors() {
		return false, fmt.Errorf("evaluating condition %q: %w", c.raw, diags)
	}

	boolVal, err := convert.Convert(value, cty.Bool)
	if err != nil {
		return false, fmt.Errorf("condition %q is not boolean: %w", c.raw, err)
	}
	return boolVal.True(), nil
}

// IsAlways reports whether the condition runs regardless of prior outcome,
// including cancellation. Cleanup steps rely on this to run when reached.
func (c *Condition) IsAlways() bool {
	return c.raw == "always()"
}

func outcomeFunctions(state State) map[string]function.Function {
	constant := func(result bool) function.Function {
		return function.New(&function.Spec{
			Type: function.StaticReturnType(cty.Bool),
			Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
				return cty.BoolVal(result), nil
			},
		})
	}

	return map[string]function.Function{
		"always":            constant(true),
		"succeeded":         constant(state.Succeeded && !state.Canceled),
		"succeededOrFailed": constant(!state.Canceled),
		"failed":            constant(!state.Succeeded && !state.Canceled),
		"canceled":          constant(state.Canceled),
	}
}
