package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/rigrunner/internal/masker"
	"github.com/vk/rigrunner/internal/vars"
)

func TestParse_EmptyDefaultsToSucceeded(t *testing.T) {
	t.Parallel()

	c, err := Parse("")
	require.NoError(t, err)
	assert.Equal(t, "succeeded()", c.String())
}

func TestEvaluate_OutcomeFunctions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		condition string
		state     State
		want      bool
	}{
		{"succeeded while healthy", "succeeded()", State{Succeeded: true}, true},
		{"succeeded after failure", "succeeded()", State{Succeeded: false}, false},
		{"succeeded during cancel", "succeeded()", State{Succeeded: true, Canceled: true}, false},
		{"always during cancel", "always()", State{Canceled: true}, true},
		{"succeededOrFailed after failure", "succeededOrFailed()", State{Succeeded: false}, true},
		{"succeededOrFailed during cancel", "succeededOrFailed()", State{Canceled: true}, false},
		{"failed after failure", "failed()", State{Succeeded: false}, true},
		{"canceled during cancel", "canceled()", State{Canceled: true}, true},
		{"constant alias Always", "Always", State{Canceled: true}, true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c, err := Parse(tc.condition)
			require.NoError(t, err)

			got, err := c.Evaluate(nil, tc.state)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluate_VariableReference(t *testing.T) {
	t.Parallel()

	scope := vars.NewScope(masker.New())
	scope.Set("build.reason", "pullrequest")

	c, err := Parse(`succeeded() && build.reason == "pullrequest"`)
	require.NoError(t, err)

	got, err := c.Evaluate(scope, State{Succeeded: true})
	require.NoError(t, err)
	assert.True(t, got)

	got, err = c.Evaluate(scope, State{Succeeded: false})
	require.NoError(t, err)
	assert.False(t, got)
}

func TestEvaluate_NonBooleanIsError(t *testing.T) {
	t.Parallel()

	c, err := Parse(`"some string"`)
	require.NoError(t, err)

	_, err = c.Evaluate(nil, State{Succeeded: true})
	assert.Error(t, err)
}

func TestIsAlways(t *testing.T) {
	t.Parallel()

	assert.True(t, MustParse("always()").IsAlways())
	assert.False(t, MustParse("succeeded()").IsAlways())
}
