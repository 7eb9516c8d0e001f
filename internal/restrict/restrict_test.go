package restrict

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve_RestrictedWinsRegardlessOfOrder(t *testing.T) {
	t.Parallel()

	restricted := &Restrictions{Mode: Restricted, ModeSet: true, SettableVariables: []string{}}
	open := &Restrictions{Mode: Unrestricted, ModeSet: true, SettableVariables: []string{"x"}}

	forward := Resolve(restricted, open, nil)
	reversed := Resolve(open, restricted, nil)

	assert.Equal(t, Restricted, forward.CommandMode())
	assert.Equal(t, Restricted, reversed.CommandMode())
	assert.True(t, forward.CanSetVariable("x"))
	assert.True(t, reversed.CanSetVariable("x"))
	assert.False(t, forward.CanSetVariable("y"))
}

func TestResolve_NoSourcesIsUnrestricted(t *testing.T) {
	t.Parallel()

	d := Resolve(nil, nil, nil)
	assert.Equal(t, Unrestricted, d.CommandMode())
	assert.False(t, d.LimitsVariables())
	assert.True(t, d.CanSetVariable("anything"))
}

func TestResolve_EmptyListDiffersFromNil(t *testing.T) {
	t.Parallel()

	// A declared-empty list means nothing is settable.
	d := Resolve(&Restrictions{SettableVariables: []string{}}, nil, nil)
	assert.True(t, d.LimitsVariables())
	assert.False(t, d.CanSetVariable("anything"))

	// An absent list leaves variables unconstrained.
	d = Resolve(&Restrictions{ModeSet: true, Mode: Restricted}, nil, nil)
	assert.False(t, d.LimitsVariables())
	assert.True(t, d.CanSetVariable("anything"))
}

func TestResolve_AllowListsConcatenate(t *testing.T) {
	t.Parallel()

	manifest := &Restrictions{SettableVariables: []string{"alpha"}}
	target := &Restrictions{SettableVariables: []string{"beta"}}

	d := Resolve(manifest, target, []string{"gamma"})
	assert.True(t, d.CanSetVariable("ALPHA"))
	assert.True(t, d.CanSetVariable("beta"))
	assert.True(t, d.CanSetVariable("gamma"))
	assert.False(t, d.CanSetVariable("delta"))
	assert.Len(t, d.SettableVariables(), 3)
}

func TestResolve_UnsetModeNeverOverridesRestricted(t *testing.T) {
	t.Parallel()

	manifest := &Restrictions{Mode: Restricted, ModeSet: true}
	silent := &Restrictions{SettableVariables: []string{"v"}}

	d := Resolve(manifest, silent, nil)
	assert.Equal(t, Restricted, d.CommandMode())
}
