package execctx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/rigrunner/internal/masker"
	"github.com/vk/rigrunner/internal/restrict"
	"github.com/vk/rigrunner/internal/vars"
)

func newRoot(t *testing.T) *Context {
	t.Helper()
	scope := vars.NewScope(masker.New())
	return NewRoot(context.Background(), "job", scope)
}

func TestCancel_PropagatesDownwardOnly(t *testing.T) {
	t.Parallel()

	root := newRoot(t)
	stage := root.NewChild("Pre-job", "prejob")
	step := stage.NewChild("Checkout", "checkout")

	stage.Cancel()

	assert.True(t, stage.Canceled())
	assert.True(t, step.Canceled())
	assert.False(t, root.Canceled(), "child cancellation must not reach the parent")
}

func TestNewChild_BornCanceledWhenParentAlreadyFired(t *testing.T) {
	t.Parallel()

	root := newRoot(t)
	root.Cancel()

	late := root.NewChild("late", "late")
	select {
	case <-late.Done():
	case <-time.After(time.Second):
		t.Fatal("child created after parent cancellation must start canceled")
	}
}

func TestComplete_NeverCancelsParent(t *testing.T) {
	t.Parallel()

	root := newRoot(t)
	step := root.NewChild("step", "step")

	step.Start()
	step.Complete(Succeeded)

	assert.True(t, step.Completed())
	assert.Equal(t, Succeeded, step.Result())
	assert.False(t, root.Canceled())
}

func TestComplete_FirstResultWins(t *testing.T) {
	t.Parallel()

	root := newRoot(t)
	root.Complete(Failed)
	root.Complete(Succeeded)

	assert.Equal(t, Failed, root.Result())
}

func TestNewChild_DerivesScopeAndAppliesOptions(t *testing.T) {
	t.Parallel()

	root := newRoot(t)
	root.Scope().Set("job.name", "ci")

	d := restrict.Resolve(&restrict.Restrictions{Mode: restrict.Restricted, ModeSet: true}, nil, nil)
	child := root.NewChild("Task", "task", WithID("task-1"), WithRestriction(d), WithOutputForwarding())

	require.NotNil(t, child.Scope())
	got, ok := child.Scope().Get("job.name")
	require.True(t, ok)
	assert.Equal(t, "ci", got)

	assert.Equal(t, "task-1", child.ID())
	assert.Equal(t, restrict.Restricted, child.Restriction().CommandMode())
	assert.True(t, child.ForwardsOutput())

	// Child scope writes stay local.
	child.Scope().Set("job.name", "override")
	got, _ = root.Scope().Get("job.name")
	assert.Equal(t, "ci", got)
}

func TestFail_RecordsTypedReason(t *testing.T) {
	t.Parallel()

	root := newRoot(t)
	root.Fail(assert.AnError)
	assert.ErrorIs(t, root.FailureReason(), assert.AnError)

	root.Complete(Failed)
	root.Fail(nil) // post-completion writes are ignored
	assert.ErrorIs(t, root.FailureReason(), assert.AnError)
}
