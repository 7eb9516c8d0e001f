package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/rigrunner/internal/restrict"
)

// ErrTaskUnresolvable marks a task that could not be located. It is fatal
// for the whole stage build.
var ErrTaskUnresolvable = errors.New("task could not be resolved")

// TaskRef names a task by identity and version.
type TaskRef struct {
	Name    string
	Version string
}

func (r TaskRef) String() string {
	if r.Version == "" {
		return r.Name
	}
	return fmt.Sprintf("%s@%s", r.Name, r.Version)
}

// TaskExecution is one phase's execution data. The handler is opaque to the
// stage builder; the task runner (out of scope) provides it.
type TaskExecution struct {
	Handler RunFunc
}

// TaskDefinition is a resolved task manifest. A task may contribute to any
// subset of the three phases; a nil phase contributes nothing to that
// stage.
type TaskDefinition struct {
	Ref         TaskRef
	DisplayName string

	PreJobExecution  *TaskExecution
	Execution        *TaskExecution
	PostJobExecution *TaskExecution

	// Restrictions is the manifest-declared policy, nil when the manifest
	// declares none.
	Restrictions *restrict.Restrictions
}

// Resolver locates and loads task definitions. Download fetches any missing
// packages up front; Load returns the parsed manifest for one step.
type Resolver interface {
	Download(ctx context.Context, steps []RequestedStep) error
	Load(ctx context.Context, step RequestedStep) (*TaskDefinition, error)
}
