// Package cmdline provides the cmdLine task: run a shell command with the
// step's variables expanded into it.
package cmdline

import (
	"context"
	"fmt"

	"github.com/vk/rigrunner/internal/invoker"
	"github.com/vk/rigrunner/internal/job"
	"github.com/vk/rigrunner/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct {
	Runner invoker.Runner
	// MarkerEnv is the orphan tracking pair injected into the child
	// process.
	MarkerEnv string
}

// Register registers the task with the library.
func (m *Module) Register(r *registry.Registry) {
	r.Add(&job.TaskDefinition{
		Ref:         job.TaskRef{Name: "cmdLine", Version: "1"},
		DisplayName: "Command line",
		Execution:   &job.TaskExecution{Handler: m.run},
	})
}

func (m *Module) run(ctx context.Context, step job.Step) error {
	task, ok := step.(*job.TaskStep)
	if !ok {
		return fmt.Errorf("cmdLine invoked outside a task step")
	}

	script := task.Inputs["script"]
	if script == "" {
		return fmt.Errorf("cmdLine task needs a 'script' input")
	}

	scope := step.ExecContext().Scope()
	if scope != nil {
		if expanded, err := scope.Expand(script); err == nil {
			script = expanded
		}
	}

	code, err := m.Runner.Run(ctx, invoker.Spec{
		Program: "sh",
		Args:    []string{"-c", script},
		Dir:     task.Inputs["workingDirectory"],
		Env:     []string{m.MarkerEnv},
	})
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("command exited with status %d", code)
	}
	return nil
}
