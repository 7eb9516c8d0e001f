// Package envinfo provides the envInfo task: publish host facts as job
// variables for later steps to expand.
package envinfo

import (
	"context"
	"os"
	"runtime"
	"strconv"

	"github.com/vk/rigrunner/internal/ctxlog"
	"github.com/vk/rigrunner/internal/job"
	"github.com/vk/rigrunner/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the task with the library.
func (m *Module) Register(r *registry.Registry) {
	r.Add(&job.TaskDefinition{
		Ref:         job.TaskRef{Name: "envInfo", Version: "1"},
		DisplayName: "Environment info",
		Execution:   &job.TaskExecution{Handler: m.run},
	})
}

func (m *Module) run(ctx context.Context, step job.Step) error {
	logger := ctxlog.FromContext(ctx)

	facts := map[string]string{
		"agent.os":   runtime.GOOS,
		"agent.arch": runtime.GOARCH,
		"agent.cpus": strconv.Itoa(runtime.NumCPU()),
	}
	if host, err := os.Hostname(); err == nil {
		facts["agent.hostname"] = host
	}

	scope := step.ExecContext().Scope()
	restriction := step.ExecContext().Restriction()
	for name, value := range facts {
		if !restriction.CanSetVariable(name) {
			logger.Warn("Variable not settable under this step's policy, skipping.", "name", name)
			continue
		}
		scope.Set(name, value)
	}

	logger.Info("Environment facts published.",
		"os", facts["agent.os"], "arch", facts["agent.arch"], "cpus", facts["agent.cpus"])
	return nil
}
