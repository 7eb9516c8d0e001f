// Package registry holds the task library for one runner instance. Tasks
// are contributed by Go modules at startup and resolved by the stage
// builder when a job references them.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/vk/rigrunner/internal/ctxlog"
	"github.com/vk/rigrunner/internal/job"
)

// Module is implemented by every task bundle that wants its tasks
// registered.
type Module interface {
	Register(r *Registry)
}

// Registry maps task references to definitions. It implements job.Resolver.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*job.TaskDefinition
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{tasks: map[string]*job.TaskDefinition{}}
}

// Add registers one task definition. Re-registering the same reference
// replaces the earlier definition.
func (r *Registry) Add(def *job.TaskDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[key(def.Ref)] = def
}

// Install runs every module's Register hook.
func (r *Registry) Install(modules ...Module) {
	for _, m := range modules {
		m.Register(r)
	}
}

// Len reports the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Download checks every referenced task is present. The library is local,
// so there is nothing to fetch; an unresolvable reference surfaces here,
// before any step runs.
func (r *Registry) Download(ctx context.Context, steps []job.RequestedStep) error {
	logger := ctxlog.FromContext(ctx)

	for _, step := range steps {
		if r.lookup(step.Task) == nil {
			return fmt.Errorf("task %s requested by step %s: %w", step.Task, step.ID, job.ErrTaskUnresolvable)
		}
	}
	logger.Debug("All referenced tasks present.", "count", len(steps))
	return nil
}

// Load returns the definition for one step's task reference, or nil when
// the library has no match.
func (r *Registry) Load(_ context.Context, step job.RequestedStep) (*job.TaskDefinition, error) {
	return r.lookup(step.Task), nil
}

// lookup tries the exact versioned reference first, then the unversioned
// name.
func (r *Registry) lookup(ref job.TaskRef) *job.TaskDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if def, ok := r.tasks[key(ref)]; ok {
		return def
	}
	if ref.Version != "" {
		if def, ok := r.tasks[ref.Name]; ok {
			return def
		}
	}
	return nil
}

func key(ref job.TaskRef) string {
	if ref.Version == "" {
		return ref.Name
	}
	return ref.Name + "@" + ref.Version
}
