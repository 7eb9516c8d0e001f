package job

import (
	"github.com/vk/rigrunner/internal/reposync"
	"github.com/vk/rigrunner/internal/restrict"
)

// StepType tags an untyped declarative step from the job descriptor.
type StepType string

const (
	// StepTypeTask references a task by name and version.
	StepTypeTask StepType = "task"
	// StepTypeCheckout requests a repository synchronization.
	StepTypeCheckout StepType = "checkout"
	// StepTypeScript carries an inline script body.
	StepTypeScript StepType = "script"
)

// RequestedStep is one entry of the descriptor's declarative step list,
// before resolution and staging.
type RequestedStep struct {
	Type        StepType
	ID          string
	DisplayName string
	// Condition is the raw predicate source; empty defaults to
	// "succeeded()".
	Condition       string
	ContinueOnError bool

	// Task fields.
	Task   TaskRef
	Inputs map[string]string
	// Target carries restrictions declared on the step's target;
	// SettableVariables are the step's own allow-list. Both feed the
	// restriction resolver.
	Target            *restrict.Restrictions
	SettableVariables []string

	// Checkout fields.
	Checkout *reposync.Options

	// Script fields.
	Script string
}

// VariableValue is one job variable as delivered by the orchestration
// service.
type VariableValue struct {
	Value  string
	Secret bool
}

// ContainerSpec declares one job or sidecar container.
type ContainerSpec struct {
	Name  string
	Image string
	// Options are raw arguments appended to the container create call.
	Options []string
	Env     map[string]string
}

// Descriptor is the declarative description of one job.
type Descriptor struct {
	JobID       string
	DisplayName string
	Steps       []RequestedStep
	Variables   map[string]VariableValue

	// Container, when set, hosts the job's main steps; Sidecars run
	// alongside it.
	Container *ContainerSpec
	Sidecars  []ContainerSpec
}

// HasContainers reports whether any container resources are declared.
func (d *Descriptor) HasContainers() bool {
	return d.Container != nil || len(d.Sidecars) > 0
}
