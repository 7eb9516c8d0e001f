// Package job builds and drives the execution plan for one job: the typed
// step model, the stage builder that turns a declarative step list into
// ordered pre-job, main and post-job sequences, and the lifecycle driver
// owning Initialize and Finalize.
package job

import (
	"context"

	"github.com/vk/rigrunner/internal/execctx"
	"github.com/vk/rigrunner/internal/expr"
)

// Stage identifies one of the job's three ordered phases.
type Stage int

const (
	StagePreJob Stage = iota
	StageMain
	StagePostJob
)

func (s Stage) String() string {
	switch s {
	case StagePreJob:
		return "preJob"
	case StagePostJob:
		return "postJob"
	default:
		return "main"
	}
}

// RunFunc is a step's execution entry point, invoked by the external
// executor with the step's own cancellation context.
type RunFunc func(ctx context.Context, step Step) error

// Step is one schedulable unit of work. Variants share this contract; the
// stage builder owns each step's execution context and binds it exactly
// once, after final ordering is fixed.
type Step interface {
	ID() string
	DisplayName() string
	Stage() Stage
	Condition() *expr.Condition
	ContinueOnError() bool
	// ExecContext returns the context the step borrows for its run; nil
	// until the stage builder binds one.
	ExecContext() *execctx.Context
	// Run performs the step's work.
	Run(ctx context.Context) error

	bind(*execctx.Context)
}

// stepCore carries the fields every variant shares.
type stepCore struct {
	id          string
	displayName string
	stage       Stage
	condition   *expr.Condition
	contOnErr   bool
	execCtx     *execctx.Context
}

func (c *stepCore) ID() string                    { return c.id }
func (c *stepCore) DisplayName() string           { return c.displayName }
func (c *stepCore) Stage() Stage                  { return c.stage }
func (c *stepCore) Condition() *expr.Condition    { return c.condition }
func (c *stepCore) ContinueOnError() bool         { return c.contOnErr }
func (c *stepCore) ExecContext() *execctx.Context { return c.execCtx }
func (c *stepCore) bind(ec *execctx.Context)      { c.execCtx = ec }

// TaskStep is one phase contribution of a resolved task.
type TaskStep struct {
	stepCore
	// TaskID is the declarative step's stable identity; phase contexts and
	// the restriction/scope lookup key off it.
	TaskID string
	Task   *TaskDefinition
	Inputs map[string]string
	run    RunFunc
}

func (s *TaskStep) Run(ctx context.Context) error {
	if s.run == nil {
		return nil
	}
	return s.run(ctx, s)
}

// ExtensionRunnerStep is contributed by the job flavor extension or
// synthesized by the stage builder (container lifecycle, checkout cleanup).
type ExtensionRunnerStep struct {
	stepCore
	run RunFunc
}

// NewExtensionStep creates an extension-contributed step.
func NewExtensionStep(id, displayName string, stage Stage, condition *expr.Condition, run RunFunc) *ExtensionRunnerStep {
	return &ExtensionRunnerStep{
		stepCore: stepCore{id: id, displayName: displayName, stage: stage, condition: condition},
		run:      run,
	}
}

func (s *ExtensionRunnerStep) Run(ctx context.Context) error {
	if s.run == nil {
		return nil
	}
	return s.run(ctx, s)
}

// ScriptStep runs an inline script through the process invoker.
type ScriptStep struct {
	stepCore
	Script string
	run    RunFunc
}

func (s *ScriptStep) Run(ctx context.Context) error {
	if s.run == nil {
		return nil
	}
	return s.run(ctx, s)
}
