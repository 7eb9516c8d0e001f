package job

import (
	"context"
	"fmt"

	"github.com/vk/rigrunner/internal/ctxlog"
	"github.com/vk/rigrunner/internal/execctx"
	"github.com/vk/rigrunner/internal/expr"
	"github.com/vk/rigrunner/internal/invoker"
	"github.com/vk/rigrunner/internal/restrict"
	"github.com/vk/rigrunner/internal/vars"
)

// Stages is the ordered execution plan handed to the external executor.
type Stages struct {
	PreJob  []Step
	Main    []Step
	PostJob []Step
}

// All returns the merged ordered list: pre-job, main, post-job.
func (s *Stages) All() []Step {
	out := make([]Step, 0, len(s.PreJob)+len(s.Main)+len(s.PostJob))
	out = append(out, s.PreJob...)
	out = append(out, s.Main...)
	out = append(out, s.PostJob...)
	return out
}

// CheckoutFactory produces the task-shaped source sync step and its
// post-job credential cleanup. The stage builder stays ignorant of the sync
// driver's internals beyond this contract.
type CheckoutFactory interface {
	MainStep(req RequestedStep) Step
	// CleanupStep returns the deferred credential removal step, or nil
	// when the checkout needs none.
	CleanupStep(req RequestedStep) Step
}

// ContainerRunner starts and stops the job's declared containers.
type ContainerRunner interface {
	StartAll(ctx context.Context, desc *Descriptor) error
	StopAll(ctx context.Context, desc *Descriptor) error
}

// taskData is the per-task-identity scope and restriction record, shared by
// every phase contribution of the same declarative step.
type taskData struct {
	scope       *vars.Scope
	restriction restrict.Descriptor
}

// StageBuilder turns a descriptor's declarative step list into the three
// ordered stage lists, each step bound to a freshly created execution
// context.
type StageBuilder struct {
	Resolver   Resolver
	Extension  Extension
	Checkout   CheckoutFactory
	Containers ContainerRunner
	Runner     invoker.Runner
	// MarkerEnv is the orphan tracking NAME=value pair injected into every
	// process a step starts.
	MarkerEnv string
}

// BuildStages resolves tasks, classifies contributions into phases,
// synthesizes container lifecycle steps, splices extension steps, drains
// the LIFO cleanup stack and finally binds execution contexts. Task
// resolution failures are fatal for the whole build.
func (b *StageBuilder) BuildStages(ctx context.Context, jobCtx *execctx.Context, desc *Descriptor) (*Stages, error) {
	logger := ctxlog.FromContext(ctx)
	stages := &Stages{}
	cleanup := &cleanupStack{}
	lookup := map[string]*taskData{}

	if err := b.downloadTasks(ctx, desc); err != nil {
		return nil, err
	}

	// Containers come up before anything else, so their teardown goes on
	// the stack first and drains last.
	if desc.HasContainers() {
		b.addContainerSteps(desc, stages, cleanup)
	}

	for _, req := range desc.Steps {
		switch req.Type {
		case StepTypeTask:
			if err := b.addTaskSteps(ctx, jobCtx, req, stages, cleanup, lookup); err != nil {
				return nil, err
			}
		case StepTypeCheckout:
			if err := b.addCheckoutSteps(req, stages, cleanup); err != nil {
				return nil, err
			}
		case StepTypeScript:
			step, err := b.newScriptStep(req)
			if err != nil {
				return nil, err
			}
			stages.Main = append(stages.Main, step)
		default:
			return nil, fmt.Errorf("unknown step type %q for step %s", req.Type, req.ID)
		}
	}

	if pre := b.Extension.PreJobStep(desc); pre != nil {
		stages.PreJob = append(stages.PreJob, pre)
	}
	if post := b.Extension.PostJobStep(desc); post != nil {
		cleanup.Push(post)
	}

	stages.PostJob = append(stages.PostJob, cleanup.Drain()...)

	b.bindContexts(jobCtx, stages, lookup)

	logger.Debug("Stages built.",
		"preJob", len(stages.PreJob), "main", len(stages.Main), "postJob", len(stages.PostJob))
	return stages, nil
}

func (b *StageBuilder) downloadTasks(ctx context.Context, desc *Descriptor) error {
	var taskSteps []RequestedStep
	for _, req := range desc.Steps {
		if req.Type == StepTypeTask {
			taskSteps = append(taskSteps, req)
		}
	}
	if len(taskSteps) == 0 {
		return nil
	}
	if err := b.Resolver.Download(ctx, taskSteps); err != nil {
		return fmt.Errorf("downloading tasks: %w", err)
	}
	return nil
}

// addTaskSteps resolves one declarative task step and adds its phase
// contributions: at most one step per phase, restriction and scope recorded
// once under the task's stable identity.
func (b *StageBuilder) addTaskSteps(ctx context.Context, jobCtx *execctx.Context, req RequestedStep, stages *Stages, cleanup *cleanupStack, lookup map[string]*taskData) error {
	def, err := b.Resolver.Load(ctx, req)
	if err != nil {
		return fmt.Errorf("resolving task %s: %w", req.Task, err)
	}
	if def == nil {
		return fmt.Errorf("resolving task %s: %w", req.Task, ErrTaskUnresolvable)
	}

	condition, err := expr.Parse(req.Condition)
	if err != nil {
		return err
	}

	lookup[req.ID] = &taskData{
		scope:       jobCtx.Scope().NewChild(),
		restriction: restrict.Resolve(def.Restrictions, req.Target, req.SettableVariables),
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = def.DisplayName
	}

	newStep := func(stage Stage, name string, exec *TaskExecution, cond *expr.Condition) *TaskStep {
		return &TaskStep{
			stepCore: stepCore{
				id:          req.ID,
				displayName: name,
				stage:       stage,
				condition:   cond,
				contOnErr:   req.ContinueOnError,
			},
			TaskID: req.ID,
			Task:   def,
			Inputs: req.Inputs,
			run:    exec.Handler,
		}
	}

	if def.PreJobExecution != nil {
		stages.PreJob = append(stages.PreJob, newStep(StagePreJob, "Pre-job: "+displayName, def.PreJobExecution, condition))
	}
	if def.Execution != nil {
		stages.Main = append(stages.Main, newStep(StageMain, displayName, def.Execution, condition))
	}
	if def.PostJobExecution != nil {
		// Post-job contributions run in reverse-of-registration order and
		// whenever they are reached.
		cleanup.Push(newStep(StagePostJob, "Post-job: "+displayName, def.PostJobExecution, expr.MustParse("always()")))
	}
	return nil
}

func (b *StageBuilder) addCheckoutSteps(req RequestedStep, stages *Stages, cleanup *cleanupStack) error {
	if req.Checkout == nil {
		return fmt.Errorf("checkout step %s carries no repository options", req.ID)
	}
	stages.Main = append(stages.Main, b.Checkout.MainStep(req))
	if post := b.Checkout.CleanupStep(req); post != nil {
		cleanup.Push(post)
	}
	return nil
}

func (b *StageBuilder) newScriptStep(req RequestedStep) (*ScriptStep, error) {
	condition, err := expr.Parse(req.Condition)
	if err != nil {
		return nil, err
	}

	step := &ScriptStep{
		stepCore: stepCore{
			id:          req.ID,
			displayName: req.DisplayName,
			stage:       StageMain,
			condition:   condition,
			contOnErr:   req.ContinueOnError,
		},
		Script: req.Script,
	}
	runner, marker := b.Runner, b.MarkerEnv
	step.run = func(ctx context.Context, s Step) error {
		script := step.Script
		if scope := s.ExecContext().Scope(); scope != nil {
			if expanded, err := scope.Expand(script); err == nil {
				script = expanded
			}
		}
		code, err := runner.Run(ctx, invoker.Spec{
			Program: "sh",
			Args:    []string{"-c", script},
			Env:     []string{marker},
		})
		if err != nil {
			return err
		}
		if code != 0 {
			return fmt.Errorf("script step %s exited with status %d", s.ID(), code)
		}
		return nil
	}
	return step, nil
}

// addContainerSteps synthesizes the start step and pushes the matching stop
// step onto the cleanup stack, guaranteeing teardown runs even when start
// partially failed downstream.
func (b *StageBuilder) addContainerSteps(desc *Descriptor, stages *Stages, cleanup *cleanupStack) {
	containers := b.Containers

	start := NewExtensionStep("containerStart", "Initialize containers", StagePreJob, expr.MustParse("always()"),
		func(ctx context.Context, _ Step) error {
			return containers.StartAll(ctx, desc)
		})
	stages.PreJob = append(stages.PreJob, start)

	stop := NewExtensionStep("containerStop", "Stop containers", StagePostJob, expr.MustParse("always()"),
		func(ctx context.Context, _ Step) error {
			return containers.StopAll(ctx, desc)
		})
	cleanup.Push(stop)
}

// bindContexts creates execution contexts now that final ordering is fixed.
// Main-stage task steps reuse the task's stable identity so retries
// correlate across rebuilds; every other step gets a generated id.
func (b *StageBuilder) bindContexts(jobCtx *execctx.Context, stages *Stages, lookup map[string]*taskData) {
	for _, step := range stages.All() {
		opts := []execctx.Option{}

		if task, ok := step.(*TaskStep); ok {
			if data, found := lookup[task.TaskID]; found {
				opts = append(opts, execctx.WithScope(data.scope), execctx.WithRestriction(data.restriction))
			}
			if step.Stage() == StageMain {
				opts = append(opts, execctx.WithID(task.TaskID))
			}
		}

		refName := fmt.Sprintf("%s_%s", step.Stage(), step.ID())
		step.bind(jobCtx.NewChild(step.DisplayName(), refName, opts...))
	}
}
