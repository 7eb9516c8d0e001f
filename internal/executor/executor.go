// Package executor runs a job's merged step list in order. Each step's
// condition is evaluated against the job outcome so far, which is how
// cancellation and failure steer the remainder of the plan: once something
// fails only failed()/always()-style steps still run, once the job is
// canceled only always() steps do.
package executor

import (
	"context"
	"time"

	"github.com/vk/rigrunner/internal/ctxlog"
	"github.com/vk/rigrunner/internal/execctx"
	"github.com/vk/rigrunner/internal/expr"
	"github.com/vk/rigrunner/internal/job"
)

// defaultShutdownGrace bounds post-cancellation teardown when no grace
// period was configured.
const defaultShutdownGrace = 2 * time.Minute

// Executor drives one job's steps sequentially.
type Executor struct {
	steps []job.Step

	// ShutdownGrace bounds the always() steps that still run after the job
	// is canceled. Zero means defaultShutdownGrace.
	ShutdownGrace time.Duration
}

// New creates an Executor over the merged ordered step list.
func New(steps []job.Step) *Executor {
	return &Executor{steps: steps}
}

// Run executes every step whose condition holds and returns the job-level
// result. The walk never stops early: steps guarded by always() run even
// after failure or cancellation, which is what makes teardown reliable.
func (e *Executor) Run(ctx context.Context, jobCtx *execctx.Context) execctx.Result {
	logger := ctxlog.FromContext(ctx)

	state := expr.State{Succeeded: true}
	issues := false

	for _, step := range e.steps {
		if jobCtx.Canceled() {
			state.Canceled = true
		}

		sc := step.ExecContext()
		stepLogger := logger.With("step", step.ID(), "stage", step.Stage().String())

		run, err := step.Condition().Evaluate(sc.Scope(), state)
		if err != nil {
			stepLogger.Error("Condition evaluation failed.", "error", err)
			sc.Fail(err)
			sc.Complete(execctx.Failed)
			state.Succeeded = false
			continue
		}
		if !run {
			stepLogger.Info("Skipping step, condition not met.", "condition", step.Condition().String())
			sc.Complete(execctx.Skipped)
			continue
		}

		stepLogger.Info("▶️ Starting step.", "name", step.DisplayName())
		sc.Start()

		stepCtx, release := e.stepContext(sc, jobCtx)
		stepCtx = ctxlog.WithLogger(stepCtx, sc.Logger(ctx))
		runErr := step.Run(stepCtx)
		release()

		switch {
		case runErr == nil:
			stepLogger.Info("✅ Step finished.")
			sc.Complete(execctx.Succeeded)

		case sc.Canceled() && jobCtx.Canceled():
			stepLogger.Warn("Step canceled.", "error", runErr)
			sc.Fail(runErr)
			sc.Complete(execctx.Canceled)
			state.Canceled = true

		case step.ContinueOnError():
			stepLogger.Warn("Step failed, continuing by request.", "error", runErr)
			sc.Fail(runErr)
			sc.Complete(execctx.SucceededWithIssues)
			issues = true

		default:
			stepLogger.Error("Step failed.", "error", runErr)
			sc.Fail(runErr)
			sc.Complete(execctx.Failed)
			state.Succeeded = false
		}
	}

	result := execctx.Succeeded
	switch {
	case state.Canceled:
		result = execctx.Canceled
	case !state.Succeeded:
		result = execctx.Failed
	case issues:
		result = execctx.SucceededWithIssues
	}

	logger.Info("🏁 Job finished.", "result", result.String())
	jobCtx.Complete(result)
	return result
}

// stepContext picks the context a step runs under. Once the job is
// canceled every context in the tree is already canceled too, which would
// kill the very subprocesses teardown depends on (credential reversal,
// container stop). The remaining always() steps therefore get a fresh
// context bounded by the shutdown grace period.
func (e *Executor) stepContext(sc, jobCtx *execctx.Context) (context.Context, context.CancelFunc) {
	if !jobCtx.Canceled() {
		return sc.Context(), func() {}
	}
	grace := e.ShutdownGrace
	if grace <= 0 {
		grace = defaultShutdownGrace
	}
	return context.WithTimeout(context.WithoutCancel(sc.Context()), grace)
}
