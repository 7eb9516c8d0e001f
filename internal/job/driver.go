package job

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/vk/rigrunner/internal/ctxlog"
	"github.com/vk/rigrunner/internal/execctx"
	"github.com/vk/rigrunner/internal/orphans"
)

// DriverState tracks the lifecycle driver's progress.
type DriverState int

const (
	Created DriverState = iota
	Initializing
	Ready
	Finalizing
	Done
	DriverFailed
	DriverCanceled
)

func (s DriverState) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Finalizing:
		return "finalizing"
	case Done:
		return "done"
	case DriverFailed:
		return "failed"
	case DriverCanceled:
		return "canceled"
	default:
		return "created"
	}
}

// LogShipper is the external log upload process Finalize waits out.
type LogShipper interface {
	Wait(ctx context.Context) error
}

// Diagnostics runs best-effort environment checks during Initialize.
// Implementations must never fail the job; the driver additionally guards
// against panics.
type Diagnostics interface {
	Run(ctx context.Context)
}

// shipperWaitLimit bounds how long Finalize waits for log upload. Teardown
// must not hang a dying job.
const shipperWaitLimit = 30 * time.Second

// Driver owns the job lifecycle: Initialize builds the plan and registers
// orphan tracking, the external executor runs the steps, Finalize tears
// down unconditionally. The driver is the only place an internal error
// becomes a job-level result.
type Driver struct {
	Builder  *StageBuilder
	Registry *orphans.Registry
	// Diagnostics and Shipper are optional collaborators.
	Diagnostics Diagnostics
	Shipper     LogShipper
	// TaskKeyFile is the transient key material deleted at Finalize.
	TaskKeyFile string
	// ShuttingDown reports the stronger "agent is going away" condition
	// that turns a cancellation into a failure.
	ShuttingDown func() bool

	mu     sync.Mutex
	state  DriverState
	stages *Stages
}

// State returns the driver's current lifecycle state.
func (d *Driver) State() DriverState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Driver) setState(s DriverState) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// Initialize runs diagnostics, builds the stage plan and snapshots the
// host's processes. It returns the merged ordered step list for the
// external executor. Any failure here aborts the job before a single step
// runs.
func (d *Driver) Initialize(ctx context.Context, jobCtx *execctx.Context, desc *Descriptor) ([]Step, error) {
	logger := ctxlog.FromContext(ctx)
	d.setState(Initializing)

	// The phase borrows its own signal, mirrored from the job's.
	phase := jobCtx.NewChild("Initialize job", "initialize")
	phase.Start()
	defer phase.Complete(execctx.Succeeded)

	d.runDiagnostics(ctx)

	if d.Registry != nil {
		if err := d.Registry.Snapshot(ctx); err != nil {
			// Reconciliation only ever kills token-carrying processes, so
			// an empty snapshot is safe; tracking degrades, the job
			// proceeds.
			logger.Warn("Process snapshot failed; orphan tracking will be coarse.", "error", err)
		}
	}

	stages, err := d.Builder.BuildStages(ctx, jobCtx, desc)
	if err != nil {
		phase.Fail(err)
		result := d.classifyFailure(phase)
		phase.Complete(result)
		if result == execctx.Canceled {
			d.setState(DriverCanceled)
			return nil, fmt.Errorf("job initialization canceled: %w", err)
		}
		d.setState(DriverFailed)
		return nil, fmt.Errorf("job initialization failed: %w", err)
	}

	d.mu.Lock()
	d.stages = stages
	d.mu.Unlock()
	d.setState(Ready)
	return stages.All(), nil
}

// classifyFailure turns an Initialize error into a result: a mirrored
// cancellation is Canceled unless the agent itself is shutting down, in
// which case a dying host is a different failure class and the job is
// Failed.
func (d *Driver) classifyFailure(phase *execctx.Context) execctx.Result {
	if !phase.Canceled() {
		return execctx.Failed
	}
	if d.ShuttingDown != nil && d.ShuttingDown() {
		return execctx.Failed
	}
	return execctx.Canceled
}

func (d *Driver) runDiagnostics(ctx context.Context) {
	if d.Diagnostics == nil {
		return
	}
	logger := ctxlog.FromContext(ctx)
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("Environment diagnostics panicked; continuing.", "panic", r)
		}
	}()
	d.Diagnostics.Run(ctx)
}

// Finalize tears the job down. Every responsibility is independently
// best-effort: errors are logged and swallowed, never rethrown, since
// finalize runs during teardown where an error would mask the job's real
// result.
func (d *Driver) Finalize(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	d.setState(Finalizing)

	if d.Shipper != nil {
		waitCtx, cancel := context.WithTimeout(ctx, shipperWaitLimit)
		if err := d.Shipper.Wait(waitCtx); err != nil {
			logger.Warn("Log shipper did not exit cleanly.", "error", err)
		}
		cancel()
	}

	if d.TaskKeyFile != "" {
		if err := os.Remove(d.TaskKeyFile); err != nil && !os.IsNotExist(err) {
			logger.Warn("Could not delete task key file.", "path", d.TaskKeyFile, "error", err)
		}
	}

	if d.Registry != nil {
		if killed := d.Registry.Reconcile(ctx); len(killed) > 0 {
			logger.Warn("Reaped orphan processes at job end.", "count", len(killed))
		}
	}

	d.setState(Done)
}
