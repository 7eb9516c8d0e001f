package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/vk/rigrunner/internal/ctxlog"
	"github.com/vk/rigrunner/internal/execctx"
	"github.com/vk/rigrunner/internal/executor"
	"github.com/vk/rigrunner/internal/job"
	"github.com/vk/rigrunner/internal/pipeline"
	"github.com/vk/rigrunner/internal/vars"
)

// Run executes every job found at the configured pipeline path, in order.
// A failed job stops the run; its teardown has already happened by then.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	logger := a.logger

	if a.config.HealthcheckPort > 0 {
		a.startHealthcheckServer(ctx)
		defer a.closeHealthcheckServer(ctx)
	}

	descs, err := pipeline.NewLoader().Load(ctx, a.config.PipelinePath)
	if err != nil {
		return fmt.Errorf("loading pipeline: %w", err)
	}
	logger.Info("Pipeline loaded.", "jobs", len(descs))

	// One handler registration for the whole run; each job attaches its
	// own watcher to the shared channel.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	var hard atomic.Bool

	for _, desc := range descs {
		if err := a.runJob(ctx, desc, sigCh, &hard); err != nil {
			return err
		}
	}
	return nil
}

// runJob drives one job through initialize, execute and finalize. Finalize
// runs whatever happened before it.
func (a *App) runJob(ctx context.Context, desc *job.Descriptor, sigCh <-chan os.Signal, hard *atomic.Bool) error {
	logger := ctxlog.FromContext(ctx)

	scope := vars.NewScope(a.masker)
	for name, v := range desc.Variables {
		if v.Secret {
			scope.SetSecret(name, v.Value)
		} else {
			scope.Set(name, v.Value)
		}
	}

	jobCtx := execctx.NewRoot(ctx, desc.DisplayName, scope)
	jobCtx.Start()
	stopWatching := a.watchSignals(ctx, jobCtx, sigCh, hard)
	defer stopWatching()

	driver := &job.Driver{
		Builder: &job.StageBuilder{
			Resolver:  a.registry,
			Extension: job.NopExtension{},
			Checkout: &job.CheckoutStepFactory{
				Runner:    a.runner,
				Masker:    a.masker,
				WorkRoot:  filepath.Join(a.settings.WorkDir, "sources"),
				MarkerEnv: a.orphans.MarkerEnv(),
			},
			Containers: a.containerRunner(),
			Runner:     a.runner,
			MarkerEnv:  a.orphans.MarkerEnv(),
		},
		Registry:     a.orphans,
		Diagnostics:  a.diagnostics(),
		TaskKeyFile:  a.settings.TaskKeyPath(),
		ShuttingDown: hard.Load,
	}

	steps, err := driver.Initialize(ctx, jobCtx, desc)
	if err != nil {
		driver.Finalize(ctx)
		return err
	}

	logger.Info("🚀 Starting job.", "job", desc.DisplayName, "steps", len(steps))
	exec := executor.New(steps)
	exec.ShutdownGrace = a.settings.ShutdownGrace.Std()
	result := exec.Run(ctx, jobCtx)

	driver.Finalize(ctx)

	switch result {
	case execctx.Succeeded, execctx.SucceededWithIssues, execctx.Skipped:
		return nil
	case execctx.Canceled:
		return fmt.Errorf("job %s canceled", desc.JobID)
	default:
		return fmt.Errorf("job %s failed", desc.JobID)
	}
}

// watchSignals cancels the job on the first interrupt. A second interrupt
// marks the runner as shutting down, which is what turns a cancellation
// into a failure classification. The returned stop function detaches the
// watcher so a finished job leaves no goroutine reading the shared channel.
func (a *App) watchSignals(ctx context.Context, jobCtx *execctx.Context, sigCh <-chan os.Signal, hard *atomic.Bool) (stop func()) {
	logger := ctxlog.FromContext(ctx)
	done := make(chan struct{})

	go func() {
		select {
		case <-sigCh:
			logger.Warn("Interrupt received, canceling job. Interrupt again to force shutdown.")
			jobCtx.Cancel()
		case <-done:
			return
		}
		select {
		case <-sigCh:
			logger.Error("Second interrupt, shutting down.")
			hard.Store(true)
		case <-done:
		}
	}()

	return func() { close(done) }
}
