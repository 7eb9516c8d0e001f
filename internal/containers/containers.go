// Package containers drives the docker CLI to host job steps: one network
// per job, the declared sidecars, and optionally the job container itself.
// Teardown mirrors startup in reverse so dependents go down before their
// dependencies.
package containers

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/vk/rigrunner/internal/ctxlog"
	"github.com/vk/rigrunner/internal/invoker"
	"github.com/vk/rigrunner/internal/job"
)

// DockerRunner starts and stops a job's containers through the docker CLI.
type DockerRunner struct {
	Runner invoker.Runner
	// MarkerEnv rides on every docker invocation for orphan tracking.
	MarkerEnv string
	// Binary overrides the docker executable name, mostly for tests.
	Binary string

	network string
	// started holds container ids in startup order; StopAll walks it
	// backwards.
	started []string
}

func (d *DockerRunner) binary() string {
	if d.Binary != "" {
		return d.Binary
	}
	return "docker"
}

func (d *DockerRunner) run(ctx context.Context, args ...string) error {
	code, err := d.Runner.Run(ctx, invoker.Spec{
		Program: d.binary(),
		Args:    args,
		Env:     []string{d.MarkerEnv},
	})
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("docker %s exited with status %d", args[0], code)
	}
	return nil
}

func (d *DockerRunner) runCapture(ctx context.Context, args ...string) (string, error) {
	var stdout bytes.Buffer
	code, err := d.Runner.Run(ctx, invoker.Spec{
		Program: d.binary(),
		Args:    args,
		Env:     []string{d.MarkerEnv},
		Stdout:  &stdout,
	})
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", fmt.Errorf("docker %s exited with status %d", args[0], code)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// StartAll creates the job network, pulls every declared image and starts
// the sidecars before the job container. The first failure aborts startup;
// whatever came up stays registered so StopAll can tear it down.
func (d *DockerRunner) StartAll(ctx context.Context, desc *job.Descriptor) error {
	logger := ctxlog.FromContext(ctx)

	d.network = "job_" + uuid.NewString()[:8]
	if err := d.run(ctx, "network", "create", d.network); err != nil {
		return fmt.Errorf("creating job network: %w", err)
	}
	logger.Info("Created job network.", "network", d.network)

	specs := append([]job.ContainerSpec{}, desc.Sidecars...)
	if desc.Container != nil {
		specs = append(specs, *desc.Container)
	}

	for _, spec := range specs {
		if err := d.run(ctx, "pull", spec.Image); err != nil {
			return fmt.Errorf("pulling %s: %w", spec.Image, err)
		}
		id, err := d.startContainer(ctx, spec)
		if err != nil {
			return fmt.Errorf("starting container %s: %w", spec.Name, err)
		}
		d.started = append(d.started, id)
		logger.Info("Started container.", "name", spec.Name, "image", spec.Image, "id", id)
	}
	return nil
}

func (d *DockerRunner) startContainer(ctx context.Context, spec job.ContainerSpec) (string, error) {
	args := []string{"create", "--network", d.network, "--network-alias", spec.Name}
	for _, name := range sortedEnvNames(spec.Env) {
		args = append(args, "-e", name+"="+spec.Env[name])
	}
	args = append(args, spec.Options...)
	args = append(args, spec.Image)

	id, err := d.runCapture(ctx, args...)
	if err != nil {
		return "", err
	}
	if err := d.run(ctx, "start", id); err != nil {
		return "", err
	}
	return id, nil
}

// StopAll stops and removes every started container in reverse startup
// order, then removes the network. Each teardown action is attempted even
// when earlier ones failed; failures are collected, never masked.
func (d *DockerRunner) StopAll(ctx context.Context, _ *job.Descriptor) error {
	logger := ctxlog.FromContext(ctx)
	var result *multierror.Error

	for i := len(d.started) - 1; i >= 0; i-- {
		id := d.started[i]
		if err := d.run(ctx, "stop", "--time", "10", id); err != nil {
			logger.Warn("Could not stop container.", "id", id, "error", err)
			result = multierror.Append(result, err)
		}
		if err := d.run(ctx, "rm", "--force", id); err != nil {
			logger.Warn("Could not remove container.", "id", id, "error", err)
			result = multierror.Append(result, err)
		}
	}
	d.started = nil

	if d.network != "" {
		if err := d.run(ctx, "network", "rm", d.network); err != nil {
			logger.Warn("Could not remove job network.", "network", d.network, "error", err)
			result = multierror.Append(result, err)
		}
		d.network = ""
	}
	return result.ErrorOrNil()
}

func sortedEnvNames(env map[string]string) []string {
	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
