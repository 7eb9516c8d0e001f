// Package toolcache provides the toolCache task: restore a cached
// directory before the job's main steps and save it back afterwards. The
// restore and save halves ride the pre-job and post-job stages, so a job
// gets its cache even when the main steps fail.
package toolcache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vk/rigrunner/internal/ctxlog"
	"github.com/vk/rigrunner/internal/invoker"
	"github.com/vk/rigrunner/internal/job"
	"github.com/vk/rigrunner/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct {
	Runner invoker.Runner
	// CacheRoot is where cache entries live, keyed by the task's 'key'
	// input.
	CacheRoot string
	MarkerEnv string
}

// Register registers the task with the library.
func (m *Module) Register(r *registry.Registry) {
	r.Add(&job.TaskDefinition{
		Ref:              job.TaskRef{Name: "toolCache", Version: "1"},
		DisplayName:      "Tool cache",
		PreJobExecution:  &job.TaskExecution{Handler: m.restore},
		PostJobExecution: &job.TaskExecution{Handler: m.save},
	})
}

func (m *Module) inputs(step job.Step) (key, path string, err error) {
	task, ok := step.(*job.TaskStep)
	if !ok {
		return "", "", fmt.Errorf("toolCache invoked outside a task step")
	}
	key, path = task.Inputs["key"], task.Inputs["path"]
	if key == "" || path == "" {
		return "", "", fmt.Errorf("toolCache task needs 'key' and 'path' inputs")
	}
	return key, path, nil
}

func (m *Module) entry(key string) string {
	return filepath.Join(m.CacheRoot, key)
}

func (m *Module) restore(ctx context.Context, step job.Step) error {
	logger := ctxlog.FromContext(ctx)
	key, path, err := m.inputs(step)
	if err != nil {
		return err
	}

	entry := m.entry(key)
	if _, err := os.Stat(entry); os.IsNotExist(err) {
		logger.Info("Cache miss.", "key", key)
		return nil
	}

	if err := m.copyTree(ctx, entry, path); err != nil {
		return fmt.Errorf("restoring cache %s: %w", key, err)
	}
	logger.Info("Cache restored.", "key", key, "path", path)
	return nil
}

// save is best-effort in spirit but surfaces its errors; the executor runs
// it under always() so a failed save never blocks other teardown.
func (m *Module) save(ctx context.Context, step job.Step) error {
	logger := ctxlog.FromContext(ctx)
	key, path, err := m.inputs(step)
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info("Nothing to cache.", "key", key, "path", path)
		return nil
	}

	if err := m.copyTree(ctx, path, m.entry(key)); err != nil {
		return fmt.Errorf("saving cache %s: %w", key, err)
	}
	logger.Info("Cache saved.", "key", key)
	return nil
}

func (m *Module) copyTree(ctx context.Context, src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.RemoveAll(dst); err != nil {
		return err
	}

	code, err := m.Runner.Run(ctx, invoker.Spec{
		Program: "cp",
		Args:    []string{"-a", src, dst},
		Env:     []string{m.MarkerEnv},
	})
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("cp exited with status %d", code)
	}
	return nil
}
