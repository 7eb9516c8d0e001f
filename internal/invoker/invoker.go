// Package invoker runs external executables with cancellation, environment
// injection and masked output streaming. It is the only place the core
// touches os/exec; everything above it sees exit codes.
package invoker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/vk/rigrunner/internal/ctxlog"
	"github.com/vk/rigrunner/internal/masker"
)

// Spec describes one invocation.
type Spec struct {
	Program string
	Args    []string
	Dir     string
	// Env entries are appended to the parent environment. The job's orphan
	// tracking marker rides in here.
	Env []string
	// Stdout and Stderr receive the (masked) streams. Nil writers fall back
	// to logging each line through the context logger.
	Stdout io.Writer
	Stderr io.Writer
	// Stdin, when set, is piped to the child. Checkout uses this never;
	// container login does.
	Stdin io.Reader
}

// Runner executes a Spec and reports the exit code. A non-nil error means
// the process could not be run or was killed by cancellation; a non-zero
// exit with a nil error is the normal failure signal callers inspect.
type Runner interface {
	Run(ctx context.Context, spec Spec) (int, error)
}

// ExecRunner is the os/exec-backed Runner. Output passes through the masker
// line by line so credentials never reach a log unredacted.
type ExecRunner struct {
	masker *masker.Masker
}

// NewExecRunner creates a runner that redacts through m.
func NewExecRunner(m *masker.Masker) *ExecRunner {
	return &ExecRunner{masker: m}
}

// Run blocks until the process exits or ctx fires. On cancellation the
// child is killed and ctx's error is returned.
func (r *ExecRunner) Run(ctx context.Context, spec Spec) (int, error) {
	logger := ctxlog.FromContext(ctx)

	cmd := exec.CommandContext(ctx, spec.Program, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdin = spec.Stdin

	stdout := spec.Stdout
	if stdout == nil {
		stdout = logLineWriter(ctx, spec.Program, false)
	}
	stderr := spec.Stderr
	if stderr == nil {
		stderr = logLineWriter(ctx, spec.Program, true)
	}
	cmd.Stdout = newMaskWriter(stdout, r.masker)
	cmd.Stderr = newMaskWriter(stderr, r.masker)

	logger.Debug("Starting process.", "program", spec.Program, "args", r.masker.Mask(fmt.Sprint(spec.Args)), "dir", spec.Dir)

	err := cmd.Run()

	flushMaskWriters(cmd.Stdout, cmd.Stderr)

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// The canceled case wins over the exit code: a killed child
			// reports an uninformative signal status.
			if ctx.Err() != nil {
				return exitErr.ExitCode(), ctx.Err()
			}
			logger.Debug("Process exited non-zero.", "program", spec.Program, "code", exitErr.ExitCode())
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("running %s: %w", spec.Program, err)
	}
	return 0, nil
}

func flushMaskWriters(writers ...io.Writer) {
	for _, w := range writers {
		if mw, ok := w.(*maskWriter); ok {
			mw.Flush()
		}
	}
}
