// Package gitcli adapts the git command line into the narrow operation set
// the source sync driver consumes. Every operation surfaces the process exit
// status; a non-zero status is the only failure signal the driver inspects.
package gitcli

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/vk/rigrunner/internal/ctxlog"
	"github.com/vk/rigrunner/internal/invoker"
)

// Git drives the git binary inside one working directory. ExtraArgs are
// transient `-c key=value` pairs (auth header, proxy, TLS) applied to every
// command of the run without touching on-disk config.
type Git struct {
	runner  invoker.Runner
	workDir string
	env     []string
	// extraConfig holds -c arguments, already formatted.
	extraConfig []string

	version    Version
	versionSet bool
}

// New creates an adapter rooted at workDir. env entries (the orphan marker,
// credential helpers disabled, terminal prompts off) ride on every call.
func New(runner invoker.Runner, workDir string, env ...string) *Git {
	base := append([]string{
		// Never block a non-interactive agent on a credential prompt.
		"GIT_TERMINAL_PROMPT=0",
	}, env...)
	return &Git{runner: runner, workDir: workDir, env: base}
}

// WorkDir returns the adapter's working directory.
func (g *Git) WorkDir() string { return g.workDir }

// SetExtraConfig replaces the transient per-command config arguments.
func (g *Git) SetExtraConfig(pairs ...string) {
	g.extraConfig = nil
	for _, pair := range pairs {
		g.extraConfig = append(g.extraConfig, "-c", pair)
	}
}

// run executes git with the transient config prefix inside the work dir.
func (g *Git) run(ctx context.Context, args ...string) (int, error) {
	full := append(append([]string{}, g.extraConfig...), args...)
	return g.runner.Run(ctx, invoker.Spec{
		Program: "git",
		Args:    full,
		Dir:     g.workDir,
		Env:     g.env,
	})
}

// runCapture executes git and returns trimmed stdout alongside the status.
func (g *Git) runCapture(ctx context.Context, args ...string) (string, int, error) {
	var out bytes.Buffer
	full := append(append([]string{}, g.extraConfig...), args...)
	code, err := g.runner.Run(ctx, invoker.Spec{
		Program: "git",
		Args:    full,
		Dir:     g.workDir,
		Env:     g.env,
		Stdout:  &out,
	})
	return strings.TrimSpace(out.String()), code, err
}

// Version is a parsed `git version` triple.
type Version struct {
	Major, Minor, Patch int
}

// AtLeast reports whether v is at or above major.minor.
func (v Version) AtLeast(major, minor int) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

var versionRe = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// EnsureVersion probes `git version` once and caches the result.
func (g *Git) EnsureVersion(ctx context.Context) (Version, error) {
	if g.versionSet {
		return g.version, nil
	}

	out, code, err := g.runCapture(ctx, "version")
	if err != nil {
		return Version{}, err
	}
	if code != 0 {
		return Version{}, fmt.Errorf("git version exited with status %d", code)
	}

	v, err := ParseVersion(out)
	if err != nil {
		return Version{}, err
	}
	g.version = v
	g.versionSet = true
	ctxlog.FromContext(ctx).Debug("Probed git version.", "version", v.String())
	return v, nil
}

// ParseVersion extracts the numeric triple from `git version` output.
func ParseVersion(out string) (Version, error) {
	m := versionRe.FindStringSubmatch(out)
	if m == nil {
		return Version{}, fmt.Errorf("unrecognized git version output %q", out)
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	patch := 0
	if m[3] != "" {
		patch, _ = strconv.Atoi(m[3])
	}
	return Version{Major: major, Minor: minor, Patch: patch}, nil
}

// SupportsAuthHeader reports whether this git can take an Authorization
// header as a transient -c argument (http.extraheader, git 2.9+). Older
// clients fall back to credential-embedded URLs.
func (g *Git) SupportsAuthHeader(ctx context.Context) bool {
	v, err := g.EnsureVersion(ctx)
	if err != nil {
		return false
	}
	return v.AtLeast(2, 9)
}

// SupportsFetchByCommit reports whether fetching an exact commit id is
// available client-side (git 2.20+; the server must also allow it, which the
// caller's policy flag conveys).
func (g *Git) SupportsFetchByCommit(ctx context.Context) bool {
	v, err := g.EnsureVersion(ctx)
	if err != nil {
		return false
	}
	return v.AtLeast(2, 20)
}

// SupportsSparseCheckout reports whether the sparse-checkout subcommand
// exists (git 2.25+).
func (g *Git) SupportsSparseCheckout(ctx context.Context) bool {
	v, err := g.EnsureVersion(ctx)
	if err != nil {
		return false
	}
	return v.AtLeast(2, 25)
}
