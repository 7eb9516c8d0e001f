package gitcli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Init creates an empty repository in the working directory.
func (g *Git) Init(ctx context.Context) (int, error) {
	return g.run(ctx, "init")
}

// RemoteAdd registers a remote.
func (g *Git) RemoteAdd(ctx context.Context, name, url string) (int, error) {
	return g.run(ctx, "remote", "add", name, url)
}

// RemoteSetURL rewrites a remote's fetch URL.
func (g *Git) RemoteSetURL(ctx context.Context, name, url string) (int, error) {
	return g.run(ctx, "remote", "set-url", name, url)
}

// RemoteSetPushURL rewrites a remote's push URL.
func (g *Git) RemoteSetPushURL(ctx context.Context, name, url string) (int, error) {
	return g.run(ctx, "remote", "set-url", "--push", name, url)
}

// GetFetchURL reads the recorded fetch URL of a remote. A non-zero status
// with empty output means the remote (or the repository) does not exist.
func (g *Git) GetFetchURL(ctx context.Context, name string) (string, int, error) {
	return g.runCapture(ctx, "config", "--get", "remote."+name+".url")
}

// FetchOptions shape one fetch invocation.
type FetchOptions struct {
	Remote string
	// Depth > 0 requests shallow history.
	Depth int
	// Unshallow converts a previously shallow clone back to full history.
	// Ignored when Depth is set.
	Unshallow bool
	// Filter is a partial-clone filter spec such as "blob:none".
	Filter string
	// NoTags suppresses tag transfer.
	NoTags bool
	// Refspecs limit what is fetched; empty means the remote's defaults.
	Refspecs []string
	// Prune removes deleted remote refs.
	Prune bool
	// ExtraArgs are appended verbatim.
	ExtraArgs []string
}

// Fetch runs git fetch with the given options.
func (g *Git) Fetch(ctx context.Context, opts FetchOptions) (int, error) {
	remote := opts.Remote
	if remote == "" {
		remote = "origin"
	}

	args := []string{"fetch", "--progress", "--no-recurse-submodules"}
	if opts.Prune {
		args = append(args, "--prune")
	}
	if opts.NoTags {
		args = append(args, "--no-tags")
	} else {
		args = append(args, "--tags")
	}
	if opts.Depth > 0 {
		args = append(args, "--depth="+strconv.Itoa(opts.Depth))
	} else if opts.Unshallow {
		// Undo a previous shallow fetch when full history is wanted again.
		args = append(args, "--unshallow")
	}
	if opts.Filter != "" {
		args = append(args, "--filter="+opts.Filter)
	}
	args = append(args, opts.ExtraArgs...)
	args = append(args, remote)
	args = append(args, opts.Refspecs...)
	return g.run(ctx, args...)
}

// Checkout switches the working tree to ref.
func (g *Git) Checkout(ctx context.Context, ref string, extraArgs ...string) (int, error) {
	args := append([]string{"checkout", "--progress", "--force"}, extraArgs...)
	args = append(args, ref)
	return g.run(ctx, args...)
}

// Clean removes untracked files, directories and ignored content.
func (g *Git) Clean(ctx context.Context) (int, error) {
	return g.run(ctx, "clean", "-ffdx")
}

// ResetHard discards tracked modifications.
func (g *Git) ResetHard(ctx context.Context) (int, error) {
	return g.run(ctx, "reset", "--hard", "HEAD")
}

// SubmoduleSync aligns submodule remotes with .gitmodules.
func (g *Git) SubmoduleSync(ctx context.Context, recursive bool) (int, error) {
	args := []string{"submodule", "sync"}
	if recursive {
		args = append(args, "--recursive")
	}
	return g.run(ctx, args...)
}

// SubmoduleUpdate initializes and updates submodules, optionally recursing
// into nested ones.
func (g *Git) SubmoduleUpdate(ctx context.Context, recursive bool, extraArgs ...string) (int, error) {
	args := []string{"submodule", "update", "--init", "--force"}
	if recursive {
		args = append(args, "--recursive")
	}
	args = append(args, extraArgs...)
	return g.run(ctx, args...)
}

// SubmoduleForeach runs a git command in every submodule.
func (g *Git) SubmoduleForeach(ctx context.Context, recursive bool, command ...string) (int, error) {
	args := []string{"submodule", "foreach"}
	if recursive {
		args = append(args, "--recursive")
	}
	args = append(args, "git "+strings.Join(command, " "))
	return g.run(ctx, args...)
}

// ConfigSet writes a repository-local config key.
func (g *Git) ConfigSet(ctx context.Context, key, value string) (int, error) {
	return g.run(ctx, "config", key, value)
}

// ConfigUnset removes all values of a repository-local config key.
func (g *Git) ConfigUnset(ctx context.Context, key string) (int, error) {
	return g.run(ctx, "config", "--unset-all", key)
}

// ConfigExists reports whether the key has at least one value.
func (g *Git) ConfigExists(ctx context.Context, key string) (bool, error) {
	code, err := g.run(ctx, "config", "--get-all", key)
	if err != nil {
		return false, err
	}
	return code == 0, nil
}

// SparseCheckoutSet configures cone-less sparse checkout for the given
// directory patterns. Must run before the first fetch so excluded trees are
// never transferred.
func (g *Git) SparseCheckoutSet(ctx context.Context, patterns []string) (int, error) {
	args := append([]string{"sparse-checkout", "set", "--no-cone"}, patterns...)
	return g.run(ctx, args...)
}

// SparseCheckoutDisable removes a previous sparse configuration, restoring
// the full working tree on the next checkout.
func (g *Git) SparseCheckoutDisable(ctx context.Context) (int, error) {
	return g.run(ctx, "sparse-checkout", "disable")
}

// LfsInstall enables LFS smudge/clean filters for the repository.
func (g *Git) LfsInstall(ctx context.Context) (int, error) {
	return g.run(ctx, "lfs", "install", "--local")
}

// LfsFetch downloads LFS objects for ref ahead of checkout.
func (g *Git) LfsFetch(ctx context.Context, ref string) (int, error) {
	args := []string{"lfs", "fetch", "origin"}
	if ref != "" {
		args = append(args, ref)
	}
	return g.run(ctx, args...)
}

// LfsLogs surfaces the last LFS error log for diagnostics.
func (g *Git) LfsLogs(ctx context.Context) (string, int, error) {
	return g.runCapture(ctx, "lfs", "logs", "last")
}

// RevParseVerify checks that ref resolves in the local object store.
func (g *Git) RevParseVerify(ctx context.Context, ref string) (bool, error) {
	code, err := g.run(ctx, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err != nil {
		return false, err
	}
	return code == 0, nil
}

// BadRef formats the fatal error raised when a requested version cannot be
// resolved after fetch.
func BadRef(ref string) error {
	return fmt.Errorf("git checkout target %q could not be resolved; the ref was not fetched", ref)
}
