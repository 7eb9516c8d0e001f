// Package reposync implements the source-control synchronization state
// machine: decide whether an on-disk working copy can be reused, run a safe
// non-interactive fetch/checkout sequence under injected credentials, and
// guarantee credential teardown in the post-job stage regardless of outcome.
package reposync

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vk/rigrunner/internal/ctxlog"
	"github.com/vk/rigrunner/internal/gitcli"
	"github.com/vk/rigrunner/internal/masker"
)

const originRemote = "origin"

// Syncer drives one working copy through the sync sequence. It is not safe
// for concurrent use; a job runs at most one sync at a time.
type Syncer struct {
	git    *gitcli.Git
	masker *masker.Masker
	ledger *ConfigLedger

	state  State
	reused bool
	opts   Options

	// fetchedByCommit records whether the commit-targeted second fetch
	// pass actually ran; checkout must only target the exact commit when
	// it did, or an old git leaves the target unfetched.
	fetchedByCommit bool
	// sparse records whether sparse checkout was actually configured, so
	// the fetch can add a matching partial-clone filter.
	sparse bool

	// authHeader holds the transient header-based credential when that
	// strategy is chosen; empty means URL embedding (or no credential).
	authHeader string
}

// NewSyncer creates a driver for the working copy rooted at git's work dir.
func NewSyncer(git *gitcli.Git, m *masker.Masker) *Syncer {
	return &Syncer{git: git, masker: m, ledger: &ConfigLedger{}}
}

// State returns the driver's current state, for logging and tests.
func (s *Syncer) State() State { return s.state }

// Ledger exposes the recorded config mutations; the cleanup step and the
// tests consume it.
func (s *Syncer) Ledger() *ConfigLedger { return s.ledger }

// Sync runs the full sequence. Any tool failure aborts with a fatal error;
// cleanup of recorded credential mutations stays pending for the post-job
// Cleanup call, which must run even when Sync fails.
func (s *Syncer) Sync(ctx context.Context, opts Options) error {
	logger := ctxlog.FromContext(ctx)
	s.opts = opts
	s.fetchedByCommit = false
	s.sparse = false

	if opts.RepositoryURL == "" {
		return fmt.Errorf("repository URL is required")
	}
	if opts.Password != "" {
		s.masker.Add(opts.Password)
	}

	if err := s.examine(ctx); err != nil {
		return err
	}
	if err := s.initialize(ctx); err != nil {
		return err
	}
	if err := s.configureSparse(ctx); err != nil {
		return err
	}
	if err := s.applyTransientAuth(ctx); err != nil {
		return err
	}
	if err := s.fetch(ctx); err != nil {
		return err
	}
	if err := s.checkout(ctx); err != nil {
		return err
	}
	if err := s.updateSubmodules(ctx); err != nil {
		return err
	}
	if err := s.persistCredentials(ctx); err != nil {
		return err
	}

	logger.Info("Repository synchronized.", "url", stripCredential(opts.RepositoryURL), "state", s.state.String())
	return nil
}

// examine decides Fresh, Reuse or Discarded and acts on the decision.
func (s *Syncer) examine(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	root := s.git.WorkDir()

	if _, err := os.Stat(root); os.IsNotExist(err) {
		s.state = Fresh
		return nil
	}

	gitDir := filepath.Join(root, ".git")
	if _, err := os.Stat(gitDir); err != nil {
		logger.Info("Working directory exists without repository metadata; discarding.", "path", root)
		return s.discard(ctx)
	}

	recorded, code, err := s.git.GetFetchURL(ctx, originRemote)
	if err != nil {
		return err
	}
	if code != 0 || stripCredential(recorded) != stripCredential(s.opts.RepositoryURL) {
		logger.Info("Existing working copy points at a different remote; discarding.",
			"recorded", stripCredential(recorded), "expected", stripCredential(s.opts.RepositoryURL))
		return s.discard(ctx)
	}

	s.state = Reuse
	s.reused = true
	s.clearStaleLocks(ctx)

	if s.opts.Clean {
		if err := s.softClean(ctx); err != nil {
			logger.Warn("Soft clean failed; falling back to a fresh clone.", "error", err)
			return s.discard(ctx)
		}
	}
	return nil
}

func (s *Syncer) discard(ctx context.Context) error {
	if err := os.RemoveAll(s.git.WorkDir()); err != nil {
		return fmt.Errorf("discarding working copy: %w", err)
	}
	s.state = Discarded
	s.reused = false
	return nil
}

// clearStaleLocks removes lock files a crashed previous run may have left.
// Best-effort: a lock that cannot be removed will surface as a fetch error.
func (s *Syncer) clearStaleLocks(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	gitDir := filepath.Join(s.git.WorkDir(), ".git")
	for _, name := range []string{"index.lock", "shallow.lock", "HEAD.lock"} {
		path := filepath.Join(gitDir, name)
		if err := os.Remove(path); err == nil {
			logger.Warn("Removed stale lock file from a previous run.", "path", path)
		}
	}
}

// softClean resets a reused working copy to pristine. Any non-zero exit
// fails the whole soft clean; the caller reacts by discarding.
func (s *Syncer) softClean(ctx context.Context) error {
	if code, err := s.git.Clean(ctx); err != nil || code != 0 {
		return toolErr("git clean", code, err)
	}
	if code, err := s.git.ResetHard(ctx); err != nil || code != 0 {
		return toolErr("git reset", code, err)
	}
	if s.opts.Submodules {
		recursive := s.opts.NestedSubmodules
		if code, err := s.git.SubmoduleForeach(ctx, recursive, "clean", "-ffdx"); err != nil || code != 0 {
			return toolErr("git submodule clean", code, err)
		}
		if code, err := s.git.SubmoduleForeach(ctx, recursive, "reset", "--hard", "HEAD"); err != nil || code != 0 {
			return toolErr("git submodule reset", code, err)
		}
	}
	return nil
}

// initialize guarantees .git metadata and the origin remote exist.
func (s *Syncer) initialize(ctx context.Context) error {
	root := s.git.WorkDir()
	if s.state == Reuse {
		s.state = Initialized
		return nil
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("creating working directory: %w", err)
	}
	if code, err := s.git.Init(ctx); err != nil || code != 0 {
		return toolErr("git init", code, err)
	}
	if code, err := s.git.RemoteAdd(ctx, originRemote, s.opts.RepositoryURL); err != nil || code != 0 {
		return toolErr("git remote add", code, err)
	}
	s.state = Initialized
	return nil
}

// configureSparse applies or disables sparse checkout before any fetch, so
// excluded trees and blobs are never transferred.
func (s *Syncer) configureSparse(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	if len(s.opts.SparsePatterns) == 0 {
		// Disable a sparse configuration left by a previous run.
		enabled, err := s.git.ConfigExists(ctx, "core.sparseCheckout")
		if err != nil {
			return err
		}
		if enabled {
			if code, err := s.git.SparseCheckoutDisable(ctx); err != nil || code != 0 {
				return toolErr("git sparse-checkout disable", code, err)
			}
			logger.Info("Disabled sparse checkout left over from a previous run.")
		}
		return nil
	}

	if !s.git.SupportsSparseCheckout(ctx) {
		logger.Warn("Installed git is too old for sparse checkout; fetching the full tree.")
		return nil
	}
	if code, err := s.git.SparseCheckoutSet(ctx, s.opts.SparsePatterns); err != nil || code != 0 {
		return toolErr("git sparse-checkout set", code, err)
	}
	s.sparse = true
	return nil
}

// applyTransientAuth picks the credential strategy and layers proxy and TLS
// parameters on top. Header-based auth is preferred: it lives only in
// command-line config and needs no reversal. URL embedding mutates the
// remote and is recorded for unconditional reversal.
func (s *Syncer) applyTransientAuth(ctx context.Context) error {
	var pairs []string

	if s.opts.hasCredential() {
		if s.git.SupportsAuthHeader(ctx) {
			s.authHeader = basicAuthHeader(s.opts.Username, s.opts.Password)
			s.masker.Add(s.authHeader)
			pairs = append(pairs, "http.extraheader=AUTHORIZATION: "+s.authHeader)
		} else {
			embedded, err := withCredential(s.opts.RepositoryURL, s.opts.Username, s.opts.Password)
			if err != nil {
				return fmt.Errorf("embedding credential in remote URL: %w", err)
			}
			s.masker.Add(embedded)
			// Record before mutating: a failed set must still be reverted.
			s.ledger.Record("remote."+originRemote+".url", embedded)
			if code, err := s.git.RemoteSetURL(ctx, originRemote, embedded); err != nil || code != 0 {
				return toolErr("git remote set-url", code, err)
			}
		}
	}

	if s.opts.ProxyURL != "" {
		proxy := s.opts.ProxyURL
		if s.opts.ProxyPassword != "" {
			withAuth, err := withCredential(proxy, s.opts.ProxyUsername, s.opts.ProxyPassword)
			if err != nil {
				return fmt.Errorf("building proxy URL: %w", err)
			}
			s.masker.Add(withAuth)
			proxy = withAuth
		}
		pairs = append(pairs, "http.proxy="+proxy)
	}
	if s.opts.CABundlePath != "" {
		pairs = append(pairs, "http.sslCAInfo="+s.opts.CABundlePath)
	}
	if s.opts.ClientCert != "" {
		pairs = append(pairs, "http.sslCert="+s.opts.ClientCert)
		if s.opts.ClientKey != "" {
			pairs = append(pairs, "http.sslKey="+s.opts.ClientKey)
		}
	}

	s.git.SetExtraConfig(pairs...)
	return nil
}

func basicAuthHeader(username, password string) string {
	if username == "" {
		username = "rigrunner"
	}
	raw := username + ":" + password
	return "basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

// toolErr normalizes a tool invocation outcome into one fatal error.
func toolErr(op string, code int, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s exited with status %d", op, code)
}
