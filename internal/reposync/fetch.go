package reposync

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/vk/rigrunner/internal/ctxlog"
	"github.com/vk/rigrunner/internal/gitcli"
)

// fetch transfers remote objects. Pull-request refs fetch all branches plus
// the specific PR ref; commit-targeted fetching, when allowed and supported,
// runs as a separate second pass so default fetch semantics stay untouched.
func (s *Syncer) fetch(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	fetchByCommit := s.opts.FetchByCommit &&
		s.opts.Commit != "" &&
		s.git.SupportsFetchByCommit(ctx)
	s.fetchedByCommit = fetchByCommit

	opts := gitcli.FetchOptions{
		Remote:   originRemote,
		Depth:    s.opts.Depth,
		Prune:    s.reused,
		Refspecs: s.fetchRefspecs(fetchByCommit),
	}
	if s.sparse {
		// Sparse checkout keeps excluded trees out of the working copy;
		// the blob filter keeps their contents out of the object store.
		opts.Filter = "blob:none"
	}
	if s.reused && s.opts.Depth == 0 && s.isShallow() {
		// A previous shallow run left truncated history behind; this run
		// wants the full history back.
		opts.Unshallow = true
	}

	if code, err := s.git.Fetch(ctx, opts); err != nil || code != 0 {
		return toolErr("git fetch", code, err)
	}

	if fetchByCommit {
		second := gitcli.FetchOptions{
			Remote:   originRemote,
			Depth:    s.opts.Depth,
			NoTags:   true,
			Refspecs: []string{s.opts.Commit},
		}
		if code, err := s.git.Fetch(ctx, second); err != nil || code != 0 {
			return toolErr("git fetch (by commit)", code, err)
		}
		logger.Debug("Fetched exact commit.", "commit", s.opts.Commit)
	}

	if s.opts.LFS {
		if err := s.fetchLFS(ctx); err != nil {
			return err
		}
	}

	s.state = Fetched
	return nil
}

// fetchRefspecs builds the main fetch's refspec list.
func (s *Syncer) fetchRefspecs(fetchByCommit bool) []string {
	allBranches := "+refs/heads/*:refs/remotes/" + originRemote + "/*"

	if IsPullRequestRef(s.opts.Ref) {
		mirror := "+" + s.opts.Ref + ":refs/remotes/" + strings.TrimPrefix(s.opts.Ref, "refs/")
		return []string{allBranches, mirror}
	}
	if fetchByCommit {
		// The second pass carries the commit; the main pass stays minimal.
		branch := branchName(s.opts.Ref)
		if branch != "" && !looksLikeCommit(branch) {
			return []string{"+refs/heads/" + branch + ":refs/remotes/" + originRemote + "/" + branch}
		}
	}
	return []string{allBranches}
}

// fetchLFS installs LFS once and prefetches objects ahead of checkout.
// Install failures are fatal; prefetch failures downgrade to a warning:
// shallow history legitimately breaks `lfs fetch`, and checkout-time smudge
// will retry object by object.
func (s *Syncer) fetchLFS(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	if code, err := s.git.LfsInstall(ctx); err != nil || code != 0 {
		return toolErr("git lfs install", code, err)
	}

	ref := s.checkoutTarget()
	if code, err := s.git.LfsFetch(ctx, ref); err != nil || code != 0 {
		logs, _, logErr := s.git.LfsLogs(ctx)
		if logErr != nil {
			logs = ""
		}
		logger.Warn("LFS prefetch failed; objects will be fetched during checkout instead.",
			"ref", ref, "exitCode", code, "lfsLogs", logs)
	}
	return nil
}

// checkoutTarget resolves the target ref by precedence: the exact commit
// when the commit-targeted fetch actually ran, else the remote-qualified
// branch for PRs and unversioned requests, else the literal requested
// version.
func (s *Syncer) checkoutTarget() string {
	if s.fetchedByCommit {
		return s.opts.Commit
	}
	if IsPullRequestRef(s.opts.Ref) {
		return "refs/remotes/" + strings.TrimPrefix(s.opts.Ref, "refs/")
	}
	if s.opts.Ref == "" {
		return "refs/remotes/" + originRemote + "/HEAD"
	}
	if strings.HasPrefix(s.opts.Ref, "refs/heads/") {
		return "refs/remotes/" + originRemote + "/" + branchName(s.opts.Ref)
	}
	// A literal commit id or tag.
	return s.opts.Ref
}

// isShallow reports whether the on-disk repository carries truncated
// history from a previous shallow fetch.
func (s *Syncer) isShallow() bool {
	_, err := os.Stat(filepath.Join(s.git.WorkDir(), ".git", "shallow"))
	return err == nil
}

// checkout verifies the target resolves locally, then switches the working
// tree. A failure under shallow history gets a targeted warning before the
// underlying error is raised: the commit is usually simply outside the
// fetched depth.
func (s *Syncer) checkout(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	target := s.checkoutTarget()

	resolvable, err := s.git.RevParseVerify(ctx, target)
	if err != nil {
		return err
	}
	if !resolvable {
		if s.opts.Depth > 0 {
			logger.Warn("Checkout target is unknown in a shallow repository; the requested version may be outside the fetched depth. Consider increasing the fetch depth.",
				"target", target, "depth", s.opts.Depth)
		}
		return gitcli.BadRef(target)
	}

	code, err := s.git.Checkout(ctx, target)
	if err != nil {
		return err
	}
	if code != 0 {
		if s.opts.Depth > 0 {
			logger.Warn("Checkout failed in a shallow repository; the requested version may be outside the fetched depth. Consider increasing the fetch depth.",
				"target", target, "depth", s.opts.Depth)
		}
		return toolErr("git checkout", code, nil)
	}

	s.state = CheckedOut
	return nil
}

// updateSubmodules syncs then updates, recursively when nested submodules
// were requested. The transient auth/proxy/TLS config on the adapter applies
// to the submodule commands unchanged.
func (s *Syncer) updateSubmodules(ctx context.Context) error {
	if !s.opts.Submodules {
		s.state = SubmodulesUpdated
		return nil
	}

	recursive := s.opts.NestedSubmodules
	if code, err := s.git.SubmoduleSync(ctx, recursive); err != nil || code != 0 {
		return toolErr("git submodule sync", code, err)
	}
	if code, err := s.git.SubmoduleUpdate(ctx, recursive); err != nil || code != 0 {
		return toolErr("git submodule update", code, err)
	}

	s.state = SubmodulesUpdated
	return nil
}

// persistCredentials writes the auth header into repository config when the
// job asked for credentials to outlive the checkout step. The mutation is
// recorded first so post-job cleanup reverts it no matter what happens in
// between.
func (s *Syncer) persistCredentials(ctx context.Context) error {
	if !s.opts.PersistCredentials || s.authHeader == "" {
		s.state = CredentialsApplied
		return nil
	}

	key := "http." + stripCredential(s.opts.RepositoryURL) + ".extraheader"
	value := "AUTHORIZATION: " + s.authHeader
	s.ledger.Record(key, value)
	if code, err := s.git.ConfigSet(ctx, key, value); err != nil || code != 0 {
		return toolErr("git config (persist credential)", code, err)
	}

	s.state = CredentialsApplied
	return nil
}
