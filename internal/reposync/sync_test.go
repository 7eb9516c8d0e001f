package reposync

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/rigrunner/internal/gitcli"
	"github.com/vk/rigrunner/internal/invoker"
	"github.com/vk/rigrunner/internal/masker"
)

// fakeGit answers git invocations from a script keyed by argument prefix
// and records every call for assertions.
type fakeGit struct {
	calls   []string
	stdout  map[string]string
	exitFor map[string]int
}

func newFakeGit() *fakeGit {
	return &fakeGit{
		stdout: map[string]string{"version": "git version 2.30.1\n"},
		exitFor: map[string]int{
			"config --get-all core.sparseCheckout": 1,
		},
	}
}

func (f *fakeGit) Run(ctx context.Context, spec invoker.Spec) (int, error) {
	// Transient -c pairs precede the subcommand; strip them for keying but
	// keep the raw call for assertions.
	raw := strings.Join(spec.Args, " ")
	f.calls = append(f.calls, raw)

	args := spec.Args
	for len(args) >= 2 && args[0] == "-c" {
		args = args[2:]
	}
	key := strings.Join(args, " ")

	for prefix, out := range f.stdout {
		if strings.HasPrefix(key, prefix) && spec.Stdout != nil {
			io.WriteString(spec.Stdout, out) //nolint:errcheck
		}
	}
	for prefix, code := range f.exitFor {
		if strings.HasPrefix(key, prefix) {
			return code, nil
		}
	}
	return 0, nil
}

func (f *fakeGit) callsMatching(substr string) []string {
	var out []string
	for _, call := range f.calls {
		if strings.Contains(call, substr) {
			out = append(out, call)
		}
	}
	return out
}

func newSyncer(t *testing.T, fake *fakeGit) (*Syncer, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "repo")
	git := gitcli.New(fake, root)
	return NewSyncer(git, masker.New()), root
}

func seedWorkingCopy(t *testing.T, root string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
}

func TestSync_FreshClone(t *testing.T) {
	t.Parallel()

	fake := newFakeGit()
	s, _ := newSyncer(t, fake)

	err := s.Sync(context.Background(), Options{RepositoryURL: "https://example.com/repo.git", Ref: "main"})
	require.NoError(t, err)

	assert.NotEmpty(t, fake.callsMatching("init"))
	assert.NotEmpty(t, fake.callsMatching("remote add origin https://example.com/repo.git"))
	assert.NotEmpty(t, fake.callsMatching("fetch"))
	assert.NotEmpty(t, fake.callsMatching("checkout"))
	assert.Equal(t, CredentialsApplied, s.State())
}

func TestSync_MismatchedRemoteDiscardsWorkingCopy(t *testing.T) {
	t.Parallel()

	fake := newFakeGit()
	fake.stdout["config --get remote.origin.url"] = "https://example.com/other.git\n"
	s, root := newSyncer(t, fake)
	seedWorkingCopy(t, root)
	sentinel := filepath.Join(root, "stale-file")
	require.NoError(t, os.WriteFile(sentinel, []byte("old"), 0o644))

	err := s.Sync(context.Background(), Options{RepositoryURL: "https://example.com/repo.git", Ref: "main"})
	require.NoError(t, err)

	_, statErr := os.Stat(sentinel)
	assert.True(t, os.IsNotExist(statErr), "working copy must be deleted before re-init")
	assert.NotEmpty(t, fake.callsMatching("init"))
}

func TestSync_MatchingRemoteReuses(t *testing.T) {
	t.Parallel()

	fake := newFakeGit()
	fake.stdout["config --get remote.origin.url"] = "https://example.com/repo.git\n"
	s, root := newSyncer(t, fake)
	seedWorkingCopy(t, root)

	err := s.Sync(context.Background(), Options{RepositoryURL: "https://example.com/repo.git", Ref: "main"})
	require.NoError(t, err)

	assert.Empty(t, fake.callsMatching("init"), "reuse must not re-init")
	assert.NotEmpty(t, fake.callsMatching("fetch"))
}

func TestSync_ReuseClearsStaleLock(t *testing.T) {
	t.Parallel()

	fake := newFakeGit()
	fake.stdout["config --get remote.origin.url"] = "https://example.com/repo.git\n"
	s, root := newSyncer(t, fake)
	seedWorkingCopy(t, root)
	lock := filepath.Join(root, ".git", "index.lock")
	require.NoError(t, os.WriteFile(lock, nil, 0o644))

	err := s.Sync(context.Background(), Options{RepositoryURL: "https://example.com/repo.git", Ref: "main"})
	require.NoError(t, err)

	_, statErr := os.Stat(lock)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSync_SoftCleanFailureFallsBackToReclone(t *testing.T) {
	t.Parallel()

	fake := newFakeGit()
	fake.stdout["config --get remote.origin.url"] = "https://example.com/repo.git\n"
	fake.exitFor["clean -ffdx"] = 1
	s, root := newSyncer(t, fake)
	seedWorkingCopy(t, root)

	err := s.Sync(context.Background(), Options{
		RepositoryURL: "https://example.com/repo.git",
		Ref:           "main",
		Clean:         true,
	})
	require.NoError(t, err, "soft-clean failure is not fatal, it triggers a reclone")

	assert.NotEmpty(t, fake.callsMatching("init"), "discard must be followed by re-init")
	assert.NotEmpty(t, fake.callsMatching("clean -ffdx"), "soft clean must have been attempted first")
}

func TestSync_PullRequestRefspecs(t *testing.T) {
	t.Parallel()

	fake := newFakeGit()
	s, _ := newSyncer(t, fake)

	err := s.Sync(context.Background(), Options{
		RepositoryURL: "https://example.com/repo.git",
		Ref:           "refs/pull/42/merge",
		Commit:        "0123456789012345678901234567890123456789",
		FetchByCommit: false,
	})
	require.NoError(t, err)

	fetches := fake.callsMatching("fetch")
	require.Len(t, fetches, 1, "fetch-by-commit disabled: no second pass")
	assert.Contains(t, fetches[0], "+refs/heads/*:refs/remotes/origin/*")
	assert.Contains(t, fetches[0], "+refs/pull/42/merge:refs/remotes/pull/42/merge")
	assert.NotContains(t, fetches[0], "0123456789012345678901234567890123456789")

	// PR checkout targets the remote-qualified mirror.
	checkouts := fake.callsMatching("checkout")
	require.NotEmpty(t, checkouts)
	assert.Contains(t, checkouts[0], "refs/remotes/pull/42/merge")
}

func TestSync_FetchByCommitRunsSecondPass(t *testing.T) {
	t.Parallel()

	fake := newFakeGit()
	s, _ := newSyncer(t, fake)

	commit := "0123456789012345678901234567890123456789"
	err := s.Sync(context.Background(), Options{
		RepositoryURL: "https://example.com/repo.git",
		Ref:           "refs/heads/main",
		Commit:        commit,
		FetchByCommit: true,
	})
	require.NoError(t, err)

	fetches := fake.callsMatching("fetch")
	require.Len(t, fetches, 2)
	assert.Contains(t, fetches[1], commit)

	checkouts := fake.callsMatching("checkout")
	require.NotEmpty(t, checkouts)
	assert.Contains(t, checkouts[0], commit, "exact commit wins checkout precedence")
}

func TestSync_SparseConfiguredBeforeFetch(t *testing.T) {
	t.Parallel()

	fake := newFakeGit()
	s, _ := newSyncer(t, fake)

	err := s.Sync(context.Background(), Options{
		RepositoryURL:  "https://example.com/repo.git",
		Ref:            "main",
		SparsePatterns: []string{"src/", "docs/"},
	})
	require.NoError(t, err)

	sparseIdx, fetchIdx := -1, -1
	for i, call := range fake.calls {
		if strings.Contains(call, "sparse-checkout set") && sparseIdx == -1 {
			sparseIdx = i
		}
		if strings.Contains(call, "fetch") && fetchIdx == -1 {
			fetchIdx = i
		}
	}
	require.NotEqual(t, -1, sparseIdx, "sparse-checkout set must run")
	require.NotEqual(t, -1, fetchIdx)
	assert.Less(t, sparseIdx, fetchIdx, "sparse checkout must be configured before any fetch")
}

func TestSync_HeaderAuthPreferredAndMasked(t *testing.T) {
	t.Parallel()

	fake := newFakeGit()
	s, _ := newSyncer(t, fake)
	m := masker.New()
	s.masker = m

	err := s.Sync(context.Background(), Options{
		RepositoryURL: "https://example.com/repo.git",
		Ref:           "main",
		Password:      "secrettoken",
	})
	require.NoError(t, err)

	headerCalls := fake.callsMatching("http.extraheader=AUTHORIZATION:")
	assert.NotEmpty(t, headerCalls, "git 2.30 must use header auth")
	assert.Empty(t, fake.callsMatching("remote set-url"), "header auth must not rewrite the remote URL")
	assert.Equal(t, 0, s.Ledger().Len(), "transient header auth records no config mutation")
	assert.NotContains(t, m.Mask("x secrettoken y"), "secrettoken")
}

func TestSync_OldGitEmbedsCredentialAndRecordsReversal(t *testing.T) {
	t.Parallel()

	fake := newFakeGit()
	fake.stdout["version"] = "git version 2.7.4\n"
	s, _ := newSyncer(t, fake)

	err := s.Sync(context.Background(), Options{
		RepositoryURL: "https://example.com/repo.git",
		Ref:           "main",
		Username:      "build",
		Password:      "secrettoken",
	})
	require.NoError(t, err)

	setURL := fake.callsMatching("remote set-url origin")
	require.NotEmpty(t, setURL)
	assert.Contains(t, setURL[0], "build:secrettoken@example.com")
	assert.Equal(t, 1, s.Ledger().Len(), "embedded URL must be recorded for reversal")
}

func TestSync_ShallowCheckoutFailureIsFatalAfterWarning(t *testing.T) {
	t.Parallel()

	fake := newFakeGit()
	fake.exitFor["checkout"] = 128
	s, _ := newSyncer(t, fake)

	err := s.Sync(context.Background(), Options{
		RepositoryURL: "https://example.com/repo.git",
		Ref:           "main",
		Depth:         1,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "git checkout")
}

func TestSync_SubmodulesInheritTransientAuth(t *testing.T) {
	t.Parallel()

	fake := newFakeGit()
	s, _ := newSyncer(t, fake)

	err := s.Sync(context.Background(), Options{
		RepositoryURL:    "https://example.com/repo.git",
		Ref:              "main",
		Password:         "secrettoken",
		Submodules:       true,
		NestedSubmodules: true,
	})
	require.NoError(t, err)

	updates := fake.callsMatching("submodule update")
	require.NotEmpty(t, updates)
	assert.Contains(t, updates[0], "http.extraheader=AUTHORIZATION:", "submodule commands must carry the same auth")
	assert.Contains(t, updates[0], "--recursive")
}

func TestSync_LfsInstallFailureIsFatal(t *testing.T) {
	t.Parallel()

	fake := newFakeGit()
	fake.exitFor["lfs install"] = 2
	s, _ := newSyncer(t, fake)

	err := s.Sync(context.Background(), Options{
		RepositoryURL: "https://example.com/repo.git",
		Ref:           "main",
		LFS:           true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lfs install")
}

func TestSync_UnresolvableTargetFailsBeforeCheckout(t *testing.T) {
	t.Parallel()

	fake := newFakeGit()
	fake.exitFor["rev-parse --verify"] = 1
	s, _ := newSyncer(t, fake)

	err := s.Sync(context.Background(), Options{
		RepositoryURL: "https://example.com/repo.git",
		Ref:           "main",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not be resolved")
	assert.Empty(t, fake.callsMatching("checkout --progress"))
}

func TestSync_OldGitFallsBackFromCommitFetch(t *testing.T) {
	t.Parallel()

	fake := newFakeGit()
	fake.stdout["version"] = "git version 2.19.0\n"
	s, _ := newSyncer(t, fake)

	commit := "0123456789012345678901234567890123456789"
	err := s.Sync(context.Background(), Options{
		RepositoryURL: "https://example.com/repo.git",
		Ref:           "refs/heads/main",
		Commit:        commit,
		FetchByCommit: true,
	})
	require.NoError(t, err)

	// No second pass on an old client, so checkout must not target the
	// commit the fetch never transferred.
	require.Len(t, fake.callsMatching("fetch"), 1)
	checkouts := fake.callsMatching("checkout --progress")
	require.NotEmpty(t, checkouts)
	assert.NotContains(t, checkouts[0], commit)
	assert.Contains(t, checkouts[0], "refs/remotes/origin/main")
}

func TestSync_SparseFetchFiltersBlobs(t *testing.T) {
	t.Parallel()

	fake := newFakeGit()
	s, _ := newSyncer(t, fake)

	err := s.Sync(context.Background(), Options{
		RepositoryURL:  "https://example.com/repo.git",
		Ref:            "main",
		SparsePatterns: []string{"src/"},
	})
	require.NoError(t, err)

	fetches := fake.callsMatching("fetch")
	require.NotEmpty(t, fetches)
	assert.Contains(t, fetches[0], "--filter=blob:none")
}

func TestSync_ReusedShallowCopyUnshallows(t *testing.T) {
	t.Parallel()

	fake := newFakeGit()
	fake.stdout["config --get remote.origin.url"] = "https://example.com/repo.git\n"
	s, root := newSyncer(t, fake)
	seedWorkingCopy(t, root)
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "shallow"), []byte("0123\n"), 0o644))

	err := s.Sync(context.Background(), Options{
		RepositoryURL: "https://example.com/repo.git",
		Ref:           "main",
	})
	require.NoError(t, err)

	fetches := fake.callsMatching("fetch")
	require.NotEmpty(t, fetches)
	assert.Contains(t, fetches[0], "--unshallow")
}

func TestSync_LfsPrefetchFailureIsWarningOnly(t *testing.T) {
	t.Parallel()

	fake := newFakeGit()
	fake.exitFor["lfs fetch"] = 2
	s, _ := newSyncer(t, fake)

	err := s.Sync(context.Background(), Options{
		RepositoryURL: "https://example.com/repo.git",
		Ref:           "main",
		Depth:         1,
		LFS:           true,
	})
	require.NoError(t, err)
}
