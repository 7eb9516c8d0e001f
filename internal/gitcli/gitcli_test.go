package gitcli

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/rigrunner/internal/invoker"
)

// scriptedRunner records every invocation and answers from a script keyed by
// the joined argument list prefix.
type scriptedRunner struct {
	calls   [][]string
	stdout  map[string]string
	exitFor map[string]int
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{stdout: map[string]string{}, exitFor: map[string]int{}}
}

func (s *scriptedRunner) Run(ctx context.Context, spec invoker.Spec) (int, error) {
	s.calls = append(s.calls, append([]string{spec.Program}, spec.Args...))
	key := strings.Join(spec.Args, " ")
	for prefix, out := range s.stdout {
		if strings.HasPrefix(key, prefix) && spec.Stdout != nil {
			io.WriteString(spec.Stdout, out) //nolint:errcheck
		}
	}
	for prefix, code := range s.exitFor {
		if strings.HasPrefix(key, prefix) {
			return code, nil
		}
	}
	return 0, nil
}

func TestParseVersion(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want Version
	}{
		{"git version 2.39.2", Version{2, 39, 2}},
		{"git version 2.9.0.windows.1", Version{2, 9, 0}},
		{"git version 2.45", Version{2, 45, 0}},
	}
	for _, tc := range cases {
		v, err := ParseVersion(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, v)
	}

	_, err := ParseVersion("not a version")
	assert.Error(t, err)
}

func TestVersionGates(t *testing.T) {
	t.Parallel()

	runner := newScriptedRunner()
	runner.stdout["version"] = "git version 2.21.0\n"

	g := New(runner, t.TempDir())
	ctx := context.Background()

	assert.True(t, g.SupportsAuthHeader(ctx))
	assert.True(t, g.SupportsFetchByCommit(ctx))
	assert.False(t, g.SupportsSparseCheckout(ctx))

	// The probe runs once and is cached.
	count := len(runner.calls)
	g.SupportsAuthHeader(ctx)
	assert.Equal(t, count, len(runner.calls))
}

func TestFetch_BuildsArgs(t *testing.T) {
	t.Parallel()

	runner := newScriptedRunner()
	g := New(runner, t.TempDir())

	code, err := g.Fetch(context.Background(), FetchOptions{
		Depth:    1,
		NoTags:   true,
		Filter:   "blob:none",
		Refspecs: []string{"+refs/heads/main:refs/remotes/origin/main"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	call := runner.calls[0]
	assert.Equal(t, "git", call[0])
	joined := strings.Join(call, " ")
	assert.Contains(t, joined, "fetch")
	assert.Contains(t, joined, "--depth=1")
	assert.Contains(t, joined, "--no-tags")
	assert.Contains(t, joined, "--filter=blob:none")
	assert.Contains(t, joined, "origin +refs/heads/main:refs/remotes/origin/main")
	assert.NotContains(t, joined, "--unshallow")
}

func TestExtraConfig_PrefixesEveryCommand(t *testing.T) {
	t.Parallel()

	runner := newScriptedRunner()
	g := New(runner, t.TempDir())
	g.SetExtraConfig("http.extraheader=AUTHORIZATION: basic ***")

	_, err := g.Checkout(context.Background(), "main")
	require.NoError(t, err)

	call := runner.calls[0]
	assert.Equal(t, []string{"git", "-c", "http.extraheader=AUTHORIZATION: basic ***", "checkout", "--progress", "--force", "main"}, call)
}

func TestConfigExists(t *testing.T) {
	t.Parallel()

	runner := newScriptedRunner()
	runner.exitFor["config --get-all missing.key"] = 1

	g := New(runner, t.TempDir())
	ok, err := g.ConfigExists(context.Background(), "present.key")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.ConfigExists(context.Background(), "missing.key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetFetchURL(t *testing.T) {
	t.Parallel()

	runner := newScriptedRunner()
	runner.stdout["config --get remote.origin.url"] = "https://example.com/repo.git\n"

	g := New(runner, t.TempDir())
	url, code, err := g.GetFetchURL(context.Background(), "origin")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "https://example.com/repo.git", url)
}
