package reposync

import (
	"net/url"
	"strings"
)

// Options describe one checkout request. Everything beyond RepositoryURL is
// independently optional.
type Options struct {
	// RepositoryURL is the expected remote origin.
	RepositoryURL string
	// Ref is the requested version: a branch name, a fully qualified ref,
	// a tag, or a commit id. Empty means the remote's default branch.
	Ref string
	// Commit is the exact commit id the orchestration service resolved for
	// this run, when known.
	Commit string

	// Clean requests a soft clean of a reused working copy; if the soft
	// clean fails the copy is discarded and recloned.
	Clean bool
	// Depth > 0 requests shallow history.
	Depth int
	// FetchByCommit allows commit-targeted fetching when the server and
	// the local git both support it.
	FetchByCommit bool
	// SparsePatterns restricts the checkout to the listed directories.
	// Configured before any fetch so excluded trees are never transferred.
	SparsePatterns []string

	// Submodules enables submodule sync+update; NestedSubmodules recurses.
	Submodules       bool
	NestedSubmodules bool

	// LFS enables large-file support: install once, fetch eagerly before
	// checkout.
	LFS bool

	// Username and Password authenticate the fetch. Password doubles as a
	// bearer/PAT secret and is always registered with the masker.
	Username string
	Password string
	// PersistCredentials keeps auth configured in the repository for
	// subsequent steps; the sync driver's cleanup step reverts it.
	PersistCredentials bool

	// Proxy, CA bundle and client certificate are layered onto whichever
	// credential strategy is chosen.
	ProxyURL      string
	ProxyUsername string
	ProxyPassword string
	CABundlePath  string
	ClientCert    string
	ClientKey     string
}

// hasCredential reports whether an auth secret was supplied.
func (o Options) hasCredential() bool {
	return o.Password != ""
}

// IsPullRequestRef reports whether ref names a pull/merge-request head
// rather than a plain branch or tag.
func IsPullRequestRef(ref string) bool {
	return strings.HasPrefix(ref, "refs/pull/") || strings.HasPrefix(ref, "refs/merge-requests/")
}

// branchName extracts a short branch name from a fully qualified heads ref,
// or returns the input unchanged when it is already short.
func branchName(ref string) string {
	return strings.TrimPrefix(ref, "refs/heads/")
}

// looksLikeCommit reports whether ref is a full 40/64 hex object id.
func looksLikeCommit(ref string) bool {
	if len(ref) != 40 && len(ref) != 64 {
		return false
	}
	for _, r := range ref {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// withCredential embeds username/password into rawURL. Used only on git
// versions too old for header-based auth; the mutation is recorded for
// unconditional reversal.
func withCredential(rawURL, username, password string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if username == "" {
		username = "rigrunner"
	}
	u.User = url.UserPassword(username, password)
	return u.String(), nil
}

// stripCredential removes any userinfo from rawURL for comparison and for
// restoring a clean remote URL.
func stripCredential(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.User = nil
	return u.String()
}
