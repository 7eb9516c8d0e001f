package job

import (
	"context"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/vk/rigrunner/internal/expr"
	"github.com/vk/rigrunner/internal/gitcli"
	"github.com/vk/rigrunner/internal/invoker"
	"github.com/vk/rigrunner/internal/masker"
	"github.com/vk/rigrunner/internal/reposync"
	"github.com/vk/rigrunner/internal/vars"
)

// CheckoutStepFactory wraps the source sync driver as a task-shaped main
// step plus a deferred post-job credential cleanup step. Both steps of one
// checkout share a single Syncer so the cleanup sees the run's config
// ledger.
type CheckoutStepFactory struct {
	Runner invoker.Runner
	Masker *masker.Masker
	// WorkRoot is the agent's sources directory; each repository syncs
	// into a subdirectory named after it.
	WorkRoot string
	// MarkerEnv rides on every git invocation for orphan tracking.
	MarkerEnv string

	syncers map[string]*reposync.Syncer
}

func (f *CheckoutStepFactory) syncerFor(req RequestedStep) *reposync.Syncer {
	if f.syncers == nil {
		f.syncers = map[string]*reposync.Syncer{}
	}
	if s, ok := f.syncers[req.ID]; ok {
		return s
	}

	dir := filepath.Join(f.WorkRoot, repoDirName(req.Checkout.RepositoryURL))
	git := gitcli.New(f.Runner, dir, f.MarkerEnv)
	s := reposync.NewSyncer(git, f.Masker)
	f.syncers[req.ID] = s
	return s
}

// MainStep returns the sync step for the main stage.
func (f *CheckoutStepFactory) MainStep(req RequestedStep) Step {
	syncer := f.syncerFor(req)
	condition, err := expr.Parse(req.Condition)
	if err != nil {
		condition = expr.MustParse(expr.DefaultCondition)
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = "Checkout " + repoDirName(req.Checkout.RepositoryURL)
	}

	opts := *req.Checkout
	return NewExtensionStep(req.ID, displayName, StageMain, condition,
		func(ctx context.Context, s Step) error {
			resolved := opts
			if ec := s.ExecContext(); ec != nil && ec.Scope() != nil {
				expandCredentials(ec.Scope(), &resolved)
			}
			return syncer.Sync(ctx, resolved)
		})
}

// expandCredentials resolves template references in the credential-bearing
// fields so a pipeline can source secrets from job variables instead of
// spelling them out. Fields that fail to expand keep their literal value.
func expandCredentials(scope *vars.Scope, o *reposync.Options) {
	fields := []*string{
		&o.Username, &o.Password,
		&o.ProxyURL, &o.ProxyUsername, &o.ProxyPassword,
		&o.CABundlePath, &o.ClientCert, &o.ClientKey,
	}
	for _, field := range fields {
		if *field == "" {
			continue
		}
		if expanded, err := scope.Expand(*field); err == nil {
			*field = expanded
		}
	}
}

// CleanupStep returns the credential removal step. It runs in the post-job
// stage whenever reached, driven by the sync run's recorded ledger, even
// when the sync itself failed partway.
func (f *CheckoutStepFactory) CleanupStep(req RequestedStep) Step {
	syncer := f.syncerFor(req)
	return NewExtensionStep(req.ID+"_cleanup", "Clean up repository credentials", StagePostJob,
		expr.MustParse("always()"),
		func(ctx context.Context, _ Step) error {
			return syncer.Cleanup(ctx)
		})
}

// repoDirName derives the on-disk directory for a repository URL.
func repoDirName(rawURL string) string {
	name := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		name = u.Path
	}
	name = strings.TrimSuffix(path.Base(name), ".git")
	if name == "" || name == "." || name == "/" {
		return "repository"
	}
	return name
}
