// Package diag runs best-effort environment diagnostics at job start: is
// the work directory writable, is the orchestration service reachable. A
// failed probe produces a warning in the job log and nothing else; a broken
// probe must never break the job.
package diag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"resty.dev/v3"

	"github.com/vk/rigrunner/internal/ctxlog"
)

// probeTimeout bounds one probe. Diagnostics run before the first step;
// they must not eat into the job's time on a flaky environment.
const probeTimeout = 5 * time.Second

// Probe is one environment check.
type Probe interface {
	Name() string
	Check(ctx context.Context) error
}

// Suite runs probes concurrently and reports failures as warnings.
type Suite struct {
	probes []Probe
}

// NewSuite assembles a suite from the given probes.
func NewSuite(probes ...Probe) *Suite {
	return &Suite{probes: probes}
}

// Run executes every probe with a bounded timeout. It never fails: the
// return-free signature is the contract with the job lifecycle driver.
func (s *Suite) Run(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)

	g, gctx := errgroup.WithContext(ctx)
	for _, probe := range s.probes {
		probe := probe
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(gctx, probeTimeout)
			defer cancel()

			if err := probe.Check(probeCtx); err != nil {
				logger.Warn("Environment diagnostic failed.", "probe", probe.Name(), "error", err)
				return nil
			}
			logger.Debug("Environment diagnostic passed.", "probe", probe.Name())
			return nil
		})
	}
	// Probes swallow their own errors, so Wait only synchronizes.
	_ = g.Wait()
}

// WorkDirProbe verifies the agent's work directory exists and accepts
// writes.
type WorkDirProbe struct {
	Path string
}

func (p WorkDirProbe) Name() string { return "workDirectory" }

func (p WorkDirProbe) Check(ctx context.Context) error {
	if err := os.MkdirAll(p.Path, 0o755); err != nil {
		return fmt.Errorf("work directory unavailable: %w", err)
	}

	marker := filepath.Join(p.Path, ".diag-"+uuid.NewString())
	if err := os.WriteFile(marker, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("work directory not writable: %w", err)
	}
	if err := os.Remove(marker); err != nil {
		return fmt.Errorf("work directory not cleanable: %w", err)
	}
	return nil
}

// ConnectivityProbe checks the orchestration service answers HTTP at all.
// Server-side errors count as failures; auth challenges do not, the probe
// carries no credential.
type ConnectivityProbe struct {
	URL string
	// Client is optional; a throwaway one is created per check when nil.
	Client *resty.Client
}

func (p ConnectivityProbe) Name() string { return "connectivity" }

func (p ConnectivityProbe) Check(ctx context.Context) error {
	client := p.Client
	if client == nil {
		client = resty.New().SetTimeout(probeTimeout)
		defer client.Close()
	}

	res, err := client.R().SetContext(ctx).Get(p.URL)
	if err != nil {
		return fmt.Errorf("service unreachable: %w", err)
	}
	if res.StatusCode() >= 500 {
		return fmt.Errorf("service unhealthy: HTTP %d", res.StatusCode())
	}
	return nil
}
