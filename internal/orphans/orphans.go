// Package orphans reaps child processes that outlive their originating
// step. At Initialize the registry snapshots the host's processes; every
// step started by the job carries a marker environment variable with a
// per-job token; at Finalize any process carrying the token that was not in
// the snapshot is killed.
package orphans

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/vk/rigrunner/internal/ctxlog"
)

// EnvMarker is the environment variable injected into every process the job
// starts. Its value is the registry's lookup token.
const EnvMarker = "RIGRUNNER_TRACKING_TOKEN"

// ProcessInfo describes one live process as seen at snapshot or
// reconciliation time.
type ProcessInfo struct {
	PID     int32
	Name    string
	Environ []string
}

// Host enumerates and kills processes. The production implementation is
// backed by gopsutil; tests substitute a fake.
type Host interface {
	Processes(ctx context.Context) ([]ProcessInfo, error)
	Kill(ctx context.Context, pid int32) error
}

// Registry is process-wide state scoped to one job: a generated token plus
// the Initialize-time snapshot. Never shared across jobs: each job's token
// disambiguates its children even on hosts that run jobs back to back.
type Registry struct {
	token    string
	host     Host
	snapshot map[int32]string
}

// NewRegistry creates a registry with a fresh lookup token.
func NewRegistry(host Host) *Registry {
	return &Registry{
		token: uuid.NewString(),
		host:  host,
	}
}

// Token returns the job's lookup token.
func (r *Registry) Token() string { return r.token }

// MarkerEnv returns the NAME=value pair steps must add to child
// environments.
func (r *Registry) MarkerEnv() string {
	return EnvMarker + "=" + r.token
}

// Snapshot records the currently live (pid, name) pairs. Call once, at job
// Initialize.
func (r *Registry) Snapshot(ctx context.Context) error {
	procs, err := r.host.Processes(ctx)
	if err != nil {
		return err
	}

	r.snapshot = make(map[int32]string, len(procs))
	for _, p := range procs {
		r.snapshot[p.PID] = p.Name
	}
	return nil
}

// Reconcile kills every process that carries this job's token and was not
// present at Snapshot time. Individual kill failures are logged and do not
// stop the sweep; Reconcile runs during Finalize where nothing may throw.
func (r *Registry) Reconcile(ctx context.Context) []ProcessInfo {
	logger := ctxlog.FromContext(ctx)

	procs, err := r.host.Processes(ctx)
	if err != nil {
		logger.Warn("Orphan sweep could not enumerate processes.", "error", err)
		return nil
	}

	var killed []ProcessInfo
	for _, p := range procs {
		if name, seen := r.snapshot[p.PID]; seen && name == p.Name {
			continue
		}
		if !r.carriesToken(p) {
			continue
		}

		logger.Warn("Killing orphan process left behind by the job.", "pid", p.PID, "name", p.Name)
		if err := r.host.Kill(ctx, p.PID); err != nil {
			logger.Warn("Failed to kill orphan process.", "pid", p.PID, "error", err)
			continue
		}
		killed = append(killed, p)
	}
	return killed
}

func (r *Registry) carriesToken(p ProcessInfo) bool {
	marker := r.MarkerEnv()
	for _, kv := range p.Environ {
		if strings.TrimSpace(kv) == marker {
			return true
		}
	}
	return false
}
