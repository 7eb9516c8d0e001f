package orphans

import (
	"context"

	"github.com/shirou/gopsutil/v4/process"
)

// SystemHost is the gopsutil-backed Host used in production.
type SystemHost struct{}

// Processes enumerates live processes. Per-process lookups are best-effort:
// a process may exit between enumeration and inspection, and reading another
// user's environment is often denied; both are skipped silently.
func (SystemHost) Processes(ctx context.Context) ([]ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		// Environ failures leave the slice empty; such a process can never
		// match the token and is treated as not ours.
		environ, _ := p.EnvironWithContext(ctx)
		infos = append(infos, ProcessInfo{PID: p.Pid, Name: name, Environ: environ})
	}
	return infos, nil
}

// Kill terminates the process with the given pid.
func (SystemHost) Kill(ctx context.Context, pid int32) error {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return err
	}
	return p.KillWithContext(ctx)
}
