package app

import (
	"github.com/vk/rigrunner/internal/containers"
	"github.com/vk/rigrunner/internal/diag"
	"github.com/vk/rigrunner/internal/job"
)

func (a *App) diagnostics() *diag.Suite {
	probes := []diag.Probe{
		diag.WorkDirProbe{Path: a.settings.WorkDir},
	}
	if a.settings.ServerURL != "" {
		probes = append(probes, diag.ConnectivityProbe{URL: a.settings.ServerURL})
	}
	return diag.NewSuite(probes...)
}

func (a *App) containerRunner() job.ContainerRunner {
	return &containers.DockerRunner{
		Runner:    a.runner,
		MarkerEnv: a.orphans.MarkerEnv(),
	}
}
