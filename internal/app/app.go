package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/vk/rigrunner/internal/ctxlog"
	"github.com/vk/rigrunner/internal/invoker"
	"github.com/vk/rigrunner/internal/masker"
	"github.com/vk/rigrunner/internal/orphans"
	"github.com/vk/rigrunner/internal/registry"
	"github.com/vk/rigrunner/internal/settings"
	"github.com/vk/rigrunner/modules/cmdline"
	"github.com/vk/rigrunner/modules/envinfo"
	"github.com/vk/rigrunner/modules/toolcache"
)

// App encapsulates the runner's dependencies, configuration and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	masker   *masker.Masker
	settings settings.Settings
	registry *registry.Registry
	orphans  *orphans.Registry
	runner   invoker.Runner
	config   *Config

	httpServer *http.Server
}

// NewApp is the constructor for the runner. It loads settings, builds the
// masked logger and installs the built-in task modules. Command-line log
// options win over the settings file.
func NewApp(outW io.Writer, appConfig *Config, modules ...registry.Module) (*App, error) {
	s, err := settings.Load(appConfig.SettingsPath)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	if appConfig.LogFormat != "" {
		s.LogFormat = appConfig.LogFormat
	}
	if appConfig.LogLevel != "" {
		s.LogLevel = appConfig.LogLevel
	}

	m := masker.New()
	logger := newLogger(s.LogLevel, s.LogFormat, outW, m)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	orphanRegistry := orphans.NewRegistry(orphans.SystemHost{})
	runner := invoker.NewExecRunner(m)

	reg := registry.New()
	if len(modules) == 0 {
		modules = []registry.Module{
			&cmdline.Module{Runner: runner, MarkerEnv: orphanRegistry.MarkerEnv()},
			&envinfo.Module{},
			&toolcache.Module{
				Runner:    runner,
				CacheRoot: filepath.Join(s.WorkDir, ".cache"),
				MarkerEnv: orphanRegistry.MarkerEnv(),
			},
		}
	}
	reg.Install(modules...)
	ctxlog.FromContext(ctx).Debug("Task modules installed.", "tasks", reg.Len())

	return &App{
		outW:     outW,
		logger:   logger,
		masker:   m,
		settings: s,
		registry: reg,
		orphans:  orphanRegistry,
		runner:   runner,
		config:   appConfig,
	}, nil
}

// Registry returns the application's task library. This is primarily for
// testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}
