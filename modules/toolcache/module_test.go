package toolcache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/rigrunner/internal/execctx"
	"github.com/vk/rigrunner/internal/invoker"
	"github.com/vk/rigrunner/internal/job"
	"github.com/vk/rigrunner/internal/masker"
	"github.com/vk/rigrunner/internal/registry"
	"github.com/vk/rigrunner/internal/vars"
)

type fakeRunner struct {
	specs []invoker.Spec
}

func (r *fakeRunner) Run(_ context.Context, spec invoker.Spec) (int, error) {
	r.specs = append(r.specs, spec)
	return 0, nil
}

func buildStages(t *testing.T, m *Module, inputs map[string]string) *job.Stages {
	t.Helper()
	reg := registry.New()
	reg.Install(m)

	jobCtx := execctx.NewRoot(context.Background(), "test", vars.NewScope(masker.New()))
	b := &job.StageBuilder{Resolver: reg, Extension: job.NopExtension{}}
	stages, err := b.BuildStages(context.Background(), jobCtx, &job.Descriptor{
		Steps: []job.RequestedStep{{
			Type: job.StepTypeTask, ID: "cache",
			Task:   job.TaskRef{Name: "toolCache"},
			Inputs: inputs,
		}},
	})
	require.NoError(t, err)
	return stages
}

func TestContributesPreAndPostOnly(t *testing.T) {
	stages := buildStages(t, &Module{Runner: &fakeRunner{}, CacheRoot: t.TempDir()},
		map[string]string{"key": "k", "path": "/p"})

	assert.Len(t, stages.PreJob, 1)
	assert.Empty(t, stages.Main)
	assert.Len(t, stages.PostJob, 1)
	assert.True(t, stages.PostJob[0].Condition().IsAlways())
}

func TestRestore_MissIsQuiet(t *testing.T) {
	runner := &fakeRunner{}
	stages := buildStages(t, &Module{Runner: runner, CacheRoot: t.TempDir()},
		map[string]string{"key": "node-20", "path": filepath.Join(t.TempDir(), "tools")})

	require.NoError(t, stages.PreJob[0].Run(context.Background()))
	assert.Empty(t, runner.specs, "a miss must not copy anything")
}

func TestRestoreAndSaveCopyTrees(t *testing.T) {
	cacheRoot := t.TempDir()
	entry := filepath.Join(cacheRoot, "node-20")
	require.NoError(t, os.MkdirAll(entry, 0o755))

	workPath := filepath.Join(t.TempDir(), "tools")
	require.NoError(t, os.MkdirAll(workPath, 0o755))

	runner := &fakeRunner{}
	stages := buildStages(t, &Module{Runner: runner, CacheRoot: cacheRoot},
		map[string]string{"key": "node-20", "path": workPath})

	require.NoError(t, stages.PreJob[0].Run(context.Background()))

	// The fake runner copies nothing, so put the work tree back the way a
	// real cp would have.
	require.NoError(t, os.MkdirAll(workPath, 0o755))
	require.NoError(t, stages.PostJob[0].Run(context.Background()))

	require.Len(t, runner.specs, 2)
	assert.Equal(t, []string{"-a", entry, workPath}, runner.specs[0].Args)
	assert.Equal(t, []string{"-a", workPath, entry}, runner.specs[1].Args)
}

func TestMissingInputsFail(t *testing.T) {
	stages := buildStages(t, &Module{Runner: &fakeRunner{}, CacheRoot: t.TempDir()},
		map[string]string{"key": "only-key"})
	assert.Error(t, stages.PreJob[0].Run(context.Background()))
}
