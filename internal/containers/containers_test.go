package containers

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/rigrunner/internal/invoker"
	"github.com/vk/rigrunner/internal/job"
)

// scriptedDocker records every docker invocation and answers "create" with
// a synthetic container id.
type scriptedDocker struct {
	calls   [][]string
	created int
	// failOn makes any invocation whose args start with the given prefix
	// exit non-zero.
	failOn string
}

func (s *scriptedDocker) Run(_ context.Context, spec invoker.Spec) (int, error) {
	s.calls = append(s.calls, spec.Args)
	joined := strings.Join(spec.Args, " ")
	if s.failOn != "" && strings.HasPrefix(joined, s.failOn) {
		return 1, nil
	}
	if spec.Args[0] == "create" && spec.Stdout != nil {
		s.created++
		spec.Stdout.Write([]byte("cid" + string(rune('0'+s.created)) + "\n"))
	}
	return 0, nil
}

func (s *scriptedDocker) call(prefix string) []string {
	for _, c := range s.calls {
		if strings.HasPrefix(strings.Join(c, " "), prefix) {
			return c
		}
	}
	return nil
}

func twoContainerJob() *job.Descriptor {
	return &job.Descriptor{
		Container: &job.ContainerSpec{Name: "job", Image: "debian:12"},
		Sidecars: []job.ContainerSpec{
			{Name: "db", Image: "postgres:16", Env: map[string]string{"POSTGRES_PASSWORD": "x"}},
		},
	}
}

func TestStartAll_SidecarsBeforeJobContainer(t *testing.T) {
	docker := &scriptedDocker{}
	d := &DockerRunner{Runner: docker}

	require.NoError(t, d.StartAll(context.Background(), twoContainerJob()))

	require.Len(t, d.started, 2)
	assert.Equal(t, []string{"cid1", "cid2"}, d.started)

	assert.NotNil(t, docker.call("network create"))
	assert.NotNil(t, docker.call("pull postgres:16"))
	assert.NotNil(t, docker.call("pull debian:12"))

	// The sidecar's create precedes the job container's.
	var createImages []string
	for _, c := range docker.calls {
		if c[0] == "create" {
			createImages = append(createImages, c[len(c)-1])
		}
	}
	assert.Equal(t, []string{"postgres:16", "debian:12"}, createImages)
}

func TestStartAll_WiresNetworkAliasAndEnv(t *testing.T) {
	docker := &scriptedDocker{}
	d := &DockerRunner{Runner: docker}

	require.NoError(t, d.StartAll(context.Background(), twoContainerJob()))

	create := docker.call("create")
	require.NotNil(t, create)
	joined := strings.Join(create, " ")
	assert.Contains(t, joined, "--network-alias db")
	assert.Contains(t, joined, "-e POSTGRES_PASSWORD=x")
}

func TestStartAll_PullFailureAborts(t *testing.T) {
	docker := &scriptedDocker{failOn: "pull debian:12"}
	d := &DockerRunner{Runner: docker}

	err := d.StartAll(context.Background(), twoContainerJob())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "debian:12")
	// The sidecar that did come up stays registered for teardown.
	assert.Equal(t, []string{"cid1"}, d.started)
}

func TestStopAll_ReverseOrderAndNetworkLast(t *testing.T) {
	docker := &scriptedDocker{}
	d := &DockerRunner{Runner: docker}
	desc := twoContainerJob()
	require.NoError(t, d.StartAll(context.Background(), desc))

	docker.calls = nil
	require.NoError(t, d.StopAll(context.Background(), desc))

	var stops []string
	for _, c := range docker.calls {
		if c[0] == "stop" {
			stops = append(stops, c[len(c)-1])
		}
	}
	assert.Equal(t, []string{"cid2", "cid1"}, stops)

	last := docker.calls[len(docker.calls)-1]
	assert.Equal(t, "network", last[0])
	assert.Equal(t, "rm", last[1])
}

func TestStopAll_ContinuesPastFailures(t *testing.T) {
	docker := &scriptedDocker{}
	d := &DockerRunner{Runner: docker}
	desc := twoContainerJob()
	require.NoError(t, d.StartAll(context.Background(), desc))

	docker.failOn = "stop"
	docker.calls = nil
	err := d.StopAll(context.Background(), desc)
	require.Error(t, err)

	// Both removals and the network teardown still ran.
	var rms int
	for _, c := range docker.calls {
		if c[0] == "rm" {
			rms++
		}
	}
	assert.Equal(t, 2, rms)
	assert.NotNil(t, docker.call("network rm"))
	assert.Empty(t, d.started)
}
