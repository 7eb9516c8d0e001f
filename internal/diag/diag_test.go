package diag

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProbe struct {
	name string
	err  error
	runs atomic.Int32
}

func (p *countingProbe) Name() string { return p.name }

func (p *countingProbe) Check(context.Context) error {
	p.runs.Add(1)
	return p.err
}

func TestSuite_RunsEveryProbeDespiteFailures(t *testing.T) {
	ok := &countingProbe{name: "ok"}
	bad := &countingProbe{name: "bad", err: errors.New("broken")}
	other := &countingProbe{name: "other"}

	NewSuite(ok, bad, other).Run(context.Background())

	assert.Equal(t, int32(1), ok.runs.Load())
	assert.Equal(t, int32(1), bad.runs.Load())
	assert.Equal(t, int32(1), other.runs.Load())
}

func TestSuite_EmptyIsNoop(t *testing.T) {
	NewSuite().Run(context.Background())
}

func TestWorkDirProbe(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WorkDirProbe{Path: dir}.Check(context.Background()))

	// The probe leaves no marker behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWorkDirProbe_CreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "work")
	require.NoError(t, WorkDirProbe{Path: dir}.Check(context.Background()))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestConnectivityProbe(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer healthy.Close()

	// An auth challenge still proves the service is there.
	require.NoError(t, ConnectivityProbe{URL: healthy.URL}.Check(context.Background()))

	sick := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer sick.Close()

	err := ConnectivityProbe{URL: sick.URL}.Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestConnectivityProbe_Unreachable(t *testing.T) {
	gone := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := gone.URL
	gone.Close()

	err := ConnectivityProbe{URL: url}.Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}
