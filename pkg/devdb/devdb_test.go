package devdb

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available in PATH")
	}
}

func TestDetectComposeNoPanic(t *testing.T) {
	// Mirrors the original's detect_no_crash: detectCompose must not panic
	// whether or not docker/docker-compose is actually installed.
	_, _ = detectCompose(context.Background())
}

func TestMarkerPathUsesWorkdir(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)
	assert.Equal(t, filepath.Join(dir, markerFile), m.markerPath())
}

func TestMarkerPathFallsBackToCwd(t *testing.T) {
	m := New("")
	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, markerFile), m.markerPath())
}

func TestStopWithoutMarkerIsNoop(t *testing.T) {
	requireDocker(t)

	dir := t.TempDir()
	m := New(dir)

	err := m.Stop(context.Background())
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(dir, markerFile))
	assert.True(t, os.IsNotExist(statErr))
}

func TestStatusWithNoContainerReturnsAbsent(t *testing.T) {
	requireDocker(t)

	dir := t.TempDir()
	m := New(dir)

	status, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Present)
}

func TestComposeCommandBuildsDockerComposeArgs(t *testing.T) {
	c := compose{program: "docker", composeSubcmd: true}
	cmd := c.command(context.Background(), "up", "-d", "db")
	assert.Equal(t, []string{"docker", "compose", "up", "-d", "db"}, cmd.Args)
}

func TestComposeCommandBuildsLegacyArgs(t *testing.T) {
	c := compose{program: "docker-compose", composeSubcmd: false}
	cmd := c.command(context.Background(), "up", "-d", "db")
	assert.Equal(t, []string{"docker-compose", "up", "-d", "db"}, cmd.Args)
}

func TestDefaultStartOptions(t *testing.T) {
	opts := DefaultStartOptions()
	assert.Equal(t, 2, opts.Retries)
	assert.NotZero(t, opts.Timeout)
}
