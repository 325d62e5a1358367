// Package devdb wraps the `docker compose` (or legacy `docker-compose`)
// invocation used to run a local Postgres+AGE instance during development.
// Grounded in _examples/original_source/src/devops/docker_manager.rs: detect
// which compose binary is on PATH, bring up the "db" service, track whether
// this process started it via a marker file so Stop never tears down a
// container it didn't start, and poll Status via `docker inspect`.
package devdb

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/vigil/pkg/log"
)

const markerFile = ".vigil_db_started"

// StartOptions controls how Start brings the db service up.
type StartOptions struct {
	Build         bool
	ForceRecreate bool
	Timeout       time.Duration
	Retries       int
	Workdir       string
}

// DefaultStartOptions mirrors the original's Default impl for StartOptions.
func DefaultStartOptions() StartOptions {
	return StartOptions{
		Timeout: 120 * time.Second,
		Retries: 2,
	}
}

// Manager drives the local development database container.
type Manager struct {
	workdir string
}

// New returns a Manager rooted at workdir. An empty workdir resolves to the
// process's current directory at call time.
func New(workdir string) *Manager {
	return &Manager{workdir: workdir}
}

type compose struct {
	program       string
	composeSubcmd bool // true for "docker compose ...", false for "docker-compose ..."
}

func (c compose) command(ctx context.Context, args ...string) *exec.Cmd {
	if c.composeSubcmd {
		return exec.CommandContext(ctx, c.program, append([]string{"compose"}, args...)...)
	}
	return exec.CommandContext(ctx, c.program, args...)
}

// detectCompose finds docker compose v2 first, falling back to the
// standalone docker-compose v1 binary.
func detectCompose(ctx context.Context) (compose, error) {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := exec.CommandContext(probeCtx, "docker", "compose", "version").Run(); err == nil {
		return compose{program: "docker", composeSubcmd: true}, nil
	}

	probeCtx2, cancel2 := context.WithTimeout(ctx, 10*time.Second)
	defer cancel2()
	if err := exec.CommandContext(probeCtx2, "docker-compose", "--version").Run(); err == nil {
		return compose{program: "docker-compose", composeSubcmd: false}, nil
	}

	return compose{}, fmt.Errorf("neither %q nor %q found in PATH", "docker compose", "docker-compose")
}

func runWithTimeout(ctx context.Context, cmd *exec.Cmd, timeout time.Duration) error {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd.Cancel = func() error { return cmd.Process.Kill() }

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("command timed out after %s", timeout)
		}
		return fmt.Errorf("%s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return nil
}

func (m *Manager) markerPath() string {
	if m.workdir != "" {
		return filepath.Join(m.workdir, markerFile)
	}
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, markerFile)
	}
	return markerFile
}

func containerID(ctx context.Context, c compose, workdir string) (string, error) {
	cmd := c.command(ctx, "ps", "-q", "db")
	if workdir != "" {
		cmd.Dir = workdir
	}
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(string(out))
	return id, nil
}

func containerRunning(ctx context.Context, id string) (bool, error) {
	cmd := exec.CommandContext(ctx, "docker", "inspect", "-f", "{{.State.Running}}", id)
	out, err := cmd.Output()
	if err != nil {
		return false, nil
	}
	return strings.TrimSpace(string(out)) == "true", nil
}

// Start brings the "db" compose service up. It returns true if this call
// started the container, false if it was already running.
func (m *Manager) Start(ctx context.Context, opts StartOptions) (bool, error) {
	logger := log.WithComponent("devdb")

	c, err := detectCompose(ctx)
	if err != nil {
		return false, err
	}

	workdir := opts.Workdir
	if workdir == "" {
		workdir = m.workdir
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	if opts.Build {
		buildCmd := c.command(ctx, "build", "db")
		if workdir != "" {
			buildCmd.Dir = workdir
		}
		if err := runWithTimeout(ctx, buildCmd, timeout); err != nil {
			return false, fmt.Errorf("build db service: %w", err)
		}
	}

	if id, err := containerID(ctx, c, workdir); err == nil && id != "" {
		if running, _ := containerRunning(ctx, id); running {
			logger.Info().Str("container_id", id).Msg("dev DB container already running")
			return false, nil
		}
	}

	var lastErr error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		args := []string{"up", "-d", "db"}
		if opts.ForceRecreate {
			args = append(args, "--force-recreate")
		}
		upCmd := c.command(ctx, args...)
		if workdir != "" {
			upCmd.Dir = workdir
		}

		if err := runWithTimeout(ctx, upCmd, timeout); err != nil {
			lastErr = err
			logger.Error().Err(err).Int("attempt", attempt+1).Msg("docker compose up failed")
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(2 * time.Second):
			}
			continue
		}

		if id, idErr := containerID(ctx, c, workdir); idErr == nil && id != "" {
			if werr := os.WriteFile(m.markerPathFor(workdir), []byte(id), 0o644); werr != nil {
				logger.Error().Err(werr).Msg("failed to write dev DB marker file")
			}
		}
		logger.Info().Msg("dev DB started")
		return true, nil
	}

	return false, fmt.Errorf("docker compose up failed after %d retries: %w", opts.Retries, lastErr)
}

func (m *Manager) markerPathFor(workdir string) string {
	if workdir != "" {
		return filepath.Join(workdir, markerFile)
	}
	return m.markerPath()
}

// Stop brings the "db" service down, but only if a marker file shows this
// Manager started it — it will never stop a database it did not start.
func (m *Manager) Stop(ctx context.Context) error {
	logger := log.WithComponent("devdb")

	c, err := detectCompose(ctx)
	if err != nil {
		return err
	}

	marker := m.markerPath()
	if _, err := os.Stat(marker); os.IsNotExist(err) {
		logger.Info().Msg("marker file not found, not stopping a DB this process did not start")
		return nil
	}

	id := ""
	if data, err := os.ReadFile(marker); err == nil {
		id = strings.TrimSpace(string(data))
	}

	if id != "" {
		if running, _ := containerRunning(ctx, id); !running {
			_ = os.Remove(marker)
			logger.Info().Str("container_id", id).Msg("marker existed but container not running, removed marker")
			return nil
		}
	}

	stopCmd := c.command(ctx, "stop", "db")
	if m.workdir != "" {
		stopCmd.Dir = m.workdir
	}
	if err := runWithTimeout(ctx, stopCmd, 60*time.Second); err != nil {
		return err
	}

	rmCmd := c.command(ctx, "rm", "-f", "db")
	if m.workdir != "" {
		rmCmd.Dir = m.workdir
	}
	_ = runWithTimeout(ctx, rmCmd, 60*time.Second)

	_ = os.Remove(marker)
	logger.Info().Msg("dev DB stopped")
	return nil
}

// Status reports whether the "db" service container exists and is running.
type Status struct {
	Present bool
	Running bool
	ID      string
}

// Status queries the current state of the "db" compose service.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	c, err := detectCompose(ctx)
	if err != nil {
		return Status{}, err
	}

	id, err := containerID(ctx, c, m.workdir)
	if err != nil || id == "" {
		return Status{}, nil
	}

	running, _ := containerRunning(ctx, id)
	return Status{Present: true, Running: running, ID: id}, nil
}
