// Package supervisor implements eddi's ChildSupervisor (SPEC_FULL.md
// supplemented feature 1): optionally spawning a local web application
// bound to a Unix Domain Socket, and tearing it down with the
// ServerInstance that owns it.
package supervisor

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/opd-ai/eddi/internal/errs"
	"github.com/opd-ai/eddi/internal/logging"
)

// Config configures a spawned child process (spec.md-adjacent
// ProcessConfig, grounded on the Rust source's process.rs).
type Config struct {
	// SocketPath is the UDS the child is expected to bind.
	SocketPath string

	// AppDir is the child's working directory.
	AppDir string

	// Command and Args launch the child (e.g. "gunicorn", "--bind",
	// "unix:"+SocketPath, "app:app").
	Command string
	Args    []string

	Logger *logging.Logger
}

// Supervisor owns one spawned child process bound to SocketPath.
type Supervisor struct {
	cmd        *exec.Cmd
	socketPath string
	logger     *logging.Logger
}

// Spawn starts the configured child process. Any pre-existing socket file
// at cfg.SocketPath is removed first, matching the Rust source's
// ChildProcessManager::spawn.
func Spawn(cfg Config) (*Supervisor, error) {
	log := cfg.Logger
	if log == nil {
		log = logging.NewDefault()
	}
	log = log.Component("supervisor")

	if _, err := os.Stat(cfg.SocketPath); err == nil {
		log.Info("removing existing socket file", "path", cfg.SocketPath)
		if err := os.Remove(cfg.SocketPath); err != nil {
			return nil, errs.ConfigurationError(fmt.Sprintf("failed to remove existing socket file %q", cfg.SocketPath), err)
		}
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.AppDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	log.Info("spawning child process", "command", cfg.Command, "app_dir", cfg.AppDir, "args", cfg.Args)
	if err := cmd.Start(); err != nil {
		return nil, errs.ConfigurationError(fmt.Sprintf("failed to spawn %q (is it installed?)", cfg.Command), err)
	}
	log.Info("child process spawned", "pid", cmd.Process.Pid)

	return &Supervisor{cmd: cmd, socketPath: cfg.SocketPath, logger: log}, nil
}

// PID returns the child process's id.
func (s *Supervisor) PID() int {
	return s.cmd.Process.Pid
}

// SocketPath returns the UDS path the child is expected to bind.
func (s *Supervisor) SocketPath() string {
	return s.socketPath
}

// WaitForSocket blocks until the socket file appears or ctx is cancelled,
// using fsnotify on the parent directory rather than polling (replacing
// the Rust source's 100ms sleep loop).
func (s *Supervisor) WaitForSocket(ctx context.Context) error {
	if _, err := os.Stat(s.socketPath); err == nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errs.ExternalError("failed to create socket-file watcher", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.socketPath)
	if err := watcher.Add(dir); err != nil {
		return errs.ExternalError(fmt.Sprintf("failed to watch directory %q for socket file", dir), err)
	}

	// The file may have appeared between the initial Stat and Add.
	if _, err := os.Stat(s.socketPath); err == nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return errs.TransportError("timed out waiting for child process socket file", ctx.Err())
		case event, ok := <-watcher.Events:
			if !ok {
				return errs.ExternalError("socket-file watcher closed unexpectedly", nil)
			}
			if event.Name == s.socketPath && (event.Op&(fsnotify.Create|fsnotify.Write) != 0) {
				s.logger.Info("socket file created", "path", s.socketPath)
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errs.ExternalError("socket-file watcher closed unexpectedly", nil)
			}
			return errs.ExternalError("socket-file watcher error", err)
		}
	}
}

// WaitForReady waits for the socket file, then dials it to confirm the
// child is actually accepting connections, retrying with backoff until
// ctx is cancelled.
func (s *Supervisor) WaitForReady(ctx context.Context) error {
	if err := s.WaitForSocket(ctx); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "unix", s.socketPath)
		if err == nil {
			conn.Close()
			s.logger.Info("child process is ready", "attempts", attempt+1)
			return nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return errs.TransportError("timed out waiting for child process to accept connections", lastErr)
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// Shutdown kills the child process and removes its socket file, matching
// the Rust source's Drop impl.
func (s *Supervisor) Shutdown() error {
	s.logger.Info("shutting down child process", "pid", s.cmd.Process.Pid)

	_ = s.cmd.Process.Kill()
	_ = s.cmd.Wait()

	if _, err := os.Stat(s.socketPath); err == nil {
		_ = os.Remove(s.socketPath)
	}

	s.logger.Info("child process shut down")
	return nil
}

