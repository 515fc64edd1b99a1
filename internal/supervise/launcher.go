// Copyright (c) seqscale 2026. All rights reserved.
// SPDX-License-Identifier: MIT

package supervise

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/seqscale/chunkplan/internal/ctxlog"
	"github.com/seqscale/chunkplan/internal/plan"
)

// ErrCouldNotStartProcess is returned when a chunk worker could not be started.
var ErrCouldNotStartProcess = errors.New("could not start process")

// Handle is a spawned chunk worker.
type Handle interface {
	// PID returns the worker's operating system process ID.
	PID() int
	// Wait blocks until the worker exits and returns its exit code.
	Wait() (int, error)
}

// Launcher spawns chunk workers. It is an interface so tests can substitute
// fake processes.
type Launcher interface {
	// Start spawns the descriptor's command with stdout and stderr redirected
	// to logPath.
	Start(ctx context.Context, d plan.Descriptor, logPath string) (Handle, error)
}

var _ Launcher = ExecLauncher{}

// ExecLauncher spawns real OS processes.
type ExecLauncher struct{}

// Start implements Launcher.
func (ExecLauncher) Start(ctx context.Context, d plan.Descriptor, logPath string) (Handle, error) {
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", logPath, err)
	}

	cmd := exec.Command(d.Path, d.Args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()

		return nil, errors.Join(ErrCouldNotStartProcess, err)
	}

	ctxlog.Debug(ctx, "process started", "chunk", d.Ordinal, "pid", cmd.Process.Pid, "log", logPath)

	return &execHandle{cmd: cmd, log: logFile}, nil
}

type execHandle struct {
	cmd *exec.Cmd
	log *os.File
}

func (h *execHandle) PID() int {
	return h.cmd.Process.Pid
}

func (h *execHandle) Wait() (int, error) {
	defer h.log.Close() //nolint:errcheck

	err := h.cmd.Wait()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}

	if err != nil {
		return -1, err
	}

	return 0, nil
}

// terminate sends SIGTERM to pid. A process that has already exited is
// tolerated, not treated as an error.
func terminate(ctx context.Context, pid int) {
	ps, err := os.FindProcess(pid)
	if err != nil {
		ctxlog.Debug(ctx, "process not found", "pid", pid, "error", err)
		return
	}

	if err := ps.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
			ctxlog.Debug(ctx, "process already done", "pid", pid)
			return
		}

		ctxlog.Error(ctx, "failed to signal process", "pid", pid, "error", err)

		return
	}

	ctxlog.Info(ctx, "termination signal sent", "pid", pid)
}
