// Copyright (c) seqscale 2026. All rights reserved.
// SPDX-License-Identifier: MIT

// Package script renders execution plans into runnable shell scripts. Five
// modes are supported: local sequential, local parallel, and job arrays for
// the Slurm, SGE and LSF schedulers. Rendering is pure; nothing is executed
// here. Every locally targeted script wraps each chunk command with PID
// marker bookkeeping and installs a cleanup handler that terminates tracked
// processes and removes their markers on interruption or exit.
package script

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/seqscale/chunkplan/internal/plan"
)

var (
	// ErrUnsupportedScheduler is returned for a scheduler kind outside
	// {slurm, sge, lsf}.
	ErrUnsupportedScheduler = errors.New("unsupported scheduler kind")
	// ErrEmptyPlan is returned when a job array is requested for a plan with
	// no chunks: schedulers reject an empty array range.
	ErrEmptyPlan = errors.New("cannot render a job array for an empty plan")
	// ErrMaxWorkers is returned when the parallel worker bound is not positive.
	ErrMaxWorkers = errors.New("max workers must be positive")
)

// Kind identifies a cluster batch scheduler.
type Kind int

const (
	// Slurm is the Slurm workload manager (sbatch).
	Slurm Kind = iota
	// SGE is Sun/Open Grid Engine (qsub).
	SGE
	// LSF is IBM Spectrum LSF (bsub).
	LSF
)

// String returns the lowercase scheduler name.
func (k Kind) String() string {
	switch k {
	case Slurm:
		return "slurm"
	case SGE:
		return "sge"
	case LSF:
		return "lsf"
	}

	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind converts a scheduler selector to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "slurm":
		return Slurm, nil
	case "sge":
		return SGE, nil
	case "lsf":
		return LSF, nil
	}

	return 0, fmt.Errorf("%w: %q", ErrUnsupportedScheduler, s)
}

// Limits are the per-task resource limits for cluster modes.
type Limits struct {
	// Walltime in HH:MM:SS form.
	Walltime string
	// Memory per task, e.g. "16G".
	Memory string
	// CPUs per task.
	CPUs int
}

// DefaultLimits returns the default per-task limits.
func DefaultLimits() Limits {
	return Limits{Walltime: "12:00:00", Memory: "16G", CPUs: 1}
}

// Layout names the directories a rendered script writes into.
type Layout struct {
	// MarkerDir receives one PID marker per live chunk.
	MarkerDir string
	// JobLogDir receives scheduler stdout/stderr files in cluster modes.
	JobLogDir string
}

// DefaultLayout returns the default directory layout.
func DefaultLayout() Layout {
	return Layout{MarkerDir: "markers", JobLogDir: "job_logs"}
}

// Mode is one renderable script variant.
type Mode interface {
	// Render returns the script text for the plan. It never writes files.
	Render(p plan.Plan) (string, error)
	// Filename is the script name the mode is emitted under.
	Filename() string
}

// Emit renders the mode and writes the script 0755 under dir. The text is
// written to a temporary name and renamed into place, so no partial or
// inconsistent script is ever observable; nothing is written if rendering
// fails.
func Emit(fs afero.Fs, dir string, mode Mode, p plan.Plan) (string, error) {
	text, err := mode.Render(p)
	if err != nil {
		return "", err
	}

	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create script directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, mode.Filename())
	tmp := path + ".tmp"

	if err := afero.WriteFile(fs, tmp, []byte(text), 0o755); err != nil {
		return "", fmt.Errorf("write script %s: %w", path, err)
	}

	if err := fs.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("publish script %s: %w", path, err)
	}

	if err := fs.Chmod(path, 0o755); err != nil {
		return "", fmt.Errorf("make script executable %s: %w", path, err)
	}

	return path, nil
}

// singleQuote wraps s in single quotes for safe embedding in shell text.
func singleQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
