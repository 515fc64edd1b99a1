// Copyright (c) seqscale 2026. All rights reserved.
// SPDX-License-Identifier: MIT

// Package script contains the subcommand that renders the execution plan as
// a runnable script instead of executing it.
package script

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"

	"github.com/seqscale/chunkplan/cmd/chunkplan/flags"
	scr "github.com/seqscale/chunkplan/internal/script"
)

const (
	jobArrayFlag   = "job-array"
	parallelFlag   = "parallel"
	maxWorkersFlag = "max-workers"
	jobLogDirFlag  = "job-log-dir"
	walltimeFlag   = "walltime"
	memoryFlag     = "memory"
	cpusFlag       = "cpus"
)

// FsFactory returns the filesystem scripts are written to. Tests swap in a
// memory-backed filesystem.
var FsFactory = func() afero.Fs {
	return afero.NewOsFs()
}

// Cmd renders the processing script and the combine script.
var Cmd = NewCommand()

// NewCommand returns a fresh script command. Tests construct their own to
// avoid sharing parsed flag state.
func NewCommand() *cli.Command {
	return &cli.Command{
		Name:        "script",
		Description: "Partition the regions into chunks and write a script that processes every chunk, plus a combine script.",
		Flags: append(flags.Shared(),
			&cli.StringFlag{
				Name:  jobArrayFlag,
				Usage: "Job array scheduler to target (slurm, sge, lsf) or none for a local script",
				Value: "none",
			},
			&cli.BoolFlag{
				Name:  parallelFlag,
				Usage: "Render a concurrency-bounded local launcher instead of a sequential one",
				Value: false,
			},
			&cli.IntFlag{
				Name:  maxWorkersFlag,
				Usage: "Concurrent worker bound for --parallel. Defaults to the CPU count minus one.",
				Value: 0,
			},
			&cli.StringFlag{
				Name:  jobLogDirFlag,
				Usage: "Directory for scheduler stdout/stderr files",
				Value: "job_logs",
			},
			&cli.StringFlag{
				Name:  walltimeFlag,
				Usage: "Per-task walltime for cluster mode (HH:MM:SS)",
				Value: "12:00:00",
			},
			&cli.StringFlag{
				Name:  memoryFlag,
				Usage: "Per-task memory limit for cluster mode",
				Value: "16G",
			},
			&cli.IntFlag{
				Name:  cpusFlag,
				Usage: "Per-task CPU count for cluster mode",
				Value: 1,
			},
		),
		Action: actionFunc,
	}
}

func actionFunc(ctx context.Context, cmd *cli.Command) error {
	fs := FsFactory()

	params, err := flags.Params(cmd, fs)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	mode, err := selectMode(cmd)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	p, _, err := flags.BuildPlan(ctx, cmd, fs, params)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	scriptPath, err := scr.Emit(fs, params.OutputDir, mode, p)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	// Schedulers open the directive log paths at submit time, before the
	// script body runs, so the job-log directory must exist already.
	if _, ok := mode.(scr.ClusterArray); ok {
		if err := fs.MkdirAll(cmd.String(jobLogDirFlag), 0o755); err != nil {
			return cli.Exit(err.Error(), 1)
		}
	}

	combinePath, err := scr.Emit(fs, params.OutputDir, scr.Combine{
		RegionFile: params.RegionFile,
		OutputDir:  params.OutputDir,
	}, p)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	fmt.Fprintf(cmd.Writer, "Created script: %s\n", scriptPath)
	fmt.Fprintf(cmd.Writer, "Created combine script: %s\n", combinePath)
	fmt.Fprintln(cmd.Writer, "\nWhat to do next:")
	printNextSteps(cmd, scriptPath, combinePath)

	return nil
}

func selectMode(cmd *cli.Command) (scr.Mode, error) {
	layout := scr.Layout{
		MarkerDir: cmd.String(flags.MarkerDirFlag),
		JobLogDir: cmd.String(jobLogDirFlag),
	}

	if selector := cmd.String(jobArrayFlag); selector != "none" {
		kind, err := scr.ParseKind(selector)
		if err != nil {
			return nil, err
		}

		return scr.ClusterArray{
			Kind: kind,
			Limits: scr.Limits{
				Walltime: cmd.String(walltimeFlag),
				Memory:   cmd.String(memoryFlag),
				CPUs:     cmd.Int(cpusFlag),
			},
			Layout: layout,
		}, nil
	}

	if cmd.Bool(parallelFlag) {
		maxWorkers := cmd.Int(maxWorkersFlag)
		if maxWorkers <= 0 {
			maxWorkers = scr.DefaultMaxWorkers()
		}

		return scr.LocalParallel{Layout: layout, MaxWorkers: maxWorkers}, nil
	}

	return scr.LocalSequential{Layout: layout}, nil
}

func printNextSteps(cmd *cli.Command, scriptPath, combinePath string) {
	switch cmd.String(jobArrayFlag) {
	case "slurm":
		fmt.Fprintf(cmd.Writer, "1. Submit with: sbatch %s\n", scriptPath)
	case "sge":
		fmt.Fprintf(cmd.Writer, "1. Submit with: qsub %s\n", scriptPath)
	case "lsf":
		fmt.Fprintf(cmd.Writer, "1. Submit with: bsub < %s\n", scriptPath)
	default:
		fmt.Fprintf(cmd.Writer, "1. Run: bash %s\n", scriptPath)
	}

	fmt.Fprintf(cmd.Writer, "2. After all chunks are processed, run: bash %s\n", combinePath)
}
