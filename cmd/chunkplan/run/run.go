// Copyright (c) seqscale 2026. All rights reserved.
// SPDX-License-Identifier: MIT

// Package run contains the subcommand that executes the plan directly under
// the process supervisor instead of emitting a script.
package run

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"

	"github.com/seqscale/chunkplan/cmd/chunkplan/flags"
	"github.com/seqscale/chunkplan/internal/marker"
	scr "github.com/seqscale/chunkplan/internal/script"
	"github.com/seqscale/chunkplan/internal/supervise"
)

const (
	parallelFlag   = "parallel"
	maxWorkersFlag = "max-workers"
	logDirFlag     = "log-dir"
)

// FsFactory returns the filesystem used for markers, logs and the combine
// script. Tests swap in a memory-backed filesystem; child processes are
// always real.
var FsFactory = func() afero.Fs {
	return afero.NewOsFs()
}

// LauncherFactory returns the launcher used to spawn chunk workers.
var LauncherFactory = func() supervise.Launcher {
	return supervise.ExecLauncher{}
}

// Cmd executes every chunk of the plan now, under the supervisor.
var Cmd = NewCommand()

// NewCommand returns a fresh run command. Tests construct their own to avoid
// sharing parsed flag state.
func NewCommand() *cli.Command {
	return &cli.Command{
		Name:        "run",
		Description: "Partition the regions into chunks and run every chunk worker directly, sequentially or with a bounded worker pool.",
		Flags: append(flags.Shared(),
			&cli.BoolFlag{
				Name:  parallelFlag,
				Usage: "Run chunk workers concurrently with a bounded worker pool",
				Value: false,
			},
			&cli.IntFlag{
				Name:  maxWorkersFlag,
				Usage: "Concurrent worker bound for --parallel. Defaults to the CPU count minus one.",
				Value: 0,
			},
			&cli.StringFlag{
				Name:  logDirFlag,
				Usage: "Directory for per-chunk log files",
				Value: "logs",
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

	p, _, err := flags.BuildPlan(ctx, cmd, fs, params)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	store, err := marker.NewStore(fs, cmd.String(flags.MarkerDirFlag))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	supervisor, err := supervise.New(p, store, fs, cmd.String(logDirFlag), LauncherFactory())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	var batch supervise.BatchResult

	if cmd.Bool(parallelFlag) {
		maxWorkers := cmd.Int(maxWorkersFlag)
		if maxWorkers <= 0 {
			maxWorkers = scr.DefaultMaxWorkers()
		}

		batch, err = supervisor.RunParallel(ctx, maxWorkers)
	} else {
		batch, err = supervisor.RunSequential(ctx)
	}

	writeSummary(cmd, batch)

	if err != nil {
		if errors.Is(err, supervise.ErrCancelled) {
			return cli.Exit("run cancelled, tracked workers terminated and markers removed", 1)
		}

		return cli.Exit(err.Error(), 1)
	}

	combinePath, err := scr.Emit(fs, params.OutputDir, scr.Combine{
		RegionFile: params.RegionFile,
		OutputDir:  params.OutputDir,
	}, p)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	fmt.Fprintf(cmd.Writer, "Created combine script: %s\n", combinePath)
	fmt.Fprintf(cmd.Writer, "After checking the chunk outputs, run: bash %s\n", combinePath)

	if !batch.OK() {
		return cli.Exit(batch.Err().Error(), 1)
	}

	return nil
}

func writeSummary(cmd *cli.Command, batch supervise.BatchResult) {
	for _, c := range batch.Chunks {
		status := "ok"
		if !c.OK() {
			status = "FAILED"
		}

		fmt.Fprintf(cmd.Writer, "chunk %d: %s (exit code %d, log %s)\n", c.Ordinal, status, c.ExitCode, c.LogPath)
	}

	fmt.Fprintf(cmd.Writer, "%d/%d chunks succeeded\n", len(batch.Chunks)-len(batch.Failed()), len(batch.Chunks))
}
