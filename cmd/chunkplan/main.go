// Copyright (c) seqscale 2026. All rights reserved.
// SPDX-License-Identifier: MIT

// Package main contains the chunkplan command-line interface (CLI).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/seqscale/chunkplan"
	"github.com/seqscale/chunkplan/cmd/chunkplan/run"
	"github.com/seqscale/chunkplan/cmd/chunkplan/script"
	"github.com/seqscale/chunkplan/internal/ctxlog"
	"github.com/seqscale/chunkplan/internal/signalbroker"
)

// rootCmd is the root command for the CLI.
var rootCmd = &cli.Command{
	Commands: []*cli.Command{
		script.Cmd,
		run.Cmd,
	},
	Writer:    os.Stdout,
	ErrWriter: os.Stderr,
	Name:      "chunkplan",
	Description: `Chunkplan partitions a large set of genomic regions into bounded-size
chunks and produces an executable plan to aggregate feature data for every
chunk: either a local script, a Slurm/SGE/LSF job-array script, or a directly
supervised run with PID tracking and signal-driven cleanup.`,
	Usage:                 "chunkplan script -p regions.h.gz -o output ...",
	EnableShellCompletion: true,
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = ctxlog.New(ctx, ctxlog.DefaultLogger)
	defer cancel()

	sigCh := signalbroker.New(ctx)

	go signalbroker.Watch(ctx, sigCh, cancel)

	rootCmd.Version = fmt.Sprintf("%s (commit: %s)", chunkplan.Version, chunkplan.Commit)

	err := rootCmd.Run(ctx, os.Args) // Err is handled by cli framework

	// Check if the context was cancelled (e.g., due to signals)
	if ctx.Err() != nil {
		ctxlog.Logger(ctx).Error("command terminated due to cancellation", "error", ctx.Err())
		os.Exit(1)
	}

	if err != nil {
		ctxlog.Logger(ctx).Error("command execution failed", "error", err)
		os.Exit(1)
	}
}
