// Copyright (c) seqscale 2026. All rights reserved.
// SPDX-License-Identifier: MIT

// Package flags holds the flag surface shared by the script and run
// subcommands, and helpers that turn parsed flags into a chunk plan and an
// execution plan.
package flags

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"

	"github.com/seqscale/chunkplan/internal/chunk"
	"github.com/seqscale/chunkplan/internal/ctxlog"
	"github.com/seqscale/chunkplan/internal/plan"
)

// Flag names shared across subcommands.
const (
	RegionFileFlag      = "region-file"
	CageDirFlag         = "cage-dir"
	ChromHMMDirFlag     = "chromhmm-dir"
	DNaseChIPSeqDirFlag = "dnase-chipseq-dir"
	RNASeqDirFlag       = "rnaseq-dir"
	ChromHMMStatesFlag  = "chromhmm-num-states"
	CageExperimentsFlag = "cage-num-experiments"
	NumFeaturesFlag     = "num-features"
	OutputDirFlag       = "output-dir"
	ChunkSizeFlag       = "chunk-size"
	TotalFlag           = "total"
	ParamsFileFlag      = "params"
	WorkerFlag          = "worker"
	MarkerDirFlag       = "marker-dir"
)

// DefaultChunkSize is the default number of regions per chunk.
const DefaultChunkSize = 1000000

// Shared returns the flags common to the script and run subcommands.
func Shared() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    RegionFileFlag,
			Aliases: []string{"p"},
			Usage:   "Species-specific gzipped region file (.h.gz or .m.gz)",
		},
		&cli.StringFlag{
			Name:    CageDirFlag,
			Aliases: []string{"ca"},
			Usage:   "Directory with intersection output for CAGE",
		},
		&cli.StringFlag{
			Name:    ChromHMMDirFlag,
			Aliases: []string{"ch"},
			Usage:   "Directory with intersection output for ChromHMM",
		},
		&cli.StringFlag{
			Name:    DNaseChIPSeqDirFlag,
			Aliases: []string{"dn"},
			Usage:   "Directory with intersection output for DNase-seq and ChIP-seq",
		},
		&cli.StringFlag{
			Name:    RNASeqDirFlag,
			Aliases: []string{"rn"},
			Usage:   "Directory with intersection output for RNA-seq",
		},
		&cli.IntFlag{
			Name:    ChromHMMStatesFlag,
			Aliases: []string{"chn"},
			Usage:   "Number of ChromHMM chromatin states (25 for human, 15 for mouse)",
		},
		&cli.IntFlag{
			Name:    CageExperimentsFlag,
			Aliases: []string{"can"},
			Usage:   "Number of CAGE experiments (1829 for human, 1073 for mouse)",
		},
		&cli.IntFlag{
			Name:    NumFeaturesFlag,
			Aliases: []string{"fn"},
			Usage:   "Total number of features (8824 for human, 3313 for mouse)",
		},
		&cli.StringFlag{
			Name:    OutputDirFlag,
			Aliases: []string{"o"},
			Usage:   "Output directory for chunk files and generated scripts",
		},
		&cli.IntFlag{
			Name:    ChunkSizeFlag,
			Aliases: []string{"c"},
			Usage:   "Number of regions per chunk",
			Value:   DefaultChunkSize,
		},
		&cli.IntFlag{
			Name:  TotalFlag,
			Usage: "Total region count; when set, skips counting the region file",
			Value: -1,
		},
		&cli.StringFlag{
			Name:  ParamsFileFlag,
			Usage: "YAML file with shared parameters; flags take precedence",
		},
		&cli.StringFlag{
			Name:  WorkerFlag,
			Usage: "Worker executable invoked once per chunk",
		},
		&cli.StringFlag{
			Name:  MarkerDirFlag,
			Usage: "Directory for PID marker files",
			Value: "markers",
		},
	}
}

// Params assembles shared parameters: the optional YAML params file first,
// overlaid with any flags set on the command line.
func Params(cmd *cli.Command, fs afero.Fs) (plan.Params, error) {
	var base plan.Params

	if path := cmd.String(ParamsFileFlag); path != "" {
		loaded, err := plan.LoadParams(fs, path)
		if err != nil {
			return plan.Params{}, err
		}

		base = loaded
	}

	return plan.Merge(base, plan.Params{
		RegionFile:      cmd.String(RegionFileFlag),
		CageDir:         cmd.String(CageDirFlag),
		ChromHMMDir:     cmd.String(ChromHMMDirFlag),
		DNaseChIPSeqDir: cmd.String(DNaseChIPSeqDirFlag),
		RNASeqDir:       cmd.String(RNASeqDirFlag),
		ChromHMMStates:  cmd.Int(ChromHMMStatesFlag),
		CageExperiments: cmd.Int(CageExperimentsFlag),
		NumFeatures:     cmd.Int(NumFeaturesFlag),
		OutputDir:       cmd.String(OutputDirFlag),
		Worker:          cmd.String(WorkerFlag),
	}), nil
}

// BuildPlan counts regions (unless --total was given), partitions them and
// builds the execution plan.
func BuildPlan(ctx context.Context, cmd *cli.Command, fs afero.Fs, params plan.Params) (plan.Plan, chunk.Plan, error) {
	total := cmd.Int(TotalFlag)

	if total < 0 {
		var err error

		total, err = countRegions(ctx, fs, params.RegionFile)
		if err != nil {
			return plan.Plan{}, chunk.Plan{}, err
		}
	}

	cp, err := chunk.New(total, cmd.Int(ChunkSizeFlag))
	if err != nil {
		return plan.Plan{}, chunk.Plan{}, err
	}

	ctxlog.Info(ctx, "partitioned regions", "total", cp.Total, "chunkSize", cp.Size, "chunks", cp.Count())

	p, err := plan.Build(cp, params)
	if err != nil {
		return plan.Plan{}, chunk.Plan{}, err
	}

	return p, cp, nil
}

func countRegions(ctx context.Context, fs afero.Fs, regionFile string) (int, error) {
	if regionFile == "" {
		return 0, fmt.Errorf("%w: region file", plan.ErrMissingParam)
	}

	ctxlog.Info(ctx, "counting regions", "file", regionFile)

	f, err := fs.Open(regionFile)
	if err != nil {
		return 0, fmt.Errorf("open region file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	total, err := chunk.CountRegions(f)
	if err != nil {
		return 0, err
	}

	ctxlog.Info(ctx, "counted regions", "total", total)

	return total, nil
}
