// Copyright (c) seqscale 2026. All rights reserved.
// SPDX-License-Identifier: MIT

// Package plan builds an immutable execution plan from a chunk plan: one
// command descriptor per chunk, each invoking the feature-aggregation worker
// for its own slice of regions.
package plan

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/hashicorp/go-multierror"
	"github.com/seqscale/chunkplan/internal/chunk"
)

// DefaultWorker is the feature-aggregation program invoked once per chunk.
// Its behaviour is opaque here; only the argument contract matters.
const DefaultWorker = "source/generateDataThreaded.py"

// ErrMissingParam is returned when a required shared parameter is empty.
var ErrMissingParam = errors.New("missing required parameter")

// Params holds the invocation parameters shared by every chunk command.
type Params struct {
	// RegionFile is the species-specific gzipped region file (.h.gz or .m.gz).
	RegionFile string `yaml:"region_file"`
	// CageDir holds intersection output for CAGE experiments.
	CageDir string `yaml:"cage_dir"`
	// ChromHMMDir holds intersection output for ChromHMM states.
	ChromHMMDir string `yaml:"chromhmm_dir"`
	// DNaseChIPSeqDir holds intersection output for DNase-seq and ChIP-seq.
	DNaseChIPSeqDir string `yaml:"dnase_chipseq_dir"`
	// RNASeqDir holds intersection output for RNA-seq.
	RNASeqDir string `yaml:"rnaseq_dir"`
	// ChromHMMStates is the number of chromatin states (25 human, 15 mouse).
	ChromHMMStates int `yaml:"chromhmm_num_states"`
	// CageExperiments is the number of CAGE experiments (1829 human, 1073 mouse).
	CageExperiments int `yaml:"cage_num_experiments"`
	// NumFeatures is the total feature count (8824 human, 3313 mouse).
	NumFeatures int `yaml:"num_features"`
	// OutputDir receives one all_<ordinal>.gz file per chunk.
	OutputDir string `yaml:"output_dir"`
	// Worker overrides the worker executable path.
	Worker string `yaml:"worker,omitempty"`
}

// Validate reports every missing required parameter.
func (p Params) Validate() error {
	var err *multierror.Error

	required := []struct {
		name  string
		value string
	}{
		{"region file", p.RegionFile},
		{"CAGE directory", p.CageDir},
		{"ChromHMM directory", p.ChromHMMDir},
		{"DNase/ChIP-seq directory", p.DNaseChIPSeqDir},
		{"RNA-seq directory", p.RNASeqDir},
		{"output directory", p.OutputDir},
	}
	for _, r := range required {
		if r.value == "" {
			err = multierror.Append(err, fmt.Errorf("%w: %s", ErrMissingParam, r.name))
		}
	}

	return err.ErrorOrNil()
}

// Descriptor is the command for a single chunk. It is immutable once built.
type Descriptor struct {
	// Ordinal is the 1-based chunk index.
	Ordinal int
	// Path is the worker executable.
	Path string
	// Args is the structured argument list, excluding the executable name.
	Args []string
	// OutputPath is where the worker writes this chunk's aggregated features.
	OutputPath string
}

// Plan is the ordered set of descriptors for every chunk.
// Ordering is insertion order; execution is logically unordered.
type Plan struct {
	Descriptors []Descriptor
}

// Build derives a Plan from the chunk plan and shared parameters.
// It is deterministic: identical inputs yield identical plans, and output
// paths are collision-free by construction (keyed by ordinal).
func Build(cp chunk.Plan, params Params) (Plan, error) {
	if err := params.Validate(); err != nil {
		return Plan{}, err
	}

	worker := params.Worker
	if worker == "" {
		worker = DefaultWorker
	}

	count := cp.Count()
	descriptors := make([]Descriptor, 0, count)

	for i := 1; i <= count; i++ {
		out := OutputPath(params.OutputDir, i)
		descriptors = append(descriptors, Descriptor{
			Ordinal:    i,
			Path:       worker,
			Args:       workerArgs(params, cp.Size, i, out),
			OutputPath: out,
		})
	}

	return Plan{Descriptors: descriptors}, nil
}

// OutputPath returns the chunk output file for the given ordinal.
func OutputPath(outputDir string, ordinal int) string {
	return filepath.Join(outputDir, fmt.Sprintf("all_%d.gz", ordinal))
}

// workerArgs assembles the fixed worker argument contract. The -s flag selects
// the worker's streaming mode.
func workerArgs(params Params, chunkSize, ordinal int, outputPath string) []string {
	return []string{
		"-p", params.RegionFile,
		"-ca", params.CageDir,
		"-ch", params.ChromHMMDir,
		"-dn", params.DNaseChIPSeqDir,
		"-rn", params.RNASeqDir,
		"-chn", strconv.Itoa(params.ChromHMMStates),
		"-can", strconv.Itoa(params.CageExperiments),
		"-fn", strconv.Itoa(params.NumFeatures),
		"-o", outputPath,
		"-s",
		"-c", strconv.Itoa(chunkSize),
		"-i", strconv.Itoa(ordinal),
	}
}
