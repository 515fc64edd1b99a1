// Copyright (c) seqscale 2026. All rights reserved.
// SPDX-License-Identifier: MIT

package plan

import (
	"fmt"

	"github.com/goccy/go-yaml"
	"github.com/spf13/afero"
)

// LoadParams reads shared parameters from a YAML file. Values set on the
// command line take precedence over file values; see Merge.
func LoadParams(fs afero.Fs, path string) (Params, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return Params{}, fmt.Errorf("read params file: %w", err)
	}

	var p Params
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Params{}, fmt.Errorf("parse params file %s: %w", path, err)
	}

	return p, nil
}

// Merge overlays non-zero fields of override onto base and returns the result.
func Merge(base, override Params) Params {
	if override.RegionFile != "" {
		base.RegionFile = override.RegionFile
	}

	if override.CageDir != "" {
		base.CageDir = override.CageDir
	}

	if override.ChromHMMDir != "" {
		base.ChromHMMDir = override.ChromHMMDir
	}

	if override.DNaseChIPSeqDir != "" {
		base.DNaseChIPSeqDir = override.DNaseChIPSeqDir
	}

	if override.RNASeqDir != "" {
		base.RNASeqDir = override.RNASeqDir
	}

	if override.ChromHMMStates != 0 {
		base.ChromHMMStates = override.ChromHMMStates
	}

	if override.CageExperiments != 0 {
		base.CageExperiments = override.CageExperiments
	}

	if override.NumFeatures != 0 {
		base.NumFeatures = override.NumFeatures
	}

	if override.OutputDir != "" {
		base.OutputDir = override.OutputDir
	}

	if override.Worker != "" {
		base.Worker = override.Worker
	}

	return base
}
