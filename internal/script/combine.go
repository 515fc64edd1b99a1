// Copyright (c) seqscale 2026. All rights reserved.
// SPDX-License-Identifier: MIT

package script

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/seqscale/chunkplan/internal/plan"
)

var _ Mode = Combine{}

// Combine renders the final step: concatenate every chunk output into one
// species-tagged artifact. It is strictly ordered after all chunk commands
// have run.
type Combine struct {
	// RegionFile is the input region path; its species marker (.h.gz or
	// .m.gz) selects the output tag.
	RegionFile string
	// OutputDir holds the chunk outputs and receives the combined file.
	OutputDir string
}

// Filename implements Mode.
func (m Combine) Filename() string {
	return "combine_chunks.sh"
}

// Render implements Mode.
func (m Combine) Render(p plan.Plan) (string, error) {
	tag := SpeciesTag(m.RegionFile)
	// all_*.gz cannot match all.<tag>.gz, so the combined artifact never
	// feeds back into its own input glob.
	src := filepath.Join(m.OutputDir, "all_*.gz")
	dst := filepath.Join(m.OutputDir, fmt.Sprintf("all.%s.gz", tag))

	var b strings.Builder

	b.WriteString("#!/bin/bash\n\n")
	b.WriteString("# Combine all processed chunks into a single file.\n\n")
	fmt.Fprintf(&b, "echo \"Combining %d chunks into a single file...\"\n", len(p.Descriptors))
	fmt.Fprintf(&b, "if cat %s > %s; then\n", src, shellquote.Join(dst))
	b.WriteString("\techo \"Combination complete.\"\n")
	b.WriteString("else\n")
	b.WriteString("\techo \"Combination failed.\" >&2\n")
	b.WriteString("\texit 1\n")
	b.WriteString("fi\n")

	return b.String(), nil
}

// SpeciesTag derives the species tag from the region file name: "h" when the
// path carries the human marker, otherwise "m".
func SpeciesTag(regionFile string) string {
	if strings.Contains(filepath.Base(regionFile), ".h.gz") {
		return "h"
	}

	return "m"
}
