// Copyright (c) seqscale 2026. All rights reserved.
// SPDX-License-Identifier: MIT

package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpeciesTag(t *testing.T) {
	assert.Equal(t, "h", SpeciesTag("data/regions.h.gz"))
	assert.Equal(t, "m", SpeciesTag("data/regions.m.gz"))
	assert.Equal(t, "m", SpeciesTag("data/regions.gz"))
	// A human marker in a parent directory must not leak into the tag.
	assert.Equal(t, "m", SpeciesTag("human.h.gz.d/regions.m.gz"))
}

func TestCombineRender(t *testing.T) {
	p := testPlan(t, 3)

	text, err := Combine{RegionFile: "regions.h.gz", OutputDir: "out"}.Render(p)
	require.NoError(t, err)

	assert.Contains(t, text, "Combining 3 chunks into a single file...")
	assert.Contains(t, text, "if cat out/all_*.gz > out/all.h.gz; then")
	assert.Contains(t, text, "Combination complete.")
	assert.Contains(t, text, "Combination failed.")
	assert.Contains(t, text, "exit 1")
}

func TestCombineTagsNeverCollide(t *testing.T) {
	p := testPlan(t, 1)

	human, err := Combine{RegionFile: "regions.h.gz", OutputDir: "out"}.Render(p)
	require.NoError(t, err)

	mouse, err := Combine{RegionFile: "regions.m.gz", OutputDir: "out"}.Render(p)
	require.NoError(t, err)

	assert.Contains(t, human, "all.h.gz")
	assert.Contains(t, mouse, "all.m.gz")
	assert.NotContains(t, human, "all.m.gz")
	assert.NotContains(t, mouse, "all.h.gz")
}
