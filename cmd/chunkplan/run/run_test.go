// Copyright (c) seqscale 2026. All rights reserved.
// SPDX-License-Identifier: MIT

package run

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
	"go.uber.org/goleak"

	"github.com/seqscale/chunkplan/internal/marker"
	"github.com/seqscale/chunkplan/internal/plan"
	"github.com/seqscale/chunkplan/internal/supervise"
)

type fakeHandle struct {
	pid  int
	exit int
}

func (h fakeHandle) PID() int {
	return h.pid
}

func (h fakeHandle) Wait() (int, error) {
	return h.exit, nil
}

// fakeLauncher hands out synthetic handles whose exit codes are keyed by
// chunk ordinal. Unlisted ordinals exit zero.
type fakeLauncher struct {
	mu      sync.Mutex
	exits   map[int]int
	started []int
}

func (l *fakeLauncher) Start(_ context.Context, d plan.Descriptor, _ string) (supervise.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.started = append(l.started, d.Ordinal)

	return fakeHandle{pid: 40000 + d.Ordinal, exit: l.exits[d.Ordinal]}, nil
}

func baseArgs() []string {
	return []string{
		"run",
		"-p", "/data/regions.h.gz",
		"-ca", "/data/cage",
		"-ch", "/data/chromhmm",
		"-dn", "/data/dnase",
		"-rn", "/data/rnaseq",
		"-chn", "25",
		"-can", "1829",
		"-fn", "8824",
		"-o", "/out",
	}
}

// runCmd runs a fresh run command with a memory filesystem and the given
// launcher, returning the filesystem, the command output and the run error.
func runCmd(t *testing.T, launcher supervise.Launcher, args []string) (afero.Fs, *bytes.Buffer, error) {
	t.Helper()

	fs := afero.NewMemMapFs()

	origFs := FsFactory
	FsFactory = func() afero.Fs { return fs }
	t.Cleanup(func() { FsFactory = origFs })

	origLauncher := LauncherFactory
	LauncherFactory = func() supervise.Launcher { return launcher }
	t.Cleanup(func() { LauncherFactory = origLauncher })

	var out bytes.Buffer

	cmd := NewCommand()
	cmd.Writer = &out
	cmd.ErrWriter = &out
	cmd.ExitErrHandler = func(context.Context, *cli.Command, error) {}

	err := cmd.Run(context.Background(), args)

	return fs, &out, err
}

func TestRun_SequentialSuccess(t *testing.T) {
	defer goleak.VerifyNone(t)

	launcher := &fakeLauncher{exits: map[int]int{}}

	args := append(baseArgs(), "--total", "2500000", "-c", "1000000")

	fs, out, err := runCmd(t, launcher, args)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, launcher.started)
	assert.Contains(t, out.String(), "3/3 chunks succeeded")
	assert.Contains(t, out.String(), "Created combine script: /out/combine_chunks.sh")

	exists, ferr := afero.Exists(fs, "/out/combine_chunks.sh")
	require.NoError(t, ferr)
	assert.True(t, exists)

	store, err := marker.NewStore(fs, "markers")
	require.NoError(t, err)

	records, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, records, "all markers must be removed after the run")
}

func TestRun_ChunkFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	launcher := &fakeLauncher{exits: map[int]int{2: 3}}

	args := append(baseArgs(), "--total", "10", "-c", "4")

	fs, out, err := runCmd(t, launcher, args)
	require.Error(t, err)

	assert.Equal(t, []int{1, 2, 3}, launcher.started, "a failed chunk must not stop later chunks")
	assert.Contains(t, out.String(), "chunk 2: FAILED (exit code 3")
	assert.Contains(t, out.String(), "2/3 chunks succeeded")

	// The combine script is still written so the surviving chunks remain usable.
	exists, ferr := afero.Exists(fs, "/out/combine_chunks.sh")
	require.NoError(t, ferr)
	assert.True(t, exists)
}

func TestRun_Parallel(t *testing.T) {
	defer goleak.VerifyNone(t)

	launcher := &fakeLauncher{exits: map[int]int{}}

	args := append(baseArgs(), "--total", "10", "-c", "2", "--parallel", "--max-workers", "2")

	_, out, err := runCmd(t, launcher, args)
	require.NoError(t, err)

	assert.Len(t, launcher.started, 5)
	assert.Contains(t, out.String(), "5/5 chunks succeeded")
}

func TestRun_MissingParams(t *testing.T) {
	defer goleak.VerifyNone(t)

	launcher := &fakeLauncher{exits: map[int]int{}}

	args := []string{"run", "-p", "/data/regions.h.gz", "--total", "10"}

	_, _, err := runCmd(t, launcher, args)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required parameter")
}
