// Copyright (c) seqscale 2026. All rights reserved.
// SPDX-License-Identifier: MIT

package supervise

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/seqscale/chunkplan/internal/chunk"
	"github.com/seqscale/chunkplan/internal/marker"
	"github.com/seqscale/chunkplan/internal/plan"
)

type fakeHandle struct {
	pid     int
	exit    int
	waitErr error
	delay   time.Duration
	release chan struct{} // when non-nil, Wait blocks until closed
	onWait  func()
	onDone  func()
}

func (h *fakeHandle) PID() int { return h.pid }

func (h *fakeHandle) Wait() (int, error) {
	if h.onWait != nil {
		h.onWait()
	}

	if h.release != nil {
		<-h.release
	}

	if h.delay > 0 {
		time.Sleep(h.delay)
	}

	if h.onDone != nil {
		h.onDone()
	}

	return h.exit, h.waitErr
}

type fakeLauncher struct {
	mu        sync.Mutex
	nextPID   int
	exits     map[int]int   // chunk ordinal -> exit code
	startErrs map[int]error // chunk ordinal -> start error
	delay     time.Duration
	blocking  bool
	releases  map[int]chan struct{} // pid -> release channel
	live      int
	maxLive   int
	onWait    func()
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{
		exits:     map[int]int{},
		startErrs: map[int]error{},
		releases:  map[int]chan struct{}{},
	}
}

// Start implements Launcher.
func (l *fakeLauncher) Start(_ context.Context, d plan.Descriptor, _ string) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.startErrs[d.Ordinal]; err != nil {
		return nil, err
	}

	l.nextPID++
	l.live++

	if l.live > l.maxLive {
		l.maxLive = l.live
	}

	h := &fakeHandle{
		pid:    1000 + l.nextPID,
		exit:   l.exits[d.Ordinal],
		delay:  l.delay,
		onWait: l.onWait,
		onDone: func() {
			l.mu.Lock()
			l.live--
			l.mu.Unlock()
		},
	}

	if l.blocking {
		h.release = make(chan struct{})
		l.releases[h.pid] = h.release
	}

	return h, nil
}

func (l *fakeLauncher) maxConcurrent() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.maxLive
}

func testSetup(t *testing.T, chunks int, launcher Launcher) (*Supervisor, *marker.Store, afero.Fs) {
	t.Helper()

	cp, err := chunk.New(chunks*10, 10)
	require.NoError(t, err)

	p, err := plan.Build(cp, plan.Params{
		RegionFile:      "regions.h.gz",
		CageDir:         "cage",
		ChromHMMDir:     "chromhmm",
		DNaseChIPSeqDir: "dnase",
		RNASeqDir:       "rnaseq",
		OutputDir:       "out",
	})
	require.NoError(t, err)

	fs := afero.NewMemMapFs()

	store, err := marker.NewStore(fs, "markers")
	require.NoError(t, err)

	s, err := New(p, store, fs, "logs", launcher)
	require.NoError(t, err)

	return s, store, fs
}

func requireMarkersEmpty(t *testing.T, store *marker.Store) {
	t.Helper()

	records, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, records, "marker directory must be empty after a run")
}

func TestRunSequentialAllSuccess(t *testing.T) {
	defer goleak.VerifyNone(t)

	launcher := newFakeLauncher()
	s, store, fs := testSetup(t, 3, launcher)

	batch, err := s.RunSequential(context.Background())
	require.NoError(t, err)
	require.Len(t, batch.Chunks, 3)
	assert.True(t, batch.OK())
	require.NoError(t, batch.Err())

	for i, c := range batch.Chunks {
		assert.Equal(t, i+1, c.Ordinal)
		assert.Equal(t, 0, c.ExitCode)
	}

	requireMarkersEmpty(t, store)

	// Completion footer is appended to every chunk log.
	data, err := afero.ReadFile(fs, "logs/chunk_2.log")
	require.NoError(t, err)
	assert.Contains(t, string(data), "exit code 0")
}

func TestRunSequentialContinuesPastFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	launcher := newFakeLauncher()
	launcher.exits[2] = 1

	s, store, _ := testSetup(t, 3, launcher)

	batch, err := s.RunSequential(context.Background())
	require.NoError(t, err, "chunk failures are not a run error")
	require.Len(t, batch.Chunks, 3)

	assert.True(t, batch.Chunks[0].OK())
	assert.False(t, batch.Chunks[1].OK())
	assert.True(t, batch.Chunks[2].OK(), "chunk 3 must run despite chunk 2 failing")

	assert.False(t, batch.OK())
	require.Len(t, batch.Failed(), 1)
	assert.Equal(t, 2, batch.Failed()[0].Ordinal)

	err = batch.Err()
	require.ErrorIs(t, err, ErrChunkFailed)
	assert.Contains(t, err.Error(), "chunk 2")

	requireMarkersEmpty(t, store)
}

func TestRunSequentialStartFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	launcher := newFakeLauncher()
	launcher.startErrs[1] = ErrCouldNotStartProcess

	s, store, _ := testSetup(t, 2, launcher)

	batch, err := s.RunSequential(context.Background())
	require.NoError(t, err)
	require.Len(t, batch.Chunks, 2)

	require.ErrorIs(t, batch.Chunks[0].Err, ErrCouldNotStartProcess)
	assert.Equal(t, -1, batch.Chunks[0].ExitCode)
	assert.True(t, batch.Chunks[1].OK())

	requireMarkersEmpty(t, store)
}

func TestRunParallelBoundsConcurrencyAndMarkers(t *testing.T) {
	defer goleak.VerifyNone(t)

	const maxWorkers = 2

	launcher := newFakeLauncher()
	launcher.delay = 20 * time.Millisecond

	s, store, _ := testSetup(t, 6, launcher)

	var (
		mu         sync.Mutex
		maxMarkers int
	)

	launcher.onWait = func() {
		records, _ := store.List()

		mu.Lock()
		if len(records) > maxMarkers {
			maxMarkers = len(records)
		}
		mu.Unlock()
	}

	batch, err := s.RunParallel(context.Background(), maxWorkers)
	require.NoError(t, err)
	require.Len(t, batch.Chunks, 6)
	assert.True(t, batch.OK())

	assert.LessOrEqual(t, launcher.maxConcurrent(), maxWorkers)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, maxMarkers, maxWorkers, "live markers must never exceed the worker bound")

	requireMarkersEmpty(t, store)
}

func TestRunParallelCancellationSweepsMarkersAndProcesses(t *testing.T) {
	defer goleak.VerifyNone(t)

	launcher := newFakeLauncher()
	launcher.blocking = true

	// onWait fires after the marker is written, so waiting on it guarantees
	// the sweep will see all three markers.
	started := make(chan struct{}, 3)
	launcher.onWait = func() { started <- struct{}{} }

	s, store, _ := testSetup(t, 3, launcher)

	var (
		mu     sync.Mutex
		killed []int
	)

	s.kill = func(_ context.Context, pid int) {
		mu.Lock()
		defer mu.Unlock()

		killed = append(killed, pid)

		if release, ok := launcher.releases[pid]; ok {
			close(release)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type runResult struct {
		batch BatchResult
		err   error
	}

	resCh := make(chan runResult, 1)

	go func() {
		batch, err := s.RunParallel(ctx, 3)
		resCh <- runResult{batch, err}
	}()

	for range 3 {
		<-started
	}

	cancel()

	res := <-resCh
	require.ErrorIs(t, res.err, ErrCancelled)
	require.Len(t, res.batch.Chunks, 3)

	mu.Lock()
	assert.Len(t, killed, 3, "every tracked child receives exactly one termination attempt")
	mu.Unlock()

	requireMarkersEmpty(t, store)
}

func TestRunParallelCancelBeforeDispatchReportsEveryChunk(t *testing.T) {
	defer goleak.VerifyNone(t)

	launcher := newFakeLauncher()
	s, store, _ := testSetup(t, 4, launcher)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch, err := s.RunParallel(ctx, 2)
	require.ErrorIs(t, err, ErrCancelled)
	require.Len(t, batch.Chunks, 4, "every descriptor gets an outcome even when nothing ran")

	for _, c := range batch.Chunks {
		assert.ErrorIs(t, c.Err, ErrCancelled)
	}

	requireMarkersEmpty(t, store)
}

func TestRunEmptyPlan(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, store, _ := testSetup(t, 0, newFakeLauncher())

	batch, err := s.RunSequential(context.Background())
	require.NoError(t, err)
	assert.Empty(t, batch.Chunks)
	assert.True(t, batch.OK())

	requireMarkersEmpty(t, store)
}

func TestSweepRaceWithOrganicExit(t *testing.T) {
	// A worker that exits in the same instant the sweep reads its marker must
	// not fail either side: marker removal is idempotent.
	defer goleak.VerifyNone(t)

	launcher := newFakeLauncher()
	s, store, _ := testSetup(t, 1, launcher)

	require.NoError(t, store.Write(marker.Record{Ordinal: 1, PID: 4242}))

	var killedPIDs []int

	s.kill = func(_ context.Context, pid int) {
		killedPIDs = append(killedPIDs, pid)
		// Simulate the worker exiting organically: its own path removes the
		// marker before the sweep gets to it.
		require.NoError(t, store.Remove(1))
	}

	s.sweep(context.Background())

	assert.Equal(t, []int{4242}, killedPIDs)
	requireMarkersEmpty(t, store)
}

func TestTerminateToleratesDeadProcess(t *testing.T) {
	// PID 1 cannot be signalled by an unprivileged test and very large PIDs
	// do not exist; both paths must come back without panicking.
	terminate(context.Background(), 1<<22-1)
}

func TestResultAggregation(t *testing.T) {
	batch := BatchResult{Chunks: []ChunkResult{
		{Ordinal: 1, ExitCode: 0},
		{Ordinal: 2, ExitCode: 3, Err: errors.New("boom"), LogPath: "logs/chunk_2.log"},
		{Ordinal: 3, ExitCode: 0},
	}}

	assert.False(t, batch.OK())
	require.Len(t, batch.Failed(), 1)

	err := batch.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk 2")
	assert.Contains(t, err.Error(), "logs/chunk_2.log")

	ok := BatchResult{Chunks: []ChunkResult{{Ordinal: 1}}}
	assert.True(t, ok.OK())
	require.NoError(t, ok.Err())
}
