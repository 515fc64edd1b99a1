// Copyright (c) seqscale 2026. All rights reserved.
// SPDX-License-Identifier: MIT

// Package supervise runs an execution plan directly: it spawns the chunk
// workers itself, sequentially or with a bounded worker pool, tracking every
// live child with a PID marker and sweeping markers and processes on
// cancellation.
//
// The marker lifecycle is strict: a marker is written the instant a child is
// spawned and removed the instant it is known to have exited or been
// terminated, on every exit path. The filesystem, not in-memory state, is the
// coordination surface, so the cancellation sweep and an organically exiting
// worker may race on the same marker; removal is idempotent on both sides.
package supervise

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/seqscale/chunkplan/internal/ctxlog"
	"github.com/seqscale/chunkplan/internal/marker"
	"github.com/seqscale/chunkplan/internal/plan"
)

const (
	logTimeFormat   = time.RFC3339
	openAppendFlags = os.O_CREATE | os.O_APPEND | os.O_WRONLY
)

// Supervisor executes a plan's descriptors as child processes.
type Supervisor struct {
	plan     plan.Plan
	markers  *marker.Store
	logDir   string
	fs       afero.Fs
	launcher Launcher
	kill     func(ctx context.Context, pid int) // injectable for tests
}

// New returns a Supervisor over the given plan. Markers are kept in store;
// each chunk's output is redirected to a log file under logDir on fs.
func New(p plan.Plan, store *marker.Store, fs afero.Fs, logDir string, launcher Launcher) (*Supervisor, error) {
	if err := fs.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", logDir, err)
	}

	return &Supervisor{
		plan:     p,
		markers:  store,
		logDir:   logDir,
		fs:       fs,
		launcher: launcher,
		kill:     terminate,
	}, nil
}

// RunSequential executes the plan one chunk at a time, continuing past
// failures. It returns ErrCancelled if interrupted before completion.
func (s *Supervisor) RunSequential(ctx context.Context) (BatchResult, error) {
	return s.run(ctx, 1)
}

// RunParallel executes the plan with at most maxWorkers concurrent children.
// It returns ErrCancelled if interrupted before completion.
func (s *Supervisor) RunParallel(ctx context.Context, maxWorkers int) (BatchResult, error) {
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	return s.run(ctx, maxWorkers)
}

func (s *Supervisor) run(ctx context.Context, maxWorkers int) (BatchResult, error) {
	logger := ctxlog.Logger(ctx)
	logger.Info("starting batch", "chunks", len(s.plan.Descriptors), "maxWorkers", maxWorkers)

	// The cancellation watcher is installed before any child starts. The
	// sweep runs exactly once, whether triggered here or on the return path.
	var sweepOnce sync.Once

	done := make(chan struct{})
	defer close(done)

	watcherDone := make(chan struct{})

	go func() {
		defer close(watcherDone)

		select {
		case <-ctx.Done():
			sweepOnce.Do(func() { s.sweep(ctx) })
		case <-done:
		}
	}()

	queue := make(chan plan.Descriptor)
	results := make(chan ChunkResult, len(s.plan.Descriptors))

	go func() {
		defer close(queue)

		for i, d := range s.plan.Descriptors {
			select {
			case queue <- d:
			case <-ctx.Done():
				// Chunks never handed to a worker are reported as cancelled.
				for _, rest := range s.plan.Descriptors[i:] {
					results <- ChunkResult{
						Ordinal:  rest.Ordinal,
						ExitCode: -1,
						Err:      ErrCancelled,
						LogPath:  s.logPath(rest.Ordinal),
					}
				}

				return
			}
		}
	}()

	var wg sync.WaitGroup

	for range maxWorkers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for d := range queue {
				if ctx.Err() != nil {
					results <- ChunkResult{
						Ordinal:  d.Ordinal,
						ExitCode: -1,
						Err:      ErrCancelled,
						LogPath:  s.logPath(d.Ordinal),
					}

					continue
				}

				results <- s.runOne(ctx, d)
			}
		}()
	}

	wg.Wait()
	close(results)

	batch := BatchResult{Chunks: make([]ChunkResult, 0, len(s.plan.Descriptors))}
	for r := range results {
		batch.Chunks = append(batch.Chunks, r)
	}

	sort.Slice(batch.Chunks, func(i, j int) bool {
		return batch.Chunks[i].Ordinal < batch.Chunks[j].Ordinal
	})

	if ctx.Err() != nil {
		// Make sure the sweep has completed before returning, even if the
		// watcher is still mid-sweep: Once.Do blocks until the first call
		// finishes.
		sweepOnce.Do(func() { s.sweep(ctx) })
		<-watcherDone

		logger.Warn("batch cancelled", "completed", len(batch.Chunks)-len(batch.Failed()))

		return batch, ErrCancelled
	}

	logger.Info("batch finished", "chunks", len(batch.Chunks), "failed", len(batch.Failed()), "ok", batch.OK())

	return batch, nil
}

// runOne executes a single chunk: spawn, write marker, wait, append the log
// footer, remove marker. The marker is removed on every exit path.
func (s *Supervisor) runOne(ctx context.Context, d plan.Descriptor) ChunkResult {
	logPath := s.logPath(d.Ordinal)
	started := time.Now()

	res := ChunkResult{Ordinal: d.Ordinal, LogPath: logPath}

	handle, err := s.launcher.Start(ctx, d, logPath)
	if err != nil {
		res.ExitCode = -1
		res.Err = err

		return res
	}

	if err := s.markers.Write(marker.Record{
		Ordinal: d.Ordinal,
		PID:     handle.PID(),
		LogPath: logPath,
		Started: started,
	}); err != nil {
		// The worker is already running; losing the marker costs operator
		// visibility, not correctness of this chunk.
		ctxlog.Warn(ctx, "failed to write marker", "chunk", d.Ordinal, "error", err)
	}

	code, err := handle.Wait()
	res.ExitCode = code
	res.Duration = time.Since(started)

	if rmErr := s.markers.Remove(d.Ordinal); rmErr != nil {
		ctxlog.Warn(ctx, "failed to remove marker", "chunk", d.Ordinal, "error", rmErr)
	}

	s.appendLogFooter(ctx, logPath, code, res.Duration)

	switch {
	case err != nil:
		res.Err = err
	case code != 0:
		res.Err = fmt.Errorf("%w: exit code %d", ErrChunkFailed, code)
	}

	return res
}

// sweep terminates every process with a live marker and removes all markers.
// It is best-effort: individual failures are logged, never escalated.
func (s *Supervisor) sweep(ctx context.Context) {
	ctxlog.Info(ctx, "cancellation sweep: terminating tracked workers")

	records, err := s.markers.List()
	if err != nil {
		ctxlog.Error(ctx, "cancellation sweep: cannot list markers", "error", err)
		return
	}

	for _, r := range records {
		s.kill(ctx, r.PID)

		if err := s.markers.Remove(r.Ordinal); err != nil {
			ctxlog.Warn(ctx, "cancellation sweep: cannot remove marker", "chunk", r.Ordinal, "error", err)
		}
	}
}

func (s *Supervisor) logPath(ordinal int) string {
	return filepath.Join(s.logDir, fmt.Sprintf("chunk_%d.log", ordinal))
}

func (s *Supervisor) appendLogFooter(ctx context.Context, logPath string, exitCode int, d time.Duration) {
	footer := fmt.Sprintf("=== finished at %s, exit code %d, after %s ===\n",
		time.Now().Format(logTimeFormat), exitCode, d.Round(time.Millisecond))

	f, err := s.fs.OpenFile(logPath, openAppendFlags, 0o644)
	if err != nil {
		ctxlog.Warn(ctx, "failed to append log footer", "log", logPath, "error", err)
		return
	}

	defer f.Close() //nolint:errcheck

	if _, err := f.WriteString(footer); err != nil {
		ctxlog.Warn(ctx, "failed to append log footer", "log", logPath, "error", err)
	}
}
