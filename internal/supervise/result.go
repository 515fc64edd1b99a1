// Copyright (c) seqscale 2026. All rights reserved.
// SPDX-License-Identifier: MIT

package supervise

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

var (
	// ErrChunkFailed is returned inside a ChunkResult whose worker exited
	// nonzero.
	ErrChunkFailed = errors.New("chunk failed")
	// ErrCancelled is returned by a run that was interrupted before every
	// chunk completed.
	ErrCancelled = errors.New("run cancelled")
)

// ChunkResult is the outcome of one chunk's execution.
type ChunkResult struct {
	// Ordinal is the 1-based chunk index.
	Ordinal int
	// ExitCode is the worker's exit code, or -1 if it never ran cleanly.
	ExitCode int
	// Err is non-nil when the chunk did not succeed.
	Err error
	// LogPath is the chunk's log file.
	LogPath string
	// Duration is how long the worker ran.
	Duration time.Duration
}

// OK reports whether the chunk succeeded.
func (r ChunkResult) OK() bool {
	return r.Err == nil && r.ExitCode == 0
}

// BatchResult is the outcome of a full run: one entry per plan descriptor,
// in ordinal order.
type BatchResult struct {
	Chunks []ChunkResult
}

// OK reports aggregate success: true iff every chunk succeeded.
func (b BatchResult) OK() bool {
	for _, c := range b.Chunks {
		if !c.OK() {
			return false
		}
	}

	return true
}

// Failed returns the results of every failed chunk.
func (b BatchResult) Failed() []ChunkResult {
	var failed []ChunkResult

	for _, c := range b.Chunks {
		if !c.OK() {
			failed = append(failed, c)
		}
	}

	return failed
}

// Err aggregates every failed chunk into one error, or nil when all
// succeeded.
func (b BatchResult) Err() error {
	var err *multierror.Error

	for _, c := range b.Failed() {
		if c.Err != nil {
			err = multierror.Append(err, fmt.Errorf("chunk %d (exit code %d, log %s): %w",
				c.Ordinal, c.ExitCode, c.LogPath, c.Err))
			continue
		}

		err = multierror.Append(err, fmt.Errorf("chunk %d: %w (exit code %d, log %s)",
			c.Ordinal, ErrChunkFailed, c.ExitCode, c.LogPath))
	}

	return err.ErrorOrNil()
}
