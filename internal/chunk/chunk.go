// Copyright (c) seqscale 2026. All rights reserved.
// SPDX-License-Identifier: MIT

// Package chunk partitions an externally counted set of regions into
// bounded-size chunks.
package chunk

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrChunkSize is returned when the chunk size is not positive.
	ErrChunkSize = errors.New("chunk size must be positive")
	// ErrNegativeTotal is returned when the total region count is negative.
	ErrNegativeTotal = errors.New("total region count must not be negative")
)

// Plan describes how a total region count is split into chunks.
type Plan struct {
	// Total is the number of regions to process.
	Total int
	// Size is the maximum number of regions per chunk.
	Size int
}

// New validates the inputs and returns a Plan.
func New(total, size int) (Plan, error) {
	if size <= 0 {
		return Plan{}, fmt.Errorf("%w: got %d", ErrChunkSize, size)
	}

	if total < 0 {
		return Plan{}, fmt.Errorf("%w: got %d", ErrNegativeTotal, total)
	}

	return Plan{Total: total, Size: size}, nil
}

// Count returns the number of chunks: ceil(Total/Size).
// It is zero if and only if Total is zero.
func (p Plan) Count() int {
	return (p.Total + p.Size - 1) / p.Size
}

// CountRegions counts the newline-terminated regions in a gzip-compressed
// stream, one region per line.
func CountRegions(r io.Reader) (int, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("open gzip stream: %w", err)
	}
	defer zr.Close() //nolint:errcheck

	count := 0
	scanner := bufio.NewScanner(zr)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		count++
	}

	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan regions: %w", err)
	}

	return count, nil
}
