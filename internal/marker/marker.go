// Copyright (c) seqscale 2026. All rights reserved.
// SPDX-License-Identifier: MIT

// Package marker persists PID marker files, the filesystem record of every
// live chunk worker. Markers give operators visibility into an in-flight
// batch and give the cancellation path the set of processes to terminate.
//
// A marker is written to a temporary name and renamed into place, so a
// concurrent reader never observes a half-written record. Exactly one marker
// may exist per chunk ordinal at a time; the supervisor owns the directory
// for the duration of a run.
package marker

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
)

const (
	// Suffix is the marker file extension, shared with the rendered scripts.
	Suffix = ".pid"
	// tmpSuffix is appended while a marker is being written.
	tmpSuffix = ".tmp"

	timeLayout = time.RFC3339
)

// Record describes one live chunk worker.
type Record struct {
	// Ordinal is the 1-based chunk index that owns the marker.
	Ordinal int
	// PID is the worker's operating system process ID.
	PID int
	// LogPath is the worker's log file, if known.
	LogPath string
	// Started is when the worker was spawned.
	Started time.Time
}

// Store reads and writes markers in a single directory.
type Store struct {
	fs  afero.Fs
	dir string
}

// NewStore creates the marker directory if needed and returns a Store for it.
func NewStore(fs afero.Fs, dir string) (*Store, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create marker directory %s: %w", dir, err)
	}

	return &Store{fs: fs, dir: dir}, nil
}

// Dir returns the marker directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the marker file path for the given ordinal.
func (s *Store) Path(ordinal int) string {
	return filepath.Join(s.dir, strconv.Itoa(ordinal)+Suffix)
}

// Write persists the record atomically: the content goes to a temporary file
// which is then renamed to the final marker name.
func (s *Store) Write(r Record) error {
	content := fmt.Sprintf("%d\n%s\n%s\n", r.PID, r.LogPath, r.Started.Format(timeLayout))
	final := s.Path(r.Ordinal)
	tmp := final + tmpSuffix

	if err := afero.WriteFile(s.fs, tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write marker for chunk %d: %w", r.Ordinal, err)
	}

	if err := s.fs.Rename(tmp, final); err != nil {
		return fmt.Errorf("publish marker for chunk %d: %w", r.Ordinal, err)
	}

	return nil
}

// Remove deletes the marker for the given ordinal. A marker that is already
// gone is not an error: removal races between a worker finishing and the
// cancellation sweep are expected.
func (s *Store) Remove(ordinal int) error {
	err := s.fs.Remove(s.Path(ordinal))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove marker for chunk %d: %w", ordinal, err)
	}

	return nil
}

// List returns a record for every live marker. Malformed files are skipped:
// a sweep must never abort because one marker is unreadable.
func (s *Store) List() ([]Record, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, fmt.Errorf("read marker directory %s: %w", s.dir, err)
	}

	records := make([]Record, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), Suffix) {
			continue
		}

		r, err := s.read(entry.Name())
		if err != nil {
			continue
		}

		records = append(records, r)
	}

	return records, nil
}

func (s *Store) read(name string) (Record, error) {
	ordinal, err := strconv.Atoi(strings.TrimSuffix(name, Suffix))
	if err != nil {
		return Record{}, fmt.Errorf("marker name %s: %w", name, err)
	}

	data, err := afero.ReadFile(s.fs, filepath.Join(s.dir, name))
	if err != nil {
		return Record{}, err
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")

	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return Record{}, fmt.Errorf("marker %s pid: %w", name, err)
	}

	r := Record{Ordinal: ordinal, PID: pid}

	if len(lines) > 1 {
		r.LogPath = lines[1]
	}

	if len(lines) > 2 {
		if t, err := time.Parse(timeLayout, lines[2]); err == nil {
			r.Started = t
		}
	}

	return r, nil
}
