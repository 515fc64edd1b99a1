// Copyright (c) seqscale 2026. All rights reserved.
// SPDX-License-Identifier: MIT

package script

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/seqscale/chunkplan/internal/marker"
	"github.com/seqscale/chunkplan/internal/plan"
)

var (
	_ Mode = LocalSequential{}
	_ Mode = LocalParallel{}
)

// DefaultMaxWorkers is the default parallel worker bound: the available CPU
// count minus one, and at least one.
func DefaultMaxWorkers() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		return 1
	}

	return n
}

// LocalSequential renders a script that runs every chunk command in order.
// Each command is spawned in the background, its PID published as a marker,
// waited on, and its marker removed. A failed chunk does not stop later
// chunks.
type LocalSequential struct {
	Layout Layout
}

// Filename implements Mode.
func (m LocalSequential) Filename() string {
	return "process_regions.sh"
}

// Render implements Mode.
func (m LocalSequential) Render(p plan.Plan) (string, error) {
	layout := orDefaultLayout(m.Layout)

	var b strings.Builder

	b.WriteString("#!/bin/bash\n\n")
	fmt.Fprintf(&b, "# Process %d chunks sequentially. A failed chunk does not stop later chunks.\n\n", len(p.Descriptors))
	writePrologue(&b, layout)
	writeRunChunk(&b, layout)

	b.WriteString("failed=0\n\n")

	for _, d := range p.Descriptors {
		fmt.Fprintf(&b, "# Chunk %d\n", d.Ordinal)
		fmt.Fprintf(&b, "run_chunk %d %s || { echo \"chunk %d failed\" >&2; failed=1; }\n\n",
			d.Ordinal, commandWords(d), d.Ordinal)
	}

	b.WriteString("exit \"$failed\"\n")

	return b.String(), nil
}

// LocalParallel renders a concurrency-bounded launcher. It delegates to GNU
// parallel when available and otherwise falls back to a polling bounded
// launcher built on shell job control. Every started command publishes a
// marker before detaching and removes it on completion.
type LocalParallel struct {
	Layout Layout
	// MaxWorkers bounds concurrent chunk commands.
	MaxWorkers int
}

// Filename implements Mode.
func (m LocalParallel) Filename() string {
	return "process_regions.sh"
}

// Render implements Mode.
func (m LocalParallel) Render(p plan.Plan) (string, error) {
	if m.MaxWorkers <= 0 {
		return "", fmt.Errorf("%w: got %d", ErrMaxWorkers, m.MaxWorkers)
	}

	layout := orDefaultLayout(m.Layout)

	var b strings.Builder

	b.WriteString("#!/bin/bash\n\n")
	fmt.Fprintf(&b, "# Process %d chunks with at most %d concurrent workers.\n\n", len(p.Descriptors), m.MaxWorkers)
	fmt.Fprintf(&b, "MAX_WORKERS=%d\n", m.MaxWorkers)
	writePrologue(&b, layout)

	b.WriteString("chunk_jobs=(\n")

	for _, d := range p.Descriptors {
		b.WriteString("\t" + singleQuote(jobLine(layout, d)) + "\n")
	}

	b.WriteString(")\n\n")

	b.WriteString(`if command -v parallel >/dev/null 2>&1; then
	printf '%s\n' "${chunk_jobs[@]}" | parallel --jobs "$MAX_WORKERS"
else
	# Polling bounded launcher: never more than MAX_WORKERS live jobs.
	for job in "${chunk_jobs[@]}"; do
		while [ "$(jobs -rp | wc -l)" -ge "$MAX_WORKERS" ]; do
			sleep 1
		done
		bash -c "$job" &
	done
	wait
fi
`)

	return b.String(), nil
}

// writePrologue emits the marker directory setup and the cleanup handler
// every locally targeted script installs: on interruption or exit, terminate
// every PID with a live marker (tolerating already-exited processes) and
// remove all markers.
func writePrologue(b *strings.Builder, layout Layout) {
	fmt.Fprintf(b, "MARKER_DIR=%s\n", singleQuote(layout.MarkerDir))
	b.WriteString("mkdir -p \"$MARKER_DIR\"\n\n")
	b.WriteString(`cleanup() {
	for f in "$MARKER_DIR"/*` + marker.Suffix + `; do
		[ -e "$f" ] || continue
		kill "$(head -n 1 "$f")" 2>/dev/null || true
		rm -f "$f"
	done
	rm -f "$MARKER_DIR"/*` + marker.Suffix + `.tmp
}
trap cleanup INT TERM EXIT

`)
}

// writeRunChunk emits the per-chunk launcher used by the sequential script:
// background spawn, marker published by write-then-rename, wait, marker
// removal, worker status returned.
func writeRunChunk(b *strings.Builder, _ Layout) {
	b.WriteString(`run_chunk() {
	idx="$1"
	shift
	"$@" &
	pid=$!
	echo "$pid" > "$MARKER_DIR/$idx` + marker.Suffix + `.tmp" && mv "$MARKER_DIR/$idx` + marker.Suffix + `.tmp" "$MARKER_DIR/$idx` + marker.Suffix + `"
	wait "$pid"
	status=$?
	rm -f "$MARKER_DIR/$idx` + marker.Suffix + `"
	return "$status"
}

`)
}

// jobLine builds a self-contained shell command for one chunk, runnable by
// GNU parallel or bash -c: spawn, publish marker, wait, remove marker, exit
// with the worker's status.
func jobLine(layout Layout, d plan.Descriptor) string {
	m := shellquote.Join(markerPath(layout, fmt.Sprintf("%d", d.Ordinal)))
	tmp := shellquote.Join(markerPath(layout, fmt.Sprintf("%d", d.Ordinal)) + ".tmp")

	return fmt.Sprintf(`%s & pid=$!; echo "$pid" > %s && mv %s %s; wait "$pid"; st=$?; rm -f %s; exit "$st"`,
		commandWords(d), tmp, tmp, m, m)
}

func markerPath(layout Layout, key string) string {
	return layout.MarkerDir + "/" + key + marker.Suffix
}

// commandWords serializes a descriptor's structured argument list into
// shell-safe words.
func commandWords(d plan.Descriptor) string {
	return shellquote.Join(append([]string{d.Path}, d.Args...)...)
}

func orDefaultLayout(l Layout) Layout {
	def := DefaultLayout()

	if l.MarkerDir == "" {
		l.MarkerDir = def.MarkerDir
	}

	if l.JobLogDir == "" {
		l.JobLogDir = def.JobLogDir
	}

	return l
}
