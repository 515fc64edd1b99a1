// Copyright (c) seqscale 2026. All rights reserved.
// SPDX-License-Identifier: MIT

// Package signalbroker provides a way to listen for OS signals and handle
// them gracefully. By default it listens for syscall.SIGINT, syscall.SIGTERM
// and syscall.SIGQUIT.
//
// It also contains a watchdog function: the first termination signal cancels
// a context, cueing the supervisor to sweep markers and terminate its
// workers; a second signal of the same type gives up on orderly shutdown and
// exits immediately.
package signalbroker

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/seqscale/chunkplan/internal/ctxlog"
)

var termSignals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
	syscall.SIGQUIT,
	os.Interrupt,
}

// exitFn is swapped out in tests.
var exitFn = os.Exit

// New creates a signal channel subscribed to the signals that should
// terminate the process. If no signals are given, the default termination
// set is used.
func New(ctx context.Context, sigs ...os.Signal) chan os.Signal {
	ch := make(chan os.Signal, 1)

	if len(sigs) == 0 {
		sigs = termSignals
	}

	ctxlog.Debug(ctx, "signalbroker", "detail", "creating signal broker", "signals", sigs)
	signal.Notify(ch, sigs...)

	return ch
}

// Watch monitors the signal channel. The first signal of a given type
// cancels the context; a second signal of the same type exits the process
// immediately with a nonzero status.
func Watch(ctx context.Context, sigCh chan os.Signal, cancel context.CancelFunc) {
	seen := make(map[os.Signal]struct{})

	for sig := range sigCh {
		if _, ok := seen[sig]; ok {
			ctxlog.Logger(ctx).Error("watchdog", "detail", "received second signal of type, exiting immediately", "signal", sig.String())
			exitFn(1)

			return
		}

		seen[sig] = struct{}{}

		ctxlog.Logger(ctx).Info("watchdog", "detail", "received signal, cancelling run", "signal", sig.String())
		cancel()
	}
}
