// Copyright (c) seqscale 2026. All rights reserved.
// SPDX-License-Identifier: MIT

// Package chunkplan provides the version and commit information for the chunkplan application.
package chunkplan

var (
	// Version is set during the build process.
	Version = "dev"
	// Commit is set during the build process.
	Commit = "unknown"
)
