// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package trace is the user-visible façade over a recorded execution
// trace: Writer ticks global time and appends frames, mmaps,
// args/env, and raw data parcels to a trace directory; Reader replays
// the same directory, advancing its own global-time counter from
// frame contents and supporting peek/clone/rewind for a replayer's
// speculative lookahead.
//
// A trace directory holds six files: a plaintext version file, an
// uncompressed args_env file written exactly once, and four
// compressed-block streams (events, data, data_header, mmaps) built
// on lib/trace/blockio. Record encoding is handled by
// lib/trace/record. Neither Writer nor Reader is safe for concurrent
// use by multiple goroutines; each instance is owned by a single
// caller, matching the ptrace recorder/replayer's single-threaded
// control loop.
package trace
