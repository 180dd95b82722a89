// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Command rr-trace-archive bundles a sealed trace directory's files
// into a single zstd-compressed transport archive (.rrtrace.zst).
//
// The archive is a length-prefixed concatenation of the trace's files,
// compressed as one zstd stream. It is a transport convenience only —
// lib/trace.Reader never opens a .rrtrace.zst file directly; an
// archive must be unpacked back into a directory first.
//
//	rr-trace-archive [--level L] [--output PATH] TRACE_DIR
//
// Configuration (compression thread defaults, the archive output
// directory and zstd level) is loaded via lib/traceconfig from
// RR_TRACE_CONFIG or --config; see that package's doc comment.
package main
