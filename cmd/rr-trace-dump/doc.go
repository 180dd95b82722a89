// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Command rr-trace-dump prints the contents of a trace directory as
// line-oriented text: frames, mmaps, or the args/env record.
//
// It is a supplemental consumer of lib/trace, not part of the core
// storage subsystem — a concrete stand-in for the library-only CLI
// surface the trace format itself stays silent on.
//
//	rr-trace-dump [--mmaps | --args-env] TRACE_DIR
package main
