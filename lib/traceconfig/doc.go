// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package traceconfig provides configuration loading for the rr-trace
// command-line tools.
//
// Configuration is loaded from a single file specified by:
//   - RR_TRACE_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
//
// Only non-normative tunables live here: compression thread counts and
// the archive tool's zstd level and output directory. The on-disk
// trace format itself is fixed by lib/trace.FormatVersion and never
// configurable.
package traceconfig
