// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for the rr-trace
// command-line tools. Fatal centralizes the raw I/O pattern a run()
// error takes before os.Exit, so every cmd/ binary reports failures
// the same way.
package process
