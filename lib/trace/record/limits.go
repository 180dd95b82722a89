// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package record implements RecordSerializer: encoders and decoders
// for the four record kinds that make up a trace (event frame, mmap
// region, args/env, raw data parcel). Encoding is packed little-endian
// binary per the normative on-disk layout; decoders validate every
// length and ordering constraint the layout implies and report
// violations as tracerr.CorruptTrace with a field name.
package record

// MaxPathLength bounds the mmap record's filename field, matching the
// PATH_MAX a POSIX filesystem path can never exceed. A path exceeding
// this at write time is CorruptTrace, not silently truncated.
const MaxPathLength = 4096

// MaxRawDataLength bounds a single raw data parcel to guard against a
// corrupt length field forcing an enormous allocation.
const MaxRawDataLength = 16 * 1024 * 1024

// MaxExtraRegistersLength bounds the variable-length extra-registers
// blob for the same reason.
const MaxExtraRegistersLength = 1 * 1024 * 1024

// MaxArgLength and MaxEnvLength bound individual argv/envp strings in
// an args/env record.
const MaxArgLength = 128 * 1024
const MaxEnvLength = 128 * 1024

// MaxArgc and MaxEnvc bound how many argv/envp entries a single
// args/env record may declare, guarding against a corrupt count field
// forcing an enormous read loop.
const MaxArgc = 64 * 1024
const MaxEnvc = 64 * 1024
