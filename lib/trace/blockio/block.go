// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package blockio implements the block-framed compression primitive
// that underlies every stream file in a trace directory
// (events, data, data_header, mmaps): CompressedWriter appends bytes
// as a sequence of independently decompressible blocks compressed on
// a background worker pool, and CompressedReader consumes that
// sequence with peek/clone/rewind support for the replay engine's
// speculative lookahead.
//
// The on-disk block format (format version 1) is:
//
//	u32 compressed_length    (little-endian, excludes this header)
//	u32 uncompressed_length  (little-endian)
//	bytes[compressed_length] payload
//
// compressed_length == 0 is the end-of-stream sentinel.
// compressed_length == uncompressed_length signals that payload is
// stored raw (the compressor determined the block was incompressible)
// rather than LZ4-encoded; this needs no extra flag byte because the
// two lengths already carry the information.
package blockio

import (
	"encoding/binary"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/rr-project/rr-trace/lib/trace/tracerr"
)

// blockHeaderSize is the size in bytes of one block's on-disk header.
const blockHeaderSize = 8

// DefaultBlockSize is used by callers that don't have a
// component-specific size in mind. TraceWriter overrides this per
// stream (see the block-size constants in lib/trace/directory.go).
const DefaultBlockSize = 1 << 20 // 1 MiB

// blockHeader is the decoded form of one block's 8-byte header.
type blockHeader struct {
	compressedLength   uint32
	uncompressedLength uint32
}

// endOfStreamHeader is the sentinel header written by Close.
var endOfStreamHeader = blockHeader{compressedLength: 0, uncompressedLength: 0}

func (h blockHeader) isEndOfStream() bool { return h.compressedLength == 0 }

// isStoredRaw reports whether the block payload is stored uncompressed
// (the compressor determined the data was incompressible).
func (h blockHeader) isStoredRaw() bool {
	return h.compressedLength == h.uncompressedLength
}

func writeBlockHeader(w io.Writer, h blockHeader) error {
	var buf [blockHeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], h.compressedLength)
	binary.LittleEndian.PutUint32(buf[4:8], h.uncompressedLength)
	_, err := w.Write(buf[:])
	return err
}

// readBlockHeader reads one block header from r. io.EOF is returned
// unmodified when r has no more bytes at all (a well-formed stream
// always ends with an explicit sentinel header, so a bare io.EOF here
// means the file was truncated before the sentinel was written).
func readBlockHeader(r io.Reader) (blockHeader, error) {
	var buf [blockHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return blockHeader{}, err
	}
	return blockHeader{
		compressedLength:   binary.LittleEndian.Uint32(buf[0:4]),
		uncompressedLength: binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}

// compressBlock compresses data with LZ4 block-mode compression. If
// LZ4 cannot shrink the data (common for already-random or very small
// inputs), the block is stored raw: the caller can tell by comparing
// the two lengths in the returned header.
func compressBlock(data []byte) (blockHeader, []byte, error) {
	uncompressedLength := len(data)
	bound := lz4.CompressBlockBound(uncompressedLength)
	dest := make([]byte, bound)

	written, err := lz4.CompressBlock(data, dest, nil)
	if err != nil {
		return blockHeader{}, nil, tracerr.Wrap(tracerr.IoError, "lz4 block compression failed", err)
	}

	if written == 0 || written >= uncompressedLength {
		// Incompressible (or empty): store raw. compressed_length ==
		// uncompressed_length signals this to the reader.
		return blockHeader{
			compressedLength:   uint32(uncompressedLength),
			uncompressedLength: uint32(uncompressedLength),
		}, data, nil
	}

	return blockHeader{
		compressedLength:   uint32(written),
		uncompressedLength: uint32(uncompressedLength),
	}, dest[:written], nil
}

// decompressBlock reverses compressBlock given the block's header and
// raw payload bytes.
func decompressBlock(h blockHeader, payload []byte) ([]byte, error) {
	if h.isStoredRaw() {
		if uint32(len(payload)) != h.uncompressedLength {
			return nil, tracerr.Corruptf("block", "stored-raw block has %d bytes, header declares %d", len(payload), h.uncompressedLength)
		}
		return payload, nil
	}

	dest := make([]byte, h.uncompressedLength)
	n, err := lz4.UncompressBlock(payload, dest)
	if err != nil {
		return nil, tracerr.Wrap(tracerr.CorruptTrace, "lz4 block decompression failed", err)
	}
	if uint32(n) != h.uncompressedLength {
		return nil, tracerr.Corruptf("block", "decompressed %d bytes, header declares %d", n, h.uncompressedLength)
	}
	return dest, nil
}
