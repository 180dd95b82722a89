// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blockio

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rr-project/rr-trace/lib/trace/tracerr"
)

// Reader is a byte source that decodes the block stream written by
// Writer. It supports Clone (an independent snapshot used for
// speculative lookahead) and Rewind (reset to the state immediately
// after Open). A Reader is not safe for concurrent use; distinct
// clones may be used concurrently with each other and with the
// original.
type Reader struct {
	path string
	file *os.File

	// tail holds the decompressed bytes of the most recently decoded
	// block that have not yet been consumed by Read; pos is the
	// cursor into tail.
	tail []byte
	pos  int

	ended bool
}

// NewReader opens path for reading. The file must have been produced
// by Writer (or be a well-formed block stream ending in the
// end-of-stream sentinel).
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, tracerr.IoErrorf(err, "opening %s", path)
	}
	return &Reader{path: path, file: file}, nil
}

// Read returns exactly n bytes, unless the stream ends first — in
// which case it returns however many bytes were available (possibly
// zero) along with io.EOF. A block that is truncated mid-payload (the
// file ends before compressed_length bytes have been read) is always
// CorruptTrace, never treated as a short read.
func (r *Reader) Read(n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		if r.pos >= len(r.tail) {
			if err := r.loadNextBlock(); err != nil {
				return nil, err
			}
			if r.ended {
				if len(out) == 0 {
					return nil, io.EOF
				}
				return out, io.EOF
			}
		}
		take := len(r.tail) - r.pos
		if remaining := n - len(out); take > remaining {
			take = remaining
		}
		out = append(out, r.tail[r.pos:r.pos+take]...)
		r.pos += take
	}
	return out, nil
}

// AtEnd reports whether the read cursor has consumed every byte of
// the last block before the end-of-stream sentinel. This may need to
// load the next block from the file; if that fails (for example on a
// truncated stream), AtEnd reports false and the error is left for the
// next Read to return.
func (r *Reader) AtEnd() bool {
	if r.pos < len(r.tail) {
		return false
	}
	if r.ended {
		return true
	}
	// loadNextBlock's errors are not surfaced here: AtEnd is a
	// best-effort predicate, and any structural problem it encounters
	// will be raised properly by the next real Read call. Treating an
	// unreadable stream as "not at end" is conservative and correct:
	// it never hides a corruption from a subsequent Read.
	if err := r.loadNextBlock(); err != nil {
		return false
	}
	return r.ended
}

// loadNextBlock decodes the next block into r.tail, or sets r.ended
// if the sentinel was reached. No-op if tail still has unread bytes.
func (r *Reader) loadNextBlock() error {
	if r.pos < len(r.tail) {
		return nil
	}

	header, err := readBlockHeader(r.file)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return tracerr.Corruptf(filepath.Base(r.path), "stream ended without end-of-stream sentinel")
		}
		return tracerr.IoErrorf(err, "reading block header from %s", r.path)
	}

	if header.isEndOfStream() {
		r.ended = true
		r.tail = nil
		r.pos = 0
		return nil
	}

	payload := make([]byte, header.compressedLength)
	if _, err := io.ReadFull(r.file, payload); err != nil {
		return tracerr.Corruptf("block", "truncated block payload: %v", err)
	}

	data, err := decompressBlock(header, payload)
	if err != nil {
		return err
	}

	r.tail = data
	r.pos = 0
	return nil
}

// Clone returns an independent Reader over the same file, positioned
// exactly where this Reader currently is. Advancing the clone never
// affects the original, and vice versa — each owns its own file
// handle and decoded-buffer arena.
func (r *Reader) Clone() (*Reader, error) {
	file, err := os.Open(r.path)
	if err != nil {
		return nil, tracerr.IoErrorf(err, "cloning reader for %s", r.path)
	}

	offset, err := r.file.Seek(0, io.SeekCurrent)
	if err != nil {
		file.Close()
		return nil, tracerr.IoErrorf(err, "determining read position in %s", r.path)
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		file.Close()
		return nil, tracerr.IoErrorf(err, "seeking clone of %s", r.path)
	}

	tailCopy := make([]byte, len(r.tail))
	copy(tailCopy, r.tail)

	return &Reader{
		path:  r.path,
		file:  file,
		tail:  tailCopy,
		pos:   r.pos,
		ended: r.ended,
	}, nil
}

// Rewind resets the reader to the state immediately after Open: file
// position and tail buffer both reset to the start of the stream.
func (r *Reader) Rewind() error {
	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return tracerr.IoErrorf(err, "rewinding %s", r.path)
	}
	r.tail = nil
	r.pos = 0
	r.ended = false
	return nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	if err := r.file.Close(); err != nil {
		return tracerr.IoErrorf(err, "closing %s", r.path)
	}
	return nil
}
