// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blockio

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func writeStream(t *testing.T, data []byte, blockSize int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "stream")
	w, err := NewWriter(path, blockSize, 2)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.Write(data)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func TestCloneIsolation(t *testing.T) {
	data := []byte("0123456789abcdef0123456789abcdef")
	path := writeStream(t, data, 8)

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	first, err := r.Read(5)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	clone, err := r.Clone()
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	defer clone.Close()

	// Advance the clone far past what the original has read.
	if _, err := clone.Read(len(data) - 5); err != nil {
		t.Fatalf("clone Read: %v", err)
	}
	if !clone.AtEnd() {
		t.Error("clone should be at end after consuming the rest of the stream")
	}

	// The original must be unaffected by the clone's advancement.
	if r.AtEnd() {
		t.Error("original reader's position must not be affected by clone advancement")
	}
	rest, err := r.Read(len(data) - 5)
	if err != nil {
		t.Fatalf("original Read after clone advanced: %v", err)
	}
	if !bytes.Equal(append(first, rest...), data) {
		t.Error("original reader did not yield the full stream in order")
	}
}

func TestRewindIdempotence(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	path := writeStream(t, data, 16)

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	first, err := r.Read(len(data))
	if err != nil {
		t.Fatalf("first Read: %v", err)
	}

	if err := r.Rewind(); err != nil {
		t.Fatalf("Rewind: %v", err)
	}

	second, err := r.Read(len(data))
	if err != nil {
		t.Fatalf("second Read: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Error("reader should yield the identical sequence after Rewind")
	}
	if !bytes.Equal(first, data) {
		t.Error("reader did not reproduce the written bytes")
	}
}

func TestAtEndOnTruncatedStreamIsConservative(t *testing.T) {
	data := []byte("some data long enough to span a block boundary, perhaps")
	path := writeStream(t, data, 8)

	// Truncate the file mid-stream: no sentinel, possibly mid-block.
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if err := os.Truncate(path, info.Size()-4); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	if r.AtEnd() {
		t.Fatal("a truncated stream must never report AtEnd==true")
	}

	// Eventually a real Read must surface CorruptTrace rather than
	// silently stopping.
	var sawError bool
	for i := 0; i < 16; i++ {
		if _, err := r.Read(8); err != nil {
			sawError = true
			break
		}
	}
	if !sawError {
		t.Fatal("reading through a truncated stream should eventually fail")
	}
}
