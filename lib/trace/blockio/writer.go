// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blockio

import (
	"bufio"
	"os"
	"sync"

	"github.com/rr-project/rr-trace/lib/trace/tracerr"
)

// pendingBlock is one buffer of uncompressed bytes waiting for a
// worker to compress it, tagged with its submission order.
type pendingBlock struct {
	seq  uint64
	data []byte
}

// compressedBlock is the result of compressing a pendingBlock. It
// carries the same sequence number so the sequencer can write blocks
// back out in submission order regardless of which worker finished
// first.
type compressedBlock struct {
	seq     uint64
	header  blockHeader
	data    []byte
	errored bool
}

// Writer is an append-only byte sink backed by a sequence of
// independently decompressible, LZ4-compressed blocks. Writes are
// staged into a block-sized buffer; when full, the buffer is handed
// to a pool of compression workers. A single sequencer goroutine
// writes completed blocks to the file in submission order, so the
// byte stream a reader observes always equals the concatenation of
// every Write call in the order it was made, independent of how many
// worker threads compressed the blocks or the order they finished in.
//
// A Writer is not safe for concurrent use by multiple goroutines
// calling Write/Flush/Close; the compression workers it spawns
// internally are its only concurrency.
type Writer struct {
	blockSize int
	threads   int

	file *os.File

	mu       sync.Mutex
	stagingBuf []byte
	nextSeq    uint64
	good       bool
	firstErr   error
	closed     bool

	pending chan pendingBlock
	done    chan struct{}

	seqMu      sync.Mutex
	seqCond    *sync.Cond
	nextWrite  uint64
	waitingFor map[uint64]compressedBlock
	written    uint64 // highest seq fully written to the bufio buffer, +1

	// bufMu guards bufWriter, which is shared between the sequencer
	// goroutine and Flush: Flush must be able to force buffered bytes
	// out to the file without racing a concurrent sequencer write.
	bufMu     sync.Mutex
	bufWriter *bufio.Writer

	uncompressedBytes uint64
	compressedBytes   uint64

	workersWG sync.WaitGroup
}

// NewWriter creates path (truncating any existing file) and starts a
// pool of compressionThreads workers, each capable of compressing one
// block at a time. blockSize is the uncompressed size at which a
// staging buffer is handed off for compression.
func NewWriter(path string, blockSize, compressionThreads int) (*Writer, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	if compressionThreads <= 0 {
		compressionThreads = 1
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, tracerr.IoErrorf(err, "creating %s", path)
	}

	w := &Writer{
		blockSize:  blockSize,
		threads:    compressionThreads,
		file:       file,
		good:       true,
		stagingBuf: make([]byte, 0, blockSize),
		// Backpressure bound from the concurrency model: at most
		// 2 * compression_threads blocks may be in flight (submitted
		// but not yet written) at once.
		pending:    make(chan pendingBlock, 2*compressionThreads),
		done:       make(chan struct{}),
		waitingFor: make(map[uint64]compressedBlock),
		bufWriter:  bufio.NewWriterSize(file, blockSize),
	}
	w.seqCond = sync.NewCond(&w.seqMu)

	results := make(chan compressedBlock, 2*compressionThreads)

	for i := 0; i < compressionThreads; i++ {
		w.workersWG.Add(1)
		go w.compressWorker(results)
	}
	go func() {
		w.workersWG.Wait()
		close(results)
	}()
	go w.sequence(results)

	return w, nil
}

func (w *Writer) compressWorker(results chan<- compressedBlock) {
	defer w.workersWG.Done()
	for block := range w.pending {
		header, payload, err := compressBlock(block.data)
		if err != nil {
			w.recordError(err)
			// Still publish a result so the sequencer's bookkeeping
			// doesn't stall waiting for a sequence number that will
			// never legitimately complete.
			results <- compressedBlock{seq: block.seq, errored: true}
			continue
		}
		results <- compressedBlock{seq: block.seq, header: header, data: payload}
	}
}

// sequence holds out-of-order results in waitingFor until the next
// expected sequence number appears, then writes runs of contiguous
// blocks to bufWriter. It signals seqCond after each write so Flush
// can wait for a target sequence number to reach bufWriter, then
// force those bytes the rest of the way to the file itself.
func (w *Writer) sequence(results <-chan compressedBlock) {
	defer func() {
		close(w.done)
	}()

	for result := range results {
		w.seqMu.Lock()
		w.waitingFor[result.seq] = result
		for next, ok := w.waitingFor[w.nextWrite]; ok; next, ok = w.waitingFor[w.nextWrite] {
			delete(w.waitingFor, w.nextWrite)
			w.seqMu.Unlock()

			if !next.errored {
				w.bufMu.Lock()
				if err := writeBlockHeader(w.bufWriter, next.header); err != nil {
					w.recordError(tracerr.IoErrorf(err, "writing block header"))
				} else if len(next.data) > 0 {
					if _, err := w.bufWriter.Write(next.data); err != nil {
						w.recordError(tracerr.IoErrorf(err, "writing block payload"))
					}
				}
				w.bufMu.Unlock()
			}

			w.seqMu.Lock()
			if !next.errored {
				w.uncompressedBytes += uint64(next.header.uncompressedLength)
				w.compressedBytes += uint64(next.header.compressedLength)
			}
			w.nextWrite++
			w.written = w.nextWrite
			w.seqCond.Broadcast()
		}
		w.seqMu.Unlock()
	}

	w.bufMu.Lock()
	_ = w.bufWriter.Flush()
	w.bufMu.Unlock()
}

func (w *Writer) recordError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.good {
		w.good = false
		w.firstErr = err
	}
}

// Good reports whether the writer has not yet observed an I/O
// failure. Once false, it never becomes true again.
func (w *Writer) Good() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.good
}

// UncompressedBytes returns the total uncompressed size of every
// block written to the file so far.
func (w *Writer) UncompressedBytes() uint64 {
	w.seqMu.Lock()
	defer w.seqMu.Unlock()
	return w.uncompressedBytes
}

// CompressedBytes returns the total on-disk payload size of every
// block written to the file so far (excluding block headers).
func (w *Writer) CompressedBytes() uint64 {
	w.seqMu.Lock()
	defer w.seqMu.Unlock()
	return w.compressedBytes
}

// Write appends data to the stream. Once the writer is not-good,
// Write silently discards its input (per the poisoned-writer
// contract) rather than returning an error on every call; callers
// should check Good (or watch for the error surfaced from Flush or
// Close) to detect the failure.
func (w *Writer) Write(data []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.good {
		return
	}
	for len(data) > 0 {
		room := w.blockSize - len(w.stagingBuf)
		n := len(data)
		if n > room {
			n = room
		}
		w.stagingBuf = append(w.stagingBuf, data[:n]...)
		data = data[n:]

		if len(w.stagingBuf) == w.blockSize {
			w.submitLocked()
		}
	}
}

// submitLocked hands the current staging buffer to the worker pool
// and installs a fresh buffer. Caller must hold w.mu.
func (w *Writer) submitLocked() {
	seq := w.nextSeq
	w.nextSeq++
	buf := w.stagingBuf
	w.stagingBuf = make([]byte, 0, w.blockSize)

	// Block on the bounded pending channel while holding w.mu is
	// intentional back-pressure: a saturated worker pool must stall
	// new Writes, per the suspension-point contract.
	w.pending <- pendingBlock{seq: seq, data: buf}
}

// Flush blocks until every block submitted so far has been written to
// the file: it waits for the sequencer to hand every such block to
// bufWriter, forces bufWriter's buffer out to the file descriptor, and
// only then calls Sync. Skipping the explicit bufWriter.Flush would
// leave recently sequenced blocks sitting in process memory, since
// Sync has no way to flush an in-process buffer it knows nothing
// about.
func (w *Writer) Flush() error {
	w.mu.Lock()
	target := w.nextSeq
	w.mu.Unlock()

	w.seqMu.Lock()
	for w.written < target {
		w.seqCond.Wait()
	}
	w.seqMu.Unlock()

	w.bufMu.Lock()
	if err := w.bufWriter.Flush(); err != nil {
		w.recordError(tracerr.IoErrorf(err, "flushing buffered writer for %s", w.file.Name()))
	}
	w.bufMu.Unlock()

	if err := w.file.Sync(); err != nil {
		w.recordError(tracerr.IoErrorf(err, "syncing %s", w.file.Name()))
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.firstErr
}

// Close flushes the partial tail block (only when it holds at least
// one byte; an empty tail is not emitted), appends the end-of-stream
// sentinel, joins the compression workers, and closes the file.
// Close is idempotent: calling it again after the first call returns
// the same result without re-emitting anything.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		defer w.mu.Unlock()
		return w.firstErr
	}
	w.closed = true
	if w.stagingBuf != nil {
		// A zero-length tail block would be indistinguishable on disk
		// from the end-of-stream sentinel (compressed_length == 0 is
		// reserved for exactly that), so an empty tail is simply
		// skipped rather than emitted — the sentinel alone already
		// communicates "no more data" correctly.
		if len(w.stagingBuf) > 0 {
			w.submitLocked()
		}
		w.stagingBuf = nil
		close(w.pending)
	}
	w.mu.Unlock()

	<-w.done

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.firstErr == nil {
		if err := writeBlockHeader(w.file, endOfStreamHeader); err != nil {
			w.firstErr = tracerr.IoErrorf(err, "writing end-of-stream sentinel")
			w.good = false
		}
	}
	if err := w.file.Close(); err != nil && w.firstErr == nil {
		w.firstErr = tracerr.IoErrorf(err, "closing %s", w.file.Name())
		w.good = false
	}
	w.workersWG.Wait()
	return w.firstErr
}
