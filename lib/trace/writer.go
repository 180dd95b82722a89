// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"log/slog"
	"os"

	"github.com/rr-project/rr-trace/lib/clock"
	"github.com/rr-project/rr-trace/lib/trace/blockio"
	"github.com/rr-project/rr-trace/lib/trace/record"
	"github.com/rr-project/rr-trace/lib/trace/tracerr"
)

// WriterState names the points in a Writer's lifecycle. Operations
// are only legal from specific source states; calling one from the
// wrong state is InvalidState.
type WriterState int

const (
	// StateFresh is the state immediately after Create: no args_env
	// has been written yet.
	StateFresh WriterState = iota
	// StateArgsEnvWritten means AppendArgsEnv has been called exactly
	// once; AppendFrame may now proceed.
	StateArgsEnvWritten
	// StateRecording means at least one frame has been appended.
	StateRecording
	// StateClosed means Close has completed; no further operations
	// are legal.
	StateClosed
)

func (s WriterState) String() string {
	switch s {
	case StateFresh:
		return "Fresh"
	case StateArgsEnvWritten:
		return "ArgsEnvWritten"
	case StateRecording:
		return "Recording"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// WriterConfig configures a new Writer. The zero value is valid: all
// fields fall back to sane defaults (one compression thread per
// stream, the real wall clock, slog.Default()).
type WriterConfig struct {
	// CompressionThreads is the worker pool size for each of the four
	// compressed streams. Defaults to 1.
	CompressionThreads int

	// Clock supplies Now() for trace-directory naming. Defaults to
	// clock.Real().
	Clock clock.Clock

	// Logger receives Debug-level block lifecycle messages and
	// Warn-level poisoning notices. Defaults to slog.Default().
	Logger *slog.Logger

	// Capabilities controls which optional exec-info fields are
	// encoded into event frames and recorded in the version file.
	Capabilities record.Capabilities
}

func (c WriterConfig) withDefaults() WriterConfig {
	if c.CompressionThreads <= 0 {
		c.CompressionThreads = 1
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Writer is the recording-side façade over a trace directory. It owns
// the trace directory and its four compressed streams, plus the
// uncompressed args_env file, and ticks the trace-wide global time
// counter.
//
// Writer is not safe for concurrent use by multiple goroutines.
type Writer struct {
	dir    *directory
	config WriterConfig

	events     *blockio.Writer
	mmaps      *blockio.Writer
	dataHeader *blockio.Writer
	data       *blockio.Writer

	state WriterState
	time  uint32
}

// Create chooses a trace directory name derived from exePath, creates
// it, and opens the four compressed streams. The version file is not
// written until Close.
func Create(exePath string, config WriterConfig) (*Writer, error) {
	config = config.withDefaults()

	dir, err := createDirectory(exePath, config.Clock)
	if err != nil {
		return nil, err
	}

	events, err := blockio.NewWriter(dir.join(eventsFileName), eventsBlockSize, config.CompressionThreads)
	if err != nil {
		return nil, err
	}
	mmaps, err := blockio.NewWriter(dir.join(mmapsFileName), mmapsBlockSize, config.CompressionThreads)
	if err != nil {
		events.Close()
		return nil, err
	}
	dataHeader, err := blockio.NewWriter(dir.join(dataHeaderFileName), dataHeaderBlockSize, config.CompressionThreads)
	if err != nil {
		events.Close()
		mmaps.Close()
		return nil, err
	}
	data, err := blockio.NewWriter(dir.join(dataFileName), dataBlockSize, config.CompressionThreads)
	if err != nil {
		events.Close()
		mmaps.Close()
		dataHeader.Close()
		return nil, err
	}

	config.Logger.Debug("trace directory created", "path", dir.Path())

	return &Writer{
		dir:        dir,
		config:     config,
		events:     events,
		mmaps:      mmaps,
		dataHeader: dataHeader,
		data:       data,
		state:      StateFresh,
	}, nil
}

// Path returns the trace directory's path.
func (w *Writer) Path() string { return w.dir.Path() }

// Time returns the most recently ticked global-time value (0 before
// the first AppendFrame).
func (w *Writer) Time() uint32 { return w.time }

func (w *Writer) invalidState(op string, want ...WriterState) error {
	return tracerr.Newf(tracerr.InvalidState, "%s is not legal in state %s (want one of %v)", op, w.state, want).WithField("state")
}

// AppendArgsEnv writes a to the uncompressed args_env file. Must be
// called exactly once, before any AppendFrame.
func (w *Writer) AppendArgsEnv(a record.ArgsEnv) error {
	if w.state != StateFresh {
		return w.invalidState("AppendArgsEnv", StateFresh)
	}

	file, err := os.OpenFile(w.dir.join(argsEnvFileName), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return tracerr.IoErrorf(err, "creating args_env in %s", w.dir.Path())
	}
	sink := &directFileWriter{file: file}
	if err := record.EncodeArgsEnv(sink, a); err != nil {
		file.Close()
		return err
	}
	if sink.err != nil {
		file.Close()
		return sink.err
	}
	if err := file.Close(); err != nil {
		return tracerr.IoErrorf(err, "closing args_env in %s", w.dir.Path())
	}

	w.state = StateArgsEnvWritten
	return nil
}

// AppendFrame serializes frame to the events stream and ticks the
// writer's global-time counter. Precondition: frame.GlobalTime ==
// w.Time()+1.
func (w *Writer) AppendFrame(frame record.Frame) error {
	if w.state != StateArgsEnvWritten && w.state != StateRecording {
		return w.invalidState("AppendFrame", StateArgsEnvWritten, StateRecording)
	}
	if frame.GlobalTime != w.time+1 {
		return tracerr.Newf(tracerr.InvalidState, "AppendFrame requires global_time %d, got %d", w.time+1, frame.GlobalTime).WithField("global_time")
	}

	if err := record.EncodeFrame(w.events, frame, w.config.Capabilities); err != nil {
		return err
	}
	if !w.events.Good() {
		w.config.Logger.Warn("events stream poisoned after I/O failure", "path", w.dir.Path())
		return tracerr.New(tracerr.IoError, "events stream is no longer writable").WithField("events")
	}

	w.time = frame.GlobalTime
	w.state = StateRecording
	return nil
}

// AppendMmap serializes record to the mmaps stream. Does not tick
// global time.
func (w *Writer) AppendMmap(m record.Mmap) error {
	if w.state != StateArgsEnvWritten && w.state != StateRecording {
		return w.invalidState("AppendMmap", StateArgsEnvWritten, StateRecording)
	}
	if err := record.EncodeMmap(w.mmaps, m); err != nil {
		return err
	}
	if !w.mmaps.Good() {
		return tracerr.New(tracerr.IoError, "mmaps stream is no longer writable").WithField("mmaps")
	}
	return nil
}

// AppendRawData serializes p's metadata to data_header and its bytes
// to data. The two writes are not atomic with each other; a failure
// partway through leaves the trace unreadable, surfaced as IoError.
func (w *Writer) AppendRawData(p record.Parcel) error {
	if w.state != StateArgsEnvWritten && w.state != StateRecording {
		return w.invalidState("AppendRawData", StateArgsEnvWritten, StateRecording)
	}
	if err := record.EncodeParcel(w.dataHeader, w.data, p); err != nil {
		return err
	}
	if !w.dataHeader.Good() || !w.data.Good() {
		return tracerr.New(tracerr.IoError, "data/data_header stream is no longer writable").WithField("data")
	}
	return nil
}

// UncompressedBytes returns the total uncompressed size of every
// block written so far, summed across all four compressed streams.
func (w *Writer) UncompressedBytes() uint64 {
	return w.events.UncompressedBytes() + w.mmaps.UncompressedBytes() +
		w.dataHeader.UncompressedBytes() + w.data.UncompressedBytes()
}

// CompressedBytes returns the total on-disk payload size of every
// block written so far, summed across all four compressed streams.
func (w *Writer) CompressedBytes() uint64 {
	return w.events.CompressedBytes() + w.mmaps.CompressedBytes() +
		w.dataHeader.CompressedBytes() + w.data.CompressedBytes()
}

// Close flushes and closes all four streams, then seals the trace by
// writing the version file. Idempotent: calling Close again after a
// successful close is a no-op: returns no error.
func (w *Writer) Close() error {
	if w.state == StateClosed {
		return nil
	}

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(w.events.Close())
	record(w.mmaps.Close())
	record(w.dataHeader.Close())
	record(w.data.Close())

	if firstErr == nil {
		record(w.dir.writeVersion(w.config.Capabilities))
	}

	w.state = StateClosed
	if firstErr != nil {
		w.config.Logger.Warn("trace close observed an error", "path", w.dir.Path(), "error", firstErr)
	} else {
		w.config.Logger.Debug("trace sealed", "path", w.dir.Path())
	}
	return firstErr
}

// directFileWriter adapts an *os.File to record.ByteWriter for the
// args_env file, which is not block-compressed. Write never returns
// an error directly (matching blockio.Writer's poisoned-writer
// contract); the first failure is latched in err and surfaced by the
// caller after the encode pass completes.
type directFileWriter struct {
	file *os.File
	err  error
}

func (d *directFileWriter) Write(data []byte) {
	if d.err != nil {
		return
	}
	if _, err := d.file.Write(data); err != nil {
		d.err = tracerr.IoErrorf(err, "writing args_env")
	}
}
