// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/rr-project/rr-trace/lib/trace/blockio"
	"github.com/rr-project/rr-trace/lib/trace/record"
	"github.com/rr-project/rr-trace/lib/trace/tracerr"
)

// ReaderConfig configures a new Reader. The zero value is valid.
type ReaderConfig struct {
	// Logger receives Debug-level block lifecycle messages. Defaults
	// to slog.Default().
	Logger *slog.Logger
}

func (c ReaderConfig) withDefaults() ReaderConfig {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Reader is the replay-side façade over a trace directory. It owns
// four compressed-stream readers plus a cached args/env record, and
// advances its own global-time counter as frames are decoded.
//
// Reader is not safe for concurrent use by multiple goroutines; use
// Clone to obtain an independent reader for concurrent lookahead.
type Reader struct {
	dir    *directory
	config ReaderConfig
	caps   record.Capabilities

	events     *blockio.Reader
	mmaps      *blockio.Reader
	dataHeader *blockio.Reader
	data       *blockio.Reader

	time uint32

	argsEnv       *record.ArgsEnv
	argsEnvCached bool
}

// Open resolves name to a trace directory (an absolute path, or a
// name under $_RR_TRACE_DIR or $HOME/.rr) and opens it for reading,
// verifying the version file first.
func Open(name string, config ReaderConfig) (*Reader, error) {
	config = config.withDefaults()

	dir, err := openDirectory(name)
	if err != nil {
		return nil, err
	}

	caps, err := dir.readVersion()
	if err != nil {
		return nil, err
	}

	events, err := blockio.NewReader(dir.join(eventsFileName))
	if err != nil {
		return nil, err
	}
	mmaps, err := blockio.NewReader(dir.join(mmapsFileName))
	if err != nil {
		events.Close()
		return nil, err
	}
	dataHeader, err := blockio.NewReader(dir.join(dataHeaderFileName))
	if err != nil {
		events.Close()
		mmaps.Close()
		return nil, err
	}
	data, err := blockio.NewReader(dir.join(dataFileName))
	if err != nil {
		events.Close()
		mmaps.Close()
		dataHeader.Close()
		return nil, err
	}

	config.Logger.Debug("trace directory opened", "path", dir.Path())

	return &Reader{
		dir:        dir,
		config:     config,
		caps:       caps,
		events:     events,
		mmaps:      mmaps,
		dataHeader: dataHeader,
		data:       data,
	}, nil
}

// OpenFromArgs implements a standard CLI convention: a single
// positional argument names the trace directory, and `--` terminates
// option parsing. argv[0] is the program name (pflag convention);
// argv[1:] is parsed as flags and positional arguments.
func OpenFromArgs(argv []string, config ReaderConfig) (*Reader, error) {
	flags := pflag.NewFlagSet(progName(argv), pflag.ContinueOnError)
	if err := flags.Parse(argv[1:]); err != nil {
		return nil, tracerr.Newf(tracerr.InvalidState, "parsing arguments: %v", err).WithField("argv")
	}
	positional := flags.Args()
	if len(positional) != 1 {
		return nil, tracerr.Newf(tracerr.InvalidState, "expected exactly one positional argument naming a trace directory, got %d", len(positional)).WithField("argv")
	}
	return Open(positional[0], config)
}

func progName(argv []string) string {
	if len(argv) == 0 {
		return "rr-trace"
	}
	return argv[0]
}

// Path returns the trace directory's path.
func (r *Reader) Path() string { return r.dir.Path() }

// Time returns the global-time value set by the most recently decoded
// frame (0 before the first ReadFrame).
func (r *Reader) Time() uint32 { return r.time }

// Capabilities returns the capability bitmask recorded in the version
// file.
func (r *Reader) Capabilities() record.Capabilities { return r.caps }

// ReadFrame decodes the next frame from the events stream, advancing
// r.Time() to the decoded frame's GlobalTime. Calling ReadFrame once
// the stream is already exhausted is a caller error, not a clean
// boundary: AtEnd exists precisely so a caller never needs to find
// this out by reading past the end, so doing so reports CorruptTrace
// rather than the bare io.EOF a generic byte stream would give.
func (r *Reader) ReadFrame() (record.Frame, error) {
	frame, err := record.DecodeFrame(r.events, r.caps, r.time)
	if err != nil {
		if err == io.EOF {
			return record.Frame{}, tracerr.New(tracerr.CorruptTrace, "read_frame called with no frames remaining").WithField("events")
		}
		return record.Frame{}, err
	}
	r.time = frame.GlobalTime
	return frame, nil
}

// ReadMmap decodes the next mmap record from the mmaps stream.
func (r *Reader) ReadMmap() (record.Mmap, error) {
	return record.DecodeMmap(r.mmaps)
}

// ReadArgsEnv reads and caches the trace's single args/env record.
// Idempotent: subsequent calls return the cached value without
// re-reading the file.
func (r *Reader) ReadArgsEnv() (record.ArgsEnv, error) {
	if r.argsEnvCached {
		return *r.argsEnv, nil
	}

	file, err := os.Open(r.dir.join(argsEnvFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return record.ArgsEnv{}, tracerr.New(tracerr.CorruptTrace, "trace not yet initialized: args_env is missing").WithField("args_env")
		}
		return record.ArgsEnv{}, tracerr.IoErrorf(err, "opening args_env in %s", r.dir.Path())
	}
	defer file.Close()

	source := &directFileReader{file: file}
	a, err := record.DecodeArgsEnv(source)
	if err != nil {
		return record.ArgsEnv{}, err
	}

	r.argsEnv = &a
	r.argsEnvCached = true
	return a, nil
}

// ReadRawDataForFrame reads the next header from data_header, asserts
// it matches frame's (GlobalTime, Event), and reads that many bytes
// from data. A mismatch is CorruptTrace — there is no seeking in the
// data stream.
func (r *Reader) ReadRawDataForFrame(frame record.Frame) (record.Parcel, error) {
	return record.DecodeParcelForFrame(r.dataHeader, r.data, frame.GlobalTime, frame.Event)
}

// PeekFrame clones only the events reader, decodes one frame from the
// clone, and discards the clone. Does not mutate r's state: r.Time()
// is unchanged regardless of what the peeked frame contains.
func (r *Reader) PeekFrame() (record.Frame, error) {
	clone, err := r.events.Clone()
	if err != nil {
		return record.Frame{}, err
	}
	defer clone.Close()

	return record.DecodeFrame(clone, r.caps, r.time)
}

// EventPredicate reports whether a decoded frame matches the criteria
// a PeekTo caller is searching for. The core stays agnostic to event
// semantics: the predicate is supplied by the caller, which knows how
// to decode EncodedEvent into a (tid, event type, state) triple.
type EventPredicate func(record.Frame) bool

// PeekTo clones the events reader and walks the clone forward,
// decoding frames until predicate reports a match. Reaching the end
// of stream before a match is a hard failure — callers must know the
// matching event exists before calling PeekTo.
func (r *Reader) PeekTo(predicate EventPredicate) (record.Frame, error) {
	clone, err := r.events.Clone()
	if err != nil {
		return record.Frame{}, err
	}
	defer clone.Close()

	previousTime := r.time
	for {
		if clone.AtEnd() {
			return record.Frame{}, tracerr.New(tracerr.CorruptTrace, "peek_to reached end of stream without finding a matching frame").WithField("events")
		}
		frame, err := record.DecodeFrame(clone, r.caps, previousTime)
		if err != nil {
			return record.Frame{}, err
		}
		previousTime = frame.GlobalTime
		if predicate(frame) {
			return frame, nil
		}
	}
}

// Clone returns an independent Reader over the same trace directory,
// positioned exactly where r currently is: all four stream readers
// and cached args/env state are duplicated, sharing no mutable state
// with the original.
func (r *Reader) Clone() (*Reader, error) {
	events, err := r.events.Clone()
	if err != nil {
		return nil, err
	}
	mmaps, err := r.mmaps.Clone()
	if err != nil {
		events.Close()
		return nil, err
	}
	dataHeader, err := r.dataHeader.Clone()
	if err != nil {
		events.Close()
		mmaps.Close()
		return nil, err
	}
	data, err := r.data.Clone()
	if err != nil {
		events.Close()
		mmaps.Close()
		dataHeader.Close()
		return nil, err
	}

	clone := &Reader{
		dir:        r.dir,
		config:     r.config,
		caps:       r.caps,
		events:     events,
		mmaps:      mmaps,
		dataHeader: dataHeader,
		data:       data,
		time:       r.time,
	}
	if r.argsEnvCached {
		copied := *r.argsEnv
		clone.argsEnv = &copied
		clone.argsEnvCached = true
	}
	return clone, nil
}

// Rewind resets all four streams to the state immediately after Open
// and resets global time to 0.
func (r *Reader) Rewind() error {
	if err := r.events.Rewind(); err != nil {
		return err
	}
	if err := r.mmaps.Rewind(); err != nil {
		return err
	}
	if err := r.dataHeader.Rewind(); err != nil {
		return err
	}
	if err := r.data.Rewind(); err != nil {
		return err
	}
	r.time = 0
	return nil
}

// AtEnd reports whether the events stream has been fully consumed.
func (r *Reader) AtEnd() bool { return r.events.AtEnd() }

// Close releases the underlying file handles of all four streams.
func (r *Reader) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	record(r.events.Close())
	record(r.mmaps.Close())
	record(r.dataHeader.Close())
	record(r.data.Close())
	return firstErr
}

// directFileReader adapts an *os.File to record.ByteReader for the
// uncompressed args_env file.
type directFileReader struct {
	file *os.File
}

func (d *directFileReader) Read(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.file, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, tracerr.Corruptf("args_env", "file ended before expected field was fully read: %v", err)
		}
		return nil, tracerr.IoErrorf(err, "reading args_env")
	}
	return buf, nil
}
