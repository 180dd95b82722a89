// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"os"
	"testing"
	"time"

	"github.com/rr-project/rr-trace/lib/clock"
	"github.com/rr-project/rr-trace/lib/trace/record"
	"github.com/rr-project/rr-trace/lib/trace/tracerr"
)

// withTraceDir points _RR_TRACE_DIR at a fresh temp directory for the
// duration of one test and restores the previous value afterward.
func withTraceDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old, hadOld := os.LookupEnv("_RR_TRACE_DIR")
	os.Setenv("_RR_TRACE_DIR", dir)
	t.Cleanup(func() {
		if hadOld {
			os.Setenv("_RR_TRACE_DIR", old)
		} else {
			os.Unsetenv("_RR_TRACE_DIR")
		}
	})
	return dir
}

func sampleArgsEnv() record.ArgsEnv {
	return record.ArgsEnv{
		ExeImage:  "/bin/true",
		Cwd:       "/tmp",
		Argv:      []string{"true"},
		Envp:      nil,
		BindToCPU: -1,
	}
}

// TestEmptyTraceRoundTrip checks that a sealed but otherwise empty trace
// opens cleanly and immediately reports end of stream.
func TestEmptyTraceRoundTrip(t *testing.T) {
	withTraceDir(t)

	w, err := Create("/bin/true", WriterConfig{Clock: clock.Fake(time.Unix(0, 0))})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.AppendArgsEnv(sampleArgsEnv()); err != nil {
		t.Fatalf("AppendArgsEnv: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := Open(w.Path(), ReaderConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	got, err := r.ReadArgsEnv()
	if err != nil {
		t.Fatalf("ReadArgsEnv: %v", err)
	}
	if got.ExeImage != "/bin/true" || got.Cwd != "/tmp" || len(got.Argv) != 1 || got.Argv[0] != "true" || got.BindToCPU != -1 {
		t.Errorf("ReadArgsEnv = %+v", got)
	}
	if !r.AtEnd() {
		t.Error("AtEnd() = false on an empty events stream, want true")
	}
	if _, err := r.ReadFrame(); !tracerr.IsCorrupt(err) {
		t.Errorf("ReadFrame on empty stream = %v, want CorruptTrace", err)
	}
}

// TestSingleFrameRoundTrip checks that one written frame decodes back
// unchanged.
func TestSingleFrameRoundTrip(t *testing.T) {
	withTraceDir(t)

	w, err := Create("/bin/true", WriterConfig{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.AppendArgsEnv(sampleArgsEnv()); err != nil {
		t.Fatalf("AppendArgsEnv: %v", err)
	}
	frame := record.Frame{GlobalTime: 1, ThreadTime: 1, Tid: 42, Event: record.EncodedEvent{0x00}}
	if err := w.AppendFrame(frame); err != nil {
		t.Fatalf("AppendFrame: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := Open(w.Path(), ReaderConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	r.ReadArgsEnv()

	got, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got != frame {
		t.Errorf("ReadFrame = %+v, want %+v", got, frame)
	}
	if r.Time() != 1 {
		t.Errorf("Time() = %d, want 1", r.Time())
	}
	if !r.AtEnd() {
		t.Error("AtEnd() = false after consuming the only frame, want true")
	}
}

// TestDataParcelPairing checks that a raw data parcel written
// alongside a frame reads back paired with that same frame.
func TestDataParcelPairing(t *testing.T) {
	withTraceDir(t)

	w, err := Create("/bin/true", WriterConfig{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.AppendArgsEnv(sampleArgsEnv()); err != nil {
		t.Fatalf("AppendArgsEnv: %v", err)
	}
	event := record.EncodedEvent{0x00}
	frame := record.Frame{GlobalTime: 1, Tid: 1, Event: event}
	if err := w.AppendFrame(frame); err != nil {
		t.Fatalf("AppendFrame: %v", err)
	}
	parcel := record.Parcel{Data: []byte{0xDE, 0xAD, 0xBE, 0xEF}, Addr: 0x1000, Event: event, GlobalTime: 1}
	if err := w.AppendRawData(parcel); err != nil {
		t.Fatalf("AppendRawData: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := Open(w.Path(), ReaderConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	gotFrame, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	gotParcel, err := r.ReadRawDataForFrame(gotFrame)
	if err != nil {
		t.Fatalf("ReadRawDataForFrame: %v", err)
	}
	if string(gotParcel.Data) != string(parcel.Data) {
		t.Errorf("ReadRawDataForFrame data = %v, want %v", gotParcel.Data, parcel.Data)
	}
}

// TestDataParcelMismatchIsCorrupt checks that reading raw data for a
// frame whose (global_time, event) doesn't match the next data_header
// entry is CorruptTrace.
func TestDataParcelMismatchIsCorrupt(t *testing.T) {
	withTraceDir(t)

	w, err := Create("/bin/true", WriterConfig{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.AppendArgsEnv(sampleArgsEnv()); err != nil {
		t.Fatalf("AppendArgsEnv: %v", err)
	}
	event := record.EncodedEvent{0x00}
	if err := w.AppendFrame(record.Frame{GlobalTime: 1, Event: event}); err != nil {
		t.Fatalf("AppendFrame: %v", err)
	}
	if err := w.AppendRawData(record.Parcel{Data: []byte{1, 2, 3}, Event: event, GlobalTime: 1}); err != nil {
		t.Fatalf("AppendRawData: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := Open(w.Path(), ReaderConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	gotFrame, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	mismatched := gotFrame
	mismatched.GlobalTime = 99
	if _, err := r.ReadRawDataForFrame(mismatched); !tracerr.IsCorrupt(err) {
		t.Errorf("ReadRawDataForFrame with mismatched frame = %v, want CorruptTrace", err)
	}
}

// TestPeekThenRead checks that PeekFrame does not disturb the
// reader's own position or global-time counter.
func TestPeekThenRead(t *testing.T) {
	withTraceDir(t)

	w, err := Create("/bin/true", WriterConfig{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.AppendArgsEnv(sampleArgsEnv()); err != nil {
		t.Fatalf("AppendArgsEnv: %v", err)
	}
	for gt := uint32(1); gt <= 3; gt++ {
		if err := w.AppendFrame(record.Frame{GlobalTime: gt, Event: record.EncodedEvent{0x00}}); err != nil {
			t.Fatalf("AppendFrame(%d): %v", gt, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := Open(w.Path(), ReaderConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	peeked, err := r.PeekFrame()
	if err != nil {
		t.Fatalf("PeekFrame: %v", err)
	}
	if peeked.GlobalTime != 1 {
		t.Errorf("PeekFrame.GlobalTime = %d, want 1", peeked.GlobalTime)
	}
	if r.Time() != 0 {
		t.Errorf("Time() after PeekFrame = %d, want 0 (unchanged)", r.Time())
	}

	read, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if read.GlobalTime != 1 || r.Time() != 1 {
		t.Errorf("ReadFrame/Time after first read = %+v / %d, want gt=1 time=1", read, r.Time())
	}

	peeked2, err := r.PeekFrame()
	if err != nil {
		t.Fatalf("PeekFrame second: %v", err)
	}
	if peeked2.GlobalTime != 2 {
		t.Errorf("second PeekFrame.GlobalTime = %d, want 2", peeked2.GlobalTime)
	}
	if r.Time() != 1 {
		t.Errorf("Time() after second PeekFrame = %d, want 1 (unchanged)", r.Time())
	}

	clone, err := r.Clone()
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	defer clone.Close()

	if _, err := clone.ReadFrame(); err != nil {
		t.Fatalf("clone ReadFrame 1: %v", err)
	}
	if _, err := clone.ReadFrame(); err != nil {
		t.Fatalf("clone ReadFrame 2: %v", err)
	}
	if clone.Time() != 3 {
		t.Errorf("clone.Time() = %d, want 3", clone.Time())
	}
	if r.Time() != 1 {
		t.Errorf("original r.Time() after advancing clone = %d, want 1 (unaffected)", r.Time())
	}
}

// TestCorruptionDetection checks that a trace whose events stream is
// truncated mid-block still opens successfully (the version file is
// intact), but the first ReadFrame fails.
func TestCorruptionDetection(t *testing.T) {
	withTraceDir(t)

	w, err := Create("/bin/true", WriterConfig{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.AppendArgsEnv(sampleArgsEnv()); err != nil {
		t.Fatalf("AppendArgsEnv: %v", err)
	}
	if err := w.AppendFrame(record.Frame{GlobalTime: 1, Event: record.EncodedEvent{0x00}}); err != nil {
		t.Fatalf("AppendFrame: %v", err)
	}
	path := w.Path()
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	eventsPath := path + "/events"
	info, err := os.Stat(eventsPath)
	if err != nil {
		t.Fatalf("stat events: %v", err)
	}
	// Cut past the trailing 8-byte end-of-stream sentinel and into the
	// one real block's payload, so the reader hits the truncated-
	// mid-payload path rather than a truncated sentinel header.
	const cut = 10
	if info.Size() < cut+4 {
		t.Fatalf("events file too small to truncate meaningfully: %d bytes", info.Size())
	}
	if err := os.Truncate(eventsPath, info.Size()-cut); err != nil {
		t.Fatalf("truncate events: %v", err)
	}

	r, err := Open(path, ReaderConfig{})
	if err != nil {
		t.Fatalf("Open should succeed despite truncated events: %v", err)
	}
	defer r.Close()

	if _, err := r.ReadFrame(); !tracerr.IsCorrupt(err) {
		t.Errorf("ReadFrame on truncated events = %v, want CorruptTrace", err)
	}
}

// TestCapabilitiesRoundTripThroughVersionFile exercises the resolved
// extra-hardware-counters open question: a Writer with
// CapabilityExtraCounters set records it in the version file, and a
// Reader that opens the sealed trace recovers the same bitmask and
// decodes the extra counters back out correctly.
func TestCapabilitiesRoundTripThroughVersionFile(t *testing.T) {
	withTraceDir(t)

	w, err := Create("/bin/true", WriterConfig{Capabilities: record.CapabilityExtraCounters})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.AppendArgsEnv(sampleArgsEnv()); err != nil {
		t.Fatalf("AppendArgsEnv: %v", err)
	}
	frame := record.Frame{
		GlobalTime: 1,
		Event:      record.EncodedEvent{0x01},
		ExecInfo:   &record.ExecInfo{Rbc: 10, HWInterrupts: 1, PageFaults: 2, Insts: 3},
	}
	if err := w.AppendFrame(frame); err != nil {
		t.Fatalf("AppendFrame: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := Open(w.Path(), ReaderConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if r.Capabilities() != record.CapabilityExtraCounters {
		t.Fatalf("Capabilities() = %v, want CapabilityExtraCounters", r.Capabilities())
	}

	got, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.ExecInfo.HWInterrupts != 1 || got.ExecInfo.PageFaults != 2 || got.ExecInfo.Insts != 3 {
		t.Errorf("ExecInfo = %+v, extra counters lost across version-file round trip", got.ExecInfo)
	}
}

// TestRewindIdempotence checks that Rewind resets all four streams and
// the global-time counter back to the state immediately after Open.
func TestRewindIdempotence(t *testing.T) {
	withTraceDir(t)

	w, err := Create("/bin/true", WriterConfig{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.AppendArgsEnv(sampleArgsEnv()); err != nil {
		t.Fatalf("AppendArgsEnv: %v", err)
	}
	for gt := uint32(1); gt <= 3; gt++ {
		if err := w.AppendFrame(record.Frame{GlobalTime: gt, Event: record.EncodedEvent{0x00}}); err != nil {
			t.Fatalf("AppendFrame(%d): %v", gt, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := Open(w.Path(), ReaderConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	var first []uint32
	for !r.AtEnd() {
		f, err := r.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		first = append(first, f.GlobalTime)
	}

	if err := r.Rewind(); err != nil {
		t.Fatalf("Rewind: %v", err)
	}
	if r.Time() != 0 {
		t.Errorf("Time() after Rewind = %d, want 0", r.Time())
	}

	var second []uint32
	for !r.AtEnd() {
		f, err := r.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame after rewind: %v", err)
		}
		second = append(second, f.GlobalTime)
	}

	if len(first) != len(second) {
		t.Fatalf("frame count differs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("frame %d differs after rewind: %d vs %d", i, first[i], second[i])
		}
	}
}

// TestAppendFrameRejectsNonMonotonicTime verifies the write-side
// precondition that frame.GlobalTime must equal writer.Time()+1, a
// strictly gapless sequence.
func TestAppendFrameRejectsNonMonotonicTime(t *testing.T) {
	withTraceDir(t)

	w, err := Create("/bin/true", WriterConfig{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer w.Close()

	if err := w.AppendArgsEnv(sampleArgsEnv()); err != nil {
		t.Fatalf("AppendArgsEnv: %v", err)
	}
	if err := w.AppendFrame(record.Frame{GlobalTime: 2, Event: record.EncodedEvent{0x00}}); !tracerr.IsInvalidState(err) {
		t.Errorf("AppendFrame with global_time=2 before any frame = %v, want InvalidState", err)
	}
}

// TestWriterStateMachineRejectsOutOfOrderOperations verifies
// AppendFrame cannot precede AppendArgsEnv.
func TestWriterStateMachineRejectsOutOfOrderOperations(t *testing.T) {
	withTraceDir(t)

	w, err := Create("/bin/true", WriterConfig{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer w.Close()

	err = w.AppendFrame(record.Frame{GlobalTime: 1, Event: record.EncodedEvent{0x00}})
	if !tracerr.IsInvalidState(err) {
		t.Errorf("AppendFrame before AppendArgsEnv = %v, want InvalidState", err)
	}
}

// TestOpenUnsupportedVersionIsRejected covers the version-check
// precondition in TraceReader.Open.
func TestOpenUnsupportedVersionIsRejected(t *testing.T) {
	dir := withTraceDir(t)
	traceDir := dir + "/bogus-trace"
	if err := os.MkdirAll(traceDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(traceDir+"/version", []byte("999\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Open(traceDir, ReaderConfig{}); !tracerr.IsUnsupportedVersion(err) {
		t.Errorf("Open with version=999 = %v, want UnsupportedVersion", err)
	}
}

func TestOpenFromArgsParsesSinglePositionalArgument(t *testing.T) {
	withTraceDir(t)

	w, err := Create("/bin/open-from-args", WriterConfig{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.AppendArgsEnv(sampleArgsEnv()); err != nil {
		t.Fatalf("AppendArgsEnv: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := OpenFromArgs([]string{"rr-trace-dump", w.Path()}, ReaderConfig{})
	if err != nil {
		t.Fatalf("OpenFromArgs: %v", err)
	}
	defer r.Close()
	if r.Path() != w.Path() {
		t.Errorf("OpenFromArgs opened %s, want %s", r.Path(), w.Path())
	}
}

func TestOpenFromArgsRejectsWrongArgCount(t *testing.T) {
	withTraceDir(t)

	if _, err := OpenFromArgs([]string{"rr-trace-dump"}, ReaderConfig{}); !tracerr.Is(err, tracerr.InvalidState) {
		t.Errorf("OpenFromArgs with no positional args = %v, want InvalidState", err)
	}
	if _, err := OpenFromArgs([]string{"rr-trace-dump", "a", "b"}, ReaderConfig{}); !tracerr.Is(err, tracerr.InvalidState) {
		t.Errorf("OpenFromArgs with two positional args = %v, want InvalidState", err)
	}
}

func TestFileNamesCoversEveryFileWrittenByCreate(t *testing.T) {
	dir := withTraceDir(t)

	w, err := Create("/bin/file-names", WriterConfig{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.AppendArgsEnv(sampleArgsEnv()); err != nil {
		t.Fatalf("AppendArgsEnv: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := os.ReadDir(w.Path())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	names := FileNames()
	if len(names) != len(entries) {
		t.Errorf("FileNames() has %d entries, trace directory %s has %d", len(names), dir, len(entries))
	}
	for _, entry := range entries {
		found := false
		for _, name := range names {
			if name == entry.Name() {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("FileNames() is missing %q", entry.Name())
		}
	}
}
