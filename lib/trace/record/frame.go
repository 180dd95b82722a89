// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package record

import (
	"bytes"
	"encoding/binary"

	"github.com/rr-project/rr-trace/lib/trace/tracerr"
)

// ByteReader is the minimal shape a stream must provide to be
// decoded: read exactly n bytes, or fail. blockio.Reader satisfies
// this directly.
type ByteReader interface {
	Read(n int) ([]byte, error)
}

// ByteWriter is the minimal shape a stream must provide to receive
// encoded records. blockio.Writer satisfies this directly.
type ByteWriter interface {
	Write(data []byte)
}

// ExecInfo carries the fields present in a frame only when its event
// has exec info: the retired branch count, optional extra hardware
// counters (gated by Capabilities), a fixed-size register snapshot,
// and a variable-length extra-registers blob.
type ExecInfo struct {
	Rbc int64

	// HWInterrupts, PageFaults, and Insts are meaningful only when the
	// trace's Capabilities include CapabilityExtraCounters; encoded on
	// the wire iff that capability bit is set.
	HWInterrupts int64
	PageFaults   int64
	Insts        int64

	RecordedRegs   Registers
	ExtraRegisters []byte
}

// Frame is one recorded event: a syscall, scheduling point, or
// signal. ExecInfo is nil unless Event.HasExecInfo().
type Frame struct {
	GlobalTime uint32
	ThreadTime uint32
	Tid        int32
	Event      EncodedEvent
	ExecInfo   *ExecInfo
}

// EncodeFrame appends the packed binary encoding of f to w.
func EncodeFrame(w ByteWriter, f Frame, caps Capabilities) error {
	var buf bytes.Buffer
	buf.Grow(16 + RegistersSize)

	_ = binary.Write(&buf, binary.LittleEndian, f.GlobalTime)
	_ = binary.Write(&buf, binary.LittleEndian, f.ThreadTime)
	_ = binary.Write(&buf, binary.LittleEndian, f.Tid)
	buf.Write(f.Event[:])

	if f.Event.HasExecInfo() {
		if f.ExecInfo == nil {
			return tracerr.Corruptf("exec_info", "event flags has_exec_info but frame carries no ExecInfo")
		}
		info := f.ExecInfo
		_ = binary.Write(&buf, binary.LittleEndian, info.Rbc)
		if caps.Has(CapabilityExtraCounters) {
			_ = binary.Write(&buf, binary.LittleEndian, info.HWInterrupts)
			_ = binary.Write(&buf, binary.LittleEndian, info.PageFaults)
			_ = binary.Write(&buf, binary.LittleEndian, info.Insts)
		}
		buf.Write(info.RecordedRegs[:])

		if len(info.ExtraRegisters) > MaxExtraRegistersLength {
			return tracerr.Corruptf("extra_registers", "length %d exceeds sanity limit %d", len(info.ExtraRegisters), MaxExtraRegistersLength)
		}
		_ = binary.Write(&buf, binary.LittleEndian, uint32(len(info.ExtraRegisters)))
		buf.Write(info.ExtraRegisters)
	}

	w.Write(buf.Bytes())
	return nil
}

// DecodeFrame reads one frame from r. previousTime is the reader's
// current global-time counter; the decoded frame's GlobalTime must be
// strictly greater. A gapless increment-by-one is Writer's write-side
// precondition, not something the decoder itself enforces.
func DecodeFrame(r ByteReader, caps Capabilities, previousTime uint32) (Frame, error) {
	var f Frame

	head, err := r.Read(4 + 4 + 4 + EncodedEventSize)
	if err != nil {
		return Frame{}, err
	}
	f.GlobalTime = binary.LittleEndian.Uint32(head[0:4])
	f.ThreadTime = binary.LittleEndian.Uint32(head[4:8])
	f.Tid = int32(binary.LittleEndian.Uint32(head[8:12]))
	copy(f.Event[:], head[12:12+EncodedEventSize])

	if f.GlobalTime <= previousTime {
		return Frame{}, tracerr.Corruptf("global_time", "frame global_time %d is not strictly greater than previous %d", f.GlobalTime, previousTime)
	}

	if f.Event.HasExecInfo() {
		info := &ExecInfo{}

		rbcBytes, err := r.Read(8)
		if err != nil {
			return Frame{}, err
		}
		info.Rbc = int64(binary.LittleEndian.Uint64(rbcBytes))

		if caps.Has(CapabilityExtraCounters) {
			extra, err := r.Read(24)
			if err != nil {
				return Frame{}, err
			}
			info.HWInterrupts = int64(binary.LittleEndian.Uint64(extra[0:8]))
			info.PageFaults = int64(binary.LittleEndian.Uint64(extra[8:16]))
			info.Insts = int64(binary.LittleEndian.Uint64(extra[16:24]))
		}

		regs, err := r.Read(RegistersSize)
		if err != nil {
			return Frame{}, err
		}
		copy(info.RecordedRegs[:], regs)

		lengthBytes, err := r.Read(4)
		if err != nil {
			return Frame{}, err
		}
		length := binary.LittleEndian.Uint32(lengthBytes)
		if length > MaxExtraRegistersLength {
			return Frame{}, tracerr.Corruptf("extra_registers", "length %d exceeds sanity limit %d", length, MaxExtraRegistersLength)
		}
		if length > 0 {
			extraRegs, err := r.Read(int(length))
			if err != nil {
				return Frame{}, err
			}
			info.ExtraRegisters = extraRegs
		}

		f.ExecInfo = info
	}

	return f, nil
}
