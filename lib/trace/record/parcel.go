// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package record

import (
	"bytes"
	"encoding/binary"

	"github.com/rr-project/rr-trace/lib/trace/tracerr"
)

// ParcelHeader is the fixed-size metadata written to the data_header
// stream for one raw data parcel; the parcel's bytes themselves live
// at the corresponding position in the data stream, with no length
// prefix of their own — Len here is authoritative.
type ParcelHeader struct {
	GlobalTime uint32
	Event      EncodedEvent
	Addr       uint64
	Len        uint32
}

// EncodeParcelHeader appends the packed binary encoding of h to w
// (the data_header stream).
func EncodeParcelHeader(w ByteWriter, h ParcelHeader) error {
	if h.Len > MaxRawDataLength {
		return tracerr.Corruptf("len", "length %d exceeds sanity limit %d", h.Len, MaxRawDataLength)
	}
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, h.GlobalTime)
	buf.Write(h.Event[:])
	_ = binary.Write(&buf, binary.LittleEndian, h.Addr)
	_ = binary.Write(&buf, binary.LittleEndian, h.Len)
	w.Write(buf.Bytes())
	return nil
}

// DecodeParcelHeader reads one parcel header from r (the data_header
// stream). The caller is responsible for then reading exactly Len
// bytes from the data stream.
func DecodeParcelHeader(r ByteReader) (ParcelHeader, error) {
	head, err := r.Read(4 + EncodedEventSize + 8 + 4)
	if err != nil {
		return ParcelHeader{}, err
	}
	var h ParcelHeader
	h.GlobalTime = binary.LittleEndian.Uint32(head[0:4])
	copy(h.Event[:], head[4:4+EncodedEventSize])
	offset := 4 + EncodedEventSize
	h.Addr = binary.LittleEndian.Uint64(head[offset : offset+8])
	h.Len = binary.LittleEndian.Uint32(head[offset+8 : offset+12])
	if h.Len > MaxRawDataLength {
		return ParcelHeader{}, tracerr.Corruptf("len", "length %d exceeds sanity limit %d", h.Len, MaxRawDataLength)
	}
	return h, nil
}

// Parcel is one captured memory region, logically attached to the
// event frame sharing the same (GlobalTime, Event) pair.
type Parcel struct {
	Data       []byte
	Addr       uint64
	Event      EncodedEvent
	GlobalTime uint32
}

// EncodeParcel writes p's header to headerStream and its bytes to
// dataStream. The two writes are not atomic with respect to each
// other — a failure between them leaves the streams paired
// inconsistently, which is why TraceWriter surfaces such a failure as
// an unrecoverable IoError rather than attempting to unwind it.
func EncodeParcel(headerStream, dataStream ByteWriter, p Parcel) error {
	header := ParcelHeader{
		GlobalTime: p.GlobalTime,
		Event:      p.Event,
		Addr:       p.Addr,
		Len:        uint32(len(p.Data)),
	}
	if err := EncodeParcelHeader(headerStream, header); err != nil {
		return err
	}
	dataStream.Write(p.Data)
	return nil
}

// DecodeParcelForFrame reads the next header from headerStream,
// verifies it matches the given (globalTime, event) pair exactly, and
// then reads that many bytes from dataStream. There is no seeking in
// the data stream: a mismatched header is CorruptTrace, not a search.
func DecodeParcelForFrame(headerStream, dataStream ByteReader, globalTime uint32, event EncodedEvent) (Parcel, error) {
	header, err := DecodeParcelHeader(headerStream)
	if err != nil {
		return Parcel{}, err
	}
	if header.GlobalTime != globalTime || header.Event != event {
		return Parcel{}, tracerr.Corruptf("data_header", "parcel (global_time=%d) does not match requested frame (global_time=%d)", header.GlobalTime, globalTime)
	}

	var data []byte
	if header.Len > 0 {
		data, err = dataStream.Read(int(header.Len))
		if err != nil {
			return Parcel{}, err
		}
	}

	return Parcel{
		Data:       data,
		Addr:       header.Addr,
		Event:      header.Event,
		GlobalTime: header.GlobalTime,
	}, nil
}
