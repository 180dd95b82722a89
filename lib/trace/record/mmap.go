// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package record

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/sys/unix"

	"github.com/rr-project/rr-trace/lib/trace/tracerr"
)

// StatSnapshot is a fixed-size, architecture-independent projection
// of the POSIX stat structure captured for a mapped region. A raw
// byte-cast of unix.Stat_t would tie the on-disk format to the host
// architecture's struct layout (padding, field order, word width);
// this explicit field list keeps the record format stable regardless
// of GOARCH while still drawing the values from a real unix.Stat_t
// via StatSnapshotFromUnix.
type StatSnapshot struct {
	Dev     uint64
	Ino     uint64
	Mode    uint32
	Nlink   uint64
	UID     uint32
	GID     uint32
	Rdev    uint64
	Size    int64
	Blksize int64
	Blocks  int64
	Atime   int64
	Mtime   int64
	Ctime   int64
}

// StatSnapshotSize is the fixed encoded size of a StatSnapshot.
const StatSnapshotSize = 8*4 + 4*3 + 8*6

// StatSnapshotFromUnix converts a live unix.Stat_t (as returned by
// unix.Lstat or unix.Fstat) into the fixed-size on-disk snapshot.
func StatSnapshotFromUnix(st *unix.Stat_t) StatSnapshot {
	return StatSnapshot{
		Dev:     uint64(st.Dev),
		Ino:     st.Ino,
		Mode:    st.Mode,
		Nlink:   uint64(st.Nlink),
		UID:     st.Uid,
		GID:     st.Gid,
		Rdev:    uint64(st.Rdev),
		Size:    st.Size,
		Blksize: int64(st.Blksize),
		Blocks:  st.Blocks,
		Atime:   int64(st.Atim.Sec),
		Mtime:   int64(st.Mtim.Sec),
		Ctime:   int64(st.Ctim.Sec),
	}
}

func (s StatSnapshot) encode(buf *bytes.Buffer) {
	_ = binary.Write(buf, binary.LittleEndian, s.Dev)
	_ = binary.Write(buf, binary.LittleEndian, s.Ino)
	_ = binary.Write(buf, binary.LittleEndian, s.Mode)
	_ = binary.Write(buf, binary.LittleEndian, s.Nlink)
	_ = binary.Write(buf, binary.LittleEndian, s.UID)
	_ = binary.Write(buf, binary.LittleEndian, s.GID)
	_ = binary.Write(buf, binary.LittleEndian, s.Rdev)
	_ = binary.Write(buf, binary.LittleEndian, s.Size)
	_ = binary.Write(buf, binary.LittleEndian, s.Blksize)
	_ = binary.Write(buf, binary.LittleEndian, s.Blocks)
	_ = binary.Write(buf, binary.LittleEndian, s.Atime)
	_ = binary.Write(buf, binary.LittleEndian, s.Mtime)
	_ = binary.Write(buf, binary.LittleEndian, s.Ctime)
}

func decodeStatSnapshot(data []byte) StatSnapshot {
	r := bytes.NewReader(data)
	var s StatSnapshot
	_ = binary.Read(r, binary.LittleEndian, &s.Dev)
	_ = binary.Read(r, binary.LittleEndian, &s.Ino)
	_ = binary.Read(r, binary.LittleEndian, &s.Mode)
	_ = binary.Read(r, binary.LittleEndian, &s.Nlink)
	_ = binary.Read(r, binary.LittleEndian, &s.UID)
	_ = binary.Read(r, binary.LittleEndian, &s.GID)
	_ = binary.Read(r, binary.LittleEndian, &s.Rdev)
	_ = binary.Read(r, binary.LittleEndian, &s.Size)
	_ = binary.Read(r, binary.LittleEndian, &s.Blksize)
	_ = binary.Read(r, binary.LittleEndian, &s.Blocks)
	_ = binary.Read(r, binary.LittleEndian, &s.Atime)
	_ = binary.Read(r, binary.LittleEndian, &s.Mtime)
	_ = binary.Read(r, binary.LittleEndian, &s.Ctime)
	return s
}

// Mmap is metadata for one region mapped by a tracee.
type Mmap struct {
	Time     uint32
	Tid      int32
	Copied   bool
	Filename string
	Stat     StatSnapshot
	Start    uint64
	End      uint64
}

// EncodeMmap appends the packed binary encoding of m to w.
func EncodeMmap(w ByteWriter, m Mmap) error {
	if len(m.Filename) > MaxPathLength {
		return tracerr.Corruptf("filename", "length %d exceeds bound %d", len(m.Filename), MaxPathLength)
	}
	if bytes.IndexByte([]byte(m.Filename), 0) != -1 {
		return tracerr.Corruptf("filename", "contains an embedded NUL byte")
	}

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, m.Time)
	_ = binary.Write(&buf, binary.LittleEndian, m.Tid)
	copied := int32(0)
	if m.Copied {
		copied = 1
	}
	_ = binary.Write(&buf, binary.LittleEndian, copied)

	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(m.Filename)))
	buf.WriteString(m.Filename)

	m.Stat.encode(&buf)

	_ = binary.Write(&buf, binary.LittleEndian, m.Start)
	_ = binary.Write(&buf, binary.LittleEndian, m.End)

	w.Write(buf.Bytes())
	return nil
}

// DecodeMmap reads one mmap record from r.
func DecodeMmap(r ByteReader) (Mmap, error) {
	var m Mmap

	head, err := r.Read(4 + 4 + 4)
	if err != nil {
		return Mmap{}, err
	}
	m.Time = binary.LittleEndian.Uint32(head[0:4])
	m.Tid = int32(binary.LittleEndian.Uint32(head[4:8]))
	m.Copied = binary.LittleEndian.Uint32(head[8:12]) != 0

	lengthBytes, err := r.Read(4)
	if err != nil {
		return Mmap{}, err
	}
	length := binary.LittleEndian.Uint32(lengthBytes)
	if length > MaxPathLength {
		return Mmap{}, tracerr.Corruptf("filename", "length %d exceeds bound %d", length, MaxPathLength)
	}
	nameBytes, err := r.Read(int(length))
	if err != nil {
		return Mmap{}, err
	}
	if bytes.IndexByte(nameBytes, 0) != -1 {
		return Mmap{}, tracerr.Corruptf("filename", "contains an embedded NUL byte")
	}
	m.Filename = string(nameBytes)

	statBytes, err := r.Read(StatSnapshotSize)
	if err != nil {
		return Mmap{}, err
	}
	m.Stat = decodeStatSnapshot(statBytes)

	addrBytes, err := r.Read(16)
	if err != nil {
		return Mmap{}, err
	}
	m.Start = binary.LittleEndian.Uint64(addrBytes[0:8])
	m.End = binary.LittleEndian.Uint64(addrBytes[8:16])

	return m, nil
}
