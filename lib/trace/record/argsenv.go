// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package record

import (
	"bytes"
	"encoding/binary"

	"github.com/rr-project/rr-trace/lib/trace/tracerr"
)

// ArgsEnv is written exactly once, at trace start: the tracee's
// executable path, working directory, argv (argv[0] is the program
// name), envp ("KEY=VALUE" strings), and a scheduling hint.
type ArgsEnv struct {
	ExeImage   string
	Cwd        string
	Argv       []string
	Envp       []string
	BindToCPU  int32 // -1 means unbound
}

func encodeLengthPrefixedString(buf *bytes.Buffer, s string) {
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	buf.WriteString(s)
}

func decodeLengthPrefixedString(r ByteReader, field string, maxLength int) (string, error) {
	lengthBytes, err := r.Read(4)
	if err != nil {
		return "", err
	}
	length := binary.LittleEndian.Uint32(lengthBytes)
	if maxLength > 0 && int(length) > maxLength {
		return "", tracerr.Corruptf(field, "length %d exceeds bound %d", length, maxLength)
	}
	if length == 0 {
		return "", nil
	}
	data, err := r.Read(int(length))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// EncodeArgsEnv appends the packed binary encoding of a to w.
func EncodeArgsEnv(w ByteWriter, a ArgsEnv) error {
	if len(a.Argv) > MaxArgc {
		return tracerr.Corruptf("argc", "count %d exceeds sanity limit %d", len(a.Argv), MaxArgc)
	}
	if len(a.Envp) > MaxEnvc {
		return tracerr.Corruptf("envc", "count %d exceeds sanity limit %d", len(a.Envp), MaxEnvc)
	}

	var buf bytes.Buffer
	encodeLengthPrefixedString(&buf, a.ExeImage)
	encodeLengthPrefixedString(&buf, a.Cwd)
	_ = binary.Write(&buf, binary.LittleEndian, a.BindToCPU)

	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(a.Argv)))
	for _, arg := range a.Argv {
		if len(arg) > MaxArgLength {
			return tracerr.Corruptf("argv", "entry length %d exceeds bound %d", len(arg), MaxArgLength)
		}
		encodeLengthPrefixedString(&buf, arg)
	}

	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(a.Envp)))
	for _, env := range a.Envp {
		if len(env) > MaxEnvLength {
			return tracerr.Corruptf("envp", "entry length %d exceeds bound %d", len(env), MaxEnvLength)
		}
		encodeLengthPrefixedString(&buf, env)
	}

	w.Write(buf.Bytes())
	return nil
}

// DecodeArgsEnv reads one args/env record from r.
func DecodeArgsEnv(r ByteReader) (ArgsEnv, error) {
	var a ArgsEnv

	exeImage, err := decodeLengthPrefixedString(r, "exe_image", MaxPathLength)
	if err != nil {
		return ArgsEnv{}, err
	}
	a.ExeImage = exeImage

	cwd, err := decodeLengthPrefixedString(r, "cwd", MaxPathLength)
	if err != nil {
		return ArgsEnv{}, err
	}
	a.Cwd = cwd

	bindBytes, err := r.Read(4)
	if err != nil {
		return ArgsEnv{}, err
	}
	a.BindToCPU = int32(binary.LittleEndian.Uint32(bindBytes))

	argcBytes, err := r.Read(4)
	if err != nil {
		return ArgsEnv{}, err
	}
	argc := binary.LittleEndian.Uint32(argcBytes)
	if argc > MaxArgc {
		return ArgsEnv{}, tracerr.Corruptf("argc", "count %d exceeds sanity limit %d", argc, MaxArgc)
	}
	a.Argv = make([]string, argc)
	for i := range a.Argv {
		arg, err := decodeLengthPrefixedString(r, "argv", MaxArgLength)
		if err != nil {
			return ArgsEnv{}, err
		}
		a.Argv[i] = arg
	}

	envcBytes, err := r.Read(4)
	if err != nil {
		return ArgsEnv{}, err
	}
	envc := binary.LittleEndian.Uint32(envcBytes)
	if envc > MaxEnvc {
		return ArgsEnv{}, tracerr.Corruptf("envc", "count %d exceeds sanity limit %d", envc, MaxEnvc)
	}
	a.Envp = make([]string, envc)
	for i := range a.Envp {
		env, err := decodeLengthPrefixedString(r, "envp", MaxEnvLength)
		if err != nil {
			return ArgsEnv{}, err
		}
		a.Envp[i] = env
	}

	return a, nil
}
