// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/pflag"

	"github.com/rr-project/rr-trace/lib/process"
	"github.com/rr-project/rr-trace/lib/trace"
	"github.com/rr-project/rr-trace/lib/traceconfig"
)

// archiveMagic identifies an rr-trace-archive bundle. archiveFormatVersion
// is bumped if the framing below ever changes.
const (
	archiveMagic         = "RRAR"
	archiveFormatVersion = 1
)

// errHelpRequested signals that usage was printed and main should exit
// cleanly, not via process.Fatal.
var errHelpRequested = errors.New("help requested")

func main() {
	if err := run(os.Args); err != nil {
		if err == errHelpRequested {
			return
		}
		process.Fatal(err)
	}
}

func run(argv []string) error {
	flagSet := pflag.NewFlagSet("rr-trace-archive", pflag.ContinueOnError)
	flagSet.SetOutput(os.Stderr)
	configPath := flagSet.String("config", "", "path to the traceconfig file (overrides RR_TRACE_CONFIG)")
	level := flagSet.String("level", "", "zstd level: fastest, default, better, best (overrides config)")
	output := flagSet.String("output", "", "output .rrtrace.zst path (overrides config archive.output_dir)")
	help := flagSet.BoolP("help", "h", false, "show this help message")

	if err := flagSet.Parse(argv[1:]); err != nil {
		if err == pflag.ErrHelp {
			printUsage(flagSet)
			return errHelpRequested
		}
		return err
	}
	if *help {
		printUsage(flagSet)
		return errHelpRequested
	}

	args := flagSet.Args()
	if len(args) != 1 {
		printUsage(flagSet)
		return fmt.Errorf("expected exactly one positional argument naming a trace directory, got %d", len(args))
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *level != "" {
		cfg.Archive.Level = *level
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return archive(args[0], *output, cfg)
}

func printUsage(flagSet *pflag.FlagSet) {
	fmt.Fprintln(os.Stderr, "usage: rr-trace-archive [--level L] [--output PATH] TRACE_DIR")
	fmt.Fprintln(os.Stderr)
	flagSet.PrintDefaults()
}

func loadConfig(explicitPath string) (*traceconfig.Config, error) {
	if explicitPath != "" {
		return traceconfig.LoadFile(explicitPath)
	}
	return traceconfig.Load()
}

// archive validates traceDirArg as a sealed trace, then writes a
// length-prefixed, zstd-compressed bundle of its files to outputPath
// (or a path derived from cfg.Archive.OutputDir when outputPath is
// empty).
func archive(traceDirArg, outputPath string, cfg *traceconfig.Config) error {
	reader, err := trace.Open(traceDirArg, trace.ReaderConfig{})
	if err != nil {
		return fmt.Errorf("opening trace directory: %w", err)
	}
	tracePath := reader.Path()
	reader.Close()

	if outputPath == "" {
		if err := os.MkdirAll(cfg.Archive.OutputDir, 0o755); err != nil {
			return fmt.Errorf("creating archive output directory %s: %w", cfg.Archive.OutputDir, err)
		}
		outputPath = filepath.Join(cfg.Archive.OutputDir, filepath.Base(tracePath)+".rrtrace.zst")
	}

	level, err := cfg.Archive.ZstdLevel()
	if err != nil {
		return err
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating archive file %s: %w", outputPath, err)
	}
	defer out.Close()

	buffered := bufio.NewWriter(out)
	encoder, err := zstd.NewWriter(buffered, zstd.WithEncoderLevel(level))
	if err != nil {
		return fmt.Errorf("constructing zstd encoder: %w", err)
	}

	if err := writeBundle(encoder, tracePath); err != nil {
		encoder.Close()
		return err
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("finalizing zstd stream: %w", err)
	}
	if err := buffered.Flush(); err != nil {
		return fmt.Errorf("flushing archive file: %w", err)
	}

	fmt.Printf("wrote %s\n", outputPath)
	return nil
}

// writeBundle writes the framed file list to w: a 4-byte magic, a
// 1-byte format version, a uint32 file count, then for each file a
// uint16-length name and a uint64-length content blob. File order
// follows trace.FileNames(); the version file is written last so an
// unpacker can treat its presence as confirmation the bundle is
// complete.
func writeBundle(w *zstd.Encoder, tracePath string) error {
	names := trace.FileNames()

	if _, err := w.Write([]byte(archiveMagic)); err != nil {
		return err
	}
	if _, err := w.Write([]byte{archiveFormatVersion}); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(names))); err != nil {
		return err
	}

	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(tracePath, name))
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}
		if err := writeUint16(w, uint16(len(name))); err != nil {
			return err
		}
		if _, err := w.Write([]byte(name)); err != nil {
			return err
		}
		if err := writeUint64(w, uint64(len(data))); err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	return nil
}

func writeUint16(w *zstd.Encoder, v uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeUint32(w *zstd.Encoder, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeUint64(w *zstd.Encoder, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}
