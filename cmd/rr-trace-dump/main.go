// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/rr-project/rr-trace/lib/process"
	"github.com/rr-project/rr-trace/lib/trace"
	"github.com/rr-project/rr-trace/lib/trace/record"
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
	flagSet := pflag.NewFlagSet("rr-trace-dump", pflag.ContinueOnError)
	flagSet.SetOutput(os.Stderr)
	dumpMmaps := flagSet.Bool("mmaps", false, "dump the mmaps stream instead of events")
	dumpArgsEnv := flagSet.Bool("args-env", false, "dump the args/env record and exit")
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

	reader, err := trace.Open(args[0], trace.ReaderConfig{})
	if err != nil {
		return err
	}
	defer reader.Close()

	switch {
	case *dumpArgsEnv:
		return dumpArgsEnvRecord(reader)
	case *dumpMmaps:
		return dumpMmapStream(reader)
	default:
		return dumpFrames(reader)
	}
}

func printUsage(flagSet *pflag.FlagSet) {
	fmt.Fprintln(os.Stderr, "usage: rr-trace-dump [--mmaps | --args-env] TRACE_DIR")
	fmt.Fprintln(os.Stderr)
	flagSet.PrintDefaults()
}

func dumpFrames(r *trace.Reader) error {
	for !r.AtEnd() {
		frame, err := r.ReadFrame()
		if err != nil {
			return err
		}
		printFrame(frame)
	}
	return nil
}

func printFrame(f record.Frame) {
	if f.ExecInfo == nil {
		fmt.Printf("frame time=%d thread_time=%d tid=%d\n", f.GlobalTime, f.ThreadTime, f.Tid)
		return
	}
	fmt.Printf("frame time=%d thread_time=%d tid=%d rbc=%d extra_registers=%dB\n",
		f.GlobalTime, f.ThreadTime, f.Tid, f.ExecInfo.Rbc, len(f.ExecInfo.ExtraRegisters))
}

func dumpMmapStream(r *trace.Reader) error {
	for {
		m, err := r.ReadMmap()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		fmt.Printf("mmap time=%d tid=%d copied=%t start=%#x end=%#x %s\n",
			m.Time, m.Tid, m.Copied, m.Start, m.End, m.Filename)
	}
}

func dumpArgsEnvRecord(r *trace.Reader) error {
	a, err := r.ReadArgsEnv()
	if err != nil {
		return err
	}
	fmt.Printf("exe_image: %s\n", a.ExeImage)
	fmt.Printf("cwd: %s\n", a.Cwd)
	if a.BindToCPU >= 0 {
		fmt.Printf("bind_to_cpu: %d\n", a.BindToCPU)
	} else {
		fmt.Println("bind_to_cpu: unbound")
	}
	fmt.Printf("argv (%d):\n", len(a.Argv))
	for i, arg := range a.Argv {
		fmt.Printf("  [%d] %s\n", i, arg)
	}
	fmt.Printf("envp (%d):\n", len(a.Envp))
	for _, env := range a.Envp {
		fmt.Printf("  %s\n", env)
	}
	return nil
}
