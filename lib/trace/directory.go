// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rr-project/rr-trace/lib/clock"
	"github.com/rr-project/rr-trace/lib/trace/record"
	"github.com/rr-project/rr-trace/lib/trace/tracerr"
)

// FormatVersion is the only version this module can read or write.
// A version file holding any other value fails to open with
// UnsupportedVersion.
const FormatVersion = 1

const (
	eventsBlockSize     = 1 << 20  // 1 MiB
	dataBlockSize       = 8 << 20  // 8 MiB — parcels are large
	dataHeaderBlockSize = 1 << 20  // 1 MiB
	mmapsBlockSize      = 64 << 10 // 64 KiB
)

const (
	versionFileName     = "version"
	argsEnvFileName     = "args_env"
	eventsFileName      = "events"
	dataFileName        = "data"
	dataHeaderFileName  = "data_header"
	mmapsFileName       = "mmaps"
	defaultParentSubdir = ".rr"
)

// directory owns the on-disk layout of one trace: its path and the
// file names within it. Both Writer and Reader embed one.
type directory struct {
	path string
}

func (d *directory) join(name string) string { return filepath.Join(d.path, name) }

// traceParentDir resolves the directory under which trace directories
// are created or looked up by name: the _RR_TRACE_DIR environment
// variable if set, otherwise $HOME/.rr.
func traceParentDir() (string, error) {
	if parent := os.Getenv("_RR_TRACE_DIR"); parent != "" {
		return parent, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", tracerr.IoErrorf(err, "resolving home directory for default trace parent")
	}
	return filepath.Join(home, defaultParentSubdir), nil
}

// createDirectory picks a fresh trace directory name derived from
// exePath's basename plus a uniquifier, and creates it. The
// uniquifier comes from clk so tests can produce deterministic names;
// on a name collision (same basename, same instant) the counter is
// bumped until Mkdir succeeds.
func createDirectory(exePath string, clk clock.Clock) (*directory, error) {
	parent, err := traceParentDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, tracerr.IoErrorf(err, "creating trace parent directory %s", parent)
	}

	base := filepath.Base(exePath)
	if base == "." || base == string(filepath.Separator) || base == "" {
		base = "trace"
	}
	stamp := clk.Now().UnixNano()

	for attempt := 0; ; attempt++ {
		name := fmt.Sprintf("%s-%d", base, stamp)
		if attempt > 0 {
			name = fmt.Sprintf("%s-%d-%d", base, stamp, attempt)
		}
		full := filepath.Join(parent, name)
		if err := os.Mkdir(full, 0o755); err == nil {
			return &directory{path: full}, nil
		} else if !os.IsExist(err) {
			return nil, tracerr.IoErrorf(err, "creating trace directory %s", full)
		}
	}
}

// openDirectory resolves name to a trace directory: an absolute path
// is used as-is, otherwise it is looked up under traceParentDir. It
// does not itself validate the version file; callers do that as part
// of Open.
func openDirectory(name string) (*directory, error) {
	path := name
	if !filepath.IsAbs(path) {
		parent, err := traceParentDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(parent, name)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, tracerr.IoErrorf(err, "opening trace directory %s", path)
	}
	if !info.IsDir() {
		return nil, tracerr.Corruptf("trace_dir", "%s is not a directory", path)
	}
	return &directory{path: path}, nil
}

// writeVersion writes the version file atomically (write-to-temp,
// then rename), sealing the trace: the version file's presence is
// what makes a trace directory complete. caps is encoded as an
// optional second line; when zero, only the
// single-line legacy format is written.
func (d *directory) writeVersion(caps record.Capabilities) error {
	tmp, err := os.CreateTemp(d.path, "."+versionFileName+".tmp-*")
	if err != nil {
		return tracerr.IoErrorf(err, "creating temporary version file in %s", d.path)
	}
	tmpPath := tmp.Name()

	content := strconv.Itoa(FormatVersion) + "\n"
	if caps != 0 {
		content += strconv.Itoa(int(caps)) + "\n"
	}

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return tracerr.IoErrorf(err, "writing temporary version file %s", tmpPath)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return tracerr.IoErrorf(err, "syncing temporary version file %s", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return tracerr.IoErrorf(err, "closing temporary version file %s", tmpPath)
	}
	if err := os.Rename(tmpPath, d.join(versionFileName)); err != nil {
		os.Remove(tmpPath)
		return tracerr.IoErrorf(err, "sealing trace with version file rename in %s", d.path)
	}
	return nil
}

// readVersion parses the version file: a mandatory first line holding
// the decimal format version, and an optional second line holding a
// decimal Capabilities bitmask. A missing file, or a first line not
// equal to FormatVersion, is UnsupportedVersion.
func (d *directory) readVersion() (record.Capabilities, error) {
	file, err := os.Open(d.join(versionFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, tracerr.New(tracerr.UnsupportedVersion, "trace directory has no version file").WithField("version")
		}
		return 0, tracerr.IoErrorf(err, "opening version file in %s", d.path)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		return 0, tracerr.New(tracerr.UnsupportedVersion, "version file is empty").WithField("version")
	}
	version, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil {
		return 0, tracerr.Newf(tracerr.UnsupportedVersion, "version file contents are not a decimal integer: %v", err).WithField("version")
	}
	if version != FormatVersion {
		return 0, tracerr.Newf(tracerr.UnsupportedVersion, "trace format version %d is not supported (want %d)", version, FormatVersion).WithField("version")
	}

	var caps record.Capabilities
	if scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			raw, err := strconv.Atoi(line)
			if err != nil {
				return 0, tracerr.Newf(tracerr.UnsupportedVersion, "capabilities line is not a decimal integer: %v", err).WithField("version")
			}
			caps = record.Capabilities(raw)
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, tracerr.IoErrorf(err, "reading version file in %s", d.path)
	}

	return caps, nil
}

// Path returns the absolute (or as-given) path to the trace directory.
func (d *directory) Path() string { return d.path }

// FileNames returns the canonical set of files that make up a sealed
// trace directory, in the order cmd/rr-trace-archive bundles them.
// version must be read last by any consumer that wants to reject a
// partially-written trace: its presence is what seals the trace.
func FileNames() []string {
	return []string{argsEnvFileName, eventsFileName, dataHeaderFileName, dataFileName, mmapsFileName, versionFileName}
}
