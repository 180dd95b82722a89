// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package traceconfig

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"
)

// Config is the tunable configuration for the rr-trace command-line
// tools. It never governs the on-disk trace format, which is fixed by
// lib/trace.FormatVersion.
type Config struct {
	// CompressionThreads is the default CompressionThreads passed to
	// trace.WriterConfig when a tool records a new trace.
	CompressionThreads int `yaml:"compression_threads"`

	// Archive configures cmd/rr-trace-archive.
	Archive ArchiveConfig `yaml:"archive"`
}

// ArchiveConfig configures the zstd archival bundler.
type ArchiveConfig struct {
	// Level is the zstd compression level, one of "fastest", "default",
	// "better", "best".
	Level string `yaml:"level"`

	// OutputDir is where .rrtrace.zst bundles are written when no
	// explicit output path is given on the command line.
	OutputDir string `yaml:"output_dir"`
}

// Default returns the default configuration. These defaults are used
// as a base before loading the config file; they exist primarily to
// ensure all fields have sensible zero-values, not as a fallback — the
// config file is required by Load.
func Default() *Config {
	return &Config{
		CompressionThreads: 4,
		Archive: ArchiveConfig{
			Level:     "default",
			OutputDir: "${HOME}/.rr/archives",
		},
	}
}

// Load loads configuration from the RR_TRACE_CONFIG environment
// variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults — if RR_TRACE_CONFIG is not set,
// this fails. This ensures deterministic, auditable configuration with
// no hidden overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("RR_TRACE_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("RR_TRACE_CONFIG environment variable not set; " +
			"set it to the path of your rr-trace.yaml config file, or use --config")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. The config
// file is the single source of truth; environment variables do not
// override loaded values. The only expansion performed is ${HOME} and
// similar path variables, for portability of the archive output path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.Archive.OutputDir = expandVars(cfg.Archive.OutputDir, map[string]string{
		"HOME": os.Getenv("HOME"),
	})

	return cfg, nil
}

// varPattern matches ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.CompressionThreads <= 0 {
		errs = append(errs, fmt.Errorf("compression_threads must be positive, got %d", c.CompressionThreads))
	}

	if _, err := c.Archive.ZstdLevel(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ZstdLevel resolves the configured level name to a zstd.EncoderLevel.
func (a ArchiveConfig) ZstdLevel() (zstd.EncoderLevel, error) {
	switch a.Level {
	case "fastest":
		return zstd.SpeedFastest, nil
	case "default", "":
		return zstd.SpeedDefault, nil
	case "better":
		return zstd.SpeedBetterCompression, nil
	case "best":
		return zstd.SpeedBestCompression, nil
	default:
		return 0, fmt.Errorf("archive.level must be one of fastest, default, better, best; got %q", a.Level)
	}
}
