// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package traceconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.CompressionThreads != 4 {
		t.Errorf("CompressionThreads = %d, want 4", cfg.CompressionThreads)
	}
	if cfg.Archive.Level != "default" {
		t.Errorf("Archive.Level = %q, want %q", cfg.Archive.Level, "default")
	}
}

func TestLoadRequiresEnvVar(t *testing.T) {
	orig := os.Getenv("RR_TRACE_CONFIG")
	defer os.Setenv("RR_TRACE_CONFIG", orig)
	os.Unsetenv("RR_TRACE_CONFIG")

	if _, err := Load(); err == nil {
		t.Fatal("Load() with RR_TRACE_CONFIG unset = nil error, want failure")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rr-trace.yaml")

	content := "compression_threads: 8\narchive:\n  level: best\n  output_dir: /custom/archives\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.CompressionThreads != 8 {
		t.Errorf("CompressionThreads = %d, want 8", cfg.CompressionThreads)
	}
	if cfg.Archive.Level != "best" {
		t.Errorf("Archive.Level = %q, want %q", cfg.Archive.Level, "best")
	}
	if cfg.Archive.OutputDir != "/custom/archives" {
		t.Errorf("Archive.OutputDir = %q, want %q", cfg.Archive.OutputDir, "/custom/archives")
	}
}

func TestLoadFileExpandsHome(t *testing.T) {
	origHome := os.Getenv("HOME")
	defer os.Setenv("HOME", origHome)
	os.Setenv("HOME", "/home/tester")

	dir := t.TempDir()
	path := filepath.Join(dir, "rr-trace.yaml")
	if err := os.WriteFile(path, []byte("compression_threads: 2\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	want := "/home/tester/.rr/archives"
	if cfg.Archive.OutputDir != want {
		t.Errorf("Archive.OutputDir = %q, want %q", cfg.Archive.OutputDir, want)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid default", func(c *Config) {}, false},
		{"zero threads", func(c *Config) { c.CompressionThreads = 0 }, true},
		{"negative threads", func(c *Config) { c.CompressionThreads = -1 }, true},
		{"bad level", func(c *Config) { c.Archive.Level = "ludicrous" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestZstdLevel(t *testing.T) {
	for _, name := range []string{"fastest", "default", "better", "best", ""} {
		a := ArchiveConfig{Level: name}
		if _, err := a.ZstdLevel(); err != nil {
			t.Errorf("ZstdLevel() for %q: %v", name, err)
		}
	}
	if _, err := (ArchiveConfig{Level: "nonsense"}).ZstdLevel(); err == nil {
		t.Error("ZstdLevel() for invalid name = nil error, want failure")
	}
}
