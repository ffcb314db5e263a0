// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{" error ", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLevelYAML(t *testing.T) {
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte("level: warn\nservice: pqa\n"), &cfg))
	assert.Equal(t, LevelWarn, cfg.Level)
	assert.Equal(t, "pqa", cfg.Service)

	out, err := yaml.Marshal(Config{Level: LevelDebug})
	require.NoError(t, err)
	assert.Contains(t, string(out), "level: debug")

	assert.Error(t, yaml.Unmarshal([]byte("level: loud\n"), &cfg))
	assert.Equal(t, "unknown", Level(42).String())
}

func TestNew_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelWarn, Output: &buf})
	defer l.Close()

	l.Slog().Info("hidden")
	l.Slog().Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_JSONWithService(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{JSON: true, Service: "pqa", Output: &buf})
	defer l.Close()

	l.Slog().Info("hello", "quiz", 7)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "pqa", rec["service"])
	assert.Equal(t, float64(7), rec["quiz"])
}

func TestNew_FileOutput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var buf bytes.Buffer
	l := New(Config{LogDir: dir, Service: "sim", Output: &buf})

	l.Slog().With("component", "test").Info("written to both")
	path := l.FilePath()
	require.NotEmpty(t, path)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "sim_"))
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"written to both"`)
	assert.Contains(t, string(data), `"component":"test"`)
	assert.Contains(t, buf.String(), "written to both")
}

func TestNew_QuietFileOnly(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	l := New(Config{LogDir: dir, Quiet: true, Output: &buf})
	l.Slog().Error("file only")
	require.NoError(t, l.Close())

	assert.Empty(t, buf.String())
	data, err := os.ReadFile(filepath.Join(dir, filepath.Base(l.FilePath())))
	require.NoError(t, err)
	assert.Contains(t, string(data), "file only")
}

func TestNew_BadLogDir(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0600))

	var buf bytes.Buffer
	l := New(Config{LogDir: filepath.Join(blocker, "logs"), Output: &buf})
	defer l.Close()

	assert.Empty(t, l.FilePath())
	assert.Contains(t, buf.String(), "log file disabled")
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "logs"), expandHome("~/logs"))
	assert.Equal(t, "/var/log", expandHome("/var/log"))
	assert.Equal(t, "~user/x", expandHome("~user/x"))
}
