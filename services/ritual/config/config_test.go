// Copyright (C) 2025 Whisperboard (dev@whisperboard.net)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8900", cfg.Server.Addr())
	assert.Equal(t, 24*time.Hour, cfg.Storage.StateTTL)
	assert.Equal(t, 100, cfg.Ritual.QueueMaxLen)
	assert.Equal(t, 60*time.Second, cfg.Ritual.HeartbeatTTL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Storage.InMemory)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rituald.yaml")
	data := []byte("server:\n  port: 9100\nstorage:\n  in_memory: true\nlog:\n  level: debug\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.True(t, cfg.Storage.InMemory)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Untouched keys keep their defaults.
	assert.Equal(t, time.Hour, cfg.Ritual.QueueTTL)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("RITUAL_SERVER_PORT", "9200")
	t.Setenv("RITUAL_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Run("bad log level", func(t *testing.T) {
		t.Setenv("RITUAL_LOG_LEVEL", "loud")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("bad port", func(t *testing.T) {
		t.Setenv("RITUAL_SERVER_PORT", "70000")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}
