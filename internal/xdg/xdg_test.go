// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package xdg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDir_EnvVar(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	got, err := ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, "/custom/config/passport", got)
}

func TestConfigDir_Default(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "/home/testuser")
	got, err := ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, "/home/testuser/.config/passport", got)
}

func TestDefaultConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	got, err := DefaultConfigFile()
	require.NoError(t, err)
	assert.Equal(t, "/custom/config/passport/passport.yaml", got)
}

func TestFindConfigFile(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", t.TempDir())
		got, err := FindConfigFile()
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("present file", func(t *testing.T) {
		base := t.TempDir()
		t.Setenv("XDG_CONFIG_HOME", base)
		dir := filepath.Join(base, "passport")
		require.NoError(t, os.MkdirAll(dir, 0o700))
		path := filepath.Join(dir, "passport.yaml")
		require.NoError(t, os.WriteFile(path, []byte("log:\n  format: text\n"), 0o600))

		got, err := FindConfigFile()
		require.NoError(t, err)
		assert.Equal(t, path, got)
	})
}
