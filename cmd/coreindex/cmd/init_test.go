package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_WritesConfigAndBuildsIndex(t *testing.T) {
	dir := t.TempDir()
	writeSourceTree(t, dir)
	t.Chdir(dir)

	var buf bytes.Buffer
	cmd := newInitCmd()
	cmd.SetOut(&buf)
	require.NoError(t, cmd.Execute())

	_, err := os.Stat(filepath.Join(dir, ".coreindex.yaml"))
	require.NoError(t, err)
	assert.True(t, indexExists(dir))
}

func TestInit_DoesNotOverwriteExistingConfigWithoutForce(t *testing.T) {
	dir := t.TempDir()
	writeSourceTree(t, dir)
	t.Chdir(dir)

	configPath := filepath.Join(dir, ".coreindex.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("version: 1\ncustom: true\n"), 0o644))

	cmd := newInitCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config-only"})
	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "custom: true")
}

func TestInit_ForceOverwritesExistingConfig(t *testing.T) {
	dir := t.TempDir()
	writeSourceTree(t, dir)
	t.Chdir(dir)

	configPath := filepath.Join(dir, ".coreindex.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("version: 1\ncustom: true\n"), 0o644))

	cmd := newInitCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--force", "--config-only"})
	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "custom: true")
}

func TestInit_ConfigOnly_SkipsIndexBuild(t *testing.T) {
	dir := t.TempDir()
	writeSourceTree(t, dir)
	t.Chdir(dir)

	cmd := newInitCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config-only"})
	require.NoError(t, cmd.Execute())

	assert.False(t, indexExists(dir))
}
