package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildIndexInCWD(t *testing.T, dir string) {
	t.Helper()
	writeSourceTree(t, dir)
	t.Chdir(dir)

	cmd := newIndexBuildCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"."})
	require.NoError(t, cmd.Execute())
}

func TestSearch_NoIndex_Errors(t *testing.T) {
	t.Chdir(t.TempDir())

	cmd := newSearchCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"greet"})
	assert.Error(t, cmd.Execute())
}

func TestSearch_TextFormat_FindsMatch(t *testing.T) {
	dir := t.TempDir()
	buildIndexInCWD(t, dir)

	var buf bytes.Buffer
	cmd := newSearchCmd()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"Greet"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "main.go")
}

func TestSearch_JSONFormat_IsValidJSON(t *testing.T) {
	dir := t.TempDir()
	buildIndexInCWD(t, dir)

	var buf bytes.Buffer
	cmd := newSearchCmd()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--format", "json", "Greet"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), `"filepath"`)
}

func TestSearch_NoResults_ReportsCleanly(t *testing.T) {
	dir := t.TempDir()
	buildIndexInCWD(t, dir)

	var buf bytes.Buffer
	cmd := newSearchCmd()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"zzzznonexistentzzzz"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "No results found")
}

func TestSearch_BM25Only_SkipsFuzzyAndSemantic(t *testing.T) {
	dir := t.TempDir()
	buildIndexInCWD(t, dir)

	var buf bytes.Buffer
	cmd := newSearchCmd()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--bm25-only", "Greet"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "main.go")
}

func TestSearch_LanguageFilter_ExcludesNonMatching(t *testing.T) {
	dir := t.TempDir()
	buildIndexInCWD(t, dir)

	var buf bytes.Buffer
	cmd := newSearchCmd()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--language", "python", "Greet"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "No results found")
}
