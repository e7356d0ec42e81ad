package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymbolDefinition_NoIndex_Errors(t *testing.T) {
	t.Chdir(t.TempDir())

	cmd := newSymbolDefinitionCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"Greet"})
	assert.Error(t, cmd.Execute())
}

func TestSymbolDefinition_TextFormat_FindsMatch(t *testing.T) {
	dir := t.TempDir()
	buildIndexInCWD(t, dir)

	var buf bytes.Buffer
	cmd := newSymbolDefinitionCmd()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"Greet"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "Greet")
}

func TestSymbolDefinition_JSONFormat_IsValidJSON(t *testing.T) {
	dir := t.TempDir()
	buildIndexInCWD(t, dir)

	var buf bytes.Buffer
	cmd := newSymbolDefinitionCmd()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--format", "json", "Greet"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), `"Name"`)
}

func TestSymbolDefinition_NotFound_ReportsCleanly(t *testing.T) {
	dir := t.TempDir()
	buildIndexInCWD(t, dir)

	var buf bytes.Buffer
	cmd := newSymbolDefinitionCmd()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"NoSuchSymbol"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "No definition found")
}
