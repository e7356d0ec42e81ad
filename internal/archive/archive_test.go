package archive

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "code_index.db"), []byte("relational-store"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "vector"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vector", "embeddings.bin"), []byte("vectors"), 0o644))
	return dir
}

func TestCompatibilityHash_Deterministic(t *testing.T) {
	h1 := CompatibilityHash("all-MiniLM-L6-v2", 384, "static", true)
	h2 := CompatibilityHash("all-MiniLM-L6-v2", 384, "static", true)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 16)
}

func TestCompatibilityHash_DiffersOnDimension(t *testing.T) {
	h1 := CompatibilityHash("m", 384, "static", true)
	h2 := CompatibilityHash("m", 768, "static", true)
	assert.NotEqual(t, h1, h2)
}

func TestExportImport_RoundTrip_IncludeEmbeddings(t *testing.T) {
	src := writeDataDir(t)
	manifest := &Manifest{
		Version:   CurrentVersion,
		Timestamp: time.Unix(0, 0),
		CreatedBy: "coreindex-test",
		Path:      "/repo",
		EmbeddingModel: EmbeddingInfo{
			ModelName: "static768", Provider: "static", Dimension: 768, Normalize: true,
			CompatibilityHash: CompatibilityHash("static768", 768, "static", true),
		},
		IndexStats: IndexStats{SemanticSearchEnabled: true, IndexingMode: "full", FileCount: 3},
	}

	archivePath := filepath.Join(t.TempDir(), "out.tar.gz")
	require.NoError(t, Export(src, archivePath, manifest, ExportOptions{IncludeEmbeddings: true}))

	dest := t.TempDir()
	got, err := Import(archivePath, dest, ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, manifest.EmbeddingModel.CompatibilityHash, got.EmbeddingModel.CompatibilityHash)

	data, err := os.ReadFile(filepath.Join(dest, "code_index.db"))
	require.NoError(t, err)
	assert.Equal(t, "relational-store", string(data))

	vec, err := os.ReadFile(filepath.Join(dest, "vector", "embeddings.bin"))
	require.NoError(t, err)
	assert.Equal(t, "vectors", string(vec))
}

func TestExportImport_ExcludesEmbeddingsWhenNotRequested(t *testing.T) {
	src := writeDataDir(t)
	manifest := &Manifest{Version: CurrentVersion, Timestamp: time.Unix(0, 0)}

	archivePath := filepath.Join(t.TempDir(), "out.tar.gz")
	require.NoError(t, Export(src, archivePath, manifest, ExportOptions{IncludeEmbeddings: false}))

	dest := t.TempDir()
	_, err := Import(archivePath, dest, ImportOptions{})
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(dest, "vector", "embeddings.bin"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestImport_RefusesOnCompatibilityMismatch(t *testing.T) {
	src := writeDataDir(t)
	manifest := &Manifest{
		Version: CurrentVersion,
		EmbeddingModel: EmbeddingInfo{
			CompatibilityHash: CompatibilityHash("modelA", 384, "static", true),
		},
	}
	archivePath := filepath.Join(t.TempDir(), "out.tar.gz")
	require.NoError(t, Export(src, archivePath, manifest, ExportOptions{}))

	expect := &EmbeddingInfo{CompatibilityHash: CompatibilityHash("modelB", 768, "static", true)}
	_, err := Import(archivePath, t.TempDir(), ImportOptions{ExpectModel: expect})
	assert.ErrorIs(t, err, ErrCompatibilityMismatch)
}

func TestImport_ForceBypassesMismatch(t *testing.T) {
	src := writeDataDir(t)
	manifest := &Manifest{
		Version: CurrentVersion,
		EmbeddingModel: EmbeddingInfo{
			CompatibilityHash: CompatibilityHash("modelA", 384, "static", true),
		},
	}
	archivePath := filepath.Join(t.TempDir(), "out.tar.gz")
	require.NoError(t, Export(src, archivePath, manifest, ExportOptions{}))

	expect := &EmbeddingInfo{CompatibilityHash: CompatibilityHash("modelB", 768, "static", true)}
	_, err := Import(archivePath, t.TempDir(), ImportOptions{ExpectModel: expect, Force: true})
	assert.NoError(t, err)
}

func TestFileName_UsesModelDimensionVersion(t *testing.T) {
	m := &Manifest{Version: "2.0", EmbeddingModel: EmbeddingInfo{ModelName: "static768", Dimension: 768}}
	name := FileName(m, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	assert.Equal(t, "code-index-static768-768d-v2.0-20260102T030405Z.tar.gz", name)
}

func TestWriteReadManifest_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := &Manifest{Version: CurrentVersion, CreatedBy: "coreindex-test", Path: "/repo"}
	require.NoError(t, WriteManifest(dir, m))

	got, err := ReadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, m.CreatedBy, got.CreatedBy)
}
