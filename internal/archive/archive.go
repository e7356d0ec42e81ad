// Package archive implements the portable index archive format: a
// gzip-compressed tar containing the relational store, the optional
// vector store directory, and an index_metadata.json compatibility
// envelope. This is what `coreindex index export`/`import` produce and
// consume.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// CurrentVersion is the index_metadata.json schema version this build
// writes and the newest version it can import.
const CurrentVersion = "2.0"

// EmbeddingInfo describes the embedding model an index was built with,
// used to decide whether an imported vector store is compatible with
// the importing environment's embedder.
type EmbeddingInfo struct {
	ModelName         string `json:"model_name"`
	Provider          string `json:"provider"`
	Dimension         int    `json:"dimension"`
	Normalize         bool   `json:"normalize"`
	CompatibilityHash string `json:"compatibility_hash"`
}

// CompatibilityHash returns the first 16 hex characters of
// sha256(model_name|dimension|provider|normalize), the value stored in
// EmbeddingInfo.CompatibilityHash and compared on import.
func CompatibilityHash(modelName string, dimension int, provider string, normalize bool) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s|%t", modelName, dimension, provider, normalize)))
	return hex.EncodeToString(sum[:])[:16]
}

// IndexStats summarizes what an archive's index contains, surfaced in
// the metadata envelope so `index verify`/`import` can report on an
// archive without opening its database.
type IndexStats struct {
	SemanticSearchEnabled bool   `json:"semantic_search_enabled"`
	IndexingMode          string `json:"indexing_mode"` // "full", "incremental", "auto"
	FileCount             int    `json:"file_count"`
}

// Manifest is the index_metadata.json compatibility envelope persisted
// alongside every index and embedded at the root of every archive.
type Manifest struct {
	Version        string        `json:"version"`
	Timestamp      time.Time     `json:"timestamp"`
	CreatedBy      string        `json:"created_by"`
	Path           string        `json:"path"`
	EmbeddingModel EmbeddingInfo `json:"embedding_model"`
	IndexStats     IndexStats    `json:"index_stats"`
}

// ManifestFileName is the metadata file name inside a repository's data
// directory and at the root of every archive.
const ManifestFileName = "index_metadata.json"

// WriteManifest writes m to <dataDir>/index_metadata.json.
func WriteManifest(dataDir string, m *Manifest) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(dataDir, ManifestFileName), b, 0o644)
}

// ReadManifest reads <dataDir>/index_metadata.json.
func ReadManifest(dataDir string) (*Manifest, error) {
	b, err := os.ReadFile(filepath.Join(dataDir, ManifestFileName))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// FileName builds the canonical archive file name:
// code-index-<model>-<dim>d-v<version>-<UTCstamp>.tar.gz.
func FileName(m *Manifest, at time.Time) string {
	model := m.EmbeddingModel.ModelName
	if model == "" {
		model = "none"
	}
	return fmt.Sprintf("code-index-%s-%dd-v%s-%s.tar.gz",
		sanitizeForFileName(model), m.EmbeddingModel.Dimension, m.Version, at.UTC().Format("20060102T150405Z"))
}

func sanitizeForFileName(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-' || r == '_':
			out = append(out, r)
		default:
			out = append(out, '-')
		}
	}
	return string(out)
}

// ExportOptions configures Export.
type ExportOptions struct {
	IncludeEmbeddings bool // include the vector/ directory, if present
}

// Export writes the contents of dataDir (the primary store, manifest,
// and optionally the vector store) into a gzip-compressed tar at
// outPath.
func Export(dataDir, outPath string, m *Manifest, opts ExportOptions) error {
	if err := WriteManifest(dataDir, m); err != nil {
		return err
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer f.Close()

	gw := gzip.NewWriter(f)
	defer gw.Close()
	tw := tar.NewWriter(gw)
	defer tw.Close()

	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return fmt.Errorf("read data dir: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if name == "vector" && !opts.IncludeEmbeddings {
			continue
		}
		if err := addToTar(tw, dataDir, name); err != nil {
			return fmt.Errorf("archive %s: %w", name, err)
		}
	}
	return nil
}

func addToTar(tw *tar.Writer, baseDir, relPath string) error {
	fullPath := filepath.Join(baseDir, relPath)
	return filepath.Walk(fullPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(baseDir, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
			return tw.WriteHeader(hdr)
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		_, err = io.Copy(tw, in)
		return err
	})
}

// ImportOptions configures Import.
type ImportOptions struct {
	Force       bool // proceed even on embedding-model compatibility mismatch
	ExpectModel *EmbeddingInfo
}

// ErrCompatibilityMismatch is returned by Import when the archive's
// embedding model does not match ExpectModel and Force is false.
var ErrCompatibilityMismatch = fmt.Errorf("embedding model compatibility mismatch")

// Import extracts archivePath into destDir, returning the manifest it
// carried. If opts.ExpectModel is set and the archive's
// CompatibilityHash differs, Import returns ErrCompatibilityMismatch
// without extracting unless opts.Force is set.
func Import(archivePath, destDir string, opts ImportOptions) (*Manifest, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("invalid gzip stream: %w", err)
	}
	defer gr.Close()
	tr := tar.NewReader(gr)

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create dest dir: %w", err)
	}

	var manifestBytes []byte
	type pendingFile struct {
		name string
		mode os.FileMode
		data []byte
	}
	var pending []pendingFile

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read archive entry: %w", err)
		}
		if hdr.Typeflag == tar.TypeDir {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", hdr.Name, err)
		}
		if hdr.Name == ManifestFileName {
			manifestBytes = data
		}
		pending = append(pending, pendingFile{name: hdr.Name, mode: hdr.FileInfo().Mode(), data: data})
	}

	if manifestBytes == nil {
		return nil, fmt.Errorf("archive missing %s", ManifestFileName)
	}
	var m Manifest
	if err := json.Unmarshal(manifestBytes, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	if opts.ExpectModel != nil && !opts.Force {
		if m.EmbeddingModel.CompatibilityHash != "" &&
			m.EmbeddingModel.CompatibilityHash != opts.ExpectModel.CompatibilityHash {
			return &m, ErrCompatibilityMismatch
		}
	}

	for _, pf := range pending {
		dest := filepath.Join(destDir, filepath.FromSlash(pf.name))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return &m, fmt.Errorf("create dir for %s: %w", pf.name, err)
		}
		if err := os.WriteFile(dest, pf.data, pf.mode); err != nil {
			return &m, fmt.Errorf("write %s: %w", pf.name, err)
		}
	}
	return &m, nil
}
