package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// BM25Backend represents the BM25 index backend type.
type BM25Backend string

const (
	// BM25BackendSQLite uses SQLite FTS5 for BM25 search (default).
	// Enables concurrent multi-process access via WAL mode.
	BM25BackendSQLite BM25Backend = "sqlite"

	// BM25BackendBleve uses Bleve v2 for BM25 search (legacy).
	// Has exclusive file locking via BoltDB - single process only.
	BM25BackendBleve BM25Backend = "bleve"
)

// BM25Indexes bundles the three logical sub-indexes the BM25 Index is
// carved into: file content, symbol names/signatures, and synthetic
// documents (doc comments, markdown). Each is a fully independent
// BM25Index so callers may query, persist, or compact them separately.
type BM25Indexes struct {
	Content   BM25Index
	Symbols   BM25Index
	Documents BM25Index
}

// Close closes all three sub-indexes, returning the first error
// encountered (if any) after attempting to close every one of them.
func (b *BM25Indexes) Close() error {
	var firstErr error
	for _, idx := range []BM25Index{b.Content, b.Symbols, b.Documents} {
		if idx == nil {
			continue
		}
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewBM25IndexesWithBackend builds the three sub-indexes under dataDir
// using the given backend ("sqlite" or "bleve"). If dataDir is empty,
// all three are in-memory (useful for tests).
func NewBM25IndexesWithBackend(dataDir string, config BM25Config, backend string) (*BM25Indexes, error) {
	content, err := newBM25SubIndex(dataDir, "content", tableContent, config, backend)
	if err != nil {
		return nil, fmt.Errorf("content sub-index: %w", err)
	}
	symbols, err := newBM25SubIndex(dataDir, "symbols", tableSymbols, config, backend)
	if err != nil {
		_ = content.Close()
		return nil, fmt.Errorf("symbols sub-index: %w", err)
	}
	documents, err := newBM25SubIndex(dataDir, "documents", tableDocuments, config, backend)
	if err != nil {
		_ = content.Close()
		_ = symbols.Close()
		return nil, fmt.Errorf("documents sub-index: %w", err)
	}

	return &BM25Indexes{Content: content, Symbols: symbols, Documents: documents}, nil
}

func newBM25SubIndex(dataDir, name string, table bm25Table, config BM25Config, backend string) (BM25Index, error) {
	switch backend {
	case string(BM25BackendSQLite), "":
		var path string
		if dataDir != "" {
			path = filepath.Join(dataDir, name+".db")
		}
		return NewSQLiteBM25Index(path, table, config)

	case string(BM25BackendBleve):
		var path string
		if dataDir != "" {
			path = filepath.Join(dataDir, name+".bleve")
		}
		return NewBleveBM25Index(path, config)

	default:
		return nil, fmt.Errorf("unknown BM25 backend: %s (valid options: sqlite, bleve)", backend)
	}
}

// DetectBM25Backend detects which backend an existing index uses, based
// on file existence of the content sub-index.
func DetectBM25Backend(dataDir string) BM25Backend {
	if fileExists(filepath.Join(dataDir, "content.db")) {
		return BM25BackendSQLite
	}
	if dirExists(filepath.Join(dataDir, "content.bleve")) {
		return BM25BackendBleve
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
