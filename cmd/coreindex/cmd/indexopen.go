package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/coreindex/coreindex/internal/engine"
	"github.com/coreindex/coreindex/internal/store"
)

// dataDirFor returns the on-disk data directory for a repository rooted
// at absRoot, following the persisted layout of one directory per
// repository under <root>/.coreindex/<repo_id>/.
func dataDirFor(absRoot string) string {
	return filepath.Join(absRoot, ".coreindex", engine.RepositoryID(absRoot))
}

// indexHandles bundles the open storage/index handles for one
// repository, shared by the index and search subcommands.
type indexHandles struct {
	AbsRoot string
	DataDir string
	Storage store.Storage
	Indexes *store.BM25Indexes
	Fuzzy   store.FuzzyIndex
}

func (h *indexHandles) Close() error {
	var firstErr error
	if err := h.Indexes.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := h.Storage.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// openIndex opens (creating the data directory if necessary) the
// storage and BM25 sub-indexes for the repository rooted at path.
func openIndex(path string) (*indexHandles, error) {
	absRoot, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	dataDir := dataDirFor(absRoot)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	storage, err := store.NewSQLiteStore(filepath.Join(dataDir, "code_index.db"))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	indexes, err := store.NewBM25IndexesWithBackend(dataDir, store.DefaultBM25Config(), string(store.BM25BackendSQLite))
	if err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("open BM25 indexes: %w", err)
	}

	return &indexHandles{
		AbsRoot: absRoot,
		DataDir: dataDir,
		Storage: storage,
		Indexes: indexes,
		Fuzzy:   store.NewInMemoryFuzzyIndex(),
	}, nil
}

// indexExists reports whether a repository at path has already been
// indexed at least once.
func indexExists(path string) bool {
	absRoot, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(dataDirFor(absRoot), "code_index.db"))
	return err == nil
}

// rebuildFuzzyIndex repopulates the in-memory fuzzy index from the
// repository's currently-indexed files, since the fuzzy index itself is
// not persisted between process runs.
func rebuildFuzzyIndex(ctx context.Context, h *indexHandles, repo *store.Repository) error {
	indexed, err := h.Storage.GetFilesForReconciliation(ctx, repo.ID)
	if err != nil {
		return fmt.Errorf("list indexed files: %w", err)
	}
	for relPath, f := range indexed {
		content, err := os.ReadFile(filepath.Join(repo.RootPath, relPath))
		if err != nil {
			continue // file vanished since last index; Update will reconcile it
		}
		if err := h.Fuzzy.AddFile(ctx, f.ID, string(content)); err != nil {
			return fmt.Errorf("rebuild fuzzy index for %s: %w", relPath, err)
		}
	}
	return nil
}
