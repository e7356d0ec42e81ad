package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coreindex/coreindex/internal/extractor"
	"github.com/coreindex/coreindex/internal/scanner"
	"github.com/coreindex/coreindex/internal/store"
)

// FileError records a single file's failure within a Build/Update batch.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e FileError) Unwrap() error {
	return e.Err
}

// BatchResult aggregates the outcome of indexing a set of files. A batch
// never aborts on one file's failure; failures are collected here and
// surfaced to the caller as part of an otherwise-successful result.
type BatchResult struct {
	FilesProcessed int
	FilesFailed    int
	Errors         []FileError
}

// HasFailures reports whether any file in the batch failed.
func (r *BatchResult) HasFailures() bool {
	return r != nil && len(r.Errors) > 0
}

func (r *BatchResult) recordSuccess() {
	r.FilesProcessed++
}

func (r *BatchResult) recordFailure(path string, err error) {
	r.FilesFailed++
	r.Errors = append(r.Errors, FileError{Path: path, Err: err})
}

// Config configures a Coordinator.
type Config struct {
	Workers         int
	MaxFileSize     int64
	ExcludePatterns []string
}

// DefaultMaxFileSize mirrors the scanner's default cutoff for indexable
// files.
const DefaultMaxFileSize int64 = scanner.DefaultMaxFileSize

// Coordinator drives repository indexing: scanning the working tree,
// reconciling it against the relational store's recorded file state,
// extracting symbols/references for changed files, and keeping the BM25
// and fuzzy indexes in sync. A Coordinator is scoped to one repository.
type Coordinator struct {
	config   Config
	storage  store.Storage
	content  store.BM25Index
	symbols  store.BM25Index
	fuzzy    store.FuzzyIndex
	registry *extractor.Registry
	scan     *scanner.Scanner
	progress *Progress
}

// NewCoordinator builds a Coordinator over an already-open storage and
// index set. registry may be nil to fall back to extractor.DefaultRegistry().
func NewCoordinator(cfg Config, storage store.Storage, content, symbols store.BM25Index, fuzzy store.FuzzyIndex, registry *extractor.Registry) (*Coordinator, error) {
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if registry == nil {
		registry = extractor.DefaultRegistry()
	}
	sc, err := scanner.New()
	if err != nil {
		return nil, fmt.Errorf("create scanner: %w", err)
	}

	return &Coordinator{
		config:   cfg,
		storage:  storage,
		content:  content,
		symbols:  symbols,
		fuzzy:    fuzzy,
		registry: registry,
		scan:     sc,
		progress: NewProgress(),
	}, nil
}

// Progress returns the coordinator's progress tracker, readable while a
// Build/Update call is running concurrently.
func (c *Coordinator) Progress() *Progress {
	return c.progress
}

// RepositoryID derives a stable repository ID from its absolute root
// path, matching the Storage Layer's content-addressable ID scheme.
func RepositoryID(absRootPath string) string {
	sum := sha256.Sum256([]byte(absRootPath))
	return hex.EncodeToString(sum[:])[:16]
}

func fileID(repoID, relPath string) string {
	sum := sha256.Sum256([]byte(repoID + ":" + relPath))
	return hex.EncodeToString(sum[:])[:16]
}

// Build performs a full index of rootPath: registers the repository,
// scans every indexable file, extracts symbols/references and writes
// all three indexes. Intended for first-time indexing; Update should be
// preferred for already-indexed repositories.
func (c *Coordinator) Build(ctx context.Context, rootPath string) (*store.Repository, *BatchResult, error) {
	absRoot, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve root path: %w", err)
	}

	repo := &store.Repository{
		ID:        RepositoryID(absRoot),
		Name:      filepath.Base(absRoot),
		RootPath:  absRoot,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		Version:   store.CurrentSchemaVersion,
	}
	if err := c.storage.SaveRepository(ctx, repo); err != nil {
		return nil, nil, fmt.Errorf("save repository: %w", err)
	}

	current, err := c.scanCurrentFiles(ctx, absRoot)
	if err != nil {
		return nil, nil, err
	}

	c.progress.SetStage(StageScanning, len(current))
	result := c.indexFiles(ctx, repo.ID, absRoot, current)

	if err := c.storage.RefreshRepositoryStats(ctx, repo.ID); err != nil {
		return nil, nil, fmt.Errorf("refresh repository stats: %w", err)
	}
	if fresh, err := c.storage.GetRepository(ctx, repo.ID); err == nil {
		repo = fresh
	}
	c.progress.SetReady()
	return repo, result, nil
}

// Update incrementally reconciles an already-indexed repository: files
// that changed (by content hash) are re-extracted and re-indexed, files
// that disappeared are removed from every index, and unchanged files
// are left untouched. This is the common path after the initial Build.
func (c *Coordinator) Update(ctx context.Context, repo *store.Repository) (*BatchResult, error) {
	current, err := c.scanCurrentFiles(ctx, repo.RootPath)
	if err != nil {
		return nil, err
	}

	indexed, err := c.storage.GetFilesForReconciliation(ctx, repo.ID)
	if err != nil {
		return nil, fmt.Errorf("load indexed files: %w", err)
	}

	changed := make(map[string]*scanner.FileInfo)
	for relPath, info := range current {
		prior, ok := indexed[relPath]
		if !ok {
			changed[relPath] = info
			continue
		}
		hash, err := hashFile(filepath.Join(repo.RootPath, relPath))
		if err != nil {
			continue
		}
		if hash != prior.ContentHash {
			changed[relPath] = info
		}
		delete(indexed, relPath)
	}

	// Whatever remains in `indexed` no longer exists on disk.
	for _, stale := range indexed {
		if err := c.removeFile(ctx, stale); err != nil {
			return nil, err
		}
	}

	c.progress.SetStage(StageScanning, len(changed))
	result := c.indexFiles(ctx, repo.ID, repo.RootPath, changed)

	if err := c.storage.RefreshRepositoryStats(ctx, repo.ID); err != nil {
		return nil, fmt.Errorf("refresh repository stats: %w", err)
	}
	c.progress.SetReady()
	return result, nil
}

func (c *Coordinator) scanCurrentFiles(ctx context.Context, absRoot string) (map[string]*scanner.FileInfo, error) {
	results, err := c.scan.Scan(ctx, &scanner.ScanOptions{
		RootDir:          absRoot,
		RespectGitignore: true,
		MaxFileSize:      c.config.MaxFileSize,
		ExcludePatterns:  c.config.ExcludePatterns,
	})
	if err != nil {
		return nil, fmt.Errorf("scan repository: %w", err)
	}

	files := make(map[string]*scanner.FileInfo)
	for res := range results {
		if res.Error != nil || res.File == nil {
			continue
		}
		files[res.File.Path] = res.File
	}
	return files, nil
}

// indexFiles extracts symbols/references for each changed file and
// writes it to the relational store and every index, using a bounded
// worker pool. A single file's failure never aborts the batch; it is
// recorded in the returned BatchResult so the remaining files still get
// indexed and the caller can report a partial result.
func (c *Coordinator) indexFiles(ctx context.Context, repoID, absRoot string, files map[string]*scanner.FileInfo) *BatchResult {
	workers := c.config.Workers
	if workers <= 0 {
		workers = 4
	}

	paths := make([]string, 0, len(files))
	for relPath := range files {
		paths = append(paths, relPath)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	result := &BatchResult{}
	var mu sync.Mutex

	processed := 0
	for i, relPath := range paths {
		if gctx.Err() != nil {
			break // task was cancelled; stop launching new file work between files
		}
		relPath := relPath
		info := files[relPath]
		g.Go(func() error {
			err := c.indexOneFile(gctx, repoID, absRoot, relPath, info)
			mu.Lock()
			if err != nil {
				result.recordFailure(relPath, err)
			} else {
				result.recordSuccess()
			}
			mu.Unlock()
			return nil
		})
		processed = i + 1
		c.progress.UpdateFiles(processed)
	}

	_ = g.Wait() // goroutines never return an error; failures are aggregated in result
	return result
}

func (c *Coordinator) indexOneFile(ctx context.Context, repoID, absRoot, relPath string, info *scanner.FileInfo) error {
	content, err := os.ReadFile(filepath.Join(absRoot, relPath))
	if err != nil {
		return err
	}

	id := fileID(repoID, relPath)
	file := &store.File{
		ID:           id,
		RepositoryID: repoID,
		Path:         relPath,
		Size:         info.Size,
		ModTime:      info.ModTime,
		ContentHash:  hashBytes(content),
		Language:     info.Language,
		ContentType:  store.ContentType(info.ContentType),
		IndexedAt:    time.Now(),
	}
	if err := c.storage.SaveFiles(ctx, []*store.File{file}); err != nil {
		return err
	}

	// Clear prior derived state before re-deriving it; cheap for both
	// first-time indexing (no-op) and incremental re-indexing.
	_ = c.storage.DeleteSymbolsByFile(ctx, id)
	_ = c.storage.DeleteReferencesByFile(ctx, id)

	if err := c.fuzzy.AddFile(ctx, id, string(content)); err != nil {
		return fmt.Errorf("fuzzy index: %w", err)
	}
	if err := c.content.Index(ctx, []*store.BM25Document{{ID: id, Content: string(content)}}); err != nil {
		return fmt.Errorf("content index: %w", err)
	}

	ext := filepath.Ext(relPath)
	ex, ok := c.registry.Get(ext)
	if !ok {
		return nil // no extractor for this language; content/fuzzy indexing alone is still useful
	}

	result, err := ex.Extract(ctx, id, relPath, content)
	if err != nil {
		return fmt.Errorf("extract symbols: %w", err)
	}
	if len(result.Symbols) > 0 {
		if err := c.storage.SaveSymbols(ctx, result.Symbols); err != nil {
			return err
		}
		docs := make([]*store.BM25Document, len(result.Symbols))
		for i, sym := range result.Symbols {
			docs[i] = &store.BM25Document{ID: sym.ID, Content: sym.Name + " " + sym.Signature + " " + sym.DocComment}
		}
		if err := c.symbols.Index(ctx, docs); err != nil {
			return fmt.Errorf("symbol index: %w", err)
		}
		c.progress.AddSymbols(len(result.Symbols))
	}
	if len(result.References) > 0 {
		if err := c.storage.SaveReferences(ctx, result.References); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) removeFile(ctx context.Context, f *store.File) error {
	symbols, err := c.storage.GetSymbolsByFile(ctx, f.ID)
	if err == nil && len(symbols) > 0 {
		ids := make([]string, len(symbols))
		for i, s := range symbols {
			ids[i] = s.ID
		}
		_ = c.symbols.Delete(ctx, ids)
	}
	if err := c.content.Delete(ctx, []string{f.ID}); err != nil {
		return fmt.Errorf("remove from content index: %w", err)
	}
	if err := c.fuzzy.RemoveFile(ctx, f.ID); err != nil {
		return fmt.Errorf("remove from fuzzy index: %w", err)
	}
	return c.storage.DeleteFile(ctx, f.ID)
}

func hashFile(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return hashBytes(content), nil
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
