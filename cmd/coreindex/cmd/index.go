package cmd

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/coreindex/coreindex/internal/archive"
	"github.com/coreindex/coreindex/internal/config"
	"github.com/coreindex/coreindex/internal/engine"
	"github.com/coreindex/coreindex/internal/output"
	"github.com/coreindex/coreindex/pkg/version"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build, update, verify, export and import the code index",
	}
	cmd.AddCommand(newIndexBuildCmd())
	cmd.AddCommand(newIndexUpdateCmd())
	cmd.AddCommand(newIndexVerifyCmd())
	cmd.AddCommand(newIndexExportCmd())
	cmd.AddCommand(newIndexImportCmd())
	cmd.AddCommand(newIndexInfoCmd())
	cmd.AddCommand(newIndexOptimizeCmd())
	return cmd
}

func newIndexBuildCmd() *cobra.Command {
	var force bool
	var exclude []string

	cmd := &cobra.Command{
		Use:   "build [path]",
		Short: "Full or incremental index of a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runIndexBuild(cmd.Context(), cmd, path, force, exclude)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Discard any existing index and rebuild from scratch")
	cmd.Flags().StringArrayVar(&exclude, "exclude", nil, "Glob pattern to exclude from indexing (repeatable)")
	return cmd
}

func runIndexBuild(ctx context.Context, cmd *cobra.Command, path string, force bool, exclude []string) error {
	out := output.New(cmd.OutOrStdout())

	absRoot, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	if force {
		if err := os.RemoveAll(dataDirFor(absRoot)); err != nil {
			return fmt.Errorf("clear existing index: %w", err)
		}
	}

	existed := indexExists(absRoot)

	h, err := openIndex(absRoot)
	if err != nil {
		return err
	}
	defer h.Close()

	coord, err := engine.NewCoordinator(engine.Config{ExcludePatterns: exclude}, h.Storage, h.Indexes.Content, h.Indexes.Symbols, h.Fuzzy, nil)
	if err != nil {
		return fmt.Errorf("create coordinator: %w", err)
	}

	var result *engine.BatchResult
	if existed {
		repo, err := h.Storage.GetRepository(ctx, engine.RepositoryID(absRoot))
		if err != nil {
			return fmt.Errorf("load existing repository: %w", err)
		}
		out.Status("~", fmt.Sprintf("updating existing index at %s", repo.RootPath))
		result, err = coord.Update(ctx, repo)
		if err != nil {
			out.Error(err.Error())
			return err
		}
	} else {
		out.Status("+", fmt.Sprintf("indexing %s", absRoot))
		var err error
		_, result, err = coord.Build(ctx, absRoot)
		if err != nil {
			out.Error(err.Error())
			return err
		}
	}

	snap := coord.Progress().Snapshot()
	if err := writeManifest(h.DataDir, absRoot, snap.FilesTotal); err != nil {
		return err
	}
	out.Successf("indexed %d file(s), %d symbol(s)", snap.FilesProcessed, snap.SymbolsTotal)
	return reportPartialIndex(out, result)
}

func newIndexUpdateCmd() *cobra.Command {
	var files []string
	var commit string

	cmd := &cobra.Command{
		Use:   "update [path]",
		Short: "Incremental reindex of changed files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runIndexUpdate(cmd.Context(), cmd, path, files, commit)
		},
	}
	cmd.Flags().StringSliceVar(&files, "files", nil, "Explicit list of changed files (default: reconcile the whole tree)")
	cmd.Flags().StringVar(&commit, "commit", "", "VCS revision this update corresponds to (recorded for diagnostics only)")
	return cmd
}

func runIndexUpdate(ctx context.Context, cmd *cobra.Command, path string, files []string, commit string) error {
	out := output.New(cmd.OutOrStdout())

	if !indexExists(path) {
		return fmt.Errorf("no existing index at %s; run 'coreindex index build' first", path)
	}

	h, err := openIndex(path)
	if err != nil {
		return err
	}
	defer h.Close()

	repo, err := h.Storage.GetRepository(ctx, engine.RepositoryID(h.AbsRoot))
	if err != nil {
		return fmt.Errorf("load repository: %w", err)
	}

	coord, err := engine.NewCoordinator(engine.Config{}, h.Storage, h.Indexes.Content, h.Indexes.Symbols, h.Fuzzy, nil)
	if err != nil {
		return fmt.Errorf("create coordinator: %w", err)
	}

	if commit != "" {
		out.Status("~", fmt.Sprintf("updating at revision %s", commit))
	}
	if len(files) > 0 {
		out.Status("~", fmt.Sprintf("reconciling %d explicit file(s)", len(files)))
	}

	result, err := coord.Update(ctx, repo)
	if err != nil {
		out.Error(err.Error())
		return err
	}

	snap := coord.Progress().Snapshot()
	out.Successf("reindexed %d file(s), %d symbol(s)", snap.FilesProcessed, snap.SymbolsTotal)
	return reportPartialIndex(out, result)
}

func newIndexVerifyCmd() *cobra.Command {
	var checkCompat bool
	var targetPath string

	cmd := &cobra.Command{
		Use:   "verify [path]",
		Short: "Integrity and metadata checks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			if targetPath != "" {
				path = targetPath
			}
			return runIndexVerify(cmd.Context(), cmd, path, checkCompat)
		},
	}
	cmd.Flags().StringVar(&targetPath, "path", "", "Repository path to verify (overrides positional argument)")
	cmd.Flags().BoolVar(&checkCompat, "check-compatibility", false, "Also validate the embedding-model compatibility hash")
	return cmd
}

func runIndexVerify(ctx context.Context, cmd *cobra.Command, path string, checkCompat bool) error {
	out := output.New(cmd.OutOrStdout())

	if !indexExists(path) {
		return fmt.Errorf("no index found at %s", path)
	}

	h, err := openIndex(path)
	if err != nil {
		return err
	}
	defer h.Close()

	repo, err := h.Storage.GetRepository(ctx, engine.RepositoryID(h.AbsRoot))
	if err != nil {
		out.Error(fmt.Sprintf("repository record missing or unreadable: %v", err))
		return fmt.Errorf("verify failed: %w", err)
	}

	indexed, err := h.Storage.GetFilesForReconciliation(ctx, repo.ID)
	if err != nil {
		return fmt.Errorf("load indexed files: %w", err)
	}

	mismatches := 0
	for relPath, f := range indexed {
		fullPath := filepath.Join(repo.RootPath, relPath)
		content, err := os.ReadFile(fullPath)
		if err != nil {
			out.Warning(fmt.Sprintf("missing on disk: %s", relPath))
			mismatches++
			continue
		}
		if hashOf(content) != f.ContentHash {
			out.Warning(fmt.Sprintf("content hash mismatch: %s", relPath))
			mismatches++
		}
	}

	if checkCompat {
		m, err := archive.ReadManifest(h.DataDir)
		if err != nil {
			out.Warning(fmt.Sprintf("no metadata envelope to check compatibility: %v", err))
			mismatches++
		} else if m.Version != archive.CurrentVersion {
			out.Warning(fmt.Sprintf("metadata schema version %s differs from current %s", m.Version, archive.CurrentVersion))
			mismatches++
		}
	}

	if mismatches > 0 {
		return fmt.Errorf("verify found %d mismatch(es)", mismatches)
	}
	out.Successf("verified %d file(s), no mismatches", len(indexed))
	return nil
}

func newIndexOptimizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "optimize [path]",
		Short: "Print store statistics and rebuild FTS planner statistics",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runIndexOptimize(cmd.Context(), cmd, path)
		},
	}
	return cmd
}

func runIndexOptimize(ctx context.Context, cmd *cobra.Command, path string) error {
	out := output.New(cmd.OutOrStdout())

	if !indexExists(path) {
		return fmt.Errorf("no index found at %s", path)
	}

	h, err := openIndex(path)
	if err != nil {
		return err
	}
	defer h.Close()

	stats, err := h.Storage.GetStatistics(ctx)
	if err != nil {
		return fmt.Errorf("collect statistics: %w", err)
	}
	out.Statusf("", "repositories: %d, files: %d, symbols: %d, references: %d",
		stats.Repositories, stats.Files, stats.Symbols, stats.References)

	if err := h.Storage.OptimizeFTSTables(ctx); err != nil {
		return fmt.Errorf("optimize: %w", err)
	}
	out.Success("store optimized")
	return nil
}

func newIndexExportCmd() *cobra.Command {
	var compress bool
	var includeEmbeddings bool

	cmd := &cobra.Command{
		Use:   "export <out> [path]",
		Short: "Emit a portable index archive",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 1 {
				path = args[1]
			}
			return runIndexExport(cmd.Context(), cmd, args[0], path, includeEmbeddings)
		},
	}
	cmd.Flags().BoolVar(&compress, "compress", true, "Archive is always gzip-compressed; flag kept for CLI compatibility")
	cmd.Flags().BoolVar(&includeEmbeddings, "include-embeddings", false, "Include the vector store directory in the archive")
	return cmd
}

func runIndexExport(ctx context.Context, cmd *cobra.Command, out string, path string, includeEmbeddings bool) error {
	w := output.New(cmd.OutOrStdout())

	if !indexExists(path) {
		return fmt.Errorf("no index found at %s", path)
	}
	absRoot, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dataDir := dataDirFor(absRoot)

	m, err := archive.ReadManifest(dataDir)
	if err != nil {
		// Build a manifest from scratch if the repo predates the envelope.
		m = &archive.Manifest{Version: archive.CurrentVersion, Path: absRoot, CreatedBy: "coreindex " + version.Version, Timestamp: time.Now()}
	}

	outPath := out
	if info, statErr := os.Stat(out); statErr == nil && info.IsDir() {
		outPath = filepath.Join(out, archive.FileName(m, time.Now()))
	}

	if err := archive.Export(dataDir, outPath, m, archive.ExportOptions{IncludeEmbeddings: includeEmbeddings}); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	w.Successf("wrote archive to %s", outPath)
	return nil
}

func newIndexImportCmd() *cobra.Command {
	var force bool
	var autoReindex bool
	var destPath string

	cmd := &cobra.Command{
		Use:   "import <archive> [path]",
		Short: "Install an index archive, checking model compatibility",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 1 {
				path = args[1]
			}
			if destPath != "" {
				path = destPath
			}
			return runIndexImport(cmd.Context(), cmd, args[0], path, force, autoReindex)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Install even if the embedding model is incompatible")
	cmd.Flags().BoolVar(&autoReindex, "auto-reindex", false, "On compatibility mismatch, install the archive without its vector store instead of refusing; the vector store is not rebuilt (run 'index build --force')")
	cmd.Flags().StringVar(&destPath, "path", "", "Destination repository path (overrides positional argument)")
	return cmd
}

func runIndexImport(ctx context.Context, cmd *cobra.Command, archivePath, path string, force, autoReindex bool) error {
	w := output.New(cmd.OutOrStdout())

	absRoot, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dataDir := dataDirFor(absRoot)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	expectModel := expectedEmbeddingModel(absRoot, dataDir)

	m, err := archive.Import(archivePath, dataDir, archive.ImportOptions{Force: force, ExpectModel: expectModel})
	if err != nil {
		if err == archive.ErrCompatibilityMismatch {
			if autoReindex {
				m, err = archive.Import(archivePath, dataDir, archive.ImportOptions{Force: true})
				if err != nil {
					return fmt.Errorf("import: %w", err)
				}
				w.Warning("embedding model mismatch; vector store dropped, run 'coreindex index build --force' to regenerate it")
				_ = os.RemoveAll(filepath.Join(dataDir, "vector"))
			} else {
				return fmt.Errorf("import refused: %w (pass --force or --auto-reindex)", err)
			}
		} else {
			return fmt.Errorf("import: %w", err)
		}
	}

	w.Successf("imported index for %s (schema %s)", m.Path, m.Version)
	return nil
}

// expectedEmbeddingModel builds the compatibility check Import runs
// against the incoming archive: the destination's own existing
// index_metadata.json if one is already present (a prior index at this
// path), otherwise the embedding model the destination's project config
// is set up to use. Returns nil (no check) if neither source names a
// model, so importing into a never-indexed, unconfigured destination
// still succeeds.
func expectedEmbeddingModel(absRoot, dataDir string) *archive.EmbeddingInfo {
	if existing, err := archive.ReadManifest(dataDir); err == nil && existing.EmbeddingModel.CompatibilityHash != "" {
		model := existing.EmbeddingModel
		return &model
	}

	cfg, err := config.Load(absRoot)
	if err != nil || cfg.Embeddings.Dimensions == 0 {
		return nil
	}
	return &archive.EmbeddingInfo{
		ModelName: cfg.Embeddings.Model,
		Provider:  cfg.Embeddings.Provider,
		Dimension: cfg.Embeddings.Dimensions,
		CompatibilityHash: archive.CompatibilityHash(
			cfg.Embeddings.Model, cfg.Embeddings.Dimensions, cfg.Embeddings.Provider, false,
		),
	}
}

func writeManifest(dataDir, absRoot string, fileCount int) error {
	existing, err := archive.ReadManifest(dataDir)
	model := archive.EmbeddingInfo{}
	if err == nil {
		model = existing.EmbeddingModel
	}
	m := &archive.Manifest{
		Version:        archive.CurrentVersion,
		Timestamp:      time.Now(),
		CreatedBy:      "coreindex " + version.Version,
		Path:           absRoot,
		EmbeddingModel: model,
		IndexStats: archive.IndexStats{
			SemanticSearchEnabled: model.Dimension > 0,
			IndexingMode:          "auto",
			FileCount:             fileCount,
		},
	}
	return archive.WriteManifest(dataDir, m)
}

func hashOf(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// PartialIndexError signals that a build/update completed but some files
// failed to index, distinct from an outright failure. main.go maps this
// to exit code 2 ("partial") rather than 1 ("error").
type PartialIndexError struct {
	Result *engine.BatchResult
}

func (e *PartialIndexError) Error() string {
	return fmt.Sprintf("%d file(s) failed to index", e.Result.FilesFailed)
}

// reportPartialIndex logs every per-file failure in result and, if any
// occurred, returns a PartialIndexError so the caller can exit non-zero
// without treating the whole batch as a hard failure.
func reportPartialIndex(out *output.Writer, result *engine.BatchResult) error {
	if !result.HasFailures() {
		return nil
	}
	for _, fe := range result.Errors {
		out.Warning(fe.Error())
	}
	out.Warningf("%d of %d file(s) failed to index", result.FilesFailed, result.FilesFailed+result.FilesProcessed)
	return &PartialIndexError{Result: result}
}
