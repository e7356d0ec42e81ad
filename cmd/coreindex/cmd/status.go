package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/coreindex/coreindex/internal/config"
	"github.com/coreindex/coreindex/internal/engine"
	"github.com/coreindex/coreindex/internal/store"
	"github.com/coreindex/coreindex/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index health and status",
		Long: `Display information about the current index including:
  - Number of indexed files and symbols
  - Last indexing time
  - Storage sizes (relational store, BM25, vectors)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	if !indexExists(root) {
		return fmt.Errorf("no index found in %s\nRun 'coreindex index build' to create one", root)
	}

	info, err := collectStatus(ctx, root)
	if err != nil {
		return fmt.Errorf("failed to collect status: %w", err)
	}

	noColor := ui.DetectNoColor()
	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor)

	if jsonOutput {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

func collectStatus(ctx context.Context, root string) (ui.StatusInfo, error) {
	info := ui.StatusInfo{ProjectName: filepath.Base(root), WatcherStatus: "n/a"}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return info, err
	}
	dataDir := dataDirFor(absRoot)

	storage, err := store.NewSQLiteStore(filepath.Join(dataDir, "code_index.db"))
	if err != nil {
		return info, fmt.Errorf("open storage: %w", err)
	}
	defer func() { _ = storage.Close() }()

	repo, err := storage.GetRepository(ctx, engine.RepositoryID(absRoot))
	if err == nil {
		info.TotalFiles = repo.FileCount
		info.LastIndexed = repo.UpdatedAt
	}

	if stats, serr := storage.GetStatistics(ctx); serr == nil {
		info.TotalChunks = stats.Symbols
	}

	info.MetadataSize = getFileSize(filepath.Join(dataDir, "code_index.db"))
	info.BM25Size = getFileSize(filepath.Join(dataDir, "content.db")) +
		getFileSize(filepath.Join(dataDir, "symbols.db")) +
		getFileSize(filepath.Join(dataDir, "documents.db"))
	info.VectorSize = getDirSize(filepath.Join(dataDir, "vector"))
	info.TotalSize = info.MetadataSize + info.BM25Size + info.VectorSize

	cfg, err := config.Load(absRoot)
	if err != nil {
		cfg = config.NewConfig()
	}
	info.EmbedderType = cfg.Embeddings.Provider
	if info.EmbedderType == "" {
		info.EmbedderType = "static"
	}
	info.EmbedderStatus = "ready"
	info.EmbedderModel = cfg.Embeddings.Model

	return info, nil
}

// getFileSize returns the size of a file in bytes.
func getFileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// getDirSize returns the total size in bytes of all regular files under dir.
func getDirSize(dir string) int64 {
	var total int64
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total
}
