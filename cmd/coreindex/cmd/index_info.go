package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/coreindex/coreindex/internal/archive"
	"github.com/coreindex/coreindex/internal/config"
	"github.com/coreindex/coreindex/internal/embed"
	"github.com/coreindex/coreindex/internal/engine"
	"github.com/coreindex/coreindex/internal/store"
)

func newIndexInfoCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "info [path]",
		Short: "Show index configuration and statistics",
		Long: `Display detailed information about the search index including embedding
model, dimensions, file counts, and file sizes.

This command helps you:
- Check which model the current index uses
- Debug dimension mismatch errors
- Verify index was built correctly after a model change
- Compare index configurations across projects`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			return runIndexInfo(cmd.Context(), cmd, path, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

// IndexInfoResult is the reported shape of 'index info'.
type IndexInfoResult struct {
	Location        string    `json:"location"`
	ProjectRoot     string    `json:"project_root"`
	IndexModel      string    `json:"index_model"`
	IndexProvider   string    `json:"index_provider"`
	IndexDimensions int       `json:"index_dimensions"`
	FileCount       int       `json:"file_count"`
	StorageSize     int64     `json:"storage_size_bytes"`
	BM25Size        int64     `json:"bm25_size_bytes"`
	VectorSize      int64     `json:"vector_size_bytes"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	CurrentModel    string    `json:"current_model"`
	CurrentProvider string    `json:"current_provider"`
	CurrentDims     int       `json:"current_dimensions"`
	Compatible      bool      `json:"compatible"`
}

func runIndexInfo(ctx context.Context, cmd *cobra.Command, path string, jsonOutput bool) error {
	absRoot, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	if !indexExists(absRoot) {
		return fmt.Errorf("no index found at %s\nRun 'coreindex index build %s' to create one", dataDirFor(absRoot), path)
	}

	dataDir := dataDirFor(absRoot)
	manifest, err := archive.ReadManifest(dataDir)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	h, err := openIndex(absRoot)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer func() { _ = h.Close() }()

	repo, err := h.Storage.GetRepository(ctx, engine.RepositoryID(absRoot))
	if err != nil {
		return fmt.Errorf("load repository: %w", err)
	}

	cfg, err := config.Load(absRoot)
	if err != nil {
		cfg = config.NewConfig()
	}
	currentProvider := embed.ProviderType(cfg.Embeddings.Provider)
	if currentProvider == "" {
		currentProvider = embed.ProviderStatic
	}
	embedder, err := embed.NewEmbedder(ctx, currentProvider, 0)
	var info EmbedInfoResult
	if err == nil {
		embedInfo := embed.GetInfo(ctx, embedder)
		info.Model = embedInfo.Model
		info.Provider = string(embedInfo.Provider)
		info.Dimensions = embedInfo.Dimensions
		_ = embedder.Close()
	}

	result := &IndexInfoResult{
		Location:        dataDir,
		ProjectRoot:     absRoot,
		IndexModel:      manifest.EmbeddingModel.ModelName,
		IndexProvider:   manifest.EmbeddingModel.Provider,
		IndexDimensions: manifest.EmbeddingModel.Dimension,
		FileCount:       repo.FileCount,
		StorageSize:     getFileSize(filepath.Join(dataDir, "code_index.db")),
		BM25Size: getFileSize(filepath.Join(dataDir, "content.db")) +
			getFileSize(filepath.Join(dataDir, "symbols.db")) +
			getFileSize(filepath.Join(dataDir, "documents.db")),
		VectorSize:      getDirSize(filepath.Join(dataDir, "vector")),
		CreatedAt:       repo.CreatedAt,
		UpdatedAt:       repo.UpdatedAt,
		CurrentModel:    info.Model,
		CurrentProvider: info.Provider,
		CurrentDims:     info.Dimensions,
		Compatible:      info.Dimensions == 0 || info.Dimensions == manifest.EmbeddingModel.Dimension,
	}

	if jsonOutput {
		return outputIndexInfoJSON(cmd, result)
	}
	return outputIndexInfoHuman(cmd, result)
}

// EmbedInfoResult is a small local alias avoiding an import cycle on embed.EmbedderInfo's JSON shape.
type EmbedInfoResult struct {
	Model      string
	Provider   string
	Dimensions int
}

func outputIndexInfoJSON(cmd *cobra.Command, info *IndexInfoResult) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

func outputIndexInfoHuman(cmd *cobra.Command, info *IndexInfoResult) error {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Index Information")
	fmt.Fprintln(out, "==================")
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Location:    %s\n", info.Location)
	fmt.Fprintf(out, "Project:     %s\n", info.ProjectRoot)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Embedding Configuration:")
	if info.IndexModel != "" {
		fmt.Fprintf(out, "  Model:       %s\n", info.IndexModel)
		fmt.Fprintf(out, "  Provider:    %s\n", info.IndexProvider)
		fmt.Fprintf(out, "  Dimensions:  %d\n", info.IndexDimensions)
	} else {
		fmt.Fprintln(out, "  (not stored)")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Index Statistics:")
	fmt.Fprintf(out, "  Files:       %d\n", info.FileCount)
	fmt.Fprintf(out, "  Store Size:  %s\n", store.FormatBytes(info.StorageSize))
	fmt.Fprintf(out, "  BM25 Size:   %s\n", store.FormatBytes(info.BM25Size))
	fmt.Fprintf(out, "  Vector Size: %s\n", store.FormatBytes(info.VectorSize))
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Timestamps:")
	fmt.Fprintf(out, "  Created:     %s\n", info.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "  Last Update: %s\n", info.UpdatedAt.Format(time.RFC3339))
	fmt.Fprintln(out)

	if info.CurrentModel != "" {
		fmt.Fprintln(out, "Current Embedder:")
		fmt.Fprintf(out, "  Model:       %s\n", info.CurrentModel)
		fmt.Fprintf(out, "  Provider:    %s\n", info.CurrentProvider)
		fmt.Fprintf(out, "  Dimensions:  %d\n", info.CurrentDims)

		if info.Compatible {
			fmt.Fprintln(out, "  Status:      Compatible")
		} else {
			fmt.Fprintln(out, "  Status:      INCOMPATIBLE")
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  Index: %d dims (%s)\n", info.IndexDimensions, info.IndexModel)
			fmt.Fprintf(out, "  Current: %d dims (%s)\n", info.CurrentDims, info.CurrentModel)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "  Semantic search will be disabled until reindex.")
			fmt.Fprintf(out, "  Run 'coreindex index build --force' to rebuild with %s.\n", info.CurrentModel)
		}
	}

	return nil
}
