package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coreindex/coreindex/internal/config"
	"github.com/coreindex/coreindex/internal/engine"
	"github.com/coreindex/coreindex/internal/output"
	"github.com/coreindex/coreindex/internal/rerank"
	"github.com/coreindex/coreindex/internal/search"
	"github.com/coreindex/coreindex/internal/store"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit    int
	filter   string // "all", "code", "docs"
	language string
	format   string // "text", "json"
	scopes   []string
	bm25Only bool
	rerank   bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed codebase",
		Long: `Search the indexed codebase using hybrid search.

Fuses BM25 keyword matching, fuzzy substring matching and (when a
vector store is present) semantic similarity with Reciprocal Rank
Fusion.

Examples:
  coreindex search "authentication middleware"
  coreindex search "handleRequest" --type code --limit 5
  coreindex search "error handling" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.filter, "type", "t", "all", "Filter by type: all, code, docs")
	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "Filter by language (e.g., go, python)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().StringSliceVarP(&opts.scopes, "scope", "s", nil, "Filter by path scope (repeatable, e.g., --scope services/api)")
	cmd.Flags().BoolVar(&opts.bm25Only, "bm25-only", false, "Use keyword search only (skip semantic/fuzzy sources)")
	cmd.Flags().BoolVar(&opts.rerank, "rerank", false, "Apply the reranking pass to the top candidates")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	out := output.New(cmd.OutOrStdout())

	if !indexExists(".") {
		return fmt.Errorf("no index found. Run 'coreindex index build' first")
	}

	h, err := openIndex(".")
	if err != nil {
		return err
	}
	defer h.Close()

	repo, err := h.Storage.GetRepository(ctx, engine.RepositoryID(h.AbsRoot))
	if err != nil {
		return fmt.Errorf("load repository: %w", err)
	}
	if err := rebuildFuzzyIndex(ctx, h, repo); err != nil {
		return fmt.Errorf("rebuild fuzzy index: %w", err)
	}

	cfg, err := config.Load(h.AbsRoot)
	if err != nil {
		cfg = config.NewConfig()
	}

	reranker, err := newConfiguredReranker(cfg)
	if err != nil {
		return fmt.Errorf("create reranker: %w", err)
	}

	searchEngine, err := search.NewHybridEngine(search.DefaultConfig(), h.Storage, h.Indexes.Content, h.Fuzzy, nil, nil, reranker)
	if err != nil {
		return fmt.Errorf("create search engine: %w", err)
	}

	searchOpts := search.SearchOptions{
		Limit:           opts.limit,
		Filter:          opts.filter,
		Language:        opts.language,
		Scopes:          opts.scopes,
		DisableSemantic: true, // no vector store wired up in this CLI path
		Rerank:          opts.rerank,
	}
	if opts.bm25Only {
		searchOpts.DisableFuzzy = true
	}

	results, err := searchEngine.Search(ctx, query, searchOpts)
	if err != nil {
		// The BM25/fuzzy sources are unavailable; fall back to a plain
		// LIKE scan over the relational store's own searchable text
		// rather than failing the whole command.
		matches, fallbackErr := h.Storage.SearchContent(ctx, query, opts.limit)
		if fallbackErr != nil || len(matches) == 0 {
			return fmt.Errorf("search failed: %w", err)
		}
		out.Warningf("hybrid search unavailable (%v); falling back to a plain content scan", err)
		return formatContentMatches(cmd, out, opts.format, query, matches)
	}

	if len(results) == 0 {
		out.Status("", fmt.Sprintf("No results found for %q", query))
		return nil
	}

	switch opts.format {
	case "json":
		return formatSearchJSON(cmd, results)
	default:
		return formatSearchText(out, query, results)
	}
}

// newConfiguredReranker builds the reranker backend named by the project
// config's search.rerank_backend setting. An unset or "none" value leaves
// the hybrid engine's own NoOpReranker default in place.
func newConfiguredReranker(cfg *config.Config) (search.Reranker, error) {
	backend := rerank.BackendType(strings.ToLower(cfg.Search.RerankBackend))
	if backend == "" || backend == rerank.BackendNone {
		return nil, nil
	}

	rcfg := rerank.Config{
		Backend: backend,
		External: rerank.ExternalConfig{
			Endpoint: cfg.Search.RerankEndpoint,
			APIKey:   cfg.Search.RerankAPIKey,
		},
		HybridFallback: rerank.BackendTFIDF,
	}
	if backend == rerank.BackendExternal && rcfg.External.Endpoint == "" {
		// No endpoint configured for a remote backend; fall back to the
		// always-available local default rather than failing the search.
		return rerank.NewTFIDFReranker(), nil
	}
	return rerank.New(rcfg)
}

func formatContentMatches(cmd *cobra.Command, out *output.Writer, format, query string, matches []*store.ContentMatch) error {
	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(matches)
	}
	out.Statusf("", "Found %d results for %q (content scan):", len(matches), query)
	out.Newline()
	for i, m := range matches {
		out.Statusf("", "%d. %s:%d", i+1, m.FilePath, m.Line)
		if m.Snippet != "" {
			out.Code(m.Snippet)
		}
		out.Newline()
	}
	return nil
}

func formatSearchJSON(cmd *cobra.Command, results []*search.SearchResult) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func formatSearchText(out *output.Writer, query string, results []*search.SearchResult) error {
	out.Statusf("", "Found %d results for %q:", len(results), query)
	out.Newline()

	for i, r := range results {
		location := r.FilePath
		if r.Line > 0 {
			location = fmt.Sprintf("%s:%d", r.FilePath, r.Line)
		}
		out.Statusf("", "%d. %s (score: %.3f, source: %s)", i+1, location, r.Score, r.Source)
		if r.Snippet != "" {
			snippet := r.Snippet
			if len(snippet) > 200 {
				snippet = snippet[:200] + "..."
			}
			out.Code(snippet)
		}
		out.Newline()
	}
	return nil
}
