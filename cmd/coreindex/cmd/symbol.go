package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coreindex/coreindex/internal/output"
)

// symbolOptions holds CLI flags for symbol lookups.
type symbolOptions struct {
	limit  int
	format string // "text", "json"
}

func newSymbolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "symbol",
		Short: "Look up indexed symbols",
	}
	cmd.AddCommand(newSymbolDefinitionCmd())
	return cmd
}

func newSymbolDefinitionCmd() *cobra.Command {
	var opts symbolOptions

	cmd := &cobra.Command{
		Use:   "definition <name>",
		Short: "Find the definition(s) of a symbol by exact name",
		Long: `Find the definition(s) of a symbol by exact name, preferring
class/struct/function matches over variables when a name resolves to
more than one kind.

Examples:
  coreindex symbol definition Bar
  coreindex symbol definition handleRequest --limit 5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSymbolDefinition(cmd.Context(), cmd, args[0], opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 5, "Maximum number of definitions to return")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSymbolDefinition(ctx context.Context, cmd *cobra.Command, name string, opts symbolOptions) error {
	out := output.New(cmd.OutOrStdout())

	if !indexExists(".") {
		return fmt.Errorf("no index found. Run 'coreindex index build' first")
	}

	h, err := openIndex(".")
	if err != nil {
		return err
	}
	defer h.Close()

	defs, err := h.Storage.FindSymbolDefinition(ctx, name, opts.limit)
	if err != nil {
		return fmt.Errorf("find symbol definition: %w", err)
	}

	if len(defs) == 0 {
		out.Status("", fmt.Sprintf("No definition found for %q", name))
		return nil
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(defs)
	}

	out.Statusf("", "Found %d definition(s) for %q:", len(defs), name)
	out.Newline()
	for i, sym := range defs {
		label := sym.Qualified
		if label == "" {
			label = sym.Name
		}
		out.Statusf("", "%d. %s (%s) at %s:%d", i+1, label, sym.Type, sym.FileID, sym.StartLine)
		if sym.Signature != "" {
			out.Code(sym.Signature)
		}
	}
	return nil
}
