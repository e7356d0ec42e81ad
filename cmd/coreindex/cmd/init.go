package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/coreindex/coreindex/configs"
	"github.com/coreindex/coreindex/internal/config"
	"github.com/coreindex/coreindex/internal/output"
)

func newInitCmd() *cobra.Command {
	var force bool
	var skipBuild bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize CoreIndex for a project",
		Long: `Initialize CoreIndex for the current project.

This command writes a .coreindex.yaml configuration template and runs
an initial index build, so 'coreindex search' works immediately
afterward.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd.Context(), cmd, force, skipBuild)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing .coreindex.yaml")
	cmd.Flags().BoolVar(&skipBuild, "config-only", false, "Write configuration only, skip the initial index build")

	return cmd
}

func runInit(ctx context.Context, cmd *cobra.Command, force, skipBuild bool) error {
	out := output.New(cmd.OutOrStdout())

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	configPath := filepath.Join(root, ".coreindex.yaml")
	if _, statErr := os.Stat(configPath); statErr == nil && !force {
		out.Status("~", fmt.Sprintf("%s already exists (use --force to overwrite)", configPath))
	} else {
		if err := os.WriteFile(configPath, []byte(configs.ProjectConfigTemplate), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", configPath, err)
		}
		out.Successf("wrote %s", configPath)
	}

	if skipBuild {
		return nil
	}

	out.Status("+", fmt.Sprintf("building initial index for %s", root))
	return runIndexBuild(ctx, cmd, root, force, nil)
}
