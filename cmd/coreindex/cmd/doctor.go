package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/coreindex/coreindex/internal/archive"
	"github.com/coreindex/coreindex/internal/config"
	"github.com/coreindex/coreindex/internal/engine"
	"github.com/coreindex/coreindex/internal/output"
)

// CheckStatus is the outcome of a single diagnostic check.
type CheckStatus string

const (
	CheckPass CheckStatus = "pass"
	CheckWarn CheckStatus = "warn"
	CheckFail CheckStatus = "fail"
)

// CheckResult is the outcome of one doctor diagnostic.
type CheckResult struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Message string      `json:"message"`
}

func newDoctorCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose index and configuration health",
		Long: `Run diagnostics against the current project's index and configuration.

Checks:
  - Project directory is writable
  - Configuration file parses and validates
  - Index exists and its manifest is readable
  - Index version is compatible with this build`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runDoctor(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	results := runDiagnostics(ctx, root)

	if jsonOutput {
		return outputDoctorJSON(cmd, results)
	}

	out := output.New(cmd.OutOrStdout())
	hasFailure := false
	for _, r := range results {
		switch r.Status {
		case CheckPass:
			out.Success(r.Name + ": " + r.Message)
		case CheckWarn:
			out.Warning(r.Name + ": " + r.Message)
		case CheckFail:
			out.Error(r.Name + ": " + r.Message)
			hasFailure = true
		}
	}

	if hasFailure {
		return fmt.Errorf("one or more diagnostics failed")
	}
	return nil
}

func runDiagnostics(ctx context.Context, root string) []CheckResult {
	var results []CheckResult

	results = append(results, checkWritable(root))
	results = append(results, checkConfig(root))
	results = append(results, checkIndex(ctx, root)...)

	return results
}

func checkWritable(root string) CheckResult {
	probe := filepath.Join(root, ".coreindex-doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return CheckResult{Name: "writable", Status: CheckFail, Message: fmt.Sprintf("cannot write to %s: %v", root, err)}
	}
	_ = os.Remove(probe)
	return CheckResult{Name: "writable", Status: CheckPass, Message: root + " is writable"}
}

func checkConfig(root string) CheckResult {
	configPath := filepath.Join(root, ".coreindex.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return CheckResult{Name: "config", Status: CheckWarn, Message: "no .coreindex.yaml found, using defaults"}
	}

	cfg, err := config.Load(root)
	if err != nil {
		return CheckResult{Name: "config", Status: CheckFail, Message: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return CheckResult{Name: "config", Status: CheckFail, Message: err.Error()}
	}
	return CheckResult{Name: "config", Status: CheckPass, Message: "configuration is valid"}
}

func checkIndex(ctx context.Context, root string) []CheckResult {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return []CheckResult{{Name: "index", Status: CheckFail, Message: err.Error()}}
	}

	if !indexExists(absRoot) {
		return []CheckResult{{Name: "index", Status: CheckWarn, Message: "no index found, run 'coreindex index build'"}}
	}

	var results []CheckResult
	dataDir := dataDirFor(absRoot)

	m, err := archive.ReadManifest(dataDir)
	if err != nil {
		results = append(results, CheckResult{Name: "manifest", Status: CheckFail, Message: err.Error()})
		return results
	}
	results = append(results, CheckResult{Name: "manifest", Status: CheckPass, Message: "index_metadata.json is readable"})

	if m.Version != archive.CurrentVersion {
		results = append(results, CheckResult{
			Name: "version", Status: CheckWarn,
			Message: fmt.Sprintf("index was built with format v%s, this build expects v%s", m.Version, archive.CurrentVersion),
		})
	} else {
		results = append(results, CheckResult{Name: "version", Status: CheckPass, Message: "index format version matches"})
	}

	h, err := openIndex(absRoot)
	if err != nil {
		results = append(results, CheckResult{Name: "storage", Status: CheckFail, Message: err.Error()})
		return results
	}
	defer func() { _ = h.Close() }()

	if _, err := h.Storage.GetRepository(ctx, engine.RepositoryID(absRoot)); err != nil {
		results = append(results, CheckResult{Name: "storage", Status: CheckFail, Message: err.Error()})
	} else {
		results = append(results, CheckResult{Name: "storage", Status: CheckPass, Message: "relational store opens and resolves the repository"})
	}

	return results
}

func outputDoctorJSON(cmd *cobra.Command, results []CheckResult) error {
	payload := struct {
		Status string        `json:"status"`
		Checks []CheckResult `json:"checks"`
	}{
		Status: "pass",
		Checks: results,
	}
	for _, r := range results {
		if r.Status == CheckFail {
			payload.Status = "fail"
			break
		}
		if r.Status == CheckWarn && payload.Status == "pass" {
			payload.Status = "warn"
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
