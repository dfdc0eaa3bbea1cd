package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gzhole/guardrailwatch/internal/catalog"
	"github.com/gzhole/guardrailwatch/internal/config"
	"github.com/gzhole/guardrailwatch/internal/history"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show guardrailwatch inputs and recorded state",
	Long: `Check that the fixture and terraform output can be read, which fixture
guardrails have a deployed identifier, and what has been recorded so far.
No AWS calls are made.

  guardrailwatch status`,
	RunE: statusCommand,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "═══════════════════════════════════════════════════════")
	fmt.Fprintln(out, "  guardrailwatch Status")
	fmt.Fprintln(out, "═══════════════════════════════════════════════════════")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Version:   %s\n", Version)
	fmt.Fprintf(out, "  Config:    %s\n", cfg.ConfigDir)
	fmt.Fprintf(out, "  Model:     %s (guardrail version %s)\n", cfg.Converse.ModelID, cfg.Converse.GuardrailVersion)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "─── Inputs ────────────────────────────────────────────")
	checkInputs(out, cfg)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "─── Records ───────────────────────────────────────────")
	checkFile(out, "Results log", cfg.Record.ResultsLog)
	checkHistory(out, cfg.Record.HistoryDB)
	if cfg.MetricsOut != "" {
		checkFile(out, "Metrics", cfg.MetricsOut)
	}
	fmt.Fprintln(out)
	return nil
}

func checkInputs(out io.Writer, cfg *config.Config) {
	cat, err := catalog.LoadCatalog(cfg.TfOutputPath)
	if err != nil {
		fmt.Fprintf(out, "  ❌ Terraform output: %v\n", err)
	} else {
		region := cat.Region
		if region == "" {
			region = "not set"
		}
		fmt.Fprintf(out, "  ✅ Terraform output: %s (%d guardrails, region %s)\n", cfg.TfOutputPath, len(cat.Guardrails), region)
	}

	fixture, err := catalog.LoadFixture(cfg.FixturePath)
	if err != nil {
		fmt.Fprintf(out, "  ❌ Fixture: %v\n", err)
		return
	}
	fmt.Fprintf(out, "  ✅ Fixture: %s (%d guardrails, %d prompts)\n", cfg.FixturePath, len(fixture.Cases), fixture.Prompts())

	if cat == nil {
		return
	}
	for _, tc := range fixture.Cases {
		if id, ok := cat.Lookup(tc.Guardrail); ok {
			fmt.Fprintf(out, "     ✅ %s → %s (%d prompts)\n", tc.Guardrail, id, len(tc.Inputs))
		} else {
			fmt.Fprintf(out, "     ⚠  %s: no deployed guardrail, will be skipped\n", tc.Guardrail)
		}
	}
}

func checkFile(out io.Writer, name, path string) {
	info, err := os.Stat(path)
	if err != nil {
		fmt.Fprintf(out, "  ⬚  %s: %s (not yet created)\n", name, path)
		return
	}
	sizeKB := info.Size() / 1024
	if sizeKB == 0 {
		fmt.Fprintf(out, "  ✅ %s: %s (<1 KB)\n", name, path)
	} else {
		fmt.Fprintf(out, "  ✅ %s: %s (%d KB)\n", name, path, sizeKB)
	}
}

func checkHistory(out io.Writer, path string) {
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintf(out, "  ⬚  Run history: %s (not yet created)\n", path)
		return
	}
	store, err := history.Open(path)
	if err != nil {
		fmt.Fprintf(out, "  ❌ Run history: %v\n", err)
		return
	}
	defer store.Close()

	recs, err := store.List(1)
	if err != nil || len(recs) == 0 {
		fmt.Fprintf(out, "  ✅ Run history: %s (empty)\n", filepath.Clean(path))
		return
	}
	last := recs[0]
	fmt.Fprintf(out, "  ✅ Run history: %s (last run %s, %d/%d intervened)\n",
		filepath.Clean(path), formatTime(last.FinishedAt), last.Interventions, last.Total)
}
