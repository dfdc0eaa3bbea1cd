package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"

	"github.com/gzhole/guardrailwatch/internal/history"
	"github.com/gzhole/guardrailwatch/internal/runner"
)

var (
	historyLast int
	historyJSON bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded runs",
	Long: `List runs recorded with "run --record", newest first.

Examples:
  guardrailwatch history
  guardrailwatch history --last 5
  guardrailwatch history --json`,
	RunE: historyCommand,
}

func init() {
	historyCmd.Flags().IntVar(&historyLast, "last", 10, "Show the N most recent runs, 0 for all")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print records as JSON")
	rootCmd.AddCommand(historyCmd)
}

func historyCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if _, err := os.Stat(cfg.Record.HistoryDB); os.IsNotExist(err) {
		fmt.Fprintln(out, "No recorded runs found.")
		return nil
	}

	store, err := history.Open(cfg.Record.HistoryDB)
	if err != nil {
		return fmt.Errorf("failed to open run history: %w", err)
	}
	defer store.Close()

	recs, err := store.List(historyLast)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if historyJSON {
		return printHistoryJSON(out, recs)
	}
	if len(recs) == 0 {
		fmt.Fprintln(out, "No recorded runs found.")
		return nil
	}
	printHistory(out, recs)
	return nil
}

func printHistory(out io.Writer, recs []history.Record) {
	for _, r := range recs {
		fmt.Fprintf(out, "%s  %s  %s\n", shortID(r.ID), formatTime(r.FinishedAt), r.ModelID)
		fmt.Fprintf(out, "     Tests: %d  Interventions: %d (%s)  Failed: %d  Took: %s\n",
			r.Total, r.Interventions, runner.FormatRate(r.Interventions, r.Total), r.Failed,
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
		for _, p := range r.Policies {
			fmt.Fprintf(out, "       %-20s %s\n", p.Name, runner.FormatRate(p.Interventions, p.Total))
		}
		if len(r.Skipped) > 0 {
			fmt.Fprintf(out, "     Skipped: %v\n", r.Skipped)
		}
		fmt.Fprintln(out)
	}
}

func printHistoryJSON(out io.Writer, recs []history.Record) error {
	if recs == nil {
		recs = []history.Record{}
	}
	data, err := json.Marshal(recs)
	if err != nil {
		return err
	}
	_, err = out.Write(pretty.Pretty(data))
	return err
}
