package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gzhole/guardrailwatch/internal/logger"
	"github.com/gzhole/guardrailwatch/internal/runner"
)

var (
	logFilterGuardrail  string
	logFilterRun        string
	logFilterIntervened bool
	logFilterFailed     bool
	logLast             int
	logSummary          bool
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "View and filter recorded results",
	Long: `View the results log written by "run --record".

Examples:
  guardrailwatch log                         # Show all entries
  guardrailwatch log --last 20               # Show last 20 entries
  guardrailwatch log --guardrail PIIFilter   # Show one guardrail
  guardrailwatch log --intervened            # Show only interventions
  guardrailwatch log --failed                # Show only failed calls
  guardrailwatch log --summary               # Show per-guardrail rates`,
	RunE: logCommand,
}

func init() {
	logCmd.Flags().StringVar(&logFilterGuardrail, "guardrail", "", "Filter by guardrail name")
	logCmd.Flags().StringVar(&logFilterRun, "run", "", "Filter by run ID")
	logCmd.Flags().BoolVar(&logFilterIntervened, "intervened", false, "Show only entries where the guardrail intervened")
	logCmd.Flags().BoolVar(&logFilterFailed, "failed", false, "Show only failed calls")
	logCmd.Flags().IntVar(&logLast, "last", 0, "Show last N entries")
	logCmd.Flags().BoolVar(&logSummary, "summary", false, "Show summary statistics")
	rootCmd.AddCommand(logCmd)
}

func logCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	events, err := logger.ReadResults(cfg.Record.ResultsLog)
	if err != nil {
		return fmt.Errorf("failed to read results log: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(events) == 0 {
		fmt.Fprintln(out, "No recorded results found.")
		return nil
	}

	filtered := filterResults(events, resultFilter{
		guardrail:  logFilterGuardrail,
		runID:      logFilterRun,
		intervened: logFilterIntervened,
		failed:     logFilterFailed,
	})
	if logLast > 0 && logLast < len(filtered) {
		filtered = filtered[len(filtered)-logLast:]
	}

	if logSummary {
		printResultSummary(out, filtered)
		return nil
	}
	printResults(out, filtered)
	return nil
}

type resultFilter struct {
	guardrail  string
	runID      string
	intervened bool
	failed     bool
}

func filterResults(events []logger.ResultEvent, f resultFilter) []logger.ResultEvent {
	if f == (resultFilter{}) {
		return events
	}

	var filtered []logger.ResultEvent
	for _, e := range events {
		if f.guardrail != "" && !strings.EqualFold(e.Guardrail, f.guardrail) {
			continue
		}
		if f.runID != "" && !strings.HasPrefix(e.RunID, f.runID) {
			continue
		}
		if f.intervened && !e.Intervened {
			continue
		}
		if f.failed && !e.Failed {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered
}

func printResults(out io.Writer, events []logger.ResultEvent) {
	for _, e := range events {
		fmt.Fprintf(out, "%s %s %s: %s\n", resultIcon(e), formatTimestamp(e.Timestamp), e.Guardrail, e.Prompt)
		if e.Failed {
			fmt.Fprintf(out, "     Error: %s\n", e.Error)
		} else {
			fmt.Fprintf(out, "     Stop reason: %s\n", e.StopReason)
			if e.Action != "" {
				fmt.Fprintf(out, "     Action: %s\n", e.Action)
			}
			fmt.Fprintf(out, "     Response: %s\n", e.Output)
		}
		fmt.Fprintf(out, "     Run: %s\n", shortID(e.RunID))
		fmt.Fprintln(out)
	}
}

type guardrailTally struct {
	total, intervened, failed int
}

func tallyResults(events []logger.ResultEvent) (map[string]*guardrailTally, []string) {
	tallies := map[string]*guardrailTally{}
	var names []string
	for _, e := range events {
		t, ok := tallies[e.Guardrail]
		if !ok {
			t = &guardrailTally{}
			tallies[e.Guardrail] = t
			names = append(names, e.Guardrail)
		}
		t.total++
		if e.Intervened {
			t.intervened++
		}
		if e.Failed {
			t.failed++
		}
	}
	sort.Strings(names)
	return tallies, names
}

func printResultSummary(out io.Writer, events []logger.ResultEvent) {
	tallies, names := tallyResults(events)
	var all guardrailTally
	runs := map[string]bool{}
	for _, e := range events {
		runs[e.RunID] = true
	}
	for _, t := range tallies {
		all.total += t.total
		all.intervened += t.intervened
		all.failed += t.failed
	}

	fmt.Fprintln(out, "═══════════════════════════════════════════")
	fmt.Fprintln(out, "  guardrailwatch Results Summary")
	fmt.Fprintln(out, "═══════════════════════════════════════════")
	fmt.Fprintf(out, "  Runs:              %d\n", len(runs))
	fmt.Fprintf(out, "  Total tests:       %d\n", all.total)
	fmt.Fprintf(out, "  Interventions:     %d\n", all.intervened)
	fmt.Fprintf(out, "  Intervention rate: %s\n", runner.FormatRate(all.intervened, all.total))
	fmt.Fprintf(out, "  Failed calls:      %d\n", all.failed)
	fmt.Fprintln(out, "═══════════════════════════════════════════")

	if len(events) > 0 {
		fmt.Fprintf(out, "  First result:      %s\n", formatTimestamp(events[0].Timestamp))
		fmt.Fprintf(out, "  Last result:       %s\n", formatTimestamp(events[len(events)-1].Timestamp))
	}

	if len(names) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "  By guardrail:")
		for _, name := range names {
			t := tallies[name]
			fmt.Fprintf(out, "    %-20s %4d tests  %8s intervened  %d failed\n",
				name, t.total, runner.FormatRate(t.intervened, t.total), t.failed)
		}
	}
	fmt.Fprintln(out)
}

func resultIcon(e logger.ResultEvent) string {
	switch {
	case e.Failed:
		return "\xe2\x9d\x8c" // cross mark
	case e.Intervened:
		return "\xf0\x9f\x9b\x91" // stop sign
	default:
		return "\xe2\x9c\x85" // check mark
	}
}

func formatTimestamp(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return formatTime(t)
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
