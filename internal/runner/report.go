package runner

import (
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
)

// NotAvailable is printed instead of a rate when nothing was processed.
const NotAvailable = "N/A"

var (
	hundred = decimal.NewFromInt(100)
	divider = strings.Repeat("=", 50)
)

// FormatRate renders n/total as a two-decimal percentage, or N/A when total
// is zero.
func FormatRate(n, total int) string {
	if total <= 0 {
		return NotAvailable
	}
	rate := decimal.NewFromInt(int64(n)).
		Div(decimal.NewFromInt(int64(total))).
		Mul(hundred)
	return rate.StringFixed(2) + "%"
}

// Reporter writes the human-readable run report.
type Reporter struct {
	w     io.Writer
	icons bool
}

func NewReporter(w io.Writer, icons bool) *Reporter {
	return &Reporter{w: w, icons: icons}
}

func (p *Reporter) Skipped(name string) {
	fmt.Fprintf(p.w, "Guardrail ID for %s not found, skipping test.\n", name)
}

func (p *Reporter) PolicyStart(ps *PolicySummary) {
	fmt.Fprintf(p.w, "\nRunning tests for %s (%s):\n", ps.Name, ps.ID)
}

func (p *Reporter) Prompt(prompt string) {
	fmt.Fprintf(p.w, "\nTesting prompt: %s\n", prompt)
}

func (p *Reporter) Result(r Result) {
	if r.Failed {
		fmt.Fprintf(p.w, "%sError during Converse API call: %v\n", p.icon(r), r.Err)
		fmt.Fprintf(p.w, "Response: %s\n", r.Output)
		return
	}
	fmt.Fprintf(p.w, "Stop reason: %s\n", r.StopReason)
	fmt.Fprintf(p.w, "Response: %s\n", r.Output)
	fmt.Fprintf(p.w, "%sGuardrail intervened: %t\n", p.icon(r), r.Intervened)
}

func (p *Reporter) PolicySummary(ps *PolicySummary) {
	fmt.Fprintf(p.w, "\n%s\n", divider)
	fmt.Fprintf(p.w, "\nAnalysis for %s (%s):\n", ps.Name, ps.ID)
	fmt.Fprintf(p.w, "Total tests: %d\n", ps.Total())
	fmt.Fprintf(p.w, "Guardrail interventions: %d\n", ps.Interventions)
	fmt.Fprintf(p.w, "Intervention rate: %s\n", FormatRate(ps.Interventions, ps.Total()))
	fmt.Fprintf(p.w, "Failed calls: %d\n", ps.Failed)
	fmt.Fprintf(p.w, "\n%s\n", divider)
}

func (p *Reporter) Overall(s *Summary) {
	fmt.Fprintln(p.w, "\nOverall Guardrail Performance:")
	fmt.Fprintf(p.w, "Total invocations: %d\n", s.Total)
	fmt.Fprintf(p.w, "Total guardrail interventions: %d\n", s.Interventions)
	fmt.Fprintf(p.w, "Overall intervention rate: %s\n", FormatRate(s.Interventions, s.Total))
	fmt.Fprintf(p.w, "Total failed calls: %d\n", s.Failed)
	if len(s.Skipped) > 0 {
		fmt.Fprintf(p.w, "Skipped guardrails: %s\n", strings.Join(s.Skipped, ", "))
	}
}

func (p *Reporter) icon(r Result) string {
	if !p.icons {
		return ""
	}
	switch {
	case r.Failed:
		return "\xe2\x9d\x8c " // cross mark
	case r.Intervened:
		return "\xf0\x9f\x9b\x91 " // stop sign
	default:
		return "\xe2\x9c\x85 " // check mark
	}
}
