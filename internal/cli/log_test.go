package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gzhole/guardrailwatch/internal/logger"
)

func sampleResults() []logger.ResultEvent {
	return []logger.ResultEvent{
		{Timestamp: "2025-01-01T10:00:00Z", RunID: "aaaaaaaa-1", Guardrail: "DeniedTopics", Prompt: "compare insurers", Intervened: true, StopReason: "guardrail_intervened"},
		{Timestamp: "2025-01-01T10:00:01Z", RunID: "aaaaaaaa-1", Guardrail: "DeniedTopics", Prompt: "what is a premium", StopReason: "end_turn"},
		{Timestamp: "2025-01-01T10:00:02Z", RunID: "aaaaaaaa-1", Guardrail: "PIIFilter", Prompt: "my ssn", Failed: true, Error: "service: ThrottlingException"},
		{Timestamp: "2025-01-02T10:00:00Z", RunID: "bbbbbbbb-2", Guardrail: "PIIFilter", Prompt: "my ssn", Intervened: true},
	}
}

func TestFilterResults(t *testing.T) {
	events := sampleResults()
	tests := []struct {
		name   string
		filter resultFilter
		want   int
	}{
		{"no filter", resultFilter{}, 4},
		{"guardrail", resultFilter{guardrail: "piifilter"}, 2},
		{"intervened", resultFilter{intervened: true}, 2},
		{"failed", resultFilter{failed: true}, 1},
		{"run prefix", resultFilter{runID: "bbbb"}, 1},
		{"combined", resultFilter{guardrail: "DeniedTopics", intervened: true}, 1},
		{"no match", resultFilter{guardrail: "ContentFilter"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := filterResults(events, tt.filter)
			if len(got) != tt.want {
				t.Errorf("got %d events, want %d", len(got), tt.want)
			}
		})
	}
}

func TestTallyResults(t *testing.T) {
	tallies, names := tallyResults(sampleResults())
	if len(names) != 2 || names[0] != "DeniedTopics" || names[1] != "PIIFilter" {
		t.Fatalf("names = %v", names)
	}
	pii := tallies["PIIFilter"]
	if pii.total != 2 || pii.intervened != 1 || pii.failed != 1 {
		t.Errorf("PIIFilter tally = %+v", *pii)
	}
}

func TestPrintResultSummary(t *testing.T) {
	var buf bytes.Buffer
	printResultSummary(&buf, sampleResults())
	out := buf.String()

	for _, want := range []string{
		"Runs:              2",
		"Total tests:       4",
		"Interventions:     2",
		"Intervention rate: 50.00%",
		"Failed calls:      1",
		"DeniedTopics",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestPrintResultSummaryEmpty(t *testing.T) {
	var buf bytes.Buffer
	printResultSummary(&buf, nil)
	if !strings.Contains(buf.String(), "Intervention rate: N/A") {
		t.Errorf("empty summary should report N/A:\n%s", buf.String())
	}
}

func TestPrintResults(t *testing.T) {
	var buf bytes.Buffer
	printResults(&buf, sampleResults()[2:3])
	out := buf.String()
	if !strings.Contains(out, "Error: service: ThrottlingException") {
		t.Errorf("failed entry should show error:\n%s", out)
	}
	if strings.Contains(out, "Stop reason") {
		t.Errorf("failed entry should not show stop reason:\n%s", out)
	}
	if !strings.Contains(out, "Run: aaaaaaaa") {
		t.Errorf("missing short run id:\n%s", out)
	}
}

func TestFormatTimestamp(t *testing.T) {
	if got := formatTimestamp("not a time"); got != "not a time" {
		t.Errorf("unparseable timestamp should pass through, got %q", got)
	}
}
