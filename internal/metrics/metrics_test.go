package metrics

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/gzhole/guardrailwatch/internal/runner"
)

func sampleSummary() *runner.Summary {
	return &runner.Summary{
		FinishedAt:    time.Unix(1767225600, 0),
		Total:         3,
		Interventions: 1,
		Policies: []*runner.PolicySummary{
			{
				Name:          "PolicyA",
				ID:            "gr-123",
				Results:       []runner.Result{{Intervened: false}, {Intervened: true}},
				Interventions: 1,
			},
			{
				Name:    "PolicyB",
				ID:      "gr-456",
				Results: []runner.Result{{Failed: true}},
				Failed:  1,
			},
			{Name: "Empty", ID: "gr-0"},
		},
	}
}

func findMetric(mf *dto.MetricFamily, guardrail string) *dto.Metric {
	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "guardrail" && lp.GetValue() == guardrail {
				return m
			}
		}
	}
	return nil
}

func TestWrite_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, sampleSummary(), "us.amazon.nova-pro-v1:0"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(&buf)
	if err != nil {
		t.Fatalf("parse exposition: %v", err)
	}

	tests := mfs[TestsTotal]
	if tests == nil {
		t.Fatalf("missing %s", TestsTotal)
	}
	if m := findMetric(tests, "PolicyA"); m == nil || m.GetGauge().GetValue() != 2 {
		t.Errorf("PolicyA tests = %v", m)
	}

	ratio := mfs[InterventionRatio]
	if m := findMetric(ratio, "PolicyA"); m == nil || m.GetGauge().GetValue() != 0.5 {
		t.Errorf("PolicyA ratio = %v", m)
	}
	if m := findMetric(ratio, "Empty"); m != nil {
		t.Errorf("guardrail with no prompts must not export a ratio, got %v", m)
	}

	failed := mfs[FailedCallsTotal]
	if m := findMetric(failed, "PolicyB"); m == nil || m.GetGauge().GetValue() != 1 {
		t.Errorf("PolicyB failed = %v", m)
	}

	if last := mfs[LastRunTimestamp]; last == nil || last.GetMetric()[0].GetGauge().GetValue() != 1767225600 {
		t.Errorf("unexpected last run timestamp %v", last)
	}
}

func TestWrite_EmptySummary(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, &runner.Summary{}, "m"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(&buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := mfs[TestsTotal]; ok {
		t.Error("empty families should be omitted")
	}
	if _, ok := mfs[LastRunTimestamp]; !ok {
		t.Error("last run timestamp should always be present")
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guardrailwatch.prom")
	if err := WriteFile(path, sampleSummary(), "m"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() == 0 {
		t.Error("metrics file is empty")
	}
	if perm := info.Mode().Perm(); perm != 0644 {
		t.Errorf("expected 0644, got %04o", perm)
	}
}
