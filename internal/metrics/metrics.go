// Package metrics renders a run summary in the Prometheus text exposition
// format, suitable for the node_exporter textfile collector.
package metrics

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/gzhole/guardrailwatch/internal/runner"
)

const namespace = "guardrailwatch"

const (
	TestsTotal         = namespace + "_tests_total"
	InterventionsTotal = namespace + "_interventions_total"
	FailedCallsTotal   = namespace + "_failed_calls_total"
	InterventionRatio  = namespace + "_intervention_ratio"
	LastRunTimestamp   = namespace + "_last_run_timestamp_seconds"
)

// Families builds one metric family per statistic, with a sample per
// guardrail.
func Families(s *runner.Summary, modelID string) []*dto.MetricFamily {
	tests := family(TestsTotal, "Prompts sent through the guardrail in the last run.", dto.MetricType_GAUGE)
	interventions := family(InterventionsTotal, "Prompts the guardrail intervened on in the last run.", dto.MetricType_GAUGE)
	failed := family(FailedCallsTotal, "Converse calls that failed in the last run.", dto.MetricType_GAUGE)
	ratio := family(InterventionRatio, "Interventions divided by prompts sent; absent when nothing was sent.", dto.MetricType_GAUGE)

	for _, ps := range s.Policies {
		labels := labelPairs("guardrail", ps.Name, "guardrail_id", ps.ID, "model_id", modelID)
		tests.Metric = append(tests.Metric, gauge(labels, float64(ps.Total())))
		interventions.Metric = append(interventions.Metric, gauge(labels, float64(ps.Interventions)))
		failed.Metric = append(failed.Metric, gauge(labels, float64(ps.Failed)))
		if ps.Total() > 0 {
			ratio.Metric = append(ratio.Metric, gauge(labels, float64(ps.Interventions)/float64(ps.Total())))
		}
	}

	last := family(LastRunTimestamp, "Unix time the last run finished.", dto.MetricType_GAUGE)
	last.Metric = append(last.Metric, gauge(labelPairs("model_id", modelID), float64(s.FinishedAt.Unix())))

	return []*dto.MetricFamily{tests, interventions, failed, ratio, last}
}

// Write renders the summary to w.
func Write(w io.Writer, s *runner.Summary, modelID string) error {
	for _, mf := range Families(s, modelID) {
		if len(mf.Metric) == 0 {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// WriteFile writes the exposition atomically so a collector never reads a
// half-written file.
func WriteFile(path string, s *runner.Summary, modelID string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".guardrailwatch-*.prom")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, s, modelID); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func family(name, help string, typ dto.MetricType) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(name),
		Help: proto.String(help),
		Type: typ.Enum(),
	}
}

func gauge(labels []*dto.LabelPair, v float64) *dto.Metric {
	return &dto.Metric{
		Label: labels,
		Gauge: &dto.Gauge{Value: proto.Float64(v)},
	}
}

func labelPairs(kv ...string) []*dto.LabelPair {
	pairs := make([]*dto.LabelPair, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		pairs = append(pairs, &dto.LabelPair{Name: proto.String(kv[i]), Value: proto.String(kv[i+1])})
	}
	return pairs
}
