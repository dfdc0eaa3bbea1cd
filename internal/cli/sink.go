package cli

import (
	"time"

	"github.com/gzhole/guardrailwatch/internal/logger"
	"github.com/gzhole/guardrailwatch/internal/runner"
)

// resultSink writes each runner result to the results log.
type resultSink struct {
	log     *logger.ResultLogger
	runID   string
	modelID string
	now     func() time.Time
}

func newResultSink(log *logger.ResultLogger, runID, modelID string) *resultSink {
	return &resultSink{log: log, runID: runID, modelID: modelID, now: time.Now}
}

func (s *resultSink) Record(r runner.Result) error {
	event := logger.ResultEvent{
		Timestamp:   s.now().UTC().Format(time.RFC3339),
		RunID:       s.runID,
		ModelID:     s.modelID,
		Guardrail:   r.Guardrail,
		GuardrailID: r.GuardrailID,
		Prompt:      r.Prompt,
		Output:      r.Output,
		Action:      r.Action,
		StopReason:  r.StopReason,
		Intervened:  r.Intervened,
		Failed:      r.Failed,
	}
	if r.Err != nil {
		event.Error = r.Err.Error()
	}
	return s.log.Log(event)
}
