package relay

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"text/template"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"
)

const (
	// StateChangeLayout is the timestamp format CloudWatch uses in alarm
	// notifications, e.g. 2024-12-03T00:34:33.918+0000.
	StateChangeLayout = "2006-01-02T15:04:05.000-0700"

	stopReasonIntervened = "guardrail_intervened"
	roleUser             = "user"
	fetchTimeout         = 5 * time.Minute
)

const summarySystemPrompt = `You summarize CloudWatch alarms raised on the Bedrock guardrail GuardrailIntervened metric.
The input has this shape:
<alarm>
alarm details
</alarm>
<events>
<event>
one Bedrock invocation that the guardrail stopped
</event>
</events>

Rules:
1. Reply with the summary only.
2. When <events> is present, add an "Events Summary" list describing what each blocked input was about.

Example:
- **Alarm Name:** GuardrailIntervenedAlarm
- **Description:** Triggers on guardrail intervention.
- **AWS Account ID:** 111111111111
- **Region:** US West (Oregon)
- **New State:** ALARM
- **Reason:** Threshold Crossed: 1 datapoint [3.0 (03/12/24 05:28:00)] > 0.0.
- **Events Summary:**
	- Blocked a request to compare insurance providers.
	- Blocked an input containing a personal insult.
`

var ErrEmptySummary = errors.New("model returned no summary text")

//go:embed prompt_template.tmpl
var promptTemplateText string

var promptTemplate = template.Must(template.New("prompt").Parse(promptTemplateText))

type promptParams struct {
	Alarm  events.CloudWatchAlarmSNSPayload
	Events []*InvocationLog
}

// HandleAlarm summarizes a CloudWatch alarm delivered through SNS and
// publishes the summary. Failures are logged and swallowed so the runtime
// does not retry a notification that cannot succeed.
func (r *Relay) HandleAlarm(ctx context.Context, req events.SNSEvent) error {
	if d, ok := ctx.Deadline(); ok {
		r.log.Debug("handling alarm", zap.Time("deadline", d))
	}
	if len(req.Records) == 0 {
		r.log.Warn("SNS event has no records")
		return nil
	}

	raw := req.Records[0].SNS.Message
	var alarm events.CloudWatchAlarmSNSPayload
	if err := json.Unmarshal([]byte(raw), &alarm); err != nil {
		r.log.Error("failed to decode alarm payload", zap.Error(err))
		return nil
	}
	r.log.Debug("alarm received", zap.String("message", raw))

	at, err := time.Parse(StateChangeLayout, alarm.StateChangeTime)
	if err != nil {
		r.log.Warn("unable to parse StateChangeTime, using current time",
			zap.String("state_change_time", alarm.StateChangeTime))
		at = r.now()
	}

	logs, err := r.interventions(ctx, at)
	if err != nil {
		r.log.Error("failed to retrieve log events for alarm",
			zap.String("alarm", alarm.AlarmName), zap.Error(err))
		return nil
	}
	r.log.Info("log events retrieved", zap.Int("interventions", len(logs)))

	summary, err := r.Summarize(ctx, alarm, logs)
	if err != nil {
		r.log.Error("failed to summarize alarm", zap.Error(err))
		return nil
	}

	if err := r.publish(ctx, summary); err != nil {
		r.log.Error("failed to publish summary", zap.Error(err))
		return nil
	}
	r.log.Info("alarm summary sent", zap.String("alarm", alarm.AlarmName), zap.String("summary", summary))
	return nil
}

// interventions returns the invocation log records around at that the
// guardrail intervened on.
func (r *Relay) interventions(ctx context.Context, at time.Time) ([]*InvocationLog, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	out, err := r.logs.GetLogEvents(ctx, &cloudwatchlogs.GetLogEventsInput{
		LogGroupName:  aws.String(r.cfg.AlarmLogGroup),
		LogStreamName: aws.String(r.cfg.AlarmLogStream),
		Limit:         aws.Int32(r.cfg.LogLimit),
		StartTime:     aws.Int64(at.Add(-r.cfg.Window).UnixMilli()),
		EndTime:       aws.Int64(at.Add(r.cfg.Window).UnixMilli()),
	})
	if err != nil {
		return nil, fmt.Errorf("get log events: %w", err)
	}

	var res []*InvocationLog
	for _, e := range out.Events {
		l := &InvocationLog{}
		if err := json.Unmarshal([]byte(aws.ToString(e.Message)), l); err != nil {
			return nil, fmt.Errorf("decode invocation log: %w", err)
		}
		if !l.Intervened() {
			continue
		}
		res = append(res, l)
	}
	return res, nil
}

// Summarize asks the summary model to describe the alarm and the
// interventions behind it.
func (r *Relay) Summarize(ctx context.Context, alarm events.CloudWatchAlarmSNSPayload, logs []*InvocationLog) (string, error) {
	prompt, err := SummaryPrompt(alarm, logs)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(NovaRequest{
		System: []Content{{Text: summarySystemPrompt}},
		Messages: []Message{{
			Role:    roleUser,
			Content: []Content{{Text: prompt}},
		}},
	})
	if err != nil {
		return "", err
	}

	res, err := r.model.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(r.cfg.SummaryModelID),
		Body:        body,
		Accept:      aws.String(contentTypeJSON),
		ContentType: aws.String(contentTypeJSON),
	})
	if err != nil {
		return "", fmt.Errorf("invoke summary model: %w", err)
	}
	return parseNovaResponse(res.Body)
}

// SummaryPrompt renders the user prompt for an alarm.
func SummaryPrompt(alarm events.CloudWatchAlarmSNSPayload, logs []*InvocationLog) (string, error) {
	var buf bytes.Buffer
	if err := promptTemplate.Execute(&buf, promptParams{Alarm: alarm, Events: logs}); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}

func parseNovaResponse(body []byte) (string, error) {
	var res NovaResponse
	if err := json.Unmarshal(body, &res); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(string(body))
		if rerr != nil {
			return "", fmt.Errorf("decode model response: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &res); err != nil {
			return "", fmt.Errorf("decode repaired model response: %w", err)
		}
	}
	if res.Output.Message == nil {
		return "", ErrEmptySummary
	}
	for _, c := range res.Output.Message.Content {
		if c.Text != "" {
			return c.Text, nil
		}
	}
	return "", ErrEmptySummary
}
