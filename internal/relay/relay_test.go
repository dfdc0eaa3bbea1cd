package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/gzhole/guardrailwatch/internal/config"
)

type fakeLogs struct {
	messages  []string
	err       error
	filterIn  *cloudwatchlogs.FilterLogEventsInput
	getIn     *cloudwatchlogs.GetLogEventsInput
	callCount int
}

func (f *fakeLogs) events() []types.OutputLogEvent {
	out := make([]types.OutputLogEvent, 0, len(f.messages))
	for _, m := range f.messages {
		out = append(out, types.OutputLogEvent{Message: aws.String(m)})
	}
	return out
}

func (f *fakeLogs) FilterLogEvents(_ context.Context, in *cloudwatchlogs.FilterLogEventsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.FilterLogEventsOutput, error) {
	f.callCount++
	f.filterIn = in
	if f.err != nil {
		return nil, f.err
	}
	var evs []types.FilteredLogEvent
	for _, m := range f.messages {
		evs = append(evs, types.FilteredLogEvent{Message: aws.String(m)})
	}
	return &cloudwatchlogs.FilterLogEventsOutput{Events: evs}, nil
}

func (f *fakeLogs) GetLogEvents(_ context.Context, in *cloudwatchlogs.GetLogEventsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetLogEventsOutput, error) {
	f.callCount++
	f.getIn = in
	if f.err != nil {
		return nil, f.err
	}
	return &cloudwatchlogs.GetLogEventsOutput{Events: f.events()}, nil
}

type fakeModel struct {
	body      []byte
	err       error
	in        *bedrockruntime.InvokeModelInput
	callCount int
}

func (f *fakeModel) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.callCount++
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: f.body}, nil
}

type fakeTopic struct {
	err       error
	in        *sns.PublishInput
	callCount int
}

func (f *fakeTopic) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.callCount++
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
}

func testConfig() config.Relay {
	return config.Relay{
		Mode:           config.RelayModeEvent,
		TopicARN:       "arn:aws:sns:us-west-2:111111111111:alerts",
		ModelID:        "analysis-model",
		Subject:        config.DefaultRelaySubject,
		Instruction:    config.DefaultRelayInstruction,
		LogLimit:       config.DefaultRelayLogLimit,
		AlarmLogGroup:  config.DefaultAlarmLogGroup,
		AlarmLogStream: config.DefaultAlarmLogStream,
		Window:         config.DefaultAlarmWindow,
		SummaryModelID: "summary-model",
	}
}

func cloudWatchEvent(detail string) events.CloudWatchEvent {
	return events.CloudWatchEvent{
		DetailType: "Log Alarm",
		Source:     "aws.logs",
		Detail:     json.RawMessage(detail),
	}
}

func TestJoinMessages(t *testing.T) {
	tests := []struct {
		messages []string
		want     string
	}{
		{nil, ""},
		{[]string{"a"}, "a"},
		{[]string{"a", "b"}, "a\nb"},
		{[]string{"a", "b", "c"}, "a\nb\nc"},
		{[]string{"a", "b", "c", "d", "e"}, "a\nb\nc\nd\ne"},
	}
	for _, tt := range tests {
		got := JoinMessages(tt.messages)
		if got != tt.want {
			t.Errorf("JoinMessages(%q) = %q, want %q", tt.messages, got, tt.want)
		}
		if n := strings.Count(got, "\n"); len(tt.messages) > 0 && n != len(tt.messages)-1 {
			t.Errorf("JoinMessages(%q) has %d separators, want %d", tt.messages, n, len(tt.messages)-1)
		}
	}
}

func TestHandlePublishesModelBody(t *testing.T) {
	logs := &fakeLogs{messages: []string{"line one", "line two"}}
	model := &fakeModel{body: []byte(`{"text":"OK"}`)}
	topic := &fakeTopic{}
	r := New(logs, model, topic, testConfig(), nil)

	resp, err := r.Handle(context.Background(), cloudWatchEvent(`{"logGroup":"app","logStream":"web-1"}`))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.StatusCode != StatusOK || resp.Body != SuccessBody {
		t.Errorf("response = %+v", resp)
	}

	if got := aws.ToString(logs.filterIn.LogGroupName); got != "app" {
		t.Errorf("log group = %q", got)
	}
	if len(logs.filterIn.LogStreamNames) != 1 || logs.filterIn.LogStreamNames[0] != "web-1" {
		t.Errorf("log streams = %v", logs.filterIn.LogStreamNames)
	}
	if got := aws.ToInt32(logs.filterIn.Limit); got != 5 {
		t.Errorf("limit = %d, want 5", got)
	}

	if got := aws.ToString(model.in.ContentType); got != "application/json" {
		t.Errorf("content type = %q", got)
	}
	if got := aws.ToString(model.in.ModelId); got != "analysis-model" {
		t.Errorf("model id = %q", got)
	}
	var req ModelRequest
	if err := json.Unmarshal(model.in.Body, &req); err != nil {
		t.Fatalf("model body: %v", err)
	}
	if req.Input != "line one\nline two" {
		t.Errorf("input = %q", req.Input)
	}
	if req.Context != config.DefaultRelayInstruction {
		t.Errorf("context = %q", req.Context)
	}

	if got := aws.ToString(topic.in.Message); got != `{"text":"OK"}` {
		t.Errorf("published message = %q", got)
	}
	if got := aws.ToString(topic.in.Subject); got != "Bedrock Invocation Intervened: Analysis" {
		t.Errorf("subject = %q", got)
	}
	if got := aws.ToString(topic.in.TopicArn); got != testConfig().TopicARN {
		t.Errorf("topic = %q", got)
	}
}

func TestHandleNoMessages(t *testing.T) {
	model := &fakeModel{body: []byte(`"nothing"`)}
	r := New(&fakeLogs{}, model, &fakeTopic{}, testConfig(), nil)

	if _, err := r.Handle(context.Background(), cloudWatchEvent(`{"logGroup":"app","logStream":"web-1"}`)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	var req ModelRequest
	if err := json.Unmarshal(model.in.Body, &req); err != nil {
		t.Fatal(err)
	}
	if req.Input != "" {
		t.Errorf("input = %q, want empty", req.Input)
	}
}

func TestHandleMissingDetail(t *testing.T) {
	tests := []struct {
		name   string
		detail string
	}{
		{"no detail", ""},
		{"no stream", `{"logGroup":"app"}`},
		{"no group", `{"logStream":"web-1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs, model, topic := &fakeLogs{}, &fakeModel{}, &fakeTopic{}
			r := New(logs, model, topic, testConfig(), nil)

			_, err := r.Handle(context.Background(), cloudWatchEvent(tt.detail))
			if !errors.Is(err, ErrMissingDetail) {
				t.Fatalf("err = %v, want ErrMissingDetail", err)
			}
			if logs.callCount+model.callCount+topic.callCount != 0 {
				t.Errorf("made %d external calls", logs.callCount+model.callCount+topic.callCount)
			}
		})
	}
}

func TestHandleStopsOnFailure(t *testing.T) {
	boom := errors.New("boom")

	t.Run("logs", func(t *testing.T) {
		model, topic := &fakeModel{}, &fakeTopic{}
		r := New(&fakeLogs{err: boom}, model, topic, testConfig(), nil)
		if _, err := r.Handle(context.Background(), cloudWatchEvent(`{"logGroup":"g","logStream":"s"}`)); !errors.Is(err, boom) {
			t.Fatalf("err = %v", err)
		}
		if model.callCount != 0 || topic.callCount != 0 {
			t.Error("continued after log failure")
		}
	})

	t.Run("model", func(t *testing.T) {
		topic := &fakeTopic{}
		r := New(&fakeLogs{messages: []string{"x"}}, &fakeModel{err: boom}, topic, testConfig(), nil)
		if _, err := r.Handle(context.Background(), cloudWatchEvent(`{"logGroup":"g","logStream":"s"}`)); !errors.Is(err, boom) {
			t.Fatalf("err = %v", err)
		}
		if topic.callCount != 0 {
			t.Error("published after model failure")
		}
	})

	t.Run("publish", func(t *testing.T) {
		r := New(&fakeLogs{}, &fakeModel{body: []byte("{}")}, &fakeTopic{err: boom}, testConfig(), nil)
		resp, err := r.Handle(context.Background(), cloudWatchEvent(`{"logGroup":"g","logStream":"s"}`))
		if !errors.Is(err, boom) {
			t.Fatalf("err = %v", err)
		}
		if resp.StatusCode != 0 {
			t.Errorf("status = %d on failure", resp.StatusCode)
		}
	})
}

const alarmMessage = `{
	"AlarmName": "GuardrailIntervenedAlarm",
	"AlarmDescription": "Triggers on guardrail intervention.",
	"AWSAccountId": "111111111111",
	"NewStateValue": "ALARM",
	"NewStateReason": "Threshold Crossed",
	"StateChangeTime": "2024-12-03T00:34:33.918+0000",
	"Region": "US West (Oregon)"
}`

func invocation(stop, text string) string {
	return `{"modelId":"us.amazon.nova-pro-v1:0","region":"us-west-2",` +
		`"input":{"inputBodyJson":{"messages":[{"role":"user","content":[{"text":"` + text + `"}]}]}},` +
		`"output":{"outputBodyJson":{"output":{"message":{"role":"assistant","content":[{"text":"blocked"}]}},"stopReason":"` + stop + `"}}}`
}

func snsEvent(message string) events.SNSEvent {
	return events.SNSEvent{Records: []events.SNSEventRecord{{SNS: events.SNSEntity{Message: message}}}}
}

func TestHandleAlarm(t *testing.T) {
	logs := &fakeLogs{messages: []string{
		invocation("guardrail_intervened", "which insurer is cheaper"),
		invocation("end_turn", "what is a deductible"),
	}}
	model := &fakeModel{body: []byte(`{"output":{"message":{"role":"assistant","content":[{"text":"- **Alarm Name:** GuardrailIntervenedAlarm"}]}}}`)}
	topic := &fakeTopic{}
	r := New(logs, model, topic, testConfig(), nil)

	if err := r.HandleAlarm(context.Background(), snsEvent(alarmMessage)); err != nil {
		t.Fatalf("HandleAlarm: %v", err)
	}

	at, _ := time.Parse(StateChangeLayout, "2024-12-03T00:34:33.918+0000")
	if got := aws.ToInt64(logs.getIn.StartTime); got != at.Add(-5*time.Minute).UnixMilli() {
		t.Errorf("start = %d", got)
	}
	if got := aws.ToInt64(logs.getIn.EndTime); got != at.Add(5*time.Minute).UnixMilli() {
		t.Errorf("end = %d", got)
	}
	if got := aws.ToString(logs.getIn.LogGroupName); got != "bedrock" {
		t.Errorf("log group = %q", got)
	}

	if got := aws.ToString(model.in.ModelId); got != "summary-model" {
		t.Errorf("model = %q", got)
	}
	var req NovaRequest
	if err := json.Unmarshal(model.in.Body, &req); err != nil {
		t.Fatal(err)
	}
	prompt := req.Messages[0].Content[0].Text
	if !strings.Contains(prompt, "which insurer is cheaper") {
		t.Errorf("prompt missing intervened input:\n%s", prompt)
	}
	if strings.Contains(prompt, "what is a deductible") {
		t.Errorf("prompt includes non-intervened input:\n%s", prompt)
	}

	if got := aws.ToString(topic.in.Message); got != "- **Alarm Name:** GuardrailIntervenedAlarm" {
		t.Errorf("published = %q", got)
	}
}

func TestHandleAlarmSwallowsErrors(t *testing.T) {
	tests := []struct {
		name  string
		event events.SNSEvent
		logs  *fakeLogs
		model *fakeModel
	}{
		{"no records", events.SNSEvent{}, &fakeLogs{}, &fakeModel{}},
		{"bad payload", snsEvent("not json"), &fakeLogs{}, &fakeModel{}},
		{"logs fail", snsEvent(alarmMessage), &fakeLogs{err: errors.New("denied")}, &fakeModel{}},
		{"model fails", snsEvent(alarmMessage), &fakeLogs{}, &fakeModel{err: errors.New("throttled")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topic := &fakeTopic{}
			r := New(tt.logs, tt.model, topic, testConfig(), nil)
			if err := r.HandleAlarm(context.Background(), tt.event); err != nil {
				t.Fatalf("HandleAlarm returned %v", err)
			}
			if topic.callCount != 0 {
				t.Error("published despite failure")
			}
		})
	}
}

func TestHandleAlarmBadTimeUsesNow(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	logs := &fakeLogs{}
	r := New(logs, &fakeModel{body: []byte(`{"output":{"message":{"content":[{"text":"ok"}]}}}`)}, &fakeTopic{}, testConfig(), nil)
	r.now = func() time.Time { return now }

	if err := r.HandleAlarm(context.Background(), snsEvent(`{"AlarmName":"a","StateChangeTime":"yesterday"}`)); err != nil {
		t.Fatal(err)
	}
	if got := aws.ToInt64(logs.getIn.StartTime); got != now.Add(-5*time.Minute).UnixMilli() {
		t.Errorf("start = %d", got)
	}
}

func TestParseNovaResponse(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{"valid", `{"output":{"message":{"content":[{"text":"summary"}]}}}`, "summary", false},
		{"trailing comma", `{"output":{"message":{"content":[{"text":"summary"},]}}}`, "summary", false},
		{"no message", `{"output":{}}`, "", true},
		{"empty content", `{"output":{"message":{"content":[]}}}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseNovaResponse([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSummaryPromptWithoutEvents(t *testing.T) {
	var alarm events.CloudWatchAlarmSNSPayload
	if err := json.Unmarshal([]byte(alarmMessage), &alarm); err != nil {
		t.Fatal(err)
	}
	got, err := SummaryPrompt(alarm, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "Alarm Name: GuardrailIntervenedAlarm") {
		t.Errorf("prompt = %q", got)
	}
	if !strings.Contains(got, "AWS Account ID: 111111111111") {
		t.Errorf("prompt = %q", got)
	}
	if strings.Contains(got, "<events>") {
		t.Errorf("prompt has events block with no events: %q", got)
	}
}
