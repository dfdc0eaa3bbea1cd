// Package relay turns a log alarm into a notification: it pulls the latest
// log lines behind the alarm, asks a Bedrock model to analyse them and
// publishes the answer to an SNS topic.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/gzhole/guardrailwatch/internal/config"
)

const (
	StatusOK    = 200
	SuccessBody = `"Lambda executed successfully"`

	contentTypeJSON = "application/json"
)

var ErrMissingDetail = errors.New("event detail is missing a required field")

// LogsAPI is the part of *cloudwatchlogs.Client the relay uses.
type LogsAPI interface {
	FilterLogEvents(ctx context.Context, params *cloudwatchlogs.FilterLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.FilterLogEventsOutput, error)
	GetLogEvents(ctx context.Context, params *cloudwatchlogs.GetLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetLogEventsOutput, error)
}

// ModelAPI is the part of *bedrockruntime.Client the relay uses.
type ModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// PublishAPI is the part of *sns.Client the relay uses.
type PublishAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Response is returned to the Lambda runtime on success.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// ModelRequest is the body sent to the model.
type ModelRequest struct {
	Input   string `json:"input"`
	Context string `json:"context"`
}

type eventDetail struct {
	LogGroup  string `json:"logGroup"`
	LogStream string `json:"logStream"`
}

type Relay struct {
	logs  LogsAPI
	model ModelAPI
	topic PublishAPI
	cfg   config.Relay
	log   *zap.Logger
	now   func() time.Time
}

func New(logs LogsAPI, model ModelAPI, topic PublishAPI, cfg config.Relay, log *zap.Logger) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{
		logs:  logs,
		model: model,
		topic: topic,
		cfg:   cfg,
		log:   log,
		now:   time.Now,
	}
}

// Handle processes one alarm event end to end. Every failure is returned to
// the runtime as is: there is no retry and no partial notification.
func (r *Relay) Handle(ctx context.Context, event events.CloudWatchEvent) (Response, error) {
	detail, err := parseDetail(event.Detail)
	if err != nil {
		return Response{}, err
	}

	out, err := r.logs.FilterLogEvents(ctx, &cloudwatchlogs.FilterLogEventsInput{
		LogGroupName:   aws.String(detail.LogGroup),
		LogStreamNames: []string{detail.LogStream},
		Limit:          aws.Int32(r.cfg.LogLimit),
	})
	if err != nil {
		return Response{}, fmt.Errorf("filter log events: %w", err)
	}

	messages := make([]string, 0, len(out.Events))
	for _, e := range out.Events {
		messages = append(messages, aws.ToString(e.Message))
	}
	r.log.Debug("fetched log events",
		zap.String("log_group", detail.LogGroup),
		zap.String("log_stream", detail.LogStream),
		zap.Int("count", len(messages)),
	)

	body, err := json.Marshal(ModelRequest{
		Input:   JoinMessages(messages),
		Context: r.cfg.Instruction,
	})
	if err != nil {
		return Response{}, err
	}

	res, err := r.model.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(r.cfg.ModelID),
		Body:        body,
		ContentType: aws.String(contentTypeJSON),
	})
	if err != nil {
		return Response{}, fmt.Errorf("invoke model: %w", err)
	}
	analysis := string(res.Body)

	if err := r.publish(ctx, analysis); err != nil {
		return Response{}, err
	}
	r.log.Info("SNS notification sent with model response", zap.String("model_response", analysis))

	return Response{StatusCode: StatusOK, Body: SuccessBody}, nil
}

// JoinMessages concatenates log messages with newlines.
func JoinMessages(messages []string) string {
	return strings.Join(messages, "\n")
}

func parseDetail(raw json.RawMessage) (eventDetail, error) {
	var d eventDetail
	if len(raw) == 0 {
		return d, fmt.Errorf("%w: detail", ErrMissingDetail)
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return d, fmt.Errorf("decode event detail: %w", err)
	}
	if d.LogGroup == "" {
		return d, fmt.Errorf("%w: detail.logGroup", ErrMissingDetail)
	}
	if d.LogStream == "" {
		return d, fmt.Errorf("%w: detail.logStream", ErrMissingDetail)
	}
	return d, nil
}

func (r *Relay) publish(ctx context.Context, message string) error {
	_, err := r.topic.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(r.cfg.TopicARN),
		Message:  aws.String(message),
		Subject:  aws.String(r.cfg.Subject),
	})
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
