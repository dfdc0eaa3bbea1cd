package guardrail

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/tidwall/pretty"
	"go.uber.org/zap"
)

// ConverseAPI is the part of *bedrockruntime.Client the runner needs.
type ConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

type Options struct {
	ModelID          string
	GuardrailVersion string
	SystemPrompt     string
}

type Client struct {
	api  ConverseAPI
	opts Options
	log  *zap.Logger
}

func NewClient(api ConverseAPI, opts Options, log *zap.Logger) *Client {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if opts.GuardrailVersion == "" {
		opts.GuardrailVersion = "DRAFT"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{api: api, opts: opts, log: log}
}

func (c *Client) ModelID() string { return c.opts.ModelID }

// Converse sends prompt as the only user message with guardrailID enforced
// and tracing enabled. Errors never escape: they come back as Failed.
func (c *Client) Converse(ctx context.Context, guardrailID, prompt string) Outcome {
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.opts.ModelID),
		System: []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: c.opts.SystemPrompt},
		},
		Messages: []types.Message{
			{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{
					&types.ContentBlockMemberText{Value: prompt},
				},
			},
		},
		GuardrailConfig: &types.GuardrailConfiguration{
			GuardrailIdentifier: aws.String(guardrailID),
			GuardrailVersion:    aws.String(c.opts.GuardrailVersion),
			Trace:               types.GuardrailTraceEnabled,
		},
	}

	res, err := c.api.Converse(ctx, input)
	if err != nil {
		f := classifyError(ctx, err)
		c.log.Warn("converse call failed",
			zap.String("guardrail_id", guardrailID),
			zap.Stringer("kind", f.Kind),
			zap.String("code", f.Code),
			zap.Error(err),
		)
		return f
	}

	outcome := interpret(res)
	if f, ok := outcome.(Failed); ok {
		c.log.Warn("converse response unusable",
			zap.String("guardrail_id", guardrailID),
			zap.Stringer("kind", f.Kind),
			zap.Error(f.Cause),
		)
		if ce := c.log.Check(zap.DebugLevel, "raw converse response"); ce != nil {
			raw, _ := json.Marshal(res)
			ce.Write(zap.ByteString("response", pretty.Pretty(raw)))
		}
	}
	return outcome
}

func classifyError(ctx context.Context, err error) Failed {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Failed{Kind: FailureCanceled, Cause: err}
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return Failed{Kind: FailureService, Code: apiErr.ErrorCode(), Cause: err}
	}
	return Failed{Kind: FailureTransport, Cause: err}
}

// interpret extracts the output text, guardrail action and stop reason.
func interpret(res *bedrockruntime.ConverseOutput) Outcome {
	if res == nil || res.Output == nil {
		return Failed{Kind: FailureMalformed, Cause: ErrNoOutput}
	}
	msg, ok := res.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return Failed{Kind: FailureMalformed, Cause: ErrNoOutput}
	}

	s := Success{
		Text:       NoOutputText,
		Action:     NoAction,
		StopReason: NoStopReason,
	}
	if len(msg.Value.Content) > 0 {
		if text, ok := msg.Value.Content[0].(*types.ContentBlockMemberText); ok {
			s.Text = text.Value
		}
	}
	if res.StopReason != "" {
		s.StopReason = string(res.StopReason)
	}
	if res.Trace != nil && res.Trace.Guardrail != nil && len(res.Trace.Guardrail.ModelOutput) > 0 {
		s.Action = strings.Join(res.Trace.Guardrail.ModelOutput, "\n")
	}
	return s
}
