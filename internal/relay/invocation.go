package relay

import "strings"

// InvocationLog is the subset of a Bedrock model invocation log record the
// alarm summary needs.
type InvocationLog struct {
	Identity struct {
		ARN string `json:"arn"`
	} `json:"identity"`
	Region    string `json:"region"`
	ModelID   string `json:"modelId"`
	RequestID string `json:"requestId"`
	Input     struct {
		Body struct {
			Messages []Message `json:"messages"`
		} `json:"inputBodyJson"`
	} `json:"input"`
	Output struct {
		Body struct {
			Output struct {
				Message Message `json:"message"`
			} `json:"output"`
			StopReason string `json:"stopReason"`
		} `json:"outputBodyJson"`
	} `json:"output"`
}

// Intervened reports whether the guardrail stopped this invocation.
func (l *InvocationLog) Intervened() bool {
	return l.Output.Body.StopReason == stopReasonIntervened
}

// InputText joins the text of every user message in the request.
func (l *InvocationLog) InputText() string {
	var parts []string
	for _, m := range l.Input.Body.Messages {
		if m.Role != "" && m.Role != roleUser {
			continue
		}
		for _, c := range m.Content {
			if c.Text != "" {
				parts = append(parts, c.Text)
			}
		}
	}
	return strings.Join(parts, " ")
}

// OutputText is the text the caller received back.
func (l *InvocationLog) OutputText() string {
	var parts []string
	for _, c := range l.Output.Body.Output.Message.Content {
		if c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, " ")
}

// Message is one turn in a Nova messages request or response.
type Message struct {
	Role    string    `json:"role,omitempty"`
	Content []Content `json:"content,omitempty"`
}

type Content struct {
	Text string `json:"text,omitempty"`
}

// NovaRequest is the InvokeModel body for Amazon Nova models.
type NovaRequest struct {
	System   []Content `json:"system,omitempty"`
	Messages []Message `json:"messages"`
}

type NovaResponse struct {
	Output struct {
		Message *Message `json:"message"`
	} `json:"output"`
	StopReason string `json:"stopReason,omitempty"`
}
