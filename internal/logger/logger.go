package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/gzhole/guardrailwatch/internal/redact"
)

// defaultMaxLogBytes is the size past which the results log is rotated to
// <path>.1 before the next write.
const defaultMaxLogBytes = 10 << 20

// ResultEvent is one line of the results log: a single prompt sent through
// a single guardrail.
type ResultEvent struct {
	Timestamp   string `json:"timestamp"`
	RunID       string `json:"run_id"`
	ModelID     string `json:"model_id"`
	Guardrail   string `json:"guardrail"`
	GuardrailID string `json:"guardrail_id"`
	Prompt      string `json:"prompt"`
	Output      string `json:"output"`
	Action      string `json:"guardrail_action,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
	Intervened  bool   `json:"guardrail_intervened"`
	Failed      bool   `json:"failed,omitempty"`
	Error       string `json:"error,omitempty"`
}

type ResultLogger struct {
	path     string
	maxBytes int64
	file     *os.File
	size     int64
	mu       sync.Mutex
}

func New(path string) (*ResultLogger, error) {
	l := &ResultLogger{path: path, maxBytes: defaultMaxLogBytes}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *ResultLogger) open() error {
	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	l.file = file
	l.size = info.Size()
	return nil
}

func (l *ResultLogger) Log(event ResultEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Fixtures carry sensitive inputs on purpose.
	event.Prompt = redact.Redact(event.Prompt)
	event.Output = redact.Redact(event.Output)
	event.Action = redact.Redact(event.Action)
	if event.Error != "" {
		event.Error = redact.Redact(event.Error)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if l.size > 0 && l.size+int64(len(data)) > l.maxBytes {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("rotate results log: %w", err)
		}
	}

	n, err := l.file.Write(data)
	l.size += int64(n)
	return err
}

func (l *ResultLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(l.path, l.path+".1"); err != nil {
		return err
	}
	return l.open()
}

func (l *ResultLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}
