package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Relay modes select which Lambda handler cmd/relay starts.
const (
	RelayModeEvent = "event"
	RelayModeAlarm = "alarm"
)

const (
	DefaultRelaySubject     = "Bedrock Invocation Intervened: Analysis"
	DefaultRelayInstruction = "Analyze the invocation log to detect issues and provide a summary."
	DefaultRelayLogLimit    = 5
	DefaultAlarmLogGroup    = "bedrock"
	DefaultAlarmLogStream   = "aws/bedrock/modelinvocations"
	DefaultAlarmWindow      = 5 * time.Minute

	maxRelayLogLimit = 10000
)

var ErrMissingTopic = errors.New("RELAY_TOPIC_ARN is required")

// Relay is the Lambda configuration, read from the function environment.
type Relay struct {
	Mode        string
	TopicARN    string
	ModelID     string
	Subject     string
	Instruction string
	LogLimit    int32
	LogLevel    string

	// Alarm summarizer settings.
	AlarmLogGroup  string
	AlarmLogStream string
	Window         time.Duration
	SummaryModelID string
}

// LoadRelay reads the relay configuration from the process environment.
func LoadRelay() (*Relay, error) {
	return loadRelay(os.Getenv)
}

func loadRelay(getenv func(string) string) (*Relay, error) {
	cfg := &Relay{
		Mode:           envOr(getenv, "RELAY_MODE", RelayModeEvent),
		TopicARN:       getenv("RELAY_TOPIC_ARN"),
		ModelID:        envOr(getenv, "RELAY_MODEL_ID", DefaultModelID),
		Subject:        envOr(getenv, "RELAY_SUBJECT", DefaultRelaySubject),
		Instruction:    envOr(getenv, "RELAY_INSTRUCTION", DefaultRelayInstruction),
		LogLimit:       DefaultRelayLogLimit,
		LogLevel:       envOr(getenv, "RELAY_LOG_LEVEL", DefaultLogLevel),
		AlarmLogGroup:  envOr(getenv, "RELAY_ALARM_LOG_GROUP", DefaultAlarmLogGroup),
		AlarmLogStream: envOr(getenv, "RELAY_ALARM_LOG_STREAM", DefaultAlarmLogStream),
		Window:         DefaultAlarmWindow,
	}
	cfg.SummaryModelID = envOr(getenv, "RELAY_SUMMARY_MODEL_ID", cfg.ModelID)

	if v := getenv("RELAY_LOG_LIMIT"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("RELAY_LOG_LIMIT: %w", err)
		}
		if n < 1 || n > maxRelayLogLimit {
			return nil, fmt.Errorf("RELAY_LOG_LIMIT must be between 1 and %d, got %d", maxRelayLogLimit, n)
		}
		cfg.LogLimit = int32(n)
	}

	if v := getenv("RELAY_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("RELAY_WINDOW: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("RELAY_WINDOW must be positive, got %s", d)
		}
		cfg.Window = d
	}

	switch cfg.Mode {
	case RelayModeEvent, RelayModeAlarm:
	default:
		return nil, fmt.Errorf("RELAY_MODE: unknown mode %q (want %q or %q)", cfg.Mode, RelayModeEvent, RelayModeAlarm)
	}

	if cfg.TopicARN == "" {
		return nil, ErrMissingTopic
	}
	return cfg, nil
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}
