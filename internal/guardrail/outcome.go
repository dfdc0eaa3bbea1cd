// Package guardrail sends one prompt through Bedrock Converse with a
// guardrail attached and classifies whether the guardrail intervened.
package guardrail

import (
	"errors"
	"fmt"
)

const (
	// StopReasonIntervened is the Converse stop reason reported when a
	// guardrail blocked or rewrote the exchange.
	StopReasonIntervened = "guardrail_intervened"

	NoAction         = "No action"
	NoOutputText     = "No output text found"
	NoStopReason     = "No stop reason provided"
	FailedOutputText = "Converse call failed"
)

var ErrNoOutput = errors.New("converse response has no output message")

// Outcome is the result of one Converse call: either Success or Failed.
type Outcome interface {
	outcome()
}

// Success is a call that returned a usable response. It may still be an
// intervention.
type Success struct {
	Text       string
	Action     string
	StopReason string
}

func (Success) outcome() {}

type FailureKind int

const (
	// FailureTransport covers network and client-side errors.
	FailureTransport FailureKind = iota
	// FailureService is an error response from Bedrock (throttling,
	// validation, access denied).
	FailureService
	// FailureMalformed is a response without the expected output message.
	FailureMalformed
	// FailureCanceled means the caller's context ended first.
	FailureCanceled
)

func (k FailureKind) String() string {
	switch k {
	case FailureTransport:
		return "transport"
	case FailureService:
		return "service"
	case FailureMalformed:
		return "malformed_response"
	case FailureCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("FailureKind(%d)", int(k))
	}
}

// Failed is a call that produced no classifiable response. It is never
// counted as an intervention.
type Failed struct {
	Kind FailureKind
	// Code is the service error code for FailureService.
	Code  string
	Cause error
}

func (Failed) outcome() {}

func (f Failed) Error() string {
	if f.Code != "" {
		return fmt.Sprintf("%s error (%s): %v", f.Kind, f.Code, f.Cause)
	}
	return fmt.Sprintf("%s error: %v", f.Kind, f.Cause)
}

func (f Failed) Unwrap() error { return f.Cause }

// Intervened reports whether either signal shows the guardrail acted. The
// two signals come from different parts of the response and either one is
// enough.
func Intervened(stopReason, action string) bool {
	return stopReason == StopReasonIntervened || action != NoAction
}

// Classify applies Intervened to a Success and returns false for anything
// else.
func Classify(o Outcome) bool {
	s, ok := o.(Success)
	if !ok {
		return false
	}
	return Intervened(s.StopReason, s.Action)
}
