package bot

import (
	"errors"
	"fmt"
	"strings"
)

// ParsingError indicates a malformed inbound record (missing chat
// identifier, undecodable payload). Surfaced as StatusParsingFailed and
// never retried.
type ParsingError struct {
	Reason string
}

func (e *ParsingError) Error() string {
	return fmt.Sprintf("parsing message: %s", e.Reason)
}

// ValidationError marks messages dropped by design: self-authored
// echoes and broadcast-channel traffic. Low severity, not user-visible.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("message rejected: %s", e.Reason)
}

// AIServiceError wraps a failed language-model call or an unusable
// response. Server-side (5xx) failures are eligible for one automatic
// retry with media stripped from the conversation.
type AIServiceError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *AIServiceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("ai service: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("ai service: %s", e.Message)
}

func (e *AIServiceError) Unwrap() error { return e.Err }

// Retryable reports whether the failure looks like a transient
// server-side error worth one media-stripped retry.
func (e *AIServiceError) Retryable() bool {
	if e.StatusCode >= 500 {
		return true
	}
	return strings.Contains(e.Message, "500")
}

// ToolExecutionError carries the name of the tool whose handler failed.
// It terminates the current round with a user-visible apology; any
// partially-applied side effect is left for the tool owner to reconcile.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// TransportError wraps a delivery failure. Logged and dropped: the
// channel itself is the failure point, so no fallback can reach the user.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError anywhere in its chain.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsParsing reports whether err is a ParsingError anywhere in its chain.
func IsParsing(err error) bool {
	var pe *ParsingError
	return errors.As(err, &pe)
}
