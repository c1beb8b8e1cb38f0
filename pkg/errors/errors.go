// Package errors provides structured, stack-capturing error values for the
// run-coordination core. Every error surfaced across a component boundary is
// one of the kinds enumerated below; callers distinguish them with Is/As.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// Kind categorizes an error by how the run-coordination core must react to it.
type Kind string

const (
	// ContractViolation covers reserved-field misuse and double run-id
	// initialization. Never recovered; callers should treat it as a bug.
	ContractViolation Kind = "contract_violation"
	// ConfigViolation covers a Stage failing to start. The run aborts.
	ConfigViolation Kind = "config_violation"
	// ProcessingFailure covers a Stage raising while handling one document.
	// The document FAILs; the run continues.
	ProcessingFailure Kind = "processing_failure"
	// TransportFailure covers messenger/broker errors. Retried at the call
	// site up to a bounded count; surfaces as ProcessingFailure if persistent.
	TransportFailure Kind = "transport_failure"
	// BackendFailure covers an indexer backend call failing. Per-item FAIL
	// events are emitted; the batch is not retried.
	BackendFailure Kind = "backend_failure"
	// Timeout covers a connector or completion wait exceeding its deadline.
	// The run aborts with exit code 2.
	Timeout Kind = "timeout"
)

// StackFrame is a single call-stack entry captured at error creation time.
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error is the structured error value threaded through the core.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail attaches a key-value pair to the error for structured logging.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// FirstLine returns the failure reason suitable for Event.Message: the
// message alone, never the deeper stack (open question (b)).
func (e *Error) FirstLine() string {
	return e.Message
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap attaches context to an existing error, preserving the original stack
// if it was already one of ours.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) {
		return &Error{
			Kind:    kind,
			Message: message,
			Cause:   err,
			Stack:   existing.Stack,
		}
	}

	return &Error{
		Kind:    kind,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsRetryable reports whether the error kind is one the call site should
// retry a bounded number of times before giving up.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case TransportFailure, Timeout:
		return true
	default:
		return false
	}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
