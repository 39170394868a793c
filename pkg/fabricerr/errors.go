// Package fabricerr provides the structured error system shared by every
// component of the kernel dispatch fabric: error codes, categories, and
// request/component context, propagated as typed values rather than panics.
package fabricerr

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Code identifies a specific kind of failure.
type Code string

// The eight error kinds named by the fabric's contract, plus the
// operational codes the ambient stack needs to report state-machine and
// worker-closure failures.
const (
	// ConfigInvalid — validation failed; the component refuses to initialize.
	ConfigInvalid Code = "CONFIG_INVALID"

	// NotInitialized — operation called before Initialize or after Shutdown.
	NotInitialized Code = "NOT_INITIALIZED"

	// QueueFull — enqueue rejected; caller decides to retry or drop.
	QueueFull Code = "QUEUE_FULL"

	// NotFound — missing key, missing recovery point, or unknown kernel id.
	NotFound Code = "NOT_FOUND"

	// IntegrityFailure — checksum mismatch or decompression failure on restore.
	IntegrityFailure Code = "INTEGRITY_FAILURE"

	// IoFailure — file-system error (create/read/write/rename).
	IoFailure Code = "IO_FAILURE"

	// CapabilityUnavailable — accelerator op unsupported on this platform.
	CapabilityUnavailable Code = "CAPABILITY_UNAVAILABLE"

	// StrategyUnknown — unrecognized balancer strategy name.
	StrategyUnknown Code = "STRATEGY_UNKNOWN"

	// Operational codes, not part of the spec's eight kinds but required to
	// report ambient-stack failures without panicking across a boundary.
	AlreadyStarted     Code = "ALREADY_STARTED"
	ShutdownInProgress Code = "SHUTDOWN_IN_PROGRESS"
	OperationCanceled  Code = "OPERATION_CANCELED"
	OperationTimeout   Code = "OPERATION_TIMEOUT"
	PanicRecovered     Code = "PANIC_RECOVERED"
	ServiceDegraded    Code = "SERVICE_DEGRADED"
	InternalError      Code = "INTERNAL_ERROR"
)

// Category groups related codes for logging/metrics purposes.
type Category string

const (
	CategoryConfig     Category = "config"
	CategoryLifecycle  Category = "lifecycle"
	CategoryResource   Category = "resource"
	CategoryData       Category = "data"
	CategoryCapability Category = "capability"
	CategoryOperation  Category = "operation"
	CategoryInternal   Category = "internal"
)

func categoryFor(code Code) Category {
	switch code {
	case ConfigInvalid:
		return CategoryConfig
	case NotInitialized, AlreadyStarted, ShutdownInProgress:
		return CategoryLifecycle
	case QueueFull, ServiceDegraded:
		return CategoryResource
	case NotFound, IntegrityFailure, IoFailure:
		return CategoryData
	case CapabilityUnavailable:
		return CategoryCapability
	case StrategyUnknown, OperationCanceled, OperationTimeout:
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

func retryableByDefault(code Code) bool {
	switch code {
	case QueueFull, OperationTimeout, ServiceDegraded, InternalError:
		return true
	default:
		return false
	}
}

// Error is the structured error value returned across every component
// boundary in the fabric.
type Error struct {
	Code      Code                   `json:"code"`
	Category  Category               `json:"category"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Context   map[string]string      `json:"context,omitempty"`
	Cause     error                  `json:"-"`
	Timestamp time.Time              `json:"timestamp"`
	Component string                 `json:"component,omitempty"`
	Operation string                 `json:"operation,omitempty"`
	Retryable bool                   `json:"retryable"`
	Stack     string                 `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same Code.
func (e *Error) Is(target error) bool {
	if other, ok := target.(*Error); ok {
		return e.Code == other.Code
	}
	return false
}

// JSON renders the error as a JSON string, for logging or wire transport.
func (e *Error) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// New creates an Error with defaults derived from its code.
func New(code Code, message string) *Error {
	return &Error{
		Code:      code,
		Category:  categoryFor(code),
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
		Context:   make(map[string]string),
		Retryable: retryableByDefault(code),
	}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// WithContext attaches a single contextual key/value pair.
func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail attaches a single structured detail.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the originating component name.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithOperation sets the operation name within the component.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithStack captures the current goroutine's stack trace, skipping frames
// inside this package.
func (e *Error) WithStack() *Error {
	e.Stack = captureStack(2)
	return e
}

func captureStack(skip int) string {
	const depth = 16
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// Is reports whether err is a *Error with the given code, unwrapping as
// needed — a convenience for call sites that only care about the code.
func Is(err error, code Code) bool {
	var fe *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			fe = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return fe != nil && fe.Code == code
}
