// Package toolerrors provides the structured error recorded on failed tool
// calls. A ToolError keeps its cause chain as plain data so it survives being
// checkpointed and reloaded, while still supporting errors.Is/As in-process.
package toolerrors

import (
	"context"
	"errors"
	"fmt"
)

// Code classifies a tool failure.
type Code string

const (
	// CodeHandler is a failure reported by the tool handler itself.
	CodeHandler Code = "handler"
	// CodeTimeout means the per-tool deadline expired before the handler returned.
	CodeTimeout Code = "timeout"
	// CodeInvalidArgs means the arguments did not match the tool payload schema.
	CodeInvalidArgs Code = "invalid_args"
	// CodeInvalidResult means the handler output did not match the result schema.
	CodeInvalidResult Code = "invalid_result"
	// CodeUnknownTool means no tool is registered under the requested name.
	CodeUnknownTool Code = "unknown_tool"
)

// ToolError is a serializable tool failure.
type ToolError struct {
	// Code classifies the failure. Empty is treated as CodeHandler.
	Code Code `json:"code,omitempty"`
	// Message is the human-readable summary of the failure.
	Message string `json:"message"`
	// Cause links to the underlying failure, if any.
	Cause *ToolError `json:"cause,omitempty"`

	// origin is the in-process error the ToolError was built from. It is
	// not serialized, so sentinels only match before a checkpoint round trip.
	origin error
}

// New constructs a handler ToolError with the provided message.
func New(message string) *ToolError {
	if message == "" {
		message = "tool error"
	}
	return &ToolError{Code: CodeHandler, Message: message}
}

// Errorf formats a handler ToolError.
func Errorf(format string, args ...any) *ToolError {
	return New(fmt.Sprintf(format, args...))
}

// WithCode constructs a ToolError of the given code wrapping cause.
func WithCode(code Code, message string, cause error) *ToolError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &ToolError{Code: code, Message: message, Cause: FromError(cause), origin: cause}
}

// FromError converts an arbitrary error into a ToolError chain. Context
// deadline errors are classified as timeouts.
func FromError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	code := CodeHandler
	if errors.Is(err, context.DeadlineExceeded) {
		code = CodeTimeout
	}
	return &ToolError{
		Code:    code,
		Message: err.Error(),
		Cause:   FromError(errors.Unwrap(err)),
		origin:  err,
	}
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the cause to support errors.Is/As.
func (e *ToolError) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Is matches target against the original in-process error chain, so
// sentinels such as context.DeadlineExceeded survive the conversion.
func (e *ToolError) Is(target error) bool {
	return e != nil && e.origin != nil && errors.Is(e.origin, target)
}

// As finds the first error in the original chain that matches target.
func (e *ToolError) As(target any) bool {
	return e != nil && e.origin != nil && errors.As(e.origin, target)
}

// Timeout reports whether the failure was a deadline expiry.
func (e *ToolError) Timeout() bool {
	return e != nil && e.Code == CodeTimeout
}

// Clone returns a deep copy of the chain.
func (e *ToolError) Clone() *ToolError {
	if e == nil {
		return nil
	}
	return &ToolError{Code: e.Code, Message: e.Message, Cause: e.Cause.Clone(), origin: e.origin}
}
