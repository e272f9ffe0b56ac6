package model

import (
	"errors"
	"fmt"
)

// ProviderErrorKind classifies provider failures for retry decisions.
type ProviderErrorKind string

const (
	// ProviderErrorKindAuth indicates authentication/authorization failures.
	ProviderErrorKindAuth ProviderErrorKind = "auth"
	// ProviderErrorKindInvalidRequest indicates retrying the same request
	// will not succeed.
	ProviderErrorKindInvalidRequest ProviderErrorKind = "invalid_request"
	// ProviderErrorKindRateLimited indicates the provider is throttling.
	ProviderErrorKindRateLimited ProviderErrorKind = "rate_limited"
	// ProviderErrorKindUnavailable indicates a transient failure (5xx,
	// network).
	ProviderErrorKindUnavailable ProviderErrorKind = "unavailable"
	// ProviderErrorKindUnknown indicates an unclassified failure.
	ProviderErrorKindUnknown ProviderErrorKind = "unknown"
)

// ProviderError describes a failure returned by a model provider. Rate-limit
// failures match ErrRateLimited via errors.Is.
type ProviderError struct {
	Provider   string
	Operation  string
	HTTPStatus int
	Kind       ProviderErrorKind
	Code       string
	Message    string
	Cause      error
}

// KindFromStatus maps an HTTP status code to a ProviderErrorKind.
func KindFromStatus(status int) ProviderErrorKind {
	switch {
	case status == 401 || status == 403:
		return ProviderErrorKindAuth
	case status == 429:
		return ProviderErrorKindRateLimited
	case status >= 500:
		return ProviderErrorKindUnavailable
	case status >= 400:
		return ProviderErrorKindInvalidRequest
	default:
		return ProviderErrorKindUnknown
	}
}

func (e *ProviderError) Error() string {
	op := e.Operation
	if op == "" {
		op = "request"
	}
	status := ""
	if e.HTTPStatus > 0 {
		status = fmt.Sprintf("%d ", e.HTTPStatus)
	}
	code := ""
	if e.Code != "" {
		code = e.Code + ": "
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if msg == "" {
		msg = "provider error"
	}
	return fmt.Sprintf("%s %s %s(%s): %s", e.Provider, e.Kind, status, op, code+msg)
}

// Unwrap returns the underlying SDK error.
func (e *ProviderError) Unwrap() error { return e.Cause }

// Is reports whether target is ErrRateLimited for throttling failures.
func (e *ProviderError) Is(target error) bool {
	return target == ErrRateLimited && e.Kind == ProviderErrorKindRateLimited
}

// Retryable reports whether retrying the call may succeed unchanged.
func (e *ProviderError) Retryable() bool {
	return e.Kind == ProviderErrorKindRateLimited || e.Kind == ProviderErrorKindUnavailable
}

// AsProviderError returns the first ProviderError in err's chain, if any.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
