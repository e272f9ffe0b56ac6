// Package model provides the provider-agnostic structured-output contract the
// planner uses to invoke LLMs. A Client maps a prompt to a JSON document that
// must conform to the schema carried by the request; provider adapters live
// under features/model and translate Requests to SDK-specific calls.
package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/tripgraph/tripgraph/runtime/schema"
)

type (
	// Client invokes a model and returns its structured output. Implementations
	// must be safe for concurrent use. The returned document is not guaranteed
	// to conform to Request.Schema; callers validate it with Conform.
	Client interface {
		Invoke(ctx context.Context, req Request) (json.RawMessage, error)
	}

	// ClientFunc adapts a function to Client.
	ClientFunc func(ctx context.Context, req Request) (json.RawMessage, error)

	// Middleware wraps a Client.
	Middleware func(Client) Client

	// Request is one structured-output invocation.
	Request struct {
		// Model overrides the adapter's default model identifier when set.
		Model string
		// System is the system prompt.
		System string
		// Messages is the ordered conversation sent to the model.
		Messages []Message
		// Schema is the JSON Schema the output must satisfy. Adapters present it
		// to the provider as a forced tool or response format named after
		// Schema.Name().
		Schema *schema.Schema
		// MaxTokens caps completion tokens. Zero selects the adapter default.
		MaxTokens int
		// Temperature controls sampling. Zero means greedy decoding.
		Temperature float64
	}

	// Message is one chat message.
	Message struct {
		Role    Role
		Content string
	}

	// Role is the author of a message.
	Role string

	// SchemaValidationError reports model output that does not conform to the
	// requested schema.
	SchemaValidationError struct {
		// Schema names the schema the output was validated against.
		Schema string
		// Output is the rejected document, possibly truncated.
		Output string
		// Err is the underlying validation or decoding error.
		Err error
	}
)

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

var (
	// ErrSchemaValidation matches every *SchemaValidationError via errors.Is.
	ErrSchemaValidation = errors.New("model: output does not conform to schema")
	// ErrRateLimited indicates the provider throttled the request.
	ErrRateLimited = errors.New("model: rate limited")
	// ErrNoOutput indicates the provider response carried no structured output.
	ErrNoOutput = errors.New("model: response has no structured output")
)

const maxReportedOutput = 512

// Invoke calls f.
func (f ClientFunc) Invoke(ctx context.Context, req Request) (json.RawMessage, error) {
	return f(ctx, req)
}

// Chain wraps c with middleware, the first middleware being the outermost.
func Chain(c Client, mw ...Middleware) Client {
	for i := len(mw) - 1; i >= 0; i-- {
		c = mw[i](c)
	}
	return c
}

// UserMessage returns a user message with the given content.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Conform validates out against the request schema. Failures are returned as
// *SchemaValidationError.
func Conform(req Request, out json.RawMessage) error {
	if req.Schema == nil {
		return nil
	}
	if err := req.Schema.Validate(out); err != nil {
		return NewSchemaValidationError(req.Schema.Name(), out, err)
	}
	return nil
}

// NewSchemaValidationError builds a SchemaValidationError, truncating output
// to keep error messages readable.
func NewSchemaValidationError(schemaName string, output []byte, err error) *SchemaValidationError {
	s := string(output)
	if len(s) > maxReportedOutput {
		cut := maxReportedOutput
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return &SchemaValidationError{Schema: schemaName, Output: s, Err: err}
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("model: output does not conform to schema %q: %v", e.Schema, e.Err)
}

// Unwrap returns the validation error.
func (e *SchemaValidationError) Unwrap() error { return e.Err }

// Is reports whether target is ErrSchemaValidation.
func (e *SchemaValidationError) Is(target error) bool { return target == ErrSchemaValidation }
