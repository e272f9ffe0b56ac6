// Package anthropic provides a model.Client backed by the Anthropic Claude
// Messages API. Structured output is obtained by advertising a single tool
// whose input schema is the requested output schema and forcing the model to
// call it; the tool input is the output document.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tripgraph/tripgraph/runtime/model"
)

const providerName = "anthropic"

type (
	// MessagesClient captures the subset of the Anthropic SDK client used by
	// the adapter. It is satisfied by *sdk.MessageService.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	}

	// Options configures the adapter.
	Options struct {
		// DefaultModel is used when model.Request.Model is empty.
		DefaultModel string
		// MaxTokens is used when model.Request.MaxTokens is zero.
		MaxTokens int
	}

	// Client implements model.Client on top of Claude Messages.
	Client struct {
		msg          MessagesClient
		defaultModel string
		maxTokens    int
	}
)

// New builds a Client from an Anthropic Messages client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	return &Client{msg: msg, defaultModel: opts.DefaultModel, maxTokens: opts.MaxTokens}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, opts)
}

// Invoke implements model.Client.
func (c *Client) Invoke(ctx context.Context, req model.Request) (json.RawMessage, error) {
	params, err := c.prepare(req)
	if err != nil {
		return nil, err
	}
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return nil, wrapError("messages.new", err)
	}
	return decode(msg, req)
}

func (c *Client) prepare(req model.Request) (sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return sdk.MessageNewParams{}, errors.New("anthropic: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	if maxTokens <= 0 {
		return sdk.MessageNewParams{}, errors.New("anthropic: max_tokens must be positive")
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Model:     sdk.Model(modelID),
		Messages:  encodeMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	if req.Schema != nil {
		props, err := req.Schema.Map()
		if err != nil {
			return sdk.MessageNewParams{}, fmt.Errorf("anthropic: output schema: %w", err)
		}
		tool := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: props}, req.Schema.Name())
		if tool.OfTool != nil {
			tool.OfTool.Description = sdk.String("Report the result. The input is the complete answer.")
		}
		params.Tools = []sdk.ToolUnionParam{tool}
		params.ToolChoice = sdk.ToolChoiceParamOfTool(req.Schema.Name())
	}
	return params, nil
}

func encodeMessages(msgs []model.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		block := sdk.NewTextBlock(m.Content)
		if m.Role == model.RoleAssistant {
			out = append(out, sdk.NewAssistantMessage(block))
			continue
		}
		out = append(out, sdk.NewUserMessage(block))
	}
	return out
}

// decode returns the input of the forced tool call. Requests without schema
// return the first text block, which must be JSON.
func decode(msg *sdk.Message, req model.Request) (json.RawMessage, error) {
	if msg == nil {
		return nil, fmt.Errorf("anthropic: %w: nil response", model.ErrNoOutput)
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "tool_use":
			if req.Schema != nil && block.Name == req.Schema.Name() {
				return json.RawMessage(block.Input), nil
			}
		case "text":
			if req.Schema == nil && json.Valid([]byte(block.Text)) {
				return json.RawMessage(block.Text), nil
			}
		}
	}
	return nil, fmt.Errorf("anthropic: %w (stop reason %s)", model.ErrNoOutput, msg.StopReason)
}

func wrapError(op string, err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return &model.ProviderError{
			Provider:   providerName,
			Operation:  op,
			HTTPStatus: apiErr.StatusCode,
			Kind:       model.KindFromStatus(apiErr.StatusCode),
			Message:    http.StatusText(apiErr.StatusCode),
			Cause:      err,
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("anthropic %s: %w", op, err)
	}
	return &model.ProviderError{
		Provider:  providerName,
		Operation: op,
		Kind:      model.ProviderErrorKindUnavailable,
		Cause:     err,
	}
}
