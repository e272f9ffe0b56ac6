// Package openai provides a model.Client backed by the OpenAI Chat Completions
// API. Structured output uses the json_schema response format named after the
// request schema.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/tripgraph/tripgraph/runtime/model"
)

const providerName = "openai"

type (
	// ChatCompletionsClient captures the subset of the OpenAI SDK used by the
	// adapter. It is satisfied by *openai.ChatCompletionService.
	ChatCompletionsClient interface {
		New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	}

	// Options configures the adapter.
	Options struct {
		// DefaultModel is used when model.Request.Model is empty.
		DefaultModel string
		// MaxTokens is used when model.Request.MaxTokens is zero.
		MaxTokens int
		// Strict enables strict schema adherence. Strict mode requires every
		// property to be listed as required, so it is off by default.
		Strict bool
	}

	// Client implements model.Client via Chat Completions.
	Client struct {
		chat         ChatCompletionsClient
		defaultModel string
		maxTokens    int
		strict       bool
	}
)

// New builds a Client from a chat completions client.
func New(chat ChatCompletionsClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	return &Client{chat: chat, defaultModel: opts.DefaultModel, maxTokens: opts.MaxTokens, strict: opts.Strict}, nil
}

// NewFromAPIKey constructs a client using the default OpenAI HTTP client.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	oc := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&oc.Chat.Completions, opts)
}

// Invoke implements model.Client.
func (c *Client) Invoke(ctx context.Context, req model.Request) (json.RawMessage, error) {
	params, err := c.prepare(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return nil, wrapError(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: %w: no choices", model.ErrNoOutput)
	}
	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return nil, fmt.Errorf("openai: %w: refused: %s", model.ErrNoOutput, choice.Message.Refusal)
	}
	if choice.Message.Content == "" {
		return nil, fmt.Errorf("openai: %w (finish reason %s)", model.ErrNoOutput, choice.FinishReason)
	}
	return json.RawMessage(choice.Message.Content), nil
}

func (c *Client) prepare(req model.Request) (openai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return openai.ChatCompletionNewParams{}, errors.New("openai: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		if m.Role == model.RoleAssistant {
			msgs = append(msgs, openai.AssistantMessage(m.Content))
			continue
		}
		msgs = append(msgs, openai.UserMessage(m.Content))
	}
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelID),
		Messages: msgs,
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.Schema != nil {
		doc, err := req.Schema.Map()
		if err != nil {
			return openai.ChatCompletionNewParams{}, fmt.Errorf("openai: output schema: %w", err)
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   req.Schema.Name(),
					Schema: doc,
					Strict: openai.Bool(c.strict),
				},
			},
		}
	}
	return params, nil
}

func wrapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &model.ProviderError{
			Provider:   providerName,
			Operation:  "chat.completions",
			HTTPStatus: apiErr.StatusCode,
			Kind:       model.KindFromStatus(apiErr.StatusCode),
			Code:       apiErr.Code,
			Message:    http.StatusText(apiErr.StatusCode),
			Cause:      err,
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("openai chat.completions: %w", err)
	}
	return &model.ProviderError{
		Provider:  providerName,
		Operation: "chat.completions",
		Kind:      model.ProviderErrorKindUnavailable,
		Cause:     err,
	}
}
