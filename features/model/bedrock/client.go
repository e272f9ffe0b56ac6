// Package bedrock provides a model.Client backed by the AWS Bedrock Converse
// API. Structured output is requested through a single tool whose input
// schema is the output schema, with tool choice forced to that tool.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/tripgraph/tripgraph/runtime/model"
)

const (
	providerName = "bedrock"
	operation    = "converse"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client required
// by the adapter. It matches *bedrockruntime.Client so callers can pass either
// the real client or a mock in tests.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the Bedrock client adapter.
type Options struct {
	// DefaultModel is the model identifier used when the request names none.
	DefaultModel string
	// MaxTokens is used when the request does not set MaxTokens.
	MaxTokens int
}

// Client implements model.Client on top of Bedrock Converse.
type Client struct {
	runtime      RuntimeClient
	defaultModel string
	maxTok       int
}

// New builds a Bedrock-backed model client.
func New(rt RuntimeClient, opts Options) (*Client, error) {
	if rt == nil {
		return nil, errors.New("bedrock runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	return &Client{runtime: rt, defaultModel: opts.DefaultModel, maxTok: opts.MaxTokens}, nil
}

// NewFromConfig builds a client from an AWS configuration.
func NewFromConfig(cfg aws.Config, opts Options) (*Client, error) {
	return New(bedrockruntime.NewFromConfig(cfg), opts)
}

// Invoke implements model.Client.
func (c *Client) Invoke(ctx context.Context, req model.Request) (json.RawMessage, error) {
	input, err := c.prepare(req)
	if err != nil {
		return nil, err
	}
	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return nil, wrapBedrockError(err)
	}
	return decode(out, req)
}

func (c *Client) prepare(req model.Request) (*bedrockruntime.ConverseInput, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		Messages: encodeMessages(req.Messages),
	}
	if req.System != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.System}}
	}
	cfg := &brtypes.InferenceConfiguration{}
	if n := c.effectiveMaxTokens(req.MaxTokens); n > 0 {
		cfg.MaxTokens = aws.Int32(int32(n))
	}
	if req.Temperature > 0 {
		cfg.Temperature = aws.Float32(float32(req.Temperature))
	}
	if cfg.MaxTokens != nil || cfg.Temperature != nil {
		input.InferenceConfig = cfg
	}
	if req.Schema != nil {
		props, err := req.Schema.Map()
		if err != nil {
			return nil, fmt.Errorf("bedrock: output schema: %w", err)
		}
		name := req.Schema.Name()
		spec := brtypes.ToolSpecification{
			Name:        aws.String(name),
			Description: aws.String("Report the result. The input is the complete answer."),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(&props)},
		}
		input.ToolConfig = &brtypes.ToolConfiguration{
			Tools:      []brtypes.Tool{&brtypes.ToolMemberToolSpec{Value: spec}},
			ToolChoice: &brtypes.ToolChoiceMemberTool{Value: brtypes.SpecificToolChoice{Name: aws.String(name)}},
		}
	}
	return input, nil
}

func encodeMessages(msgs []model.Message) []brtypes.Message {
	out := make([]brtypes.Message, 0, len(msgs))
	for _, m := range msgs {
		role := brtypes.ConversationRoleUser
		if m.Role == model.RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		out = append(out, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
		})
	}
	return out
}

func decode(out *bedrockruntime.ConverseOutput, req model.Request) (json.RawMessage, error) {
	if out == nil {
		return nil, fmt.Errorf("bedrock: %w: nil response", model.ErrNoOutput)
	}
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return nil, fmt.Errorf("bedrock: %w: unexpected output %T", model.ErrNoOutput, out.Output)
	}
	for _, block := range msg.Value.Content {
		switch v := block.(type) {
		case *brtypes.ContentBlockMemberToolUse:
			if req.Schema == nil || aws.ToString(v.Value.Name) != req.Schema.Name() || v.Value.Input == nil {
				continue
			}
			raw, err := v.Value.Input.MarshalSmithyDocument()
			if err != nil {
				return nil, fmt.Errorf("bedrock: decode tool input: %w", err)
			}
			return json.RawMessage(raw), nil
		case *brtypes.ContentBlockMemberText:
			if req.Schema == nil && json.Valid([]byte(v.Value)) {
				return json.RawMessage(v.Value), nil
			}
		}
	}
	return nil, fmt.Errorf("bedrock: %w (stop reason %s)", model.ErrNoOutput, out.StopReason)
}

func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, model.ErrRateLimited) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusTooManyRequests {
		return true
	}
	return false
}

func wrapBedrockError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("bedrock %s: %w", operation, err)
	}
	if isRateLimited(err) {
		return &model.ProviderError{
			Provider:   providerName,
			Operation:  operation,
			HTTPStatus: http.StatusTooManyRequests,
			Kind:       model.ProviderErrorKindRateLimited,
			Code:       "rate_limited",
			Cause:      err,
		}
	}

	var (
		status int
		code   string
		msg    string
	)
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode()
		msg = apiErr.ErrorMessage()
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}
	kind := model.KindFromStatus(status)
	if status == 0 && apiErr == nil {
		kind = model.ProviderErrorKindUnavailable
	}
	return &model.ProviderError{
		Provider:   providerName,
		Operation:  operation,
		HTTPStatus: status,
		Kind:       kind,
		Code:       code,
		Message:    msg,
		Cause:      err,
	}
}

func (c *Client) effectiveMaxTokens(requested int) int {
	if requested > 0 {
		return requested
	}
	return c.maxTok
}
