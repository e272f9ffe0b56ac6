package openai

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/require"

	"github.com/tripgraph/tripgraph/runtime/model"
	"github.com/tripgraph/tripgraph/runtime/schema"
)

type stubChat struct {
	last openai.ChatCompletionNewParams
	resp *openai.ChatCompletion
	err  error
}

func (s *stubChat) New(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	s.last = body
	return s.resp, s.err
}

var answerSchema = schema.MustCompile("constraints", []byte(`{
	"type": "object",
	"properties": {"destination": {"type": "string"}}
}`))

func completion(content string) *openai.ChatCompletion {
	return &openai.ChatCompletion{Choices: []openai.ChatCompletionChoice{{
		Message:      openai.ChatCompletionMessage{Content: content},
		FinishReason: "stop",
	}}}
}

func TestInvokeUsesJSONSchemaFormat(t *testing.T) {
	t.Parallel()

	stub := &stubChat{resp: completion(`{"destination": "Lisbon"}`)}
	cl, err := New(stub, Options{DefaultModel: "gpt-4o-mini", MaxTokens: 300})
	require.NoError(t, err)

	out, err := cl.Invoke(context.Background(), model.Request{
		System:   "extract",
		Messages: []model.Message{model.UserMessage("Lisbon in May")},
		Schema:   answerSchema,
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"destination": "Lisbon"}`, string(out))

	p := stub.last
	require.Equal(t, "gpt-4o-mini", string(p.Model))
	require.Len(t, p.Messages, 2)
	require.NotNil(t, p.Messages[0].OfSystem)
	require.NotNil(t, p.Messages[1].OfUser)
	require.EqualValues(t, 300, p.MaxCompletionTokens.Value)
	require.NotNil(t, p.ResponseFormat.OfJSONSchema)
	js := p.ResponseFormat.OfJSONSchema.JSONSchema
	require.Equal(t, "constraints", js.Name)
	require.False(t, js.Strict.Value)
	doc, ok := js.Schema.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "object", doc["type"])
}

func TestInvokeStrictAndAssistantTurns(t *testing.T) {
	t.Parallel()

	stub := &stubChat{resp: completion(`{}`)}
	cl, err := New(stub, Options{DefaultModel: "gpt-4o-mini", Strict: true})
	require.NoError(t, err)

	_, err = cl.Invoke(context.Background(), model.Request{
		Model:    "gpt-4.1",
		Messages: []model.Message{model.UserMessage("a"), {Role: model.RoleAssistant, Content: "b"}},
		Schema:   answerSchema,
	})
	require.NoError(t, err)
	require.Equal(t, "gpt-4.1", string(stub.last.Model))
	require.Len(t, stub.last.Messages, 2)
	require.NotNil(t, stub.last.Messages[1].OfAssistant)
	require.True(t, stub.last.ResponseFormat.OfJSONSchema.JSONSchema.Strict.Value)
}

func TestInvokeEmptyContent(t *testing.T) {
	t.Parallel()

	cl, err := New(&stubChat{resp: completion("")}, Options{DefaultModel: "m"})
	require.NoError(t, err)
	_, err = cl.Invoke(context.Background(), model.Request{Messages: []model.Message{model.UserMessage("x")}})
	require.ErrorIs(t, err, model.ErrNoOutput)

	cl, err = New(&stubChat{resp: &openai.ChatCompletion{}}, Options{DefaultModel: "m"})
	require.NoError(t, err)
	_, err = cl.Invoke(context.Background(), model.Request{Messages: []model.Message{model.UserMessage("x")}})
	require.ErrorIs(t, err, model.ErrNoOutput)
}

func TestInvokeMapsErrors(t *testing.T) {
	t.Parallel()

	cl, err := New(&stubChat{err: &openai.Error{StatusCode: 429}}, Options{DefaultModel: "m"})
	require.NoError(t, err)
	_, err = cl.Invoke(context.Background(), model.Request{Messages: []model.Message{model.UserMessage("x")}})
	require.ErrorIs(t, err, model.ErrRateLimited)

	cl, err = New(&stubChat{err: &openai.Error{StatusCode: 401}}, Options{DefaultModel: "m"})
	require.NoError(t, err)
	_, err = cl.Invoke(context.Background(), model.Request{Messages: []model.Message{model.UserMessage("x")}})
	pe, ok := model.AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, model.ProviderErrorKindAuth, pe.Kind)
	require.False(t, pe.Retryable())

	cl, err = New(&stubChat{err: context.Canceled}, Options{DefaultModel: "m"})
	require.NoError(t, err)
	_, err = cl.Invoke(context.Background(), model.Request{Messages: []model.Message{model.UserMessage("x")}})
	require.ErrorIs(t, err, context.Canceled)
	_, ok = model.AsProviderError(err)
	require.False(t, ok)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Options{DefaultModel: "m"})
	require.Error(t, err)
	_, err = New(&stubChat{}, Options{})
	require.Error(t, err)
	_, err = NewFromAPIKey("", Options{DefaultModel: "m"})
	require.Error(t, err)

	cl, err := New(&stubChat{err: errors.New("boom")}, Options{DefaultModel: "m"})
	require.NoError(t, err)
	_, err = cl.Invoke(context.Background(), model.Request{})
	require.ErrorContains(t, err, "messages are required")
}
