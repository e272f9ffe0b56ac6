package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tripgraph/tripgraph/runtime/model"
)

type fakeClient struct {
	err   error
	calls int
}

func (f *fakeClient) Invoke(_ context.Context, _ model.Request) (json.RawMessage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(`{}`), nil
}

var hello = model.Request{Messages: []model.Message{model.UserMessage("hello")}, MaxTokens: 10}

func TestBackoffOnRateLimited(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(RateLimitOptions{InitialTPM: 60000})
	var adjusted []float64
	limiter.onAdjust = func(tpm float64) { adjusted = append(adjusted, tpm) }
	client := &fakeClient{err: &model.ProviderError{Provider: "p", Kind: model.ProviderErrorKindRateLimited}}

	_, err := limiter.Middleware()(client).Invoke(context.Background(), hello)
	require.ErrorIs(t, err, model.ErrRateLimited)
	require.Equal(t, 1, client.calls)
	require.InDelta(t, 30000, limiter.CurrentTPM(), 0.001)
	require.Equal(t, []float64{30000}, adjusted)
}

func TestBackoffFloor(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(RateLimitOptions{InitialTPM: 1000})
	for range 10 {
		limiter.observe(model.ErrRateLimited)
	}
	require.InDelta(t, 100, limiter.CurrentTPM(), 0.001)
}

func TestProbeOnSuccess(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(RateLimitOptions{InitialTPM: 60000, MaxTPM: 62000})
	wrapped := limiter.Middleware()(&fakeClient{})

	_, err := wrapped.Invoke(context.Background(), hello)
	require.NoError(t, err)
	require.InDelta(t, 62000, limiter.CurrentTPM(), 0.001)

	_, err = wrapped.Invoke(context.Background(), hello)
	require.NoError(t, err)
	require.InDelta(t, 62000, limiter.CurrentTPM(), 0.001)
}

func TestOtherErrorsLeaveBudget(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(RateLimitOptions{InitialTPM: 60000})
	_, err := limiter.Middleware()(&fakeClient{err: errors.New("boom")}).Invoke(context.Background(), hello)
	require.Error(t, err)
	require.InDelta(t, 60000, limiter.CurrentTPM(), 0.001)
}

func TestWaitHonorsContext(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(RateLimitOptions{InitialTPM: 600})
	client := &fakeClient{}
	wrapped := limiter.Middleware()(client)

	// The first call drains the bucket.
	_, err := wrapped.Invoke(context.Background(), model.Request{System: strings.Repeat("x", 3000)})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = wrapped.Invoke(ctx, hello)
	require.Error(t, err)
	require.Equal(t, 1, client.calls)
}

func TestEstimateTokens(t *testing.T) {
	require.Equal(t, overheadTokens, estimateTokens(model.Request{}))
	req := model.Request{System: "abc", Messages: []model.Message{model.UserMessage("abcdef")}, MaxTokens: 100}
	require.Equal(t, 3+100+overheadTokens, estimateTokens(req))
}
