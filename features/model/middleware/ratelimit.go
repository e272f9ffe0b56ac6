// Package middleware provides model.Client middleware shared by the provider
// adapters.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/tripgraph/tripgraph/runtime/model"
)

const (
	defaultTPM = 60000
	// overheadTokens covers prompt framing and the output schema.
	overheadTokens = 500
)

type (
	// AdaptiveRateLimiter applies an AIMD token bucket in front of a
	// model.Client. Each request waits for its estimated token cost; a
	// rate-limited response halves the tokens-per-minute budget and every
	// success raises it by a fixed step up to the configured maximum.
	//
	// The limiter is process-local. Build one per provider and share it
	// between every client that talks to that provider.
	AdaptiveRateLimiter struct {
		mu           sync.Mutex
		limiter      *rate.Limiter
		currentTPM   float64
		minTPM       float64
		maxTPM       float64
		recoveryRate float64
		onAdjust     func(tpm float64)
	}

	// RateLimitOptions configures NewAdaptiveRateLimiter.
	RateLimitOptions struct {
		// InitialTPM is the starting budget in tokens per minute. Defaults
		// to 60000.
		InitialTPM float64
		// MaxTPM bounds recovery. Values below InitialTPM are clamped to it.
		MaxTPM float64
		// OnAdjust, when set, is called after each budget change.
		OnAdjust func(tpm float64)
	}

	limitedClient struct {
		next    model.Client
		limiter *AdaptiveRateLimiter
	}
)

// NewAdaptiveRateLimiter returns a limiter configured with opts.
func NewAdaptiveRateLimiter(opts RateLimitOptions) *AdaptiveRateLimiter {
	initial := opts.InitialTPM
	if initial <= 0 {
		initial = defaultTPM
	}
	maxTPM := max(opts.MaxTPM, initial)
	return &AdaptiveRateLimiter{
		limiter:      rate.NewLimiter(rate.Limit(initial/60.0), int(initial)),
		currentTPM:   initial,
		minTPM:       max(initial*0.1, 1),
		maxTPM:       maxTPM,
		recoveryRate: max(initial*0.05, 1),
		onAdjust:     opts.OnAdjust,
	}
}

// Middleware returns the limiter as a model.Middleware.
func (l *AdaptiveRateLimiter) Middleware() model.Middleware {
	return func(next model.Client) model.Client {
		return &limitedClient{next: next, limiter: l}
	}
}

// CurrentTPM returns the effective tokens-per-minute budget.
func (l *AdaptiveRateLimiter) CurrentTPM() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentTPM
}

func (c *limitedClient) Invoke(ctx context.Context, req model.Request) (json.RawMessage, error) {
	if err := c.limiter.wait(ctx, req); err != nil {
		return nil, err
	}
	out, err := c.next.Invoke(ctx, req)
	c.limiter.observe(err)
	return out, err
}

func (l *AdaptiveRateLimiter) wait(ctx context.Context, req model.Request) error {
	l.mu.Lock()
	n := min(estimateTokens(req), l.limiter.Burst())
	l.mu.Unlock()
	return l.limiter.WaitN(ctx, n)
}

func (l *AdaptiveRateLimiter) observe(err error) {
	switch {
	case err == nil:
		l.adjust(func(tpm float64) float64 { return min(tpm+l.recoveryRate, l.maxTPM) })
	case errors.Is(err, model.ErrRateLimited):
		l.adjust(func(tpm float64) float64 { return max(tpm*0.5, l.minTPM) })
	}
}

func (l *AdaptiveRateLimiter) adjust(next func(float64) float64) {
	l.mu.Lock()
	tpm := next(l.currentTPM)
	if tpm == l.currentTPM {
		l.mu.Unlock()
		return
	}
	l.currentTPM = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60.0))
	l.limiter.SetBurst(int(tpm))
	cb := l.onAdjust
	l.mu.Unlock()

	if cb != nil {
		cb(tpm)
	}
}

// estimateTokens approximates the cost of req at one token per three
// characters of prompt, plus the completion cap and a fixed overhead.
func estimateTokens(req model.Request) int {
	chars := len(req.System)
	for _, m := range req.Messages {
		chars += len(m.Content)
	}
	return chars/3 + max(req.MaxTokens, 0) + overheadTokens
}
