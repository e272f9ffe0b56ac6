// Package cache provides a Redis-backed idempotency cache for tool calls.
// Successful results are stored under a key derived from the tool name and
// the canonical arguments, so identical calls within the TTL are served
// without invoking the handler again.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tripgraph/tripgraph/runtime/hooks"
	"github.com/tripgraph/tripgraph/runtime/telemetry"
	"github.com/tripgraph/tripgraph/runtime/tools"
)

const (
	// DefaultTTL is the idempotency window.
	DefaultTTL = 300 * time.Second
	// DefaultPrefix namespaces cache keys.
	DefaultPrefix = "tripgraph:tool"
)

type (
	// Options configures Middleware.
	Options struct {
		// TTL defaults to DefaultTTL.
		TTL time.Duration
		// Prefix defaults to DefaultPrefix.
		Prefix string
		// Skip lists tools that must never be cached.
		Skip []tools.Ident
		// Logger reports cache backend failures. Defaults to a noop logger.
		Logger telemetry.Logger
	}

	cachedHandler struct {
		rdb    redis.UniversalClient
		name   tools.Ident
		ttl    time.Duration
		prefix string
		logger telemetry.Logger
		next   tools.Handler
	}
)

// Middleware returns tool middleware caching successful results in rdb.
// Backend errors are logged and the call falls through to the handler.
func Middleware(rdb redis.UniversalClient, opts Options) tools.Middleware {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	skip := make(map[tools.Ident]bool, len(opts.Skip))
	for _, id := range opts.Skip {
		skip[id] = true
	}
	return func(spec tools.Spec, next tools.Handler) tools.Handler {
		if skip[spec.Name] {
			return next
		}
		return &cachedHandler{rdb: rdb, name: spec.Name, ttl: ttl, prefix: prefix, logger: logger, next: next}
	}
}

// Key returns the cache key of a call.
func Key(prefix string, name tools.Ident, args json.RawMessage) string {
	return prefix + ":" + string(name) + ":" + hooks.Digest(args)
}

// Call implements tools.Handler.
func (h *cachedHandler) Call(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	key := Key(h.prefix, h.name, args)
	cached, err := h.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil && json.Valid(cached):
		tools.MarkCacheHit(ctx)
		return json.RawMessage(cached), nil
	case err != nil && !errors.Is(err, redis.Nil):
		h.logger.Warn(ctx, "tool cache read failed", "tool", string(h.name), "err", err)
	}

	res, err := h.next.Call(ctx, args)
	if err != nil {
		return nil, err
	}
	if err := h.rdb.Set(context.WithoutCancel(ctx), key, []byte(res), h.ttl).Err(); err != nil {
		h.logger.Warn(ctx, "tool cache write failed", "tool", string(h.name), "err", err)
	}
	return res, nil
}
