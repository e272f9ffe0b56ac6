// Package redis provides a Redis-backed session.Store. Checkpoints are hashes
// holding a version and the JSON state, written with a compare-and-set
// script. The store also implements session.Locker with a renewed SET NX PX
// lease so turns on the same thread are serialized across processes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tripgraph/tripgraph/runtime/session"
)

const (
	defaultPrefix    = "tripgraph"
	defaultLockTTL   = 2 * time.Minute
	defaultRetryWait = 50 * time.Millisecond
	clientName       = "session-redis"
)

type (
	// Options configures the Redis store.
	Options struct {
		// Prefix namespaces every key. Defaults to "tripgraph".
		Prefix string
		// TTL expires checkpoints that were not written for that long. Zero
		// keeps them forever.
		TTL time.Duration
		// LockTTL bounds how long a crashed holder keeps a thread locked.
		// Live holders renew their lease before it expires.
		LockTTL time.Duration
		// RetryWait is the polling interval while waiting for a lock.
		RetryWait time.Duration
	}

	// Store implements session.Store and session.Locker.
	Store struct {
		rdb       redis.UniversalClient
		prefix    string
		ttl       time.Duration
		lockTTL   time.Duration
		retryWait time.Duration
	}
)

// unlockScript deletes the lock only when it still holds the caller's token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lock only when it still holds the caller's token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// saveScript writes the checkpoint hash only when its stored version is
// ARGV[1]. A missing hash has version 0.
var saveScript = redis.NewScript(`
local cur = tonumber(redis.call("HGET", KEYS[1], "version") or "0")
if cur ~= tonumber(ARGV[1]) then
	return 0
end
redis.call("HSET", KEYS[1], "version", ARGV[2], "state", ARGV[3])
if tonumber(ARGV[4]) > 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[4])
end
return 1
`)

// New returns a Store using rdb.
func New(rdb redis.UniversalClient, opts Options) (*Store, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	s := &Store{
		rdb:       rdb,
		prefix:    opts.Prefix,
		ttl:       opts.TTL,
		lockTTL:   opts.LockTTL,
		retryWait: opts.RetryWait,
	}
	if s.prefix == "" {
		s.prefix = defaultPrefix
	}
	if s.lockTTL <= 0 {
		s.lockTTL = defaultLockTTL
	}
	if s.retryWait <= 0 {
		s.retryWait = defaultRetryWait
	}
	return s, nil
}

// Load implements session.Store.
func (s *Store) Load(ctx context.Context, threadID string) (session.State, error) {
	if threadID == "" {
		return session.State{}, session.ErrThreadIDRequired
	}
	raw, err := s.rdb.HGet(ctx, s.checkpointKey(threadID), "state").Bytes()
	if errors.Is(err, redis.Nil) {
		return session.State{}, session.ErrNotFound
	}
	if err != nil {
		return session.State{}, fmt.Errorf("load checkpoint %q: %w", threadID, err)
	}
	var st session.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return session.State{}, fmt.Errorf("decode checkpoint %q: %w", threadID, err)
	}
	return st, nil
}

// Save implements session.Store.
func (s *Store) Save(ctx context.Context, st session.State) error {
	if st.ThreadID == "" {
		return session.ErrThreadIDRequired
	}
	expected := st.Version
	st.Version++
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode checkpoint %q: %w", st.ThreadID, err)
	}
	keys := []string{s.checkpointKey(st.ThreadID)}
	written, err := saveScript.Run(ctx, s.rdb, keys, expected, st.Version, raw, s.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("save checkpoint %q: %w", st.ThreadID, err)
	}
	if written == 0 {
		return fmt.Errorf("save checkpoint %q: %w", st.ThreadID, session.ErrConflict)
	}
	return nil
}

// Lock implements session.Locker. It polls until the lease is acquired or
// ctx is done. While held, the lease is renewed every third of LockTTL, so
// it only expires when the holder stops renewing it.
func (s *Store) Lock(ctx context.Context, threadID string) (func(), error) {
	if threadID == "" {
		return nil, session.ErrThreadIDRequired
	}
	key := s.lockKey(threadID)
	token := uuid.NewString()
	ticker := time.NewTicker(s.retryWait)
	defer ticker.Stop()
	for {
		ok, err := s.rdb.SetNX(ctx, key, token, s.lockTTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("lock thread %q: %w", threadID, err)
		}
		if ok {
			return s.hold(context.WithoutCancel(ctx), key, token), nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// hold renews the lease identified by token until the returned function is
// called, which stops renewing and releases the lease.
func (s *Store) hold(ctx context.Context, key, token string) func() {
	interval := max(s.lockTTL/3, time.Millisecond)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				n, err := renewScript.Run(ctx, s.rdb, []string{key}, token, s.lockTTL.Milliseconds()).Int()
				if err == nil && n == 0 {
					// Lease lost; Save rejects this holder's stale checkpoints.
					return
				}
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			_ = unlockScript.Run(ctx, s.rdb, []string{key}, token).Err()
		})
	}
}

// Name implements health.Pinger.
func (s *Store) Name() string { return clientName }

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func (s *Store) checkpointKey(threadID string) string {
	return s.prefix + ":checkpoint:" + threadID
}

func (s *Store) lockKey(threadID string) string {
	return s.prefix + ":lock:" + threadID
}
