// Package inmem provides an in-memory implementation of session.Store.
//
// It is intended for tests and local development. Production deployments should
// use a durable implementation (for example features/session/mongo).
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/tripgraph/tripgraph/runtime/session"
)

// Store is an in-memory implementation of session.Store and session.Locker.
// It is safe for concurrent use.
type Store struct {
	*session.LocalLocker

	mu     sync.RWMutex
	states map[string]session.State
	saves  int
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		LocalLocker: session.NewLocalLocker(),
		states:      make(map[string]session.State),
	}
}

// Load implements session.Store.
func (s *Store) Load(_ context.Context, threadID string) (session.State, error) {
	if threadID == "" {
		return session.State{}, session.ErrThreadIDRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[threadID]
	if !ok {
		return session.State{}, session.ErrNotFound
	}
	return st.Clone(), nil
}

// Save implements session.Store.
func (s *Store) Save(_ context.Context, state session.State) error {
	if state.ThreadID == "" {
		return session.ErrThreadIDRequired
	}
	st := state.Clone()
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur := s.states[state.ThreadID]; cur.Version != state.Version {
		return session.ErrConflict
	}
	st.Version = state.Version + 1
	s.states[state.ThreadID] = st
	s.saves++
	return nil
}

// Saves returns the number of successful Save calls.
func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
