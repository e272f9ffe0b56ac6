// Package session defines the checkpointed state of a planning thread and the
// storage contracts used to persist it between node transitions.
//
// The orchestrator is the only writer of State during a turn. Stores hold
// snapshots: Save must persist a copy, and Load must return a value the caller
// may mutate freely.
package session

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/tripgraph/tripgraph/runtime/constraints"
	"github.com/tripgraph/tripgraph/runtime/itinerary"
	"github.com/tripgraph/tripgraph/runtime/plan"
	"github.com/tripgraph/tripgraph/runtime/toolcall"
	"github.com/tripgraph/tripgraph/runtime/verify"
)

type (
	// State is the checkpointed aggregate of a thread.
	State struct {
		// ThreadID identifies the conversation.
		ThreadID string `json:"thread_id" bson:"thread_id"`
		// TurnID identifies the current (or last) turn.
		TurnID string `json:"turn_id" bson:"turn_id"`
		// Query is the user utterance of the current turn.
		Query string `json:"query" bson:"query"`
		// Messages is the conversation history, oldest first.
		Messages []Message `json:"messages" bson:"messages"`
		// Constraints is the constraint set of the current turn.
		Constraints constraints.Set `json:"constraints" bson:"constraints"`
		// Plan is the current plan.
		Plan plan.Plan `json:"plan" bson:"plan"`
		// PlanRevision increments every time Plan is replaced.
		PlanRevision int `json:"plan_revision" bson:"plan_revision"`
		// Records is the append-only tool call audit trail of the thread.
		Records []toolcall.Record `json:"records" bson:"records"`
		// Citations accumulates the sources used across turns.
		Citations []itinerary.Citation `json:"citations" bson:"citations"`
		// Decisions holds the decisions of the last synthesis.
		Decisions []itinerary.Decision `json:"decisions" bson:"decisions"`
		// Violations is the result of the last verification pass.
		Violations []verify.Violation `json:"violations" bson:"violations"`
		// Unresolved lists the violations a degraded turn could not repair.
		Unresolved []verify.Violation `json:"unresolved,omitempty" bson:"unresolved,omitempty"`
		// RepairAttempts counts repairs over the life of the thread. It never
		// decreases.
		RepairAttempts int `json:"repair_attempts" bson:"repair_attempts"`
		// TurnRepairBase is RepairAttempts at the start of the current turn.
		TurnRepairBase int `json:"turn_repair_base" bson:"turn_repair_base"`
		// TurnRecordBase is len(Records) at the start of the current turn.
		TurnRecordBase int `json:"turn_record_base" bson:"turn_record_base"`
		// Itinerary is the final itinerary, nil until synthesis completes.
		Itinerary *itinerary.Itinerary `json:"itinerary,omitempty" bson:"itinerary,omitempty"`
		// Answer is the markdown answer of the last synthesis.
		Answer string `json:"answer,omitempty" bson:"answer,omitempty"`
		// Done is true once the turn responded. Done implies Itinerary is set
		// and Violations is empty.
		Done bool `json:"done" bson:"done"`
		// IsRefinement is true when the current turn refines a finished
		// thread.
		IsRefinement bool `json:"is_refinement" bson:"is_refinement"`
		// Verified is true when Violations reflects the current plan and
		// results.
		Verified bool `json:"verified" bson:"verified"`
		// Degraded is true when the turn exhausted its repair budget.
		Degraded bool `json:"degraded" bson:"degraded"`
		// Next names the node the turn resumes at.
		Next string `json:"next" bson:"next"`
		// TurnStartedAt is when the current turn started.
		TurnStartedAt time.Time `json:"turn_started_at" bson:"turn_started_at"`
		// UpdatedAt is when the checkpoint was written.
		UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
		// Version counts the checkpoints written for the thread. Zero means
		// the thread was never saved.
		Version int64 `json:"version" bson:"version"`
	}

	// Message is one conversation message.
	Message struct {
		Role    string    `json:"role" bson:"role"`
		Content string    `json:"content" bson:"content"`
		At      time.Time `json:"at" bson:"at"`
	}

	// Store persists checkpoints keyed by thread ID.
	Store interface {
		// Load returns the latest checkpoint of the thread, or ErrNotFound.
		Load(ctx context.Context, threadID string) (State, error)
		// Save replaces the checkpoint of the thread if the stored version
		// is still state.Version and stores it as state.Version+1. A state
		// with Version zero only creates the thread. Save returns ErrConflict
		// when another writer got there first.
		Save(ctx context.Context, state State) error
	}

	// Locker serializes turns per thread. Stores that can coordinate across
	// processes implement it.
	Locker interface {
		// Lock blocks until the thread lock is acquired or ctx is done. The
		// returned function releases the lock.
		Lock(ctx context.Context, threadID string) (unlock func(), err error)
	}

	// LocalLocker is a process-local Locker.
	LocalLocker struct {
		mu    sync.Mutex
		slots map[string]chan struct{}
	}
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrNotFound indicates no checkpoint exists for the thread.
	ErrNotFound = errors.New("session: not found")
	// ErrConflict indicates the checkpoint changed since it was loaded.
	ErrConflict = errors.New("session: checkpoint was modified concurrently")
	// ErrThreadIDRequired indicates an empty thread ID.
	ErrThreadIDRequired = errors.New("session: thread id is required")
)

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	out.Messages = slices.Clone(s.Messages)
	out.Constraints = s.Constraints.Clone()
	out.Plan = s.Plan.Clone()
	out.Records = toolcall.CloneAll(s.Records)
	out.Citations = slices.Clone(s.Citations)
	out.Decisions = itinerary.CloneDecisions(s.Decisions)
	out.Violations = verify.Clone(s.Violations)
	out.Unresolved = verify.Clone(s.Unresolved)
	out.Itinerary = s.Itinerary.Clone()
	return out
}

// UserMessages returns the content of every user message, oldest first.
func (s State) UserMessages() []string {
	var out []string
	for _, m := range s.Messages {
		if m.Role == RoleUser {
			out = append(out, m.Content)
		}
	}
	return out
}

// NewLocalLocker returns a process-local Locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

// Lock implements Locker.
func (l *LocalLocker) Lock(ctx context.Context, threadID string) (func(), error) {
	if threadID == "" {
		return nil, ErrThreadIDRequired
	}
	l.mu.Lock()
	slot, ok := l.slots[threadID]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[threadID] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-slot })
	}, nil
}
