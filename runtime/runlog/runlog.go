// Package runlog provides the durable, append-only audit log of planning
// turns. Every progress event of a thread is appended in order; callers page
// through a thread's log with opaque cursors.
package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/tripgraph/tripgraph/runtime/hooks"
)

type (
	// Event is a single immutable entry of a thread log.
	//
	// Store implementations assign the ID when persisting the event. IDs are
	// opaque, monotonically ordered within a thread, and suitable for
	// cursor-based pagination.
	Event struct {
		// ID is the store-assigned identifier.
		ID string
		// ThreadID is the thread the event belongs to.
		ThreadID string
		// TurnID identifies the turn within the thread.
		TurnID string
		// Type is the progress event type.
		Type hooks.Type
		// Node is the node or tool name, if any.
		Node string
		// Status is the progress status.
		Status hooks.Status
		// Payload is the JSON-encoded progress event.
		Payload json.RawMessage
		// Timestamp is the event time.
		Timestamp time.Time
	}

	// Page is a forward page of events.
	Page struct {
		// Events are ordered oldest-first.
		Events []*Event
		// NextCursor fetches the next page. It is empty on the last page.
		NextCursor string
	}

	// Query selects a forward page of the events of one thread.
	Query struct {
		// ThreadID is required.
		ThreadID string
		// TurnID restricts the page to one turn when set.
		TurnID string
		// Types restricts the page to the listed event types when set.
		Types []hooks.Type
		// Cursor is the NextCursor of the previous page, empty for the first.
		Cursor string
		// Limit is the maximum page size. It must be positive.
		Limit int
	}

	// Store is an append-only event store.
	Store interface {
		// Append stores e and assigns its ID.
		Append(ctx context.Context, e *Event) error
		// List returns the next page of events matching q, oldest first.
		List(ctx context.Context, q Query) (Page, error)
	}

	// Turn is the audit record of one turn, rebuilt from its turn events.
	Turn struct {
		// ID is the turn ID.
		ID string
		// Status is StatusRunning until the turn completed, failed or was
		// cancelled.
		Status hooks.Status
		// Node is the node a failed or cancelled turn stopped at.
		Node string
		// Message is the detail of the last turn event.
		Message string
		// Resumes counts how many times the turn was resumed.
		Resumes   int
		StartedAt time.Time
		EndedAt   time.Time
		// Duration is the execution time reported on completion.
		Duration time.Duration
		// Summary is set for completed turns.
		Summary *hooks.TurnSummary
	}

	// Recorder is a hooks.Subscriber appending every progress event to a
	// Store.
	Recorder struct {
		store Store
	}
)

// StatusRunning is the status of a turn with no terminal event yet.
const StatusRunning hooks.Status = "running"

// DefaultPageSize is the page size All uses when the query sets none.
const DefaultPageSize = 100

var (
	// ErrThreadIDRequired is returned for events or queries without thread ID.
	ErrThreadIDRequired = errors.New("runlog: thread_id is required")
	// ErrInvalidLimit is returned for queries without a positive limit.
	ErrInvalidLimit = errors.New("runlog: limit must be positive")
)

// Validate checks the required fields of q.
func (q Query) Validate() error {
	if q.ThreadID == "" {
		return ErrThreadIDRequired
	}
	if q.Limit <= 0 {
		return ErrInvalidLimit
	}
	return nil
}

// Matches reports whether e passes the turn and type filters of q. It does
// not look at the thread or the cursor.
func (q Query) Matches(e *Event) bool {
	if q.TurnID != "" && e.TurnID != q.TurnID {
		return false
	}
	return len(q.Types) == 0 || slices.Contains(q.Types, e.Type)
}

// NewRecorder returns a Recorder appending to store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// HandleEvent implements hooks.Subscriber.
func (r *Recorder) HandleEvent(ctx context.Context, event hooks.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("runlog: encode event: %w", err)
	}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return r.store.Append(ctx, &Event{
		ThreadID:  event.ThreadID,
		TurnID:    event.TurnID,
		Type:      event.Type,
		Node:      event.Node,
		Status:    event.Status,
		Payload:   payload,
		Timestamp: ts,
	})
}

// Decode returns the progress event carried by e.
func (e *Event) Decode() (hooks.Event, error) {
	var out hooks.Event
	if err := json.Unmarshal(e.Payload, &out); err != nil {
		return hooks.Event{}, fmt.Errorf("runlog: decode event %s: %w", e.ID, err)
	}
	return out, nil
}

// All returns every event matching q from q.Cursor on, paging with q.Limit
// (DefaultPageSize when zero).
func All(ctx context.Context, s Store, q Query) ([]*Event, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultPageSize
	}
	var out []*Event
	for {
		page, err := s.List(ctx, q)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Events...)
		if page.NextCursor == "" {
			return out, nil
		}
		q.Cursor = page.NextCursor
	}
}

// Turns rebuilds the audit record of every turn of the thread, in the order
// the turns started.
func Turns(ctx context.Context, s Store, threadID string) ([]Turn, error) {
	events, err := All(ctx, s, Query{ThreadID: threadID, Types: []hooks.Type{hooks.TypeTurn}})
	if err != nil {
		return nil, err
	}
	var (
		turns []Turn
		index = make(map[string]int)
	)
	for _, e := range events {
		ev, err := e.Decode()
		if err != nil {
			return nil, err
		}
		i, seen := index[e.TurnID]
		if !seen {
			i = len(turns)
			index[e.TurnID] = i
			turns = append(turns, Turn{ID: e.TurnID, StartedAt: e.Timestamp})
		}
		t := &turns[i]
		t.Message = ev.Message
		switch ev.Status {
		case hooks.StatusStarted:
			if seen {
				t.Resumes++
			}
			t.Status = StatusRunning
			t.Node = ""
			t.EndedAt = time.Time{}
		default:
			t.Status = ev.Status
			t.Node = ev.Node
			t.EndedAt = e.Timestamp
			t.Duration = ev.Duration
			t.Summary = ev.Summary
		}
	}
	return turns, nil
}
