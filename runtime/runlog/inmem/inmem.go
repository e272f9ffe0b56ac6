// Package inmem keeps thread logs in process memory. It backs tests and the
// CLI when no durable store is configured.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"sync"

	"github.com/tripgraph/tripgraph/runtime/runlog"
)

type (
	// Store implements runlog.Store in memory.
	Store struct {
		mu      sync.Mutex
		seq     int64
		threads map[string]*thread
	}

	// thread is the log of one thread. byTurn holds, per turn ID, the
	// positions of the turn's events in events.
	thread struct {
		events []record
		byTurn map[string][]int
	}

	record struct {
		seq   int64
		event runlog.Event
	}
)

// New returns an empty store.
func New() *Store {
	return &Store{threads: make(map[string]*thread)}
}

// Append implements runlog.Store. IDs come from a store-wide sequence.
func (s *Store) Append(_ context.Context, e *runlog.Event) error {
	if e == nil {
		return errors.New("runlog: event is required")
	}
	if e.ThreadID == "" {
		return runlog.ErrThreadIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	th, ok := s.threads[e.ThreadID]
	if !ok {
		th = &thread{byTurn: make(map[string][]int)}
		s.threads[e.ThreadID] = th
	}
	s.seq++
	e.ID = strconv.FormatInt(s.seq, 10)
	ev := *e
	ev.Payload = slices.Clone(e.Payload)
	th.byTurn[e.TurnID] = append(th.byTurn[e.TurnID], len(th.events))
	th.events = append(th.events, record{seq: s.seq, event: ev})
	return nil
}

// List implements runlog.Store.
func (s *Store) List(_ context.Context, q runlog.Query) (runlog.Page, error) {
	if err := q.Validate(); err != nil {
		return runlog.Page{}, err
	}
	var after int64
	if q.Cursor != "" {
		n, err := strconv.ParseInt(q.Cursor, 10, 64)
		if err != nil {
			return runlog.Page{}, fmt.Errorf("runlog: invalid cursor %q: %w", q.Cursor, err)
		}
		after = n
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	th, ok := s.threads[q.ThreadID]
	if !ok {
		return runlog.Page{}, nil
	}
	positions := th.candidates(q.TurnID)
	start := sort.Search(len(positions), func(i int) bool { return th.events[positions[i]].seq > after })

	var page runlog.Page
	for _, pos := range positions[start:] {
		r := th.events[pos]
		if !q.Matches(&r.event) {
			continue
		}
		if len(page.Events) == q.Limit {
			page.NextCursor = page.Events[len(page.Events)-1].ID
			break
		}
		ev := r.event
		ev.Payload = slices.Clone(r.event.Payload)
		page.Events = append(page.Events, &ev)
	}
	return page, nil
}

// candidates returns the positions worth scanning for a turn filter, in
// append order.
func (t *thread) candidates(turnID string) []int {
	if turnID != "" {
		return t.byTurn[turnID]
	}
	all := make([]int, len(t.events))
	for i := range all {
		all[i] = i
	}
	return all
}
