// Package toolcall defines the append-only tool call record. Every attempted
// execution of a plan step produces exactly one record; retries append new
// records instead of mutating earlier ones, so the record list doubles as the
// audit trail of a session.
package toolcall

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/tripgraph/tripgraph/runtime/toolerrors"
	"github.com/tripgraph/tripgraph/runtime/tools"
)

// Status is the lifecycle state of a tool call.
type Status string

const (
	// StatusPending means the call is scheduled but not started.
	StatusPending Status = "pending"
	// StatusRunning means the handler is executing.
	StatusRunning Status = "running"
	// StatusSucceeded means the handler returned a valid result.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means the call failed, timed out or was rejected.
	StatusFailed Status = "failed"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

type (
	// Record is one attempted execution of a plan step.
	Record struct {
		// ID uniquely identifies the attempt.
		ID string `json:"id"`
		// StepID is the plan step this attempt executed.
		StepID string `json:"step_id"`
		// Tool is the tool that was invoked.
		Tool tools.Ident `json:"tool"`
		// Args are the arguments the tool was invoked with.
		Args json.RawMessage `json:"args"`
		// Status is the outcome of the attempt.
		Status Status `json:"status"`
		// Result is the tool output when Status is StatusSucceeded.
		Result json.RawMessage `json:"result,omitempty"`
		// Error describes the failure when Status is StatusFailed.
		Error *toolerrors.ToolError `json:"error,omitempty"`
		// StartedAt is when the attempt was dispatched.
		StartedAt time.Time `json:"started_at"`
		// Duration is the wall-clock execution time.
		Duration time.Duration `json:"duration"`
		// Retry is the number of earlier attempts of the same step within the
		// same plan revision.
		Retry int `json:"retry"`
		// PlanRevision is the plan revision the attempt belongs to.
		PlanRevision int `json:"plan_revision"`
		// CacheHit is true when the result came from the idempotency cache.
		CacheHit bool `json:"cache_hit,omitempty"`
	}

	// Usage summarizes calls to one tool.
	Usage struct {
		Name    tools.Ident `json:"name"`
		Count   int         `json:"count"`
		TotalMS int64       `json:"total_ms"`
	}
)

// Succeeded reports whether the attempt succeeded.
func (r Record) Succeeded() bool { return r.Status == StatusSucceeded }

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := r
	out.Args = slices.Clone(r.Args)
	out.Result = slices.Clone(r.Result)
	out.Error = r.Error.Clone()
	return out
}

// CloneAll returns a deep copy of records.
func CloneAll(records []Record) []Record {
	if records == nil {
		return nil
	}
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}

// SucceededSteps returns the set of step IDs with at least one successful
// record.
func SucceededSteps(records []Record) map[string]bool {
	done := make(map[string]bool)
	for _, r := range records {
		if r.Succeeded() {
			done[r.StepID] = true
		}
	}
	return done
}

// Failures counts failed attempts per step within the given plan revision.
func Failures(records []Record, revision int) map[string]int {
	n := make(map[string]int)
	for _, r := range records {
		if r.Status == StatusFailed && r.PlanRevision == revision {
			n[r.StepID]++
		}
	}
	return n
}

// Active returns the first successful record of every step accepted by keep,
// in the order the records were appended. It is the view of tool results that
// verification and synthesis operate on.
func Active(records []Record, keep func(Record) bool) []Record {
	seen := make(map[string]bool)
	var out []Record
	for _, r := range records {
		if !r.Succeeded() || seen[r.StepID] {
			continue
		}
		if keep != nil && !keep(r) {
			continue
		}
		seen[r.StepID] = true
		out = append(out, r)
	}
	return out
}

// Summarize aggregates call counts and durations per tool, ordered by first
// use.
func Summarize(records []Record) []Usage {
	var order []tools.Ident
	byName := make(map[tools.Ident]*Usage)
	for _, r := range records {
		u, ok := byName[r.Tool]
		if !ok {
			u = &Usage{Name: r.Tool}
			byName[r.Tool] = u
			order = append(order, r.Tool)
		}
		u.Count++
		u.TotalMS += r.Duration.Milliseconds()
	}
	out := make([]Usage, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out
}
