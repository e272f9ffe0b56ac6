// Package router computes which plan steps can run next given the tool call
// records accumulated so far.
//
// A step is runnable when it has no successful record and every step it
// depends on has one. A successful record counts for a step only when it ran
// the same tool with the same arguments, so results survive a repair that
// keeps a step unchanged. Steps that failed MaxStepAttempts times within the
// current plan revision are abandoned together with their transitive
// dependents; abandoned steps are missing information, not an error. Steps
// that can never run for structural reasons (unknown dependencies, cycles)
// stall the plan and must be repaired.
package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/tripgraph/tripgraph/runtime/plan"
	"github.com/tripgraph/tripgraph/runtime/toolcall"
)

// DefaultMaxStepAttempts is the number of failed attempts, per step and plan
// revision, after which a step is abandoned.
const DefaultMaxStepAttempts = 2

type (
	// Options configures Route.
	Options struct {
		// Revision is the current plan revision. Failures recorded against
		// earlier revisions do not count towards MaxStepAttempts.
		Revision int
		// MaxStepAttempts defaults to DefaultMaxStepAttempts when zero.
		MaxStepAttempts int
	}

	// Decision is the outcome of one routing pass.
	Decision struct {
		// Runnable lists the steps to dispatch, in plan order. Runnable steps
		// never depend on each other.
		Runnable []plan.Step
		// Retries maps each runnable step to its number of earlier failed
		// attempts in the current revision.
		Retries map[string]int
		// Abandoned lists steps that will not run this revision because they
		// or one of their dependencies exhausted their attempts.
		Abandoned []string
		// Stalled lists the structural problems blocking the remaining
		// steps. It is set only when nothing is runnable.
		Stalled []plan.Issue
	}
)

// Complete reports whether every step either succeeded or was abandoned.
func (d Decision) Complete() bool {
	return len(d.Runnable) == 0 && len(d.Stalled) == 0
}

// Route returns the routing decision for p given records.
func Route(p plan.Plan, records []toolcall.Record, opts Options) Decision {
	maxAttempts := opts.MaxStepAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxStepAttempts
	}
	index := stepIndex(p)
	succeeded := toolcall.SucceededSteps(results(index, records))
	failures := toolcall.Failures(records, opts.Revision)

	abandoned := make(map[string]bool)
	for _, s := range p.Steps {
		if !succeeded[s.ID] && failures[s.ID] >= maxAttempts {
			abandoned[s.ID] = true
		}
	}
	for changed := len(abandoned) > 0; changed; {
		changed = false
		for _, s := range p.Steps {
			if succeeded[s.ID] || abandoned[s.ID] {
				continue
			}
			for _, dep := range s.DependsOn {
				if abandoned[dep] {
					abandoned[s.ID] = true
					changed = true
					break
				}
			}
		}
	}

	var d Decision
	var blocked []plan.Step
	queued := make(map[string]bool)
	for _, s := range p.Steps {
		switch {
		case succeeded[s.ID] || queued[s.ID]:
			continue
		case abandoned[s.ID]:
			d.Abandoned = append(d.Abandoned, s.ID)
		case ready(s, index, succeeded):
			if d.Retries == nil {
				d.Retries = make(map[string]int)
			}
			d.Runnable = append(d.Runnable, s)
			d.Retries[s.ID] = failures[s.ID]
		default:
			blocked = append(blocked, s)
		}
		queued[s.ID] = true
	}
	if len(d.Runnable) == 0 && len(blocked) > 0 {
		d.Stalled = stallReasons(p, blocked, index)
	}
	return d
}

// Results returns the successful record backing each step of p, in the order
// the records were appended. A record backs a step when Reusable holds; the
// first such record wins.
func Results(p plan.Plan, records []toolcall.Record) []toolcall.Record {
	return results(stepIndex(p), records)
}

// Reusable reports whether r is a successful execution of s: same step ID,
// same tool and equivalent arguments. Results of an earlier plan whose step
// kept its ID but changed its call are not reused.
func Reusable(s plan.Step, r toolcall.Record) bool {
	return r.Succeeded() && r.StepID == s.ID && r.Tool == s.Tool && sameArgs(s.Args, r.Args)
}

func results(index map[string]plan.Step, records []toolcall.Record) []toolcall.Record {
	return toolcall.Active(records, func(r toolcall.Record) bool {
		s, ok := index[r.StepID]
		return ok && Reusable(s, r)
	})
}

func stepIndex(p plan.Plan) map[string]plan.Step {
	index := make(map[string]plan.Step, len(p.Steps))
	for _, s := range p.Steps {
		if _, dup := index[s.ID]; !dup {
			index[s.ID] = s
		}
	}
	return index
}

func sameArgs(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var va, vb any
	if err := json.Unmarshal(orEmpty(a), &va); err != nil {
		return false
	}
	if err := json.Unmarshal(orEmpty(b), &vb); err != nil {
		return false
	}
	return reflect.DeepEqual(va, vb)
}

func orEmpty(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}

func ready(s plan.Step, index map[string]plan.Step, succeeded map[string]bool) bool {
	for _, dep := range s.DependsOn {
		if _, ok := index[dep]; !ok || dep == s.ID || !succeeded[dep] {
			return false
		}
	}
	return true
}

// stallReasons explains why blocked steps cannot make progress. Structural
// issues found by plan.Validate are reported first; a blocked step without
// one of its own waits on another blocked step.
func stallReasons(p plan.Plan, blocked []plan.Step, index map[string]plan.Step) []plan.Issue {
	isBlocked := make(map[string]bool, len(blocked))
	for _, s := range blocked {
		isBlocked[s.ID] = true
	}
	var out []plan.Issue
	explained := make(map[string]bool)
	for _, is := range plan.Validate(p, nil) {
		if is.StepID == "" || isBlocked[is.StepID] {
			out = append(out, is)
			explained[is.StepID] = true
		}
	}
	for _, s := range blocked {
		if explained[s.ID] {
			continue
		}
		for _, dep := range s.DependsOn {
			if _, ok := index[dep]; ok && isBlocked[dep] {
				out = append(out, plan.Issue{
					StepID: s.ID,
					Reason: fmt.Sprintf("step %q waits on unrunnable step %q", s.ID, dep),
				})
				break
			}
		}
	}
	return out
}
