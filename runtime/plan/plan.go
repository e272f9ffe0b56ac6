// Package plan defines plan steps and the structural checks a plan must pass
// before its steps are scheduled. Step order within a plan is advisory;
// execution order is derived from dependencies.
package plan

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/tripgraph/tripgraph/runtime/tools"
)

type (
	// Step is one tool invocation in a plan.
	Step struct {
		// ID is unique within the plan.
		ID string `json:"id"`
		// Tool names the registered tool to invoke.
		Tool tools.Ident `json:"tool"`
		// Args is the JSON object passed to the tool.
		Args json.RawMessage `json:"args"`
		// DependsOn lists the IDs of steps whose output this step needs.
		DependsOn []string `json:"depends_on,omitempty"`
		// CostEstimate is the planner's optional USD cost estimate.
		CostEstimate *float64 `json:"cost_estimate,omitempty"`
		// TimeEstimate is the planner's optional free-form duration estimate.
		TimeEstimate string `json:"time_estimate,omitempty"`
	}

	// Plan is an ordered collection of steps.
	Plan struct {
		Steps []Step `json:"steps"`
	}

	// Issue is a structural problem found by Validate. Issues are planner
	// contract violations: the plan must be repaired rather than executed.
	Issue struct {
		// StepID is the offending step, empty for plan-wide issues.
		StepID string
		// Reason describes the problem.
		Reason string
	}
)

// Len returns the number of steps.
func (p Plan) Len() int { return len(p.Steps) }

// IDs returns the step identifiers in plan order.
func (p Plan) IDs() []string {
	ids := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		ids[i] = s.ID
	}
	return ids
}

// Step returns the step with the given ID.
func (p Plan) Step(id string) (Step, bool) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// Contains reports whether a step with the given ID exists.
func (p Plan) Contains(id string) bool {
	_, ok := p.Step(id)
	return ok
}

// Clone returns a deep copy of p.
func (p Plan) Clone() Plan {
	if p.Steps == nil {
		return Plan{}
	}
	out := Plan{Steps: make([]Step, len(p.Steps))}
	for i, s := range p.Steps {
		out.Steps[i] = s.Clone()
	}
	return out
}

// Clone returns a deep copy of s.
func (s Step) Clone() Step {
	out := s
	out.Args = slices.Clone(s.Args)
	out.DependsOn = slices.Clone(s.DependsOn)
	if s.CostEstimate != nil {
		c := *s.CostEstimate
		out.CostEstimate = &c
	}
	return out
}

// Validate reports every structural issue in p, in plan order:
// empty or duplicate IDs, tools unknown to known (when known is non-nil),
// self-dependencies, dependencies on IDs absent from the plan, and
// dependency cycles. An empty plan is valid.
func Validate(p Plan, known func(tools.Ident) bool) []Issue {
	var issues []Issue
	seen := make(map[string]int, len(p.Steps))
	for i, s := range p.Steps {
		if s.ID == "" {
			issues = append(issues, Issue{Reason: fmt.Sprintf("step %d has no id", i)})
			continue
		}
		if _, dup := seen[s.ID]; dup {
			issues = append(issues, Issue{StepID: s.ID, Reason: fmt.Sprintf("duplicate step id %q", s.ID)})
			continue
		}
		seen[s.ID] = i
	}
	for _, s := range p.Steps {
		if s.ID == "" {
			continue
		}
		if known != nil && !known(s.Tool) {
			issues = append(issues, Issue{StepID: s.ID, Reason: fmt.Sprintf("step %q uses unknown tool %q", s.ID, s.Tool)})
		}
		for _, dep := range s.DependsOn {
			if dep == s.ID {
				issues = append(issues, Issue{StepID: s.ID, Reason: fmt.Sprintf("step %q depends on itself", s.ID)})
				continue
			}
			if _, ok := seen[dep]; !ok {
				issues = append(issues, Issue{StepID: s.ID, Reason: fmt.Sprintf("step %q depends on unknown step %q", s.ID, dep)})
			}
		}
	}
	if cyc := cycle(p, seen); len(cyc) > 0 {
		issues = append(issues, Issue{StepID: cyc[0], Reason: fmt.Sprintf("dependency cycle: %v", cyc)})
	}
	return issues
}

// cycle returns the IDs of one dependency cycle (in traversal order), or nil.
// Self-dependencies and unknown dependencies are reported elsewhere and are
// skipped here.
func cycle(p Plan, index map[string]int) []string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(p.Steps))
	var stack []string
	var found []string

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = visiting
		stack = append(stack, id)
		s := p.Steps[index[id]]
		for _, dep := range s.DependsOn {
			if dep == id {
				continue
			}
			if _, ok := index[dep]; !ok {
				continue
			}
			switch state[dep] {
			case visiting:
				start := slices.Index(stack, dep)
				found = slices.Clone(stack[start:])
				return true
			case unvisited:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return false
	}

	for _, s := range p.Steps {
		if _, ok := index[s.ID]; !ok || state[s.ID] != unvisited {
			continue
		}
		if visit(s.ID) {
			return found
		}
	}
	return nil
}
