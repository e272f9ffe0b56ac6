// Package verify evaluates a constraint set against accumulated tool results
// and reports violations. Verification is a pure function of its inputs:
// calling Verify twice with the same constraints and records yields the same
// violations in the same order.
//
// Rules run in a fixed order and never short-circuit each other:
//
//  1. budget: cheapest flight per flights result plus cheapest nightly rate
//     times nights per lodging result must not exceed the budget ceiling.
//  2. overnight flights: with the no_overnight_flights preference, flights
//     departing after 22:00 or arriving before 06:00 are flagged.
//  3. weather: outdoor events scheduled on a forecast date with a
//     precipitation weather code are flagged.
//  4. preference fit: with the kid_friendly preference, events not marked
//     kid-friendly are flagged.
//
// Within a rule violations follow the order in which tool results were
// recorded.
package verify

import (
	"slices"

	"github.com/tripgraph/tripgraph/runtime/constraints"
	"github.com/tripgraph/tripgraph/runtime/toolcall"
)

// Rule names.
const (
	RuleBudget     = "budget"
	RuleOvernight  = "overnight_flight"
	RuleWeather    = "weather"
	RulePreference = "preference"
	// RulePlanContract marks structural plan problems found before or during
	// scheduling (unknown dependencies, cycles).
	RulePlanContract = "plan_contract"
	// RuleRefinement marks the synthetic violation seeded by a refinement turn.
	RuleRefinement = "refinement"
)

// RefinementReason is the reason of the synthetic refinement violation.
const RefinementReason = "user requested a refinement"

// Violation is a constraint the current plan or its results fail to satisfy.
type Violation struct {
	// Rule names the rule that produced the violation.
	Rule string `json:"rule"`
	// Reason is a human-readable description.
	Reason string `json:"reason"`
	// ConflictingSteps lists the plan steps implicated, if any.
	ConflictingSteps []string `json:"conflicting_steps,omitempty"`
}

// Refinement returns the synthetic violation seeded by refinement turns.
func Refinement() Violation {
	return Violation{Rule: RuleRefinement, Reason: RefinementReason}
}

// Clone returns a deep copy of vs.
func Clone(vs []Violation) []Violation {
	if vs == nil {
		return nil
	}
	out := make([]Violation, len(vs))
	for i, v := range vs {
		v.ConflictingSteps = slices.Clone(v.ConflictingSteps)
		out[i] = v
	}
	return out
}

type rule func(c constraints.Set, rs *results) []Violation

var rules = []rule{budgetRule, overnightRule, weatherRule, preferenceRule}

// Verify runs every rule against the successful records in records and
// returns the violations in rule order. Failed records are ignored; missing
// information never produces a violation on its own.
func Verify(c constraints.Set, records []toolcall.Record) []Violation {
	rs := decode(records)
	var out []Violation
	for _, r := range rules {
		out = append(out, r(c, rs)...)
	}
	return out
}

// Costs returns the per-category cost breakdown the budget rule computes.
func Costs(c constraints.Set, records []toolcall.Record) Breakdown {
	return breakdown(c, decode(records))
}
