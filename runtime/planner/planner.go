// Package planner defines the LLM-backed capabilities the orchestrator
// delegates to: constraint extraction (fresh and refinement), plan
// generation, plan repair and synthesis. Each capability returns typed,
// schema-validated output; an output that fails validation surfaces as a
// model.ErrSchemaValidation error so the orchestrator can retry the node.
package planner

import (
	"context"

	"github.com/tripgraph/tripgraph/runtime/constraints"
	"github.com/tripgraph/tripgraph/runtime/itinerary"
	"github.com/tripgraph/tripgraph/runtime/plan"
	"github.com/tripgraph/tripgraph/runtime/toolcall"
	"github.com/tripgraph/tripgraph/runtime/tools"
	"github.com/tripgraph/tripgraph/runtime/verify"
)

type (
	// Extractor derives constraint sets from user utterances.
	Extractor interface {
		// Extract returns the constraints stated in the first utterance of a
		// thread.
		Extract(ctx context.Context, in ExtractInput) (constraints.Set, error)
		// Refine returns only the constraint fields the new utterance changes;
		// the caller merges them into the prior set.
		Refine(ctx context.Context, in ExtractInput) (constraints.Set, error)
	}

	// Planner produces plans.
	Planner interface {
		Plan(ctx context.Context, in PlanInput) (plan.Plan, error)
	}

	// Repairer produces replacement plans that address violations.
	Repairer interface {
		Repair(ctx context.Context, in RepairInput) (plan.Plan, error)
	}

	// Synthesizer turns tool results into the final answer.
	Synthesizer interface {
		Synthesize(ctx context.Context, in SynthesisInput) (itinerary.Synthesis, error)
	}

	// Capabilities groups the four capabilities. LLM implements all of them.
	Capabilities interface {
		Extractor
		Planner
		Repairer
		Synthesizer
	}

	// ExtractInput is the input of Extract and Refine.
	ExtractInput struct {
		// Query is the latest user utterance.
		Query string
		// History holds earlier user utterances of the thread, oldest first.
		History []string
		// Prior is the constraint set of the previous turn (refinement only).
		Prior *constraints.Set
	}

	// PlanInput is the input of Plan.
	PlanInput struct {
		Query       string
		Constraints constraints.Set
		Tools       []tools.Spec
		// Prior is the plan of the previous turn when refining.
		Prior *plan.Plan
		// Violations seeds the planner with known problems (refinement).
		Violations []verify.Violation
	}

	// RepairInput is the input of Repair.
	RepairInput struct {
		Query       string
		Constraints constraints.Set
		Tools       []tools.Spec
		// Plan is the plan being repaired.
		Plan plan.Plan
		// Violations lists the problems the new plan must address.
		Violations []verify.Violation
		// Records are the tool results gathered so far. Steps that keep their
		// ID in the new plan reuse their successful results.
		Records []toolcall.Record
	}

	// SynthesisInput is the input of Synthesize.
	SynthesisInput struct {
		Query       string
		Constraints constraints.Set
		Plan        plan.Plan
		// Records are the successful results of the current plan, one per
		// step, in completion order.
		Records []toolcall.Record
		// Failed lists failed attempts; their information is missing.
		Failed []toolcall.Record
		// Costs is the cost breakdown computed from Records.
		Costs verify.Breakdown
		// Unresolved lists violations the plan could not repair (degraded
		// turns only).
		Unresolved []verify.Violation
	}
)
