package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/tripgraph/tripgraph/runtime/constraints"
	"github.com/tripgraph/tripgraph/runtime/hooks"
	"github.com/tripgraph/tripgraph/runtime/itinerary"
	"github.com/tripgraph/tripgraph/runtime/plan"
	"github.com/tripgraph/tripgraph/runtime/planner"
	"github.com/tripgraph/tripgraph/runtime/router"
	"github.com/tripgraph/tripgraph/runtime/session"
	"github.com/tripgraph/tripgraph/runtime/telemetry"
	"github.com/tripgraph/tripgraph/runtime/toolcall"
	"github.com/tripgraph/tripgraph/runtime/toolerrors"
	"github.com/tripgraph/tripgraph/runtime/tools"
	"github.com/tripgraph/tripgraph/runtime/tools/catalog"
	"github.com/tripgraph/tripgraph/runtime/verify"
)

func (o *Orchestrator) start(_ context.Context, st *session.State) (Node, string, error) {
	st.IsRefinement = st.Itinerary != nil
	if st.IsRefinement {
		return NodeRefinement, "refining the previous itinerary", nil
	}
	return NodeConstraintExtraction, "", nil
}

func (o *Orchestrator) refine(ctx context.Context, st *session.State) (Node, string, error) {
	prior := st.Constraints.Clone()
	update, err := o.caps.Refine(ctx, planner.ExtractInput{
		Query:   st.Query,
		History: history(*st),
		Prior:   &prior,
	})
	if err != nil {
		return 0, "", err
	}
	st.Constraints = constraints.Merge(prior, update)
	st.Violations = []verify.Violation{verify.Refinement()}
	st.Verified = false
	return NodePlan, "", nil
}

func (o *Orchestrator) extract(ctx context.Context, st *session.State) (Node, string, error) {
	set, err := o.caps.Extract(ctx, planner.ExtractInput{Query: st.Query, History: history(*st)})
	if err != nil {
		return 0, "", err
	}
	st.Constraints = set
	st.Violations = nil
	st.Verified = false
	return NodePlan, "", nil
}

func (o *Orchestrator) plan(ctx context.Context, st *session.State) (Node, string, error) {
	in := planner.PlanInput{
		Query:       st.Query,
		Constraints: st.Constraints,
		Tools:       o.tools.Specs(),
		Violations:  st.Violations,
	}
	if st.IsRefinement {
		prior := st.Plan.Clone()
		in.Prior = &prior
	}
	p, err := o.caps.Plan(ctx, in)
	if err != nil {
		return 0, "", err
	}
	o.replacePlan(st, p)
	msg := fmt.Sprintf("%d steps", p.Len())
	if issues := plan.Validate(p, o.tools.Has); len(issues) > 0 {
		st.Violations = contractViolations(issues)
		next, why := o.repairOrDegrade(st)
		return next, msg + "; " + why, nil
	}
	return NodeRouter, msg, nil
}

func (o *Orchestrator) route(ctx context.Context, st *session.State) (Node, string, error) {
	d := o.decide(*st)
	if len(d.Abandoned) > 0 {
		o.logger.Warn(ctx, "steps abandoned", "thread_id", st.ThreadID, "steps", strings.Join(d.Abandoned, ","))
	}
	switch {
	case len(d.Runnable) > 0:
		return NodeToolExecution, fmt.Sprintf("%d runnable", len(d.Runnable)), nil
	case len(d.Stalled) > 0:
		st.Violations = contractViolations(d.Stalled)
		next, why := o.repairOrDegrade(st)
		return next, "plan stalled; " + why, nil
	case !st.Verified:
		return NodeVerify, "", nil
	default:
		return NodeSynthesize, "", nil
	}
}

// executeTools dispatches every runnable step concurrently and appends their
// records in plan order. In-flight calls are not cancelled with the turn;
// they end on completion or on their tool timeout.
func (o *Orchestrator) executeTools(ctx context.Context, st *session.State) (Node, string, error) {
	d := o.decide(*st)
	records := make([]toolcall.Record, len(d.Runnable))
	callCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	for i, s := range d.Runnable {
		wg.Add(1)
		go func() {
			defer wg.Done()
			records[i] = o.call(callCtx, *st, s, d.Retries[s.ID])
		}()
	}
	wg.Wait()

	var failed int
	for _, r := range records {
		if !r.Succeeded() {
			failed++
		}
	}
	st.Records = append(st.Records, records...)
	st.Verified = false
	return NodeVerify, fmt.Sprintf("%d calls, %d failed", len(records), failed), nil
}

func (o *Orchestrator) call(ctx context.Context, st session.State, s plan.Step, retry int) toolcall.Record {
	args := s.Args
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	rec := toolcall.Record{
		ID:           o.newID(),
		StepID:       s.ID,
		Tool:         s.Tool,
		Args:         args,
		StartedAt:    o.now().UTC(),
		Retry:        retry,
		PlanRevision: st.PlanRevision,
	}
	ev := hooks.Event{Type: hooks.TypeTool, Node: string(s.Tool), StepID: s.ID, ArgsDigest: hooks.Digest(args)}
	started := ev
	started.Status = hooks.StatusStarted
	o.publish(ctx, st, started)

	out, err := o.tools.Call(ctx, s.Tool, args)
	rec.Duration = o.now().Sub(rec.StartedAt)
	ev.Duration = rec.Duration
	if err != nil {
		rec.Status = toolcall.StatusFailed
		rec.Error = toolerrors.FromError(err)
		ev.Status = hooks.StatusFailed
		ev.Message = err.Error()
		o.logger.Warn(ctx, "tool call failed", "tool", string(s.Tool), "step", s.ID, "retry", retry, "err", err)
	} else {
		rec.Status = toolcall.StatusSucceeded
		rec.Result = out.Result
		rec.CacheHit = out.CacheHit
		ev.Status = hooks.StatusCompleted
		if out.CacheHit {
			ev.Message = "cache hit"
		}
	}
	o.metrics.IncCounter(telemetry.MetricToolCalls, 1, "tool", string(s.Tool), "status", string(rec.Status))
	o.publish(ctx, st, ev)
	return rec
}

func (o *Orchestrator) verify(_ context.Context, st *session.State) (Node, string, error) {
	st.Violations = verify.Verify(st.Constraints, router.Results(st.Plan, st.Records))
	st.Verified = true
	if len(st.Violations) == 0 {
		return NodeRouter, "no violations", nil
	}
	msg := fmt.Sprintf("%d violations", len(st.Violations))
	next, why := o.repairOrDegrade(st)
	return next, msg + "; " + why, nil
}

func (o *Orchestrator) repair(ctx context.Context, st *session.State) (Node, string, error) {
	p, err := o.caps.Repair(ctx, planner.RepairInput{
		Query:       st.Query,
		Constraints: st.Constraints,
		Tools:       o.tools.Specs(),
		Plan:        st.Plan,
		Violations:  st.Violations,
		Records:     router.Results(st.Plan, st.Records),
	})
	if err != nil {
		return 0, "", err
	}
	st.RepairAttempts++
	o.metrics.IncCounter(telemetry.MetricRepairAttempts, 1)
	o.replacePlan(st, p)
	msg := fmt.Sprintf("repair %d/%d, %d steps", st.RepairAttempts-st.TurnRepairBase, o.maxRepairs, p.Len())
	if issues := plan.Validate(p, o.tools.Has); len(issues) > 0 {
		st.Violations = contractViolations(issues)
		next, why := o.repairOrDegrade(st)
		return next, msg + "; " + why, nil
	}
	return NodeRouter, msg, nil
}

func (o *Orchestrator) synthesize(ctx context.Context, st *session.State) (Node, string, error) {
	active := router.Results(st.Plan, st.Records)
	in := planner.SynthesisInput{
		Query:       st.Query,
		Constraints: st.Constraints,
		Plan:        st.Plan,
		Records:     active,
		Failed:      failedSteps(*st, active),
		Costs:       verify.Costs(st.Constraints, active),
	}
	if st.Degraded {
		in.Unresolved = st.Violations
	}
	out, err := o.caps.Synthesize(ctx, in)
	if err != nil {
		return 0, "", err
	}
	it := out.Itinerary
	st.Itinerary = &it
	st.Answer = out.AnswerMarkdown
	st.Decisions = out.Decisions
	st.Citations = itinerary.MergeCitations(st.Citations, citations(active))
	return NodeRespond, fmt.Sprintf("%d days", len(it.Days)), nil
}

func (o *Orchestrator) respond(_ context.Context, st *session.State) (Node, string, error) {
	st.Unresolved = nil
	if st.Degraded {
		st.Unresolved = st.Violations
	}
	st.Violations = nil
	st.Done = true
	st.Messages = append(st.Messages, session.Message{Role: session.RoleAssistant, Content: st.Answer, At: o.now().UTC()})
	if st.Degraded {
		return NodeEnd, fmt.Sprintf("degraded, %d unresolved", len(st.Unresolved)), nil
	}
	return NodeEnd, "", nil
}

// repairOrDegrade routes to repair while the turn has repairs left, and to a
// degraded synthesis otherwise.
func (o *Orchestrator) repairOrDegrade(st *session.State) (Node, string) {
	if st.RepairAttempts-st.TurnRepairBase < o.maxRepairs {
		return NodeRepair, "repairing"
	}
	st.Degraded = true
	return NodeSynthesize, "repair budget exhausted"
}

func (o *Orchestrator) replacePlan(st *session.State, p plan.Plan) {
	st.Plan = p
	st.PlanRevision++
	st.Violations = nil
	st.Verified = false
}

func (o *Orchestrator) decide(st session.State) router.Decision {
	return router.Route(st.Plan, st.Records, router.Options{
		Revision:        st.PlanRevision,
		MaxStepAttempts: o.maxStepAttempts,
	})
}

// history returns the user messages preceding the current one.
func history(st session.State) []string {
	msgs := st.UserMessages()
	if len(msgs) == 0 {
		return nil
	}
	return msgs[:len(msgs)-1]
}

func contractViolations(issues []plan.Issue) []verify.Violation {
	out := make([]verify.Violation, len(issues))
	for i, is := range issues {
		v := verify.Violation{Rule: verify.RulePlanContract, Reason: is.Reason}
		if is.StepID != "" {
			v.ConflictingSteps = []string{is.StepID}
		}
		out[i] = v
	}
	return out
}

// failedSteps returns the last failed record of every current plan step that
// has no active result.
func failedSteps(st session.State, active []toolcall.Record) []toolcall.Record {
	done := toolcall.SucceededSteps(active)
	last := make(map[string]int)
	var order []string
	for i, r := range st.Records {
		if r.Status != toolcall.StatusFailed || r.PlanRevision != st.PlanRevision || done[r.StepID] || !st.Plan.Contains(r.StepID) {
			continue
		}
		if _, ok := last[r.StepID]; !ok {
			order = append(order, r.StepID)
		}
		last[r.StepID] = i
	}
	out := make([]toolcall.Record, 0, len(order))
	for _, id := range order {
		out = append(out, st.Records[last[id]])
	}
	return out
}

// citations returns the sources behind active: knowledge citations as
// reported by the retrieval tool, and one tool citation per other step.
func citations(active []toolcall.Record) []itinerary.Citation {
	var out []itinerary.Citation
	for _, r := range active {
		if r.Tool == tools.KnowledgeRetrieval {
			var kr catalog.KnowledgeResult
			if json.Unmarshal(r.Result, &kr) == nil && len(kr.Citations) > 0 {
				out = append(out, kr.Citations...)
				continue
			}
		}
		out = append(out, itinerary.Citation{
			Title:  string(r.Tool),
			Source: itinerary.SourceTool,
			Ref:    fmt.Sprintf("%s#%s", r.Tool, r.StepID),
		})
	}
	return out
}
