// Package orchestrator runs the planning graph: it sequences constraint
// extraction, planning, dependency-ordered tool execution, verification and
// bounded repair for one turn of a thread, checkpointing the session after
// every node.
//
// A turn is driven by a closed set of nodes (see Node) and an explicit
// transition table. Every node runs on a copy of the session state; the copy
// replaces the state and is saved only when the node succeeds, so a failed
// turn never corrupts the last good checkpoint and the caller may retry the
// same thread.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/tripgraph/tripgraph/runtime/hooks"
	"github.com/tripgraph/tripgraph/runtime/itinerary"
	"github.com/tripgraph/tripgraph/runtime/model"
	"github.com/tripgraph/tripgraph/runtime/planner"
	"github.com/tripgraph/tripgraph/runtime/router"
	"github.com/tripgraph/tripgraph/runtime/session"
	"github.com/tripgraph/tripgraph/runtime/telemetry"
	"github.com/tripgraph/tripgraph/runtime/toolcall"
	"github.com/tripgraph/tripgraph/runtime/tools"
	"github.com/tripgraph/tripgraph/runtime/verify"
)

// DefaultMaxRepairs is the number of repairs allowed per turn.
const DefaultMaxRepairs = 3

type (
	// Orchestrator runs planning turns. It is safe for concurrent use; turns
	// of the same thread are serialized by the Locker.
	Orchestrator struct {
		store           session.Store
		locker          session.Locker
		tools           tools.Caller
		caps            planner.Capabilities
		bus             hooks.Bus
		logger          telemetry.Logger
		metrics         telemetry.Metrics
		tracer          telemetry.Tracer
		maxRepairs      int
		maxStepAttempts int
		now             func() time.Time
		newID           func() string
		handlers        map[Node]handler
	}

	// Options configures an Orchestrator. Store, Tools and Capabilities are
	// required.
	Options struct {
		// Store persists checkpoints.
		Store session.Store
		// Locker serializes turns per thread. Defaults to Store when it
		// implements session.Locker, else to a process-local locker.
		Locker session.Locker
		// Tools executes plan steps.
		Tools tools.Caller
		// Capabilities are the model-backed extraction, planning, repair and
		// synthesis capabilities.
		Capabilities planner.Capabilities
		// Bus receives progress events. Defaults to an empty bus.
		Bus hooks.Bus
		// Logger defaults to a noop logger.
		Logger telemetry.Logger
		// Metrics defaults to a noop recorder.
		Metrics telemetry.Metrics
		// Tracer defaults to a noop tracer.
		Tracer telemetry.Tracer
		// MaxRepairs bounds repairs per turn. Defaults to DefaultMaxRepairs.
		MaxRepairs int
		// MaxStepAttempts bounds failed attempts per step and plan revision.
		// Defaults to router.DefaultMaxStepAttempts.
		MaxStepAttempts int
		// Now defaults to time.Now.
		Now func() time.Time
		// NewID generates thread, turn and record IDs. Defaults to UUIDs.
		NewID func() string
	}

	// Request is a query submission.
	Request struct {
		// Query is the user utterance.
		Query string
		// ThreadID selects the thread. A new one is generated when empty.
		ThreadID string
	}

	// Result is the outcome of a turn.
	Result struct {
		ThreadID        string               `json:"thread_id"`
		TurnID          string               `json:"turn_id"`
		AnswerMarkdown  string               `json:"answer_markdown"`
		Itinerary       *itinerary.Itinerary `json:"itinerary"`
		Citations       []itinerary.Citation `json:"citations"`
		ToolsUsed       []toolcall.Usage     `json:"tools_used"`
		Decisions       []itinerary.Decision `json:"decisions"`
		// Violations lists the violations a degraded turn could not repair.
		Violations      []verify.Violation   `json:"violations,omitempty"`
		Degraded        bool                 `json:"degraded"`
		IsRefinement    bool                 `json:"is_refinement"`
		ExecutionTimeMS int64                `json:"execution_time_ms"`
	}

	// TurnError reports a turn that failed at a node. The last checkpoint
	// written before the failing node is intact.
	TurnError struct {
		ThreadID string
		Node     Node
		Err      error
	}

	// handler runs one node against st and returns the next node and an
	// optional progress message.
	handler func(ctx context.Context, st *session.State) (next Node, msg string, err error)
)

var (
	// ErrTurnFailed matches every TurnError.
	ErrTurnFailed = errors.New("turn failed")
	// ErrQueryRequired is returned by Run for an empty query.
	ErrQueryRequired = errors.New("query is required")
	// ErrNoTurn is returned by Resume for threads that never started a turn.
	ErrNoTurn = errors.New("no turn to resume")
	// ErrInvalidTransition indicates a node chose a successor outside the
	// transition table.
	ErrInvalidTransition = errors.New("invalid transition")
)

// New returns an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	if opts.Tools == nil {
		return nil, errors.New("orchestrator: tools are required")
	}
	if opts.Capabilities == nil {
		return nil, errors.New("orchestrator: capabilities are required")
	}
	o := &Orchestrator{
		store:           opts.Store,
		locker:          opts.Locker,
		tools:           opts.Tools,
		caps:            opts.Capabilities,
		bus:             opts.Bus,
		logger:          opts.Logger,
		metrics:         opts.Metrics,
		tracer:          opts.Tracer,
		maxRepairs:      opts.MaxRepairs,
		maxStepAttempts: opts.MaxStepAttempts,
		now:             opts.Now,
		newID:           opts.NewID,
	}
	if o.locker == nil {
		if l, ok := opts.Store.(session.Locker); ok {
			o.locker = l
		} else {
			o.locker = session.NewLocalLocker()
		}
	}
	if o.bus == nil {
		o.bus = hooks.NewBus()
	}
	if o.logger == nil {
		o.logger = telemetry.NewNoopLogger()
	}
	if o.metrics == nil {
		o.metrics = telemetry.NewNoopMetrics()
	}
	if o.tracer == nil {
		o.tracer = telemetry.NewNoopTracer()
	}
	if o.maxRepairs <= 0 {
		o.maxRepairs = DefaultMaxRepairs
	}
	if o.maxStepAttempts <= 0 {
		o.maxStepAttempts = router.DefaultMaxStepAttempts
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	o.handlers = map[Node]handler{
		NodeStart:                o.start,
		NodeRefinement:           o.refine,
		NodeConstraintExtraction: o.extract,
		NodePlan:                 o.plan,
		NodeRouter:               o.route,
		NodeToolExecution:        o.executeTools,
		NodeVerify:               o.verify,
		NodeRepair:               o.repair,
		NodeSynthesize:           o.synthesize,
		NodeRespond:              o.respond,
	}
	return o, nil
}

// Run executes one turn. A thread whose checkpoint holds an itinerary is
// refined; any other thread is planned from scratch.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Query == "" {
		return nil, ErrQueryRequired
	}
	threadID := req.ThreadID
	if threadID == "" {
		threadID = o.newID()
	}
	unlock, err := o.locker.Lock(ctx, threadID)
	if err != nil {
		return nil, &TurnError{ThreadID: threadID, Node: NodeStart, Err: fmt.Errorf("lock thread: %w", err)}
	}
	defer unlock()

	st, err := o.store.Load(ctx, threadID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		st = session.State{ThreadID: threadID}
	case err != nil:
		return nil, &TurnError{ThreadID: threadID, Node: NodeStart, Err: fmt.Errorf("load checkpoint: %w", err)}
	}
	o.beginTurn(&st, req.Query)
	return o.drive(ctx, st, NodeStart, "")
}

// Resume continues the turn recorded in the checkpoint of threadID from its
// next node. Resuming a finished turn returns its result without running
// anything.
func (o *Orchestrator) Resume(ctx context.Context, threadID string) (*Result, error) {
	if threadID == "" {
		return nil, session.ErrThreadIDRequired
	}
	unlock, err := o.locker.Lock(ctx, threadID)
	if err != nil {
		return nil, &TurnError{ThreadID: threadID, Node: NodeStart, Err: fmt.Errorf("lock thread: %w", err)}
	}
	defer unlock()

	st, err := o.store.Load(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("resume %s: %w", threadID, err)
	}
	if st.Done {
		return o.result(st), nil
	}
	if st.Next == "" {
		return nil, fmt.Errorf("resume %s: %w", threadID, ErrNoTurn)
	}
	node, err := ParseNode(st.Next)
	if err != nil {
		return nil, fmt.Errorf("resume %s: %w", threadID, err)
	}
	return o.drive(ctx, st, node, "resumed at "+node.String())
}

// Error implements error.
func (e *TurnError) Error() string {
	return fmt.Sprintf("thread %s: %s failed: %v", e.ThreadID, e.Node, e.Err)
}

// Unwrap returns ErrTurnFailed and the cause.
func (e *TurnError) Unwrap() []error {
	return []error{ErrTurnFailed, e.Err}
}

// beginTurn resets the per-turn fields of st for a new utterance.
func (o *Orchestrator) beginTurn(st *session.State, query string) {
	now := o.now().UTC()
	st.TurnID = o.newID()
	st.Query = query
	st.Messages = append(st.Messages, session.Message{Role: session.RoleUser, Content: query, At: now})
	st.TurnStartedAt = now
	st.TurnRepairBase = st.RepairAttempts
	st.TurnRecordBase = len(st.Records)
	st.Violations = nil
	st.Unresolved = nil
	st.Done = false
	st.Verified = false
	st.Degraded = false
	st.IsRefinement = false
	st.Next = NodeStart.String()
}

// drive runs nodes from node until the turn ends, saving a checkpoint after
// every successful node.
func (o *Orchestrator) drive(ctx context.Context, st session.State, node Node, msg string) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, telemetry.SpanTurn)
	defer span.End()
	span.AddEvent("turn", "thread_id", st.ThreadID, "turn_id", st.TurnID, "node", node.String())

	o.publish(ctx, st, hooks.Event{Type: hooks.TypeTurn, Status: hooks.StatusStarted, Message: msg})

	for node != NodeEnd {
		if err := ctx.Err(); err != nil {
			o.publish(ctx, st, hooks.Event{Type: hooks.TypeTurn, Node: node.String(), Status: hooks.StatusCancelled, Message: err.Error()})
			span.SetStatus(codes.Error, "cancelled")
			return nil, &TurnError{ThreadID: st.ThreadID, Node: node, Err: err}
		}
		next, err := o.step(ctx, &st, node)
		if err != nil {
			o.logger.Error(ctx, "turn failed", "thread_id", st.ThreadID, "turn_id", st.TurnID, "node", node.String(), "err", err)
			o.publish(ctx, st, hooks.Event{Type: hooks.TypeTurn, Node: node.String(), Status: hooks.StatusFailed, Message: err.Error()})
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, &TurnError{ThreadID: st.ThreadID, Node: node, Err: err}
		}
		st.Next = next.String()
		if err := o.store.Save(ctx, st.Clone()); err != nil {
			err = fmt.Errorf("save checkpoint: %w", err)
			o.logger.Error(ctx, "turn failed", "thread_id", st.ThreadID, "turn_id", st.TurnID, "node", node.String(), "err", err)
			o.publish(ctx, st, hooks.Event{Type: hooks.TypeTurn, Node: node.String(), Status: hooks.StatusFailed, Message: err.Error()})
			span.SetStatus(codes.Error, err.Error())
			return nil, &TurnError{ThreadID: st.ThreadID, Node: node, Err: err}
		}
		st.Version++
		o.logger.Debug(ctx, "transition", "thread_id", st.ThreadID, "from", node.String(), "to", next.String())
		node = next
	}

	res := o.result(st)
	if res.Degraded {
		o.metrics.IncCounter(telemetry.MetricTurnDegraded, 1)
		o.logger.Warn(ctx, "turn degraded", "thread_id", st.ThreadID, "turn_id", st.TurnID, "unresolved", len(res.Violations))
	}
	var total float64
	if st.Itinerary != nil {
		total = st.Itinerary.TotalCostUSD
	}
	o.publish(ctx, st, hooks.Event{
		Type:     hooks.TypeTurn,
		Status:   hooks.StatusCompleted,
		Duration: time.Duration(res.ExecutionTimeMS) * time.Millisecond,
		Summary: &hooks.TurnSummary{
			PlanSize:     st.Plan.Len(),
			ToolCalls:    len(st.Records) - st.TurnRecordBase,
			TotalCostUSD: total,
			Degraded:     st.Degraded,
			Refinement:   st.IsRefinement,
		},
	})
	span.SetStatus(codes.Ok, "completed")
	return res, nil
}

// step runs node on a copy of st and commits the copy on success. A node
// failing schema validation is re-run once with the same input.
func (o *Orchestrator) step(ctx context.Context, st *session.State, node Node) (Node, error) {
	h, ok := o.handlers[node]
	if !ok {
		return 0, fmt.Errorf("no handler for node %s", node)
	}
	ctx, span := o.tracer.Start(ctx, telemetry.NodeSpan(node.String()))
	defer span.End()

	o.publish(ctx, *st, hooks.Event{Type: hooks.TypeNode, Node: node.String(), Status: hooks.StatusStarted})
	start := o.now()

	var (
		work session.State
		next Node
		msg  string
		err  error
	)
	for attempt := 0; attempt < 2; attempt++ {
		work = st.Clone()
		next, msg, err = h(ctx, &work)
		if err == nil || !errors.Is(err, model.ErrSchemaValidation) {
			break
		}
		o.logger.Warn(ctx, "schema validation failed", "node", node.String(), "attempt", attempt+1, "err", err)
		span.AddEvent("schema_validation_failed", "attempt", attempt+1)
	}
	elapsed := o.now().Sub(start)
	o.metrics.RecordTimer(telemetry.MetricNodeDuration, elapsed, "node", node.String())
	if err == nil && !node.CanTransition(next) {
		err = fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, node, next)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.publish(ctx, *st, hooks.Event{Type: hooks.TypeNode, Node: node.String(), Status: hooks.StatusFailed, Message: err.Error(), Duration: elapsed})
		return 0, err
	}
	*st = work
	o.publish(ctx, *st, hooks.Event{Type: hooks.TypeNode, Node: node.String(), Status: hooks.StatusCompleted, Message: msg, Duration: elapsed})
	return next, nil
}

// publish fills the turn identity of ev and delivers it. Delivery failures
// are logged and otherwise ignored.
func (o *Orchestrator) publish(ctx context.Context, st session.State, ev hooks.Event) {
	ev.ThreadID = st.ThreadID
	ev.TurnID = st.TurnID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = o.now().UTC()
	}
	if err := o.bus.Publish(ctx, ev); err != nil {
		o.logger.Warn(ctx, "progress event dropped", "type", string(ev.Type), "node", ev.Node, "err", err)
	}
}

func (o *Orchestrator) result(st session.State) *Result {
	st = st.Clone()
	return &Result{
		ThreadID:        st.ThreadID,
		TurnID:          st.TurnID,
		AnswerMarkdown:  st.Answer,
		Itinerary:       st.Itinerary,
		Citations:       st.Citations,
		ToolsUsed:       toolcall.Summarize(st.Records[min(st.TurnRecordBase, len(st.Records)):]),
		Decisions:       st.Decisions,
		Violations:      st.Unresolved,
		Degraded:        st.Degraded,
		IsRefinement:    st.IsRefinement,
		ExecutionTimeMS: o.now().Sub(st.TurnStartedAt).Milliseconds(),
	}
}
