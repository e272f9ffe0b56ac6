// Package hooks carries progress events from the orchestrator to observers:
// the caller's progress stream, the run log and tests. Delivery is
// best-effort; the orchestrator logs publish failures and carries on.
package hooks

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Type is the kind of progress event.
type Type string

const (
	// TypeTurn marks the start and end of a turn.
	TypeTurn Type = "turn"
	// TypeNode is emitted once per node transition.
	TypeNode Type = "node"
	// TypeTool is emitted once per tool call attempt.
	TypeTool Type = "tool"
)

// Status is the outcome carried by an event.
type Status string

const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Event is one progress event.
type Event struct {
	Type Type `json:"type"`
	// TurnID doubles as the trace identifier of the turn.
	TurnID   string `json:"trace_id"`
	ThreadID string `json:"thread_id"`
	// Node is the node name for node events, the tool name for tool events
	// and empty for turn events.
	Node   string `json:"node,omitempty"`
	Status Status `json:"status"`
	// Message is an optional human-readable detail.
	Message string `json:"message,omitempty"`
	// StepID is the plan step of tool events.
	StepID string `json:"step_id,omitempty"`
	// ArgsDigest is the sha256 of the canonical tool arguments.
	ArgsDigest string `json:"args_digest,omitempty"`
	// Duration is the node, call or turn duration for completed events.
	Duration  time.Duration `json:"duration_ms"`
	Timestamp time.Time     `json:"timestamp"`
	// Summary is set on turn completion events.
	Summary *TurnSummary `json:"summary,omitempty"`
}

// TurnSummary describes a finished turn.
type TurnSummary struct {
	PlanSize     int     `json:"plan_size"`
	ToolCalls    int     `json:"tool_calls"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	Degraded     bool    `json:"degraded"`
	Refinement   bool    `json:"is_refinement"`
}

// MarshalJSON encodes Duration in milliseconds.
func (e Event) MarshalJSON() ([]byte, error) {
	type alias Event
	return json.Marshal(struct {
		alias
		Duration int64 `json:"duration_ms"`
	}{alias: alias(e), Duration: e.Duration.Milliseconds()})
}

// UnmarshalJSON decodes Duration from milliseconds.
func (e *Event) UnmarshalJSON(data []byte) error {
	type alias Event
	var aux struct {
		alias
		Duration int64 `json:"duration_ms"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*e = Event(aux.alias)
	e.Duration = time.Duration(aux.Duration) * time.Millisecond
	return nil
}

// Digest returns the hex sha256 of the canonical encoding of args: object
// keys sorted, insignificant whitespace removed. Undecodable input is hashed
// as is.
func Digest(args json.RawMessage) string {
	canonical := []byte(args)
	var v any
	if json.Unmarshal(args, &v) == nil {
		if b, err := json.Marshal(v); err == nil {
			canonical = b
		}
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
