package toolcall

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tripgraph/tripgraph/runtime/toolerrors"
	"github.com/tripgraph/tripgraph/runtime/tools"
)

func rec(step string, tool tools.Ident, status Status, rev int, d time.Duration) Record {
	r := Record{StepID: step, Tool: tool, Status: status, PlanRevision: rev, Duration: d}
	if status == StatusSucceeded {
		r.Result = json.RawMessage(`{}`)
	} else {
		r.Error = toolerrors.New("boom")
	}
	return r
}

func TestActiveKeepsFirstSuccessInRecordOrder(t *testing.T) {
	t.Parallel()

	records := []Record{
		rec("b", tools.Lodging, StatusFailed, 1, 0),
		rec("b", tools.Lodging, StatusSucceeded, 1, 0),
		rec("a", tools.Flights, StatusSucceeded, 1, 0),
		rec("c", tools.Events, StatusSucceeded, 1, 0),
		rec("a", tools.Flights, StatusSucceeded, 2, 0),
	}
	got := Active(records, func(r Record) bool { return r.StepID != "c" })
	require.Len(t, got, 2)
	require.Equal(t, "b", got[0].StepID)
	require.Equal(t, "a", got[1].StepID)
	require.Equal(t, 1, got[1].PlanRevision)
}

func TestFailuresScopedToRevision(t *testing.T) {
	t.Parallel()

	records := []Record{
		rec("a", tools.Flights, StatusFailed, 1, 0),
		rec("a", tools.Flights, StatusFailed, 2, 0),
		rec("a", tools.Flights, StatusFailed, 2, 0),
	}
	require.Equal(t, 2, Failures(records, 2)["a"])
	require.Equal(t, 1, Failures(records, 1)["a"])
	require.Zero(t, Failures(records, 3)["a"])
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	records := []Record{
		rec("a", tools.Flights, StatusSucceeded, 1, 120*time.Millisecond),
		rec("b", tools.Lodging, StatusFailed, 1, 30*time.Millisecond),
		rec("a2", tools.Flights, StatusSucceeded, 1, 80*time.Millisecond),
	}
	require.Equal(t, []Usage{
		{Name: tools.Flights, Count: 2, TotalMS: 200},
		{Name: tools.Lodging, Count: 1, TotalMS: 30},
	}, Summarize(records))
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	orig := []Record{rec("a", tools.Flights, StatusFailed, 1, 0)}
	orig[0].Args = json.RawMessage(`{"a":1}`)
	c := CloneAll(orig)
	c[0].Error.Message = "changed"
	c[0].Args[2] = 'b'
	require.Equal(t, "boom", orig[0].Error.Message)
	require.JSONEq(t, `{"a":1}`, string(orig[0].Args))
	require.True(t, StatusFailed.Terminal())
	require.False(t, StatusRunning.Terminal())
	require.Equal(t, map[string]bool{}, SucceededSteps(orig))
}
