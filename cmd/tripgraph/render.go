package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/tripgraph/tripgraph/runtime/hooks"
	"github.com/tripgraph/tripgraph/runtime/itinerary"
	"github.com/tripgraph/tripgraph/runtime/orchestrator"
	"github.com/tripgraph/tripgraph/runtime/runlog"
	"github.com/tripgraph/tripgraph/runtime/session"
	"github.com/tripgraph/tripgraph/runtime/verify"
)

var (
	bold   = color.New(color.Bold)
	faint  = color.New(color.Faint)
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderResult(w io.Writer, res *orchestrator.Result) {
	kind := "plan"
	if res.IsRefinement {
		kind = "refinement"
	}
	fmt.Fprintf(w, "%s %s %s\n\n", bold.Sprint("thread"), res.ThreadID, faint.Sprintf("(%s, %s)", kind, time.Duration(res.ExecutionTimeMS)*time.Millisecond))
	if res.AnswerMarkdown != "" {
		fmt.Fprintln(w, strings.TrimSpace(res.AnswerMarkdown))
		fmt.Fprintln(w)
	}
	renderItinerary(w, res.Itinerary)
	if len(res.ToolsUsed) > 0 {
		parts := make([]string, len(res.ToolsUsed))
		for i, u := range res.ToolsUsed {
			parts[i] = fmt.Sprintf("%s x%d (%dms)", u.Name, u.Count, u.TotalMS)
		}
		fmt.Fprintf(w, "%s %s\n", bold.Sprint("tools"), strings.Join(parts, ", "))
	}
	renderCitations(w, res.Citations)
	if res.Degraded {
		fmt.Fprintln(w)
		yellow.Fprintln(w, "Some constraints could not be satisfied:")
		renderViolations(w, res.Violations)
	}
}

func renderState(w io.Writer, st session.State) {
	fmt.Fprintf(w, "%s %s\n", bold.Sprint("thread"), st.ThreadID)
	fmt.Fprintf(w, "%s %s\n", bold.Sprint("turn"), st.TurnID)
	if st.Done {
		fmt.Fprintf(w, "%s %s\n", bold.Sprint("state"), green.Sprint("done"))
	} else {
		fmt.Fprintf(w, "%s %s\n", bold.Sprint("state"), yellow.Sprintf("interrupted before %s", st.Next))
	}
	fmt.Fprintf(w, "%s %q\n", bold.Sprint("query"), st.Query)
	fmt.Fprintf(w, "%s revision %d, %d steps, %d tool calls, %d repairs\n\n",
		bold.Sprint("plan"), st.PlanRevision, st.Plan.Len(), len(st.Records), st.RepairAttempts)
	if st.Answer != "" {
		fmt.Fprintln(w, strings.TrimSpace(st.Answer))
		fmt.Fprintln(w)
	}
	renderItinerary(w, st.Itinerary)
	renderCitations(w, st.Citations)
	if len(st.Unresolved) > 0 {
		fmt.Fprintln(w)
		yellow.Fprintln(w, "Unresolved:")
		renderViolations(w, st.Unresolved)
	}
}

func renderItinerary(w io.Writer, it *itinerary.Itinerary) {
	if it == nil || len(it.Days) == 0 {
		return
	}
	for _, d := range it.Days {
		line := cyan.Sprint(d.Date)
		if d.DailyCostUSD != nil {
			line += faint.Sprintf("  $%.2f", *d.DailyCostUSD)
		}
		fmt.Fprintln(w, line)
		for _, item := range d.Items {
			fmt.Fprintf(w, "  %s-%s  %s", item.Start, item.End, item.Title)
			if item.Location != "" {
				fmt.Fprintf(w, " @ %s", item.Location)
			}
			if item.CostUSD != nil {
				fmt.Fprint(w, faint.Sprintf(" ($%.2f)", *item.CostUSD))
			}
			fmt.Fprintln(w)
		}
	}
	currency := it.Currency
	if currency == "" {
		currency = "USD"
	}
	fmt.Fprintf(w, "%s $%.2f %s\n\n", bold.Sprint("total"), it.TotalCostUSD, currency)
}

func renderCitations(w io.Writer, cs []itinerary.Citation) {
	if len(cs) == 0 {
		return
	}
	fmt.Fprintln(w, bold.Sprint("sources"))
	for _, c := range cs {
		fmt.Fprintf(w, "  - %s %s\n", c.Title, faint.Sprintf("[%s %s]", c.Source, c.Ref))
	}
}

func renderViolations(w io.Writer, vs []verify.Violation) {
	for _, v := range vs {
		fmt.Fprintf(w, "  - %s: %s", v.Rule, v.Reason)
		if len(v.ConflictingSteps) > 0 {
			fmt.Fprint(w, faint.Sprintf(" (%s)", strings.Join(v.ConflictingSteps, ", ")))
		}
		fmt.Fprintln(w)
	}
}

// renderTurns prints one line per turn of a thread log.
func renderTurns(w io.Writer, turns []runlog.Turn) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TURN\tSTATUS\tSTARTED\tDURATION\tCALLS\tCOST\tNOTES")
	for _, t := range turns {
		var (
			calls, cost = "-", "-"
			notes       []string
		)
		if s := t.Summary; s != nil {
			calls = strconv.Itoa(s.ToolCalls)
			cost = fmt.Sprintf("$%.2f", s.TotalCostUSD)
			if s.Refinement {
				notes = append(notes, "refinement")
			}
			if s.Degraded {
				notes = append(notes, "degraded")
			}
		}
		if t.Resumes > 0 {
			notes = append(notes, fmt.Sprintf("resumed x%d", t.Resumes))
		}
		if t.Node != "" {
			notes = append(notes, fmt.Sprintf("at %s: %s", t.Node, t.Message))
		}
		duration := "-"
		if t.Status != runlog.StatusRunning {
			duration = t.Duration.Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Status, t.StartedAt.Local().Format(time.DateTime), duration, calls, cost, strings.Join(notes, ", "))
	}
	return tw.Flush()
}

// progress prints progress events as they are published.
type progress struct {
	mu sync.Mutex
	w  io.Writer
}

func newProgress(w io.Writer) *progress {
	return &progress{w: w}
}

// HandleEvent implements hooks.Subscriber.
func (p *progress) HandleEvent(_ context.Context, e hooks.Event) error {
	p.print(e)
	return nil
}

func (p *progress) print(e hooks.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch e.Type {
	case hooks.TypeTurn:
		fmt.Fprintf(p.w, "%s turn %s %s\n", statusMark(e.Status), e.TurnID, faint.Sprint(e.Message))
	case hooks.TypeNode:
		if e.Status == hooks.StatusStarted {
			return
		}
		fmt.Fprintf(p.w, "%s %-22s %s %s\n", statusMark(e.Status), e.Node, faint.Sprint(e.Duration.Round(time.Millisecond)), e.Message)
	case hooks.TypeTool:
		if e.Status == hooks.StatusStarted {
			return
		}
		fmt.Fprintf(p.w, "  %s %s[%s] %s %s\n", statusMark(e.Status), e.Node, e.StepID, faint.Sprint(e.Duration.Round(time.Millisecond)), e.Message)
	}
}

func statusMark(s hooks.Status) string {
	switch s {
	case hooks.StatusCompleted:
		return green.Sprint("✓")
	case hooks.StatusFailed:
		return red.Sprint("✗")
	case hooks.StatusCancelled:
		return yellow.Sprint("!")
	default:
		return cyan.Sprint("▸")
	}
}
