package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tripgraph/tripgraph/runtime/toolcall"
	"github.com/tripgraph/tripgraph/runtime/tools"
	"github.com/tripgraph/tripgraph/runtime/verify"
)

const extractSystem = `You extract travel constraints from a traveller's request.
Report only what the traveller states: a budget ceiling in USD, travel dates
(YYYY-MM-DD), IATA airport codes, and named preferences such as
no_overnight_flights or kid_friendly. Omit anything not mentioned.`

const refineSystem = `You update travel constraints after a follow-up message.
You receive the current constraints and the new message. Report only the
fields the new message changes or adds. Omit every field the message does not
mention; omitted fields keep their current value.`

const planSystem = `You plan multi-day trips by composing tool calls.
Return a list of steps. Each step has a unique id, the name of one of the
available tools, arguments matching that tool's schema, and depends_on listing
the ids of earlier steps whose output it needs. Only depend on steps in the
same plan. Steps without dependencies run in parallel.`

const repairSystem = `You repair trip plans that violate the traveller's constraints.
You receive the current plan, the violations found and the results gathered so
far. Return a complete replacement plan. Keep the id of any step whose result
is still valid so it is not executed again; give changed steps new ids.`

const synthesisSystem = `You write the final trip itinerary from tool results.
Use only information present in the results. Produce a markdown answer, a
day-by-day itinerary with timed items and costs in USD, and the decisions you
made with the alternatives you rejected. Mention missing information instead
of inventing it.`

func extractPrompt(in ExtractInput) string {
	var b strings.Builder
	writeHistory(&b, in.History)
	fmt.Fprintf(&b, "Request:\n%s\n", in.Query)
	return b.String()
}

func refinePrompt(in ExtractInput) string {
	var b strings.Builder
	writeHistory(&b, in.History)
	if in.Prior != nil {
		writeJSON(&b, "Current constraints", in.Prior)
	}
	fmt.Fprintf(&b, "Follow-up message:\n%s\n", in.Query)
	return b.String()
}

func planPrompt(in PlanInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request:\n%s\n\n", in.Query)
	writeJSON(&b, "Constraints", in.Constraints)
	writeTools(&b, in.Tools)
	if in.Prior != nil && in.Prior.Len() > 0 {
		writeJSON(&b, "Previous plan", in.Prior)
	}
	writeViolations(&b, in.Violations)
	return b.String()
}

func repairPrompt(in RepairInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request:\n%s\n\n", in.Query)
	writeJSON(&b, "Constraints", in.Constraints)
	writeTools(&b, in.Tools)
	writeJSON(&b, "Current plan", in.Plan)
	writeViolations(&b, in.Violations)
	writeResults(&b, "Results so far", in.Records)
	return b.String()
}

func synthesisPrompt(in SynthesisInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request:\n%s\n\n", in.Query)
	writeJSON(&b, "Constraints", in.Constraints)
	writeJSON(&b, "Plan", in.Plan)
	writeResults(&b, "Results", in.Records)
	if len(in.Failed) > 0 {
		b.WriteString("Unavailable information:\n")
		for _, r := range in.Failed {
			fmt.Fprintf(&b, "- step %s (%s) failed: %s\n", r.StepID, r.Tool, r.Error.Error())
		}
		b.WriteString("\n")
	}
	writeJSON(&b, "Estimated costs (USD)", in.Costs)
	if len(in.Unresolved) > 0 {
		b.WriteString("These problems could not be resolved; state them plainly in the answer:\n")
		for _, v := range in.Unresolved {
			fmt.Fprintf(&b, "- [%s] %s\n", v.Rule, v.Reason)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func writeHistory(b *strings.Builder, history []string) {
	if len(history) == 0 {
		return
	}
	b.WriteString("Earlier messages:\n")
	for _, h := range history {
		fmt.Fprintf(b, "- %s\n", h)
	}
	b.WriteString("\n")
}

func writeTools(b *strings.Builder, specs []tools.Spec) {
	b.WriteString("Available tools:\n")
	for _, s := range specs {
		fmt.Fprintf(b, "- %s: %s\n  arguments schema: %s\n", s.Name, s.Description, compact(s.Payload))
	}
	b.WriteString("\n")
}

func writeViolations(b *strings.Builder, vs []verify.Violation) {
	if len(vs) == 0 {
		return
	}
	b.WriteString("Violations:\n")
	for _, v := range vs {
		fmt.Fprintf(b, "- [%s] %s", v.Rule, v.Reason)
		if len(v.ConflictingSteps) > 0 {
			fmt.Fprintf(b, " (steps: %s)", strings.Join(v.ConflictingSteps, ", "))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func writeResults(b *strings.Builder, title string, records []toolcall.Record) {
	if len(records) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, r := range records {
		if !r.Succeeded() {
			continue
		}
		fmt.Fprintf(b, "- step %s (%s) args=%s\n  result=%s\n", r.StepID, r.Tool, compact(r.Args), compact(r.Result))
	}
	b.WriteString("\n")
}

func writeJSON(b *strings.Builder, title string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		data = []byte(fmt.Sprintf("%+v", v))
	}
	fmt.Fprintf(b, "%s:\n%s\n\n", title, data)
}

func compact(raw json.RawMessage) string {
	var v any
	if json.Unmarshal(raw, &v) != nil {
		return string(raw)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(data)
}
