// Package itinerary defines the structured outputs of a planning turn: the
// day-by-day itinerary, citations, decisions and the synthesis envelope
// returned by the synthesizer.
package itinerary

import (
	"slices"
)

// Citation source kinds.
const (
	SourceURL           = "url"
	SourceManual        = "manual"
	SourceFile          = "file"
	SourceTool          = "tool"
	SourceKnowledgeBase = "knowledge_base"
)

type (
	// Itinerary is the structured day-by-day plan.
	Itinerary struct {
		Days         []Day   `json:"days"`
		TotalCostUSD float64 `json:"total_cost_usd"`
		Currency     string  `json:"currency,omitempty"`
	}

	// Day is a single itinerary day.
	Day struct {
		// Date is a civil date (YYYY-MM-DD).
		Date         string   `json:"date"`
		Items        []Item   `json:"items"`
		DailyCostUSD *float64 `json:"daily_cost_usd,omitempty"`
	}

	// Item is one timed entry in a day.
	Item struct {
		Start      string   `json:"start"`
		End        string   `json:"end"`
		Title      string   `json:"title"`
		Location   string   `json:"location"`
		Notes      string   `json:"notes,omitempty"`
		CostUSD    *float64 `json:"cost_usd,omitempty"`
		BookingRef string   `json:"booking_ref,omitempty"`
	}

	// Citation identifies a source of information used in the answer.
	Citation struct {
		Title  string `json:"title"`
		Source string `json:"source"`
		// Ref is a knowledge item id or "tool#step".
		Ref string `json:"ref"`
	}

	// Decision records a choice made while planning.
	Decision struct {
		Step         string   `json:"step"`
		Choice       string   `json:"choice"`
		Alternatives []string `json:"alternatives,omitempty"`
		Reason       string   `json:"reason"`
	}

	// Synthesis is the structured output of the synthesizer.
	Synthesis struct {
		AnswerMarkdown string     `json:"answer_markdown"`
		Itinerary      Itinerary  `json:"itinerary"`
		Decisions      []Decision `json:"decisions"`
	}
)

// Clone returns a deep copy of it, or nil.
func (it *Itinerary) Clone() *Itinerary {
	if it == nil {
		return nil
	}
	out := &Itinerary{TotalCostUSD: it.TotalCostUSD, Currency: it.Currency}
	if it.Days != nil {
		out.Days = make([]Day, len(it.Days))
		for i, d := range it.Days {
			nd := Day{Date: d.Date, DailyCostUSD: cloneFloat(d.DailyCostUSD)}
			if d.Items != nil {
				nd.Items = make([]Item, len(d.Items))
				for j, item := range d.Items {
					item.CostUSD = cloneFloat(item.CostUSD)
					nd.Items[j] = item
				}
			}
			out.Days[i] = nd
		}
	}
	return out
}

// CloneDecisions returns a deep copy of ds.
func CloneDecisions(ds []Decision) []Decision {
	if ds == nil {
		return nil
	}
	out := make([]Decision, len(ds))
	for i, d := range ds {
		d.Alternatives = slices.Clone(d.Alternatives)
		out[i] = d
	}
	return out
}

// MergeCitations appends the citations in add that are not already present,
// keyed by Ref (or Title when Ref is empty).
func MergeCitations(have, add []Citation) []Citation {
	seen := make(map[string]bool, len(have))
	for _, c := range have {
		seen[citationKey(c)] = true
	}
	out := slices.Clone(have)
	for _, c := range add {
		k := citationKey(c)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}

func citationKey(c Citation) string {
	if c.Ref != "" {
		return c.Source + "|" + c.Ref
	}
	return c.Source + "|" + c.Title
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
