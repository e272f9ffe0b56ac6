package itinerary

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeCitationsDeduplicates(t *testing.T) {
	t.Parallel()

	have := []Citation{{Title: "flights", Source: SourceTool, Ref: "flights#a"}}
	add := []Citation{
		{Title: "flights again", Source: SourceTool, Ref: "flights#a"},
		{Title: "Shibuya guide", Source: SourceKnowledgeBase, Ref: "kb-7"},
		{Title: "Shibuya guide", Source: SourceKnowledgeBase, Ref: "kb-7"},
		{Title: "notes", Source: SourceManual},
	}
	got := MergeCitations(have, add)
	require.Len(t, got, 3)
	require.Equal(t, "kb-7", got[1].Ref)
	require.Equal(t, "notes", got[2].Title)
	require.Len(t, have, 1)
}

func TestItineraryCloneIsDeep(t *testing.T) {
	t.Parallel()

	cost := 40.0
	orig := &Itinerary{Days: []Day{{Date: "2025-10-15", Items: []Item{{Title: "Museum", CostUSD: &cost}}}}, TotalCostUSD: 40}
	c := orig.Clone()
	c.Days[0].Items[0].Title = "Park"
	*c.Days[0].Items[0].CostUSD = 0

	require.Equal(t, "Museum", orig.Days[0].Items[0].Title)
	require.Equal(t, 40.0, *orig.Days[0].Items[0].CostUSD)

	var nilIt *Itinerary
	require.Nil(t, nilIt.Clone())
}
