package constraints

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func budget(v float64) *float64 { return &v }

func TestMergeCarriesForwardUnmentionedFields(t *testing.T) {
	t.Parallel()

	prior := Set{
		BudgetUSD:   budget(2000),
		Dates:       &DateRange{Start: "2025-10-15", End: "2025-10-20"},
		Airports:    []string{"SFO"},
		Preferences: Preferences{PrefKidFriendly: "true"},
	}
	update := Set{
		BudgetUSD:   budget(1500),
		Preferences: Preferences{PrefNoOvernightFlights: "true"},
	}

	got := Merge(prior, update)

	require.Equal(t, 1500.0, *got.BudgetUSD)
	require.Equal(t, prior.Dates, got.Dates)
	require.Equal(t, []string{"SFO"}, got.Airports)
	require.True(t, got.Flag(PrefKidFriendly))
	require.True(t, got.Flag(PrefNoOvernightFlights))
	// prior untouched
	require.Equal(t, 2000.0, *prior.BudgetUSD)
	require.Len(t, prior.Preferences, 1)
}

func TestMergeDateBoundsIndependently(t *testing.T) {
	t.Parallel()

	prior := Set{Dates: &DateRange{Start: "2025-10-15", End: "2025-10-20"}}
	got := Merge(prior, Set{Dates: &DateRange{End: "2025-10-22"}})

	require.Equal(t, "2025-10-15", got.Dates.Start)
	require.Equal(t, "2025-10-22", got.Dates.End)
	require.Equal(t, 7, got.Nights())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		set     Set
		wantErr bool
	}{
		{name: "empty", set: Set{}},
		{name: "negative_budget", set: Set{BudgetUSD: budget(-1)}, wantErr: true},
		{name: "inverted_dates", set: Set{Dates: &DateRange{Start: "2025-10-20", End: "2025-10-15"}}, wantErr: true},
		{name: "bad_date", set: Set{Dates: &DateRange{Start: "15/10/2025"}}, wantErr: true},
		{name: "bad_airport", set: Set{Airports: []string{"SFOX"}}, wantErr: true},
		{name: "valid", set: Set{BudgetUSD: budget(10), Dates: &DateRange{Start: "2025-10-15", End: "2025-10-15"}, Airports: []string{"NRT"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.set.Validate()
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestPreferencesJSONAcceptsNaturalTypes(t *testing.T) {
	t.Parallel()

	var s Set
	err := json.Unmarshal([]byte(`{"preferences":{"kid_friendly":true,"pace":"relaxed","max_stops":1}}`), &s)
	require.NoError(t, err)
	require.True(t, s.Flag(PrefKidFriendly))
	require.Equal(t, "relaxed", s.Preferences["pace"])
	require.Equal(t, "1", s.Preferences["max_stops"])

	out, err := json.Marshal(s.Preferences)
	require.NoError(t, err)
	require.JSONEq(t, `{"kid_friendly":true,"pace":"relaxed","max_stops":"1"}`, string(out))
}

func TestDateRangeContains(t *testing.T) {
	t.Parallel()

	r := DateRange{Start: "2025-10-15", End: "2025-10-17"}
	require.True(t, r.Contains("2025-10-15"))
	require.True(t, r.Contains("2025-10-17"))
	require.False(t, r.Contains("2025-10-18"))
	require.False(t, r.Contains("not-a-date"))
	require.True(t, DateRange{Start: "2025-10-15"}.Contains("2030-01-01"))
}

func TestNormalizeAirports(t *testing.T) {
	t.Parallel()

	s := Set{Airports: []string{" sfo", "SFO", "nrt", ""}}.Normalize()
	require.Equal(t, []string{"SFO", "NRT"}, s.Airports)
}

func TestMergeProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("empty update preserves every field", prop.ForAll(
		func(b float64, airport string, pref bool) bool {
			prior := Set{
				BudgetUSD:   budget(b),
				Airports:    []string{airport},
				Preferences: Preferences{PrefKidFriendly: boolString(pref)},
			}
			got := Merge(prior, Set{})
			return *got.BudgetUSD == b &&
				len(got.Airports) == 1 && got.Airports[0] == airport &&
				got.Flag(PrefKidFriendly) == pref
		},
		gen.Float64Range(0, 100000),
		gen.OneConstOf("SFO", "NRT", "HND", "JFK"),
		gen.Bool(),
	))

	properties.Property("mentioned budget always wins", prop.ForAll(
		func(prior, next float64) bool {
			got := Merge(Set{BudgetUSD: budget(prior)}, Set{BudgetUSD: budget(next)})
			return *got.BudgetUSD == next
		},
		gen.Float64Range(0, 100000),
		gen.Float64Range(0, 100000),
	))

	properties.TestingRun(t)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
