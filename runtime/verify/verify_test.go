package verify

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/tripgraph/tripgraph/runtime/constraints"
	"github.com/tripgraph/tripgraph/runtime/toolcall"
	"github.com/tripgraph/tripgraph/runtime/toolerrors"
	"github.com/tripgraph/tripgraph/runtime/tools"
	"github.com/tripgraph/tripgraph/runtime/tools/catalog"
)

func ptr(v float64) *float64 { return &v }

func record(t *testing.T, step string, tool tools.Ident, args, result any) toolcall.Record {
	t.Helper()
	a, err := json.Marshal(args)
	require.NoError(t, err)
	r, err := json.Marshal(result)
	require.NoError(t, err)
	return toolcall.Record{ID: step + "-1", StepID: step, Tool: tool, Args: a, Result: r, Status: toolcall.StatusSucceeded}
}

func flights(t *testing.T, step string, opts ...catalog.FlightOption) toolcall.Record {
	return record(t, step, tools.Flights,
		catalog.FlightSearchArgs{DepartureAirport: "SFO", ArrivalAirports: []string{"NRT"}, DepartureDate: "2025-10-15"},
		catalog.FlightSearchResult{Flights: opts})
}

func TestBudgetSingleFlightOverCeiling(t *testing.T) {
	t.Parallel()

	c := constraints.Set{BudgetUSD: ptr(500)}
	records := []toolcall.Record{flights(t, "s1", catalog.FlightOption{
		Airline: "UA", FlightNumber: "UA837", DepartureTime: "2025-10-15T11:00", ArrivalTime: "2025-10-16T15:00", Price: 600,
	})}

	got := Verify(c, records)

	require.Len(t, got, 1)
	require.Equal(t, RuleBudget, got[0].Rule)
	require.Contains(t, got[0].Reason, "600")
	require.Contains(t, got[0].Reason, "500")
	require.Equal(t, []string{"s1"}, got[0].ConflictingSteps)
}

func TestBudgetUsesCheapestOptionAndNights(t *testing.T) {
	t.Parallel()

	c := constraints.Set{
		BudgetUSD: ptr(1000),
		Dates:     &constraints.DateRange{Start: "2025-10-15", End: "2025-10-20"},
	}
	lodging := record(t, "s2", tools.Lodging,
		catalog.LodgingSearchArgs{Neighborhood: "Shinjuku", StartDate: "2025-10-15", EndDate: "2025-10-18"},
		catalog.LodgingSearchResult{LodgingOptions: []catalog.LodgingOption{
			{Name: "Grand", PricePerNight: 300},
			{Name: "Hostel", PricePerNight: 100},
		}})
	records := []toolcall.Record{
		flights(t, "s1",
			catalog.FlightOption{Airline: "UA", FlightNumber: "UA1", DepartureTime: "10:00", ArrivalTime: "14:00", Price: 900},
			catalog.FlightOption{Airline: "NH", FlightNumber: "NH7", DepartureTime: "11:00", ArrivalTime: "15:00", Price: 650},
		),
		lodging,
	}

	b := Costs(c, records)
	require.Equal(t, 650.0, b.FlightsUSD)
	require.Equal(t, 300.0, b.LodgingUSD)
	require.Equal(t, 950.0, b.TotalUSD)
	require.Empty(t, Verify(c, records))

	c.BudgetUSD = ptr(900)
	got := Verify(c, records)
	require.Len(t, got, 1)
	require.Equal(t, []string{"s1", "s2"}, got[0].ConflictingSteps)
	require.Contains(t, got[0].Reason, "950")
}

func TestLodgingNightsFallBackToConstraintDates(t *testing.T) {
	t.Parallel()

	c := constraints.Set{Dates: &constraints.DateRange{Start: "2025-10-15", End: "2025-10-17"}}
	r := record(t, "s1", tools.Lodging,
		map[string]any{"neighborhood": "Gion"},
		catalog.LodgingSearchResult{LodgingOptions: []catalog.LodgingOption{{Name: "Ryokan", PricePerNight: 120}}})

	require.Equal(t, 240.0, Costs(c, []toolcall.Record{r}).LodgingUSD)
	require.Equal(t, 120.0, Costs(constraints.Set{}, []toolcall.Record{r}).LodgingUSD)
}

func TestOvernightDeparture(t *testing.T) {
	t.Parallel()

	c := constraints.Set{Preferences: constraints.Preferences{constraints.PrefNoOvernightFlights: "true"}}
	records := []toolcall.Record{flights(t, "s1",
		catalog.FlightOption{Airline: "JL", FlightNumber: "JL1", DepartureTime: "2025-10-15T23:10", ArrivalTime: "2025-10-17T04:30", Price: 700},
		catalog.FlightOption{Airline: "NH", FlightNumber: "NH7", DepartureTime: "2025-10-15T11:00", ArrivalTime: "2025-10-16T15:00", Price: 800},
	)}

	got := Verify(c, records)

	require.Len(t, got, 1)
	require.Equal(t, RuleOvernight, got[0].Rule)
	require.Contains(t, got[0].Reason, "JL1")
	require.Contains(t, got[0].Reason, "23:10")
	require.Equal(t, []string{"s1"}, got[0].ConflictingSteps)

	require.Empty(t, Verify(constraints.Set{}, records), "rule only applies with the preference")
}

func TestOvernightBoundaries(t *testing.T) {
	t.Parallel()

	c := constraints.Set{Preferences: constraints.Preferences{constraints.PrefNoOvernightFlights: "true"}}
	cases := []struct {
		dep, arr string
		flagged  bool
	}{
		{dep: "22:00", arr: "23:30", flagged: false},
		{dep: "22:01", arr: "23:30", flagged: true},
		{dep: "08:00", arr: "06:00", flagged: false},
		{dep: "01:00", arr: "05:59", flagged: true},
		{dep: "10:45 PM", arr: "11:50 PM", flagged: true},
		{dep: "2025-10-15T23:30:00+09:00", arr: "2025-10-16T07:00:00+09:00", flagged: true},
		{dep: "soon", arr: "later", flagged: false},
	}
	for _, tc := range cases {
		records := []toolcall.Record{flights(t, "s1", catalog.FlightOption{
			Airline: "XX", FlightNumber: "XX1", DepartureTime: tc.dep, ArrivalTime: tc.arr, Price: 1,
		})}
		got := Verify(c, records)
		if tc.flagged {
			require.Len(t, got, 1, "%s -> %s", tc.dep, tc.arr)
		} else {
			require.Empty(t, got, "%s -> %s", tc.dep, tc.arr)
		}
	}
}

func TestWeatherFlagsOutdoorEventsOnRainyDays(t *testing.T) {
	t.Parallel()

	weather := record(t, "w", tools.Weather,
		catalog.WeatherArgs{Latitude: 35.0, Longitude: 135.7, StartDate: "2025-10-15", EndDate: "2025-10-17"},
		catalog.WeatherResult{Daily: []catalog.DailyWeather{
			{ForecastDate: "2025-10-15", WeatherCode: 1},
			{ForecastDate: "2025-10-16", WeatherCode: 63},
			{ForecastDate: "2025-10-17", WeatherCode: 3},
		}})
	events := record(t, "e", tools.Events,
		catalog.EventSearchArgs{Location: "Kyoto", StartDate: "2025-10-15", EndDate: "2025-10-17"},
		catalog.EventSearchResult{Events: []catalog.EventOption{
			{Name: "Garden walk", Date: "2025-10-16", KidFriendly: true},
			{Name: "Museum", Date: "2025-10-16", KidFriendly: true, IsIndoor: true},
			{Name: "Temple hike", Date: "2025-10-17", KidFriendly: true},
			{Name: "Bamboo grove", KidFriendly: true},
		}})

	got := Verify(constraints.Set{}, []toolcall.Record{weather, events})

	require.Len(t, got, 2)
	require.Equal(t, RuleWeather, got[0].Rule)
	require.Contains(t, got[0].Reason, "Garden walk")
	require.Equal(t, []string{"e", "w"}, got[0].ConflictingSteps)
	require.Contains(t, got[1].Reason, "Bamboo grove")
	require.Contains(t, got[1].Reason, "2025-10-16")
}

func TestWeatherWithoutForecastIsSilent(t *testing.T) {
	t.Parallel()

	events := record(t, "e", tools.Events,
		catalog.EventSearchArgs{Location: "Kyoto", StartDate: "2025-10-15", EndDate: "2025-10-17"},
		catalog.EventSearchResult{Events: []catalog.EventOption{{Name: "Garden walk", Date: "2025-10-16"}}})
	failed := toolcall.Record{
		ID: "w-1", StepID: "w", Tool: tools.Weather, Status: toolcall.StatusFailed,
		Error: toolerrors.WithCode(toolerrors.CodeTimeout, "deadline exceeded", nil),
	}

	require.Empty(t, Verify(constraints.Set{}, []toolcall.Record{events, failed}))
}

func TestKidFriendlyPreference(t *testing.T) {
	t.Parallel()

	c := constraints.Set{Preferences: constraints.Preferences{constraints.PrefKidFriendly: "true"}}
	events := record(t, "e", tools.Events,
		catalog.EventSearchArgs{Location: "Tokyo", StartDate: "2025-10-15", EndDate: "2025-10-17"},
		catalog.EventSearchResult{Events: []catalog.EventOption{
			{Name: "Aquarium", KidFriendly: true, IsIndoor: true},
			{Name: "Jazz bar", KidFriendly: false, IsIndoor: true},
		}})

	got := Verify(c, []toolcall.Record{events})

	require.Len(t, got, 1)
	require.Equal(t, RulePreference, got[0].Rule)
	require.Contains(t, got[0].Reason, "Jazz bar")
	require.Equal(t, []string{"e"}, got[0].ConflictingSteps)
}

func TestRulesReportInFixedOrder(t *testing.T) {
	t.Parallel()

	c := constraints.Set{
		BudgetUSD: ptr(100),
		Preferences: constraints.Preferences{
			constraints.PrefKidFriendly:        "true",
			constraints.PrefNoOvernightFlights: "true",
		},
	}
	records := []toolcall.Record{
		record(t, "e", tools.Events,
			catalog.EventSearchArgs{Location: "Tokyo", StartDate: "2025-10-15", EndDate: "2025-10-15"},
			catalog.EventSearchResult{Events: []catalog.EventOption{{Name: "Night market", Date: "2025-10-15"}}}),
		record(t, "w", tools.Weather,
			catalog.WeatherArgs{StartDate: "2025-10-15", EndDate: "2025-10-15"},
			catalog.WeatherResult{Daily: []catalog.DailyWeather{{ForecastDate: "2025-10-15", WeatherCode: 95}}}),
		flights(t, "f", catalog.FlightOption{Airline: "JL", FlightNumber: "JL2", DepartureTime: "23:55", ArrivalTime: "05:00", Price: 400}),
	}

	got := Verify(c, records)

	rules := make([]string, len(got))
	for i, v := range got {
		rules[i] = v.Rule
	}
	require.Equal(t, []string{RuleBudget, RuleOvernight, RuleWeather, RulePreference}, rules)
	require.Contains(t, got[1].Reason, "departs at 23:55 and arrives at 05:00")
}

func TestUndecodableResultsAreIgnored(t *testing.T) {
	t.Parallel()

	r := toolcall.Record{ID: "x", StepID: "s1", Tool: tools.Flights, Status: toolcall.StatusSucceeded, Result: json.RawMessage(`"nope"`)}
	require.Empty(t, Verify(constraints.Set{BudgetUSD: ptr(1)}, []toolcall.Record{r}))
}

func TestIsPrecipitation(t *testing.T) {
	t.Parallel()

	for _, code := range []int{51, 61, 65, 71, 80, 95, 99} {
		require.True(t, IsPrecipitation(code), code)
	}
	for _, code := range []int{0, 1, 2, 3, 45, 48} {
		require.False(t, IsPrecipitation(code), code)
	}
}

func TestVerifyIsIdempotent(t *testing.T) {
	t.Parallel()

	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("same inputs yield same violations", prop.ForAll(
		func(price float64, budget float64, depHour int, kid bool, code int) bool {
			c := constraints.Set{
				BudgetUSD: &budget,
				Preferences: constraints.Preferences{
					constraints.PrefKidFriendly:        "true",
					constraints.PrefNoOvernightFlights: "true",
				},
			}
			records := []toolcall.Record{
				flights(t, "f", catalog.FlightOption{
					Airline: "XX", FlightNumber: "XX9",
					DepartureTime: clock(depHour * 60), ArrivalTime: "12:00", Price: price,
				}),
				record(t, "w", tools.Weather,
					catalog.WeatherArgs{StartDate: "2025-10-15", EndDate: "2025-10-15"},
					catalog.WeatherResult{Daily: []catalog.DailyWeather{{ForecastDate: "2025-10-15", WeatherCode: code}}}),
				record(t, "e", tools.Events,
					catalog.EventSearchArgs{Location: "L", StartDate: "2025-10-15", EndDate: "2025-10-15"},
					catalog.EventSearchResult{Events: []catalog.EventOption{{Name: "Fair", KidFriendly: kid}}}),
			}
			first := Verify(c, records)
			second := Verify(c, records)
			if len(first) != len(second) {
				return false
			}
			for i := range first {
				if first[i].Rule != second[i].Rule || first[i].Reason != second[i].Reason {
					return false
				}
			}
			return true
		},
		gen.Float64Range(0, 5000),
		gen.Float64Range(0, 5000),
		gen.IntRange(0, 23),
		gen.Bool(),
		gen.IntRange(0, 99),
	))

	properties.TestingRun(t)
}
