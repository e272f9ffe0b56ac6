package catalog

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tripgraph/tripgraph/runtime/tools"
)

func TestCatalogueSchemasCompile(t *testing.T) {
	t.Parallel()

	r := tools.NewRegistry()
	noop := tools.HandlerFunc(func(context.Context, json.RawMessage) (json.RawMessage, error) { return nil, nil })
	for _, name := range []tools.Ident{
		tools.Flights, tools.Lodging, tools.Events, tools.Transit,
		tools.CurrencyRates, tools.Weather, tools.Geocoding, tools.KnowledgeRetrieval,
	} {
		require.NoError(t, r.Register(MustSpec(name), noop), name)
	}
	_, ok := Spec("teleport")
	require.False(t, ok)
}

func TestFlightArgsRoundTripThroughRegistry(t *testing.T) {
	t.Parallel()

	r := tools.NewRegistry()
	require.NoError(t, r.Register(MustSpec(tools.Flights), tools.HandlerFunc(func(_ context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var args FlightSearchArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
		return json.Marshal(FlightSearchResult{Flights: []FlightOption{{
			Airline: "ANA", FlightNumber: "NH7", DepartureTime: args.DepartureDate + "T11:00",
			ArrivalTime: "2025-10-16T15:00", Price: 812,
		}}})
	})))

	out, err := r.Call(context.Background(), tools.Flights, json.RawMessage(`{"departure_airport":"SFO","arrival_airports":["NRT"],"departure_date":"2025-10-15"}`))
	require.NoError(t, err)
	var res FlightSearchResult
	require.NoError(t, json.Unmarshal(out.Result, &res))
	require.Equal(t, "2025-10-15T11:00", res.Flights[0].DepartureTime)

	_, err = r.Call(context.Background(), tools.Flights, json.RawMessage(`{"departure_airport":"SFO","arrival_airports":[],"departure_date":"2025-10-15"}`))
	require.Error(t, err)
}

func TestZeroValueResultsPassResultSchemas(t *testing.T) {
	t.Parallel()

	cases := []struct {
		tool   tools.Ident
		args   string
		result any
	}{
		{tools.Flights, `{"departure_airport":"SFO","arrival_airports":["NRT"],"departure_date":"2025-10-15"}`, FlightSearchResult{}},
		{tools.Lodging, `{"neighborhood":"Shibuya","start_date":"2025-10-15","end_date":"2025-10-18"}`, LodgingSearchResult{}},
		{tools.Lodging, `{"neighborhood":"Shibuya","start_date":"2025-10-15","end_date":"2025-10-18"}`, LodgingSearchResult{
			LodgingOptions: []LodgingOption{{Name: "Shibuya Stream Hotel", PricePerNight: 240}},
		}},
		{tools.Events, `{"location":"Tokyo","start_date":"2025-10-15","end_date":"2025-10-18"}`, EventSearchResult{}},
		{tools.Events, `{"location":"Tokyo","start_date":"2025-10-15","end_date":"2025-10-18"}`, EventSearchResult{Events: []EventOption{{Name: "teamLab"}}}},
		{tools.Transit, `{"origin":"NRT","destination":"Shibuya"}`, TransitResult{}},
		{tools.CurrencyRates, `{"target_currencies":["JPY"]}`, CurrencyRatesResult{}},
		{tools.Weather, `{"latitude":35.68,"longitude":139.69,"start_date":"2025-10-15","end_date":"2025-10-18"}`, WeatherResult{}},
		{tools.Geocoding, `{"query":"Shibuya"}`, GeocodeResult{}},
		{tools.KnowledgeRetrieval, `{"query":"family hotels"}`, KnowledgeResult{}},
	}
	for _, tc := range cases {
		r := tools.NewRegistry()
		result := tc.result
		require.NoError(t, r.Register(MustSpec(tc.tool), tools.HandlerFunc(func(context.Context, json.RawMessage) (json.RawMessage, error) {
			return json.Marshal(result)
		})))
		_, err := r.Call(context.Background(), tc.tool, json.RawMessage(tc.args))
		require.NoError(t, err, "%s: %#v", tc.tool, tc.result)
	}
}

func TestLodgingOptionOmitsMissingDistances(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(LodgingOption{Name: "Lisbon Family Apartments", PricePerNight: 130})
	require.NoError(t, err)
	require.NotContains(t, string(data), "distance_to_pois")
}
