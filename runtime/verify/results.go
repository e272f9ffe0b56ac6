package verify

import (
	"encoding/json"
	"time"

	"github.com/tripgraph/tripgraph/runtime/toolcall"
	"github.com/tripgraph/tripgraph/runtime/tools"
	"github.com/tripgraph/tripgraph/runtime/tools/catalog"
)

type (
	// results holds the decoded successful tool outputs the rules inspect,
	// each slice in record order.
	results struct {
		flights []flightResult
		lodging []lodgingResult
		events  []eventResult
		weather []weatherResult
	}

	flightResult struct {
		step    string
		options []catalog.FlightOption
	}

	lodgingResult struct {
		step    string
		args    catalog.LodgingSearchArgs
		options []catalog.LodgingOption
	}

	eventResult struct {
		step    string
		args    catalog.EventSearchArgs
		options []catalog.EventOption
	}

	weatherResult struct {
		step string
		days []catalog.DailyWeather
	}
)

// decode extracts typed results from successful records. Records whose
// payload cannot be decoded are skipped, like failed records.
func decode(records []toolcall.Record) *results {
	rs := &results{}
	for _, r := range records {
		if !r.Succeeded() {
			continue
		}
		switch r.Tool {
		case tools.Flights:
			var out catalog.FlightSearchResult
			if json.Unmarshal(r.Result, &out) != nil {
				continue
			}
			rs.flights = append(rs.flights, flightResult{step: r.StepID, options: out.Flights})
		case tools.Lodging:
			var out catalog.LodgingSearchResult
			if json.Unmarshal(r.Result, &out) != nil {
				continue
			}
			var args catalog.LodgingSearchArgs
			_ = json.Unmarshal(r.Args, &args)
			rs.lodging = append(rs.lodging, lodgingResult{step: r.StepID, args: args, options: out.LodgingOptions})
		case tools.Events:
			var out catalog.EventSearchResult
			if json.Unmarshal(r.Result, &out) != nil {
				continue
			}
			var args catalog.EventSearchArgs
			_ = json.Unmarshal(r.Args, &args)
			rs.events = append(rs.events, eventResult{step: r.StepID, args: args, options: out.Events})
		case tools.Weather:
			var out catalog.WeatherResult
			if json.Unmarshal(r.Result, &out) != nil {
				continue
			}
			rs.weather = append(rs.weather, weatherResult{step: r.StepID, days: out.Daily})
		}
	}
	return rs
}

var clockLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"15:04:05",
	"15:04",
	"3:04PM",
	"3:04 PM",
}

// clockMinutes returns the minutes past midnight of a reported local time.
// Times carrying a UTC offset keep that offset: the hour is read as reported.
func clockMinutes(s string) (int, bool) {
	for _, layout := range clockLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		return t.Hour()*60 + t.Minute(), true
	}
	return 0, false
}
