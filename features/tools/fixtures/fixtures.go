// Package fixtures implements the catalogue tools that are served from an
// embedded fixture file: flights, lodging, events, transit and
// currency_rates. Results are deterministic for given arguments.
package fixtures

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tripgraph/tripgraph/runtime/tools"
	"github.com/tripgraph/tripgraph/runtime/tools/catalog"
	"github.com/tripgraph/tripgraph/runtime/toolerrors"
)

//go:embed fixtures.yaml
var defaultData []byte

const (
	defaultMaxResults   = 5
	defaultBaseCurrency = "USD"
)

type (
	// Catalog is the parsed fixture data.
	Catalog struct {
		Flights  []Flight   `yaml:"flights"`
		Lodging  []Lodging  `yaml:"lodging"`
		Events   []Event    `yaml:"events"`
		Transit  Transit    `yaml:"transit"`
		Currency []Currency `yaml:"currency"`
	}

	// Flight is a flight offer between two airports.
	Flight struct {
		catalog.FlightOption `yaml:",inline"`
		DepartureAirport     string `yaml:"departure_airport"`
		ArrivalAirport       string `yaml:"arrival_airport"`
	}

	// Lodging is a place to stay in a neighborhood.
	Lodging struct {
		catalog.LodgingOption `yaml:",inline"`
		Neighborhood          string `yaml:"neighborhood"`
		FamilyFriendly        bool   `yaml:"family_friendly"`
	}

	// Event is an event or attraction in a location.
	Event struct {
		catalog.EventOption `yaml:",inline"`
		Location            string `yaml:"location"`
	}

	// Transit holds known routes and the answer for unknown ones.
	Transit struct {
		Default catalog.TransitResult `yaml:"default"`
		Routes  []Route               `yaml:"routes"`
	}

	// Route is a known transit connection.
	Route struct {
		Origin      string `yaml:"origin"`
		Destination string `yaml:"destination"`
		Mode        string `yaml:"mode"`
		TravelTime  string `yaml:"travel_time"`
	}

	// Currency lists rates from a base currency.
	Currency struct {
		BaseCurrency string             `yaml:"base_currency"`
		Rates        map[string]float64 `yaml:"rates"`
	}
)

// Parse decodes fixture YAML.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	if c.Transit.Default.Mode == "" {
		c.Transit.Default = catalog.TransitResult{Mode: "Train", TravelTime: "30 minutes"}
	}
	return &c, nil
}

// Default returns the embedded fixture catalogue.
func Default() *Catalog {
	c, err := Parse(defaultData)
	if err != nil {
		panic(err)
	}
	return c
}

// Register adds the fixture tools to r.
func Register(r *tools.Registry, c *Catalog) error {
	handlers := map[tools.Ident]tools.Handler{
		tools.Flights:       handler(c.flights),
		tools.Lodging:       handler(c.lodging),
		tools.Events:        handler(c.events),
		tools.Transit:       handler(c.transit),
		tools.CurrencyRates: handler(c.currencyRates),
	}
	for _, name := range []tools.Ident{tools.Flights, tools.Lodging, tools.Events, tools.Transit, tools.CurrencyRates} {
		if err := r.Register(catalog.MustSpec(name), handlers[name]); err != nil {
			return err
		}
	}
	return nil
}

// handler decodes the arguments into A, runs fn and encodes its result.
func handler[A, R any](fn func(A) (R, error)) tools.Handler {
	return tools.HandlerFunc(func(_ context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var args A
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, toolerrors.Errorf("invalid arguments: %v", err)
		}
		res, err := fn(args)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	})
}

func (c *Catalog) flights(args catalog.FlightSearchArgs) (catalog.FlightSearchResult, error) {
	limit := args.MaxResults
	if limit <= 0 {
		limit = defaultMaxResults
	}
	out := catalog.FlightSearchResult{Flights: []catalog.FlightOption{}}
	for _, f := range c.Flights {
		if len(out.Flights) == limit {
			break
		}
		if containsFold(args.ArrivalAirports, f.ArrivalAirport) {
			out.Flights = append(out.Flights, f.FlightOption)
		}
	}
	return out, nil
}

func (c *Catalog) lodging(args catalog.LodgingSearchArgs) (catalog.LodgingSearchResult, error) {
	out := catalog.LodgingSearchResult{LodgingOptions: []catalog.LodgingOption{}}
	for _, l := range c.Lodging {
		switch {
		case !strings.Contains(strings.ToLower(l.Neighborhood), strings.ToLower(args.Neighborhood)):
		case args.MinPrice != nil && l.PricePerNight < *args.MinPrice:
		case args.MaxPrice != nil && l.PricePerNight > *args.MaxPrice:
		case args.FamilyAmenities && !l.FamilyFriendly:
		default:
			out.LodgingOptions = append(out.LodgingOptions, l.LodgingOption)
		}
	}
	return out, nil
}

// events returns the attractions of the location and the dated events
// falling within the search window.
func (c *Catalog) events(args catalog.EventSearchArgs) (catalog.EventSearchResult, error) {
	out := catalog.EventSearchResult{Events: []catalog.EventOption{}}
	for _, e := range c.Events {
		switch {
		case !strings.Contains(strings.ToLower(e.Location), strings.ToLower(args.Location)):
		case args.KidFriendly && !e.KidFriendly:
		case e.Date != "" && (e.Date < args.StartDate || e.Date > args.EndDate):
		default:
			out.Events = append(out.Events, e.EventOption)
		}
	}
	return out, nil
}

func (c *Catalog) transit(args catalog.TransitArgs) (catalog.TransitResult, error) {
	for _, r := range c.Transit.Routes {
		if strings.EqualFold(r.Origin, args.Origin) && strings.EqualFold(r.Destination, args.Destination) {
			return catalog.TransitResult{Mode: r.Mode, TravelTime: r.TravelTime}, nil
		}
	}
	return c.Transit.Default, nil
}

// currencyRates reports 1.0 for currencies without a known rate.
func (c *Catalog) currencyRates(args catalog.CurrencyRatesArgs) (catalog.CurrencyRatesResult, error) {
	base := strings.ToUpper(args.BaseCurrency)
	if base == "" {
		base = defaultBaseCurrency
	}
	var known map[string]float64
	for _, cur := range c.Currency {
		if strings.EqualFold(cur.BaseCurrency, base) {
			known = cur.Rates
			break
		}
	}
	out := catalog.CurrencyRatesResult{Rates: make(map[string]float64, len(args.TargetCurrencies))}
	for _, t := range args.TargetCurrencies {
		rate, ok := known[strings.ToUpper(t)]
		if !ok {
			rate = 1.0
		}
		out.Rates[t] = rate
	}
	return out, nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
