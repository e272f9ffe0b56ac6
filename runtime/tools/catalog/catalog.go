// Package catalog declares the travel tool catalogue: the argument and result
// types of every well-known tool together with their JSON Schemas. Handlers
// in features/tools implement these contracts and the verifier decodes
// results with the same types.
package catalog

import (
	"encoding/json"

	"github.com/tripgraph/tripgraph/runtime/itinerary"
	"github.com/tripgraph/tripgraph/runtime/tools"
)

type (
	// FlightSearchArgs are the flights tool arguments.
	FlightSearchArgs struct {
		DepartureAirport string   `json:"departure_airport"`
		ArrivalAirports  []string `json:"arrival_airports"`
		DepartureDate    string   `json:"departure_date"`
		ReturnDate       string   `json:"return_date,omitempty"`
		MaxResults       int      `json:"max_results,omitempty"`
	}

	// FlightOption is one flight offer.
	FlightOption struct {
		Airline        string  `json:"airline" yaml:"airline"`
		FlightNumber   string  `json:"flight_number" yaml:"flight_number"`
		DepartureTime  string  `json:"departure_time" yaml:"departure_time"`
		ArrivalTime    string  `json:"arrival_time" yaml:"arrival_time"`
		Price          float64 `json:"price" yaml:"price"`
		CO2EmissionsKG float64 `json:"co2_emissions_kg" yaml:"co2_emissions_kg"`
	}

	// FlightSearchResult is the flights tool output.
	FlightSearchResult struct {
		Flights []FlightOption `json:"flights"`
	}

	// LodgingSearchArgs are the lodging tool arguments.
	LodgingSearchArgs struct {
		Neighborhood    string   `json:"neighborhood"`
		StartDate       string   `json:"start_date"`
		EndDate         string   `json:"end_date"`
		MinPrice        *float64 `json:"min_price,omitempty"`
		MaxPrice        *float64 `json:"max_price,omitempty"`
		FamilyAmenities bool     `json:"family_amenities,omitempty"`
	}

	// LodgingOption is one place to stay.
	LodgingOption struct {
		Name               string            `json:"name" yaml:"name"`
		PricePerNight      float64           `json:"price_per_night" yaml:"price_per_night"`
		CancellationPolicy string            `json:"cancellation_policy" yaml:"cancellation_policy"`
		DistanceToPOIs     map[string]string `json:"distance_to_pois,omitempty" yaml:"distance_to_pois"`
	}

	// LodgingSearchResult is the lodging tool output.
	LodgingSearchResult struct {
		LodgingOptions []LodgingOption `json:"lodging_options"`
	}

	// EventSearchArgs are the events tool arguments.
	EventSearchArgs struct {
		Location    string `json:"location"`
		StartDate   string `json:"start_date"`
		EndDate     string `json:"end_date"`
		KidFriendly bool   `json:"kid_friendly,omitempty"`
	}

	// EventOption is one event or attraction.
	EventOption struct {
		Name string `json:"name" yaml:"name"`
		// Date is the civil date the event takes place, when it is a dated
		// event rather than an attraction open throughout the window.
		Date         string `json:"date,omitempty" yaml:"date"`
		OpeningHours string `json:"opening_hours" yaml:"opening_hours"`
		KidFriendly  bool   `json:"kid_friendly" yaml:"kid_friendly"`
		IsIndoor     bool   `json:"is_indoor" yaml:"is_indoor"`
	}

	// EventSearchResult is the events tool output.
	EventSearchResult struct {
		Events []EventOption `json:"events"`
	}

	// TransitArgs are the transit tool arguments.
	TransitArgs struct {
		Origin      string `json:"origin"`
		Destination string `json:"destination"`
	}

	// TransitResult is the transit tool output.
	TransitResult struct {
		Mode       string `json:"mode" yaml:"mode"`
		TravelTime string `json:"travel_time" yaml:"travel_time"`
	}

	// CurrencyRatesArgs are the currency_rates tool arguments.
	CurrencyRatesArgs struct {
		BaseCurrency     string   `json:"base_currency,omitempty"`
		TargetCurrencies []string `json:"target_currencies"`
	}

	// CurrencyRatesResult is the currency_rates tool output.
	CurrencyRatesResult struct {
		Rates map[string]float64 `json:"rates"`
	}

	// WeatherArgs are the weather tool arguments.
	WeatherArgs struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		StartDate string  `json:"start_date"`
		EndDate   string  `json:"end_date"`
	}

	// DailyWeather is one forecast day.
	DailyWeather struct {
		ForecastDate string  `json:"forecast_date"`
		MaxTemp      float64 `json:"max_temp"`
		MinTemp      float64 `json:"min_temp"`
		WeatherCode  int     `json:"weather_code"`
	}

	// WeatherResult is the weather tool output.
	WeatherResult struct {
		Daily []DailyWeather `json:"daily"`
	}

	// GeocodeArgs are the geocoding tool arguments.
	GeocodeArgs struct {
		Query string `json:"query"`
	}

	// GeocodeResult is the geocoding tool output.
	GeocodeResult struct {
		Latitude    float64 `json:"latitude"`
		Longitude   float64 `json:"longitude"`
		DisplayName string  `json:"display_name"`
	}

	// KnowledgeArgs are the knowledge_retrieval tool arguments.
	KnowledgeArgs struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k,omitempty"`
	}

	// KnowledgeResult is the knowledge_retrieval tool output.
	KnowledgeResult struct {
		Results   []string             `json:"results"`
		Citations []itinerary.Citation `json:"citations"`
	}
)

// Spec returns the catalogue spec for name. The second result is false for
// tools outside the catalogue.
func Spec(name tools.Ident) (tools.Spec, bool) {
	s, ok := specs[name]
	if !ok {
		return tools.Spec{}, false
	}
	s.Tags = append([]string(nil), s.Tags...)
	return s, true
}

// MustSpec is like Spec but panics for unknown names.
func MustSpec(name tools.Ident) tools.Spec {
	s, ok := Spec(name)
	if !ok {
		panic("catalog: unknown tool " + string(name))
	}
	return s
}

var specs = map[tools.Ident]tools.Spec{
	tools.Flights: {
		Name:        tools.Flights,
		Description: "Search flights from a departure airport to one or more arrival airports on a date.",
		Tags:        []string{"fixture"},
		Payload:     json.RawMessage(flightsPayload),
		Result:      json.RawMessage(flightsResult),
	},
	tools.Lodging: {
		Name:        tools.Lodging,
		Description: "Search lodging in a neighborhood for a check-in/check-out window with optional nightly price bounds.",
		Tags:        []string{"fixture"},
		Payload:     json.RawMessage(lodgingPayload),
		Result:      json.RawMessage(lodgingResult),
	},
	tools.Events: {
		Name:        tools.Events,
		Description: "Search events and attractions in a location between two dates, optionally kid-friendly only.",
		Tags:        []string{"fixture"},
		Payload:     json.RawMessage(eventsPayload),
		Result:      json.RawMessage(eventsResult),
	},
	tools.Transit: {
		Name:        tools.Transit,
		Description: "Estimate transit mode and travel time between two places.",
		Tags:        []string{"fixture"},
		Payload:     json.RawMessage(transitPayload),
		Result:      json.RawMessage(transitResult),
	},
	tools.CurrencyRates: {
		Name:        tools.CurrencyRates,
		Description: "Get exchange rates from a base currency to target currencies.",
		Tags:        []string{"fixture"},
		Payload:     json.RawMessage(currencyPayload),
		Result:      json.RawMessage(currencyResult),
	},
	tools.Weather: {
		Name:        tools.Weather,
		Description: "Daily weather forecast (WMO weather codes) for a coordinate between two dates.",
		Tags:        []string{"network"},
		Payload:     json.RawMessage(weatherPayload),
		Result:      json.RawMessage(weatherResult),
	},
	tools.Geocoding: {
		Name:        tools.Geocoding,
		Description: "Convert a place name or address into latitude and longitude.",
		Tags:        []string{"network"},
		Payload:     json.RawMessage(geocodePayload),
		Result:      json.RawMessage(geocodeResult),
	},
	tools.KnowledgeRetrieval: {
		Name:        tools.KnowledgeRetrieval,
		Description: "Retrieve relevant passages from the traveller's knowledge base.",
		Tags:        []string{"knowledge"},
		Payload:     json.RawMessage(knowledgePayload),
		Result:      json.RawMessage(knowledgeResult),
	},
}

const dateProp = `{"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"}`

const flightsPayload = `{
  "type": "object",
  "properties": {
    "departure_airport": {"type": "string", "minLength": 3, "maxLength": 3},
    "arrival_airports": {"type": "array", "items": {"type": "string"}, "minItems": 1},
    "departure_date": ` + dateProp + `,
    "return_date": ` + dateProp + `,
    "max_results": {"type": "integer", "minimum": 1, "maximum": 50}
  },
  "required": ["departure_airport", "arrival_airports", "departure_date"]
}`

const flightsResult = `{
  "type": "object",
  "properties": {
    "flights": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "properties": {
          "airline": {"type": "string"},
          "flight_number": {"type": "string"},
          "departure_time": {"type": "string"},
          "arrival_time": {"type": "string"},
          "price": {"type": "number", "minimum": 0},
          "co2_emissions_kg": {"type": "number"}
        },
        "required": ["airline", "flight_number", "departure_time", "arrival_time", "price"]
      }
    }
  },
  "required": ["flights"]
}`

const lodgingPayload = `{
  "type": "object",
  "properties": {
    "neighborhood": {"type": "string", "minLength": 1},
    "start_date": ` + dateProp + `,
    "end_date": ` + dateProp + `,
    "min_price": {"type": "number", "minimum": 0},
    "max_price": {"type": "number", "minimum": 0},
    "family_amenities": {"type": "boolean"}
  },
  "required": ["neighborhood", "start_date", "end_date"]
}`

const lodgingResult = `{
  "type": "object",
  "properties": {
    "lodging_options": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "price_per_night": {"type": "number", "minimum": 0},
          "cancellation_policy": {"type": "string"},
          "distance_to_pois": {"type": ["object", "null"], "additionalProperties": {"type": "string"}}
        },
        "required": ["name", "price_per_night"]
      }
    }
  },
  "required": ["lodging_options"]
}`

const eventsPayload = `{
  "type": "object",
  "properties": {
    "location": {"type": "string", "minLength": 1},
    "start_date": ` + dateProp + `,
    "end_date": ` + dateProp + `,
    "kid_friendly": {"type": "boolean"}
  },
  "required": ["location", "start_date", "end_date"]
}`

const eventsResult = `{
  "type": "object",
  "properties": {
    "events": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "date": {"type": "string"},
          "opening_hours": {"type": "string"},
          "kid_friendly": {"type": "boolean"},
          "is_indoor": {"type": "boolean"}
        },
        "required": ["name", "kid_friendly"]
      }
    }
  },
  "required": ["events"]
}`

const transitPayload = `{
  "type": "object",
  "properties": {
    "origin": {"type": "string", "minLength": 1},
    "destination": {"type": "string", "minLength": 1}
  },
  "required": ["origin", "destination"]
}`

const transitResult = `{
  "type": "object",
  "properties": {
    "mode": {"type": "string"},
    "travel_time": {"type": "string"}
  },
  "required": ["mode", "travel_time"]
}`

const currencyPayload = `{
  "type": "object",
  "properties": {
    "base_currency": {"type": "string", "minLength": 3, "maxLength": 3},
    "target_currencies": {"type": "array", "items": {"type": "string"}, "minItems": 1}
  },
  "required": ["target_currencies"]
}`

const currencyResult = `{
  "type": "object",
  "properties": {
    "rates": {"type": ["object", "null"], "additionalProperties": {"type": "number"}}
  },
  "required": ["rates"]
}`

const weatherPayload = `{
  "type": "object",
  "properties": {
    "latitude": {"type": "number", "minimum": -90, "maximum": 90},
    "longitude": {"type": "number", "minimum": -180, "maximum": 180},
    "start_date": ` + dateProp + `,
    "end_date": ` + dateProp + `
  },
  "required": ["latitude", "longitude", "start_date", "end_date"]
}`

const weatherResult = `{
  "type": "object",
  "properties": {
    "daily": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "properties": {
          "forecast_date": {"type": "string"},
          "max_temp": {"type": "number"},
          "min_temp": {"type": "number"},
          "weather_code": {"type": "integer"}
        },
        "required": ["forecast_date", "weather_code"]
      }
    }
  },
  "required": ["daily"]
}`

const geocodePayload = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "minLength": 1}
  },
  "required": ["query"]
}`

const geocodeResult = `{
  "type": "object",
  "properties": {
    "latitude": {"type": "number"},
    "longitude": {"type": "number"},
    "display_name": {"type": "string"}
  },
  "required": ["latitude", "longitude"]
}`

const knowledgePayload = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "minLength": 1},
    "top_k": {"type": "integer", "minimum": 1, "maximum": 20}
  },
  "required": ["query"]
}`

const knowledgeResult = `{
  "type": "object",
  "properties": {
    "results": {"type": ["array", "null"], "items": {"type": "string"}},
    "citations": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "properties": {
          "title": {"type": "string"},
          "source": {"type": "string"},
          "ref": {"type": "string"}
        },
        "required": ["title", "source", "ref"]
      }
    }
  },
  "required": ["results"]
}`
