package verify

import (
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/tripgraph/tripgraph/runtime/constraints"
)

const (
	lateDepartureMinutes = 22 * 60
	earlyArrivalMinutes  = 6 * 60
)

// precipitationCodes are the WMO weather interpretation codes for drizzle,
// rain, snow, showers and thunderstorms.
var precipitationCodes = map[int]bool{
	51: true, 53: true, 55: true, 56: true, 57: true,
	61: true, 63: true, 65: true, 66: true, 67: true,
	71: true, 73: true, 75: true, 77: true,
	80: true, 81: true, 82: true, 85: true, 86: true,
	95: true, 96: true, 99: true,
}

// IsPrecipitation reports whether the WMO weather code denotes precipitation.
func IsPrecipitation(code int) bool {
	return precipitationCodes[code]
}

// Breakdown is the cost estimate computed from the current tool results.
type Breakdown struct {
	FlightsUSD float64 `json:"flights_usd"`
	LodgingUSD float64 `json:"lodging_usd"`
	TotalUSD   float64 `json:"total_usd"`
	// Steps lists the steps that contributed to the estimate.
	Steps []string `json:"steps,omitempty"`
}

func breakdown(c constraints.Set, rs *results) Breakdown {
	var b Breakdown
	for _, f := range rs.flights {
		if len(f.options) == 0 {
			continue
		}
		cheapest := f.options[0].Price
		for _, o := range f.options[1:] {
			cheapest = math.Min(cheapest, o.Price)
		}
		b.FlightsUSD += cheapest
		b.Steps = append(b.Steps, f.step)
	}
	for _, l := range rs.lodging {
		if len(l.options) == 0 {
			continue
		}
		cheapest := l.options[0].PricePerNight
		for _, o := range l.options[1:] {
			cheapest = math.Min(cheapest, o.PricePerNight)
		}
		b.LodgingUSD += cheapest * float64(nights(c, l))
		b.Steps = append(b.Steps, l.step)
	}
	b.TotalUSD = b.FlightsUSD + b.LodgingUSD
	return b
}

func nights(c constraints.Set, l lodgingResult) int {
	if n := (constraints.DateRange{Start: l.args.StartDate, End: l.args.EndDate}).Nights(); n > 0 {
		return n
	}
	if n := c.Nights(); n > 0 {
		return n
	}
	return 1
}

func budgetRule(c constraints.Set, rs *results) []Violation {
	ceiling, ok := c.Budget()
	if !ok {
		return nil
	}
	b := breakdown(c, rs)
	if b.TotalUSD <= ceiling {
		return nil
	}
	return []Violation{{
		Rule: RuleBudget,
		Reason: fmt.Sprintf("estimated cost %s USD exceeds budget %s USD (flights %s, lodging %s)",
			amount(b.TotalUSD), amount(ceiling), amount(b.FlightsUSD), amount(b.LodgingUSD)),
		ConflictingSteps: b.Steps,
	}}
}

func overnightRule(c constraints.Set, rs *results) []Violation {
	if !c.Flag(constraints.PrefNoOvernightFlights) {
		return nil
	}
	var out []Violation
	for _, f := range rs.flights {
		for _, o := range f.options {
			var why string
			if dep, ok := clockMinutes(o.DepartureTime); ok && dep > lateDepartureMinutes {
				why = "departs at " + clock(dep)
			}
			if arr, ok := clockMinutes(o.ArrivalTime); ok && arr < earlyArrivalMinutes {
				if why != "" {
					why += " and "
				}
				why += "arrives at " + clock(arr)
			}
			if why == "" {
				continue
			}
			out = append(out, Violation{
				Rule:             RuleOvernight,
				Reason:           fmt.Sprintf("flight %s %s %s, but overnight flights are not wanted", o.Airline, o.FlightNumber, why),
				ConflictingSteps: []string{f.step},
			})
		}
	}
	return out
}

func weatherRule(_ constraints.Set, rs *results) []Violation {
	type forecast struct {
		code int
		step string
	}
	wet := make(map[string]forecast)
	var wetDates []string
	for _, w := range rs.weather {
		for _, d := range w.days {
			if !IsPrecipitation(d.WeatherCode) {
				continue
			}
			if _, seen := wet[d.ForecastDate]; seen {
				continue
			}
			wet[d.ForecastDate] = forecast{code: d.WeatherCode, step: w.step}
			wetDates = append(wetDates, d.ForecastDate)
		}
	}
	if len(wet) == 0 {
		return nil
	}
	slices.Sort(wetDates)

	var out []Violation
	for _, e := range rs.events {
		for _, o := range e.options {
			if o.IsIndoor {
				continue
			}
			date := ""
			if o.Date != "" {
				if _, ok := wet[o.Date]; ok {
					date = o.Date
				}
			} else {
				window := constraints.DateRange{Start: e.args.StartDate, End: e.args.EndDate}
				for _, d := range wetDates {
					if window.Contains(d) {
						date = d
						break
					}
				}
			}
			if date == "" {
				continue
			}
			f := wet[date]
			steps := []string{e.step}
			if f.step != e.step {
				steps = append(steps, f.step)
			}
			out = append(out, Violation{
				Rule:             RuleWeather,
				Reason:           fmt.Sprintf("outdoor event %q is scheduled on %s with precipitation forecast (WMO code %d)", o.Name, date, f.code),
				ConflictingSteps: steps,
			})
		}
	}
	return out
}

func preferenceRule(c constraints.Set, rs *results) []Violation {
	if !c.Flag(constraints.PrefKidFriendly) {
		return nil
	}
	var out []Violation
	for _, e := range rs.events {
		for _, o := range e.options {
			if o.KidFriendly {
				continue
			}
			out = append(out, Violation{
				Rule:             RulePreference,
				Reason:           fmt.Sprintf("event %q is not kid-friendly", o.Name),
				ConflictingSteps: []string{e.step},
			})
		}
	}
	return out
}

func amount(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}

func clock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
