// Package constraints defines the typed constraint set extracted from user
// input: budget ceiling, travel dates, required airports and named
// preferences. Sets are plain data; the only behavior is validation and the
// carry-forward merge used by refinement turns.
package constraints

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the civil date layout used for every date in a constraint set
// and in tool arguments.
const DateLayout = "2006-01-02"

// Well-known preference names consulted by the verifier.
const (
	// PrefNoOvernightFlights rejects red-eye departures and pre-dawn arrivals.
	PrefNoOvernightFlights = "no_overnight_flights"
	// PrefKidFriendly requires every event to be suitable for children.
	PrefKidFriendly = "kid_friendly"
)

type (
	// Set is the constraint set for one turn. A Set is never mutated once
	// extracted; refinement derives a new Set with Merge.
	Set struct {
		// BudgetUSD is the optional spending ceiling in US dollars.
		BudgetUSD *float64 `json:"budget_usd,omitempty"`
		// Dates is the optional travel window.
		Dates *DateRange `json:"dates,omitempty"`
		// Airports lists required airport codes (IATA).
		Airports []string `json:"airports,omitempty"`
		// Preferences holds named boolean or string preferences.
		Preferences Preferences `json:"preferences,omitempty"`
	}

	// DateRange is an inclusive civil date window. Either bound may be empty
	// when the user only mentioned one of them.
	DateRange struct {
		Start string `json:"start,omitempty"`
		End   string `json:"end,omitempty"`
	}

	// Preferences maps preference names to values. Boolean preferences are
	// stored as "true" or "false"; free-form preferences keep their text.
	Preferences map[string]string
)

// Budget returns the budget ceiling and whether one is set.
func (s Set) Budget() (float64, bool) {
	if s.BudgetUSD == nil {
		return 0, false
	}
	return *s.BudgetUSD, true
}

// Flag reports whether the named boolean preference is set to true.
func (s Set) Flag(name string) bool {
	return s.Preferences.Flag(name)
}

// Nights returns the number of nights covered by the date range, or zero when
// either bound is missing or unparseable.
func (s Set) Nights() int {
	if s.Dates == nil {
		return 0
	}
	return s.Dates.Nights()
}

// Validate checks the set is internally consistent.
func (s Set) Validate() error {
	var errs []error
	if s.BudgetUSD != nil && *s.BudgetUSD < 0 {
		errs = append(errs, fmt.Errorf("budget_usd must be >= 0, got %v", *s.BudgetUSD))
	}
	if s.Dates != nil {
		if err := s.Dates.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, code := range s.Airports {
		if len(code) != 3 {
			errs = append(errs, fmt.Errorf("airport %q is not a 3-letter code", code))
		}
	}
	for name := range s.Preferences {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, errors.New("preference name is required"))
		}
	}
	return errors.Join(errs...)
}

// Clone returns a deep copy of s.
func (s Set) Clone() Set {
	out := Set{
		Airports:    slices.Clone(s.Airports),
		Preferences: maps.Clone(s.Preferences),
	}
	if s.BudgetUSD != nil {
		b := *s.BudgetUSD
		out.BudgetUSD = &b
	}
	if s.Dates != nil {
		d := *s.Dates
		out.Dates = &d
	}
	return out
}

// Merge derives the constraint set for a refinement turn. Fields present in
// update replace the prior values; fields update leaves unset are carried
// forward from prior. Preferences merge key by key and date bounds merge
// bound by bound.
func Merge(prior, update Set) Set {
	out := prior.Clone()
	if update.BudgetUSD != nil {
		b := *update.BudgetUSD
		out.BudgetUSD = &b
	}
	if update.Dates != nil {
		d := DateRange{}
		if out.Dates != nil {
			d = *out.Dates
		}
		if update.Dates.Start != "" {
			d.Start = update.Dates.Start
		}
		if update.Dates.End != "" {
			d.End = update.Dates.End
		}
		out.Dates = &d
	}
	if len(update.Airports) > 0 {
		out.Airports = normalizeAirports(update.Airports)
	}
	if len(update.Preferences) > 0 {
		if out.Preferences == nil {
			out.Preferences = make(Preferences, len(update.Preferences))
		}
		maps.Copy(out.Preferences, update.Preferences)
	}
	return out
}

// Normalize upper-cases airport codes and drops duplicates.
func (s Set) Normalize() Set {
	out := s.Clone()
	out.Airports = normalizeAirports(out.Airports)
	return out
}

// Validate checks both bounds parse and the range is not inverted.
func (d DateRange) Validate() error {
	start, end, err := d.parse()
	if err != nil {
		return err
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return fmt.Errorf("dates: end %s is before start %s", d.End, d.Start)
	}
	return nil
}

// Nights returns the number of nights between Start and End.
func (d DateRange) Nights() int {
	start, end, err := d.parse()
	if err != nil || start.IsZero() || end.IsZero() {
		return 0
	}
	n := int(end.Sub(start).Hours() / 24)
	if n < 0 {
		return 0
	}
	return n
}

// Contains reports whether the civil date day falls within the range. Open
// bounds are treated as unbounded.
func (d DateRange) Contains(day string) bool {
	t, err := time.Parse(DateLayout, day)
	if err != nil {
		return false
	}
	start, end, err := d.parse()
	if err != nil {
		return false
	}
	if !start.IsZero() && t.Before(start) {
		return false
	}
	if !end.IsZero() && t.After(end) {
		return false
	}
	return true
}

func (d DateRange) parse() (start, end time.Time, err error) {
	if d.Start != "" {
		if start, err = time.Parse(DateLayout, d.Start); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("dates: invalid start %q: %w", d.Start, err)
		}
	}
	if d.End != "" {
		if end, err = time.Parse(DateLayout, d.End); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("dates: invalid end %q: %w", d.End, err)
		}
	}
	return start, end, nil
}

// Flag reports whether the named preference holds a true boolean value.
func (p Preferences) Flag(name string) bool {
	v, ok := p[name]
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// UnmarshalJSON accepts boolean, numeric and string values so structured
// model output can use natural JSON types.
func (p *Preferences) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*p = nil
		return nil
	}
	out := make(Preferences, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case bool:
			out[k] = strconv.FormatBool(val)
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case nil:
			continue
		default:
			return fmt.Errorf("preference %q: unsupported value type %T", k, v)
		}
	}
	*p = out
	return nil
}

// MarshalJSON renders boolean preferences as JSON booleans.
func (p Preferences) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		if b, err := strconv.ParseBool(v); err == nil && (v == "true" || v == "false") {
			out[k] = b
			continue
		}
		out[k] = v
	}
	return json.Marshal(out)
}

func normalizeAirports(codes []string) []string {
	if len(codes) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
