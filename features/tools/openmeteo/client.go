// Package openmeteo implements the weather and geocoding tools on top of the
// public Open-Meteo forecast API and the Nominatim search API.
package openmeteo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/tripgraph/tripgraph/runtime/toolerrors"
	"github.com/tripgraph/tripgraph/runtime/tools"
	"github.com/tripgraph/tripgraph/runtime/tools/catalog"
)

const (
	// DefaultForecastURL is the Open-Meteo forecast endpoint.
	DefaultForecastURL = "https://api.open-meteo.com/v1/forecast"
	// DefaultSearchURL is the Nominatim search endpoint.
	DefaultSearchURL = "https://nominatim.openstreetmap.org/search"
	// DefaultUserAgent identifies requests to Nominatim, which rejects
	// anonymous clients.
	DefaultUserAgent = "tripgraph/1.0"

	dailyFields = "weathercode,temperature_2m_max,temperature_2m_min"
	maxBody     = 1 << 20
)

type (
	// Options configures Client.
	Options struct {
		// ForecastURL defaults to DefaultForecastURL.
		ForecastURL string
		// SearchURL defaults to DefaultSearchURL.
		SearchURL string
		// HTTPClient defaults to a client with a 15s timeout.
		HTTPClient *http.Client
		// UserAgent defaults to DefaultUserAgent.
		UserAgent string
		// SearchRate bounds geocoding requests per second. Nominatim's usage
		// policy allows one; zero means one.
		SearchRate rate.Limit
	}

	// Client calls the forecast and search APIs.
	Client struct {
		forecastURL string
		searchURL   string
		http        *http.Client
		userAgent   string
		searchLimit *rate.Limiter
	}

	forecastResponse struct {
		Daily struct {
			Time        []string   `json:"time"`
			MaxTemp     []*float64 `json:"temperature_2m_max"`
			MinTemp     []*float64 `json:"temperature_2m_min"`
			WeatherCode []*int     `json:"weathercode"`
		} `json:"daily"`
	}

	searchHit struct {
		Lat         string `json:"lat"`
		Lon         string `json:"lon"`
		DisplayName string `json:"display_name"`
	}
)

// New returns a client configured with opts.
func New(opts Options) *Client {
	c := &Client{
		forecastURL: opts.ForecastURL,
		searchURL:   opts.SearchURL,
		http:        opts.HTTPClient,
		userAgent:   opts.UserAgent,
	}
	if c.forecastURL == "" {
		c.forecastURL = DefaultForecastURL
	}
	if c.searchURL == "" {
		c.searchURL = DefaultSearchURL
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 15 * time.Second}
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	limit := opts.SearchRate
	if limit <= 0 {
		limit = 1
	}
	c.searchLimit = rate.NewLimiter(limit, 1)
	return c
}

// Register adds the weather and geocoding tools backed by c to r.
func Register(r *tools.Registry, c *Client) error {
	if err := r.Register(catalog.MustSpec(tools.Weather), tools.HandlerFunc(c.weatherTool)); err != nil {
		return err
	}
	return r.Register(catalog.MustSpec(tools.Geocoding), tools.HandlerFunc(c.geocodeTool))
}

// Forecast returns the daily forecast for the coordinate between start and
// end inclusive. Days the API reports without values are skipped.
func (c *Client) Forecast(ctx context.Context, args catalog.WeatherArgs) (catalog.WeatherResult, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(args.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(args.Longitude, 'f', -1, 64))
	q.Set("daily", dailyFields)
	q.Set("timezone", "auto")
	q.Set("start_date", args.StartDate)
	q.Set("end_date", args.EndDate)

	var resp forecastResponse
	if err := c.get(ctx, c.forecastURL, q, &resp); err != nil {
		return catalog.WeatherResult{}, err
	}
	d := resp.Daily
	out := catalog.WeatherResult{Daily: make([]catalog.DailyWeather, 0, len(d.Time))}
	for i, day := range d.Time {
		if i >= len(d.MaxTemp) || i >= len(d.MinTemp) || i >= len(d.WeatherCode) {
			break
		}
		if d.MaxTemp[i] == nil || d.MinTemp[i] == nil || d.WeatherCode[i] == nil {
			continue
		}
		out.Daily = append(out.Daily, catalog.DailyWeather{
			ForecastDate: day,
			MaxTemp:      *d.MaxTemp[i],
			MinTemp:      *d.MinTemp[i],
			WeatherCode:  *d.WeatherCode[i],
		})
	}
	return out, nil
}

// Geocode resolves query to the best matching coordinate.
func (c *Client) Geocode(ctx context.Context, args catalog.GeocodeArgs) (catalog.GeocodeResult, error) {
	if err := c.searchLimit.Wait(ctx); err != nil {
		return catalog.GeocodeResult{}, err
	}
	q := url.Values{}
	q.Set("q", args.Query)
	q.Set("format", "json")
	q.Set("limit", "1")

	var hits []searchHit
	if err := c.get(ctx, c.searchURL, q, &hits); err != nil {
		return catalog.GeocodeResult{}, err
	}
	if len(hits) == 0 {
		return catalog.GeocodeResult{}, toolerrors.Errorf("geocoding failed: no results found for %q", args.Query)
	}
	lat, err := strconv.ParseFloat(hits[0].Lat, 64)
	if err != nil {
		return catalog.GeocodeResult{}, toolerrors.Errorf("geocoding failed: bad latitude %q", hits[0].Lat)
	}
	lon, err := strconv.ParseFloat(hits[0].Lon, 64)
	if err != nil {
		return catalog.GeocodeResult{}, toolerrors.Errorf("geocoding failed: bad longitude %q", hits[0].Lon)
	}
	return catalog.GeocodeResult{Latitude: lat, Longitude: lon, DisplayName: hits[0].DisplayName}, nil
}

func (c *Client) get(ctx context.Context, base string, q url.Values, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("read %s: %w", req.URL.Host, err)
	}
	if resp.StatusCode != http.StatusOK {
		return toolerrors.Errorf("%s returned %d: %s", req.URL.Host, resp.StatusCode, truncate(string(body), 200))
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Host, err)
	}
	return nil
}

func (c *Client) weatherTool(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args catalog.WeatherArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, toolerrors.Errorf("invalid arguments: %v", err)
	}
	res, err := c.Forecast(ctx, args)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res)
}

func (c *Client) geocodeTool(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args catalog.GeocodeArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, toolerrors.Errorf("invalid arguments: %v", err)
	}
	res, err := c.Geocode(ctx, args)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
