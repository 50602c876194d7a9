package weather

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/firewatch/internal/upstream"
)

// Resource is the name used for logging, metrics, and queue routing.
const Resource = "weather"

const defaultBaseURL = "https://api.weather.gov"

// Grid identifies a forecast office grid cell.
type Grid struct {
	Office string `json:"office"`
	X      int    `json:"grid_x"`
	Y      int    `json:"grid_y"`
}

// Key returns a stable cache key for the grid cell.
func (g Grid) Key() string {
	return fmt.Sprintf("%s/%d,%d", g.Office, g.X, g.Y)
}

// Conditions is the current forecast period for a grid cell.
type Conditions struct {
	Temperature      float64   `json:"temperature"`
	RelativeHumidity float64   `json:"relative_humidity"`
	WindSpeed        float64   `json:"wind_speed"`
	Precipitation    float64   `json:"precipitation"`
	ShortForecast    string    `json:"short_forecast"`
	DetailedForecast string    `json:"detailed_forecast,omitempty"`
	PeriodName       string    `json:"period_name,omitempty"`
	StartTime        time.Time `json:"start_time"`
	IsDaytime        bool      `json:"is_daytime"`
}

// Client talks to a weather.gov compatible API.
type Client struct {
	baseURL string
	http    *upstream.Client
}

// New creates a Client. An empty baseURL uses api.weather.gov.
func New(baseURL, userAgent string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &upstream.Client{
			Resource:   Resource,
			HTTPClient: &http.Client{},
			Timeout:    timeout,
			Header: http.Header{
				"User-Agent": {userAgent},
				"Accept":     {"application/geo+json"},
			},
		},
	}
}

// pointsResponse mirrors GET /points/{lat},{lon}.
type pointsResponse struct {
	Properties struct {
		GridID string `json:"gridId"`
		GridX  *int   `json:"gridX"`
		GridY  *int   `json:"gridY"`
	} `json:"properties"`
}

// Points resolves a coordinate to its forecast grid cell.
func (c *Client) Points(ctx context.Context, lat, lon float64) (Grid, error) {
	url := fmt.Sprintf("%s/points/%s,%s", c.baseURL, formatCoord(lat), formatCoord(lon))

	var resp pointsResponse
	if err := c.http.GetJSON(ctx, url, &resp); err != nil {
		return Grid{}, err
	}
	p := resp.Properties
	if p.GridID == "" {
		return Grid{}, &upstream.ValidationError{Resource: Resource, Field: "gridId", Reason: "missing"}
	}
	if p.GridX == nil || p.GridY == nil {
		return Grid{}, &upstream.ValidationError{Resource: Resource, Field: "gridX/gridY", Reason: "missing"}
	}
	return Grid{Office: p.GridID, X: *p.GridX, Y: *p.GridY}, nil
}

type quantity struct {
	Value *float64 `json:"value"`
}

type period struct {
	Name                       string    `json:"name"`
	StartTime                  time.Time `json:"startTime"`
	IsDaytime                  bool      `json:"isDaytime"`
	Temperature                *float64  `json:"temperature"`
	RelativeHumidity           quantity  `json:"relativeHumidity"`
	ProbabilityOfPrecipitation quantity  `json:"probabilityOfPrecipitation"`
	WindSpeed                  string    `json:"windSpeed"`
	ShortForecast              string    `json:"shortForecast"`
	DetailedForecast           string    `json:"detailedForecast"`
}

// forecastResponse mirrors GET /gridpoints/{office}/{x},{y}/forecast.
type forecastResponse struct {
	Properties struct {
		Periods []period `json:"periods"`
	} `json:"properties"`
}

// Forecast returns the current forecast period for a grid cell.
func (c *Client) Forecast(ctx context.Context, g Grid) (Conditions, error) {
	url := fmt.Sprintf("%s/gridpoints/%s/%d,%d/forecast", c.baseURL, g.Office, g.X, g.Y)

	var resp forecastResponse
	if err := c.http.GetJSON(ctx, url, &resp); err != nil {
		return Conditions{}, err
	}
	if len(resp.Properties.Periods) == 0 {
		return Conditions{}, &upstream.ValidationError{Resource: Resource, Field: "periods", Reason: "empty"}
	}
	p := resp.Properties.Periods[0]
	if p.Temperature == nil {
		return Conditions{}, &upstream.ValidationError{Resource: Resource, Field: "temperature", Reason: "missing"}
	}

	wind, err := ParseWindSpeed(p.WindSpeed)
	if err != nil {
		return Conditions{}, &upstream.ValidationError{Resource: Resource, Field: "windSpeed", Reason: err.Error()}
	}

	return Conditions{
		Temperature:      *p.Temperature,
		RelativeHumidity: valueOrZero(p.RelativeHumidity),
		WindSpeed:        wind,
		Precipitation:    valueOrZero(p.ProbabilityOfPrecipitation),
		ShortForecast:    p.ShortForecast,
		DetailedForecast: p.DetailedForecast,
		PeriodName:       p.Name,
		StartTime:        p.StartTime,
		IsDaytime:        p.IsDaytime,
	}, nil
}

// ParseWindSpeed reads the upper bound of strings such as "15 mph" or
// "10 to 20 mph". An empty string is calm air.
func ParseWindSpeed(s string) (float64, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, nil
	}
	var speed float64
	found := false
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			continue
		}
		speed = v
		found = true
	}
	if !found {
		return 0, fmt.Errorf("no number in %q", s)
	}
	return speed, nil
}

func valueOrZero(q quantity) float64 {
	if q.Value == nil {
		return 0
	}
	return *q.Value
}

// formatCoord trims coordinates to the four decimals weather.gov accepts.
func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
