package geocode

import (
	"context"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/firewatch/internal/upstream"
)

// Resource is the name used for logging, metrics, and queue routing.
const Resource = "geocode"

const defaultBaseURL = "https://nominatim.openstreetmap.org"

// Place is a populated place with usable coordinates.
type Place struct {
	Name  string  `json:"name"`
	State string  `json:"state"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
}

// Key identifies a place for deduplication and caching.
func (p Place) Key() string {
	return strings.ToLower(p.Name) + "|" + strings.ToLower(p.State)
}

// Label is the human-readable "Name, State" form.
func (p Place) Label() string {
	if p.State == "" {
		return p.Name
	}
	return p.Name + ", " + p.State
}

// Client queries a Nominatim compatible search endpoint.
type Client struct {
	baseURL string
	http    *upstream.Client
}

// New creates a Client. An empty baseURL uses the public Nominatim instance.
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
				"User-Agent":      {userAgent},
				"Accept-Language": {"en-US,en;q=0.9"},
			},
		},
	}
}

type address struct {
	City    string `json:"city"`
	Town    string `json:"town"`
	Village string `json:"village"`
	Suburb  string `json:"suburb"`
	State   string `json:"state"`
	Country string `json:"country"`
}

type searchResult struct {
	Lat     string   `json:"lat"`
	Lon     string   `json:"lon"`
	Address *address `json:"address"`
}

// SearchState returns up to limit cities or towns inside the named US state.
func (c *Client) SearchState(ctx context.Context, state string, limit int) ([]Place, error) {
	q := url.Values{}
	q.Set("country", "usa")
	q.Set("state", state)
	q.Set("format", "json")
	q.Set("addressdetails", "1")
	q.Set("limit", "25")
	q.Set("featuretype", "city")

	var results []searchResult
	if err := c.http.GetJSON(ctx, c.baseURL+"/search?"+q.Encode(), &results); err != nil {
		return nil, err
	}

	var places []Place
	for _, r := range results {
		if r.Address == nil || r.Address.State != state {
			continue
		}
		name := firstNonEmpty(r.Address.City, r.Address.Town)
		if name == "" {
			continue
		}
		p, ok := toPlace(name, r)
		if !ok {
			continue
		}
		places = append(places, p)
		if limit > 0 && len(places) == limit {
			break
		}
	}
	return places, nil
}

var unsafeChars = regexp.MustCompile(`[^\w\s,-]`)

// CleanQuery strips characters a free-text search should not forward.
func CleanQuery(s string) string {
	return strings.TrimSpace(unsafeChars.ReplaceAllString(strings.TrimSpace(s), ""))
}

// Search runs a free-text query restricted to the United States and returns
// up to limit places, best name matches first.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Place, error) {
	clean := CleanQuery(query)
	if clean == "" {
		return nil, &upstream.ValidationError{Resource: Resource, Field: "query", Reason: "empty"}
	}

	q := url.Values{}
	q.Set("q", clean)
	q.Set("format", "jsonv2")
	q.Set("addressdetails", "1")
	q.Set("limit", "50")
	q.Set("countrycodes", "us")
	q.Set("accept-language", "en")
	q.Set("featuretype", "city,town,village,suburb,neighbourhood")

	var results []searchResult
	if err := c.http.GetJSON(ctx, c.baseURL+"/search?"+q.Encode(), &results); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var places []Place
	for _, r := range results {
		if r.Address == nil || r.Address.Country != "United States" {
			continue
		}
		name := firstNonEmpty(r.Address.City, r.Address.Town, r.Address.Village, r.Address.Suburb)
		if name == "" {
			continue
		}
		p, ok := toPlace(name, r)
		if !ok || seen[p.Key()] {
			continue
		}
		seen[p.Key()] = true
		places = append(places, p)
	}

	rankByName(places, clean)
	if limit > 0 && len(places) > limit {
		places = places[:limit]
	}
	return places, nil
}

// rankByName orders places by how closely their name matches the query's
// leading term: exact, then prefix, then substring, then the rest.
func rankByName(places []Place, query string) {
	term := strings.ToLower(strings.TrimSpace(strings.Split(query, ",")[0]))
	rank := func(p Place) int {
		name := strings.ToLower(p.Name)
		switch {
		case name == term:
			return 0
		case strings.HasPrefix(name, term):
			return 1
		case strings.Contains(name, term):
			return 2
		default:
			return 3
		}
	}
	sort.SliceStable(places, func(i, j int) bool {
		return rank(places[i]) < rank(places[j])
	})
}

func toPlace(name string, r searchResult) (Place, bool) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(r.Lat), 64)
	if err != nil {
		return Place{}, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(r.Lon), 64)
	if err != nil {
		return Place{}, false
	}
	// ParseFloat accepts "NaN" and "Inf".
	if math.IsNaN(lat) || math.IsNaN(lon) || math.Abs(lat) > 90 || math.Abs(lon) > 180 {
		return Place{}, false
	}
	return Place{Name: name, State: r.Address.State, Lat: lat, Lon: lon}, true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
