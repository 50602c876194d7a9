package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/firewatch/internal/cache"
	"github.com/kalambet/firewatch/internal/geocode"
	"github.com/kalambet/firewatch/internal/risk"
	"github.com/kalambet/firewatch/internal/upstream"
	"github.com/kalambet/firewatch/internal/weather"
)

// WeatherSource resolves coordinates to grid cells and grid cells to
// forecast conditions. *weather.Client implements it.
type WeatherSource interface {
	Points(ctx context.Context, lat, lon float64) (weather.Grid, error)
	Forecast(ctx context.Context, g weather.Grid) (weather.Conditions, error)
}

// Enriched is a place with its forecast and risk classification attached.
type Enriched struct {
	Place      geocode.Place      `json:"place"`
	Grid       weather.Grid       `json:"grid"`
	Conditions weather.Conditions `json:"conditions"`
	Risk       risk.Assessment    `json:"risk"`
}

// Enricher runs the two weather stages for a place: coordinate to grid,
// then grid to conditions. Both stages are cached and every upstream call
// goes through the weather caller's queue and retry policy.
type Enricher struct {
	source    WeatherSource
	caller    *upstream.Caller
	grids     *cache.Cache[weather.Grid]
	forecasts *cache.Cache[weather.Conditions]
	logger    *slog.Logger
}

// NewEnricher creates an Enricher. grids and forecasts may be shared with
// other components; the sweep loop owns their eviction.
func NewEnricher(
	source WeatherSource,
	caller *upstream.Caller,
	grids *cache.Cache[weather.Grid],
	forecasts *cache.Cache[weather.Conditions],
	logger *slog.Logger,
) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{
		source:    source,
		caller:    caller,
		grids:     grids,
		forecasts: forecasts,
		logger:    logger,
	}
}

// GridKey is the cache key for a coordinate, rounded the way the points
// endpoint rounds it.
func GridKey(lat, lon float64) string {
	return fmt.Sprintf("%.4f,%.4f", lat, lon)
}

// ResolveGrid returns the grid cell for a coordinate.
func (e *Enricher) ResolveGrid(ctx context.Context, lat, lon float64) (weather.Grid, error) {
	key := GridKey(lat, lon)
	return e.grids.GetOrLoad(ctx, key, func(ctx context.Context) (weather.Grid, error) {
		return upstream.Call(ctx, e.caller, key, func(ctx context.Context) (weather.Grid, error) {
			return e.source.Points(ctx, lat, lon)
		})
	})
}

// Conditions returns the current forecast period for a grid cell.
func (e *Enricher) Conditions(ctx context.Context, g weather.Grid) (weather.Conditions, error) {
	key := g.Key()
	return e.forecasts.GetOrLoad(ctx, key, func(ctx context.Context) (weather.Conditions, error) {
		return upstream.Call(ctx, e.caller, key, func(ctx context.Context) (weather.Conditions, error) {
			return e.source.Forecast(ctx, g)
		})
	})
}

// Enrich resolves place to conditions and classifies them. Any stage error
// is returned wrapped with the place label.
func (e *Enricher) Enrich(ctx context.Context, place geocode.Place) (Enriched, error) {
	start := time.Now()

	g, err := e.ResolveGrid(ctx, place.Lat, place.Lon)
	if err != nil {
		return Enriched{}, fmt.Errorf("resolving grid for %s: %w", place.Label(), err)
	}
	cond, err := e.Conditions(ctx, g)
	if err != nil {
		return Enriched{}, fmt.Errorf("fetching forecast for %s: %w", place.Label(), err)
	}

	out := Enriched{
		Place:      place,
		Grid:       g,
		Conditions: cond,
		Risk:       risk.Classify(cond),
	}
	e.logger.Debug("enrichment complete",
		"place", place.Label(),
		"grid", g.Key(),
		"level", out.Risk.Level.String(),
		"score", out.Risk.Score,
		"duration", time.Since(start),
	)
	return out, nil
}
