package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/kalambet/firewatch/internal/batch"
	"github.com/kalambet/firewatch/internal/geocode"
	"github.com/kalambet/firewatch/internal/pipeline"
	"github.com/kalambet/firewatch/internal/upstream"
	"github.com/kalambet/firewatch/internal/weather"
)

// Location is a lookup match with its forecast grid resolved.
type Location struct {
	geocode.Place
	Grid weather.Grid `json:"grid"`
}

// Lookup resolves a free-text query to matching places and their grid
// cells. Matches whose grid cannot be resolved are skipped; if none
// resolves, the collected errors are returned.
func (a *Analyzer) Lookup(ctx context.Context, query string) ([]Location, error) {
	key := "q|" + geocode.CleanQuery(query)
	places, err := a.places.GetOrLoad(ctx, key, func(ctx context.Context) ([]geocode.Place, error) {
		return upstream.Call(ctx, a.geoCall, key, func(ctx context.Context) ([]geocode.Place, error) {
			return a.geo.Search(ctx, query, a.opts.LookupLimit)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", query, err)
	}

	var (
		out  []Location
		errs []error
	)
	for _, p := range places {
		g, err := a.enricher.ResolveGrid(ctx, p.Lat, p.Lon)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			a.logger.Warn("skipping lookup match", "resource", weather.Resource, "key", p.Label(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Label(), err))
			continue
		}
		out = append(out, Location{Place: p, Grid: g})
	}
	if len(out) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// Assess enriches a single coordinate. label names the place in the result
// and in errors; when empty the coordinate is used.
func (a *Analyzer) Assess(ctx context.Context, lat, lon float64, label string) (pipeline.Enriched, error) {
	if !validCoordinate(lat, lon) {
		return pipeline.Enriched{}, &upstream.ValidationError{
			Resource: weather.Resource,
			Field:    "coordinate",
			Reason:   fmt.Sprintf("%g,%g is not a coordinate", lat, lon),
		}
	}
	if label == "" {
		label = pipeline.GridKey(lat, lon)
	}
	return a.enricher.Enrich(ctx, geocode.Place{Name: label, Lat: lat, Lon: lon})
}

// Popular enriches the configured popular locations in paced batches.
// Locations that fail are left out.
func (a *Analyzer) Popular(ctx context.Context) []pipeline.Enriched {
	places := make([]geocode.Place, len(a.opts.Popular))
	for i, l := range a.opts.Popular {
		places[i] = l.Place()
	}
	results := batch.Run(ctx, places, a.opts.Batch, a.enricher.Enrich)
	for i, r := range results {
		if !r.OK {
			a.logger.Warn("skipping popular location", "resource", weather.Resource, "key", places[i].Label(), "error", r.Err)
		}
	}
	return batch.Values(results)
}

// validCoordinate rejects NaN as well as out-of-range values; NaN compares
// false against every bound.
func validCoordinate(lat, lon float64) bool {
	return !math.IsNaN(lat) && !math.IsNaN(lon) &&
		lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
