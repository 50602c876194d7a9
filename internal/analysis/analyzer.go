// Package analysis drives analysis runs: it resolves candidate places per
// seed category, enriches them in paced batches, and ranks the high-risk
// subset. It also owns the periodic sweep and refresh loops.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/firewatch/internal/batch"
	"github.com/kalambet/firewatch/internal/cache"
	"github.com/kalambet/firewatch/internal/geocode"
	"github.com/kalambet/firewatch/internal/pipeline"
	"github.com/kalambet/firewatch/internal/risk"
	"github.com/kalambet/firewatch/internal/seeds"
	"github.com/kalambet/firewatch/internal/upstream"
	"github.com/kalambet/firewatch/internal/weather"
)

// ErrNoCandidates is the reason attached to a run in which no category
// produced a single candidate.
var ErrNoCandidates = errors.New("no candidate locations resolved")

// GeocodeSource finds places. *geocode.Client implements it.
type GeocodeSource interface {
	SearchState(ctx context.Context, state string, limit int) ([]geocode.Place, error)
	Search(ctx context.Context, query string, limit int) ([]geocode.Place, error)
}

// Enricher attaches forecast and risk to a place. *pipeline.Enricher
// implements it.
type Enricher interface {
	Enrich(ctx context.Context, place geocode.Place) (pipeline.Enriched, error)
	ResolveGrid(ctx context.Context, lat, lon float64) (weather.Grid, error)
}

// Recorder persists completed reports.
type Recorder interface {
	SaveRun(ctx context.Context, r Report) error
}

// Observer is told about every completed run.
type Observer interface {
	RunCompleted(d time.Duration, results int, empty bool)
}

// Sweeper is a cache that can drop its expired entries.
type Sweeper interface {
	Sweep() int
}

// Options tunes an Analyzer. Zero values take the defaults below; a zero
// MinLevel means High since every result is at least Low.
type Options struct {
	Categories            []seeds.Category
	Popular               []seeds.Location
	CandidatesPerCategory int
	CategoryGap           time.Duration
	Batch                 batch.Options
	MinLevel              risk.Level
	TopN                  int
	LookupLimit           int
	SweepInterval         time.Duration
	RefreshInterval       time.Duration
}

const (
	DefaultCandidatesPerCategory = 5
	DefaultCategoryGap           = time.Second
	DefaultTopN                  = 6
	DefaultLookupLimit           = 5
	DefaultSweepInterval         = 15 * time.Minute
	DefaultRefreshInterval       = 30 * time.Minute
)

func (o *Options) applyDefaults() {
	if len(o.Categories) == 0 {
		o.Categories = seeds.Default().Categories
	}
	if o.CandidatesPerCategory <= 0 {
		o.CandidatesPerCategory = DefaultCandidatesPerCategory
	}
	if o.CategoryGap < 0 {
		o.CategoryGap = 0
	}
	if o.Batch.ChunkSize <= 0 {
		o.Batch.ChunkSize = 2
	}
	if o.MinLevel == risk.Low {
		o.MinLevel = risk.High
	}
	if o.TopN <= 0 {
		o.TopN = DefaultTopN
	}
	if o.LookupLimit <= 0 {
		o.LookupLimit = DefaultLookupLimit
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = DefaultRefreshInterval
	}
}

// RankedResult is one high-risk place in a report.
type RankedResult struct {
	Rank int `json:"rank"`
	pipeline.Enriched
}

// Report is the outcome of one analysis run.
type Report struct {
	ID               string         `json:"id"`
	StartedAt        time.Time      `json:"started_at"`
	Duration         time.Duration  `json:"duration_ns"`
	Candidates       int            `json:"candidates"`
	Enriched         int            `json:"enriched"`
	FailedCategories []string       `json:"failed_categories,omitempty"`
	Results          []RankedResult `json:"results"`
	Empty            bool           `json:"empty"`
	Reason           string         `json:"reason,omitempty"`
}

// Analyzer composes the geocode and weather stages into analysis runs.
type Analyzer struct {
	geo      GeocodeSource
	geoCall  *upstream.Caller
	places   *cache.Cache[[]geocode.Place]
	enricher Enricher
	opts     Options

	recorder Recorder
	observer Observer
	sweepers []Sweeper
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	runMu  sync.Mutex // serializes runs
	mu     sync.RWMutex
	latest *Report

	loopMu sync.Mutex
	cancel context.CancelFunc
	loops  sync.WaitGroup
}

// Option configures optional Analyzer collaborators.
type Option func(*Analyzer)

// WithRecorder hands every completed report to r.
func WithRecorder(r Recorder) Option { return func(a *Analyzer) { a.recorder = r } }

// WithObserver reports run outcomes to obs.
func WithObserver(obs Observer) Option { return func(a *Analyzer) { a.observer = obs } }

// WithSweepers registers additional caches for the sweep loop.
func WithSweepers(s ...Sweeper) Option {
	return func(a *Analyzer) { a.sweepers = append(a.sweepers, s...) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(a *Analyzer) { a.logger = l } }

// New creates an Analyzer. places caches category resolutions and is swept
// together with any caches passed via WithSweepers.
func New(geo GeocodeSource, geoCall *upstream.Caller, places *cache.Cache[[]geocode.Place], enricher Enricher, opts Options, options ...Option) *Analyzer {
	opts.applyDefaults()
	a := &Analyzer{
		geo:      geo,
		geoCall:  geoCall,
		places:   places,
		enricher: enricher,
		opts:     opts,
		logger:   slog.Default(),
		now:      time.Now,
		sleep:    sleepContext,
	}
	a.sweepers = append(a.sweepers, places)
	for _, o := range options {
		o(a)
	}
	return a
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run performs one full analysis. Partial failures drop the affected
// category or place; only a context error aborts the run.
func (a *Analyzer) Run(ctx context.Context) (Report, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	start := a.now()
	rep := Report{ID: uuid.NewString(), StartedAt: start.UTC(), Results: []RankedResult{}}
	log := a.logger.With("run_id", rep.ID)
	log.Info("analysis run started", "categories", len(a.opts.Categories))

	candidates, failed, err := a.resolveCandidates(ctx, log)
	if err != nil {
		return Report{}, err
	}
	rep.Candidates = len(candidates)
	rep.FailedCategories = failed

	if len(candidates) == 0 {
		rep.Empty = true
		rep.Reason = ErrNoCandidates.Error()
		if len(failed) == len(a.opts.Categories) {
			rep.Reason = fmt.Sprintf("%s: all %d categories failed", ErrNoCandidates, len(failed))
		}
		log.Warn("analysis run produced no candidates", "failed_categories", len(failed))
		return a.finish(ctx, rep, start, log), nil
	}

	results := batch.Run(ctx, candidates, a.opts.Batch, func(ctx context.Context, p geocode.Place) (pipeline.Enriched, error) {
		return a.enricher.Enrich(ctx, p)
	})
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	for i, r := range results {
		if !r.OK {
			log.Warn("dropping place", "resource", weather.Resource, "key", candidates[i].Label(), "error", r.Err)
		}
	}

	enriched := batch.Values(results)
	rep.Enriched = len(enriched)
	rep.Results = Rank(enriched, a.opts.MinLevel, a.opts.TopN)
	return a.finish(ctx, rep, start, log), nil
}

func (a *Analyzer) finish(ctx context.Context, rep Report, start time.Time, log *slog.Logger) Report {
	rep.Duration = a.now().Sub(start)
	a.mu.Lock()
	a.latest = &rep
	a.mu.Unlock()

	if a.observer != nil {
		a.observer.RunCompleted(rep.Duration, len(rep.Results), rep.Empty)
	}
	if a.recorder != nil {
		if err := a.recorder.SaveRun(context.WithoutCancel(ctx), rep); err != nil {
			log.Error("saving run", "error", err)
		}
	}
	log.Info("analysis run complete",
		"candidates", rep.Candidates,
		"enriched", rep.Enriched,
		"ranked", len(rep.Results),
		"empty", rep.Empty,
		"duration", rep.Duration,
	)
	return rep
}

// resolveCandidates walks the categories in order, pausing between them.
// It returns deduplicated places and the names of failed categories.
func (a *Analyzer) resolveCandidates(ctx context.Context, log *slog.Logger) ([]geocode.Place, []string, error) {
	var (
		out    []geocode.Place
		failed []string
		seen   = make(map[string]bool)
	)
	for i, cat := range a.opts.Categories {
		if i > 0 {
			if err := a.sleep(ctx, a.opts.CategoryGap); err != nil {
				return nil, nil, err
			}
		}
		places, err := a.categoryPlaces(ctx, cat.State)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			log.Warn("dropping category", "resource", geocode.Resource, "key", cat.State, "error", err)
			failed = append(failed, cat.State)
			continue
		}
		for _, p := range places {
			if seen[p.Key()] {
				continue
			}
			seen[p.Key()] = true
			out = append(out, p)
		}
	}
	return out, failed, nil
}

func (a *Analyzer) categoryPlaces(ctx context.Context, state string) ([]geocode.Place, error) {
	key := "state|" + state
	return a.places.GetOrLoad(ctx, key, func(ctx context.Context) ([]geocode.Place, error) {
		return upstream.Call(ctx, a.geoCall, key, func(ctx context.Context) ([]geocode.Place, error) {
			return a.geo.SearchState(ctx, state, a.opts.CandidatesPerCategory)
		})
	})
}

// Rank keeps results at or above threshold, orders them by descending score
// (ties keep input order), and truncates to topN.
func Rank(in []pipeline.Enriched, threshold risk.Level, topN int) []RankedResult {
	kept := make([]pipeline.Enriched, 0, len(in))
	for _, e := range in {
		if e.Risk.Level.AtLeast(threshold) {
			kept = append(kept, e)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Risk.Score > kept[j].Risk.Score
	})
	if topN > 0 && len(kept) > topN {
		kept = kept[:topN]
	}
	out := make([]RankedResult, len(kept))
	for i, e := range kept {
		out[i] = RankedResult{Rank: i + 1, Enriched: e}
	}
	return out
}

// Latest returns the most recent completed report.
func (a *Analyzer) Latest() (Report, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.latest == nil {
		return Report{}, false
	}
	return *a.latest, true
}
