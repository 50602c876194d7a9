package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kalambet/firewatch/internal/analysis"
	"github.com/kalambet/firewatch/internal/batch"
	"github.com/kalambet/firewatch/internal/cache"
	"github.com/kalambet/firewatch/internal/config"
	"github.com/kalambet/firewatch/internal/geocode"
	"github.com/kalambet/firewatch/internal/metrics"
	"github.com/kalambet/firewatch/internal/pipeline"
	"github.com/kalambet/firewatch/internal/retry"
	"github.com/kalambet/firewatch/internal/risk"
	"github.com/kalambet/firewatch/internal/scheduler"
	"github.com/kalambet/firewatch/internal/seeds"
	"github.com/kalambet/firewatch/internal/storage"
	"github.com/kalambet/firewatch/internal/upstream"
	"github.com/kalambet/firewatch/internal/weather"
)

// app is everything one firewatch process runs on.
type app struct {
	analyzer   *analysis.Analyzer
	categories []seeds.Category
	store      *storage.Store
	metrics    *metrics.Metrics
	queues     []*scheduler.Queue
}

func newLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

// policyFor builds the retry policy for one upstream. A retry never waits
// less than the spacing its queue enforces between starts.
func policyFor(u config.UpstreamConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts: u.MaxAttempts,
		BaseDelay:   u.BaseDelay,
		Multiplier:  u.Multiplier,
		MaxDelay:    u.MaxDelay,
		MinDelay:    u.Limits().MinSpacing(),
	}
}

// buildApp wires queues, callers, caches, clients and the analyzer from cfg.
// With persist false no storage is opened and runs are not recorded.
func buildApp(cfg config.Config, persist bool, logger *slog.Logger) (*app, error) {
	fw := &app{metrics: metrics.New()}

	seedFile, err := seeds.Load(cfg.Seeds.File)
	if err != nil {
		return nil, err
	}
	fw.categories = seedFile.Categories
	minLevel, err := risk.ParseLevel(cfg.Analysis.MinLevel)
	if err != nil {
		return nil, err
	}

	weatherQueue, err := scheduler.NewQueue(weather.Resource, cfg.Weather.Limits(), scheduler.WithObserver(fw.metrics))
	if err != nil {
		return nil, fmt.Errorf("weather queue: %w", err)
	}
	geocodeQueue, err := scheduler.NewQueue(geocode.Resource, cfg.Geocode.Limits(), scheduler.WithObserver(fw.metrics))
	if err != nil {
		return nil, fmt.Errorf("geocode queue: %w", err)
	}
	fw.queues = []*scheduler.Queue{weatherQueue, geocodeQueue}

	weatherCall := &upstream.Caller{
		Resource: weather.Resource,
		Queue:    weatherQueue,
		Policy:   policyFor(cfg.Weather),
		Observer: fw.metrics,
		Logger:   logger,
	}
	geocodeCall := &upstream.Caller{
		Resource: geocode.Resource,
		Queue:    geocodeQueue,
		Policy:   policyFor(cfg.Geocode),
		Observer: fw.metrics,
		Logger:   logger,
	}

	ttl := cfg.Cache.TTL
	grids := cache.New[weather.Grid](ttl, cache.WithName("grids"), cache.WithObserver(fw.metrics))
	forecasts := cache.New[weather.Conditions](ttl, cache.WithName("forecasts"), cache.WithObserver(fw.metrics))
	places := cache.New[[]geocode.Place](ttl, cache.WithName("places"), cache.WithObserver(fw.metrics))

	weatherClient := weather.New(cfg.Weather.BaseURL, cfg.Weather.UserAgent, cfg.Weather.Timeout)
	geocodeClient := geocode.New(cfg.Geocode.BaseURL, cfg.Geocode.UserAgent, cfg.Geocode.Timeout)
	enricher := pipeline.NewEnricher(weatherClient, weatherCall, grids, forecasts, logger)

	options := []analysis.Option{
		analysis.WithLogger(logger),
		analysis.WithObserver(fw.metrics),
		analysis.WithSweepers(grids, forecasts),
	}
	if persist {
		fw.store, err = storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		options = append(options, analysis.WithRecorder(&historyRecorder{
			store:  fw.store,
			keep:   cfg.Storage.KeepRuns,
			logger: logger,
		}))
	}

	fw.analyzer = analysis.New(geocodeClient, geocodeCall, places, enricher, analysis.Options{
		Categories:            seedFile.Categories,
		Popular:               seedFile.Popular,
		CandidatesPerCategory: cfg.Analysis.CandidatesPerCategory,
		CategoryGap:           cfg.Analysis.CategoryGap,
		Batch: batch.Options{
			ChunkSize:   cfg.Batch.Size,
			Gap:         cfg.Batch.Gap,
			TrailingGap: cfg.Batch.TrailingGap,
		},
		MinLevel:        minLevel,
		TopN:            cfg.Analysis.TopN,
		SweepInterval:   cfg.Analysis.SweepInterval,
		RefreshInterval: cfg.Analysis.RefreshInterval,
	}, options...)

	return fw, nil
}

// close stops the loops, drains the queues and closes storage.
func (fw *app) close(timeout time.Duration) {
	fw.analyzer.Stop()

	deadline := time.After(timeout)
	for _, q := range fw.queues {
		select {
		case <-q.Close():
		case <-deadline:
			slog.Warn("queue did not drain before shutdown", "queue", q.Name(), "pending", q.Stats().Pending)
		}
	}

	if fw.store != nil {
		if err := fw.store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}
}

// historyRecorder saves each report and trims history to keep runs.
type historyRecorder struct {
	store  *storage.Store
	keep   int
	logger *slog.Logger
}

func (h *historyRecorder) SaveRun(ctx context.Context, r analysis.Report) error {
	if err := h.store.SaveRun(ctx, r); err != nil {
		return err
	}
	if h.keep > 0 {
		n, err := h.store.PruneRuns(ctx, h.keep)
		if err != nil {
			h.logger.Warn("pruning run history failed", "error", err)
		} else if n > 0 {
			h.logger.Debug("pruned run history", "removed", n)
		}
	}
	return nil
}
