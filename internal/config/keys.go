package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "FIREWATCH_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "FIREWATCH_SERVER_API_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "server.rate_limit", typ: kFloat, env: "FIREWATCH_SERVER_RATE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Server.RateLimit = v.(float64) },
		extract: func(cfg Config) any { return cfg.Server.RateLimit },
	},
	{
		key: "server.rate_burst", typ: kInt, env: "FIREWATCH_SERVER_RATE_BURST",
		apply:   func(cfg *Config, v any) { cfg.Server.RateBurst = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.RateBurst },
	},
	{
		key: "server.max_conns", typ: kInt, env: "FIREWATCH_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "weather.base_url", typ: kString, env: "FIREWATCH_WEATHER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Weather.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Weather.BaseURL },
	},
	{
		key: "weather.user_agent", typ: kString, env: "FIREWATCH_WEATHER_USER_AGENT",
		apply:   func(cfg *Config, v any) { cfg.Weather.UserAgent = v.(string) },
		extract: func(cfg Config) any { return cfg.Weather.UserAgent },
	},
	{
		key: "weather.timeout", typ: kDuration, env: "FIREWATCH_WEATHER_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Weather.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Weather.Timeout },
	},
	{
		key: "weather.concurrency", typ: kInt, env: "FIREWATCH_WEATHER_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Weather.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Weather.Concurrency },
	},
	{
		key: "weather.interval", typ: kDuration, env: "FIREWATCH_WEATHER_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Weather.Interval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Weather.Interval },
	},
	{
		key: "weather.interval_cap", typ: kInt, env: "FIREWATCH_WEATHER_INTERVAL_CAP",
		apply:   func(cfg *Config, v any) { cfg.Weather.IntervalCap = v.(int) },
		extract: func(cfg Config) any { return cfg.Weather.IntervalCap },
	},
	{
		key: "weather.max_attempts", typ: kInt, env: "FIREWATCH_WEATHER_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Weather.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Weather.MaxAttempts },
	},
	{
		key: "weather.base_delay", typ: kDuration, env: "FIREWATCH_WEATHER_BASE_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Weather.BaseDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Weather.BaseDelay },
	},
	{
		key: "weather.multiplier", typ: kFloat, env: "FIREWATCH_WEATHER_MULTIPLIER",
		apply:   func(cfg *Config, v any) { cfg.Weather.Multiplier = v.(float64) },
		extract: func(cfg Config) any { return cfg.Weather.Multiplier },
	},
	{
		key: "weather.max_delay", typ: kDuration, env: "FIREWATCH_WEATHER_MAX_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Weather.MaxDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Weather.MaxDelay },
	},
	{
		key: "geocode.base_url", typ: kString, env: "FIREWATCH_GEOCODE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Geocode.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Geocode.BaseURL },
	},
	{
		key: "geocode.user_agent", typ: kString, env: "FIREWATCH_GEOCODE_USER_AGENT",
		apply:   func(cfg *Config, v any) { cfg.Geocode.UserAgent = v.(string) },
		extract: func(cfg Config) any { return cfg.Geocode.UserAgent },
	},
	{
		key: "geocode.timeout", typ: kDuration, env: "FIREWATCH_GEOCODE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Geocode.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Geocode.Timeout },
	},
	{
		key: "geocode.concurrency", typ: kInt, env: "FIREWATCH_GEOCODE_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Geocode.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Geocode.Concurrency },
	},
	{
		key: "geocode.interval", typ: kDuration, env: "FIREWATCH_GEOCODE_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Geocode.Interval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Geocode.Interval },
	},
	{
		key: "geocode.interval_cap", typ: kInt, env: "FIREWATCH_GEOCODE_INTERVAL_CAP",
		apply:   func(cfg *Config, v any) { cfg.Geocode.IntervalCap = v.(int) },
		extract: func(cfg Config) any { return cfg.Geocode.IntervalCap },
	},
	{
		key: "geocode.max_attempts", typ: kInt, env: "FIREWATCH_GEOCODE_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Geocode.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Geocode.MaxAttempts },
	},
	{
		key: "geocode.base_delay", typ: kDuration, env: "FIREWATCH_GEOCODE_BASE_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Geocode.BaseDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Geocode.BaseDelay },
	},
	{
		key: "geocode.multiplier", typ: kFloat, env: "FIREWATCH_GEOCODE_MULTIPLIER",
		apply:   func(cfg *Config, v any) { cfg.Geocode.Multiplier = v.(float64) },
		extract: func(cfg Config) any { return cfg.Geocode.Multiplier },
	},
	{
		key: "geocode.max_delay", typ: kDuration, env: "FIREWATCH_GEOCODE_MAX_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Geocode.MaxDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Geocode.MaxDelay },
	},
	{
		key: "cache.ttl", typ: kDuration, env: "FIREWATCH_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Cache.TTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Cache.TTL },
	},
	{
		key: "analysis.refresh_interval", typ: kDuration, env: "FIREWATCH_ANALYSIS_REFRESH_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Analysis.RefreshInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Analysis.RefreshInterval },
	},
	{
		key: "analysis.sweep_interval", typ: kDuration, env: "FIREWATCH_ANALYSIS_SWEEP_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Analysis.SweepInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Analysis.SweepInterval },
	},
	{
		key: "analysis.category_gap", typ: kDuration, env: "FIREWATCH_ANALYSIS_CATEGORY_GAP",
		apply:   func(cfg *Config, v any) { cfg.Analysis.CategoryGap = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Analysis.CategoryGap },
	},
	{
		key: "analysis.candidates_per_category", typ: kInt, env: "FIREWATCH_ANALYSIS_CANDIDATES_PER_CATEGORY",
		apply:   func(cfg *Config, v any) { cfg.Analysis.CandidatesPerCategory = v.(int) },
		extract: func(cfg Config) any { return cfg.Analysis.CandidatesPerCategory },
	},
	{
		key: "analysis.top_n", typ: kInt, env: "FIREWATCH_ANALYSIS_TOP_N",
		apply:   func(cfg *Config, v any) { cfg.Analysis.TopN = v.(int) },
		extract: func(cfg Config) any { return cfg.Analysis.TopN },
	},
	{
		key: "analysis.min_level", typ: kString, env: "FIREWATCH_ANALYSIS_MIN_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Analysis.MinLevel = v.(string) },
		extract: func(cfg Config) any { return cfg.Analysis.MinLevel },
	},
	{
		key: "batch.size", typ: kInt, env: "FIREWATCH_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Batch.Size = v.(int) },
		extract: func(cfg Config) any { return cfg.Batch.Size },
	},
	{
		key: "batch.gap", typ: kDuration, env: "FIREWATCH_BATCH_GAP",
		apply:   func(cfg *Config, v any) { cfg.Batch.Gap = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Batch.Gap },
	},
	{
		key: "batch.trailing_gap", typ: kBool, env: "FIREWATCH_BATCH_TRAILING_GAP",
		apply:   func(cfg *Config, v any) { cfg.Batch.TrailingGap = v.(bool) },
		extract: func(cfg Config) any { return cfg.Batch.TrailingGap },
	},
	{
		key: "seeds.file", typ: kString, env: "FIREWATCH_SEEDS_FILE",
		apply:   func(cfg *Config, v any) { cfg.Seeds.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Seeds.File },
	},
	{
		key: "storage.data_dir", typ: kString, env: "FIREWATCH_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.keep_runs", typ: kInt, env: "FIREWATCH_STORAGE_KEEP_RUNS",
		apply:   func(cfg *Config, v any) { cfg.Storage.KeepRuns = v.(int) },
		extract: func(cfg Config) any { return cfg.Storage.KeepRuns },
	},
	{
		key: "log.level", typ: kString, env: "FIREWATCH_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// parse converts a raw string for a key of type t.
func parse(t keyType, raw string) (any, error) {
	switch t {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok, err := b.Lookup(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := parse(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] %s: could not parse %s=%q: %v. Using default value.\n", b.Location(), s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parse(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
