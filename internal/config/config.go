package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/firewatch/internal/risk"
	"github.com/kalambet/firewatch/internal/scheduler"
)

type Config struct {
	Server   ServerConfig
	Weather  UpstreamConfig
	Geocode  UpstreamConfig
	Cache    CacheConfig
	Analysis AnalysisConfig
	Batch    BatchConfig
	Seeds    SeedsConfig
	Storage  StorageConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port      int
	APIToken  string
	RateLimit float64 // requests per second per client on lookup routes
	RateBurst int
	MaxConns  int // simultaneous connections accepted; 0 is unlimited
}

// UpstreamConfig covers one rate-limited upstream: where it lives, how its
// queue admits calls, and how failed calls are retried.
type UpstreamConfig struct {
	BaseURL     string
	UserAgent   string
	Timeout     time.Duration
	Concurrency int
	Interval    time.Duration
	IntervalCap int
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// Limits converts the queue settings.
func (u UpstreamConfig) Limits() scheduler.Limits {
	return scheduler.Limits{Concurrency: u.Concurrency, Interval: u.Interval, IntervalCap: u.IntervalCap}
}

type CacheConfig struct {
	TTL time.Duration
}

type AnalysisConfig struct {
	RefreshInterval       time.Duration
	SweepInterval         time.Duration
	CategoryGap           time.Duration
	CandidatesPerCategory int
	TopN                  int
	MinLevel              string
}

type BatchConfig struct {
	Size        int
	Gap         time.Duration
	TrailingGap bool
}

type SeedsConfig struct {
	File string
}

type StorageConfig struct {
	DataDir  string
	KeepRuns int
}

type LogConfig struct {
	Level string
}

const defaultUserAgent = "firewatch/1.0"

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:      4100,
			RateLimit: 2,
			RateBurst: 5,
			MaxConns:  64,
		},
		Weather: UpstreamConfig{
			BaseURL:     "https://api.weather.gov",
			UserAgent:   defaultUserAgent,
			Timeout:     10 * time.Second,
			Concurrency: 1,
			Interval:    time.Second,
			IntervalCap: 1,
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			Multiplier:  2,
			MaxDelay:    30 * time.Second,
		},
		Geocode: UpstreamConfig{
			BaseURL:     "https://nominatim.openstreetmap.org",
			UserAgent:   defaultUserAgent,
			Timeout:     10 * time.Second,
			Concurrency: 1,
			Interval:    1500 * time.Millisecond,
			IntervalCap: 1,
			MaxAttempts: 4,
			BaseDelay:   2 * time.Second,
			Multiplier:  2,
			MaxDelay:    30 * time.Second,
		},
		Cache: CacheConfig{TTL: 15 * time.Minute},
		Analysis: AnalysisConfig{
			RefreshInterval:       30 * time.Minute,
			SweepInterval:         15 * time.Minute,
			CategoryGap:           time.Second,
			CandidatesPerCategory: 5,
			TopN:                  6,
			MinLevel:              "high",
		},
		Batch: BatchConfig{Size: 2, Gap: 2 * time.Second},
		Storage: StorageConfig{
			DataDir:  defaultDataDir(),
			KeepRuns: 500,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.firewatch.app) and the
// API token falls back to macOS Keychain.
// Elsewhere the backend is a YAML file at $XDG_CONFIG_HOME/firewatch/config.yaml
// and the token falls back to $XDG_DATA_HOME/firewatch/secrets.yaml.
//
// Environment variables (FIREWATCH_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// The API token is optional; an empty one disables auth.
	if cfg.Server.APIToken == "" {
		if tok, err := kc.Get("firewatch", "api_token"); err == nil && tok != "" {
			cfg.Server.APIToken = tok
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every setting the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.MaxConns < 0 {
		errs = append(errs, errors.New("server.max_conns must not be negative"))
	}
	for name, u := range map[string]UpstreamConfig{"weather": c.Weather, "geocode": c.Geocode} {
		if u.Concurrency < 1 {
			errs = append(errs, fmt.Errorf("%s.concurrency must be at least 1", name))
		}
		if u.Interval > 0 && u.IntervalCap < 1 {
			errs = append(errs, fmt.Errorf("%s.interval_cap must be at least 1 when an interval is set", name))
		}
		if u.MaxAttempts < 1 {
			errs = append(errs, fmt.Errorf("%s.max_attempts must be at least 1", name))
		}
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache.ttl must be positive"))
	}
	if c.Batch.Size < 1 {
		errs = append(errs, errors.New("batch.size must be at least 1"))
	}
	if _, err := risk.ParseLevel(c.Analysis.MinLevel); err != nil {
		errs = append(errs, fmt.Errorf("analysis.min_level: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// keychainReader reads the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
