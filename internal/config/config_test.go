package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	value string
	err   error
}

func (m mockKeychain) Get(service, account string) (string, error) {
	return m.value, m.err
}

// memBackend is an in-memory ConfigBackend keyed by dotted name.
type memBackend map[string]string

func newMemBackend() memBackend { return memBackend{} }

func (m memBackend) Lookup(key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m memBackend) Store(key, raw string) error { m[key] = raw; return nil }
func (m memBackend) Remove(key string) error { delete(m, key); return nil }
func (m memBackend) Location() string { return "memory" }

var noKeychain = mockKeychain{err: errors.New("no keychain")}

// TestDefaults verifies all default values are applied when the backend is empty.
func TestDefaults(t *testing.T) {
	cfg, err := loadWith(newMemBackend(), noKeychain)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Server.APIToken != "" {
		t.Errorf("Server.APIToken = %q, want empty", cfg.Server.APIToken)
	}
	if cfg.Weather.BaseURL != "https://api.weather.gov" {
		t.Errorf("Weather.BaseURL = %q", cfg.Weather.BaseURL)
	}
	if l := cfg.Geocode.Limits(); l.Concurrency != 1 || l.Interval != 1500*time.Millisecond || l.IntervalCap != 1 {
		t.Errorf("Geocode.Limits = %+v, want 1/1.5s/1", l)
	}
	if l := cfg.Weather.Limits(); l.Interval != time.Second {
		t.Errorf("Weather.Limits = %+v, want 1s interval", l)
	}
	if cfg.Cache.TTL != 15*time.Minute {
		t.Errorf("Cache.TTL = %s, want 15m", cfg.Cache.TTL)
	}
	if cfg.Analysis.RefreshInterval != 30*time.Minute || cfg.Analysis.TopN != 6 {
		t.Errorf("Analysis = %+v", cfg.Analysis)
	}
	if cfg.Batch.Size != 2 || cfg.Batch.Gap != 2*time.Second || cfg.Batch.TrailingGap {
		t.Errorf("Batch = %+v", cfg.Batch)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

// TestBackendValues verifies typed values are read from the backend.
func TestBackendValues(t *testing.T) {
	b := newMemBackend()
	b["server.port"] = "5000"
	b["weather.base_url"] = "http://wx.local"
	b["geocode.interval"] = "3s"
	b["weather.multiplier"] = "1.5"
	b["batch.trailing_gap"] = "true"
	b["analysis.min_level"] = "extreme"

	cfg, err := loadWith(b, noKeychain)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Weather.BaseURL != "http://wx.local" {
		t.Errorf("Weather.BaseURL = %q", cfg.Weather.BaseURL)
	}
	if cfg.Geocode.Interval != 3*time.Second {
		t.Errorf("Geocode.Interval = %s", cfg.Geocode.Interval)
	}
	if cfg.Weather.Multiplier != 1.5 {
		t.Errorf("Weather.Multiplier = %v", cfg.Weather.Multiplier)
	}
	if !cfg.Batch.TrailingGap {
		t.Error("Batch.TrailingGap = false, want true")
	}
	if cfg.Analysis.MinLevel != "extreme" {
		t.Errorf("Analysis.MinLevel = %q", cfg.Analysis.MinLevel)
	}
}

// TestUnparseableBackendValueKeepsDefault verifies bad values fall back.
func TestUnparseableBackendValueKeepsDefault(t *testing.T) {
	b := newMemBackend()
	b["cache.ttl"] = "fifteen minutes"

	cfg, err := loadWith(b, noKeychain)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Cache.TTL != 15*time.Minute {
		t.Errorf("Cache.TTL = %s, want default", cfg.Cache.TTL)
	}
}

// TestEnvOverride verifies that environment variables override backend values.
func TestEnvOverride(t *testing.T) {
	b := newMemBackend()
	b["server.port"] = "5000"

	t.Setenv("FIREWATCH_SERVER_PORT", "6000")
	t.Setenv("FIREWATCH_CACHE_TTL", "5m")
	t.Setenv("FIREWATCH_SERVER_API_TOKEN", "env-token")
	t.Setenv("FIREWATCH_BATCH_SIZE", "not-a-number")

	cfg, err := loadWith(b, mockKeychain{value: "keychain-token"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("Cache.TTL = %s, want 5m", cfg.Cache.TTL)
	}
	if cfg.Server.APIToken != "env-token" {
		t.Errorf("APIToken = %q, want env-token", cfg.Server.APIToken)
	}
	if cfg.Batch.Size != 2 {
		t.Errorf("Batch.Size = %d, want default after bad env value", cfg.Batch.Size)
	}
}

// TestSecretNotReadFromBackend verifies secrets come only from env or keychain.
func TestSecretNotReadFromBackend(t *testing.T) {
	b := newMemBackend()
	b["server.api_token"] = "file-token"

	cfg, err := loadWith(b, noKeychain)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.APIToken != "" {
		t.Errorf("APIToken = %q, want empty", cfg.Server.APIToken)
	}
}

// TestKeychainFallback verifies the Keychain is consulted when no token is in env.
func TestKeychainFallback(t *testing.T) {
	t.Setenv("FIREWATCH_SERVER_API_TOKEN", "")

	cfg, err := loadWith(newMemBackend(), mockKeychain{value: "keychain-secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.APIToken != "keychain-secret" {
		t.Errorf("APIToken = %q, want %q", cfg.Server.APIToken, "keychain-secret")
	}
}

// TestValidate verifies a clear error for unusable settings.
func TestValidate(t *testing.T) {
	b := newMemBackend()
	b["weather.concurrency"] = "0"
	b["analysis.min_level"] = "apocalyptic"

	_, err := loadWith(b, noKeychain)
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	for _, want := range []string{"invalid config", "weather.concurrency", "analysis.min_level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error = %q, want it to contain %q", err, want)
		}
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Server.APIToken = "hidden"
	for _, ki := range ShowAll(cfg) {
		if ki.Key == "server.api_token" || ki.Value == "hidden" {
			t.Errorf("ShowAll exposed secret: %+v", ki)
		}
		if ki.Key == "cache.ttl" && ki.Value != "15m0s" {
			t.Errorf("cache.ttl shown as %q", ki.Value)
		}
	}
	for _, k := range ValidKeys() {
		if k == "server.api_token" {
			t.Error("ValidKeys includes secret key")
		}
	}
}

func TestSetKey_Canonical(t *testing.T) {
	b := newMemBackend()
	if err := setKey(b, "cache.ttl", "20m"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if err := setKey(b, "batch.trailing_gap", "1"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if b["cache.ttl"] != "20m0s" || b["batch.trailing_gap"] != "true" {
		t.Errorf("stored = %v", map[string]string(b))
	}

	if err := setKey(b, "server.api_token", "x"); err == nil {
		t.Error("secret key accepted")
	}
	if err := unsetKey(b, "cache.ttl"); err != nil {
		t.Fatalf("unsetKey: %v", err)
	}
	if _, ok := b["cache.ttl"]; ok {
		t.Error("cache.ttl still stored after unset")
	}
	if err := unsetKey(b, "nope"); err == nil {
		t.Error("unknown key accepted by unset")
	}
}
