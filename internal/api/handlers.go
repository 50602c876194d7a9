package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/firewatch/internal/analysis"
	"github.com/kalambet/firewatch/internal/pipeline"
	"github.com/kalambet/firewatch/internal/retry"
	"github.com/kalambet/firewatch/internal/storage"
	"github.com/kalambet/firewatch/internal/upstream"
)

// Engine is the analysis surface served over HTTP and MCP.
// *analysis.Analyzer implements it.
type Engine interface {
	Run(ctx context.Context) (analysis.Report, error)
	Latest() (analysis.Report, bool)
	Lookup(ctx context.Context, query string) ([]analysis.Location, error)
	Assess(ctx context.Context, lat, lon float64, label string) (pipeline.Enriched, error)
	Popular(ctx context.Context) []pipeline.Enriched
}

// RunStore reads run history. *storage.Store implements it.
type RunStore interface {
	GetRun(ctx context.Context, id string) (analysis.Report, error)
	ListRuns(ctx context.Context, limit, offset int) ([]storage.RunSummary, error)
}

type Deps struct {
	Engine    Engine
	Runs      RunStore     // optional; /runs routes return 404 when nil
	Metrics   http.Handler // optional; served at /metrics
	MCP       http.Handler // optional; served at /mcp
	Token     string       // empty disables bearer auth
	RateLimit float64
	RateBurst int
	Logger    *slog.Logger
}

// NewHandler returns the firewatch HTTP API.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	h := &handlers{deps: deps}
	limiter := NewClientLimiter(deps.RateLimit, deps.RateBurst)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, requestLogger(deps.Logger), middleware.Recoverer)
	r.Get("/health", handleHealth)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Get("/risk", h.latest)
		r.Post("/risk/refresh", h.refresh)
		r.Get("/runs", h.listRuns)
		r.Get("/runs/{id}", h.getRun)
		if deps.MCP != nil {
			r.Handle("/mcp", deps.MCP)
		}

		// These reach upstreams on a cache miss.
		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware)
			r.Get("/lookup", h.lookup)
			r.Get("/assess", h.assess)
			r.Get("/popular", h.popular)
		})
	})

	return r
}

type handlers struct {
	deps       Deps
	refreshing atomic.Bool
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *handlers) latest(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.deps.Engine.Latest()
	if !ok {
		httpError(w, http.StatusNotFound, "not_found_error", "no analysis run has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// refresh starts a run in the background and answers 202. With ?wait=true
// it runs inline and returns the report.
func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	if !h.refreshing.CompareAndSwap(false, true) {
		httpError(w, http.StatusConflict, "conflict_error", "a refresh is already in progress")
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		defer h.refreshing.Store(false)
		rep, err := h.deps.Engine.Run(r.Context())
		if err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "analysis run failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	go func() {
		defer h.refreshing.Store(false)
		if _, err := h.deps.Engine.Run(ctx); err != nil {
			h.deps.Logger.Error("requested analysis run failed", "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *handlers) lookup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
		return
	}
	locs, err := h.deps.Engine.Lookup(r.Context(), q)
	if err != nil {
		h.upstreamError(w, "lookup failed", err)
		return
	}
	if locs == nil {
		locs = []analysis.Location{}
	}
	writeJSON(w, http.StatusOK, locs)
}

func (h *handlers) assess(w http.ResponseWriter, r *http.Request) {
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if errLat != nil || errLon != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "lat and lon must be numbers")
		return
	}
	res, err := h.deps.Engine.Assess(r.Context(), lat, lon, r.URL.Query().Get("name"))
	if err != nil {
		h.upstreamError(w, "assessment failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) popular(w http.ResponseWriter, r *http.Request) {
	res := h.deps.Engine.Popular(r.Context())
	if res == nil {
		res = []pipeline.Enriched{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) listRuns(w http.ResponseWriter, r *http.Request) {
	if h.deps.Runs == nil {
		httpError(w, http.StatusNotFound, "not_found_error", "run history is disabled")
		return
	}
	limit := parseIntParam(r, "limit", 20, 100)
	offset := parseIntParam(r, "offset", 0, 0)

	runs, err := h.deps.Runs.ListRuns(r.Context(), limit, offset)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to list runs: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *handlers) getRun(w http.ResponseWriter, r *http.Request) {
	if h.deps.Runs == nil {
		httpError(w, http.StatusNotFound, "not_found_error", "run history is disabled")
		return
	}
	id := chi.URLParam(r, "id")
	rep, err := h.deps.Runs.GetRun(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found_error", "run %s not found", id)
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get run: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// upstreamError maps engine errors: invalid input to 422, exhausted rate
// limits to 503 with the advisory wait, everything else to 502.
func (h *handlers) upstreamError(w http.ResponseWriter, msg string, err error) {
	h.deps.Logger.Warn(msg, "error", err)

	var ve *upstream.ValidationError
	if errors.As(err, &ve) {
		httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "%s: %v", msg, err)
		return
	}
	var ue *upstream.Error
	if errors.As(err, &ue) && ue.Kind == upstream.RateLimited {
		if wait := ue.RetryAfter(); wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int((wait+time.Second-1)/time.Second)))
		}
		httpError(w, http.StatusServiceUnavailable, "rate_limit_error", "%s: %v", msg, err)
		return
	}
	var ex *retry.ExhaustedError
	if errors.As(err, &ex) {
		httpError(w, http.StatusBadGateway, "api_error", "%s after %d attempts: %v", msg, ex.Attempts, ex.Last)
		return
	}
	httpError(w, http.StatusBadGateway, "api_error", "%s: %v", msg, err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
