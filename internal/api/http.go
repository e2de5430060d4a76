package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/signex/internal/briefing"
	"github.com/kalambet/signex/internal/health"
	"github.com/kalambet/signex/internal/runner"
	"github.com/kalambet/signex/internal/storage"
	"github.com/kalambet/signex/internal/watch"
)

const maxRequestBodySize = 1 << 20 // 1MB

// RunRequest is the optional body of POST /watches/{name}/run.
type RunRequest struct {
	Lens  string `json:"lens"`
	Since string `json:"since"`
}

// WatchDetail is returned by GET /watches/{name}.
type WatchDetail struct {
	watch.Status
	Intent string `json:"intent"`
	Memory string `json:"memory"`
}

// NewAppHandler returns the HTTP surface. /health is always open; every
// other route sits behind BearerAuth.
func NewAppHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/watches", handleListWatches(deps))
		r.Get("/watches/{name}", handleGetWatch(deps))
		r.Post("/watches/{name}/run", handleRunWatch(deps))
		r.Get("/items", handleListItems(deps))
		r.Get("/sources/health", handleSourceHealth(deps))
		r.Get("/stats", handleStats(deps))
		r.Get("/briefing", handleBriefing(deps))
	})

	return r
}

func handleListWatches(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses, err := deps.Workspace.Statuses(deps.now())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list watches: %v", err)
			return
		}
		if statuses == nil {
			statuses = []watch.Status{}
		}
		writeJSON(w, statuses)
	}
}

func handleGetWatch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")

		wt, err := deps.Workspace.Load(name)
		if errors.Is(err, watch.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "watch %q not found", name)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load watch: %v", err)
			return
		}
		st, err := deps.Workspace.StatusOf(name, deps.now())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read watch state: %v", err)
			return
		}
		writeJSON(w, WatchDetail{Status: st, Intent: wt.Intent, Memory: wt.Memory})
	}
}

func handleRunWatch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req RunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		opts, err := runner.ParseOptions(req.Lens, req.Since)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		res, err := deps.Runner.Run(context.WithoutCancel(r.Context()), name, opts)
		if errors.Is(err, watch.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "watch %q not found", name)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "watch cycle failed: %v", err)
			return
		}
		writeJSON(w, res)
	}
}

func handleListItems(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := storage.ItemFilter{Source: r.URL.Query().Get("source")}
		if s := r.URL.Query().Get("since"); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid since %q", s)
				return
			}
			f.Since = t
		}
		limit := parseIntParam(r, "limit", 50, 500)

		items, err := deps.Store.GetItems(f)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list items: %v", err)
			return
		}
		if items == nil {
			items = []storage.Item{}
		}
		if len(items) > limit {
			items = items[:limit]
		}
		writeJSON(w, items)
	}
}

func handleSourceHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := health.Load(deps.Store)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		writeJSON(w, rep)
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Store.RunStats()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to compute stats: %v", err)
			return
		}
		writeJSON(w, stats)
	}
}

func handleBriefing(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := briefing.Build(deps.Workspace.Root, deps.now(), r.URL.Query().Get("text"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to build briefing: %v", err)
			return
		}
		writeJSON(w, b)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
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
