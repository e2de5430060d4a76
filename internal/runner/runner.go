// Package runner executes one watch cycle end to end: select adapters,
// synthesize queries, run the harness, render the report and alerts,
// record the analysis and stamp the watch state.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/signex/internal/alert"
	"github.com/kalambet/signex/internal/harness"
	"github.com/kalambet/signex/internal/planner"
	"github.com/kalambet/signex/internal/profile"
	"github.com/kalambet/signex/internal/report"
	"github.com/kalambet/signex/internal/sensor"
	"github.com/kalambet/signex/internal/storage"
	"github.com/kalambet/signex/internal/watch"
)

// Store is the persistence a cycle needs. Implemented by storage.Store.
type Store interface {
	GetUnanalyzedItems(watchName, source string) ([]storage.Item, error)
	SaveAnalysis(a storage.Analysis, itemIDs []int64) (int64, error)
}

// Harness runs adapters. Implemented by harness.Harness.
type Harness interface {
	Run(ctx context.Context, req harness.Request) ([]harness.Result, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Config tunes a Runner. Zero values take package defaults.
type Config struct {
	MaxSensors int
	MaxQueries int
	Weights    alert.Weights
	// Allow filters adapters out of selection, e.g. ones disabled in the
	// sensor registry.
	Allow func(sensor.ID) bool
}

// Options are per-cycle overrides.
type Options struct {
	// Lens forces a lens; empty means infer from memory.
	Lens report.Lens
	// Since drops unanalyzed items fetched before it. Zero means no bound.
	Since time.Time
}

// Result is returned to the caller after a cycle.
type Result struct {
	Success         bool                  `json:"success"`
	Watch           string                `json:"watch"`
	RunID           string                `json:"run_id"`
	SelectedSensors []sensor.ID           `json:"selected_sensors"`
	InsertedItems   int                   `json:"inserted_items"`
	AnalyzedItems   int                   `json:"analyzed_items"`
	ReportPath      string                `json:"report_path"`
	AlertPath       string                `json:"alert_path"`
	Lens            report.Lens           `json:"lens"`
	SensorErrors    []harness.SensorError `json:"sensor_errors"`
}

// Runner executes watch cycles against one workspace. Cycles are
// serialized: a second Run blocks until the first returns.
type Runner struct {
	ws       watch.Workspace
	store    Store
	harness  Harness
	profiles *profile.Manager
	selector planner.Selector
	queries  int
	detector *alert.Detector
	clock    Clock
	newID    func() string
	logger   *slog.Logger

	mu sync.Mutex
}

// New creates a Runner.
func New(ws watch.Workspace, store Store, h Harness, cfg Config) *Runner {
	return NewWithClock(ws, store, h, cfg, realClock{})
}

// NewWithClock creates a Runner with a custom clock (for testing).
func NewWithClock(ws watch.Workspace, store Store, h Harness, cfg Config, clock Clock) *Runner {
	w := cfg.Weights
	if w == (alert.Weights{}) {
		w = alert.DefaultWeights()
	}
	return &Runner{
		ws:       ws,
		store:    store,
		harness:  h,
		profiles: profile.NewManager(ws.Root),
		selector: planner.Selector{Max: cfg.MaxSensors, Allow: cfg.Allow},
		queries:  cfg.MaxQueries,
		detector: alert.NewDetector(w),
		clock:    clock,
		newID:    uuid.NewString,
		logger:   slog.Default(),
	}
}

// Run executes one cycle for the named watch. It returns an error wrapping
// watch.ErrNotFound when the watch has no intent file. Adapter failures
// do not fail the cycle; they are reported in Result.SensorErrors.
// Cancelling ctx abandons the cycle: items already inserted stay, but no
// analysis is recorded and the watch state is left untouched, so the
// next cycle picks the items up again.
func (r *Runner) Run(ctx context.Context, name string, opts Options) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, err := r.ws.Load(name)
	if err != nil {
		return Result{}, err
	}
	ident, err := r.profiles.GetProfile()
	if err != nil {
		return Result{}, err
	}

	runID := r.newID()
	logger := r.logger.With("watch", name, "run_id", runID)

	sensors := r.selector.Select(w.Intent, w.Memory)
	lens := report.InferLens(w.Memory, opts.Lens)
	now := r.clock.Now()
	queries := planner.SearchQueries(name, w.Intent, w.Memory, now, r.queries)
	logger.Info("watch cycle started", "sensors", sensors, "queries", len(queries), "lens", lens)

	results, err := r.harness.Run(ctx, harness.Request{
		Sensors:  sensors,
		Queries:  queries,
		Intent:   w.Intent,
		Language: ident.Language(),
		Now:      now,
	})
	if err != nil {
		return Result{}, fmt.Errorf("running sensors for %s: %w", name, err)
	}
	inserted := 0
	for _, res := range results {
		inserted += res.Inserted
	}

	if err := ctx.Err(); err != nil {
		logger.Warn("watch cycle abandoned", "error", err)
		return Result{}, err
	}

	items, err := r.store.GetUnanalyzedItems(name, "")
	if err != nil {
		return Result{}, fmt.Errorf("querying unanalyzed items for %s: %w", name, err)
	}
	items = filterSince(items, opts.Since)

	date := now.Format("2006-01-02")
	reportRel := filepath.Join("reports", date, name, "insights.md")
	rawRel := filepath.Join("reports", date, name, "raw_intel.md")

	doc := report.Render(report.Input{Watch: name, Lens: lens, Items: items, Results: results, Now: now})
	if err := r.write(reportRel, doc); err != nil {
		return Result{}, err
	}
	if err := r.write(rawRel, report.RawIntel(name, items, now)); err != nil {
		return Result{}, err
	}

	alertRel := ""
	if alerts := r.detector.Detect(items, w.Intent); !alerts.Empty() {
		alertRel = filepath.Join("alerts", date, name+".md")
		if err := r.write(alertRel, alert.Render(name, alerts, now)); err != nil {
			return Result{}, err
		}
		logger.Info("alerts written", "high", len(alerts.High), "medium", len(alerts.Medium))
	}

	if err := ctx.Err(); err != nil {
		logger.Warn("watch cycle abandoned", "error", err)
		return Result{}, err
	}

	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	if _, err := r.store.SaveAnalysis(storage.Analysis{
		RunID:      runID,
		WatchName:  name,
		RunAt:      now,
		ItemCount:  len(items),
		Lens:       string(lens),
		ReportPath: filepath.ToSlash(reportRel),
	}, ids); err != nil {
		return Result{}, fmt.Errorf("saving analysis for %s: %w", name, err)
	}

	if _, err := r.ws.UpdateState(name, now); err != nil {
		return Result{}, err
	}

	res := Result{
		Success:         true,
		Watch:           name,
		RunID:           runID,
		SelectedSensors: sensors,
		InsertedItems:   inserted,
		AnalyzedItems:   len(items),
		ReportPath:      filepath.ToSlash(reportRel),
		AlertPath:       filepath.ToSlash(alertRel),
		Lens:            lens,
		SensorErrors:    harness.Errors(results),
	}
	logger.Info("watch cycle finished", "inserted", inserted, "analyzed", len(items), "sensor_errors", len(res.SensorErrors))
	return res, nil
}

func (r *Runner) write(rel, content string) error {
	path := filepath.Join(r.ws.Root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(rel), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", rel, err)
	}
	return nil
}

// filterSince keeps items fetched at or after since. Items with no fetch
// time are dropped when a bound is set.
func filterSince(items []storage.Item, since time.Time) []storage.Item {
	if since.IsZero() {
		return items
	}
	out := items[:0:0]
	for _, it := range items {
		if !it.FetchedAt.IsZero() && !it.FetchedAt.Before(since) {
			out = append(out, it)
		}
	}
	return out
}
