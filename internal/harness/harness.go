// Package harness runs the selected adapters for one watch cycle. Every
// adapter is isolated: its failure becomes a Result value and never stops
// the others. Items are persisted and source health recorded as each
// adapter finishes.
package harness

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/signex/internal/sensor"
	"github.com/kalambet/signex/internal/storage"
)

// Result is the outcome of one adapter in a cycle.
type Result struct {
	Sensor   sensor.ID             `json:"sensor"`
	Success  bool                  `json:"success"`
	Items    []sensor.ItemEnvelope `json:"-"`
	Error    string                `json:"error,omitempty"`
	Inserted int                   `json:"inserted"`
	// Skipped is set when the adapter had no input and was not invoked.
	Skipped  bool          `json:"skipped,omitempty"`
	Duration time.Duration `json:"duration"`
}

// SensorError is the per-adapter failure reported to callers.
type SensorError struct {
	Sensor sensor.ID `json:"sensor"`
	Error  string    `json:"error"`
}

// Errors returns the failed results that carry an error message.
func Errors(results []Result) []SensorError {
	out := []SensorError{}
	for _, r := range results {
		if !r.Success && r.Error != "" {
			out = append(out, SensorError{Sensor: r.Sensor, Error: r.Error})
		}
	}
	return out
}

// AdapterSource resolves an adapter for an id. Implemented by
// sensor.Registry.
type AdapterSource interface {
	Adapter(id sensor.ID) sensor.Adapter
}

// ItemStore is the persistence the harness needs. Implemented by
// storage.Store.
type ItemStore interface {
	SaveItems(items []storage.Item) (int, error)
	UpdateSourceHealth(source string, success bool) error
}

// Harness executes adapters and persists their output.
type Harness struct {
	adapters    AdapterSource
	store       ItemStore
	concurrency int
	logger      *slog.Logger
}

// New creates a Harness. concurrency <= 1 runs adapters one after another.
func New(adapters AdapterSource, store ItemStore, concurrency int) *Harness {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Harness{
		adapters:    adapters,
		store:       store,
		concurrency: concurrency,
		logger:      slog.Default(),
	}
}

// WithLogger returns a copy of h that logs to l.
func (h *Harness) WithLogger(l *slog.Logger) *Harness {
	cp := *h
	cp.logger = l
	return &cp
}

// Run executes every sensor in req and returns one Result per sensor in
// the same order. The error is non-nil when persistence fails or ctx is
// cancelled; a cancelled run records no source health for the adapters it
// interrupted or never reached.
func (h *Harness) Run(ctx context.Context, req Request) ([]Result, error) {
	results := make([]Result, len(req.Sensors))

	if h.concurrency == 1 {
		for i, id := range req.Sensors {
			if err := ctx.Err(); err != nil {
				return results[:i], err
			}
			r, err := h.runOne(ctx, id, req)
			if err != nil {
				return results[:i], err
			}
			results[i] = r
		}
		return results, nil
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency)
	for i, id := range req.Sensors {
		g.Go(func() error {
			r, err := h.runOne(gCtx, id, req)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (h *Harness) runOne(ctx context.Context, id sensor.ID, req Request) (Result, error) {
	res := Result{Sensor: id}

	payload, ok, err := BuildPayload(id, req)
	if err != nil {
		res.Error = err.Error()
		h.logger.Warn("sensor has no payload rule", "sensor", id, "error", err)
		return res, nil
	}
	if !ok {
		res.Success = true
		res.Skipped = true
		h.logger.Debug("sensor skipped, no input", "sensor", id)
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}
	start := time.Now()
	env, runErr := h.invoke(ctx, id, payload)
	res.Duration = time.Since(start)
	if err := ctx.Err(); err != nil {
		h.logger.Warn("sensor interrupted", "sensor", id, "duration", res.Duration)
		return res, err
	}

	if runErr != nil {
		res.Error = runErr.Error()
	} else {
		res.Success = env.Success
		res.Items = env.Items
		res.Error = env.Error
		if !res.Success && res.Error == "" {
			res.Error = "failed"
		}
	}

	if len(res.Items) > 0 {
		inserted, err := h.store.SaveItems(toStorageItems(id, res.Items))
		if err != nil {
			return res, fmt.Errorf("saving items from %s: %w", id, err)
		}
		res.Inserted = inserted
	}
	if err := h.store.UpdateSourceHealth(string(id), res.Success); err != nil {
		return res, fmt.Errorf("recording health for %s: %w", id, err)
	}

	if res.Success {
		h.logger.Info("sensor finished", "sensor", id, "items", len(res.Items), "inserted", res.Inserted, "duration", res.Duration)
	} else {
		h.logger.Warn("sensor failed", "sensor", id, "items", len(res.Items), "inserted", res.Inserted, "duration", res.Duration, "error", res.Error)
	}
	return res, nil
}

// invoke calls the adapter, turning a panic into an error so a broken
// in-process adapter cannot take down the cycle.
func (h *Harness) invoke(ctx context.Context, id sensor.ID, p sensor.Payload) (env sensor.Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sensor %s panicked: %v", id, r)
		}
	}()
	a := h.adapters.Adapter(id)
	if a == nil {
		return sensor.Envelope{}, fmt.Errorf("no adapter for %s", id)
	}
	return a.Run(ctx, p)
}

// toStorageItems converts envelopes into store rows. An item without a
// source_id falls back to its URL; one with neither is dropped.
func toStorageItems(id sensor.ID, envs []sensor.ItemEnvelope) []storage.Item {
	items := make([]storage.Item, 0, len(envs))
	for _, e := range envs {
		sourceID := e.SourceID
		if sourceID == "" {
			sourceID = e.URL
		}
		if sourceID == "" {
			continue
		}
		source := e.Source
		if source == "" {
			source = string(id)
		}
		items = append(items, storage.Item{
			Source:      source,
			SourceID:    sourceID,
			Title:       sensor.NormalizeContent(e.Title),
			URL:         e.URL,
			Content:     sensor.NormalizeContent(e.Content),
			Metadata:    e.Metadata,
			PublishedAt: parseTimestamp(e.PublishedAt),
		})
	}
	return items
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02",
}

// parseTimestamp accepts ISO 8601 and the common feed formats; anything
// else is treated as absent.
func parseTimestamp(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
