package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Item is a single piece of intelligence gathered from one source.
// (Source, SourceID) is the dedup key; ID is assigned by the store.
type Item struct {
	ID          int64          `json:"id"`
	Source      string         `json:"source"`
	SourceID    string         `json:"source_id"`
	Title       string         `json:"title"`
	URL         string         `json:"url"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata"`
	FetchedAt   time.Time      `json:"fetched_at"`
	PublishedAt *time.Time     `json:"published_at"`
}

// Analysis records one watch cycle's synthesis.
type Analysis struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	WatchName  string    `json:"watch_name"`
	RunAt      time.Time `json:"run_at"`
	ItemCount  int       `json:"item_count"`
	Lens       string    `json:"lens"`
	ReportPath string    `json:"report_path"`
}

// SourceHealth holds rolling call counters for one adapter.
type SourceHealth struct {
	Source              string     `json:"source"`
	LastSuccess         *time.Time `json:"last_success"`
	LastFailure         *time.Time `json:"last_failure"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	TotalCalls          int        `json:"total_calls"`
	TotalFailures       int        `json:"total_failures"`
}

// ItemFilter narrows GetItems. Zero values mean no constraint.
type ItemFilter struct {
	Source string
	Since  time.Time
	Until  time.Time
}

type WatchStats struct {
	Runs       int      `json:"runs"`
	TotalItems int      `json:"total_items"`
	LastRun    string   `json:"last_run"`
	Lenses     []string `json:"lenses"`
}

type DateStats struct {
	Runs       int `json:"runs"`
	TotalItems int `json:"total_items"`
}

type TotalStats struct {
	Runs       int `json:"runs"`
	TotalItems int `json:"total_items"`
}

// RunStats aggregates the analysis history.
type RunStats struct {
	ByWatch map[string]*WatchStats `json:"by_watch"`
	ByDate  map[string]*DateStats  `json:"by_date"`
	Totals  TotalStats             `json:"totals"`
}
