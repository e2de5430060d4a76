// Package health turns source health counters into a diagnostic report.
package health

import (
	"fmt"

	"github.com/kalambet/signex/internal/storage"
)

// UnhealthyThreshold is the consecutive failure count at which a source is
// flagged.
const UnhealthyThreshold = 3

// Lister is implemented by storage.Store.
type Lister interface {
	SourceHealth() ([]storage.SourceHealth, error)
}

// Source is one adapter's counters plus derived fields.
type Source struct {
	storage.SourceHealth
	FailureRate float64 `json:"failure_rate"`
	Unhealthy   bool    `json:"unhealthy"`
}

// Report covers every adapter that has been invoked at least once.
type Report struct {
	Sources   []Source `json:"sources"`
	Unhealthy []string `json:"unhealthy"`
}

// Healthy reports whether no source crossed the threshold.
func (r Report) Healthy() bool { return len(r.Unhealthy) == 0 }

// Build derives a Report from raw rows.
func Build(rows []storage.SourceHealth) Report {
	r := Report{Sources: make([]Source, 0, len(rows)), Unhealthy: []string{}}
	for _, row := range rows {
		s := Source{SourceHealth: row}
		if row.TotalCalls > 0 {
			s.FailureRate = float64(row.TotalFailures) / float64(row.TotalCalls)
		}
		if row.ConsecutiveFailures >= UnhealthyThreshold {
			s.Unhealthy = true
			r.Unhealthy = append(r.Unhealthy, row.Source)
		}
		r.Sources = append(r.Sources, s)
	}
	return r
}

// Load reads all rows from l and builds the Report.
func Load(l Lister) (Report, error) {
	rows, err := l.SourceHealth()
	if err != nil {
		return Report{}, fmt.Errorf("loading source health: %w", err)
	}
	return Build(rows), nil
}
