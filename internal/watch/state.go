package watch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	StatusActive  = "active"
	StatusPaused  = "paused"

	DefaultInterval = "1d"
)

// State is the per-watch scheduling document.
type State struct {
	Status        string `json:"status"`
	CheckInterval string `json:"check_interval"`
	LastRun       string `json:"last_run,omitempty"`
}

// Status is a State evaluated at a point in time.
type Status struct {
	Watch         string `json:"watch"`
	Status        string `json:"status"`
	CheckInterval string `json:"check_interval"`
	LastRun       string `json:"last_run,omitempty"`
	Due           bool   `json:"due"`
}

var intervalPattern = regexp.MustCompile(`^(\d+)\s*([hdwm])$`)

// ParseInterval converts "Nh", "Nd", "Nw" or "Nm" into a duration; a month
// is 30 days. Anything else, including counts too large for a
// time.Duration, is one day.
func ParseInterval(raw string) time.Duration {
	day := 24 * time.Hour
	m := intervalPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(raw)))
	if m == nil {
		return day
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return day
	}
	unit := map[string]time.Duration{"h": time.Hour, "d": day, "w": 7 * day, "m": 30 * day}[m[2]]
	if n > math.MaxInt64/int64(unit) {
		return day
	}
	return time.Duration(n) * unit
}

// Due reports whether the watch should run at now: it must be active and
// either never run or have its interval elapsed. An unparseable last_run
// counts as due.
func (s State) Due(now time.Time) bool {
	if s.Status != StatusActive {
		return false
	}
	if s.LastRun == "" {
		return true
	}
	last, err := time.Parse(time.RFC3339, s.LastRun)
	if err != nil {
		return true
	}
	return !now.Before(last.Add(ParseInterval(s.CheckInterval)))
}

// LoadState reads state.json for name. A missing file yields an active
// state with no last run. Missing fields take their defaults; a corrupt
// document is treated as empty.
func (w Workspace) LoadState(name string) (State, error) {
	st := State{Status: StatusActive, CheckInterval: DefaultInterval}
	data, err := os.ReadFile(w.StatePath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("reading state for %s: %w", name, err)
	}
	var raw map[string]any
	if json.Unmarshal(data, &raw) != nil {
		return st, nil
	}
	if v, ok := raw["status"].(string); ok && v != "" {
		st.Status = v
	}
	if v, ok := raw["check_interval"].(string); ok && v != "" {
		st.CheckInterval = v
	}
	if v, ok := raw["last_run"].(string); ok {
		st.LastRun = v
	}
	return st, nil
}

// StatusOf evaluates name's state at now.
func (w Workspace) StatusOf(name string, now time.Time) (Status, error) {
	st, err := w.LoadState(name)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Watch:         name,
		Status:        st.Status,
		CheckInterval: st.CheckInterval,
		LastRun:       st.LastRun,
		Due:           st.Due(now),
	}, nil
}

// Statuses evaluates every listed watch at now.
func (w Workspace) Statuses(now time.Time) ([]Status, error) {
	names, err := w.List()
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(names))
	for _, name := range names {
		s, err := w.StatusOf(name, now)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// UpdateState records a completed run at now. status and check_interval
// get defaults when absent but are otherwise preserved, as is any field
// this package does not know about.
func (w Workspace) UpdateState(name string, now time.Time) (State, error) {
	path := w.StatePath(name)

	doc := make(map[string]any)
	if data, err := os.ReadFile(path); err == nil {
		if json.Unmarshal(data, &doc) != nil || doc == nil {
			doc = make(map[string]any)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return State{}, fmt.Errorf("reading state for %s: %w", name, err)
	}

	if _, ok := doc["check_interval"]; !ok {
		doc["check_interval"] = DefaultInterval
	}
	if _, ok := doc["status"]; !ok {
		doc["status"] = StatusActive
	}
	doc["last_run"] = now.Format(time.RFC3339)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return State{}, fmt.Errorf("creating watch dir: %w", err)
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return State{}, fmt.Errorf("encoding state: %w", err)
	}
	if err := writeFileAtomic(path, append(out, '\n')); err != nil {
		return State{}, fmt.Errorf("writing state for %s: %w", name, err)
	}

	st := State{LastRun: doc["last_run"].(string)}
	st.Status, _ = doc["status"].(string)
	st.CheckInterval, _ = doc["check_interval"].(string)
	return st, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".state-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
