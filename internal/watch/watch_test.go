package watch

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeWatch(t *testing.T, root, name, intent, memory string) {
	t.Helper()
	dir := filepath.Join(root, "watches", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if intent != "" {
		if err := os.WriteFile(filepath.Join(dir, "intent.md"), []byte(intent), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if memory != "" {
		if err := os.WriteFile(filepath.Join(dir, "memory.md"), []byte(memory), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func writeState(t *testing.T, ws Workspace, name, body string) {
	t.Helper()
	if err := os.WriteFile(ws.StatePath(name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	root := t.TempDir()
	writeWatch(t, root, "ai-coding-tools", "Cursor updates\n", "- prefer changelogs\n")
	ws := NewWorkspace(root)

	w, err := ws.Load("ai-coding-tools")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if w.Intent != "Cursor updates\n" || w.Memory != "- prefer changelogs\n" {
		t.Errorf("watch = %+v", w)
	}
}

func TestLoad_NotFound(t *testing.T) {
	root := t.TempDir()
	writeWatch(t, root, "no-intent", "", "- memory only\n")
	ws := NewWorkspace(root)

	for _, name := range []string{"missing", "no-intent", "../escape"} {
		if _, err := ws.Load(name); !errors.Is(err, ErrNotFound) {
			t.Errorf("Load(%q) error = %v, want ErrNotFound", name, err)
		}
	}
}

func TestList(t *testing.T) {
	root := t.TempDir()
	writeWatch(t, root, "zeta", "z", "")
	writeWatch(t, root, "alpha", "a", "")
	os.WriteFile(filepath.Join(root, "watches", "index.md"), []byte("# Watches"), 0o644)

	got, err := NewWorkspace(root).List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"alpha", "zeta"}) {
		t.Errorf("List = %v", got)
	}

	empty, err := NewWorkspace(t.TempDir()).List()
	if err != nil || len(empty) != 0 {
		t.Errorf("List on empty workspace = %v, %v", empty, err)
	}
}

func TestParseInterval(t *testing.T) {
	day := 24 * time.Hour
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"6h", 6 * time.Hour},
		{"1d", day},
		{"3D", 3 * day},
		{"2w", 14 * day},
		{"1m", 30 * day},
		{" 12 h ", 12 * time.Hour},
		{"", day},
		{"daily", day},
		{"1y", day},
		{"9999999999999h", day},
		{"400000m", day},
		{"99999999999999999999d", day},
		{"3558m", 3558 * 30 * day},
	}
	for _, tt := range tests {
		if got := ParseInterval(tt.in); got != tt.want {
			t.Errorf("ParseInterval(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDue(t *testing.T) {
	now := time.Date(2026, 2, 23, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		state State
		want  bool
	}{
		{"never run", State{Status: StatusActive, CheckInterval: "1d"}, true},
		{"paused", State{Status: StatusPaused, CheckInterval: "1d"}, false},
		{"paused never run", State{Status: StatusPaused}, false},
		{"interval elapsed", State{Status: StatusActive, CheckInterval: "1d", LastRun: "2026-02-22T12:00:00Z"}, true},
		{"interval not elapsed", State{Status: StatusActive, CheckInterval: "1d", LastRun: "2026-02-22T12:00:01Z"}, false},
		{"offset timestamp", State{Status: StatusActive, CheckInterval: "6h", LastRun: "2026-02-23T13:00:00+08:00"}, true},
		{"corrupt last_run", State{Status: StatusActive, LastRun: "yesterday"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Due(now); got != tt.want {
				t.Errorf("Due = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadState_Missing(t *testing.T) {
	ws := NewWorkspace(t.TempDir())
	st, err := ws.LoadState("new-watch")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if st.Status != StatusActive || !st.Due(time.Now()) {
		t.Errorf("missing state = %+v, want active and due", st)
	}
}

func TestUpdateState_Defaults(t *testing.T) {
	root := t.TempDir()
	writeWatch(t, root, "w", "intent", "")
	ws := NewWorkspace(root)
	now := time.Date(2026, 2, 23, 9, 30, 0, 0, time.FixedZone("CST", 8*3600))

	st, err := ws.UpdateState("w", now)
	if err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if st.Status != StatusActive || st.CheckInterval != "1d" {
		t.Errorf("state = %+v", st)
	}
	if st.LastRun != "2026-02-23T09:30:00+08:00" {
		t.Errorf("LastRun = %q", st.LastRun)
	}

	loaded, err := ws.LoadState("w")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if loaded != st {
		t.Errorf("loaded %+v, want %+v", loaded, st)
	}
}

func TestUpdateState_PreservesStatusAndExtras(t *testing.T) {
	root := t.TempDir()
	writeWatch(t, root, "w", "intent", "")
	ws := NewWorkspace(root)
	writeState(t, ws, "w", `{"status": "paused", "check_interval": "1w", "owner": "me"}`)

	now := time.Date(2026, 2, 23, 9, 30, 0, 0, time.UTC)
	st, err := ws.UpdateState("w", now)
	if err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if st.Status != StatusPaused || st.CheckInterval != "1w" {
		t.Errorf("state = %+v, status and interval must be preserved", st)
	}

	data, _ := os.ReadFile(ws.StatePath("w"))
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("state.json not JSON: %v", err)
	}
	if doc["owner"] != "me" {
		t.Errorf("unknown field dropped: %v", doc)
	}
	if doc["last_run"] != "2026-02-23T09:30:00Z" {
		t.Errorf("last_run = %v", doc["last_run"])
	}
}

func TestUpdateState_CorruptFile(t *testing.T) {
	root := t.TempDir()
	writeWatch(t, root, "w", "intent", "")
	ws := NewWorkspace(root)
	writeState(t, ws, "w", "{not json")

	st, err := ws.UpdateState("w", time.Now())
	if err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if st.Status != StatusActive {
		t.Errorf("Status = %q, want active", st.Status)
	}
}

func TestStatuses(t *testing.T) {
	root := t.TempDir()
	writeWatch(t, root, "a", "x", "")
	writeWatch(t, root, "b", "x", "")
	ws := NewWorkspace(root)
	writeState(t, ws, "b", `{"status": "paused"}`)

	got, err := ws.Statuses(time.Now())
	if err != nil {
		t.Fatalf("Statuses: %v", err)
	}
	if len(got) != 2 || !got[0].Due || got[1].Due || got[1].Status != StatusPaused {
		t.Errorf("Statuses = %+v", got)
	}
}
