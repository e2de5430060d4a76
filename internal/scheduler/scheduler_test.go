package scheduler

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/signex/internal/runner"
	"github.com/kalambet/signex/internal/watch"
)

type stubClock struct{ now time.Time }

func (c stubClock) Now() time.Time { return c.now }

type fakeWatches struct {
	statuses []watch.Status
	err      error
}

func (f fakeWatches) Statuses(time.Time) ([]watch.Status, error) { return f.statuses, f.err }

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (f *fakeRunner) Run(_ context.Context, name string, _ runner.Options) (runner.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if err := f.fail[name]; err != nil {
		return runner.Result{}, err
	}
	return runner.Result{Success: true, Watch: name, RunID: "run-" + name}, nil
}

func (f *fakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

var clock = stubClock{now: time.Date(2026, 2, 23, 9, 30, 0, 0, time.UTC)}

func TestRunOnce_OnlyActiveDue(t *testing.T) {
	ws := fakeWatches{statuses: []watch.Status{
		{Watch: "a", Status: watch.StatusActive, Due: true},
		{Watch: "b", Status: watch.StatusActive, Due: false},
		{Watch: "c", Status: watch.StatusPaused, Due: true},
		{Watch: "d", Status: watch.StatusActive, Due: true},
	}}
	r := &fakeRunner{}
	s := NewWithClock(ws, r, time.Minute, clock)

	ran, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !reflect.DeepEqual(r.Calls(), []string{"a", "d"}) {
		t.Errorf("calls = %v, want [a d]", r.Calls())
	}
	if !reflect.DeepEqual(ran, []string{"a", "d"}) {
		t.Errorf("ran = %v", ran)
	}
}

func TestRunOnce_FailureIsolated(t *testing.T) {
	ws := fakeWatches{statuses: []watch.Status{
		{Watch: "broken", Status: watch.StatusActive, Due: true},
		{Watch: "ok", Status: watch.StatusActive, Due: true},
	}}
	r := &fakeRunner{fail: map[string]error{"broken": watch.ErrNotFound}}
	s := NewWithClock(ws, r, time.Minute, clock)

	ran, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !reflect.DeepEqual(r.Calls(), []string{"broken", "ok"}) {
		t.Errorf("calls = %v", r.Calls())
	}
	if !reflect.DeepEqual(ran, []string{"ok"}) {
		t.Errorf("ran = %v, want [ok]", ran)
	}
}

func TestRunOnce_ListError(t *testing.T) {
	boom := errors.New("boom")
	s := NewWithClock(fakeWatches{err: boom}, &fakeRunner{}, time.Minute, clock)
	if _, err := s.RunOnce(context.Background()); !errors.Is(err, boom) {
		t.Errorf("error = %v, want wrapped boom", err)
	}
}

func TestRunOnce_CancelledContext(t *testing.T) {
	ws := fakeWatches{statuses: []watch.Status{{Watch: "a", Status: watch.StatusActive, Due: true}}}
	r := &fakeRunner{}
	s := NewWithClock(ws, r, time.Minute, clock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.RunOnce(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if len(r.Calls()) != 0 {
		t.Errorf("calls = %v, want none", r.Calls())
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	ws := fakeWatches{statuses: []watch.Status{{Watch: "a", Status: watch.StatusActive, Due: true}}}
	r := &fakeRunner{}
	s := NewWithClock(ws, r, 10*time.Millisecond, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for len(r.Calls()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("scheduler did not poll twice, calls = %v", r.Calls())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunOnce_RealWorkspace(t *testing.T) {
	ws := watch.NewWorkspace(t.TempDir())
	r := &fakeRunner{}
	s := NewWithClock(ws, r, time.Minute, clock)

	ran, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(ran) != 0 {
		t.Errorf("ran = %v on an empty workspace", ran)
	}
}
