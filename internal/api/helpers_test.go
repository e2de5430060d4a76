package api

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/signex/internal/runner"
	"github.com/kalambet/signex/internal/storage"
	"github.com/kalambet/signex/internal/watch"
)

var testNow = time.Date(2026, 2, 23, 9, 30, 0, 0, time.UTC)

type mockRunner struct {
	mu    sync.Mutex
	calls   []runner.Options
	ctxErrs []error
	err     error
}

func (m *mockRunner) Run(ctx context.Context, name string, opts runner.Options) (runner.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, opts)
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	if m.err != nil {
		return runner.Result{}, m.err
	}
	return runner.Result{
		Success:       true,
		Watch:         name,
		RunID:         "run-1",
		InsertedItems: 7,
		ReportPath:    "reports/2026-02-23/" + name + "/insights.md",
	}, nil
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestDeps(t *testing.T) (Deps, *storage.Store, *mockRunner) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	root := t.TempDir()
	writeFile(t, root, "watches/ai-coding-tools/intent.md", "Cursor updates\nAgent IDE workflows")
	writeFile(t, root, "watches/ai-coding-tools/memory.md", "- prefer flash briefs")
	writeFile(t, root, "watches/on-hold/intent.md", "x")
	writeFile(t, root, "watches/on-hold/state.json", `{"status":"paused"}`)

	r := &mockRunner{}
	return Deps{
		Workspace: watch.NewWorkspace(root),
		Runner:    r,
		Store:     store,
		Now:       func() time.Time { return testNow },
	}, store, r
}
