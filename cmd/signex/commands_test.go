package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/signex/internal/api"
	"github.com/kalambet/signex/internal/config"
	"github.com/kalambet/signex/internal/health"
	"github.com/kalambet/signex/internal/storage"
	"github.com/kalambet/signex/internal/watch"
)

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

// newWorkspace creates a workspace with one watch whose three selected
// adapters are shell scripts: two succeed and one exits non-zero.
func newWorkspace(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("NO_COLOR", "1")

	root := t.TempDir()
	writeFile(t, root, "watches/ai-coding-tools/intent.md", "Cursor updates\nAgent IDE workflows")
	writeFile(t, root, "adapters/hn.sh", `cat >/dev/null
echo '{"success": true, "items": [{"source": "hacker_news", "source_id": "1", "title": "Show HN: agent shell", "url": "https://news.ycombinator.com/item?id=1"}, {"source": "hacker_news", "source_id": "2", "title": "Ask HN: IDEs", "url": "https://news.ycombinator.com/item?id=2"}]}'
`)
	writeFile(t, root, "adapters/gh.sh", `cat >/dev/null
echo "rate limited" >&2
exit 1
`)
	writeFile(t, root, "adapters/tavily.sh", `cat >/dev/null
echo "searching..."
echo '{"success": true, "items": [{"source": "tavily", "source_id": "https://cursor.com/changelog", "title": "Cursor changelog", "url": "https://cursor.com/changelog"}]}'
`)
	writeFile(t, root, "sensors.toml", `
[sensors.fetch-hacker-news]
command = ["sh", "adapters/hn.sh"]

[sensors.fetch-github-trending]
command = ["sh", "adapters/gh.sh"]

[sensors.fetch-tavily]
command = ["sh", "adapters/tavily.sh"]
`)
	return root
}

func runCLI(t *testing.T, args ...string) int {
	t.Helper()
	rootFlag = ""
	jsonOut = false
	return execute(args)
}

func TestRun_EndToEnd(t *testing.T) {
	root := newWorkspace(t)

	if code := runCLI(t, "--root", root, "run", "ai-coding-tools"); code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}

	matches, err := filepath.Glob(filepath.Join(root, "reports", "*", "ai-coding-tools", "insights.md"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("insights.md not written: %v %v", matches, err)
	}
	doc, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(doc), "rate limited") {
		t.Errorf("report does not mention the failed adapter:\n%s", doc)
	}

	alerts, _ := filepath.Glob(filepath.Join(root, "alerts", "*", "ai-coding-tools.md"))
	if len(alerts) != 1 {
		t.Errorf("alert files = %v, want one", alerts)
	}

	st, err := watch.NewWorkspace(root).LoadState("ai-coding-tools")
	if err != nil {
		t.Fatal(err)
	}
	if st.LastRun == "" {
		t.Error("last_run not recorded")
	}

	store, err := storage.Open(filepath.Join(root, "data"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	items, err := store.GetItems(storage.ItemFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 {
		t.Errorf("stored %d items, want 3", len(items))
	}
	rep, err := health.Load(store)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Sources) != 3 {
		t.Errorf("health rows = %+v", rep.Sources)
	}
}

func TestRun_MissingWatchExitsTwo(t *testing.T) {
	root := newWorkspace(t)
	if code := runCLI(t, "--root", root, "run", "--watch", "nope"); code != exitNotFound {
		t.Errorf("exit code = %d, want %d", code, exitNotFound)
	}
}

func TestRun_BadLens(t *testing.T) {
	root := newWorkspace(t)
	if code := runCLI(t, "--root", root, "run", "ai-coding-tools", "--lens", "haiku"); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	runCmd.Flags().Set("lens", "")
}

func TestRun_RequiresName(t *testing.T) {
	root := newWorkspace(t)
	runCmd.Flags().Set("watch", "")
	if code := runCLI(t, "--root", root, "run"); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

func TestReadOnlyCommands(t *testing.T) {
	root := newWorkspace(t)
	for _, args := range [][]string{
		{"hi"},
		{"hi", "你好"},
		{"stats"},
		{"health"},
		{"watches"},
		{"sensors", "list"},
		{"config", "show"},
	} {
		full := append([]string{"--root", root}, args...)
		if code := runCLI(t, full...); code != 0 {
			t.Errorf("%v: exit code = %d, want 0", args, code)
		}
	}
}

func TestSensorsDisable(t *testing.T) {
	root := newWorkspace(t)

	if code := runCLI(t, "--root", root, "sensors", "disable", "fetch-github-trending"); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	data, err := os.ReadFile(filepath.Join(root, "sensors.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "disabled = true") || !strings.Contains(string(data), "adapters/gh.sh") {
		t.Errorf("sensors.toml lost the override or the flag:\n%s", data)
	}

	if code := runCLI(t, "--root", root, "run", "ai-coding-tools"); code != 0 {
		t.Fatalf("run exit code = %d", code)
	}
	matches, _ := filepath.Glob(filepath.Join(root, "reports", "*", "ai-coding-tools", "insights.md"))
	doc, _ := os.ReadFile(matches[0])
	if strings.Contains(string(doc), "rate limited") {
		t.Error("disabled adapter still ran")
	}

	if code := runCLI(t, "--root", root, "sensors", "enable", "fetch-github-trending"); code != 0 {
		t.Fatalf("enable exit code = %d", code)
	}
	if code := runCLI(t, "--root", root, "sensors", "disable", "fetch-nope"); code != 1 {
		t.Errorf("unknown sensor: exit code = %d, want 1", code)
	}
}

func TestConfigSet(t *testing.T) {
	newWorkspace(t)
	if code := runCLI(t, "config", "set", "runner.max_sensors", "4"); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Runner.MaxSensors != 4 {
		t.Errorf("MaxSensors = %d, want 4", cfg.Runner.MaxSensors)
	}
	if code := runCLI(t, "config", "set", "no.such.key", "1"); code != 1 {
		t.Errorf("unknown key: exit code = %d, want 1", code)
	}
}

func TestAPIClient(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	for i := 0; i < 3; i++ {
		store.UpdateSourceHealth("fetch-v2ex", false)
	}

	srv := httptest.NewServer(api.NewAppHandler(api.Deps{
		Workspace: watch.NewWorkspace(t.TempDir()),
		Store:     store,
		Token:     "test-token",
	}))
	t.Cleanup(srv.Close)

	c := &apiClient{baseURL: srv.URL, token: "test-token", httpClient: srv.Client()}
	ctx := context.Background()
	if err := c.health(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}
	var rep health.Report
	if err := c.getJSON(ctx, "/sources/health", &rep); err != nil {
		t.Fatalf("getJSON: %v", err)
	}
	if len(rep.Unhealthy) != 1 || rep.Unhealthy[0] != "fetch-v2ex" {
		t.Errorf("report = %+v", rep)
	}

	c.token = "wrong"
	if err := c.getJSON(ctx, "/sources/health", &rep); err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %v, want 401", err)
	}
}

func TestDecodeJSON_Error(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.WriteHeader(http.StatusNotFound)
	rec.WriteString(`{"error":{"message":"watch not found","type":"not_found"}}`)

	var v map[string]any
	err := decodeJSON(rec.Result(), &v)
	if err == nil || !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "watch not found") {
		t.Errorf("error = %v", err)
	}

	rec = httptest.NewRecorder()
	json.NewEncoder(rec).Encode(map[string]string{"status": "ok"})
	if err := decodeJSON(rec.Result(), &v); err != nil || v["status"] != "ok" {
		t.Errorf("decode ok body: v=%v err=%v", v, err)
	}
}

func TestColorize(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if result := colorize(colorRed, "hello"); strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}

	noColor = false
	if result := colorize(colorRed, "hello"); !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}
