package harness

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/signex/internal/sensor"
	"github.com/kalambet/signex/internal/storage"
)

// fakeAdapters maps ids to in-process adapters and counts invocations.
type fakeAdapters struct {
	mu       sync.Mutex
	adapters map[sensor.ID]sensor.Adapter
	calls    map[sensor.ID]int
	payloads map[sensor.ID]sensor.Payload
}

func newFakeAdapters() *fakeAdapters {
	return &fakeAdapters{
		adapters: make(map[sensor.ID]sensor.Adapter),
		calls:    make(map[sensor.ID]int),
		payloads: make(map[sensor.ID]sensor.Payload),
	}
}

func (f *fakeAdapters) set(id sensor.ID, fn func(ctx context.Context, p sensor.Payload) (sensor.Envelope, error)) {
	f.adapters[id] = sensor.AdapterFunc(func(ctx context.Context, p sensor.Payload) (sensor.Envelope, error) {
		f.mu.Lock()
		f.calls[id]++
		f.payloads[id] = p
		f.mu.Unlock()
		return fn(ctx, p)
	})
}

func (f *fakeAdapters) Adapter(id sensor.ID) sensor.Adapter {
	return f.adapters[id]
}

func items(source string, n int) []sensor.ItemEnvelope {
	out := make([]sensor.ItemEnvelope, n)
	for i := range out {
		out[i] = sensor.ItemEnvelope{
			Source:   source,
			SourceID: fmt.Sprintf("%s-%d", source, i),
			Title:    fmt.Sprintf("%s item %d", source, i),
			URL:      fmt.Sprintf("https://example.com/%s/%d", source, i),
		}
	}
	return out
}

func ok(its []sensor.ItemEnvelope) func(context.Context, sensor.Payload) (sensor.Envelope, error) {
	return func(context.Context, sensor.Payload) (sensor.Envelope, error) {
		return sensor.Envelope{Success: true, Items: its, Count: len(its)}, nil
	}
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func baseRequest(ids ...sensor.ID) Request {
	return Request{
		Sensors: ids,
		Queries: []string{"Cursor updates 2026-02", "Agent IDE workflows 2026-02"},
		Intent:  "Cursor updates\nAgent IDE workflows",
		Now:     time.Date(2026, 2, 23, 9, 0, 0, 0, time.UTC),
	}
}

func TestRun_IsolatesFailures(t *testing.T) {
	store := openStore(t)
	fa := newFakeAdapters()
	fa.set(sensor.HackerNews, ok(items("hacker_news", 2)))
	fa.set(sensor.GitHubTrending, func(context.Context, sensor.Payload) (sensor.Envelope, error) {
		return sensor.Envelope{}, errors.New("sensor fetch-github-trending timed out after 180s")
	})
	fa.set(sensor.Tavily, ok(items("tavily", 5)))

	results, err := New(fa, store, 1).Run(context.Background(), baseRequest(sensor.HackerNews, sensor.GitHubTrending, sensor.Tavily))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	inserted := 0
	for _, r := range results {
		inserted += r.Inserted
	}
	if inserted != 7 {
		t.Errorf("inserted = %d, want 7", inserted)
	}
	if results[1].Success || results[1].Error == "" {
		t.Errorf("timeout result = %+v, want failure with message", results[1])
	}
	if !results[2].Success {
		t.Error("adapter after the failure did not run")
	}

	errs := Errors(results)
	if len(errs) != 1 || errs[0].Sensor != sensor.GitHubTrending {
		t.Errorf("Errors = %+v", errs)
	}

	h, err := store.GetSourceHealth(string(sensor.GitHubTrending))
	if err != nil {
		t.Fatalf("GetSourceHealth: %v", err)
	}
	if h.ConsecutiveFailures != 1 || h.TotalCalls != 1 {
		t.Errorf("health = %+v", h)
	}
}

func TestRun_DedupAcrossRuns(t *testing.T) {
	store := openStore(t)
	fa := newFakeAdapters()
	fa.set(sensor.HackerNews, ok(items("hacker_news", 3)))
	h := New(fa, store, 1)

	first, _ := h.Run(context.Background(), baseRequest(sensor.HackerNews))
	second, err := h.Run(context.Background(), baseRequest(sensor.HackerNews))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if first[0].Inserted != 3 || second[0].Inserted != 0 {
		t.Errorf("inserted = %d then %d, want 3 then 0", first[0].Inserted, second[0].Inserted)
	}
}

func TestRun_ShortCircuits(t *testing.T) {
	store := openStore(t)
	fa := newFakeAdapters()
	fa.set(sensor.RSS, ok(nil))
	fa.set(sensor.Tavily, ok(nil))

	req := baseRequest(sensor.RSS, sensor.Tavily)
	req.Queries = nil
	results, err := New(fa, store, 1).Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, r := range results {
		if !r.Success || !r.Skipped {
			t.Errorf("%s: result = %+v, want skipped success", r.Sensor, r)
		}
	}
	if fa.calls[sensor.RSS] != 0 || fa.calls[sensor.Tavily] != 0 {
		t.Errorf("adapters invoked: %v", fa.calls)
	}
	if rows, _ := store.SourceHealth(); len(rows) != 0 {
		t.Errorf("health recorded for skipped adapters: %+v", rows)
	}
}

func TestRun_FailureEnvelopeKeepsItems(t *testing.T) {
	store := openStore(t)
	fa := newFakeAdapters()
	fa.set(sensor.Reddit, func(context.Context, sensor.Payload) (sensor.Envelope, error) {
		return sensor.Envelope{Success: false, Error: "partial: 429", Items: items("reddit", 2)}, nil
	})

	results, err := New(fa, store, 1).Run(context.Background(), baseRequest(sensor.Reddit))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[0].Success || results[0].Inserted != 2 || results[0].Error != "partial: 429" {
		t.Errorf("result = %+v", results[0])
	}
}

func TestRun_PanicIsolated(t *testing.T) {
	store := openStore(t)
	fa := newFakeAdapters()
	fa.set(sensor.HackerNews, func(context.Context, sensor.Payload) (sensor.Envelope, error) {
		panic("nil map")
	})
	fa.set(sensor.V2EX, ok(items("v2ex", 1)))

	results, err := New(fa, store, 1).Run(context.Background(), baseRequest(sensor.HackerNews, sensor.V2EX))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[0].Success || results[1].Inserted != 1 {
		t.Errorf("results = %+v", results)
	}
}

func TestRun_MissingAdapter(t *testing.T) {
	store := openStore(t)
	results, err := New(newFakeAdapters(), store, 1).Run(context.Background(), baseRequest(sensor.HackerNews))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[0].Success {
		t.Error("missing adapter reported success")
	}
}

func TestRun_ItemNormalization(t *testing.T) {
	store := openStore(t)
	fa := newFakeAdapters()
	fa.set(sensor.HackerNews, ok([]sensor.ItemEnvelope{
		{Source: "hacker_news", URL: "https://a.example", Content: "<p>Hello <b>HN</b></p>", PublishedAt: "2026-02-20T08:00:00+00:00"},
		{Source: "hacker_news", Title: "no id, no url"},
		{SourceID: "99", Title: "no source"},
	}))

	results, err := New(fa, store, 1).Run(context.Background(), baseRequest(sensor.HackerNews))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[0].Inserted != 2 {
		t.Errorf("inserted = %d, want 2", results[0].Inserted)
	}

	stored, _ := store.GetItems(storage.ItemFilter{Source: "hacker_news"})
	if len(stored) != 1 {
		t.Fatalf("hacker_news items = %d, want 1", len(stored))
	}
	if stored[0].SourceID != "https://a.example" {
		t.Errorf("SourceID = %q, want URL fallback", stored[0].SourceID)
	}
	if stored[0].Content != "Hello HN" {
		t.Errorf("Content = %q", stored[0].Content)
	}
	if stored[0].PublishedAt == nil {
		t.Error("PublishedAt not parsed")
	}
	if other, _ := store.GetItems(storage.ItemFilter{Source: string(sensor.HackerNews)}); len(other) != 1 {
		t.Errorf("item without source not stored under sensor id")
	}
}

func TestRun_ConcurrentKeepsOrder(t *testing.T) {
	store := openStore(t)
	fa := newFakeAdapters()
	var running, peak int32
	slow := func(src string, d time.Duration) func(context.Context, sensor.Payload) (sensor.Envelope, error) {
		return func(context.Context, sensor.Payload) (sensor.Envelope, error) {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(d)
			atomic.AddInt32(&running, -1)
			return sensor.Envelope{Success: true, Items: items(src, 1)}, nil
		}
	}
	fa.set(sensor.HackerNews, slow("hn", 60*time.Millisecond))
	fa.set(sensor.GitHubTrending, slow("gh", 10*time.Millisecond))
	fa.set(sensor.V2EX, slow("v2", 30*time.Millisecond))

	ids := []sensor.ID{sensor.HackerNews, sensor.GitHubTrending, sensor.V2EX}
	results, err := New(fa, store, 2).Run(context.Background(), baseRequest(ids...))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var got []sensor.ID
	for _, r := range results {
		got = append(got, r.Sensor)
	}
	if !reflect.DeepEqual(got, ids) {
		t.Errorf("order = %v, want %v", got, ids)
	}
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestBuildPayload(t *testing.T) {
	req := baseRequest()
	req.Queries = []string{"q1 ai", "q2", "q3 agent", "q4", "q5"}
	req.Intent = "Follow https://example.com/feed.xml for startup news"

	tests := []struct {
		id     sensor.ID
		wantOK bool
		check  func(t *testing.T, p sensor.Payload)
	}{
		{sensor.HackerNews, true, func(t *testing.T, p sensor.Payload) {
			if p.Input != nil || p.Args != nil {
				t.Errorf("payload = %+v, want empty", p)
			}
		}},
		{sensor.ProductHunt, true, func(t *testing.T, p sensor.Payload) {
			if !reflect.DeepEqual(p.Args, []string{"--limit", "20", "--featured"}) {
				t.Errorf("args = %v", p.Args)
			}
		}},
		{sensor.RSS, true, func(t *testing.T, p sensor.Payload) {
			if !reflect.DeepEqual(p.Input["feeds"], []string{"https://example.com/feed.xml"}) {
				t.Errorf("feeds = %v", p.Input["feeds"])
			}
		}},
		{sensor.Reddit, true, func(t *testing.T, p sensor.Payload) {
			if !reflect.DeepEqual(p.Input["subreddits"], []string{"startups", "SaaS", "entrepreneur"}) {
				t.Errorf("subreddits = %v", p.Input["subreddits"])
			}
		}},
		{sensor.Tavily, true, func(t *testing.T, p sensor.Payload) {
			if len(p.Input["queries"].([]string)) != 4 || p.Input["days"] != 7 {
				t.Errorf("input = %v", p.Input)
			}
		}},
		{sensor.BraveSearch, true, func(t *testing.T, p sensor.Payload) {
			if len(p.Input["queries"].([]string)) != 2 {
				t.Errorf("input = %v", p.Input)
			}
		}},
		{sensor.NewsAPI, true, func(t *testing.T, p sensor.Payload) {
			if p.Input["language"] != "en" {
				t.Errorf("language = %v", p.Input["language"])
			}
		}},
		{sensor.Arxiv, true, func(t *testing.T, p sensor.Payload) {
			if !reflect.DeepEqual(p.Input["queries"], []string{"q1 ai", "q3 agent"}) {
				t.Errorf("queries = %v", p.Input["queries"])
			}
		}},
		{sensor.OpenAlex, true, func(t *testing.T, p sensor.Payload) {
			if p.Input["publication_year"] != "2025-2026" {
				t.Errorf("publication_year = %v", p.Input["publication_year"])
			}
		}},
	}
	for _, tt := range tests {
		t.Run(string(tt.id), func(t *testing.T) {
			p, ok, err := BuildPayload(tt.id, req)
			if err != nil {
				t.Fatalf("BuildPayload: %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			tt.check(t, p)
		})
	}
}

func TestBuildPayload_XTruncatesRunes(t *testing.T) {
	req := baseRequest()
	long := ""
	for i := 0; i < 80; i++ {
		long += "编"
	}
	req.Queries = []string{long}
	p, ok, err := BuildPayload(sensor.X, req)
	if err != nil || !ok {
		t.Fatalf("BuildPayload: ok=%v err=%v", ok, err)
	}
	q := p.Input["queries"].([]string)[0]
	if n := len([]rune(q)); n != 60 {
		t.Errorf("query runes = %d, want 60", n)
	}
}

func TestBuildPayload_LanguagePreference(t *testing.T) {
	tests := []struct {
		name     string
		intent   string
		language string
		want     string
	}{
		{"cjk intent", "跟踪 AI 新闻", "", "zh"},
		{"cjk intent overrides english reader", "跟踪 AI 新闻", "en", "zh"},
		{"chinese reader with latin intent", "Cursor updates", "zh", "zh"},
		{"english reader", "Cursor updates", "en", "en"},
		{"no preference", "Cursor updates", "", "en"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest()
			req.Intent = tt.intent
			req.Language = tt.language
			p, _, err := BuildPayload(sensor.GNews, req)
			if err != nil {
				t.Fatal(err)
			}
			if p.Input["language"] != tt.want {
				t.Errorf("language = %v, want %s", p.Input["language"], tt.want)
			}
		})
	}
}

func TestAcademicQueriesFallback(t *testing.T) {
	got := AcademicQueries([]string{"woodworking 2026-02"})
	if !reflect.DeepEqual(got, academicFallback) {
		t.Errorf("got %v", got)
	}
}

func TestBuildPayload_EveryKnownSensor(t *testing.T) {
	for _, id := range sensor.All() {
		if _, _, err := BuildPayload(id, baseRequest()); err != nil {
			t.Errorf("%s: %v", id, err)
		}
	}
}

func TestRun_CancelledStopsWithoutHealth(t *testing.T) {
	store := openStore(t)
	fa := newFakeAdapters()
	ctx, cancel := context.WithCancel(context.Background())
	fa.set(sensor.HackerNews, func(context.Context, sensor.Payload) (sensor.Envelope, error) {
		cancel()
		return sensor.Envelope{}, errors.New("starting sensor fetch-hacker-news: context canceled")
	})
	fa.set(sensor.Tavily, ok(items("tavily", 2)))

	h := New(fa, store, 1)
	_, err := h.Run(ctx, baseRequest(sensor.HackerNews, sensor.Tavily))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if fa.calls[sensor.Tavily] != 0 {
		t.Error("adapter after cancellation was invoked")
	}
	rows, err := store.SourceHealth()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Errorf("health rows = %+v, want none for an interrupted run", rows)
	}
}

func TestRun_CancelledConcurrent(t *testing.T) {
	store := openStore(t)
	fa := newFakeAdapters()
	fa.set(sensor.HackerNews, ok(items("hacker_news", 1)))
	fa.set(sensor.Tavily, ok(items("tavily", 1)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := New(fa, store, 2)
	if _, err := h.Run(ctx, baseRequest(sensor.HackerNews, sensor.Tavily)); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	rows, _ := store.SourceHealth()
	if len(rows) != 0 {
		t.Errorf("health rows = %+v, want none", rows)
	}
}
