package harness

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/signex/internal/planner"
	"github.com/kalambet/signex/internal/sensor"
)

// Request is the per-cycle context every payload is built from.
type Request struct {
	Sensors []sensor.ID
	Queries []string
	Intent  string
	// Language is the report language code ("zh" or "en").
	Language string
	Now      time.Time
}

var academicMarkers = []string{"llm", "agent", "model", "code", "paper", "research", "ai"}

var academicFallback = []string{"large language model agent", "code generation LLM"}

// BuildPayload returns the adapter-specific payload for id. ok is false
// when the adapter would have nothing to work with (no feeds, no
// queries) and should not be invoked.
func BuildPayload(id sensor.ID, req Request) (p sensor.Payload, ok bool, err error) {
	switch id {
	case sensor.HackerNews, sensor.GitHubTrending, sensor.V2EX:
		return sensor.Payload{}, true, nil

	case sensor.ProductHunt:
		return sensor.Payload{Args: []string{"--limit", "20", "--featured"}}, true, nil

	case sensor.RSS:
		feeds := planner.FeedURLs(req.Intent)
		if len(feeds) == 0 {
			return sensor.Payload{}, false, nil
		}
		return input(map[string]any{"feeds": feeds, "max_per_feed": 20}), true, nil

	case sensor.Reddit:
		return input(map[string]any{
			"subreddits": DefaultSubreddits(req.Intent),
			"sort":       "hot",
			"limit":      25,
		}), true, nil

	case sensor.Tavily:
		return queryPayload(req.Queries, 4, map[string]any{"days": 7})

	case sensor.BraveSearch:
		return queryPayload(req.Queries, 2, map[string]any{"count": 10})

	case sensor.Exa:
		return queryPayload(req.Queries, 4, map[string]any{"num_results": 10, "days": 7})

	case sensor.RequestHunt:
		return queryPayload(req.Queries, 3, map[string]any{"limit": 20})

	case sensor.NewsAPI:
		return queryPayload(req.Queries, 3, map[string]any{"days": 7, "language": req.lang()})

	case sensor.GNews:
		return queryPayload(req.Queries, 3, map[string]any{"max_results": 10, "language": req.lang()})

	case sensor.X:
		qs := head(req.Queries, 3)
		for i, q := range qs {
			qs[i] = truncateRunes(q, 60)
		}
		return queryPayload(qs, 3, map[string]any{"max_results": 10, "min_likes": 5})

	case sensor.Arxiv:
		return queryPayload(AcademicQueries(req.Queries), 3, map[string]any{
			"categories":  []string{"cs.AI", "cs.CL", "cs.SE"},
			"max_results": 20,
		})

	case sensor.OpenAlex:
		year := req.Now.Year()
		return queryPayload(AcademicQueries(req.Queries), 3, map[string]any{
			"per_page":         20,
			"publication_year": fmt.Sprintf("%d-%d", year-1, year),
		})
	}
	return sensor.Payload{}, false, fmt.Errorf("no payload rule for sensor %q", id)
}

// lang picks "zh" when either the reader prefers Chinese or the intent
// itself is written in CJK script.
func (r Request) lang() string {
	if r.Language == "zh" || planner.HasCJK(r.Intent) {
		return "zh"
	}
	return "en"
}

func input(m map[string]any) sensor.Payload {
	return sensor.Payload{Input: m}
}

func queryPayload(queries []string, n int, extra map[string]any) (sensor.Payload, bool, error) {
	qs := head(queries, n)
	if len(qs) == 0 {
		return sensor.Payload{}, false, nil
	}
	extra["queries"] = qs
	return input(extra), true, nil
}

func head(s []string, n int) []string {
	if len(s) > n {
		s = s[:n]
	}
	return append([]string(nil), s...)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// AcademicQueries keeps the queries that read as research topics, falling
// back to two generic ones. At most three are returned.
func AcademicQueries(queries []string) []string {
	var out []string
	for _, q := range queries {
		lower := strings.ToLower(q)
		for _, m := range academicMarkers {
			if strings.Contains(lower, m) {
				out = append(out, q)
				break
			}
		}
	}
	if len(out) == 0 {
		out = academicFallback
	}
	return head(out, 3)
}

// DefaultSubreddits picks a subreddit set from the intent's theme.
func DefaultSubreddits(intent string) []string {
	text := strings.ToLower(intent)
	switch {
	case containsAny(text, "startup", "创业", "saas"):
		return []string{"startups", "SaaS", "entrepreneur"}
	case containsAny(text, "ai", "llm", "machine learning", "人工智能"):
		return []string{"MachineLearning", "LocalLLaMA", "artificial"}
	}
	return []string{"programming", "technology", "opensource"}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
