// Package alert scores analyzed items against a watch's intent and picks
// the few worth interrupting the user for.
package alert

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/signex/internal/planner"
	"github.com/kalambet/signex/internal/storage"
)

const (
	maxSignalTerms = 12
	bucketSize     = 3
)

// Weights are the scoring constants. The zero value is not useful; start
// from DefaultWeights.
type Weights struct {
	Signal          int
	Source          int
	Metric          int
	MetricThreshold float64
	// MinScore is the lowest score kept at all.
	MinScore int
	// HighScore is the lowest score bucketed as high; scores from
	// MinScore up to HighScore-1 are medium.
	HighScore int
}

// DefaultWeights returns +2 signal match, +1 high-signal source, +1 hot
// metric >= 50, keep >= 2, high >= 3.
func DefaultWeights() Weights {
	return Weights{
		Signal:          2,
		Source:          1,
		Metric:          1,
		MetricThreshold: 50,
		MinScore:        2,
		HighScore:       3,
	}
}

var highSignalSources = map[string]bool{
	"news_api":     true,
	"gnews":        true,
	"x_twitter":    true,
	"product_hunt": true,
}

var metricFields = []string{"votes_count", "like_count", "score", "stars_today"}

// Scored is an item with its alert score.
type Scored struct {
	Item  storage.Item `json:"item"`
	Score int          `json:"score"`
}

// Alerts is the bucketed result.
type Alerts struct {
	High   []Scored `json:"high"`
	Medium []Scored `json:"medium"`
}

// Empty reports whether no item qualified.
func (a Alerts) Empty() bool {
	return len(a.High) == 0 && len(a.Medium) == 0
}

// SignalTerms derives up to 12 lower-cased match terms from intent text:
// Latin tokens of at least three characters and CJK tokens of at least two.
func SignalTerms(intent string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, phrase := range planner.Phrases(intent) {
		for _, tok := range planner.Tokens(phrase) {
			tok = strings.Trim(tok, "-:()[]{}")
			n := utf8.RuneCountInString(tok)
			if n >= 3 || (n >= 2 && planner.HasCJK(tok)) {
				tok = strings.ToLower(tok)
				if !seen[tok] {
					seen[tok] = true
					out = append(out, tok)
				}
			}
		}
	}
	if len(out) > maxSignalTerms {
		out = out[:maxSignalTerms]
	}
	return out
}

// Detector scores items.
type Detector struct {
	w Weights
}

// NewDetector returns a Detector using w.
func NewDetector(w Weights) *Detector {
	return &Detector{w: w}
}

// Score returns the alert score of it against terms.
func (d *Detector) Score(it storage.Item, terms []string) int {
	score := 0
	text := strings.ToLower(it.Title + " " + it.Content)
	for _, term := range terms {
		if strings.Contains(text, term) {
			score += d.w.Signal
			break
		}
	}
	if highSignalSources[it.Source] {
		score += d.w.Source
	}
	if d.hotMetric(it.Metadata) {
		score += d.w.Metric
	}
	return score
}

func (d *Detector) hotMetric(meta map[string]any) bool {
	for _, field := range metricFields {
		if v, ok := number(meta[field]); ok && v >= d.w.MetricThreshold {
			return true
		}
	}
	return false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Detect scores items against intent and returns the top three high and
// top three medium items, each ordered by score descending. Items scoring
// below MinScore are dropped.
func (d *Detector) Detect(items []storage.Item, intent string) Alerts {
	terms := SignalTerms(intent)

	var ranked []Scored
	for _, it := range items {
		s := d.Score(it, terms)
		if s >= d.w.MinScore {
			ranked = append(ranked, Scored{Item: it, Score: s})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	var a Alerts
	for _, r := range ranked {
		switch {
		case r.Score >= d.w.HighScore:
			if len(a.High) < bucketSize {
				a.High = append(a.High, r)
			}
		default:
			if len(a.Medium) < bucketSize {
				a.Medium = append(a.Medium, r)
			}
		}
	}
	return a
}

// Detect runs a Detector with DefaultWeights.
func Detect(items []storage.Item, intent string) Alerts {
	return NewDetector(DefaultWeights()).Detect(items, intent)
}

// Render produces the alert markdown document.
func Render(watch string, a Alerts, now time.Time) string {
	lines := []string{
		fmt.Sprintf("# %s alert", watch),
		"",
		"Generated at: " + now.Format(time.RFC3339),
		"",
		"---",
		"",
	}
	for _, level := range []struct {
		name  string
		items []Scored
	}{{"High", a.High}, {"Medium", a.Medium}} {
		for _, s := range level.items {
			title := s.Item.Title
			if title == "" {
				title = "(untitled)"
			}
			source := s.Item.Source
			if source == "" {
				source = "unknown"
			}
			link := "- **Link**: (none)"
			if s.Item.URL != "" {
				link = "- **Link**: " + s.Item.URL
			}
			lines = append(lines,
				fmt.Sprintf("## [%s] %s", level.name, title),
				"",
				"- **Source**: "+source,
				link,
				"- **Reason**: Strong alignment with watch intent and elevated source signal.",
				"",
				"---",
				"",
			)
		}
	}
	return strings.TrimRight(strings.Join(lines, "\n"), " \n") + "\n"
}
