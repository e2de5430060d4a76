// Package report renders a watch cycle's unanalyzed items into markdown.
// Rendering is pure; callers write the files.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/signex/internal/harness"
	"github.com/kalambet/signex/internal/storage"
)

const (
	// windowSize is how many sorted items any lens looks at.
	windowSize = 12
	topN       = 5
	dualSide   = 4
	rawLimit   = 50
)

// Input is everything a report is built from.
type Input struct {
	Watch   string
	Lens    Lens
	Items   []storage.Item
	Results []harness.Result
	Now     time.Time
}

// EffectiveTime is published_at, else fetched_at, else the zero time.
func EffectiveTime(it storage.Item) time.Time {
	if it.PublishedAt != nil && !it.PublishedAt.IsZero() {
		return *it.PublishedAt
	}
	return it.FetchedAt
}

// SortItems returns a copy of items ordered by effective time, newest
// first. Items without any timestamp go last; ties keep input order.
func SortItems(items []storage.Item) []storage.Item {
	out := make([]storage.Item, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		return EffectiveTime(out[i]).After(EffectiveTime(out[j]))
	})
	return out
}

// ItemLine renders one item as a markdown list entry.
func ItemLine(it storage.Item) string {
	title := strings.TrimSpace(it.Title)
	if title == "" {
		title = "(untitled)"
	}
	source := it.Source
	if source == "" {
		source = "unknown"
	}
	when := "unknown time"
	if t := EffectiveTime(it); !t.IsZero() {
		when = t.Format(time.RFC3339)
	}
	if it.URL != "" {
		return fmt.Sprintf("- [%s](%s) — `%s` · %s", title, it.URL, source, when)
	}
	return fmt.Sprintf("- %s — `%s` · %s", title, source, when)
}

func lines(items []storage.Item) string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = ItemLine(it)
	}
	return strings.Join(out, "\n")
}

func sourceCounts(items []storage.Item) map[string]int {
	counts := make(map[string]int)
	for _, it := range items {
		src := it.Source
		if src == "" {
			src = "unknown"
		}
		counts[src]++
	}
	return counts
}

func sourceSummary(counts map[string]int) string {
	if len(counts) == 0 {
		return "No data"
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s:%d", k, counts[k])
	}
	return strings.Join(parts, ", ")
}

// busiestSource returns the source with the most items; ties go to the
// alphabetically first name.
func busiestSource(counts map[string]int) (string, int) {
	var best string
	n := -1
	for src, c := range counts {
		if c > n || (c == n && src < best) {
			best, n = src, c
		}
	}
	return best, n
}

func failureNotes(results []harness.Result) []string {
	var out []string
	for _, r := range results {
		if r.Success {
			continue
		}
		msg := r.Error
		if msg == "" {
			msg = "failed"
		}
		out = append(out, fmt.Sprintf("- `%s`: %s", r.Sensor, msg))
	}
	return out
}

func header(title string, in Input) string {
	return fmt.Sprintf("# %s %s\n\nGenerated at: %s\nLens: `%s`\n\n---\n\n",
		in.Watch, title, in.Now.Format(time.RFC3339), in.Lens)
}

const rule = "\n\n---\n\n"

// Render produces the markdown report for in.
func Render(in Input) string {
	if !in.Lens.Valid() {
		in.Lens = DeepInsight
	}
	failures := failureNotes(in.Results)

	if len(in.Items) == 0 {
		notes := "- All selected sensors completed but returned no new data."
		if len(failures) > 0 {
			notes = strings.Join(failures, "\n")
		}
		return header("insights", in) +
			"## Run Result\nNo new items were available for analysis in this run." + rule +
			"## Data Source Notes\n" + notes + "\n"
	}

	sorted := SortItems(in.Items)
	window := sorted[:min(windowSize, len(sorted))]
	counts := sourceCounts(in.Items)
	coverage := notesSection(failures) + "## Source Coverage\n- " + sourceSummary(counts) + "\n"

	switch in.Lens {
	case FlashBrief:
		return header("flash brief", in) +
			"## Top Signals\n" + lines(window[:min(topN, len(window))]) + rule +
			coverage

	case DualTake:
		split := min(dualSide, len(window))
		bull := lines(window[:split])
		if bull == "" {
			bull = "- No positive signals extracted."
		}
		bear := lines(window[split:min(2*dualSide, len(window))])
		if bear == "" {
			bear = "- No obvious downside signals extracted."
		}
		return header("dual take", in) +
			"## Bull Case\n" + bull + rule +
			"## Bear Case\n" + bear + rule +
			coverage

	case TimelineTrace:
		return header("timeline trace", in) +
			"## Timeline\n" + lines(window) + rule +
			coverage
	}

	var trend []string
	if src, n := busiestSource(counts); n > 0 {
		trend = append(trend, fmt.Sprintf("- Highest signal density comes from `%s` (%d items).", src, n))
	}
	trend = append(trend, fmt.Sprintf("- Total analyzed items this run: %d.", len(in.Items)))
	if len(failures) > 0 {
		trend = append(trend, fmt.Sprintf("- %d sensor(s) failed and may create coverage gaps.", len(failures)))
	}

	return header("insights", in) +
		"## Key Findings\n" + lines(window[:min(topN, len(window))]) + rule +
		"## Trend Snapshot\n" + strings.Join(trend, "\n") + rule +
		"## Action Suggestions\n" +
		"1. Validate the top two signals against primary sources before acting.\n" +
		"2. Confirm which noisy source should be filtered in the next run.\n" +
		"3. If this theme is accelerating, switch to `timeline_trace` next cycle." + rule +
		coverage
}

// notesSection lists failed adapters.
func notesSection(failures []string) string {
	if len(failures) == 0 {
		return ""
	}
	return "## Data Source Notes\n" + strings.Join(failures, "\n") + rule
}

// RawIntel renders the audit list of up to 50 sorted items.
func RawIntel(watch string, items []storage.Item, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s raw intel\n\nGenerated at: %s\n\n---\n\n", watch, now.Format(time.RFC3339))
	sorted := SortItems(items)
	if len(sorted) == 0 {
		b.WriteString("- No unanalyzed items in this cycle.\n")
		return b.String()
	}
	b.WriteString(lines(sorted[:min(rawLimit, len(sorted))]))
	b.WriteString("\n")
	return b.String()
}
