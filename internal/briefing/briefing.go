// Package briefing summarizes the workspace: how many watches are active
// or paused, what ran today and which watches are due.
package briefing

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/kalambet/signex/internal/profile"
	"github.com/kalambet/signex/internal/watch"
)

// maxRecommended caps the due watches named in the text.
const maxRecommended = 4

// Briefing is the situational summary. Text is ready to print; the
// remaining fields carry the same information for machine consumers.
type Briefing struct {
	Text         string         `json:"text"`
	Language     string         `json:"language"`
	Date         string         `json:"date"`
	ActiveCount  int            `json:"active_count"`
	PausedCount  int            `json:"paused_count"`
	DueWatches   []string       `json:"due_watches"`
	ReportsToday int            `json:"report_count_today"`
	AlertsToday  int            `json:"alert_count_today"`
	Watches      []watch.Status `json:"watch_states"`
}

// Build reads the workspace at root and summarizes it as of now. The
// language comes from the identity profile; when unset, CJK in fallback
// (typically what the user just typed) selects Chinese.
func Build(root string, now time.Time, fallback string) (Briefing, error) {
	ident, err := profile.Load(root)
	if err != nil {
		return Briefing{}, err
	}
	statuses, err := watch.NewWorkspace(root).Statuses(now)
	if err != nil {
		return Briefing{}, err
	}

	b := Briefing{
		Language:   ident.LanguageOr(fallback),
		Date:       now.Format("2006-01-02"),
		DueWatches: []string{},
		Watches:    statuses,
	}
	for _, s := range statuses {
		switch s.Status {
		case watch.StatusActive:
			b.ActiveCount++
			if s.Due {
				b.DueWatches = append(b.DueWatches, s.Watch)
			}
		case watch.StatusPaused:
			b.PausedCount++
		}
	}

	if b.ReportsToday, err = countFiles(filepath.Join(root, "reports", b.Date), true, "insights.md"); err != nil {
		return Briefing{}, err
	}
	if b.AlertsToday, err = countFiles(filepath.Join(root, "alerts", b.Date), false, ""); err != nil {
		return Briefing{}, err
	}

	b.Text = render(b)
	return b, nil
}

func render(b Briefing) string {
	due := b.DueWatches
	if len(due) > maxRecommended {
		due = due[:maxRecommended]
	}

	var lines []string
	if b.Language == "zh" {
		lines = []string{
			fmt.Sprintf("你当前有 %d 个活跃 Watch，%d 个暂停。", b.ActiveCount, b.PausedCount),
			fmt.Sprintf("今天（%s）已产出 %d 份报告、%d 条 alert。", b.Date, b.ReportsToday, b.AlertsToday),
		}
		if len(due) > 0 {
			lines = append(lines, fmt.Sprintf("建议优先运行这些已到期 Watch：%s。", strings.Join(due, ", ")))
		} else {
			lines = append(lines, "当前没有到期 Watch，可以按需手动运行。")
		}
	} else {
		lines = []string{
			fmt.Sprintf("You currently have %d active watches and %d paused.", b.ActiveCount, b.PausedCount),
			fmt.Sprintf("Today (%s) produced %d report(s) and %d alert(s).", b.Date, b.ReportsToday, b.AlertsToday),
		}
		if len(due) > 0 {
			lines = append(lines, fmt.Sprintf("Recommended next run: %s.", strings.Join(due, ", ")))
		} else {
			lines = append(lines, "No watch is due right now; run one on demand if needed.")
		}
	}
	return strings.Join(lines, "\n")
}

// countFiles counts files under dir. With recursive set it matches name
// at any depth; otherwise it counts *.md directly in dir.
func countFiles(dir string, recursive bool, name string) (int, error) {
	if !recursive {
		matches, err := filepath.Glob(filepath.Join(dir, "*.md"))
		if err != nil {
			return 0, fmt.Errorf("globbing %s: %w", dir, err)
		}
		return len(matches), nil
	}

	n := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == name {
			n++
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("walking %s: %w", dir, err)
	}
	return n, nil
}

