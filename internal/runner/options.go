package runner

import (
	"fmt"
	"time"

	"github.com/kalambet/signex/internal/report"
)

// ParseOptions builds Options from user-facing strings. An empty lens
// means infer from memory. since accepts RFC 3339 or a bare date, which
// is taken as midnight UTC.
func ParseOptions(lens, since string) (Options, error) {
	var opts Options
	if lens != "" {
		l, err := report.ParseLens(lens)
		if err != nil {
			return Options{}, err
		}
		opts.Lens = l
	}
	if since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			t, err = time.Parse("2006-01-02", since)
		}
		if err != nil {
			return Options{}, fmt.Errorf("invalid since %q: want RFC 3339 or YYYY-MM-DD", since)
		}
		opts.Since = t
	}
	return opts, nil
}
