package report

import (
	"fmt"
	"strings"
)

// Lens is a report-structuring strategy.
type Lens string

const (
	DeepInsight   Lens = "deep_insight"
	FlashBrief    Lens = "flash_brief"
	DualTake      Lens = "dual_take"
	TimelineTrace Lens = "timeline_trace"
)

// Lenses lists every lens; DeepInsight is the default.
var Lenses = []Lens{DeepInsight, FlashBrief, DualTake, TimelineTrace}

// Valid reports whether l is a known lens.
func (l Lens) Valid() bool {
	switch l {
	case DeepInsight, FlashBrief, DualTake, TimelineTrace:
		return true
	}
	return false
}

// ParseLens converts s to a Lens. The empty string is DeepInsight.
func ParseLens(s string) (Lens, error) {
	if s == "" {
		return DeepInsight, nil
	}
	l := Lens(s)
	if !l.Valid() {
		return "", fmt.Errorf("unknown lens %q", s)
	}
	return l, nil
}

// InferLens picks a lens from the watch memory unless override is a valid
// lens.
func InferLens(memory string, override Lens) Lens {
	if override.Valid() {
		return override
	}
	m := strings.ToLower(memory)
	switch {
	case containsAny(m, "flash", "速览", "quick brief"):
		return FlashBrief
	case containsAny(m, "dual", "正反", "利弊"):
		return DualTake
	case containsAny(m, "timeline", "时间线", "脉络"):
		return TimelineTrace
	}
	return DeepInsight
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
