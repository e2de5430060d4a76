package planner

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	parenAside  = regexp.MustCompile(`\([^)]*\)|（[^）]*）`)
	delimiters  = regexp.MustCompile(`[,，/;；\s]+`)
	whitespace  = regexp.MustCompile(`\s+`)
	feedURL     = regexp.MustCompile(`https?://[^\s)]+`)
	labelPrefix = []string{"role:", "domain:", "report language:", "focus:"}
)

// Phrases extracts short declarative lines from markdown. Headers and
// preference label lines are skipped; bullets, bold markers and
// parenthetical asides are stripped.
func Phrases(markdown string) []string {
	var out []string
	for _, raw := range strings.Split(markdown, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		switch {
		case strings.HasPrefix(line, "-"):
			line = strings.TrimSpace(line[1:])
		case strings.HasPrefix(line, "* "), strings.HasPrefix(line, "+ "):
			line = strings.TrimSpace(line[2:])
		}
		line = strings.ReplaceAll(line, "**", "")
		line = strings.TrimSpace(parenAside.ReplaceAllString(line, ""))
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if hasAnyPrefix(lower, labelPrefix) {
			continue
		}
		out = append(out, line)
	}
	return out
}

// Tokens splits s on commas, slashes, semicolons (ASCII and full-width)
// and whitespace.
func Tokens(s string) []string {
	var out []string
	for _, tok := range delimiters.Split(s, -1) {
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// HasCJK reports whether s contains a CJK unified ideograph.
func HasCJK(s string) bool {
	for _, r := range s {
		if r >= '一' && r <= '鿿' {
			return true
		}
	}
	return false
}

// FeedURLs returns http(s) links found in text with trailing punctuation
// removed.
func FeedURLs(text string) []string {
	var out []string
	for _, u := range feedURL.FindAllString(text, -1) {
		u = strings.TrimRight(u, ".,")
		if u != "" {
			out = append(out, u)
		}
	}
	return out
}

func compact(s string) string {
	s = whitespace.ReplaceAllString(s, " ")
	return strings.Trim(s, " :-")
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// containsWord matches needle in s only at word boundaries. Used for
// short Latin keywords that would otherwise match inside other words.
func containsWord(s, needle string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], needle)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(needle)
		if boundaryBefore(s, start) && boundaryAfter(s, end) {
			return true
		}
		i = start + 1
		if i >= len(s) {
			return false
		}
	}
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	return isBoundary(s[i-1])
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	return isBoundary(s[i])
}

// isBoundary treats any non-ASCII byte as a boundary so Latin keywords
// still match next to CJK text.
func isBoundary(b byte) bool {
	if b >= 0x80 {
		return true
	}
	r := rune(b)
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
