package planner

import (
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultMaxQueries caps synthesized queries when no limit is given.
const DefaultMaxQueries = 6

var (
	preferenceMarkers = []string{"focus", "关注", "偏好", "prefer", "track"}
	exclusionMarkers  = []string{"exclude", "排除", "不要", "ignore", "don't", "don’t"}
)

// SearchQueries derives up to max date-scoped queries from the watch's
// intent and memory. now supplies the month tag.
func SearchQueries(watchName, intent, memory string, now time.Time, max int) []string {
	if max <= 0 {
		max = DefaultMaxQueries
	}
	month := now.Format("2006-01")
	nameAsPhrase := strings.ReplaceAll(watchName, "-", " ")

	candidates := Phrases(intent)
	for _, p := range Phrases(memory) {
		if containsAny(strings.ToLower(p), preferenceMarkers) {
			candidates = append(candidates, p)
		}
	}
	candidates = append(candidates, nameAsPhrase)

	excludes := ExclusionTerms(intent, memory)

	var phrases []string
	seen := make(map[string]bool)
	for _, p := range candidates {
		c := compact(p)
		if c == "" {
			continue
		}
		lower := strings.ToLower(c)
		if containsAny(lower, excludes) {
			continue
		}
		if seen[lower] {
			continue
		}
		seen[lower] = true
		phrases = append(phrases, c)
	}

	var queries []string
	for _, p := range phrases {
		queries = append(queries, p+" "+month)
		if HasCJK(p) {
			queries = append(queries, p+" 最新 "+month)
		}
	}
	if len(queries) == 0 {
		queries = []string{nameAsPhrase + " " + month}
	}
	if len(queries) > max {
		queries = queries[:max]
	}
	return queries
}

// ExclusionTerms collects lower-cased tokens from lines that express a
// negation such as "exclude" or "don't".
func ExclusionTerms(intent, memory string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, line := range Phrases(memory + "\n" + intent) {
		if !containsAny(strings.ToLower(line), exclusionMarkers) {
			continue
		}
		for _, tok := range Tokens(line) {
			if utf8.RuneCountInString(tok) < 2 {
				continue
			}
			tok = strings.ToLower(tok)
			if !seen[tok] {
				seen[tok] = true
				out = append(out, tok)
			}
		}
	}
	return out
}
