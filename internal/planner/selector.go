// Package planner decides which adapters a watch cycle runs and which
// search queries they receive. Everything here is a pure function of the
// watch text (and a supplied clock value for queries).
package planner

import (
	"strings"

	"github.com/kalambet/signex/internal/sensor"
)

// DefaultMaxSensors caps the selection when no limit is given.
const DefaultMaxSensors = 6

// minSelection is the size below which fallback adapters are appended.
const minSelection = 3

type rule struct {
	// keywords match as case-insensitive substrings.
	keywords []string
	// words match only at word boundaries.
	words []string
	// anyCJK fires on any CJK character in the text.
	anyCJK  bool
	sensors []sensor.ID
}

func (r rule) matches(text string) bool {
	if r.anyCJK && HasCJK(text) {
		return true
	}
	if containsAny(text, r.keywords) {
		return true
	}
	for _, w := range r.words {
		if containsWord(text, w) {
			return true
		}
	}
	return false
}

var baseline = sensor.HackerNews

var fallbacks = []sensor.ID{sensor.GitHubTrending, sensor.Tavily}

var rules = []rule{
	{keywords: []string{"github", "开源", "open source", "repo", "仓库"}, sensors: []sensor.ID{sensor.GitHubTrending}},
	{anyCJK: true, keywords: []string{"中文", "国内", "v2ex"}, sensors: []sensor.ID{sensor.V2EX}},
	{keywords: []string{"search", "趋势", "latest", "追踪", "watch", "monitor"}, sensors: []sensor.ID{sensor.Tavily}},
	{keywords: []string{"brave"}, sensors: []sensor.ID{sensor.BraveSearch}},
	{words: []string{"exa", "semantic search"}, sensors: []sensor.ID{sensor.Exa}},
	{keywords: []string{"reddit", "社区", "讨论", "用户反馈", "pain point", "论坛"}, sensors: []sensor.ID{sensor.Reddit}},
	{keywords: []string{"新闻", "news", "industry", "行业", "媒体"}, sensors: []sensor.ID{sensor.NewsAPI, sensor.GNews}},
	{keywords: []string{"product", "launch", "新品", "发布"}, words: []string{"app", "apps"}, sensors: []sensor.ID{sensor.ProductHunt}},
	{keywords: []string{"request", "需求", "痛点", "feature"}, sensors: []sensor.ID{sensor.RequestHunt}},
	{keywords: []string{"twitter", "社交", "实时"}, words: []string{"x"}, sensors: []sensor.ID{sensor.X}},
	{keywords: []string{"rss", "博客", "blog", "changelog"}, sensors: []sensor.ID{sensor.RSS}},
	{keywords: []string{"paper", "论文", "research", "学术", "preprint", "academic", "arxiv"}, sensors: []sensor.ID{sensor.Arxiv, sensor.OpenAlex}},
}

// Selector picks adapters for a watch.
type Selector struct {
	// Max caps the result. Zero means DefaultMaxSensors.
	Max int
	// Allow, when set, filters out adapters that may not run.
	Allow func(sensor.ID) bool
}

// Select returns an ordered, de-duplicated adapter list for the given
// intent and memory text. The baseline discovery adapter always comes
// first; fallbacks are appended when fewer than three adapters match.
func (s Selector) Select(intent, memory string) []sensor.ID {
	max := s.Max
	if max <= 0 {
		max = DefaultMaxSensors
	}
	text := strings.ToLower(intent + "\n" + memory)

	var out []sensor.ID
	add := func(id sensor.ID) {
		if s.Allow != nil && !s.Allow(id) {
			return
		}
		for _, have := range out {
			if have == id {
				return
			}
		}
		out = append(out, id)
	}

	add(baseline)
	for _, r := range rules {
		if !r.matches(text) {
			continue
		}
		for _, id := range r.sensors {
			add(id)
		}
	}
	if len(out) < minSelection {
		for _, id := range fallbacks {
			add(id)
		}
	}

	if len(out) > max {
		out = out[:max]
	}
	return out
}

// SelectSensors is Selector{Max: max}.Select(intent, memory).
func SelectSensors(intent, memory string, max int) []sensor.ID {
	return Selector{Max: max}.Select(intent, memory)
}
