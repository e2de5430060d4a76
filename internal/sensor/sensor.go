// Package sensor defines the adapter contract between the watch engine and
// the external fetchers that pull items from one information source each.
package sensor

import (
	"context"
	"fmt"
)

// ID identifies one adapter. The set is closed; see All.
type ID string

const (
	HackerNews     ID = "fetch-hacker-news"
	GitHubTrending ID = "fetch-github-trending"
	V2EX           ID = "fetch-v2ex"
	Tavily         ID = "fetch-tavily"
	BraveSearch    ID = "fetch-brave-search"
	Exa            ID = "fetch-exa"
	ProductHunt    ID = "fetch-product-hunt"
	RequestHunt    ID = "fetch-request-hunt"
	RSS            ID = "fetch-rss"
	Reddit         ID = "fetch-reddit"
	X              ID = "fetch-x"
	NewsAPI        ID = "fetch-news-api"
	GNews          ID = "fetch-gnews"
	Arxiv          ID = "fetch-arxiv"
	OpenAlex       ID = "fetch-openalex"
)

var all = []ID{
	HackerNews, GitHubTrending, V2EX, Tavily, BraveSearch, Exa, ProductHunt,
	RequestHunt, RSS, Reddit, X, NewsAPI, GNews, Arxiv, OpenAlex,
}

// All returns every known adapter id in a stable order.
func All() []ID {
	out := make([]ID, len(all))
	copy(out, all)
	return out
}

// Valid reports whether id is one of the known adapters.
func (id ID) Valid() bool {
	for _, known := range all {
		if id == known {
			return true
		}
	}
	return false
}

// Parse converts s into a known ID.
func Parse(s string) (ID, error) {
	id := ID(s)
	if !id.Valid() {
		return "", fmt.Errorf("unknown sensor %q", s)
	}
	return id, nil
}

// QueryDriven reports whether the adapter searches by synthesized queries.
// Such adapters are skipped when no queries survive.
func (id ID) QueryDriven() bool {
	switch id {
	case HackerNews, GitHubTrending, V2EX, ProductHunt, Reddit, RSS:
		return false
	}
	return true
}

// scriptName is the entry point file under the adapter's scripts directory.
func (id ID) scriptName() string {
	if id.QueryDriven() {
		return "search.py"
	}
	return "fetch.py"
}

// Payload is what an adapter receives. Input is encoded as JSON on stdin
// when non-nil; Args are extra command-line arguments.
type Payload struct {
	Input map[string]any
	Args  []string
}

// Adapter fetches from one source and returns the standard envelope.
// A returned error means the call itself failed (timeout, could not start);
// callers treat it the same as an envelope with Success false.
type Adapter interface {
	Run(ctx context.Context, p Payload) (Envelope, error)
}

// AdapterFunc adapts a plain function to the Adapter interface.
type AdapterFunc func(ctx context.Context, p Payload) (Envelope, error)

func (f AdapterFunc) Run(ctx context.Context, p Payload) (Envelope, error) {
	return f(ctx, p)
}
