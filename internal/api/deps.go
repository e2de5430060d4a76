package api

import (
	"context"
	"time"

	"github.com/kalambet/signex/internal/runner"
	"github.com/kalambet/signex/internal/storage"
	"github.com/kalambet/signex/internal/watch"
)

// WatchRunner executes one watch cycle. Implemented by runner.Runner.
type WatchRunner interface {
	Run(ctx context.Context, name string, opts runner.Options) (runner.Result, error)
}

// Store is the read side of storage.Store the surfaces expose.
type Store interface {
	GetItems(f storage.ItemFilter) ([]storage.Item, error)
	RunStats() (storage.RunStats, error)
	SourceHealth() ([]storage.SourceHealth, error)
}

// Deps holds what the HTTP and MCP surfaces share.
type Deps struct {
	Workspace watch.Workspace
	Runner    WatchRunner
	Store     Store
	// Token guards the HTTP surface. Empty disables auth.
	Token string
	// Now defaults to time.Now.
	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}
