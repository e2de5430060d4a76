// Package watch reads the on-disk watch workspace: each watch is a
// directory under watches/ holding intent.md, an optional memory.md and a
// state.json written after every cycle.
package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

// ErrNotFound is returned when a watch directory or its intent file is
// missing.
var ErrNotFound = errors.New("watch not found")

var validName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,63}$`)

// Watch is one watch's text inputs.
type Watch struct {
	Name   string
	Dir    string
	Intent string
	Memory string
}

// Workspace is a signex root directory.
type Workspace struct {
	Root string
}

// NewWorkspace returns a Workspace rooted at root.
func NewWorkspace(root string) Workspace {
	return Workspace{Root: root}
}

// WatchDir returns watches/<name> under the root.
func (w Workspace) WatchDir(name string) string {
	return filepath.Join(w.Root, "watches", name)
}

// StatePath returns the state.json path for name.
func (w Workspace) StatePath(name string) string {
	return filepath.Join(w.WatchDir(name), "state.json")
}

// Load reads the watch's intent and memory. It returns ErrNotFound when
// the intent file is absent.
func (w Workspace) Load(name string) (Watch, error) {
	if !validName.MatchString(name) {
		return Watch{}, fmt.Errorf("watch %q: %w", name, ErrNotFound)
	}
	dir := w.WatchDir(name)
	intent, err := os.ReadFile(filepath.Join(dir, "intent.md"))
	if errors.Is(err, fs.ErrNotExist) {
		return Watch{}, fmt.Errorf("watch %q at %s: %w", name, dir, ErrNotFound)
	}
	if err != nil {
		return Watch{}, fmt.Errorf("reading intent for %s: %w", name, err)
	}
	memory, err := os.ReadFile(filepath.Join(dir, "memory.md"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Watch{}, fmt.Errorf("reading memory for %s: %w", name, err)
	}
	return Watch{
		Name:   name,
		Dir:    dir,
		Intent: string(intent),
		Memory: string(memory),
	}, nil
}

// List returns the names of all watch directories, sorted.
func (w Workspace) List() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(w.Root, "watches"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing watches: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && validName.MatchString(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
