package sensor

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
)

// Registry resolves adapter ids to runnable adapters.
type Registry struct {
	root    string
	python  string
	timeout time.Duration
	entries map[ID]Entry
}

// Entry overrides how one adapter is launched.
type Entry struct {
	Command  []string `toml:"command"`
	Timeout  string   `toml:"timeout,omitempty"`
	Disabled bool     `toml:"disabled,omitempty"`
}

type registryFile struct {
	Sensors map[string]Entry `toml:"sensors"`
}

// NewRegistry returns a registry with no overrides. Every adapter runs
// <python> .claude/skills/<id>/scripts/<fetch|search>.py from root.
func NewRegistry(root, python string, timeout time.Duration) *Registry {
	if python == "" {
		python = "python3"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Registry{
		root:    root,
		python:  python,
		timeout: timeout,
		entries: make(map[ID]Entry),
	}
}

// LoadRegistry reads overrides from a sensors.toml file. A missing file
// yields the default registry.
func LoadRegistry(path, root, python string, timeout time.Duration) (*Registry, error) {
	r := NewRegistry(root, python, timeout)

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening sensor registry: %w", err)
	}
	defer f.Close()

	var file registryFile
	if _, err := toml.NewDecoder(f).Decode(&file); err != nil {
		return nil, fmt.Errorf("decoding sensor registry %s: %w", path, err)
	}

	for name, e := range file.Sensors {
		id, err := Parse(name)
		if err != nil {
			return nil, fmt.Errorf("sensor registry %s: %w", path, err)
		}
		if e.Timeout != "" {
			if _, err := time.ParseDuration(e.Timeout); err != nil {
				return nil, fmt.Errorf("sensor registry %s: timeout for %s: %w", path, name, err)
			}
		}
		r.entries[id] = e
	}
	return r, nil
}

// Enabled reports whether id may be selected.
func (r *Registry) Enabled(id ID) bool {
	return id.Valid() && !r.entries[id].Disabled
}

// Disabled returns the ids switched off in the registry, sorted.
func (r *Registry) Disabled() []ID {
	var out []ID
	for id, e := range r.entries {
		if e.Disabled {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Command returns the argv used to launch id.
func (r *Registry) Command(id ID) []string {
	if e, ok := r.entries[id]; ok && len(e.Command) > 0 {
		return append([]string{}, e.Command...)
	}
	script := filepath.Join(".claude", "skills", string(id), "scripts", id.scriptName())
	return []string{r.python, script}
}

// Adapter returns the command adapter for id.
func (r *Registry) Adapter(id ID) Adapter {
	timeout := r.timeout
	if e, ok := r.entries[id]; ok && e.Timeout != "" {
		if d, err := time.ParseDuration(e.Timeout); err == nil {
			timeout = d
		}
	}
	return NewCommandAdapter(id, r.Command(id), r.root, timeout)
}

// Entry returns the override for id, if any.
func (r *Registry) Entry(id ID) (Entry, bool) {
	e, ok := r.entries[id]
	return e, ok
}

// Set installs an override for id.
func (r *Registry) Set(id ID, e Entry) {
	r.entries[id] = e
}

// Encode writes the registry overrides in sensors.toml form.
func (r *Registry) Encode(w io.Writer) error {
	file := registryFile{Sensors: make(map[string]Entry, len(r.entries))}
	for id, e := range r.entries {
		file.Sensors[string(id)] = e
	}
	if err := toml.NewEncoder(w).Encode(file); err != nil {
		return fmt.Errorf("encoding sensor registry: %w", err)
	}
	return nil
}
