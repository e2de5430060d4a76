package profile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// IdentityPath is the identity document relative to the workspace root.
const IdentityPath = "profile/identity.md"

// Source reads the raw identity document.
type Source interface {
	ReadIdentity() (string, error)
}

// FileSource reads profile/identity.md under Root. A missing file reads as
// empty.
type FileSource struct {
	Root string
}

func (s FileSource) ReadIdentity() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.Root, IdentityPath))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager provides cached access to the identity profile.
type Manager struct {
	src   Source
	clock Clock
	ttl   time.Duration

	mu       sync.RWMutex
	cached   *Profile
	cachedAt time.Time
}

// NewManager creates a Manager over the workspace at root with a 60-second
// cache TTL.
func NewManager(root string) *Manager {
	return &Manager{
		src:   FileSource{Root: root},
		clock: realClock{},
		ttl:   60 * time.Second,
	}
}

// NewManagerWithClock creates a Manager with a custom source and clock (for testing).
func NewManagerWithClock(src Source, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		src:   src,
		clock: clock,
		ttl:   ttl,
	}
}

// GetProfile reads the identity document (or cache) and parses it. A
// missing document yields a zero Profile.
func (m *Manager) GetProfile() (Profile, error) {
	m.mu.RLock()
	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		p := *m.cached
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		return *m.cached, nil
	}

	text, err := m.src.ReadIdentity()
	if err != nil {
		return Profile{}, fmt.Errorf("reading identity: %w", err)
	}

	p := Parse(text)
	m.cached = &p
	m.cachedAt = m.clock.Now()
	return p, nil
}

// Invalidate drops the cached profile.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()
}

// Load reads and parses the identity under root without caching.
func Load(root string) (Profile, error) {
	text, err := FileSource{Root: root}.ReadIdentity()
	if err != nil {
		return Profile{}, fmt.Errorf("reading identity: %w", err)
	}
	return Parse(text), nil
}

var fieldLine = regexp.MustCompile(`(?im)^\s*-\s*(role|domain|report language|focus)\s*:\s*(.+)$`)

// Parse extracts the "- Key: value" fields from an identity document.
// Template placeholders in parentheses are treated as unset.
func Parse(text string) Profile {
	p := Profile{Raw: text}
	for _, m := range fieldLine.FindAllStringSubmatch(text, -1) {
		value := strings.TrimSpace(m[2])
		if value == "" || strings.HasPrefix(value, "(") {
			continue
		}
		switch strings.ToLower(m[1]) {
		case "role":
			p.Role = value
		case "domain":
			p.Domain = value
		case "report language":
			p.ReportLanguage = value
		case "focus":
			p.Focus = value
		}
	}
	return p
}

func parseLanguage(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	switch {
	case v == "":
		return ""
	case strings.Contains(v, "chinese"), strings.Contains(v, "中文"):
		return "zh"
	case strings.Contains(v, "english"), strings.Contains(v, "英文"):
		return "en"
	}
	return ""
}
