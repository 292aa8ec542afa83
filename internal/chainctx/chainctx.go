// Package chainctx builds, substitutes and persists the key/value context that
// flows through a chain run.
//
// A run's context starts from the chain's default values, optionally seeded
// from the last persisted record, and is overridden by caller-supplied values.
// Step commands reference entries with ${key} tokens.
package chainctx

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"
)

// Context maps keys to values. Values render with fmt.Sprint on substitution.
type Context map[string]any

var tokenPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_.-]+)\}`)

// Build merges defaults and overrides into a new Context. Overrides win.
func Build(defaults, overrides map[string]any) Context {
	out := make(Context, len(defaults)+len(overrides))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Substitute replaces each ${key} in s with the rendered value of key.
// Tokens without a matching key are left verbatim, so substituting twice with
// the same context yields the same string.
func Substitute(s string, ctx Context) string {
	if len(ctx) == 0 {
		return s
	}
	return tokenPattern.ReplaceAllStringFunc(s, func(tok string) string {
		key := tokenPattern.FindStringSubmatch(tok)[1]
		v, ok := ctx[key]
		if !ok {
			return tok
		}
		return fmt.Sprint(v)
	})
}

// Manager owns the persisted context record: a single YAML document holding
// the most recently saved keys.
type Manager struct {
	path string
	mu   sync.Mutex
}

// NewManager creates a Manager backed by the record at path.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Path returns the record location.
func (m *Manager) Path() string {
	return m.path
}

// Persist writes the named keys of ctx to the record, replacing whatever was
// there. Keys absent from ctx are skipped. An empty keys list is a no-op.
func (m *Manager) Persist(ctx Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	saved := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := ctx[k]; ok {
			saved[k] = v
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := yaml.Marshal(saved)
	if err != nil {
		return fmt.Errorf("failed to marshal chain context: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to write chain context: %w", err)
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write chain context: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write chain context: %w", err)
	}
	return nil
}

// Saved returns the persisted record. A missing or unreadable record is empty.
func (m *Manager) Saved() Context {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		return Context{}
	}
	var out Context
	if err := yaml.Unmarshal(data, &out); err != nil || out == nil {
		return Context{}
	}
	return out
}
