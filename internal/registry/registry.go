// Package registry loads, queries and saves named chain definitions.
//
// The definition store is a single document keyed by chain name, YAML by
// default and TOML when the path ends in ".toml":
//
//	deploy:
//	  description: Build, test and ship
//	  steps:
//	    - /test
//	    - command: make release
//	      condition: git_clean
//
// A missing, unreadable or corrupt store loads as an empty registry so that
// trigger checks never break the host.
package registry

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"chainctl/internal/chain"
)

// ErrNotFound is returned when a chain name is not registered.
var ErrNotFound = errors.New("chain not found")

// Registry holds the chain definitions loaded from one store.
type Registry struct {
	path   string
	logger arbor.ILogger

	mu     sync.RWMutex
	chains map[string]*chain.Chain
}

// New creates an empty Registry bound to path. Call [Registry.Load] to read it.
// logger may be nil.
func New(path string, logger arbor.ILogger) *Registry {
	return &Registry{
		path:   path,
		logger: logger,
		chains: map[string]*chain.Chain{},
	}
}

// Path returns the store location.
func (r *Registry) Path() string {
	return r.path
}

func (r *Registry) isTOML() bool {
	return strings.EqualFold(filepath.Ext(r.path), ".toml")
}

// Load replaces the in-memory definitions with the store's contents and
// compiles every condition. Storage problems are logged and yield an empty
// registry.
func (r *Registry) Load() {
	chains, err := r.read()
	if err != nil {
		if r.logger != nil {
			r.logger.Warn().Err(err).Str("path", r.path).Msg("Chain definitions unreadable, using empty registry")
		}
		chains = map[string]*chain.Chain{}
	}

	r.mu.Lock()
	r.chains = chains
	r.mu.Unlock()
}

func (r *Registry) read() (map[string]*chain.Chain, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*chain.Chain{}, nil
		}
		return nil, fmt.Errorf("failed to read chain definitions: %w", err)
	}

	raw := map[string]*chain.Chain{}
	if r.isTOML() {
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return nil, fmt.Errorf("failed to parse chain definitions: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse chain definitions: %w", err)
	}

	out := make(map[string]*chain.Chain, len(raw))
	for name, c := range raw {
		if c == nil {
			c = &chain.Chain{}
		}
		c.Name = name
		c.Compile()
		out[name] = c
	}
	return out, nil
}

// Save writes every definition back to the store atomically, in the store's format.
func (r *Registry) Save() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.save()
}

func (r *Registry) save() error {
	var data []byte
	if r.isTOML() {
		doc := make(map[string]any, len(r.chains))
		for name, c := range r.chains {
			doc[name] = c.Map()
		}
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
			return fmt.Errorf("failed to marshal chain definitions: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		data, err = yaml.Marshal(r.chains)
		if err != nil {
			return fmt.Errorf("failed to marshal chain definitions: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("failed to write chain definitions: %w", err)
	}
	tmpPath := r.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write chain definitions: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write chain definitions: %w", err)
	}
	return nil
}

// Get returns the chain registered under name.
func (r *Registry) Get(name string) (*chain.Chain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.chains[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return c, nil
}

// Names returns every registered name in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.chains))
	for name := range r.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every registered chain, ordered by name.
func (r *Registry) All() []*chain.Chain {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*chain.Chain, 0, len(names))
	for _, name := range names {
		if c, ok := r.chains[name]; ok {
			out = append(out, c)
		}
	}
	return out
}

// AddOrUpdate registers def under name, compiles it and saves the store.
func (r *Registry) AddOrUpdate(name string, def *chain.Chain) error {
	if name == "" {
		return errors.New("chain name must not be empty")
	}
	def.Name = name
	def.Compile()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains[name] = def
	return r.save()
}

// Remove deletes name and saves the store.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.chains[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(r.chains, name)
	return r.save()
}
