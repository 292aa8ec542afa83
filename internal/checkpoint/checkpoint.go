// Package checkpoint stores snapshots of a chain run taken after marked steps.
//
// Each checkpoint is one YAML file named <chain>-<id>.yaml under the
// checkpoint directory, where id is a random UUID.
package checkpoint

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"chainctl/internal/runstate"
)

// Checkpoint is a snapshot of a run after one step.
type Checkpoint struct {
	ID        string                `yaml:"id" json:"id"`
	Chain     string                `yaml:"chain" json:"chain"`
	Step      int                   `yaml:"step" json:"step"`
	Marker    string                `yaml:"marker" json:"marker"`
	Context   map[string]any        `yaml:"context,omitempty" json:"context,omitempty"`
	Results   []runstate.StepResult `yaml:"results,omitempty" json:"results,omitempty"`
	CreatedAt time.Time             `yaml:"created_at" json:"created_at"`
}

// Store writes and lists checkpoints in a directory.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir. The directory is created on first write.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Create assigns cp an ID (and a creation time when unset) and writes it.
func (s *Store) Create(cp Checkpoint) (Checkpoint, error) {
	cp.ID = uuid.NewString()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}

	data, err := yaml.Marshal(&cp)
	if err != nil {
		return cp, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return cp, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	path := filepath.Join(s.dir, fileStem(cp.Chain)+"-"+cp.ID+".yaml")
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return cp, fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return cp, fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return cp, nil
}

// List returns the checkpoints for chain, oldest first. Unreadable files are skipped.
func (s *Store) List(chain string) ([]Checkpoint, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	var out []Checkpoint
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".yaml") || !strings.HasPrefix(name, fileStem(chain)+"-") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		var cp Checkpoint
		if err := yaml.Unmarshal(data, &cp); err != nil || cp.Chain != chain {
			continue
		}
		out = append(out, cp)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// fileStem escapes path separators so a chain name always maps to a file
// directly inside the checkpoint directory.
func fileStem(chain string) string {
	return url.PathEscape(chain)
}
