package runstate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileBackend stores the state as a YAML document with the top-level keys
// running, completed and failed.
type FileBackend struct {
	path string
}

// NewFileBackend creates a FileBackend at path. The file is created on first write.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Path returns the backing file path.
func (b *FileBackend) Path() string {
	return b.path
}

// Read parses the state file.
func (b *FileBackend) Read(ctx context.Context) (*State, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run state: %w", err)
	}

	var state State
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse run state: %w", err)
	}
	return state.normalize(), nil
}

// Write replaces the state file atomically (write to temp, then rename).
func (b *FileBackend) Write(ctx context.Context, state *State) error {
	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(b.path), 0755); err != nil {
		return fmt.Errorf("failed to write run state: %w", err)
	}

	tmpPath := b.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write run state: %w", err)
	}

	if err := os.Rename(tmpPath, b.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write run state: %w", err)
	}
	return nil
}
