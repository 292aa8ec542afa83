// Package history records when the host last issued a command.
//
// The record backs the elapsed-time expressions (hours_since_last_command,
// days_since_last_command, first_command_today). It is a single YAML document
// rewritten on every invocation.
package history

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Record is the on-disk shape of the history file.
type Record struct {
	LastCommand string    `yaml:"last_command,omitempty"`
	LastAt      time.Time `yaml:"last_at,omitempty"`
	Invocations int       `yaml:"invocations"`
}

// Store reads and writes the history record at a fixed path.
//
// Store is safe for concurrent use within one process. Writers in other
// processes race with last-writer-wins semantics.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a Store backed by path. The file is created lazily.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Read returns the current record. A missing file is an empty record.
func (s *Store) Read() (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *Store) read() (Record, error) {
	var rec Record
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return rec, nil
		}
		return rec, fmt.Errorf("failed to read command history: %w", err)
	}
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to parse command history: %w", err)
	}
	return rec, nil
}

// Record notes that command was invoked at at.
//
// A corrupt history file is replaced rather than blocking the write.
func (s *Store) Record(command string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, _ := s.read()
	rec.LastCommand = command
	rec.LastAt = at
	rec.Invocations++

	data, err := yaml.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("failed to marshal command history: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to write command history: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write command history: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write command history: %w", err)
	}
	return nil
}

// LastInvocation implements expr.History. Unreadable history counts as none.
func (s *Store) LastInvocation() (time.Time, bool) {
	rec, err := s.Read()
	if err != nil || rec.LastAt.IsZero() {
		return time.Time{}, false
	}
	return rec.LastAt, true
}
