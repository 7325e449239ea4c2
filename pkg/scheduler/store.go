package scheduler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

// Store persists the job list as a JSON array. Writes go through a temp
// file and rename so a crash never leaves a torn job file.
type Store struct {
	path string
}

// NewStore points a store at path, conventionally
// <data-dir>/scheduled-backups.json. The file is created on first save.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads every persisted job. A missing file is an empty schedule.
func (s *Store) Load() ([]*ScheduledBackup, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return []*ScheduledBackup{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read scheduled backups: %w", err)
	}

	var jobs []*ScheduledBackup
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("failed to parse scheduled backups %s: %w", s.path, err)
	}
	return jobs, nil
}

// Save replaces the persisted job list.
func (s *Store) Save(jobs []*ScheduledBackup) error {
	if jobs == nil {
		jobs = []*ScheduledBackup{}
	}
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal scheduled backups: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create scheduled backups directory: %w", err)
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write scheduled backups: %w", err)
	}
	return nil
}
