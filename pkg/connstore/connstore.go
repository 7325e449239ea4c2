// Package connstore persists named connection profiles between runs.
package connstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/natefinch/atomic"

	"github.com/supporttools/GoDBVault/pkg/database/common"
)

// Store is where connection profiles live. Implementations that need
// encryption or a remote backend wrap or replace FileStore; the core only
// ever talks to this interface.
type Store interface {
	Connections() ([]common.ConnectionConfig, error)
	SaveConnections([]common.ConnectionConfig) error
}

// FileStore keeps profiles as a plaintext JSON array on disk. Writes go
// through a temp file and rename so a crash never leaves a torn store.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore points a store at path. The file is created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Connections loads every stored profile. A missing file is an empty
// store, not an error.
func (s *FileStore) Connections() ([]common.ConnectionConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return []common.ConnectionConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read connection store: %w", err)
	}

	var configs []common.ConnectionConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("failed to parse connection store %s: %w", s.path, err)
	}
	return configs, nil
}

// SaveConnections replaces the stored profile set.
func (s *FileStore) SaveConnections(configs []common.ConnectionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if configs == nil {
		configs = []common.ConnectionConfig{}
	}
	data, err := json.MarshalIndent(configs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal connection store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create connection store directory: %w", err)
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write connection store: %w", err)
	}
	return nil
}

// Find resolves a profile by ID first, then by case-insensitive name.
func Find(configs []common.ConnectionConfig, key string) (common.ConnectionConfig, bool) {
	for _, cfg := range configs {
		if cfg.ID == key {
			return cfg, true
		}
	}
	for _, cfg := range configs {
		if strings.EqualFold(cfg.Name, key) {
			return cfg, true
		}
	}
	return common.ConnectionConfig{}, false
}
