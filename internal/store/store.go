// Package store keeps thermostat attributes in a JSON file, for hosts that
// run without the SQLite database.
package store

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

type Store struct {
	path string
}

func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// Load returns the saved attributes, or nil when the file does not exist.
func (s *Store) Load() (map[string]any, error) {
	file, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var attrs map[string]any
	if err := json.NewDecoder(file).Decode(&attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}

// Save writes attrs through a temporary file so a crash never leaves a
// truncated state file behind.
func (s *Store) Save(attrs map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmpPath := s.path + ".tmp"

	file, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(attrs); err != nil {
		file.Close()
		return err
	}
	file.Sync()
	file.Close()

	return os.Rename(tmpPath, s.path)
}
