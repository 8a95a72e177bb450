// Package state keeps the single durable record of the browser position
// ({url, scrollX, scrollY}) that new sessions resume from.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/shehryarbajwa/browserbase-live/pkg/models"
)

// Store reads and writes the persisted session state file whole.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a store backed by path. The file need not exist yet.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &Store{path: path}, nil
}

// Path returns the backing file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the stored state. A missing or unreadable file yields the zero state.
func (s *Store) Load() (models.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// Save overwrites the stored state.
func (s *Store) Save(st models.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(st)
}

// Update applies fn to the current state and writes the result.
func (s *Store) Update(fn func(*models.SessionState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, _ := s.loadLocked()
	fn(&st)
	return s.saveLocked(st)
}

// ReplaceFrom validates a state file from elsewhere (e.g. an imported bundle)
// and installs it as the current state.
func (s *Store) ReplaceFrom(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read session state: %w", err)
	}
	var st models.SessionState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("parse session state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(st)
}

func (s *Store) loadLocked() (models.SessionState, error) {
	var st models.SessionState
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return st, nil
		}
		return st, fmt.Errorf("read session state: %w", err)
	}
	if len(data) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return models.SessionState{}, fmt.Errorf("parse session state: %w", err)
	}
	return st, nil
}

// saveLocked writes to a sibling temp file and renames it over the target so a
// crash never leaves a truncated record.
func (s *Store) saveLocked(st models.SessionState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session_state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write session state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace session state: %w", err)
	}
	return nil
}
