// Package identity persists the two durable client-side fields: the
// opaque client id that identifies a participant across reconnects and
// process restarts, and the last-used display name.
package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

const fileName = "identity.json"

type record struct {
	ClientID string `json:"clientId"`
	Username string `json:"username,omitempty"`
}

// Store reads and writes the identity file under baseDir. The client id
// is generated lazily on first use and never destroyed.
type Store struct {
	mu      sync.Mutex
	baseDir string
	rec     record
	loaded  bool
}

// NewStore creates a Store rooted at baseDir. Nothing is read until the
// first accessor call.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) path() string {
	return filepath.Join(s.baseDir, fileName)
}

// ClientID returns the durable client id, generating and persisting one
// if none exists yet.
func (s *Store) ClientID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return "", err
	}
	if s.rec.ClientID != "" {
		return s.rec.ClientID, nil
	}

	s.rec.ClientID = uuid.New().String()
	if err := s.write(); err != nil {
		return "", err
	}
	return s.rec.ClientID, nil
}

// Username returns the saved display name, or "" if none was set.
func (s *Store) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return ""
	}
	return s.rec.Username
}

// SetUsername persists the display name alongside the client id.
func (s *Store) SetUsername(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return err
	}
	s.rec.Username = name
	return s.write()
}

func (s *Store) load() error {
	if s.loaded {
		return nil
	}
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			s.loaded = true
			return nil
		}
		return fmt.Errorf("read identity: %w", err)
	}
	if err := json.Unmarshal(data, &s.rec); err != nil {
		return fmt.Errorf("parse identity: %w", err)
	}
	s.loaded = true
	return nil
}

func (s *Store) write() error {
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	data, err := json.MarshalIndent(s.rec, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path(), data, 0o600); err != nil {
		return fmt.Errorf("write identity: %w", err)
	}
	return nil
}
