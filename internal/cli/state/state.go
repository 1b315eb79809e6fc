package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// State is what the CLI remembers between runs.
type State struct {
	AccessToken string `json:"access_token,omitempty"`
	// GuestID is the anonymous identity cookie issued by the service. Reusing
	// it keeps the guest quota attached to one identity.
	GuestID string `json:"guest_id,omitempty"`
}

func Load(path string) (State, error) {
	var st State
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, fmt.Errorf("read cli state failed: %w", err)
	}
	if len(data) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("parse cli state failed: %w", err)
	}
	return st, nil
}

func Save(path string, st State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cli state dir failed: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cli state failed: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write cli state failed: %w", err)
	}
	return nil
}

func Clear(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cli state failed: %w", err)
	}
	return nil
}

// Store keeps a State in memory and writes it back to path on every change.
// It satisfies the identity contract of the CLI HTTP client.
type Store struct {
	mu   sync.Mutex
	path string
	st   State
}

// Open loads the state at path.
func Open(path string) (*Store, error) {
	st, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, st: st}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.AccessToken
}

func (s *Store) GuestID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GuestID
}

// SetToken replaces the access token and persists it. An empty token logs out.
func (s *Store) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.AccessToken = token
	return Save(s.path, s.st)
}

// SetGuestID records the guest cookie. Persist failures are ignored so a
// read-only state file never breaks a request.
func (s *Store) SetGuestID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.GuestID = id
	_ = Save(s.path, s.st)
}

// Override sets the token for this run only.
func (s *Store) Override(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.AccessToken = token
}
