/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Identity is the local player record. Created on the first create/join,
// it survives restarts so an interrupted game can be resumed, and is
// destroyed only by an explicit leave.
type Identity struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	GameCode   string `json:"gameCode,omitempty"`
}

// IdentityStore reads and writes the identity file. Values must not be
// trusted until Hydrate has run: before that, "not yet read" would be
// indistinguishable from "absent".
type IdentityStore struct {
	mu       sync.Mutex
	path     string
	identity Identity
	hydrated bool
}

func newIdentityStore(path string) *IdentityStore {
	return &IdentityStore{path: path}
}

// defaultIdentityPath places the identity file under the user config dir.
func defaultIdentityPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", ".tfadhloon", "identity.json")
	}
	return filepath.Join(dir, "tfadhloon", "identity.json")
}

// Hydrate loads the identity file. A missing file is not an error; the
// store simply hydrates empty.
func (s *IdentityStore) Hydrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.hydrated = true
			return nil
		}
		return fmt.Errorf("reading identity file: %w", err)
	}

	var id Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return fmt.Errorf("parsing identity file %s: %w", s.path, err)
	}

	s.identity = id
	s.hydrated = true
	return nil
}

// Value returns the stored identity and whether hydration has completed.
func (s *IdentityStore) Value() (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity, s.hydrated
}

// Save writes the identity through to disk.
func (s *IdentityStore) Save(id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating identity dir: %w", err)
	}

	raw, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding identity: %w", err)
	}

	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("writing identity file: %w", err)
	}

	s.identity = id
	s.hydrated = true
	return nil
}

// Clear removes the identity file. The store stays hydrated; the player
// is simply gone.
func (s *IdentityStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.identity = Identity{}
	s.hydrated = true

	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing identity file: %w", err)
	}
	return nil
}
