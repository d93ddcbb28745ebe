// Package wallets persists wallet balances as a JSON snapshot so restarts
// keep every user's holdings.
package wallets

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

const fileName = "wallets.json"

// Store writes wallet state to disk atomically via temp file.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a wallet store under dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("wallet store dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create wallet store dir")
	}
	return &Store{path: filepath.Join(dir, fileName)}, nil
}

// Load reads all persisted wallets: user id -> asset -> decimal string.
// A missing or empty file yields an empty map.
func (s *Store) Load() (map[string]map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]map[string]string{}, nil
		}
		return nil, errors.Wrap(err, "read wallets")
	}
	if len(payload) == 0 {
		return map[string]map[string]string{}, nil
	}

	var wallets map[string]map[string]string
	if err := json.Unmarshal(payload, &wallets); err != nil {
		return nil, errors.Wrap(err, "decode wallets")
	}
	if wallets == nil {
		wallets = map[string]map[string]string{}
	}
	return wallets, nil
}

// Save writes the full wallet state to disk atomically.
func (s *Store) Save(wallets map[string]map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.MarshalIndent(wallets, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode wallets")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write wallets temp file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist wallets")
	}
	return nil
}
