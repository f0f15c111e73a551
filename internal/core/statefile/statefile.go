// Package statefile persists quota and session state as JSON documents in
// a directory, for deployments that run without a database.
package statefile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cadencectl/cadence/internal/core"
)

const (
	QuotaFile   = "quota.json"
	SessionFile = "session.json"
)

// Store reads and writes state files under Dir.
type Store struct {
	Dir string

	mu sync.Mutex
}

// New returns a Store rooted at dir, creating it when missing.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("state directory is required")
	}
	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &Store{Dir: dir}, nil
}

// LoadQuota returns nil, nil when no quota file exists.
func (s *Store) LoadQuota(ctx context.Context) (*core.QuotaState, error) {
	var state core.QuotaState
	found, err := s.load(QuotaFile, &state)
	if err != nil || !found {
		return nil, err
	}
	return &state, nil
}

// SaveQuota writes the quota file.
func (s *Store) SaveQuota(ctx context.Context, state *core.QuotaState) error {
	if state == nil {
		return errors.New("quota state is required")
	}
	return s.save(QuotaFile, state)
}

// LoadSession returns nil, nil when no session file exists.
func (s *Store) LoadSession(ctx context.Context) (*core.SessionState, error) {
	var state core.SessionState
	found, err := s.load(SessionFile, &state)
	if err != nil || !found {
		return nil, err
	}
	return &state, nil
}

// SaveSession writes the session file.
func (s *Store) SaveSession(ctx context.Context, state *core.SessionState) error {
	if state == nil {
		return errors.New("session state is required")
	}
	return s.save(SessionFile, state)
}

func (s *Store) load(name string, v any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.Dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", name, err)
	}
	return true, nil
}

// save writes through a temp file and rename so a crash mid-write leaves
// the previous document intact.
func (s *Store) save(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.Dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.Dir, name)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}
