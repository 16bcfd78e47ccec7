// Package state persists engine snapshots through the storage layer. One
// logical mutation produces one snapshot write; restart replays the latest.
package state

import (
	"errors"
	"fmt"

	"poolgov/native/votes"
	"poolgov/storage"
)

var engineStateKey = []byte("gov/engine/state")

// Manager saves and restores the consensus engine's mutable state.
type Manager struct {
	db storage.Database
}

// NewManager binds the manager to a database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// SaveEngine persists the engine's full state under a single key.
func (m *Manager) SaveEngine(engine *votes.Engine) error {
	if m == nil || m.db == nil {
		return errors.New("state: manager not configured")
	}
	data, err := engine.MarshalState()
	if err != nil {
		return fmt.Errorf("state: marshal engine: %w", err)
	}
	return m.db.Put(engineStateKey, data)
}

// LoadEngine restores a previously saved snapshot into the engine. It
// reports false without error when no snapshot exists yet.
func (m *Manager) LoadEngine(engine *votes.Engine) (bool, error) {
	if m == nil || m.db == nil {
		return false, errors.New("state: manager not configured")
	}
	data, err := m.db.Get(engineStateKey)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := engine.RestoreState(data); err != nil {
		return false, fmt.Errorf("state: restore engine: %w", err)
	}
	return true, nil
}
