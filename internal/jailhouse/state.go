package jailhouse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"poudctl/internal/metrics"
	"poudctl/pkg/jailspec"
)

// persistedState represents the JSON structure saved to disk.
type persistedState struct {
	Version string                `json:"version"`
	Updated time.Time             `json:"updated"`
	Jails   map[string]*JailState `json:"jails"`
}

// SaveState persists the jail registry to disk.
func (m *Manager) SaveState() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saveStateUnlocked()
}

// saveStateUnlocked persists state without acquiring locks.
// Caller must hold at least a read lock.
func (m *Manager) saveStateUnlocked() error {
	state := persistedState{
		Version: "1",
		Updated: time.Now(),
		Jails:   m.jails,
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.statePath), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	if err := writeAtomic(m.statePath, data, 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}

// LoadState restores the jail registry from disk.
func (m *Manager) LoadState() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.statePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read state file: %w", err)
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("unmarshal state: %w", err)
	}

	m.jails = state.Jails
	if m.jails == nil {
		m.jails = make(map[string]*JailState)
	}
	metrics.SetManagedJails(len(m.jails))

	m.logger.Info("loaded state", "jails", len(m.jails), "version", state.Version,
		"updated", state.Updated.Format(time.RFC3339))
	return nil
}

// ReconcileState drops entries for present jails whose poudriere jail
// directory is gone, for example after a manual "poudriere jail -d".
func (m *Manager) ReconcileState(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for name, state := range m.jails {
		if state.Ensure == jailspec.EnsureAbsent {
			continue
		}
		exists, err := m.exec.Exists(ctx, m.layout.JailMarkerPath(state.JailName))
		if err != nil {
			return fmt.Errorf("check jail %s: %w", name, err)
		}
		if !exists {
			m.logger.Info("removing stale state", "jail", name)
			delete(m.jails, name)
			removed++
		}
	}

	if removed > 0 {
		metrics.SetManagedJails(len(m.jails))
		if err := m.saveStateUnlocked(); err != nil {
			return fmt.Errorf("save reconciled state: %w", err)
		}
	}
	return nil
}
