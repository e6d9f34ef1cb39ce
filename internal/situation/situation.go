// Package situation holds the three persisted context toggles injected into
// prompts: the triage protocol, first-aid availability, and the current
// situation description. State is snapshotted to a versioned JSON file after
// every mutation and reloaded at startup.
package situation

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// snapshotVersion allows the snapshot schema to evolve safely. Snapshots with
// an unknown version are treated as corrupt and replaced with defaults.
const snapshotVersion = 1

// Availability enumerates first-aid availability levels.
type Availability string

const (
	AvailabilityImmediate    Availability = "Immediate"
	AvailabilityNonImmediate Availability = "Non-Immediate"
	AvailabilityUnavailable  Availability = "Unavailable"
)

func validAvailability(a Availability) bool {
	switch a {
	case AvailabilityImmediate, AvailabilityNonImmediate, AvailabilityUnavailable:
		return true
	}
	return false
}

// Triage is the triage-protocol toggle.
type Triage struct {
	Enabled  bool              `json:"enabled"`
	Protocol map[string]string `json:"protocol"`
}

// FirstAid is the first-aid availability toggle.
type FirstAid struct {
	Enabled      bool         `json:"enabled"`
	Availability Availability `json:"availability"`
}

// Current is the current-situation toggle.
type Current struct {
	Enabled   bool   `json:"enabled"`
	Situation string `json:"situation"`
}

type snapshot struct {
	Version  int      `json:"schema_version"`
	Triage   Triage   `json:"triage"`
	FirstAid FirstAid `json:"first_aid"`
	Current  Current  `json:"current_situation"`
}

func defaultSnapshot() snapshot {
	return snapshot{
		Version:  snapshotVersion,
		Triage:   Triage{Protocol: map[string]string{}},
		FirstAid: FirstAid{Availability: AvailabilityImmediate},
		Current:  Current{},
	}
}

// Manager guards the toggle state and persists it to the snapshot path.
type Manager struct {
	path   string
	logger *slog.Logger

	mu    sync.RWMutex
	state snapshot
}

// Load reads the snapshot at path, falling back to defaults (and re-saving
// them immediately) when the file is missing or corrupt.
func Load(path string) (*Manager, error) {
	m := &Manager{path: path, logger: slog.Default()}

	data, err := os.ReadFile(path)
	if err == nil {
		var snap snapshot
		if jsonErr := json.Unmarshal(data, &snap); jsonErr == nil && snap.Version == snapshotVersion {
			if snap.Triage.Protocol == nil {
				snap.Triage.Protocol = map[string]string{}
			}
			if !validAvailability(snap.FirstAid.Availability) {
				snap.FirstAid.Availability = AvailabilityImmediate
			}
			m.state = snap
			return m, nil
		}
		m.logger.Warn("situation snapshot corrupt, restoring defaults", "path", path)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading situation snapshot: %w", err)
	}

	m.state = defaultSnapshot()
	if err := m.save(); err != nil {
		return nil, err
	}
	return m, nil
}

// save writes the snapshot. Callers hold m.mu (or run before the Manager is
// shared).
func (m *Manager) save() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding situation snapshot: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("writing situation snapshot: %w", err)
	}
	return nil
}

// Triage returns a copy of the triage toggle.
func (m *Manager) Triage() Triage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	protocol := make(map[string]string, len(m.state.Triage.Protocol))
	for k, v := range m.state.Triage.Protocol {
		protocol[k] = v
	}
	return Triage{Enabled: m.state.Triage.Enabled, Protocol: protocol}
}

// FirstAid returns the first-aid toggle.
func (m *Manager) FirstAid() FirstAid {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.FirstAid
}

// Current returns the current-situation toggle.
func (m *Manager) Current() Current {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Current
}

// SetTriageEnabled toggles triage context.
func (m *Manager) SetTriageEnabled(enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Triage.Enabled = enabled
	return m.save()
}

// UpdateProtocol replaces the triage protocol.
func (m *Manager) UpdateProtocol(protocol map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if protocol == nil {
		protocol = map[string]string{}
	}
	m.state.Triage.Protocol = protocol
	return m.save()
}

// SetFirstAidEnabled toggles first-aid availability context.
func (m *Manager) SetFirstAidEnabled(enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.FirstAid.Enabled = enabled
	return m.save()
}

// SetAvailability sets the first-aid availability level. Values outside the
// enum fail validation and leave the state unchanged.
func (m *Manager) SetAvailability(a Availability) error {
	if !validAvailability(a) {
		return fmt.Errorf("invalid availability %q: must be one of %q, %q, %q",
			a, AvailabilityImmediate, AvailabilityNonImmediate, AvailabilityUnavailable)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.FirstAid.Availability = a
	return m.save()
}

// SetCurrentEnabled toggles current-situation context.
func (m *Manager) SetCurrentEnabled(enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Current.Enabled = enabled
	return m.save()
}

// SetSituation replaces the current-situation description.
func (m *Manager) SetSituation(situation string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Current.Situation = situation
	return m.save()
}
