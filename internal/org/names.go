package org

import (
	"encoding/json"
	"fmt"
	"path/filepath"
)

// SetCustomName records a human-readable name for the agent. Writes to
// custom-names.json serialize through the store mutex.
func (s *Store) SetCustomName(agentID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[agentID]
	if !ok {
		return ErrAgentNotFound
	}

	s.names[agentID] = name
	a.CustomName = name

	if err := s.saveNames(); err != nil {
		return err
	}
	return s.saveOrg()
}

// CustomName returns the agent's custom name, if any.
func (s *Store) CustomName(agentID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.names[agentID]
}

// CustomNames returns a copy of the whole name table.
func (s *Store) CustomNames() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.names))
	for k, v := range s.names {
		out[k] = v
	}
	return out
}

// NameTaken reports whether any agent already carries the name.
func (s *Store) NameTaken(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.names {
		if n == name {
			return true
		}
	}
	return false
}

// saveNames rewrites custom-names.json. Callers must hold s.mu.
func (s *Store) saveNames() error {
	data, err := json.MarshalIndent(s.names, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal custom names: %w", err)
	}
	return writeAtomic(filepath.Join(s.dir, namesFile), data)
}
