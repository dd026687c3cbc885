package org

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	orgFile   = "org.json"
	namesFile = "custom-names.json"
	tasksDir  = "tasks"
)

// Store owns the role and agent tables, the termination log, custom names,
// and the task registry. Every mutation rewrites the owning file whole via
// temp-file + rename; readers get copies of the last committed state.
type Store struct {
	mu  sync.RWMutex
	dir string

	roles        map[string]*Role
	agents       map[string]*Agent
	terminations []Termination
	names        map[string]string
	tasks        map[string]*Task
}

type orgSnapshot struct {
	Roles        []*Role       `json:"roles"`
	Agents       []*Agent      `json:"agents"`
	Terminations []Termination `json:"terminations"`
}

// NewStore loads persisted state from dir (creating it if needed) and
// seeds the root and user singletons on first run.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, tasksDir), 0755); err != nil {
		return nil, fmt.Errorf("create runtime dir: %w", err)
	}

	s := &Store{
		dir:    dir,
		roles:  make(map[string]*Role),
		agents: make(map[string]*Agent),
		names:  make(map[string]string),
		tasks:  make(map[string]*Task),
	}

	if err := s.loadAll(); err != nil {
		return nil, err
	}
	if err := s.seedSingletons(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadAll() error {
	data, err := os.ReadFile(filepath.Join(s.dir, orgFile))
	if err == nil {
		var snap orgSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return fmt.Errorf("parse %s: %w", orgFile, err)
		}
		for _, r := range snap.Roles {
			s.roles[r.ID] = r
		}
		for _, a := range snap.Agents {
			s.agents[a.ID] = a
		}
		s.terminations = snap.Terminations
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read %s: %w", orgFile, err)
	}

	data, err = os.ReadFile(filepath.Join(s.dir, namesFile))
	if err == nil {
		if err := json.Unmarshal(data, &s.names); err != nil {
			slog.Warn("corrupt custom names file, starting clean", "error", err)
			s.names = make(map[string]string)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read %s: %w", namesFile, err)
	}

	entries, err := os.ReadDir(filepath.Join(s.dir, tasksDir))
	if err != nil {
		return fmt.Errorf("read tasks dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, tasksDir, e.Name()))
		if err != nil {
			slog.Warn("skipping unreadable task file", "file", e.Name(), "error", err)
			continue
		}
		var task Task
		if err := json.Unmarshal(data, &task); err != nil {
			slog.Warn("skipping corrupt task file", "file", e.Name(), "error", err)
			continue
		}
		if task.ID == "" {
			task.ID = e.Name()[:len(e.Name())-len(".json")]
		}
		s.tasks[task.ID] = &task
	}

	return nil
}

// seedSingletons creates the root and user agents (and their built-in
// roles) on first run. Existing records are left untouched.
func (s *Store) seedSingletons() error {
	now := time.Now()
	changed := false

	for _, seed := range []struct{ id, prompt string }{
		{RootAgentID, "You are the root coordinator of the agent organization."},
		{UserAgentID, "External user endpoint."},
	} {
		if _, ok := s.agents[seed.id]; ok {
			continue
		}
		role := &Role{
			ID:         seed.id,
			Name:       seed.id,
			RolePrompt: seed.prompt,
			CreatedBy:  seed.id,
			CreatedAt:  now,
		}
		if _, ok := s.roles[seed.id]; !ok {
			s.roles[seed.id] = role
		}
		s.agents[seed.id] = &Agent{
			ID:           seed.id,
			RoleID:       seed.id,
			Status:       StatusActive,
			CreatedAt:    now,
			LastActiveAt: now,
		}
		changed = true
	}

	if changed {
		return s.saveOrg()
	}
	return nil
}

// --- roles ---

// CreateRole adds a role and persists. Role names are not unique keys, but
// FindRoleByName returns the earliest created match.
func (s *Store) CreateRole(name, rolePrompt, llmServiceID, createdBy string) (*Role, error) {
	if name == "" {
		return nil, fmt.Errorf("role name must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	role := &Role{
		ID:           uuid.NewString(),
		Name:         name,
		RolePrompt:   rolePrompt,
		LLMServiceID: llmServiceID,
		CreatedBy:    createdBy,
		CreatedAt:    time.Now(),
	}
	s.roles[role.ID] = role

	if err := s.saveOrg(); err != nil {
		delete(s.roles, role.ID)
		return nil, err
	}
	return role, nil
}

// GetRole returns a copy of the role.
func (s *Store) GetRole(id string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[id]
	if !ok {
		return nil, ErrRoleNotFound
	}
	cp := *role
	return &cp, nil
}

// FindRoleByName returns the earliest created role with the given name.
func (s *Store) FindRoleByName(name string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *Role
	for _, r := range s.roles {
		if r.Name != name {
			continue
		}
		if found == nil || r.CreatedAt.Before(found.CreatedAt) {
			found = r
		}
	}
	if found == nil {
		return nil, ErrRoleNotFound
	}
	cp := *found
	return &cp, nil
}

// ListRoles returns copies of all roles ordered by creation time.
func (s *Store) ListRoles() []*Role {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Role, 0, len(s.roles))
	for _, r := range s.roles {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// --- agents ---

// CreateAgent registers a new agent under an existing role. The parent must
// be root or a currently active agent. taskID and brief are stored with the
// agent; ids are fresh uuids and never reused.
func (s *Store) CreateAgent(roleID, parentAgentID, taskID string, brief *TaskBrief) (*Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roles[roleID]; !ok {
		return nil, ErrRoleNotFound
	}
	parent, ok := s.agents[parentAgentID]
	if !ok || !parent.Active() {
		return nil, ErrAgentNotFound
	}

	now := time.Now()
	agent := &Agent{
		ID:            uuid.NewString(),
		RoleID:        roleID,
		ParentAgentID: parentAgentID,
		Status:        StatusActive,
		CreatedAt:     now,
		LastActiveAt:  now,
		TaskID:        taskID,
		TaskBrief:     brief,
	}
	s.agents[agent.ID] = agent

	if err := s.saveOrg(); err != nil {
		delete(s.agents, agent.ID)
		return nil, err
	}
	cp := *agent
	return &cp, nil
}

// GetAgent returns a copy of the agent record.
func (s *Store) GetAgent(id string) (*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	cp := *a
	return &cp, nil
}

// ListAgents returns copies of all agents (terminated included) ordered by
// creation time.
func (s *Store) ListAgents() []*Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Agent, 0, len(s.agents))
	for _, a := range s.agents {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ActiveChildren returns ids of active agents whose parent is the given id.
func (s *Store) ActiveChildren(parentID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for _, a := range s.agents {
		if a.ParentAgentID == parentID && a.Active() {
			out = append(out, a.ID)
		}
	}
	sort.Strings(out)
	return out
}

// TouchActivity updates the agent's last-active timestamp.
func (s *Store) TouchActivity(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return
	}
	a.LastActiveAt = time.Now()
	if err := s.saveOrg(); err != nil {
		slog.Warn("persist activity timestamp failed", "agent", id, "error", err)
	}
}

// RecordTermination flips the agent to terminated and appends to the log.
// The root and user singletons are never terminated.
func (s *Store) RecordTermination(agentID, by, reason string) error {
	if agentID == RootAgentID || agentID == UserAgentID {
		return fmt.Errorf("agent %s cannot be terminated", agentID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[agentID]
	if !ok {
		return ErrAgentNotFound
	}
	prevStatus := a.Status
	a.Status = StatusTerminated
	s.terminations = append(s.terminations, Termination{
		AgentID:      agentID,
		TerminatedBy: by,
		Reason:       reason,
		At:           time.Now(),
	})

	if err := s.saveOrg(); err != nil {
		a.Status = prevStatus
		s.terminations = s.terminations[:len(s.terminations)-1]
		return err
	}
	return nil
}

// Terminations returns a copy of the termination log in append order.
func (s *Store) Terminations() []Termination {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Termination, len(s.terminations))
	copy(out, s.terminations)
	return out
}

// --- persistence ---

// saveOrg rewrites org.json. Callers must hold s.mu.
func (s *Store) saveOrg() error {
	snap := orgSnapshot{
		Roles:        make([]*Role, 0, len(s.roles)),
		Agents:       make([]*Agent, 0, len(s.agents)),
		Terminations: s.terminations,
	}
	for _, r := range s.roles {
		snap.Roles = append(snap.Roles, r)
	}
	for _, a := range s.agents {
		snap.Agents = append(snap.Agents, a)
	}
	sort.Slice(snap.Roles, func(i, j int) bool { return snap.Roles[i].CreatedAt.Before(snap.Roles[j].CreatedAt) })
	sort.Slice(snap.Agents, func(i, j int) bool { return snap.Agents[i].CreatedAt.Before(snap.Agents[j].CreatedAt) })
	if snap.Terminations == nil {
		snap.Terminations = []Termination{}
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal org state: %w", err)
	}
	return writeAtomic(filepath.Join(s.dir, orgFile), data)
}

// Flush rewrites all owned files from current state.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.saveOrg(); err != nil {
		return err
	}
	return s.saveNames()
}

// writeAtomic writes data to path via a temp file in the same directory,
// fsync, then rename.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
