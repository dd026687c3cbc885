package org

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// CreateTask registers a new task scope rooted at the entry agent and
// persists it to tasks/<taskId>.json.
func (s *Store) CreateTask(entryAgentID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task := &Task{
		ID:           uuid.NewString(),
		EntryAgentID: entryAgentID,
		CreatedAt:    time.Now(),
	}
	s.tasks[task.ID] = task

	if err := s.saveTask(task); err != nil {
		delete(s.tasks, task.ID)
		return nil, err
	}
	cp := *task
	return &cp, nil
}

// SetAgentTask binds an agent to a task scope. Used for root children,
// whose task can only be created once the agent id exists.
func (s *Store) SetAgentTask(agentID, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[agentID]
	if !ok {
		return ErrAgentNotFound
	}
	prev := a.TaskID
	a.TaskID = taskID
	if err := s.saveOrg(); err != nil {
		a.TaskID = prev
		return err
	}
	return nil
}

// GetTask returns a copy of the task record.
func (s *Store) GetTask(taskID string) (*Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

// TaskOf returns the task id of an agent ("" when none is assigned).
func (s *Store) TaskOf(agentID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[agentID]
	if !ok {
		return ""
	}
	return a.TaskID
}

// saveTask writes one task file. Callers must hold s.mu.
func (s *Store) saveTask(task *Task) error {
	data, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	return writeAtomic(filepath.Join(s.dir, tasksDir, task.ID+".json"), data)
}
