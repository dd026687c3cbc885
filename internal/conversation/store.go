// Package conversation owns per-agent LLM-shaped history: ordered entries,
// context compression, token estimation, and crash-safe persistence under
// <runtimeDir>/conversations/.
package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/goswarm/internal/providers"
)

// SummaryPrefix marks the synthetic system entry produced by compression.
const SummaryPrefix = "[Historical Summary] "

// Budget band levels, ordered by severity.
const (
	LevelOK       = "ok"
	LevelWarning  = "warning"
	LevelCritical = "critical"
	LevelHard     = "hard"
)

// Default band thresholds as fractions of the token budget.
const (
	defaultWarningPct  = 0.70
	defaultCriticalPct = 0.90
	defaultHardPct     = 0.95
)

// ErrNoConversation is returned for agents that never had Ensure called.
var ErrNoConversation = errors.New("conversation_not_found")

// CompressResult reports what Compress did.
type CompressResult struct {
	Compressed    bool `json:"compressed"`
	OriginalCount int  `json:"originalCount"`
	NewCount      int  `json:"newCount"`
}

// Status is the token-budget report for one agent.
type Status struct {
	Entries   int     `json:"entries"`
	Tokens    int     `json:"tokens"`
	MaxTokens int     `json:"maxTokens"`
	Percent   float64 `json:"percent"`
	Level     string  `json:"level"`
}

// Store keeps every agent's history in memory and mirrors each mutation to
// one JSON file per agent. Files are rewritten whole via temp + rename, so
// a crash leaves either the old or the new history, never a torn one.
type Store struct {
	mu        sync.RWMutex
	dir       string
	histories map[string][]providers.Message

	maxTokens   int
	warningPct  float64
	criticalPct float64
	hardPct     float64
}

// Option adjusts a Store at construction time.
type Option func(*Store)

// WithBands overrides the warning/critical/hard thresholds (fractions of
// the token budget).
func WithBands(warning, critical, hard float64) Option {
	return func(s *Store) {
		s.warningPct = warning
		s.criticalPct = critical
		s.hardPct = hard
	}
}

// NewStore loads all persisted conversations from dir (creating it if
// needed). maxTokens is the context hard budget the bands are computed
// against.
func NewStore(dir string, maxTokens int, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create conversations dir: %w", err)
	}
	s := &Store{
		dir:         dir,
		histories:   make(map[string][]providers.Message),
		maxTokens:   maxTokens,
		warningPct:  defaultWarningPct,
		criticalPct: defaultCriticalPct,
		hardPct:     defaultHardPct,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.loadAll()
	return s, nil
}

func (s *Store) loadAll() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			slog.Warn("skipping unreadable conversation file", "file", e.Name(), "error", err)
			continue
		}
		var history []providers.Message
		if err := json.Unmarshal(data, &history); err != nil {
			slog.Warn("skipping corrupt conversation file", "file", e.Name(), "error", err)
			continue
		}
		agentID := strings.TrimSuffix(e.Name(), ".json")
		s.histories[agentID] = history
	}
}

// Ensure creates the agent's history seeded with a system entry. Existing
// non-empty histories are left untouched.
func (s *Store) Ensure(agentID, systemPrompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.histories[agentID]; ok && len(h) > 0 {
		return nil
	}
	s.histories[agentID] = []providers.Message{{Role: "system", Content: systemPrompt}}
	return s.saveLocked(agentID)
}

// Append adds one entry to the agent's history and persists it. The
// history is created on first append if Ensure was never called.
func (s *Store) Append(agentID string, entry providers.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.histories[agentID] = append(s.histories[agentID], entry)
	return s.saveLocked(agentID)
}

// Get returns a copy of the agent's history, nil when unknown.
func (s *Store) Get(agentID string) []providers.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.histories[agentID]
	if !ok {
		return nil
	}
	out := make([]providers.Message, len(h))
	copy(out, h)
	return out
}

// Len returns the entry count for the agent, 0 when unknown.
func (s *Store) Len(agentID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.histories[agentID])
}

// Known reports whether the agent has a history (possibly empty).
func (s *Store) Known(agentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.histories[agentID]
	return ok
}

// Compress replaces the middle of the history with a summary entry. The
// result is exactly [history[0], summary system entry, last keepRecent
// entries]. Histories of length <= keepRecent+1 are left unchanged.
func (s *Store) Compress(agentID, summary string, keepRecent int) (CompressResult, error) {
	if keepRecent < 0 {
		return CompressResult{}, fmt.Errorf("keepRecent must be >= 0, got %d", keepRecent)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.histories[agentID]
	if !ok {
		return CompressResult{}, ErrNoConversation
	}
	if len(h) <= keepRecent+1 {
		return CompressResult{Compressed: false, OriginalCount: len(h), NewCount: len(h)}, nil
	}

	compressed := make([]providers.Message, 0, keepRecent+2)
	compressed = append(compressed, h[0])
	compressed = append(compressed, providers.Message{
		Role:    "system",
		Content: SummaryPrefix + summary,
	})
	compressed = append(compressed, h[len(h)-keepRecent:]...)

	s.histories[agentID] = compressed
	if err := s.saveLocked(agentID); err != nil {
		s.histories[agentID] = h
		return CompressResult{}, err
	}
	return CompressResult{Compressed: true, OriginalCount: len(h), NewCount: len(compressed)}, nil
}

// Delete removes the agent's history from memory and disk.
func (s *Store) Delete(agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.histories, agentID)
	path, err := s.filePath(agentID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove conversation file: %w", err)
	}
	return nil
}

// EstimateTokens returns the deterministic chars/4 approximation over the
// agent's whole history, tool calls included.
func (s *Store) EstimateTokens(agentID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return estimateTokens(s.histories[agentID])
}

func estimateTokens(history []providers.Message) int {
	chars := 0
	for _, m := range history {
		chars += len(m.Role) + len(m.Content) + len(m.ToolCallID)
		for _, tc := range m.ToolCalls {
			chars += len(tc.Name)
			if len(tc.Arguments) > 0 {
				if raw, err := json.Marshal(tc.Arguments); err == nil {
					chars += len(raw)
				}
			}
		}
	}
	return chars / 4
}

// Band reports where the agent's history sits against the token budget.
func (s *Store) Band(agentID string) Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := s.histories[agentID]
	tokens := estimateTokens(h)
	st := Status{
		Entries:   len(h),
		Tokens:    tokens,
		MaxTokens: s.maxTokens,
		Level:     LevelOK,
	}
	if s.maxTokens <= 0 {
		return st
	}
	st.Percent = float64(tokens) / float64(s.maxTokens)
	switch {
	case st.Percent >= s.hardPct:
		st.Level = LevelHard
	case st.Percent >= s.criticalPct:
		st.Level = LevelCritical
	case st.Percent >= s.warningPct:
		st.Level = LevelWarning
	}
	return st
}

// OverHardLimit reports whether a step for this agent must fail with
// context_overflow instead of calling the LLM.
func (s *Store) OverHardLimit(agentID string) bool {
	return s.Band(agentID).Level == LevelHard
}

// Flush rewrites the agent's file from current state.
func (s *Store) Flush(agentID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.histories[agentID]; !ok {
		return nil
	}
	return s.saveLocked(agentID)
}

// FlushAll rewrites every known conversation file, logging and collecting
// per-agent failures.
func (s *Store) FlushAll() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var firstErr error
	for agentID := range s.histories {
		if err := s.saveLocked(agentID); err != nil {
			slog.Warn("conversation flush failed", "agent", agentID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Store) filePath(agentID string) (string, error) {
	if agentID == "" || !filepath.IsLocal(agentID) || strings.ContainsAny(agentID, `/\`) {
		return "", fmt.Errorf("invalid agent id %q", agentID)
	}
	return filepath.Join(s.dir, agentID+".json"), nil
}

// saveLocked writes the agent's history atomically. Callers hold s.mu (read
// or write); the snapshot is marshaled before any file touch.
func (s *Store) saveLocked(agentID string) error {
	path, err := s.filePath(agentID)
	if err != nil {
		return err
	}
	history := s.histories[agentID]
	if history == nil {
		history = []providers.Message{}
	}
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "conv-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}
