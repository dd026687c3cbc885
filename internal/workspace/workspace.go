// Package workspace manages per-root-agent directories and artifact blobs.
// Every file operation goes through the relative-path check; nothing inside
// the runtime ever touches a caller-supplied absolute path.
package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Failure sentinels. The text doubles as the stable error kind.
var (
	ErrPathTraversal    = errors.New("path_traversal_blocked")
	ErrArtifactNotFound = errors.New("artifact_not_found")
	ErrNoWorkspace      = errors.New("workspace_not_assigned")
)

// ArtifactRefPrefix marks opaque artifact references handed to agents.
const ArtifactRefPrefix = "artifact:"

const artifactsDir = "_artifacts"

// Entry describes one directory member returned by ListFiles.
type Entry struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	IsDir bool   `json:"isDir"`
}

// Manager owns the workspace root. Each top-level agent (child of root)
// gets one directory named after its id; descendants inherit the
// assignment. Artifacts live in a shared blob directory keyed by uuid.
type Manager struct {
	root string

	mu       sync.RWMutex
	assigned map[string]string // agentID -> workspace id
}

// NewManager creates the workspace root and artifact directory.
func NewManager(root string) (*Manager, error) {
	if err := os.MkdirAll(filepath.Join(root, artifactsDir), 0755); err != nil {
		return nil, fmt.Errorf("create workspaces dir: %w", err)
	}
	return &Manager{
		root:     root,
		assigned: make(map[string]string),
	}, nil
}

// Assign gives the agent a dedicated workspace directory (created now).
func (m *Manager) Assign(agentID, workspaceID string) error {
	if workspaceID == "" || !filepath.IsLocal(workspaceID) || strings.ContainsAny(workspaceID, `/\`) {
		return fmt.Errorf("invalid workspace id %q", workspaceID)
	}
	if err := os.MkdirAll(filepath.Join(m.root, workspaceID), 0755); err != nil {
		return fmt.Errorf("create workspace %s: %w", workspaceID, err)
	}
	m.mu.Lock()
	m.assigned[agentID] = workspaceID
	m.mu.Unlock()
	return nil
}

// Inherit points the child at its parent's workspace. No-op when the
// parent has none.
func (m *Manager) Inherit(childID, parentID string) {
	m.mu.Lock()
	if ws, ok := m.assigned[parentID]; ok {
		m.assigned[childID] = ws
	}
	m.mu.Unlock()
}

// Remove drops the agent's assignment. Files on disk are kept; workspace
// contents are the surviving output of terminated subtrees.
func (m *Manager) Remove(agentID string) {
	m.mu.Lock()
	delete(m.assigned, agentID)
	m.mu.Unlock()
}

// WorkspaceOf returns the agent's workspace id, "" when unassigned.
func (m *Manager) WorkspaceOf(agentID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.assigned[agentID]
}

// ValidateRelPath rejects anything that could leave a workspace: absolute
// paths, drive prefixes, and any ".." segment. Only clean relative paths
// pass.
func ValidateRelPath(rel string) error {
	if rel == "" {
		return ErrPathTraversal
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\`) {
		slog.Warn("security.path_escape", "path", rel, "reason", "absolute")
		return ErrPathTraversal
	}
	if len(rel) >= 2 && rel[1] == ':' {
		slog.Warn("security.path_escape", "path", rel, "reason", "drive_prefix")
		return ErrPathTraversal
	}
	for _, seg := range strings.Split(strings.ReplaceAll(rel, `\`, "/"), "/") {
		if seg == ".." {
			slog.Warn("security.path_escape", "path", rel, "reason", "parent_segment")
			return ErrPathTraversal
		}
	}
	return nil
}

// resolve maps (workspaceID, rel) to an absolute host path, enforcing the
// relative-path rule.
func (m *Manager) resolve(workspaceID, rel string) (string, error) {
	if workspaceID == "" {
		return "", ErrNoWorkspace
	}
	if err := ValidateRelPath(rel); err != nil {
		return "", err
	}
	return filepath.Join(m.root, workspaceID, filepath.FromSlash(rel)), nil
}

// ReadFile returns the file's contents.
func (m *Manager) ReadFile(workspaceID, rel string) ([]byte, error) {
	path, err := m.resolve(workspaceID, rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// WriteFile writes the file, creating parent directories as needed.
func (m *Manager) WriteFile(workspaceID, rel string, data []byte) error {
	path, err := m.resolve(workspaceID, rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create parent dirs: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// ListFiles lists one directory level. rel "" or "." lists the workspace
// root. Entries are sorted by name.
func (m *Manager) ListFiles(workspaceID, rel string) ([]Entry, error) {
	if rel == "" {
		rel = "."
	}
	path, err := m.resolve(workspaceID, rel)
	if err != nil {
		return nil, err
	}
	dirents, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		e := Entry{Name: d.Name(), IsDir: d.IsDir()}
		if info, err := d.Info(); err == nil {
			e.Size = info.Size()
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// PutArtifact stores an opaque blob and returns its reference.
func (m *Manager) PutArtifact(data []byte) (string, error) {
	id := uuid.NewString()
	path := filepath.Join(m.root, artifactsDir, id)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return ArtifactRefPrefix + id, nil
}

// GetArtifact resolves a reference (with or without the "artifact:"
// prefix) to its blob.
func (m *Manager) GetArtifact(ref string) ([]byte, error) {
	id := strings.TrimPrefix(ref, ArtifactRefPrefix)
	if id == "" || !isArtifactID(id) {
		return nil, ErrArtifactNotFound
	}
	data, err := os.ReadFile(filepath.Join(m.root, artifactsDir, id))
	if os.IsNotExist(err) {
		return nil, ErrArtifactNotFound
	}
	return data, err
}

// isArtifactID accepts uuid-shaped ids only, keeping references
// unforgeable into paths.
func isArtifactID(id string) bool {
	for _, r := range id {
		if (r >= 'a' && r <= 'f') || (r >= '0' && r <= '9') || r == '-' {
			continue
		}
		return false
	}
	return true
}
