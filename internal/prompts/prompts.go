// Package prompts loads the system-prompt templates. Embedded defaults
// ship with the binary; a promptsDir overlays same-named files on top and
// can be hot-reloaded while the runtime is serving.
package prompts

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"github.com/nextlevelbuilder/goswarm/internal/providers"
)

//go:embed defaults/*.md
var defaultFS embed.FS

// Template file names, resolvable under promptsDir.
const (
	FileBase          = "base.md"
	FileCompose       = "compose.md"
	FileToolRules     = "tool_rules.md"
	FileModelSelector = "model_selector.md"
)

var templateFiles = []string{FileBase, FileCompose, FileToolRules, FileModelSelector}

var templateFuncs = template.FuncMap{
	"join": strings.Join,
}

// ComposeData fills the compose template. Empty optional blocks collapse.
type ComposeData struct {
	AgentName     string
	RoleName      string
	RolePrompt    string
	Base          string
	ToolRules     string
	ModelSelector string
	Contacts      string
	TaskBrief     string
}

// Loader serves the current template set. Reads are lock-guarded so the
// watcher can swap a reloaded set under running steps.
type Loader struct {
	dir string

	mu       sync.RWMutex
	texts    map[string]string
	compose  *template.Template
	selector *template.Template

	watchOnce sync.Once
	closeCh   chan struct{}
}

// NewLoader reads embedded defaults and overlays dir (when non-empty).
// Missing overlay files fall back to the default; unreadable ones fail.
func NewLoader(dir string) (*Loader, error) {
	l := &Loader{dir: dir, closeCh: make(chan struct{})}
	if err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Loader) reload() error {
	texts := make(map[string]string, len(templateFiles))
	for _, name := range templateFiles {
		data, err := defaultFS.ReadFile(path.Join("defaults", name))
		if err != nil {
			return fmt.Errorf("embedded prompt %s: %w", name, err)
		}
		texts[name] = string(data)
	}
	if l.dir != "" {
		for _, name := range templateFiles {
			data, err := os.ReadFile(filepath.Join(l.dir, name))
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if err != nil {
				return fmt.Errorf("prompt override %s: %w", name, err)
			}
			texts[name] = string(data)
		}
	}

	compose, err := template.New(FileCompose).Funcs(templateFuncs).Parse(texts[FileCompose])
	if err != nil {
		return fmt.Errorf("parse %s: %w", FileCompose, err)
	}
	selector, err := template.New(FileModelSelector).Funcs(templateFuncs).Parse(texts[FileModelSelector])
	if err != nil {
		return fmt.Errorf("parse %s: %w", FileModelSelector, err)
	}

	l.mu.Lock()
	l.texts = texts
	l.compose = compose
	l.selector = selector
	l.mu.Unlock()
	return nil
}

// Text returns the raw content of one template file.
func (l *Loader) Text(name string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.texts[name]
}

// Base returns the runtime ground-rules block.
func (l *Loader) Base() string { return l.Text(FileBase) }

// ToolRules returns the tool-usage block.
func (l *Loader) ToolRules() string { return l.Text(FileToolRules) }

// RenderCompose assembles a full system prompt from its blocks.
func (l *Loader) RenderCompose(d ComposeData) (string, error) {
	l.mu.RLock()
	tpl := l.compose
	l.mu.RUnlock()
	var b strings.Builder
	if err := tpl.Execute(&b, d); err != nil {
		return "", fmt.Errorf("render %s: %w", FileCompose, err)
	}
	return strings.TrimSpace(b.String()), nil
}

// RenderModelSelector renders the service catalog block. Empty catalogs
// render to nothing so the compose block collapses.
func (l *Loader) RenderModelSelector(services []providers.ServiceInfo) (string, error) {
	if len(services) == 0 {
		return "", nil
	}
	l.mu.RLock()
	tpl := l.selector
	l.mu.RUnlock()
	var b strings.Builder
	err := tpl.Execute(&b, struct{ Services []providers.ServiceInfo }{services})
	if err != nil {
		return "", fmt.Errorf("render %s: %w", FileModelSelector, err)
	}
	return strings.TrimSpace(b.String()), nil
}
