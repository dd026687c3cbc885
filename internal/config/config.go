package config

import (
	"fmt"
	"os"
	"sync"
)

// Config is the root configuration for the GoSwarm runtime.
type Config struct {
	PromptsDir    string `json:"promptsDir,omitempty"`
	RuntimeDir    string `json:"runtimeDir"`
	WorkspacesDir string `json:"workspacesDir"`

	// MaxSteps bounds a finite run; 0 means no cap.
	MaxSteps int `json:"maxSteps,omitempty"`
	// MaxToolRounds bounds LLM/tool rounds inside a single step.
	MaxToolRounds int `json:"maxToolRounds"`

	LLM       LLMConfig         `json:"llm"`
	Web       WebConfig         `json:"web,omitempty"`
	Journal   JournalConfig     `json:"journal,omitempty"`
	Telemetry TelemetryConfig   `json:"telemetry,omitempty"`
	Heartbeats []HeartbeatEntry `json:"heartbeats,omitempty"`

	MCPServers map[string]*MCPServerConfig `json:"mcpServers,omitempty"`

	ShutdownTimeoutMs int `json:"shutdownTimeoutMs"`
	IdleWarningMs     int `json:"idleWarningMs"`

	mu sync.RWMutex
}

// LLMConfig is the default LLM endpoint plus the runtime's call policy.
// Alternative endpoints live in llmservices.json (see Service).
type LLMConfig struct {
	BaseURL string `json:"baseURL"`
	Model   string `json:"model"`
	// APIKey is never persisted; it comes from env GOSWARM_LLM_API_KEY only.
	APIKey string `json:"-"`

	MaxConcurrentRequests int     `json:"maxConcurrentRequests"`
	MaxRetries            int     `json:"maxRetries"`
	MaxTokens             int     `json:"maxTokens"`
	Temperature           float64 `json:"temperature,omitempty"`
	RequestsPerMinute     int     `json:"requestsPerMinute,omitempty"`

	// NamingServiceID selects the llmservices.json entry used for
	// agent name generation. Empty falls back to the default endpoint.
	NamingServiceID string `json:"namingServiceId,omitempty"`
}

// WebConfig tunes the web_fetch and web_search tools.
type WebConfig struct {
	// FetchMaxChars caps the content returned by web_fetch; 0 uses the
	// tool default.
	FetchMaxChars int `json:"fetchMaxChars,omitempty"`
	// AllowPrivateHosts disables the private-address guard on web_fetch.
	AllowPrivateHosts bool `json:"allowPrivateHosts,omitempty"`
	// BraveAPIKey is env-only (GOSWARM_BRAVE_API_KEY), never in config.json.
	// Without it web_search falls back to DuckDuckGo scraping.
	BraveAPIKey string `json:"-"`
}

// JournalConfig selects the run-journal backend.
type JournalConfig struct {
	// Backend is "sqlite" (default), "postgres", or "off".
	Backend string `json:"backend,omitempty"`
	// PostgresDSN is env-only (GOSWARM_POSTGRES_DSN), never in config.json.
	PostgresDSN string `json:"-"`
}

// TelemetryConfig configures the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`    // host:port of the OTLP collector
	Protocol    string `json:"protocol,omitempty"`    // "grpc" (default) or "http"
	ServiceName string `json:"serviceName,omitempty"` // default "goswarm"
	Insecure    bool   `json:"insecure,omitempty"`
}

// HeartbeatEntry schedules a recurring wake-up message for an agent.
type HeartbeatEntry struct {
	AgentID string `json:"agentId"`
	Cron    string `json:"cron"` // gronx expression, e.g. "*/5 * * * *"
	Message string `json:"message"`
}

// MCPServerConfig describes one MCP server whose tools join the registry.
type MCPServerConfig struct {
	Transport  string            `json:"transport,omitempty"` // "stdio" (default), "sse", "streamable-http"
	Command    string            `json:"command,omitempty"`   // stdio: command to spawn
	Args       []string          `json:"args,omitempty"`      // stdio: command arguments
	Env        map[string]string `json:"env,omitempty"`       // stdio: extra environment variables
	URL        string            `json:"url,omitempty"`       // sse/http: server URL
	Headers    map[string]string `json:"headers,omitempty"`   // sse/http: extra HTTP headers
	Enabled    *bool             `json:"enabled,omitempty"`   // default true
	TimeoutSec int               `json:"timeoutSec,omitempty"`
}

// IsEnabled reports whether this MCP server is enabled (default true).
func (c *MCPServerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Validate rejects configs the runtime cannot start with.
func (c *Config) Validate() error {
	if c.RuntimeDir == "" {
		return fmt.Errorf("runtimeDir must not be empty")
	}
	if c.WorkspacesDir == "" {
		return fmt.Errorf("workspacesDir must not be empty")
	}
	if c.LLM.MaxConcurrentRequests < 1 {
		return fmt.Errorf("llm.maxConcurrentRequests must be >= 1, got %d", c.LLM.MaxConcurrentRequests)
	}
	if c.LLM.MaxRetries < 1 {
		return fmt.Errorf("llm.maxRetries must be >= 1, got %d", c.LLM.MaxRetries)
	}
	if c.MaxToolRounds < 1 {
		return fmt.Errorf("maxToolRounds must be >= 1, got %d", c.MaxToolRounds)
	}
	switch c.Journal.Backend {
	case "", "sqlite", "postgres", "off":
	default:
		return fmt.Errorf("journal.backend must be sqlite, postgres, or off, got %q", c.Journal.Backend)
	}
	if c.Journal.Backend == "postgres" && c.Journal.PostgresDSN == "" {
		return fmt.Errorf("journal.backend is postgres but GOSWARM_POSTGRES_DSN is not set")
	}
	return nil
}

// RuntimePath returns the expanded runtime state directory.
func (c *Config) RuntimePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.RuntimeDir)
}

// WorkspacesPath returns the expanded workspace root.
func (c *Config) WorkspacesPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.WorkspacesDir)
}

// PromptsPath returns the expanded prompt template directory
// (empty when embedded defaults are in use).
func (c *Config) PromptsPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.PromptsDir)
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
