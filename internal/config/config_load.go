package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		RuntimeDir:    "~/.goswarm/runtime",
		WorkspacesDir: "~/.goswarm/workspaces",
		MaxToolRounds: 10,
		LLM: LLMConfig{
			BaseURL:               "https://api.openai.com/v1",
			Model:                 "gpt-4o-mini",
			MaxConcurrentRequests: 3,
			MaxRetries:            3,
			MaxTokens:             128000,
			Temperature:           0.7,
		},
		Journal: JournalConfig{
			Backend: "sqlite",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "goswarm",
		},
		ShutdownTimeoutMs: 10000,
		IdleWarningMs:     300000,
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values; secrets are env-only.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("GOSWARM_RUNTIME_DIR", &c.RuntimeDir)
	envStr("GOSWARM_WORKSPACES_DIR", &c.WorkspacesDir)
	envStr("GOSWARM_PROMPTS_DIR", &c.PromptsDir)

	envStr("GOSWARM_LLM_BASE_URL", &c.LLM.BaseURL)
	envStr("GOSWARM_LLM_MODEL", &c.LLM.Model)
	envStr("GOSWARM_LLM_API_KEY", &c.LLM.APIKey)

	if v := os.Getenv("GOSWARM_LLM_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.LLM.MaxConcurrentRequests = n
		}
	}

	envStr("GOSWARM_BRAVE_API_KEY", &c.Web.BraveAPIKey)

	envStr("GOSWARM_JOURNAL_BACKEND", &c.Journal.Backend)
	envStr("GOSWARM_POSTGRES_DSN", &c.Journal.PostgresDSN)

	envStr("GOSWARM_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("GOSWARM_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("GOSWARM_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("GOSWARM_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("GOSWARM_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}
