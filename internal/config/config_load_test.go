package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.LLM.MaxConcurrentRequests)
	assert.Equal(t, 3, cfg.LLM.MaxRetries)
	assert.Equal(t, 10, cfg.MaxToolRounds)
	assert.Equal(t, 10000, cfg.ShutdownTimeoutMs)
	assert.Equal(t, "sqlite", cfg.Journal.Backend)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, Default().LLM.Model, cfg.LLM.Model)
}

func TestLoadParsesJSON5AndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		// comments are fine
		runtimeDir: "` + dir + `/state",
		workspacesDir: "` + dir + `/ws",
		maxToolRounds: 4,
		llm: { baseURL: "http://localhost:8080/v1", model: "test-model", maxConcurrentRequests: 2, maxRetries: 5, maxTokens: 9000 },
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	t.Setenv("GOSWARM_LLM_MODEL", "env-model")
	t.Setenv("GOSWARM_LLM_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 4, cfg.MaxToolRounds)
	assert.Equal(t, 2, cfg.LLM.MaxConcurrentRequests)
	assert.Equal(t, "env-model", cfg.LLM.Model, "env should win over file")
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty runtime dir", func(c *Config) { c.RuntimeDir = "" }},
		{"zero concurrency", func(c *Config) { c.LLM.MaxConcurrentRequests = 0 }},
		{"zero retries", func(c *Config) { c.LLM.MaxRetries = 0 }},
		{"zero tool rounds", func(c *Config) { c.MaxToolRounds = 0 }},
		{"bad journal backend", func(c *Config) { c.Journal.Backend = "redis" }},
		{"postgres without dsn", func(c *Config) { c.Journal.Backend = "postgres" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadServices(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "llmservices.json")
	body := `{services: [
		{id: "fast", baseURL: "http://localhost:1234/v1", model: "small", capabilityTags: ["naming", "cheap"]},
		{id: "smart", baseURL: "http://localhost:5678/v1", model: "big"},
	]}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	services, err := LoadServices(path)
	require.NoError(t, err)
	require.Len(t, services, 2)
	assert.True(t, services[0].HasTag("NAMING"))
	assert.False(t, services[1].HasTag("naming"))

	missing, err := LoadServices(filepath.Join(dir, "absent.json"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestLoadServicesRejectsDuplicateIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "llmservices.json")
	body := `{services: [{id: "a", baseURL: "x", model: "m"}, {id: "a", baseURL: "y", model: "n"}]}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	_, err := LoadServices(path)
	assert.ErrorContains(t, err, "duplicate")
}
