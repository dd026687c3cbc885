package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goswarm/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("goswarm doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, defaults + env apply)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("  Config invalid: %s\n", err)
	}

	fmt.Println()
	fmt.Println("  LLM:")
	fmt.Printf("    %-12s %s\n", "Endpoint:", cfg.LLM.BaseURL)
	fmt.Printf("    %-12s %s\n", "Model:", cfg.LLM.Model)
	if cfg.LLM.APIKey != "" {
		fmt.Printf("    %-12s %s\n", "API key:", maskKey(cfg.LLM.APIKey))
	} else {
		fmt.Printf("    %-12s (not set - export GOSWARM_LLM_API_KEY)\n", "API key:")
	}
	services, svcErr := config.LoadServices(servicesPath(cfgPath))
	switch {
	case svcErr != nil:
		fmt.Printf("    %-12s LOAD FAILED (%s)\n", "Services:", svcErr)
	case len(services) == 0:
		fmt.Printf("    %-12s (none beyond default)\n", "Services:")
	default:
		for _, s := range services {
			tags := ""
			if len(s.CapabilityTags) > 0 {
				tags = " [" + strings.Join(s.CapabilityTags, ", ") + "]"
			}
			fmt.Printf("    %-12s %s (%s)%s\n", "Service:", s.ID, s.Model, tags)
		}
	}

	fmt.Println()
	fmt.Println("  Web tools:")
	if cfg.Web.BraveAPIKey != "" {
		fmt.Printf("    %-12s brave (key %s), duckduckgo fallback\n", "Search:", maskKey(cfg.Web.BraveAPIKey))
	} else {
		fmt.Printf("    %-12s duckduckgo only (export GOSWARM_BRAVE_API_KEY for brave)\n", "Search:")
	}
	if cfg.Web.AllowPrivateHosts {
		fmt.Printf("    %-12s private hosts ALLOWED\n", "Fetch:")
	}

	fmt.Println()
	fmt.Println("  Journal:")
	backend := cfg.Journal.Backend
	if backend == "" {
		backend = "sqlite"
	}
	fmt.Printf("    %-12s %s\n", "Backend:", backend)
	switch backend {
	case "postgres":
		checkPostgresJournal(cfg.Journal.PostgresDSN)
	case "sqlite":
		fmt.Printf("    %-12s %s\n", "Path:", cfg.RuntimePath()+"/journal.db")
	}

	fmt.Println()
	fmt.Println("  MCP Servers:")
	if len(cfg.MCPServers) == 0 {
		fmt.Println("    (none configured)")
	}
	for name, mcpCfg := range cfg.MCPServers {
		checkMCPServer(name, mcpCfg)
	}

	fmt.Println()
	fmt.Println("  Heartbeats:")
	if len(cfg.Heartbeats) == 0 {
		fmt.Println("    (none configured)")
	}
	gron := gronx.New()
	for _, hb := range cfg.Heartbeats {
		if gron.IsValid(hb.Cron) {
			fmt.Printf("    %-12s %q -> %s\n", "Entry:", hb.Cron, hb.AgentID)
		} else {
			fmt.Printf("    %-12s %q -> %s (INVALID CRON)\n", "Entry:", hb.Cron, hb.AgentID)
		}
	}

	fmt.Println()
	fmt.Println("  Telemetry:")
	if cfg.Telemetry.Enabled {
		fmt.Printf("    %-12s %s (%s)\n", "Endpoint:", cfg.Telemetry.Endpoint, cfg.Telemetry.Protocol)
	} else {
		fmt.Printf("    %-12s disabled\n", "Tracing:")
	}

	fmt.Println()
	checkDir("Runtime", cfg.RuntimePath())
	checkDir("Workspaces", cfg.WorkspacesPath())
	if cfg.PromptsDir == "" {
		fmt.Printf("  %-12s (embedded defaults)\n", "Prompts:")
	} else {
		checkDir("Prompts", cfg.PromptsPath())
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func maskKey(key string) string {
	if len(key) < 8 {
		return "****"
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

func checkDir(label, path string) {
	fmt.Printf("  %-12s %s", label+":", path)
	if _, err := os.Stat(path); err != nil {
		fmt.Println(" (NOT FOUND, created on start)")
	} else {
		fmt.Println(" (OK)")
	}
}

// checkMCPServer verifies what can be checked without connecting: stdio
// commands must resolve on PATH, remote transports must carry a URL.
func checkMCPServer(name string, cfg *config.MCPServerConfig) {
	status := "enabled"
	if !cfg.IsEnabled() {
		status = "disabled"
	}
	transport := cfg.Transport
	if transport == "" {
		transport = "stdio"
	}

	detail := ""
	switch transport {
	case "stdio":
		if cfg.Command == "" {
			detail = " (NO COMMAND)"
		} else if _, err := exec.LookPath(cfg.Command); err != nil {
			detail = fmt.Sprintf(" (command %q not on PATH)", cfg.Command)
		}
	case "sse", "streamable-http":
		if cfg.URL == "" {
			detail = " (NO URL)"
		}
	default:
		detail = fmt.Sprintf(" (UNSUPPORTED TRANSPORT %q)", transport)
	}
	fmt.Printf("    %-12s %s, %s%s\n", name+":", status, transport, detail)
}

// checkPostgresJournal pings the database and reads the migration state
// that goswarm migrate maintains.
func checkPostgresJournal(dsn string) {
	if dsn == "" {
		fmt.Printf("    %-12s (GOSWARM_POSTGRES_DSN not set)\n", "Status:")
		return
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	fmt.Printf("    %-12s connected\n", "Status:")

	var version uint64
	var dirty bool
	row := db.QueryRowContext(ctx, "SELECT version, dirty FROM schema_migrations LIMIT 1")
	switch err := row.Scan(&version, &dirty); {
	case err != nil:
		fmt.Printf("    %-12s not initialized (run: goswarm migrate up)\n", "Schema:")
	case dirty:
		fmt.Printf("    %-12s v%d (DIRTY - run: goswarm migrate force %d)\n", "Schema:", version, version-1)
	default:
		fmt.Printf("    %-12s v%d\n", "Schema:", version)
	}
}
