package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goswarm/internal/config"
	"github.com/nextlevelbuilder/goswarm/internal/runtime"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent runtime as a long-lived server",
		Long:  "Starts the runtime in server mode: agents stay resident, heartbeats fire on schedule, and the scheduler parks between messages. SIGINT or SIGTERM triggers a graceful shutdown.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	services, err := config.LoadServices(servicesPath(cfgPath))
	if err != nil {
		return fmt.Errorf("load llm services: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := runtime.New(ctx, cfg, runtime.WithServices(services))
	if err != nil {
		return err
	}

	// Graceful stop: drain in-flight steps first, then release the serve
	// loop. Cancelling before Shutdown would abort steps instead.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("signal received, shutting down", "signal", sig.String())
		rt.Shutdown(sig.String())
		cancel()
	}()

	slog.Info("goswarm serving", "version", Version, "config", cfgPath, "run_id", rt.RunID())
	if err := rt.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	// Covers serve loops that end without a signal; otherwise a no-op.
	rt.Shutdown("serve loop ended")
	return nil
}
