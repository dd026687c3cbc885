package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goswarm/internal/config"
	"github.com/nextlevelbuilder/goswarm/internal/runtime"
)

func runCmd() *cobra.Command {
	var (
		message  string
		to       string
		maxSteps int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Deliver one message and process steps until the swarm goes quiet",
		Long:  "Finite mode: enqueues a message from the user endpoint, schedules agent steps until no agent has queued work (or the step cap is reached), prints agent replies addressed to the user, and shuts down.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(message, to, maxSteps)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "message text to deliver (required)")
	cmd.Flags().StringVar(&to, "to", "", "recipient agent id (default: root)")
	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "cap on scheduler steps (default: maxSteps from config, 0 = unbounded)")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func runOnce(message, to string, maxSteps int) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	services, err := config.LoadServices(servicesPath(cfgPath))
	if err != nil {
		return fmt.Errorf("load llm services: %w", err)
	}
	if maxSteps <= 0 {
		maxSteps = cfg.MaxSteps
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := runtime.New(ctx, cfg, runtime.WithServices(services))
	if err != nil {
		return err
	}
	defer rt.Shutdown("run complete")

	msgID, err := rt.EnqueueUserMessage(to, message)
	if err != nil {
		return fmt.Errorf("enqueue message: %w", err)
	}
	slog.Debug("message enqueued", "msg_id", msgID, "to", to)

	steps, err := rt.RunSteps(ctx, maxSteps)
	if err != nil {
		return fmt.Errorf("run stopped after %d steps: %w", steps, err)
	}
	slog.Info("run finished", "steps", steps)

	replies := rt.DrainUserInbox(0)
	if len(replies) == 0 {
		fmt.Println("(no replies addressed to user)")
		return nil
	}
	for _, msg := range replies {
		fmt.Printf("[%s] %s\n", msg.From, msg.Payload.Text)
	}
	return nil
}
