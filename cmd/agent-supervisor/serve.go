package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sebastianm/agent-supervisor/internal/supervisor/bridge"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/config"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/manager"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/process"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/process/policy/bridgepolicy"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/process/policy/iopolicy"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor loop, reading operations as newline-delimited JSON on stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
}

// runServe wires the Manager and its approval bridge, then drains stdin for
// request envelopes until it's closed or the process is signaled.
func runServe(cmd *cobra.Command) error {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Parse()
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	// Two-phase construction: the Manager's HandleApproval method doesn't
	// read m.policies, so it's safe to hand to the bridge before the policy
	// map — which needs the bridge's own URL — is built.
	m := manager.New(log, cfg, map[string]process.SpawnPolicy{}, "")

	b := bridge.New(log.With("component", "bridge"), m.HandleApproval)
	bridgeURL, err := b.Start()
	if err != nil {
		return fmt.Errorf("serve: start approval bridge: %w", err)
	}

	bp := bridgepolicy.New(cfg.CLIPath, bridgeURL, log)
	ip := iopolicy.New(cfg.CLIPath, log)
	m.SetPolicies(map[string]process.SpawnPolicy{
		bp.Name(): bp,
		ip.Name(): ip,
	}, bp.Name())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		serveLoop(ctx, m, os.Stdin, os.Stdout, log)
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}

	m.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownGrace)
	defer cancel()
	if err := b.Shutdown(shutdownCtx); err != nil {
		log.Warn("approval bridge shutdown error", "error", err)
	}
	return nil
}
