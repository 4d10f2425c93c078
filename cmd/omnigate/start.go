// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/omnigate-dev/omnigate/internal/config"
	"github.com/spf13/cobra"
)

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the omnigate gateway",
		Long:  "Load configuration, wire providers, the failover adapter and the health monitor, and serve the HTTP API.",
		Args:  cobra.NoArgs,
		RunE:  runStart,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")
	cmd.Flags().Bool("no-monitor", false, "disable the health monitor")

	return cmd
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if cfg.Path != "" {
		config.WarnInsecurePermissions(cfg.Path)
		slog.Info("loaded config", "path", cfg.Path)
	}

	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Networking.Listen = listen
	}
	if off, _ := cmd.Flags().GetBool("no-monitor"); off {
		cfg.Monitor.Enabled = false
	}

	gw, err := WireGateway(cfg, secretStoreFactory())
	if err != nil {
		return err
	}
	defer func() { _ = gw.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting omnigate",
		"listen", cfg.Networking.Listen,
		"current", gw.Adapter.CurrentProvider(),
		"monitor", gw.Monitor != nil)
	return gw.Start(ctx)
}
