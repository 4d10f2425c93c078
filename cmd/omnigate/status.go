// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package main

import (
	"fmt"
	"strings"

	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
	"github.com/omnigate-dev/omnigate/pkg/health"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show gateway status",
		Long:  "Ask the running gateway to probe its current provider and display the result.",
		RunE:  runStatus,
	}
	addGatewayFlags(cmd)
	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	gw, addr := gatewayFromFlags(cmd)
	out := cmd.OutOrStdout()

	var body struct {
		Healthy   bool          `json:"healthy"`
		Current   string        `json:"current"`
		Status    health.Status `json:"status"`
		Providers []string      `json:"providers"`
	}
	if err := gw.getJSON("/api/v1/messages", &body); err != nil {
		if omnierr.HasCode(err, omnierr.CodeCLIGatewayNotRunning) {
			_, _ = fmt.Fprintf(out, "Gateway at %s is not running (connection refused)\n", addr)
			return nil
		}
		return err
	}

	state := "healthy"
	if !body.Healthy {
		state = "unhealthy: " + body.Status.Error
	}
	_, _ = fmt.Fprintf(out, "Gateway at %s\n", addr)
	_, _ = fmt.Fprintf(out, "  current:   %s (%s, %dms)\n", body.Current, state, body.Status.LatencyMs)
	_, _ = fmt.Fprintf(out, "  providers: %s\n", strings.Join(body.Providers, " > "))
	return nil
}
