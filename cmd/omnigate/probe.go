// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package main

import (
	"fmt"
	"time"

	"github.com/omnigate-dev/omnigate/internal/cloud"
	"github.com/omnigate-dev/omnigate/internal/retry"
	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
	"github.com/spf13/cobra"
)

func newProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe <url>",
		Short: "Check a deployment's health endpoint",
		Long: "GET <url><path> with retries and exponential backoff. Only HTTP 200 counts as healthy. " +
			"Exits non-zero when the deployment stays unhealthy.",
		Args: cobra.ExactArgs(1),
		RunE: runProbe,
	}
	cmd.Flags().String("path", cloud.DefaultHealthPath, "health endpoint path")
	cmd.Flags().Duration("timeout", cloud.DefaultTimeout, "per-attempt timeout")
	cmd.Flags().Int("attempts", retry.ProbePolicy().MaxAttempts, "maximum attempts")
	return cmd
}

func runProbe(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("path")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	attempts, _ := cmd.Flags().GetInt("attempts")

	target := cloud.Target{Name: "cli", URL: args[0], HealthPath: path, Timeout: timeout}
	if err := target.Validate(); err != nil {
		return err
	}
	policy := retry.ProbePolicy()
	policy.MaxAttempts = attempts
	if err := policy.Validate(); err != nil {
		return omnierr.Wrap(err, omnierr.CodeCLIInputInvalid, "invalid --attempts")
	}

	start := time.Now()
	st, err := cloud.ProbeWithRetry(cmd.Context(), defaultHTTPClient, target, policy)
	out := cmd.OutOrStdout()
	if err != nil {
		_, _ = fmt.Fprintf(out, "%s unhealthy after %s: %s\n", target.Endpoint(), time.Since(start).Round(time.Millisecond), st.Error)
		return err
	}
	_, _ = fmt.Fprintf(out, "%s healthy (%dms)\n", target.Endpoint(), st.LatencyMs)
	return nil
}
