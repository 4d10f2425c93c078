// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package main

import (
	"fmt"

	"github.com/omnigate-dev/omnigate/internal/config"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented default config file",
		Long:  "Create omnigate.yaml (default ~/.config/omnigate/omnigate.yaml) with owner-only permissions.",
		Args:  cobra.NoArgs,
		RunE:  runInit,
	}
	cmd.Flags().String("path", "", "where to write the config file")
	cmd.Flags().Bool("force", false, "overwrite an existing file")
	return cmd
}

func runInit(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("path")
	force, _ := cmd.Flags().GetBool("force")

	if path == "" {
		var err error
		if path, err = config.DefaultConfigPath(); err != nil {
			return err
		}
	}

	written, err := config.WriteDefault(path, force)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !written {
		_, _ = fmt.Fprintf(out, "Config already exists at %s (use --force to overwrite)\n", path)
		return nil
	}
	_, _ = fmt.Fprintf(out, "Wrote %s\n", path)
	_, _ = fmt.Fprintln(out, "Next: store a key with `omnigate secret set anthropic` and run `omnigate start`.")
	return nil
}
