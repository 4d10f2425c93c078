// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package main

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/omnigate-dev/omnigate/internal/config"
	"github.com/omnigate-dev/omnigate/internal/secrets"
	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostics",
		Long:  "Check the binary, config file, provider credentials, keyring access, the running gateway and disk space.",
		Args:  cobra.NoArgs,
		RunE:  runDoctor,
	}
	addGatewayFlags(cmd)
	return cmd
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()
	cfgPath, _ := cmd.Flags().GetString("config")
	gw, addr := gatewayFromFlags(cmd)

	cfg, cfgErr := config.Load(cfgPath)

	checks := []struct {
		name string
		fn   func() string
	}{
		{"Binary", checkBinary},
		{"Platform", checkPlatform},
		{"Config", func() string { return checkConfig(cfg, cfgErr) }},
		{"Providers", func() string { return checkProviders(cfg) }},
		{"Keyring", checkKeyring},
		{"Gateway", func() string { return checkGateway(gw, addr) }},
		{"Disk Space", func() string { return checkDiskSpace(configDir(cfg)) }},
	}

	for _, c := range checks {
		if _, err := fmt.Fprintf(w, "%-20s %s\n", c.name+":", c.fn()); err != nil {
			return err
		}
	}
	return nil
}

func checkBinary() string {
	return fmt.Sprintf("omnigate %s (%s/%s)", version, runtime.GOOS, runtime.GOARCH)
}

func checkPlatform() string {
	return fmt.Sprintf("%s/%s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func checkConfig(cfg *config.Config, err error) string {
	switch {
	case err != nil:
		return fmt.Sprintf("invalid: %s", err)
	case cfg.Path == "":
		return "using defaults (no config file found)"
	case config.WarnInsecurePermissions(cfg.Path):
		return fmt.Sprintf("loaded from %s (readable by other users, run chmod 600)", cfg.Path)
	default:
		return fmt.Sprintf("loaded from %s", cfg.Path)
	}
}

func checkProviders(cfg *config.Config) string {
	if cfg == nil {
		return "unknown (config did not load)"
	}
	descs, err := cfg.Descriptors(secretStoreFactory())
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	var enabled []string
	for _, d := range descs {
		if d.Enabled {
			enabled = append(enabled, string(d.Tag))
		}
	}
	if len(enabled) == 0 {
		return "none enabled (set a provider API key)"
	}
	return fmt.Sprintf("%d enabled: %s", len(enabled), strings.Join(enabled, ", "))
}

func checkKeyring() string {
	keys, err := secretStoreFactory().List(secrets.DefaultService)
	if err != nil {
		return fmt.Sprintf("unavailable: %s", err)
	}
	return fmt.Sprintf("ok (%d secret(s) stored)", len(keys))
}

func checkGateway(gw *gatewayClient, addr string) string {
	var body struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	if err := gw.getJSON("/api/health", &body); err != nil {
		if omnierr.HasCode(err, omnierr.CodeCLIGatewayNotRunning) {
			return fmt.Sprintf("not running at %s (run 'omnigate start')", addr)
		}
		return fmt.Sprintf("error: %s", err)
	}
	return fmt.Sprintf("%s at %s (version %s)", body.Status, addr, body.Version)
}

// configDir is where the config lives, or the default location.
func configDir(cfg *config.Config) string {
	if cfg != nil && cfg.Path != "" {
		return filepath.Dir(cfg.Path)
	}
	path, err := config.DefaultConfigPath()
	if err != nil {
		return "."
	}
	return filepath.Dir(path)
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(b uint64) string {
	const (
		gb = 1024 * 1024 * 1024
		mb = 1024 * 1024
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	default:
		return fmt.Sprintf("%d bytes", b)
	}
}
