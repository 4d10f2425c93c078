// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package main

import (
	"context"
	"fmt"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/omnigate-dev/omnigate/internal/config"
	"github.com/omnigate-dev/omnigate/internal/provider"
	"github.com/omnigate-dev/omnigate/internal/secrets"
	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
	"github.com/spf13/cobra"
)

// validateTimeout bounds each credential check.
const validateTimeout = 15 * time.Second

func newProvidersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List configured providers",
		Long:  "Show every known provider with its priority, model and credential source, as read from config.",
		Args:  cobra.NoArgs,
		RunE:  runProvidersList,
	}
	cmd.AddCommand(newProvidersValidateCmd(), newProvidersSwitchCmd())
	return cmd
}

func newProvidersValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [provider...]",
		Short: "Check that provider credentials are accepted upstream",
		Long:  "Call each provider's models endpoint with its configured key. Defaults to every enabled provider.",
		RunE:  runProvidersValidate,
	}
}

func newProvidersSwitchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "switch <provider>",
		Short: "Change the running gateway's current provider",
		Args:  cobra.ExactArgs(1),
		RunE:  runProvidersSwitch,
	}
	addGatewayFlags(cmd)
	return cmd
}

func loadDescriptors(cmd *cobra.Command) ([]provider.Descriptor, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	descs, err := cfg.Descriptors(secretStoreFactory())
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(descs, func(a, b provider.Descriptor) int { return a.Priority - b.Priority })
	return descs, nil
}

func runProvidersList(cmd *cobra.Command, _ []string) error {
	descs, err := loadDescriptors(cmd)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PROVIDER\tENABLED\tPRIORITY\tMODEL\tCREDENTIAL")
	for _, d := range descs {
		cred := secrets.Redact(d.CredentialRef)
		if cred == "" {
			cred = "-"
		}
		model := d.Model
		if model == "" {
			model = provider.DefaultModels[d.Tag]
		}
		_, _ = fmt.Fprintf(tw, "%s\t%t\t%d\t%s\t%s\n", d.Tag, d.Enabled, d.Priority, model, cred)
	}
	return tw.Flush()
}

func runProvidersValidate(cmd *cobra.Command, args []string) error {
	descs, err := loadDescriptors(cmd)
	if err != nil {
		return err
	}

	want := make(map[provider.Tag]bool, len(args))
	for _, a := range args {
		tag, err := provider.ParseTag(a)
		if err != nil {
			return err
		}
		want[tag] = true
	}

	out := cmd.OutOrStdout()
	var failed, checked int
	for _, d := range descs {
		if len(want) > 0 && !want[d.Tag] {
			continue
		}
		if !d.Enabled {
			if want[d.Tag] {
				_, _ = fmt.Fprintf(out, "%-11s skipped: no credential\n", d.Tag)
			}
			continue
		}
		checked++
		ctx, cancel := context.WithTimeout(cmd.Context(), validateTimeout)
		err := provider.ValidateKey(ctx, defaultHTTPClient, d.Tag, d.APIKey, d.BaseURL)
		cancel()
		if err != nil {
			failed++
			_, _ = fmt.Fprintf(out, "%-11s FAIL %v\n", d.Tag, err)
			continue
		}
		_, _ = fmt.Fprintf(out, "%-11s ok\n", d.Tag)
	}

	if checked == 0 {
		return omnierr.New(omnierr.CodeProviderNoneConfigured, "no enabled provider to validate")
	}
	if failed > 0 {
		return omnierr.Errorf(omnierr.CodeProviderUpstreamRejected, "%d of %d provider credentials rejected", failed, checked)
	}
	return nil
}

func runProvidersSwitch(cmd *cobra.Command, args []string) error {
	gw, _ := gatewayFromFlags(cmd)

	var body struct {
		Previous string `json:"previous"`
		Current  string `json:"current"`
	}
	if err := gw.postJSON("/api/v1/providers/switch", map[string]string{"provider": args[0]}, &body); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Switched %s -> %s\n", body.Previous, body.Current)
	return nil
}
