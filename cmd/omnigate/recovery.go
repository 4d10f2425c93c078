// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package main

import (
	"encoding/json"
	"fmt"

	"github.com/omnigate-dev/omnigate/internal/monitor"
	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newRecoveryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recovery",
		Short: "Export the gateway's recovery history",
		Long:  "Fetch the health monitor's failover log and statistics from the running gateway.",
		Args:  cobra.NoArgs,
		RunE:  runRecovery,
	}
	addGatewayFlags(cmd)
	cmd.Flags().StringP("format", "f", "json", "output format: json or yaml")
	return cmd
}

func runRecovery(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "json" && format != "yaml" {
		return omnierr.Errorf(omnierr.CodeCLIInputInvalid, "unknown format %q (want json or yaml)", format)
	}

	gw, _ := gatewayFromFlags(cmd)
	var export monitor.HistoryExport
	if err := gw.getJSON("/api/v1/recovery/history", &export); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if format == "yaml" {
		data, err = yaml.Marshal(export)
	} else {
		data, err = json.MarshalIndent(export, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return omnierr.Wrap(err, omnierr.CodeMonitorExportFailure, "encoding recovery history")
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), string(data))
	return err
}
