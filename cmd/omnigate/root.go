// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package main

import (
	"io"
	"log/slog"

	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCmd creates the root omnigate command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "omnigate",
		Short:         "Omnigate: LLM failover gateway",
		Long:          "Omnigate routes prompts across Anthropic, OpenAI, Google and OpenRouter, failing over between them and watching their health.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initLogging(cmd)
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	root.PersistentFlags().String("log-format", "text", "log format: text or json")

	root.AddCommand(
		newInitCmd(),
		newStartCmd(),
		newStatusCmd(),
		newProvidersCmd(),
		newProbeCmd(),
		newDoctorCmd(),
		newRecoveryCmd(),
		newSecretCmd(),
		newVersionCmd(),
	)

	return root
}

// initLogging binds the logging flags through viper, so OMNIGATE_VERBOSE
// and OMNIGATE_LOG_FORMAT work too, and installs the default slog handler.
func initLogging(cmd *cobra.Command) error {
	v := viper.New()
	v.SetEnvPrefix("OMNIGATE")
	v.AutomaticEnv()
	if err := v.BindPFlag("verbose", cmd.Root().PersistentFlags().Lookup("verbose")); err != nil {
		return omnierr.Errorf(omnierr.CodeCLISetupFailure, "binding verbose flag: %w", err)
	}
	if err := v.BindPFlag("log_format", cmd.Root().PersistentFlags().Lookup("log-format")); err != nil {
		return omnierr.Errorf(omnierr.CodeCLISetupFailure, "binding log-format flag: %w", err)
	}

	h, err := newLogHandler(cmd.ErrOrStderr(), v.GetString("log_format"), v.GetBool("verbose"))
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(h))
	return nil
}

func newLogHandler(w io.Writer, format string, verbose bool) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	switch format {
	case "", "text":
		return slog.NewTextHandler(w, opts), nil
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	default:
		return nil, omnierr.Errorf(omnierr.CodeCLIInputInvalid, "unknown log format %q (want text or json)", format)
	}
}
