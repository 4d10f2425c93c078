// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/omnigate-dev/omnigate/internal/provider"
	"github.com/omnigate-dev/omnigate/internal/secrets"
	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
	"github.com/spf13/cobra"
)

// secretStoreFactory creates a secrets.Store. It is a package-level variable
// so tests can substitute a mock implementation.
var secretStoreFactory = func() secrets.Store {
	return secrets.Keyring{}
}

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage provider credentials in the OS keyring",
		Long: "Store, inspect and delete credentials under the omnigate keyring service. " +
			"Reference them from config as keyring://omnigate/<name>.",
	}

	cmd.AddCommand(
		newSecretSetCmd(),
		newSecretGetCmd(),
		newSecretListCmd(),
		newSecretDeleteCmd(),
	)

	return cmd
}

func newSecretSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name> [value]",
		Short: "Store a secret, reading the value from stdin when omitted",
		Long: "Store a secret. A provider name (anthropic, openai, google, openrouter) is " +
			"stored as <provider>-api-key.",
		Args: cobra.RangeArgs(1, 2),
		RunE: runSecretSet,
	}
}

func newSecretGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Show a stored secret, redacted unless --reveal is set",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretGet,
	}
	cmd.Flags().Bool("reveal", false, "print the full value")
	return cmd
}

func newSecretListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all stored secret names",
		RunE:  runSecretList,
	}
}

func newSecretDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a secret by name",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretDelete,
	}
}

// secretKey maps a provider name to its conventional key; other names
// are used as given.
func secretKey(name string) string {
	if tag := provider.Tag(name); tag.Known() {
		return secrets.ProviderKey(name)
	}
	return name
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	key := secretKey(args[0])

	var value string
	if len(args) == 2 {
		value = args[1]
	} else {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return omnierr.New(omnierr.CodeCLIInputInvalid, "no secret value given on stdin")
		}
		value = line
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return omnierr.New(omnierr.CodeCLIInputInvalid, "secret value must not be empty")
	}

	if err := secretStoreFactory().Set(secrets.DefaultService, key, value); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored secret: %s\nReference it as keyring://%s/%s\n",
		key, secrets.DefaultService, key)
	return nil
}

func runSecretGet(cmd *cobra.Command, args []string) error {
	key := secretKey(args[0])
	reveal, _ := cmd.Flags().GetBool("reveal")

	value, err := secretStoreFactory().Get(secrets.DefaultService, key)
	if err != nil {
		return err
	}
	if !reveal {
		value = secrets.Redact(value)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

func runSecretList(cmd *cobra.Command, _ []string) error {
	keys, err := secretStoreFactory().List(secrets.DefaultService)
	if err != nil {
		return omnierr.Errorf(omnierr.CodeSecretListFailure, "listing secrets: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(keys) == 0 {
		_, _ = fmt.Fprintln(out, "No secrets stored.")
		return nil
	}

	for _, k := range keys {
		_, _ = fmt.Fprintln(out, k)
	}
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	name := secretKey(args[0])

	if err := secretStoreFactory().Delete(secrets.DefaultService, name); err != nil {
		if omnierr.HasCode(err, omnierr.CodeSecretNotFound) {
			return omnierr.Errorf(omnierr.CodeSecretNotFound, "secret %q not found", name)
		}
		return omnierr.Errorf(omnierr.CodeSecretDeleteFailure, "deleting secret %q: %w", name, err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted secret: %s\n", name)
	return nil
}
