// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package config

import (
	_ "embed"
	"os"
	"path/filepath"

	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
)

//go:embed omnigate.yaml.default
var DefaultConfigYAML []byte

// DefaultConfigPath returns ~/.config/omnigate/omnigate.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", omnierr.Errorf(omnierr.CodeConfigLoadReadFailure, "resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "omnigate", "omnigate.yaml"), nil
}

// WriteDefault writes the commented default config to path with owner-only
// permissions. An existing file is left alone unless force is set.
// It reports whether the file was written.
func WriteDefault(path string, force bool) (bool, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return false, omnierr.Errorf(omnierr.CodeConfigLoadReadFailure, "creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, DefaultConfigYAML, 0o600); err != nil {
		return false, omnierr.Errorf(omnierr.CodeConfigLoadReadFailure, "writing %s: %w", path, err)
	}
	return true, nil
}
