// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

//go:build !windows

package config

import (
	"io/fs"
	"log/slog"
	"os"
)

// WarnInsecurePermissions logs a warning when the config file at path is
// readable by group or others. It reports whether it warned.
func WarnInsecurePermissions(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		slog.Debug("could not stat config file for permission check", "path", path, "error", err)
		return false
	}

	const readableByOthers fs.FileMode = 0o044
	if info.Mode().Perm()&readableByOthers == 0 {
		return false
	}
	slog.Warn("config file is readable by other users and may expose provider keys",
		"path", path, "mode", info.Mode(), "recommended", "0600")
	return true
}
