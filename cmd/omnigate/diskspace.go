// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

//go:build !windows

package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func checkDiskSpace(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Fall back to home directory if the config dir doesn't exist yet.
		path, _ = os.UserHomeDir()
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return fmt.Sprintf("unable to check: %s", err)
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)
	return formatBytes(availBytes) + " available"
}
