// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package main

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/omnigate-dev/omnigate/internal/secrets"
	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
	"github.com/stretchr/testify/require"
)

// isolate clears credential variables and moves into an empty directory
// so neither the host environment nor a stray .env leaks into config.Load.
func isolate(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GOOGLE_API_KEY", "GEMINI_API_KEY",
		"OPENROUTER_API_KEY", "DEPLOYMENT_URL", "OMNIGATE_DEPLOYMENT_URL",
		"OMNIGATE_AUTH_SECRET", "OMNIGATE_SECRET",
	} {
		t.Setenv(name, "")
	}
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
}

// writeConfig writes body to a temp omnigate.yaml and returns its path.
func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "omnigate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.TrimLeft(body, "\n")), 0o600))
	return path
}

// execute runs the root command with args and returns what it wrote to
// stdout. Log output goes to a separate buffer.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeWithInput(t, "", args...)
}

// executeWithInput is execute with stdin set to input.
func executeWithInput(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetIn(strings.NewReader(input))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// deadAddress returns a loopback address nothing listens on.
func deadAddress(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// mockSecretStore is an in-memory secrets.Store for testing.
type mockSecretStore struct {
	data map[string]string // key → value (service is always "omnigate")
}

var _ secrets.Store = (*mockSecretStore)(nil)

func newMockSecretStore(kv ...string) *mockSecretStore {
	m := &mockSecretStore{data: make(map[string]string)}
	for i := 0; i+1 < len(kv); i += 2 {
		m.data[kv[i]] = kv[i+1]
	}
	return m
}

func (m *mockSecretStore) Set(_, key, value string) error {
	m.data[key] = value
	return nil
}

func (m *mockSecretStore) Get(_, key string) (string, error) {
	v, ok := m.data[key]
	if !ok {
		return "", omnierr.Errorf(omnierr.CodeSecretNotFound, "not found")
	}
	return v, nil
}

func (m *mockSecretStore) Delete(_, key string) error {
	if _, ok := m.data[key]; !ok {
		return omnierr.Errorf(omnierr.CodeSecretNotFound, "not found")
	}
	delete(m.data, key)
	return nil
}

func (m *mockSecretStore) List(_ string) ([]string, error) {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}

// useSecretStore swaps secretStoreFactory for the duration of t.
func useSecretStore(t *testing.T, store secrets.Store) {
	t.Helper()
	orig := secretStoreFactory
	secretStoreFactory = func() secrets.Store { return store }
	t.Cleanup(func() { secretStoreFactory = orig })
}
