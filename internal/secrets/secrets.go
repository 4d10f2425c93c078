// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

// Package secrets stores provider credentials outside the config file and
// resolves keyring://service/key references written in it.
package secrets

// DefaultService is the keyring service the CLI stores credentials under.
const DefaultService = "omnigate"

// Store provides secure secret storage operations.
type Store interface {
	// Set saves value under service and key, replacing any previous value.
	Set(service, key, value string) error

	// Get fetches a secret. A missing key is reported with
	// omnierr.CodeSecretNotFound.
	Get(service, key string) (string, error)

	// Delete removes a secret. A missing key is reported with
	// omnierr.CodeSecretNotFound.
	Delete(service, key string) error

	// List returns the key names stored under service.
	List(service string) ([]string, error)
}

// ProviderKey is the conventional key name for a provider credential,
// e.g. "anthropic-api-key".
func ProviderKey(provider string) string {
	return provider + "-api-key"
}

// ProviderRef is the keyring reference for a provider credential stored
// under DefaultService.
func ProviderRef(provider string) string {
	return keyringScheme + DefaultService + "/" + ProviderKey(provider)
}
