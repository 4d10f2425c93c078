// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package secrets

import (
	"strings"

	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
)

const keyringScheme = "keyring://"

// IsRef reports whether value is a keyring:// reference.
func IsRef(value string) bool {
	return strings.HasPrefix(value, keyringScheme)
}

// ParseRef splits keyring://service/key. The key may contain slashes.
func ParseRef(ref string) (service, key string, err error) {
	if !IsRef(ref) {
		return "", "", omnierr.Errorf(omnierr.CodeSecretInvalidInput, "not a keyring reference: %q", ref)
	}
	service, key, ok := strings.Cut(strings.TrimPrefix(ref, keyringScheme), "/")
	if !ok || service == "" || key == "" {
		return "", "", omnierr.Errorf(omnierr.CodeSecretInvalidInput,
			"invalid keyring reference %q: expected keyring://service/key", ref)
	}
	return service, key, nil
}

// Resolve returns the secret behind a keyring reference. Any other value,
// including a literal credential, is returned unchanged.
func Resolve(store Store, value string) (string, error) {
	if !IsRef(value) {
		return value, nil
	}
	service, key, err := ParseRef(value)
	if err != nil {
		return "", err
	}
	if store == nil {
		store = Keyring{}
	}
	secret, err := store.Get(service, key)
	if err != nil {
		return "", omnierr.Wrapf(err, omnierr.CodeSecretResolveFailure, "resolving %s", value)
	}
	return secret, nil
}

// Redact renders a credential for display: references are shown as is,
// literal values are reduced to their last four characters.
func Redact(value string) string {
	switch {
	case value == "":
		return ""
	case IsRef(value):
		return value
	case len(value) <= 8:
		return "****"
	default:
		return "****" + value[len(value)-4:]
	}
}
