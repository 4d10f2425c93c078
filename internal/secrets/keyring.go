// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package secrets

import (
	"encoding/json"
	"errors"
	"log/slog"
	"slices"

	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
	"github.com/zalando/go-keyring"
)

// indexSuffix names the entry holding a service's JSON key list, since
// go-keyring cannot enumerate keys.
const indexSuffix = "::index"

// Keyring is a Store over the OS keyring (Keychain, secret-service or
// Credential Manager).
type Keyring struct{}

var _ Store = Keyring{}

func checkInput(op, service, key string) error {
	if service == "" {
		return omnierr.New(omnierr.CodeSecretInvalidInput, "secret "+op+": service must not be empty")
	}
	if key == "" {
		return omnierr.New(omnierr.CodeSecretInvalidInput, "secret "+op+": key must not be empty")
	}
	return nil
}

func (Keyring) Set(service, key, value string) error {
	if err := checkInput("set", service, key); err != nil {
		return err
	}
	if err := keyring.Set(service, key, value); err != nil {
		return omnierr.Wrapf(err, omnierr.CodeSecretStoreFailure, "storing secret %s/%s", service, key)
	}

	keys, err := loadIndex(service)
	if err != nil {
		return err
	}
	if slices.Contains(keys, key) {
		return nil
	}
	return saveIndex(service, append(keys, key))
}

func (Keyring) Get(service, key string) (string, error) {
	if err := checkInput("get", service, key); err != nil {
		return "", err
	}
	val, err := keyring.Get(service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", omnierr.Errorf(omnierr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	}
	if err != nil {
		return "", omnierr.Wrapf(err, omnierr.CodeSecretStoreFailure, "retrieving secret %s/%s", service, key)
	}
	return val, nil
}

func (Keyring) Delete(service, key string) error {
	if err := checkInput("delete", service, key); err != nil {
		return err
	}
	err := keyring.Delete(service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return omnierr.Errorf(omnierr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	}
	if err != nil {
		return omnierr.Wrapf(err, omnierr.CodeSecretDeleteFailure, "deleting secret %s/%s", service, key)
	}

	keys, err := loadIndex(service)
	if err != nil {
		return err
	}
	return saveIndex(service, slices.DeleteFunc(keys, func(k string) bool { return k == key }))
}

func (Keyring) List(service string) ([]string, error) {
	if service == "" {
		return nil, omnierr.New(omnierr.CodeSecretInvalidInput, "secret list: service must not be empty")
	}
	return loadIndex(service)
}

func loadIndex(service string) ([]string, error) {
	raw, err := keyring.Get(service, service+indexSuffix)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, omnierr.Wrapf(err, omnierr.CodeSecretListFailure, "loading key index for %s", service)
	}

	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, omnierr.Wrapf(err, omnierr.CodeSecretListFailure, "decoding key index for %s", service)
	}
	return keys, nil
}

func saveIndex(service string, keys []string) error {
	indexKey := service + indexSuffix
	if len(keys) == 0 {
		if err := keyring.Delete(service, indexKey); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			slog.Debug("removing empty key index", "service", service, "error", err)
		}
		return nil
	}

	data, err := json.Marshal(keys)
	if err != nil {
		return omnierr.Wrapf(err, omnierr.CodeSecretListFailure, "encoding key index for %s", service)
	}
	if err := keyring.Set(service, indexKey, string(data)); err != nil {
		return omnierr.Wrapf(err, omnierr.CodeSecretListFailure, "saving key index for %s", service)
	}
	return nil
}
