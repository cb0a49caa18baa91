// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/zalando/go-keyring"
)

// keyringService is the OS keyring service name for stored secrets.
const keyringService = "treadle"

// secretMapping binds a keyring entry to the environment variable it fills.
type secretMapping struct {
	KeyringKey string
	EnvVar     string
}

func secretMappings() []secretMapping {
	return []secretMapping{
		{KeyringKey: "anthropic_api_key", EnvVar: EnvAnthropicAPIKey},
		{KeyringKey: "oai_compat_api_key", EnvVar: EnvOAIAPIKey},
		{KeyringKey: "web_search_api_key", EnvVar: EnvWebSearchAPIKey},
	}
}

// LoadSecretsFromKeyring fills unset API-key environment variables from
// the OS keyring. Explicit environment values always win. Returns how
// many secrets were loaded plus any non-fatal lookup errors (a missing
// keyring backend is common on headless hosts and not an error).
func LoadSecretsFromKeyring() (int, []error) {
	loaded := 0
	var errs []error
	for _, m := range secretMappings() {
		if os.Getenv(m.EnvVar) != "" {
			continue
		}
		value, err := keyring.Get(keyringService, m.KeyringKey)
		if err != nil {
			if !errors.Is(err, keyring.ErrNotFound) {
				errs = append(errs, fmt.Errorf("keyring %s: %w", m.KeyringKey, err))
			}
			continue
		}
		if value == "" {
			continue
		}
		if err := os.Setenv(m.EnvVar, value); err != nil {
			errs = append(errs, fmt.Errorf("set %s: %w", m.EnvVar, err))
			continue
		}
		loaded++
	}
	return loaded, errs
}

// ListSecretKeys returns the keyring entry names the runtime knows how
// to fill at startup.
func ListSecretKeys() []string {
	mappings := secretMappings()
	keys := make([]string, 0, len(mappings))
	for _, m := range mappings {
		keys = append(keys, m.KeyringKey)
	}
	return keys
}

// StoreSecret saves a secret in the OS keyring under the given name.
func StoreSecret(name, value string) error {
	if err := keyring.Set(keyringService, name, value); err != nil {
		return fmt.Errorf("store secret %s: %w", name, err)
	}
	return nil
}

// GetSecret retrieves a secret from the OS keyring.
func GetSecret(name string) (string, error) {
	value, err := keyring.Get(keyringService, name)
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", name, err)
	}
	return value, nil
}

// DeleteSecret removes a secret from the OS keyring. Deleting a secret
// that does not exist is not an error.
func DeleteSecret(name string) error {
	err := keyring.Delete(keyringService, name)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("delete secret %s: %w", name, err)
	}
	return nil
}
