// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package secrets resolves secret references in server environment
// overrides from the OS keychain.
package secrets

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

var (
	// ErrSecretNotFound is returned when a secret key does not exist.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrBackendUnavailable is returned when the keychain cannot be used.
	ErrBackendUnavailable = errors.New("keychain unavailable")
)

// KeychainService is the service name used for keychain entries.
const KeychainService = "circuit"

// Keychain stores secrets in the system keychain.
// Supported platforms:
//   - macOS: Keychain Access
//   - Linux: Secret Service API (GNOME Keyring, KWallet)
//   - Windows: Credential Manager
type Keychain struct {
	service string
}

// NewKeychain returns a keychain scoped to KeychainService.
func NewKeychain() *Keychain {
	return &Keychain{service: KeychainService}
}

// Get retrieves a secret.
func (k *Keychain) Get(key string) (string, error) {
	value, err := keyring.Get(k.service, key)
	if err != nil {
		return "", k.wrap(key, err)
	}
	return value, nil
}

// Set stores a secret.
func (k *Keychain) Set(key, value string) error {
	if err := keyring.Set(k.service, key, value); err != nil {
		return k.wrap(key, err)
	}
	return nil
}

// Delete removes a secret.
func (k *Keychain) Delete(key string) error {
	if err := keyring.Delete(k.service, key); err != nil {
		return k.wrap(key, err)
	}
	return nil
}

func (k *Keychain) wrap(key string, err error) error {
	if errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	if isKeychainUnavailableError(err) {
		return fmt.Errorf("%w: %s", ErrBackendUnavailable, err.Error())
	}
	return fmt.Errorf("keychain error: %w", err)
}

func isKeychainUnavailableError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"locked", "not available", "no such interface", "dbus", "secret service"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
