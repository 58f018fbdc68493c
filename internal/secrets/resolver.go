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

package secrets

import (
	"fmt"
	"os"
	"strings"
)

// Reference prefixes recognized in env override values.
const (
	KeyringPrefix = "keyring:"
	EnvPrefix     = "env:"
)

// Resolver expands secret references in environment overrides.
//
//	API_KEY=keyring:openai   -> value of keychain entry "openai"
//	TOKEN=env:GITHUB_TOKEN   -> value of the daemon's GITHUB_TOKEN
//
// Any other value is passed through unchanged.
type Resolver struct {
	keychain *Keychain
	lookup   func(string) (string, bool)
}

// NewResolver returns a resolver backed by the system keychain and process env.
func NewResolver() *Resolver {
	return &Resolver{
		keychain: NewKeychain(),
		lookup:   os.LookupEnv,
	}
}

// IsReference reports whether value is a secret reference.
func IsReference(value string) bool {
	return strings.HasPrefix(value, KeyringPrefix) || strings.HasPrefix(value, EnvPrefix)
}

// Resolve expands a single value.
func (r *Resolver) Resolve(value string) (string, error) {
	switch {
	case strings.HasPrefix(value, KeyringPrefix):
		key := strings.TrimPrefix(value, KeyringPrefix)
		if key == "" {
			return "", fmt.Errorf("empty keyring reference")
		}
		return r.keychain.Get(key)
	case strings.HasPrefix(value, EnvPrefix):
		name := strings.TrimPrefix(value, EnvPrefix)
		v, ok := r.lookup(name)
		if !ok {
			return "", fmt.Errorf("%w: environment variable %s", ErrSecretNotFound, name)
		}
		return v, nil
	default:
		return value, nil
	}
}

// ResolveEnv returns a copy of env with every reference expanded.
func (r *Resolver) ResolveEnv(env map[string]string) (map[string]string, error) {
	if len(env) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		resolved, err := r.Resolve(v)
		if err != nil {
			return nil, fmt.Errorf("env %s: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}
