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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestKeychain_RoundTrip(t *testing.T) {
	keyring.MockInit()
	k := NewKeychain()

	require.NoError(t, k.Set("openai", "sk-123"))

	v, err := k.Get("openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-123", v)

	require.NoError(t, k.Delete("openai"))

	_, err = k.Get("openai")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	assert.ErrorIs(t, k.Delete("openai"), ErrSecretNotFound)
}

func TestResolver_ResolveEnv(t *testing.T) {
	keyring.MockInit()
	require.NoError(t, NewKeychain().Set("gh", "ghp_secret"))

	r := NewResolver()
	r.lookup = func(name string) (string, bool) {
		if name == "HOME_TOKEN" {
			return "from-env", true
		}
		return "", false
	}

	out, err := r.ResolveEnv(map[string]string{
		"GITHUB_TOKEN": "keyring:gh",
		"OTHER":        "env:HOME_TOKEN",
		"PLAIN":        "value",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"GITHUB_TOKEN": "ghp_secret",
		"OTHER":        "from-env",
		"PLAIN":        "value",
	}, out)
}

func TestResolver_Errors(t *testing.T) {
	keyring.MockInit()
	r := NewResolver()
	r.lookup = func(string) (string, bool) { return "", false }

	_, err := r.ResolveEnv(map[string]string{"A": "keyring:missing"})
	assert.ErrorIs(t, err, ErrSecretNotFound)

	_, err = r.ResolveEnv(map[string]string{"A": "env:MISSING"})
	assert.ErrorIs(t, err, ErrSecretNotFound)

	_, err = r.Resolve("keyring:")
	assert.Error(t, err)

	out, err := r.ResolveEnv(nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestIsReference(t *testing.T) {
	assert.True(t, IsReference("keyring:x"))
	assert.True(t, IsReference("env:X"))
	assert.False(t, IsReference("plain"))
}
