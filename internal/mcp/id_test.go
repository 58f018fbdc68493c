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

package mcp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"@acme/fs-server", "acme-fs-server"},
		{"acme/fs-server", "acme-fs-server"},
		{"plain", "plain"},
		{"@@double/scope/pkg", "double-scope-pkg"},
		{`win\path:name*?`, "win-path-name--"},
		{`a"b<c>d|e`, "a-b-c-d-e"},
		{"  spaced name  ", "spaced-name"},
		{"tab\there", "tab-here"},
		{"unicodé", "unicodé"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := NormalizeID(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, NormalizeID(got), "normalization must be idempotent")
		})
	}
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID("acme-fs-server"))
	assert.False(t, ValidID(""))
	assert.False(t, ValidID("@acme"))
	assert.False(t, ValidID("a/b"))
	assert.False(t, ValidID(".."))
	assert.False(t, ValidID(strings.Repeat("a", MaxIDLength+1)))
}

func TestServerConfig_Validate(t *testing.T) {
	ok := ServerConfig{ID: "fs", Command: "npx"}
	require.NoError(t, ok.Validate())

	tests := []struct {
		name string
		cfg  ServerConfig
	}{
		{"bad id", ServerConfig{ID: "a/b", Command: "npx"}},
		{"no command", ServerConfig{ID: "fs"}},
		{"bad env key", ServerConfig{ID: "fs", Command: "npx", Env: map[string]string{"A=B": "x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.True(t, HasCode(err, ErrorCodeConfig))
		})
	}
}

func TestServerConfig_WithDerivedID(t *testing.T) {
	cfg := ServerConfig{PackageID: "@acme/fs-server", Command: "npx"}.withDerivedID()
	assert.Equal(t, "acme-fs-server", cfg.ID)
	assert.Equal(t, "acme-fs-server", cfg.Name)

	cfg = ServerConfig{ID: "custom", Name: "Files", PackageID: "@acme/fs"}.withDerivedID()
	assert.Equal(t, "custom", cfg.ID)
	assert.Equal(t, "Files", cfg.Name)
}
