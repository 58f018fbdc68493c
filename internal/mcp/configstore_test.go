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
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/circuit/internal/log"
)

func newTestStore(t *testing.T, content string) *ConfigStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if content != "" {
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	}
	return NewConfigStore(path, log.Discard())
}

func TestConfigStore_LoadMissingCreatesEmpty(t *testing.T) {
	store := newTestStore(t, "")

	servers, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, servers)

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	var root map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &root))
	assert.Empty(t, root["servers"])
}

func TestConfigStore_LoadCorruptIsEmpty(t *testing.T) {
	store := newTestStore(t, "{not json")

	servers, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, servers)

	// corrupt file is left for the operator to fix
	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))
}

func TestConfigStore_LoadPreservesOrder(t *testing.T) {
	store := newTestStore(t, `{"servers":{
		"zeta":  {"id":"zeta","name":"Zeta","command":"z","args":[]},
		"alpha": {"id":"alpha","name":"Alpha","command":"a","args":["--x"]},
		"mid":   {"id":"mid","name":"Mid","command":"m","args":[]}
	}}`)

	servers, err := store.Load()
	require.NoError(t, err)
	require.Len(t, servers, 3)
	assert.Equal(t, "zeta", servers[0].ID)
	assert.Equal(t, "alpha", servers[1].ID)
	assert.Equal(t, []string{"--x"}, servers[1].Args)
	assert.Equal(t, "mid", servers[2].ID)
}

func TestConfigStore_LoadMigratesAndDropsDuplicates(t *testing.T) {
	store := newTestStore(t, `{"servers":{
		"@acme/fs":  {"packageId":"@acme/fs","name":"First","command":"npx","autoStart":true},
		"acme-fs":   {"id":"acme-fs","name":"Second","command":"npx"},
		"other":     {"packageId":"other","command":"uvx"}
	}}`)

	servers, err := store.Load()
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, "acme-fs", servers[0].ID)
	assert.Equal(t, "First", servers[0].Name, "first-seen entry wins")
	assert.True(t, servers[0].AutoStart)
	assert.Equal(t, "other", servers[1].ID)

	// migrated form was persisted and reloads without changes
	reloaded, err := NewConfigStore(store.Path(), log.Discard()).Load()
	require.NoError(t, err)
	assert.Equal(t, servers, reloaded)

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "@acme/fs\":")
	assert.NotContains(t, string(data), "Second")
}

func TestConfigStore_SaveRoundTrip(t *testing.T) {
	store := newTestStore(t, "")

	in := []ServerConfig{
		{ID: "b", Name: "B", Command: "node", Args: []string{"server.js"}, Env: map[string]string{"K": "V"}, AutoRestart: true},
		{ID: "a", Name: "A", Command: "uvx"},
	}
	require.NoError(t, store.Save(in))

	out, err := store.Load()
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].ID)
	assert.Equal(t, map[string]string{"K": "V"}, out[0].Env)
	assert.True(t, out[0].AutoRestart)
	assert.Equal(t, "a", out[1].ID)
	assert.Equal(t, []string{}, out[1].Args)

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// no temp files left behind
	entries, err := os.ReadDir(filepath.Dir(store.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestConfigStore_AddRemove(t *testing.T) {
	store := newTestStore(t, "")

	added, err := store.Add(ServerConfig{PackageID: "@acme/fs-server", Command: "npx"})
	require.NoError(t, err)
	assert.Equal(t, "acme-fs-server", added.ID)

	_, err = store.Add(ServerConfig{PackageID: "acme/fs-server", Command: "npx"})
	assert.True(t, HasCode(err, ErrorCodeAlreadyExists))

	_, err = store.Add(ServerConfig{ID: "nocmd"})
	assert.True(t, HasCode(err, ErrorCodeConfig))

	require.NoError(t, store.Remove("acme-fs-server"))
	assert.True(t, HasCode(store.Remove("acme-fs-server"), ErrorCodeNotFound))

	servers, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, servers)

	modified, err := store.Modified()
	require.NoError(t, err)
	assert.False(t, modified, "own writes are not reported as external edits")
}
