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


package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/circuit/internal/commands/shared"
	"github.com/tombee/circuit/internal/httputil"
	"github.com/tombee/circuit/internal/log"
	"github.com/tombee/circuit/internal/mcp"
)

// execute runs the server group under a root carrying the global flags.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	shared.ResetFlagsForTest()
	t.Cleanup(shared.ResetFlagsForTest)

	root := &cobra.Command{Use: "circuit", SilenceUsage: true, SilenceErrors: true}
	j, home, addr := shared.RegisterFlagPointers()
	root.PersistentFlags().BoolVar(j, "json", false, "")
	root.PersistentFlags().StringVar(home, "home", "", "")
	root.PersistentFlags().StringVar(addr, "addr", "", "")
	root.AddCommand(NewServerCommand())

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func loadConfigs(t *testing.T, home string) []mcp.ServerConfig {
	t.Helper()
	servers, err := mcp.NewConfigStore(filepath.Join(home, "config.json"), log.Discard()).Load()
	require.NoError(t, err)
	return servers
}

func TestInstall_DefaultsToNpx(t *testing.T) {
	home := t.TempDir()
	out, err := execute(t, "--home", home, "server", "install", "@acme/fs-server", "--", "/srv/data")
	require.NoError(t, err)
	assert.Contains(t, out, "acme-fs-server")

	servers := loadConfigs(t, home)
	require.Len(t, servers, 1)
	assert.Equal(t, "acme-fs-server", servers[0].ID)
	assert.Equal(t, "@acme/fs-server", servers[0].PackageID)
	assert.Equal(t, "npx", servers[0].Command)
	assert.Equal(t, []string{"-y", "@acme/fs-server", "/srv/data"}, servers[0].Args)
}

func TestInstall_ExplicitCommand(t *testing.T) {
	home := t.TempDir()
	_, err := execute(t, "--home", home, "server", "install", "git",
		"--command", "uvx", "--id", "vcs", "--auto-start", "--auto-restart",
		"--env", "TOKEN=env:GITHUB_TOKEN", "--", "mcp-server-git")
	require.NoError(t, err)

	servers := loadConfigs(t, home)
	require.Len(t, servers, 1)
	s := servers[0]
	assert.Equal(t, "vcs", s.ID)
	assert.Equal(t, "uvx", s.Command)
	assert.Equal(t, []string{"mcp-server-git"}, s.Args)
	assert.Equal(t, map[string]string{"TOKEN": "env:GITHUB_TOKEN"}, s.Env)
	assert.True(t, s.AutoStart)
	assert.True(t, s.AutoRestart)
}

func TestInstall_Errors(t *testing.T) {
	home := t.TempDir()

	_, err := execute(t, "--home", home, "server", "install", "fs", "extra")
	assert.Equal(t, shared.ExitUsage, shared.ExitCode(err))

	_, err = execute(t, "--home", home, "server", "install", "fs", "--env", "NOVALUE")
	assert.Equal(t, shared.ExitUsage, shared.ExitCode(err))

	_, err = execute(t, "--home", home, "server", "install", "fs")
	require.NoError(t, err)
	_, err = execute(t, "--home", home, "server", "install", "fs")
	assert.True(t, mcp.HasCode(err, mcp.ErrorCodeAlreadyExists))
}

func TestUninstall(t *testing.T) {
	home := t.TempDir()
	_, err := execute(t, "--home", home, "server", "install", "fs")
	require.NoError(t, err)

	_, err = execute(t, "--home", home, "server", "uninstall", "fs")
	require.NoError(t, err)
	assert.Empty(t, loadConfigs(t, home))

	_, err = execute(t, "--home", home, "server", "uninstall", "fs")
	assert.Equal(t, shared.ExitNotFound, shared.ExitCode(err))
}

func TestList(t *testing.T) {
	home := t.TempDir()

	out, err := execute(t, "--home", home, "server", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No servers configured")

	_, err = execute(t, "--home", home, "server", "install", "fs", "--command", "fs-server")
	require.NoError(t, err)

	out, err = execute(t, "--home", home, "server", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "fs-server")

	out, err = execute(t, "--home", home, "--json", "server", "list")
	require.NoError(t, err)
	var resp struct {
		Servers []mcp.ServerConfig `json:"servers"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Servers, 1)
	assert.Equal(t, "fs", resp.Servers[0].ID)
}

func TestLifecycle_CallsGateway(t *testing.T) {
	var (
		mu  sync.Mutex
		got []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = append(got, r.Method+" "+r.URL.Path)
		mu.Unlock()
		if strings.HasPrefix(r.URL.Path, "/mcp/servers/missing/") {
			httputil.WriteError(w, http.StatusNotFound, "server not found")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "running"})
	}))
	defer srv.Close()
	addr := strings.TrimPrefix(srv.URL, "http://")

	out, err := execute(t, "--addr", addr, "server", "start", "fs")
	require.NoError(t, err)
	assert.Contains(t, out, "Started fs")

	_, err = execute(t, "--addr", addr, "server", "restart", "fs")
	require.NoError(t, err)

	_, err = execute(t, "--addr", addr, "server", "stop", "missing")
	assert.Equal(t, shared.ExitNotFound, shared.ExitCode(err))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"POST /mcp/servers/fs/start",
		"POST /mcp/servers/fs/restart",
		"POST /mcp/servers/missing/stop",
	}, got)
}
