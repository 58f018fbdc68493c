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


package status

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/circuit/internal/commands/shared"
	"github.com/tombee/circuit/internal/gateway"
	"github.com/tombee/circuit/internal/httputil"
	"github.com/tombee/circuit/internal/mcp"
)

func fakeGateway(t *testing.T) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /mcp/status", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]gateway.StatusEntry{
			"fs":  {ID: "fs", Name: "fs", Status: mcp.StatusRunning, Uptime: 125, ToolCount: 2, Stats: mcp.Stats{CallCount: 7, ErrorCount: 1}},
			"git": {ID: "git", Name: "git", Status: mcp.StatusError, HasError: true},
		})
	})
	mux.HandleFunc("GET /mcp/tools", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, gateway.ToolsResponse{Tools: []mcp.ServerTool{
			{ToolDefinition: mcp.ToolDefinition{Name: "read_file", Description: "Read a file\nfrom disk"}, ServerID: "fs"},
			{ToolDefinition: mcp.ToolDefinition{Name: "git_log"}, ServerID: "git"},
		}})
	})
	mux.HandleFunc("GET /mcp/logs/{serverId}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("serverId") != "fs" {
			httputil.WriteError(w, http.StatusNotFound, "server not found")
			return
		}
		assert.Equal(t, "2", r.URL.Query().Get("lines"))
		httputil.WriteJSON(w, http.StatusOK, gateway.LogsResponse{Logs: []string{"one", "two"}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	shared.ResetFlagsForTest()
	t.Cleanup(shared.ResetFlagsForTest)

	root := &cobra.Command{Use: "circuit", SilenceUsage: true, SilenceErrors: true}
	j, _, addr := shared.RegisterFlagPointers()
	root.PersistentFlags().BoolVar(j, "json", false, "")
	root.PersistentFlags().StringVar(addr, "addr", "", "")
	root.AddCommand(NewStatusCommand(), NewToolsCommand(), NewLogsCommand())

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestStatus(t *testing.T) {
	addr := fakeGateway(t)

	out, err := execute(t, "--addr", addr, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "fs")
	assert.Contains(t, out, "2m5s")
	assert.Contains(t, out, "circuit logs git")
	assert.Less(t, strings.Index(out, "fs "), strings.Index(out, "git "), "sorted by id")

	out, err = execute(t, "--addr", addr, "--json", "status", "fs")
	require.NoError(t, err)
	var entry gateway.StatusEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entry))
	assert.Equal(t, "fs", entry.ID)
	assert.Equal(t, int64(7), int64(entry.Stats.CallCount))

	out, err = execute(t, "--addr", addr, "status", "git")
	require.NoError(t, err)
	assert.Contains(t, out, "Server: git")
	assert.Contains(t, out, "see: circuit logs git")

	_, err = execute(t, "--addr", addr, "status", "nope")
	assert.Equal(t, shared.ExitNotFound, shared.ExitCode(err))
}

func TestTools(t *testing.T) {
	addr := fakeGateway(t)

	out, err := execute(t, "--addr", addr, "tools")
	require.NoError(t, err)
	assert.Contains(t, out, "read_file")
	assert.Contains(t, out, "Read a file")
	assert.NotContains(t, out, "from disk")
	assert.Contains(t, out, "git_log")

	out, err = execute(t, "--addr", addr, "tools", "--server", "git")
	require.NoError(t, err)
	assert.NotContains(t, out, "read_file")
}

func TestLogs(t *testing.T) {
	addr := fakeGateway(t)

	out, err := execute(t, "--addr", addr, "logs", "fs", "-n", "2")
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", out)

	_, err = execute(t, "--addr", addr, "logs", "other", "-n", "2")
	assert.Equal(t, shared.ExitNotFound, shared.ExitCode(err))

	_, err = execute(t, "--addr", addr, "logs", "fs", "-n", "0")
	assert.Equal(t, shared.ExitUsage, shared.ExitCode(err))
}

func TestStatus_DaemonDown(t *testing.T) {
	_, err := execute(t, "--addr", "127.0.0.1:1", "status")
	assert.Equal(t, shared.ExitUnavailable, shared.ExitCode(err))
}
