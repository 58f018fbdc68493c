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


package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/circuit/internal/gateway"
	"github.com/tombee/circuit/internal/log"
	"github.com/tombee/circuit/internal/mcp"
	mcptest "github.com/tombee/circuit/internal/mcp/testing"
)

func startDaemon(t *testing.T, home string) *Daemon {
	t.Helper()
	launcher := mcptest.NewFakeLauncher()
	launcher.Handle("fs-server", mcptest.EchoTool("read_file"))

	d, err := New(context.Background(), Options{
		Home:     home,
		Addr:     "127.0.0.1:0",
		Version:  "test",
		Logger:   log.Discard(),
		Launcher: launcher,
	})
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	})
	return d
}

func TestDaemon_CallIsRecordedAndRedacted(t *testing.T) {
	home := t.TempDir()
	store := mcp.NewConfigStore(filepath.Join(home, "config.json"), log.Discard())
	require.NoError(t, store.Save([]mcp.ServerConfig{{ID: "fs", Command: "fs-server", AutoStart: true}}))

	d := startDaemon(t, home)
	base := "http://" + d.Addr()

	st, err := d.Registry().GetStatus("fs")
	require.NoError(t, err)
	assert.Equal(t, mcp.StatusRunning, st.Status)

	body, _ := json.Marshal(gateway.CallRequest{
		ToolName:  "read_file",
		Arguments: map[string]any{"text": "hello", "password": "hunter2"},
	})
	resp, err := http.Post(base+"/mcp/call", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var hist gateway.HistoryResponse
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/mcp/history?serverId=fs")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		hist = gateway.HistoryResponse{}
		return json.NewDecoder(resp.Body).Decode(&hist) == nil && len(hist.Records) == 1
	}, 5*time.Second, 20*time.Millisecond)

	rec := hist.Records[0]
	assert.Equal(t, "read_file", rec.ToolName)
	assert.Equal(t, "gateway", rec.Source)
	assert.NotContains(t, string(rec.Request), "hunter2")
	assert.Contains(t, string(rec.Request), "hello")

	_, err = os.Stat(filepath.Join(home, "history.db"))
	assert.NoError(t, err)
}

func TestDaemon_PicksUpConfigEdits(t *testing.T) {
	home := t.TempDir()
	d := startDaemon(t, home)
	assert.Empty(t, d.Registry().IDs())

	store := mcp.NewConfigStore(filepath.Join(home, "config.json"), log.Discard())
	require.NoError(t, store.Save([]mcp.ServerConfig{{ID: "fs", Command: "fs-server"}}))

	require.Eventually(t, func() bool {
		return len(d.Registry().IDs()) == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestDaemon_RejectsBadSettings(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(home, "settings.yaml"), []byte("privacy:\n  mode: paranoid\n"), 0600))

	_, err := New(context.Background(), Options{Home: home, Logger: log.Discard()})
	assert.Error(t, err)
}

func TestDaemon_RefusesPublicAddress(t *testing.T) {
	_, err := New(context.Background(), Options{Home: t.TempDir(), Addr: "0.0.0.0:3737", Logger: log.Discard()})
	assert.Error(t, err)
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Options{Home: t.TempDir(), Addr: "127.0.0.1:0", Logger: log.Discard(), Launcher: mcptest.NewFakeLauncher()})
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDaemon_LogsServerEvents(t *testing.T) {
	home := t.TempDir()
	store := mcp.NewConfigStore(filepath.Join(home, "config.json"), log.Discard())
	require.NoError(t, store.Save([]mcp.ServerConfig{{ID: "fs", Command: "fs-server", AutoStart: true}}))

	launcher := mcptest.NewFakeLauncher()
	launcher.Handle("fs-server", mcptest.EchoTool("read_file"))
	out := &lockedBuffer{}
	d, err := New(context.Background(), Options{
		Home:     home,
		Addr:     "127.0.0.1:0",
		Logger:   log.New(&log.Config{Level: "info", Output: out}),
		Launcher: launcher,
	})
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"event":"status_changed","server_id":"fs","status":"running"`)
	}, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))
}
