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


package shared

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/circuit/internal/httputil"
	"github.com/tombee/circuit/internal/mcp"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("boom"), ExitFailure},
		{"usage", NewUsageError("bad"), ExitUsage},
		{"unavailable", NewUnavailableError("127.0.0.1:1", errors.New("refused")), ExitUnavailable},
		{"mcp not found", mcp.ErrServerNotFound("fs"), ExitNotFound},
		{"mcp config", mcp.ErrInvalidConfig("x"), ExitConfig},
		{"mcp other", mcp.ErrTimeout("start"), ExitFailure},
		{"http 404", &httputil.StatusError{Code: http.StatusNotFound}, ExitNotFound},
		{"http 400", &httputil.StatusError{Code: http.StatusBadRequest}, ExitUsage},
		{"http 500", &httputil.StatusError{Code: http.StatusInternalServerError}, ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestAPIClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "5", r.URL.Query().Get("lines"))
			httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		default:
			httputil.WriteError(w, http.StatusNotFound, "server not found")
		}
	}))
	defer srv.Close()

	c := NewAPIClient(strings.TrimPrefix(srv.URL, "http://"))

	var out map[string]string
	require.NoError(t, c.Get(context.Background(), "/ok", map[string][]string{"lines": {"5"}}, &out))
	assert.Equal(t, "ok", out["status"])

	err := c.Post(context.Background(), "/missing", map[string]string{"a": "b"}, nil)
	var se *httputil.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "server not found", se.Message)
}

func TestAPIClient_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	err = NewAPIClient(addr).Get(context.Background(), "/health", nil, nil)
	assert.Equal(t, ExitUnavailable, ExitCode(err))
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "-", FormatUptime(0))
	assert.Equal(t, "42s", FormatUptime(42))
	assert.Equal(t, "2m5s", FormatUptime(125))
	assert.Equal(t, "1h1m", FormatUptime(3660))
	assert.Equal(t, "2d3h", FormatUptime(2*86400+3*3600))
}
