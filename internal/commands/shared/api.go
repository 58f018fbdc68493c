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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tombee/circuit/internal/config"
	"github.com/tombee/circuit/internal/httputil"
)

// Paths resolves the data directory from --home or the environment.
func Paths() (config.Paths, error) {
	return config.ResolvePaths(GetHome())
}

// ResolveAddr returns the gateway address: --addr, then settings and
// their environment overrides.
func ResolveAddr() (string, error) {
	if addr := GetAddr(); addr != "" {
		return addr, nil
	}
	paths, err := Paths()
	if err != nil {
		return "", err
	}
	settings, err := config.LoadSettings(paths.Settings)
	if err != nil {
		return "", err
	}
	return settings.Gateway.Addr, nil
}

// APIClient calls the local gateway.
type APIClient struct {
	addr    string
	baseURL string
	client  *http.Client
}

// NewAPIClient creates a client for the gateway at addr.
func NewAPIClient(addr string) *APIClient {
	return &APIClient{
		addr:    addr,
		baseURL: "http://" + addr,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

// DefaultAPIClient resolves the address and creates a client.
func DefaultAPIClient() (*APIClient, error) {
	addr, err := ResolveAddr()
	if err != nil {
		return nil, err
	}
	return NewAPIClient(addr), nil
}

// Get decodes the JSON response of GET path into out.
func (c *APIClient) Get(ctx context.Context, path string, query url.Values, out any) error {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// Post sends body as JSON and decodes the response into out.
// A nil body sends no content.
func (c *APIClient) Post(ctx context.Context, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	return c.do(ctx, http.MethodPost, path, r, out)
}

func (c *APIClient) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return NewUnavailableError(c.addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return httputil.ReadError(resp)
	}
	if out == nil {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		*raw = data
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
