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
	"maps"
	"slices"
	"time"
)

// ServerStatus represents the lifecycle state of a server instance.
type ServerStatus string

const (
	StatusStopped  ServerStatus = "stopped"
	StatusStarting ServerStatus = "starting"
	StatusRunning  ServerStatus = "running"
	StatusError    ServerStatus = "error"
)

// ServerConfig is the persisted definition of a tool server.
type ServerConfig struct {
	// ID is the filesystem-safe identifier, derived from PackageID unless set.
	ID string `json:"id"`

	// Name is the human-readable display name.
	Name string `json:"name"`

	// PackageID is the upstream package identifier, e.g. "@acme/fs-server".
	PackageID string `json:"packageId"`

	// Command is the executable to spawn.
	Command string `json:"command"`

	// Args are passed to Command in order.
	Args []string `json:"args"`

	// Env overrides are merged over the daemon environment. Values of the
	// form "keyring:<key>" are resolved from the OS keychain at spawn time.
	Env map[string]string `json:"env,omitempty"`

	// AutoStart starts the server when the registry loads.
	AutoStart bool `json:"autoStart"`

	// AutoRestart restarts the server after a crash or failed health probe.
	AutoRestart bool `json:"autoRestart"`
}

// Clone returns a deep copy of the config.
func (c ServerConfig) Clone() ServerConfig {
	out := c
	out.Args = slices.Clone(c.Args)
	out.Env = maps.Clone(c.Env)
	return out
}

// DisplayName returns Name, falling back to ID.
func (c ServerConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// ToolDefinition describes a tool exposed by a server.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// PromptArgument describes one prompt parameter.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// PromptDefinition describes a prompt template exposed by a server.
type PromptDefinition struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// ResourceDefinition describes a resource exposed by a server.
type ResourceDefinition struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ContentItem is one block of a tool result.
type ContentItem struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// ToolResult is the result of a tool call.
// IsError marks a tool-level failure reported by the server itself.
type ToolResult struct {
	Content           []ContentItem `json:"content"`
	StructuredContent any           `json:"structuredContent,omitempty"`
	IsError           bool          `json:"isError,omitempty"`
}

// ServerCapabilities records what the server advertised during initialize.
type ServerCapabilities struct {
	Tools     bool `json:"tools"`
	Prompts   bool `json:"prompts"`
	Resources bool `json:"resources"`
}

// Stats are per-instance call counters.
type Stats struct {
	CallCount          int64 `json:"callCount"`
	ErrorCount         int64 `json:"errorCount"`
	LastCallDurationMs int64 `json:"lastCallDurationMs"`
	TotalDurationMs    int64 `json:"totalDurationMs"`
}

func (s *Stats) record(d time.Duration, failed bool) {
	s.CallCount++
	if failed {
		s.ErrorCount++
	}
	s.LastCallDurationMs = d.Milliseconds()
	s.TotalDurationMs += d.Milliseconds()
}

// Status is a point-in-time snapshot of an instance.
type Status struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Status          ServerStatus       `json:"status"`
	Pid             int                `json:"pid,omitempty"`
	StartedAt       *time.Time         `json:"startedAt,omitempty"`
	UptimeSeconds   int64              `json:"uptime"`
	LastHealthCheck *time.Time         `json:"lastHealthCheck,omitempty"`
	Error           string             `json:"error,omitempty"`
	Stats           Stats              `json:"stats"`
	ToolCount       int                `json:"toolCount"`
	PromptCount     int                `json:"promptCount"`
	ResourceCount   int                `json:"resourceCount"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	AutoStart       bool               `json:"autoStart"`
	AutoRestart     bool               `json:"autoRestart"`
}

// Standard JSON-RPC error codes.
const (
	ErrorCodeParseError     = -32700
	ErrorCodeInvalidRequest = -32600
	ErrorCodeMethodNotFound = -32601
	ErrorCodeInvalidParams  = -32602
	ErrorCodeInternal       = -32603
)
