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

// Package history records every tool call, after privacy filtering, to a
// durable store (SQLite by default, PostgreSQL optionally).
package history

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the outcome of a recorded call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// MethodToolsCall is the protocol method recorded for tool calls.
const MethodToolsCall = "tools/call"

// CallError describes a failed call.
type CallError struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// CallRecord is one tool call. Records are immutable once stored.
type CallRecord struct {
	ID         string          `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	DurationMs int64           `json:"durationMs"`
	ServerID   string          `json:"serverId"`
	ServerName string          `json:"serverName"`
	Method     string          `json:"method"`
	ToolName   string          `json:"toolName"`
	Request    json.RawMessage `json:"request,omitempty"`
	Response   json.RawMessage `json:"response,omitempty"`
	Error      *CallError      `json:"error,omitempty"`
	Status     Status          `json:"status"`
	Source     string          `json:"source,omitempty"`
}

// NewRecord fills the id, method and timestamp of a record.
func NewRecord(serverID, serverName, tool string, started time.Time) CallRecord {
	return CallRecord{
		ID:         uuid.NewString(),
		Timestamp:  started.UTC(),
		ServerID:   serverID,
		ServerName: serverName,
		Method:     MethodToolsCall,
		ToolName:   tool,
	}
}

// Query selects records. Zero fields do not filter.
type Query struct {
	ServerID string
	ToolName string
	Status   Status
	Since    time.Time
	Until    time.Time

	// Limit caps the result. Zero means DefaultQueryLimit; other values
	// are clamped to [1, MaxQueryLimit].
	Limit int
}

const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// ClampLimit returns the limit a query will actually use.
func ClampLimit(limit int) int {
	switch {
	case limit == 0:
		return DefaultQueryLimit
	case limit < 1:
		return 1
	case limit > MaxQueryLimit:
		return MaxQueryLimit
	default:
		return limit
	}
}
