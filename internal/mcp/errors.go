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
	"errors"
	"fmt"
	"strings"
)

// MCPErrorCode represents a category of MCP error.
type MCPErrorCode string

const (
	// ErrorCodeNotFound indicates a server was not found.
	ErrorCodeNotFound MCPErrorCode = "NOT_FOUND"
	// ErrorCodeAlreadyExists indicates a server already exists.
	ErrorCodeAlreadyExists MCPErrorCode = "ALREADY_EXISTS"
	// ErrorCodeNotRunning indicates a server is not running.
	ErrorCodeNotRunning MCPErrorCode = "NOT_RUNNING"
	// ErrorCodeSpawnFailed indicates the subprocess could not be started.
	ErrorCodeSpawnFailed MCPErrorCode = "SPAWN_FAILED"
	// ErrorCodeHandshakeFailed indicates the process started but initialize failed.
	ErrorCodeHandshakeFailed MCPErrorCode = "HANDSHAKE_FAILED"
	// ErrorCodeConnectTimeout indicates the handshake exceeded the connect timeout.
	ErrorCodeConnectTimeout MCPErrorCode = "CONNECT_TIMEOUT"
	// ErrorCodeToolNotFound indicates no running server exposes a tool.
	ErrorCodeToolNotFound MCPErrorCode = "TOOL_NOT_FOUND"
	// ErrorCodeCallFailed indicates a tool call failed in transport or remotely.
	ErrorCodeCallFailed MCPErrorCode = "CALL_FAILED"
	// ErrorCodeConnectionClosed indicates the server connection closed.
	ErrorCodeConnectionClosed MCPErrorCode = "CONNECTION_CLOSED"
	// ErrorCodeValidation indicates a validation error.
	ErrorCodeValidation MCPErrorCode = "VALIDATION"
	// ErrorCodeConfig indicates a configuration error.
	ErrorCodeConfig MCPErrorCode = "CONFIG"
	// ErrorCodeTimeout indicates a timeout occurred.
	ErrorCodeTimeout MCPErrorCode = "TIMEOUT"
	// ErrorCodeInternalError indicates an internal error.
	ErrorCodeInternalError MCPErrorCode = "INTERNAL"
)

// MCPError is an error type that includes suggestions for resolution.
type MCPError struct {
	// Code is the error category.
	Code MCPErrorCode
	// Message is the primary error message.
	Message string
	// Detail provides additional context.
	Detail string
	// Suggestions are actionable steps to resolve the error.
	Suggestions []string
	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *MCPError) Unwrap() error {
	return e.Cause
}

// Suggestion returns the first suggestion, or "".
func (e *MCPError) Suggestion() string {
	if len(e.Suggestions) == 0 {
		return ""
	}
	return e.Suggestions[0]
}

// NewMCPError creates a new MCPError.
func NewMCPError(code MCPErrorCode, message string) *MCPError {
	return &MCPError{
		Code:    code,
		Message: message,
	}
}

// WithDetail adds detail to the error.
func (e *MCPError) WithDetail(detail string) *MCPError {
	e.Detail = detail
	return e
}

// WithSuggestions adds suggestions to the error.
func (e *MCPError) WithSuggestions(suggestions ...string) *MCPError {
	e.Suggestions = suggestions
	return e
}

// WithCause adds an underlying cause to the error.
func (e *MCPError) WithCause(cause error) *MCPError {
	e.Cause = cause
	return e
}

// GetMCPError extracts an MCPError from err's chain.
func GetMCPError(err error) (*MCPError, bool) {
	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given MCP error code.
func HasCode(err error, code MCPErrorCode) bool {
	mcpErr, ok := GetMCPError(err)
	return ok && mcpErr.Code == code
}

// ErrServerNotFound creates an error for when a server is not found.
func ErrServerNotFound(id string) *MCPError {
	return NewMCPError(ErrorCodeNotFound, fmt.Sprintf("server '%s' not found", id)).
		WithSuggestions(
			"List installed servers: circuit server list",
			fmt.Sprintf("Install the server: circuit server install %s --command <cmd>", id),
		)
}

// ErrServerAlreadyExists creates an error for when a server already exists.
func ErrServerAlreadyExists(id string) *MCPError {
	return NewMCPError(ErrorCodeAlreadyExists, fmt.Sprintf("server '%s' already exists", id)).
		WithSuggestions(
			"Use a different --id for the new server",
			fmt.Sprintf("Remove existing server: circuit server uninstall %s", id),
		)
}

// ErrServerNotRunning creates an error for when a server is not running.
func ErrServerNotRunning(id string) *MCPError {
	return NewMCPError(ErrorCodeNotRunning, fmt.Sprintf("server '%s' is not running", id)).
		WithSuggestions(fmt.Sprintf("Start the server: circuit server start %s", id))
}

// ErrSpawnFailed creates an error for when the process cannot be started.
func ErrSpawnFailed(id, command string, cause error) *MCPError {
	suggestions := []string{
		"Verify the command is installed and in your PATH",
		fmt.Sprintf("Inspect the server log: circuit logs %s", id),
	}
	switch command {
	case "npx", "node":
		suggestions = append(suggestions, "Install Node.js: https://nodejs.org/")
	case "uvx", "python", "python3":
		suggestions = append(suggestions, "Install uv: https://docs.astral.sh/uv/")
	}

	return NewMCPError(ErrorCodeSpawnFailed, fmt.Sprintf("failed to spawn server '%s'", id)).
		WithDetail(cause.Error()).
		WithCause(cause).
		WithSuggestions(suggestions...)
}

// ErrHandshakeFailed creates an error for a failed initialize exchange.
func ErrHandshakeFailed(id string, cause error) *MCPError {
	return NewMCPError(ErrorCodeHandshakeFailed, fmt.Sprintf("server '%s' failed the initialize handshake", id)).
		WithDetail(cause.Error()).
		WithCause(cause).
		WithSuggestions(
			fmt.Sprintf("Inspect the server log: circuit logs %s", id),
			"Verify the server speaks MCP over stdio",
		)
}

// ErrToolNotFound creates an error for a tool that no running server exposes.
func ErrToolNotFound(tool string) *MCPError {
	return NewMCPError(ErrorCodeToolNotFound, fmt.Sprintf("no running server exposes tool '%s'", tool)).
		WithSuggestions("List available tools: circuit tools")
}

// ErrCallFailed wraps a failed tool call.
func ErrCallFailed(id, tool string, cause error) *MCPError {
	return NewMCPError(ErrorCodeCallFailed, fmt.Sprintf("tool '%s' on server '%s' failed", tool, id)).
		WithDetail(cause.Error()).
		WithCause(cause)
}

// ErrConnectionClosed creates an error for when a server connection is closed.
func ErrConnectionClosed(id string) *MCPError {
	return NewMCPError(ErrorCodeConnectionClosed, fmt.Sprintf("connection to server '%s' closed", id)).
		WithSuggestions(
			fmt.Sprintf("Restart the server: circuit server restart %s", id),
			fmt.Sprintf("Check the server log for crash details: circuit logs %s", id),
		)
}

// ErrInvalidConfig creates an error for invalid configuration.
func ErrInvalidConfig(detail string) *MCPError {
	return NewMCPError(ErrorCodeConfig, "invalid server configuration").
		WithDetail(detail)
}

// ErrTimeout creates an error for a timeout.
func ErrTimeout(operation string) *MCPError {
	return NewMCPError(ErrorCodeTimeout, fmt.Sprintf("operation '%s' timed out", operation))
}
