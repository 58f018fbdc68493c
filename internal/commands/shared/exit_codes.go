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
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/tombee/circuit/internal/httputil"
	"github.com/tombee/circuit/internal/mcp"
)

// Exit codes returned by circuit commands.
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitUsage       = 2
	ExitNotFound    = 3
	ExitUnavailable = 69 // daemon not reachable (EX_UNAVAILABLE from sysexits.h)
	ExitConfig      = 78 // invalid configuration (EX_CONFIG from sysexits.h)
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewUnavailableError reports that the daemon could not be reached.
func NewUnavailableError(addr string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitUnavailable,
		Message: fmt.Sprintf("circuit daemon is not reachable at %s (start it with: circuit serve)", addr),
		Cause:   cause,
	}
}

// NewUsageError reports invalid command input.
func NewUsageError(msg string) *ExitError {
	return &ExitError{Code: ExitUsage, Message: msg}
}

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	if mcpErr, ok := mcp.GetMCPError(err); ok {
		switch mcpErr.Code {
		case mcp.ErrorCodeNotFound, mcp.ErrorCodeToolNotFound:
			return ExitNotFound
		case mcp.ErrorCodeConfig, mcp.ErrorCodeValidation:
			return ExitConfig
		}
		return ExitFailure
	}

	var statusErr *httputil.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Code {
		case http.StatusNotFound:
			return ExitNotFound
		case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
			return ExitUsage
		case http.StatusServiceUnavailable, http.StatusTooManyRequests:
			return ExitUnavailable
		}
	}
	return ExitFailure
}

// HandleExitError prints err with its first suggestion and exits.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, RenderError(err.Error()))
	if mcpErr, ok := mcp.GetMCPError(err); ok {
		if s := mcpErr.Suggestion(); s != "" {
			fmt.Fprintln(os.Stderr, Muted.Render("  "+s))
		}
	}
	os.Exit(ExitCode(err))
}
