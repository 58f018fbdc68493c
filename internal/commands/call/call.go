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


// Package call implements tool invocation and call history commands.
package call

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/circuit/internal/commands/shared"
	"github.com/tombee/circuit/internal/gateway"
	"github.com/tombee/circuit/internal/mcp"
)

// NewCallCommand creates the call command.
func NewCallCommand() *cobra.Command {
	var (
		server string
		args   string
	)

	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Call a tool through the running daemon",
		Long: `Call a tool and print its result. Without --server the first running
server that advertises the tool is used. A stopped server named with
--server is started on demand.

--args takes a JSON object; use '-' to read it from stdin.`,
		Example: `  circuit call read_file --args '{"path":"/etc/hosts"}'
  circuit call git_log --server git --args '{"max_count":5}'
  echo '{"path":"README.md"}' | circuit call read_file --args -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, positional []string) error {
			arguments, err := parseArguments(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			client, err := shared.DefaultAPIClient()
			if err != nil {
				return err
			}

			req := gateway.CallRequest{ToolName: positional[0], Arguments: arguments, ServerID: server}
			var result mcp.ToolResult
			if err := client.Post(cmd.Context(), "/mcp/call", req, &result); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				if err := shared.PrintJSON(out, result); err != nil {
					return err
				}
			} else {
				printResult(out, result)
			}
			if result.IsError {
				return &shared.ExitError{Code: shared.ExitFailure, Message: "tool reported an error"}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&server, "server", "s", "", "Server id to call")
	cmd.Flags().StringVarP(&args, "args", "a", "", "Tool arguments as a JSON object, or '-' for stdin")
	return cmd
}

func parseArguments(raw string, stdin io.Reader) (map[string]any, error) {
	if raw == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read arguments: %w", err)
		}
		raw = string(data)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return nil, shared.NewUsageError("--args must be a JSON object")
	}
	return args, nil
}

func printResult(out io.Writer, result mcp.ToolResult) {
	for _, item := range result.Content {
		switch item.Type {
		case "text":
			fmt.Fprintln(out, item.Text)
		case "resource":
			fmt.Fprintf(out, "[resource %s]\n", item.URI)
		default:
			fmt.Fprintf(out, "[%s %s, %d bytes]\n", item.Type, item.MimeType, len(item.Data))
		}
	}
	if len(result.Content) == 0 && result.StructuredContent != nil {
		_ = shared.PrintJSON(out, result.StructuredContent)
	}
}
