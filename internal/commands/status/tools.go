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
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/circuit/internal/commands/shared"
	"github.com/tombee/circuit/internal/gateway"
)

// NewToolsCommand creates the tools command.
func NewToolsCommand() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List tools offered by running servers",
		Long: `List the tools advertised by running servers. Stopped servers are not
started to answer this.`,
		Example: `  circuit tools
  circuit tools --server fs-server
  circuit tools --json | jq -r '.tools[].name'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := shared.DefaultAPIClient()
			if err != nil {
				return err
			}
			var resp gateway.ToolsResponse
			if err := client.Get(cmd.Context(), "/mcp/tools", nil, &resp); err != nil {
				return err
			}
			if server != "" {
				kept := resp.Tools[:0]
				for _, t := range resp.Tools {
					if t.ServerID == server {
						kept = append(kept, t)
					}
				}
				resp.Tools = kept
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.PrintJSON(out, resp)
			}
			if len(resp.Tools) == 0 {
				fmt.Fprintln(out, "No tools available. Start a server with: circuit server start <id>")
				return nil
			}
			fmt.Fprintf(out, "%-28s %-20s %s\n", "TOOL", "SERVER", "DESCRIPTION")
			fmt.Fprintln(out, strings.Repeat("-", 80))
			wrap := shared.IsTerminal()
			for _, t := range resp.Tools {
				fmt.Fprintf(out, "%-28s %-20s %s\n", t.Name, t.ServerID, firstLine(t.Description, wrap))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&server, "server", "s", "", "Only show tools from this server")
	return cmd
}

// firstLine keeps the first line of s, cut to fit a terminal when short is set.
func firstLine(s string, short bool) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if short && len(s) > 60 {
		s = s[:57] + "..."
	}
	return s
}
