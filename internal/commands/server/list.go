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


package server

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/circuit/internal/commands/shared"
	"github.com/tombee/circuit/internal/mcp"
)

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured servers",
		Long: `List the servers in config.json. This does not need a running daemon;
use 'circuit status' for live state.`,
		Example: `  circuit server list
  circuit server list --json | jq -r '.servers[].id'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			servers, err := store.Load()
			if err != nil {
				return err
			}
			return printList(cmd, servers)
		},
	}
}

func printList(cmd *cobra.Command, servers []mcp.ServerConfig) error {
	out := cmd.OutOrStdout()
	if servers == nil {
		servers = []mcp.ServerConfig{}
	}
	if shared.GetJSON() {
		return shared.PrintJSON(out, map[string]any{"servers": servers})
	}

	if len(servers) == 0 {
		fmt.Fprintln(out, "No servers configured.")
		fmt.Fprintln(out, "\nTo add one:")
		fmt.Fprintln(out, "  circuit server install <package>")
		return nil
	}

	fmt.Fprintf(out, "%-24s %-8s %-8s %s\n", "ID", "START", "RESTART", "COMMAND")
	fmt.Fprintln(out, strings.Repeat("-", 70))
	for _, s := range servers {
		fmt.Fprintf(out, "%-24s %-8s %-8s %s\n",
			truncate(s.ID, 24),
			yesNo(s.AutoStart),
			yesNo(s.AutoRestart),
			strings.TrimSpace(s.Command+" "+strings.Join(s.Args, " ")),
		)
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "auto"
	}
	return "-"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
