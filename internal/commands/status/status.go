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


// Package status implements the read-only commands that inspect a running
// daemon: status, tools and logs.
package status

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/circuit/internal/commands/shared"
	"github.com/tombee/circuit/internal/gateway"
)

// NewStatusCommand creates the status command.
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status [id]",
		Short: "Show live server status",
		Long: `Show the state, uptime and call counters of every server known to the
running daemon, or of a single server when an id is given.`,
		Example: `  circuit status
  circuit status fs-server
  circuit status --json | jq '.["fs-server"].stats'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := shared.DefaultAPIClient()
			if err != nil {
				return err
			}
			var resp map[string]gateway.StatusEntry
			if err := client.Get(cmd.Context(), "/mcp/status", nil, &resp); err != nil {
				return err
			}
			if len(args) == 1 {
				entry, ok := resp[args[0]]
				if !ok {
					return &shared.ExitError{Code: shared.ExitNotFound, Message: fmt.Sprintf("server %q not found", args[0])}
				}
				if shared.GetJSON() {
					return shared.PrintJSON(cmd.OutOrStdout(), entry)
				}
				printDetail(cmd.OutOrStdout(), entry)
				return nil
			}
			if shared.GetJSON() {
				return shared.PrintJSON(cmd.OutOrStdout(), resp)
			}
			printStatus(cmd.OutOrStdout(), resp)
			return nil
		},
	}
}

func printStatus(out io.Writer, entries map[string]gateway.StatusEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No servers configured.")
		return
	}

	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Fprintf(out, "%-24s %-10s %-10s %-6s %-7s %s\n", "ID", "STATUS", "UPTIME", "TOOLS", "CALLS", "ERRORS")
	fmt.Fprintln(out, strings.Repeat("-", 72))
	for _, id := range ids {
		e := entries[id]
		// Pad before styling so ANSI codes do not break alignment.
		state := shared.RenderStatus(e.Status) + strings.Repeat(" ", max(0, 10-len(e.Status)))
		fmt.Fprintf(out, "%-24s %s %-10s %-6d %-7d %d\n",
			id, state, shared.FormatUptime(e.Uptime), e.ToolCount, e.Stats.CallCount, e.Stats.ErrorCount)
		if e.HasError {
			fmt.Fprintf(out, "  %s\n", shared.StatusError.Render(logsHint(id)))
		}
	}
}

func printDetail(out io.Writer, e gateway.StatusEntry) {
	fmt.Fprintln(out, shared.Header.Render("Server: "+e.ID))
	if e.Name != "" && e.Name != e.ID {
		fmt.Fprintf(out, "%s %s\n", shared.Muted.Render("Name:  "), e.Name)
	}
	fmt.Fprintf(out, "%s %s\n", shared.Muted.Render("Status:"), shared.RenderStatus(e.Status))
	fmt.Fprintf(out, "%s %s\n", shared.Muted.Render("Uptime:"), shared.FormatUptime(e.Uptime))
	fmt.Fprintf(out, "%s %d\n", shared.Muted.Render("Tools: "), e.ToolCount)

	fmt.Fprintln(out)
	fmt.Fprintln(out, shared.Bold.Render("Calls:"))
	fmt.Fprintf(out, "  %s %d\n", shared.Muted.Render("Total: "), e.Stats.CallCount)
	errs := fmt.Sprintf("%d", e.Stats.ErrorCount)
	if e.Stats.ErrorCount > 0 {
		errs = shared.StatusError.Render(errs)
	}
	fmt.Fprintf(out, "  %s %s\n", shared.Muted.Render("Errors:"), errs)

	if e.HasError {
		fmt.Fprintln(out)
		fmt.Fprintln(out, shared.StatusError.Render(logsHint(e.ID)))
	}
}

func logsHint(id string) string {
	return "server reported an error; see: circuit logs " + id
}
