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


package call

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/circuit/internal/commands/shared"
	"github.com/tombee/circuit/internal/gateway"
	"github.com/tombee/circuit/internal/history"
)

type historyOptions struct {
	server string
	tool   string
	status string
	since  time.Duration
	limit  int
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	var opts historyOptions

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded tool calls",
		Long: `Show recent tool calls, newest first. Stored payloads have already been
through the privacy filter.`,
		Example: `  circuit history
  circuit history --server fs --status error --limit 20
  circuit history --since 1h --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := opts.query()
			if err != nil {
				return err
			}
			client, err := shared.DefaultAPIClient()
			if err != nil {
				return err
			}
			var resp gateway.HistoryResponse
			if err := client.Get(cmd.Context(), "/mcp/history", q, &resp); err != nil {
				return err
			}
			if shared.GetJSON() {
				return shared.PrintJSON(cmd.OutOrStdout(), resp)
			}
			printHistory(cmd.OutOrStdout(), resp.Records)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.server, "server", "s", "", "Only calls to this server")
	cmd.Flags().StringVarP(&opts.tool, "tool", "t", "", "Only calls to this tool")
	cmd.Flags().StringVar(&opts.status, "status", "", "Only calls with this outcome (success, error)")
	cmd.Flags().DurationVar(&opts.since, "since", 0, "Only calls newer than this (e.g. 30m, 24h)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", history.DefaultQueryLimit, "Maximum number of records")
	return cmd
}

func (o historyOptions) query() (url.Values, error) {
	q := url.Values{}
	if o.server != "" {
		q.Set("serverId", o.server)
	}
	if o.tool != "" {
		q.Set("toolName", o.tool)
	}
	switch history.Status(o.status) {
	case "":
	case history.StatusSuccess, history.StatusError:
		q.Set("status", o.status)
	default:
		return nil, shared.NewUsageError("--status must be success or error")
	}
	if o.since > 0 {
		q.Set("since", time.Now().Add(-o.since).UTC().Format(time.RFC3339))
	}
	if o.limit < 1 {
		return nil, shared.NewUsageError("--limit must be at least 1")
	}
	q.Set("limit", strconv.Itoa(o.limit))
	return q, nil
}

func printHistory(out io.Writer, records []history.CallRecord) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No calls recorded.")
		return
	}
	fmt.Fprintf(out, "%-20s %-18s %-24s %-8s %s\n", "TIME", "SERVER", "TOOL", "STATUS", "DURATION")
	fmt.Fprintln(out, strings.Repeat("-", 82))
	for _, r := range records {
		status := shared.StatusOK.Render(string(r.Status))
		if r.Status == history.StatusError {
			status = shared.StatusError.Render(string(r.Status))
		}
		status += strings.Repeat(" ", max(0, 8-len(r.Status)))
		fmt.Fprintf(out, "%-20s %-18s %-24s %s %dms\n",
			r.Timestamp.Local().Format("2006-01-02 15:04:05"), r.ServerID, r.ToolName, status, r.DurationMs)
		if r.Error != nil {
			fmt.Fprintf(out, "  %s %s\n", shared.Muted.Render(r.Error.Code+":"), r.Error.Message)
		}
	}
}
