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
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tombee/circuit/internal/commands/shared"
	"github.com/tombee/circuit/internal/gateway"
)

// NewLogsCommand creates the logs command.
func NewLogsCommand() *cobra.Command {
	var lines int

	cmd := &cobra.Command{
		Use:   "logs <id>",
		Short: "Show the captured output of a server",
		Long: `Show the last lines of a server's log file. Each line carries a
timestamp and the stream it came from (stdout, stderr or system).`,
		Example: `  circuit logs fs-server
  circuit logs fs-server -n 500`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if lines < 1 {
				return shared.NewUsageError("--lines must be at least 1")
			}
			client, err := shared.DefaultAPIClient()
			if err != nil {
				return err
			}
			var resp gateway.LogsResponse
			q := url.Values{"lines": {strconv.Itoa(lines)}}
			if err := client.Get(cmd.Context(), "/mcp/logs/"+url.PathEscape(args[0]), q, &resp); err != nil {
				return err
			}
			if shared.GetJSON() {
				return shared.PrintJSON(cmd.OutOrStdout(), resp)
			}
			for _, l := range resp.Logs {
				fmt.Fprintln(cmd.OutOrStdout(), l)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", gateway.DefaultLogLines, "Number of lines to show")
	return cmd
}
