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
	"net/url"

	"github.com/spf13/cobra"

	"github.com/tombee/circuit/internal/commands/shared"
	"github.com/tombee/circuit/internal/gateway"
)

// newLifecycleCommand creates start, stop or restart.
func newLifecycleCommand(action, short, done string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <id>",
		Short: short,
		Long: fmt.Sprintf(`%s through the running daemon.

Examples:
  circuit server %s fs-server`, short, action),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := shared.DefaultAPIClient()
			if err != nil {
				return err
			}

			var resp gateway.LifecycleResponse
			path := "/mcp/servers/" + url.PathEscape(args[0]) + "/" + action
			if err := client.Post(cmd.Context(), path, nil, &resp); err != nil {
				return err
			}

			if shared.GetJSON() {
				return shared.PrintJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", done, args[0], shared.RenderStatus(resp.Status))
			return nil
		},
	}
}
