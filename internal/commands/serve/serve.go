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


// Package serve implements the command that runs the circuit daemon.
package serve

import (
	"github.com/spf13/cobra"

	"github.com/tombee/circuit/internal/commands/shared"
	"github.com/tombee/circuit/internal/daemon"
	"github.com/tombee/circuit/internal/log"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tool server supervisor and local gateway",
		Long: `Run the circuit daemon in the foreground.

The daemon loads config.json, starts servers marked auto-start, serves the
loopback HTTP gateway and watches config.json for edits. It stops cleanly on
SIGINT or SIGTERM.

Daemon logs are JSON on stderr; set LOG_FORMAT=text for human-readable output
and CIRCUIT_LOG_LEVEL=debug for more detail.`,
		Example: `  circuit serve
  circuit serve --addr 127.0.0.1:4000
  LOG_FORMAT=text circuit serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, _, _ := shared.GetVersion()
			return daemon.Run(cmd.Context(), daemon.Options{
				Home:    shared.GetHome(),
				Addr:    shared.GetAddr(),
				Version: v,
				Logger:  log.New(log.FromEnv()),
			})
		},
	}
	return cmd
}
