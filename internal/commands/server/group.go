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


// Package server implements the 'circuit server' command group.
package server

import (
	"github.com/spf13/cobra"

	"github.com/tombee/circuit/internal/commands/shared"
	"github.com/tombee/circuit/internal/log"
	"github.com/tombee/circuit/internal/mcp"
)

// NewServerCommand creates the server command group.
func NewServerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Install, remove and control tool servers",
		Long: `Manage configured tool servers.

install, uninstall and list edit config.json directly; a running daemon
picks up the change automatically. start, stop and restart talk to the
running daemon.

Commands:
  install    Add a server to config.json
  uninstall  Remove a server from config.json
  list       List configured servers
  start      Start a server
  stop       Stop a server
  restart    Restart a server`,
	}

	cmd.AddCommand(newInstallCommand())
	cmd.AddCommand(newUninstallCommand())
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newLifecycleCommand("start", "Start a server", "Started"))
	cmd.AddCommand(newLifecycleCommand("stop", "Stop a server", "Stopped"))
	cmd.AddCommand(newLifecycleCommand("restart", "Restart a server", "Restarted"))

	return cmd
}

func openStore() (*mcp.ConfigStore, error) {
	paths, err := shared.Paths()
	if err != nil {
		return nil, err
	}
	return mcp.NewConfigStore(paths.Servers, log.Discard()), nil
}
