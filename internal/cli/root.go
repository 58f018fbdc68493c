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


package cli

import (
	"github.com/spf13/cobra"

	"github.com/tombee/circuit/internal/commands/shared"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for circuit
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "circuit",
		Short: "circuit - local supervisor for MCP tool servers",
		Long: `circuit runs MCP tool servers as child processes, keeps them healthy,
stops idle ones, records tool calls and exposes everything through a
loopback HTTP gateway.

Run 'circuit server install <package>' to add a server.
Run 'circuit serve' to start the daemon.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	json, home, addr := shared.RegisterFlagPointers()

	cmd.PersistentFlags().BoolVar(json, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(home, "home", "", "Data directory (default: $CIRCUIT_HOME or ~/.circuit)")
	cmd.PersistentFlags().StringVar(addr, "addr", "", "Gateway address (default: from settings.yaml, 127.0.0.1:3737)")

	return cmd
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
