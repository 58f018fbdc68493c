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

// defaultRunner launches packages when --command is not given.
const defaultRunner = "npx"

type installOptions struct {
	id          string
	name        string
	command     string
	env         []string
	autoStart   bool
	autoRestart bool
}

func newInstallCommand() *cobra.Command {
	var opts installOptions

	cmd := &cobra.Command{
		Use:   "install <package> [-- args...]",
		Short: "Add a server to config.json",
		Long: `Add a tool server to config.json.

The server id is derived from the package identifier unless --id is given:
a leading '@' is dropped and path separators become '-'. Without --command
the package is launched with 'npx -y <package>'. Arguments after '--' are
passed to the server.

Environment values of the form keyring:NAME or env:NAME are resolved from
the OS keychain or the daemon environment when the server starts.`,
		Example: `  circuit server install @acme/fs-server -- /home/me/projects
  circuit server install git --command uvx --auto-start -- mcp-server-git
  circuit server install search --command ./search-server --env API_KEY=keyring:search`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkg := args[0]
			var extra []string
			if dash := cmd.ArgsLenAtDash(); dash >= 0 {
				if dash != 1 {
					return shared.NewUsageError("install takes exactly one package before '--'")
				}
				extra = args[dash:]
			} else if len(args) > 1 {
				return shared.NewUsageError("server arguments must follow '--'")
			}
			return runInstall(cmd, pkg, extra, opts)
		},
	}

	cmd.Flags().StringVar(&opts.id, "id", "", "Server id (default: derived from the package)")
	cmd.Flags().StringVar(&opts.name, "name", "", "Display name (default: the id)")
	cmd.Flags().StringVar(&opts.command, "command", "", "Executable to launch (default: npx -y <package>)")
	cmd.Flags().StringArrayVarP(&opts.env, "env", "e", nil, "Environment override KEY=VALUE (repeatable)")
	cmd.Flags().BoolVar(&opts.autoStart, "auto-start", false, "Start when the daemon starts")
	cmd.Flags().BoolVar(&opts.autoRestart, "auto-restart", false, "Restart after crashes and failed health checks")

	return cmd
}

func runInstall(cmd *cobra.Command, pkg string, extra []string, opts installOptions) error {
	cfg, err := buildConfig(pkg, extra, opts)
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	saved, err := store.Add(cfg)
	if err != nil {
		return err
	}

	if shared.GetJSON() {
		return shared.PrintJSON(cmd.OutOrStdout(), saved)
	}
	fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK(fmt.Sprintf("Installed %s (%s)", saved.ID, store.Path())))
	return nil
}

func buildConfig(pkg string, extra []string, opts installOptions) (mcp.ServerConfig, error) {
	env, err := parseEnv(opts.env)
	if err != nil {
		return mcp.ServerConfig{}, err
	}

	cfg := mcp.ServerConfig{
		ID:          opts.id,
		Name:        opts.name,
		PackageID:   pkg,
		Command:     opts.command,
		Args:        extra,
		Env:         env,
		AutoStart:   opts.autoStart,
		AutoRestart: opts.autoRestart,
	}
	if cfg.Command == "" {
		cfg.Command = defaultRunner
		cfg.Args = append([]string{"-y", pkg}, extra...)
	}
	return cfg, nil
}

func parseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, shared.NewUsageError(fmt.Sprintf("invalid --env %q: expected KEY=VALUE", p))
		}
		env[k] = v
	}
	return env, nil
}

func newUninstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "uninstall <id>",
		Aliases: []string{"remove"},
		Short:   "Remove a server from config.json",
		Long: `Remove a server from config.json. A running daemon stops the
server and forgets it once it sees the edit.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			if err := store.Remove(args[0]); err != nil {
				return err
			}
			if shared.GetJSON() {
				return shared.PrintJSON(cmd.OutOrStdout(), map[string]string{"id": args[0], "status": "uninstalled"})
			}
			fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("Uninstalled "+args[0]))
			return nil
		},
	}
}
