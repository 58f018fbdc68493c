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

/*
Package mcp supervises MCP tool server subprocesses.

A Registry owns one instance per configured server. Each instance moves
through the stopped, starting, running and error states:

	stopped --Start--> starting --handshake ok--> running
	starting --spawn/handshake failure--> error
	running --health probe failure--> error
	running --Stop/idle timeout--> stopped
	running --unexpected exit--> starting (autoRestart) | stopped
	error --restart timer (autoRestart)--> starting

The Registry spawns processes through a Launcher and speaks the protocol
over the process stdio with a Client. Every scheduled continuation (restart
timers, health results, idle timers, exit watchers) captures the instance
generation when it is armed and does nothing if the generation has advanced
by the time it fires.

Operations come in two flavours. Advisory operations (ListTools, ListPrompts,
ListResources on Client, and Registry.ListTools) return an empty result when
the server cannot answer. Authoritative operations (Client.FetchTools,
Client.CallTool, Registry.CallTool) return an error.

# Usage

	store := mcp.NewConfigStore(paths.Servers, logger)
	reg := mcp.NewRegistry(mcp.RegistryConfig{
		Store:    store,
		Launcher: mcp.NewExecLauncher(secrets.NewResolver()),
		Logs:     logs,
		Logger:   logger,
	})
	if err := reg.Load(ctx); err != nil {
		return err
	}
	defer reg.Close(ctx)

	result, err := reg.CallTool(ctx, "filesystem", "read_file", args, mcp.CallOptions{Source: "cli"})
*/
package mcp
