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

package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// HomeEnv overrides the data directory.
const HomeEnv = "CIRCUIT_HOME"

// Dir returns the circuit data directory, creating it if needed.
// Defaults to ~/.circuit; respects CIRCUIT_HOME.
func Dir() (string, error) {
	dir := os.Getenv(HomeEnv)
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".circuit")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}

// Paths holds the well-known file locations under the data directory.
type Paths struct {
	Home     string
	Servers  string
	Settings string
	Logs     string
	History  string
	PID      string
}

// ResolvePaths returns Paths rooted at dir, or at Dir() when dir is empty.
func ResolvePaths(dir string) (Paths, error) {
	if dir == "" {
		var err error
		dir, err = Dir()
		if err != nil {
			return Paths{}, err
		}
	}
	return Paths{
		Home:     dir,
		Servers:  filepath.Join(dir, "config.json"),
		Settings: filepath.Join(dir, "settings.yaml"),
		Logs:     filepath.Join(dir, "logs"),
		History:  filepath.Join(dir, "history.db"),
		PID:      filepath.Join(dir, "circuit.pid"),
	}, nil
}
