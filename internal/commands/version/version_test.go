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


package version

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/circuit/internal/commands/shared"
)

func run(t *testing.T, jsonOut bool) string {
	t.Helper()
	shared.ResetFlagsForTest()
	shared.SetVersion("1.2.3", "abc123", "2025-06-01")
	t.Cleanup(func() { shared.SetVersion("dev", "unknown", "unknown") })

	root := &cobra.Command{Use: "circuit"}
	j, _, _ := shared.RegisterFlagPointers()
	root.PersistentFlags().BoolVar(j, "json", false, "")
	root.AddCommand(NewVersionCommand())

	var out bytes.Buffer
	root.SetOut(&out)
	args := []string{"version"}
	if jsonOut {
		args = append(args, "--json")
	}
	root.SetArgs(args)
	require.NoError(t, root.Execute())
	return out.String()
}

func TestVersion_Text(t *testing.T) {
	out := run(t, false)
	assert.Contains(t, out, "circuit version 1.2.3")
	assert.Contains(t, out, "abc123")
}

func TestVersion_JSON(t *testing.T) {
	var info VersionInfo
	require.NoError(t, json.Unmarshal([]byte(run(t, true)), &info))
	assert.Equal(t, VersionInfo{Version: "1.2.3", Commit: "abc123", BuildDate: "2025-06-01"}, info)
}
