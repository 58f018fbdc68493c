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


package mcp

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/circuit/internal/log"
)

// steppingClock advances one millisecond per call so rotation suffixes
// never collide.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

func TestLogManager_AppendAndTail(t *testing.T) {
	m := NewLogManager(t.TempDir(), LogOptions{Logger: log.Discard(), Now: steppingClock()})
	defer m.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, m.Append("fs", StreamStderr, []byte(fmt.Sprintf("line %d", i))))
	}

	lines, err := m.Tail("fs", 3)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.True(t, strings.HasSuffix(lines[0], "[stderr] line 7"), lines[0])
	assert.True(t, strings.HasPrefix(lines[2], "[2025-01-01T00:00:00.01Z]"), lines[2])

	all, err := m.Tail("fs", 100)
	require.NoError(t, err)
	assert.Len(t, all, 10)
}

func TestLogManager_TailMissing(t *testing.T) {
	m := NewLogManager(t.TempDir(), LogOptions{Logger: log.Discard()})
	lines, err := m.Tail("nothing", 10)
	require.NoError(t, err)
	assert.Empty(t, lines)

	lines, err = m.Tail("nothing", 0)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestLogManager_Rotation(t *testing.T) {
	m := NewLogManager(t.TempDir(), LogOptions{
		MaxSize:    200,
		MaxRotated: 2,
		Logger:     log.Discard(),
		Now:        steppingClock(),
	})
	defer m.Close()

	payload := strings.Repeat("x", 100)
	for i := 0; i < 10; i++ {
		require.NoError(t, m.Append("fs", StreamStdout, []byte(payload)))
	}

	rotated, err := m.Rotated("fs")
	require.NoError(t, err)
	assert.Len(t, rotated, 2, "older rotations are pruned")

	info, err := os.Stat(m.Path("fs"))
	require.NoError(t, err)
	assert.LessOrEqual(t, info.Size(), int64(200))
}

func TestLogManager_RotationWithinOneMillisecond(t *testing.T) {
	frozen := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewLogManager(t.TempDir(), LogOptions{
		MaxSize:    150,
		MaxRotated: 5,
		Logger:     log.Discard(),
		Now:        func() time.Time { return frozen },
	})
	defer m.Close()

	for i := 0; i < 4; i++ {
		require.NoError(t, m.Append("fs", StreamStdout, []byte(fmt.Sprintf("chunk-%d %s", i, strings.Repeat("x", 100)))))
	}

	rotated, err := m.Rotated("fs")
	require.NoError(t, err)
	require.Len(t, rotated, 3, "no rotated file is overwritten")
	for i, path := range rotated {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), fmt.Sprintf("chunk-%d", i), "oldest first")
	}
}

func TestLogManager_OversizedChunkStillWritten(t *testing.T) {
	m := NewLogManager(t.TempDir(), LogOptions{MaxSize: 10, Logger: log.Discard(), Now: steppingClock()})
	defer m.Close()

	require.NoError(t, m.Append("fs", StreamStdout, []byte(strings.Repeat("y", 50))))
	lines, err := m.Tail("fs", 1)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], strings.Repeat("y", 50))
}

func TestLogManager_IDsAreFilesystemSafe(t *testing.T) {
	dir := t.TempDir()
	m := NewLogManager(dir, LogOptions{Logger: log.Discard()})
	defer m.Close()

	require.NoError(t, m.Append("../escape", StreamStdout, []byte("hi")))
	assert.True(t, strings.HasPrefix(m.Path("../escape"), dir))
	_, err := os.Stat(m.Path("../escape"))
	assert.NoError(t, err)
}

func TestLogManager_CloseFileReopens(t *testing.T) {
	m := NewLogManager(t.TempDir(), LogOptions{Logger: log.Discard()})
	defer m.Close()

	w := m.Writer("fs", StreamStdout)
	_, err := w.Write([]byte("before"))
	require.NoError(t, err)
	m.CloseFile("fs")
	_, err = w.Write([]byte("after"))
	require.NoError(t, err)

	lines, err := m.Tail("fs", 10)
	require.NoError(t, err)
	assert.Len(t, lines, 2)
}
