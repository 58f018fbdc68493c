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


package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/circuit/internal/log"
)

func TestPIDFile_AcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "circuit.pid")
	p := NewPIDFile(path)
	require.NoError(t, p.Acquire(1234))

	pid, err := ReadPID(path)
	require.NoError(t, err)
	assert.Equal(t, 1234, pid)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode()&os.ModePerm)

	require.NoError(t, p.Release())
	assert.NoFileExists(t, path)
	require.NoError(t, p.Release())
}

func TestPIDFile_SecondHolderRefused(t *testing.T) {
	path := filepath.Join(t.TempDir(), "circuit.pid")
	first := NewPIDFile(path)
	require.NoError(t, first.Acquire(1234))
	defer first.Release()

	second := NewPIDFile(path)
	err := second.Acquire(5678)
	require.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Contains(t, err.Error(), "1234")

	require.NoError(t, second.Release())
	assert.FileExists(t, path, "a refused holder leaves the owner's file alone")
}

func TestPIDFile_StaleFileIsTakenOver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "circuit.pid")
	require.NoError(t, os.WriteFile(path, []byte("99999999\n"), 0600))

	p := NewPIDFile(path)
	require.NoError(t, p.Acquire(42))
	defer p.Release()

	pid, err := ReadPID(path)
	require.NoError(t, err)
	assert.Equal(t, 42, pid)
}

func TestPIDFile_RejectsWorldWritableDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0777))

	err := NewPIDFile(filepath.Join(dir, "circuit.pid")).Acquire(1)
	assert.ErrorIs(t, err, ErrUnsafeDirectory)
}

func TestDaemon_SingleInstancePerHome(t *testing.T) {
	home := t.TempDir()
	startDaemon(t, home)

	_, err := New(context.Background(), Options{Home: home, Addr: "127.0.0.1:0", Logger: log.Discard()})
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}
