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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

var (
	// ErrAlreadyRunning is returned when another daemon holds the lock for
	// the same data directory.
	ErrAlreadyRunning = errors.New("another circuit daemon is using this data directory")

	// ErrUnsafeDirectory is returned when the PID file parent is world-writable.
	ErrUnsafeDirectory = errors.New("PID file directory is world-writable")
)

// PIDFile is a single-instance lock backed by flock. A file left behind
// by a crashed daemon is unlocked and is taken over.
type PIDFile struct {
	path string
	f    *os.File
}

// NewPIDFile creates a lock for path. Nothing is touched until Acquire.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Acquire locks the file and records pid in it.
func (p *PIDFile) Acquire(pid int) error {
	dir := filepath.Dir(p.path)
	if info, err := os.Stat(dir); err == nil && info.Mode()&0002 != 0 {
		return fmt.Errorf("%w: %s has mode %04o", ErrUnsafeDirectory, dir, info.Mode()&os.ModePerm)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	// O_NOFOLLOW refuses a symlink planted at the path.
	f, err := os.OpenFile(p.path, os.O_RDWR|os.O_CREATE|syscall.O_NOFOLLOW, 0600)
	if err != nil {
		return fmt.Errorf("failed to open PID file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			if owner, rerr := ReadPID(p.path); rerr == nil {
				return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, owner)
			}
			return ErrAlreadyRunning
		}
		return fmt.Errorf("failed to lock PID file: %w", err)
	}

	if err := writePID(f, pid); err != nil {
		f.Close()
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	p.f = f
	return nil
}

func writePID(f *os.File, pid int) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(pid)+"\n"), 0); err != nil {
		return err
	}
	return f.Sync()
}

// Release unlocks and removes the file. It is a no-op unless Acquire
// succeeded, so it never removes a file owned by another daemon.
func (p *PIDFile) Release() error {
	if p.f == nil {
		return nil
	}
	// Remove before unlocking so a new daemon never sees our pid.
	err := os.Remove(p.path)
	syscall.Flock(int(p.f.Fd()), syscall.LOCK_UN)
	p.f.Close()
	p.f = nil
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// ReadPID returns the pid recorded at path.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in %s: %q", path, strings.TrimSpace(string(data)))
	}
	return pid, nil
}
