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
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Log stream names.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// LogOptions configures a LogManager.
type LogOptions struct {
	// MaxSize rotates a file once a write would push it past this many bytes.
	MaxSize int64

	// MaxRotated is how many rotated files are kept per server.
	MaxRotated int

	Logger *slog.Logger

	// Now is the clock used for line timestamps and rotation suffixes.
	Now func() time.Time
}

// LogManager writes each server's stdio to <dir>/<id>.log, rotating to
// <id>.log.<unix-ms> once the file would exceed MaxSize.
type LogManager struct {
	dir        string
	maxSize    int64
	maxRotated int
	now        func() time.Time
	logger     *slog.Logger

	mu    sync.Mutex
	files map[string]*logFile
}

type logFile struct {
	mu   sync.Mutex
	path string
	f    *os.File
	size int64
}

// NewLogManager creates a manager rooted at dir.
func NewLogManager(dir string, opts LogOptions) *LogManager {
	if opts.MaxSize <= 0 {
		opts.MaxSize = 100 << 20
	}
	if opts.MaxRotated <= 0 {
		opts.MaxRotated = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &LogManager{
		dir:        dir,
		maxSize:    opts.MaxSize,
		maxRotated: opts.MaxRotated,
		now:        opts.Now,
		logger:     opts.Logger.With("component", "logs"),
		files:      make(map[string]*logFile),
	}
}

// fileBase maps an id to a safe file stem.
func fileBase(id string) string {
	base := NormalizeID(id)
	base = strings.TrimLeft(base, ".")
	if base == "" {
		base = "_"
	}
	return base
}

// Path returns the active log file path for id.
func (m *LogManager) Path(id string) string {
	return filepath.Join(m.dir, fileBase(id)+".log")
}

func (m *LogManager) file(id string) *logFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	lf, ok := m.files[id]
	if !ok {
		lf = &logFile{path: m.Path(id)}
		m.files[id] = lf
	}
	return lf
}

// Append writes one chunk as "[timestamp] [stream] chunk".
func (m *LogManager) Append(id, stream string, chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	var line bytes.Buffer
	line.WriteByte('[')
	line.WriteString(m.now().UTC().Format(time.RFC3339Nano))
	line.WriteString("] [")
	line.WriteString(stream)
	line.WriteString("] ")
	line.Write(chunk)
	if chunk[len(chunk)-1] != '\n' {
		line.WriteByte('\n')
	}

	lf := m.file(id)
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if err := m.openLocked(lf); err != nil {
		return err
	}
	if lf.size > 0 && lf.size+int64(line.Len()) > m.maxSize {
		if err := m.rotateLocked(id, lf); err != nil {
			return err
		}
	}

	n, err := lf.f.Write(line.Bytes())
	lf.size += int64(n)
	return err
}

func (m *LogManager) openLocked(lf *logFile) error {
	if lf.f != nil {
		return nil
	}
	if err := os.MkdirAll(m.dir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(lf.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	lf.f = f
	lf.size = info.Size()
	return nil
}

func (m *LogManager) rotateLocked(id string, lf *logFile) error {
	if err := lf.f.Close(); err != nil {
		m.logger.Warn("failed to close log before rotation", "server_id", id, "error", err)
	}
	lf.f = nil

	// Rotations within one millisecond take the next free stamp.
	stamp := m.now().UnixMilli()
	rotated := fmt.Sprintf("%s.%d", lf.path, stamp)
	for {
		if _, err := os.Lstat(rotated); errors.Is(err, os.ErrNotExist) {
			break
		}
		stamp++
		rotated = fmt.Sprintf("%s.%d", lf.path, stamp)
	}
	if err := os.Rename(lf.path, rotated); err != nil {
		return fmt.Errorf("failed to rotate log: %w", err)
	}
	m.logger.Debug("rotated log file", "server_id", id, "path", rotated)

	m.prune(id)
	return m.openLocked(lf)
}

// prune deletes rotated files beyond MaxRotated, oldest first.
func (m *LogManager) prune(id string) {
	rotated, err := m.Rotated(id)
	if err != nil {
		m.logger.Warn("failed to list rotated logs", "server_id", id, "error", err)
		return
	}
	if len(rotated) <= m.maxRotated {
		return
	}
	for _, path := range rotated[:len(rotated)-m.maxRotated] {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("failed to remove rotated log", "path", path, "error", err)
		}
	}
}

// Rotated returns rotated log paths for id, oldest first.
func (m *LogManager) Rotated(id string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(m.dir), "*.log.*")
	if err != nil {
		return nil, err
	}

	prefix := fileBase(id) + ".log."
	type rotatedFile struct {
		path  string
		stamp int64
	}
	var files []rotatedFile
	for _, name := range matches {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		stamp, err := strconv.ParseInt(strings.TrimPrefix(name, prefix), 10, 64)
		if err != nil {
			continue
		}
		files = append(files, rotatedFile{path: filepath.Join(m.dir, name), stamp: stamp})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].stamp < files[j].stamp })

	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out, nil
}

// Writer returns an io.Writer that appends every write as one chunk.
func (m *LogManager) Writer(id, stream string) io.Writer {
	return &streamWriter{m: m, id: id, stream: stream}
}

type streamWriter struct {
	m      *LogManager
	id     string
	stream string
}

func (w *streamWriter) Write(p []byte) (int, error) {
	if err := w.m.Append(w.id, w.stream, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Tail returns up to n trailing lines of the active log file. A missing
// file yields an empty slice.
func (m *LogManager) Tail(id string, n int) ([]string, error) {
	if n <= 0 {
		return []string{}, nil
	}

	lf := m.file(id)
	lf.mu.Lock()
	defer lf.mu.Unlock()

	f, err := os.Open(lf.path)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	const block = 64 << 10
	var (
		buf    []byte
		offset = info.Size()
	)
	// Read backwards until the buffer holds more than n newlines.
	for offset > 0 && bytes.Count(buf, []byte{'\n'}) <= n {
		size := int64(block)
		if offset < size {
			size = offset
		}
		offset -= size
		chunk := make([]byte, size)
		if _, err := f.ReadAt(chunk, offset); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		buf = append(chunk, buf...)
	}

	text := strings.TrimRight(string(buf), "\n")
	if text == "" {
		return []string{}, nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// CloseFile closes the open handle for id, if any.
func (m *LogManager) CloseFile(id string) {
	m.mu.Lock()
	lf, ok := m.files[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if lf.f != nil {
		lf.f.Close()
		lf.f = nil
	}
}

// Close closes every open log file.
func (m *LogManager) Close() error {
	m.mu.Lock()
	files := m.files
	m.files = make(map[string]*logFile)
	m.mu.Unlock()

	var errs []error
	for _, lf := range files {
		lf.mu.Lock()
		if lf.f != nil {
			errs = append(errs, lf.f.Close())
			lf.f = nil
		}
		lf.mu.Unlock()
	}
	return errors.Join(errs...)
}
