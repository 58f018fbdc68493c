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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// ConfigStore persists server definitions to config.json:
//
//	{ "servers": { "<id>": ServerConfig, ... } }
//
// Entry order in the file is preserved on load and save.
type ConfigStore struct {
	path   string
	logger *slog.Logger

	// mu serializes file access from this process only.
	mu sync.Mutex

	// last is the file content most recently read or written here.
	last []byte
}

// NewConfigStore creates a store backed by path.
func NewConfigStore(path string, logger *slog.Logger) *ConfigStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigStore{
		path:   path,
		logger: logger.With("component", "config_store"),
	}
}

// Path returns the backing file path.
func (s *ConfigStore) Path() string {
	return s.path
}

// Load reads the config file and returns its servers in file order.
//
// A missing file is created empty. A corrupt file is logged and treated as
// having no servers. Ids are normalized; when two entries normalize to the
// same id the first one wins. If any entry changed, the migrated form is
// written back before returning.
func (s *ConfigStore) Load() ([]ServerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *ConfigStore) loadLocked() ([]ServerConfig, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		if err := s.writeLocked(nil); err != nil {
			return nil, fmt.Errorf("failed to create config file: %w", err)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	s.last = data

	entries, err := decodeServers(data)
	if err != nil {
		s.logger.Error("config file is corrupt, treating as empty",
			"path", s.path,
			"error", err)
		return nil, nil
	}

	servers := make([]ServerConfig, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	migrated := false

	for _, e := range entries {
		cfg := e.config
		original := cfg.ID
		if cfg.ID == "" {
			cfg.ID = e.key
		}
		cfg = cfg.withDerivedID()

		if cfg.ID == "" {
			s.logger.Warn("dropping server entry without a usable id", "key", e.key)
			migrated = true
			continue
		}
		if seen[cfg.ID] {
			s.logger.Warn("dropping duplicate server entry",
				"key", e.key,
				"server_id", cfg.ID)
			migrated = true
			continue
		}
		if cfg.ID != e.key || cfg.ID != original {
			s.logger.Info("normalized server id",
				"key", e.key,
				"server_id", cfg.ID)
			migrated = true
		}

		seen[cfg.ID] = true
		servers = append(servers, cfg)
	}

	if migrated {
		if err := s.writeLocked(servers); err != nil {
			s.logger.Error("failed to persist migrated config", "error", err)
		}
	}

	return servers, nil
}

// Add appends one server to the file, deriving its id the same way
// Registry.Install does. It is for offline edits; a running daemon picks
// the change up through its Watcher.
func (s *ConfigStore) Add(cfg ServerConfig) (ServerConfig, error) {
	cfg = cfg.withDerivedID()
	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	servers, err := s.loadLocked()
	if err != nil {
		return ServerConfig{}, err
	}
	for _, existing := range servers {
		if existing.ID == cfg.ID {
			return ServerConfig{}, ErrServerAlreadyExists(cfg.ID)
		}
	}
	if err := s.writeLocked(append(servers, cfg)); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// Remove deletes one server from the file.
func (s *ConfigStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	servers, err := s.loadLocked()
	if err != nil {
		return err
	}
	kept := servers[:0]
	for _, cfg := range servers {
		if cfg.ID != id {
			kept = append(kept, cfg)
		}
	}
	if len(kept) == len(servers) {
		return ErrServerNotFound(id)
	}
	return s.writeLocked(kept)
}

// Save writes servers to disk in the given order.
func (s *ConfigStore) Save(servers []ServerConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(servers)
}

func (s *ConfigStore) writeLocked(servers []ServerConfig) error {
	data, err := encodeServers(servers)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.path, data, 0600); err != nil {
		return err
	}
	s.last = data
	return nil
}

// Modified reports whether the file differs from what this store last
// read or wrote, i.e. whether another process edited it.
func (s *ConfigStore) Modified() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s.last != nil, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return !bytes.Equal(data, s.last), nil
}

type configEntry struct {
	key    string
	config ServerConfig
}

// decodeServers walks the "servers" object with a token decoder so that
// entry order and duplicate keys survive decoding.
func decodeServers(data []byte) ([]configEntry, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	raw, ok := root["servers"]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("servers must be an object")
	}

	var entries []configEntry
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		var cfg ServerConfig
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("server %q: %w", key, err)
		}
		entries = append(entries, configEntry{key: key, config: cfg})
	}

	if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return entries, nil
}

func encodeServers(servers []ServerConfig) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"servers":{`)
	for i, cfg := range servers {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(cfg.ID)
		if err != nil {
			return nil, err
		}
		if cfg.Args == nil {
			cfg.Args = []string{}
		}
		value, err := json.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to encode server %s: %w", cfg.ID, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteString(`}}`)

	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", "  "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
