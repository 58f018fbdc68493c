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
	"strings"
	"unicode"
)

// MaxIDLength bounds server identifiers.
const MaxIDLength = 128

// NormalizeID converts a package identifier into a filesystem-safe server id.
// Leading '@' characters are stripped; path separators, reserved filename
// characters and whitespace become '-'. NormalizeID is idempotent.
//
//	NormalizeID("@acme/fs-server") == "acme-fs-server"
func NormalizeID(raw string) string {
	s := strings.TrimLeft(strings.TrimSpace(raw), "@")

	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '/', r == '\\', r == ':', r == '*', r == '?', r == '"', r == '<', r == '>', r == '|':
			sb.WriteByte('-')
		case unicode.IsSpace(r), unicode.IsControl(r):
			sb.WriteByte('-')
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// ValidID reports whether id is already in normalized form.
func ValidID(id string) bool {
	if id == "" || len(id) > MaxIDLength || id == "." || id == ".." {
		return false
	}
	return NormalizeID(id) == id
}

// Validate checks a config for the fields needed to spawn it.
func (c ServerConfig) Validate() error {
	if !ValidID(c.ID) {
		return ErrInvalidConfig(fmt.Sprintf("invalid server id %q", c.ID)).
			WithSuggestions("Ids may not contain path separators, reserved characters or whitespace")
	}
	if strings.TrimSpace(c.Command) == "" {
		return ErrInvalidConfig(fmt.Sprintf("server %q has no command", c.ID))
	}
	for k := range c.Env {
		if k == "" || strings.ContainsAny(k, "=\x00") {
			return ErrInvalidConfig(fmt.Sprintf("server %q has invalid env key %q", c.ID, k))
		}
	}
	return nil
}

// withDerivedID fills ID from PackageID (or Name) when unset and normalizes it.
func (c ServerConfig) withDerivedID() ServerConfig {
	if c.ID == "" {
		c.ID = c.PackageID
	}
	if c.ID == "" {
		c.ID = c.Name
	}
	c.ID = NormalizeID(c.ID)
	if c.Name == "" {
		c.Name = c.ID
	}
	if c.Args == nil {
		c.Args = []string{}
	}
	return c
}
