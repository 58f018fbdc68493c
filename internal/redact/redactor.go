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

// Package redact removes sensitive data from tool call payloads and span
// attributes before they are stored or exported.
package redact

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.opentelemetry.io/otel/attribute"
)

// Placeholder replaces redacted values.
const Placeholder = "[REDACTED]"

// Mode determines the level of redaction applied.
type Mode string

const (
	// ModeNone disables redaction.
	ModeNone Mode = "none"

	// ModeStandard applies key- and pattern-based redaction for common secrets.
	ModeStandard Mode = "standard"

	// ModeStrict redacts all values; only keys and structure are preserved.
	ModeStrict Mode = "strict"
)

// ParseMode converts a settings value into a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case ModeNone, ModeStandard, ModeStrict:
		return m, nil
	case "":
		return ModeStandard, nil
	default:
		return "", fmt.Errorf("unknown redaction mode %q", s)
	}
}

// Pattern defines a redaction pattern with a name and regular expression.
type Pattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// StandardPatterns returns the default set of redaction patterns.
func StandardPatterns() []Pattern {
	return []Pattern{
		{
			Name:        "api_key",
			Regex:       regexp.MustCompile(`(?i)(api[_-]?key|apikey)["\s:=]+([a-zA-Z0-9_\-]{16,})`),
			Replacement: "$1=[REDACTED]",
		},
		{
			Name:        "bearer_token",
			Regex:       regexp.MustCompile(`(?i)(bearer\s+)([a-zA-Z0-9_\-\.]{20,})`),
			Replacement: "$1[REDACTED]",
		},
		{
			Name:        "password",
			Regex:       regexp.MustCompile(`(?i)(password|passwd|pwd)["\s:=]+([^\s"]+)`),
			Replacement: "$1=[REDACTED]",
		},
		{
			Name:        "aws_key",
			Regex:       regexp.MustCompile(`(AKIA[0-9A-Z]{16})`),
			Replacement: "[REDACTED-AWS-KEY]",
		},
		{
			Name:        "private_key",
			Regex:       regexp.MustCompile(`(?s)(-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----).*?(-----END (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----)`),
			Replacement: "$1[REDACTED]$3",
		},
		{
			Name:        "github_token",
			Regex:       regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`),
			Replacement: "[REDACTED-GITHUB-TOKEN]",
		},
		{
			Name:        "email",
			Regex:       regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
			Replacement: "[REDACTED-EMAIL]",
		},
		{
			Name:        "ssn",
			Regex:       regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			Replacement: "[REDACTED-SSN]",
		},
		{
			Name:        "credit_card",
			Regex:       regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`),
			Replacement: "[REDACTED-CC]",
		},
		{
			Name:        "jwt",
			Regex:       regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`),
			Replacement: "[REDACTED-JWT]",
		},
		{
			Name:        "generic_secret",
			Regex:       regexp.MustCompile(`(?i)(secret|token)["\s:=]+([a-zA-Z0-9_\-]{16,})`),
			Replacement: "$1=[REDACTED]",
		},
	}
}

var defaultSensitiveKeys = []string{
	"password", "passwd", "pwd",
	"secret", "token",
	"api_key", "apikey", "api-key",
	"private_key", "privatekey",
	"authorization", "credential",
	"cookie", "session",
}

// Redactor applies redaction rules to strings, JSON-like values and attributes.
// A Redactor is immutable and safe for concurrent use.
type Redactor struct {
	mode     Mode
	patterns []Pattern
	keys     []string
	globs    []string
}

// Option configures a Redactor.
type Option func(*Redactor)

// WithPatterns replaces the standard pattern set.
func WithPatterns(patterns []Pattern) Option {
	return func(r *Redactor) { r.patterns = patterns }
}

// WithSensitiveKeys adds key fragments whose values are always redacted.
// Entries containing glob syntax ("*_pin", "x-{auth,api}-*") must match the
// whole key instead.
func WithSensitiveKeys(keys ...string) Option {
	return func(r *Redactor) {
		for _, k := range keys {
			k = strings.ToLower(strings.TrimSpace(k))
			switch {
			case k == "":
			case strings.ContainsAny(k, "*?[{"):
				r.globs = append(r.globs, k)
			default:
				r.keys = append(r.keys, k)
			}
		}
	}
}

// ValidateKeys reports the first malformed glob among keys.
func ValidateKeys(keys []string) error {
	for _, k := range keys {
		if strings.ContainsAny(k, "*?[{") && !doublestar.ValidatePattern(strings.ToLower(k)) {
			return fmt.Errorf("invalid sensitive key pattern %q", k)
		}
	}
	return nil
}

// NewRedactor creates a new redactor with the specified mode.
func NewRedactor(mode Mode, opts ...Option) *Redactor {
	r := &Redactor{
		mode:     mode,
		patterns: StandardPatterns(),
		keys:     append([]string(nil), defaultSensitiveKeys...),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Mode returns the redaction mode.
func (r *Redactor) Mode() Mode {
	return r.mode
}

// RedactString applies redaction patterns to a string value.
func (r *Redactor) RedactString(s string) string {
	switch r.mode {
	case ModeNone:
		return s
	case ModeStrict:
		return Placeholder
	}

	result := s
	for _, pattern := range r.patterns {
		result = pattern.Regex.ReplaceAllString(result, pattern.Replacement)
	}
	return result
}

// RedactAttributes applies redaction to span attributes.
func (r *Redactor) RedactAttributes(attrs []attribute.KeyValue) []attribute.KeyValue {
	if r.mode == ModeNone {
		return attrs
	}

	redacted := make([]attribute.KeyValue, len(attrs))
	for i, attr := range attrs {
		key := string(attr.Key)

		if r.IsSensitiveKey(key) {
			redacted[i] = attribute.String(key, Placeholder)
			continue
		}

		if strVal, ok := attr.Value.AsInterface().(string); ok {
			redacted[i] = attribute.String(key, r.RedactString(strVal))
		} else if r.mode == ModeStrict {
			redacted[i] = attribute.String(key, Placeholder)
		} else {
			redacted[i] = attr
		}
	}
	return redacted
}

// IsSensitiveKey reports whether a map key or attribute name indicates secret data.
func (r *Redactor) IsSensitiveKey(key string) bool {
	lowerKey := strings.ToLower(key)
	for _, sensitive := range r.keys {
		if strings.Contains(lowerKey, sensitive) {
			return true
		}
	}
	for _, pattern := range r.globs {
		if ok, _ := doublestar.Match(pattern, lowerKey); ok {
			return true
		}
	}
	return false
}
