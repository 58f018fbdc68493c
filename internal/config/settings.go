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
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the daemon configuration read from settings.yaml.
// Every field is optional; zero values are replaced by Default().
type Settings struct {
	Gateway GatewaySettings `yaml:"gateway"`
	Timers  TimerSettings   `yaml:"timers"`
	Logs    LogSettings     `yaml:"logs"`
	Privacy PrivacySettings `yaml:"privacy"`
	History HistorySettings `yaml:"history"`
	Tracing TracingSettings `yaml:"tracing"`
}

// GatewaySettings configures the loopback HTTP gateway.
type GatewaySettings struct {
	// Addr is the listen address. Must resolve to a loopback interface.
	Addr string `yaml:"addr,omitempty"`

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes,omitempty"`

	// AllowedOrigins enables CORS for the listed origins. Empty disables CORS.
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`

	// RateLimit is the sustained tool call rate in requests per second.
	RateLimit float64 `yaml:"rate_limit,omitempty"`

	// RateBurst is the token bucket size for tool calls.
	RateBurst int `yaml:"rate_burst,omitempty"`
}

// TimerSettings holds the supervisor timing knobs.
type TimerSettings struct {
	HealthInterval time.Duration `yaml:"health_interval,omitempty"`
	HealthTimeout  time.Duration `yaml:"health_timeout,omitempty"`
	IdleTimeout    time.Duration `yaml:"idle_timeout,omitempty"`
	ToolCacheTTL   time.Duration `yaml:"tool_cache_ttl,omitempty"`
	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty"`
	StartTimeout   time.Duration `yaml:"start_timeout,omitempty"`
	StopGrace      time.Duration `yaml:"stop_grace,omitempty"`
}

// LogSettings configures per-server log files.
type LogSettings struct {
	MaxSizeMB  int `yaml:"max_size_mb,omitempty"`
	MaxRotated int `yaml:"max_rotated,omitempty"`
}

// PrivacySettings configures the call history privacy filter.
type PrivacySettings struct {
	// Mode is one of none, standard, strict.
	Mode            string   `yaml:"mode,omitempty"`
	ExtraKeys       []string `yaml:"extra_keys,omitempty"`
	MaxPayloadBytes int      `yaml:"max_payload_bytes,omitempty"`
}

// HistorySettings selects the call history backend.
type HistorySettings struct {
	// Backend is sqlite or postgres.
	Backend       string `yaml:"backend,omitempty"`
	DSN           string `yaml:"dsn,omitempty"`
	RetentionDays int    `yaml:"retention_days,omitempty"`
	QueueSize     int    `yaml:"queue_size,omitempty"`
}

// TracingSettings selects the span exporter.
type TracingSettings struct {
	// Exporter is none, stdout or otlp.
	Exporter string `yaml:"exporter,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		Gateway: GatewaySettings{
			Addr:         "127.0.0.1:3737",
			MaxBodyBytes: 1 << 20,
			RateLimit:    20,
			RateBurst:    40,
		},
		Timers: TimerSettings{
			HealthInterval: 30 * time.Second,
			HealthTimeout:  10 * time.Second,
			IdleTimeout:    5 * time.Minute,
			ToolCacheTTL:   60 * time.Second,
			ConnectTimeout: 30 * time.Second,
			StartTimeout:   60 * time.Second,
			StopGrace:      2 * time.Second,
		},
		Logs: LogSettings{
			MaxSizeMB:  100,
			MaxRotated: 5,
		},
		Privacy: PrivacySettings{
			Mode:            "standard",
			MaxPayloadBytes: 64 << 10,
		},
		History: HistorySettings{
			Backend:       "sqlite",
			RetentionDays: 30,
			QueueSize:     256,
		},
		Tracing: TracingSettings{
			Exporter: "none",
		},
	}
}

// LoadSettings reads path, fills unset fields from Default and applies
// environment overrides. A missing file yields the defaults.
func LoadSettings(path string) (Settings, error) {
	s := Settings{}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Settings{}, fmt.Errorf("failed to read settings: %w", err)
	default:
		if err := yaml.Unmarshal(data, &s); err != nil {
			return Settings{}, fmt.Errorf("failed to parse settings %s: %w", path, err)
		}
	}

	s.applyDefaults(Default())
	s.applyEnv()

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s *Settings) applyDefaults(d Settings) {
	if s.Gateway.Addr == "" {
		s.Gateway.Addr = d.Gateway.Addr
	}
	if s.Gateway.MaxBodyBytes == 0 {
		s.Gateway.MaxBodyBytes = d.Gateway.MaxBodyBytes
	}
	if s.Gateway.RateLimit == 0 {
		s.Gateway.RateLimit = d.Gateway.RateLimit
	}
	if s.Gateway.RateBurst == 0 {
		s.Gateway.RateBurst = d.Gateway.RateBurst
	}

	if s.Timers.HealthInterval == 0 {
		s.Timers.HealthInterval = d.Timers.HealthInterval
	}
	if s.Timers.HealthTimeout == 0 {
		s.Timers.HealthTimeout = min(d.Timers.HealthTimeout, s.Timers.HealthInterval)
	}

	durations := []struct {
		v   *time.Duration
		def time.Duration
	}{
		{&s.Timers.IdleTimeout, d.Timers.IdleTimeout},
		{&s.Timers.ToolCacheTTL, d.Timers.ToolCacheTTL},
		{&s.Timers.ConnectTimeout, d.Timers.ConnectTimeout},
		{&s.Timers.StartTimeout, d.Timers.StartTimeout},
		{&s.Timers.StopGrace, d.Timers.StopGrace},
	}
	for _, f := range durations {
		if *f.v == 0 {
			*f.v = f.def
		}
	}

	if s.Logs.MaxSizeMB == 0 {
		s.Logs.MaxSizeMB = d.Logs.MaxSizeMB
	}
	if s.Logs.MaxRotated == 0 {
		s.Logs.MaxRotated = d.Logs.MaxRotated
	}
	if s.Privacy.Mode == "" {
		s.Privacy.Mode = d.Privacy.Mode
	}
	if s.Privacy.MaxPayloadBytes == 0 {
		s.Privacy.MaxPayloadBytes = d.Privacy.MaxPayloadBytes
	}
	if s.History.Backend == "" {
		s.History.Backend = d.History.Backend
	}
	if s.History.RetentionDays == 0 {
		s.History.RetentionDays = d.History.RetentionDays
	}
	if s.History.QueueSize == 0 {
		s.History.QueueSize = d.History.QueueSize
	}
	if s.Tracing.Exporter == "" {
		s.Tracing.Exporter = d.Tracing.Exporter
	}
}

func (s *Settings) applyEnv() {
	if addr := os.Getenv("CIRCUIT_GATEWAY_ADDR"); addr != "" {
		s.Gateway.Addr = addr
	}
	if dsn := os.Getenv("CIRCUIT_HISTORY_DSN"); dsn != "" {
		s.History.DSN = dsn
	}
}

// Validate checks the settings for values the daemon cannot run with.
func (s *Settings) Validate() error {
	if _, _, err := net.SplitHostPort(s.Gateway.Addr); err != nil {
		return fmt.Errorf("gateway.addr %q: %w", s.Gateway.Addr, err)
	}
	if s.Gateway.MaxBodyBytes < 0 {
		return fmt.Errorf("gateway.max_body_bytes must be positive")
	}
	if s.Timers.HealthTimeout > s.Timers.HealthInterval {
		return fmt.Errorf("timers.health_timeout (%s) must not exceed timers.health_interval (%s)",
			s.Timers.HealthTimeout, s.Timers.HealthInterval)
	}
	switch s.Privacy.Mode {
	case "none", "standard", "strict":
	default:
		return fmt.Errorf("privacy.mode %q: must be none, standard or strict", s.Privacy.Mode)
	}
	switch s.History.Backend {
	case "sqlite":
	case "postgres":
		if s.History.DSN == "" {
			return fmt.Errorf("history.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("history.backend %q: must be sqlite or postgres", s.History.Backend)
	}
	switch s.Tracing.Exporter {
	case "none", "stdout", "otlp":
	default:
		return fmt.Errorf("tracing.exporter %q: must be none, stdout or otlp", s.Tracing.Exporter)
	}
	return nil
}
