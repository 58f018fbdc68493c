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


// Package daemon wires the registry, call history, config watcher and
// gateway into the long-running circuit process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tombee/circuit/internal/config"
	"github.com/tombee/circuit/internal/gateway"
	"github.com/tombee/circuit/internal/history"
	"github.com/tombee/circuit/internal/log"
	"github.com/tombee/circuit/internal/mcp"
	"github.com/tombee/circuit/internal/redact"
	"github.com/tombee/circuit/internal/secrets"
	"github.com/tombee/circuit/internal/tracing"
)

// ShutdownTimeout bounds graceful shutdown after a signal.
const ShutdownTimeout = 15 * time.Second

// Options configures a Daemon.
type Options struct {
	// Home is the data directory. Empty means config.Dir().
	Home string

	// Addr overrides the gateway listen address from settings.
	Addr string

	Version string
	Logger  *slog.Logger

	// Launcher replaces the exec launcher. Used by tests.
	Launcher mcp.Launcher
}

// Daemon owns every long-lived component.
type Daemon struct {
	paths    config.Paths
	settings config.Settings
	logger   *slog.Logger

	pid      *PIDFile
	tracing  *tracing.Provider
	store    history.Store
	recorder *history.Recorder
	logs     *mcp.LogManager
	configs  *mcp.ConfigStore
	registry *mcp.Registry
	watcher  *mcp.Watcher
	events   *eventLogger
	gateway  *gateway.Server
}

// New reads settings and builds the components. Nothing is started and
// no server process is spawned until Start.
func New(ctx context.Context, opts Options) (_ *Daemon, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	paths, err := config.ResolvePaths(opts.Home)
	if err != nil {
		return nil, err
	}
	settings, err := config.LoadSettings(paths.Settings)
	if err != nil {
		return nil, err
	}
	if opts.Addr != "" {
		settings.Gateway.Addr = opts.Addr
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	d := &Daemon{paths: paths, settings: settings, logger: logger}
	defer func() {
		if err != nil {
			d.close(context.Background())
		}
	}()

	d.pid = NewPIDFile(paths.PID)
	if err := d.pid.Acquire(os.Getpid()); err != nil {
		return nil, err
	}

	d.tracing, err = tracing.Setup(ctx, tracing.Config{
		ServiceName:    "circuit",
		ServiceVersion: opts.Version,
		Exporter:       settings.Tracing.Exporter,
		Endpoint:       settings.Tracing.Endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	mode, err := redact.ParseMode(settings.Privacy.Mode)
	if err != nil {
		return nil, err
	}
	if err := redact.ValidateKeys(settings.Privacy.ExtraKeys); err != nil {
		return nil, fmt.Errorf("privacy.extra_keys: %w", err)
	}
	redactor := redact.NewRedactor(mode, redact.WithSensitiveKeys(settings.Privacy.ExtraKeys...))

	dsn := settings.History.DSN
	if dsn == "" && settings.History.Backend == history.BackendSQLite {
		dsn = paths.History
	}
	d.store, err = history.Open(ctx, settings.History.Backend, dsn)
	if err != nil {
		return nil, err
	}
	d.recorder = history.NewRecorder(history.RecorderConfig{
		Store:     d.store,
		Filter:    history.NewFilter(redactor, settings.Privacy.MaxPayloadBytes),
		QueueSize: settings.History.QueueSize,
		Retention: time.Duration(settings.History.RetentionDays) * 24 * time.Hour,
		Logger:    logger,
	})

	d.logs = mcp.NewLogManager(paths.Logs, mcp.LogOptions{
		MaxSize:    int64(settings.Logs.MaxSizeMB) << 20,
		MaxRotated: settings.Logs.MaxRotated,
		Logger:     logger,
	})

	launcher := opts.Launcher
	if launcher == nil {
		launcher = mcp.NewExecLauncher(secrets.NewResolver())
	}

	d.configs = mcp.NewConfigStore(paths.Servers, logger)
	d.registry = mcp.NewRegistry(mcp.RegistryConfig{
		Store:    d.configs,
		Launcher: launcher,
		Logs:     d.logs,
		Recorder: d.recorder,
		Redactor: redactor,
		Timers:   timersFrom(settings.Timers),
		Logger:   logger,
	})

	d.gateway, err = gateway.New(gateway.Config{
		Addr:           settings.Gateway.Addr,
		Registry:       d.registry,
		History:        d.recorder,
		MaxBodyBytes:   settings.Gateway.MaxBodyBytes,
		AllowedOrigins: settings.Gateway.AllowedOrigins,
		RateLimit:      settings.Gateway.RateLimit,
		RateBurst:      settings.Gateway.RateBurst,
		Version:        opts.Version,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func timersFrom(s config.TimerSettings) mcp.Timers {
	return mcp.Timers{
		HealthInterval: s.HealthInterval,
		HealthTimeout:  s.HealthTimeout,
		IdleTimeout:    s.IdleTimeout,
		ToolCacheTTL:   s.ToolCacheTTL,
		ConnectTimeout: s.ConnectTimeout,
		StartTimeout:   s.StartTimeout,
		StopGrace:      s.StopGrace,
	}
}

// Start loads the server configs, auto-starts servers, begins watching
// the config file and opens the gateway.
func (d *Daemon) Start(ctx context.Context) error {
	d.events = startEventLogger(d.registry, d.logger)
	if err := d.registry.Load(ctx); err != nil {
		return err
	}

	w, err := mcp.NewWatcher(mcp.WatcherConfig{
		Registry: d.registry,
		Store:    d.configs,
		Logger:   d.logger,
	})
	if err != nil {
		// Config edits then need a restart; everything else still works.
		d.logger.Warn("config watcher unavailable", log.Error(err))
	} else {
		d.watcher = w
	}

	if err := d.gateway.Start(); err != nil {
		return err
	}
	d.logger.Info("circuit started",
		"home", d.paths.Home,
		"addr", d.gateway.Addr(),
		"servers", len(d.registry.IDs()),
	)
	return nil
}

// Addr is the gateway address.
func (d *Daemon) Addr() string {
	return d.gateway.Addr()
}

// Registry exposes the supervisor.
func (d *Daemon) Registry() *mcp.Registry {
	return d.registry
}

// Shutdown stops the gateway, then every server, then flushes history.
func (d *Daemon) Shutdown(ctx context.Context) error {
	return d.close(ctx)
}

func (d *Daemon) close(ctx context.Context) error {
	var errs []error
	if d.gateway != nil {
		errs = append(errs, d.gateway.Shutdown(ctx))
	}
	if d.watcher != nil {
		errs = append(errs, d.watcher.Close())
	}
	if d.registry != nil {
		errs = append(errs, d.registry.Close(ctx))
	}
	if d.events != nil {
		d.events.Close()
	}
	if d.recorder != nil {
		d.recorder.Close()
	}
	if d.store != nil {
		errs = append(errs, d.store.Close())
	}
	if d.logs != nil {
		errs = append(errs, d.logs.Close())
	}
	if d.tracing != nil {
		errs = append(errs, d.tracing.Shutdown(ctx))
	}
	if d.pid != nil {
		errs = append(errs, d.pid.Release())
	}
	return errors.Join(errs...)
}

// Run starts the daemon and blocks until ctx is cancelled or SIGINT or
// SIGTERM arrives, then shuts down gracefully.
func Run(ctx context.Context, opts Options) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := New(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	if err := d.Start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		_ = d.Shutdown(shutdownCtx)
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	<-ctx.Done()
	d.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := d.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
