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
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tombee/circuit/internal/log"
)

// instance is the runtime state of one configured server.
type instance struct {
	id string

	// opMu serializes lifecycle transitions (start, stop, failure
	// handling, restart timers, idle eviction) for this id.
	opMu sync.Mutex

	// mu guards every field below.
	mu sync.RWMutex

	cfg    ServerConfig
	status ServerStatus

	// gen advances on every transition; scheduled work captures it and
	// no-ops when it has moved on.
	gen uint64

	proc       Process
	client     *Client
	startedAt  time.Time
	lastHealth time.Time
	errMsg     string

	tools     []ToolDefinition
	prompts   []PromptDefinition
	resources []ResourceDefinition
	caps      ServerCapabilities
	stats     Stats

	healthStop   chan struct{}
	idleTimer    *time.Timer
	restartTimer *time.Timer

	inflight     int
	lastActivity time.Time
	removed      bool
}

func newInstance(cfg ServerConfig) *instance {
	return &instance{
		id:     cfg.ID,
		cfg:    cfg.Clone(),
		status: StatusStopped,
	}
}

func (inst *instance) snapshot(now time.Time) Status {
	inst.mu.RLock()
	defer inst.mu.RUnlock()

	s := Status{
		ID:            inst.id,
		Name:          inst.cfg.DisplayName(),
		Status:        inst.status,
		Error:         inst.errMsg,
		Stats:         inst.stats,
		ToolCount:     len(inst.tools),
		PromptCount:   len(inst.prompts),
		ResourceCount: len(inst.resources),
		Capabilities:  inst.caps,
		AutoStart:     inst.cfg.AutoStart,
		AutoRestart:   inst.cfg.AutoRestart,
	}
	if inst.proc != nil {
		s.Pid = inst.proc.Pid()
	}
	if !inst.startedAt.IsZero() {
		started := inst.startedAt
		s.StartedAt = &started
		s.UptimeSeconds = int64(now.Sub(started).Seconds())
	}
	if !inst.lastHealth.IsZero() {
		checked := inst.lastHealth
		s.LastHealthCheck = &checked
	}
	return s
}

// liveClient returns the client if the instance is running.
func (inst *instance) liveClient() *Client {
	inst.mu.RLock()
	defer inst.mu.RUnlock()
	if inst.status != StatusRunning {
		return nil
	}
	return inst.client
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// Start spawns and connects server id. Starting a running server is a
// no-op; concurrent starts of one id spawn at most one process.
func (r *Registry) Start(ctx context.Context, id string) error {
	inst, err := r.get(id)
	if err != nil {
		return err
	}
	inst.opMu.Lock()
	defer inst.opMu.Unlock()
	return r.startLocked(ctx, inst)
}

// Stop stops server id. Pending restarts are cancelled.
func (r *Registry) Stop(ctx context.Context, id string) error {
	inst, err := r.get(id)
	if err != nil {
		return err
	}
	return r.stop(inst)
}

func (r *Registry) stop(inst *instance) error {
	inst.opMu.Lock()
	defer inst.opMu.Unlock()
	r.stopLocked(inst)
	return nil
}

// Restart stops server id, waits the settle delay and starts it again.
// Restarts of one id never overlap.
func (r *Registry) Restart(ctx context.Context, id string) error {
	inst, err := r.get(id)
	if err != nil {
		return err
	}
	inst.opMu.Lock()
	defer inst.opMu.Unlock()

	r.stopLocked(inst)

	select {
	case <-time.After(r.timers.RestartSettle):
	case <-ctx.Done():
		return ctx.Err()
	}

	serverRestarts.WithLabelValues(id, "manual").Inc()
	return r.startLocked(ctx, inst)
}

// startLocked runs stopped/error -> starting -> running. The caller holds
// inst.opMu.
func (r *Registry) startLocked(ctx context.Context, inst *instance) error {
	inst.mu.Lock()
	if inst.removed {
		inst.mu.Unlock()
		return ErrServerNotFound(inst.id)
	}
	if inst.status == StatusRunning {
		inst.mu.Unlock()
		return nil
	}
	stopTimer(inst.restartTimer)
	inst.restartTimer = nil
	inst.gen++
	gen := inst.gen
	cfg := inst.cfg.Clone()
	inst.mu.Unlock()

	logger := log.WithServer(r.logger, inst.id)
	r.transition(inst, StatusStarting, "")

	if err := cfg.Validate(); err != nil {
		r.failLocked(inst, gen, err, r.timers.ErrorRestartDelay, "error")
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timers.StartTimeout)
	defer cancel()

	proc, err := r.launcher.Launch(ctx, cfg)
	if err != nil {
		merr := ErrSpawnFailed(inst.id, cfg.Command, err)
		logger.Error("failed to spawn server", "command", cfg.Command, "error", err)
		r.failLocked(inst, gen, merr, r.timers.ErrorRestartDelay, "error")
		return merr
	}
	serverSpawns.WithLabelValues(inst.id).Inc()
	logger.Info("server process spawned", "pid", proc.Pid(), "command", cfg.Command)

	// A process that dies during the handshake ends the wait early.
	go func() {
		select {
		case <-proc.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	client := NewClient(ClientConfig{
		ServerID:       inst.id,
		Stdin:          proc.Stdin(),
		Stdout:         r.pipeLogs(inst.id, proc, logger),
		ConnectTimeout: r.timers.ConnectTimeout,
		OnConnectTimeout: func() {
			r.events.Publish(Event{
				Type:     EventConnectTimeout,
				ServerID: inst.id,
				Status:   StatusStarting,
				Message:  fmt.Sprintf("initialize not acknowledged after %s", r.timers.ConnectTimeout),
			})
		},
		CallTimeout: r.timers.CallTimeout,
		Logger:      logger,
	})

	inst.mu.Lock()
	inst.proc = proc
	inst.client = client
	inst.mu.Unlock()

	if err := client.Connect(ctx); err != nil {
		merr := ErrHandshakeFailed(inst.id, err)
		logger.Error("initialize handshake failed", "error", err)
		r.failLocked(inst, gen, merr, r.timers.ErrorRestartDelay, "error")
		return merr
	}

	// Capability types are fetched together; one failing does not fail
	// the others or the start.
	var (
		tools     []ToolDefinition
		toolsErr  error
		prompts   []PromptDefinition
		resources []ResourceDefinition
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tools, toolsErr = client.FetchTools(gctx)
		return nil
	})
	g.Go(func() error {
		prompts = client.ListPrompts(gctx)
		return nil
	})
	g.Go(func() error {
		resources = client.ListResources(gctx)
		return nil
	})
	_ = g.Wait()

	if toolsErr != nil {
		logger.Warn("initial tool fetch failed", "error", toolsErr)
		tools = []ToolDefinition{}
	} else {
		r.cache.Put(inst.id, tools)
	}

	now := time.Now()
	stop := make(chan struct{})
	inst.mu.Lock()
	inst.startedAt = now
	inst.lastActivity = now
	inst.tools = tools
	inst.prompts = prompts
	inst.resources = resources
	inst.caps = client.Capabilities()
	inst.healthStop = stop
	inst.idleTimer = r.armIdle(inst, gen)
	inst.mu.Unlock()

	go r.healthLoop(inst, gen, client, stop)
	go r.watchExit(inst, gen, proc)

	r.transition(inst, StatusRunning, "")
	logger.Info("server running",
		"tools", len(tools),
		"prompts", len(prompts),
		"resources", len(resources))
	return nil
}

// pipeLogs copies stderr to the log file and returns a stdout reader that
// mirrors protocol frames into it.
func (r *Registry) pipeLogs(id string, proc Process, logger *slog.Logger) io.Reader {
	stderr := io.Writer(io.Discard)
	stdout := io.Writer(io.Discard)
	if r.logs != nil {
		stderr = &lenientWriter{w: r.logs.Writer(id, StreamStderr), logger: logger}
		stdout = &lenientWriter{w: r.logs.Writer(id, StreamStdout), logger: logger}
	}
	go func() {
		_, _ = io.Copy(stderr, proc.Stderr())
	}()
	return io.TeeReader(proc.Stdout(), &frameTracer{w: stdout, logger: logger})
}

// frameTracer logs the size of each chunk read from server stdout at trace
// level. Payloads are never logged.
type frameTracer struct {
	w      io.Writer
	logger *slog.Logger
}

func (t *frameTracer) Write(p []byte) (int, error) {
	log.Trace(t.logger, "server stdout", slog.Int("bytes", len(p)))
	return t.w.Write(p)
}

// lenientWriter never fails, so a log write error cannot break the
// protocol stream. The first error is logged.
type lenientWriter struct {
	w      io.Writer
	logger *slog.Logger
	once   sync.Once
}

func (w *lenientWriter) Write(p []byte) (int, error) {
	if _, err := w.w.Write(p); err != nil {
		w.once.Do(func() {
			w.logger.Warn("failed to write server log", "error", err)
		})
	}
	return len(p), nil
}

// stopLocked runs any state -> stopped. The caller holds inst.opMu.
func (r *Registry) stopLocked(inst *instance) {
	inst.mu.Lock()
	inst.gen++
	stopTimer(inst.restartTimer)
	inst.restartTimer = nil
	active := inst.status != StatusStopped || inst.proc != nil
	inst.mu.Unlock()

	if !active {
		return
	}
	r.teardownLocked(inst)
	r.transition(inst, StatusStopped, "")
	log.WithServer(r.logger, inst.id).Info("server stopped")
}

// teardownLocked cancels timers, closes the client and ends the process.
// The caller holds inst.opMu.
func (r *Registry) teardownLocked(inst *instance) {
	inst.mu.Lock()
	client, proc := inst.client, inst.proc
	inst.client, inst.proc = nil, nil
	if inst.healthStop != nil {
		close(inst.healthStop)
		inst.healthStop = nil
	}
	stopTimer(inst.idleTimer)
	inst.idleTimer = nil
	inst.tools, inst.prompts, inst.resources = nil, nil, nil
	inst.caps = ServerCapabilities{}
	inst.startedAt = time.Time{}
	inst.mu.Unlock()

	if client != nil {
		if err := client.Close(); err != nil {
			r.logger.Debug("client close failed", log.ServerIDKey, inst.id, "error", err)
		}
	}
	if proc == nil {
		return
	}

	if !waitExit(proc, r.timers.StopGrace) {
		if err := proc.Terminate(); err != nil {
			r.logger.Warn("failed to terminate server process", log.ServerIDKey, inst.id, "error", err)
		}
	}
	exited := waitExit(proc, r.timers.StopGrace)

	// Kill also reaps descendants left in the process group, such as the
	// real server behind an npx wrapper.
	if err := proc.Kill(); err != nil {
		r.logger.Warn("failed to kill server process", log.ServerIDKey, inst.id, "error", err)
	}
	if !exited && !waitExit(proc, r.timers.StopGrace) {
		r.logger.Warn("server process did not exit after kill", log.ServerIDKey, inst.id)
	}
}

func waitExit(proc Process, d time.Duration) bool {
	select {
	case <-proc.Done():
		return true
	case <-time.After(d):
		return false
	}
}

// failLocked runs starting/running -> error for generation gen and arms a
// restart if autoRestart is set. The caller holds inst.opMu.
func (r *Registry) failLocked(inst *instance, gen uint64, cause error, delay time.Duration, reason string) {
	inst.mu.Lock()
	if inst.gen != gen || inst.removed {
		inst.mu.Unlock()
		return
	}
	inst.gen++
	next := inst.gen
	autoRestart := inst.cfg.AutoRestart
	inst.mu.Unlock()

	r.teardownLocked(inst)
	r.transition(inst, StatusError, cause.Error())

	if autoRestart {
		r.scheduleRestart(inst, next, delay, reason)
	}
}

// scheduleRestart arms a restart for generation gen.
func (r *Registry) scheduleRestart(inst *instance, gen uint64, delay time.Duration, reason string) {
	inst.mu.Lock()
	stopTimer(inst.restartTimer)
	inst.restartTimer = time.AfterFunc(delay, func() {
		inst.opMu.Lock()
		defer inst.opMu.Unlock()

		inst.mu.RLock()
		stale := inst.gen != gen || inst.removed
		inst.mu.RUnlock()
		if stale || r.life.Err() != nil {
			return
		}

		serverRestarts.WithLabelValues(inst.id, reason).Inc()
		if err := r.startLocked(r.life, inst); err != nil {
			r.logger.Warn("automatic restart failed", log.ServerIDKey, inst.id, "error", err)
		}
	})
	inst.mu.Unlock()

	r.events.Publish(Event{
		Type:     EventRestartScheduled,
		ServerID: inst.id,
		Details: map[string]any{
			"delay_ms": delay.Milliseconds(),
			"reason":   reason,
		},
	})
}

// watchExit handles a process that exits while generation gen is current.
func (r *Registry) watchExit(inst *instance, gen uint64, proc Process) {
	<-proc.Done()

	inst.opMu.Lock()
	defer inst.opMu.Unlock()

	inst.mu.Lock()
	if inst.gen != gen || inst.removed {
		inst.mu.Unlock()
		return
	}
	inst.gen++
	next := inst.gen
	autoRestart := inst.cfg.AutoRestart
	inst.mu.Unlock()

	exitErr := proc.ExitErr()
	logger := log.WithServer(r.logger, inst.id)
	logger.Warn("server process exited unexpectedly", "error", exitErr)

	r.teardownLocked(inst)

	if autoRestart {
		r.transition(inst, StatusStarting, "")
		r.scheduleRestart(inst, next, r.timers.ExitRestartDelay, "exit")
		return
	}

	msg := "process exited"
	if exitErr != nil {
		msg = fmt.Sprintf("process exited: %v", exitErr)
	}
	r.transition(inst, StatusStopped, msg)
}

// transition sets the status and publishes status_changed. Entering
// running clears the error; entering error or stopped records msg.
func (r *Registry) transition(inst *instance, to ServerStatus, msg string) {
	inst.mu.Lock()
	from := inst.status
	inst.status = to
	switch to {
	case StatusRunning:
		inst.errMsg = ""
	case StatusError, StatusStopped:
		inst.errMsg = msg
	}
	inst.mu.Unlock()

	recordStatusChange(from, to)
	if from == to && msg == "" {
		return
	}
	r.events.Publish(Event{
		Type:     EventStatusChanged,
		ServerID: inst.id,
		Status:   to,
		Message:  msg,
		Details:  map[string]any{"from": string(from)},
	})
}

// statusOrder lists states for stable reporting.
var statusOrder = []ServerStatus{StatusRunning, StatusStarting, StatusError, StatusStopped}

// Counts reports how many instances are in each state.
func (r *Registry) Counts() map[ServerStatus]int {
	counts := make(map[ServerStatus]int, len(statusOrder))
	for _, s := range statusOrder {
		counts[s] = 0
	}
	for _, st := range r.ListStatus() {
		counts[st.Status]++
	}
	return counts
}

// IDs returns every server id in install order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}
