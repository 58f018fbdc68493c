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
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tombee/circuit/internal/history"
	"github.com/tombee/circuit/internal/log"
	"github.com/tombee/circuit/internal/redact"
)

// Timers holds every duration the Registry schedules with.
type Timers struct {
	// HealthInterval is the period between health probes.
	HealthInterval time.Duration

	// HealthTimeout bounds a single probe.
	HealthTimeout time.Duration

	// IdleTimeout stops an instance that has seen no call for this long.
	IdleTimeout time.Duration

	// ToolCacheTTL is how long a fetched tool list is served from cache.
	ToolCacheTTL time.Duration

	// ConnectTimeout triggers the connection-timeout diagnostic.
	ConnectTimeout time.Duration

	// StartTimeout bounds spawn, handshake and capability fetch.
	StartTimeout time.Duration

	// StopGrace is how long a process may take to exit after stdin closes.
	StopGrace time.Duration

	// ErrorRestartDelay delays restarts after a failure.
	ErrorRestartDelay time.Duration

	// ExitRestartDelay delays restarts after an unexpected exit.
	ExitRestartDelay time.Duration

	// RestartSettle is the pause between stop and start in Restart.
	RestartSettle time.Duration

	// CallTimeout bounds each tool call. Zero means only the caller's
	// context applies.
	CallTimeout time.Duration
}

// DefaultTimers returns the production schedule.
func DefaultTimers() Timers {
	return Timers{
		HealthInterval:    30 * time.Second,
		HealthTimeout:     10 * time.Second,
		IdleTimeout:       5 * time.Minute,
		ToolCacheTTL:      60 * time.Second,
		ConnectTimeout:    30 * time.Second,
		StartTimeout:      60 * time.Second,
		StopGrace:         2 * time.Second,
		ErrorRestartDelay: 5 * time.Second,
		ExitRestartDelay:  2 * time.Second,
		RestartSettle:     time.Second,
	}
}

func (t Timers) withDefaults() Timers {
	d := DefaultTimers()
	fill := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&t.HealthInterval, d.HealthInterval)
	fill(&t.HealthTimeout, d.HealthTimeout)
	fill(&t.IdleTimeout, d.IdleTimeout)
	fill(&t.ToolCacheTTL, d.ToolCacheTTL)
	fill(&t.ConnectTimeout, d.ConnectTimeout)
	fill(&t.StartTimeout, d.StartTimeout)
	fill(&t.StopGrace, d.StopGrace)
	fill(&t.ErrorRestartDelay, d.ErrorRestartDelay)
	fill(&t.ExitRestartDelay, d.ExitRestartDelay)
	fill(&t.RestartSettle, d.RestartSettle)
	return t
}

// CallRecorder receives one record per completed tool call. Record must
// not block.
type CallRecorder interface {
	Record(rec history.CallRecord)
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Store persists server definitions. Optional; without it nothing is
	// written to disk.
	Store *ConfigStore

	// Launcher spawns server processes. Defaults to an ExecLauncher.
	Launcher Launcher

	// Logs receives server stdout and stderr. Optional.
	Logs *LogManager

	// Events receives lifecycle events. A private bus is created if nil.
	Events *Bus

	// Recorder receives call history. Optional.
	Recorder CallRecorder

	// Tracer creates spans around tool calls. Defaults to the global
	// provider.
	Tracer trace.Tracer

	// Redactor scrubs span attributes. Defaults to standard mode.
	Redactor *redact.Redactor

	Timers Timers

	Logger *slog.Logger
}

// CallOptions describes the origin of a tool call.
type CallOptions struct {
	// Source tags the call in history (for example "http" or "cli").
	Source string
}

// ServerTool is a tool annotated with the server that provides it.
type ServerTool struct {
	ToolDefinition
	ServerID   string `json:"serverId"`
	ServerName string `json:"serverName"`
}

// Registry owns every configured server instance. It is safe for
// concurrent use; lifecycle work on one id is serialized, work on
// different ids runs independently.
type Registry struct {
	store    *ConfigStore
	launcher Launcher
	logs     *LogManager
	events   *Bus
	ownsBus  bool
	recorder CallRecorder
	tracer   trace.Tracer
	redactor *redact.Redactor
	timers   Timers
	logger   *slog.Logger
	cache    *ToolCache

	// life is cancelled by Close and parents background work.
	life   context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	instances map[string]*instance
	order     []string
	closed    bool
}

// NewRegistry creates an empty registry. Call Load to read the config.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	launcher := cfg.Launcher
	if launcher == nil {
		launcher = NewExecLauncher(nil)
	}
	events, ownsBus := cfg.Events, false
	if events == nil {
		events, ownsBus = NewBus(), true
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/tombee/circuit/internal/mcp")
	}
	redactor := cfg.Redactor
	if redactor == nil {
		redactor = redact.NewRedactor(redact.ModeStandard)
	}
	timers := cfg.Timers.withDefaults()

	life, cancel := context.WithCancel(context.Background())
	return &Registry{
		store:     cfg.Store,
		launcher:  launcher,
		logs:      cfg.Logs,
		events:    events,
		ownsBus:   ownsBus,
		recorder:  cfg.Recorder,
		tracer:    tracer,
		redactor:  redactor,
		timers:    timers,
		logger:    log.WithComponent(logger, "registry"),
		cache:     NewToolCache(timers.ToolCacheTTL, nil),
		life:      life,
		cancel:    cancel,
		instances: make(map[string]*instance),
	}
}

// Load reads the config store, registers every server and starts those
// marked autoStart. Start failures leave the instance in the error state
// and are not returned.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	servers, err := r.store.Load()
	if err != nil {
		return err
	}

	var autoStart []string
	r.mu.Lock()
	for _, cfg := range servers {
		if _, exists := r.instances[cfg.ID]; exists {
			continue
		}
		r.addLocked(cfg)
		if cfg.AutoStart {
			autoStart = append(autoStart, cfg.ID)
		}
	}
	r.mu.Unlock()

	r.logger.Info("loaded server configuration",
		"servers", len(servers),
		"auto_start", len(autoStart))

	r.startAll(ctx, autoStart)
	return nil
}

// startAll starts ids concurrently and logs failures.
func (r *Registry) startAll(ctx context.Context, ids []string) {
	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			if err := r.Start(ctx, id); err != nil {
				r.logger.Warn("auto-start failed", log.ServerIDKey, id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Reload re-reads the config store and reconciles: new servers are added
// (and auto-started), removed servers are stopped and dropped, and running
// servers whose launch settings changed are restarted.
func (r *Registry) Reload(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	servers, err := r.store.Load()
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(servers))
	var (
		autoStart []string
		restart   []string
		removed   []*instance
	)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	for _, cfg := range servers {
		seen[cfg.ID] = true
		inst, exists := r.instances[cfg.ID]
		if !exists {
			r.addLocked(cfg)
			if cfg.AutoStart {
				autoStart = append(autoStart, cfg.ID)
			}
			continue
		}

		inst.mu.Lock()
		changed := !sameLaunch(inst.cfg, cfg)
		active := inst.status == StatusRunning || inst.status == StatusStarting
		inst.cfg = cfg.Clone()
		inst.mu.Unlock()
		if changed && active {
			restart = append(restart, cfg.ID)
		}
	}
	for _, id := range slices.Clone(r.order) {
		if !seen[id] {
			removed = append(removed, r.removeLocked(id))
		}
	}
	r.mu.Unlock()

	for _, inst := range removed {
		r.dropInstance(inst)
	}
	for _, id := range restart {
		go func() {
			if err := r.Restart(r.life, id); err != nil {
				r.logger.Warn("restart after config change failed", log.ServerIDKey, id, "error", err)
			}
		}()
	}
	r.startAll(ctx, autoStart)

	r.logger.Info("reloaded server configuration",
		"servers", len(servers),
		"added", len(autoStart),
		"removed", len(removed),
		"restarted", len(restart))
	return nil
}

func sameLaunch(a, b ServerConfig) bool {
	if a.Command != b.Command || !slices.Equal(a.Args, b.Args) || len(a.Env) != len(b.Env) {
		return false
	}
	for k, v := range a.Env {
		if bv, ok := b.Env[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

func (r *Registry) addLocked(cfg ServerConfig) *instance {
	inst := newInstance(cfg)
	r.instances[cfg.ID] = inst
	r.order = append(r.order, cfg.ID)
	recordStatusChange("", StatusStopped)
	return inst
}

// removeLocked unlinks id. The caller stops the returned instance.
func (r *Registry) removeLocked(id string) *instance {
	inst := r.instances[id]
	delete(r.instances, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
	return inst
}

// dropInstance stops an unlinked instance and releases its resources.
func (r *Registry) dropInstance(inst *instance) {
	inst.opMu.Lock()
	r.stopLocked(inst)
	inst.mu.Lock()
	inst.removed = true
	status := inst.status
	inst.mu.Unlock()
	inst.opMu.Unlock()

	recordStatusChange(status, "")
	r.cache.Delete(inst.id)
	if r.logs != nil {
		r.logs.CloseFile(inst.id)
	}
	r.events.Publish(Event{Type: EventUninstalled, ServerID: inst.id})
}

func (r *Registry) get(id string) (*instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	if !ok {
		return nil, ErrServerNotFound(id)
	}
	return inst, nil
}

// persist writes the current server list to the config store.
func (r *Registry) persist() error {
	if r.store == nil {
		return nil
	}
	r.mu.RLock()
	servers := make([]ServerConfig, 0, len(r.order))
	for _, id := range r.order {
		inst := r.instances[id]
		inst.mu.RLock()
		servers = append(servers, inst.cfg.Clone())
		inst.mu.RUnlock()
	}
	r.mu.RUnlock()
	return r.store.Save(servers)
}

// Install registers and persists a new server. The id is derived from
// PackageID (or Name) when not set. The instance starts stopped.
func (r *Registry) Install(ctx context.Context, cfg ServerConfig) (ServerConfig, error) {
	cfg = cfg.withDerivedID()
	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}

	r.mu.Lock()
	if _, exists := r.instances[cfg.ID]; exists {
		r.mu.Unlock()
		return ServerConfig{}, ErrServerAlreadyExists(cfg.ID)
	}
	r.addLocked(cfg)
	r.mu.Unlock()

	if err := r.persist(); err != nil {
		return ServerConfig{}, fmt.Errorf("failed to persist config: %w", err)
	}

	r.logger.Info("server installed",
		log.ServerIDKey, cfg.ID,
		"command", cfg.Command)
	r.events.Publish(Event{Type: EventInstalled, ServerID: cfg.ID, Status: StatusStopped})
	return cfg.Clone(), nil
}

// Uninstall stops the server if needed, removes it and persists the
// config.
func (r *Registry) Uninstall(ctx context.Context, id string) error {
	r.mu.Lock()
	if _, ok := r.instances[id]; !ok {
		r.mu.Unlock()
		return ErrServerNotFound(id)
	}
	inst := r.removeLocked(id)
	r.mu.Unlock()

	r.dropInstance(inst)
	if err := r.persist(); err != nil {
		return fmt.Errorf("failed to persist config: %w", err)
	}
	r.logger.Info("server uninstalled", log.ServerIDKey, id)
	return nil
}

// Config returns a copy of the server's configuration.
func (r *Registry) Config(id string) (ServerConfig, error) {
	inst, err := r.get(id)
	if err != nil {
		return ServerConfig{}, err
	}
	inst.mu.RLock()
	defer inst.mu.RUnlock()
	return inst.cfg.Clone(), nil
}

// GetStatus returns a snapshot of one instance.
func (r *Registry) GetStatus(id string) (Status, error) {
	inst, err := r.get(id)
	if err != nil {
		return Status{}, err
	}
	return inst.snapshot(time.Now()), nil
}

// ListStatus returns a snapshot of every instance in install order.
func (r *Registry) ListStatus() []Status {
	r.mu.RLock()
	insts := make([]*instance, 0, len(r.order))
	for _, id := range r.order {
		insts = append(insts, r.instances[id])
	}
	r.mu.RUnlock()

	now := time.Now()
	out := make([]Status, 0, len(insts))
	for _, inst := range insts {
		out = append(out, inst.snapshot(now))
	}
	return out
}

// running returns running instances in install order.
func (r *Registry) running() []*instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*instance
	for _, id := range r.order {
		inst := r.instances[id]
		inst.mu.RLock()
		ok := inst.status == StatusRunning
		inst.mu.RUnlock()
		if ok {
			out = append(out, inst)
		}
	}
	return out
}

// ListTools returns the tools of one server (advisory). A fresh cache
// entry is returned without contacting the server; a server that is not
// running yields an empty list and is never started; a failed fetch yields
// an empty list and is not cached. Only an unknown id is an error.
func (r *Registry) ListTools(ctx context.Context, id string) ([]ToolDefinition, error) {
	inst, err := r.get(id)
	if err != nil {
		return nil, err
	}

	if tools, ok := r.cache.Get(id); ok {
		toolCacheLookups.WithLabelValues("hit").Inc()
		return tools, nil
	}
	toolCacheLookups.WithLabelValues("miss").Inc()

	inst.mu.RLock()
	client, gen := inst.client, inst.gen
	running := inst.status == StatusRunning
	inst.mu.RUnlock()
	if !running || client == nil {
		return []ToolDefinition{}, nil
	}

	tools, err := client.FetchTools(ctx)
	if err != nil {
		r.logger.Warn("failed to fetch tools", log.ServerIDKey, id, "error", err)
		return []ToolDefinition{}, nil
	}

	inst.mu.Lock()
	if inst.gen == gen {
		inst.tools = tools
	}
	inst.mu.Unlock()
	r.cache.Put(id, tools)
	return slices.Clone(tools), nil
}

// ListAllTools aggregates tools across running servers, skipping servers
// whose fetch fails.
func (r *Registry) ListAllTools(ctx context.Context) []ServerTool {
	out := []ServerTool{}
	for _, inst := range r.running() {
		tools, err := r.ListTools(ctx, inst.id)
		if err != nil {
			continue
		}
		inst.mu.RLock()
		name := inst.cfg.DisplayName()
		inst.mu.RUnlock()
		for _, t := range tools {
			out = append(out, ServerTool{ToolDefinition: t, ServerID: inst.id, ServerName: name})
		}
	}
	return out
}

// FindServerByTool returns the first running server, in install order,
// that advertises tool.
func (r *Registry) FindServerByTool(ctx context.Context, tool string) (string, bool) {
	for _, inst := range r.running() {
		tools, err := r.ListTools(ctx, inst.id)
		if err != nil {
			continue
		}
		for _, t := range tools {
			if t.Name == tool {
				return inst.id, true
			}
		}
	}
	return "", false
}

// ListPrompts returns the prompt snapshot taken at start.
func (r *Registry) ListPrompts(id string) ([]PromptDefinition, error) {
	inst, err := r.get(id)
	if err != nil {
		return nil, err
	}
	inst.mu.RLock()
	defer inst.mu.RUnlock()
	return slices.Clone(inst.prompts), nil
}

// ListResources returns the resource snapshot taken at start.
func (r *Registry) ListResources(id string) ([]ResourceDefinition, error) {
	inst, err := r.get(id)
	if err != nil {
		return nil, err
	}
	inst.mu.RLock()
	defer inst.mu.RUnlock()
	return slices.Clone(inst.resources), nil
}

// GetLogs returns up to lines trailing log lines for id.
func (r *Registry) GetLogs(id string, lines int) ([]string, error) {
	if _, err := r.get(id); err != nil {
		return nil, err
	}
	if r.logs == nil {
		return []string{}, nil
	}
	return r.logs.Tail(id, lines)
}

// Subscribe returns a subscription to lifecycle and activity events.
func (r *Registry) Subscribe() *Subscription {
	return r.events.Subscribe()
}

// CallTool calls a tool on server id (authoritative). A stopped server is
// started first. The idle timer is reset when the call begins and ends.
// Stats, metrics, an event and a history record are produced for every
// call that reaches a known server, whether it succeeds or fails.
func (r *Registry) CallTool(ctx context.Context, id, tool string, args map[string]any, opts CallOptions) (*ToolResult, error) {
	inst, err := r.get(id)
	if err != nil {
		return nil, err
	}
	if tool == "" {
		return nil, NewMCPError(ErrorCodeValidation, "tool name is required")
	}

	inst.mu.Lock()
	inst.inflight++
	inst.mu.Unlock()
	inst.touch(r.timers.IdleTimeout)
	defer func() {
		inst.mu.Lock()
		inst.inflight--
		inst.mu.Unlock()
		inst.touch(r.timers.IdleTimeout)
	}()

	ctx, span := r.tracer.Start(ctx, "mcp.call_tool",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(r.redactor.RedactAttributes([]attribute.KeyValue{
			attribute.String("mcp.server_id", id),
			attribute.String("mcp.tool", tool),
			attribute.String("mcp.source", opts.Source),
		})...))
	defer span.End()

	started := time.Now()
	result, err := r.invoke(ctx, inst, tool, args)
	elapsed := time.Since(started)
	failed := err != nil || (result != nil && result.IsError)

	inst.mu.Lock()
	inst.stats.record(elapsed, failed)
	name := inst.cfg.DisplayName()
	inst.mu.Unlock()

	status := history.StatusSuccess
	if failed {
		status = history.StatusError
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, r.redactor.RedactString(err.Error()))
		} else {
			span.SetStatus(codes.Error, "tool reported an error")
		}
	}
	span.SetAttributes(attribute.Int64("mcp.duration_ms", elapsed.Milliseconds()))

	toolCalls.WithLabelValues(id, string(status)).Inc()
	toolCallDuration.WithLabelValues(id).Observe(elapsed.Seconds())

	r.events.Publish(Event{
		Type:     EventToolCalled,
		ServerID: id,
		Details: map[string]any{
			log.ToolKey:     tool,
			log.StatusKey:   string(status),
			log.DurationKey: elapsed.Milliseconds(),
		},
	})
	r.record(id, name, tool, args, opts, started, elapsed, status, result, err)

	return result, err
}

func (r *Registry) invoke(ctx context.Context, inst *instance, tool string, args map[string]any) (*ToolResult, error) {
	client, err := r.ensureRunning(ctx, inst)
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	result, err := client.CallTool(ctx, tool, args)
	if err != nil {
		if HasCode(err, ErrorCodeConnectionClosed) {
			return nil, err
		}
		return nil, ErrCallFailed(inst.id, tool, err)
	}
	return result, nil
}

// ensureRunning returns the live client, starting the instance if needed.
func (r *Registry) ensureRunning(ctx context.Context, inst *instance) (*Client, error) {
	if client := inst.liveClient(); client != nil {
		return client, nil
	}
	if err := r.Start(ctx, inst.id); err != nil {
		return nil, err
	}
	if client := inst.liveClient(); client != nil {
		return client, nil
	}
	return nil, ErrServerNotRunning(inst.id)
}

func (r *Registry) record(id, name, tool string, args map[string]any, opts CallOptions,
	started time.Time, elapsed time.Duration, status history.Status, result *ToolResult, callErr error) {
	if r.recorder == nil {
		return
	}

	rec := history.NewRecord(id, name, tool, started)
	rec.DurationMs = elapsed.Milliseconds()
	rec.Status = status
	rec.Source = opts.Source
	if raw, err := json.Marshal(map[string]any{"name": tool, "arguments": args}); err == nil {
		rec.Request = raw
	}
	if result != nil {
		if raw, err := json.Marshal(result); err == nil {
			rec.Response = raw
		}
	}
	if callErr != nil {
		rec.Error = &history.CallError{Code: string(ErrorCodeInternalError), Message: callErr.Error()}
		if merr, ok := GetMCPError(callErr); ok {
			rec.Error.Code = string(merr.Code)
		}
	}
	r.recorder.Record(rec)
}

// Close stops every instance and releases background work. The Registry
// must not be used afterwards.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	insts := make([]*instance, 0, len(r.instances))
	for _, id := range r.order {
		insts = append(insts, r.instances[id])
	}
	r.mu.Unlock()

	var g errgroup.Group
	for _, inst := range insts {
		g.Go(func() error {
			_ = r.stop(inst)
			return nil
		})
	}
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("shutdown interrupted: %w", ctx.Err())
	}

	r.cancel()
	if r.ownsBus {
		r.events.Close()
	}
	r.logger.Info("registry closed", "servers", len(insts))
	return err
}
